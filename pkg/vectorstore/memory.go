package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process Store for local runs and tests. It keeps points
// keyed by PointID and scores them with exact cosine similarity.
type MemoryStore struct {
	mu     sync.RWMutex
	dims   int
	points map[string]Point
}

// NewMemoryStore returns an empty store with the given dimensionality.
func NewMemoryStore(dims int) *MemoryStore {
	return &MemoryStore{dims: dims, points: make(map[string]Point)}
}

func (m *MemoryStore) EnsureCollection(context.Context) error { return nil }
func (m *MemoryStore) Ping(context.Context) error             { return nil }
func (m *MemoryStore) Dimensions() int                        { return m.dims }
func (m *MemoryStore) Close() error                           { return nil }

func (m *MemoryStore) Upsert(_ context.Context, points []Point) (int, error) {
	if err := CheckDimensions(points, m.dims); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		v := make([]float32, len(p.Vector))
		copy(v, p.Vector)
		m.points[p.ID()] = Point{Vector: v, Payload: p.Payload}
	}
	return len(points), nil
}

func (m *MemoryStore) Search(_ context.Context, vector []float32, topK int, filters map[string]any) ([]Hit, error) {
	if err := ValidateFilters(filters); err != nil {
		return nil, err
	}
	filters = NormalizeFilters(filters)

	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []Hit
	for _, p := range m.points {
		if !matches(p.Payload, filters) {
			continue
		}
		sim := cosine(vector, p.Vector)
		hits = append(hits, Hit{Payload: p.Payload, Similarity: &sim})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if *hits[i].Similarity != *hits[j].Similarity {
			return *hits[i].Similarity > *hits[j].Similarity
		}
		return PointID(hits[i].Payload.JobID, hits[i].Payload.ChunkIndex) < PointID(hits[j].Payload.JobID, hits[j].Payload.ChunkIndex)
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (m *MemoryStore) DeletePointsFrom(_ context.Context, jobID string, from int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, p := range m.points {
		if p.Payload.JobID == jobID && p.Payload.ChunkIndex >= from {
			delete(m.points, id)
			n++
		}
	}
	return n, nil
}

// IDs returns every stored point id in sorted order.
func (m *MemoryStore) IDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.points))
	for id := range m.points {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func matches(p Payload, filters map[string]any) bool {
	for k, want := range filters {
		var got any
		switch k {
		case "source_url":
			got = p.SourceURL
		case "job_id":
			got = p.JobID
		case "chunk_index":
			got = p.ChunkIndex
		case "title":
			got = p.Title
		}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

var _ Store = (*MemoryStore)(nil)
