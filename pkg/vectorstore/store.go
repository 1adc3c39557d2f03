// Package vectorstore defines the vector index contract shared by the
// Elasticsearch and pgvector drivers.
package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"webrag-go/pkg/errs"
)

// Payload is the metadata stored next to every vector.
type Payload struct {
	Text       string    `json:"text"`
	SourceURL  string    `json:"source_url"`
	JobID      string    `json:"job_id"`
	ChunkIndex int       `json:"chunk_index"`
	IngestedAt time.Time `json:"ingested_at"`
	Title      string    `json:"title,omitempty"`
}

// Point is one chunk ready for upsert. Its identity is (JobID, ChunkIndex).
type Point struct {
	Vector  []float32
	Payload Payload
}

// ID is the deterministic point id, so re-running a job overwrites its points.
func (p Point) ID() string { return PointID(p.Payload.JobID, p.Payload.ChunkIndex) }

// PointID derives the point id from the job id and chunk index.
func PointID(jobID string, chunkIndex int) string {
	return fmt.Sprintf("%s_%d", jobID, chunkIndex)
}

// Hit is one search result. Exactly one of Similarity or Distance is set,
// depending on what the driver reports.
type Hit struct {
	Payload    Payload
	Similarity *float64
	Distance   *float64
}

// Score normalizes a hit to cosine similarity: similarity if present, else 1 - distance.
func (h Hit) Score() float64 {
	switch {
	case h.Similarity != nil:
		return *h.Similarity
	case h.Distance != nil:
		return 1 - *h.Distance
	default:
		return 0
	}
}

// Store is a vector collection with a fixed dimensionality and cosine metric.
type Store interface {
	// EnsureCollection creates the collection if missing. Concurrent creators are
	// tolerated: "already exists" counts as success.
	EnsureCollection(ctx context.Context) error
	// Upsert writes points under their deterministic ids and returns how many were written.
	Upsert(ctx context.Context, points []Point) (int, error)
	// DeletePointsFrom removes the job's points with chunk_index >= from, left over
	// when a re-run produces fewer chunks than an earlier run. It returns how many were removed.
	DeletePointsFrom(ctx context.Context, jobID string, from int) (int, error)
	// Search returns up to topK hits ordered by descending similarity. filters is
	// an AND of payload equality matches.
	Search(ctx context.Context, vector []float32, topK int, filters map[string]any) ([]Hit, error)
	Ping(ctx context.Context) error
	Dimensions() int
	Close() error
}

// FilterFields are the payload fields accepted in search filters.
var FilterFields = map[string]bool{
	"source_url":  true,
	"job_id":      true,
	"chunk_index": true,
	"title":       true,
}

// ValidateFilters rejects unknown fields and values of the wrong type:
// chunk_index takes an integral number, every other field takes a string.
func ValidateFilters(filters map[string]any) error {
	for k, v := range filters {
		if !FilterFields[k] {
			return errs.Validationf("unsupported filter field %q", k)
		}
		if k == "chunk_index" {
			if !isIntegral(v) {
				return errs.Validationf("filter %q must be an integer", k)
			}
			continue
		}
		if _, ok := v.(string); !ok {
			return errs.Validationf("filter %q must be a string", k)
		}
	}
	return nil
}

func isIntegral(v any) bool {
	switch n := v.(type) {
	case int, int32, int64:
		return true
	case float64:
		return n == math.Trunc(n) && !math.IsInf(n, 0)
	case float32:
		f := float64(n)
		return f == math.Trunc(f) && !math.IsInf(f, 0)
	default:
		return false
	}
}

// NormalizeFilters converts the chunk_index value into an int so SQL drivers bind
// it to the integer column. Call it after ValidateFilters.
func NormalizeFilters(filters map[string]any) map[string]any {
	if len(filters) == 0 {
		return filters
	}
	out := make(map[string]any, len(filters))
	for k, v := range filters {
		if k == "chunk_index" {
			switch n := v.(type) {
			case float64:
				v = int(n)
			case float32:
				v = int(n)
			case int32:
				v = int(n)
			case int64:
				v = int(n)
			}
		}
		out[k] = v
	}
	return out
}

// SortedFilterKeys returns filter keys in a stable order for query builders.
func SortedFilterKeys(filters map[string]any) []string {
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// CheckDimensions verifies every point has the collection's dimensionality.
func CheckDimensions(points []Point, dims int) error {
	for _, p := range points {
		if len(p.Vector) != dims {
			return fmt.Errorf("%w: point %s has %d dimensions, collection expects %d",
				errs.ErrIndex, p.ID(), len(p.Vector), dims)
		}
	}
	return nil
}
