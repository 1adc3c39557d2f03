package vectorstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag-go/pkg/errs"
)

func TestPointIDIsDeterministic(t *testing.T) {
	p := Point{Payload: Payload{JobID: "8f0c", ChunkIndex: 3}}
	assert.Equal(t, "8f0c_3", p.ID())
	assert.Equal(t, p.ID(), PointID("8f0c", 3))
	assert.NotEqual(t, PointID("8f0c", 3), PointID("8f0c", 4))
}

func TestHitScore(t *testing.T) {
	sim, dist := 0.9, 0.25
	assert.Equal(t, 0.9, Hit{Similarity: &sim}.Score())
	assert.Equal(t, 0.75, Hit{Distance: &dist}.Score())
	assert.Equal(t, 0.0, Hit{}.Score())
}

func TestValidateFilters(t *testing.T) {
	assert.NoError(t, ValidateFilters(nil))
	assert.NoError(t, ValidateFilters(map[string]any{"source_url": "https://a", "chunk_index": float64(2)}))
	assert.ErrorIs(t, ValidateFilters(map[string]any{"author": "x"}), errs.ErrValidation)
	assert.ErrorIs(t, ValidateFilters(map[string]any{"job_id": []string{"a"}}), errs.ErrValidation)

	assert.NoError(t, ValidateFilters(map[string]any{"chunk_index": 3}))
	for name, f := range map[string]map[string]any{
		"fractional chunk_index": {"chunk_index": 1.5},
		"string chunk_index":     {"chunk_index": "1"},
		"bool source_url":        {"source_url": true},
		"numeric job_id":         {"job_id": float64(7)},
		"numeric title":          {"title": 1},
	} {
		assert.ErrorIs(t, ValidateFilters(f), errs.ErrValidation, name)
	}
}

func TestCheckDimensions(t *testing.T) {
	ok := []Point{{Vector: make([]float32, 3)}}
	assert.NoError(t, CheckDimensions(ok, 3))

	bad := []Point{{Vector: make([]float32, 2), Payload: Payload{JobID: "j", ChunkIndex: 0}}}
	err := CheckDimensions(bad, 3)
	assert.ErrorIs(t, err, errs.ErrIndex)
	assert.Contains(t, err.Error(), "j_0")
}

func TestSortedFilterKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedFilterKeys(map[string]any{"c": 1, "a": 1, "b": 1}))
}

func TestNormalizeFilters(t *testing.T) {
	got := NormalizeFilters(map[string]any{"chunk_index": float64(4), "source_url": "u"})
	assert.Equal(t, map[string]any{"chunk_index": 4, "source_url": "u"}, got)
	assert.Nil(t, NormalizeFilters(nil))
}

func TestMemoryStoreUpsertOverwritesAndSearches(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	now := time.Now()

	pts := []Point{
		{Vector: []float32{1, 0}, Payload: Payload{JobID: "j", ChunkIndex: 0, Text: "east", SourceURL: "https://a", IngestedAt: now}},
		{Vector: []float32{0, 1}, Payload: Payload{JobID: "j", ChunkIndex: 1, Text: "north", SourceURL: "https://b", IngestedAt: now}},
	}
	n, err := s.Upsert(ctx, pts)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	_, err = s.Upsert(ctx, pts)
	require.NoError(t, err)
	assert.Equal(t, []string{"j_0", "j_1"}, s.IDs())

	hits, err := s.Search(ctx, []float32{1, 0.1}, 5, nil)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "east", hits[0].Payload.Text)
	assert.Greater(t, hits[0].Score(), hits[1].Score())

	hits, err = s.Search(ctx, []float32{1, 0}, 5, map[string]any{"source_url": "https://b"})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "north", hits[0].Payload.Text)

	hits, err = s.Search(ctx, []float32{1, 0}, 5, map[string]any{"chunk_index": float64(1)})
	require.NoError(t, err)
	require.Len(t, hits, 1)

	_, err = s.Upsert(ctx, []Point{{Vector: []float32{1}, Payload: Payload{JobID: "k"}}})
	assert.ErrorIs(t, err, errs.ErrIndex)
}

func TestMemoryStoreDeletePointsFrom(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(2)
	var pts []Point
	for i := 0; i < 4; i++ {
		pts = append(pts, Point{Vector: []float32{1, 0}, Payload: Payload{JobID: "a", ChunkIndex: i}})
	}
	pts = append(pts, Point{Vector: []float32{0, 1}, Payload: Payload{JobID: "b", ChunkIndex: 3}})
	_, err := s.Upsert(ctx, pts)
	require.NoError(t, err)

	n, err := s.DeletePointsFrom(ctx, "a", 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"a_0", "a_1", "b_3"}, s.IDs())
}
