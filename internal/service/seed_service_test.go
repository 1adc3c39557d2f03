package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webrag-go/internal/repository"
)

func TestSeedURLs(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "urls.txt")
	content := "# seed list\nhttps://example.com/a\n\nnot-a-url\nhttps://example.com/b\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	repo := repository.NewMemoryJobRepository()
	queue := &fakeQueue{}
	svc := NewIngestService(repo, queue)

	n, err := SeedURLs(ctx, path, repo, svc)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Len(t, queue.tasks, 2)

	// 第二次运行全部跳过
	n, err = SeedURLs(ctx, path, repo, svc)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Len(t, queue.tasks, 2)
}

func TestSeedURLsMissingFile(t *testing.T) {
	n, err := SeedURLs(context.Background(), filepath.Join(t.TempDir(), "missing.txt"),
		repository.NewMemoryJobRepository(), NewIngestService(repository.NewMemoryJobRepository(), &fakeQueue{}))
	require.NoError(t, err)
	assert.Zero(t, n)
}
