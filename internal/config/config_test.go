package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "WebRAG/1.0", cfg.Fetcher.UserAgent)
	assert.Equal(t, 10*time.Second, cfg.Fetcher.Timeout)
	assert.Equal(t, 800, cfg.Chunker.ChunkSize)
	assert.Equal(t, 100, cfg.Chunker.ChunkOverlap)
	assert.Equal(t, 1536, cfg.VectorStore.Dimensions)
	assert.Equal(t, "web_documents", cfg.VectorStore.Collection)
	assert.Equal(t, 5*time.Minute, cfg.Worker.TaskTimeout)
	assert.Equal(t, 5, cfg.Query.DefaultTopK)
	assert.Equal(t, 50, cfg.Query.MaxTopK)
	assert.Equal(t, 500, cfg.LLM.Generation.MaxTokens)
}

func TestLoadFileAndEnvOverride(t *testing.T) {
	path := writeConfig(t, `
server:
  port: "9000"
kafka:
  brokers: "k1:9092, k2:9092"
worker:
  task_timeout: 90s
vector_store:
  driver: pgvector
`)
	t.Setenv("WEBRAG_SERVER_PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "9100", cfg.Server.Port)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.BrokerList())
	assert.Equal(t, 90*time.Second, cfg.Worker.TaskTimeout)
	assert.Equal(t, "pgvector", cfg.VectorStore.Driver)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"overlap too large": "chunker:\n  chunk_size: 100\n  chunk_overlap: 100\n",
		"dimension mismatch": "embedding:\n  dimensions: 768\n",
		"unknown driver":     "vector_store:\n  driver: qdrant\n",
		"unknown provider":   "llm:\n  provider: claude\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
