package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"webrag-go/internal/config"
)

type geminiProvider struct {
	client *genai.Client
	model  string
	dims   int
}

// NewGeminiProvider creates a provider backed by the Gemini embedding API.
func NewGeminiProvider(ctx context.Context, cfg config.EmbeddingConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini embedding requires an api key")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-embedding-001"
	}
	return &geminiProvider{client: cl, model: model, dims: cfg.Dimensions}, nil
}

func (g *geminiProvider) Name() string  { return "gemini" }
func (g *geminiProvider) Model() string { return g.model }

func (g *geminiProvider) Close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *geminiProvider) Embed(ctx context.Context, texts []string, task TaskType) ([][]float32, error) {
	em := g.client.EmbeddingModel(g.model)
	em.TaskType = geminiTaskType(task)

	if len(texts) == 1 {
		resp, err := em.EmbedContent(ctx, genai.Text(texts[0]))
		if err != nil {
			return nil, fmt.Errorf("gemini embed: %w", err)
		}
		if resp.Embedding == nil || len(resp.Embedding.Values) == 0 {
			return nil, errors.New("gemini embed: empty embedding")
		}
		return [][]float32{fitDimensions(resp.Embedding.Values, g.dims)}, nil
	}

	batch := em.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}
	resp, err := em.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, fmt.Errorf("gemini batch embed: %w", err)
	}

	out := make([][]float32, 0, len(resp.Embeddings))
	for _, e := range resp.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, errors.New("gemini batch embed: empty embedding")
		}
		out = append(out, fitDimensions(e.Values, g.dims))
	}
	return out, nil
}

func geminiTaskType(t TaskType) genai.TaskType {
	if t == TaskRetrievalQuery {
		return genai.TaskTypeRetrievalQuery
	}
	return genai.TaskTypeRetrievalDocument
}

// fitDimensions truncates a Matryoshka embedding to dims and re-normalizes it to
// unit length. Vectors that are already dims long, or shorter, are returned as is.
func fitDimensions(v []float32, dims int) []float32 {
	if dims <= 0 || len(v) <= dims {
		return v
	}
	out := make([]float32, dims)
	copy(out, v[:dims])

	var sum float64
	for _, x := range out {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return out
	}
	norm := float32(math.Sqrt(sum))
	for i := range out {
		out[i] /= norm
	}
	return out
}
