package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	openai "github.com/sashabaranov/go-openai"

	"webrag-go/internal/config"
)

// openAIProvider talks to any OpenAI-compatible /embeddings endpoint. Task type is
// expressed through optional instruction prefixes since the API has no native field.
type openAIProvider struct {
	client         *openai.Client
	model          openai.EmbeddingModel
	dims           int
	documentPrefix string
	queryPrefix    string
}

// NewOpenAIProvider creates an OpenAI-compatible embedding provider.
func NewOpenAIProvider(cfg config.EmbeddingConfig) Provider {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAIProvider{
		client:         openai.NewClientWithConfig(clientCfg),
		model:          openai.EmbeddingModel(cfg.Model),
		dims:           cfg.Dimensions,
		documentPrefix: cfg.DocumentPrefix,
		queryPrefix:    cfg.QueryPrefix,
	}
}

func (o *openAIProvider) Name() string  { return "openai" }
func (o *openAIProvider) Model() string { return string(o.model) }
func (o *openAIProvider) Close() error  { return nil }

func (o *openAIProvider) Embed(ctx context.Context, texts []string, task TaskType) ([][]float32, error) {
	prefix := o.documentPrefix
	if task == TaskRetrievalQuery {
		prefix = o.queryPrefix
	}
	input := make([]string, len(texts))
	for i, t := range texts {
		input[i] = prefix + t
	}

	req := openai.EmbeddingRequest{
		Input:          input,
		Model:          o.model,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
	}
	if o.dims > 0 {
		req.Dimensions = o.dims
	}

	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, parseAPIError(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding API returned %d items for %d inputs", len(resp.Data), len(texts))
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	out := make([][]float32, len(resp.Data))
	for i, d := range resp.Data {
		if len(d.Embedding) == 0 {
			return nil, errors.New("embedding API returned an empty vector")
		}
		out[i] = d.Embedding
	}
	return out, nil
}

// parseAPIError keeps the HTTP status in the message so the retry classifier can
// recognise throttling.
func parseAPIError(err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		if detail := extractDetail(reqErr.Body); detail != "" {
			return fmt.Errorf("embedding API error %d: %s: %w", reqErr.HTTPStatusCode, detail, err)
		}
		return fmt.Errorf("embedding API error %d: %w", reqErr.HTTPStatusCode, err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("embedding API error %d: %s: %w", apiErr.HTTPStatusCode, apiErr.Message, err)
	}
	return fmt.Errorf("embedding request failed: %w", err)
}

// extractDetail pulls the "detail" field out of providers that use that error shape.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Detail != "" {
		return parsed.Detail
	}
	return ""
}
