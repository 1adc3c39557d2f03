package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"webrag-go/internal/config"
)

type geminiCompleter struct {
	client    *genai.Client
	modelName string
	params    GenerationParams
}

func newGeminiCompleter(ctx context.Context, cfg config.LLMConfig, params GenerationParams) (*geminiCompleter, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini generation requires an api key")
	}
	cl, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	name := cfg.Model
	if name == "" {
		name = "gemini-2.5-flash"
	}
	return &geminiCompleter{client: cl, modelName: name, params: params}, nil
}

func (g *geminiCompleter) model() string { return g.modelName }

func (g *geminiCompleter) close() error {
	if g.client != nil {
		return g.client.Close()
	}
	return nil
}

func (g *geminiCompleter) complete(ctx context.Context, prompt string) (completion, error) {
	m := g.client.GenerativeModel(g.modelName)
	m.SetTemperature(float32(g.params.Temperature))
	m.SetTopP(float32(g.params.TopP))
	if g.params.TopK > 0 {
		m.SetTopK(int32(g.params.TopK))
	}
	if g.params.MaxTokens > 0 {
		m.SetMaxOutputTokens(int32(g.params.MaxTokens))
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		var blocked *genai.BlockedError
		if errors.As(err, &blocked) {
			return completion{Blocked: true}, nil
		}
		return completion{}, fmt.Errorf("gemini generate: %w", err)
	}
	return geminiCompletion(resp), nil
}

// geminiCompletion flattens the first candidate's text parts.
func geminiCompletion(resp *genai.GenerateContentResponse) completion {
	if resp == nil || len(resp.Candidates) == 0 {
		return completion{}
	}
	cand := resp.Candidates[0]
	if cand.FinishReason == genai.FinishReasonSafety {
		return completion{Blocked: true}
	}
	if cand.Content == nil {
		return completion{}
	}
	var b strings.Builder
	for _, p := range cand.Content.Parts {
		if t, ok := p.(genai.Text); ok {
			b.WriteString(string(t))
		}
	}
	return completion{Text: b.String()}
}
