package llm

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"webrag-go/internal/config"
)

// openAICompleter 适配任意 OpenAI 兼容的 chat/completions 接口（如 DeepSeek）。
type openAICompleter struct {
	client    *openai.Client
	modelName string
	params    GenerationParams
}

func newOpenAICompleter(cfg config.LLMConfig, params GenerationParams) *openAICompleter {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &openAICompleter{
		client:    openai.NewClientWithConfig(clientCfg),
		modelName: cfg.Model,
		params:    params,
	}
}

func (o *openAICompleter) model() string { return o.modelName }
func (o *openAICompleter) close() error  { return nil }

func (o *openAICompleter) complete(ctx context.Context, prompt string) (completion, error) {
	req := openai.ChatCompletionRequest{
		Model: o.modelName,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: float32(o.params.Temperature),
		TopP:        float32(o.params.TopP),
		MaxTokens:   o.params.MaxTokens,
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return completion{}, fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return completion{}, nil
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return completion{Blocked: true}, nil
	}
	return completion{Text: choice.Message.Content}, nil
}
