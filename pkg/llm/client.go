// Package llm 负责基于检索到的上下文生成答案。
//
// 提示词构造与拒答处理在本文件中统一实现，具体模型（Gemini、OpenAI 兼容接口）
// 只负责一次补全调用。
package llm

import (
	"context"
	"fmt"
	"strings"

	"webrag-go/internal/config"
	"webrag-go/pkg/errs"
	"webrag-go/pkg/log"
)

// RefusalMessage 是上下文不足或触发安全拦截时的固定答复。
const RefusalMessage = "I cannot answer this question based on the provided context."

// Source 是提供给模型的一段上下文。
type Source struct {
	Text      string
	SourceURL string
}

// Client defines the interface for answer generation.
type Client interface {
	GenerateAnswer(ctx context.Context, question string, sources []Source) (string, error)
	Model() string
	Close() error
}

// GenerationParams 是一次补全调用的采样参数。
type GenerationParams struct {
	Temperature float64
	TopP        float64
	TopK        int
	MaxTokens   int
}

// completion 是底层模型的一次补全结果。Blocked 表示被安全策略拦截。
type completion struct {
	Text    string
	Blocked bool
}

type completer interface {
	complete(ctx context.Context, prompt string) (completion, error)
	model() string
	close() error
}

type generator struct {
	c completer
}

// NewFromConfig 根据 provider 创建 Client。
func NewFromConfig(ctx context.Context, cfg config.LLMConfig) (Client, error) {
	params := GenerationParams{
		Temperature: cfg.Generation.Temperature,
		TopP:        cfg.Generation.TopP,
		TopK:        cfg.Generation.TopK,
		MaxTokens:   cfg.Generation.MaxTokens,
	}
	var (
		c   completer
		err error
	)
	switch cfg.Provider {
	case "gemini":
		c, err = newGeminiCompleter(ctx, cfg, params)
	case "openai":
		c = newOpenAICompleter(cfg, params)
	default:
		err = fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("[LLMClient] provider=%s model=%s", cfg.Provider, c.model())
	return &generator{c: c}, nil
}

func (g *generator) Model() string { return g.c.model() }
func (g *generator) Close() error  { return g.c.close() }

// GenerateAnswer 构造提示词并调用模型。安全拦截返回 RefusalMessage；空响应视为生成失败。
func (g *generator) GenerateAnswer(ctx context.Context, question string, sources []Source) (string, error) {
	prompt := BuildPrompt(question, sources)
	log.Infof("[LLMClient] 开始生成答案, question_len=%d, sources=%d", len(question), len(sources))

	res, err := g.c.complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errs.ErrGeneration, err)
	}
	if res.Blocked {
		log.Warnf("[LLMClient] 响应被安全策略拦截，返回固定拒答")
		return RefusalMessage, nil
	}
	answer := strings.TrimSpace(res.Text)
	if answer == "" {
		return "", fmt.Errorf("%w: model returned an empty answer", errs.ErrGeneration)
	}
	return answer, nil
}

// BuildPrompt 生成确定性的提示词：同样的问题与上下文总是得到同样的文本。
func BuildPrompt(question string, sources []Source) string {
	blocks := make([]string, len(sources))
	for i, s := range sources {
		blocks[i] = fmt.Sprintf("Source %d (%s):\n%s\n", i+1, s.SourceURL, s.Text)
	}
	context := strings.Join(blocks, "\n---\n")

	var sb strings.Builder
	sb.WriteString("You are a helpful AI assistant that answers questions based ONLY on the provided context.\n")
	sb.WriteString("INSTRUCTIONS:\n")
	sb.WriteString("Read the context sources carefully\n")
	sb.WriteString("Answer the question using ONLY information from the context\n")
	sb.WriteString("If the context doesn't contain enough information, respond: \"" + RefusalMessage + "\"\n")
	sb.WriteString("Cite which source number(s) you used (e.g., \"According to Source 1...\")\n")
	sb.WriteString("Be concise but complete\n")
	sb.WriteString("Do not add information not present in the context\n")
	sb.WriteString("CONTEXT:\n")
	sb.WriteString(context)
	sb.WriteString("\nQUESTION: ")
	sb.WriteString(question)
	sb.WriteString("\nANSWER:")
	return sb.String()
}
