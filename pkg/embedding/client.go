// Package embedding provides clients that turn text into dense vectors.
//
// A Client wraps a Provider (Gemini or any OpenAI-compatible endpoint) with the
// retry policy, client-side rate limiting and batch fan-out shared by the
// ingestion and query paths.
package embedding

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"webrag-go/internal/config"
	"webrag-go/internal/metrics"
	"webrag-go/pkg/errs"
	"webrag-go/pkg/log"
	"webrag-go/pkg/retry"
)

// TaskType tells the provider whether a text is stored content or a search query.
type TaskType string

const (
	TaskRetrievalDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskRetrievalQuery    TaskType = "RETRIEVAL_QUERY"
)

// Provider performs one raw embedding call without retries.
type Provider interface {
	Name() string
	Model() string
	Embed(ctx context.Context, texts []string, task TaskType) ([][]float32, error)
	Close() error
}

// Client defines the interface for an embedding client.
type Client interface {
	// EmbedDocuments embeds texts in document mode, preserving order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a single text in query mode.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimensions() int
	Close() error
}

// Options configures a Client. Zero values pick the defaults.
type Options struct {
	Dimensions  int
	BatchSize   int
	Concurrency int
	Limiter     *RateLimiter
	Policy      *retry.Policy
}

type client struct {
	provider    Provider
	dims        int
	batchSize   int
	concurrency int
	limiter     *RateLimiter
	policy      retry.Policy
}

// New wraps provider with batching, rate limiting and the embedding retry policy.
func New(provider Provider, opts Options) Client {
	c := &client{
		provider:    provider,
		dims:        opts.Dimensions,
		batchSize:   opts.BatchSize,
		concurrency: opts.Concurrency,
		limiter:     opts.Limiter,
		policy:      retry.Embedding(),
	}
	if c.batchSize <= 0 {
		c.batchSize = 100
	}
	if c.concurrency <= 0 {
		c.concurrency = 1
	}
	if opts.Policy != nil {
		c.policy = *opts.Policy
	}
	return c
}

// NewFromConfig builds the provider selected by cfg.Provider and wraps it.
func NewFromConfig(ctx context.Context, cfg config.EmbeddingConfig) (Client, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case "gemini":
		p, err = NewGeminiProvider(ctx, cfg)
	case "openai":
		p, err = NewOpenAIProvider(cfg), nil
	default:
		err = fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	log.Infof("[EmbeddingClient] provider=%s model=%s dims=%d batch=%d", p.Name(), p.Model(), cfg.Dimensions, cfg.BatchSize)
	return New(p, Options{
		Dimensions:  cfg.Dimensions,
		BatchSize:   cfg.BatchSize,
		Concurrency: cfg.Concurrency,
		Limiter:     NewRateLimiter(cfg.RequestsPerSecond, cfg.Burst),
	}), nil
}

func (c *client) Model() string   { return c.provider.Model() }
func (c *client) Dimensions() int { return c.dims }
func (c *client) Close() error    { return c.provider.Close() }

func (c *client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	if len(texts) == 0 {
		return out, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		g.Go(func() error {
			vecs, err := c.embed(gctx, texts[start:end], TaskRetrievalDocument)
			if err != nil {
				return err
			}
			copy(out[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vecs, err := c.embed(ctx, []string{text}, TaskRetrievalQuery)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// embed is the single retried call shared by both modes.
func (c *client) embed(ctx context.Context, texts []string, task TaskType) ([][]float32, error) {
	name := c.provider.Name()
	policy := c.policy
	policy.OnRetry = func(attempt int, delay time.Duration, err error) {
		class := "transient"
		if retry.IsRateLimitError(err) {
			class = "rate_limit"
			c.limiter.Backoff(delay)
		}
		metrics.EmbeddingRetriesTotal.WithLabelValues(name, class).Inc()
		log.Warnf("[EmbeddingClient] 第 %d 次调用失败 (%s), %s 后重试: %v", attempt, class, delay, err)
	}

	var result [][]float32
	err := policy.Do(ctx, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx); err != nil {
			return retry.Permanent(err)
		}
		start := time.Now()
		vecs, err := c.provider.Embed(ctx, texts, task)
		metrics.EmbeddingRequestDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.EmbeddingRequestsTotal.WithLabelValues(name, string(task), "error").Inc()
			return err
		}
		if len(vecs) != len(texts) {
			metrics.EmbeddingRequestsTotal.WithLabelValues(name, string(task), "error").Inc()
			return fmt.Errorf("provider returned %d vectors for %d inputs", len(vecs), len(texts))
		}
		metrics.EmbeddingRequestsTotal.WithLabelValues(name, string(task), "success").Inc()
		result = vecs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errs.ErrEmbedding, err)
	}
	return result, nil
}
