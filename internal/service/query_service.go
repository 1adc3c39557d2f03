package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"webrag-go/internal/config"
	"webrag-go/internal/metrics"
	"webrag-go/internal/model"
	"webrag-go/pkg/embedding"
	"webrag-go/pkg/errs"
	"webrag-go/pkg/llm"
	"webrag-go/pkg/log"
	"webrag-go/pkg/vectorstore"
)

// QueryService 接口定义了检索增强问答操作。
type QueryService interface {
	Query(ctx context.Context, req model.QueryRequest) (*model.QueryResponse, error)
}

type queryService struct {
	embedder embedding.Client
	store    vectorstore.Store
	llm      llm.Client
	cfg      config.QueryConfig
	now      func() time.Time
}

// NewQueryService 创建一个新的 QueryService 实例。
func NewQueryService(embedder embedding.Client, store vectorstore.Store, llmClient llm.Client, cfg config.QueryConfig) QueryService {
	if cfg.DefaultTopK <= 0 {
		cfg.DefaultTopK = 5
	}
	if cfg.MaxTopK <= 0 {
		cfg.MaxTopK = 50
	}
	if cfg.SourcePreviewChars <= 0 {
		cfg.SourcePreviewChars = 300
	}
	return &queryService{embedder: embedder, store: store, llm: llmClient, cfg: cfg, now: time.Now}
}

// Query 执行 embed → search → generate 并组装响应。每个外部调用的失败都带上阶段名。
func (s *queryService) Query(ctx context.Context, req model.QueryRequest) (resp *model.QueryResponse, err error) {
	start := s.now()
	defer func() { metrics.QueriesTotal.WithLabelValues(queryOutcome(err)).Inc() }()

	question := strings.Join(strings.Fields(req.Question), " ")
	if question == "" {
		return nil, errs.Validationf("question must not be empty")
	}
	topK := s.cfg.DefaultTopK
	if req.TopK != nil {
		topK = *req.TopK
	}
	if topK < 1 || topK > s.cfg.MaxTopK {
		return nil, errs.Validationf("top_k must be between 1 and %d", s.cfg.MaxTopK)
	}
	if err := vectorstore.ValidateFilters(req.Filters); err != nil {
		return nil, err
	}
	log.Infof("[QueryService] 收到查询, question: '%s', topK: %d", preview(question, 100), topK)

	// 1. 问题向量化
	vector, err := s.embedQuestion(ctx, question)
	if err != nil {
		return nil, err
	}

	// 2. 向量检索
	hits, err := s.search(ctx, vector, topK, req.Filters)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		log.Warnf("[QueryService] 未检索到相关文档")
		return nil, fmt.Errorf("%w. Please ingest URLs first using POST /ingest-url", errs.ErrNoRelevantDocuments)
	}
	log.Infof("[QueryService] 检索到 %d 个分块", len(hits))

	// 3. 生成答案
	answer, err := s.generate(ctx, question, hits)
	if err != nil {
		return nil, err
	}

	// 4. 组装响应
	sources := make([]model.SourceDocument, len(hits))
	for i, h := range hits {
		sources[i] = model.SourceDocument{
			Text:           preview(h.Payload.Text, s.cfg.SourcePreviewChars),
			SourceURL:      h.Payload.SourceURL,
			RelevanceScore: round4(h.Score()),
		}
	}
	elapsed := s.now().Sub(start)
	log.Infof("[QueryService] 查询完成, 耗时 %dms", elapsed.Milliseconds())
	return &model.QueryResponse{
		Answer:  answer,
		Sources: sources,
		Metadata: model.QueryMetadata{
			ChunksRetrieved:  len(hits),
			ProcessingTimeMs: elapsed.Milliseconds(),
			EmbeddingModel:   s.embedder.Model(),
			LLMModel:         s.llm.Model(),
			TopK:             topK,
			Timestamp:        s.now().UTC().Format("2006-01-02T15:04:05Z"),
		},
	}, nil
}

func (s *queryService) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	defer metrics.ObserveStage(errs.StageEmbedding)()
	vector, err := s.embedder.EmbedQuery(ctx, question)
	if err != nil {
		log.Errorf("[QueryService] 问题向量化失败: %v", err)
		return nil, errs.Stage(errs.StageEmbedding, err)
	}
	if want := s.store.Dimensions(); len(vector) != want {
		log.Errorf("[QueryService] 向量维度错误: %d, 期望 %d", len(vector), want)
		return nil, errs.Stage(errs.StageEmbedding,
			fmt.Errorf("%w: embedding service returned %d dimensions, expected %d", errs.ErrEmbedding, len(vector), want))
	}
	return vector, nil
}

func (s *queryService) search(ctx context.Context, vector []float32, topK int, filters map[string]any) ([]vectorstore.Hit, error) {
	defer metrics.ObserveStage(errs.StageSearch)()
	hits, err := s.store.Search(ctx, vector, topK, filters)
	if err != nil {
		log.Errorf("[QueryService] 向量检索失败: %v", err)
		return nil, errs.Stage(errs.StageSearch, err)
	}
	return hits, nil
}

func (s *queryService) generate(ctx context.Context, question string, hits []vectorstore.Hit) (string, error) {
	defer metrics.ObserveStage(errs.StageGeneration)()
	sources := make([]llm.Source, len(hits))
	for i, h := range hits {
		sources[i] = llm.Source{Text: h.Payload.Text, SourceURL: h.Payload.SourceURL}
	}
	answer, err := s.llm.GenerateAnswer(ctx, question, sources)
	if err != nil {
		log.Errorf("[QueryService] 答案生成失败: %v", err)
		return "", errs.Stage(errs.StageGeneration, err)
	}
	return answer, nil
}

func queryOutcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrValidation):
		return "invalid"
	case errors.Is(err, errs.ErrNoRelevantDocuments):
		return "not_found"
	default:
		return "error"
	}
}

// preview 按字符截断，超长时追加 "..."。
func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func round4(f float64) float64 {
	return math.Round(f*1e4) / 1e4
}
