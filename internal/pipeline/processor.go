// Package pipeline 定义了网页抓取入库的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"webrag-go/internal/metrics"
	"webrag-go/internal/model"
	"webrag-go/internal/repository"
	"webrag-go/pkg/chunker"
	"webrag-go/pkg/cleaner"
	"webrag-go/pkg/embedding"
	"webrag-go/pkg/errs"
	"webrag-go/pkg/log"
	"webrag-go/pkg/tasks"
	"webrag-go/pkg/vectorstore"
)

// Fetcher 下载网页原文。
type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

// Splitter 把正文切成有序的文本块。
type Splitter interface {
	Split(text string) ([]string, error)
}

// RawArchive 保存原始网页，失败不影响任务结果。
type RawArchive interface {
	PutRawPage(ctx context.Context, jobID, sourceURL, body string) error
}

// Processor 封装了网页处理的所有依赖和逻辑。
type Processor struct {
	jobs        repository.JobRepository
	fetcher     Fetcher
	splitter    Splitter
	embedder    embedding.Client
	store       vectorstore.Store
	archive     RawArchive
	taskTimeout time.Duration
	now         func() time.Time
}

// NewProcessor 创建一个新的 Processor 实例。archive 可以为 nil。
func NewProcessor(
	jobs repository.JobRepository,
	fetcher Fetcher,
	splitter Splitter,
	embedder embedding.Client,
	store vectorstore.Store,
	archive RawArchive,
	taskTimeout time.Duration,
) *Processor {
	return &Processor{
		jobs:        jobs,
		fetcher:     fetcher,
		splitter:    splitter,
		embedder:    embedder,
		store:       store,
		archive:     archive,
		taskTimeout: taskTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type result struct {
	chunks int
	tokens int
}

// Process 是网页处理的主函数。
// 任务失败会被记录到台账并返回 nil；只有台账本身无法写入时才返回错误，由消费者重新投递。
func (p *Processor) Process(ctx context.Context, task tasks.IngestTask) error {
	log.Infof("[Processor] 开始处理任务, JobID: %s, URL: %s", task.JobID, task.URL)
	start := p.now()

	job, err := p.jobs.Update(ctx, task.JobID, model.JobUpdate{
		Status:     model.StatusPtr(model.JobStatusProcessing),
		StartedAt:  &start,
		ClearError: true,
	})
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) || errors.Is(err, errs.ErrInvalidTransition) {
			log.Errorf("[Processor] 任务无法进入 processing, 丢弃消息, JobID: %s, Error: %v", task.JobID, err)
			return nil
		}
		return fmt.Errorf("mark job %s processing: %w", task.JobID, err)
	}

	taskCtx := ctx
	if p.taskTimeout > 0 {
		var cancel context.CancelFunc
		taskCtx, cancel = context.WithTimeout(ctx, p.taskTimeout)
		defer cancel()
	}

	res, runErr := p.run(taskCtx, job)
	if runErr != nil {
		if ctx.Err() != nil {
			// 进程退出：不记录失败，消息未提交，重启后重新投递
			log.Warnf("[Processor] 处理被中断, JobID: %s, Error: %v", task.JobID, runErr)
			return ctx.Err()
		}
		if errors.Is(taskCtx.Err(), context.DeadlineExceeded) {
			runErr = fmt.Errorf("task time limit exceeded (%s): %w", p.taskTimeout, runErr)
		}
		return p.fail(context.WithoutCancel(ctx), job.ID, start, runErr)
	}

	elapsed := p.now().Sub(start).Seconds()
	_, err = p.jobs.Update(context.WithoutCancel(ctx), job.ID, model.JobUpdate{
		Status:                model.StatusPtr(model.JobStatusCompleted),
		ChunkCount:            &res.chunks,
		TotalTokens:           &res.tokens,
		ProcessingTimeSeconds: &elapsed,
	})
	if err != nil {
		return fmt.Errorf("mark job %s completed: %w", job.ID, err)
	}
	metrics.JobsTotal.WithLabelValues(string(model.JobStatusCompleted)).Inc()
	metrics.JobDuration.Observe(elapsed)
	log.Infof("[Processor] 任务处理完成, JobID: %s, 分块数: %d, tokens: %d, 耗时: %.2fs", job.ID, res.chunks, res.tokens, elapsed)
	return nil
}

func (p *Processor) run(ctx context.Context, job *model.IngestionJob) (result, error) {
	// 1. 抓取网页
	log.Infof("[Processor] 步骤1: 抓取网页, URL: %s", job.URL)
	raw, err := p.fetcher.Fetch(ctx, job.URL)
	if err != nil {
		return result{}, errs.Stage(errs.StageFetch, err)
	}
	log.Infof("[Processor] 步骤1: 抓取成功, 大小: %d字节", len(raw))

	if p.archive != nil {
		if err := p.archive.PutRawPage(ctx, job.ID, job.URL, raw); err != nil {
			log.Warnf("[Processor] 原始网页归档失败, JobID: %s, Error: %v", job.ID, err)
		}
	}

	// 2. 提取正文
	log.Info("[Processor] 步骤2: 清洗HTML, 提取正文")
	text := cleaner.Clean(raw)
	if text == "" {
		return result{}, errs.Stage(errs.StageClean, fmt.Errorf("%w: no extractable text at %s", errs.ErrContent, job.URL))
	}
	log.Infof("[Processor] 步骤2: 正文提取成功, 内容长度: %d 字符", utf8.RuneCountInString(text))

	// 3. 文本切块
	log.Info("[Processor] 步骤3: 进行文本分块")
	chunks, err := p.splitter.Split(text)
	if err != nil {
		return result{}, errs.Stage(errs.StageChunk, err)
	}
	if len(chunks) == 0 {
		return result{}, errs.Stage(errs.StageChunk, fmt.Errorf("%w: no chunks produced from %s", errs.ErrContent, job.URL))
	}
	log.Infof("[Processor] 步骤3: 文本分块完成, 共生成 %d 个分块", len(chunks))

	// 4. 向量化
	log.Infof("[Processor] 步骤4: 开始向量化, 模型: %s", p.embedder.Model())
	vectors, err := p.embedder.EmbedDocuments(ctx, chunks)
	if err != nil {
		return result{}, errs.Stage(errs.StageEmbedding, err)
	}
	if len(vectors) != len(chunks) {
		return result{}, errs.Stage(errs.StageEmbedding,
			fmt.Errorf("%w: got %d vectors for %d chunks", errs.ErrEmbedding, len(vectors), len(chunks)))
	}

	// 5. 写入向量索引
	log.Info("[Processor] 步骤5: 写入向量索引")
	if err := p.store.EnsureCollection(ctx); err != nil {
		return result{}, errs.Stage(errs.StageIndex, err)
	}
	title := payloadTitle(job.Metadata, raw)
	ingestedAt := p.now()
	points := make([]vectorstore.Point, len(chunks))
	tokens := 0
	for i, c := range chunks {
		tokens += chunker.EstimateTokens(c)
		points[i] = vectorstore.Point{
			Vector: vectors[i],
			Payload: vectorstore.Payload{
				Text:       c,
				SourceURL:  job.URL,
				JobID:      job.ID,
				ChunkIndex: i,
				IngestedAt: ingestedAt,
				Title:      title,
			},
		}
	}
	n, err := p.store.Upsert(ctx, points)
	if err != nil {
		return result{}, errs.Stage(errs.StageIndex, err)
	}
	metrics.ChunksIndexed.Add(float64(n))
	log.Infof("[Processor] 步骤5: 成功写入 %d 个向量", n)

	// 重跑时分块可能变少，清理上一次运行残留的尾部向量
	removed, err := p.store.DeletePointsFrom(ctx, job.ID, len(chunks))
	if err != nil {
		return result{}, errs.Stage(errs.StageIndex, err)
	}
	if removed > 0 {
		log.Infof("[Processor] 步骤5: 清理残留向量 %d 个", removed)
	}

	return result{chunks: len(chunks), tokens: tokens}, nil
}

// fail 记录失败。ctx 应与任务的取消信号解耦，保证超时后仍能写入台账。
func (p *Processor) fail(ctx context.Context, jobID string, start time.Time, cause error) error {
	msg, traceback := describeFailure(cause)
	log.Errorf("[Processor] 任务失败, JobID: %s, Error: %s", jobID, msg)

	elapsed := p.now().Sub(start).Seconds()
	_, err := p.jobs.Update(ctx, jobID, model.JobUpdate{
		Status:                model.StatusPtr(model.JobStatusFailed),
		ErrorMessage:          &msg,
		ErrorTraceback:        &traceback,
		ProcessingTimeSeconds: &elapsed,
	})
	if err != nil {
		return fmt.Errorf("mark job %s failed: %w", jobID, err)
	}
	metrics.JobsTotal.WithLabelValues(string(model.JobStatusFailed)).Inc()
	metrics.JobDuration.Observe(elapsed)
	return nil
}

// describeFailure 返回简短描述与完整错误链。简短描述去掉阶段前缀。
func describeFailure(err error) (string, string) {
	msg := err.Error()
	if se, ok := err.(*errs.StageError); ok {
		msg = se.Err.Error()
	}

	var b strings.Builder
	if stage := errs.StageOf(err); stage != "" {
		fmt.Fprintf(&b, "stage: %s\n", stage)
	}
	for i, e := range errs.Chain(err) {
		if i == 0 {
			b.WriteString(e)
			continue
		}
		b.WriteString("\ncaused by: ")
		b.WriteString(e)
	}
	return msg, b.String()
}

func payloadTitle(metadata map[string]any, raw string) string {
	if t, ok := metadata["title"].(string); ok && strings.TrimSpace(t) != "" {
		return strings.TrimSpace(t)
	}
	return cleaner.Title(raw)
}
