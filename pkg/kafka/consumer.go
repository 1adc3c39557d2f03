package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"webrag-go/internal/config"
	"webrag-go/pkg/log"
	"webrag-go/pkg/tasks"
)

// TaskProcessor defines the interface for any service that can process a task.
// This decouples the Kafka consumer from the concrete pipeline implementation.
type TaskProcessor interface {
	Process(ctx context.Context, task tasks.IngestTask) error
}

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// AttemptCounter 记录某个任务的失败次数，跨 worker 重启保留。
type AttemptCounter interface {
	Incr(ctx context.Context, key string) (int64, error)
	Reset(ctx context.Context, key string) error
}

type redisAttemptCounter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisAttemptCounter 使用 Redis INCR 计数，键 24 小时过期。
func NewRedisAttemptCounter(rdb *redis.Client) AttemptCounter {
	return &redisAttemptCounter{rdb: rdb, ttl: 24 * time.Hour}
}

func (c *redisAttemptCounter) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	_ = c.rdb.Expire(ctx, key, c.ttl).Err()
	return n, nil
}

func (c *redisAttemptCounter) Reset(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func attemptsKey(jobID string) string {
	return fmt.Sprintf("kafka:attempts:%s", jobID)
}

// Consumer 以消费组方式读取抓取任务，处理完成后手动提交 offset（至少一次语义）。
type Consumer struct {
	newReader   func() messageReader
	readers     int
	processor   TaskProcessor
	attempts    AttemptCounter
	maxAttempts int
	retryDelay  time.Duration
}

// NewConsumer 创建消费者，worker.concurrency 个 reader 共享同一个消费组。
func NewConsumer(kcfg config.KafkaConfig, wcfg config.WorkerConfig, processor TaskProcessor, attempts AttemptCounter) *Consumer {
	newReader := func() messageReader {
		return kafka.NewReader(kafka.ReaderConfig{
			Brokers:  kcfg.BrokerList(),
			Topic:    kcfg.Topic,
			GroupID:  kcfg.GroupID,
			MinBytes: 10e3, // 10KB
			MaxBytes: 10e6, // 10MB
			MaxWait:  time.Second,
		})
	}
	return &Consumer{
		newReader:   newReader,
		readers:     max(wcfg.Concurrency, 1),
		processor:   processor,
		attempts:    attempts,
		maxAttempts: max(wcfg.MaxAttempts, 1),
		retryDelay:  2 * time.Second,
	}
}

// Run 阻塞直到 ctx 被取消或某个 reader 出现不可恢复的错误。
func (c *Consumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.readers; i++ {
		id := i
		g.Go(func() error { return c.consume(gctx, id) })
	}
	return g.Wait()
}

func (c *Consumer) consume(ctx context.Context, id int) error {
	r := c.newReader()
	defer func() {
		if err := r.Close(); err != nil {
			log.Errorf("关闭 Kafka 消费者失败: %v", err)
		}
	}()
	log.Infof("Kafka 消费者 #%d 已启动", id)

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Infof("Kafka 消费者 #%d 退出", id)
				return nil
			}
			return fmt.Errorf("从 Kafka 读取消息失败: %w", err)
		}
		log.Debugf("收到 Kafka 消息: partition %d, offset %d", m.Partition, m.Offset)
		c.handle(ctx, r, m)
	}
}

// handle 处理单条消息。Process 返回错误说明台账写入失败，任务本身未被记录，
// 因此在本地重试同一条消息，直到成功或失败次数达到上限。
func (c *Consumer) handle(ctx context.Context, r messageReader, m kafka.Message) {
	var task tasks.IngestTask
	if err := json.Unmarshal(m.Value, &task); err != nil || task.JobID == "" {
		log.Errorf("无法解析 Kafka 消息: %v, value: %s", err, string(m.Value))
		// 消息格式错误，直接提交，避免阻塞队列
		c.commit(ctx, r, m)
		return
	}

	key := attemptsKey(task.JobID)
	for local := int64(1); ; local++ {
		err := c.processor.Process(ctx, task)
		if err == nil {
			log.Infof("抓取任务处理结束: job_id=%s", task.JobID)
			// 清理失败计数
			_ = c.attempts.Reset(context.WithoutCancel(ctx), key)
			c.commit(ctx, r, m)
			return
		}
		if ctx.Err() != nil {
			// 进程退出中，不提交 offset，重启后重新投递
			return
		}
		log.Errorf("处理抓取任务失败: job_id=%s, Error: %v", task.JobID, err)

		attempts, incErr := c.attempts.Incr(ctx, key)
		if incErr != nil {
			log.Warnw("Redis 计数失败，使用本地计数", "job_id", task.JobID, "error", incErr)
			attempts = local
		}
		if attempts >= int64(c.maxAttempts) {
			log.Errorw("抓取任务多次失败，提交 offset 终止重试",
				"job_id", task.JobID, "attempts", attempts, "partition", m.Partition, "offset", m.Offset)
			c.commit(ctx, r, m)
			return
		}
		if !sleep(ctx, c.retryDelay*time.Duration(attempts)) {
			return
		}
	}
}

func (c *Consumer) commit(ctx context.Context, r messageReader, m kafka.Message) {
	if err := r.CommitMessages(context.WithoutCancel(ctx), m); err != nil {
		log.Errorf("提交 Kafka 消息 offset 失败: %v", err)
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
