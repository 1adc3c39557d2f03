// Package kafka 提供了与 Kafka 消息队列交互的功能。
package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"webrag-go/internal/config"
	"webrag-go/pkg/log"
	"webrag-go/pkg/tasks"
)

// HeaderTaskID 是消息头中任务 ID 的键。
const HeaderTaskID = "task_id"

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Producer 把抓取任务投递到 Kafka。消息 key 为 job id，同一任务总是落在同一分区。
type Producer struct {
	writer messageWriter
}

// NewProducer 初始化 Kafka 生产者。
func NewProducer(cfg config.KafkaConfig) *Producer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.BrokerList()...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	log.Info("Kafka 生产者初始化成功")
	return &Producer{writer: w}
}

// Enqueue 发送一个抓取任务，返回生成的任务 ID。
func (p *Producer) Enqueue(ctx context.Context, task tasks.IngestTask) (string, error) {
	body, err := json.Marshal(task)
	if err != nil {
		return "", err
	}
	taskID := uuid.NewString()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:     []byte(task.JobID),
		Value:   body,
		Headers: []kafka.Header{{Key: HeaderTaskID, Value: []byte(taskID)}},
	})
	if err != nil {
		return "", fmt.Errorf("enqueue job %s: %w", task.JobID, err)
	}
	return taskID, nil
}

// Close 刷新并关闭底层 writer。
func (p *Producer) Close() error {
	return p.writer.Close()
}

// Ping 检查至少一个 broker 可连接。
func Ping(ctx context.Context, cfg config.KafkaConfig) error {
	brokers := cfg.BrokerList()
	if len(brokers) == 0 {
		return fmt.Errorf("no kafka brokers configured")
	}
	var lastErr error
	for _, b := range brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			lastErr = err
			continue
		}
		_ = conn.Close()
		return nil
	}
	return lastErr
}
