// Package publisher ships executed pairs to Kafka for downstream settlement.
package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"darkpool-go/infrastructure/logger"
	"darkpool-go/internal/engine"
)

// Config Kafka 发布配置
type Config struct {
	Brokers         []string
	Topic           string
	ConnectAttempts int
	ConnectBackoff  time.Duration
}

// KafkaPublisher 将成交事件写入 Kafka，消息 key 为 epoch id，同一 epoch 的成交落在同一分区保持顺序。
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	log      *logger.Logger
}

// NewKafkaPublisher dials the brokers, retrying ConnectAttempts times.
func NewKafkaPublisher(cfg Config, log *logger.Logger) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, fmt.Errorf("kafka publisher needs brokers and topic")
	}
	attempts := cfg.ConnectAttempts
	if attempts <= 0 {
		attempts = 1
	}

	sc := sarama.NewConfig()
	sc.Producer.Return.Successes = true
	sc.Producer.RequiredAcks = sarama.WaitForAll
	sc.Producer.Retry.Max = 5

	var prod sarama.SyncProducer
	var err error
	for i := 0; i < attempts; i++ {
		prod, err = sarama.NewSyncProducer(cfg.Brokers, sc)
		if err == nil {
			return NewKafkaPublisherWithProducer(prod, cfg.Topic, log), nil
		}
		if i+1 < attempts {
			time.Sleep(cfg.ConnectBackoff)
		}
	}
	return nil, fmt.Errorf("failed to start producer after %d attempts: %w", attempts, err)
}

// NewKafkaPublisherWithProducer wraps an existing producer.
func NewKafkaPublisherWithProducer(prod sarama.SyncProducer, topic string, log *logger.Logger) *KafkaPublisher {
	if log == nil {
		log = logger.NewNop()
	}
	return &KafkaPublisher{producer: prod, topic: topic, log: log}
}

// PublishExecution implements engine.ExecutionSink.
func (p *KafkaPublisher) PublishExecution(ctx context.Context, exec engine.Execution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	payload, err := json.Marshal(exec)
	if err != nil {
		return fmt.Errorf("marshal execution: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(exec.EpochID),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: exec.ExecutedAt,
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("send execution to %s: %w", p.topic, err)
	}
	p.log.Debug("execution published",
		zap.String("epoch_id", exec.EpochID),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset),
		zap.Bool("via_ledger", exec.ViaLedger),
	)
	return nil
}

// Close flushes and closes the producer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}
