package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/EslamTharwaat/remove-image-background/model"
)

// BatchCompleted is published once per batch when its last file finishes.
type BatchCompleted struct {
	BatchID     string    `json:"batch_id"`
	Model       string    `json:"ai_model"`
	TotalFiles  int       `json:"total_files"`
	Succeeded   int       `json:"succeeded"`
	Failed      int       `json:"failed"`
	TotalTime   float64   `json:"total_time"`
	CompletedAt time.Time `json:"completed_at"`
}

func NewBatchCompleted(rec *model.BatchRecord) *BatchCompleted {
	ev := &BatchCompleted{
		BatchID:    rec.BatchID,
		Model:      rec.Model,
		TotalFiles: rec.TotalFiles,
		Succeeded:  len(rec.Results),
		Failed:     len(rec.Errors),
		TotalTime:  rec.TotalTime,
	}
	if rec.CompletedAt != nil {
		ev.CompletedAt = *rec.CompletedAt
	}
	return ev
}

type EventPublisher interface {
	PublishBatchCompleted(ctx context.Context, ev *BatchCompleted) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) PublishBatchCompleted(context.Context, *BatchCompleted) error { return nil }
func (NopPublisher) Close() error { return nil }

type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Return.Successes = true

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return NewKafkaPublisherWithProducer(p, topic), nil
}

func NewKafkaPublisherWithProducer(p sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic}
}

func (k *KafkaPublisher) PublishBatchCompleted(ctx context.Context, ev *BatchCompleted) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(ev.BatchID),
		Value: sarama.ByteEncoder(data),
	}
	if _, _, err := k.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("publish batch %s: %w", ev.BatchID, err)
	}
	return nil
}

func (k *KafkaPublisher) Close() error {
	return k.producer.Close()
}
