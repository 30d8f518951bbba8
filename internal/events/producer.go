// Package events publishes deployment notifications to Kafka. Emission is
// best-effort: the webhook response contract is already satisfied by the time
// an event is produced, so failures are logged and never fail the request.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// DeploymentAccepted is emitted after a workflow execution has been started
// for an accepted webhook. Keyed by app name so per-tenant ordering holds
// within a partition.
type DeploymentAccepted struct {
	ID           string    `json:"id"`
	AppName      string    `json:"app_name"`
	CommitSHA    string    `json:"commit_sha"`
	RepoURL      string    `json:"repo_url"`
	S3Key        string    `json:"s3_key"`
	ExecutionARN string    `json:"execution_arn"`
	AcceptedAt   time.Time `json:"accepted_at"`
}

// ProducerConfig configures the Kafka producer.
type ProducerConfig struct {
	Brokers []string
	Topic   string

	// MaxAttempts bounds produce retries on transient errors. Defaults to 3.
	MaxAttempts int

	// WriteTimeout is the per-attempt write deadline. Defaults to 10s.
	WriteTimeout time.Duration
}

// Producer wraps a kafka-go Writer with bounded produce retries.
type Producer struct {
	writer      *kafka.Writer
	maxAttempts int
}

func NewProducer(cfg ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("kafka: topic required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	w := kafka.NewWriter(kafka.WriterConfig{
		Brokers:      cfg.Brokers,
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: cfg.WriteTimeout,
		Async:        false,
	})
	return &Producer{writer: w, maxAttempts: cfg.MaxAttempts}, nil
}

// PublishAccepted produces a DeploymentAccepted event. The event ID is
// assigned here if unset.
func (p *Producer) PublishAccepted(ctx context.Context, ev DeploymentAccepted) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.AcceptedAt.IsZero() {
		ev.AcceptedAt = time.Now().UTC()
	}
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.writer.WriteMessages(attemptCtx, kafka.Message{
			Key:   []byte(ev.AppName),
			Value: value,
			Time:  time.Now().UTC(),
		})
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		time.Sleep(backoff)
		if backoff < 2*time.Second {
			backoff *= 2
		}
	}
	return fmt.Errorf("produce failed after %d attempts: %w", p.maxAttempts, lastErr)
}

// Close shuts down the underlying writer.
func (p *Producer) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
