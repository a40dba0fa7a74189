// Package events publishes terminal extraction runs to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/joseph-ayodele/order-extractor/internal/entity"
)

// RunEvent is the JSON value of a run message. The message key is the document id, so all runs
// of a document land on one partition in order.
type RunEvent struct {
	RunID           string     `json:"run_id"`
	DocumentID      string     `json:"document_id"`
	TenantID        string     `json:"tenant_id"`
	Status          string     `json:"status"`
	Variant         string     `json:"variant"`
	Confidence      float64    `json:"confidence"`
	Lines           int        `json:"lines"`
	Warnings        []string   `json:"warnings,omitempty"`
	ErrorCode       string     `json:"error_code,omitempty"`
	Retryable       bool       `json:"retryable,omitempty"`
	CostUSD         float64    `json:"cost_usd,omitempty"`
	CacheHit        bool       `json:"cache_hit,omitempty"`
	FinishedAt      *time.Time `json:"finished_at,omitempty"`
	PipelineVersion string     `json:"pipeline_version"`
}

// NewRunEvent summarises run for downstream consumers.
func NewRunEvent(run entity.ExtractionRun) RunEvent {
	ev := RunEvent{
		RunID:           run.ID.String(),
		DocumentID:      run.DocumentID,
		TenantID:        run.TenantID,
		Status:          string(run.Status),
		Variant:         run.Variant,
		Confidence:      run.Confidence(),
		CostUSD:         run.Metrics.CostUSD,
		CacheHit:        run.Metrics.CacheHit,
		FinishedAt:      run.FinishedAt,
		PipelineVersion: run.PipelineVersion,
	}
	if run.Output != nil {
		ev.Lines = len(run.Output.Lines)
		ev.Warnings = run.Output.Warnings
	}
	if run.Error != nil {
		ev.ErrorCode = run.Error.Code
		ev.Retryable = run.Error.Retryable
	}
	return ev
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes RunEvents synchronously.
type Publisher struct {
	writer messageWriter
	logger *slog.Logger
}

// NewPublisher creates a Publisher for topic.
func NewPublisher(logger *slog.Logger, brokers []string, topic string) *Publisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		RequiredAcks: kafka.RequireAll,
	}
	return newPublisher(logger, w, topic)
}

func newPublisher(logger *slog.Logger, w messageWriter, topic string) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{writer: w, logger: logger.With("component", "run-events", "topic", topic)}
}

// Publish sends one terminal run.
func (p *Publisher) Publish(ctx context.Context, run entity.ExtractionRun) error {
	ev := NewRunEvent(run)
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshaling run event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(run.DocumentID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "status", Value: []byte(ev.Status)},
			{Key: "tenant_id", Value: []byte(ev.TenantID)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Error("events.publish.failed", "run_id", ev.RunID, "error", err)
		return fmt.Errorf("publishing run event: %w", err)
	}
	p.logger.Debug("events.publish.ok", "run_id", ev.RunID, "value_size", len(value))
	return nil
}

// Close flushes pending writes.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
