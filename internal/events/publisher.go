// Package events publishes run summaries to downstream pipelines. Publishing
// is optional and best-effort: a broker outage never fails a sync run.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/vsalomaa/spmirror/internal/catalog"
	"github.com/vsalomaa/spmirror/internal/config"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 5 * time.Second
)

// RunSummary is the wire shape of one finished sync run.
type RunSummary struct {
	RunID           int64     `json:"run_id"`
	Status          string    `json:"status"`
	IsFull          bool      `json:"is_full"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
	DurationSeconds float64   `json:"duration_seconds"`
	Added           int64     `json:"added"`
	Modified        int64     `json:"modified"`
	Removed         int64     `json:"removed"`
	Unchanged       int64     `json:"unchanged"`
	Skipped         int64     `json:"skipped"`
	BytesDownloaded int64     `json:"bytes_downloaded"`
	ErrorMessage    string    `json:"error_message,omitempty"`
}

// SummaryOf maps a terminal run row to its published form.
func SummaryOf(run *catalog.Run) RunSummary {
	s := RunSummary{
		RunID:           run.ID,
		Status:          string(run.Status),
		IsFull:          run.IsFull,
		StartedAt:       run.StartedAt.UTC(),
		DurationSeconds: run.Duration().Seconds(),
		Added:           run.Counters.Added,
		Modified:        run.Counters.Modified,
		Removed:         run.Counters.Removed,
		Unchanged:       run.Counters.Unchanged,
		Skipped:         run.Counters.Skipped,
		BytesDownloaded: run.Counters.BytesDownloaded,
		ErrorMessage:    run.ErrorMessage,
	}

	if run.CompletedAt != nil {
		s.CompletedAt = run.CompletedAt.UTC()
	}

	return s
}

// Publisher delivers run summaries. Implementations must be safe for
// concurrent use.
type Publisher interface {
	PublishRun(ctx context.Context, summary RunSummary) error
	Close() error
}

// NopPublisher discards everything. Used when [events] is disabled.
type NopPublisher struct{}

func (NopPublisher) PublishRun(context.Context, RunSummary) error { return nil }
func (NopPublisher) Close() error                                 { return nil }

// jetstreamPublisher is the slice of jetstream.JetStream the publisher
// needs, split out so tests can substitute a fake.
type jetstreamPublisher interface {
	Publish(ctx context.Context, subject string, payload []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// NATSPublisher publishes run summaries to a JetStream subject.
type NATSPublisher struct {
	conn    *nats.Conn
	js      jetstreamPublisher
	subject string
	logger  *slog.Logger
}

// NewNATSPublisher connects to the broker and ensures the stream exists.
// Stream creation is idempotent: an existing stream with the same name is
// updated in place.
func NewNATSPublisher(ctx context.Context, cfg config.EventsConfig, logger *slog.Logger) (*NATSPublisher, error) {
	conn, err := nats.Connect(cfg.URL, nats.Timeout(connectTimeout))
	if err != nil {
		return nil, fmt.Errorf("events: connecting to %s: %w", cfg.URL, err)
	}

	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: creating jetstream context: %w", err)
	}

	streamCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	_, err = js.CreateOrUpdateStream(streamCtx, jetstream.StreamConfig{
		Name:     cfg.Stream,
		Subjects: []string{cfg.Subject},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("events: ensuring stream %s: %w", cfg.Stream, err)
	}

	logger.Info("event publishing enabled",
		slog.String("url", cfg.URL),
		slog.String("stream", cfg.Stream),
		slog.String("subject", cfg.Subject),
	)

	return &NATSPublisher{
		conn:    conn,
		js:      js,
		subject: cfg.Subject,
		logger:  logger,
	}, nil
}

// PublishRun sends one summary. The ack is awaited so delivery failures
// surface to the caller, who logs and moves on.
func (p *NATSPublisher) PublishRun(ctx context.Context, summary RunSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("events: encoding run %d summary: %w", summary.RunID, err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	if _, err := p.js.Publish(pubCtx, p.subject, data); err != nil {
		return fmt.Errorf("events: publishing run %d summary: %w", summary.RunID, err)
	}

	p.logger.Debug("published run summary",
		slog.Int64("run_id", summary.RunID),
		slog.String("status", summary.Status),
	)

	return nil
}

// Close drains the connection.
func (p *NATSPublisher) Close() error {
	if p.conn != nil {
		p.conn.Close()
	}

	return nil
}

// NewPublisher builds the configured publisher: a NATSPublisher when events
// are enabled, a NopPublisher otherwise.
func NewPublisher(ctx context.Context, cfg config.EventsConfig, logger *slog.Logger) (Publisher, error) {
	if !cfg.Enabled {
		return NopPublisher{}, nil
	}

	return NewNATSPublisher(ctx, cfg, logger)
}
