package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
)

// Recording statuses
const (
	StatusCompleted = "COMPLETED"
	StatusRejected  = "REJECTED"
)

const schema = `
CREATE TABLE IF NOT EXISTS recordings (
	id            BIGSERIAL PRIMARY KEY,
	consumer_tag  TEXT        NOT NULL,
	delivery_tag  BIGINT      NOT NULL,
	redelivered   BOOLEAN     NOT NULL DEFAULT FALSE,
	url           TEXT        NOT NULL DEFAULT '',
	duration_secs BIGINT      NOT NULL DEFAULT 0,
	location      TEXT        NOT NULL DEFAULT '',
	status        TEXT        NOT NULL,
	error_message TEXT        NOT NULL DEFAULT '',
	requeued      BOOLEAN     NOT NULL DEFAULT FALSE,
	elapsed_ms    BIGINT      NOT NULL DEFAULT 0,
	settled_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// Entry is one settled message
type Entry struct {
	ConsumerTag  string        `db:"consumer_tag"`
	DeliveryTag  uint64        `db:"delivery_tag"`
	Redelivered  bool          `db:"redelivered"`
	URL          string        `db:"url"`
	DurationSecs int           `db:"duration_secs"`
	Location     string        `db:"location"`
	Status       string        `db:"status"`
	ErrorMessage string        `db:"error_message"`
	Requeued     bool          `db:"requeued"`
	Elapsed      time.Duration `db:"-"`
	ElapsedMS    int64         `db:"elapsed_ms"`
}

// Storage writes the recording ledger
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(db *sqlx.DB, logger *slog.Logger) *Storage {
	return &Storage{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema creates the recordings table if it does not exist
func (s *Storage) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create recordings table: %w", err)
	}
	return nil
}

// RecordOutcome inserts a settled message into the ledger
func (s *Storage) RecordOutcome(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO recordings (
			consumer_tag, delivery_tag, redelivered, url, duration_secs,
			location, status, error_message, requeued, elapsed_ms
		) VALUES (
			:consumer_tag, :delivery_tag, :redelivered, :url, :duration_secs,
			:location, :status, :error_message, :requeued, :elapsed_ms
		)
	`

	entry.ElapsedMS = entry.Elapsed.Milliseconds()

	if _, err := s.db.NamedExecContext(ctx, query, entry); err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	s.logger.Debug("Recording outcome stored",
		slog.Uint64("delivery_tag", entry.DeliveryTag),
		slog.String("status", entry.Status),
	)

	return nil
}
