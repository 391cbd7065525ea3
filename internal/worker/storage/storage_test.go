package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/stream-recorder/shared/logger"
)

func newMockStorage(t *testing.T) (*Storage, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewStorage(sqlx.NewDb(db, "postgres"), logger.Discard()), mock
}

func TestStorage_EnsureSchema(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS recordings").
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_EnsureSchema_Error(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS recordings").
		WillReturnError(errors.New("permission denied"))

	err := s.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create recordings table")
}

func TestStorage_RecordOutcome(t *testing.T) {
	s, mock := newMockStorage(t)

	entry := &Entry{
		ConsumerTag:  "stream-recorder-1",
		DeliveryTag:  7,
		Redelivered:  true,
		URL:          "http://example.com/live",
		DurationSecs: 30,
		Location:     "/srv/recordings/recording-1.bin",
		Status:       StatusCompleted,
		Elapsed:      1500 * time.Millisecond,
	}

	mock.ExpectExec(`INSERT INTO recordings`).
		WithArgs(
			"stream-recorder-1",
			int64(7),
			true,
			"http://example.com/live",
			int64(30),
			"/srv/recordings/recording-1.bin",
			StatusCompleted,
			"",
			false,
			int64(1500),
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, s.RecordOutcome(context.Background(), entry))
	assert.Equal(t, int64(1500), entry.ElapsedMS)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStorage_RecordOutcome_Error(t *testing.T) {
	s, mock := newMockStorage(t)

	mock.ExpectExec(`INSERT INTO recordings`).
		WillReturnError(errors.New("connection reset"))

	err := s.RecordOutcome(context.Background(), &Entry{Status: StatusRejected})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to record outcome")
}
