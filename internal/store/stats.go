package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Stats is a snapshot of the single persistent counter row.
type Stats struct {
	StartedAt         time.Time
	MessagesProcessed int64
	RepliesSent       int64
	Errors            int64
	LastReplyAt       time.Time
}

// String renders a one-line operator summary.
func (s Stats) String() string {
	last := "never"
	if !s.LastReplyAt.IsZero() {
		last = s.LastReplyAt.Format(time.RFC3339)
	}
	return fmt.Sprintf("since %s: processed=%d replied=%d errors=%d last_reply=%s",
		s.StartedAt.Format(time.RFC3339), s.MessagesProcessed, s.RepliesSent, s.Errors, last)
}

// StatsRecorder maintains monotonic run counters in a single sqlite row so
// totals survive restarts.
type StatsRecorder struct {
	db  *DB
	now func() time.Time
}

// NewStatsRecorder wraps the shared database handle.
func NewStatsRecorder(db *DB) *StatsRecorder {
	return &StatsRecorder{db: db, now: time.Now}
}

// RecordStart stamps started_at for the current run without touching the
// accumulated counters.
func (r *StatsRecorder) RecordStart(ctx context.Context) error {
	return r.exec(ctx, `UPDATE stats SET started_at = ? WHERE id = 1`, r.now().UnixNano())
}

// RecordProcessed increments the processed-message counter.
func (r *StatsRecorder) RecordProcessed(ctx context.Context) error {
	return r.exec(ctx, `UPDATE stats SET messages_processed = messages_processed + 1 WHERE id = 1`)
}

// RecordReply increments the reply counter and stamps last_reply_at.
func (r *StatsRecorder) RecordReply(ctx context.Context) error {
	return r.exec(ctx, `UPDATE stats SET replies_sent = replies_sent + 1, last_reply_at = ? WHERE id = 1`, r.now().UnixNano())
}

// RecordError increments the error counter.
func (r *StatsRecorder) RecordError(ctx context.Context) error {
	return r.exec(ctx, `UPDATE stats SET errors = errors + 1 WHERE id = 1`)
}

// Snapshot reads the current counters.
func (r *StatsRecorder) Snapshot(ctx context.Context) (Stats, error) {
	var (
		startedAt, lastReplyAt sql.NullInt64
		s                      Stats
	)
	err := r.db.sql.QueryRowContext(ctx,
		`SELECT started_at, messages_processed, replies_sent, errors, last_reply_at FROM stats WHERE id = 1`).
		Scan(&startedAt, &s.MessagesProcessed, &s.RepliesSent, &s.Errors, &lastReplyAt)
	if err != nil {
		return Stats{}, fmt.Errorf("stats snapshot: %w", err)
	}
	if startedAt.Valid && startedAt.Int64 != 0 {
		s.StartedAt = time.Unix(0, startedAt.Int64)
	}
	if lastReplyAt.Valid && lastReplyAt.Int64 != 0 {
		s.LastReplyAt = time.Unix(0, lastReplyAt.Int64)
	}
	return s, nil
}

// Summary renders the current counters as a one-line string.
func (r *StatsRecorder) Summary(ctx context.Context) (string, error) {
	s, err := r.Snapshot(ctx)
	if err != nil {
		return "", err
	}
	return s.String(), nil
}

func (r *StatsRecorder) exec(ctx context.Context, query string, args ...any) error {
	if _, err := r.db.sql.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("stats update: %w", err)
	}
	return nil
}
