package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// DedupTracker is the persistent set of already-answered (conversation,
// message) pairs. The set is capped; oldest entries are evicted first.
type DedupTracker struct {
	db  *DB
	cap int
	now func() time.Time
}

// NewDedupTracker builds a tracker over the shared database. cap bounds the
// number of retained hashes.
func NewDedupTracker(db *DB, cap int) *DedupTracker {
	return &DedupTracker{db: db, cap: cap, now: time.Now}
}

// Key derives the stable content-addressed hash for a (conversation, text)
// pair. The NUL separator keeps ("ab","c") and ("a","bc") distinct, and
// whitespace normalization makes the key stable across rendering noise and
// restarts.
func Key(conversationID, text string) string {
	normalized := strings.Join(strings.Fields(text), " ")
	sum := sha256.Sum256([]byte(conversationID + "\x00" + normalized))
	return hex.EncodeToString(sum[:])
}

// IsDuplicate reports whether the pair was already answered.
func (t *DedupTracker) IsDuplicate(ctx context.Context, conversationID, text string) (bool, error) {
	var n int
	err := t.db.sql.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM dedup WHERE hash = ?`, Key(conversationID, text)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return n > 0, nil
}

// MarkSeen records the pair as answered. The call is idempotent and evicts
// the oldest entries beyond the cap inside the same transaction; it returns
// only after the write is durable.
func (t *DedupTracker) MarkSeen(ctx context.Context, conversationID, text string) error {
	tx, err := t.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO dedup (hash, seen_at) VALUES (?, ?)`,
		Key(conversationID, text), t.now().UnixNano()); err != nil {
		return fmt.Errorf("dedup insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM dedup WHERE hash NOT IN (
			SELECT hash FROM dedup ORDER BY seen_at DESC, hash LIMIT ?
		)`, t.cap); err != nil {
		return fmt.Errorf("dedup eviction: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dedup commit: %w", err)
	}
	return nil
}

// Size returns the current number of retained hashes.
func (t *DedupTracker) Size(ctx context.Context) (int, error) {
	var n int
	if err := t.db.sql.QueryRowContext(ctx, `SELECT COUNT(1) FROM dedup`).Scan(&n); err != nil {
		return 0, fmt.Errorf("dedup size: %w", err)
	}
	return n, nil
}
