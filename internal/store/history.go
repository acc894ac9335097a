package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopclerk/shopclerk/internal/chat"
)

// ConversationStore keeps the bounded, ordered per-conversation turn history
// that gives the reply backend short-term memory. Trimming is strictly FIFO
// on turns; idle conversations are retained until an explicit Purge.
type ConversationStore struct {
	db       *DB
	maxTurns int // user/assistant pairs; the row cap is 2*maxTurns
	now      func() time.Time
}

// NewConversationStore builds a store keeping at most maxTurns exchange pairs
// per conversation.
func NewConversationStore(db *DB, maxTurns int) *ConversationStore {
	return &ConversationStore{db: db, maxTurns: maxTurns, now: time.Now}
}

// History returns the retained turns for a conversation, oldest first. A
// conversation with no recorded turns yields an empty slice.
func (s *ConversationStore) History(ctx context.Context, conversationID string) ([]chat.Turn, error) {
	rows, err := s.db.sql.QueryContext(ctx, `
		SELECT role, content, at FROM (
			SELECT id, role, content, at FROM turns
			WHERE conversation_id = ?
			ORDER BY id DESC LIMIT ?
		) ORDER BY id ASC`,
		conversationID, 2*s.maxTurns)
	if err != nil {
		return nil, fmt.Errorf("history query: %w", err)
	}
	defer rows.Close()

	var turns []chat.Turn
	for rows.Next() {
		var (
			role, content string
			at            int64
		)
		if err := rows.Scan(&role, &content, &at); err != nil {
			return nil, fmt.Errorf("history scan: %w", err)
		}
		turns = append(turns, chat.Turn{
			Role:    chat.Role(role),
			Content: content,
			At:      time.Unix(0, at),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history rows: %w", err)
	}
	return turns, nil
}

// Append records one turn and trims the conversation to the newest
// 2*maxTurns rows inside the same transaction.
func (s *ConversationStore) Append(ctx context.Context, conversationID string, role chat.Role, content string) error {
	tx, err := s.db.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("history append: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO turns (conversation_id, role, content, at) VALUES (?, ?, ?, ?)`,
		conversationID, string(role), content, s.now().UnixNano()); err != nil {
		return fmt.Errorf("history insert: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM turns WHERE conversation_id = ? AND id NOT IN (
			SELECT id FROM turns WHERE conversation_id = ?
			ORDER BY id DESC LIMIT ?
		)`, conversationID, conversationID, 2*s.maxTurns); err != nil {
		return fmt.Errorf("history trim: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("history commit: %w", err)
	}
	return nil
}

// Purge removes one conversation's history. Operator surface; the engine
// never deletes histories on its own.
func (s *ConversationStore) Purge(ctx context.Context, conversationID string) error {
	if _, err := s.db.sql.ExecContext(ctx,
		`DELETE FROM turns WHERE conversation_id = ?`, conversationID); err != nil {
		return fmt.Errorf("history purge: %w", err)
	}
	return nil
}
