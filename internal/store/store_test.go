package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopclerk/shopclerk/internal/chat"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "clerk.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "clerk.db")

	db, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, db.Close())

	// Reopening the same file must be a no-op migration.
	db, err = Open(path, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	var n int
	require.NoError(t, db.sql.QueryRow(`SELECT COUNT(*) FROM stats WHERE id = 1`).Scan(&n))
	assert.Equal(t, 1, n)
}

func TestDedupSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "clerk.db")

	db, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, NewDedupTracker(db, 1000).MarkSeen(ctx, "conv-1", "運費多少"))
	require.NoError(t, db.Close())

	// A restart must not re-answer an already-handled message.
	db, err = Open(path, zap.NewNop())
	require.NoError(t, err)
	defer db.Close()

	dup, err := NewDedupTracker(db, 1000).IsDuplicate(ctx, "conv-1", "運費多少")
	require.NoError(t, err)
	assert.True(t, dup)
}

func TestDedupKeyStability(t *testing.T) {
	k1 := Key("conv-1", "  需要   運費嗎 ")
	k2 := Key("conv-1", "需要 運費嗎")
	assert.Equal(t, k1, k2, "whitespace normalization must not change the key")

	assert.NotEqual(t, Key("conv-1", "hello"), Key("conv-2", "hello"),
		"same text in different conversations must not collide")
	assert.NotEqual(t, Key("ab", "c"), Key("a", "bc"))
}

func TestDedupMarkAndCheck(t *testing.T) {
	ctx := context.Background()
	tracker := NewDedupTracker(openTestDB(t), 1000)

	dup, err := tracker.IsDuplicate(ctx, "conv-1", "hello")
	require.NoError(t, err)
	assert.False(t, dup)

	require.NoError(t, tracker.MarkSeen(ctx, "conv-1", "hello"))
	dup, err = tracker.IsDuplicate(ctx, "conv-1", "hello")
	require.NoError(t, err)
	assert.True(t, dup)

	// Marking twice is idempotent.
	require.NoError(t, tracker.MarkSeen(ctx, "conv-1", "hello"))
	size, err := tracker.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, size)
}

func TestDedupEvictsOldestAtCap(t *testing.T) {
	ctx := context.Background()
	tracker := NewDedupTracker(openTestDB(t), 5)

	base := time.Now()
	i := 0
	tracker.now = func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Second)
	}

	for n := 0; n < 7; n++ {
		require.NoError(t, tracker.MarkSeen(ctx, "conv-1", fmt.Sprintf("message %d", n)))
	}

	size, err := tracker.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, size)

	for n := 0; n < 7; n++ {
		dup, err := tracker.IsDuplicate(ctx, "conv-1", fmt.Sprintf("message %d", n))
		require.NoError(t, err)
		if n < 2 {
			assert.False(t, dup, "oldest entries should have been evicted")
		} else {
			assert.True(t, dup, "recent entries must survive eviction")
		}
	}
}

func TestHistoryAppendAndTrim(t *testing.T) {
	ctx := context.Background()
	hist := NewConversationStore(openTestDB(t), 3) // retain 6 rows

	for n := 0; n < 5; n++ {
		require.NoError(t, hist.Append(ctx, "conv-1", chat.RoleUser, fmt.Sprintf("q%d", n)))
		require.NoError(t, hist.Append(ctx, "conv-1", chat.RoleAssistant, fmt.Sprintf("a%d", n)))
	}

	turns, err := hist.History(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 6)
	assert.Equal(t, "q2", turns[0].Content, "oldest retained turn comes first")
	assert.Equal(t, chat.RoleUser, turns[0].Role)
	assert.Equal(t, "a4", turns[5].Content, "newest turn last")
	assert.Equal(t, chat.RoleAssistant, turns[5].Role)
}

func TestHistoryIsolatedPerConversation(t *testing.T) {
	ctx := context.Background()
	hist := NewConversationStore(openTestDB(t), 10)

	require.NoError(t, hist.Append(ctx, "conv-1", chat.RoleUser, "first"))
	require.NoError(t, hist.Append(ctx, "conv-2", chat.RoleUser, "second"))

	turns, err := hist.History(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "first", turns[0].Content)

	empty, err := hist.History(ctx, "conv-3")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestHistoryPurge(t *testing.T) {
	ctx := context.Background()
	hist := NewConversationStore(openTestDB(t), 10)

	require.NoError(t, hist.Append(ctx, "conv-1", chat.RoleUser, "hello"))
	require.NoError(t, hist.Purge(ctx, "conv-1"))

	turns, err := hist.History(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestStatsCountersAccumulate(t *testing.T) {
	ctx := context.Background()
	rec := NewStatsRecorder(openTestDB(t))

	started := time.Now()
	rec.now = func() time.Time { return started }
	require.NoError(t, rec.RecordStart(ctx))

	require.NoError(t, rec.RecordProcessed(ctx))
	require.NoError(t, rec.RecordProcessed(ctx))
	require.NoError(t, rec.RecordReply(ctx))
	require.NoError(t, rec.RecordError(ctx))

	s, err := rec.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), s.MessagesProcessed)
	assert.Equal(t, int64(1), s.RepliesSent)
	assert.Equal(t, int64(1), s.Errors)
	assert.Equal(t, started.UnixNano(), s.StartedAt.UnixNano())
	assert.Equal(t, started.UnixNano(), s.LastReplyAt.UnixNano())
}

func TestStatsSummaryString(t *testing.T) {
	s := Stats{StartedAt: time.Unix(1700000000, 0), MessagesProcessed: 4, RepliesSent: 3, Errors: 1}
	out := s.String()
	assert.Contains(t, out, "processed=4")
	assert.Contains(t, out, "replied=3")
	assert.Contains(t, out, "errors=1")
	assert.Contains(t, out, "last_reply=never")
}
