package locator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeQuerier simulates a page where only the configured selectors match.
type fakeQuerier struct {
	matches map[string]int
	errs    map[string]error
	queried []string
}

func (f *fakeQuerier) CountVisible(ctx context.Context, selector string, timeout time.Duration) (int, error) {
	f.queried = append(f.queried, selector)
	if err, ok := f.errs[selector]; ok {
		return 0, err
	}
	return f.matches[selector], nil
}

func TestLocateFirstRuleWins(t *testing.T) {
	q := &fakeQuerier{matches: map[string]int{"#specific": 1, ".generic": 3}}
	s := New(q, zap.NewNop(), WithRules(RoleInputBox, "#specific", ".generic"))

	h, err := s.Locate(context.Background(), RoleInputBox)
	require.NoError(t, err)
	assert.Equal(t, "#specific", h.Selector)
	assert.Equal(t, 1, h.Count)
	// The chain stops at the first hit.
	assert.Equal(t, []string{"#specific"}, q.queried)
}

func TestLocateFallsBackToSecondRule(t *testing.T) {
	q := &fakeQuerier{matches: map[string]int{".generic": 2}}
	s := New(q, zap.NewNop(), WithRules(RoleSendButton, "#specific", ".generic"))

	h, err := s.Locate(context.Background(), RoleSendButton)
	require.NoError(t, err)
	assert.Equal(t, RoleSendButton, h.Role)
	assert.Equal(t, ".generic", h.Selector)
	assert.Equal(t, 2, h.Count)
}

func TestLocateSkipsFailingRule(t *testing.T) {
	q := &fakeQuerier{
		matches: map[string]int{".works": 1},
		errs:    map[string]error{"#broken": errors.New("query evaluation failed")},
	}
	s := New(q, zap.NewNop(), WithRules(RoleUnreadIndicator, "#broken", ".works"))

	h, err := s.Locate(context.Background(), RoleUnreadIndicator)
	require.NoError(t, err)
	assert.Equal(t, ".works", h.Selector)
}

func TestLocateExhaustedReturnsNotFound(t *testing.T) {
	q := &fakeQuerier{}
	s := New(q, zap.NewNop(), WithRules(RoleMessageList, "#a", "#b", "#c"))

	_, err := s.Locate(context.Background(), RoleMessageList)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, q.queried, 3)
}

func TestLocateUnknownRole(t *testing.T) {
	s := New(&fakeQuerier{}, zap.NewNop())
	_, err := s.Locate(context.Background(), Role("popup"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestLocateRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	q := &fakeQuerier{matches: map[string]int{"#late": 1}}
	s := New(q, zap.NewNop(), WithRules(RoleInboundBubble, "#never", "#late"))

	_, err := s.Locate(ctx, RoleInboundBubble)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	// The cancelled context stops the walk before any rule is tried.
	assert.Empty(t, q.queried)
}

func TestDefaultRulesCoverAllRoles(t *testing.T) {
	rules := defaultRules()
	for _, role := range []Role{
		RoleUnreadIndicator, RoleConversationItem, RoleInputBox,
		RoleSendButton, RoleMessageList, RoleInboundBubble,
	} {
		assert.NotEmpty(t, rules[role], "role %s must have a fallback chain", role)
	}
}
