package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	return v
}

func TestNewFromViperDefaults(t *testing.T) {
	cfg, err := NewFromViper(newTestViper(t))
	require.NoError(t, err)

	assert.Equal(t, "shopclerk", cfg.Logger.ServiceName)
	assert.Equal(t, "https://seller.shopee.tw/portal/chatroom", cfg.Console.URL)
	assert.Equal(t, ProviderGemini, cfg.Backend.Provider)
	assert.Equal(t, 1000, cfg.Store.DedupCap)
	assert.Equal(t, 10, cfg.Store.MaxHistoryTurns)
	assert.Equal(t, 30*time.Second, cfg.Timing.PollIntervalMin)
	assert.Equal(t, 60*time.Second, cfg.Timing.PollIntervalMax)
	assert.True(t, cfg.Timing.TypoSimulation)
	assert.InDelta(t, 0.02, cfg.Timing.TypoProbability, 1e-9)
}

func TestNewFromViperExpandsHome(t *testing.T) {
	cfg, err := NewFromViper(newTestViper(t))
	require.NoError(t, err)

	assert.NotContains(t, cfg.Browser.UserDataDir, "~")
	assert.NotContains(t, cfg.Store.Path, "~")
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   interface{}
		wantErr string
	}{
		{"empty console url", "console.url", "", "console.url is required"},
		{"unknown provider", "backend.provider", "parrot", "not supported"},
		{"inverted poll bounds", "timing.poll_interval_max", time.Second, "poll_interval bounds invalid"},
		{"negative char delay", "timing.char_delay_min", -time.Second, "char_delay bounds invalid"},
		{"typo probability above one", "timing.typo_probability", 1.5, "typo_probability"},
		{"zero dedup cap", "store.dedup_cap", 0, "dedup_cap"},
		{"zero history turns", "store.max_history_turns", 0, "max_history_turns"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestViper(t)
			v.Set(tt.key, tt.value)
			_, err := NewFromViper(v)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestBackendAPIKeyFromEnv(t *testing.T) {
	t.Setenv("SHOPCLERK_API_KEY", "test-key-123")

	cfg, err := NewFromViper(newTestViper(t))
	require.NoError(t, err)
	assert.Equal(t, "test-key-123", cfg.Backend.APIKey)
}
