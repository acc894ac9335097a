package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeConfigDefaults(t *testing.T) {
	t.Chdir(t.TempDir()) // no config file present
	cfgFile = ""

	cfg, err := initializeConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://seller.shopee.tw/portal/chatroom", cfg.Console.URL)
	assert.Equal(t, 1000, cfg.Store.DedupCap)
	assert.Equal(t, 30*time.Second, cfg.Timing.PollIntervalMin)
	assert.Equal(t, 60*time.Second, cfg.Timing.PollIntervalMax)
}

func TestInitializeConfigEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	cfgFile = ""
	t.Setenv("SHOPCLERK_CONSOLE_URL", "https://example.test/chat")
	t.Setenv("SHOPCLERK_API_KEY", "sk-test")

	cfg, err := initializeConfig()
	require.NoError(t, err)

	assert.Equal(t, "https://example.test/chat", cfg.Console.URL)
	assert.Equal(t, "sk-test", cfg.Backend.APIKey)
}

func TestRootCommandHasSubcommands(t *testing.T) {
	root := NewRootCommand()

	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "stats")
	assert.Contains(t, names, "purge")
	assert.Contains(t, names, "version")
}

func TestVersionCommandPrintsVersion(t *testing.T) {
	root := NewRootCommand()
	var out strings.Builder
	root.SetOut(&out)
	root.SetArgs([]string{"version"})

	require.NoError(t, root.Execute())
	assert.Equal(t, Version+"\n", out.String())
}

func TestPurgeRequiresConversationID(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"purge"})
	err := root.Execute()
	assert.Error(t, err)
}
