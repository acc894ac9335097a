package knowledge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shopclerk/shopclerk/internal/config"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLoadsFolderWithHeaders(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "shipping.txt"), "全館滿499免運\n")
	writeFile(t, filepath.Join(dir, "faq.md"), "# 常見問題\n可以貨到付款")
	writeFile(t, filepath.Join(dir, "ignored.json"), `{"skip": true}`)

	base, err := NewBase(config.KnowledgeConfig{Enabled: true, Folder: dir}, zap.NewNop())
	require.NoError(t, err)

	text := base.Text()
	assert.Contains(t, text, "### shipping.txt")
	assert.Contains(t, text, "全館滿499免運")
	assert.Contains(t, text, "### faq.md")
	assert.NotContains(t, text, "ignored.json")

	// Alphabetical merge order, independent of write order.
	assert.Less(t, strings.Index(text, "faq.md"), strings.Index(text, "shipping.txt"))
	assert.Len(t, base.Files(), 2)
}

func TestFallsBackToLegacyFile(t *testing.T) {
	dir := t.TempDir()
	legacy := filepath.Join(dir, "knowledge_base.txt")
	writeFile(t, legacy, "出貨時間為 1-2 個工作天\n")

	base, err := NewBase(config.KnowledgeConfig{
		Enabled:    true,
		Folder:     filepath.Join(dir, "does-not-exist"),
		LegacyFile: legacy,
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Equal(t, "出貨時間為 1-2 個工作天", base.Text())
	assert.Equal(t, []string{legacy}, base.Files())
}

func TestMissingEverythingIsEmptyNotError(t *testing.T) {
	dir := t.TempDir()
	base, err := NewBase(config.KnowledgeConfig{
		Enabled:    true,
		Folder:     filepath.Join(dir, "nope"),
		LegacyFile: filepath.Join(dir, "nope.txt"),
	}, zap.NewNop())
	require.NoError(t, err)

	assert.Empty(t, base.Text())
	assert.Empty(t, base.Files())
	assert.Equal(t, "knowledge base empty", base.Status())
}

func TestDisabledLoadsNothing(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "notes.txt"), "content")

	base, err := NewBase(config.KnowledgeConfig{Enabled: false, Folder: dir}, zap.NewNop())
	require.NoError(t, err)
	assert.Empty(t, base.Text())
	assert.Equal(t, "knowledge base disabled", base.Status())
}

func TestReloadPicksUpNewFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a.txt"), "first")

	base, err := NewBase(config.KnowledgeConfig{Enabled: true, Folder: dir}, zap.NewNop())
	require.NoError(t, err)
	assert.NotContains(t, base.Text(), "second")

	writeFile(t, filepath.Join(dir, "b.txt"), "second")
	require.NoError(t, base.Reload())
	assert.Contains(t, base.Text(), "second")
}

func TestEmptyFilesAreSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "blank.txt"), "   \n\t\n")
	writeFile(t, filepath.Join(dir, "real.txt"), "content")

	base, err := NewBase(config.KnowledgeConfig{Enabled: true, Folder: dir}, zap.NewNop())
	require.NoError(t, err)
	assert.Len(t, base.Files(), 1)
	assert.NotContains(t, base.Text(), "blank.txt")
}
