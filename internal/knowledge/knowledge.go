// Package knowledge loads the merchant's product and policy notes that get
// prepended to every backend request. The base is a folder of plain-text
// files; a single legacy file is accepted as a fallback so older setups keep
// working.
package knowledge

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/shopclerk/shopclerk/internal/config"
)

var loadableExtensions = map[string]bool{
	".txt": true,
	".md":  true,
	".csv": true,
}

// Base holds the merged knowledge text. Reload swaps the content atomically
// so the engine can refresh it between poll cycles.
type Base struct {
	cfg    config.KnowledgeConfig
	logger *zap.Logger

	mu    sync.RWMutex
	text  string
	files []string
}

// NewBase loads the knowledge base once at construction. A missing folder
// and missing legacy file is not an error; the base is simply empty.
func NewBase(cfg config.KnowledgeConfig, logger *zap.Logger) (*Base, error) {
	b := &Base{cfg: cfg, logger: logger.Named("knowledge")}
	if err := b.Reload(); err != nil {
		return nil, err
	}
	return b, nil
}

// Text returns the merged knowledge text, empty when nothing is loaded.
func (b *Base) Text() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.text
}

// Files returns the source files of the current content, in merge order.
func (b *Base) Files() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, len(b.files))
	copy(out, b.files)
	return out
}

// Status renders a one-line summary for logs and the CLI.
func (b *Base) Status() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.cfg.Enabled {
		return "knowledge base disabled"
	}
	if len(b.files) == 0 {
		return "knowledge base empty"
	}
	return fmt.Sprintf("knowledge base loaded: %d file(s), %d chars", len(b.files), len(b.text))
}

// Reload re-reads the folder (or the legacy file) and swaps the content in.
// On read errors the previous content is kept.
func (b *Base) Reload() error {
	if !b.cfg.Enabled {
		return nil
	}

	text, files, err := b.load()
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.text = text
	b.files = files
	b.mu.Unlock()

	if len(files) > 0 {
		b.logger.Info("Knowledge base loaded.",
			zap.Int("files", len(files)), zap.Int("chars", len(text)))
	} else {
		b.logger.Info("No knowledge base found, replies will use the system prompt only.")
	}
	return nil
}

func (b *Base) load() (string, []string, error) {
	if info, err := os.Stat(b.cfg.Folder); err == nil && info.IsDir() {
		return b.loadFolder()
	}

	// Legacy single-file layout.
	if b.cfg.LegacyFile == "" {
		return "", nil, nil
	}
	data, err := os.ReadFile(b.cfg.LegacyFile)
	if os.IsNotExist(err) {
		return "", nil, nil
	}
	if err != nil {
		return "", nil, fmt.Errorf("failed to read knowledge file %s: %w", b.cfg.LegacyFile, err)
	}
	content := strings.TrimSpace(string(data))
	if content == "" {
		return "", nil, nil
	}
	return content, []string{b.cfg.LegacyFile}, nil
}

func (b *Base) loadFolder() (string, []string, error) {
	entries, err := os.ReadDir(b.cfg.Folder)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read knowledge folder %s: %w", b.cfg.Folder, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !loadableExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		names = append(names, e.Name())
	}
	// Deterministic merge order regardless of directory enumeration.
	sort.Strings(names)

	var (
		sections []string
		files    []string
	)
	for _, name := range names {
		path := filepath.Join(b.cfg.Folder, name)
		data, err := os.ReadFile(path)
		if err != nil {
			b.logger.Warn("Skipping unreadable knowledge file.",
				zap.String("file", path), zap.Error(err))
			continue
		}
		content := strings.TrimSpace(string(data))
		if content == "" {
			continue
		}
		sections = append(sections, fmt.Sprintf("### %s\n%s", name, content))
		files = append(files, path)
	}
	return strings.Join(sections, "\n\n"), files, nil
}
