package plugins

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/forgeci/forge/internal/store"
	"github.com/forgeci/forge/pkg/model"
)

// Entry is one line of the plugin manifest: "name" or "name:version".
type Entry struct {
	Name    string
	Version string
}

// Parse reads a newline-delimited plugin manifest. Blank lines and lines
// starting with '#' are skipped; surrounding whitespace is trimmed.
func Parse(r io.Reader) ([]Entry, error) {
	var entries []Entry
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, version, _ := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		entries = append(entries, Entry{
			Name:    name,
			Version: strings.TrimSpace(version),
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read plugin manifest: %w", err)
	}
	return entries, nil
}

// LoadFile parses the manifest at path.
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open plugin manifest [%s]: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Syncer records the plugin inventory in the store so the API can report
// what the image carries.
type Syncer struct {
	logger       *zap.Logger
	store        store.Store
	manifestPath string
}

// NewSyncer creates a manifest syncer for the given path.
func NewSyncer(logger *zap.Logger, st store.Store, manifestPath string) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{logger: logger, store: st, manifestPath: manifestPath}
}

// Sync parses the manifest and upserts every entry. A missing manifest is
// not an error: plugin installation happens at image build time and some
// images ship without one.
func (s *Syncer) Sync(ctx context.Context) (int, error) {
	entries, err := LoadFile(s.manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.logger.Info("plugins.manifest_absent", zap.String("path", s.manifestPath))
			return 0, nil
		}
		return 0, err
	}

	now := time.Now().UTC()
	for _, e := range entries {
		p := model.Plugin{Name: e.Name, Version: e.Version, InstalledAt: now}
		if err := s.store.UpsertPlugin(ctx, p); err != nil {
			return 0, fmt.Errorf("record plugin %q: %w", e.Name, err)
		}
	}

	s.logger.Info("plugins.synced",
		zap.Int("count", len(entries)),
		zap.String("path", s.manifestPath),
	)
	return len(entries), nil
}
