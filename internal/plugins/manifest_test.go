package plugins

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/forgeci/forge/internal/store"
)

func TestParse(t *testing.T) {
	manifest := `
# core plugins
git
workflow-aggregator:2.6

credentials-binding:687.v619cb_15e923f
  blueocean
`
	entries, err := Parse(strings.NewReader(manifest))
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, Entry{Name: "git"}, entries[0])
	assert.Equal(t, Entry{Name: "workflow-aggregator", Version: "2.6"}, entries[1])
	assert.Equal(t, Entry{Name: "credentials-binding", Version: "687.v619cb_15e923f"}, entries[2])
	assert.Equal(t, Entry{Name: "blueocean"}, entries[3])
}

func TestParse_Empty(t *testing.T) {
	entries, err := Parse(strings.NewReader("\n# nothing here\n\n"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func newTestSyncer(t *testing.T, manifestPath string) (*Syncer, store.Store) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st := store.NewWithClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil, zap.NewNop())
	return NewSyncer(zap.NewNop(), st, manifestPath), st
}

func TestSync_RecordsPlugins(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugins.txt")
	require.NoError(t, os.WriteFile(path, []byte("git:5.2\nblueocean\n"), 0o644))

	syncer, st := newTestSyncer(t, path)

	count, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	listed, err := st.ListPlugins(context.Background())
	require.NoError(t, err)
	assert.Len(t, listed, 2)
}

func TestSync_MissingManifestIsNotFatal(t *testing.T) {
	syncer, _ := newTestSyncer(t, filepath.Join(t.TempDir(), "absent.txt"))

	count, err := syncer.Sync(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestSync_Idempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plugins.txt")
	require.NoError(t, os.WriteFile(path, []byte("git:5.2\n"), 0o644))

	syncer, st := newTestSyncer(t, path)

	for i := 0; i < 2; i++ {
		_, err := syncer.Sync(context.Background())
		require.NoError(t, err)
	}

	listed, err := st.ListPlugins(context.Background())
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}
