package graphdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kitegraph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend: badger
buffer_capacity: 32
sync_writes: false
log_level: debug
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, BackendBadger, cfg.Backend)
	assert.Equal(t, 32, cfg.BufferCapacity)
	assert.False(t, cfg.SyncWrites)
	assert.Equal(t, "debug", cfg.LogLevel)
	// Unset fields keep their defaults.
	assert.Equal(t, DefaultConfig().PageSize, cfg.PageSize)
	assert.Equal(t, DefaultConfig().MaxTransactions, cfg.MaxTransactions)
}

func TestLoadConfigErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadConfig(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("page_size: [1, 2]\n"), 0o600))
	_, err = LoadConfig(bad)
	assert.Error(t, err)

	invalid := filepath.Join(dir, "invalid.yaml")
	require.NoError(t, os.WriteFile(invalid, []byte("backend: tape\nlog_level: loud\n"), 0o600))
	_, err = LoadConfig(invalid)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tape")
	assert.Contains(t, err.Error(), "loud")
}

func TestOptions(t *testing.T) {
	o := defaultOptions()
	for _, opt := range []Option{
		WithBackend(BackendMemory),
		WithPageSize(512),
		WithBufferCapacity(8),
		WithSyncWrites(false),
		WithMaxTransactions(3),
		WithIDLeaseSize(16),
	} {
		opt(&o)
	}
	assert.Equal(t, Config{
		Backend:         BackendMemory,
		PageSize:        512,
		BufferCapacity:  8,
		SyncWrites:      false,
		MaxTransactions: 3,
		IDLeaseSize:     16,
		LogLevel:        "info",
	}, o.config)
	assert.NoError(t, o.config.Validate())
	assert.Equal(t, "truncate", OpenTruncate.String())
}
