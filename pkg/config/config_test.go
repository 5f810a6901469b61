package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	chdir(t, t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, StoreBackendPostgres, cfg.Store.Backend)
	assert.Equal(t, []string{"Active", "Completed"}, cfg.Sync.TrackedStatuses)
	assert.Equal(t, 1, cfg.Sync.WorkerConcurrency)
	assert.Equal(t, time.Minute, cfg.Report.CacheTTL)
}

func TestLoadFromEnvironment(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("STORE_BACKEND", "MEMORY")
	t.Setenv("SYNC_ACTIVE_SCHOOL_YEAR", "24/25")
	t.Setenv("SYNC_TRACKED_STATUSES", "Active, Paused ,")
	t.Setenv("SYNC_WORKER_CONCURRENCY", "0")
	t.Setenv("REPORT_CACHE_TTL", "not-a-duration")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreBackendMemory, cfg.Store.Backend)
	assert.Equal(t, "24/25", cfg.Sync.ActiveSchoolYear)
	assert.Equal(t, []string{"Active", "Paused"}, cfg.Sync.TrackedStatuses)
	assert.Equal(t, 1, cfg.Sync.WorkerConcurrency)
	assert.Equal(t, time.Minute, cfg.Report.CacheTTL)
}

// chdir changes the working directory for the duration of the test and
// restores it on cleanup (equivalent of testing.T.Chdir, which needs Go 1.24).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
