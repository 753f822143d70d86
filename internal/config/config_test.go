package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "missing.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Worker.NumSvcProcessingThreads)
	require.Equal(t, 4, cfg.Database.ServicesPoolSize)
	require.False(t, cfg.Worker.AsyncLoaderAutoResume)
}

func TestLoadOverridesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	contents := []byte("worker:\n  num-svc-processing-threads: 12\n  async-loader-auto-resume: true\ndatabase:\n  services_pool_size: 8\n")
	require.NoError(t, os.WriteFile(path, contents, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 12, cfg.Worker.NumSvcProcessingThreads)
	require.True(t, cfg.Worker.AsyncLoaderAutoResume)
	require.Equal(t, 8, cfg.Database.ServicesPoolSize)
}

func TestValidateRejectsBadSettings(t *testing.T) {
	cfg := defaults()
	cfg.Worker.NumSvcProcessingThreads = 0
	require.Error(t, Validate(cfg))

	cfg = defaults()
	cfg.Database.ServicesPoolSize = 0
	require.Error(t, Validate(cfg))

	cfg = defaults()
	cfg.Observability.MetricsPort = 70000
	require.Error(t, Validate(cfg))
}
