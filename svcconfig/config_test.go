package svcconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_AppliesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler_max_tasks": 32, "log_level": "debug"}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 32, cfg.SchedulerMaxTasks)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 64, cfg.SchedulerMaxTimers) // default preserved
}

func TestReload_SignalsChanged(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler_max_tasks": 32}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler_max_tasks": 99}`), 0o644))
	require.NoError(t, cfg.Reload())

	select {
	case <-cfg.Changed():
	case <-time.After(time.Second):
		t.Fatal("Reload did not signal Changed")
	}
	require.Equal(t, 99, cfg.SchedulerMaxTasks)
}

func TestDefault_HasSaneValues(t *testing.T) {
	cfg := Default()
	require.Equal(t, 1024, cfg.SchedulerMaxTasks)
	require.Equal(t, 1*time.Second, cfg.ChildMonitorTick)
}
