package supervisor

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/botpanel/internal/config"
)

func TestNewExecLauncher(t *testing.T) {
	cfg := config.Defaults()
	cfg.SourcePath = "/etc/botpanel/config.yaml"
	cfg.Bot.Binary = "/usr/local/bin/botpanel"

	l, err := NewExecLauncher(cfg)
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/botpanel", l.Binary)
	assert.Equal(t, []string{"bot", "run", "--config", "/etc/botpanel/config.yaml"}, l.Args)
	assert.Contains(t, l.Env, config.EnvPIDFile+"="+cfg.Bot.PIDFile)
	assert.Contains(t, l.Env, config.EnvReloadFlag+"="+cfg.Bot.ReloadFlag)
	assert.Contains(t, l.Env, config.EnvDBPath+"="+cfg.State.Path)
}

func TestNewExecLauncherDefaultsToSelf(t *testing.T) {
	l, err := NewExecLauncher(config.Defaults())
	require.NoError(t, err)

	self, err := os.Executable()
	require.NoError(t, err)
	assert.Equal(t, self, l.Binary)
	assert.Equal(t, []string{"bot", "run"}, l.Args)
}

func TestExecLauncherSpawnsAndReaps(t *testing.T) {
	pidFile := filepath.Join(t.TempDir(), "bot.pid")
	exited := make(chan int, 1)

	l := &ExecLauncher{
		Binary: os.Args[0],
		Args:   []string{"-test.run=^$"},
		Env: []string{
			helperEnv + "=1",
			config.EnvPIDFile + "=" + pidFile,
		},
		OnExit: func(pid int, err error) {
			assert.NoError(t, err)
			exited <- pid
		},
	}
	require.NoError(t, l.Launch(context.Background(), "launch-abc"))

	var pid int
	select {
	case pid = <-exited:
	case <-time.After(10 * time.Second):
		t.Fatal("helper process did not exit")
	}

	// The helper recorded its own pid and the launch id it was given.
	sup := New(pidFile, l)
	got, err := os.ReadFile(pidFile + ".launch")
	require.NoError(t, err)
	assert.Equal(t, "launch-abc", string(got))

	// Reaped, so the recorded pid no longer counts as running.
	assert.False(t, sup.IsRunning(), "pid %d should be reaped", pid)
}

func TestExecLauncherSpawnError(t *testing.T) {
	l := &ExecLauncher{Binary: filepath.Join(t.TempDir(), "missing")}
	err := l.Launch(context.Background(), "x")
	assert.Error(t, err)
}
