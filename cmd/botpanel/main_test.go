package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattjoyce/botpanel/internal/doctor"
	"github.com/mattjoyce/botpanel/internal/state"
	"github.com/mattjoyce/botpanel/internal/supervisor"
)

type testEnv struct {
	dir        string
	configPath string
	reloadFlag string
}

func newTestEnv(t *testing.T, extra string) testEnv {
	t.Helper()
	dir := t.TempDir()
	env := testEnv{
		dir:        dir,
		configPath: filepath.Join(dir, "config.yaml"),
		reloadFlag: filepath.Join(dir, "reload.flag"),
	}
	cfg := `service:
  log_level: error
state:
  path: ` + filepath.Join(dir, "panel.db") + `
panel:
  listen: 127.0.0.1:0
  lock_path: ` + filepath.Join(dir, "panel.lock") + `
  auth:
    tokens:
      - token: viewer-token
        scopes: ["bot:ro", "rules:ro"]
bot:
  pid_file: ` + filepath.Join(dir, "bot.pid") + `
  reload_flag: ` + env.reloadFlag + `
` + extra
	require.NoError(t, os.WriteFile(env.configPath, []byte(cfg), 0o600))
	return env
}

func (e testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--config", e.configPath}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func (e testEnv) reloadFlagSet() bool {
	_, err := os.Stat(e.reloadFlag)
	return err == nil
}

func TestVersion(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run(t, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "botpanel version "+Version)
}

func TestRuleLifecycle(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := env.run(t, "rule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No rules.")

	out, err = env.run(t, "rule", "add", "--trigger", "!ping", "--response", "pong", "--channels", "42")
	require.NoError(t, err)
	assert.Equal(t, "Added rule 1.\n", out)
	assert.True(t, env.reloadFlagSet(), "add must raise the reload flag")
	require.NoError(t, os.Remove(env.reloadFlag))

	out, err = env.run(t, "rule", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "!ping")
	assert.Contains(t, out, "42")

	_, err = env.run(t, "rule", "update", "1", "--response", "pang", "--disabled")
	require.NoError(t, err)
	assert.True(t, env.reloadFlagSet(), "update must raise the reload flag")
	require.NoError(t, os.Remove(env.reloadFlag))

	out, err = env.run(t, "rule", "show", "1")
	require.NoError(t, err)
	var got state.RuleRecord
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, state.RuleRecord{ID: 1, Trigger: "!ping", Response: "pang", AllowedChannels: "42"}, got)

	_, err = env.run(t, "rule", "update", "1", "--enable")
	require.NoError(t, err)
	require.NoError(t, os.Remove(env.reloadFlag))

	out, err = env.run(t, "rule", "delete", "1")
	require.NoError(t, err)
	assert.Equal(t, "Deleted rule 1.\n", out)
	assert.True(t, env.reloadFlagSet(), "delete must raise the reload flag")

	_, err = env.run(t, "rule", "show", "1")
	assert.True(t, errors.Is(err, state.ErrRuleNotFound), "got %v", err)
}

func TestRuleAddValidation(t *testing.T) {
	env := newTestEnv(t, "")

	_, err := env.run(t, "rule", "add", "--response", "pong")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--trigger")

	_, err = env.run(t, "rule", "add", "--trigger", "   ", "--response", "pong")
	require.Error(t, err)
	assert.False(t, env.reloadFlagSet())

	_, err = env.run(t, "rule", "show", "abc")
	assert.Error(t, err)
}

func TestRuleUpdateEnableAndDisabledConflict(t *testing.T) {
	env := newTestEnv(t, "")
	_, err := env.run(t, "rule", "add", "--trigger", "!a", "--response", "b")
	require.NoError(t, err)

	_, err = env.run(t, "rule", "update", "1", "--enable", "--disabled")
	assert.Error(t, err)
}

func TestSettingsToken(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := env.run(t, "settings", "show")
	require.NoError(t, err)
	assert.Equal(t, "token: not set\n", out)

	_, err = env.run(t, "settings", "set-token", "abcdefgh12345678")
	require.NoError(t, err)
	assert.False(t, env.reloadFlagSet(), "a token change needs a restart, not a rule reload")

	out, err = env.run(t, "settings", "show")
	require.NoError(t, err)
	assert.Equal(t, "token: ****5678\n", out)
	assert.NotContains(t, out, "abcdefgh")
}

func TestConfigCheck(t *testing.T) {
	env := newTestEnv(t, "")
	out, err := env.run(t, "config", "check", "--json")
	require.NoError(t, err)

	var res doctor.Result
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.True(t, res.Valid)
}

func TestConfigCheckReportsCollidingPaths(t *testing.T) {
	env := newTestEnv(t, "")
	cfg, err := os.ReadFile(env.configPath)
	require.NoError(t, err)
	lockPath := filepath.Join(env.dir, "panel.lock")
	pidPath := filepath.Join(env.dir, "bot.pid")
	cfg = bytes.Replace(cfg, []byte("pid_file: "+pidPath), []byte("pid_file: "+lockPath), 1)
	require.NoError(t, os.WriteFile(env.configPath, cfg, 0o600))

	out, err := env.run(t, "config", "check")
	require.ErrorIs(t, err, errConfigInvalid)
	assert.Contains(t, out, "bot.pid_file")
}

func TestBotStatusStopped(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := env.run(t, "bot", "status")
	require.NoError(t, err)
	assert.Equal(t, "stopped\n", out)

	out, err = env.run(t, "bot", "status", "--json")
	require.NoError(t, err)
	var st supervisor.Status
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.False(t, st.Running)
}

func TestBotStopWhenNotRunning(t *testing.T) {
	env := newTestEnv(t, "")

	out, err := env.run(t, "bot", "stop")
	require.NoError(t, err)
	assert.Equal(t, supervisor.MsgNotRunning+"\n", out)
}
