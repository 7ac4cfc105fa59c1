package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rama-kairi/termcore/internal/config"
	"github.com/rama-kairi/termcore/internal/logger"
)

func newTestApp(t *testing.T, workDir string) *app {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Shell.Enable = false
	cfg.Database.Enable = false
	cfg.Monitoring.EnableMetrics = false
	cfg.Session.WorkingDir = workDir

	ctx, cancel := context.WithCancel(context.Background())
	a, err := newApp(ctx, cfg, logger.NewNop(), true)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		a.shutdown()
	})
	return a
}

func TestREPLRunsBuiltins(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi\n"), 0o644))
	a := newTestApp(t, dir)

	in := strings.NewReader("echo hello world\npwd\nopen notes.txt\nopen missing.txt\nexit\necho never\n")
	var out bytes.Buffer
	require.NoError(t, runREPL(context.Background(), a, in, &out))

	text := out.String()
	assert.Contains(t, text, "hello world")
	assert.Contains(t, text, dir)
	assert.Contains(t, text, "[editor] notes.txt")
	assert.Contains(t, text, "error:")
	assert.NotContains(t, text, "never")

	id, ok := a.store.ActiveSessionID()
	require.True(t, ok)
	history, _ := a.store.History(id, 0)
	assert.Equal(t, []string{"echo hello world", "pwd", "open notes.txt", "open missing.txt"}, history)
}

func TestREPLForwardWithoutShell(t *testing.T) {
	a := newTestApp(t, t.TempDir())

	var out bytes.Buffer
	require.NoError(t, runREPL(context.Background(), a, strings.NewReader("make build\n"), &out))
	assert.Contains(t, out.String(), "make: command not found")
}

func TestREPLStopsOnCancel(t *testing.T) {
	a := newTestApp(t, t.TempDir())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer w.Close()
	defer r.Close()

	var out bytes.Buffer
	assert.NoError(t, runREPL(ctx, a, r, &out))
}

func TestPromptShortensHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		t.Skip("no home directory")
	}
	p := prompt("Terminal 1", filepath.Join(home, "src"))
	assert.Contains(t, p, "Terminal 1")
	assert.Contains(t, p, filepath.Join("~", "src"))
}
