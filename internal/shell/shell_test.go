package shell

import (
	"context"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/creack/pty"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rama-kairi/termcore/internal/config"
	terrors "github.com/rama-kairi/termcore/internal/errors"
	"github.com/rama-kairi/termcore/internal/session"
)

const waitFor = 5 * time.Second

func newTestManager(t *testing.T, mutate ...func(*Options)) (*Manager, *session.Store) {
	t.Helper()

	sh, err := exec.LookPath("sh")
	if err != nil {
		t.Skip("sh not available")
	}
	if f, tty, err := pty.Open(); err != nil {
		t.Skipf("pty not available: %v", err)
	} else {
		f.Close()
		tty.Close()
	}

	store := session.NewStore(session.Options{})
	opts := Options{Path: sh, Env: []string{"PS1=$ "}}
	for _, fn := range mutate {
		fn(&opts)
	}
	m := NewManager(store, opts)
	t.Cleanup(m.Shutdown)
	return m, store
}

func outputContains(store *session.Store, id, needle string) func() bool {
	return func() bool {
		lines, _ := store.Output(id, 0)
		for _, line := range lines {
			if strings.Contains(line, needle) {
				return true
			}
		}
		return false
	}
}

func running(m *Manager, id string) bool {
	_, ok := m.Info(id)
	return ok
}

func TestShellArgs(t *testing.T) {
	assert.Equal(t, []string{"-i", "-l"}, shellArgs("/bin/bash"))
	assert.Equal(t, []string{"-i", "-l"}, shellArgs("/usr/bin/zsh"))
	assert.Equal(t, []string{"-i"}, shellArgs("/bin/sh"))
}

func TestOptionsDefaults(t *testing.T) {
	opts := Options{}.withDefaults()
	assert.NotEmpty(t, opts.Path)
	assert.Equal(t, defaultTerm, opts.Term)
	assert.Equal(t, defaultCols, opts.Cols)
	assert.Equal(t, defaultRows, opts.Rows)
	assert.Zero(t, opts.MaxLine)

	cfg := config.DefaultConfig().Shell
	cfg.MaxLineBytes = 512
	assert.Equal(t, 512, OptionsFromConfig(cfg).MaxLine)
}

func TestLongOutputLinesAreSplit(t *testing.T) {
	m, store := newTestManager(t, func(o *Options) { o.MaxLine = 8 })
	id := store.CreateSession("")

	require.NoError(t, m.Forward(context.Background(), id, "echo $((6*7))"))
	require.Eventually(t, outputContains(store, id, "42"), waitFor, 20*time.Millisecond)

	lines, _ := store.Output(id, 0)
	for _, line := range lines {
		assert.LessOrEqual(t, len(line), 8, line)
	}
}

func TestWriteDeadlineReleasesLock(t *testing.T) {
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	// Nothing reads r, so a write larger than the pipe buffer blocks
	p := &process{ptmx: w}
	big := strings.Repeat("x", 1<<20)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = p.write(ctx, big)
	assert.ErrorIs(t, err, os.ErrDeadlineExceeded)

	require.True(t, p.writeMu.TryLock())
	p.writeMu.Unlock()

	// The deadline is cleared afterwards
	go func() { _, _ = io.Copy(io.Discard, r) }()
	assert.NoError(t, p.write(context.Background(), "echo ok\n"))
}

func TestForwardStartsShellLazily(t *testing.T) {
	m, store := newTestManager(t)
	id := store.CreateSession("")

	assert.False(t, running(m, id))
	require.NoError(t, m.Forward(context.Background(), id, "echo marker-$((40+2))"))
	assert.True(t, running(m, id))

	assert.Eventually(t, outputContains(store, id, "marker-42"), waitFor, 20*time.Millisecond)

	info, ok := m.Info(id)
	require.True(t, ok)
	assert.Greater(t, info.PID, 0)
	assert.Equal(t, defaultCols, info.Cols)
	assert.Positive(t, info.OutputLines)
}

func TestForwardUnknownSession(t *testing.T) {
	m, _ := newTestManager(t)
	err := m.Forward(context.Background(), "nope", "ls")
	assert.True(t, terrors.Is(err, terrors.ErrCodeSessionNotFound))
	assert.Zero(t, m.Count())
}

func TestShellStartsInSessionDirectory(t *testing.T) {
	m, store := newTestManager(t)
	id := store.CreateSession("")
	dir := t.TempDir()
	store.UpdateSession(id, session.Update{CurrentDirectory: &dir})

	require.NoError(t, m.Forward(context.Background(), id, "pwd"))
	assert.Eventually(t, outputContains(store, id, dir), waitFor, 20*time.Millisecond)
}

func TestChdirFollowsRunningShell(t *testing.T) {
	m, store := newTestManager(t)
	id := store.CreateSession("")
	ctx := context.Background()

	require.NoError(t, m.Chdir(ctx, id, "/"), "no shell yet is not an error")

	require.NoError(t, m.Forward(ctx, id, "true"))
	dir := t.TempDir()
	require.NoError(t, m.Chdir(ctx, id, dir))
	require.NoError(t, m.Forward(ctx, id, "echo at-$(pwd)"))

	assert.Eventually(t, outputContains(store, id, "at-"+dir), waitFor, 20*time.Millisecond)
}

func TestShellExitIsReported(t *testing.T) {
	m, store := newTestManager(t)
	id := store.CreateSession("")

	require.NoError(t, m.Forward(context.Background(), id, "exit 3"))

	assert.Eventually(t, func() bool { return !running(m, id) }, waitFor, 20*time.Millisecond)
	assert.Eventually(t, outputContains(store, id, "[process exited with code 3]"), waitFor, 20*time.Millisecond)

	// the next command starts a fresh shell
	require.NoError(t, m.Forward(context.Background(), id, "echo again"))
	assert.True(t, running(m, id))
}

func TestRemovingSessionClosesShell(t *testing.T) {
	m, store := newTestManager(t)
	id := store.CreateSession("")

	require.NoError(t, m.Forward(context.Background(), id, "true"))
	require.True(t, running(m, id))

	store.RemoveSession(id)
	assert.False(t, running(m, id))
	assert.Zero(t, m.Count())
}

func TestResize(t *testing.T) {
	m, store := newTestManager(t)
	id := store.CreateSession("")

	assert.True(t, terrors.Is(m.Resize("nope", 100, 40), terrors.ErrCodeSessionNotFound))
	assert.True(t, terrors.Is(m.Resize(id, 0, 40), terrors.ErrCodeInvalidInput))

	require.NoError(t, m.Resize(id, 100, 40), "size is kept before the shell starts")
	require.NoError(t, m.Forward(context.Background(), id, "true"))

	info, ok := m.Info(id)
	require.True(t, ok)
	assert.Equal(t, 100, info.Cols)
	assert.Equal(t, 40, info.Rows)

	require.NoError(t, m.Resize(id, 120, 50))
	info, _ = m.Info(id)
	assert.Equal(t, 120, info.Cols)
}

func TestOnOutputSink(t *testing.T) {
	var (
		mu    sync.Mutex
		lines []string
	)
	m, store := newTestManager(t, func(o *Options) {
		o.OnOutput = func(_ string, line string) {
			mu.Lock()
			defer mu.Unlock()
			lines = append(lines, line)
		}
	})
	id := store.CreateSession("")

	require.NoError(t, m.Forward(context.Background(), id, "echo sink-$((1+1))"))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, l := range lines {
			if strings.Contains(l, "sink-2") {
				return true
			}
		}
		return false
	}, waitFor, 20*time.Millisecond)
}

func TestShutdownRefusesNewShells(t *testing.T) {
	m, store := newTestManager(t)
	id := store.CreateSession("")

	require.NoError(t, m.Forward(context.Background(), id, "true"))
	m.Shutdown()

	assert.Zero(t, m.Count())
	err := m.Forward(context.Background(), id, "true")
	assert.True(t, terrors.Is(err, terrors.ErrCodeShuttingDown))
}
