// Package shell runs one interactive shell per session on a pseudo-terminal.
// Lines forwarded by the dispatcher are typed into the shell and everything
// the shell prints is split into lines and appended to the session output.
package shell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"

	"github.com/rama-kairi/termcore/internal/config"
	terrors "github.com/rama-kairi/termcore/internal/errors"
	"github.com/rama-kairi/termcore/internal/logger"
	"github.com/rama-kairi/termcore/internal/session"
	"github.com/rama-kairi/termcore/internal/streaming"
	"github.com/rama-kairi/termcore/internal/utils"
)

const (
	defaultTerm = "xterm-256color"
	defaultCols = 80
	defaultRows = 24

	// closeGrace is how long Close waits for the reader to drain after a kill
	closeGrace = 2 * time.Second
)

// Options configures a Manager
type Options struct {
	Path string
	Term string
	Cols int
	Rows int
	Env  []string

	// MaxLine breaks output lines that grow past this many bytes without a
	// newline. Zero keeps streaming.DefaultMaxLine.
	MaxLine int

	// OnOutput, when set, receives every line after it is stored
	OnOutput func(sessionID, line string)
	Logger   *logger.Logger
}

// OptionsFromConfig maps the shell config section onto Options
func OptionsFromConfig(cfg config.ShellConfig) Options {
	return Options{
		Path:    cfg.Path,
		Term:    cfg.Term,
		Cols:    cfg.Cols,
		Rows:    cfg.Rows,
		MaxLine: cfg.MaxLineBytes,
	}
}

func (o Options) withDefaults() Options {
	if o.Path == "" {
		o.Path = DefaultShell()
	}
	if o.Term == "" {
		o.Term = defaultTerm
	}
	if o.Cols <= 0 {
		o.Cols = defaultCols
	}
	if o.Rows <= 0 {
		o.Rows = defaultRows
	}
	if o.Logger == nil {
		o.Logger = logger.NewNop()
	}
	return o
}

// DefaultShell returns $SHELL, falling back to bash and then sh
func DefaultShell() string {
	if sh := os.Getenv("SHELL"); sh != "" {
		return sh
	}
	for _, candidate := range []string{"/bin/bash", "/bin/sh"} {
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return "/bin/sh"
}

// shellArgs starts bash and zsh as interactive login shells
func shellArgs(path string) []string {
	switch filepath.Base(path) {
	case "bash", "zsh":
		return []string{"-i", "-l"}
	default:
		return []string{"-i"}
	}
}

type process struct {
	id       string
	cmd      *exec.Cmd
	ptmx     *os.File
	splitter *streaming.LineSplitter
	started  time.Time

	writeMu sync.Mutex
	done    chan struct{}
	killed  bool
}

// write types data into the pty. The ctx deadline becomes a write deadline
// where the pty supports one, so a shell that stops reading cannot hold
// writeMu past it. A pty without deadline support blocks until the shell
// drains its input or is closed; later writes queue behind it.
func (p *process) write(ctx context.Context, data string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if d, ok := ctx.Deadline(); ok {
		if err := p.ptmx.SetWriteDeadline(d); err == nil {
			defer p.ptmx.SetWriteDeadline(time.Time{})
		}
	}
	_, err := p.ptmx.WriteString(data)
	return err
}

// Info describes a running shell
type Info struct {
	SessionID string    `json:"session_id"`
	Shell     string    `json:"shell"`
	PID       int       `json:"pid"`
	Cols      int       `json:"cols"`
	Rows      int       `json:"rows"`
	StartedAt time.Time `json:"started_at"`
	// Lines the shell has printed so far, and bytes of an unfinished line
	OutputLines  int `json:"output_lines"`
	PendingBytes int `json:"pending_bytes"`
}

// Manager owns the shells of every session. Shells start on first use.
type Manager struct {
	opts   Options
	store  *session.Store
	logger *logger.Logger

	mu     sync.Mutex
	procs  map[string]*process
	sizes  map[string]*pty.Winsize
	closed bool
	wg     sync.WaitGroup
}

// NewManager creates a manager bound to store. A shell is closed when its
// session leaves the store.
func NewManager(store *session.Store, opts Options) *Manager {
	opts = opts.withDefaults()
	m := &Manager{
		opts:   opts,
		store:  store,
		logger: opts.Logger.WithComponent("shell"),
		procs:  make(map[string]*process),
		sizes:  make(map[string]*pty.Winsize),
	}
	store.OnRemove(func(id string, _ session.RemoveReason) {
		_ = m.Close(id)
	})
	return m
}

// Forward types raw into the session shell followed by a newline
func (m *Manager) Forward(ctx context.Context, sessionID, raw string) error {
	p, err := m.ensure(sessionID)
	if err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() { errc <- p.write(ctx, raw+"\n") }()

	select {
	case err := <-errc:
		if err != nil {
			return fmt.Errorf("write to pty: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Chdir moves a running shell to dir. A shell that has not started yet picks
// up the session directory when it starts.
func (m *Manager) Chdir(ctx context.Context, sessionID, dir string) error {
	m.mu.Lock()
	p, ok := m.procs[sessionID]
	m.mu.Unlock()
	if !ok {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return p.write(ctx, "cd "+utils.ShellEscape(dir)+"\n")
}

// Resize changes the window size of a session shell. The size is kept for
// shells started later.
func (m *Manager) Resize(sessionID string, cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return terrors.InvalidInput("size", "cols and rows must be greater than 0")
	}
	if !m.store.Exists(sessionID) {
		return terrors.SessionNotFound(sessionID)
	}

	ws := &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)}

	m.mu.Lock()
	m.sizes[sessionID] = ws
	p, ok := m.procs[sessionID]
	m.mu.Unlock()

	if !ok {
		return nil
	}
	if err := pty.Setsize(p.ptmx, ws); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// Count returns the number of live shells
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.procs)
}

// Info returns details of a live shell
func (m *Manager) Info(sessionID string) (Info, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.procs[sessionID]
	if !ok {
		return Info{}, false
	}
	ws := m.sizeLocked(sessionID)
	return Info{
		SessionID:    sessionID,
		Shell:        p.cmd.Path,
		PID:          p.cmd.Process.Pid,
		Cols:         int(ws.Cols),
		Rows:         int(ws.Rows),
		StartedAt:    p.started,
		OutputLines:  p.splitter.Lines(),
		PendingBytes: len(p.splitter.Pending()),
	}, true
}

func (m *Manager) sizeLocked(sessionID string) *pty.Winsize {
	if ws, ok := m.sizes[sessionID]; ok {
		return ws
	}
	return &pty.Winsize{Cols: uint16(m.opts.Cols), Rows: uint16(m.opts.Rows)}
}

func (m *Manager) ensure(sessionID string) (*process, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, terrors.ShuttingDown("shell manager")
	}
	if p, ok := m.procs[sessionID]; ok {
		return p, nil
	}

	dir, ok := m.store.Directory(sessionID)
	if !ok {
		return nil, terrors.SessionNotFound(sessionID)
	}
	return m.startLocked(sessionID, dir)
}

func (m *Manager) startLocked(sessionID, dir string) (*process, error) {
	cmd := exec.Command(m.opts.Path, shellArgs(m.opts.Path)...)
	cmd.Env = append(os.Environ(), "TERM="+m.opts.Term)
	cmd.Env = append(cmd.Env, m.opts.Env...)
	if dir != "" {
		cmd.Dir = utils.ExpandHome(dir)
	}

	ptmx, err := pty.StartWithSize(cmd, m.sizeLocked(sessionID))
	if err != nil {
		return nil, terrors.Wrap(err, terrors.ErrCodeForwardFailed, "failed to start shell").
			WithContext("shell", m.opts.Path)
	}

	p := &process{
		id:      sessionID,
		cmd:     cmd,
		ptmx:    ptmx,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	p.splitter = streaming.NewLineSplitter(func(line string) {
		m.store.AddOutput(sessionID, line)
		if m.opts.OnOutput != nil {
			m.opts.OnOutput(sessionID, line)
		}
	})
	p.splitter.SetMaxLine(m.opts.MaxLine)
	m.procs[sessionID] = p

	m.wg.Add(1)
	go m.read(p)

	m.logger.Info("Shell started", map[string]interface{}{
		"session_id": sessionID,
		"shell":      m.opts.Path,
		"pid":        cmd.Process.Pid,
		"dir":        cmd.Dir,
	})
	return p, nil
}

// read pumps pty output into the store until the shell exits or is closed
func (m *Manager) read(p *process) {
	defer m.wg.Done()
	defer close(p.done)

	err := streaming.Pump(context.Background(), p.ptmx, p.splitter)
	p.splitter.Flush()
	// Linux reports EIO on the master once the slave side is gone
	if err != nil && !errors.Is(err, syscall.EIO) && !errors.Is(err, os.ErrClosed) {
		m.logger.Warn("Shell output read failed", map[string]interface{}{
			"session_id": p.id,
			"error":      err.Error(),
		})
	}

	waitErr := p.cmd.Wait()
	p.ptmx.Close()

	m.mu.Lock()
	if m.procs[p.id] == p {
		delete(m.procs, p.id)
	}
	killed := p.killed
	m.mu.Unlock()

	code := exitCode(waitErr)
	if !killed {
		p.splitter.Write([]byte(fmt.Sprintf("[process exited with code %d]\n", code)))
	}

	m.logger.Info("Shell exited", map[string]interface{}{
		"session_id": p.id,
		"exit_code":  code,
		"killed":     killed,
		"uptime_ms":  time.Since(p.started).Milliseconds(),
	})
}

func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Close kills the session shell, if any, and waits briefly for it to go
func (m *Manager) Close(sessionID string) error {
	m.mu.Lock()
	p, ok := m.procs[sessionID]
	if ok {
		p.killed = true
		delete(m.procs, sessionID)
	}
	delete(m.sizes, sessionID)
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return m.kill(p)
}

func (m *Manager) kill(p *process) error {
	var err error
	if p.cmd.Process != nil {
		if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = kerr
		}
	}
	p.ptmx.Close()

	select {
	case <-p.done:
	case <-time.After(closeGrace):
		m.logger.Warn("Shell did not exit in time", map[string]interface{}{"session_id": p.id})
	}
	return err
}

// Shutdown kills every shell and refuses new ones
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	procs := make([]*process, 0, len(m.procs))
	for id, p := range m.procs {
		p.killed = true
		procs = append(procs, p)
		delete(m.procs, id)
	}
	m.mu.Unlock()

	for _, p := range procs {
		if err := m.kill(p); err != nil {
			m.logger.Warn("Failed to kill shell", map[string]interface{}{
				"session_id": p.id,
				"error":      err.Error(),
			})
		}
	}
	m.wg.Wait()
}
