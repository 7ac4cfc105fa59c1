// Package dispatch routes parsed commands to built-in handlers or forwards
// them verbatim to the session's shell. Failures never escape as errors: they
// are written to the session's terminal.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rama-kairi/termcore/internal/database"
	terrors "github.com/rama-kairi/termcore/internal/errors"
	"github.com/rama-kairi/termcore/internal/logger"
	"github.com/rama-kairi/termcore/internal/parser"
	"github.com/rama-kairi/termcore/internal/perf"
	"github.com/rama-kairi/termcore/internal/session"
	"github.com/rama-kairi/termcore/internal/tracing"
)

// Context is the UI capability set built-in handlers act through
type Context interface {
	AddTab(tab TabDescriptor) error
	WriteToTerminal(text string)
	GetCurrentDirectory() string
}

// Clearer is implemented by UI contexts that can wipe their visible terminal
type Clearer interface {
	ClearTerminal()
}

// Forwarder receives command lines that are not built-ins
type Forwarder interface {
	Forward(ctx context.Context, sessionID, raw string) error
}

// DirectoryFollower is implemented by forwarders that keep a shell in step
// with the session directory after cd
type DirectoryFollower interface {
	Chdir(ctx context.Context, sessionID, dir string) error
}

// Journal stores a record of every dispatched line
type Journal interface {
	RecordCommand(ctx context.Context, rec *database.CommandRecord) error
	SearchCommands(ctx context.Context, q database.SearchQuery) ([]*database.CommandRecord, error)
}

// Options wires a Dispatcher. Store is required.
type Options struct {
	Store          *session.Store
	Forwarder      Forwarder
	Tracker        *perf.Tracker
	Journal        Journal
	Tracer         *tracing.Tracer
	Logger         *logger.Logger
	QueueSize      int
	ForwardTimeout time.Duration
}

// Dispatcher executes commands against sessions
type Dispatcher struct {
	store          *session.Store
	forwarder      Forwarder
	tracker        *perf.Tracker
	journal        Journal
	tracer         *tracing.Tracer
	logger         *logger.Logger
	queueSize      int
	forwardTimeout time.Duration

	builtins map[string]Builtin

	mu     sync.Mutex
	queues map[string]*queue
	closed bool
	wg     sync.WaitGroup
}

// New creates a dispatcher with the standard built-ins registered
func New(opts Options) *Dispatcher {
	if opts.Store == nil {
		panic("dispatch: Options.Store is required")
	}
	if opts.Tracker == nil {
		opts.Tracker = perf.NewTracker()
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 64
	}
	if opts.ForwardTimeout <= 0 {
		opts.ForwardTimeout = 30 * time.Second
	}

	d := &Dispatcher{
		store:          opts.Store,
		forwarder:      opts.Forwarder,
		tracker:        opts.Tracker,
		journal:        opts.Journal,
		tracer:         opts.Tracer,
		logger:         opts.Logger.WithComponent("dispatcher"),
		queueSize:      opts.QueueSize,
		forwardTimeout: opts.ForwardTimeout,
		builtins:       make(map[string]Builtin),
		queues:         make(map[string]*queue),
	}
	for _, b := range standardBuiltins() {
		d.Register(b)
	}
	d.store.OnRemove(func(id string, _ session.RemoveReason) {
		d.dropQueue(id)
	})
	return d
}

// Register adds or replaces a built-in
func (d *Dispatcher) Register(b Builtin) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.builtins[b.Name] = b
}

// Builtins lists registered built-ins by name
func (d *Dispatcher) Builtins() []Builtin {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Builtin, 0, len(d.builtins))
	for _, b := range d.builtins {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (d *Dispatcher) builtin(name string) (Builtin, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.builtins[name]
	return b, ok
}

// IsBuiltin reports whether name is handled without the shell
func (d *Dispatcher) IsBuiltin(name string) bool {
	_, ok := d.builtin(name)
	return ok
}

// Tracker returns the performance tracker used for dispatch timings
func (d *Dispatcher) Tracker() *perf.Tracker {
	return d.tracker
}

// Tracer returns the tracer dispatch spans are recorded in, which may be nil
func (d *Dispatcher) Tracer() *tracing.Tracer {
	return d.tracer
}

// Run handles one raw input line: it is recorded in history, parsed and
// executed. Parse failures are written to the terminal. The only error
// returned is the context's.
func (d *Dispatcher) Run(ctx context.Context, sessionID, line string, ui Context) error {
	if strings.TrimSpace(line) == "" {
		return nil
	}
	d.store.AddToHistory(sessionID, line)

	_, span := d.tracer.Start(ctx, "parse", tracing.KindInternal)
	stop := d.tracker.StartTiming("parse")
	cmd, ok, err := parser.Parse(line)
	elapsed := stop()
	span.EndWithError(err)

	if err != nil {
		term := d.terminal(sessionID, ui)
		term.WriteToTerminal(terrors.UserMessage(err))
		d.record(ctx, sessionID, line, "", database.KindParseError, elapsed, err, term)
		return ctx.Err()
	}
	if !ok {
		return nil
	}
	return d.Execute(ctx, sessionID, cmd, ui)
}

// Execute runs a parsed command. Built-ins run inline; anything else is
// forwarded to the shell. Handler failures are written to the terminal and
// Execute still returns nil unless ctx is done.
func (d *Dispatcher) Execute(ctx context.Context, sessionID string, cmd parser.Command, ui Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	term := d.terminal(sessionID, ui)
	start := time.Now()

	var (
		runErr error
		kind   string
	)
	if b, ok := d.builtin(cmd.Name); ok {
		kind = database.KindBuiltin
		sctx, span := d.tracer.Start(ctx, "dispatch."+b.Name, tracing.KindInternal)
		stop := d.tracker.StartTiming("dispatch." + b.Name)
		runErr = d.runBuiltin(sctx, b, &Invocation{
			Command:    cmd,
			SessionID:  sessionID,
			Terminal:   term,
			Store:      d.store,
			Dispatcher: d,
		})
		stop()
		endSpan(span, kind, runErr)
	} else {
		kind = database.KindForwarded
		sctx, span := d.tracer.Start(ctx, "dispatch.forward", tracing.KindClient)
		span.SetAttribute(tracing.AttrCommandName, cmd.Name)
		stop := d.tracker.StartTiming("dispatch.forward")
		runErr = d.forward(sctx, sessionID, cmd)
		stop()
		endSpan(span, kind, runErr)
	}

	if runErr != nil {
		term.WriteToTerminal(terrors.UserMessage(runErr))
	}

	duration := time.Since(start)
	d.logCommand(sessionID, cmd.Raw, duration, runErr)
	d.record(ctx, sessionID, cmd.Raw, cmd.Name, kind, duration, runErr, term)

	return ctx.Err()
}

func endSpan(span *tracing.Span, kind string, err error) {
	span.SetAttribute(tracing.AttrCommandKind, kind)
	if err != nil {
		span.SetAttribute(tracing.AttrErrorCode, string(terrors.GetCode(err)))
	}
	span.EndWithError(err)
}

// logCommand reports a failing built-in at warn level through LogCommand. A
// shell that rejected the line or a panicking handler is logged at error.
func (d *Dispatcher) logCommand(sessionID, raw string, duration time.Duration, runErr error) {
	if isSystemFailure(runErr) {
		d.logger.Error("Command failed", runErr, map[string]interface{}{
			"session_id": sessionID,
			"command":    raw,
			"duration":   duration.String(),
			"code":       string(terrors.GetCode(runErr)),
		})
		return
	}
	d.logger.LogCommand(sessionID, raw, duration, runErr == nil, "", runErr)
}

func isSystemFailure(err error) bool {
	var te *terrors.TerminalError
	if !errors.As(err, &te) {
		return false
	}
	switch te.Code {
	case terrors.ErrCodeInternal:
		return true
	case terrors.ErrCodeForwardFailed:
		// "command not found" without a shell has no cause
		return te.Cause != nil
	}
	return false
}

func (d *Dispatcher) runBuiltin(ctx context.Context, b Builtin, inv *Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Panic in built-in handler", fmt.Errorf("panic: %v", r), map[string]interface{}{
				"command":    b.Name,
				"session_id": inv.SessionID,
			})
			err = terrors.InternalError(fmt.Errorf("panic: %v", r), b.Name)
		}
	}()

	if err := b.Run(ctx, inv); err != nil {
		if _, ok := err.(*terrors.TerminalError); ok {
			return err
		}
		return terrors.HandlerFailed(err, b.Name)
	}
	return nil
}

func (d *Dispatcher) forward(ctx context.Context, sessionID string, cmd parser.Command) error {
	if d.forwarder == nil {
		return terrors.New(terrors.ErrCodeForwardFailed, fmt.Sprintf("%s: command not found", cmd.Name)).
			WithSuggestion("Type help to list built-in commands")
	}

	fctx, cancel := context.WithTimeout(ctx, d.forwardTimeout)
	defer cancel()

	if err := d.forwarder.Forward(fctx, sessionID, cmd.Raw); err != nil {
		return terrors.ForwardFailed(err, sessionID)
	}
	return nil
}

func (d *Dispatcher) record(ctx context.Context, sessionID, line, name, kind string, elapsed time.Duration, runErr error, term Context) {
	if d.journal == nil {
		return
	}

	rec := &database.CommandRecord{
		SessionID:  sessionID,
		Line:       line,
		Name:       name,
		Kind:       kind,
		Success:    runErr == nil,
		DurationMs: elapsed.Milliseconds(),
		WorkingDir: term.GetCurrentDirectory(),
	}
	if runErr != nil {
		rec.Error = runErr.Error()
	}

	// The journal is best effort; a cancelled caller still gets its line recorded
	if err := d.journal.RecordCommand(context.WithoutCancel(ctx), rec); err != nil {
		d.logger.Warn("Failed to journal command", map[string]interface{}{
			"session_id": sessionID,
			"error":      err.Error(),
		})
	}
}

// terminal wraps ui so written text also lands in the session output buffer
// and the current directory comes from the session when known
func (d *Dispatcher) terminal(sessionID string, ui Context) Context {
	if ui == nil {
		ui = NopContext{}
	}
	return &sessionTerminal{ui: ui, store: d.store, id: sessionID}
}

type sessionTerminal struct {
	ui    Context
	store *session.Store
	id    string
}

func (t *sessionTerminal) AddTab(tab TabDescriptor) error {
	return t.ui.AddTab(tab)
}

func (t *sessionTerminal) WriteToTerminal(text string) {
	t.ui.WriteToTerminal(text)
	t.store.AddOutput(t.id, text)
}

func (t *sessionTerminal) GetCurrentDirectory() string {
	if dir, ok := t.store.Directory(t.id); ok && dir != "" {
		return dir
	}
	return t.ui.GetCurrentDirectory()
}

func (t *sessionTerminal) ClearTerminal() {
	t.store.ClearOutput(t.id)
	if c, ok := t.ui.(Clearer); ok {
		c.ClearTerminal()
	}
}

// NopContext discards output and tabs; Dir is reported as the current directory
type NopContext struct {
	Dir string
}

func (NopContext) AddTab(TabDescriptor) error { return nil }
func (NopContext) WriteToTerminal(string)     {}

func (c NopContext) GetCurrentDirectory() string { return c.Dir }
