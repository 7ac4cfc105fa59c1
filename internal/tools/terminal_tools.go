package tools

import (
	"context"

	"github.com/rama-kairi/termcore/internal/config"
	"github.com/rama-kairi/termcore/internal/database"
	"github.com/rama-kairi/termcore/internal/dispatch"
	"github.com/rama-kairi/termcore/internal/logger"
	"github.com/rama-kairi/termcore/internal/monitoring"
	"github.com/rama-kairi/termcore/internal/perf"
	"github.com/rama-kairi/termcore/internal/session"
	"github.com/rama-kairi/termcore/internal/shell"
	"github.com/rama-kairi/termcore/internal/tracing"
)

// Resizer changes the window size of a session shell
type Resizer interface {
	Resize(sessionID string, cols, rows int) error
}

// ShellInspector is implemented by shells that can describe a live process
type ShellInspector interface {
	Info(sessionID string) (shell.Info, bool)
}

// History is the command journal as seen by the tools
type History interface {
	SearchCommands(ctx context.Context, q database.SearchQuery) ([]*database.CommandRecord, error)
	GetSessionStats(ctx context.Context, sessionID string) (database.SessionStats, error)
	Count(ctx context.Context) (int, error)
}

// Deps are the collaborators the tools operate on. Store and Dispatcher are
// required; the rest may be nil.
type Deps struct {
	Store      *session.Store
	Dispatcher *dispatch.Dispatcher
	Tracker    *perf.Tracker
	Tracer     *tracing.Tracer
	Shell      Resizer
	History    History
	Monitor    *monitoring.ResourceMonitor
	Config     *config.Config
	Logger     *logger.Logger
}

// TerminalTools contains the MCP tool handlers
type TerminalTools struct {
	store      *session.Store
	dispatcher *dispatch.Dispatcher
	tracker    *perf.Tracker
	tracer     *tracing.Tracer
	shell      Resizer
	history    History
	monitor    *monitoring.ResourceMonitor
	config     *config.Config
	logger     *logger.Logger
}

// NewTerminalTools creates the tool set
func NewTerminalTools(deps Deps) *TerminalTools {
	if deps.Store == nil || deps.Dispatcher == nil {
		panic("tools: store and dispatcher are required")
	}
	if deps.Config == nil {
		deps.Config = config.DefaultConfig()
	}
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Tracker == nil {
		deps.Tracker = deps.Dispatcher.Tracker()
	}
	if deps.Tracer == nil {
		deps.Tracer = deps.Dispatcher.Tracer()
	}
	return &TerminalTools{
		store:      deps.Store,
		dispatcher: deps.Dispatcher,
		tracker:    deps.Tracker,
		tracer:     deps.Tracer,
		shell:      deps.Shell,
		history:    deps.History,
		monitor:    deps.Monitor,
		config:     deps.Config,
		logger:     deps.Logger.WithComponent("tools"),
	}
}

// resolveSession returns id, or the active session when id is empty
func (t *TerminalTools) resolveSession(id string) (string, error) {
	if id == "" {
		active, ok := t.store.ActiveSessionID()
		if !ok {
			return "", errNoActiveSession
		}
		return active, nil
	}
	if err := validateSessionID(id); err != nil {
		return "", err
	}
	if !t.store.Exists(id) {
		return "", errSessionNotFound(id)
	}
	return id, nil
}
