package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/rama-kairi/termcore/internal/config"
	"github.com/rama-kairi/termcore/internal/database"
	"github.com/rama-kairi/termcore/internal/dispatch"
	"github.com/rama-kairi/termcore/internal/logger"
	"github.com/rama-kairi/termcore/internal/monitoring"
	"github.com/rama-kairi/termcore/internal/perf"
	"github.com/rama-kairi/termcore/internal/session"
	"github.com/rama-kairi/termcore/internal/shell"
	"github.com/rama-kairi/termcore/internal/tools"
	"github.com/rama-kairi/termcore/internal/tracing"
)

// app holds the wired components shared by the MCP server and the REPL
type app struct {
	cfg        *config.Config
	logger     *logger.Logger
	db         *database.DB
	store      *session.Store
	shell      *shell.Manager
	dispatcher *dispatch.Dispatcher
	tracker    *perf.Tracker
	tracer     *tracing.Tracer
	monitor    *monitoring.ResourceMonitor
	health     *monitoring.HealthEndpoint
	registry   *prometheus.Registry
}

func main() {
	// Parse command line flags
	configFile := flag.String("config", "", "Path to configuration file (.json, .yaml or .toml)")
	debugMode := flag.Bool("debug", false, "Enable debug mode")
	replMode := flag.Bool("repl", false, "Read commands from stdin instead of serving MCP over stdio")
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Override debug mode if specified via flag
	if *debugMode {
		cfg.Server.Debug = true
		cfg.Logging.Level = "debug"
	}

	// Set log output to stderr to avoid interfering with JSON-RPC communication
	log.SetOutput(os.Stderr)

	appLogger, err := logger.NewLogger(&cfg.Logging, "github.com/rama-kairi/termcore")
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer appLogger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, appLogger, *replMode)
	if err != nil {
		appLogger.Error("Failed to start", err)
		os.Exit(1)
	}

	// Handle shutdown signals
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		appLogger.Info("Received shutdown signal, cleaning up...")
		cancel()
	}()

	if *replMode {
		err = runREPL(ctx, a, os.Stdin, os.Stdout)
	} else {
		err = runServer(ctx, a)
	}

	a.shutdown()
	if err != nil && ctx.Err() == nil {
		appLogger.Error("Server error", err)
		os.Exit(1)
	}
	appLogger.Info("termcore shutdown completed")
}

// newApp wires the store, shell, dispatcher and monitoring from cfg. In REPL
// mode shell output is echoed to stdout as it arrives.
func newApp(ctx context.Context, cfg *config.Config, appLogger *logger.Logger, repl bool) (*app, error) {
	a := &app{cfg: cfg, logger: appLogger, registry: prometheus.NewRegistry()}
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	appLogger.Info("Starting termcore", map[string]interface{}{
		"version":  cfg.Server.Version,
		"debug":    cfg.Server.Debug,
		"data_dir": cfg.Database.DataDir,
		"repl":     repl,
	})

	if cfg.Database.Enable {
		db, err := database.NewDB(cfg.Database.DataDir)
		if err != nil {
			return nil, fmt.Errorf("initialize database: %w", err)
		}
		a.db = db
		appLogger.Info("Database initialized successfully", map[string]interface{}{
			"path": db.Path(),
		})

		if retention := cfg.Database.Retention.Std(); retention > 0 {
			pruned, err := db.CleanupOlderThan(ctx, time.Now().Add(-retention))
			if err != nil {
				appLogger.Warn("Failed to prune command journal", map[string]interface{}{"error": err.Error()})
			} else if pruned > 0 {
				appLogger.Info("Pruned command journal", map[string]interface{}{
					"removed":   pruned,
					"retention": retention.String(),
				})
			}
		}
	}

	storeOpts := session.OptionsFromConfig(cfg.Session)
	storeOpts.Logger = appLogger
	a.store = session.NewStore(storeOpts)
	a.store.StartJanitor(ctx)

	a.tracker = perf.NewTracker(perf.WithRegisterer(a.registry))

	if cfg.Monitoring.EnableTracing {
		a.tracer = tracing.NewTracer(cfg.Server.Name, cfg.Monitoring.MaxSpans)
	}

	dispatchOpts := dispatch.Options{
		Store:          a.store,
		Tracker:        a.tracker,
		Tracer:         a.tracer,
		Logger:         appLogger,
		QueueSize:      cfg.Dispatch.QueueSize,
		ForwardTimeout: cfg.Dispatch.ForwardTimeout.Std(),
	}
	// Leave interface fields nil rather than holding a typed nil pointer
	if a.db != nil && cfg.Dispatch.Journal {
		dispatchOpts.Journal = a.db
	}

	if cfg.Shell.Enable {
		shellOpts := shell.OptionsFromConfig(cfg.Shell)
		shellOpts.Logger = appLogger
		if repl {
			shellOpts.OnOutput = func(_, line string) {
				fmt.Fprintln(os.Stdout, line)
			}
		}
		a.shell = shell.NewManager(a.store, shellOpts)
		dispatchOpts.Forwarder = a.shell
		appLogger.Info("Shell forwarding enabled", map[string]interface{}{
			"shell": shellOpts.Path,
		})
	}

	a.dispatcher = dispatch.New(dispatchOpts)

	a.monitor = monitoring.NewResourceMonitor(appLogger, cfg.Monitoring.StatsInterval.Std(), a.registry)
	var shellCount func() int
	if a.shell != nil {
		shellCount = a.shell.Count
	}
	a.monitor.SetSources(a.store.Stats, shellCount)
	a.monitor.Start(ctx)

	if cfg.Monitoring.EnableMetrics {
		a.health = monitoring.NewHealthEndpoint(cfg.Monitoring.HealthPort, a.monitor, a.registry, appLogger)
		if a.db != nil {
			a.health.RegisterHealthCheck("database", a.db)
		}
		a.health.RegisterHealthCheck("sessions", monitoring.HealthCheckFunc(func() error {
			if n, limit := a.store.Count(), a.store.Options().MaxSessions; n > limit {
				return fmt.Errorf("%d sessions exceed the limit of %d", n, limit)
			}
			return nil
		}))
		if err := a.health.Start(); err != nil {
			appLogger.Warn("Health endpoint disabled", map[string]interface{}{
				"error": err.Error(),
			})
			a.health = nil
		}
	}

	return a, nil
}

// shutdown stops components in reverse order of creation
func (a *app) shutdown() {
	if a.health != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.health.Stop(ctx); err != nil {
			a.logger.Warn("Health endpoint shutdown failed", map[string]interface{}{"error": err.Error()})
		}
		cancel()
	}
	a.monitor.Stop()
	a.dispatcher.Close()
	if a.shell != nil {
		a.shell.Shutdown()
	}
	a.store.StopJanitor()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("Database close failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// runServer serves the MCP tools over stdio until ctx is done or the client leaves
func runServer(ctx context.Context, a *app) error {
	deps := tools.Deps{
		Store:      a.store,
		Dispatcher: a.dispatcher,
		Tracker:    a.tracker,
		Tracer:     a.tracer,
		Monitor:    a.monitor,
		Config:     a.cfg,
		Logger:     a.logger,
	}
	if a.shell != nil {
		deps.Shell = a.shell
	}
	if a.db != nil {
		deps.History = a.db
	}
	terminalTools := tools.NewTerminalTools(deps)

	server := mcp.NewServer(&mcp.Implementation{
		Name:    a.cfg.Server.Name,
		Version: a.cfg.Server.Version,
	}, nil)
	n := registerTools(server, terminalTools)

	a.logger.Info("termcore registered all tools successfully", map[string]interface{}{
		"tools_count":  n,
		"max_sessions": a.cfg.Session.MaxSessions,
		"journal":      a.db != nil && a.cfg.Dispatch.Journal,
		"shell":        a.shell != nil,
	})
	a.logger.Info("Use stdio transport to communicate with this server")

	return server.Run(ctx, &mcp.StdioTransport{})
}

func sessionIDProperty(optional bool) *jsonschema.Schema {
	desc := "Session ID. Use list_sessions to see available sessions."
	if optional {
		desc = "Optional: Session ID. Defaults to the active session."
	}
	return &jsonschema.Schema{Type: "string", Description: desc}
}

// registerTools adds every tool to server and returns how many were added
func registerTools(server *mcp.Server, t *tools.TerminalTools) int {
	count := 0

	mcp.AddTool(server, &mcp.Tool{
		Name:        "create_session",
		Description: "Create a terminal session with its own working directory, output buffer and command history. When the session limit is reached the oldest session is evicted. Sessions idle past the configured timeout are removed automatically.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"title": {
					Type:        "string",
					Description: "Optional: Title for the session. Defaults to the generated name, e.g. 'Terminal 3'. At most 100 characters.",
				},
				"working_dir": {
					Type:        "string",
					Description: "Optional: Starting directory. '~' expands to the home directory.",
				},
				"activate": {
					Type:        "boolean",
					Description: "Make the new session the active one. Default: false.",
				},
			},
		},
	}, t.CreateSession)
	count++

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_sessions",
		Description: "List sessions in creation order with their directory, activity times and buffer sizes, plus store statistics including evicted and expired counts.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, t.ListSessions)
	count++

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_session",
		Description: "Get one session, optionally with its full output buffer and command history. When the session shell is running its pid, size and output counters are included.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": sessionIDProperty(true),
				"include_output": {
					Type:        "boolean",
					Description: "Include the retained output lines. Default: false.",
				},
				"include_history": {
					Type:        "boolean",
					Description: "Include the command history. Default: false.",
				},
			},
		},
	}, t.GetSession)
	count++

	mcp.AddTool(server, &mcp.Tool{
		Name:        "set_active_session",
		Description: "Make a session the active one. Tools called without session_id operate on the active session.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": sessionIDProperty(false),
			},
			Required: []string{"session_id"},
		},
	}, t.SetActiveSession)
	count++

	mcp.AddTool(server, &mcp.Tool{
		Name:        "close_session",
		Description: "Close a session. Its shell is stopped and its buffers are discarded; the command journal keeps its history.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": sessionIDProperty(false),
			},
			Required: []string{"session_id"},
		},
	}, t.CloseSession)
	count++

	mcp.AddTool(server, &mcp.Tool{
		Name:        "run_command",
		Description: "Run one input line in a session, exactly as if typed at its prompt. Built-in commands (help, cd, pwd, open, edit, new-file, preview, ls, clear, history, title) run in-process and return their text and any tabs they open. Other commands are forwarded to the session shell; their output arrives in the session output buffer. Lines in one session run in order.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": sessionIDProperty(true),
				"command": {
					Type:        "string",
					Description: "The input line. Examples: 'cd src', 'open --file \"my notes.md\" --line 12', 'ls **/*.go', 'go test ./...'.",
				},
				"timeout": {
					Type:        "integer",
					Description: "Optional: Seconds to wait for the line to be handled. Default: 60. Maximum: 300.",
				},
				"wait_ms": {
					Type:        "integer",
					Description: "Optional: For shell commands, milliseconds to wait for output to settle before returning. Maximum: 10000.",
				},
				"output_lines": {
					Type:        "integer",
					Description: "Optional: Trailing output lines to return. Default: 50.",
				},
			},
			Required: []string{"command"},
		},
	}, t.RunCommand)
	count++

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_output",
		Description: "Read the last lines of a session output buffer. Use after run_command to follow long-running shell commands.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": sessionIDProperty(true),
				"lines": {
					Type:        "integer",
					Description: "Optional: Number of trailing lines. Default: 50. Maximum: 5000.",
				},
			},
		},
	}, t.GetOutput)
	count++

	mcp.AddTool(server, &mcp.Tool{
		Name:        "resize_terminal",
		Description: "Set the window size of a session shell.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": sessionIDProperty(false),
				"cols": {
					Type:        "integer",
					Description: "Columns, 1 to 1000.",
				},
				"rows": {
					Type:        "integer",
					Description: "Rows, 1 to 500.",
				},
			},
			Required: []string{"session_id", "cols", "rows"},
		},
	}, t.ResizeTerminal)
	count++

	mcp.AddTool(server, &mcp.Tool{
		Name:        "cleanup_sessions",
		Description: "Remove every session idle longer than the configured idle timeout now, instead of waiting for the periodic sweep.",
		InputSchema: &jsonschema.Schema{
			Type:       "object",
			Properties: map[string]*jsonschema.Schema{},
		},
	}, t.CleanupSessions)
	count++

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_performance_metrics",
		Description: "Get timing statistics for parsing and dispatch: count, total, average, min, max, p50 and p95 per operation. Labels are 'parse', 'dispatch.<builtin>' and 'dispatch.forward'.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"label": {
					Type:        "string",
					Description: "Optional: Return one operation only, e.g. 'dispatch.open'.",
				},
				"reset": {
					Type:        "boolean",
					Description: "Clear all timings after reading them. Default: false.",
				},
			},
		},
	}, t.GetPerformanceMetrics)
	count++

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_history",
		Description: "Search previously dispatched lines. With the journal enabled this covers all sessions, including closed ones, with kind, success and duration. Without it, the in-memory history of one session is searched.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": {
					Type:        "string",
					Description: "Filter by session ID. Leave empty to search all sessions.",
				},
				"command": {
					Type:        "string",
					Description: "Search for lines containing this text.",
				},
				"kind": {
					Type:        "string",
					Description: "Filter by kind: 'builtin', 'forwarded' or 'parse_error'.",
				},
				"success": {
					Type:        "boolean",
					Description: "Filter by outcome: true for successful commands, false for failed ones.",
				},
				"start_time": {
					Type:        "string",
					Description: "Find commands dispatched after this time (RFC 3339: 2006-01-02T15:04:05Z).",
				},
				"limit": {
					Type:        "integer",
					Description: "Maximum results to return (default: 100, max: 1000).",
				},
			},
		},
	}, t.SearchHistory)
	count++

	mcp.AddTool(server, &mcp.Tool{
		Name:        "search_output",
		Description: "Search the retained output of one or all sessions for text or a regular expression, with optional context lines.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"session_id": {
					Type:        "string",
					Description: "Optional: Search one session. Leave empty to search all sessions.",
				},
				"pattern": {
					Type:        "string",
					Description: "Text or regular expression to search for.",
				},
				"is_regex": {
					Type:        "boolean",
					Description: "Treat pattern as a regular expression. Default: false.",
				},
				"case_sensitive": {
					Type:        "boolean",
					Description: "Match case. Default: false.",
				},
				"max_results": {
					Type:        "integer",
					Description: "Maximum matches to return (default: 50, max: 200).",
				},
				"include_context": {
					Type:        "integer",
					Description: "Lines of context before and after each match (max: 10).",
				},
			},
			Required: []string{"pattern"},
		},
	}, t.SearchOutput)
	count++

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_resource_status",
		Description: "Get memory, goroutine, session and shell usage with leak indicators against the startup baseline.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"force_gc": {
					Type:        "boolean",
					Description: "Force garbage collection before sampling. Default: false.",
				},
			},
		},
	}, t.GetResourceStatus)
	count++

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_traces",
		Description: "Get recorded trace spans. Each run_command call is one trace: a run_command span with parse and dispatch.<builtin> or dispatch.forward children. run_command results carry their trace_id.",
		InputSchema: &jsonschema.Schema{
			Type: "object",
			Properties: map[string]*jsonschema.Schema{
				"limit": {
					Type:        "integer",
					Description: "Maximum spans to return, newest last (default: 100, max: 1000).",
				},
				"trace_id": {
					Type:        "string",
					Description: "Optional: Return only the spans of this trace.",
				},
				"clear": {
					Type:        "boolean",
					Description: "Forget all recorded spans after reading them. Default: false.",
				},
			},
		},
	}, t.GetTraces)
	count++

	return count
}
