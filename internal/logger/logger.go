package logger

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/rama-kairi/termcore/internal/config"
)

// Logger is a structured logger backed by zap. Fields are passed as maps so
// call sites stay independent of the zap field API.
type Logger struct {
	zl        *zap.Logger
	level     zap.AtomicLevel
	component string
}

// NewLogger creates a new logger instance
func NewLogger(cfg *config.LoggingConfig, component string) (*Logger, error) {
	level := zap.NewAtomicLevelAt(parseLogLevel(cfg.Level))

	encoding := "json"
	if strings.EqualFold(cfg.Format, "console") {
		encoding = "console"
	}

	output := cfg.Output
	if output == "" {
		// stdout carries the MCP stdio transport
		output = "stderr"
	}

	zapCfg := zap.Config{
		Level:             level,
		Encoding:          encoding,
		EncoderConfig:     encoderConfig(encoding),
		OutputPaths:       []string{output},
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: true,
	}

	zl, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	return &Logger{
		zl:        zl.With(zap.String("component", component)),
		level:     level,
		component: component,
	}, nil
}

// NewWithCore wraps an existing zap core, mostly for tests that observe output
func NewWithCore(core zapcore.Core, component string) *Logger {
	return &Logger{
		zl:        zap.New(core).With(zap.String("component", component)),
		level:     zap.NewAtomicLevelAt(zapcore.DebugLevel),
		component: component,
	}
}

// NewNop returns a logger that discards everything
func NewNop() *Logger {
	return &Logger{
		zl:    zap.NewNop(),
		level: zap.NewAtomicLevel(),
	}
}

func encoderConfig(encoding string) zapcore.EncoderConfig {
	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.MessageKey = "message"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	if encoding == "console" {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	return cfg
}

// Close flushes buffered entries
func (l *Logger) Close() error {
	err := l.zl.Sync()
	// stderr cannot be synced on most terminals
	if err != nil && strings.Contains(err.Error(), "invalid argument") {
		return nil
	}
	return err
}

// SetLevel sets the logging level
func (l *Logger) SetLevel(level string) {
	l.level.SetLevel(parseLogLevel(level))
}

// Component returns the component name attached to every entry
func (l *Logger) Component() string {
	return l.component
}

// WithFields returns a new logger instance with additional fields
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{
		zl:        l.zl.With(toZapFields(fields)...),
		level:     l.level,
		component: l.component,
	}
}

// WithSession returns a logger with session ID
func (l *Logger) WithSession(sessionID string) *Logger {
	return l.WithFields(map[string]interface{}{
		"session_id": sessionID,
	})
}

// WithComponent returns a logger with component name
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		zl:        l.zl.With(zap.String("subcomponent", component)),
		level:     l.level,
		component: component,
	}
}

// Debug logs a debug message
func (l *Logger) Debug(message string, fields ...map[string]interface{}) {
	l.zl.Debug(message, merge(fields)...)
}

// Info logs an info message
func (l *Logger) Info(message string, fields ...map[string]interface{}) {
	l.zl.Info(message, merge(fields)...)
}

// Warn logs a warning message
func (l *Logger) Warn(message string, fields ...map[string]interface{}) {
	l.zl.Warn(message, merge(fields)...)
}

// Error logs an error message
func (l *Logger) Error(message string, err error, fields ...map[string]interface{}) {
	zf := merge(fields)
	if err != nil {
		zf = append(zf, zap.Error(err))
	}
	l.zl.Error(message, zf...)
}

// LogCommand logs a dispatched command. Failures are logged at warn level.
func (l *Logger) LogCommand(sessionID, command string, duration time.Duration, success bool, output string, err error) {
	fields := map[string]interface{}{
		"session_id": sessionID,
		"command":    command,
		"duration":   duration.String(),
		"success":    success,
		"output_len": len(output),
	}

	if err != nil {
		fields["error"] = err.Error()
		l.Warn("Command completed with error", fields)
	} else {
		l.Debug("Command completed", fields)
	}
}

// LogSessionEvent logs session-related events
func (l *Logger) LogSessionEvent(event, sessionID, sessionName string, fields ...map[string]interface{}) {
	eventFields := map[string]interface{}{
		"event":        event,
		"session_id":   sessionID,
		"session_name": sessionName,
	}

	if len(fields) > 0 {
		for k, v := range fields[0] {
			eventFields[k] = v
		}
	}

	l.Info(fmt.Sprintf("Session %s", event), eventFields)
}

func merge(fields []map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	var out []zap.Field
	for _, f := range fields {
		out = append(out, toZapFields(f)...)
	}
	return out
}

// toZapFields converts in key order so entries are stable
func toZapFields(fields map[string]interface{}) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, fields[k]))
	}
	return out
}

func parseLogLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
