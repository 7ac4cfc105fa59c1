package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rama-kairi/termcore/internal/dispatch"
	terrors "github.com/rama-kairi/termcore/internal/errors"
	"github.com/rama-kairi/termcore/internal/parser"
	"github.com/rama-kairi/termcore/internal/tracing"
)

// captureContext is the UI context of a tool call: it keeps what handlers
// write and the tabs they open so both can be returned to the caller.
type captureContext struct {
	mu      sync.Mutex
	lines   []string
	tabs    []dispatch.TabDescriptor
	dir     string
	cleared bool
}

func (c *captureContext) AddTab(tab dispatch.TabDescriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tabs = append(c.tabs, tab)
	return nil
}

func (c *captureContext) WriteToTerminal(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, text)
}

func (c *captureContext) GetCurrentDirectory() string {
	return c.dir
}

func (c *captureContext) ClearTerminal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = nil
	c.cleared = true
}

func (c *captureContext) result() (string, []dispatch.TabDescriptor, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return strings.Join(c.lines, "\n"), append([]dispatch.TabDescriptor(nil), c.tabs...), c.cleared
}

// RunCommandArgs represents arguments for running one input line
type RunCommandArgs struct {
	SessionID   string `json:"session_id,omitempty" jsonschema:"Session ID. Defaults to the active session"`
	Command     string `json:"command" jsonschema:"The input line, exactly as typed at the prompt"`
	Timeout     int    `json:"timeout,omitempty" jsonschema:"Seconds to wait for the command to be handled. Default 60, max 300"`
	WaitMs      int    `json:"wait_ms,omitempty" jsonschema:"For shell commands, how long to wait for output to settle before returning. Max 10000"`
	OutputLines int    `json:"output_lines,omitempty" jsonschema:"How many trailing output lines to return. Default 50"`
}

// RunCommandResult represents the outcome of one input line
type RunCommandResult struct {
	SessionID  string                   `json:"session_id"`
	Command    string                   `json:"command"`
	Builtin    bool                     `json:"builtin"`
	Text       string                   `json:"text,omitempty"`
	Tabs       []dispatch.TabDescriptor `json:"tabs,omitempty"`
	Cleared    bool                     `json:"cleared,omitempty"`
	OutputTail []string                 `json:"output_tail,omitempty"`
	Duration   string                   `json:"duration"`
	Directory  string                   `json:"directory"`
	TraceID    string                   `json:"trace_id,omitempty"`
}

// RunCommand submits a line to the session queue and waits for it. Built-in
// output is returned as text; shell output lands in the session output buffer.
func (t *TerminalTools) RunCommand(ctx context.Context, req *mcp.CallToolRequest, args RunCommandArgs) (*mcp.CallToolResult, RunCommandResult, error) {
	ctx, span := t.tracer.Start(ctx, "run_command", tracing.KindServer)
	defer span.End()
	span.SetAttribute(tracing.AttrSessionID, args.SessionID)
	span.SetAttribute(tracing.AttrCommand, args.Command)

	id, err := t.resolveSession(args.SessionID)
	if err != nil {
		span.EndWithError(err)
		return errorResult(err), RunCommandResult{}, nil
	}
	span.SetAttribute(tracing.AttrSessionID, id)
	if strings.TrimSpace(args.Command) == "" {
		err := terrors.InvalidInput("command", "cannot be empty")
		span.EndWithError(err)
		return errorResult(err), RunCommandResult{}, nil
	}

	timeout := time.Duration(clamp(args.Timeout, DefaultTimeout, MaxTimeout)) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	dir, _ := t.store.Directory(id)
	span.SetAttribute(tracing.AttrWorkingDir, dir)
	ui := &captureContext{dir: dir}
	start := time.Now()

	select {
	case err := <-t.dispatcher.Submit(runCtx, id, args.Command, ui):
		if err != nil {
			span.EndWithError(err)
			return errorResult(err), RunCommandResult{}, nil
		}
	case <-runCtx.Done():
		span.AddEvent("timeout", tracing.Attribute{Key: "timeout", Value: timeout.String()})
		span.EndWithError(runCtx.Err())
		return createErrorResult(fmt.Sprintf("command did not finish within %s. Tip: shell output keeps arriving in get_output", timeout)), RunCommandResult{}, nil
	}

	text, tabs, cleared := ui.result()
	builtin := false
	if cmd, ok, err := parser.Parse(args.Command); err == nil && ok {
		builtin = t.dispatcher.IsBuiltin(cmd.Name)
	}

	if !builtin && args.WaitMs > 0 {
		t.waitForOutput(ctx, id, time.Duration(clamp(args.WaitMs, 0, MaxWaitMs))*time.Millisecond)
	}

	tail, _ := t.store.Output(id, clamp(args.OutputLines, DefaultOutputLines, MaxOutputLines))
	newDir, _ := t.store.Directory(id)

	result := RunCommandResult{
		SessionID:  id,
		Command:    args.Command,
		Builtin:    builtin,
		Text:       text,
		Tabs:       tabs,
		Cleared:    cleared,
		OutputTail: tail,
		Duration:   time.Since(start).String(),
		Directory:  newDir,
		TraceID:    span.Context().TraceID,
	}
	span.EndWithError(nil)
	return createJSONResult(result), result, nil
}

// waitForOutput returns once the session output has been quiet for a short
// while, or max has passed
func (t *TerminalTools) waitForOutput(ctx context.Context, id string, max time.Duration) {
	const quiet = 200 * time.Millisecond

	deadline := time.Now().Add(max)
	last := t.lastOutput(id)
	lastChange := time.Now()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if cur := t.lastOutput(id); cur != last {
			last = cur
			lastChange = time.Now()
		} else if time.Since(lastChange) >= quiet {
			return
		}
	}
}

func (t *TerminalTools) lastOutput(id string) string {
	lines, _ := t.store.Output(id, 1)
	if len(lines) == 0 {
		return ""
	}
	return lines[0]
}

// GetOutputArgs represents arguments for reading session output
type GetOutputArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Session ID. Defaults to the active session"`
	Lines     int    `json:"lines,omitempty" jsonschema:"Number of trailing lines. Default 50, max 5000"`
}

// GetOutputResult represents the tail of a session output buffer
type GetOutputResult struct {
	SessionID string   `json:"session_id"`
	Lines     []string `json:"lines"`
	Count     int      `json:"count"`
}

// GetOutput returns the last lines of a session output buffer
func (t *TerminalTools) GetOutput(ctx context.Context, req *mcp.CallToolRequest, args GetOutputArgs) (*mcp.CallToolResult, GetOutputResult, error) {
	id, err := t.resolveSession(args.SessionID)
	if err != nil {
		return errorResult(err), GetOutputResult{}, nil
	}

	lines, _ := t.store.Output(id, clamp(args.Lines, DefaultOutputLines, MaxOutputLines))
	if lines == nil {
		lines = []string{}
	}
	result := GetOutputResult{SessionID: id, Lines: lines, Count: len(lines)}
	return createJSONResult(result), result, nil
}

// ResizeTerminalArgs represents arguments for resizing a session shell
type ResizeTerminalArgs struct {
	SessionID string `json:"session_id" jsonschema:"Session ID"`
	Cols      int    `json:"cols" jsonschema:"Columns, 1 to 1000"`
	Rows      int    `json:"rows" jsonschema:"Rows, 1 to 500"`
}

// ResizeTerminalResult confirms a new terminal size
type ResizeTerminalResult struct {
	SessionID string `json:"session_id"`
	Cols      int    `json:"cols"`
	Rows      int    `json:"rows"`
}

// ResizeTerminal resizes the session shell
func (t *TerminalTools) ResizeTerminal(ctx context.Context, req *mcp.CallToolRequest, args ResizeTerminalArgs) (*mcp.CallToolResult, ResizeTerminalResult, error) {
	if t.shell == nil {
		return createErrorResult("shell forwarding is disabled"), ResizeTerminalResult{}, nil
	}
	if err := validateSessionID(args.SessionID); err != nil {
		return errorResult(err), ResizeTerminalResult{}, nil
	}
	if args.Cols <= 0 || args.Cols > MaxCols || args.Rows <= 0 || args.Rows > MaxRows {
		return errorResult(terrors.InvalidInput("size", fmt.Sprintf("cols must be 1-%d and rows 1-%d", MaxCols, MaxRows))), ResizeTerminalResult{}, nil
	}

	if err := t.shell.Resize(args.SessionID, args.Cols, args.Rows); err != nil {
		return errorResult(err), ResizeTerminalResult{}, nil
	}
	result := ResizeTerminalResult{SessionID: args.SessionID, Cols: args.Cols, Rows: args.Rows}
	return createJSONResult(result), result, nil
}
