package tools

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	terrors "github.com/rama-kairi/termcore/internal/errors"
	"github.com/rama-kairi/termcore/internal/session"
	"github.com/rama-kairi/termcore/internal/shell"
	"github.com/rama-kairi/termcore/internal/utils"
)

// SessionInfo is a session summary without its buffers
type SessionInfo struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	Title            string `json:"title"`
	CurrentDirectory string `json:"current_directory"`
	IsActive         bool   `json:"is_active"`
	CreatedAt        string `json:"created_at"`
	LastActivityAt   string `json:"last_activity_at"`
	OutputLines      int    `json:"output_lines"`
	HistoryEntries   int    `json:"history_entries"`
}

func summarize(s session.Session) SessionInfo {
	return SessionInfo{
		ID:               s.ID,
		Name:             s.Name,
		Title:            s.Title,
		CurrentDirectory: s.CurrentDirectory,
		IsActive:         s.IsActive,
		CreatedAt:        s.CreatedAt.Format(time.RFC3339),
		LastActivityAt:   s.LastActivityAt.Format(time.RFC3339),
		OutputLines:      len(s.OutputBuffer),
		HistoryEntries:   len(s.CommandHistory),
	}
}

// CreateSessionArgs represents arguments for creating a session
type CreateSessionArgs struct {
	Title      string `json:"title,omitempty" jsonschema:"Optional title. Defaults to the generated name, e.g. Terminal 3"`
	WorkingDir string `json:"working_dir,omitempty" jsonschema:"Optional starting directory. Relative paths resolve against the server directory"`
	Activate   bool   `json:"activate,omitempty" jsonschema:"Make the new session the active one"`
}

// CreateSessionResult represents the result of creating a session
type CreateSessionResult struct {
	SessionID string      `json:"session_id"`
	Session   SessionInfo `json:"session"`
	Message   string      `json:"message"`
}

// CreateSession creates a session. The oldest session is evicted when the store is full.
func (t *TerminalTools) CreateSession(ctx context.Context, req *mcp.CallToolRequest, args CreateSessionArgs) (*mcp.CallToolResult, CreateSessionResult, error) {
	if err := validateTitle(args.Title); err != nil {
		return createErrorResult(fmt.Sprintf("Invalid title: %v", err)), CreateSessionResult{}, nil
	}

	dir := args.WorkingDir
	if dir == "" {
		dir = t.config.Session.WorkingDir
	}
	if dir != "" {
		dir = utils.ResolvePath("", dir)
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			return errorResult(terrors.InvalidPath(dir, "no such directory")), CreateSessionResult{}, nil
		}
	}

	before := t.store.Count()
	id := t.store.CreateSession(args.Title)
	if dir != "" {
		t.store.UpdateSession(id, session.Update{CurrentDirectory: &dir})
	}
	if args.Activate {
		t.store.SetActiveSession(id)
	}

	snap, _ := t.store.GetSession(id)
	result := CreateSessionResult{
		SessionID: id,
		Session:   summarize(snap),
		Message:   fmt.Sprintf("Session '%s' created with ID: %s", snap.Title, id),
	}
	if before >= t.store.Options().MaxSessions {
		result.Message += " (the oldest session was evicted to make room)"
	}

	return createJSONResult(result), result, nil
}

// ListSessionsArgs represents arguments for listing sessions
type ListSessionsArgs struct{}

// ListSessionsResult represents the result of listing sessions
type ListSessionsResult struct {
	Sessions        []SessionInfo `json:"sessions"`
	Count           int           `json:"count"`
	ActiveSessionID string        `json:"active_session_id,omitempty"`
	Statistics      session.Stats `json:"statistics"`
}

// ListSessions lists sessions in creation order
func (t *TerminalTools) ListSessions(ctx context.Context, req *mcp.CallToolRequest, args ListSessionsArgs) (*mcp.CallToolResult, ListSessionsResult, error) {
	sessions := t.store.ListSessions()
	infos := make([]SessionInfo, len(sessions))
	for i, s := range sessions {
		infos[i] = summarize(s)
	}

	stats := t.store.Stats()
	result := ListSessionsResult{
		Sessions:        infos,
		Count:           len(infos),
		ActiveSessionID: stats.ActiveSession,
		Statistics:      stats,
	}
	return createJSONResult(result), result, nil
}

// GetSessionArgs represents arguments for fetching one session
type GetSessionArgs struct {
	SessionID      string `json:"session_id,omitempty" jsonschema:"Session ID. Defaults to the active session"`
	IncludeOutput  bool   `json:"include_output,omitempty" jsonschema:"Include the output buffer"`
	IncludeHistory bool   `json:"include_history,omitempty" jsonschema:"Include the command history"`
}

// GetSessionResult represents one session with optional buffers
type GetSessionResult struct {
	Session SessionInfo `json:"session"`
	Output  []string    `json:"output,omitempty"`
	History []string    `json:"history,omitempty"`
	Shell   *ShellInfo  `json:"shell,omitempty"`
}

// ShellInfo describes the running shell of a session
type ShellInfo struct {
	Shell        string `json:"shell"`
	PID          int    `json:"pid"`
	Cols         int    `json:"cols"`
	Rows         int    `json:"rows"`
	StartedAt    string `json:"started_at"`
	OutputLines  int    `json:"output_lines"`
	PendingBytes int    `json:"pending_bytes"`
}

func describeShell(info shell.Info) *ShellInfo {
	return &ShellInfo{
		Shell:        info.Shell,
		PID:          info.PID,
		Cols:         info.Cols,
		Rows:         info.Rows,
		StartedAt:    info.StartedAt.Format(time.RFC3339),
		OutputLines:  info.OutputLines,
		PendingBytes: info.PendingBytes,
	}
}

// GetSession returns a session snapshot
func (t *TerminalTools) GetSession(ctx context.Context, req *mcp.CallToolRequest, args GetSessionArgs) (*mcp.CallToolResult, GetSessionResult, error) {
	id, err := t.resolveSession(args.SessionID)
	if err != nil {
		return errorResult(err), GetSessionResult{}, nil
	}

	snap, ok := t.store.GetSession(id)
	if !ok {
		return errorResult(errSessionNotFound(id)), GetSessionResult{}, nil
	}

	result := GetSessionResult{Session: summarize(snap)}
	if args.IncludeOutput {
		result.Output = snap.OutputBuffer
	}
	if args.IncludeHistory {
		result.History = snap.CommandHistory
	}
	if insp, ok := t.shell.(ShellInspector); ok {
		if info, running := insp.Info(id); running {
			result.Shell = describeShell(info)
		}
	}
	return createJSONResult(result), result, nil
}

// SessionIDArgs is the argument set of tools that only name a session
type SessionIDArgs struct {
	SessionID string `json:"session_id" jsonschema:"Session ID. Use list_sessions to see available sessions"`
}

// SessionActionResult is returned by tools that change one session
type SessionActionResult struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

// SetActiveSession marks a session active
func (t *TerminalTools) SetActiveSession(ctx context.Context, req *mcp.CallToolRequest, args SessionIDArgs) (*mcp.CallToolResult, SessionActionResult, error) {
	if err := validateSessionID(args.SessionID); err != nil {
		return errorResult(err), SessionActionResult{}, nil
	}
	if !t.store.Exists(args.SessionID) {
		return errorResult(errSessionNotFound(args.SessionID)), SessionActionResult{}, nil
	}

	t.store.SetActiveSession(args.SessionID)
	result := SessionActionResult{
		SessionID: args.SessionID,
		Message:   "Session is now active",
	}
	return createJSONResult(result), result, nil
}

// CloseSession removes a session and stops its shell
func (t *TerminalTools) CloseSession(ctx context.Context, req *mcp.CallToolRequest, args SessionIDArgs) (*mcp.CallToolResult, SessionActionResult, error) {
	if err := validateSessionID(args.SessionID); err != nil {
		return errorResult(err), SessionActionResult{}, nil
	}
	snap, ok := t.store.GetSession(args.SessionID)
	if !ok {
		return errorResult(errSessionNotFound(args.SessionID)), SessionActionResult{}, nil
	}

	t.store.RemoveSession(args.SessionID)

	result := SessionActionResult{
		SessionID: args.SessionID,
		Message:   fmt.Sprintf("Session '%s' closed", snap.Title),
	}
	return createJSONResult(result), result, nil
}

// CleanupSessionsArgs represents arguments for idle cleanup
type CleanupSessionsArgs struct{}

// CleanupSessionsResult reports how many sessions were removed
type CleanupSessionsResult struct {
	Removed     int    `json:"removed"`
	Remaining   int    `json:"remaining"`
	IdleTimeout string `json:"idle_timeout"`
}

// CleanupSessions removes sessions idle past the configured timeout
func (t *TerminalTools) CleanupSessions(ctx context.Context, req *mcp.CallToolRequest, args CleanupSessionsArgs) (*mcp.CallToolResult, CleanupSessionsResult, error) {
	removed := t.store.CleanupSessions()
	result := CleanupSessionsResult{
		Removed:     removed,
		Remaining:   t.store.Count(),
		IdleTimeout: t.store.Options().IdleTimeout.String(),
	}
	return createJSONResult(result), result, nil
}
