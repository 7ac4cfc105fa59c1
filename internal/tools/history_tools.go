package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rama-kairi/termcore/internal/database"
)

// SearchHistoryArgs represents arguments for searching command history
type SearchHistoryArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"Filter by session ID. Empty searches all sessions"`
	Command   string `json:"command,omitempty" jsonschema:"Substring of the command line"`
	Kind      string `json:"kind,omitempty" jsonschema:"builtin, forwarded or parse_error"`
	Success   *bool  `json:"success,omitempty" jsonschema:"true for successful commands, false for failures"`
	StartTime string `json:"start_time,omitempty" jsonschema:"Only commands after this time (RFC 3339)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"Maximum results. Default 100, max 1000"`
}

// HistoryEntry is one command in a search result
type HistoryEntry struct {
	SessionID  string `json:"session_id"`
	Line       string `json:"line"`
	Name       string `json:"name,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Success    *bool  `json:"success,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMs int64  `json:"duration_ms,omitempty"`
	WorkingDir string `json:"working_dir,omitempty"`
	Timestamp  string `json:"timestamp,omitempty"`
}

// SearchHistoryResult represents search results
type SearchHistoryResult struct {
	Source       string                 `json:"source"` // "journal" or "session"
	TotalFound   int                    `json:"total_found"`
	Results      []HistoryEntry         `json:"results"`
	SessionStats *database.SessionStats `json:"session_stats,omitempty"`
	SearchTime   string                 `json:"search_time"`
}

// SearchHistory searches the command journal. Without a journal it searches the
// in-memory history of one session.
func (t *TerminalTools) SearchHistory(ctx context.Context, req *mcp.CallToolRequest, args SearchHistoryArgs) (*mcp.CallToolResult, SearchHistoryResult, error) {
	start := time.Now()

	var since time.Time
	if args.StartTime != "" {
		parsed, err := time.Parse(time.RFC3339, args.StartTime)
		if err != nil {
			return createErrorResult(fmt.Sprintf("Invalid start_time format. Use RFC 3339, e.g. %s", time.Now().Add(-24*time.Hour).Format(time.RFC3339))), SearchHistoryResult{}, nil
		}
		since = parsed
	}
	if args.SessionID != "" {
		if err := validateSessionID(args.SessionID); err != nil {
			return errorResult(err), SearchHistoryResult{}, nil
		}
	}
	limit := clamp(args.Limit, DefaultSearchLimit, MaxSearchLimit)

	if t.history == nil {
		return t.searchSessionHistory(args, limit, start)
	}

	records, err := t.history.SearchCommands(ctx, database.SearchQuery{
		SessionID: args.SessionID,
		Text:      args.Command,
		Kind:      args.Kind,
		Success:   args.Success,
		Since:     since,
		Limit:     limit,
	})
	if err != nil {
		t.logger.Error("Failed to search command history", err, map[string]interface{}{
			"session_id": args.SessionID,
			"command":    args.Command,
		})
		return createErrorResult(fmt.Sprintf("Search failed: %v", err)), SearchHistoryResult{}, nil
	}

	entries := make([]HistoryEntry, len(records))
	for i, rec := range records {
		success := rec.Success
		entries[i] = HistoryEntry{
			SessionID:  rec.SessionID,
			Line:       rec.Line,
			Name:       rec.Name,
			Kind:       rec.Kind,
			Success:    &success,
			Error:      rec.Error,
			DurationMs: rec.DurationMs,
			WorkingDir: rec.WorkingDir,
			Timestamp:  rec.Timestamp.Format(time.RFC3339),
		}
	}

	result := SearchHistoryResult{
		Source:     "journal",
		TotalFound: len(entries),
		Results:    entries,
		SearchTime: time.Since(start).String(),
	}
	if args.SessionID != "" {
		if stats, err := t.history.GetSessionStats(ctx, args.SessionID); err == nil {
			result.SessionStats = &stats
		}
	}

	t.logger.Debug("Command history search completed", map[string]interface{}{
		"results_count": len(entries),
		"session_id":    args.SessionID,
	})
	return createJSONResult(result), result, nil
}

func (t *TerminalTools) searchSessionHistory(args SearchHistoryArgs, limit int, start time.Time) (*mcp.CallToolResult, SearchHistoryResult, error) {
	id, err := t.resolveSession(args.SessionID)
	if err != nil {
		return errorResult(err), SearchHistoryResult{}, nil
	}

	lines, _ := t.store.History(id, 0)
	var entries []HistoryEntry
	for i := len(lines) - 1; i >= 0 && len(entries) < limit; i-- {
		if args.Command == "" || strings.Contains(lines[i], args.Command) {
			entries = append(entries, HistoryEntry{SessionID: id, Line: lines[i]})
		}
	}
	if entries == nil {
		entries = []HistoryEntry{}
	}

	result := SearchHistoryResult{
		Source:     "session",
		TotalFound: len(entries),
		Results:    entries,
		SearchTime: time.Since(start).String(),
	}
	return createJSONResult(result), result, nil
}
