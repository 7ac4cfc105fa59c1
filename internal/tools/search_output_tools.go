package tools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rama-kairi/termcore/internal/session"
)

// SearchOutputArgs represents arguments for searching session output
type SearchOutputArgs struct {
	SessionID      string `json:"session_id,omitempty" jsonschema:"Search one session. Empty searches all sessions"`
	Pattern        string `json:"pattern" jsonschema:"Text or regex pattern to search for"`
	IsRegex        bool   `json:"is_regex,omitempty" jsonschema:"Treat pattern as a regular expression"`
	CaseSensitive  bool   `json:"case_sensitive,omitempty" jsonschema:"Case sensitive search (default false)"`
	MaxResults     int    `json:"max_results,omitempty" jsonschema:"Maximum matches to return (default 50, max 200)"`
	IncludeContext int    `json:"include_context,omitempty" jsonschema:"Lines of context around each match (default 0)"`
}

// SearchOutputMatch represents a single matching output line
type SearchOutputMatch struct {
	SessionID  string   `json:"session_id"`
	LineNumber int      `json:"line_number"`
	Line       string   `json:"line"`
	Context    []string `json:"context,omitempty"`
}

// SearchOutputResult represents the result of searching output
type SearchOutputResult struct {
	Pattern      string              `json:"pattern"`
	IsRegex      bool                `json:"is_regex"`
	TotalMatches int                 `json:"total_matches"`
	Matches      []SearchOutputMatch `json:"matches"`
	SearchTime   string              `json:"search_time"`
	Truncated    bool                `json:"truncated"`
}

// SearchOutput greps the retained output buffers. Line numbers are 1-based
// positions in the buffer, which drops its oldest lines once full.
func (t *TerminalTools) SearchOutput(ctx context.Context, req *mcp.CallToolRequest, args SearchOutputArgs) (*mcp.CallToolResult, SearchOutputResult, error) {
	start := time.Now()

	if args.Pattern == "" {
		return createErrorResult("Search pattern cannot be empty"), SearchOutputResult{}, nil
	}
	maxResults := clamp(args.MaxResults, 50, 200)
	contextLines := args.IncludeContext
	if contextLines < 0 {
		contextLines = 0
	}
	if contextLines > 10 {
		contextLines = 10
	}

	var match func(string) bool
	if args.IsRegex {
		flags := ""
		if !args.CaseSensitive {
			flags = "(?i)"
		}
		re, err := regexp.Compile(flags + args.Pattern)
		if err != nil {
			return createErrorResult(fmt.Sprintf("Invalid regex pattern: %v", err)), SearchOutputResult{}, nil
		}
		match = re.MatchString
	} else {
		pattern := args.Pattern
		if !args.CaseSensitive {
			pattern = strings.ToLower(pattern)
		}
		match = func(line string) bool {
			if !args.CaseSensitive {
				line = strings.ToLower(line)
			}
			return strings.Contains(line, pattern)
		}
	}

	var sessions []session.Session
	if args.SessionID != "" {
		id, err := t.resolveSession(args.SessionID)
		if err != nil {
			return errorResult(err), SearchOutputResult{}, nil
		}
		snap, _ := t.store.GetSession(id)
		sessions = []session.Session{snap}
	} else {
		sessions = t.store.ListSessions()
	}

	result := SearchOutputResult{
		Pattern: args.Pattern,
		IsRegex: args.IsRegex,
		Matches: []SearchOutputMatch{},
	}

	for _, s := range sessions {
		for i, line := range s.OutputBuffer {
			if !match(line) {
				continue
			}
			result.TotalMatches++
			if len(result.Matches) >= maxResults {
				result.Truncated = true
				continue
			}
			m := SearchOutputMatch{SessionID: s.ID, LineNumber: i + 1, Line: line}
			if contextLines > 0 {
				lo := max(0, i-contextLines)
				hi := min(len(s.OutputBuffer), i+contextLines+1)
				m.Context = append([]string(nil), s.OutputBuffer[lo:hi]...)
			}
			result.Matches = append(result.Matches, m)
		}
	}

	result.SearchTime = time.Since(start).String()
	return createJSONResult(result), result, nil
}
