package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"unicode/utf8"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	terrors "github.com/rama-kairi/termcore/internal/errors"
)

var uuidPattern = regexp.MustCompile(UUIDPattern)

var errNoActiveSession = terrors.New(terrors.ErrCodeSessionNotFound, "no session_id given and no active session").
	WithSuggestion("Create a session with create_session or pass session_id")

func errSessionNotFound(id string) error {
	return terrors.SessionNotFound(id)
}

// validateTitle validates an optional session title
func validateTitle(title string) error {
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return fmt.Errorf("title cannot exceed %d characters", MaxTitleLength)
	}
	for _, r := range title {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("title cannot contain control characters")
		}
	}
	return nil
}

// validateSessionID validates a session ID format
func validateSessionID(sessionID string) error {
	if sessionID == "" {
		return terrors.InvalidInput("session_id", "cannot be empty")
	}
	if !uuidPattern.MatchString(sessionID) {
		return terrors.InvalidInput("session_id", "must be a valid UUID")
	}
	return nil
}

// clamp bounds n to [1, max], using def when n is not positive
func clamp(n, def, max int) int {
	if n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}

// createJSONResult creates a JSON result for tool responses
func createJSONResult(data interface{}) *mcp.CallToolResult {
	resultJSON, _ := json.MarshalIndent(data, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(resultJSON)},
		},
	}
}

// createErrorResult creates an error result for tool responses
func createErrorResult(message string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf("Error: %s", message)},
		},
		IsError: true,
	}
}

// errorResult renders err the way the terminal would, suggestion included
func errorResult(err error) *mcp.CallToolResult {
	var termErr *terrors.TerminalError
	if !errors.As(err, &termErr) {
		return createErrorResult(err.Error())
	}
	msg := termErr.Message
	if termErr.Cause != nil {
		msg += ": " + termErr.Cause.Error()
	}
	if termErr.Suggestion != "" {
		msg += ". Tip: " + termErr.Suggestion
	}
	return createErrorResult(msg)
}
