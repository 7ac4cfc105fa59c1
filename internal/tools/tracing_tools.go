package tools

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rama-kairi/termcore/internal/tracing"
)

// GetTracesArgs represents arguments for reading recorded spans
type GetTracesArgs struct {
	Limit   int    `json:"limit,omitempty" jsonschema:"Maximum number of spans to return, newest last. Default 100, max 1000"`
	TraceID string `json:"trace_id,omitempty" jsonschema:"Only return spans of this trace, as reported by run_command"`
	Clear   bool   `json:"clear,omitempty" jsonschema:"Forget all recorded spans after reading them"`
}

// GetTracesResult lists recorded spans
type GetTracesResult struct {
	Spans []tracing.SpanData `json:"spans"`
	Count int                `json:"count"`
	Kept  int                `json:"kept"`
}

// GetTraces returns the run_command, parse and dispatch spans kept in memory
func (t *TerminalTools) GetTraces(ctx context.Context, req *mcp.CallToolRequest, args GetTracesArgs) (*mcp.CallToolResult, GetTracesResult, error) {
	if t.tracer == nil {
		return createErrorResult("tracing is disabled. Set monitoring.enable_tracing to record spans"), GetTracesResult{}, nil
	}

	limit := clamp(args.Limit, DefaultTraceLimit, MaxTraceLimit)

	var spans []tracing.SpanData
	if args.TraceID != "" {
		spans = t.tracer.Trace(args.TraceID)
		if len(spans) == 0 {
			return createErrorResult(fmt.Sprintf("no spans recorded for trace %q", args.TraceID)), GetTracesResult{}, nil
		}
		if len(spans) > limit {
			spans = spans[len(spans)-limit:]
		}
	} else {
		spans = t.tracer.Recent(limit)
	}

	kept := t.tracer.Len()
	if args.Clear {
		t.tracer.Clear()
	}

	if spans == nil {
		spans = []tracing.SpanData{}
	}
	result := GetTracesResult{Spans: spans, Count: len(spans), Kept: kept}
	return createJSONResult(result), result, nil
}
