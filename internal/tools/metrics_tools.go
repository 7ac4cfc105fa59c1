package tools

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/rama-kairi/termcore/internal/perf"
)

// OperationMetrics is perf.Metrics with durations in milliseconds
type OperationMetrics struct {
	Label   string  `json:"label"`
	Count   int64   `json:"count"`
	TotalMs float64 `json:"total_ms"`
	AvgMs   float64 `json:"avg_ms"`
	MinMs   float64 `json:"min_ms"`
	MaxMs   float64 `json:"max_ms"`
	P50Ms   float64 `json:"p50_ms"`
	P95Ms   float64 `json:"p95_ms"`
	LastMs  float64 `json:"last_ms"`
}

func toOperationMetrics(m perf.Metrics) OperationMetrics {
	ms := func(d time.Duration) float64 { return float64(d) / float64(time.Millisecond) }
	return OperationMetrics{
		Label:   m.Label,
		Count:   m.Count,
		TotalMs: ms(m.Total),
		AvgMs:   ms(m.Avg),
		MinMs:   ms(m.Min),
		MaxMs:   ms(m.Max),
		P50Ms:   ms(m.P50),
		P95Ms:   ms(m.P95),
		LastMs:  ms(m.Last),
	}
}

// GetPerformanceMetricsArgs represents arguments for reading timings
type GetPerformanceMetricsArgs struct {
	Label string `json:"label,omitempty" jsonschema:"Operation label, e.g. parse, dispatch.open or dispatch.forward. Empty returns all"`
	Reset bool   `json:"reset,omitempty" jsonschema:"Clear all timings after reading them"`
}

// GetPerformanceMetricsResult lists timings per operation
type GetPerformanceMetricsResult struct {
	Operations []OperationMetrics `json:"operations"`
	Count      int                `json:"count"`
}

// GetPerformanceMetrics returns dispatch timings from the performance tracker
func (t *TerminalTools) GetPerformanceMetrics(ctx context.Context, req *mcp.CallToolRequest, args GetPerformanceMetricsArgs) (*mcp.CallToolResult, GetPerformanceMetricsResult, error) {
	var ops []OperationMetrics

	if args.Label != "" {
		m, ok := t.tracker.GetMetrics(args.Label)
		if !ok {
			return createErrorResult(fmt.Sprintf("no timings recorded for %q. Known labels: %v", args.Label, t.tracker.Labels())), GetPerformanceMetricsResult{}, nil
		}
		ops = append(ops, toOperationMetrics(m))
	} else {
		for _, m := range t.tracker.GetAllMetrics() {
			ops = append(ops, toOperationMetrics(m))
		}
		sort.Slice(ops, func(i, j int) bool { return ops[i].Label < ops[j].Label })
	}

	if args.Reset {
		t.tracker.Reset()
	}

	if ops == nil {
		ops = []OperationMetrics{}
	}
	result := GetPerformanceMetricsResult{Operations: ops, Count: len(ops)}
	return createJSONResult(result), result, nil
}

// GetResourceStatusArgs represents the arguments for getting resource status
type GetResourceStatusArgs struct {
	ForceGC bool `json:"force_gc,omitempty" jsonschema:"Run garbage collection before sampling"`
}

// GetResourceStatusResult represents the result of getting resource status
type GetResourceStatusResult struct {
	Status       string                 `json:"status"`
	ResourceData map[string]interface{} `json:"resource_data"`
}

// GetResourceStatus samples runtime and store usage now
func (t *TerminalTools) GetResourceStatus(ctx context.Context, req *mcp.CallToolRequest, args GetResourceStatusArgs) (*mcp.CallToolResult, GetResourceStatusResult, error) {
	if t.monitor == nil {
		return createErrorResult("resource monitor not available"), GetResourceStatusResult{}, nil
	}

	if args.ForceGC {
		runtime.GC()
	}
	t.monitor.Sample()

	data := t.monitor.GetResourceSummary()
	if t.history != nil {
		if n, err := t.history.Count(ctx); err == nil {
			data["journal_commands"] = n
		} else {
			t.logger.Warn("Failed to count journal records", map[string]interface{}{"error": err.Error()})
		}
	}
	if t.tracer != nil {
		data["trace_spans"] = t.tracer.Len()
	}

	result := GetResourceStatusResult{
		Status:       "success",
		ResourceData: data,
	}
	return createJSONResult(result), result, nil
}
