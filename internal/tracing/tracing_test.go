package tracing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildSpansJoinParentTrace(t *testing.T) {
	tr := NewTracer("termcore", 10)

	ctx, root := tr.Start(context.Background(), "run_command", KindServer)
	_, child := tr.Start(ctx, "parse", KindInternal)
	child.End()
	root.End()

	assert.Equal(t, root.Context().TraceID, child.Context().TraceID)
	assert.Equal(t, root.Context().SpanID, child.Context().ParentID)
	assert.Empty(t, root.Context().ParentID)
	assert.Len(t, root.Context().TraceID, 32)
	assert.Len(t, root.Context().SpanID, 16)
	assert.Same(t, root, SpanFromContext(ctx))

	_, other := tr.Start(context.Background(), "run_command", KindServer)
	assert.NotEqual(t, root.Context().TraceID, other.Context().TraceID)
}

func TestRecentKeepsNewestInOrder(t *testing.T) {
	tr := NewTracer("termcore", 3)
	for i := 0; i < 5; i++ {
		_, s := tr.Start(context.Background(), fmt.Sprintf("op%d", i), KindInternal)
		s.End()
	}

	assert.Equal(t, 3, tr.Len())

	var names []string
	for _, d := range tr.Recent(0) {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"op2", "op3", "op4"}, names)

	recent := tr.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "op3", recent[0].Name)
	assert.Equal(t, "op4", recent[1].Name)

	tr.Clear()
	assert.Zero(t, tr.Len())
	assert.Empty(t, tr.Recent(0))
}

func TestTraceFiltersByID(t *testing.T) {
	tr := NewTracer("termcore", 10)

	ctx, a := tr.Start(context.Background(), "run_command", KindServer)
	_, a1 := tr.Start(ctx, "dispatch.echo", KindInternal)
	_, b := tr.Start(context.Background(), "run_command", KindServer)
	a1.End()
	a.End()
	b.End()

	spans := tr.Trace(a.Context().TraceID)
	require.Len(t, spans, 2)
	assert.Equal(t, "run_command", spans[0].Name)
	assert.Equal(t, "dispatch.echo", spans[1].Name)
	assert.Empty(t, tr.Trace("nope"))
}

func TestSpanStatusAndAttributes(t *testing.T) {
	tr := NewTracer("termcore", 10)

	_, s := tr.Start(context.Background(), "dispatch.forward", KindClient)
	s.SetAttribute(AttrCommand, "make")
	s.SetAttribute(AttrCommand, "make build")
	s.AddEvent("retry", Attribute{Key: "attempt", Value: 2})
	s.EndWithError(errors.New("shell gone"))
	s.EndWithError(nil)

	d := s.Snapshot()
	assert.Equal(t, StatusError, d.Status)
	assert.Equal(t, "shell gone", d.StatusMsg)
	require.NotEmpty(t, d.EndTime)
	assert.Equal(t, []Attribute{
		{Key: AttrServiceName, Value: "termcore"},
		{Key: AttrCommand, Value: "make build"},
	}, d.Attributes)
	require.Len(t, d.Events, 1)
	assert.Equal(t, "retry", d.Events[0].Name)

	_, parsed := tr.Start(context.Background(), "parse", KindInternal)
	parsed.EndWithError(nil)
	assert.Equal(t, StatusOK, parsed.Snapshot().Status)
}

func TestOpenSpanHasNoEnd(t *testing.T) {
	tr := NewTracer("termcore", 10)
	_, s := tr.Start(context.Background(), "run_command", KindServer)

	d := s.Snapshot()
	assert.Empty(t, d.EndTime)
	assert.Zero(t, d.Duration)
	assert.Equal(t, StatusUnset, d.Status)
}

func TestNilTracerIsNoop(t *testing.T) {
	var tr *Tracer
	ctx := context.Background()

	got, span := tr.Start(ctx, "run_command", KindServer)
	assert.Equal(t, ctx, got)
	assert.Nil(t, span)

	span.SetAttribute(AttrSessionID, "x")
	span.AddEvent("e")
	span.EndWithError(errors.New("boom"))
	span.End()
	assert.Empty(t, span.Context().TraceID)
	assert.Nil(t, tr.Recent(5))
	assert.Zero(t, tr.Len())
	tr.Clear()
}

func TestSpanDataJSON(t *testing.T) {
	tr := NewTracer("termcore", 10)
	_, s := tr.Start(context.Background(), "parse", KindInternal)
	s.EndWithError(nil)

	raw, err := json.Marshal(s.Snapshot())
	require.NoError(t, err)

	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	assert.Equal(t, "parse", m["name"])
	assert.Equal(t, "internal", m["kind"])
	assert.Equal(t, "ok", m["status"])
	assert.Equal(t, s.Context().TraceID, m["trace_id"])
	assert.Contains(t, m, "duration_ms")
	assert.Contains(t, m, "end_time")
}
