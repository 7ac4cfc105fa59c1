// Package tracing records in-memory spans for command handling. A run_command
// span started by the tool layer is the parent of the dispatcher's parse and
// dispatch spans; the parent travels in the context.
package tracing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SpanContext identifies a span within its trace
type SpanContext struct {
	TraceID  string `json:"trace_id"`
	SpanID   string `json:"span_id"`
	ParentID string `json:"parent_id,omitempty"`
}

// Kind says which side of a call a span covers
type Kind string

const (
	KindInternal Kind = "internal"
	KindServer   Kind = "server"
	KindClient   Kind = "client"
)

// Status is the outcome of a span
type Status string

const (
	StatusUnset Status = "unset"
	StatusOK    Status = "ok"
	StatusError Status = "error"
)

// Attribute is one key/value pair on a span or event
type Attribute struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
}

// Event is a timestamped annotation on a span
type Event struct {
	Name       string      `json:"name"`
	Time       string      `json:"time"`
	Attributes []Attribute `json:"attributes,omitempty"`
}

// Span is one timed operation. All methods are safe on a nil *Span, which is
// what a nil *Tracer hands out.
type Span struct {
	mu sync.Mutex

	context    SpanContext
	name       string
	kind       Kind
	start      time.Time
	end        time.Time
	status     Status
	statusMsg  string
	attributes []Attribute
	events     []Event
}

// SpanData is a point-in-time copy of a span. Times are RFC 3339 with
// nanoseconds; EndTime is empty while the span is open.
type SpanData struct {
	SpanContext
	Name       string        `json:"name"`
	Kind       Kind          `json:"kind"`
	StartTime  string        `json:"start_time"`
	EndTime    string        `json:"end_time,omitempty"`
	Duration   time.Duration `json:"-"`
	DurationMs float64       `json:"duration_ms"`
	Status     Status        `json:"status"`
	StatusMsg  string        `json:"status_message,omitempty"`
	Attributes []Attribute   `json:"attributes,omitempty"`
	Events     []Event       `json:"events,omitempty"`
}

// SetAttribute sets key, replacing an earlier value
func (s *Span) SetAttribute(key string, value interface{}) *Span {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.attributes {
		if s.attributes[i].Key == key {
			s.attributes[i].Value = value
			return s
		}
	}
	s.attributes = append(s.attributes, Attribute{Key: key, Value: value})
	return s
}

// AddEvent appends a named event stamped with the current time
func (s *Span) AddEvent(name string, attrs ...Attribute) *Span {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, Event{Name: name, Time: time.Now().Format(time.RFC3339Nano), Attributes: attrs})
	return s
}

// SetStatus records the outcome
func (s *Span) SetStatus(code Status, msg string) *Span {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = code
	s.statusMsg = msg
	return s
}

// EndWithError sets the status from err and ends the span
func (s *Span) EndWithError(err error) {
	if s == nil {
		return
	}
	if err != nil {
		s.SetStatus(StatusError, err.Error())
	} else {
		s.mu.Lock()
		if s.status == StatusUnset {
			s.status = StatusOK
		}
		s.mu.Unlock()
	}
	s.End()
}

// End stamps the end time. Later calls are ignored.
func (s *Span) End() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.end.IsZero() {
		s.end = time.Now()
	}
}

// Context returns the span's identifiers
func (s *Span) Context() SpanContext {
	if s == nil {
		return SpanContext{}
	}
	return s.context
}

// Name returns the operation name
func (s *Span) Name() string {
	if s == nil {
		return ""
	}
	return s.name
}

// Snapshot copies the span's current state
func (s *Span) Snapshot() SpanData {
	s.mu.Lock()
	defer s.mu.Unlock()

	d := SpanData{
		SpanContext: s.context,
		Name:        s.name,
		Kind:        s.kind,
		StartTime:   s.start.Format(time.RFC3339Nano),
		Status:      s.status,
		StatusMsg:   s.statusMsg,
		Attributes:  append([]Attribute(nil), s.attributes...),
		Events:      append([]Event(nil), s.events...),
	}
	if !s.end.IsZero() {
		d.EndTime = s.end.Format(time.RFC3339Nano)
		d.Duration = s.end.Sub(s.start)
		d.DurationMs = float64(d.Duration) / float64(time.Millisecond)
	}
	return d
}

type spanKey struct{}

// ContextWithSpan returns ctx carrying span as the parent of later spans
func ContextWithSpan(ctx context.Context, span *Span) context.Context {
	return context.WithValue(ctx, spanKey{}, span)
}

// SpanFromContext returns the span carried by ctx, or nil
func SpanFromContext(ctx context.Context) *Span {
	span, _ := ctx.Value(spanKey{}).(*Span)
	return span
}

// Tracer hands out spans and keeps the most recent ones in a ring
type Tracer struct {
	service string

	mu    sync.RWMutex
	spans []*Span
	next  int
	full  bool
}

// DefaultMaxSpans bounds the ring when NewTracer is given a non-positive size
const DefaultMaxSpans = 1000

// NewTracer creates a tracer that keeps the last maxSpans spans
func NewTracer(service string, maxSpans int) *Tracer {
	if maxSpans <= 0 {
		maxSpans = DefaultMaxSpans
	}
	return &Tracer{service: service, spans: make([]*Span, maxSpans)}
}

// Start begins a span named name. When ctx carries a span the new one joins
// its trace as a child. The returned context carries the new span. On a nil
// Tracer it returns ctx unchanged and a nil span.
func (t *Tracer) Start(ctx context.Context, name string, kind Kind) (context.Context, *Span) {
	if t == nil {
		return ctx, nil
	}

	sc := SpanContext{TraceID: newTraceID(), SpanID: newSpanID()}
	if parent := SpanFromContext(ctx); parent != nil {
		sc.TraceID = parent.context.TraceID
		sc.ParentID = parent.context.SpanID
	}

	span := &Span{
		context:    sc,
		name:       name,
		kind:       kind,
		start:      time.Now(),
		status:     StatusUnset,
		attributes: []Attribute{{Key: AttrServiceName, Value: t.service}},
	}

	t.mu.Lock()
	t.spans[t.next] = span
	t.next = (t.next + 1) % len(t.spans)
	if t.next == 0 {
		t.full = true
	}
	t.mu.Unlock()

	return ContextWithSpan(ctx, span), span
}

// Recent returns up to limit of the newest spans, oldest first. limit <= 0
// returns everything kept.
func (t *Tracer) Recent(limit int) []SpanData {
	if t == nil {
		return nil
	}

	t.mu.RLock()
	var ordered []*Span
	if t.full {
		ordered = append(ordered, t.spans[t.next:]...)
	}
	ordered = append(ordered, t.spans[:t.next]...)
	t.mu.RUnlock()

	if limit > 0 && limit < len(ordered) {
		ordered = ordered[len(ordered)-limit:]
	}
	out := make([]SpanData, 0, len(ordered))
	for _, s := range ordered {
		out = append(out, s.Snapshot())
	}
	return out
}

// Trace returns the kept spans of one trace, oldest first
func (t *Tracer) Trace(traceID string) []SpanData {
	var out []SpanData
	for _, d := range t.Recent(0) {
		if d.TraceID == traceID {
			out = append(out, d)
		}
	}
	return out
}

// Len returns the number of kept spans
func (t *Tracer) Len() int {
	if t == nil {
		return 0
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.full {
		return len(t.spans)
	}
	return t.next
}

// Clear forgets every kept span
func (t *Tracer) Clear() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.spans {
		t.spans[i] = nil
	}
	t.next = 0
	t.full = false
}

func newTraceID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:])
}

func newSpanID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:8])
}

// Attribute keys set by the tool and dispatch layers
const (
	AttrServiceName = "service.name"
	AttrSessionID   = "session.id"
	AttrCommand     = "command.text"
	AttrCommandName = "command.name"
	AttrCommandKind = "command.kind"
	AttrWorkingDir  = "working.directory"
	AttrErrorCode   = "error.code"
)
