package observability

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"kvorm/pkg/orm"
)

// DefaultSpanRetention bounds the spans a JSONTracer keeps in memory.
const DefaultSpanRetention = 1024

// Span is one finished operation as written by JSONTracer.
type Span struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTracer writes finished spans as JSON lines and retains the most recent
// ones for inspection. It satisfies orm.Tracer.
type JSONTracer struct {
	mu     sync.Mutex
	spans  []Span
	keep   int
	enc    *json.Encoder
	now    func() time.Time
	encErr error
}

// NewJSONTracer returns a tracer writing to w. A nil w only retains spans.
func NewJSONTracer(w io.Writer) *JSONTracer {
	t := &JSONTracer{keep: DefaultSpanRetention, now: time.Now}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Spans returns a copy of the retained spans, oldest first.
func (t *JSONTracer) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Span, len(t.spans))
	copy(out, t.spans)
	return out
}

// Err returns the first error hit while writing spans.
func (t *JSONTracer) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.encErr
}

// Start implements orm.Tracer.
func (t *JSONTracer) Start(ctx context.Context, operation string) (context.Context, orm.TraceSpan) {
	return ctx, &jsonSpan{tracer: t, operation: operation, started: t.now().UTC()}
}

func (t *JSONTracer) finish(s Span) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.spans) == t.keep {
		t.spans = append(t.spans[:0], t.spans[1:]...)
	}
	t.spans = append(t.spans, s)
	if t.enc != nil {
		if err := t.enc.Encode(s); err != nil && t.encErr == nil {
			t.encErr = err
		}
	}
}

type jsonSpan struct {
	tracer    *JSONTracer
	operation string
	started   time.Time
}

func (s *jsonSpan) End(err error) {
	ended := s.tracer.now().UTC()
	span := Span{
		Operation:  s.operation,
		Status:     status(err == nil),
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	if err != nil {
		span.Error = err.Error()
	}
	s.tracer.finish(span)
}
