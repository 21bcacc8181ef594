package core

import (
	"context"
	"encoding/json"
	"expvar"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var expvarSeq atomic.Uint64

// ExpvarMetricsRecorder publishes per-operation counters through expvar.
//
// The published value is a map keyed by operation; each entry holds
// "success", "error" and "duration_ms" totals.
type ExpvarMetricsRecorder struct {
	name string
	ops  *expvar.Map

	mu      sync.Mutex
	entries map[string]*opVars
}

type opVars struct {
	vars     *expvar.Map
	success  *expvar.Int
	failure  *expvar.Int
	duration *expvar.Float
}

// NewExpvarMetricsRecorder publishes a recorder under name. An empty name is
// replaced by a unique one.
func NewExpvarMetricsRecorder(name string) *ExpvarMetricsRecorder {
	if name == "" {
		name = fmt.Sprintf("workpump_service_metrics_%d", expvarSeq.Add(1))
	}
	return &ExpvarMetricsRecorder{
		name:    name,
		ops:     expvar.NewMap(name),
		entries: make(map[string]*opVars),
	}
}

// Name returns the expvar name of the recorder.
func (r *ExpvarMetricsRecorder) Name() string {
	return r.name
}

// Observe implements MetricsRecorder.
func (r *ExpvarMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	if operation == "" {
		return
	}
	v := r.vars(operation)
	if success {
		v.success.Add(1)
	} else {
		v.failure.Add(1)
	}
	v.duration.Add(float64(duration) / float64(time.Millisecond))
}

func (r *ExpvarMetricsRecorder) vars(operation string) *opVars {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.entries[operation]; ok {
		return v
	}
	v := &opVars{
		vars:     new(expvar.Map),
		success:  new(expvar.Int),
		failure:  new(expvar.Int),
		duration: new(expvar.Float),
	}
	v.vars.Set("success", v.success)
	v.vars.Set("error", v.failure)
	v.vars.Set("duration_ms", v.duration)
	r.entries[operation] = v
	r.ops.Set(operation, v.vars)
	return v
}

// OperationStats is the aggregate for one operation.
type OperationStats struct {
	Success    int64   `json:"success"`
	Error      int64   `json:"error"`
	DurationMS float64 `json:"duration_ms"`
}

// Snapshot returns a copy of the current totals keyed by operation.
func (r *ExpvarMetricsRecorder) Snapshot() map[string]OperationStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]OperationStats, len(r.entries))
	for op, v := range r.entries {
		out[op] = OperationStats{
			Success:    v.success.Value(),
			Error:      v.failure.Value(),
			DurationMS: v.duration.Value(),
		}
	}
	return out
}

// JSONTraceEntry is one finished span written by JSONTraceTracer.
type JSONTraceEntry struct {
	Operation  string    `json:"operation"`
	Status     string    `json:"status"`
	DurationMS float64   `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
}

// JSONTraceTracer writes finished spans as JSON lines and keeps them for
// inspection.
type JSONTraceTracer struct {
	mu      sync.Mutex
	entries []JSONTraceEntry
	enc     *json.Encoder
	now     func() time.Time
}

// NewJSONTracer returns a tracer writing to w. A nil writer only retains spans.
func NewJSONTracer(w io.Writer) *JSONTraceTracer {
	t := &JSONTraceTracer{now: func() time.Time { return time.Now().UTC() }}
	if w != nil {
		t.enc = json.NewEncoder(w)
	}
	return t
}

// Entries returns a copy of every finished span.
func (t *JSONTraceTracer) Entries() []JSONTraceEntry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]JSONTraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Start implements Tracer.
func (t *JSONTraceTracer) Start(ctx context.Context, operation string) (context.Context, TraceSpan) {
	return ctx, &jsonTraceSpan{tracer: t, operation: operation, started: t.now()}
}

type jsonTraceSpan struct {
	tracer    *JSONTraceTracer
	operation string
	started   time.Time
	once      sync.Once
}

func (s *jsonTraceSpan) End(err error) {
	s.once.Do(func() { s.tracer.finish(s, err) })
}

func (t *JSONTraceTracer) finish(s *jsonTraceSpan, err error) {
	ended := t.now()
	entry := JSONTraceEntry{
		Operation:  s.operation,
		Status:     "success",
		DurationMS: float64(ended.Sub(s.started)) / float64(time.Millisecond),
		StartedAt:  s.started,
		EndedAt:    ended,
	}
	if err != nil {
		entry.Status = "error"
		entry.Error = err.Error()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, entry)
	if t.enc != nil {
		_ = t.enc.Encode(entry)
	}
}
