package runtime

import (
	"context"
	"sync"
	"time"
)

const traceTimeLayout = "2006-01-02T15:04:05.000Z"

// TraceInfo is the trace state of one execution. Every execution gets one so
// functions can always annotate; a record is only emitted when both id and
// path are set.
type TraceInfo struct {
	route string
	id    string
	path  string
	start time.Time

	mu          sync.Mutex
	annotations map[string]string
}

func newTraceInfo(route, id, path string) *TraceInfo {
	return &TraceInfo{
		route:       route,
		id:          id,
		path:        path,
		start:       time.Now().UTC(),
		annotations: make(map[string]string),
	}
}

func (t *TraceInfo) Route() string { return t.route }
func (t *TraceInfo) ID() string    { return t.id }
func (t *TraceInfo) Path() string  { return t.path }

// StartTime is the ISO-8601 UTC start time with milliseconds.
func (t *TraceInfo) StartTime() string {
	return t.start.Format(traceTimeLayout)
}

func (t *TraceInfo) Annotate(key, value string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.annotations[key] = value
}

// Annotations returns a copy.
func (t *TraceInfo) Annotations() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.annotations))
	for k, v := range t.annotations {
		out[k] = v
	}
	return out
}

func (t *TraceInfo) emittable() bool {
	return t != nil && t.id != "" && t.path != ""
}

type traceKey struct{}

func withTrace(ctx context.Context, t *TraceInfo) context.Context {
	return context.WithValue(ctx, traceKey{}, t)
}

// withoutTrace hides any trace of ctx from events sent with it.
func withoutTrace(ctx context.Context) context.Context {
	return context.WithValue(ctx, traceKey{}, (*TraceInfo)(nil))
}

// TraceFromContext returns the trace of the running execution, or nil.
func TraceFromContext(ctx context.Context) *TraceInfo {
	if ctx == nil {
		return nil
	}
	t, _ := ctx.Value(traceKey{}).(*TraceInfo)
	return t
}

// Annotate adds a key/value to the trace of the running execution. It is a
// no-op outside of a worker.
func Annotate(ctx context.Context, key, value string) {
	if t := TraceFromContext(ctx); t != nil {
		t.Annotate(key, value)
	}
}
