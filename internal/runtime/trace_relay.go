package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/drblury/eventmesh/internal/runtime/envelope"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
)

// DistributedTracingRoute receives a record for every traced execution.
const DistributedTracingRoute = "distributed.tracing"

const processorCheckInterval = 5 * time.Second

// traceRelay logs trace records and forwards them to the configured trace
// processor when it is reachable.
type traceRelay struct {
	p *Platform

	mu        sync.Mutex
	checkedAt time.Time
	reachable bool
}

func newTraceRelay(p *Platform) *traceRelay {
	return &traceRelay{p: p}
}

func (r *traceRelay) handle(ctx context.Context, headers map[string]string, body any) (any, error) {
	r.p.log.Info("trace", loggingpkg.LogFields{
		"trace":       headers,
		"annotations": body,
	})

	processor := r.p.conf.TraceProcessor
	if processor == "" || !r.processorReachable(ctx, processor) {
		return nil, nil
	}
	evt := envelope.New().SetTo(processor).SetHeaders(headers).SetBody(body)
	if err := r.p.SendEvent(withoutTrace(ctx), evt); err != nil {
		r.p.log.Warn("Unable to relay trace", loggingpkg.LogFields{
			"processor": processor,
			"error":     err.Error(),
		})
	}
	return nil, nil
}

// processorReachable caches the lookup for processorCheckInterval.
func (r *traceRelay) processorReachable(ctx context.Context, processor string) bool {
	if r.p.HasRoute(processor) {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.checkedAt.IsZero() && time.Since(r.checkedAt) < processorCheckInterval {
		return r.reachable
	}
	found, err := r.p.Exists(ctx, processor)
	if err != nil {
		r.p.log.Debug("Trace processor lookup failed", loggingpkg.LogFields{"processor": processor, "error": err.Error()})
	}
	r.checkedAt = time.Now()
	r.reachable = found
	return found
}
