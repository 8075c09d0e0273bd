package runtime

import (
	"context"
	"time"

	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
)

// JobContext describes one worker execution to hooks.
type JobContext struct {
	// Route is the route being executed.
	Route string
	// Instance is the worker instance number, starting at 1.
	Instance int
	// EventID is the id of the inbound envelope.
	EventID string
	// CorrelationID is copied from the inbound envelope.
	CorrelationID string
	// Context is the execution context, carrying the TraceInfo.
	Context context.Context
	// StartedAt is when the function was called.
	StartedAt time.Time
	// Duration is only set in OnJobDone and OnJobError.
	Duration time.Duration
	// Status is the response status, 200 on success.
	Status int
}

// JobHooks defines callbacks for the execution lifecycle. Nil hooks are
// skipped.
type JobHooks struct {
	OnJobStart func(ctx JobContext)
	OnJobDone  func(ctx JobContext)
	// OnJobError receives the error returned by, or recovered from, the
	// function.
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks. The hooks from other run after the hooks
// from h.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h JobHooks) start(ctx JobContext) {
	if h.OnJobStart != nil {
		h.OnJobStart(ctx)
	}
}

func (h JobHooks) finish(ctx JobContext, err error) {
	if err != nil {
		if h.OnJobError != nil {
			h.OnJobError(ctx, err)
		}
		return
	}
	if h.OnJobDone != nil {
		h.OnJobDone(ctx)
	}
}

// LoggingHooks returns hooks that log every execution at debug level and
// failures at error level.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	return JobHooks{
		OnJobStart: func(ctx JobContext) {
			logger.Debug("Job started", loggingpkg.LogFields{
				"route":    ctx.Route,
				"instance": ctx.Instance,
				"event_id": ctx.EventID,
			})
		},
		OnJobDone: func(ctx JobContext) {
			logger.Debug("Job completed", loggingpkg.LogFields{
				"route":       ctx.Route,
				"instance":    ctx.Instance,
				"event_id":    ctx.EventID,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnJobError: func(ctx JobContext, err error) {
			logger.Error("Job failed", err, loggingpkg.LogFields{
				"route":       ctx.Route,
				"instance":    ctx.Instance,
				"event_id":    ctx.EventID,
				"status":      ctx.Status,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// AlertingHooks returns hooks that call alertFunc for failed executions.
func AlertingHooks(alertFunc func(ctx JobContext, err error)) JobHooks {
	return JobHooks{
		OnJobError: alertFunc,
	}
}
