package runtime

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/drblury/eventmesh/internal/runtime/envelope"
	errspkg "github.com/drblury/eventmesh/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
)

const tracerName = "eventmesh"

// worker executes one event at a time for a route instance.
type worker struct {
	sq       *serviceQueue
	instance int
	input    chan map[string]any
}

func newWorker(sq *serviceQueue, instance int) *worker {
	return &worker{
		sq:       sq,
		instance: instance,
		input:    make(chan map[string]any, 1),
	}
}

func (w *worker) run() {
	defer w.sq.p.workers.Done()
	for item := range w.input {
		w.handle(item)
	}
}

func (w *worker) handle(item map[string]any) {
	sq, p := w.sq, w.sq.p
	defer sq.markReady(w.instance)

	if err := p.pool.Acquire(p.ctx, 1); err != nil {
		sq.log.Warn("Event dropped because platform is stopping", loggingpkg.LogFields{"event_id": item[envelope.KeyID]})
		return
	}
	defer p.pool.Release(1)

	evt := envelope.FromMap(item)
	trace := newTraceInfo(sq.route, evt.TraceID(), evt.TracePath())
	ctx := withTrace(p.ctx, trace)
	if sq.untraced {
		ctx = withoutTrace(p.ctx)
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, sq.route,
		oteltrace.WithSpanKind(oteltrace.SpanKindConsumer),
		oteltrace.WithAttributes(
			attribute.String("eventmesh.event_id", evt.ID()),
			attribute.Int("eventmesh.instance", w.instance),
		),
	)

	job := JobContext{
		Route:         sq.route,
		Instance:      w.instance,
		EventID:       evt.ID(),
		CorrelationID: evt.CorrelationID(),
		Context:       ctx,
		StartedAt:     time.Now(),
	}
	if sq.observed {
		p.hooks.start(job)
	}
	sq.stats.onStart()

	result, err := w.execute(ctx, evt)
	elapsed := time.Since(job.StartedAt)
	status := errspkg.StatusOf(err)

	sq.stats.onFinish(elapsed, status, err)
	if sq.observed {
		job.Duration = elapsed
		job.Status = status
		p.hooks.finish(job, err)
		p.metrics.recordExecution(sq.route, elapsed.Seconds(), err != nil)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, errspkg.MessageOf(err))
	}
	span.SetAttributes(attribute.Int("eventmesh.status", status))
	span.End()

	execMs := float64(elapsed) / float64(time.Millisecond)
	if err != nil && evt.ReplyTo() == "" {
		sq.log.Warn(fmt.Sprintf("Unhandled exception for %s - code=%d, message=%s", sq.route, status, errspkg.MessageOf(err)), nil)
	}
	if evt.ReplyTo() != "" && (sq.fn.Kind() != KindInterceptor || err != nil) {
		w.reply(ctx, evt, result, err, status, execMs)
	}
	if !sq.untraced && trace.emittable() {
		w.emitTrace(trace, err, status, execMs)
	}
}

// execute calls the function and turns a panic into a 500 error.
func (w *worker) execute(ctx context.Context, evt *envelope.Envelope) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errspkg.NewAppError(500, fmt.Sprint(r))
		}
	}()
	return w.sq.fn.call(ctx, evt, w.instance)
}

func (w *worker) reply(ctx context.Context, evt *envelope.Envelope, result any, err error, status int, execMs float64) {
	sq := w.sq
	resp := envelope.New().
		SetTo(evt.ReplyRoute()).
		SetFrom(sq.route).
		SetExtra(evt.Extra()).
		SetCorrelationID(evt.CorrelationID())
	if evt.TraceID() != "" && evt.TracePath() != "" {
		resp.SetTrace(evt.TraceID(), evt.TracePath())
	}

	if err != nil {
		resp.SetStatus(status).SetBody(errspkg.MessageOf(err)).AddTag("exception", "")
	} else {
		resp.SetExecTime(execMs)
		if out, ok := result.(*envelope.Envelope); ok && out != nil {
			resp.SetHeaders(out.Headers()).SetBody(out.Body()).SetStatus(out.Status())
		} else {
			resp.SetBody(result)
		}
	}

	if sendErr := sq.p.SendEvent(ctx, resp); sendErr != nil {
		sq.log.Warn("Event dropped because "+sendErr.Error(), loggingpkg.LogFields{"reply_to": evt.ReplyRoute()})
	}
}

func (w *worker) emitTrace(trace *TraceInfo, err error, status int, execMs float64) {
	sq := w.sq
	headers := map[string]string{
		"origin":  sq.p.origin,
		"id":      trace.ID(),
		"path":    trace.Path(),
		"service": sq.route,
		"start":   trace.StartTime(),
	}
	if err != nil {
		headers["success"] = "false"
		headers["status"] = strconv.Itoa(status)
		headers["exception"] = errspkg.MessageOf(err)
	} else {
		headers["success"] = "true"
		headers["exec_time"] = strconv.FormatFloat(roundMillis(execMs), 'f', -1, 64)
	}

	record := envelope.New().
		SetTo(DistributedTracingRoute).
		SetHeaders(headers).
		SetBody(trace.Annotations())
	if sendErr := sq.p.SendEvent(withoutTrace(sq.p.ctx), record); sendErr != nil {
		sq.log.Debug("Trace dropped", loggingpkg.LogFields{"error": sendErr.Error()})
	}
}

func roundMillis(ms float64) float64 {
	return float64(int64(ms*1000+0.5)) / 1000
}
