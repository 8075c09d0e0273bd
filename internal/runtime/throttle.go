package runtime

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
)

// throttle caps the process-wide outbound event rate. A nil throttle or a
// zero rate lets everything through.
type throttle struct {
	mu      sync.Mutex
	seq     uint64
	limiter *rate.Limiter
	log     loggingpkg.ServiceLogger
}

func newThrottle(eventsPerSecond float64, burst int, log loggingpkg.ServiceLogger) *throttle {
	if eventsPerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = int(eventsPerSecond / 20)
		if burst < 1 {
			burst = 1
		}
	}
	return &throttle{
		limiter: rate.NewLimiter(rate.Limit(eventsPerSecond), burst),
		log:     log,
	}
}

func (t *throttle) regulate(ctx context.Context) error {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	t.seq++
	seq := t.seq
	reservation := t.limiter.Reserve()
	t.mu.Unlock()

	delay := reservation.Delay()
	if delay <= 0 {
		return nil
	}
	t.log.Trace("Reduce rate", loggingpkg.LogFields{
		"delay_ms": delay.Milliseconds(),
		"seq":      seq,
	})

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		reservation.Cancel()
		return ctx.Err()
	}
}
