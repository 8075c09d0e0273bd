package runtime

import (
	"context"
	"time"

	"github.com/drblury/eventmesh/internal/runtime/envelope"
	"github.com/drblury/eventmesh/internal/runtime/ids"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
)

// inbox is a temporary private route collecting the replies of one request.
type inbox struct {
	p       *Platform
	route   string
	begin   time.Time
	replies chan *envelope.Envelope
}

func newInbox(p *Platform, capacity int) (*inbox, error) {
	ib := &inbox{
		p:       p,
		route:   ids.CreateInboxRoute(),
		begin:   time.Now(),
		replies: make(chan *envelope.Envelope, capacity),
	}
	if err := p.Register(ib.route, Interceptor(ib.receive), 1, true); err != nil {
		return nil, err
	}
	return ib, nil
}

func (ib *inbox) receive(_ context.Context, evt *envelope.Envelope) error {
	evt.SetRoundTrip(float64(time.Since(ib.begin)) / float64(time.Millisecond))
	select {
	case ib.replies <- evt:
	default:
		ib.p.log.Debug("Reply discarded", loggingpkg.LogFields{"inbox": ib.route, "from": evt.From()})
	}
	return nil
}

func (ib *inbox) close() {
	// a stopped platform already released every route
	_ = ib.p.Release(ib.route)
}
