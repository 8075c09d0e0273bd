package runtime

import (
	"context"
	"time"

	"github.com/drblury/eventmesh/internal/runtime/envelope"
)

func newEvent(route string, headers map[string]string, body any) *envelope.Envelope {
	evt := envelope.New().SetTo(route).SetBody(body)
	if len(headers) > 0 {
		evt.SetHeaders(headers)
	}
	return evt
}

// Send builds an event and sends it without waiting for a reply.
func (p *Platform) Send(ctx context.Context, route string, headers map[string]string, body any) error {
	return p.SendEvent(ctx, newEvent(route, headers, body))
}

// SendLater builds an event and delivers it after delay.
func (p *Platform) SendLater(ctx context.Context, route string, headers map[string]string, body any, delay time.Duration) error {
	return p.SendEventLater(ctx, newEvent(route, headers, body), delay)
}

// Call builds an event and waits for its reply.
func (p *Platform) Call(ctx context.Context, route string, timeout time.Duration, headers map[string]string, body any) (*envelope.Envelope, error) {
	return p.Request(ctx, newEvent(route, headers, body), timeout)
}
