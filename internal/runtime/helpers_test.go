package runtime

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/eventmesh/internal/runtime/config"
	"github.com/drblury/eventmesh/internal/runtime/connector"
	"github.com/drblury/eventmesh/internal/runtime/envelope"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *syncBuffer) Count(s string) int {
	return strings.Count(b.String(), s)
}

type testPlatform struct {
	*Platform
	logs *syncBuffer
}

func newTestPlatform(t *testing.T, mutate func(*configpkg.Config), deps Dependencies) *testPlatform {
	t.Helper()
	conf := &configpkg.Config{
		WorkDir:    t.TempDir(),
		MaxWorkers: 50,
		LogLevel:   "debug",
	}
	if mutate != nil {
		mutate(conf)
	}
	logs := &syncBuffer{}
	p, err := NewPlatform(conf, newLogger(logs), deps)
	require.NoError(t, err)
	t.Cleanup(p.Stop)
	return &testPlatform{Platform: p, logs: logs}
}

func newLogger(w io.Writer) loggingpkg.ServiceLogger {
	return loggingpkg.NewTextServiceLogger(w, "debug")
}

func echo(_ context.Context, headers map[string]string, body any, _ int) (any, error) {
	return envelope.New().SetHeaders(headers).SetBody(body), nil
}

// fakeConnector stands in for a gateway. Events sent to it are recorded and
// passed to onEvent.
type fakeConnector struct {
	mu        sync.Mutex
	connected bool
	ready     bool
	payloads  []map[string]any
	onEvent   func(evt *envelope.Envelope)
	started   int
	closed    int
}

func newFakeConnector() *fakeConnector {
	return &fakeConnector{connected: true, ready: true}
}

func (c *fakeConnector) builder() ConnectorBuilder {
	return func(connector.Mesh) (connector.Connector, error) { return c, nil }
}

func (c *fakeConnector) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConnector) IsReady() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *fakeConnector) Start(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started++
	return nil
}

func (c *fakeConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	c.connected, c.ready = false, false
	return nil
}

func (c *fakeConnector) SendPayload(_ context.Context, payload map[string]any) error {
	c.mu.Lock()
	c.payloads = append(c.payloads, payload)
	onEvent := c.onEvent
	c.mu.Unlock()

	if payload[connector.KeyType] == connector.PayloadEvent && onEvent != nil {
		evt := envelope.FromMap(payload[connector.KeyEvent].(map[string]any))
		go onEvent(evt)
	}
	return nil
}

func (c *fakeConnector) sent(kind string) []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, p := range c.payloads {
		if p[connector.KeyType] == kind {
			out = append(out, p)
		}
	}
	return out
}

func receive[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for value")
		var zero T
		return zero
	}
}
