package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	errspkg "github.com/drblury/eventmesh/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
)

const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultKeepAlive      = 30 * time.Second

	keepAliveLayout = "2006-01-02T15:04:05.000Z"
	writeTimeout    = 10 * time.Second
)

// WebsocketOptions configures a Websocket connector.
type WebsocketOptions struct {
	URL            string
	APIKey         string
	Logger         loggingpkg.ServiceLogger
	ReconnectDelay time.Duration
	// KeepAlive is the idle time after which a text keep-alive is sent.
	KeepAlive time.Duration
	Dialer    *websocket.Dialer
}

// Websocket relays payloads to a gateway over a websocket. Payloads travel
// as binary msgpack frames. The connection is re-established every
// ReconnectDelay until Close is called.
type Websocket struct {
	mesh   Mesh
	log    loggingpkg.ServiceLogger
	url    string
	apiKey string
	dialer *websocket.Dialer

	reconnectDelay time.Duration
	keepAlive      time.Duration

	writeMu    sync.Mutex
	conn       *websocket.Conn
	connected  atomic.Bool
	ready      atomic.Bool
	lastActive atomic.Int64

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewWebsocket(mesh Mesh, opts WebsocketOptions) (*Websocket, error) {
	if mesh == nil {
		return nil, errors.New("connector: mesh is required")
	}
	if opts.URL == "" {
		return nil, errors.New("connector: websocket url is required")
	}
	if opts.Logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	w := &Websocket{
		mesh:           mesh,
		log:            opts.Logger.With(loggingpkg.LogFields{"connector": "websocket"}),
		url:            opts.URL,
		apiKey:         opts.APIKey,
		dialer:         opts.Dialer,
		reconnectDelay: opts.ReconnectDelay,
		keepAlive:      opts.KeepAlive,
		done:           make(chan struct{}),
	}
	if w.dialer == nil {
		w.dialer = websocket.DefaultDialer
	}
	if w.reconnectDelay <= 0 {
		w.reconnectDelay = DefaultReconnectDelay
	}
	if w.keepAlive <= 0 {
		w.keepAlive = DefaultKeepAlive
	}
	return w, nil
}

func (w *Websocket) IsConnected() bool { return w.connected.Load() }

func (w *Websocket) IsReady() bool { return w.ready.Load() }

// Start connects in the background and returns immediately.
func (w *Websocket) Start(ctx context.Context) error {
	w.startOnce.Do(func() {
		ctx, w.cancel = context.WithCancel(ctx)
		go w.run(ctx)
	})
	return nil
}

func (w *Websocket) run(ctx context.Context) {
	defer close(w.done)
	for {
		if err := w.session(ctx); err != nil && ctx.Err() == nil {
			w.log.Warn("Unreachable", loggingpkg.LogFields{"url": w.url, "error": err.Error()})
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.reconnectDelay):
		}
	}
}

func (w *Websocket) session(ctx context.Context) error {
	conn, _, err := w.dialer.DialContext(ctx, w.url, nil)
	if err != nil {
		return err
	}

	w.writeMu.Lock()
	w.conn = conn
	w.writeMu.Unlock()
	w.touch()
	w.connected.Store(true)
	w.log.Info("Connected", loggingpkg.LogFields{"url": w.url})

	sessionCtx, stop := context.WithCancel(ctx)
	defer func() {
		stop()
		w.ready.Store(false)
		w.connected.Store(false)
		w.writeMu.Lock()
		w.conn = nil
		w.writeMu.Unlock()
		_ = conn.Close()
		w.log.Info("Disconnected", loggingpkg.LogFields{"url": w.url})
	}()

	go func() {
		<-sessionCtx.Done()
		w.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second))
		w.writeMu.Unlock()
		_ = conn.Close()
	}()
	go w.keepAliveLoop(sessionCtx)

	if err := Advertise(ctx, w, w.mesh, w.apiKey); err != nil {
		return err
	}
	w.ready.Store(true)
	w.log.Info("Ready", nil)

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		w.touch()
		switch kind {
		case websocket.TextMessage:
			w.log.Debug(string(data), nil)
		case websocket.BinaryMessage:
			payload, err := Decode(data)
			if err != nil {
				w.log.Error("Dropping undecodable payload", err, nil)
				continue
			}
			if err := Deliver(ctx, w.mesh, w.log, payload); err != nil {
				w.log.Warn("Inbound event dropped", loggingpkg.LogFields{"error": err.Error()})
			}
		}
	}
}

func (w *Websocket) keepAliveLoop(ctx context.Context) {
	interval := w.keepAlive / 30
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if now.Sub(time.Unix(0, w.lastActive.Load())) < w.keepAlive {
				continue
			}
			w.touch()
			msg := "Keep-Alive " + now.UTC().Format(keepAliveLayout)
			if err := w.write(websocket.TextMessage, []byte(msg)); err != nil {
				w.log.Debug("Keep-alive failed", loggingpkg.LogFields{"error": err.Error()})
			}
		}
	}
}

func (w *Websocket) touch() {
	w.lastActive.Store(time.Now().UnixNano())
}

// SendPayload writes payload as a binary frame.
func (w *Websocket) SendPayload(_ context.Context, payload map[string]any) error {
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	if err := w.write(websocket.BinaryMessage, data); err != nil {
		return err
	}
	w.touch()
	return nil
}

func (w *Websocket) write(kind int, data []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	if w.conn == nil {
		return errspkg.ErrNotConnected
	}
	if err := w.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	if err := w.conn.WriteMessage(kind, data); err != nil {
		return fmt.Errorf("connector: write to %s: %w", w.url, err)
	}
	return nil
}

// Close ends the current session and stops reconnecting.
func (w *Websocket) Close() error {
	started := false
	w.startOnce.Do(func() { close(w.done) })
	if w.cancel != nil {
		started = true
		w.cancel()
	}
	if started {
		<-w.done
	}
	return nil
}
