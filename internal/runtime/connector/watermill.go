package connector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/drblury/eventmesh/internal/runtime/config"
	"github.com/drblury/eventmesh/internal/runtime/envelope"
	errspkg "github.com/drblury/eventmesh/internal/runtime/errors"
	"github.com/drblury/eventmesh/internal/runtime/ids"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
	"github.com/drblury/eventmesh/internal/runtime/metadata"
	"github.com/drblury/eventmesh/transport"
)

const (
	inboundTopicPrefix = "mesh."
	inboundHandlerName = "eventmesh_inbound"

	metadataOrigin = "eventmesh_origin"
	metadataType   = "eventmesh_type"
)

// InboundTopic is the topic a runtime with the given origin consumes.
func InboundTopic(origin string) string {
	return inboundTopicPrefix + origin
}

// WatermillOptions configures a Watermill connector.
type WatermillOptions struct {
	// OutboundTopic receives every payload. Defaults to mesh.outbound.
	OutboundTopic string
	// MaxMessageSize rejects larger payloads; 0 disables the check.
	MaxMessageSize int64
	APIKey         string
	Logger         loggingpkg.ServiceLogger
	// Registerer enables watermill router metrics when set.
	Registerer prometheus.Registerer
}

// Watermill relays payloads through a message broker. Payloads are
// published to the outbound topic and inbound events are consumed from
// mesh.<origin>.
type Watermill struct {
	mesh       Mesh
	publisher  message.Publisher
	subscriber message.Subscriber
	log        loggingpkg.ServiceLogger
	wmLogger   watermill.LoggerAdapter
	registerer prometheus.Registerer

	outbound string
	inbound  string
	maxSize  int64
	apiKey   string

	mu        sync.Mutex
	router    *message.Router
	connected atomic.Bool
	ready     atomic.Bool
	closeOnce sync.Once
}

// NewWatermill wraps a transport built by the transport registry.
func NewWatermill(mesh Mesh, tr transport.Transport, opts WatermillOptions) (*Watermill, error) {
	if mesh == nil {
		return nil, errors.New("connector: mesh is required")
	}
	if tr.Publisher == nil || tr.Subscriber == nil {
		return nil, errors.New("connector: transport needs a publisher and a subscriber")
	}
	if opts.Logger == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	outbound := opts.OutboundTopic
	if outbound == "" {
		outbound = config.DefaultMeshOutboundTopic
	}
	return &Watermill{
		mesh:       mesh,
		publisher:  tr.Publisher,
		subscriber: tr.Subscriber,
		log:        opts.Logger.With(loggingpkg.LogFields{"connector": "watermill"}),
		wmLogger:   loggingpkg.NewWatermillAdapter(opts.Logger),
		registerer: opts.Registerer,
		outbound:   outbound,
		inbound:    InboundTopic(mesh.Origin()),
		maxSize:    opts.MaxMessageSize,
		apiKey:     opts.APIKey,
	}, nil
}

func (w *Watermill) IsConnected() bool { return w.connected.Load() }

func (w *Watermill) IsReady() bool { return w.ready.Load() }

// Start runs the inbound router until ctx ends, then logs in and
// advertises the public routes.
func (w *Watermill) Start(ctx context.Context) error {
	router, err := message.NewRouter(message.RouterConfig{}, w.wmLogger)
	if err != nil {
		return fmt.Errorf("connector: create router: %w", err)
	}
	router.AddMiddleware(middleware.CorrelationID, middleware.Recoverer)
	if w.registerer != nil {
		metrics.NewPrometheusMetricsBuilder(w.registerer, "eventmesh", "connector").AddPrometheusRouterMetrics(router)
	}
	router.AddNoPublisherHandler(inboundHandlerName, w.inbound, w.subscriber, w.handle)

	w.mu.Lock()
	w.router = router
	w.mu.Unlock()

	go func() {
		if err := router.Run(ctx); err != nil {
			w.log.Error("Connector router stopped", err, nil)
		}
		w.connected.Store(false)
		w.ready.Store(false)
	}()

	select {
	case <-router.Running():
	case <-ctx.Done():
		return ctx.Err()
	}
	w.connected.Store(true)
	w.log.Info("Connected", loggingpkg.LogFields{"inbound": w.inbound, "outbound": w.outbound})

	if err := Advertise(ctx, w, w.mesh, w.apiKey); err != nil {
		return err
	}
	w.ready.Store(true)
	return nil
}

func (w *Watermill) handle(msg *message.Message) error {
	payload, err := Decode(msg.Payload)
	if err != nil {
		w.log.Error("Dropping undecodable payload", err, loggingpkg.LogFields{"message_uuid": msg.UUID})
		return nil
	}
	if err := Deliver(msg.Context(), w.mesh, w.log, payload); err != nil {
		w.log.Warn("Inbound event dropped", loggingpkg.LogFields{"message_uuid": msg.UUID, "error": err.Error()})
	}
	return nil
}

// SendPayload publishes payload to the outbound topic.
func (w *Watermill) SendPayload(ctx context.Context, payload map[string]any) error {
	if !w.IsConnected() {
		return errspkg.ErrNotConnected
	}
	data, err := Encode(payload)
	if err != nil {
		return err
	}
	if w.maxSize > 0 && int64(len(data)) > w.maxSize {
		return fmt.Errorf("%w: %d > %d bytes", errspkg.ErrPayloadTooLarge, len(data), w.maxSize)
	}

	msg := message.NewMessage(ids.CreateULID(), data)
	msg.Metadata = metadata.ToWatermill(metadata.New(
		metadataOrigin, w.mesh.Origin(),
		metadataType, metadata.Stringify(payload[KeyType]),
	))
	if evt, ok := payload[KeyEvent].(map[string]any); ok {
		if cid := metadata.Stringify(evt[envelope.KeyCID]); cid != "" {
			middleware.SetCorrelationID(cid, msg)
		}
	}
	msg.SetContext(ctx)

	if err := w.publisher.Publish(w.outbound, msg); err != nil {
		return fmt.Errorf("connector: publish to %s: %w", w.outbound, err)
	}
	return nil
}

// Close stops the router and closes the transport.
func (w *Watermill) Close() error {
	var errs []error
	w.closeOnce.Do(func() {
		w.ready.Store(false)
		w.connected.Store(false)

		w.mu.Lock()
		router := w.router
		w.mu.Unlock()
		if router != nil {
			errs = append(errs, router.Close())
		}
		errs = append(errs, w.publisher.Close())
		if any(w.subscriber) != any(w.publisher) {
			errs = append(errs, w.subscriber.Close())
		}
	})
	return errors.Join(errs...)
}
