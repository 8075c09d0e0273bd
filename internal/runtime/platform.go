package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"

	configpkg "github.com/drblury/eventmesh/internal/runtime/config"
	"github.com/drblury/eventmesh/internal/runtime/connector"
	"github.com/drblury/eventmesh/internal/runtime/envelope"
	errspkg "github.com/drblury/eventmesh/internal/runtime/errors"
	"github.com/drblury/eventmesh/internal/runtime/ids"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
)

// ServiceQueryRoute answers route lookups on the mesh.
const ServiceQueryRoute = "system.service.query"

const existsTimeout = 8 * time.Second

// RouteFilter selects routes by visibility.
type RouteFilter int

const (
	RoutesAll RouteFilter = iota
	RoutesPublic
	RoutesPrivate
)

// ConnectorBuilder creates the connector of a platform. The platform passes
// itself as the mesh.
type ConnectorBuilder func(mesh connector.Mesh) (connector.Connector, error)

// Dependencies holds the optional collaborators of a Platform. Leave fields
// nil to use the defaults.
type Dependencies struct {
	// Connector overrides the connector selected by Config.MeshTransport.
	Connector ConnectorBuilder
	Hooks     JobHooks
	// Registerer receives the route metrics. A private registry is used
	// when nil.
	Registerer prometheus.Registerer
	// Gatherer backs the /metrics endpoint. Defaults to Registerer when it
	// is also a Gatherer.
	Gatherer prometheus.Gatherer
}

// Platform hosts routes and moves events between them and the mesh.
type Platform struct {
	conf      *configpkg.Config
	log       loggingpkg.ServiceLogger
	origin    string
	connector connector.Connector
	hooks     JobHooks
	metrics   *RouteMetrics
	gatherer  prometheus.Gatherer
	pool      *semaphore.Weighted
	throttle  *throttle
	queueDir  string
	resources *resourceTracker

	ctx    context.Context
	cancel context.CancelFunc

	loop     *mailbox[func()]
	loopDone chan struct{}

	mu     sync.RWMutex
	routes map[string]*serviceQueue

	workers sync.WaitGroup

	timersMu sync.Mutex
	timers   map[*time.Timer]struct{}

	httpServersMu sync.Mutex
	httpServers   map[int]*httpServer

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool
	done      chan struct{}
}

// NewPlatform validates conf, registers the trace relay and builds the
// connector. Call Start or RunForever to connect to the mesh.
func NewPlatform(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps Dependencies) (*Platform, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	cfg := conf.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}

	registerer, gatherer := deps.Registerer, deps.Gatherer
	if registerer == nil {
		registry := prometheus.NewRegistry()
		registerer = registry
		if gatherer == nil {
			gatherer = registry
		}
	}
	if gatherer == nil {
		if g, ok := registerer.(prometheus.Gatherer); ok {
			gatherer = g
		} else {
			gatherer = prometheus.DefaultGatherer
		}
	}

	origin := ids.CreateOrigin()
	ctx, cancel := context.WithCancel(context.Background())
	p := &Platform{
		conf:      &cfg,
		log:       log,
		origin:    origin,
		hooks:     deps.Hooks,
		metrics:   NewRouteMetrics(registerer),
		gatherer:  gatherer,
		pool:      semaphore.NewWeighted(int64(cfg.MaxWorkers)),
		throttle:  newThrottle(cfg.OutboundRate, cfg.OutboundBurst, log),
		queueDir:  cfg.QueueDir(origin),
		resources: newResourceTracker(),
		ctx:       ctx,
		cancel:    cancel,
		loop:      newMailbox[func()](),
		loopDone:  make(chan struct{}),
		routes:    make(map[string]*serviceQueue),
		timers:    make(map[*time.Timer]struct{}),
		done:      make(chan struct{}),
	}
	if err := p.metrics.Register(); err != nil {
		cancel()
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	go p.runLoop()

	build := deps.Connector
	if build == nil {
		build = func(mesh connector.Mesh) (connector.Connector, error) {
			return connector.FromConfig(ctx, p.conf, mesh, log, registerer)
		}
	}
	c, err := build(p)
	if err != nil {
		p.Stop()
		return nil, err
	}
	p.connector = c

	if err := p.Register(DistributedTracingRoute, Singleton(newTraceRelay(p).handle), 1, true); err != nil {
		p.Stop()
		return nil, err
	}
	p.registerObservability()

	log.Info("Platform created", loggingpkg.LogFields{
		"origin":         origin,
		"mesh_transport": cfg.MeshTransport,
		"max_workers":    cfg.MaxWorkers,
		"config":         cfg,
	})
	return p, nil
}

// Origin is the unique id of this runtime on the mesh.
func (p *Platform) Origin() string { return p.origin }

// Config returns the effective configuration with defaults applied.
func (p *Platform) Config() configpkg.Config { return *p.conf }

// Logger returns the platform logger.
func (p *Platform) Logger() loggingpkg.ServiceLogger { return p.log }

func (p *Platform) runLoop() {
	defer close(p.loopDone)
	for {
		fn := p.loop.take()
		if fn == nil {
			return
		}
		fn()
	}
}

// do runs fn on the loop goroutine and waits for its result.
func (p *Platform) do(fn func() error) error {
	if p.stopped.Load() {
		return errspkg.ErrPlatformStopped
	}
	return p.exec(fn)
}

func (p *Platform) exec(fn func() error) error {
	result := make(chan error, 1)
	if !p.loop.put(func() { result <- fn() }) {
		return errspkg.ErrPlatformStopped
	}
	select {
	case err := <-result:
		return err
	case <-p.loopDone:
		return errspkg.ErrPlatformStopped
	}
}

// Register hosts fn under route. Interceptors and singletons always run a
// single instance. Registering an existing route replaces it.
func (p *Platform) Register(route string, fn Function, instances int, private bool) error {
	if err := ValidateRoute(route); err != nil {
		return err
	}
	if !fn.valid() {
		return errspkg.ErrFunctionRequired
	}
	if fn.Kind() != KindRegular {
		instances = 1
	}
	if instances < 1 || instances > p.conf.MaxWorkers {
		return fmt.Errorf("%w: %d is not within [1, %d]", errspkg.ErrInvalidInstances, instances, p.conf.MaxWorkers)
	}

	return p.do(func() error {
		p.mu.RLock()
		old, exists := p.routes[route]
		p.mu.RUnlock()
		if exists {
			p.log.Warn("Reloading route", loggingpkg.LogFields{"route": route})
			p.removeRoute(old)
			// the new queue reuses the overflow directory
			<-old.done
		}

		sq, err := newServiceQueue(p, route, fn, instances, private)
		if err != nil {
			return err
		}
		p.mu.Lock()
		p.routes[route] = sq
		count := len(p.routes)
		p.mu.Unlock()
		p.metrics.setRoutes(count)

		if !private {
			p.advertise(connector.AddRoutePayload(route))
		}
		sq.started()
		return nil
	})
}

// Release stops a route and discards the events it still holds. It returns
// once the route's overflow queue is removed.
func (p *Platform) Release(route string) error {
	if route == "" {
		return errspkg.ErrRouteRequired
	}
	return p.do(func() error {
		p.mu.RLock()
		sq, ok := p.routes[route]
		p.mu.RUnlock()
		if !ok {
			return errspkg.RouteNotFound(route)
		}
		p.removeRoute(sq)
		<-sq.done
		return nil
	})
}

// removeRoute runs on the loop goroutine.
func (p *Platform) removeRoute(sq *serviceQueue) {
	p.mu.Lock()
	delete(p.routes, sq.route)
	count := len(p.routes)
	p.mu.Unlock()

	p.metrics.setRoutes(count)
	if sq.observed {
		p.metrics.forget(sq.route)
	}
	if !sq.private {
		p.advertise(connector.RemoveRoutePayload(sq.route))
	}
	sq.stop()
}

func (p *Platform) advertise(payload map[string]any) {
	if p.connector == nil || !p.connector.IsReady() {
		return
	}
	if err := p.connector.SendPayload(p.ctx, payload); err != nil {
		p.log.Warn("Unable to advertise route", loggingpkg.LogFields{
			"route": payload[connector.KeyRoute],
			"type":  payload[connector.KeyType],
			"error": err.Error(),
		})
	}
}

// HasRoute reports whether route is hosted by this runtime.
func (p *Platform) HasRoute(route string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.routes[route]
	return ok
}

// Routes lists the hosted routes in sorted order.
func (p *Platform) Routes(filter RouteFilter) []string {
	p.mu.RLock()
	routes := make([]string, 0, len(p.routes))
	for route, sq := range p.routes {
		switch filter {
		case RoutesPublic:
			if sq.private {
				continue
			}
		case RoutesPrivate:
			if !sq.private {
				continue
			}
		}
		routes = append(routes, route)
	}
	p.mu.RUnlock()
	sort.Strings(routes)
	return routes
}

// PublicRoutes lists the routes advertised to the mesh.
func (p *Platform) PublicRoutes() []string {
	return p.Routes(RoutesPublic)
}

// RouteIsPrivate reports whether a hosted route is private. Unknown routes
// report false.
func (p *Platform) RouteIsPrivate(route string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sq, ok := p.routes[route]
	return ok && sq.private
}

// RouteInstances returns the worker count of a route, or 0 when unknown.
func (p *Platform) RouteInstances(route string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if sq, ok := p.routes[route]; ok {
		return sq.instances
	}
	return 0
}

// Stats returns a snapshot of the execution statistics of a route.
func (p *Platform) Stats(route string) (*RouteStats, bool) {
	p.mu.RLock()
	sq, ok := p.routes[route]
	p.mu.RUnlock()
	if !ok {
		return nil, false
	}
	snapshot := sq.stats.Snapshot()
	return &snapshot, true
}

func (p *Platform) lookup(route string) (*serviceQueue, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	sq, ok := p.routes[route]
	return sq, ok
}

func (p *Platform) connected() bool {
	return p.connector != nil && p.connector.IsConnected()
}

// Exists reports whether every route is reachable, asking the mesh for the
// ones not hosted locally.
func (p *Platform) Exists(ctx context.Context, routes ...string) (bool, error) {
	if len(routes) == 0 {
		return false, nil
	}
	var remote []string
	for _, route := range routes {
		if !p.HasRoute(route) {
			remote = append(remote, route)
		}
	}
	if len(remote) == 0 {
		return true, nil
	}
	if p.connector == nil || !p.connector.IsReady() {
		return false, nil
	}

	query := envelope.New().SetTo(ServiceQueryRoute).SetHeader("type", "find")
	if len(routes) == 1 {
		query.SetHeader("route", routes[0])
	} else {
		query.SetHeader("route", "*").SetBody(routes)
	}
	reply, err := p.Request(ctx, query, existsTimeout)
	if err != nil {
		return false, err
	}
	found, _ := reply.Body().(bool)
	return found, nil
}

// SendEvent delivers evt to a local route, or to the mesh when the route is
// not hosted here.
func (p *Platform) SendEvent(ctx context.Context, evt *envelope.Envelope) error {
	return p.dispatch(ctx, evt)
}

// Broadcast delivers evt to every instance of the route on the mesh.
func (p *Platform) Broadcast(ctx context.Context, evt *envelope.Envelope) error {
	evt.SetBroadcast(true)
	return p.dispatch(ctx, evt)
}

// SendEventLater delivers evt after delay. Delivery errors are logged.
// Pending deliveries are dropped by Stop.
func (p *Platform) SendEventLater(ctx context.Context, evt *envelope.Envelope, delay time.Duration) error {
	if p.stopped.Load() {
		return errspkg.ErrPlatformStopped
	}
	if evt.To() == "" {
		return errspkg.ErrRouteRequired
	}
	if delay <= 0 {
		return p.dispatch(ctx, evt)
	}

	detached := context.WithoutCancel(ctx)
	var timer *time.Timer
	p.timersMu.Lock()
	timer = time.AfterFunc(delay, func() {
		p.timersMu.Lock()
		delete(p.timers, timer)
		p.timersMu.Unlock()
		if err := p.dispatch(detached, evt); err != nil {
			p.log.Warn("Delayed event dropped", loggingpkg.LogFields{
				"route":    evt.To(),
				"event_id": evt.ID(),
				"error":    err.Error(),
			})
		}
	})
	p.timers[timer] = struct{}{}
	p.timersMu.Unlock()
	return nil
}

func (p *Platform) dispatch(ctx context.Context, evt *envelope.Envelope) error {
	if p.stopped.Load() {
		return errspkg.ErrPlatformStopped
	}
	if evt == nil {
		return fmt.Errorf("%w: event is nil", errspkg.ErrInvalidInput)
	}
	to := evt.To()
	if to == "" {
		return errspkg.ErrRouteRequired
	}
	if evt.ReplyTo() != "" && evt.ReplyRoute() == to {
		return errspkg.ErrSelfLoop
	}
	if t := TraceFromContext(ctx); t.emittable() && evt.TraceID() == "" {
		evt.SetTrace(t.ID(), t.Path())
	}
	if err := p.throttle.regulate(ctx); err != nil {
		return err
	}

	if sq, ok := p.lookup(to); ok {
		if sq.failed.Load() {
			return fmt.Errorf("%w: %s", errspkg.ErrRouteFailed, to)
		}
		if evt.IsBroadcast() && p.connected() {
			return p.connector.SendPayload(ctx, connector.EventPayload(evt))
		}
		if !sq.send(evt.ToMap()) {
			return errspkg.RouteNotFound(to)
		}
		return nil
	}
	if p.connected() {
		return p.connector.SendPayload(ctx, connector.EventPayload(evt))
	}
	return errspkg.RouteNotFound(to)
}

// Request sends evt and waits for one reply. Replies with an error status
// are returned as envelopes, not errors.
func (p *Platform) Request(ctx context.Context, evt *envelope.Envelope, timeout time.Duration) (*envelope.Envelope, error) {
	if timeout <= 0 {
		return nil, errspkg.ErrInvalidTimeout
	}
	if evt == nil || evt.To() == "" {
		return nil, errspkg.ErrRouteRequired
	}
	ib, err := newInbox(p, 1)
	if err != nil {
		return nil, err
	}
	defer ib.close()

	evt.SetReplyTo(ib.route, true)
	if err := p.dispatch(ctx, evt); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case reply := <-ib.replies:
		return reply, nil
	case <-timer.C:
		return nil, &errspkg.TimeoutError{Route: evt.To(), Timeout: timeout, Expected: 1}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ParallelRequest sends every event and waits until all replies arrive.
// Replies are returned in arrival order.
func (p *Platform) ParallelRequest(ctx context.Context, evts []*envelope.Envelope, timeout time.Duration) ([]*envelope.Envelope, error) {
	if timeout <= 0 {
		return nil, errspkg.ErrInvalidTimeout
	}
	if len(evts) == 0 {
		return nil, errspkg.ErrEmptyRequest
	}
	if len(evts) == 1 {
		reply, err := p.Request(ctx, evts[0], timeout)
		if err != nil {
			return nil, err
		}
		return []*envelope.Envelope{reply}, nil
	}
	for _, evt := range evts {
		if evt == nil || evt.To() == "" {
			return nil, errspkg.ErrRouteRequired
		}
	}

	ib, err := newInbox(p, len(evts))
	if err != nil {
		return nil, err
	}
	defer ib.close()

	for _, evt := range evts {
		evt.SetReplyTo(ib.route, true)
		if err := p.dispatch(ctx, evt); err != nil {
			return nil, err
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	replies := make([]*envelope.Envelope, 0, len(evts))
	for len(replies) < len(evts) {
		select {
		case reply := <-ib.replies:
			replies = append(replies, reply)
		case <-timer.C:
			return nil, &errspkg.TimeoutError{Timeout: timeout, Expected: len(evts), Actual: len(replies)}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return replies, nil
}

// Start connects to the mesh and starts the HTTP endpoints. It returns
// once the connector is started.
func (p *Platform) Start(ctx context.Context) error {
	if p.stopped.Load() {
		return errspkg.ErrPlatformStopped
	}
	var err error
	p.startOnce.Do(func() {
		p.startHTTPServers()
		if p.connector == nil {
			return
		}
		// the connector lives until Stop, not until ctx ends
		err = p.connector.Start(context.WithoutCancel(ctx))
	})
	return err
}

// RunForever starts the platform and blocks until ctx ends, SIGINT or
// SIGTERM arrives, or Stop is called.
func (p *Platform) RunForever(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := p.Start(ctx); err != nil {
		return err
	}
	p.log.Info("To stop this application, press Control-C", nil)
	select {
	case <-ctx.Done():
	case <-p.done:
	}
	p.Stop()
	return nil
}

// Done is closed when Stop completes.
func (p *Platform) Done() <-chan struct{} { return p.done }

// Stop releases every route, closes the connector and removes the overflow
// queues. Only the first call has an effect.
func (p *Platform) Stop() {
	p.stopOnce.Do(func() {
		p.log.Info("Bye", nil)
		p.stopped.Store(true)

		p.timersMu.Lock()
		for timer := range p.timers {
			timer.Stop()
		}
		p.timers = map[*time.Timer]struct{}{}
		p.timersMu.Unlock()

		if p.connector != nil {
			if err := p.connector.Close(); err != nil {
				p.log.Error("Unable to close connector", err, nil)
			}
		}

		var queues []*serviceQueue
		_ = p.exec(func() error {
			p.mu.RLock()
			for _, sq := range p.routes {
				queues = append(queues, sq)
			}
			p.mu.RUnlock()
			for _, sq := range queues {
				p.removeRoute(sq)
			}
			return nil
		})
		p.loop.put(nil)
		<-p.loopDone
		p.loop.close()

		if !p.awaitQuiescence(queues, p.conf.ShutdownGrace) {
			p.log.Warn("Some functions are still running", loggingpkg.LogFields{"grace": p.conf.ShutdownGrace.String()})
		}
		p.cancel()
		p.stopHTTPServers()

		if err := os.RemoveAll(p.queueDir); err != nil && !errors.Is(err, os.ErrNotExist) {
			p.log.Error("Unable to remove queue directory", err, loggingpkg.LogFields{"dir": p.queueDir})
		}
		close(p.done)
	})
}

func (p *Platform) awaitQuiescence(queues []*serviceQueue, grace time.Duration) bool {
	finished := make(chan struct{})
	go func() {
		for _, sq := range queues {
			<-sq.done
		}
		p.workers.Wait()
		close(finished)
	}()
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-finished:
		return true
	case <-timer.C:
		return false
	}
}
