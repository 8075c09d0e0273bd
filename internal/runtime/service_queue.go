package runtime

import (
	"fmt"
	"sync/atomic"

	"github.com/drblury/eventmesh/internal/runtime/ids"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
	"github.com/drblury/eventmesh/internal/runtime/queue"
)

// queueEvent is either a worker becoming ready, an inbound item or a stop
// request.
type queueEvent struct {
	ready int
	item  map[string]any
	stop  bool
}

// serviceQueue owns the workers of one route. Items go straight to a ready
// worker and spill to the elastic queue while none is ready. Once spilling
// starts every new item is spilled until the backlog drains, so delivery
// stays in arrival order.
type serviceQueue struct {
	p         *Platform
	route     string
	fn        Function
	private   bool
	instances int
	// observed routes feed hooks and prometheus. Inbox routes do not.
	observed bool
	untraced bool
	stats    *RouteStats
	log      loggingpkg.ServiceLogger

	events    *mailbox[queueEvent]
	elastic   *queue.Elastic
	buffering bool
	ready     []int
	workers   []*worker
	done      chan struct{}
	// failed is set when the overflow queue cannot be written. The route
	// then rejects new events.
	failed atomic.Bool
}

func newServiceQueue(p *Platform, route string, fn Function, instances int, private bool) (*serviceQueue, error) {
	serializer, err := queue.SerializerFor(p.conf.QueueSerializer)
	if err != nil {
		return nil, err
	}
	elastic, err := queue.New(p.queueDir, route,
		queue.WithSerializer(serializer),
		queue.WithMemoryBuffer(p.conf.MemoryBuffer),
		queue.WithMaxSegmentSize(p.conf.MaxSegmentSize),
	)
	if err != nil {
		return nil, fmt.Errorf("create overflow queue for %s: %w", route, err)
	}

	inbox := ids.IsInboxRoute(route)
	sq := &serviceQueue{
		p:         p,
		route:     route,
		fn:        fn,
		private:   private,
		instances: instances,
		observed:  !inbox,
		untraced:  inbox || route == DistributedTracingRoute || route == p.conf.TraceProcessor,
		stats:     newRouteStats(),
		log:       p.log.With(loggingpkg.LogFields{"route": route}),
		events:    newMailbox[queueEvent](),
		elastic:   elastic,
		buffering: true,
		workers:   make([]*worker, instances),
		done:      make(chan struct{}),
	}
	for i := range sq.workers {
		w := newWorker(sq, i+1)
		sq.workers[i] = w
		sq.events.put(queueEvent{ready: w.instance})
		p.workers.Add(1)
		go w.run()
	}
	go sq.run()
	return sq, nil
}

func (sq *serviceQueue) started() {
	visibility := "PUBLIC"
	if sq.private {
		visibility = "PRIVATE"
	}
	noun := "instances"
	if sq.instances == 1 {
		noun = "instance"
	}
	msg := fmt.Sprintf("%s route with %d %s started", visibility, sq.instances, noun)
	if sq.observed {
		sq.log.Info(msg, nil)
	} else {
		sq.log.Debug(msg, nil)
	}
}

// send returns false once the queue has stopped.
func (sq *serviceQueue) send(item map[string]any) bool {
	return sq.events.put(queueEvent{item: item})
}

func (sq *serviceQueue) markReady(instance int) {
	sq.events.put(queueEvent{ready: instance})
}

func (sq *serviceQueue) stop() {
	sq.events.put(queueEvent{stop: true})
}

func (sq *serviceQueue) run() {
	defer close(sq.done)
	for {
		ev := sq.events.take()
		switch {
		case ev.stop:
			sq.shutdown()
			return
		case ev.ready > 0:
			sq.onReady(ev.ready)
		case ev.item != nil:
			sq.onItem(ev.item)
		}
	}
}

func (sq *serviceQueue) onReady(instance int) {
	sq.ready = append(sq.ready, instance)
	if !sq.buffering {
		return
	}
	item, err := sq.elastic.Read()
	if err != nil {
		sq.log.Error("Overflow queue discarded", err, loggingpkg.LogFields{"pending": sq.elastic.Pending()})
		_ = sq.elastic.Close()
		sq.buffering = false
		return
	}
	if item == nil {
		sq.buffering = false
		return
	}
	sq.dispatch(item)
}

func (sq *serviceQueue) onItem(item map[string]any) {
	if !sq.buffering && len(sq.ready) > 0 {
		sq.dispatch(item)
		return
	}
	sq.buffering = true
	sq.spill(item)
}

func (sq *serviceQueue) spill(item map[string]any) {
	if sq.failed.Load() {
		sq.log.Warn("Event dropped", loggingpkg.LogFields{"event_id": item["id"]})
		return
	}
	if err := sq.elastic.Write(item); err != nil {
		sq.failed.Store(true)
		sq.log.Error("Overflow queue failed, route rejects new events", err, loggingpkg.LogFields{
			"event_id": item["id"],
			"pending":  sq.elastic.Pending(),
		})
		return
	}
	sq.stats.onBuffered()
	if sq.observed {
		sq.p.metrics.recordBuffered(sq.route)
	}
}

func (sq *serviceQueue) dispatch(item map[string]any) {
	instance := sq.ready[0]
	sq.ready = sq.ready[1:]
	sq.workers[instance-1].input <- item
}

func (sq *serviceQueue) shutdown() {
	sq.events.close()
	for _, w := range sq.workers {
		close(w.input)
	}
	if err := sq.elastic.Destroy(); err != nil {
		sq.log.Warn("Unable to remove overflow queue", loggingpkg.LogFields{"error": err.Error()})
	}
	if sq.observed {
		sq.log.Info("stopped", nil)
	} else {
		sq.log.Debug("stopped", nil)
	}
}
