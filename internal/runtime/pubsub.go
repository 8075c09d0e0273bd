package runtime

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/drblury/eventmesh/internal/runtime/envelope"
	errspkg "github.com/drblury/eventmesh/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
)

const (
	// PubSubControllerRoute is served by the gateway that owns the topics.
	PubSubControllerRoute = "pub.sub.controller"
	// PubSubSyncRoute asks this runtime to replay its subscriptions.
	PubSubSyncRoute = "pub.sub.sync"

	DefaultPubSubTimeout = 10 * time.Second

	pubSubSyncType = "subscription_sync"
)

// PubSub manages topics through the pub/sub controller of the mesh. It
// remembers local subscriptions and replays them when the controller asks.
type PubSub struct {
	p       *Platform
	timeout time.Duration

	mu            sync.Mutex
	subscriptions map[string]map[string][]string
}

// NewPubSub registers the private sync route on p.
func NewPubSub(p *Platform) (*PubSub, error) {
	ps := &PubSub{
		p:             p,
		timeout:       DefaultPubSubTimeout,
		subscriptions: make(map[string]map[string][]string),
	}
	if err := p.Register(PubSubSyncRoute, Singleton(ps.sync), 1, true); err != nil {
		return nil, err
	}
	return ps, nil
}

func (ps *PubSub) sync(ctx context.Context, headers map[string]string, _ any) (any, error) {
	if headers["type"] != pubSubSyncType {
		return nil, nil
	}
	subs := ps.Subscriptions()
	if len(subs) == 0 {
		ps.p.log.Info("No subscription to update", nil)
		return nil, nil
	}
	for _, topic := range sortedKeys(subs) {
		routes := subs[topic]
		for _, route := range sortedKeys(routes) {
			ps.p.log.Info("Update subscription "+topic+" -> "+route, nil)
			if _, err := ps.Subscribe(ctx, topic, route, routes[route]...); err != nil {
				ps.p.log.Error("Unable to update subscription", err, loggingpkg.LogFields{"topic": topic, "route": route})
			}
		}
	}
	return nil, nil
}

// Subscriptions returns a copy of the local subscriptions by topic and route.
func (ps *PubSub) Subscriptions() map[string]map[string][]string {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	out := make(map[string]map[string][]string, len(ps.subscriptions))
	for topic, routes := range ps.subscriptions {
		inner := make(map[string][]string, len(routes))
		for route, params := range routes {
			inner[route] = append([]string(nil), params...)
		}
		out[topic] = inner
	}
	return out
}

func (ps *PubSub) FeatureEnabled(ctx context.Context) (bool, error) {
	return ps.boolCall(ctx, map[string]string{"type": "feature"}, nil)
}

func (ps *PubSub) ListTopics(ctx context.Context) ([]string, error) {
	reply, err := ps.call(ctx, map[string]string{"type": "list"}, nil)
	if err != nil {
		return nil, err
	}
	topics, ok := toStringSlice(reply.Body())
	if !ok {
		return nil, unexpectedBody(reply)
	}
	return topics, nil
}

func (ps *PubSub) TopicExists(ctx context.Context, topic string) (bool, error) {
	return ps.boolCall(ctx, map[string]string{"type": "exists", "topic": topic}, nil)
}

func (ps *PubSub) CreateTopic(ctx context.Context, topic string) (bool, error) {
	return ps.boolCall(ctx, map[string]string{"type": "create", "topic": topic}, nil)
}

func (ps *PubSub) DeleteTopic(ctx context.Context, topic string) (bool, error) {
	return ps.boolCall(ctx, map[string]string{"type": "delete", "topic": topic}, nil)
}

// PartitionCount returns the number of partitions of topic, or -1 when the
// topic is not partitioned.
func (ps *PubSub) PartitionCount(ctx context.Context, topic string) (int, error) {
	reply, err := ps.call(ctx, map[string]string{"type": "partition_count", "topic": topic}, nil)
	if err != nil {
		return 0, err
	}
	n, ok := toInt(reply.Body())
	if !ok {
		return 0, unexpectedBody(reply)
	}
	return n, nil
}

// Publish sends headers and body to every subscriber of topic.
func (ps *PubSub) Publish(ctx context.Context, topic string, headers map[string]string, body any) (bool, error) {
	return ps.publish(ctx, map[string]string{"type": "publish", "topic": topic}, headers, body)
}

func (ps *PubSub) PublishToPartition(ctx context.Context, topic string, partition int, headers map[string]string, body any) (bool, error) {
	return ps.publish(ctx, map[string]string{
		"type":      "publish",
		"topic":     topic,
		"partition": strconv.Itoa(partition),
	}, headers, body)
}

func (ps *PubSub) publish(ctx context.Context, control map[string]string, headers map[string]string, body any) (bool, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	payload := map[string]any{
		"body":    body,
		"headers": headers,
	}
	return ps.boolCall(ctx, control, payload)
}

// Subscribe routes the events of topic to a local route.
func (ps *PubSub) Subscribe(ctx context.Context, topic, route string, params ...string) (bool, error) {
	return ps.subscribe(ctx, map[string]string{"type": "subscribe", "topic": topic, "route": route}, topic, route, params)
}

func (ps *PubSub) SubscribeToPartition(ctx context.Context, topic string, partition int, route string, params ...string) (bool, error) {
	return ps.subscribe(ctx, map[string]string{
		"type":      "subscribe",
		"topic":     topic,
		"route":     route,
		"partition": strconv.Itoa(partition),
	}, topic, route, params)
}

func (ps *PubSub) subscribe(ctx context.Context, control map[string]string, topic, route string, params []string) (bool, error) {
	if !ps.p.HasRoute(route) {
		return false, fmt.Errorf("%w: unable to subscribe topic %s because route %s not registered", errspkg.ErrInvalidInput, topic, route)
	}
	if params == nil {
		params = []string{}
	}
	done, err := ps.boolCall(ctx, control, params)
	if err != nil || !done {
		return done, err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	routes, ok := ps.subscriptions[topic]
	if !ok {
		routes = make(map[string][]string)
		ps.subscriptions[topic] = routes
		ps.p.log.Info("Subscribed topic "+topic, nil)
	}
	if _, ok := routes[route]; !ok {
		routes[route] = append([]string(nil), params...)
		ps.p.log.Info("Adding "+route+" to topic "+topic, nil)
	}
	return true, nil
}

// Unsubscribe stops routing the events of topic to a local route.
func (ps *PubSub) Unsubscribe(ctx context.Context, topic, route string) (bool, error) {
	if !ps.p.HasRoute(route) {
		return false, fmt.Errorf("%w: unable to unsubscribe topic %s because route %s not registered", errspkg.ErrInvalidInput, topic, route)
	}
	done, err := ps.boolCall(ctx, map[string]string{"type": "unsubscribe", "topic": topic, "route": route}, nil)
	if err != nil || !done {
		return done, err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	if routes, ok := ps.subscriptions[topic]; ok {
		if _, ok := routes[route]; ok {
			delete(routes, route)
			ps.p.log.Info("Removing "+route+" from topic "+topic, nil)
			if len(routes) == 0 {
				delete(ps.subscriptions, topic)
				ps.p.log.Info("Unsubscribed topic "+topic, nil)
			}
		}
	}
	return true, nil
}

func (ps *PubSub) boolCall(ctx context.Context, headers map[string]string, body any) (bool, error) {
	reply, err := ps.call(ctx, headers, body)
	if err != nil {
		return false, err
	}
	b, ok := reply.Body().(bool)
	if !ok {
		return false, unexpectedBody(reply)
	}
	return b, nil
}

func (ps *PubSub) call(ctx context.Context, headers map[string]string, body any) (*envelope.Envelope, error) {
	return callOK(ctx, ps.p, PubSubControllerRoute, ps.timeout, headers, body)
}

// callOK returns the reply only when its status is 200. Other replies become
// an AppError carrying the reply status and body.
func callOK(ctx context.Context, p *Platform, route string, timeout time.Duration, headers map[string]string, body any) (*envelope.Envelope, error) {
	reply, err := p.Call(ctx, route, timeout, headers, body)
	if err != nil {
		return nil, err
	}
	if reply.Status() != 200 {
		return nil, errspkg.NewAppError(reply.Status(), fmt.Sprint(reply.Body()))
	}
	return reply, nil
}

func unexpectedBody(reply *envelope.Envelope) error {
	return errspkg.NewAppError(500, fmt.Sprint(reply.Body()))
}

func toStringSlice(v any) ([]string, bool) {
	switch list := v.(type) {
	case []string:
		return list, true
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			out = append(out, fmt.Sprint(item))
		}
		return out, true
	}
	return nil, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int8:
		return int(n), true
	case int16:
		return int(n), true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case uint8:
		return int(n), true
	case uint16:
		return int(n), true
	case uint32:
		return int(n), true
	case uint64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
