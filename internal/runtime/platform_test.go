package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/eventmesh/internal/runtime/config"
	"github.com/drblury/eventmesh/internal/runtime/connector"
	"github.com/drblury/eventmesh/internal/runtime/envelope"
	errspkg "github.com/drblury/eventmesh/internal/runtime/errors"
	"github.com/drblury/eventmesh/internal/runtime/ids"
)

func TestNewPlatformRequiresConfigAndLogger(t *testing.T) {
	_, err := NewPlatform(nil, nil, Dependencies{})
	assert.ErrorIs(t, err, errspkg.ErrConfigRequired)

	_, err = NewPlatform(&configpkg.Config{}, nil, Dependencies{})
	assert.ErrorIs(t, err, errspkg.ErrLoggerRequired)
}

func TestNewPlatformRejectsInvalidConfig(t *testing.T) {
	logs := &syncBuffer{}
	_, err := NewPlatform(&configpkg.Config{MeshTransport: "nats"}, newLogger(logs), Dependencies{})

	var cfgErr errspkg.ConfigValidationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestNewPlatformRegistersTraceRelay(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})

	assert.True(t, p.HasRoute(DistributedTracingRoute))
	assert.True(t, p.RouteIsPrivate(DistributedTracingRoute))
	assert.True(t, strings.HasPrefix(p.Origin(), "go"))
}

func TestRegisterValidatesRoute(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})

	for _, route := range []string{"hello", "Hello.world", ".hello.world", "hello.world.", "hello..world", "hello__world.x", "hello world.x"} {
		err := p.Register(route, Regular(echo), 1, false)
		assert.ErrorIs(t, err, errspkg.ErrInvalidRoute, route)
		assert.ErrorIs(t, err, errspkg.ErrInvalidInput, route)
	}
	assert.ErrorIs(t, p.Register("", Regular(echo), 1, false), errspkg.ErrRouteRequired)
	assert.NoError(t, p.Register("hello.world", Regular(echo), 1, false))
}

func TestRegisterValidatesFunctionAndInstances(t *testing.T) {
	p := newTestPlatform(t, func(c *configpkg.Config) { c.MaxWorkers = 4 }, Dependencies{})

	assert.ErrorIs(t, p.Register("hello.world", Regular(nil), 1, false), errspkg.ErrFunctionRequired)
	assert.ErrorIs(t, p.Register("hello.world", Regular(echo), 0, false), errspkg.ErrInvalidInstances)
	assert.ErrorIs(t, p.Register("hello.world", Regular(echo), 5, false), errspkg.ErrInvalidInstances)

	require.NoError(t, p.Register("hello.world", Regular(echo), 4, false))
	assert.Equal(t, 4, p.RouteInstances("hello.world"))

	single := func(context.Context, map[string]string, any) (any, error) { return nil, nil }
	require.NoError(t, p.Register("hello.single", Singleton(single), 3, false))
	assert.Equal(t, 1, p.RouteInstances("hello.single"))
	assert.Equal(t, 0, p.RouteInstances("unknown.route"))
}

func TestRegisterReplacesExistingRoute(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	answer := func(v string) RegularFunc {
		return func(context.Context, map[string]string, any, int) (any, error) { return v, nil }
	}

	require.NoError(t, p.Register("hello.world", Regular(answer("first")), 1, false))
	require.NoError(t, p.Register("hello.world", Regular(answer("second")), 2, true))

	reply, err := p.Call(context.Background(), "hello.world", time.Second, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "second", reply.Body())
	assert.True(t, p.RouteIsPrivate("hello.world"))
	assert.Equal(t, 2, p.RouteInstances("hello.world"))
	assert.Contains(t, p.logs.String(), "Reloading route")
}

func TestRoutesFilter(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	require.NoError(t, p.Register("b.public", Regular(echo), 1, false))
	require.NoError(t, p.Register("a.public", Regular(echo), 1, false))
	require.NoError(t, p.Register("c.private", Regular(echo), 1, true))

	assert.Equal(t, []string{"a.public", "b.public"}, p.PublicRoutes())
	assert.Equal(t, []string{"c.private", DistributedTracingRoute}, p.Routes(RoutesPrivate))
	assert.Len(t, p.Routes(RoutesAll), 4)
	assert.False(t, p.RouteIsPrivate("a.public"))
	assert.False(t, p.RouteIsPrivate("unknown.route"))
}

func TestReleaseRoute(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	require.NoError(t, p.Register("hello.world", Regular(echo), 1, false))

	require.NoError(t, p.Release("hello.world"))
	assert.False(t, p.HasRoute("hello.world"))
	assert.ErrorIs(t, p.Release("hello.world"), errspkg.ErrRouteNotFound)
	assert.ErrorIs(t, p.Send(context.Background(), "hello.world", nil, "x"), errspkg.ErrRouteNotFound)
}

func TestSendEventValidation(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	require.NoError(t, p.Register("hello.world", Regular(echo), 1, false))
	ctx := context.Background()

	assert.ErrorIs(t, p.SendEvent(ctx, envelope.New()), errspkg.ErrRouteRequired)
	assert.ErrorIs(t, p.SendEvent(ctx, envelope.New().SetTo("unknown.route")), errspkg.ErrRouteNotFound)

	loop := envelope.New().SetTo("hello.world").SetReplyTo("hello.world", true)
	assert.ErrorIs(t, p.SendEvent(ctx, loop), errspkg.ErrSelfLoop)
}

func TestEventsAreProcessedInOrder(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	const total = 50

	gate := make(chan struct{})
	done := make(chan struct{})
	var mu sync.Mutex
	var got []string
	fn := func(_ context.Context, _ map[string]string, body any) (any, error) {
		<-gate
		mu.Lock()
		defer mu.Unlock()
		got = append(got, body.(string))
		if len(got) == total {
			close(done)
		}
		return nil, nil
	}
	require.NoError(t, p.Register("ordered.route", Singleton(fn), 1, false))

	want := make([]string, 0, total)
	for i := 0; i < total; i++ {
		body := fmt.Sprintf("event-%02d", i)
		want = append(want, body)
		require.NoError(t, p.Send(context.Background(), "ordered.route", nil, body))
	}
	close(gate)
	receive(t, done)

	mu.Lock()
	assert.Equal(t, want, got)
	mu.Unlock()

	stats, ok := p.Stats("ordered.route")
	require.True(t, ok)
	assert.Equal(t, uint64(total-1), stats.EventsBuffered)
	assert.Equal(t, uint64(total), stats.EventsProcessed)
}

func TestIdleRouteDoesNotBuffer(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	require.NoError(t, p.Register("hello.world", Regular(echo), 5, false))

	for i := 0; i < 3; i++ {
		reply, err := p.Call(context.Background(), "hello.world", time.Second, map[string]string{"n": fmt.Sprint(i)}, "hi")
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprint(i), reply.Header("n"))
	}
	stats, ok := p.Stats("hello.world")
	require.True(t, ok)
	assert.Zero(t, stats.EventsBuffered)
}

func TestConcurrentRequests(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	require.NoError(t, p.Register("hello.world", Regular(echo), 5, false))

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			body := fmt.Sprintf("request-%d", i)
			reply, err := p.Call(context.Background(), "hello.world", 2*time.Second, nil, body)
			if err != nil {
				errs <- err
				return
			}
			if reply.Body() != body {
				errs <- fmt.Errorf("got %v for %s", reply.Body(), body)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestRequestReply(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	require.NoError(t, p.Register("hello.world", Regular(echo), 1, false))

	evt := envelope.New().SetTo("hello.world").SetHeader("a", "b").SetBody("hi").SetCorrelationID("c1").AddTag("k", "v")
	reply, err := p.Request(context.Background(), evt, time.Second)
	require.NoError(t, err)

	assert.Equal(t, "hi", reply.Body())
	assert.Equal(t, "b", reply.Header("a"))
	assert.Equal(t, "c1", reply.CorrelationID())
	assert.Equal(t, "hello.world", reply.From())
	assert.Equal(t, 200, reply.Status())
	tag, ok := reply.Tag("k")
	assert.True(t, ok)
	assert.Equal(t, "v", tag)
	assert.GreaterOrEqual(t, reply.ExecTime(), 0.0)
	assert.GreaterOrEqual(t, reply.RoundTrip(), 0.0)
}

func TestRequestValidation(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	ctx := context.Background()

	_, err := p.Request(ctx, envelope.New().SetTo("hello.world"), 0)
	assert.ErrorIs(t, err, errspkg.ErrInvalidTimeout)

	_, err = p.Request(ctx, envelope.New(), time.Second)
	assert.ErrorIs(t, err, errspkg.ErrRouteRequired)

	_, err = p.Request(ctx, envelope.New().SetTo("unknown.route"), time.Second)
	assert.ErrorIs(t, err, errspkg.ErrRouteNotFound)
	assert.Empty(t, inboxRoutes(p.Platform))
}

func TestRequestTimeoutReleasesInbox(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	slow := func(context.Context, map[string]string, any) (any, error) {
		<-release
		return "late", nil
	}
	require.NoError(t, p.Register("slow.route", Singleton(slow), 1, false))

	_, err := p.Call(context.Background(), "slow.route", 50*time.Millisecond, nil, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errspkg.ErrTimeout)

	var timeoutErr *errspkg.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, "slow.route", timeoutErr.Route)
	assert.Equal(t, 1, timeoutErr.Expected)
	assert.Equal(t, "Route slow.route timeout for 50ms", err.Error())
	assert.Empty(t, inboxRoutes(p.Platform))
}

func TestRequestHonoursContext(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	slow := func(context.Context, map[string]string, any) (any, error) {
		<-release
		return nil, nil
	}
	require.NoError(t, p.Register("slow.route", Singleton(slow), 1, false))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Call(ctx, "slow.route", 5*time.Second, nil, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLateReplyIsDropped(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	slow := func(context.Context, map[string]string, any) (any, error) {
		time.Sleep(100 * time.Millisecond)
		return "late", nil
	}
	require.NoError(t, p.Register("slow.route", Singleton(slow), 1, false))

	_, err := p.Call(context.Background(), "slow.route", 20*time.Millisecond, nil, nil)
	require.ErrorIs(t, err, errspkg.ErrTimeout)
	assert.Eventually(t, func() bool {
		return strings.Contains(p.logs.String(), "Event dropped because")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestParallelRequest(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	require.NoError(t, p.Register("hello.world", Regular(echo), 3, false))

	evts := []*envelope.Envelope{
		envelope.New().SetTo("hello.world").SetBody("a"),
		envelope.New().SetTo("hello.world").SetBody("b"),
		envelope.New().SetTo("hello.world").SetBody("c"),
	}
	replies, err := p.ParallelRequest(context.Background(), evts, time.Second)
	require.NoError(t, err)
	require.Len(t, replies, 3)

	var bodies []string
	for _, r := range replies {
		bodies = append(bodies, r.Body().(string))
	}
	assert.ElementsMatch(t, []string{"a", "b", "c"}, bodies)
	assert.Empty(t, inboxRoutes(p.Platform))
}

func TestParallelRequestSingleEvent(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	require.NoError(t, p.Register("hello.world", Regular(echo), 1, false))

	replies, err := p.ParallelRequest(context.Background(), []*envelope.Envelope{envelope.New().SetTo("hello.world").SetBody("a")}, time.Second)
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Equal(t, "a", replies[0].Body())
}

func TestParallelRequestValidation(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	ctx := context.Background()

	_, err := p.ParallelRequest(ctx, nil, time.Second)
	assert.ErrorIs(t, err, errspkg.ErrEmptyRequest)

	_, err = p.ParallelRequest(ctx, []*envelope.Envelope{envelope.New().SetTo("a.b")}, -time.Second)
	assert.ErrorIs(t, err, errspkg.ErrInvalidTimeout)

	_, err = p.ParallelRequest(ctx, []*envelope.Envelope{envelope.New().SetTo("a.b"), envelope.New()}, time.Second)
	assert.ErrorIs(t, err, errspkg.ErrRouteRequired)
}

func TestParallelRequestTimeoutReportsCounts(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	slow := func(context.Context, map[string]string, any) (any, error) {
		<-release
		return nil, nil
	}
	require.NoError(t, p.Register("hello.world", Regular(echo), 2, false))
	require.NoError(t, p.Register("slow.route", Singleton(slow), 1, false))

	evts := []*envelope.Envelope{
		envelope.New().SetTo("hello.world").SetBody("a"),
		envelope.New().SetTo("slow.route"),
		envelope.New().SetTo("hello.world").SetBody("b"),
	}
	_, err := p.ParallelRequest(context.Background(), evts, 200*time.Millisecond)

	var timeoutErr *errspkg.TimeoutError
	require.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, 3, timeoutErr.Expected)
	assert.Equal(t, 2, timeoutErr.Actual)
	assert.Equal(t, "Requests timeout for 200ms. Expect: 3 responses, actual: 2", err.Error())
}

func TestErrorStatusMapping(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	failing := map[string]SingletonFunc{
		"app.error": func(context.Context, map[string]string, any) (any, error) {
			return nil, errspkg.NewAppError(403, "forbidden")
		},
		"bad.input": func(context.Context, map[string]string, any) (any, error) {
			return nil, fmt.Errorf("%w: name is missing", errspkg.ErrInvalidInput)
		},
		"boom.error": func(context.Context, map[string]string, any) (any, error) {
			return nil, errors.New("boom")
		},
		"panic.route": func(context.Context, map[string]string, any) (any, error) {
			panic("kaboom")
		},
	}
	for route, fn := range failing {
		require.NoError(t, p.Register(route, Singleton(fn), 1, false))
	}

	cases := []struct {
		route  string
		status int
		body   string
	}{
		{"app.error", 403, "forbidden"},
		{"bad.input", 400, "eventmesh: invalid input: name is missing"},
		{"boom.error", 500, "boom"},
		{"panic.route", 500, "kaboom"},
	}
	for _, tc := range cases {
		t.Run(tc.route, func(t *testing.T) {
			reply, err := p.Call(context.Background(), tc.route, time.Second, nil, nil)
			require.NoError(t, err)
			assert.Equal(t, tc.status, reply.Status())
			assert.Equal(t, tc.body, reply.Body())
			_, tagged := reply.Tag("exception")
			assert.True(t, tagged)
		})
	}

	stats, ok := p.Stats("app.error")
	require.True(t, ok)
	assert.Equal(t, uint64(1), stats.EventsFailed)
	assert.Equal(t, uint64(1), stats.Errors.Application)
}

func TestUnhandledExceptionIsLogged(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	fail := func(context.Context, map[string]string, any) (any, error) {
		return nil, errspkg.NewAppError(409, "conflict")
	}
	require.NoError(t, p.Register("fail.route", Singleton(fail), 1, false))

	require.NoError(t, p.Send(context.Background(), "fail.route", nil, nil))
	assert.Eventually(t, func() bool {
		return strings.Contains(p.logs.String(), "Unhandled exception for fail.route - code=409, message=conflict")
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInterceptorRepliesOnlyOnError(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})

	forward := func(ctx context.Context, evt *envelope.Envelope) error {
		reply := envelope.New().SetTo(evt.ReplyRoute()).SetBody("forwarded")
		return p.SendEvent(ctx, reply)
	}
	require.NoError(t, p.Register("forward.route", Interceptor(forward), 1, false))

	reply, err := p.Call(context.Background(), "forward.route", time.Second, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "forwarded", reply.Body())

	silent := func(context.Context, *envelope.Envelope) error { return nil }
	require.NoError(t, p.Register("silent.route", Interceptor(silent), 1, false))
	_, err = p.Call(context.Background(), "silent.route", 100*time.Millisecond, nil, nil)
	assert.ErrorIs(t, err, errspkg.ErrTimeout)

	failing := func(context.Context, *envelope.Envelope) error { return errspkg.NewAppError(418, "teapot") }
	require.NoError(t, p.Register("failing.route", Interceptor(failing), 1, false))
	reply, err = p.Call(context.Background(), "failing.route", time.Second, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 418, reply.Status())
	assert.Equal(t, "teapot", reply.Body())
}

func TestSendEventLater(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	received := make(chan time.Time, 1)
	fn := func(context.Context, map[string]string, any) (any, error) {
		received <- time.Now()
		return nil, nil
	}
	require.NoError(t, p.Register("later.route", Singleton(fn), 1, false))

	start := time.Now()
	require.NoError(t, p.SendLater(context.Background(), "later.route", nil, "x", 80*time.Millisecond))
	at := receive(t, received)
	assert.GreaterOrEqual(t, at.Sub(start), 80*time.Millisecond)

	assert.ErrorIs(t, p.SendEventLater(context.Background(), envelope.New(), time.Second), errspkg.ErrRouteRequired)
}

func TestSendEventLaterWithoutDelaySendsNow(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	assert.ErrorIs(t, p.SendLater(context.Background(), "unknown.route", nil, nil, 0), errspkg.ErrRouteNotFound)
}

func TestStopDropsDelayedEvents(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	called := make(chan struct{}, 1)
	fn := func(context.Context, map[string]string, any) (any, error) {
		called <- struct{}{}
		return nil, nil
	}
	require.NoError(t, p.Register("later.route", Singleton(fn), 1, false))
	require.NoError(t, p.SendLater(context.Background(), "later.route", nil, nil, 100*time.Millisecond))

	p.Stop()
	select {
	case <-called:
		t.Fatal("delayed event delivered after stop")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestStopIsIdempotent(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	require.NoError(t, p.Register("hello.world", Regular(echo), 2, false))
	require.NoError(t, p.Send(context.Background(), "hello.world", nil, "x"))

	p.Stop()
	p.Stop()

	assert.Equal(t, 1, p.logs.Count("msg=Bye"))
	assert.False(t, p.HasRoute("hello.world"))
	assert.Empty(t, p.Routes(RoutesAll))
	assert.ErrorIs(t, p.Send(context.Background(), "hello.world", nil, "x"), errspkg.ErrPlatformStopped)
	assert.ErrorIs(t, p.Register("hello.world", Regular(echo), 1, false), errspkg.ErrPlatformStopped)
	assert.ErrorIs(t, p.Start(context.Background()), errspkg.ErrPlatformStopped)

	select {
	case <-p.Done():
	default:
		t.Fatal("done channel not closed")
	}
	_, err := os.Stat(p.queueDir)
	assert.True(t, os.IsNotExist(err))
}

func TestRunForeverReturnsWhenContextEnds(t *testing.T) {
	fc := newFakeConnector()
	p := newTestPlatform(t, nil, Dependencies{Connector: fc.builder()})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.RunForever(ctx))

	assert.Equal(t, 1, fc.started)
	assert.Equal(t, 1, fc.closed)
	assert.Equal(t, 1, p.logs.Count("msg=Bye"))
}

func TestStartIsIdempotent(t *testing.T) {
	fc := newFakeConnector()
	p := newTestPlatform(t, nil, Dependencies{Connector: fc.builder()})

	require.NoError(t, p.Start(context.Background()))
	require.NoError(t, p.Start(context.Background()))
	assert.Equal(t, 1, fc.started)
}

func TestRegisterAdvertisesPublicRoutes(t *testing.T) {
	fc := newFakeConnector()
	p := newTestPlatform(t, nil, Dependencies{Connector: fc.builder()})

	require.NoError(t, p.Register("public.route", Regular(echo), 1, false))
	require.NoError(t, p.Register("private.route", Regular(echo), 1, true))
	require.NoError(t, p.Release("public.route"))
	require.NoError(t, p.Release("private.route"))

	assert.Equal(t, []map[string]any{connector.AddRoutePayload("public.route")}, fc.sent(connector.PayloadAdd))
	assert.Equal(t, []map[string]any{connector.RemoveRoutePayload("public.route")}, fc.sent(connector.PayloadRemove))
}

func TestRemoteRoutesUseConnector(t *testing.T) {
	fc := newFakeConnector()
	p := newTestPlatform(t, nil, Dependencies{Connector: fc.builder()})

	require.NoError(t, p.Send(context.Background(), "remote.route", map[string]string{"a": "b"}, "x"))
	events := fc.sent(connector.PayloadEvent)
	require.Len(t, events, 1)
	inner := events[0][connector.KeyEvent].(map[string]any)
	assert.Equal(t, "remote.route", inner[envelope.KeyTo])

	fc.mu.Lock()
	fc.connected = false
	fc.mu.Unlock()
	assert.ErrorIs(t, p.Send(context.Background(), "remote.route", nil, "x"), errspkg.ErrRouteNotFound)
}

func TestBroadcastLocalRoute(t *testing.T) {
	t.Run("relayed through connector", func(t *testing.T) {
		fc := newFakeConnector()
		p := newTestPlatform(t, nil, Dependencies{Connector: fc.builder()})
		require.NoError(t, p.Register("hello.world", Regular(echo), 1, false))

		require.NoError(t, p.Broadcast(context.Background(), envelope.New().SetTo("hello.world")))
		events := fc.sent(connector.PayloadEvent)
		require.Len(t, events, 1)
		inner := events[0][connector.KeyEvent].(map[string]any)
		assert.Equal(t, true, inner[envelope.KeyBroadcast])
	})

	t.Run("delivered locally without connector", func(t *testing.T) {
		p := newTestPlatform(t, nil, Dependencies{})
		got := make(chan bool, 1)
		fn := func(context.Context, map[string]string, any) (any, error) {
			got <- true
			return nil, nil
		}
		require.NoError(t, p.Register("hello.world", Singleton(fn), 1, false))
		require.NoError(t, p.Broadcast(context.Background(), envelope.New().SetTo("hello.world")))
		assert.True(t, receive(t, got))
	})
}

func TestExists(t *testing.T) {
	fc := newFakeConnector()
	p := newTestPlatform(t, nil, Dependencies{Connector: fc.builder()})
	require.NoError(t, p.Register("local.route", Regular(echo), 1, false))

	queries := make(chan *envelope.Envelope, 4)
	fc.mu.Lock()
	fc.onEvent = func(evt *envelope.Envelope) {
		if evt.To() != ServiceQueryRoute {
			return
		}
		queries <- evt
		reply := envelope.New().SetTo(evt.ReplyRoute()).SetBody(evt.Header("route") != "missing.route")
		_ = p.SendEvent(context.Background(), reply)
	}
	fc.mu.Unlock()
	ctx := context.Background()

	found, err := p.Exists(ctx, "local.route")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Empty(t, queries)

	found, err = p.Exists(ctx, "remote.route")
	require.NoError(t, err)
	assert.True(t, found)
	q := receive(t, queries)
	assert.Equal(t, "find", q.Header("type"))
	assert.Equal(t, "remote.route", q.Header("route"))

	found, err = p.Exists(ctx, "missing.route")
	require.NoError(t, err)
	assert.False(t, found)
	receive(t, queries)

	found, err = p.Exists(ctx, "local.route", "remote.route")
	require.NoError(t, err)
	assert.True(t, found)
	q = receive(t, queries)
	assert.Equal(t, "*", q.Header("route"))
}

func TestExistsWithoutConnector(t *testing.T) {
	p := newTestPlatform(t, nil, Dependencies{})
	found, err := p.Exists(context.Background(), "remote.route")
	require.NoError(t, err)
	assert.False(t, found)

	found, err = p.Exists(context.Background())
	require.NoError(t, err)
	assert.False(t, found)
}

func TestOutboundThrottle(t *testing.T) {
	p := newTestPlatform(t, func(c *configpkg.Config) {
		c.OutboundRate = 20
		c.OutboundBurst = 1
	}, Dependencies{})
	require.NoError(t, p.Register("hello.world", Regular(echo), 1, false))

	start := time.Now()
	for i := 0; i < 4; i++ {
		require.NoError(t, p.Send(context.Background(), "hello.world", nil, i))
	}
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func inboxRoutes(p *Platform) []string {
	var out []string
	for _, route := range p.Routes(RoutesPrivate) {
		if ids.IsInboxRoute(route) {
			out = append(out, route)
		}
	}
	return out
}
