// Package eventmesh is an in-process event bus. Functions are registered
// under dotted route names, each route gets a bounded pool of workers and an
// ordered service queue that overflows from memory to disk, and callers talk
// to routes with fire-and-forget sends, delayed sends, broadcasts and RPC.
//
// A minimal setup fills Config, creates a Platform with NewPlatform,
// registers routes and calls Start or RunForever:
//
//	p, err := eventmesh.NewPlatform(&eventmesh.Config{}, logger, eventmesh.Dependencies{})
//	if err != nil {
//		return err
//	}
//	defer p.Stop()
//	_ = p.Register("hello.world", eventmesh.Singleton(handle), 1, false)
//	reply, err := p.Call(ctx, "hello.world", 5*time.Second, nil, "hi")
//
// # Routes
//
// Three function kinds exist. Singleton and Regular functions receive headers
// and body; Regular functions also get the worker instance number. An
// Interceptor receives the whole envelope and only answers when it fails, so
// it can forward the request and let another route reply.
//
// Routes are public unless registered as private. Public routes are
// advertised to the mesh through the configured connector so that other
// platforms can reach them.
//
// # Connectors
//
// A connector links the platform to peers. The websocket connector talks to
// a gateway; the watermill connector relays events over Kafka, RabbitMQ,
// NATS, AWS SNS/SQS, HTTP or Go channels.
//
// # Tracing
//
// Events carrying a trace id and path produce a trace record after each
// execution. Records go to the distributed.tracing route, which logs them and
// forwards them to Config.TraceProcessor when that route is reachable.
// Functions add annotations to the record with Annotate.
//
// # Observability
//
// Each route keeps RouteStats. JobHooks run around executions, Prometheus
// metrics are served on /metrics and a JSON listing of routes on /api/routes
// when enabled in Config.
package eventmesh
