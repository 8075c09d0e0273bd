/*
Package runtime hosts routes and moves events between them and the mesh.

# Architecture Overview

A Platform owns a table of routes. Each route is served by a service queue
and one or more workers. Events sent to a route are handed to a ready worker,
or spilled to an elastic memory+disk queue while every worker is busy, so a
slow route never blocks its callers and never reorders its events.

# Package Structure

## Platform (platform.go)

The Platform struct is the central orchestrator that wires together:
  - Route table, mutated on a single loop goroutine
  - Outbound throttle and the process-wide worker pool
  - Connector to the rest of the mesh
  - HTTP servers for metrics and route introspection

## Routes (service_queue.go, worker.go, function.go, route.go)

Functions are registered in one of three shapes:
  - Interceptor: receives the raw envelope and replies itself, if at all
  - Singleton: one worker, handles headers and body
  - Regular: up to MaxWorkers instances

## RPC (inbox.go, postoffice.go)

Request and ParallelRequest register a temporary private inbox route, send
the events with a local reply address and wait for the replies or a timeout.

## Tracing (trace.go, trace_relay.go)

Every execution carries a TraceInfo in its context. Executions of traced
events emit a record to the distributed.tracing route, which logs it and
forwards it to the configured trace processor.

## Stats & Monitoring (stats.go, metrics.go, hooks.go, resources.go, webui.go)

  - Latency percentiles (p50, p95, p99) and throughput per route
  - Prometheus counters and histograms
  - Job hooks around every execution
  - GET /api/routes

# Sub-packages

  - config/: Platform configuration with validation
  - connector/: Websocket and watermill mesh connectors
  - envelope/: The event envelope and its codecs
  - errors/: Sentinel errors and error types
  - ids/: ULID generation for event ids, origins and inboxes
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Header utilities
  - queue/: The elastic overflow queue

# Usage Example

	p, err := runtime.NewPlatform(&config.Config{}, logger, runtime.Dependencies{})
	if err != nil {
		return err
	}
	err = p.Register("hello.world", runtime.Regular(echo), 10, false)
	reply, err := p.Call(ctx, "hello.world", 5*time.Second, nil, "hi")
*/
package runtime
