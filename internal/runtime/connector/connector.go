// Package connector relays events between this runtime and the rest of the
// mesh. Payloads are msgpack maps with a "type" of login, add, remove or
// event.
package connector

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/drblury/eventmesh/internal/runtime/envelope"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
)

const (
	PayloadLogin  = "login"
	PayloadAdd    = "add"
	PayloadRemove = "remove"
	PayloadEvent  = "event"

	KeyType   = "type"
	KeyRoute  = "route"
	KeyAPIKey = "api_key"
	KeyEvent  = "event"
)

// Mesh is the part of the platform a connector calls back into.
type Mesh interface {
	Origin() string
	HasRoute(route string) bool
	PublicRoutes() []string
	SendEvent(ctx context.Context, evt *envelope.Envelope) error
}

// Connector relays payloads to remote peers.
type Connector interface {
	IsConnected() bool
	IsReady() bool
	SendPayload(ctx context.Context, payload map[string]any) error
	Start(ctx context.Context) error
	Close() error
}

func LoginPayload(apiKey string) map[string]any {
	return map[string]any{KeyType: PayloadLogin, KeyAPIKey: apiKey}
}

func AddRoutePayload(route string) map[string]any {
	return map[string]any{KeyType: PayloadAdd, KeyRoute: route}
}

func RemoveRoutePayload(route string) map[string]any {
	return map[string]any{KeyType: PayloadRemove, KeyRoute: route}
}

func EventPayload(evt *envelope.Envelope) map[string]any {
	return map[string]any{KeyType: PayloadEvent, KeyEvent: evt.ToMap()}
}

// Encode packs a payload as msgpack.
func Encode(payload map[string]any) ([]byte, error) {
	data, err := msgpack.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Decode unpacks a payload produced by Encode.
func Decode(data []byte) (map[string]any, error) {
	payload, err := envelope.DecodeMap(data)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return payload, nil
}

// Deliver hands an inbound event payload to the mesh. Events for routes
// this runtime does not host are dropped, and other payload types are
// ignored.
func Deliver(ctx context.Context, mesh Mesh, log loggingpkg.ServiceLogger, payload map[string]any) error {
	if payload[KeyType] != PayloadEvent {
		log.Debug("Ignoring payload", loggingpkg.LogFields{"type": payload[KeyType]})
		return nil
	}
	inner, ok := payload[KeyEvent].(map[string]any)
	if !ok {
		return fmt.Errorf("event payload carries %T", payload[KeyEvent])
	}
	evt := envelope.FromMap(inner)
	if !mesh.HasRoute(evt.To()) {
		log.Debug("Dropping event for unknown route", loggingpkg.LogFields{"route": evt.To(), "event_id": evt.ID()})
		return nil
	}
	// the peer already fanned it out
	evt.SetBroadcast(false)
	return mesh.SendEvent(ctx, evt)
}

// Advertise sends the login payload followed by every public route.
func Advertise(ctx context.Context, c Connector, mesh Mesh, apiKey string) error {
	if err := c.SendPayload(ctx, LoginPayload(apiKey)); err != nil {
		return err
	}
	for _, route := range mesh.PublicRoutes() {
		if err := c.SendPayload(ctx, AddRoutePayload(route)); err != nil {
			return err
		}
	}
	return nil
}
