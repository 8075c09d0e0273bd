// Package envelope defines the message unit routed between services.
package envelope

import (
	"math"
	"strings"

	"github.com/drblury/eventmesh/internal/runtime/ids"
	"github.com/drblury/eventmesh/internal/runtime/metadata"
)

// LocalReplyMarker prefixes a reply_to route owned by this process.
const LocalReplyMarker = "->"

// Map keys of the canonical wire form.
const (
	KeyID        = "id"
	KeyTo        = "to"
	KeyFrom      = "from"
	KeyHeaders   = "headers"
	KeyBody      = "body"
	KeyReplyTo   = "reply_to"
	KeyExtra     = "extra"
	KeyCID       = "cid"
	KeyTraceID   = "trace_id"
	KeyTracePath = "trace_path"
	KeyBroadcast = "broadcast"
	KeyStatus    = "status"
	KeyExecTime  = "exec_time"
	KeyRoundTrip = "round_trip"
)

// Envelope carries addressing, headers, body and correlation data. Setters
// return the envelope for chaining and getters never panic.
type Envelope struct {
	id            string
	to            string
	from          string
	headers       metadata.Metadata
	body          any
	status        int
	replyTo       string
	extra         string
	correlationID string
	traceID       string
	tracePath     string
	broadcast     bool
	execTime      float64
	roundTrip     float64
}

// New returns an empty envelope with a fresh ULID.
func New() *Envelope {
	return &Envelope{
		id:        ids.CreateULID(),
		headers:   metadata.Metadata{},
		execTime:  -1,
		roundTrip: -1,
	}
}

func (e *Envelope) ID() string { return e.id }

func (e *Envelope) SetID(id string) *Envelope {
	e.id = id
	return e
}

func (e *Envelope) To() string { return e.to }

func (e *Envelope) SetTo(route string) *Envelope {
	e.to = route
	return e
}

func (e *Envelope) From() string { return e.from }

func (e *Envelope) SetFrom(route string) *Envelope {
	e.from = route
	return e
}

// Headers returns a copy of the headers.
func (e *Envelope) Headers() metadata.Metadata { return e.headers.Clone() }

func (e *Envelope) Header(key string) string { return e.headers[key] }

// SetHeader stores value converted to a string.
func (e *Envelope) SetHeader(key string, value any) *Envelope {
	if e.headers == nil {
		e.headers = metadata.Metadata{}
	}
	e.headers[key] = metadata.Stringify(value)
	return e
}

// SetHeaders replaces all headers.
func (e *Envelope) SetHeaders(headers map[string]string) *Envelope {
	e.headers = metadata.Metadata(headers).Clone()
	return e
}

func (e *Envelope) Body() any { return e.body }

func (e *Envelope) SetBody(body any) *Envelope {
	e.body = body
	return e
}

// Status defaults to 200 when unset.
func (e *Envelope) Status() int {
	if e.status == 0 {
		return 200
	}
	return e.status
}

func (e *Envelope) SetStatus(status int) *Envelope {
	e.status = status
	return e
}

// ReplyTo returns the raw reply address including the local marker.
func (e *Envelope) ReplyTo() string { return e.replyTo }

// ReplyRoute returns the reply address without the local marker.
func (e *Envelope) ReplyRoute() string {
	return strings.TrimPrefix(e.replyTo, LocalReplyMarker)
}

// IsLocalReply reports whether the reply route lives in this process.
func (e *Envelope) IsLocalReply() bool {
	return strings.HasPrefix(e.replyTo, LocalReplyMarker)
}

// SetReplyTo sets the reply route. local marks a route owned by this process.
func (e *Envelope) SetReplyTo(route string, local bool) *Envelope {
	if local && route != "" {
		route = LocalReplyMarker + route
	}
	e.replyTo = route
	return e
}

func (e *Envelope) Extra() string { return e.extra }

func (e *Envelope) SetExtra(extra string) *Envelope {
	e.extra = extra
	return e
}

func (e *Envelope) CorrelationID() string { return e.correlationID }

func (e *Envelope) SetCorrelationID(cid string) *Envelope {
	e.correlationID = cid
	return e
}

func (e *Envelope) TraceID() string   { return e.traceID }
func (e *Envelope) TracePath() string { return e.tracePath }

func (e *Envelope) SetTrace(id, path string) *Envelope {
	e.traceID = id
	e.tracePath = path
	return e
}

func (e *Envelope) IsBroadcast() bool { return e.broadcast }

func (e *Envelope) SetBroadcast(broadcast bool) *Envelope {
	e.broadcast = broadcast
	return e
}

// ExecTime is the execution time in milliseconds, or -1 when unset.
func (e *Envelope) ExecTime() float64 { return e.execTime }

func (e *Envelope) SetExecTime(ms float64) *Envelope {
	e.execTime = round3(ms)
	return e
}

// RoundTrip is the request round trip in milliseconds, or -1 when unset.
func (e *Envelope) RoundTrip() float64 { return e.roundTrip }

func (e *Envelope) SetRoundTrip(ms float64) *Envelope {
	e.roundTrip = round3(ms)
	return e
}

// Clone returns a copy with its own headers map. The body is shared.
func (e *Envelope) Clone() *Envelope {
	c := *e
	c.headers = e.headers.Clone()
	return &c
}

func round3(v float64) float64 {
	if v < 0 {
		return -1
	}
	return math.Round(v*1000) / 1000
}

// ToMap returns the canonical map form. Empty and default fields are omitted,
// except headers which is always present.
func (e *Envelope) ToMap() map[string]any {
	out := map[string]any{
		KeyID:      e.id,
		KeyHeaders: map[string]string(e.headers.Clone()),
	}
	if e.to != "" {
		out[KeyTo] = e.to
	}
	if e.from != "" {
		out[KeyFrom] = e.from
	}
	if e.body != nil {
		out[KeyBody] = e.body
	}
	if e.replyTo != "" {
		out[KeyReplyTo] = e.replyTo
	}
	if e.extra != "" {
		out[KeyExtra] = e.extra
	}
	if e.correlationID != "" {
		out[KeyCID] = e.correlationID
	}
	if e.traceID != "" && e.tracePath != "" {
		out[KeyTraceID] = e.traceID
		out[KeyTracePath] = e.tracePath
	}
	if e.broadcast {
		out[KeyBroadcast] = true
	}
	if e.status != 0 {
		out[KeyStatus] = e.status
	}
	if e.execTime >= 0 {
		out[KeyExecTime] = e.execTime
	}
	if e.roundTrip >= 0 {
		out[KeyRoundTrip] = e.roundTrip
	}
	return out
}

// FromMap builds an envelope from its map form. Missing or mistyped keys leave
// the field at its default.
func FromMap(m map[string]any) *Envelope {
	e := New()
	if v, ok := m[KeyID].(string); ok && v != "" {
		e.id = v
	}
	if v, ok := m[KeyTo].(string); ok {
		e.to = v
	}
	if v, ok := m[KeyFrom].(string); ok {
		e.from = v
	}
	if headers, ok := metadata.FromAny(m[KeyHeaders]); ok {
		e.headers = headers
	}
	if v, ok := m[KeyBody]; ok {
		e.body = v
	}
	if v, ok := m[KeyReplyTo].(string); ok {
		e.replyTo = v
	}
	if v, ok := m[KeyExtra].(string); ok {
		e.extra = v
	}
	if v, ok := m[KeyCID]; ok && v != nil {
		e.correlationID = metadata.Stringify(v)
	}
	traceID, idOK := m[KeyTraceID].(string)
	tracePath, pathOK := m[KeyTracePath].(string)
	if idOK && pathOK {
		e.traceID, e.tracePath = traceID, tracePath
	}
	if v, ok := m[KeyBroadcast].(bool); ok {
		e.broadcast = v
	}
	if v, ok := toFloat(m[KeyStatus]); ok {
		e.status = int(v)
	}
	if v, ok := toFloat(m[KeyExecTime]); ok {
		e.SetExecTime(v)
	}
	if v, ok := toFloat(m[KeyRoundTrip]); ok {
		e.SetRoundTrip(v)
	}
	return e
}

// toFloat accepts every numeric type a msgpack or JSON decoder may produce.
func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
