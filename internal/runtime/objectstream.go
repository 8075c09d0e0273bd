package runtime

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strconv"
	"sync"
	"time"

	errspkg "github.com/drblury/eventmesh/internal/runtime/errors"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
)

const (
	// ObjectStreamManagerRoute is served by the gateway that hosts object
	// streams.
	ObjectStreamManagerRoute = "object.streams.io"

	DefaultStreamExpiry = 30 * time.Minute

	streamManagerTimeout  = 6 * time.Second
	streamCloseTimeout    = 10 * time.Second
	minStreamReadTimeout  = time.Second
	minStreamWriteTimeout = 5 * time.Second

	streamTypeData = "data"
	streamTypeEOF  = "eof"
)

// ObjectStream is a client for a stream held by the stream manager. Blocks
// written to the output route come back, in order, from reads on the input
// route until the writer sends EOF.
type ObjectStream struct {
	p   *Platform
	in  string
	out string

	mu           sync.Mutex
	eof          bool
	inputClosed  bool
	outputClosed bool
}

// CreateObjectStream asks the stream manager for a new stream that expires
// after expiry. A non-positive expiry uses DefaultStreamExpiry.
func CreateObjectStream(ctx context.Context, p *Platform, expiry time.Duration) (*ObjectStream, error) {
	if expiry <= 0 {
		expiry = DefaultStreamExpiry
	}
	seconds := max(int(expiry/time.Second), 1)
	reply, err := callOK(ctx, p, ObjectStreamManagerRoute, streamManagerTimeout, map[string]string{
		"type":   "create_stream",
		"expiry": strconv.Itoa(seconds),
	}, nil)
	if err != nil {
		return nil, err
	}

	routes, ok := toStringMap(reply.Body())
	if !ok || routes["in"] == "" || routes["out"] == "" {
		return nil, errspkg.NewAppError(500, "Invalid response from stream manager: "+fmt.Sprint(reply.Body()))
	}
	p.log.Debug("Object stream created", loggingpkg.LogFields{"in": routes["in"], "out": routes["out"], "expiry": seconds})
	return &ObjectStream{p: p, in: routes["in"], out: routes["out"]}, nil
}

// OpenObjectStream attaches to the routes of an existing stream. A reader
// passes only in, a writer only out.
func OpenObjectStream(p *Platform, in, out string) (*ObjectStream, error) {
	if in == "" && out == "" {
		return nil, errspkg.ErrRouteRequired
	}
	return &ObjectStream{p: p, in: in, out: out}, nil
}

// LocalObjectStreams lists the streams the manager holds for this runtime.
func LocalObjectStreams(ctx context.Context, p *Platform) (map[string]any, error) {
	reply, err := callOK(ctx, p, ObjectStreamManagerRoute, streamManagerTimeout, map[string]string{"type": "query"}, nil)
	if err != nil {
		return nil, err
	}
	streams, ok := reply.Body().(map[string]any)
	if !ok {
		return nil, unexpectedBody(reply)
	}
	return streams, nil
}

func (s *ObjectStream) InputStream() string  { return s.in }
func (s *ObjectStream) OutputStream() string { return s.out }

func (s *ObjectStream) IsEOF() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.eof
}

func (s *ObjectStream) IsInputClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inputClosed
}

func (s *ObjectStream) IsOutputClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputClosed
}

// Write appends payload to the stream and waits until the manager has
// stored it, so blocks keep their order. Timeouts below five seconds are
// raised to five seconds.
func (s *ObjectStream) Write(ctx context.Context, payload any, timeout time.Duration) error {
	if s.out == "" {
		return fmt.Errorf("%w: stream has no output route", errspkg.ErrRouteRequired)
	}
	if s.IsOutputClosed() {
		return errspkg.ErrStreamClosed
	}
	if !validStreamPayload(payload) {
		return fmt.Errorf("%w: got %T", errspkg.ErrStreamPayload, payload)
	}
	_, err := callOK(ctx, s.p, s.out, max(timeout, minStreamWriteTimeout), map[string]string{"type": streamTypeData}, payload)
	return err
}

// SendEOF closes the output side and waits for the manager to record it.
// Readers get io.EOF once they have read every block written before it.
// Only the first call sends anything.
func (s *ObjectStream) SendEOF(ctx context.Context) error {
	if s.out == "" {
		return fmt.Errorf("%w: stream has no output route", errspkg.ErrRouteRequired)
	}
	s.mu.Lock()
	if s.outputClosed {
		s.mu.Unlock()
		return nil
	}
	s.outputClosed = true
	s.mu.Unlock()
	_, err := callOK(ctx, s.p, s.out, minStreamWriteTimeout, map[string]string{"type": streamTypeEOF}, nil)
	return err
}

// Read returns the next block, or io.EOF after the writer's EOF. An empty
// stream makes Read wait up to timeout, at least one second, and then fail
// with a TimeoutError.
func (s *ObjectStream) Read(ctx context.Context, timeout time.Duration) (any, error) {
	if s.in == "" {
		return nil, fmt.Errorf("%w: stream has no input route", errspkg.ErrRouteRequired)
	}
	s.mu.Lock()
	closed, eof := s.inputClosed, s.eof
	s.mu.Unlock()
	if closed {
		return nil, errspkg.ErrStreamClosed
	}
	if eof {
		return nil, io.EOF
	}

	reply, err := callOK(ctx, s.p, s.in, max(timeout, minStreamReadTimeout), map[string]string{"type": "read"}, nil)
	if err != nil {
		return nil, err
	}
	switch reply.Header("type") {
	case streamTypeData:
		return reply.Body(), nil
	case streamTypeEOF:
		s.mu.Lock()
		s.eof = true
		s.mu.Unlock()
		return nil, io.EOF
	default:
		return nil, errspkg.NewAppError(500, fmt.Sprintf("unexpected stream block type %q", reply.Header("type")))
	}
}

// All reads blocks until EOF. A read error is yielded once and ends the
// sequence.
func (s *ObjectStream) All(ctx context.Context, timeout time.Duration) iter.Seq2[any, error] {
	return func(yield func(any, error) bool) {
		for {
			block, err := s.Read(ctx, timeout)
			if err == io.EOF {
				return
			}
			if !yield(block, err) || err != nil {
				return
			}
		}
	}
}

// Close releases the input side on the manager. Only the first call
// contacts the manager.
func (s *ObjectStream) Close(ctx context.Context) error {
	if s.in == "" {
		return nil
	}
	s.mu.Lock()
	if s.inputClosed {
		s.mu.Unlock()
		return nil
	}
	s.inputClosed = true
	s.mu.Unlock()
	_, err := callOK(ctx, s.p, s.in, streamCloseTimeout, map[string]string{"type": "close"}, nil)
	return err
}

func validStreamPayload(payload any) bool {
	switch payload.(type) {
	case map[string]any, string, []byte, bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

func toStringMap(v any) (map[string]string, bool) {
	switch m := v.(type) {
	case map[string]string:
		return m, true
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			s, ok := val.(string)
			if !ok {
				return nil, false
			}
			out[k] = s
		}
		return out, true
	}
	return nil, false
}
