package runtime

import (
	"context"

	"github.com/drblury/eventmesh/internal/runtime/envelope"
)

// FunctionKind tells the worker how to call a registered function.
type FunctionKind int

const (
	KindRegular FunctionKind = iota
	KindSingleton
	KindInterceptor
)

func (k FunctionKind) String() string {
	switch k {
	case KindSingleton:
		return "singleton"
	case KindInterceptor:
		return "interceptor"
	default:
		return "regular"
	}
}

// InterceptorFunc receives the raw envelope and is expected to re-route it
// instead of answering. A non-nil error is still sent back to the caller.
type InterceptorFunc func(ctx context.Context, evt *envelope.Envelope) error

// SingletonFunc handles events one at a time on a single worker.
type SingletonFunc func(ctx context.Context, headers map[string]string, body any) (any, error)

// RegularFunc handles events on one of several workers, identified by
// instance (1-based).
type RegularFunc func(ctx context.Context, headers map[string]string, body any, instance int) (any, error)

// Function is a registered service in one of the three supported shapes.
// Build it with Interceptor, Singleton or Regular.
type Function struct {
	kind        FunctionKind
	interceptor InterceptorFunc
	singleton   SingletonFunc
	regular     RegularFunc
}

// Interceptor wraps fn. Interceptors always run a single instance.
func Interceptor(fn InterceptorFunc) Function {
	return Function{kind: KindInterceptor, interceptor: fn}
}

// Singleton wraps fn to run on one worker.
func Singleton(fn SingletonFunc) Function {
	return Function{kind: KindSingleton, singleton: fn}
}

// Regular wraps fn to run on as many workers as the route registers.
func Regular(fn RegularFunc) Function {
	return Function{kind: KindRegular, regular: fn}
}

// Kind reports which shape f was built with.
func (f Function) Kind() FunctionKind { return f.kind }

func (f Function) valid() bool {
	switch f.kind {
	case KindInterceptor:
		return f.interceptor != nil
	case KindSingleton:
		return f.singleton != nil
	default:
		return f.regular != nil
	}
}

func (f Function) call(ctx context.Context, evt *envelope.Envelope, instance int) (any, error) {
	switch f.kind {
	case KindInterceptor:
		return nil, f.interceptor(ctx, evt)
	case KindSingleton:
		return f.singleton(ctx, evt.Headers(), evt.Body())
	default:
		return f.regular(ctx, evt.Headers(), evt.Body(), instance)
	}
}
