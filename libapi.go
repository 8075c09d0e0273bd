package eventmesh

import (
	runtimepkg "github.com/drblury/eventmesh/internal/runtime"
	configpkg "github.com/drblury/eventmesh/internal/runtime/config"
	"github.com/drblury/eventmesh/internal/runtime/envelope"
	errspkg "github.com/drblury/eventmesh/internal/runtime/errors"
	idspkg "github.com/drblury/eventmesh/internal/runtime/ids"
	jsoncodec "github.com/drblury/eventmesh/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/eventmesh/internal/runtime/logging"
	metadatapkg "github.com/drblury/eventmesh/internal/runtime/metadata"
)

type (
	Config                = configpkg.Config
	ConfigValidationError = errspkg.ConfigValidationError

	Platform         = runtimepkg.Platform
	Dependencies     = runtimepkg.Dependencies
	ConnectorBuilder = runtimepkg.ConnectorBuilder
	RouteFilter      = runtimepkg.RouteFilter
	PubSub           = runtimepkg.PubSub
	ObjectStream     = runtimepkg.ObjectStream

	Envelope = envelope.Envelope
	Metadata = metadatapkg.Metadata

	// Route functions
	Function        = runtimepkg.Function
	FunctionKind    = runtimepkg.FunctionKind
	InterceptorFunc = runtimepkg.InterceptorFunc
	SingletonFunc   = runtimepkg.SingletonFunc
	RegularFunc     = runtimepkg.RegularFunc

	TraceInfo = runtimepkg.TraceInfo

	// Job lifecycle hooks
	JobContext = runtimepkg.JobContext
	JobHooks   = runtimepkg.JobHooks

	// Observability
	RouteStats     = runtimepkg.RouteStats
	RouteInfo      = runtimepkg.RouteInfo
	RoutesResponse = runtimepkg.RoutesResponse
	ResourceUsage  = runtimepkg.ResourceUsage
	RouteMetrics   = runtimepkg.RouteMetrics

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	AppError     = errspkg.AppError
	TimeoutError = errspkg.TimeoutError
)

// Route filters accepted by Platform.Routes.
const (
	RoutesAll     = runtimepkg.RoutesAll
	RoutesPublic  = runtimepkg.RoutesPublic
	RoutesPrivate = runtimepkg.RoutesPrivate
)

// Reserved routes.
const (
	DistributedTracingRoute  = runtimepkg.DistributedTracingRoute
	ServiceQueryRoute        = runtimepkg.ServiceQueryRoute
	PubSubControllerRoute    = runtimepkg.PubSubControllerRoute
	ObjectStreamManagerRoute = runtimepkg.ObjectStreamManagerRoute
)

const DefaultStreamExpiry = runtimepkg.DefaultStreamExpiry

var (
	NewPlatform    = runtimepkg.NewPlatform
	NewPubSub      = runtimepkg.NewPubSub
	ValidateConfig = configpkg.ValidateConfig
	ConfigFromMap  = configpkg.FromMap
	ValidateRoute  = runtimepkg.ValidateRoute

	CreateObjectStream = runtimepkg.CreateObjectStream
	OpenObjectStream   = runtimepkg.OpenObjectStream
	LocalObjectStreams = runtimepkg.LocalObjectStreams

	NewEnvelope = envelope.New

	Interceptor = runtimepkg.Interceptor
	Singleton   = runtimepkg.Singleton
	Regular     = runtimepkg.Regular

	Annotate         = runtimepkg.Annotate
	TraceFromContext = runtimepkg.TraceFromContext

	LoggingHooks  = runtimepkg.LoggingHooks
	AlertingHooks = runtimepkg.AlertingHooks

	NewRouteMetrics = runtimepkg.NewRouteMetrics

	NewAppError = errspkg.NewAppError
	StatusOf    = errspkg.StatusOf

	ErrInvalidInput    = errspkg.ErrInvalidInput
	ErrConfigRequired  = errspkg.ErrConfigRequired
	ErrLoggerRequired  = errspkg.ErrLoggerRequired
	ErrPlatformStopped = errspkg.ErrPlatformStopped
	ErrRouteNotFound   = errspkg.ErrRouteNotFound
	ErrRouteFailed     = errspkg.ErrRouteFailed
	ErrStreamClosed    = errspkg.ErrStreamClosed
	ErrStreamPayload   = errspkg.ErrStreamPayload
	ErrTimeout         = errspkg.ErrTimeout
	ErrNotConnected    = errspkg.ErrNotConnected
	ErrInvalidRoute    = errspkg.ErrInvalidRoute

	Marshal   = jsoncodec.Marshal
	Unmarshal = jsoncodec.Unmarshal
	Encode    = jsoncodec.Encode

	NewTextServiceLogger      = loggingpkg.NewTextServiceLogger
	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger

	NewMetadata = metadatapkg.New

	CreateULID = idspkg.CreateULID
)

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
