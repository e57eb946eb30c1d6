package pipedispatch

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Kind tells broadcast deliveries from call-result deliveries.
type Kind uint8

const (
	// KindCallback is a broadcast message delivered to every handler
	// registered for its type.
	KindCallback Kind = iota + 1

	// KindCallResult is the one-shot result of an asynchronous call.
	KindCallResult
)

func (k Kind) String() string {
	switch k {
	case KindCallback:
		return "callback"
	case KindCallResult:
		return "call_result"
	}
	return "unknown"
}

// Delivery describes one message as seen by hooks.
type Delivery struct {
	Kind      Kind
	EventType int32
	Call      CallHandle
	Size      int
	IOFailed  bool
}

// ErrorHandler receives failures raised during dispatch. Handler failures
// are *HandlerError values, and panics arrive as a *HandlerError wrapping a
// *PanicError. Problems with the message itself, such as a malformed
// call-completed descriptor, arrive as errors wrapping ErrShortDescriptor or
// ErrAlloc.
//
// The error handler runs on the drive loop's goroutine.
type ErrorHandler func(err error)

// OnMessageFunc is called once per message drained from the pipe, before
// any handler runs.
type OnMessageFunc func(ctx context.Context, d Delivery)

// OnDispatchFunc is called just before a handler is invoked.
type OnDispatchFunc func(ctx context.Context, d Delivery)

// OnSuccessFunc is called after a handler returns nil.
type OnSuccessFunc func(ctx context.Context, d Delivery, duration time.Duration)

// OnFailureFunc is called after a handler fails. It runs before the error
// handler.
type OnFailureFunc func(ctx context.Context, d Delivery, err error, duration time.Duration)

// OnUnhandledFunc is called when a message matched no registered handler.
type OnUnhandledFunc func(ctx context.Context, d Delivery)

// hooks holds all configured hook functions.
type hooks struct {
	onMessage   []OnMessageFunc
	onDispatch  []OnDispatchFunc
	onSuccess   []OnSuccessFunc
	onFailure   []OnFailureFunc
	onUnhandled []OnUnhandledFunc
}

// options is the construction-time configuration of a dispatcher.
type options struct {
	log          *zap.Logger
	errorHandler ErrorHandler
	bufferSize   int
	maxResult    int
	idleWait     time.Duration
	tracer       trace.Tracer
	hooks        hooks
}

func buildOptions(opts []Option) options {
	o := options{
		log:        zap.NewNop(),
		bufferSize: MinBufferSize,
		maxResult:  DefaultMaxResultSize,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Option configures a dispatcher.
type Option func(*options)

// WithLogger sets the logger used for lifecycle and diagnostic messages. The
// default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithErrorHandler installs the initial error handler. It can be replaced
// later with SetErrorHandler.
func WithErrorHandler(fn ErrorHandler) Option {
	return func(o *options) {
		o.errorHandler = fn
	}
}

// WithBufferSize sets the initial receive buffer size. Values below
// MinBufferSize are raised to it, and the size is rounded up to whole pages.
func WithBufferSize(n int) Option {
	return func(o *options) {
		o.bufferSize = max(n, MinBufferSize)
	}
}

// WithMaxResultSize caps the size of a call result the dispatcher will
// fetch. A descriptor announcing more is reported as ErrResultTooLarge and
// its handlers run with ioFailed set and no payload. Values of zero or less
// keep DefaultMaxResultSize.
func WithMaxResultSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxResult = n
		}
	}
}

// WithIdleWait makes the drive loop sleep for d after a pass that drained no
// messages, instead of spinning.
func WithIdleWait(d time.Duration) Option {
	return func(o *options) {
		o.idleWait = d
	}
}

// WithOnMessage adds a hook called for every drained message.
// Multiple hooks are called in order.
func WithOnMessage(fn OnMessageFunc) Option {
	return func(o *options) {
		o.hooks.onMessage = append(o.hooks.onMessage, fn)
	}
}

// WithOnDispatch adds a hook called just before each handler invocation.
// Multiple hooks are called in order.
//
// Example:
//
//	pipedispatch.WithOnDispatch(func(ctx context.Context, d pipedispatch.Delivery) {
//	    logger.Debug("dispatching", zap.Stringer("kind", d.Kind), zap.Int32("type", d.EventType))
//	})
func WithOnDispatch(fn OnDispatchFunc) Option {
	return func(o *options) {
		o.hooks.onDispatch = append(o.hooks.onDispatch, fn)
	}
}

// WithOnSuccess adds a hook called after a handler returns nil.
// Multiple hooks are called in order.
func WithOnSuccess(fn OnSuccessFunc) Option {
	return func(o *options) {
		o.hooks.onSuccess = append(o.hooks.onSuccess, fn)
	}
}

// WithOnFailure adds a hook called after a handler returns an error or
// panics. Multiple hooks are called in order.
//
// Example:
//
//	pipedispatch.WithOnFailure(func(ctx context.Context, d pipedispatch.Delivery, err error, _ time.Duration) {
//	    metrics.Incr("pipe.handler.failure", "kind:"+d.Kind.String())
//	})
func WithOnFailure(fn OnFailureFunc) Option {
	return func(o *options) {
		o.hooks.onFailure = append(o.hooks.onFailure, fn)
	}
}

// WithOnUnhandled adds a hook called when a message reached no handler.
// Multiple hooks are called in order.
func WithOnUnhandled(fn OnUnhandledFunc) Option {
	return func(o *options) {
		o.hooks.onUnhandled = append(o.hooks.onUnhandled, fn)
	}
}

func (h *hooks) message(ctx context.Context, d Delivery) {
	for _, fn := range h.onMessage {
		fn(ctx, d)
	}
}

func (h *hooks) dispatch(ctx context.Context, d Delivery) {
	for _, fn := range h.onDispatch {
		fn(ctx, d)
	}
}

func (h *hooks) success(ctx context.Context, d Delivery, duration time.Duration) {
	for _, fn := range h.onSuccess {
		fn(ctx, d, duration)
	}
}

func (h *hooks) failure(ctx context.Context, d Delivery, err error, duration time.Duration) {
	for _, fn := range h.onFailure {
		fn(ctx, d, err, duration)
	}
}

func (h *hooks) unhandled(ctx context.Context, d Delivery) {
	for _, fn := range h.onUnhandled {
		fn(ctx, d)
	}
}
