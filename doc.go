// Package pipedispatch drains the callback queue of an external service and
// routes each message to the handlers registered for it.
//
// The external service (typically a vendor SDK) exposes a pull-based "pipe":
// it must be pumped periodically, it yields messages tagged with a numeric
// type id, and it resolves the results of asynchronous calls on request. The
// Pipe interface describes that surface; pipedispatch supplies everything
// between the pipe and your code.
//
// # Quick Start
//
// Describe an event payload and its type id:
//
//	type PersonaStateChange struct {
//	    SteamID     uint64
//	    ChangeFlags int32
//	}
//
//	func (PersonaStateChange) EventType() int32 { return 304 }
//
// Create a dispatcher, register a handler and drive the pipe:
//
//	d, err := pipedispatch.New(pipe)
//	if err != nil {
//	    return err
//	}
//	defer d.Close()
//
//	onChange := pipedispatch.NewCallback(func(ctx context.Context, ev *PersonaStateChange) error {
//	    return friends.Refresh(ctx, ev.SteamID)
//	})
//	d.RegisterCallback(onChange)
//	defer d.UnregisterCallback(onChange)
//
//	err = d.Run(ctx)
//
// # Callbacks and Call Results
//
// There are two kinds of registration:
//
//   - Callbacks (RegisterCallback) are broadcasts. Every handler registered
//     for a message's type runs, in registration order, on every delivery,
//     until it is unregistered.
//   - Call results (RegisterCallResult) are one-shot. The service announces
//     a finished asynchronous call with a message of type CallCompletedType;
//     the dispatcher fetches the result into its receive buffer and runs
//     every handler registered for that (call handle, event type) pair, then
//     removes exactly those handlers. Unrelated pending call results are left
//     alone.
//
// A call that failed in transport is still delivered, with ioFailed set;
// the handler decides what that means.
//
// # Handlers
//
// Anything implementing Handler can be registered. The package provides:
//
//   - Lambda[T], from NewLambda and NewCallback: decodes the payload into T
//     (little-endian encoding/binary by default, or JSON with
//     WithDecoder(DecodeJSON)), validates it if T has a Validate method, and
//     calls a closure
//   - Func, from NewFunc: passes the raw bytes
//   - Filtered, from Filter: runs another handler only for JSON payloads that
//     match a Matcher
//
// Registrations do not own handlers. Handlers are compared by identity, so
// keep the pointer you registered and pass the same pointer to unregister.
//
// # Execution Models
//
// Dispatcher runs on whichever goroutine calls Run or Poll and does no
// locking. Concurrent is a process-wide singleton whose drive loop runs on a
// background goroutine; registration is safe from any goroutine. Manage it
// with Initialize, StartThread, Current and Destroy, or bind it to a scope
// with a Guard:
//
//	g, err := pipedispatch.NewGuard(pipe, pipedispatch.LockDefault,
//	    pipedispatch.WithIdleWait(time.Millisecond),
//	)
//	if err != nil {
//	    return err
//	}
//	defer g.Close()
//
// The LockMode picks how call-result delivery interacts with concurrent
// registration. LockDefault never holds the lock across a handler;
// LockReadSafe holds it for the whole delivery and so forbids touching the
// call-result list from inside a call-result handler.
//
// # Error Handling
//
// A handler that returns an error or panics never stops the loop. The
// failure is wrapped in a *HandlerError (a panic additionally in a
// *PanicError) and passed to the error handler installed with
// WithErrorHandler or SetErrorHandler. Without one it is discarded.
//
// # Hooks and Metrics
//
// Hooks observe dispatch without coupling to a logging or metrics system:
//
//   - WithOnMessage: every drained message
//   - WithOnDispatch: just before a handler runs
//   - WithOnSuccess: after a handler returns nil
//   - WithOnFailure: after a handler fails
//   - WithOnUnhandled: a message no handler matched
//
// WithMetrics registers Prometheus collectors fed by these hooks.
// WithTracing wraps each invocation in an OpenTelemetry span, and WithLogger
// attaches a zap logger for lifecycle and diagnostic messages.
//
// # Shutdown
//
// Shutdown is cooperative. The loop finishes draining the current batch
// and stops at the top of its next pass. In-flight handlers always complete.
// Close (Dispatcher) and Destroy (Concurrent) also release the receive
// buffer.
package pipedispatch
