package pipedispatch

import (
	"context"

	"go.uber.org/zap"
)

// Dispatcher drains a Pipe on the goroutine that calls Run or Poll. It does
// no locking: register, unregister and run from that same goroutine.
// Programs that register from other goroutines must use the process-wide
// dispatcher instead, through StartThread or NewGuard.
//
// Usage:
//  1. Create a dispatcher with New, after the external service has started
//  2. Register handlers with RegisterCallback and RegisterCallResult
//  3. Drive it with Run, or call Poll once per frame
//  4. Release it with Close
type Dispatcher struct {
	core
}

// New enables manual dispatch on pipe and allocates the receive buffer.
// It fails with an error wrapping ErrAlloc if the buffer cannot be obtained.
//
// New is only for single-goroutine programs that own their frame loop. A
// pipe must be driven by one dispatcher: do not combine New with
// Initialize, StartThread or NewGuard on the same pipe.
//
// Example:
//
//	d, err := pipedispatch.New(pipe,
//	    pipedispatch.WithLogger(logger),
//	    pipedispatch.WithErrorHandler(func(err error) {
//	        logger.Error("handler failed", zap.Error(err))
//	    }),
//	)
//	if err != nil {
//	    return err
//	}
//	defer d.Close()
func New(pipe Pipe, opts ...Option) (*Dispatcher, error) {
	d := &Dispatcher{}
	if err := d.init(pipe, false, opts); err != nil {
		return nil, err
	}
	d.working.Store(true)
	return d, nil
}

// Run drives the pipe until Shutdown is called or ctx is done. Both are
// checked only between passes: a batch of pending messages is always
// drained completely. Handler failures never stop Run.
//
// Run returns nil after Shutdown, ctx.Err() on cancellation and ErrClosed
// once the dispatcher has been closed.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.log.Debug("drive loop started")
	defer d.log.Debug("drive loop stopped")

	for d.working.Load() {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := d.pass(ctx, LockDefault)
		if err != nil {
			return err
		}
		d.idle(ctx, n, nil)
	}
	return nil
}

// Poll runs a single pass: it pumps the pipe once and drains every pending
// message. It returns the number of messages drained. Use it to drive the
// dispatcher from an existing frame loop; it ignores Shutdown.
func (d *Dispatcher) Poll(ctx context.Context) (int, error) {
	return d.pass(ctx, LockDefault)
}

// Close shuts the dispatcher down and releases its receive buffer. If a pass
// is running on another goroutine, Close waits for it to finish. Calling
// Close from inside a handler deadlocks.
func (d *Dispatcher) Close() error {
	d.Shutdown()
	if err := d.release(); err != nil {
		return err
	}
	d.log.Debug("dispatcher closed", zap.Int("pending_call_results", d.PendingCallResults()))
	return nil
}
