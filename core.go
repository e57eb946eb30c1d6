package pipedispatch

import (
	"context"
	"fmt"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// LockMode selects how the call-result list is locked while a resolved
// result is delivered.
type LockMode uint8

const (
	// LockDefault holds the call-result lock only while matching entries are
	// collected and while each one is erased. Handlers run unlocked and may
	// register or unregister call results themselves.
	LockDefault LockMode = iota

	// LockReadSafe holds the call-result lock across the whole
	// scan-invoke-erase pass for one result. Other goroutines never observe
	// the list mid-delivery, but a handler that touches the call-result list
	// (or calls Shutdown) from inside Invoke deadlocks.
	LockReadSafe
)

func (m LockMode) String() string {
	switch m {
	case LockDefault:
		return "default"
	case LockReadSafe:
		return "readsafe"
	}
	return fmt.Sprintf("LockMode(%d)", uint8(m))
}

type nopLocker struct{}

func (nopLocker) Lock()   {}
func (nopLocker) Unlock() {}

// core is the registration state and drive loop shared by Dispatcher and
// Concurrent. The two lockers are no-ops for the single-goroutine variant.
type core struct {
	pipe Pipe
	log  *zap.Logger
	opts options

	callMu sync.Locker
	calls  callList

	cbMu      sync.Locker
	callbacks callbackList

	working atomic.Bool
	eh      atomic.Pointer[ErrorHandler]

	// passMu is held for each outer pass so the buffer is never released
	// under a running pass.
	passMu sync.Mutex
	buf    *recvBuffer
	closed bool
}

func (c *core) init(pipe Pipe, locked bool, opts []Option) error {
	c.pipe = pipe
	c.opts = buildOptions(opts)
	c.log = c.opts.log
	if locked {
		c.callMu, c.cbMu = new(sync.Mutex), new(sync.Mutex)
	} else {
		c.callMu, c.cbMu = nopLocker{}, nopLocker{}
	}
	if c.opts.errorHandler != nil {
		c.SetErrorHandler(c.opts.errorHandler)
	}

	pipe.InitManualDispatch()

	buf, err := newRecvBuffer(c.opts.bufferSize, c.log)
	if err != nil {
		return err
	}
	c.buf = buf
	c.log.Debug("dispatcher ready", zap.Int("buffer_size", buf.size()))
	return nil
}

// RegisterCallResult adds h to the front of the call-result list. h is
// invoked once, when the call identified by h.CallHandle completes with a
// result of type h.EventType, and is then removed. A nil or non-comparable
// h is refused and reported as ErrInvalidHandler.
func (c *core) RegisterCallResult(h Handler) {
	if !c.admit(h) {
		return
	}
	c.callMu.Lock()
	defer c.callMu.Unlock()
	c.calls.pushFront(h)
}

// RegisterCallback appends h to the broadcast list. h is invoked for every
// message of type h.EventType until it is unregistered. A nil or
// non-comparable h is refused and reported as ErrInvalidHandler.
func (c *core) RegisterCallback(h Handler) {
	if !c.admit(h) {
		return
	}
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.callbacks.add(h)
}

// UnregisterCallResult removes the first call-result registration of h. It
// is a no-op if h is not registered.
func (c *core) UnregisterCallResult(h Handler) {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	c.calls.remove(h)
}

// UnregisterCallback removes the first broadcast registration of h. It is a
// no-op if h is not registered.
func (c *core) UnregisterCallback(h Handler) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	c.callbacks.remove(h)
}

// admit reports whether h can be held in a registration list. Unregister
// compares handlers with ==, which panics for non-comparable dynamic types.
func (c *core) admit(h Handler) bool {
	var err error
	switch {
	case h == nil:
		err = fmt.Errorf("%w: nil", ErrInvalidHandler)
	case !reflect.TypeOf(h).Comparable():
		err = fmt.Errorf("%w: %T is not comparable, register a pointer", ErrInvalidHandler, h)
	default:
		return true
	}
	c.log.Warn("registration refused", zap.Error(err))
	c.report(err)
	return false
}

// Shutdown asks the drive loop to stop. The loop finishes the batch it is
// draining and exits at the top of its next pass. Shutdown does not wait.
func (c *core) Shutdown() {
	c.callMu.Lock()
	c.cbMu.Lock()
	c.working.Store(false)
	c.cbMu.Unlock()
	c.callMu.Unlock()
}

// PendingCallResults returns the number of call-result registrations
// waiting for their result.
func (c *core) PendingCallResults() int {
	c.callMu.Lock()
	defer c.callMu.Unlock()
	return c.calls.len()
}

// Callbacks returns the number of broadcast registrations.
func (c *core) Callbacks() int {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	return c.callbacks.len()
}

// ErrorHandler returns the installed error handler, or nil.
func (c *core) ErrorHandler() ErrorHandler {
	if p := c.eh.Load(); p != nil {
		return *p
	}
	return nil
}

// SetErrorHandler installs fn as the error handler. A nil fn removes it,
// after which handler failures are discarded.
func (c *core) SetErrorHandler(fn ErrorHandler) {
	if fn == nil {
		c.eh.Store(nil)
		return
	}
	c.eh.Store(&fn)
}

// HasErrorHandler reports whether an error handler is installed.
func (c *core) HasErrorHandler() bool { return c.ErrorHandler() != nil }

// pass runs one outer iteration of the drive loop: pump the pipe once, then
// drain every pending message. It returns the number of messages drained.
func (c *core) pass(ctx context.Context, mode LockMode) (int, error) {
	c.passMu.Lock()
	defer c.passMu.Unlock()
	if c.closed {
		return 0, ErrClosed
	}

	c.pipe.RunFrame()

	var n int
	for {
		msg, ok := c.pipe.NextMessage()
		if !ok {
			return n, nil
		}
		n++
		if msg.Type == CallCompletedType {
			c.resolve(ctx, msg, mode)
		} else {
			c.broadcast(ctx, msg)
		}
		c.pipe.FreeLastMessage()
	}
}

// resolve delivers the result announced by a call-completed message.
func (c *core) resolve(ctx context.Context, msg Message, mode LockMode) {
	desc, err := ParseCallCompleted(msg.Payload)
	if err != nil {
		c.log.Warn("malformed call-completed message", zap.Int("size", len(msg.Payload)), zap.Error(err))
		c.report(err)
		return
	}

	d := Delivery{
		Kind:      KindCallResult,
		EventType: desc.EventType,
		Call:      desc.Call,
	}

	var buf []byte
	if uint64(desc.Size) > uint64(c.opts.maxResult) {
		err = fmt.Errorf("%w: %d bytes, limit %d", ErrResultTooLarge, desc.Size, c.opts.maxResult)
		c.log.Warn("call result too large", zap.Uint64("call", uint64(d.Call)), zap.Uint32("size", desc.Size), zap.Error(err))
		c.report(err)
	} else {
		d.Size = int(desc.Size)
		if buf, err = c.buf.ensure(d.Size); err != nil {
			c.log.Warn("cannot hold call result", zap.Uint64("call", uint64(d.Call)), zap.Int("size", d.Size), zap.Error(err))
			c.report(err)
			buf = nil
		}
	}

	var ok bool
	if buf != nil {
		ok, d.IOFailed = c.pipe.CallResult(desc.Call, buf[:d.Size], desc.EventType)
	}
	if !ok {
		c.log.Warn("call result unavailable", zap.Uint64("call", uint64(d.Call)), zap.Int32("type", d.EventType))
		d.IOFailed = true
	}
	var payload []byte
	if buf != nil {
		payload = buf[:d.Size:d.Size]
	}

	c.opts.hooks.message(ctx, d)

	match := func(h Handler) bool {
		return h.CallHandle() == desc.Call && h.EventType() == desc.EventType
	}

	var delivered int
	switch mode {
	case LockReadSafe:
		c.callMu.Lock()
		for _, n := range c.calls.collect(match) {
			c.invoke(ctx, d, n.h, payload)
			c.calls.erase(n)
			delivered++
		}
		c.callMu.Unlock()
	default:
		c.callMu.Lock()
		nodes := c.calls.collect(match)
		c.callMu.Unlock()
		for _, n := range nodes {
			c.invoke(ctx, d, n.h, payload)
			c.callMu.Lock()
			c.calls.erase(n)
			c.callMu.Unlock()
			delivered++
		}
	}

	if delivered == 0 {
		c.opts.hooks.unhandled(ctx, d)
	}
}

// broadcast delivers msg to every callback registered for its type, in
// registration order.
func (c *core) broadcast(ctx context.Context, msg Message) {
	d := Delivery{
		Kind:      KindCallback,
		EventType: msg.Type,
		Size:      len(msg.Payload),
	}
	c.opts.hooks.message(ctx, d)

	c.cbMu.Lock()
	hs := c.callbacks.snapshot()
	c.cbMu.Unlock()

	var delivered int
	for _, h := range hs {
		if h.EventType() != msg.Type {
			continue
		}
		c.invoke(ctx, d, h, msg.Payload)
		delivered++
	}
	if delivered == 0 {
		c.opts.hooks.unhandled(ctx, d)
	}
}

// invoke runs one handler, isolating the loop from its errors and panics.
func (c *core) invoke(ctx context.Context, d Delivery, h Handler, payload []byte) {
	c.opts.hooks.dispatch(ctx, d)

	ctx, end := c.span(ctx, d)
	start := time.Now()
	err := safeInvoke(ctx, h, payload, d.IOFailed)
	duration := time.Since(start)
	end(err)

	if err == nil {
		c.opts.hooks.success(ctx, d, duration)
		return
	}
	c.opts.hooks.failure(ctx, d, err, duration)
	c.report(&HandlerError{Delivery: d, Err: err})
}

func safeInvoke(ctx context.Context, h Handler, payload []byte, ioFailed bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()
	return h.Invoke(ctx, payload, ioFailed)
}

// report forwards err to the error handler, or discards it when none is
// installed.
func (c *core) report(err error) {
	eh := c.ErrorHandler()
	if eh == nil {
		c.log.Debug("dispatch error discarded", zap.Error(err))
		return
	}
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("error handler panicked", zap.Any("panic", r), zap.Error(err))
		}
	}()
	eh(err)
}

// idle waits between passes. A zero idle wait only yields when spin is set.
func (c *core) idle(ctx context.Context, drained int, spin func()) {
	if drained > 0 || c.opts.idleWait <= 0 {
		if spin != nil {
			spin()
		}
		return
	}
	t := time.NewTimer(c.opts.idleWait)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// release frees the receive buffer once no pass is running.
func (c *core) release() error {
	c.passMu.Lock()
	defer c.passMu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	if err := c.buf.release(); err != nil {
		return fmt.Errorf("release receive buffer: %w", err)
	}
	return nil
}
