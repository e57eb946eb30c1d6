package pipedispatch

import (
	"context"
	"runtime"

	"go.uber.org/zap"
)

// Concurrent is the process-wide dispatcher. Its drive loop runs on a
// background goroutine while handlers may be registered and unregistered
// from any goroutine.
//
// There is at most one Concurrent per process. Create it with Initialize or
// StartThread, reach it with Current, and tear it down with Destroy (or tie
// it to a Guard). The lifecycle functions are not safe for concurrent use
// with each other: the owning code must serialize them.
type Concurrent struct {
	core

	ctx    context.Context
	cancel context.CancelFunc
	mode   LockMode
	done   chan struct{}
}

var current *Concurrent

// Initialize creates the process-wide dispatcher for pipe if none exists and
// returns it. If one already exists it is returned unchanged, and pipe and
// opts are ignored.
func Initialize(pipe Pipe, opts ...Option) (*Concurrent, error) {
	if current != nil {
		return current, nil
	}
	c := &Concurrent{}
	if err := c.init(pipe, true, opts); err != nil {
		return nil, err
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	current = c
	return c, nil
}

// Current returns the process-wide dispatcher, or nil if there is none.
func Current() *Concurrent { return current }

// StartThread initializes the process-wide dispatcher if needed and, unless
// its drive loop is already running, starts one in the given lock mode.
func StartThread(pipe Pipe, mode LockMode, opts ...Option) (*Concurrent, error) {
	c, err := Initialize(pipe, opts...)
	if err != nil {
		return nil, err
	}
	c.start(mode)
	return c, nil
}

// Destroy stops the process-wide dispatcher, waits for its drive loop to
// exit, releases its buffer and clears the slot. Handlers still running
// see their context cancelled. Destroy is a no-op when there is no
// dispatcher. Calling it from inside a handler deadlocks.
func Destroy() error {
	c := current
	if c == nil {
		return nil
	}
	current = nil

	c.Shutdown()
	c.cancel()
	c.Wait()
	if err := c.release(); err != nil {
		return err
	}
	c.log.Debug("dispatcher destroyed", zap.Int("pending_call_results", c.PendingCallResults()))
	return nil
}

// Running reports whether the drive loop has been started and not shut
// down.
func (c *Concurrent) Running() bool { return c.working.Load() }

// Mode returns the lock mode of the most recently started drive loop.
func (c *Concurrent) Mode() LockMode { return c.mode }

// Wait blocks until the drive loop goroutine has exited. It returns
// immediately if no loop was ever started.
func (c *Concurrent) Wait() {
	if c.done != nil {
		<-c.done
	}
}

func (c *Concurrent) start(mode LockMode) {
	if c.working.Load() {
		return
	}
	// A loop that was shut down may still be draining its last batch.
	c.Wait()

	c.mode = mode
	c.working.Store(true)
	c.done = make(chan struct{})
	go c.loop(mode, c.done)
}

func (c *Concurrent) loop(mode LockMode, done chan struct{}) {
	defer close(done)

	c.log.Debug("drive loop started", zap.Stringer("mode", mode))
	defer c.log.Debug("drive loop stopped", zap.Stringer("mode", mode))

	for c.working.Load() {
		n, err := c.pass(c.ctx, mode)
		if err != nil {
			return
		}
		c.idle(c.ctx, n, runtime.Gosched)
	}
}
