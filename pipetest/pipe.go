// Package pipetest provides an in-memory pipedispatch.Pipe for tests and
// simulations.
//
// Messages are queued with Post; asynchronous calls are started with
// NewCall and finished with Complete, which queues the call-completed
// descriptor the way the real service does. The pipe also checks the
// fetch/free contract and records any violation, which Err reports.
package pipetest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/bjaus/pipedispatch"
)

type result struct {
	eventType int32
	payload   []byte
	ioFailed  bool
}

// Pipe is a thread-safe, in-memory pipedispatch.Pipe.
type Pipe struct {
	mu          sync.Mutex
	queue       []pipedispatch.Message
	results     map[pipedispatch.CallHandle]result
	inFlight    bool
	nextCall    pipedispatch.CallHandle
	initialized int
	frames      int
	fetched     int
	freed       int
	onFrame     []func()
	violations  []error
}

var _ pipedispatch.Pipe = (*Pipe)(nil)

// New returns an empty pipe.
func New() *Pipe {
	return &Pipe{results: make(map[pipedispatch.CallHandle]result)}
}

// InitManualDispatch implements pipedispatch.Pipe.
func (p *Pipe) InitManualDispatch() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.initialized++
}

// RunFrame implements pipedispatch.Pipe. Functions registered with OnFrame
// run here, outside the pipe's lock, so they may Post or Complete.
func (p *Pipe) RunFrame() {
	p.mu.Lock()
	p.frames++
	fns := p.onFrame
	p.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

// NextMessage implements pipedispatch.Pipe.
func (p *Pipe) NextMessage() (pipedispatch.Message, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.inFlight {
		p.violate(errors.New("NextMessage called before FreeLastMessage"))
		return pipedispatch.Message{}, false
	}
	if len(p.queue) == 0 {
		return pipedispatch.Message{}, false
	}
	msg := p.queue[0]
	p.inFlight = true
	p.fetched++
	return msg, true
}

// FreeLastMessage implements pipedispatch.Pipe.
func (p *Pipe) FreeLastMessage() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.inFlight {
		p.violate(errors.New("FreeLastMessage called without a fetched message"))
		return
	}
	p.queue[0] = pipedispatch.Message{}
	p.queue = p.queue[1:]
	p.inFlight = false
	p.freed++
}

// CallResult implements pipedispatch.Pipe. It fails when the call has no
// completed result, when the result type differs from expectedType, or when
// dst is too small.
func (p *Pipe) CallResult(call pipedispatch.CallHandle, dst []byte, expectedType int32) (ok, ioFailed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	r, found := p.results[call]
	if !found || r.eventType != expectedType || len(dst) < len(r.payload) {
		return false, false
	}
	delete(p.results, call)
	copy(dst, r.payload)
	return true, r.ioFailed
}

// Post queues a broadcast message. The payload is copied.
func (p *Pipe) Post(eventType int32, payload []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queue = append(p.queue, pipedispatch.Message{
		Type:    eventType,
		Payload: append([]byte(nil), payload...),
	})
}

// PostRaw queues a message exactly as given, including messages with the
// reserved call-completed type.
func (p *Pipe) PostRaw(msg pipedispatch.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	msg.Payload = append([]byte(nil), msg.Payload...)
	p.queue = append(p.queue, msg)
}

// NewCall allocates a fresh call handle.
func (p *Pipe) NewCall() pipedispatch.CallHandle {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextCall++
	return p.nextCall
}

// Complete stores the result of call and queues its call-completed message.
func (p *Pipe) Complete(call pipedispatch.CallHandle, eventType int32, payload []byte, ioFailed bool) {
	desc := pipedispatch.CallCompleted{
		Call:      call,
		EventType: eventType,
		Size:      uint32(len(payload)),
	}
	b, _ := desc.MarshalBinary()

	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[call] = result{
		eventType: eventType,
		payload:   append([]byte(nil), payload...),
		ioFailed:  ioFailed,
	}
	p.queue = append(p.queue, pipedispatch.Message{Type: pipedispatch.CallCompletedType, Payload: b})
}

// OnFrame registers fn to run on every RunFrame.
func (p *Pipe) OnFrame(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onFrame = append(p.onFrame, fn)
}

// Initialized returns how many times InitManualDispatch was called.
func (p *Pipe) Initialized() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.initialized
}

// Frames returns how many times RunFrame was called.
func (p *Pipe) Frames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Fetched returns how many messages were handed out by NextMessage.
func (p *Pipe) Fetched() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fetched
}

// Freed returns how many messages were released with FreeLastMessage.
func (p *Pipe) Freed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.freed
}

// Pending returns the number of queued messages.
func (p *Pipe) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Err returns every contract violation observed so far, joined, or nil.
func (p *Pipe) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return errors.Join(p.violations...)
}

func (p *Pipe) violate(err error) {
	p.violations = append(p.violations, fmt.Errorf("pipe contract: %w", err))
}
