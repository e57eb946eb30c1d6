package pipedispatch

import "context"

// Handler is the unit of registration.
//
// A handler registered with RegisterCallback is invoked for every message
// whose type equals EventType. A handler registered with RegisterCallResult
// is invoked at most once, when the call identified by CallHandle completes
// with a result of type EventType, and is then removed.
//
// Registrations do not own handlers. The caller keeps the handler alive and
// unregisters it when done; the dispatcher compares handlers by interface
// identity, so register pointers. A handler whose dynamic type is not
// comparable (a struct value holding a slice, map or func) is refused at
// registration and reported as ErrInvalidHandler.
//
// The payload passed to Invoke is only valid for the duration of the call.
// Call-result payloads live in a buffer that the next resolution
// overwrites, so copy anything that must outlive Invoke.
type Handler interface {
	EventType() int32
	CallHandle() CallHandle
	Invoke(ctx context.Context, payload []byte, ioFailed bool) error
}

// noCopy may be embedded into structs which must not be copied after first
// use. See https://golang.org/issues/8005#issuecomment-190753527.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// Record holds the immutable identity of a handler. Embed it in custom
// handler types to satisfy the identity half of Handler:
//
//	type statsHandler struct {
//	    pipedispatch.Record
//	    stats *Stats
//	}
//
//	func newStatsHandler(s *Stats) *statsHandler {
//	    return &statsHandler{Record: pipedispatch.NewRecord(StatsReceived, pipedispatch.InvalidCall), stats: s}
//	}
//
//	func (h *statsHandler) Invoke(ctx context.Context, payload []byte, ioFailed bool) error {
//	    return h.stats.Update(payload)
//	}
type Record struct {
	eventType int32
	call      CallHandle
}

// NewRecord returns the identity for a handler of eventType. Use InvalidCall
// for handlers that are only registered as broadcast callbacks.
func NewRecord(eventType int32, call CallHandle) Record {
	return Record{eventType: eventType, call: call}
}

// EventType implements Handler.
func (r Record) EventType() int32 { return r.eventType }

// CallHandle implements Handler.
func (r Record) CallHandle() CallHandle { return r.call }

// Func is a Handler over the raw payload bytes.
type Func struct {
	_ noCopy
	Record
	fn func(ctx context.Context, payload []byte, ioFailed bool) error
}

// NewFunc returns a Handler that passes the raw payload to fn.
//
//	h := pipedispatch.NewFunc(304, pipedispatch.InvalidCall, func(ctx context.Context, p []byte, _ bool) error {
//	    log.Printf("persona changed: %x", p)
//	    return nil
//	})
//	d.RegisterCallback(h)
func NewFunc(eventType int32, call CallHandle, fn func(ctx context.Context, payload []byte, ioFailed bool) error) *Func {
	return &Func{Record: NewRecord(eventType, call), fn: fn}
}

// Invoke implements Handler.
func (f *Func) Invoke(ctx context.Context, payload []byte, ioFailed bool) error {
	return f.fn(ctx, payload, ioFailed)
}
