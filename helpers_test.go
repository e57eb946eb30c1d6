package pipedispatch_test

import (
	"context"
	"sync"

	"github.com/bjaus/pipedispatch"
)

// invocation is one recorded handler call.
type invocation struct {
	name     string
	payload  []byte
	ioFailed bool
}

// recorder collects invocations from handlers built with handler. It is
// safe for use from the drive loop goroutine.
type recorder struct {
	mu    sync.Mutex
	calls []invocation
}

func (r *recorder) handler(name string, eventType int32, call pipedispatch.CallHandle, err error) *pipedispatch.Func {
	return pipedispatch.NewFunc(eventType, call, func(_ context.Context, payload []byte, ioFailed bool) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls = append(r.calls, invocation{
			name:     name,
			payload:  append([]byte(nil), payload...),
			ioFailed: ioFailed,
		})
		return err
	})
}

func (r *recorder) names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.name
	}
	return out
}

func (r *recorder) all() []invocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]invocation(nil), r.calls...)
}

func (r *recorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

// errorSink collects errors passed to an ErrorHandler.
type errorSink struct {
	mu   sync.Mutex
	errs []error
}

func (s *errorSink) handle(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *errorSink) all() []error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]error(nil), s.errs...)
}

func seq(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}
