package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/bjaus/pipedispatch"
	"github.com/bjaus/pipedispatch/pipetest"
)

// registrar is the registration half shared by both dispatcher variants.
type registrar interface {
	RegisterCallback(h pipedispatch.Handler)
	RegisterCallResult(h pipedispatch.Handler)
}

// simulator registers handlers for a script, feeds the script to a pipe and
// counts what was delivered.
type simulator struct {
	script *script
	fields []string
	insp   pipedispatch.Inspector
	log    *zap.Logger

	mu        sync.Mutex
	out       io.Writer
	messages  int // posted to the pipe
	settled   int // delivered or found unhandled
	expected  int // deliveries to registered handlers
	delivered int
	ioFailed  int
	unhandled int
	failures  int
	done      chan struct{}
}

func newSimulator(s *script, fields []string, out io.Writer, log *zap.Logger) *simulator {
	sim := &simulator{
		script: s,
		fields: fields,
		insp:   pipedispatch.JSONInspector(),
		log:    log,
		out:    out,
		done:   make(chan struct{}),
	}
	for _, m := range s.Messages {
		sim.messages += m.count()
	}
	sim.expected = sim.messages
	for _, c := range s.Calls {
		sim.messages++
		if c.Register {
			sim.expected++
		}
	}
	return sim
}

// options returns the dispatcher options that feed the simulator's counters.
func (s *simulator) options() []pipedispatch.Option {
	return []pipedispatch.Option{
		pipedispatch.WithOnUnhandled(func(_ context.Context, d pipedispatch.Delivery) {
			s.mu.Lock()
			defer s.mu.Unlock()
			fmt.Fprintf(s.out, "unhandled %s type=%d call=%d\n", d.Kind, d.EventType, d.Call)
			s.unhandled++
			s.settle()
		}),
		pipedispatch.WithErrorHandler(func(err error) {
			s.mu.Lock()
			s.failures++
			s.mu.Unlock()
			s.log.Warn("dispatch error", zap.Error(err))
		}),
	}
}

// register installs one broadcast handler per distinct message type and one
// call-result handler per registered call. It must run before feed.
func (s *simulator) register(r registrar, pipe *pipetest.Pipe) []pipedispatch.CallHandle {
	seen := make(map[int32]bool)
	for _, m := range s.script.Messages {
		if seen[m.Type] {
			continue
		}
		seen[m.Type] = true
		r.RegisterCallback(pipedispatch.NewFunc(m.Type, pipedispatch.InvalidCall, s.observeCallback(m.Type)))
	}

	calls := make([]pipedispatch.CallHandle, len(s.script.Calls))
	for i, c := range s.script.Calls {
		calls[i] = pipe.NewCall()
		if c.Register {
			r.RegisterCallResult(pipedispatch.NewFunc(c.Type, calls[i], s.observeCall(calls[i], c.Type)))
		}
	}
	return calls
}

// feed posts every message and completes every call, in script order.
func (s *simulator) feed(pipe *pipetest.Pipe, calls []pipedispatch.CallHandle) {
	for _, m := range s.script.Messages {
		payload, _ := decodePayload(m.Payload, m.PayloadHex)
		for range m.count() {
			pipe.Post(m.Type, payload)
		}
	}
	for i, c := range s.script.Calls {
		payload, _ := decodePayload(c.Payload, c.PayloadHex)
		pipe.Complete(calls[i], c.Type, payload, c.Failed)
	}
}

func (s *simulator) observeCallback(eventType int32) func(context.Context, []byte, bool) error {
	return func(_ context.Context, payload []byte, _ bool) error {
		s.record(fmt.Sprintf("callback type=%d size=%d%s", eventType, len(payload), s.describe(payload)), false)
		return nil
	}
}

func (s *simulator) observeCall(call pipedispatch.CallHandle, eventType int32) func(context.Context, []byte, bool) error {
	return func(_ context.Context, payload []byte, ioFailed bool) error {
		s.record(fmt.Sprintf("call_result type=%d call=%d size=%d io_failed=%t%s",
			eventType, call, len(payload), ioFailed, s.describe(payload)), ioFailed)
		return nil
	}
}

func (s *simulator) record(line string, ioFailed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintln(s.out, line)
	s.delivered++
	if ioFailed {
		s.ioFailed++
	}
	s.settle()
}

// settle counts one message as fully handled. Callers hold s.mu.
func (s *simulator) settle() {
	s.settled++
	if s.settled == s.messages {
		close(s.done)
	}
}

// describe renders the configured fields of a JSON payload.
func (s *simulator) describe(payload []byte) string {
	if len(s.fields) == 0 {
		return ""
	}
	view, err := s.insp.Inspect(payload)
	if err != nil {
		return " (not json)"
	}
	var b strings.Builder
	for _, f := range s.fields {
		raw, ok := view.GetBytes(f)
		if !ok {
			continue
		}
		fmt.Fprintf(&b, " %s=%s", f, raw)
	}
	return b.String()
}

// wait blocks until every expected delivery was observed or ctx is done.
func (s *simulator) wait(ctx context.Context) error {
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		defer s.mu.Unlock()
		return fmt.Errorf("%d of %d messages settled: %w", s.settled, s.messages, ctx.Err())
	}
}

func (s *simulator) report() {
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "delivered %d/%d, io_failed %d, unhandled %d, errors %d\n",
		s.delivered, s.expected, s.ioFailed, s.unhandled, s.failures)
}
