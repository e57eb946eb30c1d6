package pipedispatch

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type namedHandler struct {
	Record
	name string
}

func (*namedHandler) Invoke(context.Context, []byte, bool) error { return nil }

func named(name string, eventType int32, call CallHandle) *namedHandler {
	return &namedHandler{Record: NewRecord(eventType, call), name: name}
}

func names(hs []Handler) []string {
	out := make([]string, 0, len(hs))
	for _, h := range hs {
		out = append(out, h.(*namedHandler).name)
	}
	return out
}

func TestCallList(t *testing.T) {
	a, b, c := named("a", 1, 10), named("b", 1, 11), named("c", 2, 12)

	fill := func() *callList {
		var l callList
		l.pushFront(a)
		l.pushFront(b)
		l.pushFront(c)
		return &l
	}

	t.Run("push front visits newest first", func(t *testing.T) {
		l := fill()
		if diff := cmp.Diff([]string{"c", "b", "a"}, names(l.handlers())); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
		if l.len() != 3 {
			t.Errorf("len = %d, want 3", l.len())
		}
	})

	t.Run("remove head", func(t *testing.T) {
		l := fill()
		if !l.remove(c) {
			t.Fatal("remove(head) = false")
		}
		if diff := cmp.Diff([]string{"b", "a"}, names(l.handlers())); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("remove middle and tail", func(t *testing.T) {
		l := fill()
		l.remove(b)
		l.remove(a)
		if diff := cmp.Diff([]string{"c"}, names(l.handlers())); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
		if l.len() != 1 {
			t.Errorf("len = %d, want 1", l.len())
		}
	})

	t.Run("remove absent is a no-op", func(t *testing.T) {
		l := fill()
		if l.remove(named("x", 1, 10)) {
			t.Error("remove(absent) = true")
		}
		var empty callList
		if empty.remove(a) {
			t.Error("remove on empty list = true")
		}
		if l.len() != 3 {
			t.Errorf("len = %d, want 3", l.len())
		}
	})

	t.Run("remove drops only the first duplicate", func(t *testing.T) {
		var l callList
		l.pushFront(a)
		l.pushFront(b)
		l.pushFront(a)
		l.remove(a)
		if diff := cmp.Diff([]string{"b", "a"}, names(l.handlers())); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("collect and erase", func(t *testing.T) {
		l := fill()
		nodes := l.collect(func(h Handler) bool { return h.EventType() == 1 })
		if len(nodes) != 2 {
			t.Fatalf("collected %d nodes, want 2", len(nodes))
		}
		for _, n := range nodes {
			if !l.erase(n) {
				t.Errorf("erase(%s) = false", n.h.(*namedHandler).name)
			}
		}
		if l.erase(nodes[0]) {
			t.Error("second erase of the same node = true")
		}
		if diff := cmp.Diff([]string{"c"}, names(l.handlers())); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})
}

func TestCallbackList(t *testing.T) {
	a, b, c, d := named("a", 5, 0), named("b", 5, 0), named("c", 6, 0), named("d", 5, 0)

	t.Run("survivors keep registration order", func(t *testing.T) {
		var l callbackList
		l.add(a)
		l.add(b)
		l.add(c)
		l.add(d)
		l.remove(b)
		l.add(b)
		l.remove(c)

		if diff := cmp.Diff([]string{"a", "d", "b"}, names(l.snapshot())); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("remove absent is a no-op", func(t *testing.T) {
		var l callbackList
		l.add(a)
		if l.remove(b) {
			t.Error("remove(absent) = true")
		}
		if l.len() != 1 {
			t.Errorf("len = %d, want 1", l.len())
		}
	})

	t.Run("remove drops only the first duplicate", func(t *testing.T) {
		var l callbackList
		l.add(a)
		l.add(b)
		l.add(a)
		l.remove(a)
		if diff := cmp.Diff([]string{"b", "a"}, names(l.snapshot())); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("snapshot is unaffected by later mutation", func(t *testing.T) {
		var l callbackList
		l.add(a)
		l.add(b)
		snap := l.snapshot()
		l.remove(a)
		l.add(c)

		if diff := cmp.Diff([]string{"a", "b"}, names(snap)); diff != "" {
			t.Errorf("snapshot changed (-want +got):\n%s", diff)
		}
	})
}
