package pipedispatch

import (
	"context"
	"errors"
	"testing"
)

func inspect(t *testing.T, raw string) View {
	t.Helper()
	view, err := JSONInspector().Inspect([]byte(raw))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return view
}

func TestHasFields(t *testing.T) {
	view := inspect(t, `{
		"lobby": "ranked-1",
		"member": {"steamId": "76561197960287930"}
	}`)

	t.Run("matches when all fields present", func(t *testing.T) {
		if !HasFields("lobby", "member").Match(view) {
			t.Error("expected match")
		}
	})

	t.Run("matches nested fields", func(t *testing.T) {
		if !HasFields("lobby", "member.steamId").Match(view) {
			t.Error("expected match")
		}
	})

	t.Run("fails when any field missing", func(t *testing.T) {
		if HasFields("lobby", "missing").Match(view) {
			t.Error("expected no match")
		}
	})

	t.Run("matches with no fields", func(t *testing.T) {
		if !HasFields().Match(view) {
			t.Error("expected match for empty field list")
		}
	})
}

func TestFieldEquals(t *testing.T) {
	view := inspect(t, `{"kind": "ranked", "members": 4}`)

	t.Run("matches exact string value", func(t *testing.T) {
		if !FieldEquals("kind", "ranked").Match(view) {
			t.Error("expected match")
		}
	})

	t.Run("fails on wrong value", func(t *testing.T) {
		if FieldEquals("kind", "casual").Match(view) {
			t.Error("expected no match")
		}
	})

	t.Run("fails on missing field", func(t *testing.T) {
		if FieldEquals("missing", "ranked").Match(view) {
			t.Error("expected no match")
		}
	})

	t.Run("fails on non-string value", func(t *testing.T) {
		if FieldEquals("members", "4").Match(view) {
			t.Error("expected no match for number")
		}
	})
}

func TestTypedMatchers(t *testing.T) {
	view := inspect(t, `{"kind": "ranked", "slots": 4, "ratio": 0.5, "joinable": true, "locked": false}`)

	tests := map[string]struct {
		m    Matcher
		want bool
	}{
		"in":               {FieldIn("kind", "casual", "ranked"), true},
		"not in":           {FieldIn("kind", "casual"), false},
		"in empty":         {FieldIn("kind"), false},
		"in non-string":    {FieldIn("slots", "4"), false},
		"int equals":       {IntEquals("slots", 4), true},
		"int differs":      {IntEquals("slots", 5), false},
		"int on fraction":  {IntEquals("ratio", 0), false},
		"int on string":    {IntEquals("kind", 0), false},
		"true":             {IsTrue("joinable"), true},
		"false":            {IsTrue("locked"), false},
		"true on non-bool": {IsTrue("slots"), false},
		"true on missing":  {IsTrue("missing"), false},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := tt.m.Match(view); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCombinators(t *testing.T) {
	view := inspect(t, `{"kind": "ranked", "region": "eu"}`)
	yes := FieldEquals("kind", "ranked")
	no := FieldEquals("kind", "casual")

	tests := map[string]struct {
		m    Matcher
		want bool
	}{
		"and all":       {And(yes, HasFields("region")), true},
		"and one false": {And(yes, no), false},
		"and empty":     {And(), true},
		"or one true":   {Or(no, yes), true},
		"or none":       {Or(no, no), false},
		"or empty":      {Or(), false},
		"not":           {Not(no), true},
		"not not":       {Not(Not(yes)), true},
		"func":          {MatcherFunc(func(v View) bool { return v.HasField("region") }), true},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			if got := tt.m.Match(view); got != tt.want {
				t.Errorf("Match() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFiltered(t *testing.T) {
	ctx := context.Background()

	var got []string
	inner := NewFunc(507, 9, func(_ context.Context, payload []byte, _ bool) error {
		got = append(got, string(payload))
		return nil
	})
	f := Filter(inner, FieldEquals("kind", "ranked"))

	t.Run("carries inner identity", func(t *testing.T) {
		if f.EventType() != 507 || f.CallHandle() != 9 {
			t.Errorf("identity = (%d, %d), want (507, 9)", f.EventType(), f.CallHandle())
		}
	})

	t.Run("forwards matching payloads", func(t *testing.T) {
		got = nil
		if err := f.Invoke(ctx, []byte(`{"kind":"ranked"}`), false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(got) != 1 {
			t.Errorf("inner invoked %d times, want 1", len(got))
		}
	})

	t.Run("skips other payloads", func(t *testing.T) {
		got = nil
		for _, raw := range []string{`{"kind":"casual"}`, `not json`, ``} {
			if err := f.Invoke(ctx, []byte(raw), false); err != nil {
				t.Errorf("Invoke(%q) error: %v", raw, err)
			}
		}
		if len(got) != 0 {
			t.Errorf("inner invoked %d times, want 0", len(got))
		}
	})

	t.Run("forwards failed deliveries uninspected", func(t *testing.T) {
		var failed []bool
		f := Filter(NewFunc(7, 3, func(_ context.Context, _ []byte, ioFailed bool) error {
			failed = append(failed, ioFailed)
			return nil
		}), HasFields("ok"))

		for _, raw := range [][]byte{[]byte("garbage"), nil, []byte(`{"other":1}`)} {
			if err := f.Invoke(ctx, raw, true); err != nil {
				t.Errorf("Invoke(%q) error: %v", raw, err)
			}
		}
		if len(failed) != 3 {
			t.Fatalf("inner invoked %d times, want 3", len(failed))
		}
		for i, v := range failed {
			if !v {
				t.Errorf("invocation %d: ioFailed = false, want true", i)
			}
		}
	})

	t.Run("returns inner error", func(t *testing.T) {
		boom := errors.New("boom")
		f := Filter(NewFunc(1, InvalidCall, func(context.Context, []byte, bool) error { return boom }), HasFields())
		if err := f.Invoke(ctx, []byte(`{}`), false); !errors.Is(err, boom) {
			t.Errorf("error = %v, want %v", err, boom)
		}
	})

	t.Run("custom inspector", func(t *testing.T) {
		always := inspectorFunc(func([]byte) (View, error) { return nil, nil })
		called := false
		f := FilterWith(always, NewFunc(1, InvalidCall, func(context.Context, []byte, bool) error {
			called = true
			return nil
		}), MatcherFunc(func(View) bool { return true }))

		if err := f.Invoke(ctx, []byte("binary\x00"), false); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !called {
			t.Error("expected inner handler to run")
		}
	})
}

type inspectorFunc func([]byte) (View, error)

func (f inspectorFunc) Inspect(b []byte) (View, error) { return f(b) }
