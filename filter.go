package pipedispatch

import "context"

// Matcher decides from a payload View whether a filtered handler should run.
type Matcher interface {
	Match(v View) bool
}

// MatcherFunc adapts a function to Matcher.
type MatcherFunc func(v View) bool

// Match implements Matcher.
func (f MatcherFunc) Match(v View) bool { return f(v) }

// HasFields returns a Matcher that matches when all paths exist.
func HasFields(paths ...string) Matcher {
	return hasFields{paths: paths}
}

type hasFields struct {
	paths []string
}

func (m hasFields) Match(v View) bool {
	for _, p := range m.paths {
		if !v.HasField(p) {
			return false
		}
	}
	return true
}

// FieldEquals returns a Matcher that matches when the path exists and holds
// the given string value.
func FieldEquals(path, value string) Matcher {
	return fieldEquals{path: path, value: value}
}

type fieldEquals struct {
	path  string
	value string
}

func (m fieldEquals) Match(v View) bool {
	s, ok := v.GetString(m.path)
	return ok && s == m.value
}

// FieldIn returns a Matcher that matches when the string at path is one of
// values.
func FieldIn(path string, values ...string) Matcher {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return MatcherFunc(func(v View) bool {
		s, ok := v.GetString(path)
		if !ok {
			return false
		}
		_, found := set[s]
		return found
	})
}

// IntEquals returns a Matcher that matches when path holds the integer n.
func IntEquals(path string, n int64) Matcher {
	return MatcherFunc(func(v View) bool {
		got, ok := v.GetInt(path)
		return ok && got == n
	})
}

// IsTrue returns a Matcher that matches when path holds JSON true.
func IsTrue(path string) Matcher {
	return MatcherFunc(func(v View) bool {
		b, ok := v.GetBool(path)
		return ok && b
	})
}

// And returns a Matcher that matches when all matchers match.
func And(ms ...Matcher) Matcher {
	return MatcherFunc(func(v View) bool {
		for _, m := range ms {
			if !m.Match(v) {
				return false
			}
		}
		return true
	})
}

// Or returns a Matcher that matches when any matcher matches.
func Or(ms ...Matcher) Matcher {
	return MatcherFunc(func(v View) bool {
		for _, m := range ms {
			if m.Match(v) {
				return true
			}
		}
		return false
	})
}

// Not inverts m.
func Not(m Matcher) Matcher {
	return MatcherFunc(func(v View) bool { return !m.Match(v) })
}

// Filtered is a Handler that forwards to another handler only when the
// payload matches. It carries the wrapped handler's identity but is itself
// the registered value: unregister the *Filtered, not the inner handler.
type Filtered struct {
	_         noCopy
	inner     Handler
	inspector Inspector
	match     Matcher
}

// Filter wraps h so it only runs for JSON payloads accepted by m. Payloads
// that are not valid JSON are skipped. Failed deliveries (ioFailed) are
// always forwarded.
//
// Registered with RegisterCallResult, a filtered handler is removed once its
// call resolves whether or not the result matched, so a skipped result is
// consumed.
//
//	h := pipedispatch.Filter(onLobbyChat, pipedispatch.FieldEquals("lobby.kind", "ranked"))
//	d.RegisterCallback(h)
func Filter(h Handler, m Matcher) *Filtered {
	return FilterWith(JSONInspector(), h, m)
}

// FilterWith is Filter with a custom Inspector.
func FilterWith(insp Inspector, h Handler, m Matcher) *Filtered {
	return &Filtered{inner: h, inspector: insp, match: m}
}

// EventType implements Handler.
func (f *Filtered) EventType() int32 { return f.inner.EventType() }

// CallHandle implements Handler.
func (f *Filtered) CallHandle() CallHandle { return f.inner.CallHandle() }

// Invoke implements Handler. A skipped payload is not an error.
func (f *Filtered) Invoke(ctx context.Context, payload []byte, ioFailed bool) error {
	if ioFailed {
		return f.inner.Invoke(ctx, payload, ioFailed)
	}
	view, err := f.inspector.Inspect(payload)
	if err != nil || !f.match.Match(view) {
		return nil
	}
	return f.inner.Invoke(ctx, payload, ioFailed)
}
