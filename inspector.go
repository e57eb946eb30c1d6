package pipedispatch

import (
	"errors"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when a payload is not valid JSON.
var ErrInvalidJSON = errors.New("invalid JSON")

// Inspector turns a raw payload into a View that Matchers can query.
type Inspector interface {
	Inspect(payload []byte) (View, error)
}

// View answers field queries against one payload without decoding it into a
// Go type. Paths are dotted; the JSON view accepts full gjson syntax.
type View interface {
	// HasField reports whether path exists.
	HasField(path string) bool

	// GetString returns the string at path. It fails for missing paths and
	// for values of any other JSON type.
	GetString(path string) (string, bool)

	// GetInt returns the integer at path. It fails for missing paths,
	// non-numbers and numbers with a fractional part.
	GetInt(path string) (int64, bool)

	// GetBool returns the boolean at path.
	GetBool(path string) (bool, bool)

	// GetBytes returns the raw encoded value at path, quotes included for
	// strings.
	GetBytes(path string) ([]byte, bool)
}

// JSONInspector returns an Inspector for services that post JSON payloads.
// Paths use gjson syntax ("lobby.members.#", "members.0.name").
func JSONInspector() Inspector {
	return jsonInspector{}
}

type jsonInspector struct{}

func (jsonInspector) Inspect(payload []byte) (View, error) {
	if !gjson.ValidBytes(payload) {
		return nil, ErrInvalidJSON
	}
	return jsonView{root: gjson.ParseBytes(payload)}, nil
}

// jsonView resolves every path against one parsed root.
type jsonView struct {
	root gjson.Result
}

func (v jsonView) HasField(path string) bool {
	return v.root.Get(path).Exists()
}

func (v jsonView) GetString(path string) (string, bool) {
	r := v.root.Get(path)
	if r.Type != gjson.String {
		return "", false
	}
	return r.Str, true
}

func (v jsonView) GetInt(path string) (int64, bool) {
	r := v.root.Get(path)
	if r.Type != gjson.Number || r.Num != float64(int64(r.Num)) {
		return 0, false
	}
	return r.Int(), true
}

func (v jsonView) GetBool(path string) (bool, bool) {
	r := v.root.Get(path)
	if !r.IsBool() {
		return false, false
	}
	return r.Bool(), true
}

func (v jsonView) GetBytes(path string) ([]byte, bool) {
	r := v.root.Get(path)
	if !r.Exists() {
		return nil, false
	}
	return []byte(r.Raw), true
}
