package pipedispatch

import (
	"testing"

	"github.com/stretchr/testify/suite"
)

type JSONInspectorSuite struct {
	suite.Suite
	inspector Inspector
}

func (s *JSONInspectorSuite) SetupTest() {
	s.inspector = JSONInspector()
}

func TestJSONInspectorSuite(t *testing.T) {
	suite.Run(t, new(JSONInspectorSuite))
}

func (s *JSONInspectorSuite) TestAcceptsValidJSON() {
	for _, raw := range []string{`{"lobby": "ranked-1"}`, `[1, 2]`, `"text"`, `42`} {
		view, err := s.inspector.Inspect([]byte(raw))
		s.Require().NoError(err, raw)
		s.Assert().NotNil(view, raw)
	}
}

func (s *JSONInspectorSuite) TestRejectsInvalidPayloads() {
	for _, raw := range [][]byte{nil, {}, []byte(`{not valid}`), {0x0b, 0, 0, 0}} {
		_, err := s.inspector.Inspect(raw)
		s.Assert().ErrorIs(err, ErrInvalidJSON, "%q", raw)
	}
}

// JSONViewSuite queries one lobby payload.
type JSONViewSuite struct {
	suite.Suite
	view View
}

func (s *JSONViewSuite) SetupTest() {
	view, err := JSONInspector().Inspect([]byte(`{
		"lobby": "ranked-1",
		"owner": {"name": "gaben", "steamId": "76561197960287930"},
		"slots": 4,
		"ratio": 0.5,
		"joinable": true,
		"members": [{"name": "a"}, {"name": "b"}]
	}`))
	s.Require().NoError(err)
	s.view = view
}

func TestJSONViewSuite(t *testing.T) {
	suite.Run(t, new(JSONViewSuite))
}

func (s *JSONViewSuite) TestHasField() {
	tests := map[string]bool{
		"lobby":          true,
		"owner.name":     true,
		"members.1.name": true,
		"members.#":      true,
		"missing":        false,
		"owner.missing":  false,
		"members.5":      false,
	}

	for path, want := range tests {
		s.Run(path, func() {
			s.Assert().Equal(want, s.view.HasField(path))
		})
	}
}

func (s *JSONViewSuite) TestGetString() {
	tests := map[string]struct {
		want string
		ok   bool
	}{
		"lobby":          {"ranked-1", true},
		"owner.steamId":  {"76561197960287930", true},
		"members.0.name": {"a", true},
		"slots":          {"", false},
		"joinable":       {"", false},
		"owner":          {"", false},
		"missing":        {"", false},
	}

	for path, tt := range tests {
		s.Run(path, func() {
			got, ok := s.view.GetString(path)
			s.Assert().Equal(tt.ok, ok)
			s.Assert().Equal(tt.want, got)
		})
	}
}

func (s *JSONViewSuite) TestGetInt() {
	tests := map[string]struct {
		want int64
		ok   bool
	}{
		"slots":     {4, true},
		"members.#": {2, true},
		"ratio":     {0, false},
		"lobby":     {0, false},
		"missing":   {0, false},
	}

	for path, tt := range tests {
		s.Run(path, func() {
			got, ok := s.view.GetInt(path)
			s.Assert().Equal(tt.ok, ok)
			s.Assert().Equal(tt.want, got)
		})
	}
}

func (s *JSONViewSuite) TestGetBool() {
	got, ok := s.view.GetBool("joinable")
	s.Require().True(ok)
	s.Assert().True(got)

	_, ok = s.view.GetBool("slots")
	s.Assert().False(ok)
	_, ok = s.view.GetBool("missing")
	s.Assert().False(ok)
}

func (s *JSONViewSuite) TestGetBytes() {
	tests := map[string]string{
		"lobby":     `"ranked-1"`,
		"slots":     `4`,
		"owner":     `{"name": "gaben", "steamId": "76561197960287930"}`,
		"members.#": `2`,
	}

	for path, want := range tests {
		s.Run(path, func() {
			got, ok := s.view.GetBytes(path)
			s.Require().True(ok)
			s.Assert().Equal(want, string(got))
		})
	}

	_, ok := s.view.GetBytes("missing")
	s.Assert().False(ok)
}
