package models

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParsePoint(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Point
		wantErr bool
	}{
		{name: "integers", input: "661 17", want: Point{X: 661, Y: 17}},
		{name: "negative", input: "155 -138", want: Point{X: 155, Y: -138}},
		{name: "fractional", input: "1.5 2.25", want: Point{X: 1.5, Y: 2.25}},
		{name: "extra whitespace", input: "  3   4 ", want: Point{X: 3, Y: 4}},
		{name: "empty", input: "", wantErr: true},
		{name: "one field", input: "12", wantErr: true},
		{name: "three fields", input: "1 2 3", wantErr: true},
		{name: "not a number", input: "a 2", wantErr: true},
		{name: "nan", input: "NaN 2", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePoint(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrMalformedLocation))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPointString(t *testing.T) {
	assert.Equal(t, "861 17", Point{X: 861, Y: 17}.String())
	assert.Equal(t, "-1.5 0", Point{X: -1.5, Y: 0}.String())
	assert.Equal(t, "861 17", Point{X: 661, Y: 17}.Offset(200, 0).String())
	assert.Equal(t, Point{X: 10, Y: -3}, Point{X: 10.9, Y: -2.1}.Floor())
}

func TestProgressJSON(t *testing.T) {
	tests := []struct {
		input string
		want  Progress
	}{
		{`{"progress": true}`, true},
		{`{"progress": "true"}`, true},
		{`{"progress": "false"}`, false},
		{`{"progress": false}`, false},
		{`{"progress": null}`, false},
		{`{}`, false},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var l LinkRecord
			require.NoError(t, json.Unmarshal([]byte(tt.input), &l))
			assert.Equal(t, tt.want, l.Progress)
		})
	}

	var l LinkRecord
	assert.Error(t, json.Unmarshal([]byte(`{"progress": "maybe"}`), &l))

	out, err := json.Marshal(LinkRecord{Key: -1, From: 0, To: 1, Progress: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"key":-1,"from":0,"to":1,"progress":true}`, string(out))

	out, err = json.Marshal(LinkRecord{Key: -1, From: 0, To: 1})
	require.NoError(t, err)
	assert.NotContains(t, string(out), "progress")
}

func TestProgressYAML(t *testing.T) {
	var links []LinkRecord
	src := `
- {key: -1, from: 0, to: 1, progress: "true"}
- {key: -2, from: 1, to: 2, progress: true}
- {key: -3, from: 2, to: 3}
`
	require.NoError(t, yaml.Unmarshal([]byte(src), &links))
	require.Len(t, links, 3)
	assert.True(t, bool(links[0].Progress))
	assert.True(t, bool(links[1].Progress))
	assert.False(t, bool(links[2].Progress))
}

func TestLinkClone(t *testing.T) {
	l := LinkRecord{Key: 1, Curviness: Curviness(20), Points: []float64{1, 2}}
	c := l.Clone()
	*c.Curviness = 5
	c.Points[0] = 9
	assert.Equal(t, 20.0, l.Curve())
	assert.Equal(t, 1.0, l.Points[0])
}

func TestValidate(t *testing.T) {
	nodes := []NodeRecord{
		{Key: 1, Loc: "0 0"},
		{Key: 2, Loc: "10 10"},
	}

	t.Run("valid", func(t *testing.T) {
		links := []LinkRecord{{Key: -1, From: 1, To: 2}, {Key: -2, From: 2, To: 2}}
		assert.NoError(t, Validate(nodes, links))
	})

	t.Run("dangling", func(t *testing.T) {
		err := Validate(nodes, []LinkRecord{{Key: -1, From: 1, To: 7}})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDanglingLink)
		assert.Contains(t, err.Error(), "to 7")
	})

	t.Run("duplicate node key", func(t *testing.T) {
		dup := append(CloneNodes(nodes), NodeRecord{Key: 2})
		err := Validate(dup, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("duplicate link key", func(t *testing.T) {
		err := Validate(nodes, []LinkRecord{{Key: -1, From: 1, To: 2}, {Key: -1, From: 2, To: 1}})
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("malformed location", func(t *testing.T) {
		err := Validate([]NodeRecord{{Key: 1, Loc: "left"}}, nil)
		assert.ErrorIs(t, err, ErrMalformedLocation)
	})

	t.Run("missing location is allowed", func(t *testing.T) {
		assert.NoError(t, Validate([]NodeRecord{{Key: 1}}, nil))
	})
}

func TestCheckWellFormed(t *testing.T) {
	assert.Empty(t, CheckWellFormed([]NodeRecord{{Key: -1, Category: CategoryStart}, {Key: -2, Category: CategoryEnd}}))
	assert.Empty(t, CheckWellFormed([]NodeRecord{{Key: -1, Category: CategoryStart}}))
	assert.Len(t, CheckWellFormed([]NodeRecord{{Key: 0}}), 1)
	assert.Len(t, CheckWellFormed([]NodeRecord{
		{Key: -1, Category: CategoryStart},
		{Key: -2, Category: CategoryEnd},
		{Key: -3, Category: CategoryEnd},
	}), 1)
}

func TestCheckReachability(t *testing.T) {
	nodes := []NodeRecord{
		{Key: -1, Category: CategoryStart},
		{Key: 0, Text: "Shopping"},
		{Key: 1, Text: "Orphan"},
		{Key: -2, Category: CategoryEnd},
	}

	t.Run("connected", func(t *testing.T) {
		links := []LinkRecord{{Key: -1, From: -1, To: 0}, {Key: -2, From: 0, To: 1}, {Key: -3, From: 1, To: -2}}
		assert.Empty(t, CheckReachability(nodes, links))
	})

	t.Run("unreachable and no way into End", func(t *testing.T) {
		links := []LinkRecord{{Key: -1, From: -1, To: 0}, {Key: -2, From: 1, To: 0}}
		warnings := CheckReachability(nodes, links)
		require.Len(t, warnings, 3)
		assert.Contains(t, warnings[0], "has no incoming links")
		assert.Contains(t, warnings[1], `node 1 ("Orphan")`)
		assert.Contains(t, warnings[2], "node -2")
	})

	t.Run("no start", func(t *testing.T) {
		assert.Empty(t, CheckReachability([]NodeRecord{{Key: 0}, {Key: 1}}, nil))
	})
}

func TestMetadataCloneIsDeep(t *testing.T) {
	meta := GraphMetadata{
		"prop":  "value",
		"style": map[string]any{"color": "red"},
		"tags":  []any{"a", map[string]any{"b": 1.0}},
	}
	c := meta.Clone()
	c["style"].(map[string]any)["color"] = "blue"
	c["tags"].([]any)[0] = "z"
	c["tags"].([]any)[1].(map[string]any)["b"] = 2.0

	assert.Equal(t, "red", meta["style"].(map[string]any)["color"])
	assert.Equal(t, "a", meta["tags"].([]any)[0])
	assert.Equal(t, 1.0, meta["tags"].([]any)[1].(map[string]any)["b"])
	assert.Nil(t, GraphMetadata(nil).Clone())
}

func TestQueries(t *testing.T) {
	nodes := []NodeRecord{{Key: 0}, {Key: 1}, {Key: 2}}
	links := []LinkRecord{
		{Key: -1, From: 0, To: 1},
		{Key: -2, From: 1, To: 2},
		{Key: -3, From: 2, To: 2},
		{Key: -4, From: 2, To: 0},
	}

	assert.Equal(t, 1, FindNode(nodes, 1))
	assert.Equal(t, -1, FindNode(nodes, 5))
	assert.Equal(t, 3, FindLink(links, -4))
	assert.Len(t, OutgoingLinks(links, 2), 2)
	assert.Len(t, IncomingLinks(links, 2), 2)
	assert.Equal(t, []int{0, 1, 2}, ConnectedNodes(links, 2))
	assert.Len(t, FilterNodes(nodes, func(n *NodeRecord) bool { return n.Key > 0 }), 2)
	assert.Contains(t, NodeKeys(nodes), 2)
}
