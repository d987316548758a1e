package ingest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/flowboard/models"
)

func TestShoppingFlow(t *testing.T) {
	ds := ShoppingFlow()

	require.Len(t, ds.Nodes, 9)
	require.Len(t, ds.Links, 15)
	require.NoError(t, models.Validate(ds.Nodes, ds.Links), "no dangling references")
	assert.Empty(t, models.CheckWellFormed(ds.Nodes))
	assert.Equal(t, models.GraphMetadata{"prop": "value"}, ds.ModelData)

	wantKeys := []int{-1, 0, 1, 2, 3, 4, 5, 6, -2}
	for i, n := range ds.Nodes {
		assert.Equal(t, wantKeys[i], n.Key)
		_, err := n.Location()
		assert.NoError(t, err, "node %d", n.Key)
	}
	assert.Equal(t, models.CategoryStart, ds.Nodes[0].Category)
	assert.Equal(t, models.CategoryEnd, ds.Nodes[8].Category)
	assert.Equal(t, "661 17", ds.Nodes[5].Loc)

	progress := 0
	for i, l := range ds.Links {
		assert.Equal(t, -(i + 1), l.Key)
		if l.Progress {
			progress++
		}
	}
	assert.Equal(t, 8, progress)

	self := ds.Links[5]
	assert.Equal(t, 2, self.From)
	assert.Equal(t, 2, self.To)
	assert.Equal(t, "Another search", self.Text)
	assert.Equal(t, 20.0, self.Curve())
	assert.Equal(t, -150.0, ds.Links[9].Curve())
	assert.Nil(t, ds.Links[0].Curviness)

	other := ShoppingFlow()
	other.Nodes[0].Loc = "0 0"
	assert.Equal(t, "155 -138", ShoppingFlow().Nodes[0].Loc, "each call returns a fresh copy")
}

func TestJSONProcessor(t *testing.T) {
	data := []byte(`{
		"class": "GraphLinksModel",
		"nodeDataArray": [{"key": 1, "loc": "0 0", "category": "start"}, {"text": "keyless"}],
		"linkDataArray": [{"key": -1, "from": 1, "to": -1}, {"from": -1, "to": 1, "progress": true}]
	}`)

	ds, err := NewJSONProcessor().ProcessData(data)
	require.NoError(t, err)
	require.Len(t, ds.Nodes, 2)
	assert.Equal(t, models.CategoryStart, ds.Nodes[0].Category)
	assert.Equal(t, -1, ds.Nodes[1].Key)
	assert.Equal(t, -2, ds.Links[1].Key, "skips the key already in use")
	assert.True(t, bool(ds.Links[1].Progress))

	_, err = NewJSONProcessor().ProcessData([]byte(`{"class": "TreeModel"}`))
	assert.Error(t, err)
	_, err = NewJSONProcessor().ProcessData([]byte(`{"linkDataArray": [{"from": 1}]}`))
	assert.ErrorIs(t, err, models.ErrDanglingLink)
	_, err = NewJSONProcessor().ProcessData([]byte(`{`))
	assert.Error(t, err)
}

func TestYAMLProcessor(t *testing.T) {
	data := []byte(`
nodes:
  - {key: 0, loc: "10 20", text: Shopping}
  - {key: 1, text: Browse}
links:
  - {from: 0, to: 1, text: Browse, progress: "true", curviness: 15}
modelData:
  prop: value
`)
	ds, err := NewYAMLProcessor().ProcessData(data)
	require.NoError(t, err)
	require.Len(t, ds.Links, 1)
	assert.Equal(t, -1, ds.Links[0].Key)
	assert.True(t, bool(ds.Links[0].Progress))
	assert.Equal(t, 15.0, ds.Links[0].Curve())
	assert.Equal(t, "value", ds.ModelData["prop"])
}

func TestCSVProcessor(t *testing.T) {
	data := []byte("from,to,text,progress,curviness\n" +
		"Start,Shopping,Visit online store,,\n" +
		"Shopping,Browse Items,Browse,true,\n" +
		"Browse Items,Browse Items,Again,,20\n" +
		"Browse Items,End,Done,true,\n")

	ds, err := NewCSVProcessor().ProcessData(data)
	require.NoError(t, err)
	require.Len(t, ds.Nodes, 4)
	require.Len(t, ds.Links, 4)
	assert.Equal(t, models.CategoryStart, ds.Nodes[0].Category)
	assert.Equal(t, "Shopping", ds.Nodes[1].Text)
	assert.Equal(t, models.CategoryEnd, ds.Nodes[3].Category)
	assert.True(t, bool(ds.Links[1].Progress))
	assert.Equal(t, 20.0, ds.Links[2].Curve())
	assert.Equal(t, ds.Links[2].From, ds.Links[2].To)

	_, err = NewCSVProcessor().ProcessData([]byte("a,b\n1,2\n"))
	assert.Error(t, err)
	_, err = NewCSVProcessor().ProcessData([]byte("from,to,progress\na,b,maybe\n"))
	assert.Error(t, err)
}

func TestTextProcessor(t *testing.T) {
	data := []byte(`
# shopping
Start -> Shopping : Visit online store
Shopping => Browse Items : Browse
Browse Items -> Shopping
`)
	ds, err := NewTextProcessor().ProcessData(data)
	require.NoError(t, err)
	require.Len(t, ds.Nodes, 3)
	require.Len(t, ds.Links, 3)
	assert.Equal(t, "Visit online store", ds.Links[0].Text)
	assert.False(t, bool(ds.Links[0].Progress))
	assert.True(t, bool(ds.Links[1].Progress))
	assert.Empty(t, ds.Links[2].Text)
	assert.Equal(t, 2, ds.Links[2].From)

	_, err = NewTextProcessor().ProcessData([]byte("not a transition\n"))
	assert.Error(t, err)
}

func TestParseLaysOutMissingLocations(t *testing.T) {
	ds, err := Parse([]byte("Start -> Shopping\nShopping => End\n"), "text")
	require.NoError(t, err)
	for _, n := range ds.Nodes {
		_, err := n.Location()
		assert.NoError(t, err, "node %d", n.Key)
	}
	assert.NotNil(t, ds.ModelData)

	_, err = Parse([]byte(`{"nodeDataArray":[{"key":1},{"key":1}]}`), "json")
	assert.ErrorIs(t, err, models.ErrDuplicateKey)

	_, err = Parse(nil, "xml")
	assert.Error(t, err)
}

func TestParseWithLayout(t *testing.T) {
	flow := []byte("Start -> Shopping\nShopping => End\n")

	ds, err := ParseWithLayout(flow, "text", "circle")
	require.NoError(t, err)
	require.Len(t, ds.Nodes, 3)
	assert.Equal(t, "740 300", ds.Nodes[0].Loc)

	_, err = ParseWithLayout(flow, "text", "voronoi")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "flow.txt")
	require.NoError(t, os.WriteFile(path, flow, 0o600))
	loaded, err := LoadWithLayout(path, "circle")
	require.NoError(t, err)
	assert.Equal(t, ds, loaded)
}

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	ds := ShoppingFlow()

	for _, name := range []string{"flow.json", "flow.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			require.NoError(t, Save(path, ds))

			loaded, err := Load(path)
			require.NoError(t, err)
			assert.Equal(t, ds, loaded)
		})
	}

	data, err := os.ReadFile(filepath.Join(dir, "flow.json"))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"class": "GraphLinksModel"`)
	assert.Contains(t, string(data), `"linkKeyProperty": "key"`)
	assert.Contains(t, string(data), `"progress": true`)

	_, err = Load(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}
