package physics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TFMV/flowboard/models"
)

func sample() ([]models.NodeRecord, []models.LinkRecord) {
	nodes := []models.NodeRecord{
		{Key: -1, Loc: "100 100", Category: models.CategoryStart},
		{Key: 0, Text: "Shopping"},
		{Key: 1, Text: "Browse Items"},
		{Key: 2, Text: "Search Items"},
	}
	links := []models.LinkRecord{
		{Key: -1, From: -1, To: 0},
		{Key: -2, From: 0, To: 1},
		{Key: -3, From: 0, To: 2},
		{Key: -4, From: 2, To: 2},
	}
	return nodes, links
}

func TestForceLayoutFillsMissingLocations(t *testing.T) {
	nodes, links := sample()
	opts := DefaultOptions()

	out := Layout(NewForceDirectedLayout(opts.Seed), nodes, links, opts)
	require.Len(t, out, len(nodes))

	assert.Equal(t, "100 100", out[0].Loc, "pinned node keeps its location")
	assert.Empty(t, nodes[1].Loc, "input is not modified")

	seen := map[string]bool{}
	for _, n := range out {
		p, err := n.Location()
		require.NoError(t, err, "node %d", n.Key)
		assert.Equal(t, p.Floor(), p, "locations are floored")
		if n.Key == -1 {
			continue
		}
		assert.True(t, opts.Bounds.Contains(models.Rect{X: p.X, Y: p.Y}), "node %d at %v", n.Key, p)
		assert.False(t, seen[n.Loc], "node %d overlaps another", n.Key)
		seen[n.Loc] = true
	}
}

func TestForceLayoutIsDeterministic(t *testing.T) {
	nodes, links := sample()
	opts := DefaultOptions()

	a := Layout(NewForceDirectedLayout(7), nodes, links, opts)
	b := Layout(NewForceDirectedLayout(7), nodes, links, opts)
	assert.Equal(t, a, b)
}

func TestForceLayoutStopsAtIterationCap(t *testing.T) {
	nodes, links := sample()
	fd := NewForceDirectedLayout(1)
	fd.SetLimits(3, 1e-12)
	fd.Initialize(nodes, links, DefaultOptions().Bounds)

	steps := 0
	for !fd.Step() {
		steps++
		require.LessOrEqual(t, steps, 3)
	}
	assert.Equal(t, 3, steps)
	assert.True(t, fd.Step(), "exhausted layout reports stable")
}

func TestLayoutSkipsPlacedDatasets(t *testing.T) {
	nodes := []models.NodeRecord{{Key: 1, Loc: "1 2"}, {Key: 2, Loc: "3 4"}}
	fd := NewForceDirectedLayout(1)

	out := Layout(fd, nodes, nil, DefaultOptions())
	assert.Equal(t, nodes, out)
	assert.False(t, NeedsLayout(out))
}

func TestCircleLayout(t *testing.T) {
	nodes, links := sample()
	opts := DefaultOptions()

	out := Layout(NewCircleLayout(), nodes, links, opts)
	assert.Equal(t, "100 100", out[0].Loc)
	// First free node sits at angle zero, radius 0.4 * min side.
	assert.Equal(t, "740 300", out[1].Loc)
	for _, n := range out {
		assert.True(t, n.HasLocation())
	}
}

func TestGetLayoutAlgorithm(t *testing.T) {
	for name, want := range map[string]string{
		"":       "Force-Directed Layout",
		"force":  "Force-Directed Layout",
		"circle": "Circle Layout",
	} {
		algo, err := GetLayoutAlgorithm(name, 1)
		require.NoError(t, err)
		assert.Equal(t, want, algo.GetName())
	}

	_, err := GetLayoutAlgorithm("voronoi", 1)
	assert.Error(t, err)
}
