// Package physics positions flowchart nodes that were loaded without a
// location. Nodes that already have a location are pinned: they push and pull
// on the others but never move.
package physics

import (
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/TFMV/flowboard/models"
)

// LayoutAlgorithm defines an interface for layout algorithms
type LayoutAlgorithm interface {
	Initialize(nodes []models.NodeRecord, links []models.LinkRecord, bounds models.Rect)
	Step() bool // Returns true if stable, false if needs more steps
	Apply(nodes []models.NodeRecord)
	GetName() string
}

// Options tunes a layout run.
type Options struct {
	Bounds        models.Rect
	MaxIterations int
	Threshold     float64
	Seed          int64
}

// DefaultOptions returns the options used for imported datasets.
func DefaultOptions() Options {
	return Options{
		Bounds:        models.Rect{Width: 1000, Height: 600},
		MaxIterations: 500,
		Threshold:     0.001,
		Seed:          1,
	}
}

// ForceDirectedLayout implements a Fruchterman-Reingold force-directed layout
type ForceDirectedLayout struct {
	bounds          models.Rect
	order           []int
	nodePositions   map[int]position
	nodeVelocities  map[int]velocity
	forces          map[int]force
	pinned          map[int]bool
	edges           map[int]map[int]int // link count between node pairs, both directions
	noise           opensimplex.Noise
	temperature     float64
	k               float64 // optimal distance
	iterations      int
	maxIterations   int
	stable          bool
	energyThreshold float64
	gravity         float64
	repulsionForce  float64
	dampingFactor   float64
	springConstant  float64
	mu              sync.Mutex
}

type force struct {
	fx, fy float64
}

type position struct {
	x, y float64
}

type velocity struct {
	vx, vy float64
}

// NewForceDirectedLayout creates a force-directed layout. Unplaced nodes start
// at positions drawn from simplex noise seeded with seed, so runs are repeatable.
func NewForceDirectedLayout(seed int64) *ForceDirectedLayout {
	return &ForceDirectedLayout{
		bounds:          DefaultOptions().Bounds,
		noise:           opensimplex.New(seed),
		temperature:     10.0,
		maxIterations:   500,
		energyThreshold: 0.001,
		gravity:         0.05,
		repulsionForce:  100.0,
		dampingFactor:   0.9,
		springConstant:  0.04,
	}
}

// GetName returns the name of the layout algorithm
func (fd *ForceDirectedLayout) GetName() string {
	return "Force-Directed Layout"
}

// SetLimits overrides the iteration cap and the stability threshold.
func (fd *ForceDirectedLayout) SetLimits(maxIterations int, threshold float64) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	if maxIterations > 0 {
		fd.maxIterations = maxIterations
	}
	if threshold > 0 {
		fd.energyThreshold = threshold
	}
}

// Initialize sets up the layout algorithm
func (fd *ForceDirectedLayout) Initialize(nodes []models.NodeRecord, links []models.LinkRecord, bounds models.Rect) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	fd.bounds = bounds
	fd.iterations = 0
	fd.stable = false
	fd.order = make([]int, 0, len(nodes))
	fd.nodePositions = make(map[int]position, len(nodes))
	fd.nodeVelocities = make(map[int]velocity, len(nodes))
	fd.forces = make(map[int]force, len(nodes))
	fd.pinned = make(map[int]bool, len(nodes))

	count := math.Max(1, float64(len(nodes)))
	fd.k = math.Sqrt(bounds.Width * bounds.Height / count)

	for _, n := range nodes {
		fd.order = append(fd.order, n.Key)
		if p, err := n.Location(); err == nil {
			fd.nodePositions[n.Key] = position{x: p.X, y: p.Y}
			fd.pinned[n.Key] = true
		} else {
			fd.nodePositions[n.Key] = fd.seedPosition(n.Key)
		}
		fd.nodeVelocities[n.Key] = velocity{}
		fd.forces[n.Key] = force{}
	}
	slices.Sort(fd.order)

	fd.edges = make(map[int]map[int]int)
	for _, l := range links {
		if l.From == l.To {
			continue
		}
		if _, ok := fd.nodePositions[l.From]; !ok {
			continue
		}
		if _, ok := fd.nodePositions[l.To]; !ok {
			continue
		}
		if fd.edges[l.From] == nil {
			fd.edges[l.From] = make(map[int]int)
		}
		if fd.edges[l.To] == nil {
			fd.edges[l.To] = make(map[int]int)
		}
		fd.edges[l.From][l.To]++
		fd.edges[l.To][l.From]++
	}
}

// seedPosition maps a node key to a point inside the bounds using two
// independent noise samples.
func (fd *ForceDirectedLayout) seedPosition(key int) position {
	u := (fd.noise.Eval2(float64(key)*0.7, 0.5) + 1) / 2
	v := (fd.noise.Eval2(0.5, float64(key)*0.7+100) + 1) / 2
	return position{
		x: fd.bounds.X + u*fd.bounds.Width,
		y: fd.bounds.Y + v*fd.bounds.Height,
	}
}

// Step performs one iteration of the layout algorithm
func (fd *ForceDirectedLayout) Step() bool {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	if fd.iterations >= fd.maxIterations || fd.stable {
		return true
	}

	for key := range fd.forces {
		fd.forces[key] = force{}
	}

	centerX := fd.bounds.X + fd.bounds.Width/2
	centerY := fd.bounds.Y + fd.bounds.Height/2
	minSide := math.Max(1, math.Min(fd.bounds.Width, fd.bounds.Height))

	// Repulsion between every pair plus gravity to the centre
	for i, key1 := range fd.order {
		pos1 := fd.nodePositions[key1]

		dx := centerX - pos1.x
		dy := centerY - pos1.y
		distance := math.Max(0.1, math.Hypot(dx, dy))
		gravityFactor := fd.gravity * (distance / minSide)
		fd.addForce(key1, dx*gravityFactor, dy*gravityFactor)

		for _, key2 := range fd.order[i+1:] {
			pos2 := fd.nodePositions[key2]

			dx := pos1.x - pos2.x
			dy := pos1.y - pos2.y
			distance := math.Max(0.1, math.Hypot(dx, dy))
			if dx == 0 && dy == 0 {
				// Coincident nodes get pushed apart along a key-dependent axis
				dx, dy = float64(key1-key2), 1
				distance = math.Hypot(dx, dy)
			}

			// F = k^2 / distance
			repulsiveForce := (fd.k * fd.k / distance) * fd.repulsionForce / 100.0
			dx /= distance
			dy /= distance
			fd.addForce(key1, dx*repulsiveForce, dy*repulsiveForce)
			fd.addForce(key2, -dx*repulsiveForce, -dy*repulsiveForce)
		}
	}

	// Attraction along links, each pair visited once
	for _, key1 := range fd.order {
		for _, key2 := range slices.Sorted(maps.Keys(fd.edges[key1])) {
			if key2 < key1 {
				continue
			}
			count := fd.edges[key1][key2]
			pos1 := fd.nodePositions[key1]
			pos2 := fd.nodePositions[key2]

			dx := pos2.x - pos1.x
			dy := pos2.y - pos1.y
			distance := math.Max(0.1, math.Hypot(dx, dy))

			// F = distance^2 / k, stronger for parallel links
			attractiveForce := distance * distance / fd.k * fd.springConstant * float64(count)
			dx /= distance
			dy /= distance
			fd.addForce(key1, dx*attractiveForce, dy*attractiveForce)
			fd.addForce(key2, -dx*attractiveForce, -dy*attractiveForce)
		}
	}

	// Move free nodes with temperature limiting (simulated annealing)
	totalEnergy := 0.0
	free := 0
	padding := fd.k * 0.25
	for _, key := range fd.order {
		if fd.pinned[key] {
			continue
		}
		free++
		f := fd.forces[key]
		magnitude := math.Hypot(f.fx, f.fy)
		if magnitude > 0 {
			scale := math.Min(magnitude, fd.temperature) / magnitude
			f.fx *= scale
			f.fy *= scale
		}

		v := fd.nodeVelocities[key]
		v.vx = (v.vx + f.fx) * fd.dampingFactor
		v.vy = (v.vy + f.fy) * fd.dampingFactor
		fd.nodeVelocities[key] = v

		pos := fd.nodePositions[key]
		pos.x = clamp(pos.x+v.vx, fd.bounds.X+padding, fd.bounds.Right()-padding)
		pos.y = clamp(pos.y+v.vy, fd.bounds.Y+padding, fd.bounds.Bottom()-padding)
		fd.nodePositions[key] = pos

		totalEnergy += math.Hypot(v.vx, v.vy)
	}

	fd.temperature *= 0.95
	fd.iterations++

	if free == 0 {
		fd.stable = true
	} else {
		fd.stable = totalEnergy/float64(free) < fd.energyThreshold
	}
	return fd.stable
}

func (fd *ForceDirectedLayout) addForce(key int, fx, fy float64) {
	f := fd.forces[key]
	f.fx += fx
	f.fy += fy
	fd.forces[key] = f
}

// Apply writes floored positions into the Loc of every node that had none
func (fd *ForceDirectedLayout) Apply(nodes []models.NodeRecord) {
	fd.mu.Lock()
	defer fd.mu.Unlock()

	for i := range nodes {
		n := &nodes[i]
		if fd.pinned[n.Key] {
			continue
		}
		if pos, ok := fd.nodePositions[n.Key]; ok {
			n.Loc = models.Point{X: pos.x, Y: pos.y}.Floor().String()
		}
	}
}

// CircleLayout places unplaced nodes evenly on a circle inside the bounds.
// It finishes in a single step.
type CircleLayout struct {
	nodePositions map[int]position
	pinned        map[int]bool
	mu            sync.Mutex
}

// NewCircleLayout creates a circle layout
func NewCircleLayout() *CircleLayout {
	return &CircleLayout{}
}

// GetName returns the name of the layout algorithm
func (cl *CircleLayout) GetName() string {
	return "Circle Layout"
}

// Initialize arranges the free nodes around the centre of bounds
func (cl *CircleLayout) Initialize(nodes []models.NodeRecord, _ []models.LinkRecord, bounds models.Rect) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	cl.nodePositions = make(map[int]position, len(nodes))
	cl.pinned = make(map[int]bool, len(nodes))

	var free []int
	for _, n := range nodes {
		if _, err := n.Location(); err == nil {
			cl.pinned[n.Key] = true
			continue
		}
		free = append(free, n.Key)
	}

	center := bounds.Center()
	radius := math.Min(bounds.Width, bounds.Height) * 0.4
	for i, key := range free {
		angle := 2 * math.Pi * float64(i) / float64(len(free))
		cl.nodePositions[key] = position{
			x: center.X + radius*math.Cos(angle),
			y: center.Y + radius*math.Sin(angle),
		}
	}
}

// Step reports completion immediately
func (cl *CircleLayout) Step() bool {
	return true
}

// Apply writes the circle positions into the free nodes
func (cl *CircleLayout) Apply(nodes []models.NodeRecord) {
	cl.mu.Lock()
	defer cl.mu.Unlock()

	for i := range nodes {
		n := &nodes[i]
		if cl.pinned[n.Key] {
			continue
		}
		if pos, ok := cl.nodePositions[n.Key]; ok {
			n.Loc = models.Point{X: pos.x, Y: pos.y}.Floor().String()
		}
	}
}

// NeedsLayout reports whether any node lacks a location.
func NeedsLayout(nodes []models.NodeRecord) bool {
	for _, n := range nodes {
		if !n.HasLocation() {
			return true
		}
	}
	return false
}

// Layout runs algo to completion over nodes and returns a copy with every
// missing location filled in. Nodes that already have a location are
// returned unchanged.
func Layout(algo LayoutAlgorithm, nodes []models.NodeRecord, links []models.LinkRecord, opts Options) []models.NodeRecord {
	out := models.CloneNodes(nodes)
	if !NeedsLayout(out) {
		return out
	}
	if fd, ok := algo.(*ForceDirectedLayout); ok {
		fd.SetLimits(opts.MaxIterations, opts.Threshold)
	}

	algo.Initialize(out, links, opts.Bounds)
	limit := opts.MaxIterations
	if limit <= 0 {
		limit = DefaultOptions().MaxIterations
	}
	for i := 0; i < limit; i++ {
		if algo.Step() {
			break
		}
	}
	algo.Apply(out)
	return out
}

// GetLayoutAlgorithm returns a layout algorithm by name: "force" (also the
// empty name) or "circle".
func GetLayoutAlgorithm(name string, seed int64) (LayoutAlgorithm, error) {
	switch name {
	case "", "force":
		return NewForceDirectedLayout(seed), nil
	case "circle":
		return NewCircleLayout(), nil
	default:
		return nil, fmt.Errorf("unknown layout algorithm: %s", name)
	}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		return (lo + hi) / 2
	}
	return math.Max(lo, math.Min(hi, v))
}
