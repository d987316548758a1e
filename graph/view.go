package graph

import (
	"fmt"

	"github.com/TFMV/flowboard/models"
)

// Viewport is the visible part of the diagram in document coordinates.
// Width and Height are in screen pixels; Scale maps document to screen.
type Viewport struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
}

// Bounds returns the visible document rectangle.
func (v Viewport) Bounds() models.Rect {
	scale := v.Scale
	if scale <= 0 {
		scale = 1
	}
	return models.Rect{X: v.X, Y: v.Y, Width: v.Width / scale, Height: v.Height / scale}
}

// Select makes key the only selected node.
func (m *Model) Select(key int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if models.FindNode(m.nodes, key) < 0 {
		return fmt.Errorf("select %d: %w", key, ErrNodeNotFound)
	}
	m.selected = key
	m.hasSelected = true
	return nil
}

// ClearSelection deselects everything.
func (m *Model) ClearSelection() {
	m.mu.Lock()
	m.hasSelected = false
	m.mu.Unlock()
}

// Selection returns the selected node key, if any.
func (m *Model) Selection() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected, m.hasSelected
}

// Viewport returns the current viewport.
func (m *Model) Viewport() Viewport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.viewport
}

// SetViewport replaces the viewport.
func (m *Model) SetViewport(v Viewport) {
	m.mu.Lock()
	m.viewport = v
	m.mu.Unlock()
}

// ScrollToRect moves the viewport the minimum distance needed to show r
// entirely. A rectangle larger than the viewport is centred instead.
func (m *Model) ScrollToRect(r models.Rect) Viewport {
	m.mu.Lock()
	defer m.mu.Unlock()

	view := m.viewport.Bounds()
	if view.Contains(r) {
		return m.viewport
	}

	m.viewport.X = scrollAxis(view.X, view.Width, r.X, r.Width)
	m.viewport.Y = scrollAxis(view.Y, view.Height, r.Y, r.Height)
	return m.viewport
}

func scrollAxis(viewPos, viewLen, pos, length float64) float64 {
	switch {
	case length > viewLen:
		return pos + length/2 - viewLen/2
	case pos < viewPos:
		return pos
	case pos+length > viewPos+viewLen:
		return pos + length - viewLen
	}
	return viewPos
}

// fixSelection drops a selection whose node no longer exists. mu must be held.
func (m *Model) fixSelection() {
	if m.hasSelected && models.FindNode(m.nodes, m.selected) < 0 {
		m.hasSelected = false
	}
}
