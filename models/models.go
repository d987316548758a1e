// Package models provides the data records of the flowboard application.
// It defines the node, link and metadata records shared by the graph model,
// the application shell and every renderer.
package models

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Node categories understood by the template configuration.
const (
	CategoryDefault = ""
	CategoryStart   = "Start"
	CategoryEnd     = "End"
)

// Point is a diagram coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// ParsePoint parses the "x y" form used by NodeRecord.Loc.
func ParsePoint(s string) (Point, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return Point{}, fmt.Errorf("%w: %q", ErrMalformedLocation, s)
	}
	x, err := strconv.ParseFloat(fields[0], 64)
	if err != nil || math.IsNaN(x) || math.IsInf(x, 0) {
		return Point{}, fmt.Errorf("%w: %q", ErrMalformedLocation, s)
	}
	y, err := strconv.ParseFloat(fields[1], 64)
	if err != nil || math.IsNaN(y) || math.IsInf(y, 0) {
		return Point{}, fmt.Errorf("%w: %q", ErrMalformedLocation, s)
	}
	return Point{X: x, Y: y}, nil
}

// String formats the point as "x y" with the shortest exact decimal form.
func (p Point) String() string {
	return strconv.FormatFloat(p.X, 'f', -1, 64) + " " + strconv.FormatFloat(p.Y, 'f', -1, 64)
}

// Offset returns p moved by dx, dy.
func (p Point) Offset(dx, dy float64) Point {
	return Point{X: p.X + dx, Y: p.Y + dy}
}

// Floor truncates both coordinates towards negative infinity.
func (p Point) Floor() Point {
	return Point{X: math.Floor(p.X), Y: math.Floor(p.Y)}
}

// Rect is an axis-aligned rectangle in diagram coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Right returns the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom returns the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Center returns the centre point of the rectangle.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Contains reports whether o lies entirely inside r.
func (r Rect) Contains(o Rect) bool {
	return o.X >= r.X && o.Y >= r.Y && o.Right() <= r.Right() && o.Bottom() <= r.Bottom()
}

// NodeRecord is one state of the flowchart.
type NodeRecord struct {
	Key      int    `json:"key" yaml:"key"`
	Loc      string `json:"loc,omitempty" yaml:"loc,omitempty"`
	Text     string `json:"text,omitempty" yaml:"text,omitempty"`
	Category string `json:"category,omitempty" yaml:"category,omitempty"`
}

// Location parses the node's Loc.
func (n NodeRecord) Location() (Point, error) {
	return ParsePoint(n.Loc)
}

// HasLocation reports whether Loc is set at all.
func (n NodeRecord) HasLocation() bool {
	return strings.TrimSpace(n.Loc) != ""
}

// LinkRecord is a transition between two nodes.
type LinkRecord struct {
	Key       int       `json:"key" yaml:"key"`
	From      int       `json:"from" yaml:"from"`
	To        int       `json:"to" yaml:"to"`
	Text      string    `json:"text,omitempty" yaml:"text,omitempty"`
	Progress  Progress  `json:"progress,omitempty" yaml:"progress,omitempty"`
	Curviness *float64  `json:"curviness,omitempty" yaml:"curviness,omitempty"`
	Points    []float64 `json:"points,omitempty" yaml:"points,omitempty"`
}

// Clone returns a deep copy of the link.
func (l LinkRecord) Clone() LinkRecord {
	c := l
	if l.Curviness != nil {
		v := *l.Curviness
		c.Curviness = &v
	}
	if l.Points != nil {
		c.Points = append([]float64(nil), l.Points...)
	}
	return c
}

// Curve returns the curviness hint, zero when unset.
func (l LinkRecord) Curve() float64 {
	if l.Curviness == nil {
		return 0
	}
	return *l.Curviness
}

// Curviness is a helper for building LinkRecord literals.
func Curviness(v float64) *float64 { return &v }

// Progress marks a "happy path" link. Datasets written for the browser widget
// carry it as the string "true", so decoding accepts both forms.
type Progress bool

// UnmarshalJSON accepts true, false, "true", "false" and null.
func (p *Progress) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	switch s {
	case "null", `""`:
		*p = false
		return nil
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = unq
	}
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid progress value %s", data)
	}
	*p = Progress(b)
	return nil
}

// MarshalJSON always emits a JSON boolean.
func (p Progress) MarshalJSON() ([]byte, error) {
	return json.Marshal(bool(p))
}

// UnmarshalYAML accepts the same spellings as UnmarshalJSON.
func (p *Progress) UnmarshalYAML(unmarshal func(any) error) error {
	var raw any
	if err := unmarshal(&raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case nil:
		*p = false
	case bool:
		*p = Progress(v)
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("invalid progress value %q", v)
		}
		*p = Progress(b)
	default:
		return fmt.Errorf("invalid progress value %v", v)
	}
	return nil
}

// GraphMetadata is the free-form record attached to the whole graph.
type GraphMetadata map[string]any

// Clone returns a deep copy of the metadata. Nested objects and arrays are
// copied too, so edits to the clone never reach the original.
func (m GraphMetadata) Clone() GraphMetadata {
	if m == nil {
		return nil
	}
	c := make(GraphMetadata, len(m))
	for k, v := range m {
		c[k] = cloneValue(v)
	}
	return c
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case GraphMetadata:
		return v.Clone()
	case map[string]any:
		return map[string]any(GraphMetadata(v).Clone())
	case []any:
		if v == nil {
			return v
		}
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Dataset bundles the three collections of a flowchart.
type Dataset struct {
	Nodes     []NodeRecord  `json:"nodeDataArray" yaml:"nodes"`
	Links     []LinkRecord  `json:"linkDataArray" yaml:"links"`
	ModelData GraphMetadata `json:"modelData,omitempty" yaml:"modelData,omitempty"`
}

// Clone returns a deep copy of the dataset.
func (d Dataset) Clone() Dataset {
	return Dataset{
		Nodes:     CloneNodes(d.Nodes),
		Links:     CloneLinks(d.Links),
		ModelData: d.ModelData.Clone(),
	}
}

// CloneNodes copies a node collection.
func CloneNodes(nodes []NodeRecord) []NodeRecord {
	if nodes == nil {
		return nil
	}
	return append([]NodeRecord(nil), nodes...)
}

// CloneLinks deep-copies a link collection.
func CloneLinks(links []LinkRecord) []LinkRecord {
	if links == nil {
		return nil
	}
	out := make([]LinkRecord, len(links))
	for i, l := range links {
		out[i] = l.Clone()
	}
	return out
}
