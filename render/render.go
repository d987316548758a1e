// Package render turns a flowchart dataset into SVG, Graphviz DOT or
// GraphLinksModel JSON, styled by the template configuration.
package render

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/TFMV/flowboard/ingest"
	"github.com/TFMV/flowboard/models"
	"github.com/TFMV/flowboard/physics"
)

// OutputOptions defines rendering configuration options
type OutputOptions struct {
	Format     string     // Output format (svg, json, dot)
	Width      float64    // Width of the output, zero to fit the content
	Height     float64    // Height of the output, zero to fit the content
	Background string     // Background color
	Padding    float64    // Space around the content
	Templates  *Templates // Node and link styling, DefaultTemplates when nil
	Selected   *int       // Key of the node drawn with the selection adornment
	Title      string     // Document title
	ShowLabels bool       // Show link labels
	Layout     string     // Layout for nodes without a location, see physics.GetLayoutAlgorithm
}

// Renderer interface defines methods that all rendering backends must implement
type Renderer interface {
	// Render creates a representation of the dataset using the provided options
	Render(ds models.Dataset, options *OutputOptions) ([]byte, error)

	// Name returns the name of the renderer
	Name() string

	// Description returns a description of the renderer
	Description() string
}

// NewDefaultOptions creates a default set of output options
func NewDefaultOptions(format string) *OutputOptions {
	templates := DefaultTemplates()
	return &OutputOptions{
		Format:     format,
		Background: "#f8f8f8",
		Padding:    40,
		Templates:  &templates,
		Title:      "flowboard",
		ShowLabels: true,
	}
}

func (o *OutputOptions) templates() Templates {
	if o == nil || o.Templates == nil {
		return DefaultTemplates()
	}
	return *o.Templates
}

// GetRenderer returns the appropriate renderer based on format
func GetRenderer(format string) (Renderer, error) {
	switch strings.ToLower(format) {
	case "svg":
		return &SVGRenderer{}, nil
	case "json":
		return &JSONRenderer{}, nil
	case "dot":
		return &DOTRenderer{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s", format)
	}
}

// GenerateWithOptions lays out nodes without a location and renders the
// result. It gives up when ctx is done or after 30 seconds.
func GenerateWithOptions(ctx context.Context, ds models.Dataset, options *OutputOptions) ([]byte, error) {
	renderer, err := GetRenderer(options.Format)
	if err != nil {
		return nil, err
	}
	layoutOpts := physics.DefaultOptions()
	algo, err := physics.GetLayoutAlgorithm(options.Layout, layoutOpts.Seed)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)

	go func() {
		if physics.NeedsLayout(ds.Nodes) {
			ds.Nodes = physics.Layout(algo, ds.Nodes, ds.Links, layoutOpts)
		}
		out, err := renderer.Render(ds, options)
		done <- result{out: out, err: err}
	}()

	select {
	case r := <-done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, fmt.Errorf("rendering %s: %w", options.Format, ctx.Err())
	}
}

// SVGRenderer outputs SVG format
type SVGRenderer struct{}

// Name returns the name of the renderer
func (r *SVGRenderer) Name() string {
	return "SVG Renderer"
}

// Description returns a description of the renderer
func (r *SVGRenderer) Description() string {
	return "Renders the flowchart as Scalable Vector Graphics using the node and link templates"
}

// Render creates an SVG representation of the dataset
func (r *SVGRenderer) Render(ds models.Dataset, options *OutputOptions) ([]byte, error) {
	if options == nil {
		options = NewDefaultOptions("svg")
	}
	t := options.templates()

	bounds := make(map[int]models.Rect, len(ds.Nodes))
	var content models.Rect
	for i, n := range ds.Nodes {
		b, err := t.NodeBounds(n)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", n.Key, err)
		}
		bounds[n.Key] = b
		if i == 0 {
			content = b
		} else {
			content = union(content, b)
		}
	}
	content = models.Rect{
		X:      content.X - options.Padding,
		Y:      content.Y - options.Padding,
		Width:  content.Width + 2*options.Padding,
		Height: content.Height + 2*options.Padding,
	}
	width, height := options.Width, options.Height
	if width <= 0 {
		width = content.Width
	}
	if height <= 0 {
		height = content.Height
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="%s %s %s %s">`+"\n",
		num(width), num(height), num(content.X), num(content.Y), num(content.Width), num(content.Height))
	if options.Title != "" {
		fmt.Fprintf(&buf, "<title>%s</title>\n", html.EscapeString(options.Title))
	}
	writeDefs(&buf, t)
	if options.Background != "" {
		fmt.Fprintf(&buf, `<rect x="%s" y="%s" width="%s" height="%s" fill="%s"/>`+"\n",
			num(content.X), num(content.Y), num(content.Width), num(content.Height), attr(options.Background))
	}

	buf.WriteString(`<g class="links">` + "\n")
	for _, l := range ds.Links {
		from, okFrom := bounds[l.From]
		to, okTo := bounds[l.To]
		if !okFrom || !okTo {
			return nil, fmt.Errorf("link %d: %w", l.Key, models.ErrDanglingLink)
		}
		writeLink(&buf, t, l, from, to, hasReverse(ds.Links, l), options.ShowLabels)
	}
	buf.WriteString("</g>\n")

	buf.WriteString(`<g class="nodes">` + "\n")
	for _, n := range ds.Nodes {
		writeNode(&buf, t, n, bounds[n.Key])
	}
	buf.WriteString("</g>\n")

	if options.Selected != nil {
		if b, ok := bounds[*options.Selected]; ok {
			writeSelection(&buf, t.Selection, *options.Selected, b)
		}
	}

	buf.WriteString("</svg>\n")
	return buf.Bytes(), nil
}

func writeDefs(buf *bytes.Buffer, t Templates) {
	buf.WriteString("<defs>\n")
	for _, m := range []struct{ id, fill string }{
		{"arrow", t.Link.Stroke},
		{"arrow-progress", t.Link.ProgressStroke},
	} {
		fmt.Fprintf(buf, `<marker id="%s" viewBox="0 0 10 10" refX="%s" refY="5" markerWidth="8" markerHeight="8" markerUnits="userSpaceOnUse" orient="auto"><path d="M0,0 L10,5 L0,10 z" fill="%s"/></marker>`+"\n",
			m.id, num(10-t.Link.ToShortLength), attr(m.fill))
	}
	fmt.Fprintf(buf, `<radialGradient id="label-bg"><stop offset="0" stop-color="%[1]s"/><stop offset="0.7" stop-color="%[1]s"/><stop offset="1" stop-color="%[1]s" stop-opacity="0"/></radialGradient>`+"\n",
		attr(t.Link.LabelBackground))
	if s := t.Node(models.CategoryDefault).Shadow; s != nil {
		fmt.Fprintf(buf, `<filter id="shadow" x="-20%%" y="-20%%" width="140%%" height="140%%"><feDropShadow dx="%s" dy="%s" stdDeviation="%s" flood-color="%s"/></filter>`+"\n",
			num(s.OffsetX), num(s.OffsetY), num(s.Blur), attr(s.Color))
	}
	buf.WriteString("</defs>\n")
}

func writeNode(buf *bytes.Buffer, t Templates, n models.NodeRecord, b models.Rect) {
	nt := t.Node(n.Category)
	c := b.Center()
	fmt.Fprintf(buf, `<g class="node" data-key="%d">`, n.Key)

	switch nt.Figure {
	case "Circle":
		fmt.Fprintf(buf, `<ellipse cx="%s" cy="%s" rx="%s" ry="%s" fill="%s"%s/>`,
			num(c.X), num(c.Y), num(b.Width/2), num(b.Height/2), attr(nt.Fill), strokeAttrs(nt.Stroke, nt.StrokeWidth))
	default:
		filter := ""
		if nt.Shadow != nil {
			filter = ` filter="url(#shadow)"`
		}
		fmt.Fprintf(buf, `<rect x="%s" y="%s" width="%s" height="%s" rx="%s" fill="%s"%s%s/>`,
			num(b.X), num(b.Y), num(b.Width), num(b.Height), num(nt.Corner), attr(nt.Fill), strokeAttrs(nt.Stroke, nt.StrokeWidth), filter)
	}
	if ring := nt.Ring; ring != nil {
		fmt.Fprintf(buf, `<ellipse cx="%s" cy="%s" rx="%s" ry="%s" fill="none" stroke="%s" stroke-width="%s"/>`,
			num(c.X), num(c.Y), num(ring.Width/2), num(ring.Height/2), attr(ring.Stroke), num(ring.StrokeWidth))
	}
	if text := nt.Text(n); text != "" {
		fmt.Fprintf(buf, `<text x="%s" y="%s" text-anchor="middle" dominant-baseline="central" style="font: %s" fill="%s">%s</text>`,
			num(c.X), num(c.Y), attr(nt.Font), attr(nt.TextColor), html.EscapeString(text))
	}
	buf.WriteString("</g>\n")
}

func writeSelection(buf *bytes.Buffer, s SelectionTemplate, key int, b models.Rect) {
	fmt.Fprintf(buf, `<g class="selection" data-key="%d">`, key)
	fmt.Fprintf(buf, `<rect x="%s" y="%s" width="%s" height="%s" rx="%s" fill="none" stroke="%s" stroke-width="%s"/>`,
		num(b.X), num(b.Y), num(b.Width), num(b.Height), num(s.Corner), attr(s.Stroke), num(s.StrokeWidth))

	fx, fy := s.Button.Alignment.fraction()
	bx, by := b.X+fx*b.Width, b.Y+fy*b.Height
	size := s.Button.Width + 8
	fmt.Fprintf(buf, `<g class="button" data-action="%s"><rect x="%s" y="%s" width="%s" height="%s" rx="2" fill="#f5f5f5" stroke="#cccccc"/>`,
		attr(s.Button.Action), num(bx-size/2), num(by-size/2), num(size), num(size))
	hw, hh := s.Button.Width/2, s.Button.Height/2
	fmt.Fprintf(buf, `<path d="M%s %s H%s M%s %s V%s" stroke="black" stroke-width="1"/></g>`,
		num(bx-hw), num(by), num(bx+hw), num(bx), num(by-hh), num(by+hh))
	buf.WriteString("</g>\n")
}

func writeLink(buf *bytes.Buffer, t Templates, l models.LinkRecord, from, to models.Rect, reverse, labels bool) {
	stroke, width := t.Link.StrokeFor(l)
	marker := "arrow"
	if l.Progress {
		marker = "arrow-progress"
	}

	var d string
	var mid models.Point
	switch {
	case len(l.Points) >= 4 && len(l.Points)%2 == 0:
		d, mid = polylinePath(l.Points)
	case l.From == l.To:
		d, mid = selfLoopPath(from, l.Curve())
	default:
		d, mid = bezierPath(from, to, linkCurviness(l, reverse))
	}

	fmt.Fprintf(buf, `<g class="link" data-key="%d"><path d="%s" fill="none" stroke="%s" stroke-width="%s" marker-end="url(#%s)"/>`,
		l.Key, d, attr(stroke), num(width), marker)
	if labels {
		label := t.Link.Label(l)
		w := float64(len([]rune(label)))*t.Link.LabelFontSize*charWidth + 2*t.Link.LabelMargin
		h := t.Link.LabelFontSize*lineHeight + 2*t.Link.LabelMargin
		fmt.Fprintf(buf, `<ellipse cx="%s" cy="%s" rx="%s" ry="%s" fill="url(#label-bg)"/>`,
			num(mid.X), num(mid.Y), num(w/2), num(h/2))
		fmt.Fprintf(buf, `<text x="%s" y="%s" text-anchor="middle" dominant-baseline="central" style="font: %s">%s</text>`,
			num(mid.X), num(mid.Y), attr(t.Link.LabelFont), html.EscapeString(label))
	}
	buf.WriteString("</g>\n")
}

// linkCurviness returns the explicit curviness, or a small default bend when
// a link in the opposite direction would otherwise overlap this one.
func linkCurviness(l models.LinkRecord, reverse bool) float64 {
	if l.Curviness != nil {
		return *l.Curviness
	}
	if reverse {
		return 10
	}
	return 0
}

func hasReverse(links []models.LinkRecord, l models.LinkRecord) bool {
	for _, o := range links {
		if o.From == l.To && o.To == l.From && o.Key != l.Key {
			return true
		}
	}
	return false
}

// bezierPath draws a quadratic curve between the borders of two nodes whose
// control point is offset from the midpoint by curviness along the normal.
func bezierPath(from, to models.Rect, curviness float64) (string, models.Point) {
	a, b := from.Center(), to.Center()
	dx, dy := b.X-a.X, b.Y-a.Y
	length := math.Max(math.Hypot(dx, dy), 1)
	nx, ny := -dy/length, dx/length
	ctrl := models.Point{X: (a.X+b.X)/2 + nx*curviness*2, Y: (a.Y+b.Y)/2 + ny*curviness*2}

	start := borderPoint(from, ctrl)
	end := borderPoint(to, ctrl)
	mid := models.Point{
		X: 0.25*start.X + 0.5*ctrl.X + 0.25*end.X,
		Y: 0.25*start.Y + 0.5*ctrl.Y + 0.25*end.Y,
	}
	return fmt.Sprintf("M%s %s Q%s %s %s %s",
		num(start.X), num(start.Y), num(ctrl.X), num(ctrl.Y), num(end.X), num(end.Y)), mid
}

// selfLoopPath draws a loop leaving and re-entering the top edge of a node.
func selfLoopPath(b models.Rect, curviness float64) (string, models.Point) {
	size := math.Max(math.Abs(curviness), 20) * 2
	x1 := b.X + b.Width*0.65
	x2 := b.X + b.Width*0.35
	y := b.Y
	mid := models.Point{X: b.Center().X, Y: y - size*0.75}
	return fmt.Sprintf("M%s %s C%s %s %s %s %s %s",
		num(x1), num(y), num(x1+size/2), num(y-size), num(x2-size/2), num(y-size), num(x2), num(y)), mid
}

func polylinePath(points []float64) (string, models.Point) {
	var sb strings.Builder
	for i := 0; i+1 < len(points); i += 2 {
		if i == 0 {
			sb.WriteString("M")
		} else {
			sb.WriteString(" L")
		}
		sb.WriteString(num(points[i]) + " " + num(points[i+1]))
	}
	n := len(points) / 2
	mid := models.Point{X: points[(n/2)*2], Y: points[(n/2)*2+1]}
	if n%2 == 0 {
		mid = models.Point{
			X: (points[(n/2-1)*2] + points[(n/2)*2]) / 2,
			Y: (points[(n/2-1)*2+1] + points[(n/2)*2+1]) / 2,
		}
	}
	return sb.String(), mid
}

// borderPoint returns where the segment from the centre of r towards p
// leaves r.
func borderPoint(r models.Rect, p models.Point) models.Point {
	c := r.Center()
	dx, dy := p.X-c.X, p.Y-c.Y
	if dx == 0 && dy == 0 {
		return c
	}
	scale := math.Inf(1)
	if dx != 0 {
		scale = math.Min(scale, (r.Width/2)/math.Abs(dx))
	}
	if dy != 0 {
		scale = math.Min(scale, (r.Height/2)/math.Abs(dy))
	}
	scale = math.Min(scale, 1)
	return models.Point{X: c.X + dx*scale, Y: c.Y + dy*scale}
}

func union(a, b models.Rect) models.Rect {
	x := math.Min(a.X, b.X)
	y := math.Min(a.Y, b.Y)
	return models.Rect{
		X:      x,
		Y:      y,
		Width:  math.Max(a.Right(), b.Right()) - x,
		Height: math.Max(a.Bottom(), b.Bottom()) - y,
	}
}

func strokeAttrs(stroke string, width float64) string {
	if stroke == "" || width <= 0 {
		return ""
	}
	return fmt.Sprintf(` stroke="%s" stroke-width="%s"`, attr(stroke), num(width))
}

func attr(s string) string {
	return html.EscapeString(s)
}

// num formats a coordinate with at most two decimals.
func num(f float64) string {
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}

// JSONRenderer outputs GraphLinksModel JSON
type JSONRenderer struct{}

// Name returns the name of the renderer
func (r *JSONRenderer) Name() string {
	return "JSON Renderer"
}

// Description returns a description of the renderer
func (r *JSONRenderer) Description() string {
	return "Exports the flowchart as a GraphLinksModel JSON document"
}

// Render creates a JSON representation of the dataset
func (r *JSONRenderer) Render(ds models.Dataset, _ *OutputOptions) ([]byte, error) {
	return ingest.Marshal(ds)
}

// DOTRenderer outputs Graphviz DOT format
type DOTRenderer struct{}

// Name returns the name of the renderer
func (r *DOTRenderer) Name() string {
	return "DOT Renderer"
}

// Description returns a description of the renderer
func (r *DOTRenderer) Description() string {
	return "Renders the flowchart in Graphviz DOT format with pinned positions"
}

// Render creates a DOT representation of the dataset
func (r *DOTRenderer) Render(ds models.Dataset, options *OutputOptions) ([]byte, error) {
	if options == nil {
		options = NewDefaultOptions("dot")
	}
	t := options.templates()
	var buf bytes.Buffer

	buf.WriteString("digraph flowboard {\n")
	if options.Background != "" {
		fmt.Fprintf(&buf, "  graph [bgcolor=%s];\n", dotQuote(options.Background))
	}
	def := t.Node(models.CategoryDefault)
	fmt.Fprintf(&buf, "  node [shape=box, style=\"rounded,filled\", fillcolor=%s, color=%s, fontname=\"Helvetica-Bold\", fontcolor=%s];\n",
		dotQuote(def.Fill), dotQuote(def.Fill), dotQuote("#000000"))
	fmt.Fprintf(&buf, "  edge [fontname=\"Helvetica\", fontsize=%s, arrowhead=normal];\n", num(t.Link.LabelFontSize*0.75))

	for _, n := range ds.Nodes {
		nt := t.Node(n.Category)
		attrs := []string{"label=" + dotQuote(nt.Text(n))}
		if nt.Figure == "Circle" {
			attrs = append(attrs,
				"shape=circle",
				"style=filled",
				"fillcolor="+dotQuote(nt.Fill),
				"color="+dotQuote(nt.Fill),
				"fontcolor="+dotQuote(nt.TextColor),
				"width="+num(nt.Width/72),
				"fixedsize=true",
			)
			if nt.Ring != nil {
				attrs = append(attrs, "peripheries=2")
			}
		}
		if p, err := n.Location(); err == nil {
			// Graphviz y grows upwards.
			attrs = append(attrs, "pos="+dotQuote(num(p.X/72)+","+num(-p.Y/72)+"!"))
		}
		fmt.Fprintf(&buf, "  \"%d\" [%s];\n", n.Key, strings.Join(attrs, ", "))
	}

	for _, l := range ds.Links {
		stroke, width := t.Link.StrokeFor(l)
		attrs := []string{
			"color=" + dotQuote(stroke),
			"penwidth=" + num(width),
		}
		if l.Text != "" {
			attrs = append(attrs, "label="+dotQuote(l.Text))
		}
		fmt.Fprintf(&buf, "  \"%d\" -> \"%d\" [%s];\n", l.From, l.To, strings.Join(attrs, ", "))
	}

	buf.WriteString("}\n")
	return buf.Bytes(), nil
}

func dotQuote(s string) string {
	return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`).Replace(s) + `"`
}
