package render

import (
	"math"
	"unicode/utf8"

	"github.com/TFMV/flowboard/models"
)

// Spot names a point on a node's bounds, as a fraction of its size.
type Spot string

const (
	SpotTopLeft  Spot = "TopLeft"
	SpotTop      Spot = "Top"
	SpotTopRight Spot = "TopRight"
	SpotCenter   Spot = "Center"
)

// fraction returns the spot's offset as fractions of width and height.
func (s Spot) fraction() (fx, fy float64) {
	switch s {
	case SpotTop:
		return 0.5, 0
	case SpotTopRight:
		return 1, 0
	case SpotCenter:
		return 0.5, 0.5
	default:
		return 0, 0
	}
}

// Shadow describes a drop shadow.
type Shadow struct {
	Color   string  `json:"color"`
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
	Blur    float64 `json:"blur"`
}

// Ring is an unfilled inner shape drawn on top of a node's body.
type Ring struct {
	Figure      string  `json:"figure"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Stroke      string  `json:"stroke"`
	StrokeWidth float64 `json:"strokeWidth"`
}

// Linkable says which link gestures a node's port accepts.
type Linkable struct {
	From       bool `json:"from"`
	To         bool `json:"to"`
	SelfNode   bool `json:"selfNode"`
	Duplicates bool `json:"duplicates"`
}

// NodeTemplate is the render descriptor for one node category. A zero Width
// or Height means the body is sized to fit the text plus Margin.
type NodeTemplate struct {
	Category     string   `json:"category"`
	Figure       string   `json:"figure"`
	Corner       float64  `json:"corner,omitempty"`
	Width        float64  `json:"width,omitempty"`
	Height       float64  `json:"height,omitempty"`
	Fill         string   `json:"fill"`
	Stroke       string   `json:"stroke,omitempty"`
	StrokeWidth  float64  `json:"strokeWidth"`
	Shadow       *Shadow  `json:"shadow,omitempty"`
	Ring         *Ring    `json:"ring,omitempty"`
	Label        string   `json:"label,omitempty"`
	Font         string   `json:"font"`
	FontSize     float64  `json:"fontSize"`
	TextColor    string   `json:"textColor"`
	Margin       float64  `json:"margin"`
	Editable     bool     `json:"editable"`
	LocationSpot Spot     `json:"locationSpot"`
	Port         Linkable `json:"port"`
}

// Text returns the text the template displays for n.
func (t NodeTemplate) Text(n models.NodeRecord) string {
	if t.Label != "" {
		return t.Label
	}
	return n.Text
}

// Size returns the body size used for n.
func (t NodeTemplate) Size(n models.NodeRecord) (w, h float64) {
	if t.Width > 0 && t.Height > 0 {
		return t.Width, t.Height
	}
	text := t.Text(n)
	w = math.Ceil(float64(utf8.RuneCountInString(text))*t.FontSize*charWidth + 2*t.Margin)
	h = math.Ceil(t.FontSize*lineHeight + 2*t.Margin)
	return w, h
}

// Text metrics used to size auto-sized nodes, as fractions of the font size.
const (
	charWidth  = 0.62
	lineHeight = 1.3
)

// LinkTemplate is the render descriptor for every link.
type LinkTemplate struct {
	Curve           string  `json:"curve"`
	Adjusting       string  `json:"adjusting"`
	Reshapable      bool    `json:"reshapable"`
	RelinkableFrom  bool    `json:"relinkableFrom"`
	RelinkableTo    bool    `json:"relinkableTo"`
	ToShortLength   float64 `json:"toShortLength"`
	Stroke          string  `json:"stroke"`
	StrokeWidth     float64 `json:"strokeWidth"`
	ProgressStroke  string  `json:"progressStroke"`
	ProgressWidth   float64 `json:"progressWidth"`
	Arrowhead       string  `json:"arrowhead"`
	LabelText       string  `json:"labelText"`
	LabelFont       string  `json:"labelFont"`
	LabelFontSize   float64 `json:"labelFontSize"`
	LabelMargin     float64 `json:"labelMargin"`
	LabelBackground string  `json:"labelBackground"`
	LabelEditable   bool    `json:"labelEditable"`
}

// StrokeFor returns the stroke colour and width of a link.
func (t LinkTemplate) StrokeFor(l models.LinkRecord) (string, float64) {
	if l.Progress {
		return t.ProgressStroke, t.ProgressWidth
	}
	return t.Stroke, t.StrokeWidth
}

// Label returns the label shown for l.
func (t LinkTemplate) Label(l models.LinkRecord) string {
	if l.Text != "" {
		return l.Text
	}
	return t.LabelText
}

// Button is a clickable adornment element.
type Button struct {
	Figure    string  `json:"figure"`
	Width     float64 `json:"width"`
	Height    float64 `json:"height"`
	Alignment Spot    `json:"alignment"`
	Action    string  `json:"action"`
}

// SelectionTemplate is the adornment drawn around the selected node.
type SelectionTemplate struct {
	Figure      string  `json:"figure"`
	Corner      float64 `json:"corner"`
	Stroke      string  `json:"stroke"`
	StrokeWidth float64 `json:"strokeWidth"`
	Button      Button  `json:"button"`
}

// Animation is the diagram's initial animation.
type Animation struct {
	Easing     string     `json:"easing"`
	DurationMS int        `json:"durationMs"`
	Scale      [2]float64 `json:"scale"`
	Opacity    [2]float64 `json:"opacity"`
}

// DiagramOptions are the whole-diagram settings.
type DiagramOptions struct {
	WheelBehavior    string            `json:"wheelBehavior"`
	InitialAnimation Animation         `json:"initialAnimation"`
	Archetype        models.NodeRecord `json:"archetype"`
	UndoEnabled      bool              `json:"undoEnabled"`
	FloorPositions   bool              `json:"floorPositions"`
}

// Templates is the complete template configuration: plain data consumed by
// the renderers and served to the browser.
type Templates struct {
	Nodes     map[string]NodeTemplate `json:"nodes"`
	Link      LinkTemplate            `json:"link"`
	Selection SelectionTemplate       `json:"selection"`
	Diagram   DiagramOptions          `json:"diagram"`
}

const pt = 4.0 / 3.0 // pixels per point

// DefaultTemplates returns the stock flowchart look.
func DefaultTemplates() Templates {
	port := Linkable{From: true, To: true, SelfNode: true, Duplicates: true}
	return Templates{
		Nodes: map[string]NodeTemplate{
			models.CategoryDefault: {
				Figure:       "RoundedRectangle",
				Corner:       2,
				Fill:         "#ffffff",
				StrokeWidth:  0,
				Shadow:       &Shadow{Color: "rgba(0, 0, 0, .14)", OffsetY: 1, Blur: 1},
				Font:         "bold small-caps 11pt helvetica, bold arial, sans-serif",
				FontSize:     11 * pt,
				TextColor:    "rgba(0, 0, 0, .87)",
				Margin:       7,
				Editable:     true,
				LocationSpot: SpotTop,
				Port:         port,
			},
			models.CategoryStart: {
				Category:     models.CategoryStart,
				Figure:       "Circle",
				Width:        75,
				Height:       75,
				Fill:         "#52ce60",
				Label:        "Start",
				Font:         "bold 16pt helvetica, bold arial, sans-serif",
				FontSize:     16 * pt,
				TextColor:    "whitesmoke",
				LocationSpot: SpotTopLeft,
				Port:         port,
			},
			models.CategoryEnd: {
				Category: models.CategoryEnd,
				Figure:   "Circle",
				Width:    75,
				Height:   75,
				Fill:     "maroon",
				Ring: &Ring{
					Figure:      "Circle",
					Width:       65,
					Height:      65,
					Stroke:      "whitesmoke",
					StrokeWidth: 2,
				},
				Label:        "End",
				Font:         "bold 16pt helvetica, bold arial, sans-serif",
				FontSize:     16 * pt,
				TextColor:    "whitesmoke",
				LocationSpot: SpotTopLeft,
				Port:         port,
			},
		},
		Link: LinkTemplate{
			Curve:           "Bezier",
			Adjusting:       "Stretch",
			Reshapable:      true,
			RelinkableFrom:  true,
			RelinkableTo:    true,
			ToShortLength:   3,
			Stroke:          "black",
			StrokeWidth:     1.5,
			ProgressStroke:  "#52ce60",
			ProgressWidth:   2.5,
			Arrowhead:       "Standard",
			LabelText:       "transition",
			LabelFont:       "9pt helvetica, arial, sans-serif",
			LabelFontSize:   9 * pt,
			LabelMargin:     4,
			LabelBackground: "rgb(245, 245, 245)",
			LabelEditable:   true,
		},
		Selection: SelectionTemplate{
			Figure:      "RoundedRectangle",
			Corner:      2,
			Stroke:      "#7986cb",
			StrokeWidth: 3,
			Button: Button{
				Figure:    "PlusLine",
				Width:     6,
				Height:    6,
				Alignment: SpotTopRight,
				Action:    "addNodeAndLink",
			},
		},
		Diagram: DiagramOptions{
			WheelBehavior: "zoom",
			InitialAnimation: Animation{
				Easing:     "EaseOutExpo",
				DurationMS: 900,
				Scale:      [2]float64{0.1, 1},
				Opacity:    [2]float64{0, 1},
			},
			Archetype:      models.NodeRecord{Text: "new node"},
			UndoEnabled:    true,
			FloorPositions: true,
		},
	}
}

// Node returns the template for a category, falling back to the default
// template for unknown categories.
func (t Templates) Node(category string) NodeTemplate {
	if nt, ok := t.Nodes[category]; ok {
		return nt
	}
	return t.Nodes[models.CategoryDefault]
}

// NodeBounds returns the rectangle n occupies in document coordinates.
func (t Templates) NodeBounds(n models.NodeRecord) (models.Rect, error) {
	loc, err := n.Location()
	if err != nil {
		return models.Rect{}, err
	}
	nt := t.Node(n.Category)
	w, h := nt.Size(n)
	fx, fy := nt.LocationSpot.fraction()
	return models.Rect{X: loc.X - fx*w, Y: loc.Y - fy*h, Width: w, Height: h}, nil
}
