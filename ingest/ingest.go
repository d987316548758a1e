// Package ingest reads flowchart datasets from GraphLinksModel JSON, YAML,
// CSV edge lists and plain-text flow descriptions.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TFMV/flowboard/models"
)

// DataProcessor defines the interface that all data processors must implement
type DataProcessor interface {
	// ProcessData takes raw data bytes and returns the collections they describe
	ProcessData(data []byte) (models.Dataset, error)

	// GetName returns the name of the processor
	GetName() string
}

// wireNode and wireLink allow keys to be absent, as the widget permits.
type wireNode struct {
	Key      *int   `json:"key" yaml:"key"`
	Loc      string `json:"loc" yaml:"loc"`
	Text     string `json:"text" yaml:"text"`
	Category string `json:"category" yaml:"category"`
}

type wireLink struct {
	Key       *int            `json:"key" yaml:"key"`
	From      *int            `json:"from" yaml:"from"`
	To        *int            `json:"to" yaml:"to"`
	Text      string          `json:"text" yaml:"text"`
	Progress  models.Progress `json:"progress" yaml:"progress"`
	Curviness *float64        `json:"curviness" yaml:"curviness"`
	Points    []float64       `json:"points" yaml:"points"`
}

// assemble turns wire records into a dataset. Missing keys get the first
// unused negative integer counting down from -1, in document order.
func assemble(nodes []wireNode, links []wireLink, meta models.GraphMetadata) (models.Dataset, error) {
	ds := models.Dataset{
		Nodes:     make([]models.NodeRecord, 0, len(nodes)),
		Links:     make([]models.LinkRecord, 0, len(links)),
		ModelData: meta,
	}

	used := make(map[int]struct{}, len(nodes))
	for _, n := range nodes {
		if n.Key != nil {
			used[*n.Key] = struct{}{}
		}
	}
	next := keySource(used)
	for _, n := range nodes {
		rec := models.NodeRecord{
			Loc:      strings.TrimSpace(n.Loc),
			Text:     n.Text,
			Category: models.NormalizeCategory(n.Category),
		}
		if n.Key != nil {
			rec.Key = *n.Key
		} else {
			rec.Key = next()
		}
		ds.Nodes = append(ds.Nodes, rec)
	}

	used = make(map[int]struct{}, len(links))
	for _, l := range links {
		if l.Key != nil {
			used[*l.Key] = struct{}{}
		}
	}
	next = keySource(used)
	for i, l := range links {
		if l.From == nil || l.To == nil {
			return models.Dataset{}, fmt.Errorf("link %d: missing from or to: %w", i, models.ErrDanglingLink)
		}
		rec := models.LinkRecord{
			From:      *l.From,
			To:        *l.To,
			Text:      l.Text,
			Progress:  l.Progress,
			Curviness: l.Curviness,
			Points:    l.Points,
		}
		if l.Key != nil {
			rec.Key = *l.Key
		} else {
			rec.Key = next()
		}
		ds.Links = append(ds.Links, rec)
	}
	return ds, nil
}

func keySource(used map[int]struct{}) func() int {
	k := 0
	return func() int {
		for {
			k--
			if _, taken := used[k]; !taken {
				used[k] = struct{}{}
				return k
			}
		}
	}
}

// JSONProcessor handles GraphLinksModel JSON documents
type JSONProcessor struct{}

// NewJSONProcessor creates a new JSON processor
func NewJSONProcessor() *JSONProcessor {
	return &JSONProcessor{}
}

// GetName returns the name of the processor
func (p *JSONProcessor) GetName() string {
	return "JSON Processor"
}

// ProcessData processes JSON data
func (p *JSONProcessor) ProcessData(data []byte) (models.Dataset, error) {
	var doc struct {
		Class           string               `json:"class"`
		LinkKeyProperty string               `json:"linkKeyProperty"`
		NodeDataArray   []wireNode           `json:"nodeDataArray"`
		LinkDataArray   []wireLink           `json:"linkDataArray"`
		ModelData       models.GraphMetadata `json:"modelData"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return models.Dataset{}, fmt.Errorf("error parsing JSON: %w", err)
	}
	if doc.Class != "" && doc.Class != models.GraphLinksModelClass {
		return models.Dataset{}, fmt.Errorf("unsupported model class %q", doc.Class)
	}
	if doc.LinkKeyProperty != "" && doc.LinkKeyProperty != "key" {
		return models.Dataset{}, fmt.Errorf("unsupported linkKeyProperty %q", doc.LinkKeyProperty)
	}
	return assemble(doc.NodeDataArray, doc.LinkDataArray, doc.ModelData)
}

// YAMLProcessor handles YAML datasets with nodes, links and modelData sections
type YAMLProcessor struct{}

// NewYAMLProcessor creates a new YAML processor
func NewYAMLProcessor() *YAMLProcessor {
	return &YAMLProcessor{}
}

// GetName returns the name of the processor
func (p *YAMLProcessor) GetName() string {
	return "YAML Processor"
}

// ProcessData processes YAML data
func (p *YAMLProcessor) ProcessData(data []byte) (models.Dataset, error) {
	var doc struct {
		Nodes     []wireNode     `yaml:"nodes"`
		Links     []wireLink     `yaml:"links"`
		ModelData map[string]any `yaml:"modelData"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return models.Dataset{}, fmt.Errorf("error parsing YAML: %w", err)
	}
	var meta models.GraphMetadata
	if doc.ModelData != nil {
		meta = models.GraphMetadata(doc.ModelData)
	}
	return assemble(doc.Nodes, doc.Links, meta)
}

// namedGraph builds a dataset from node names, for formats that refer to
// nodes by label instead of key. "Start" and "End" become the category nodes.
type namedGraph struct {
	nodes []wireNode
	links []wireLink
	keys  map[string]int
}

func newNamedGraph() *namedGraph {
	return &namedGraph{keys: make(map[string]int)}
}

func (g *namedGraph) node(name string) int {
	id := strings.ToLower(name)
	if k, ok := g.keys[id]; ok {
		return k
	}
	var n wireNode
	switch models.NormalizeCategory(name) {
	case models.CategoryStart:
		n = wireNode{Category: models.CategoryStart}
	case models.CategoryEnd:
		n = wireNode{Category: models.CategoryEnd}
	default:
		n = wireNode{Text: name}
	}
	k := len(g.keys)
	n.Key = &k
	g.keys[id] = k
	g.nodes = append(g.nodes, n)
	return k
}

func (g *namedGraph) link(from, to, text string, progress bool, curviness *float64) {
	f, t := g.node(from), g.node(to)
	g.links = append(g.links, wireLink{
		From:      &f,
		To:        &t,
		Text:      text,
		Progress:  models.Progress(progress),
		Curviness: curviness,
	})
}

func (g *namedGraph) dataset() (models.Dataset, error) {
	return assemble(g.nodes, g.links, nil)
}

// CSVProcessor handles CSV edge lists
type CSVProcessor struct{}

// NewCSVProcessor creates a new CSV processor
func NewCSVProcessor() *CSVProcessor {
	return &CSVProcessor{}
}

// GetName returns the name of the processor
func (p *CSVProcessor) GetName() string {
	return "CSV Processor"
}

// ProcessData processes CSV data. The header must name source and target
// columns; text, progress and curviness columns are optional.
func (p *CSVProcessor) ProcessData(data []byte) (models.Dataset, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return models.Dataset{}, fmt.Errorf("error reading CSV header: %w", err)
	}

	sourceIdx, targetIdx, textIdx, progressIdx, curveIdx := -1, -1, -1, -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "source", "from", "src":
			sourceIdx = i
		case "target", "to", "dst":
			targetIdx = i
		case "text", "label", "name":
			textIdx = i
		case "progress":
			progressIdx = i
		case "curviness":
			curveIdx = i
		}
	}
	if sourceIdx == -1 || targetIdx == -1 {
		return models.Dataset{}, errors.New("CSV must contain source and target columns")
	}

	field := func(row []string, i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	g := newNamedGraph()
	for line := 2; ; line++ {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return models.Dataset{}, fmt.Errorf("error reading CSV row: %w", err)
		}

		from, to := field(row, sourceIdx), field(row, targetIdx)
		if from == "" || to == "" {
			return models.Dataset{}, fmt.Errorf("line %d: empty source or target", line)
		}

		var progress bool
		if s := field(row, progressIdx); s != "" {
			if progress, err = strconv.ParseBool(s); err != nil {
				return models.Dataset{}, fmt.Errorf("line %d: invalid progress %q", line, s)
			}
		}
		var curviness *float64
		if s := field(row, curveIdx); s != "" {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return models.Dataset{}, fmt.Errorf("line %d: invalid curviness %q", line, s)
			}
			curviness = &v
		}
		g.link(from, to, field(row, textIdx), progress, curviness)
	}
	return g.dataset()
}

// TextProcessor handles plain-text flow descriptions, one transition per line:
//
//	Shopping -> Browse Items : Browse
//	Browse Items => View Item : Click item
//
// "=>" marks a progress link. Blank lines and lines starting with # are skipped.
type TextProcessor struct{}

// NewTextProcessor creates a new text processor
func NewTextProcessor() *TextProcessor {
	return &TextProcessor{}
}

// GetName returns the name of the processor
func (p *TextProcessor) GetName() string {
	return "Text Processor"
}

// ProcessData processes text data
func (p *TextProcessor) ProcessData(data []byte) (models.Dataset, error) {
	patterns := []struct {
		separator string
		progress  bool
	}{
		{"=>", true},
		{"->", false},
	}

	g := newNamedGraph()
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		var label string
		if before, after, ok := strings.Cut(text, ":"); ok {
			text, label = strings.TrimSpace(before), strings.TrimSpace(after)
		}

		matched := false
		for _, pattern := range patterns {
			from, to, ok := strings.Cut(text, pattern.separator)
			if !ok {
				continue
			}
			from, to = strings.TrimSpace(from), strings.TrimSpace(to)
			if from == "" || to == "" {
				return models.Dataset{}, fmt.Errorf("line %d: empty node name", line)
			}
			g.link(from, to, label, pattern.progress, nil)
			matched = true
			break
		}
		if !matched {
			return models.Dataset{}, fmt.Errorf("line %d: expected \"A -> B\" or \"A => B\"", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return models.Dataset{}, fmt.Errorf("error reading text: %w", err)
	}
	return g.dataset()
}

// GetProcessor returns the appropriate processor for the given format
func GetProcessor(format string) (DataProcessor, error) {
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "json":
		return NewJSONProcessor(), nil
	case "yaml", "yml":
		return NewYAMLProcessor(), nil
	case "csv":
		return NewCSVProcessor(), nil
	case "text", "txt", "flow":
		return NewTextProcessor(), nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
