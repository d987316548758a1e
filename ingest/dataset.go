package ingest

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/TFMV/flowboard/models"
	"github.com/TFMV/flowboard/physics"
)

//go:embed shopping.json
var shoppingFlow []byte

// ShoppingFlow returns the online-shopping example: 9 nodes and 15 links,
// with link keys -1 through -15 in document order.
func ShoppingFlow() models.Dataset {
	ds, err := Parse(shoppingFlow, "json")
	if err != nil {
		panic(fmt.Sprintf("ingest: embedded shopping flow: %v", err))
	}
	return ds
}

// Parse decodes data in the given format, validates it and lays out every
// node that has no location with the force-directed layout.
func Parse(data []byte, format string) (models.Dataset, error) {
	return ParseWithLayout(data, format, "")
}

// ParseWithLayout is Parse with the named layout algorithm (see
// physics.GetLayoutAlgorithm) placing nodes that have no location.
func ParseWithLayout(data []byte, format, layout string) (models.Dataset, error) {
	opts := physics.DefaultOptions()
	algo, err := physics.GetLayoutAlgorithm(layout, opts.Seed)
	if err != nil {
		return models.Dataset{}, err
	}
	processor, err := GetProcessor(format)
	if err != nil {
		return models.Dataset{}, err
	}
	ds, err := processor.ProcessData(data)
	if err != nil {
		return models.Dataset{}, fmt.Errorf("%s: %w", processor.GetName(), err)
	}
	if err := models.Validate(ds.Nodes, ds.Links); err != nil {
		return models.Dataset{}, err
	}
	if physics.NeedsLayout(ds.Nodes) {
		ds.Nodes = physics.Layout(algo, ds.Nodes, ds.Links, opts)
	}
	if ds.ModelData == nil {
		ds.ModelData = models.GraphMetadata{}
	}
	return ds, nil
}

// FormatFromPath returns the format implied by a file extension.
func FormatFromPath(path string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return "json"
	}
	return ext[1:]
}

// Load reads and parses a dataset file. The format follows the extension.
func Load(path string) (models.Dataset, error) {
	return LoadWithLayout(path, "")
}

// LoadWithLayout is Load with the named layout algorithm.
func LoadWithLayout(path, layout string) (models.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.Dataset{}, fmt.Errorf("read dataset: %w", err)
	}
	ds, err := ParseWithLayout(data, FormatFromPath(path), layout)
	if err != nil {
		return models.Dataset{}, fmt.Errorf("%s: %w", path, err)
	}
	return ds, nil
}

// Marshal encodes ds as an indented GraphLinksModel JSON document.
func Marshal(ds models.Dataset) ([]byte, error) {
	data, err := json.MarshalIndent(models.NewGraphLinksModel(ds), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode dataset: %w", err)
	}
	return append(data, '\n'), nil
}

// MarshalFormat encodes ds as JSON or YAML.
func MarshalFormat(ds models.Dataset, format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "json":
		return Marshal(ds)
	case "yaml", "yml":
		data, err := yaml.Marshal(ds.Clone())
		if err != nil {
			return nil, fmt.Errorf("encode dataset: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("unsupported save format: %s", format)
	}
}

// Save writes ds to path, as YAML for .yaml/.yml paths and as GraphLinksModel
// JSON otherwise. The file is replaced atomically so a watcher never sees a
// partial document.
func Save(path string, ds models.Dataset) error {
	format := strings.ToLower(FormatFromPath(path))
	if format != "yaml" && format != "yml" {
		format = "json"
	}
	data, err := MarshalFormat(ds, format)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save dataset: %w", err)
	}
	return nil
}
