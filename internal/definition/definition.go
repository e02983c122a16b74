// Package definition loads graph definitions from YAML, JSON or HCL files.
package definition

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/seantiz/weft/internal/model"
)

// Format identifies a definition file syntax.
type Format string

const (
	FormatYAML Format = "yaml"
	FormatJSON Format = "json"
	FormatHCL  Format = "hcl"
)

// FormatFromPath picks a format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".json":
		return FormatJSON, nil
	case ".hcl":
		return FormatHCL, nil
	}
	return "", fmt.Errorf("unsupported definition file extension %q", filepath.Ext(path))
}

// LoadFile reads and validates the graph definition at path.
func LoadFile(path string) (model.Graph, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return model.Graph{}, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return model.Graph{}, fmt.Errorf("read definition: %w", err)
	}
	return Parse(data, filepath.Base(path), format)
}

// Parse decodes and validates a graph definition. name is used in
// diagnostics only.
func Parse(data []byte, name string, format Format) (model.Graph, error) {
	var g model.Graph
	var err error
	switch format {
	case FormatYAML:
		err = yaml.Unmarshal(data, &g)
	case FormatJSON:
		err = json.Unmarshal(data, &g)
	case FormatHCL:
		g, err = parseHCL(data, name)
	default:
		return model.Graph{}, fmt.Errorf("unsupported definition format %q", format)
	}
	if err != nil {
		return model.Graph{}, fmt.Errorf("decode %s: %w", name, err)
	}

	if err := g.Validate(); err != nil {
		return model.Graph{}, err
	}
	return g, nil
}
