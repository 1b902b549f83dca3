package plugin

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Manifest declares a plugin's identity, entry command, capabilities and
// limits. The host refuses to call any method whose capability the
// manifest does not declare.
type Manifest struct {
	Name         string   `json:"name"`
	Version      string   `json:"version"`
	Entry        []string `json:"entry"`
	Capabilities []string `json:"capabilities"`
	ReadsFS      bool     `json:"reads_fs"`
	Limits       Limits   `json:"limits"`

	// Dir is the directory the manifest was loaded from.
	Dir string `json:"-"`
}

// HasCapability reports whether the plugin declared cap.
func (m *Manifest) HasCapability(cap string) bool {
	for _, c := range m.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "version", "entry", "capabilities"],
  "properties": {
    "name": {"type": "string", "minLength": 1, "pattern": "^[a-zA-Z0-9._-]+$"},
    "version": {"type": "string", "minLength": 1},
    "entry": {"type": "array", "items": {"type": "string"}, "minItems": 1},
    "capabilities": {
      "type": "array",
      "items": {"enum": ["discover", "transform", "analyze", "report", "rules"]}
    },
    "reads_fs": {"type": "boolean"},
    "limits": {
      "type": "object",
      "properties": {
        "cpu_ms": {"type": "integer", "minimum": 0},
        "mem_mb": {"type": "integer", "minimum": 0},
        "wall_ms": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

var manifestSchemaCompiled = func() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(manifestSchema))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("irscan://plugin-manifest.schema.json", doc); err != nil {
		panic(err)
	}
	sch, err := c.Compile("irscan://plugin-manifest.schema.json")
	if err != nil {
		panic(err)
	}
	return sch
}()

// LoadManifest reads and validates one manifest.json.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	if err := manifestSchemaCompiled.Validate(doc); err != nil {
		return nil, fmt.Errorf("manifest %s: %w", path, err)
	}
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	m.Dir = filepath.Dir(path)
	return &m, nil
}

// Discover loads every plugin manifest directly under dir (each plugin
// lives in its own subdirectory holding a manifest.json). Invalid
// manifests are skipped with their errors collected.
func Discover(dir string) ([]*Manifest, []error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, []error{err}
	}
	var manifests []*Manifest
	var errs []error
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(dir, e.Name(), "manifest.json")
		if _, statErr := os.Stat(path); statErr != nil {
			continue
		}
		m, err := LoadManifest(path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		manifests = append(manifests, m)
	}
	sort.Slice(manifests, func(i, j int) bool { return manifests[i].Name < manifests[j].Name })
	return manifests, errs
}
