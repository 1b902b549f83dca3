package parsers

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/zendesk/irscan/ir"
)

// parseYAMLDoc flattens YAML (and JSON, which the YAML parser accepts as a
// superset while keeping line/column spans) into IR-Doc events with
// dotted paths. Merge keys are expanded; aliases resolve to their anchors;
// multi-document streams are all indexed.
func (p *Parser) parseYAMLDoc(fir *ir.FileIR) error {
	dec := yaml.NewDecoder(strings.NewReader(fir.Source))
	docs := 0
	for {
		var root yaml.Node
		err := dec.Decode(&root)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			// Partial IR for the documents already flattened.
			return &ParseError{File: fir.Path, Details: err.Error()}
		}
		node := &root
		if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
			node = node.Content[0]
		}
		prefix := ""
		if docs > 0 {
			prefix = fmt.Sprintf("doc[%d]", docs)
		}
		p.flattenYAML(fir, node, prefix)
		docs++
	}
	return nil
}

func (p *Parser) flattenYAML(fir *ir.FileIR, node *yaml.Node, prefix string) {
	if node == nil {
		return
	}
	switch node.Kind {
	case yaml.AliasNode:
		p.flattenYAML(fir, node.Alias, prefix)
	case yaml.MappingNode:
		// Expand merge keys first so explicit keys win.
		for i := 0; i+1 < len(node.Content); i += 2 {
			if node.Content[i].Value == "<<" {
				p.flattenMerge(fir, node.Content[i+1], prefix, mappingKeys(node))
			}
		}
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i]
			if key.Value == "<<" {
				continue
			}
			p.flattenYAML(fir, node.Content[i+1], joinPath(prefix, key.Value))
		}
	case yaml.SequenceNode:
		for i, item := range node.Content {
			p.flattenYAML(fir, item, fmt.Sprintf("%s[%d]", prefix, i))
		}
	case yaml.ScalarNode:
		var v any
		if err := node.Decode(&v); err != nil {
			v = node.Value
		}
		line, col := node.Line, node.Column
		if line < 1 {
			line = 1
		}
		if col < 1 {
			col = 1
		}
		fir.Push(ir.Node{
			Kind:  fir.Language,
			Path:  prefix,
			Value: v,
			Meta:  ir.Meta{File: fir.Path, Line: line, Column: col},
		})
	}
}

// flattenMerge expands `<<` values (a mapping, an alias, or a sequence of
// either) without overriding keys the mapping declares itself.
func (p *Parser) flattenMerge(fir *ir.FileIR, val *yaml.Node, prefix string, shadowed map[string]struct{}) {
	switch val.Kind {
	case yaml.AliasNode:
		p.flattenMerge(fir, val.Alias, prefix, shadowed)
	case yaml.SequenceNode:
		for _, item := range val.Content {
			p.flattenMerge(fir, item, prefix, shadowed)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(val.Content); i += 2 {
			key := val.Content[i].Value
			if _, own := shadowed[key]; own || key == "<<" {
				continue
			}
			p.flattenYAML(fir, val.Content[i+1], joinPath(prefix, key))
		}
	}
}

func mappingKeys(node *yaml.Node) map[string]struct{} {
	keys := make(map[string]struct{})
	for i := 0; i+1 < len(node.Content); i += 2 {
		if v := node.Content[i].Value; v != "<<" {
			keys[v] = struct{}{}
		}
	}
	return keys
}

func joinPath(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "." + key
}
