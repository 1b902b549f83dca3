package parsers

import (
	"context"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/zendesk/irscan/ir"
)

// parseTreeSitter runs a grammar over the source. A nil tree (grammar
// failure) comes back as an error; a tree containing ERROR nodes is still
// returned so callers can walk the well-formed regions.
func parseTreeSitter(lang *sitter.Language, src []byte) (*sitter.Tree, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(lang)
	tree, err := parser.ParseCtx(context.Background(), nil, src)
	if err != nil {
		return nil, err
	}
	return tree, nil
}

func tsMeta(fir *ir.FileIR, n *sitter.Node) ir.Meta {
	pt := n.StartPoint()
	return ir.Meta{File: fir.Path, Line: int(pt.Row) + 1, Column: int(pt.Column) + 1}
}

// camelKind converts a tree-sitter node kind ("function_definition") into
// the CamelCase form AST queries address ("FunctionDefinition").
func camelKind(kind string) string {
	var b strings.Builder
	up := true
	for _, ch := range kind {
		switch {
		case ch == '_':
			up = true
		case up:
			b.WriteRune(unicode.ToUpper(ch))
			up = false
		default:
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// astValueFields names, per node kind, the field whose text becomes the
// arena node's value. Kinds not listed stay valueless.
var astValueFields = map[string]string{
	"call":                "function",
	"call_expression":     "function",
	"function_definition": "name",
	"function_item":       "name",
	"method_declaration":  "name",
	"class_definition":    "name",
	"let_declaration":     "pattern",
	"assignment":          "left",
	"aliased_import":      "alias",
}

// buildAST converts the named portion of a tree-sitter CST into the
// immutable arena. ERROR subtrees are skipped; their siblings survive.
func buildAST(fir *ir.FileIR, root *sitter.Node, src []byte) *ir.FileAST {
	ast := ir.NewFileAST(fir.Path, fir.Language)
	var walk func(n *sitter.Node, parent int)
	walk = func(n *sitter.Node, parent int) {
		if n.IsError() {
			return
		}
		kind := n.Type()
		value := ""
		if field, ok := astValueFields[kind]; ok {
			if c := n.ChildByFieldName(field); c != nil {
				value = c.Content(src)
			}
		} else if kind == "import_statement" || kind == "import_from_statement" {
			value = strings.TrimSpace(n.Content(src))
		} else if kind == "identifier" || kind == "string" || kind == "macro_invocation" {
			value = n.Content(src)
		}
		id := ast.Add(parent, camelKind(kind), value, tsMeta(fir, n))
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i), id)
		}
	}
	for i := 0; i < int(root.NamedChildCount()); i++ {
		walk(root.NamedChild(i), -1)
	}
	return ast
}

// namedChildren collects the named children of a node.
func namedChildren(n *sitter.Node) []*sitter.Node {
	out := make([]*sitter.Node, 0, n.NamedChildCount())
	for i := 0; i < int(n.NamedChildCount()); i++ {
		out = append(out, n.NamedChild(i))
	}
	return out
}
