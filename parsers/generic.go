package parsers

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"

	"github.com/zendesk/irscan/ir"
)

// genericLang describes the node kinds an L1 language contributes events
// for. Every listed kind produces one IR event with the given path prefix
// and either a named field's text or the node's own text as value.
type genericLang struct {
	language func() *sitter.Language
	imports  map[string]struct{}
	calls    map[string]string // node kind → function field name ("" = own text)
	assigns  map[string]string // node kind → target field name
	extras   map[string]string // node kind → path prefix for language-specific constructs
}

var genericLangs = map[string]genericLang{
	LangJava: {
		language: java.GetLanguage,
		imports:  set("import_declaration"),
		calls:    map[string]string{"method_invocation": "name", "object_creation_expression": "type"},
		assigns:  map[string]string{"local_variable_declaration": "", "assignment_expression": "left"},
	},
	LangPHP: {
		language: php.GetLanguage,
		imports:  set("namespace_use_declaration", "require_expression", "include_expression"),
		calls:    map[string]string{"function_call_expression": "function", "member_call_expression": "name"},
		assigns:  map[string]string{"assignment_expression": "left"},
	},
	LangRuby: {
		language: ruby.GetLanguage,
		imports:  set(), // require is a call in the grammar
		calls:    map[string]string{"call": "method"},
		assigns:  map[string]string{"assignment": "left"},
	},
	LangRust: {
		language: rust.GetLanguage,
		imports:  set("use_declaration"),
		calls:    map[string]string{"call_expression": "function"},
		assigns:  map[string]string{"let_declaration": "pattern"},
		extras: map[string]string{
			"unsafe_block":     "unsafe",
			"macro_invocation": "macro",
		},
	},
}

// parseGenericCode is the shared L1 parser: AST arena plus IR events for
// imports, assignments and calls, driven by the per-language tables above.
func (p *Parser) parseGenericCode(fir *ir.FileIR, src []byte) error {
	spec, ok := genericLangs[fir.Language]
	if !ok {
		return nil
	}
	tree, err := parseTreeSitter(spec.language(), src)
	if err != nil {
		return &ParseError{File: fir.Path, Details: err.Error()}
	}
	root := tree.RootNode()
	var perr error
	if root.HasError() {
		perr = &ParseError{File: fir.Path, Details: "source contains syntax errors"}
	}

	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		if n.IsError() {
			return
		}
		kind := n.Type()
		if _, isImport := spec.imports[kind]; isImport {
			text := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(n.Content(src)), ";"))
			fir.Push(ir.Node{Kind: fir.Language, Path: "import." + importTail(text), Value: text, Meta: tsMeta(fir, n)})
		} else if field, isCall := spec.calls[kind]; isCall {
			name := fieldText(n, field, src)
			if name != "" {
				fir.Push(ir.Node{Kind: fir.Language, Path: "call." + name, Meta: tsMeta(fir, n)})
			}
		} else if field, isAssign := spec.assigns[kind]; isAssign {
			name := fieldText(n, field, src)
			if name != "" {
				fir.Push(ir.Node{Kind: fir.Language, Path: "assign." + name, Meta: tsMeta(fir, n)})
			}
		} else if prefix, isExtra := spec.extras[kind]; isExtra {
			fir.Push(ir.Node{Kind: fir.Language, Path: prefix + "." + strings.TrimSpace(firstLine(n.Content(src))), Meta: tsMeta(fir, n)})
		}
		for i := 0; i < int(n.NamedChildCount()); i++ {
			walk(n.NamedChild(i))
		}
	}
	walk(root)
	fir.AST = buildAST(fir, root, src)
	return perr
}

func fieldText(n *sitter.Node, field string, src []byte) string {
	if field == "" {
		return strings.TrimSpace(firstLine(n.Content(src)))
	}
	c := n.ChildByFieldName(field)
	if c == nil {
		return ""
	}
	return c.Content(src)
}

// importTail extracts the imported path from a statement like
// `import java.util.List` or `use std::process::Command;`.
func importTail(text string) string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return text
	}
	return strings.TrimSuffix(fields[len(fields)-1], ";")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
