package parsers

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/zendesk/irscan/ir"
)

// parseECMAScript covers JavaScript and TypeScript. Depth is L3: import
// alias resolution, assignment and call events, an intraprocedural DFG
// with catalog-driven sanitizer marking, and a direct call graph.
func (p *Parser) parseECMAScript(fir *ir.FileIR, src []byte) error {
	lang := javascript.GetLanguage()
	if fir.Language == LangTypeScript {
		lang = typescript.GetLanguage()
	}
	tree, err := parseTreeSitter(lang, src)
	if err != nil {
		return &ParseError{File: fir.Path, Details: err.Error()}
	}
	root := tree.RootNode()
	var perr error
	if root.HasError() {
		perr = &ParseError{File: fir.Path, Details: "source contains syntax errors"}
	}

	b := &jsBuilder{p: p, fir: fir, src: src}
	b.walk(root, "")
	fir.AST = buildAST(fir, root, src)
	return perr
}

type jsBuilder struct {
	p   *Parser
	fir *ir.FileIR
	src []byte
}

func (b *jsBuilder) content(n *sitter.Node) string { return n.Content(b.src) }

func (b *jsBuilder) canonical(raw string) string {
	segments := strings.Split(raw, ".")
	head := b.fir.ResolveAlias(segments[0])
	if len(segments) == 1 {
		return head
	}
	return head + "." + strings.Join(segments[1:], ".")
}

func (b *jsBuilder) push(path string, value any, n *sitter.Node) {
	b.fir.Push(ir.Node{Kind: b.fir.Language, Path: path, Value: value, Meta: tsMeta(b.fir, n)})
}

func (b *jsBuilder) walk(n *sitter.Node, fnName string) {
	if n.IsError() {
		return
	}
	switch n.Type() {
	case "import_statement":
		b.handleImport(n)
	case "function_declaration", "method_definition":
		if nameNode := n.ChildByFieldName("name"); nameNode != nil {
			fnName = b.content(nameNode)
		}
	case "variable_declarator":
		b.handleDeclarator(n, fnName)
	case "assignment_expression":
		b.handleAssignment(n, fnName)
	case "call_expression":
		b.handleCall(n, fnName)
	}
	for _, c := range namedChildren(n) {
		b.walk(c, fnName)
	}
}

// handleImport records ESM imports and their aliases:
//
//	import fs from 'fs'            → fs aliases fs
//	import {exec as run} from 'child_process' → run aliases child_process.exec
func (b *jsBuilder) handleImport(n *sitter.Node) {
	sourceNode := n.ChildByFieldName("source")
	if sourceNode == nil {
		return
	}
	module := strings.Trim(b.content(sourceNode), `"'`)
	b.push("import."+module, nil, n)
	for _, clause := range namedChildren(n) {
		if clause.Type() != "import_clause" {
			continue
		}
		for _, item := range namedChildren(clause) {
			switch item.Type() {
			case "identifier":
				sym := b.fir.Symbol(b.content(item))
				sym.AliasOf = module
			case "namespace_import":
				for _, id := range namedChildren(item) {
					if id.Type() == "identifier" {
						sym := b.fir.Symbol(b.content(id))
						sym.AliasOf = module
					}
				}
			case "named_imports":
				for _, spec := range namedChildren(item) {
					if spec.Type() != "import_specifier" {
						continue
					}
					name := spec.ChildByFieldName("name")
					if name == nil {
						continue
					}
					local := name
					if alias := spec.ChildByFieldName("alias"); alias != nil {
						local = alias
					}
					sym := b.fir.Symbol(b.content(local))
					sym.AliasOf = module + "." + b.content(name)
				}
			}
		}
	}
}

func (b *jsBuilder) handleDeclarator(n *sitter.Node, fnName string) {
	nameNode := n.ChildByFieldName("name")
	value := n.ChildByFieldName("value")
	if nameNode == nil || nameNode.Type() != "identifier" {
		return
	}
	varName := b.content(nameNode)
	id := b.defNode(nameNode, varName, ir.DFDef, false)
	sym := b.fir.Symbol(varName)
	sym.Def, sym.HasDef = id, true
	sym.Sanitized = false

	if value == nil {
		return
	}
	// CommonJS alias: const cp = require('child_process')
	if value.Type() == "call_expression" {
		if fn := value.ChildByFieldName("function"); fn != nil && b.content(fn) == "require" {
			if args := value.ChildByFieldName("arguments"); args != nil {
				argNodes := namedChildren(args)
				if len(argNodes) == 1 && argNodes[0].Type() == "string" {
					module := strings.Trim(b.content(argNodes[0]), `"'`)
					sym.AliasOf = module
					b.push("import."+module, varName, n)
					return
				}
			}
		}
		b.flowCallInto(value, varName, id, fnName)
		return
	}
	b.flowExprInto(value, varName, id)
}

func (b *jsBuilder) handleAssignment(n *sitter.Node, fnName string) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil {
		return
	}
	varName := b.content(left)
	id := b.defNode(left, varName, ir.DFDef, false)
	sym := b.fir.Symbol(varName)
	sym.Def, sym.HasDef = id, true
	sym.Sanitized = false
	if right.Type() == "call_expression" {
		b.flowCallInto(right, varName, id, fnName)
		return
	}
	b.flowExprInto(right, varName, id)
}

func (b *jsBuilder) flowExprInto(expr *sitter.Node, varName string, dest uint64) {
	var srcs []string
	b.gatherIDs(expr, &srcs)
	dfg := b.fir.EnsureDFG()
	if len(srcs) == 0 {
		b.fir.Symbol(varName).Sanitized = true
		if dn := dfg.Node(dest); dn != nil {
			dn.Sanitized = true
		}
		return
	}
	for _, s := range srcs {
		if s == varName {
			continue
		}
		if def, ok := b.defOf(s); ok {
			dfg.AddEdge(def, dest)
		}
	}
}

func (b *jsBuilder) flowCallInto(call *sitter.Node, varName string, dest uint64, fnName string) {
	fnNode := call.ChildByFieldName("function")
	if fnNode == nil {
		return
	}
	full := b.canonical(b.content(fnNode))
	b.push("call."+full, nil, call)
	b.callGraphEdge(moduleCaller(fnName), full)

	if IsSource(b.fir.Language, full) || IsSource(b.fir.Language, lastSegment(full)) {
		id := b.defNode(call, varName, ir.DFDef, false)
		sym := b.fir.Symbol(varName)
		sym.Def, sym.HasDef = id, true
		sym.Sanitized = false
		return
	}

	dfg := b.fir.EnsureDFG()
	var argNames []string
	if args := call.ChildByFieldName("arguments"); args != nil {
		b.gatherIDs(args, &argNames)
	}
	for _, s := range argNames {
		if s == varName {
			continue
		}
		if def, ok := b.defOf(s); ok {
			dfg.AddEdge(def, dest)
		}
	}
	if IsSanitizer(b.fir.Language, full) || IsSanitizer(b.fir.Language, lastSegment(full)) {
		sym := b.fir.Symbol(varName)
		sym.Sanitized = true
		if dn := dfg.Node(dest); dn != nil {
			dn.Sanitized = true
		}
	}
}

func (b *jsBuilder) handleCall(n *sitter.Node, fnName string) {
	fnNode := n.ChildByFieldName("function")
	if fnNode == nil {
		return
	}
	full := b.canonical(b.content(fnNode))
	b.push("call."+full, nil, n)
	b.callGraphEdge(moduleCaller(fnName), full)

	if IsSink(b.fir.Language, full) || IsSink(b.fir.Language, lastSegment(full)) {
		if args := n.ChildByFieldName("arguments"); args != nil {
			dfg := b.fir.EnsureDFG()
			for _, arg := range namedChildren(args) {
				var ids []string
				b.gatherIDs(arg, &ids)
				for _, name := range ids {
					sanitized := false
					if sym, ok := b.fir.Symbols[b.fir.ResolveAlias(name)]; ok {
						sanitized = sym.Sanitized
					}
					id := b.defNode(arg, name, ir.DFUse, sanitized)
					if def, ok := b.defOf(name); ok {
						dfg.AddEdge(def, id)
					}
				}
			}
		}
	}
}

func (b *jsBuilder) gatherIDs(n *sitter.Node, out *[]string) {
	switch n.Type() {
	case "identifier":
		*out = append(*out, b.content(n))
	case "member_expression":
		var bases []string
		if obj := n.ChildByFieldName("object"); obj != nil {
			b.gatherIDs(obj, &bases)
		}
		if prop := n.ChildByFieldName("property"); prop != nil {
			name := b.content(prop)
			if len(bases) == 0 {
				*out = append(*out, name)
			}
			for _, base := range bases {
				*out = append(*out, base+"."+name)
			}
		}
	case "string", "number", "template_string":
	default:
		for _, c := range namedChildren(n) {
			b.gatherIDs(c, out)
		}
	}
}

func (b *jsBuilder) defNode(n *sitter.Node, name string, kind ir.DFNodeKind, sanitized bool) uint64 {
	meta := tsMeta(b.fir, n)
	id := ir.StableID(b.fir.Path, meta.Line, meta.Column, name)
	b.fir.EnsureDFG().AddNode(ir.DFNode{
		ID:        id,
		Name:      name,
		Kind:      kind,
		Sanitized: sanitized,
		Branch:    ir.NoBranch,
		Line:      meta.Line,
		Column:    meta.Column,
	})
	return id
}

func (b *jsBuilder) defOf(name string) (uint64, bool) {
	sym, ok := b.fir.Symbols[b.fir.ResolveAlias(name)]
	if !ok || !sym.HasDef {
		return 0, false
	}
	return sym.Def, true
}

func (b *jsBuilder) callGraphEdge(caller, callee string) {
	if b.fir.CallGraph == nil {
		b.fir.CallGraph = ir.NewCallGraph()
	}
	b.fir.CallGraph.AddCall(caller, callee)
}
