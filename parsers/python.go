package parsers

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"

	"github.com/zendesk/irscan/ir"
)

// parsePython produces the full IR for a Python file: IR-Doc events for
// imports, assignments and calls; the AST arena; the data-flow graph with
// branch-sensitive symbol states; and the direct call graph. On syntax
// errors the walk skips ERROR subtrees and keeps whatever parsed.
func (p *Parser) parsePython(fir *ir.FileIR, src []byte) error {
	tree, err := parseTreeSitter(python.GetLanguage(), src)
	if err != nil {
		return &ParseError{File: fir.Path, Details: err.Error()}
	}
	root := tree.RootNode()

	var perr error
	if root.HasError() {
		perr = &ParseError{File: fir.Path, Details: "python source contains syntax errors"}
	}

	b := &pyBuilder{p: p, fir: fir, src: src, fnIDs: map[string]int{},
		fnParams: map[int][]uint64{}, fnReturns: map[int][]uint64{}}
	b.walkEvents(root)
	b.buildDFG(root, -1, "")
	b.linkCalls()
	fir.AST = buildAST(fir, root, src)
	b.buildCFG(root)
	return perr
}

type pyCallArg struct {
	from   uint64
	callee int
	idx    int
}

type pyCallReturn struct {
	dest   uint64
	callee int
}

type pyBuilder struct {
	p   *Parser
	fir *ir.FileIR
	src []byte

	fnIDs       map[string]int
	fnParams    map[int][]uint64
	fnReturns   map[int][]uint64
	callArgs    []pyCallArg
	callReturns []pyCallReturn

	branchStack   []int
	branchCounter int
}

func (b *pyBuilder) branch() int {
	if len(b.branchStack) == 0 {
		return ir.NoBranch
	}
	return b.branchStack[len(b.branchStack)-1]
}

func (b *pyBuilder) content(n *sitter.Node) string { return n.Content(b.src) }

// canonicalCall resolves the leading segment of a dotted call through the
// alias table so `import subprocess as sp; sp.run(x)` canonicalises to
// `subprocess.run`.
func (b *pyBuilder) canonicalCall(raw string) string {
	segments := strings.Split(raw, ".")
	if len(segments) == 0 {
		return raw
	}
	head := b.fir.ResolveAlias(segments[0])
	if len(segments) == 1 {
		return head
	}
	return head + "." + strings.Join(segments[1:], ".")
}

// walkEvents emits IR-Doc events. Tolerant: ERROR nodes are skipped and
// their siblings still walked.
func (b *pyBuilder) walkEvents(n *sitter.Node) {
	if n.IsError() {
		return
	}
	switch n.Type() {
	case "call":
		if fn := n.ChildByFieldName("function"); fn != nil {
			id := b.canonicalCall(b.content(fn))
			b.pushEvent("call."+id, nil, n)
			b.emitAttrAccessEvent(n, id)
		}
	case "assignment":
		if left := n.ChildByFieldName("left"); left != nil {
			if right := n.ChildByFieldName("right"); right != nil && right.Type() == "string" {
				b.pushEvent("assign."+b.content(left), nil, n)
			}
		}
	case "import_statement":
		for _, child := range namedChildren(n) {
			b.emitImport(child, "")
		}
	case "import_from_statement":
		b.emitImportFrom(n)
	}
	for _, child := range namedChildren(n) {
		b.walkEvents(child)
	}
}

// emitAttrAccessEvent handles getattr/setattr calls with literal attribute
// names, projecting `getattr(obj, "attr")` as an `getattr.obj.attr` event
// so rules can address dynamic attribute access.
func (b *pyBuilder) emitAttrAccessEvent(call *sitter.Node, callee string) {
	tail := lastSegment(callee)
	if tail != "getattr" && tail != "setattr" {
		return
	}
	args := call.ChildByFieldName("arguments")
	if args == nil {
		return
	}
	argNodes := namedChildren(args)
	if len(argNodes) < 2 || argNodes[1].Type() != "string" {
		return
	}
	obj := b.content(argNodes[0])
	attr := strings.Trim(b.content(argNodes[1]), `"'`)
	b.pushEvent(tail+"."+obj+"."+attr, nil, call)
}

func (b *pyBuilder) emitImport(n *sitter.Node, module string) {
	switch n.Type() {
	case "dotted_name":
		name := b.content(n)
		if module == "" {
			b.pushEvent("import."+name, nil, n)
		} else {
			b.pushEvent("import_from."+module+"."+name, nil, n)
			target := name
			if module != "" {
				target = module + "." + name
			}
			sym := b.fir.Symbol(name)
			sym.AliasOf = target
		}
	case "aliased_import":
		nameNode := n.ChildByFieldName("name")
		if nameNode == nil {
			return
		}
		name := b.content(nameNode)
		alias := ""
		if a := n.ChildByFieldName("alias"); a != nil {
			alias = b.content(a)
		}
		path := "import." + name
		if module != "" {
			path = "import_from." + module + "." + name
		}
		var value any
		if alias != "" {
			value = alias
		}
		b.pushEvent(path, value, n)
		if alias != "" {
			target := name
			if module != "" {
				target = module + "." + name
			}
			sym := b.fir.Symbol(alias)
			sym.AliasOf = target
		}
	case "wildcard_import":
		path := "import_from.*"
		if module != "" {
			path = "import_from." + module + ".*"
		}
		b.pushEvent(path, nil, n)
	}
}

func (b *pyBuilder) emitImportFrom(n *sitter.Node) {
	module := ""
	relative := 0
	var imports []*sitter.Node
	for _, child := range namedChildren(n) {
		switch child.Type() {
		case "relative_import":
			text := b.content(child)
			relative = strings.Count(text, ".")
			for _, g := range namedChildren(child) {
				if g.Type() == "dotted_name" {
					module = b.content(g)
				}
			}
		case "dotted_name":
			if module == "" && len(imports) == 0 {
				module = b.content(child)
				continue
			}
			imports = append(imports, child)
		case "aliased_import", "wildcard_import":
			imports = append(imports, child)
		}
	}
	if relative > 0 {
		base := moduleFromPath(b.fir.Path, relative)
		if base != "" {
			if module == "" {
				module = base
			} else {
				module = base + "." + module
			}
		}
	}
	for _, child := range imports {
		b.emitImport(child, module)
	}
}

func (b *pyBuilder) pushEvent(path string, value any, n *sitter.Node) {
	meta := tsMeta(b.fir, n)
	b.fir.Push(ir.Node{
		Kind:  LangPython,
		Path:  path,
		Value: value,
		Meta:  meta,
	})
}

// moduleFromPath resolves a relative import level against the file's
// directory components.
func moduleFromPath(path string, level int) string {
	parts := strings.Split(strings.TrimSuffix(path, "/"), "/")
	if len(parts) > 0 {
		parts = parts[:len(parts)-1] // drop the file name
	}
	drop := level
	if drop > len(parts) {
		drop = len(parts)
	}
	parts = parts[:len(parts)-drop]
	return strings.Join(parts, ".")
}

func lastSegment(name string) string {
	if i := strings.LastIndex(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

// linkCalls connects recorded argument flows to callee parameters and
// callee returns to callsite destinations once every function is known.
func (b *pyBuilder) linkCalls() {
	dfg := b.fir.DFG
	if dfg == nil {
		return
	}
	for _, ca := range b.callArgs {
		params := b.fnParams[ca.callee]
		if ca.idx < len(params) {
			dfg.AddEdge(ca.from, params[ca.idx])
		}
		dfg.Calls = append(dfg.Calls, ir.CallLink{From: ca.from, Callee: ca.callee, Arg: ca.idx})
	}
	for _, cr := range b.callReturns {
		for _, ret := range b.fnReturns[cr.callee] {
			dfg.AddEdge(ret, cr.dest)
		}
		dfg.CallReturns = append(dfg.CallReturns, ir.CallLink{From: cr.dest, Callee: cr.callee})
	}
	if len(b.fnParams) > 0 {
		dfg.FuncParams = b.fnParams
	}
	if len(b.fnReturns) > 0 {
		dfg.FuncReturns = b.fnReturns
	}
}
