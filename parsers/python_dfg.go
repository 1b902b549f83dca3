package parsers

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/zendesk/irscan/ir"
)

// gatherIDs collects the variable names an expression reads: identifiers,
// dotted attributes (`obj.attr`), subscripts (`m["k"]`) and literal
// getattr targets. These names drive def→use edges.
func (b *pyBuilder) gatherIDs(n *sitter.Node, out *[]string) {
	switch n.Type() {
	case "identifier":
		*out = append(*out, b.content(n))
	case "attribute":
		var bases []string
		if obj := n.ChildByFieldName("object"); obj != nil {
			b.gatherIDs(obj, &bases)
		}
		if attr := n.ChildByFieldName("attribute"); attr != nil {
			name := b.content(attr)
			if len(bases) == 0 {
				*out = append(*out, name)
			}
			for _, base := range bases {
				*out = append(*out, base+"."+name)
			}
		}
	case "subscript":
		var bases []string
		if v := n.ChildByFieldName("value"); v != nil {
			b.gatherIDs(v, &bases)
		}
		idx := n.ChildByFieldName("subscript")
		if idx == nil {
			idx = n.ChildByFieldName("index")
		}
		if idx != nil {
			key := b.content(idx)
			if len(bases) == 0 {
				*out = append(*out, "["+key+"]")
			}
			for _, base := range bases {
				*out = append(*out, base+"["+key+"]")
			}
		} else {
			*out = append(*out, bases...)
		}
	case "call":
		if fn := n.ChildByFieldName("function"); fn != nil && b.content(fn) == "getattr" {
			if args := n.ChildByFieldName("arguments"); args != nil {
				argNodes := namedChildren(args)
				if len(argNodes) >= 2 && argNodes[1].Type() == "string" {
					attr := strings.Trim(b.content(argNodes[1]), `"'`)
					var bases []string
					b.gatherIDs(argNodes[0], &bases)
					for _, base := range bases {
						*out = append(*out, base+"."+attr)
					}
					return
				}
			}
		}
		for _, c := range namedChildren(n) {
			b.gatherIDs(c, out)
		}
	default:
		for _, c := range namedChildren(n) {
			b.gatherIDs(c, out)
		}
	}
}

func (b *pyBuilder) isSanitizerName(name string) bool {
	return IsSanitizer(LangPython, name) || IsSanitizer(LangPython, lastSegment(name))
}

func cloneSymbols(symbols map[string]*ir.Symbol) map[string]*ir.Symbol {
	out := make(map[string]*ir.Symbol, len(symbols))
	for k, v := range symbols {
		c := *v
		out[k] = &c
	}
	return out
}

// mergeStates joins per-branch symbol tables. A variable is sanitized
// after the merge only when it is sanitized in every branch; a variable
// defined in several branches gets a synthetic Assign node fed by each
// branch definition so taint from any branch survives.
func (b *pyBuilder) mergeStates(states []map[string]*ir.Symbol) {
	names := make(map[string]struct{})
	for _, state := range states {
		for name := range state {
			names[name] = struct{}{}
		}
	}
	dfg := b.fir.EnsureDFG()
	merged := make(map[string]*ir.Symbol, len(names))
	for name := range names {
		sanitizedAll := true
		var defs []uint64
		alias := ""
		for _, state := range states {
			sym, ok := state[name]
			if !ok {
				sanitizedAll = false
				continue
			}
			sanitizedAll = sanitizedAll && sym.Sanitized
			if sym.HasDef {
				defs = appendUnique(defs, sym.Def)
			}
			if alias == "" {
				alias = sym.AliasOf
			}
		}
		out := &ir.Symbol{Name: name, Sanitized: sanitizedAll, AliasOf: alias}
		switch len(defs) {
		case 0:
		case 1:
			out.Def, out.HasDef = defs[0], true
		default:
			id := uint64(len(dfg.Nodes)) + 1
			dfg.AddNode(ir.DFNode{
				ID:        id,
				Name:      name,
				Kind:      ir.DFAssign,
				Sanitized: sanitizedAll,
				Branch:    b.branch(),
			})
			for _, d := range defs {
				dfg.AddEdge(d, id)
			}
			dfg.Merges = append(dfg.Merges, ir.Merge{Into: id, From: defs})
			out.Def, out.HasDef = id, true
		}
		merged[name] = out
	}
	b.fir.Symbols = merged
}

func appendUnique(s []uint64, v uint64) []uint64 {
	for _, existing := range s {
		if existing == v {
			return s
		}
	}
	return append(s, v)
}

func (b *pyBuilder) defNode(n *sitter.Node, name string, kind ir.DFNodeKind, sanitized bool) uint64 {
	meta := tsMeta(b.fir, n)
	id := ir.StableID(b.fir.Path, meta.Line, meta.Column, name)
	b.fir.EnsureDFG().AddNode(ir.DFNode{
		ID:        id,
		Name:      name,
		Kind:      kind,
		Sanitized: sanitized,
		Branch:    b.branch(),
		Line:      meta.Line,
		Column:    meta.Column,
	})
	return id
}

func (b *pyBuilder) markSanitized(name string, nodeID uint64) {
	canonical := b.fir.ResolveAlias(name)
	sym := b.fir.Symbol(canonical)
	sym.Sanitized = true
	dfg := b.fir.EnsureDFG()
	if sym.HasDef {
		if n := dfg.Node(sym.Def); n != nil {
			n.Sanitized = true
		}
	}
	if canonical != name {
		aliased := b.fir.Symbol(name)
		aliased.AliasOf = canonical
		aliased.Sanitized = true
	}
	if n := dfg.Node(nodeID); n != nil {
		n.Sanitized = true
	}
}

// buildDFG walks a subtree building the data-flow graph. currentFn is -1
// at module level; fnName carries the enclosing function's name for call
// graph edges.
func (b *pyBuilder) buildDFG(n *sitter.Node, currentFn int, fnName string) {
	if n.IsError() {
		return
	}
	switch n.Type() {
	case "function_definition":
		b.enterFunction(n, fnName)
		return

	case "if_statement":
		b.defBranchMarker(n, "if")
		before := cloneSymbols(b.fir.Symbols)
		var states []map[string]*ir.Symbol
		if cons := n.ChildByFieldName("consequence"); cons != nil {
			states = append(states, b.runBranch(cons, before, currentFn, fnName))
		}
		altFound := false
		for _, child := range namedChildren(n) {
			if t := child.Type(); t == "elif_clause" || t == "else_clause" {
				altFound = true
				states = append(states, b.runBranch(child, before, currentFn, fnName))
			}
		}
		if !altFound {
			states = append(states, before)
		}
		b.mergeStates(states)
		return

	case "match_statement":
		if subject := n.ChildByFieldName("subject"); subject != nil {
			b.buildDFG(subject, currentFn, fnName)
		}
		b.defBranchMarker(n, "match")
		before := cloneSymbols(b.fir.Symbols)
		var states []map[string]*ir.Symbol
		if body := n.ChildByFieldName("body"); body != nil {
			for _, clause := range namedChildren(body) {
				if clause.Type() != "case_clause" {
					continue
				}
				target := clause.ChildByFieldName("consequence")
				if target == nil {
					target = clause
				}
				states = append(states, b.runBranch(target, before, currentFn, fnName))
			}
		}
		if len(states) == 0 {
			states = append(states, before)
		}
		b.mergeStates(states)
		return

	case "while_statement", "for_statement":
		b.defBranchMarker(n, strings.TrimSuffix(n.Type(), "_statement"))
		if n.Type() == "while_statement" {
			if cond := n.ChildByFieldName("condition"); cond != nil {
				b.useExpression(cond)
			}
		} else {
			b.bindLoopTarget(n)
		}
		before := cloneSymbols(b.fir.Symbols)
		var bodyState map[string]*ir.Symbol
		if body := n.ChildByFieldName("body"); body != nil {
			bodyState = b.runBranch(body, cloneSymbols(b.fir.Symbols), currentFn, fnName)
		} else {
			bodyState = before
		}
		// The loop body may not run at all, so merge with the pre-state.
		b.mergeStates([]map[string]*ir.Symbol{bodyState, before})
		return

	case "assignment", "augmented_assignment":
		b.handleAssignment(n, currentFn, fnName)

	case "return_statement":
		b.handleReturn(n, currentFn)

	case "await":
		for _, c := range namedChildren(n) {
			b.buildDFG(c, currentFn, fnName)
		}
		return

	case "call":
		// An assignment's right-hand call is consumed by the assignment
		// arm; processing it again here would sanitize its arguments.
		if !isAssignmentRHS(n) {
			b.handleBareCall(n, currentFn, fnName)
		}
	}

	for _, c := range namedChildren(n) {
		b.buildDFG(c, currentFn, fnName)
	}
}

func isAssignmentRHS(n *sitter.Node) bool {
	p := n.Parent()
	if p != nil && p.Type() == "await" {
		p = p.Parent()
	}
	return p != nil && (p.Type() == "assignment" || p.Type() == "augmented_assignment")
}

func (b *pyBuilder) runBranch(n *sitter.Node, entry map[string]*ir.Symbol, currentFn int, fnName string) map[string]*ir.Symbol {
	b.fir.Symbols = cloneSymbols(entry)
	id := b.branchCounter
	b.branchCounter++
	b.branchStack = append(b.branchStack, id)
	b.buildDFG(n, currentFn, fnName)
	b.branchStack = b.branchStack[:len(b.branchStack)-1]
	return b.fir.Symbols
}

func (b *pyBuilder) defBranchMarker(n *sitter.Node, name string) {
	dfg := b.fir.EnsureDFG()
	meta := tsMeta(b.fir, n)
	dfg.AddNode(ir.DFNode{
		ID:     ir.StableID(b.fir.Path, meta.Line, meta.Column, "branch."+name),
		Name:   name,
		Kind:   ir.DFBranch,
		Branch: b.branch(),
		Line:   meta.Line,
		Column: meta.Column,
	})
}

func (b *pyBuilder) enterFunction(n *sitter.Node, outer string) {
	nameNode := n.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := b.content(nameNode)
	id := len(b.fnIDs)
	b.fnIDs[name] = id

	// The function name itself is a definition so cross-module imports
	// can link to it; function objects carry no taint.
	fnDef := b.defNode(nameNode, name, ir.DFDef, true)
	fnSym := b.fir.Symbol(name)
	fnSym.Def, fnSym.HasDef = fnDef, true
	fnSym.Sanitized = true

	if params := n.ChildByFieldName("parameters"); params != nil {
		for _, param := range namedChildren(params) {
			identNode := param
			if param.Type() != "identifier" {
				if c := param.ChildByFieldName("name"); c != nil {
					identNode = c
				} else if param.NamedChildCount() > 0 {
					identNode = param.NamedChild(0)
				}
			}
			if identNode.Type() != "identifier" {
				continue
			}
			pname := b.content(identNode)
			pid := b.defNode(identNode, pname, ir.DFParam, false)
			b.fnParams[id] = append(b.fnParams[id], pid)
			sym := b.fir.Symbol(pname)
			sym.Def, sym.HasDef = pid, true
			sym.Sanitized = false
			sym.AliasOf = ""
		}
	}
	for _, c := range namedChildren(n) {
		b.buildDFG(c, id, name)
	}
}

func (b *pyBuilder) bindLoopTarget(n *sitter.Node) {
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
	sym.AliasOf = ""
	var srcs []string
	b.gatherIDs(right, &srcs)
	for _, s := range srcs {
		if s == varName {
			continue
		}
		if def, ok := b.defOf(s); ok {
			b.fir.DFG.AddEdge(def, id)
		}
	}
}

func (b *pyBuilder) defOf(name string) (uint64, bool) {
	sym, ok := b.fir.Symbols[b.fir.ResolveAlias(name)]
	if !ok || !sym.HasDef {
		return 0, false
	}
	return sym.Def, true
}

// useExpression records Use nodes for every name an expression reads.
func (b *pyBuilder) useExpression(n *sitter.Node) {
	var ids []string
	b.gatherIDs(n, &ids)
	for _, name := range ids {
		canonical := b.fir.ResolveAlias(name)
		sanitized := false
		if sym, ok := b.fir.Symbols[canonical]; ok {
			sanitized = sym.Sanitized
		}
		id := b.defNode(n, name, ir.DFUse, sanitized)
		if def, ok := b.defOf(name); ok {
			b.fir.DFG.AddEdge(def, id)
		}
	}
}

func (b *pyBuilder) handleAssignment(n *sitter.Node, currentFn int, fnName string) {
	left := n.ChildByFieldName("left")
	right := n.ChildByFieldName("right")
	if left == nil || right == nil {
		return
	}
	var targets []string
	b.gatherIDs(left, &targets)
	if len(targets) == 0 {
		return
	}
	varName := targets[0]
	id := b.defNode(left, varName, ir.DFDef, false)
	prevAlias := ""
	if sym, ok := b.fir.Symbols[varName]; ok {
		prevAlias = sym.AliasOf
	}
	sym := b.fir.Symbol(varName)
	sym.Def, sym.HasDef = id, true
	sym.Sanitized = false
	sym.AliasOf = prevAlias

	callNode := right
	if right.Type() == "await" && right.NamedChildCount() > 0 {
		callNode = right.NamedChild(0)
	}
	if callNode.Type() == "call" {
		b.handleCallAssignment(n, callNode, varName, id, currentFn, fnName)
		return
	}

	var srcs []string
	b.gatherIDs(right, &srcs)
	if len(srcs) == 0 {
		// Literal assignment: nothing tainted flows in.
		sym.Sanitized = true
		if dn := b.fir.DFG.Node(id); dn != nil {
			dn.Sanitized = true
		}
		return
	}
	for _, s := range srcs {
		if s == varName {
			continue
		}
		if def, ok := b.defOf(s); ok {
			b.fir.DFG.AddEdge(def, id)
		}
	}
	if len(srcs) == 1 && right.Type() == "identifier" {
		resolved := b.fir.ResolveAlias(srcs[0])
		srcSanitized := false
		if s, ok := b.fir.Symbols[resolved]; ok {
			srcSanitized = s.Sanitized
		}
		sym.AliasOf = resolved
		sym.Sanitized = srcSanitized
		if srcSanitized {
			if dn := b.fir.DFG.Node(id); dn != nil {
				dn.Sanitized = true
			}
		}
	}
}

func (b *pyBuilder) handleCallAssignment(assign, call *sitter.Node, varName string, destID uint64, currentFn int, fnName string) {
	fnNode := call.ChildByFieldName("function")
	if fnNode == nil {
		return
	}
	full := b.canonicalCall(b.content(fnNode))
	tail := lastSegment(full)
	isSource := IsSource(LangPython, full) || IsSource(LangPython, tail)

	dfg := b.fir.EnsureDFG()
	if calleeID, ok := b.fnIDs[tail]; ok {
		b.callReturns = append(b.callReturns, pyCallReturn{dest: destID, callee: calleeID})
		if args := call.ChildByFieldName("arguments"); args != nil {
			for idx, arg := range namedChildren(args) {
				var ids []string
				b.gatherIDs(arg, &ids)
				for _, name := range ids {
					if name == varName {
						continue
					}
					if def, ok := b.defOf(name); ok {
						b.callArgs = append(b.callArgs, pyCallArg{from: def, callee: calleeID, idx: idx})
					}
				}
			}
		}
		if fnName != "" {
			b.callGraphEdge(fnName, tail)
		}
	}

	if isSource {
		// Re-define at the call site so the taint seed carries the call's
		// position.
		id := b.defNode(call, varName, ir.DFDef, false)
		sym := b.fir.Symbol(varName)
		sym.Def, sym.HasDef = id, true
		sym.Sanitized = false
		sym.AliasOf = ""
		b.callGraphEdge(moduleCaller(fnName), full)
		return
	}

	// Arguments flowing into the destination.
	var argNames []string
	if args := call.ChildByFieldName("arguments"); args != nil {
		b.gatherIDs(args, &argNames)
	}
	// The receiver of a method call carries through too
	// (`v = reader.read()` taints v when reader is tainted).
	switch fnNode.Type() {
	case "attribute":
		if obj := fnNode.ChildByFieldName("object"); obj != nil {
			var recv []string
			b.gatherIDs(obj, &recv)
			for _, r := range recv {
				if !containsString(argNames, r) {
					argNames = append(argNames, r)
				}
			}
		}
	}
	for _, name := range argNames {
		if name == varName {
			continue
		}
		if def, ok := b.defOf(name); ok {
			dfg.AddEdge(def, destID)
		}
	}

	sinkCall := IsSink(LangPython, full) || IsSink(LangPython, tail)
	if b.isSanitizerName(full) || (len(argNames) == 0 && !sinkCall) {
		// Sanitizer result, or a nullary call that cannot carry taint.
		b.markSanitized(varName, destID)
	}
	b.callGraphEdge(moduleCaller(fnName), full)
}

func (b *pyBuilder) handleReturn(n *sitter.Node, currentFn int) {
	var ids []string
	b.gatherIDs(n, &ids)
	dfg := b.fir.EnsureDFG()
	for _, name := range ids {
		canonical := b.fir.ResolveAlias(name)
		sanitized := false
		if sym, ok := b.fir.Symbols[canonical]; ok {
			sanitized = sym.Sanitized
		}
		id := b.defNode(n, name, ir.DFReturn, sanitized)
		if def, ok := b.defOf(name); ok {
			dfg.AddEdge(def, id)
		}
		if currentFn >= 0 {
			b.fnReturns[currentFn] = append(b.fnReturns[currentFn], id)
		}
	}
}

// handleBareCall covers calls in statement position: sink argument uses,
// sanitizer side effects, setattr field writes and plain intra-module
// calls feeding the call graph.
func (b *pyBuilder) handleBareCall(n *sitter.Node, currentFn int, fnName string) {
	fnNode := n.ChildByFieldName("function")
	if fnNode == nil {
		return
	}
	full := b.canonicalCall(b.content(fnNode))
	tail := lastSegment(full)

	switch tail {
	case "setattr":
		b.handleSetattr(n)
		return
	case "getattr":
		b.handleGetattr(n)
		return
	}

	dfg := b.fir.EnsureDFG()
	if calleeID, ok := b.fnIDs[tail]; ok {
		if args := n.ChildByFieldName("arguments"); args != nil {
			for idx, arg := range namedChildren(args) {
				var ids []string
				b.gatherIDs(arg, &ids)
				for _, name := range ids {
					if def, ok := b.defOf(name); ok {
						b.callArgs = append(b.callArgs, pyCallArg{from: def, callee: calleeID, idx: idx})
					}
				}
			}
		}
		b.callGraphEdge(moduleCaller(fnName), tail)
	} else {
		b.callGraphEdge(moduleCaller(fnName), full)
	}

	switch {
	case IsSink(LangPython, full) || IsSink(LangPython, tail):
		if args := n.ChildByFieldName("arguments"); args != nil {
			for _, arg := range namedChildren(args) {
				var ids []string
				b.gatherIDs(arg, &ids)
				for _, name := range ids {
					canonical := b.fir.ResolveAlias(name)
					sanitized := false
					if sym, ok := b.fir.Symbols[canonical]; ok {
						sanitized = sym.Sanitized
					}
					id := b.defNode(arg, name, ir.DFUse, sanitized)
					if def, ok := b.defOf(name); ok {
						dfg.AddEdge(def, id)
					}
				}
			}
		}
	case b.isSanitizerName(full):
		if args := n.ChildByFieldName("arguments"); args != nil {
			for _, arg := range namedChildren(args) {
				var ids []string
				b.gatherIDs(arg, &ids)
				for _, name := range ids {
					canonical := b.fir.ResolveAlias(name)
					sym := b.fir.Symbol(canonical)
					sym.Sanitized = true
					if sym.HasDef {
						if dn := dfg.Node(sym.Def); dn != nil {
							dn.Sanitized = true
						}
					}
				}
			}
		}
	}
}

// handleSetattr models `setattr(obj, "attr", value)` as a field write:
// a Def of obj.attr fed by the value's definitions.
func (b *pyBuilder) handleSetattr(n *sitter.Node) {
	args := n.ChildByFieldName("arguments")
	if args == nil {
		return
	}
	argNodes := namedChildren(args)
	if len(argNodes) < 3 || argNodes[1].Type() != "string" {
		return
	}
	attr := strings.Trim(b.content(argNodes[1]), `"'`)
	var bases, srcs []string
	b.gatherIDs(argNodes[0], &bases)
	b.gatherIDs(argNodes[2], &srcs)
	dfg := b.fir.EnsureDFG()
	for _, base := range bases {
		field := base + "." + attr
		id := b.defNode(argNodes[0], field, ir.DFDef, false)
		sym := b.fir.Symbol(field)
		sym.Def, sym.HasDef = id, true
		sym.Sanitized = false
		for _, s := range srcs {
			if s == field {
				continue
			}
			if def, ok := b.defOf(s); ok {
				dfg.AddEdge(def, id)
			}
		}
	}
}

// handleGetattr records a Use of obj.attr when the attribute name is a
// literal string.
func (b *pyBuilder) handleGetattr(n *sitter.Node) {
	args := n.ChildByFieldName("arguments")
	if args == nil {
		return
	}
	argNodes := namedChildren(args)
	if len(argNodes) < 2 || argNodes[1].Type() != "string" {
		return
	}
	attr := strings.Trim(b.content(argNodes[1]), `"'`)
	var bases []string
	b.gatherIDs(argNodes[0], &bases)
	dfg := b.fir.EnsureDFG()
	for _, base := range bases {
		field := base + "." + attr
		sanitized := false
		if sym, ok := b.fir.Symbols[field]; ok {
			sanitized = sym.Sanitized
		}
		id := b.defNode(argNodes[0], field, ir.DFUse, sanitized)
		if def, ok := b.defOf(field); ok {
			dfg.AddEdge(def, id)
		}
		b.fir.Symbol(field)
	}
}

func (b *pyBuilder) callGraphEdge(caller, callee string) {
	if b.fir.CallGraph == nil {
		b.fir.CallGraph = ir.NewCallGraph()
	}
	b.fir.CallGraph.AddCall(caller, callee)
}

func moduleCaller(fnName string) string {
	if fnName == "" {
		return "<module>"
	}
	return fnName
}

func containsString(s []string, v string) bool {
	for _, x := range s {
		if x == v {
			return true
		}
	}
	return false
}

// buildCFG lays out one basic block per statement suite, with successor
// edges for conditional and loop constructs.
func (b *pyBuilder) buildCFG(root *sitter.Node) {
	cfg := &ir.CFG{}
	var walk func(n *sitter.Node, fn string, cur int) int
	walk = func(n *sitter.Node, fn string, cur int) int {
		if n.IsError() {
			return cur
		}
		switch n.Type() {
		case "function_definition":
			name := fn
			if nn := n.ChildByFieldName("name"); nn != nil {
				name = b.content(nn)
			}
			entry := cfg.AddBlock(name, int(n.StartPoint().Row)+1)
			if body := n.ChildByFieldName("body"); body != nil {
				walk(body, name, entry)
			}
			return cur
		case "if_statement":
			var exits []int
			if cons := n.ChildByFieldName("consequence"); cons != nil {
				blk := cfg.AddBlock(fn, int(cons.StartPoint().Row)+1)
				cfg.Link(cur, blk)
				exits = append(exits, walk(cons, fn, blk))
			}
			for _, child := range namedChildren(n) {
				if t := child.Type(); t == "elif_clause" || t == "else_clause" {
					blk := cfg.AddBlock(fn, int(child.StartPoint().Row)+1)
					cfg.Link(cur, blk)
					exits = append(exits, walk(child, fn, blk))
				}
			}
			join := cfg.AddBlock(fn, int(n.EndPoint().Row)+1)
			cfg.Link(cur, join)
			for _, e := range exits {
				cfg.Link(e, join)
			}
			return join
		case "while_statement", "for_statement":
			body := n.ChildByFieldName("body")
			if body == nil {
				return cur
			}
			blk := cfg.AddBlock(fn, int(body.StartPoint().Row)+1)
			cfg.Link(cur, blk)
			exit := walk(body, fn, blk)
			cfg.Link(exit, blk) // back edge
			join := cfg.AddBlock(fn, int(n.EndPoint().Row)+1)
			cfg.Link(cur, join)
			cfg.Link(exit, join)
			return join
		default:
			for _, c := range namedChildren(n) {
				cur = walk(c, fn, cur)
			}
			return cur
		}
	}
	entry := cfg.AddBlock("<module>", 1)
	walk(root, "<module>", entry)
	if len(cfg.Blocks) > 0 {
		b.fir.CFG = cfg
	}
}
