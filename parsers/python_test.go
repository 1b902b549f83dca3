package parsers

import (
	"strings"
	"testing"

	"github.com/zendesk/irscan/ir"
)

func parsePy(t *testing.T, src string) *ir.FileIR {
	t.Helper()
	p := New()
	fir, err := p.Parse("app.py", []byte(src))
	if err != nil {
		t.Fatalf("unexpected parse error: %v", err)
	}
	return fir
}

func TestPythonImportEvents(t *testing.T) {
	t.Parallel()

	fir := parsePy(t, "import os\nimport subprocess as sp\nfrom html import escape\n")

	paths := pathsOf(fir)
	wantPrefixes := []string{"import.os", "import.subprocess", "import_from.html.escape"}
	for _, want := range wantPrefixes {
		found := false
		for _, p := range paths {
			if p == want {
				found = true
				break
			}
		}
		if !found {
			t.Fatalf("missing %q in %v", want, paths)
		}
	}

	if got := fir.ResolveAlias("sp"); got != "subprocess" {
		t.Fatalf("alias sp resolved to %q", got)
	}
	if got := fir.ResolveAlias("escape"); got != "html.escape" {
		t.Fatalf("from-import escape resolved to %q", got)
	}
}

func TestPythonCallEventsAreCanonical(t *testing.T) {
	t.Parallel()

	fir := parsePy(t, "import subprocess as sp\nsp.run(cmd)\n")
	found := false
	for _, n := range fir.Nodes {
		if n.Path == "call.subprocess.run" {
			found = true
			if n.Meta.Line != 2 {
				t.Fatalf("call event at line %d, want 2", n.Meta.Line)
			}
		}
		if strings.HasPrefix(n.Path, "call.sp.") {
			t.Fatalf("raw import spelling leaked into IR: %s", n.Path)
		}
	}
	if !found {
		t.Fatalf("missing canonical call event; have %v", pathsOf(fir))
	}
}

func TestPythonAssignmentBuildsDFGEdge(t *testing.T) {
	t.Parallel()

	fir := parsePy(t, "a = input()\nb = a\n")
	if fir.DFG == nil {
		t.Fatalf("expected a DFG")
	}

	symA := fir.Symbols["a"]
	symB := fir.Symbols["b"]
	if symA == nil || !symA.HasDef || symB == nil || !symB.HasDef {
		t.Fatalf("expected defs for a and b: %+v %+v", symA, symB)
	}
	if !edgeExists(fir.DFG, symA.Def, symB.Def) {
		t.Fatalf("expected edge a→b")
	}
	if symB.AliasOf != "a" {
		t.Fatalf("b should alias a, got %q", symB.AliasOf)
	}
}

func TestPythonSanitizerMarksNode(t *testing.T) {
	t.Parallel()

	fir := parsePy(t, "import html\na = input()\nb = html.escape(a)\nprint(b)\n")
	symB := fir.Symbols["b"]
	if symB == nil || !symB.Sanitized {
		t.Fatalf("b should be sanitized after html.escape: %+v", symB)
	}
	if !symB.HasDef {
		t.Fatalf("b should have a def")
	}
	if n := fir.DFG.Node(symB.Def); n == nil || !n.Sanitized {
		t.Fatalf("b's def node should carry the sanitized attribute")
	}

	symA := fir.Symbols["a"]
	if symA == nil || symA.Sanitized {
		t.Fatalf("a itself must stay unsanitized")
	}
}

func TestPythonLiteralAssignmentIsClean(t *testing.T) {
	t.Parallel()

	fir := parsePy(t, "x = 'static'\n")
	sym := fir.Symbols["x"]
	if sym == nil || !sym.Sanitized {
		t.Fatalf("literal assignment should not carry taint: %+v", sym)
	}
}

func TestPythonBranchMergeSemantics(t *testing.T) {
	t.Parallel()

	fir := parsePy(t, "import html\nx = input()\nif cond:\n    x = html.escape(x)\neval(x)\n")

	sym := fir.Symbols["x"]
	if sym == nil {
		t.Fatalf("missing symbol x")
	}
	// Sanitized on one branch only: the merged state must stay
	// unsanitized.
	if sym.Sanitized {
		t.Fatalf("x must not be considered sanitized after a partial merge")
	}
	if len(fir.DFG.Merges) == 0 {
		t.Fatalf("expected a merge node for the branch join")
	}
}

func TestPythonAllBranchesSanitized(t *testing.T) {
	t.Parallel()

	src := "import html\nx = input()\nif cond:\n    x = html.escape(x)\nelse:\n    x = html.escape(x)\nprint(x)\n"
	fir := parsePy(t, src)
	sym := fir.Symbols["x"]
	if sym == nil || !sym.Sanitized {
		t.Fatalf("x sanitized on all branches must stay sanitized: %+v", sym)
	}
}

func TestPythonInterproceduralLinks(t *testing.T) {
	t.Parallel()

	src := "def ident(p):\n    return p\n\nx = input()\ny = ident(x)\n"
	fir := parsePy(t, src)
	dfg := fir.DFG
	if dfg == nil {
		t.Fatalf("expected a DFG")
	}
	if len(dfg.FuncParams) == 0 || len(dfg.FuncReturns) == 0 {
		t.Fatalf("expected function params/returns to be indexed")
	}

	// Argument x must feed parameter p, and the return must feed y.
	symX := fir.Symbols["x"]
	symY := fir.Symbols["y"]
	if symX == nil || symY == nil {
		t.Fatalf("missing symbols")
	}
	params := dfg.FuncParams[0]
	if len(params) != 1 {
		t.Fatalf("expected one parameter, got %v", params)
	}
	if !edgeExists(dfg, symX.Def, params[0]) {
		t.Fatalf("argument should link to parameter")
	}
	returns := dfg.FuncReturns[0]
	if len(returns) == 0 {
		t.Fatalf("expected return nodes")
	}
	linked := false
	for _, r := range returns {
		if edgeExists(dfg, r, symY.Def) {
			linked = true
		}
	}
	if !linked {
		t.Fatalf("return should link to the callsite destination")
	}
}

func TestPythonSetattrFieldWrite(t *testing.T) {
	t.Parallel()

	fir := parsePy(t, "x = input()\nsetattr(obj, 'attr', x)\n")
	sym := fir.Symbols["obj.attr"]
	if sym == nil || !sym.HasDef {
		t.Fatalf("setattr should define obj.attr: %+v", sym)
	}
	if !edgeExists(fir.DFG, fir.Symbols["x"].Def, sym.Def) {
		t.Fatalf("value should flow into the field write")
	}
}

func TestPythonCallGraph(t *testing.T) {
	t.Parallel()

	fir := parsePy(t, "import subprocess as sp\n\ndef work(c):\n    sp.run(c)\n")
	if fir.CallGraph == nil {
		t.Fatalf("expected a call graph")
	}
	callees := fir.CallGraph.Callees("work")
	found := false
	for _, c := range callees {
		if c == "subprocess.run" {
			found = true
		}
	}
	if !found {
		t.Fatalf("work should call canonical subprocess.run, got %v", callees)
	}
}

func TestPythonTolerantOnSyntaxError(t *testing.T) {
	t.Parallel()

	p := New()
	src := "import os\ndef broken(:\n    pass\nx = input()\n"
	fir, _ := p.Parse("bad.py", []byte(src))
	if fir == nil {
		t.Fatalf("tolerant parse must return partial IR")
	}
	// The well-formed import must survive.
	seen := false
	for _, n := range fir.Nodes {
		if n.Path == "import.os" {
			seen = true
		}
	}
	if !seen {
		t.Fatalf("well-formed prefix should produce events; have %v", pathsOf(fir))
	}
}

func TestPythonCFGBlocks(t *testing.T) {
	t.Parallel()

	fir := parsePy(t, "def f(a):\n    if a:\n        g(a)\n    return a\n")
	if fir.CFG == nil || len(fir.CFG.Blocks) == 0 {
		t.Fatalf("expected CFG blocks")
	}
	if _, ok := fir.CFG.Funcs["f"]; !ok {
		t.Fatalf("expected an entry block for f, have %v", fir.CFG.Funcs)
	}
}

func edgeExists(dfg *ir.DFG, from, to uint64) bool {
	for _, e := range dfg.Edges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}
