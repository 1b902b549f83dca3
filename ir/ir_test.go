package ir

import "testing"

func TestStableIDDeterministic(t *testing.T) {
	t.Parallel()

	a := StableID("a.py", 3, 7, "call.eval")
	b := StableID("a.py", 3, 7, "call.eval")
	if a != b {
		t.Fatalf("same inputs produced different ids: %d vs %d", a, b)
	}
	if StableID("a.py", 3, 7, "call.exec") == a {
		t.Fatalf("different paths should not collide on the same position")
	}
	if StableID("a.py", 4, 7, "call.eval") == a {
		t.Fatalf("different lines should not collide")
	}
}

func TestFileIRPushAssignsID(t *testing.T) {
	t.Parallel()

	fir := NewFileIR("x.yaml", "yaml")
	fir.Push(Node{Kind: "yaml", Path: "a.b", Value: 1, Meta: Meta{File: "x.yaml", Line: 2, Column: 3}})
	if len(fir.Nodes) != 1 {
		t.Fatalf("expected one node")
	}
	if fir.Nodes[0].ID == 0 {
		t.Fatalf("expected a stable id to be assigned")
	}
}

func TestResolveAliasChains(t *testing.T) {
	t.Parallel()

	fir := NewFileIR("m.py", "python")
	fir.Symbol("sp").AliasOf = "subprocess"
	fir.Symbol("b").AliasOf = "a"
	fir.Symbol("c").AliasOf = "b"

	if got := fir.ResolveAlias("sp"); got != "subprocess" {
		t.Fatalf("sp resolved to %q", got)
	}
	if got := fir.ResolveAlias("sp.run"); got != "subprocess.run" {
		t.Fatalf("sp.run resolved to %q", got)
	}
	if got := fir.ResolveAlias("c"); got != "a" {
		t.Fatalf("c resolved to %q", got)
	}
	if got := fir.ResolveAlias("unknown"); got != "unknown" {
		t.Fatalf("unknown name should resolve to itself, got %q", got)
	}
}

func TestResolveAliasCycleTerminates(t *testing.T) {
	t.Parallel()

	fir := NewFileIR("m.py", "python")
	fir.Symbol("a").AliasOf = "b"
	fir.Symbol("b").AliasOf = "a"
	// Circular imports must not loop forever.
	got := fir.ResolveAlias("a")
	if got != "a" && got != "b" {
		t.Fatalf("cycle resolved to %q", got)
	}
}

func TestFileASTArena(t *testing.T) {
	t.Parallel()

	ast := NewFileAST("m.py", "python")
	root := ast.Add(-1, "Module", "", Meta{File: "m.py", Line: 1, Column: 1})
	child := ast.Add(root, "Call", "eval", Meta{File: "m.py", Line: 2, Column: 1})

	if ast.ParentOf(child).ID != root {
		t.Fatalf("child's parent is not root")
	}
	if ast.ParentOf(root) != nil {
		t.Fatalf("root should have no parent")
	}
	if got := ast.Node(child).Value; got != "eval" {
		t.Fatalf("unexpected node value %q", got)
	}

	var visited []string
	ast.Walk(func(n *ASTNode) bool {
		visited = append(visited, n.Kind)
		return true
	})
	if len(visited) != 2 || visited[0] != "Module" || visited[1] != "Call" {
		t.Fatalf("unexpected walk order: %v", visited)
	}
}

func TestDFGEdgesAndLookup(t *testing.T) {
	t.Parallel()

	g := &DFG{}
	g.AddNode(DFNode{ID: 1, Name: "x", Kind: DFDef, Branch: NoBranch})
	g.AddNode(DFNode{ID: 2, Name: "x", Kind: DFUse, Branch: NoBranch})
	g.AddEdge(1, 2)

	if n := g.Node(2); n == nil || n.Kind != DFUse {
		t.Fatalf("lookup by id failed")
	}
	succ := g.Successors(1)
	if len(succ) != 1 || succ[0] != 2 {
		t.Fatalf("unexpected successors: %v", succ)
	}
	pred := g.Predecessors(2)
	if len(pred) != 1 || pred[0] != 1 {
		t.Fatalf("unexpected predecessors: %v", pred)
	}
}

func TestCallGraphDedupsEdges(t *testing.T) {
	t.Parallel()

	cg := NewCallGraph()
	cg.AddCall("main", "subprocess.run")
	cg.AddCall("main", "subprocess.run")
	cg.AddCall("main", "eval")
	if got := cg.Callees("main"); len(got) != 2 {
		t.Fatalf("expected deduplicated edges, got %v", got)
	}
}
