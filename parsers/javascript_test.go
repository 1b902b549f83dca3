package parsers

import "testing"

func TestJavaScriptImports(t *testing.T) {
	t.Parallel()

	p := New()
	src := "import fs from 'fs';\nimport {exec as run} from 'child_process';\nconst cp = require('child_process');\n"
	fir, err := p.Parse("index.js", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := fir.ResolveAlias("fs"); got != "fs" {
		t.Fatalf("fs resolved to %q", got)
	}
	if got := fir.ResolveAlias("run"); got != "child_process.exec" {
		t.Fatalf("run resolved to %q", got)
	}
	if got := fir.ResolveAlias("cp"); got != "child_process" {
		t.Fatalf("cp resolved to %q", got)
	}
}

func TestJavaScriptCallAndSinkUse(t *testing.T) {
	t.Parallel()

	p := New()
	src := "const x = req.query.name;\neval(x);\n"
	fir, err := p.Parse("app.js", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fir.DFG == nil {
		t.Fatalf("expected a DFG")
	}
	sym := fir.Symbols["x"]
	if sym == nil || !sym.HasDef {
		t.Fatalf("missing def for x")
	}
	// eval is a catalogued sink; its argument must appear as a Use fed by
	// x's definition.
	used := false
	for _, e := range fir.DFG.Edges {
		if e.From == sym.Def {
			used = true
		}
	}
	if !used {
		t.Fatalf("x's definition should feed the sink use")
	}
}

func TestTypeScriptParses(t *testing.T) {
	t.Parallel()

	p := New()
	src := "const token: string = process.env.TOKEN;\n"
	fir, err := p.Parse("conf.ts", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fir.Language != LangTypeScript {
		t.Fatalf("unexpected language %q", fir.Language)
	}
	if fir.AST == nil || len(fir.AST.Index) == 0 {
		t.Fatalf("expected an AST arena")
	}
}

func TestGenericRustEvents(t *testing.T) {
	t.Parallel()

	p := New()
	src := "use std::process::Command;\n\nfn main() {\n    unsafe { do_thing(); }\n    let c = Command::new(\"sh\");\n}\n"
	fir, err := p.Parse("main.rs", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var hasImport, hasUnsafe, hasCall bool
	for _, n := range fir.Nodes {
		switch {
		case n.Path == "import.std::process::Command":
			hasImport = true
		case len(n.Path) >= 7 && n.Path[:7] == "unsafe.":
			hasUnsafe = true
		case len(n.Path) >= 5 && n.Path[:5] == "call.":
			hasCall = true
		}
	}
	if !hasImport {
		t.Fatalf("missing use declaration event; have %v", pathsOf(fir))
	}
	if !hasUnsafe {
		t.Fatalf("unsafe block should produce an event; have %v", pathsOf(fir))
	}
	if !hasCall {
		t.Fatalf("missing call event; have %v", pathsOf(fir))
	}
}

func TestGoParserEvents(t *testing.T) {
	t.Parallel()

	p := New()
	src := "package main\n\nimport (\n\t\"os/exec\"\n)\n\nfunc main() {\n\texec.Command(\"sh\")\n}\n"
	fir, err := p.Parse("main.go", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var hasImport, hasCall bool
	for _, n := range fir.Nodes {
		switch n.Path {
		case "import.os/exec":
			hasImport = true
		case "call.os/exec.Command":
			hasCall = true
		}
	}
	if !hasImport {
		t.Fatalf("missing import event; have %v", pathsOf(fir))
	}
	if !hasCall {
		t.Fatalf("missing canonical call event; have %v", pathsOf(fir))
	}
}
