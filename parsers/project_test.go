package parsers

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for name, content := range files {
		path := filepath.Join(root, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func TestParseProjectModuleNames(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"pkg/__init__.py": "",
		"pkg/util.py":     "def helper(v):\n    return v\n",
		"main.py":         "from pkg.util import helper\nx = helper(1)\n",
	})
	proj, err := New().ParseProject(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := proj.Modules["pkg.util"]; !ok {
		t.Fatalf("expected module pkg.util; have %v", moduleNames(proj))
	}
	if _, ok := proj.Modules["pkg"]; !ok {
		t.Fatalf("__init__.py should collapse onto the package; have %v", moduleNames(proj))
	}
	if _, ok := proj.Modules["main"]; !ok {
		t.Fatalf("expected module main; have %v", moduleNames(proj))
	}
}

func TestParseProjectLinksImportedSymbols(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"lib.py":  "def source_fn():\n    return input()\n",
		"main.py": "from lib import source_fn\nx = source_fn()\n",
	})
	proj, err := New().ParseProject(root)
	if err != nil {
		t.Fatal(err)
	}
	mainFir := proj.Modules["main"]
	if mainFir == nil {
		t.Fatalf("missing main module")
	}
	sym := mainFir.Symbols["source_fn"]
	if sym == nil || !sym.HasDef {
		t.Fatalf("imported symbol should link to its cross-file definition: %+v", sym)
	}
	if mainFir.SymbolModules["source_fn"] != "lib" {
		t.Fatalf("symbol module should record the defining module, got %q",
			mainFir.SymbolModules["source_fn"])
	}
}

func TestParseProjectToleratesBrokenFiles(t *testing.T) {
	t.Parallel()

	root := writeTree(t, map[string]string{
		"ok.py":  "x = 1\n",
		"bad.py": "def broken(:\n",
	})
	proj, err := New().ParseProject(root)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := proj.Modules["ok"]; !ok {
		t.Fatalf("healthy files must survive a broken sibling; have %v", moduleNames(proj))
	}
}

func moduleNames(p *Project) []string {
	var out []string
	for name := range p.Modules {
		out = append(out, name)
	}
	return out
}
