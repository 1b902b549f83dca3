package rego

import (
	"encoding/json"
	"testing"

	"github.com/zendesk/irscan/finding"
	"github.com/zendesk/irscan/ir"
	"github.com/zendesk/irscan/rules"
)

func testRule() *rules.CompiledRule {
	return &rules.CompiledRule{
		ID:       "wasm.test",
		Severity: finding.Medium,
		Message:  "policy violation",
		Matcher: rules.Matcher{
			Kind: rules.MatcherRegoWASM,
			Rego: &rules.RegoMatcher{WASMPath: "policy.wasm", Entrypoint: "deny"},
		},
	}
}

func testFIR() *ir.FileIR {
	fir := ir.NewFileIR("Dockerfile", "dockerfile")
	fir.Push(ir.Node{
		Kind:  "dockerfile",
		Path:  "USER",
		Value: "USER root",
		Meta:  ir.Meta{File: "Dockerfile", Line: 3, Column: 1},
	})
	return fir
}

func TestProjectInputShape(t *testing.T) {
	t.Parallel()

	input := projectInput(testFIR())
	raw, err := json.Marshal(input)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		FileType string `json:"file_type"`
		Nodes    []struct {
			Type  string `json:"type"`
			Path  string `json:"path"`
			Value any    `json:"value"`
			Meta  struct {
				File   string `json:"file"`
				Line   int    `json:"line"`
				Column int    `json:"column"`
			} `json:"meta"`
		} `json:"nodes"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if decoded.FileType != "dockerfile" {
		t.Fatalf("unexpected file_type %q", decoded.FileType)
	}
	if len(decoded.Nodes) != 1 {
		t.Fatalf("expected one node, got %d", len(decoded.Nodes))
	}
	n := decoded.Nodes[0]
	if n.Type != "dockerfile" || n.Path != "USER" || n.Meta.Line != 3 {
		t.Fatalf("unexpected node projection: %+v", n)
	}
}

func TestMapOutputStringArray(t *testing.T) {
	t.Parallel()

	fir := testFIR()
	out := mapOutput(fir, testRule(), []any{"root user"})
	if len(out) != 1 {
		t.Fatalf("expected one finding, got %d", len(out))
	}
	f := out[0]
	if f.Message != "root user" {
		t.Fatalf("the returned string becomes the message, got %q", f.Message)
	}
	if f.Line != 1 || f.Column != 1 {
		t.Fatalf("string results anchor at line 1, got %d:%d", f.Line, f.Column)
	}
}

func TestMapOutputObjectWithNodeRef(t *testing.T) {
	t.Parallel()

	fir := testFIR()
	ref := float64(fir.Nodes[0].ID)
	out := mapOutput(fir, testRule(), []any{
		map[string]any{"msg": "root user", "node_ref": ref},
	})
	if len(out) != 1 {
		t.Fatalf("expected one finding, got %d", len(out))
	}
	if out[0].Line != 3 {
		t.Fatalf("node_ref should resolve to the IR node's line, got %d", out[0].Line)
	}
	if out[0].Message != "root user" {
		t.Fatalf("unexpected message %q", out[0].Message)
	}
}

func TestMapOutputResultWrapper(t *testing.T) {
	t.Parallel()

	fir := testFIR()
	out := mapOutput(fir, testRule(), []any{
		map[string]any{"result": []any{"one", "two"}},
	})
	if len(out) != 2 {
		t.Fatalf("result wrappers should unwrap, got %d findings", len(out))
	}
}

func TestMapOutputBooleanMap(t *testing.T) {
	t.Parallel()

	fir := testFIR()
	out := mapOutput(fir, testRule(), map[string]any{
		"no_root":   true,
		"all_clear": false,
	})
	if len(out) != 1 {
		t.Fatalf("only true keys become findings, got %d", len(out))
	}
	if out[0].Message != "no_root" {
		t.Fatalf("unexpected message %q", out[0].Message)
	}
}

func TestMapOutputObjectWithExplicitPosition(t *testing.T) {
	t.Parallel()

	fir := testFIR()
	out := mapOutput(fir, testRule(), []any{
		map[string]any{"message": "bad", "line": float64(7), "column": float64(2), "path": "USER"},
	})
	if len(out) != 1 {
		t.Fatalf("expected one finding")
	}
	f := out[0]
	if f.Line != 7 || f.Column != 2 {
		t.Fatalf("explicit coordinates ignored: %d:%d", f.Line, f.Column)
	}
	if f.Excerpt != "USER" {
		t.Fatalf("path should become the excerpt, got %q", f.Excerpt)
	}
}

func TestTrapErrorWraps(t *testing.T) {
	t.Parallel()

	err := &TrapError{RuleID: "wasm.test", File: "Dockerfile", Err: json.Unmarshal([]byte("x"), &struct{}{})}
	if err.Unwrap() == nil {
		t.Fatalf("TrapError should expose the cause")
	}
}
