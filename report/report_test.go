package report

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/zendesk/irscan/finding"
)

func sample() []finding.Finding {
	f1 := finding.New("py.taint-eval", "app.py", 2, 1, "eval(x)", "user input reaches eval", finding.High)
	f2 := finding.New("dockerfile.no-latest", "Dockerfile", 1, 1, "FROM ubuntu:latest", "avoid latest", finding.Medium)
	f3 := finding.New("style.note", "app.py", 9, 1, "pass", "informational", finding.Info)
	return []finding.Finding{f2, f1, f3}
}

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, sample()); err != nil {
		t.Fatal(err)
	}
	var decoded []finding.Finding
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("invalid JSON output: %v", err)
	}
	if len(decoded) != 3 {
		t.Fatalf("expected 3 findings, got %d", len(decoded))
	}
}

func TestWriteJSONEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Write(&buf, FormatJSON, nil); err != nil {
		t.Fatal(err)
	}
	if strings.TrimSpace(buf.String()) != "[]" {
		t.Fatalf("empty findings must serialise as [], got %q", buf.String())
	}
}

func TestWriteText(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Write(&buf, FormatText, sample()); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"app.py:2:1", "py.taint-eval", "Dockerfile:1:1", "3 finding(s)"} {
		if !strings.Contains(out, want) {
			t.Fatalf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteTextEmpty(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Write(&buf, FormatText, nil); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "No findings.") {
		t.Fatalf("unexpected empty-report output: %q", buf.String())
	}
}

func TestWriteSARIF(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	if err := Write(&buf, FormatSARIF, sample()); err != nil {
		t.Fatal(err)
	}

	var doc struct {
		Version string `json:"version"`
		Runs    []struct {
			Tool struct {
				Driver struct {
					Name string `json:"name"`
				} `json:"driver"`
			} `json:"tool"`
			Results []struct {
				RuleID string   `json:"ruleId"`
				Level  string   `json:"level"`
				Rank   *float64 `json:"rank"`
			} `json:"results"`
		} `json:"runs"`
	}
	if err := json.Unmarshal(buf.Bytes(), &doc); err != nil {
		t.Fatalf("invalid SARIF JSON: %v", err)
	}
	if doc.Version != "2.1.0" {
		t.Fatalf("expected SARIF 2.1.0, got %q", doc.Version)
	}
	if len(doc.Runs) != 1 {
		t.Fatalf("expected one run, got %d", len(doc.Runs))
	}
	run := doc.Runs[0]
	if run.Tool.Driver.Name != "irscan" {
		t.Fatalf("unexpected driver name %q", run.Tool.Driver.Name)
	}
	if len(run.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(run.Results))
	}
	levels := make(map[string]string)
	for _, r := range run.Results {
		levels[r.RuleID] = r.Level
		if r.Rank == nil {
			t.Fatalf("result %s missing rank", r.RuleID)
		}
	}
	if levels["py.taint-eval"] != "error" {
		t.Fatalf("HIGH must map to error, got %q", levels["py.taint-eval"])
	}
	if levels["dockerfile.no-latest"] != "warning" {
		t.Fatalf("MEDIUM must map to warning, got %q", levels["dockerfile.no-latest"])
	}
	if levels["style.note"] != "note" {
		t.Fatalf("INFO must map to note, got %q", levels["style.note"])
	}
}

func TestWriteUnknownFormat(t *testing.T) {
	t.Parallel()

	if err := Write(&bytes.Buffer{}, Format("xml"), nil); err == nil {
		t.Fatalf("unknown formats must error")
	}
}
