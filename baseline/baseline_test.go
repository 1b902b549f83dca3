package baseline

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/zendesk/irscan/finding"
	"github.com/zendesk/irscan/ir"
)

func TestLoadAndFilter(t *testing.T) {
	t.Parallel()

	keep := finding.New("r1", "a.py", 1, 1, "x", "m", finding.High)
	drop := finding.New("r2", "a.py", 2, 1, "y", "m", finding.Low)

	path := filepath.Join(t.TempDir(), "baseline.json")
	raw, err := json.Marshal([]string{drop.ID})
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}

	bl, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	out := bl.Filter([]finding.Finding{keep, drop})
	if len(out) != 1 || out[0].ID != keep.ID {
		t.Fatalf("baseline should drop exactly the accepted id, got %v", out)
	}
}

func TestLoadRejectsBadJSON(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(path, []byte("{"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected an error for malformed baseline")
	}
}

func TestWriteRoundTrip(t *testing.T) {
	t.Parallel()

	f := finding.New("r1", "a.py", 1, 1, "x", "m", finding.High)
	path := filepath.Join(t.TempDir(), "baseline.json")
	if err := Write(path, []finding.Finding{f}); err != nil {
		t.Fatal(err)
	}
	bl, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(bl.Filter([]finding.Finding{f})) != 0 {
		t.Fatalf("a written baseline must filter its own findings")
	}
}

func TestSuppress(t *testing.T) {
	t.Parallel()

	fir := ir.NewFileIR("a.py", "python")
	fir.Suppressed[2] = struct{}{}

	suppressed := finding.New("r1", "a.py", 2, 1, "x", "m", finding.High)
	kept := finding.New("r1", "a.py", 3, 1, "y", "m", finding.High)

	out := Suppress([]finding.Finding{suppressed, kept}, map[string]*ir.FileIR{"a.py": fir})
	if len(out) != 1 || out[0].Line != 3 {
		t.Fatalf("expected only the unsuppressed finding, got %v", out)
	}
}

func TestSuppressLines(t *testing.T) {
	t.Parallel()

	lines := map[string]map[int]struct{}{"a.py": {5: {}}}
	in := []finding.Finding{
		finding.New("r", "a.py", 5, 1, "x", "m", finding.Low),
		finding.New("r", "a.py", 6, 1, "y", "m", finding.Low),
		finding.New("r", "b.py", 5, 1, "z", "m", finding.Low),
	}
	out := SuppressLines(in, lines)
	if len(out) != 2 {
		t.Fatalf("expected 2 findings to survive, got %d", len(out))
	}
	for _, f := range out {
		if f.File == "a.py" && f.Line == 5 {
			t.Fatalf("suppressed line survived")
		}
	}
}
