package irscan

import "testing"

func TestPathMatches(t *testing.T) {
	t.Parallel()

	cases := []struct {
		pattern   string
		candidate string
		want      bool
	}{
		{"FROM", "FROM", true},
		{"FROM", "RUN", false},
		{"services[0].image", "services[0].image", true},
		{"services[*].image", "services[0].image", true},
		{"services[*].image", "services[12].image", true},
		{"$.services[*].image", "services[3].image", true},
		{"*.image", "services[0].image", true},
		{"services[0].image", "services[0].ports", false},
		{"a.b", "a.b.c", false},
		{"a.*", "a.b.c", true},
	}
	for _, c := range cases {
		if got := PathMatches(c.pattern, c.candidate); got != c.want {
			t.Fatalf("PathMatches(%q, %q) = %v, want %v", c.pattern, c.candidate, got, c.want)
		}
	}
}

func TestPathMatchesRejectsInvalidRunes(t *testing.T) {
	t.Parallel()

	if PathMatches("a|b", "a|b") {
		t.Fatalf("selector dialect must reject regex metacharacters")
	}
}

func TestLooseEqualNumbers(t *testing.T) {
	t.Parallel()

	if !looseEqual(int(80), float64(80)) {
		t.Fatalf("a YAML int must equal a JSON float of the same value")
	}
	if looseEqual(int(80), float64(81)) {
		t.Fatalf("different numbers must not compare equal")
	}
	if !looseEqual([]any{int(1), "a"}, []any{float64(1), "a"}) {
		t.Fatalf("deep structural comparison should normalise numbers")
	}
	if !looseEqual(map[string]any{"k": true}, map[string]any{"k": true}) {
		t.Fatalf("map comparison failed")
	}
	if looseEqual(map[string]any{"k": true}, map[string]any{"k": false}) {
		t.Fatalf("map values must be compared")
	}
}
