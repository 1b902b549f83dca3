package taint

import (
	"regexp"
	"testing"
	"time"

	"github.com/zendesk/irscan/finding"
	"github.com/zendesk/irscan/parsers"
	"github.com/zendesk/irscan/rules"
)

// taintRule compiles a Semgrep-style taint rule from pattern lists.
func taintRule(t *testing.T, sources, sanitizers, reclass, sinks []string) *rules.CompiledRule {
	t.Helper()
	compile := func(patterns []string) []rules.TaintPattern {
		var out []rules.TaintPattern
		for _, p := range patterns {
			src, groups := rules.PatternToRegex(p, nil)
			re, err := regexp.Compile(src)
			if err != nil {
				t.Fatalf("pattern %q: %v", p, err)
			}
			focusGroup := 0
			if len(groups) > 0 {
				focusGroup = 1
			}
			out = append(out, rules.TaintPattern{
				Allow: []rules.PatternRegex{{Re: re, Source: p, FocusGroup: focusGroup}},
			})
		}
		return out
	}
	return &rules.CompiledRule{
		ID:       "test.taint",
		Severity: finding.High,
		Message:  "tainted flow",
		Matcher: rules.Matcher{
			Kind: rules.MatcherTaint,
			Taint: &rules.TaintMatcher{
				Sources:    compile(sources),
				Sanitizers: compile(sanitizers),
				Reclass:    compile(reclass),
				Sinks:      compile(sinks),
			},
		},
	}
}

func analyzePython(t *testing.T, src string, rule *rules.CompiledRule, cfg Config) []finding.Finding {
	t.Helper()
	fir, err := parsers.New().Parse("app.py", []byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	out, aerr := New(rule, cfg).Analyze(fir)
	if aerr != nil {
		t.Fatalf("analyze: %v", aerr)
	}
	return out
}

func TestTaintSourceToSink(t *testing.T) {
	t.Parallel()

	rule := taintRule(t, []string{"input(...)"}, nil, nil, []string{"eval($X)"})
	out := analyzePython(t, "x = input()\neval(x)\n", rule, Config{})
	if len(out) != 1 {
		t.Fatalf("expected one finding, got %d", len(out))
	}
	f := out[0]
	if f.Line != 2 {
		t.Fatalf("finding should cite the sink line, got %d", f.Line)
	}
	if f.SourceLine != 1 {
		t.Fatalf("finding should cite the source at line 1, got %d", f.SourceLine)
	}
	if f.Severity != finding.High {
		t.Fatalf("unexpected severity %v", f.Severity)
	}
	if f.Excerpt != "eval(x)" {
		t.Fatalf("excerpt should be the sink's line, got %q", f.Excerpt)
	}
}

func TestTaintSanitizedFlow(t *testing.T) {
	t.Parallel()

	rule := taintRule(t,
		[]string{"input(...)"},
		[]string{"html.escape($X)"},
		nil,
		[]string{"print($X)"},
	)
	src := "import html\nx = input()\ny = html.escape(x)\nprint(y)\n"
	out := analyzePython(t, src, rule, Config{})
	if len(out) != 0 {
		t.Fatalf("sanitized flow must not report, got %d findings", len(out))
	}
}

func TestTaintBranchMergeStaysTainted(t *testing.T) {
	t.Parallel()

	rule := taintRule(t,
		[]string{"input(...)"},
		[]string{"html.escape($X)"},
		nil,
		[]string{"eval($X)"},
	)
	src := "import html\nx = input()\nif cond:\n    x = html.escape(x)\neval(x)\n"
	out := analyzePython(t, src, rule, Config{})
	if len(out) != 1 {
		t.Fatalf("sanitization on one branch only must still report, got %d", len(out))
	}
}

func TestTaintAllBranchesSanitized(t *testing.T) {
	t.Parallel()

	rule := taintRule(t,
		[]string{"input(...)"},
		[]string{"html.escape($X)"},
		nil,
		[]string{"eval($X)"},
	)
	src := "import html\nx = input()\nif cond:\n    x = html.escape(x)\nelse:\n    x = html.escape(x)\neval(x)\n"
	out := analyzePython(t, src, rule, Config{})
	if len(out) != 0 {
		t.Fatalf("sanitization on every branch must clear the flow, got %d", len(out))
	}
}

func TestTaintInterprocedural(t *testing.T) {
	t.Parallel()

	rule := taintRule(t, []string{"input(...)"}, nil, nil, []string{"eval($X)"})
	src := "def ident(p):\n    return p\n\nx = input()\ny = ident(x)\neval(y)\n"
	out := analyzePython(t, src, rule, Config{})
	if len(out) != 1 {
		t.Fatalf("taint should flow through the call boundary, got %d findings", len(out))
	}
}

func TestTaintReclassDowngradesSeverity(t *testing.T) {
	t.Parallel()

	rule := taintRule(t,
		[]string{"input(...)"},
		nil,
		[]string{"mark_html_safe($X)"},
		[]string{"eval($X)"},
	)
	src := "x = input()\nx = mark_html_safe(x)\neval(x)\n"
	out := analyzePython(t, src, rule, Config{})
	if len(out) != 1 {
		t.Fatalf("reclassification must not drop the finding, got %d", len(out))
	}
	if out[0].Severity != finding.Low {
		t.Fatalf("reclassified finding should be LOW, got %v", out[0].Severity)
	}
}

func TestTaintMonotonicity(t *testing.T) {
	t.Parallel()

	src := "x = input()\ny = fetch_remote()\neval(x)\neval(y)\n"

	one := taintRule(t, []string{"input(...)"}, nil, nil, []string{"eval($X)"})
	base := analyzePython(t, src, one, Config{})

	two := taintRule(t, []string{"input(...)", "fetch_remote(...)"}, nil, nil, []string{"eval($X)"})
	more := analyzePython(t, src, two, Config{})
	if len(more) < len(base) {
		t.Fatalf("adding a source must not shrink findings: %d -> %d", len(base), len(more))
	}

	sanitized := taintRule(t, []string{"input(...)"}, []string{"input(...)"}, nil, []string{"eval($X)"})
	fewer := analyzePython(t, src, sanitized, Config{})
	if len(fewer) > len(base) {
		t.Fatalf("adding a sanitizer must not grow findings: %d -> %d", len(base), len(fewer))
	}
}

func TestTaintStepBudget(t *testing.T) {
	t.Parallel()

	rule := taintRule(t, []string{"input(...)"}, nil, nil, []string{"eval($X)"})
	fir, err := parsers.New().Parse("app.py", []byte("x = input()\na = x\nb = a\nc = b\neval(c)\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, aerr := New(rule, Config{MaxSteps: 1}).Analyze(fir)
	if aerr != ErrBudgetExceeded {
		t.Fatalf("expected ErrBudgetExceeded, got %v", aerr)
	}
}

func TestTaintDeadline(t *testing.T) {
	t.Parallel()

	rule := taintRule(t, []string{"input(...)"}, nil, nil, []string{"eval($X)"})
	fir, err := parsers.New().Parse("app.py", []byte("x = input()\na = x\nb = a\neval(b)\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	_, aerr := New(rule, Config{Deadline: time.Now().Add(-time.Second)}).Analyze(fir)
	if aerr != ErrBudgetExceeded {
		t.Fatalf("expected ErrBudgetExceeded on an expired deadline, got %v", aerr)
	}
}

func TestSummaryCache(t *testing.T) {
	t.Parallel()

	src := "def ident(p):\n    return p\n\ndef swallow(p):\n    return 1\n"
	fir, err := parsers.New().Parse("lib.py", []byte(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	cache := NewSummaryCache()

	s := cache.Summary(fir, 0, 1, []string{"a", "b", "c"})
	if len(s.ParamToReturn) != 1 || !s.ParamToReturn[0] {
		t.Fatalf("ident's parameter should reach its return: %s", s.Describe())
	}

	again := cache.Summary(fir, 0, 1, []string{"b", "c"})
	if again != s {
		t.Fatalf("context is truncated to k=2, so the summary should be shared")
	}
	if cache.Len() != 1 {
		t.Fatalf("expected a single cached summary, got %d", cache.Len())
	}

	s2 := cache.Summary(fir, 1, 1, nil)
	if len(s2.ParamToReturn) != 1 || s2.ParamToReturn[0] {
		t.Fatalf("swallow's parameter must not reach its constant return: %s", s2.Describe())
	}
}
