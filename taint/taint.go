// Package taint provides the source-to-sink tracking engine. It walks the
// language-agnostic data-flow graph built by the parsers, seeding taint at
// nodes matched by a rule's source patterns, propagating it breadth-first
// along def-to-use edges (including the argument/parameter and
// return/destination links that cross function boundaries), honouring
// sanitizer and reclassification patterns, and reporting a finding when a
// tainted, unsanitized value reaches a sink pattern.
package taint

import (
	"errors"
	"fmt"
	"time"

	"github.com/zendesk/irscan/finding"
	"github.com/zendesk/irscan/internal/textscan"
	"github.com/zendesk/irscan/ir"
	"github.com/zendesk/irscan/rules"
)

// ErrBudgetExceeded reports a walk that hit its step or time budget. The
// evaluation aborts with a diagnostic and no findings.
var ErrBudgetExceeded = errors.New("taint walk budget exceeded")

// DefaultMaxSteps bounds DFG edges traversed per rule evaluation when the
// engine config leaves it unset.
const DefaultMaxSteps = 10000

// Config bounds one taint evaluation.
type Config struct {
	// MaxSteps caps the number of DFG edges traversed.
	MaxSteps int
	// Deadline aborts the walk at the next edge once passed. Zero means
	// no deadline.
	Deadline time.Time
}

// Analyzer evaluates one compiled taint rule. Analyzers are cheap; build
// one per (rule, file) evaluation.
type Analyzer struct {
	rule      *rules.CompiledRule
	matcher   *rules.TaintMatcher
	cfg       Config
	summaries *SummaryCache
}

// New creates an analyzer for rule, which must carry a taint matcher.
func New(rule *rules.CompiledRule, cfg Config) *Analyzer {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	return &Analyzer{rule: rule, matcher: rule.Matcher.Taint, cfg: cfg}
}

// WithSummaries attaches a per-scan summary cache for context-sensitive
// interprocedural lookups.
func (a *Analyzer) WithSummaries(c *SummaryCache) *Analyzer {
	a.summaries = c
	return a
}

// hit is one pattern match anchored to a symbol.
type hit struct {
	symbol string
	line   int
	column int
	origin int // index of the pattern that produced the hit
}

// sinkHit is a sink pattern match.
type sinkHit struct {
	text    string
	line    int
	column  int
	excerpt string
}

// Analyze runs the seed/propagate/sink-check walk over one file. The
// returned error is ErrBudgetExceeded when the budget fired; findings are
// only returned on complete walks.
func (a *Analyzer) Analyze(fir *ir.FileIR) ([]finding.Finding, error) {
	if a.matcher == nil {
		return nil, fmt.Errorf("rule %s is not a taint rule", a.rule.ID)
	}
	source := fir.Source

	sources := a.collectHits(source, a.matcher.Sources)
	if len(sources) == 0 {
		return nil, nil
	}
	sanitizerHits := a.collectHits(source, a.matcher.Sanitizers)
	reclassed := make(map[string]struct{})
	for _, h := range a.collectHits(source, a.matcher.Reclass) {
		reclassed[h.symbol] = struct{}{}
	}
	sinks := a.collectSinkHits(source, a.matcher.Sinks)
	if len(sinks) == 0 {
		return nil, nil
	}

	if fir.DFG == nil {
		return nil, nil
	}

	// Rule-level sanitizer matches sanitize the DFG nodes defined at the
	// match line. Marking nodes instead of whole symbols keeps branch
	// semantics intact: a merge joining a sanitized and an unsanitized
	// definition stays tainted.
	sanitizedNodes := a.sanitizedNodeSet(fir, sanitizerHits)

	reach, err := a.propagate(fir, sources, sanitizedNodes)
	if err != nil {
		return nil, err
	}

	var out []finding.Finding
	for _, sh := range sinks {
		src, ok := a.taintedSinkSource(fir, sh, reach, sources)
		if !ok {
			continue
		}
		sev := a.rule.Severity
		if _, re := reclassed[src.symbol]; re {
			// Reclassification relabels the origin; the finding survives
			// at reduced severity.
			sev = finding.Low
		}
		f := finding.New(a.rule.ID, fir.Path, sh.line, sh.column, sh.excerpt, a.rule.Message, sev)
		f.RuleFile = a.rule.SourceFile
		f.Remediation = a.rule.Remediation
		f.Fix = a.rule.Fix
		f.SourceLine = src.line
		out = append(out, f)
	}
	return out, nil
}

// collectHits matches one pattern set against the source text and
// resolves each match to a symbol via the focus capture group or, failing
// that, the left-hand side of the assignment the match sits in.
func (a *Analyzer) collectHits(source string, patterns []rules.TaintPattern) []hit {
	var out []hit
	for pi, tp := range patterns {
		insideRanges := patternRanges(source, tp.Inside)
		notInsideRanges := textscan.Ranges(source, tp.NotInside)
		for _, pr := range tp.Allow {
			for _, m := range pr.Re.FindAllStringSubmatchIndex(source, -1) {
				start, end := m[0], m[1]
				if a.rejected(source, tp, insideRanges, notInsideRanges, start, end) {
					continue
				}
				// Explicit focus metavariables win; otherwise the
				// assignment target names the value, falling back to the
				// first metavariable binding.
				group := ""
				if pr.FocusGroup > 0 && 2*pr.FocusGroup+1 < len(m) && m[2*pr.FocusGroup] >= 0 {
					group = source[m[2*pr.FocusGroup]:m[2*pr.FocusGroup+1]]
				}
				symbol := ""
				if tp.Focus != "" {
					symbol = group
				}
				if symbol == "" {
					if lhs, ok := textscan.DeriveAssignmentLHS(source, start); ok {
						symbol = lhs
					}
				}
				if symbol == "" {
					symbol = group
				}
				if symbol == "" {
					continue
				}
				line, col := textscan.LineCol(source, start)
				out = append(out, hit{symbol: symbol, line: line, column: col, origin: pi})
			}
		}
		// Focus symbols can also be captured by inside patterns.
		for _, pr := range tp.Inside {
			if pr.FocusGroup <= 0 {
				continue
			}
			for _, m := range pr.Re.FindAllStringSubmatchIndex(source, -1) {
				if 2*pr.FocusGroup+1 >= len(m) || m[2*pr.FocusGroup] < 0 {
					continue
				}
				symbol := source[m[2*pr.FocusGroup]:m[2*pr.FocusGroup+1]]
				line, col := textscan.LineCol(source, m[0])
				out = append(out, hit{symbol: symbol, line: line, column: col, origin: pi})
			}
		}
	}
	return dedupHits(out)
}

func (a *Analyzer) collectSinkHits(source string, patterns []rules.TaintPattern) []sinkHit {
	var out []sinkHit
	for _, tp := range patterns {
		insideRanges := patternRanges(source, tp.Inside)
		notInsideRanges := textscan.Ranges(source, tp.NotInside)
		for _, pr := range tp.Allow {
			for _, m := range pr.Re.FindAllStringIndex(source, -1) {
				start, end := m[0], m[1]
				if a.rejected(source, tp, insideRanges, notInsideRanges, start, end) {
					continue
				}
				line, col := textscan.LineCol(source, start)
				out = append(out, sinkHit{
					text:    source[start:end],
					line:    line,
					column:  col,
					excerpt: textscan.LineAt(source, start),
				})
			}
		}
	}
	return out
}

// rejected applies deny/inside/not-inside constraints to a candidate.
func (a *Analyzer) rejected(source string, tp rules.TaintPattern, inside, notInside []textscan.Range, start, end int) bool {
	for _, deny := range tp.Deny {
		if deny.MatchString(source[start:end]) {
			return true
		}
	}
	if len(tp.Inside) > 0 && !textscan.AnyContains(inside, start, end) {
		return true
	}
	if textscan.AnyContains(notInside, start, end) {
		return true
	}
	if len(tp.NotInside) > 0 {
		if block, ok := textscan.EnclosingBlock(source, start); ok {
			for _, re := range tp.NotInside {
				if re.MatchString(source[block.Start:block.End]) {
					return true
				}
			}
		}
	}
	return false
}

// propagate seeds taint at the definitions of the live source symbols and
// walks the graph breadth-first. Sanitized nodes clear taint: they are
// neither marked nor expanded. Merge nodes synthesised at branch joins
// carry sanitization only when every incoming branch sanitized, so taint
// from any single branch survives a merge.
func (a *Analyzer) propagate(fir *ir.FileIR, seeds []hit, sanitizedNodes map[uint64]struct{}) (map[uint64]struct{}, error) {
	dfg := fir.DFG
	reach := make(map[uint64]struct{})
	var queue []uint64

	isSanitized := func(n *ir.DFNode) bool {
		if n.Sanitized {
			return true
		}
		_, ok := sanitizedNodes[n.ID]
		return ok
	}

	seedNames := make(map[string]struct{}, len(seeds))
	for _, h := range seeds {
		seedNames[h.symbol] = struct{}{}
		seedNames[fir.ResolveAlias(h.symbol)] = struct{}{}
	}
	for i := range dfg.Nodes {
		n := &dfg.Nodes[i]
		if isSanitized(n) {
			continue
		}
		switch n.Kind {
		case ir.DFDef, ir.DFParam, ir.DFAssign:
			if _, ok := seedNames[n.Name]; ok {
				if _, dup := reach[n.ID]; !dup {
					reach[n.ID] = struct{}{}
					queue = append(queue, n.ID)
				}
			}
		}
	}

	steps := 0
	for len(queue) > 0 {
		if !a.cfg.Deadline.IsZero() && time.Now().After(a.cfg.Deadline) {
			return nil, ErrBudgetExceeded
		}
		id := queue[0]
		queue = queue[1:]
		for _, next := range dfg.Successors(id) {
			steps++
			if steps > a.cfg.MaxSteps {
				return nil, ErrBudgetExceeded
			}
			if _, seen := reach[next]; seen {
				continue
			}
			n := dfg.Node(next)
			if n == nil || isSanitized(n) {
				continue
			}
			reach[next] = struct{}{}
			queue = append(queue, next)
		}
	}
	return reach, nil
}

// sanitizedNodeSet marks the definitions produced at each sanitizer
// match line.
func (a *Analyzer) sanitizedNodeSet(fir *ir.FileIR, hits []hit) map[uint64]struct{} {
	if len(hits) == 0 {
		return nil
	}
	out := make(map[uint64]struct{})
	for _, h := range hits {
		canonical := fir.ResolveAlias(h.symbol)
		for i := range fir.DFG.Nodes {
			n := &fir.DFG.Nodes[i]
			if n.Line != h.line {
				continue
			}
			if n.Name == h.symbol || n.Name == canonical {
				out[n.ID] = struct{}{}
			}
		}
	}
	return out
}

// taintedSinkSource decides whether a sink hit receives tainted data and
// returns the source hit it traces back to.
func (a *Analyzer) taintedSinkSource(fir *ir.FileIR, sh sinkHit, reach map[uint64]struct{}, sources []hit) (hit, bool) {
	for _, name := range textscan.Identifiers(sh.text) {
		canonical := fir.ResolveAlias(name)
		if sym, ok := fir.Symbols[canonical]; ok && sym.Sanitized {
			continue
		}
		if !a.nameReached(fir, name, canonical, reach) {
			continue
		}
		// Prefer the source whose symbol flows here; fall back to the
		// first live source.
		for _, src := range sources {
			if src.symbol == name || fir.ResolveAlias(src.symbol) == canonical {
				return src, true
			}
		}
		return sources[0], true
	}
	return hit{}, false
}

func (a *Analyzer) nameReached(fir *ir.FileIR, name, canonical string, reach map[uint64]struct{}) bool {
	for i := range fir.DFG.Nodes {
		n := &fir.DFG.Nodes[i]
		if n.Name != name && n.Name != canonical {
			continue
		}
		if _, ok := reach[n.ID]; ok {
			return true
		}
	}
	return false
}

func patternRanges(source string, prs []rules.PatternRegex) []textscan.Range {
	var out []textscan.Range
	for _, pr := range prs {
		for _, m := range pr.Re.FindAllStringIndex(source, -1) {
			out = append(out, textscan.Range{Start: m[0], End: m[1]})
		}
	}
	return out
}

func dedupHits(hits []hit) []hit {
	type key struct {
		sym  string
		line int
		col  int
	}
	seen := make(map[key]struct{}, len(hits))
	out := hits[:0]
	for _, h := range hits {
		k := key{h.symbol, h.line, h.column}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, h)
	}
	return out
}
