package irscan

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	zxcvbn "github.com/ccojocar/zxcvbn-go"

	"github.com/zendesk/irscan/finding"
	"github.com/zendesk/irscan/internal/textscan"
	"github.com/zendesk/irscan/ir"
	"github.com/zendesk/irscan/rules"
	"github.com/zendesk/irscan/taint"
)

// astQueryMaxNodes caps tree-query work per rule evaluation.
const astQueryMaxNodes = 10000

// evalRule dispatches one (file, rule) unit to its matcher strategy. The
// matcher set is closed; every variant is handled here.
func (a *Analyzer) evalRule(ctx context.Context, fir *ir.FileIR, rule *rules.CompiledRule, fileDeadline time.Time) []finding.Finding {
	deadline := fileDeadline
	if a.cfg.PerRuleTimeout > 0 {
		ruleDeadline := time.Now().Add(a.cfg.PerRuleTimeout)
		if deadline.IsZero() || ruleDeadline.Before(deadline) {
			deadline = ruleDeadline
		}
	}

	switch rule.Matcher.Kind {
	case rules.MatcherTextRegex:
		return a.evalTextRegex(fir, rule)
	case rules.MatcherTextRegexMulti:
		return a.evalTextRegexMulti(fir, rule)
	case rules.MatcherJSONPathEq, rules.MatcherJSONPathRegex:
		return a.evalJSONPath(fir, rule)
	case rules.MatcherASTQuery:
		return a.evalASTQuery(fir, rule, deadline)
	case rules.MatcherRegoWASM:
		out, err := a.rego.Eval(ctx, fir, rule, deadline)
		if err != nil {
			// WasmTrap: the rule is skipped for this file.
			a.logger.Warn("rego evaluation failed", "rule", rule.ID, "file", fir.Path, "error", err)
			a.metrics.count(&a.metrics.WASMFailures, 1)
			return nil
		}
		return out
	case rules.MatcherTaint:
		cfg := taint.Config{MaxSteps: a.cfg.MaxTaintSteps, Deadline: deadline}
		out, err := taint.New(rule, cfg).WithSummaries(a.summaries).Analyze(fir)
		if err != nil {
			if errors.Is(err, taint.ErrBudgetExceeded) {
				a.metrics.count(&a.metrics.RuleTimeouts, 1)
				a.logger.Debug("taint budget exceeded", "rule", rule.ID, "file", fir.Path)
				return nil
			}
			a.logger.Warn("taint evaluation failed", "rule", rule.ID, "file", fir.Path, "error", err)
			return nil
		}
		return out
	}
	return nil
}

func (a *Analyzer) newFinding(rule *rules.CompiledRule, fir *ir.FileIR, line, column int, excerpt string) finding.Finding {
	f := finding.New(rule.ID, fir.Path, line, column, excerpt, rule.Message, rule.Severity)
	f.RuleFile = rule.SourceFile
	f.Remediation = rule.Remediation
	f.Fix = rule.Fix
	return f
}

// evalTextRegex scans the raw source line by line, restricted to the
// matcher scope when one is named. One finding per non-overlapping match;
// the column is the match start on its line. An entropy option filters
// low-entropy matches of secret patterns.
func (a *Analyzer) evalTextRegex(fir *ir.FileIR, rule *rules.CompiledRule) []finding.Finding {
	m := rule.Matcher.Regex
	var out []finding.Finding
	scan := func(re *regexp.Regexp) {
		for lineIdx, lineText := range strings.Split(fir.Source, "\n") {
			if !a.lineInScope(fir, m.Scope, lineIdx+1) {
				continue
			}
			for _, loc := range re.FindAllStringIndex(lineText, -1) {
				matched := lineText[loc[0]:loc[1]]
				if rule.Options.Entropy > 0 &&
					zxcvbn.PasswordStrength(matched, nil).Entropy < rule.Options.Entropy {
					continue
				}
				out = append(out, a.newFinding(rule, fir, lineIdx+1, loc[0]+1, strings.TrimSuffix(lineText, "\r")))
			}
		}
	}
	scan(m.Re)

	// Alias-expansion fallback: a pattern naming mod.func also fires on
	// the file's local alias for mod.
	if len(out) == 0 && m.Source != "" {
		for _, re := range aliasVariants(fir, m.Source) {
			scan(re)
		}
	}
	return out
}

// lineInScope restricts matches to the IR sub-range named by scope. Scope
// names select IR nodes by path prefix; the node's line is the range.
func (a *Analyzer) lineInScope(fir *ir.FileIR, scope string, line int) bool {
	if scope == "" || scope == "file" {
		return true
	}
	for _, n := range fir.Nodes {
		if n.Meta.Line == line && (n.Path == scope || strings.HasPrefix(n.Path, scope+".")) {
			return true
		}
	}
	return false
}

// aliasVariants rewrites the pattern's module prefix through the file's
// import aliases: pattern `subprocess.run(` with `import subprocess as
// sp` also tries `sp.run(`.
func aliasVariants(fir *ir.FileIR, pattern string) []*regexp.Regexp {
	callPart := strings.TrimSpace(strings.SplitN(pattern, "(", 2)[0])
	if callPart == "" {
		return nil
	}
	var out []*regexp.Regexp
	for alias, sym := range fir.Symbols {
		if sym.AliasOf == "" || alias == sym.AliasOf {
			continue
		}
		module := sym.AliasOf
		if callPart != module && !strings.HasPrefix(callPart, module+".") {
			continue
		}
		rewritten := alias + strings.TrimPrefix(pattern, module)
		src, _ := rules.PatternToRegex(rewritten, nil)
		if re, err := regexp.Compile(src); err == nil {
			out = append(out, re)
		}
	}
	return out
}

// evalTextRegexMulti reports each allow match that survives the deny,
// inside and not-inside constraints. Region granularity is the match span
// against inside/not-inside ranges, with the enclosing brace block as the
// fallback region for not-inside checks.
func (a *Analyzer) evalTextRegexMulti(fir *ir.FileIR, rule *rules.CompiledRule) []finding.Finding {
	m := rule.Matcher.Multi
	source := fir.Source
	insideRanges := textscan.Ranges(source, m.Inside)
	notInsideRanges := textscan.Ranges(source, m.NotInside)

	var out []finding.Finding
	for _, allow := range m.Allow {
		for _, loc := range allow.Re.FindAllStringIndex(source, -1) {
			start, end := loc[0], loc[1]
			if a.multiRejected(source, m, insideRanges, notInsideRanges, start, end) {
				continue
			}
			line, col := textscan.LineCol(source, start)
			out = append(out, a.newFinding(rule, fir, line, col, textscan.LineAt(source, start)))
		}
	}

	// Alias fallback mirrors the single-regex path.
	for _, allow := range m.Allow {
		if allow.Source == "" {
			continue
		}
		for _, re := range aliasVariants(fir, allow.Source) {
			for _, loc := range re.FindAllStringIndex(source, -1) {
				start, end := loc[0], loc[1]
				if a.multiRejected(source, m, insideRanges, notInsideRanges, start, end) {
					continue
				}
				line, col := textscan.LineCol(source, start)
				out = append(out, a.newFinding(rule, fir, line, col, textscan.LineAt(source, start)))
			}
		}
	}
	return out
}

func (a *Analyzer) multiRejected(source string, m *rules.MultiMatcher, inside, notInside []textscan.Range, start, end int) bool {
	for _, deny := range m.Deny {
		if deny.MatchString(source[start:end]) {
			return true
		}
	}
	if len(m.Inside) > 0 && !textscan.AnyContains(inside, start, end) {
		return true
	}
	if textscan.AnyContains(notInside, start, end) {
		return true
	}
	if len(m.NotInside) > 0 {
		if block, ok := textscan.EnclosingBlock(source, start); ok {
			for _, re := range m.NotInside {
				if re.MatchString(source[block.Start:block.End]) {
					return true
				}
			}
		}
	}
	return false
}

// evalASTQuery walks the AST arena matching node kinds and values, with
// optional enclosing-kind and metavariable constraints. Work is bounded
// by a node cap and the rule deadline.
func (a *Analyzer) evalASTQuery(fir *ir.FileIR, rule *rules.CompiledRule, deadline time.Time) []finding.Finding {
	if fir.AST == nil {
		return nil
	}
	q := rule.Matcher.AST
	var out []finding.Finding
	count := 0
	fir.AST.Walk(func(n *ir.ASTNode) bool {
		count++
		if count > astQueryMaxNodes {
			return false
		}
		if !deadline.IsZero() && count%256 == 0 && time.Now().After(deadline) {
			return false
		}
		if !q.Kind.MatchString(n.Kind) {
			return true
		}
		if q.Value != nil && !q.Value.MatchString(n.Value) {
			return true
		}
		if q.Within != "" && !withinKind(fir.AST, n, q.Within) {
			return true
		}
		if len(q.MetaVars) > 0 && !bindMetaVars(fir.AST, n, q.MetaVars) {
			return true
		}
		excerpt := excerptLine(fir.Source, n.Meta.Line)
		out = append(out, a.newFinding(rule, fir, n.Meta.Line, n.Meta.Column, excerpt))
		return true
	})
	return out
}

func withinKind(ast *ir.FileAST, n *ir.ASTNode, kind string) bool {
	cur := ast.ParentOf(n.ID)
	for cur != nil {
		if cur.Kind == kind {
			return true
		}
		cur = ast.ParentOf(cur.ID)
	}
	return false
}

// bindMetaVars checks that every constraint finds a descendant binding,
// and that bindings of the same metavariable agree.
func bindMetaVars(ast *ir.FileAST, n *ir.ASTNode, vars map[string]rules.MetaVarConstraint) bool {
	bound := make(map[string]string, len(vars))
	for name, mv := range vars {
		found, ok := findDescendant(ast, n, mv)
		if !ok {
			return false
		}
		if prev, seen := bound[name]; seen && prev != found {
			return false
		}
		bound[name] = found
	}
	return true
}

func findDescendant(ast *ir.FileAST, n *ir.ASTNode, mv rules.MetaVarConstraint) (string, bool) {
	if n.Kind == mv.Kind && (mv.Value == "" || n.Value == mv.Value) {
		return n.Value, true
	}
	for _, c := range n.Children {
		if child := ast.Node(c); child != nil {
			if v, ok := findDescendant(ast, child, mv); ok {
				return v, true
			}
		}
	}
	return "", false
}
