package rules

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"go.yaml.in/yaml/v3"

	"github.com/zendesk/irscan/finding"
)

// semgrepRule mirrors the subset of the Semgrep rule schema the compiler
// understands. Pattern operands may be scalars or nested operator maps, so
// they stay as yaml nodes until extraction.
type semgrepRule struct {
	ID       string `yaml:"id"`
	Message  string `yaml:"message"`
	Severity string `yaml:"severity"`
	Mode     string `yaml:"mode"`

	Pattern       string      `yaml:"pattern"`
	PatternRegex  string      `yaml:"pattern-regex"`
	Patterns      []yaml.Node `yaml:"patterns"`
	PatternEither []yaml.Node `yaml:"pattern-either"`
	PatternNot    string      `yaml:"pattern-not"`

	PatternInside    yaml.Node `yaml:"pattern-inside"`
	PatternNotInside yaml.Node `yaml:"pattern-not-inside"`

	PatternSources    []yaml.Node `yaml:"pattern-sources"`
	PatternSanitizers []yaml.Node `yaml:"pattern-sanitizers"`
	PatternSinks      []yaml.Node `yaml:"pattern-sinks"`
	PatternReclass    []yaml.Node `yaml:"pattern-reclass"`

	MetavariablePattern yaml.Node `yaml:"metavariable-pattern"`
	MetavariableRegex   []struct {
		Metavariable string `yaml:"metavariable"`
		Regex        string `yaml:"regex"`
	} `yaml:"metavariable-regex"`
	FocusMetavariable string `yaml:"focus-metavariable"`

	Fix       string   `yaml:"fix"`
	Languages []string `yaml:"languages"`
	Options   Options  `yaml:"options"`
}

type patternKind int

const (
	patPattern patternKind = iota
	patInside
	patNotInside
	patNot
	patRegex
)

type extractedPattern struct {
	kind patternKind
	text string
}

// extractPatterns flattens nested pattern operators into a list of
// (kind, text) pairs, deduplicating repeats introduced by pattern-either.
func extractPatterns(node *yaml.Node, under patternKind, acc *[]extractedPattern, seen map[string]struct{}) {
	if node == nil {
		return
	}
	switch node.Kind {
	case yaml.ScalarNode:
		if node.Value == "" {
			return
		}
		key := fmt.Sprintf("%d:%s", under, node.Value)
		if _, dup := seen[key]; dup {
			return
		}
		seen[key] = struct{}{}
		*acc = append(*acc, extractedPattern{kind: under, text: node.Value})
	case yaml.SequenceNode:
		for i := range node.Content {
			extractPatterns(node.Content[i], under, acc, seen)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			val := node.Content[i+1]
			switch key {
			case "pattern", "patterns", "pattern-either":
				extractPatterns(val, patPattern, acc, seen)
			case "pattern-inside":
				extractPatterns(val, patInside, acc, seen)
			case "pattern-not-inside":
				extractPatterns(val, patNotInside, acc, seen)
			case "pattern-not":
				extractPatterns(val, patNot, acc, seen)
			case "pattern-regex":
				extractPatterns(val, patRegex, acc, seen)
			}
		}
	}
}

const defaultMetavarBody = `[A-Za-z_][A-Za-z0-9_.]*|"[^"]*"|'[^']*'|-?\d+`

var metavarRef = regexp.MustCompile(`\$[A-Z][A-Z0-9_]*`)

// PatternToRegex translates a Semgrep code pattern into an RE2 expression.
// Metavariables become capture groups (the returned slice maps capture
// index-1 to metavariable name; repeats get fresh groups and are checked
// for consistency after matching, since RE2 has no backreferences). The
// ellipsis operator matches any run of tokens non-greedily.
func PatternToRegex(pattern string, mvConstraints map[string]string) (string, []string) {
	pattern = strings.TrimSpace(pattern)
	var b strings.Builder
	var groups []string
	used := make(map[string]int)

	i := 0
	for i < len(pattern) {
		switch {
		case strings.HasPrefix(pattern[i:], "..."):
			b.WriteString(`(?:[\s\S]*?)`)
			i += 3
		case pattern[i] == '$' && i+1 < len(pattern) && isMetavarStart(pattern[i+1]):
			m := metavarRef.FindString(pattern[i:])
			if m == "" {
				b.WriteString(regexp.QuoteMeta(string(pattern[i])))
				i++
				continue
			}
			name := m[1:]
			body := defaultMetavarBody
			if c, ok := mvConstraints[name]; ok && c != "" {
				body = embedConstraint(c)
			}
			used[name]++
			if used[name] == 1 {
				fmt.Fprintf(&b, `(?P<%s>%s)`, name, body)
			} else {
				// RE2 rejects duplicate group names; repeats capture
				// anonymously and the evaluator enforces equality.
				fmt.Fprintf(&b, `(%s)`, body)
			}
			groups = append(groups, name)
			i += len(m)
		case pattern[i] == ' ' || pattern[i] == '\t' || pattern[i] == '\n' || pattern[i] == '\r':
			j := i
			for j < len(pattern) && (pattern[j] == ' ' || pattern[j] == '\t' || pattern[j] == '\n' || pattern[j] == '\r') {
				j++
			}
			b.WriteString(`\s*`)
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			i++
		}
	}
	return b.String(), groups
}

func isMetavarStart(c byte) bool { return c >= 'A' && c <= 'Z' }

// embedConstraint strips anchors so a metavariable-regex can sit inside a
// larger expression.
func embedConstraint(c string) string {
	c = strings.ReplaceAll(c, `\A`, "")
	c = strings.ReplaceAll(c, `\Z`, "")
	c = strings.ReplaceAll(c, `\z`, "")
	c = strings.TrimPrefix(c, "^")
	c = strings.TrimSuffix(c, "$")
	if c == "" {
		return defaultMetavarBody
	}
	return "(?:" + c + ")"
}

func compileSemgrepNode(rs *RuleSet, seen map[string]struct{}, node *yaml.Node, path string) {
	var sr semgrepRule
	if err := node.Decode(&sr); err != nil {
		rs.Errors = append(rs.Errors, &CompileError{File: path, Err: err})
		return
	}
	fail := func(err error) {
		rs.Errors = append(rs.Errors, &CompileError{RuleID: sr.ID, File: path, Err: err})
	}
	if sr.ID == "" {
		fail(errors.New("missing id"))
		return
	}
	sevText := sr.Severity
	if sevText == "" {
		sevText = "medium"
	}
	sev, err := finding.ParseSeverity(sevText)
	if err != nil {
		fail(err)
		return
	}

	mv := make(map[string]string)
	for _, m := range sr.MetavariableRegex {
		mv[strings.TrimPrefix(m.Metavariable, "$")] = m.Regex
	}
	if c, ok := decodeMetavariablePattern(&sr.MetavariablePattern); ok {
		src, _ := PatternToRegex(c.pattern, mv)
		mv[c.name] = src
	}

	rule := &CompiledRule{
		ID:         sr.ID,
		Severity:   sev,
		Message:    sr.Message,
		Fix:        sr.Fix,
		Languages:  normalizeLanguages(sr.Languages),
		SourceFile: path,
		Options:    sr.Options,
	}
	if rule.Message == "" {
		rule.Message = sr.ID
	}

	taintMode := sr.Mode == "taint" || (len(sr.PatternSources) > 0 && len(sr.PatternSinks) > 0)
	if taintMode {
		tm := &TaintMatcher{}
		focus := strings.TrimPrefix(sr.FocusMetavariable, "$")
		var compileAll = func(nodes []yaml.Node, dst *[]TaintPattern, what string) bool {
			for i := range nodes {
				tp, err := compileTaintPattern(&nodes[i], mv, focus)
				if err != nil {
					fail(fmt.Errorf("%s: %w", what, err))
					return false
				}
				if tp != nil {
					*dst = append(*dst, *tp)
				}
			}
			return true
		}
		if !compileAll(sr.PatternSources, &tm.Sources, "pattern-sources") ||
			!compileAll(sr.PatternSanitizers, &tm.Sanitizers, "pattern-sanitizers") ||
			!compileAll(sr.PatternReclass, &tm.Reclass, "pattern-reclass") ||
			!compileAll(sr.PatternSinks, &tm.Sinks, "pattern-sinks") {
			return
		}
		if len(tm.Sources) == 0 || len(tm.Sinks) == 0 {
			fail(errors.New("taint rule needs pattern-sources and pattern-sinks"))
			return
		}
		rule.Matcher = Matcher{Kind: MatcherTaint, Taint: tm}
		rs.Add(rule, seen)
		return
	}

	if sr.PatternRegex != "" {
		re, err := regexp.Compile(sr.PatternRegex)
		if err != nil {
			fail(fmt.Errorf("pattern-regex: %w", err))
			return
		}
		rule.Matcher = Matcher{
			Kind:  MatcherTextRegex,
			Regex: &RegexMatcher{Re: re, Source: sr.PatternRegex},
		}
		rs.Add(rule, seen)
		return
	}

	var acc []extractedPattern
	dedup := make(map[string]struct{})
	if sr.Pattern != "" {
		acc = append(acc, extractedPattern{kind: patPattern, text: sr.Pattern})
	}
	for i := range sr.Patterns {
		extractPatterns(&sr.Patterns[i], patPattern, &acc, dedup)
	}
	for i := range sr.PatternEither {
		extractPatterns(&sr.PatternEither[i], patPattern, &acc, dedup)
	}
	extractPatterns(&sr.PatternInside, patInside, &acc, dedup)
	extractPatterns(&sr.PatternNotInside, patNotInside, &acc, dedup)
	if sr.PatternNot != "" {
		acc = append(acc, extractedPattern{kind: patNot, text: sr.PatternNot})
	}

	multi := &MultiMatcher{}
	var allowCount, ctxCount int
	for _, p := range acc {
		switch p.kind {
		case patRegex:
			re, err := regexp.Compile(p.text)
			if err != nil {
				fail(fmt.Errorf("pattern-regex: %w", err))
				return
			}
			multi.Allow = append(multi.Allow, PatternRegex{Re: re, Source: p.text})
			allowCount++
			continue
		}
		src, groups := PatternToRegex(p.text, mv)
		re, err := regexp.Compile(src)
		if err != nil {
			fail(fmt.Errorf("pattern %q: %w", p.text, err))
			return
		}
		switch p.kind {
		case patPattern:
			multi.Allow = append(multi.Allow, PatternRegex{Re: re, Source: p.text, FocusGroup: groupIndex(groups, "")})
			allowCount++
		case patInside:
			multi.Inside = append(multi.Inside, re)
			ctxCount++
		case patNotInside:
			multi.NotInside = append(multi.NotInside, re)
			ctxCount++
		case patNot:
			multi.Deny = append(multi.Deny, re)
			ctxCount++
		}
	}

	switch {
	case allowCount == 0:
		fail(ErrUnsupportedMatcher)
		return
	case allowCount == 1 && ctxCount == 0:
		rule.Matcher = Matcher{
			Kind:  MatcherTextRegex,
			Regex: &RegexMatcher{Re: multi.Allow[0].Re, Source: multi.Allow[0].Source},
		}
	default:
		rule.Matcher = Matcher{Kind: MatcherTextRegexMulti, Multi: multi}
	}
	rs.Add(rule, seen)
}

type mvPattern struct {
	name    string
	pattern string
}

func decodeMetavariablePattern(node *yaml.Node) (mvPattern, bool) {
	if node == nil || node.Kind != yaml.MappingNode {
		return mvPattern{}, false
	}
	var decoded struct {
		Metavariable string `yaml:"metavariable"`
		Pattern      string `yaml:"pattern"`
	}
	if err := node.Decode(&decoded); err != nil || decoded.Metavariable == "" || decoded.Pattern == "" {
		return mvPattern{}, false
	}
	return mvPattern{
		name:    strings.TrimPrefix(decoded.Metavariable, "$"),
		pattern: decoded.Pattern,
	}, true
}

// compileTaintPattern lowers one pattern-sources/sinks/... element.
func compileTaintPattern(node *yaml.Node, mv map[string]string, focus string) (*TaintPattern, error) {
	var acc []extractedPattern
	extractPatterns(node, patPattern, &acc, make(map[string]struct{}))
	if len(acc) == 0 {
		return nil, nil
	}
	tp := &TaintPattern{Focus: focus}
	for _, p := range acc {
		if p.kind == patRegex {
			re, err := regexp.Compile(p.text)
			if err != nil {
				return nil, err
			}
			tp.Allow = append(tp.Allow, PatternRegex{Re: re, Source: p.text})
			continue
		}
		src, groups := PatternToRegex(p.text, mv)
		re, err := regexp.Compile(src)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", p.text, err)
		}
		pr := PatternRegex{Re: re, Source: p.text, FocusGroup: groupIndex(groups, focus)}
		switch p.kind {
		case patPattern:
			tp.Allow = append(tp.Allow, pr)
		case patInside:
			tp.Inside = append(tp.Inside, pr)
		case patNotInside:
			tp.NotInside = append(tp.NotInside, re)
		case patNot:
			tp.Deny = append(tp.Deny, re)
		}
	}
	return tp, nil
}

// groupIndex returns the 1-based capture index of the focus metavariable,
// or of the first metavariable when focus is empty. Zero means none.
func groupIndex(groups []string, focus string) int {
	if len(groups) == 0 {
		return 0
	}
	if focus == "" {
		return 1
	}
	for i, g := range groups {
		if g == focus {
			return i + 1
		}
	}
	return 0
}
