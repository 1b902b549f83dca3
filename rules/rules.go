// Package rules loads rule files from disk and compiles them into the
// single executable form the engine evaluates. Four source shapes are
// accepted: native YAML, native JSON, Semgrep-compatible YAML and OPA
// bundles (a .wasm module plus sidecar metadata). A malformed rule is
// reported and skipped; the rest of the set keeps compiling.
package rules

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/zendesk/irscan/finding"
)

// GenericLanguage marks rules that apply to every file that parses to
// IR-Doc.
const GenericLanguage = "generic"

// ErrUnsupportedMatcher is wrapped by CompileError when a rule carries no
// matcher form the engine knows how to execute.
var ErrUnsupportedMatcher = errors.New("rule has no supported matcher")

// CompileError reports a single rule that failed to compile. It never
// aborts loading of the remaining rules.
type CompileError struct {
	RuleID string
	File   string
	Err    error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("rule %q (%s): %v", e.RuleID, e.File, e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// MatcherKind tags the closed set of evaluation strategies.
type MatcherKind int

const (
	MatcherTextRegex MatcherKind = iota
	MatcherTextRegexMulti
	MatcherJSONPathEq
	MatcherJSONPathRegex
	MatcherASTQuery
	MatcherRegoWASM
	MatcherTaint
)

// String names the matcher kind for diagnostics and hashing.
func (k MatcherKind) String() string {
	switch k {
	case MatcherTextRegex:
		return "text-regex"
	case MatcherTextRegexMulti:
		return "text-regex-multi"
	case MatcherJSONPathEq:
		return "json-path-eq"
	case MatcherJSONPathRegex:
		return "json-path-regex"
	case MatcherASTQuery:
		return "ast-query"
	case MatcherRegoWASM:
		return "rego-wasm"
	case MatcherTaint:
		return "taint"
	}
	return "unknown"
}

// PatternRegex couples a compiled regex with its original pattern text and
// the capture group a focus metavariable binds to (0 when absent).
type PatternRegex struct {
	Re         *regexp.Regexp
	Source     string
	FocusGroup int
}

// TaintPattern is one predicate of a taint rule: the candidate must match
// every Allow expression, must not match Deny, must sit inside at least
// one Inside range when any exist and inside no NotInside range.
type TaintPattern struct {
	Allow     []PatternRegex
	Deny      []*regexp.Regexp
	Inside    []PatternRegex
	NotInside []*regexp.Regexp
	Focus     string
}

// Matcher is the tagged variant held by every compiled rule. Exactly one
// payload matching Kind is non-nil.
type Matcher struct {
	Kind MatcherKind

	Regex    *RegexMatcher
	Multi    *MultiMatcher
	JSONPath *JSONPathMatcher
	AST      *ASTQueryMatcher
	Rego     *RegoMatcher
	Taint    *TaintMatcher
}

// RegexMatcher searches lines of the raw source.
type RegexMatcher struct {
	Re     *regexp.Regexp
	Source string
	// Scope restricts the search to an IR-node-derived sub-range; empty
	// means the whole file.
	Scope string
}

// MultiMatcher combines allow/deny/inside/not-inside regex sets.
type MultiMatcher struct {
	Allow     []PatternRegex
	Deny      []*regexp.Regexp
	Inside    []*regexp.Regexp
	NotInside []*regexp.Regexp
}

// JSONPathMatcher selects IR-Doc nodes by path and constrains the value
// either by deep equality or by regex over string leaves.
type JSONPathMatcher struct {
	Path      string
	Equals    any
	HasEquals bool
	Re        *regexp.Regexp
}

// MetaVarConstraint is a nested pattern applied to a bound subtree.
type MetaVarConstraint struct {
	Kind  string
	Value string
}

// ASTQueryMatcher is a tree-pattern query over the language AST.
type ASTQueryMatcher struct {
	Kind     *regexp.Regexp
	Value    *regexp.Regexp
	Within   string
	MetaVars map[string]MetaVarConstraint
}

// RegoMatcher points at an OPA policy compiled to WebAssembly.
type RegoMatcher struct {
	WASMPath   string
	Entrypoint string
}

// TaintMatcher carries the four predicate sets of a taint rule.
type TaintMatcher struct {
	Sources    []TaintPattern
	Sanitizers []TaintPattern
	Reclass    []TaintPattern
	Sinks      []TaintPattern
}

// Options tunes rule evaluation beyond the matcher itself.
type Options struct {
	// Entropy rejects regex matches whose matched text scores below this
	// zxcvbn entropy, cutting noise from secret patterns.
	Entropy float64 `yaml:"entropy" json:"entropy"`
	// Interfile requests interprocedural analysis across files.
	Interfile bool `yaml:"interfile" json:"interfile"`
}

// CompiledRule is the execution-ready form of one rule.
type CompiledRule struct {
	ID          string
	Severity    finding.Severity
	Category    string
	Message     string
	Remediation string
	Fix         string
	Languages   []string
	SourceFile  string
	Options     Options
	Matcher     Matcher
}

// AppliesTo reports whether the rule runs on files of the given language.
// Rules without languages (or tagged generic) are language-agnostic.
func (r *CompiledRule) AppliesTo(language string) bool {
	if len(r.Languages) == 0 {
		return true
	}
	lang := strings.TrimSpace(language)
	for _, l := range r.Languages {
		if l == GenericLanguage {
			return true
		}
		if strings.EqualFold(l, lang) && lang != "" {
			return true
		}
	}
	return false
}

// RuleSet is the compiled collection plus per-rule compile failures.
type RuleSet struct {
	Rules  []*CompiledRule
	Errors []*CompileError
}

// Add registers a rule, rejecting duplicate ids.
func (rs *RuleSet) Add(r *CompiledRule, seen map[string]struct{}) {
	if _, dup := seen[r.ID]; dup {
		rs.Errors = append(rs.Errors, &CompileError{
			RuleID: r.ID,
			File:   r.SourceFile,
			Err:    errors.New("duplicate rule id"),
		})
		return
	}
	seen[r.ID] = struct{}{}
	rs.Rules = append(rs.Rules, r)
}

// Hash digests the identity of the whole set. It participates in cache
// keys, so any change to a rule invalidates cached findings.
func (rs *RuleSet) Hash() string {
	ids := make([]string, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		ids = append(ids, fmt.Sprintf("%s|%s|%s|%s|%s|%v",
			r.ID, r.Severity, r.Matcher.Kind, r.Message, matcherDigest(&r.Matcher), r.Languages))
	}
	sort.Strings(ids)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:])
}

func matcherDigest(m *Matcher) string {
	switch m.Kind {
	case MatcherTextRegex:
		return m.Regex.Source
	case MatcherTextRegexMulti:
		var parts []string
		for _, a := range m.Multi.Allow {
			parts = append(parts, a.Source)
		}
		for _, d := range m.Multi.Deny {
			parts = append(parts, "!"+d.String())
		}
		return strings.Join(parts, ";")
	case MatcherJSONPathEq:
		return fmt.Sprintf("%s=%v", m.JSONPath.Path, m.JSONPath.Equals)
	case MatcherJSONPathRegex:
		return m.JSONPath.Path + "~" + m.JSONPath.Re.String()
	case MatcherASTQuery:
		v := ""
		if m.AST.Value != nil {
			v = m.AST.Value.String()
		}
		return m.AST.Kind.String() + ":" + v
	case MatcherRegoWASM:
		return m.Rego.WASMPath + "#" + m.Rego.Entrypoint
	case MatcherTaint:
		return fmt.Sprintf("taint:%d/%d/%d/%d",
			len(m.Taint.Sources), len(m.Taint.Sanitizers), len(m.Taint.Reclass), len(m.Taint.Sinks))
	}
	return ""
}

func normalizeLanguages(langs []string) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, l := range langs {
		l = strings.ToLower(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
