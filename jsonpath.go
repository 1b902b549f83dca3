package irscan

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/zendesk/irscan/finding"
	"github.com/zendesk/irscan/ir"
	"github.com/zendesk/irscan/rules"
)

// pathRegexCache memoises compiled selector patterns with a small LRU so
// hot rules do not recompile per file.
type pathRegexCache struct {
	mu       sync.Mutex
	capacity int
	entries  map[string]*regexp.Regexp
	order    []string
}

var selectorCache = &pathRegexCache{capacity: 1024, entries: map[string]*regexp.Regexp{}}

func (c *pathRegexCache) get(pattern string) (*regexp.Regexp, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	re, ok := c.entries[pattern]
	if ok {
		c.touch(pattern)
	}
	return re, ok
}

func (c *pathRegexCache) put(pattern string, re *regexp.Regexp) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[pattern]; !exists {
		c.order = append(c.order, pattern)
	}
	c.entries[pattern] = re
	c.touch(pattern)
	for len(c.order) > c.capacity {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
}

func (c *pathRegexCache) touch(pattern string) {
	for i, p := range c.order {
		if p == pattern {
			c.order = append(append(c.order[:i:i], c.order[i+1:]...), pattern)
			return
		}
	}
}

// PathMatches evaluates the restricted selector dialect against an IR-Doc
// node path: dotted literal keys, `[n]` numeric indices and the `*`
// wildcard for either. A leading `$.` is accepted and stripped.
func PathMatches(pattern, candidate string) bool {
	pattern = strings.TrimPrefix(pattern, "$.")
	for _, ch := range pattern {
		if !validSelectorRune(ch) {
			return false
		}
	}
	re, ok := selectorCache.get(pattern)
	if !ok {
		var b strings.Builder
		b.WriteString("^")
		for _, ch := range pattern {
			if ch == '*' {
				b.WriteString(".*")
			} else {
				b.WriteString(regexp.QuoteMeta(string(ch)))
			}
		}
		b.WriteString("$")
		compiled, err := regexp.Compile(b.String())
		if err != nil {
			return false
		}
		selectorCache.put(pattern, compiled)
		re = compiled
	}
	return re.MatchString(candidate)
}

func validSelectorRune(ch rune) bool {
	switch {
	case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		return true
	}
	return strings.ContainsRune("/._-*[]$", ch)
}

// evalJSONPath selects IR-Doc nodes whose path matches the selector and
// whose value satisfies the rule's equality or regex constraint. Findings
// carry the node's location; the excerpt is the node's rendered value.
func (a *Analyzer) evalJSONPath(fir *ir.FileIR, rule *rules.CompiledRule) []finding.Finding {
	m := rule.Matcher.JSONPath
	var out []finding.Finding
	for _, n := range fir.Nodes {
		if !PathMatches(m.Path, n.Path) {
			continue
		}
		matched := false
		switch rule.Matcher.Kind {
		case rules.MatcherJSONPathEq:
			matched = looseEqual(n.Value, m.Equals)
		case rules.MatcherJSONPathRegex:
			if s, ok := n.Value.(string); ok {
				matched = m.Re.MatchString(s)
			}
		}
		if !matched {
			continue
		}
		excerpt := excerptLine(fir.Source, n.Meta.Line)
		if excerpt == "" {
			excerpt = renderValue(n.Value)
		}
		out = append(out, a.newFinding(rule, fir, n.Meta.Line, n.Meta.Column, excerpt))
	}
	return out
}

// looseEqual compares deep-structurally, normalising numeric types so a
// YAML int matches a JSON float of the same value.
func looseEqual(a, b any) bool {
	if na, ok := toFloat(a); ok {
		if nb, ok := toFloat(b); ok {
			return na == nb
		}
		return false
	}
	switch va := a.(type) {
	case []any:
		vb, ok := b.([]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for i := range va {
			if !looseEqual(va[i], vb[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		vb, ok := b.(map[string]any)
		if !ok || len(va) != len(vb) {
			return false
		}
		for k, v := range va {
			ov, exists := vb[k]
			if !exists || !looseEqual(v, ov) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

func renderValue(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
