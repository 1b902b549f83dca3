package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"go.yaml.in/yaml/v3"

	"github.com/zendesk/irscan/finding"
)

// nativeRule is the YAML shape of a single native rule. Exactly one
// matcher key must be present; Semgrep-compatible keys are handled by
// semgrep.go when detected.
type nativeRule struct {
	ID          string   `yaml:"id"`
	Severity    string   `yaml:"severity"`
	Category    string   `yaml:"category"`
	Message     string   `yaml:"message"`
	Remediation string   `yaml:"remediation"`
	Fix         string   `yaml:"fix"`
	Languages   []string `yaml:"languages"`
	Options     Options  `yaml:"options"`

	PatternRegex string `yaml:"pattern-regex"`
	Scope        string `yaml:"scope"`

	Regex *struct {
		Allow     []string `yaml:"allow"`
		Deny      []string `yaml:"deny"`
		Inside    []string `yaml:"inside"`
		NotInside []string `yaml:"not-inside"`
	} `yaml:"regex"`

	JSONPath *struct {
		Path    string    `yaml:"path"`
		Equals  yaml.Node `yaml:"equals"`
		Pattern string    `yaml:"pattern"`
	} `yaml:"json-path"`

	ASTQuery *struct {
		Kind   string `yaml:"kind"`
		Value  string `yaml:"value"`
		Within string `yaml:"within"`
	} `yaml:"ast_query"`
}

type ruleDocument struct {
	Rules []yaml.Node `yaml:"rules"`
}

// wasmSidecar is the metadata document accompanying a .wasm policy.
type wasmSidecar struct {
	ID          string   `yaml:"id" json:"id"`
	Severity    string   `yaml:"severity" json:"severity"`
	Category    string   `yaml:"category" json:"category"`
	Message     string   `yaml:"message" json:"message"`
	Remediation string   `yaml:"remediation" json:"remediation"`
	Entrypoint  string   `yaml:"entrypoint" json:"entrypoint"`
	Languages   []string `yaml:"languages" json:"languages"`
}

// Load compiles every rule file under dir (or the single file dir points
// at). Per-rule failures land in RuleSet.Errors; only unreadable
// directories abort the load.
func Load(dir string) (*RuleSet, error) {
	rs := &RuleSet{}
	seen := make(map[string]struct{})

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("rules path: %w", err)
	}
	if !info.IsDir() {
		loadRuleFile(rs, seen, dir)
		return rs, nil
	}

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		loadRuleFile(rs, seen, path)
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("walking rules dir: %w", walkErr)
	}
	return rs, nil
}

func loadRuleFile(rs *RuleSet, seen map[string]struct{}, path string) {
	name := filepath.Base(path)
	switch {
	case strings.HasSuffix(name, ".wasm"):
		loadWASMRule(rs, seen, path)
	case (strings.HasSuffix(name, ".yaml") || strings.HasSuffix(name, ".yml")) && !strings.Contains(name, ".wasm."):
		loadYAMLRules(rs, seen, path)
	case strings.HasSuffix(name, ".json") && !strings.Contains(name, ".wasm."):
		loadJSONRules(rs, seen, path)
	}
}

func loadYAMLRules(rs *RuleSet, seen map[string]struct{}, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		rs.Errors = append(rs.Errors, &CompileError{File: path, Err: err})
		return
	}
	var doc ruleDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		rs.Errors = append(rs.Errors, &CompileError{File: path, Err: fmt.Errorf("parsing rule file: %w", err)})
		return
	}
	for i := range doc.Rules {
		node := &doc.Rules[i]
		if isSemgrepRule(node) {
			compileSemgrepNode(rs, seen, node, path)
			continue
		}
		var nr nativeRule
		if err := node.Decode(&nr); err != nil {
			rs.Errors = append(rs.Errors, &CompileError{File: path, Err: err})
			continue
		}
		compileNative(rs, seen, &nr, path)
	}
}

// isSemgrepRule detects Semgrep compatibility mode by key shape.
func isSemgrepRule(node *yaml.Node) bool {
	if node.Kind != yaml.MappingNode {
		return false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		switch node.Content[i].Value {
		case "pattern", "patterns", "pattern-either", "pattern-sources",
			"pattern-sinks", "pattern-inside", "pattern-not-inside",
			"metavariable-pattern", "mode":
			return true
		}
	}
	return false
}

func compileNative(rs *RuleSet, seen map[string]struct{}, nr *nativeRule, path string) {
	fail := func(err error) {
		rs.Errors = append(rs.Errors, &CompileError{RuleID: nr.ID, File: path, Err: err})
	}
	if nr.ID == "" {
		fail(errors.New("missing id"))
		return
	}
	if nr.Message == "" {
		fail(errors.New("missing message"))
		return
	}
	sev, err := finding.ParseSeverity(nr.Severity)
	if err != nil {
		fail(err)
		return
	}
	rule := &CompiledRule{
		ID:          nr.ID,
		Severity:    sev,
		Category:    nr.Category,
		Message:     nr.Message,
		Remediation: nr.Remediation,
		Fix:         nr.Fix,
		Languages:   normalizeLanguages(nr.Languages),
		SourceFile:  path,
		Options:     nr.Options,
	}

	switch {
	case nr.PatternRegex != "":
		re, err := regexp.Compile(nr.PatternRegex)
		if err != nil {
			fail(fmt.Errorf("pattern-regex: %w", err))
			return
		}
		rule.Matcher = Matcher{
			Kind:  MatcherTextRegex,
			Regex: &RegexMatcher{Re: re, Source: nr.PatternRegex, Scope: nr.Scope},
		}

	case nr.Regex != nil:
		multi := &MultiMatcher{}
		for _, p := range nr.Regex.Allow {
			re, err := regexp.Compile(p)
			if err != nil {
				fail(fmt.Errorf("regex.allow: %w", err))
				return
			}
			multi.Allow = append(multi.Allow, PatternRegex{Re: re, Source: p})
		}
		if len(multi.Allow) == 0 {
			fail(errors.New("regex matcher needs at least one allow pattern"))
			return
		}
		var compileList = func(pats []string, dst *[]*regexp.Regexp, what string) bool {
			for _, p := range pats {
				re, err := regexp.Compile(p)
				if err != nil {
					fail(fmt.Errorf("%s: %w", what, err))
					return false
				}
				*dst = append(*dst, re)
			}
			return true
		}
		if !compileList(nr.Regex.Deny, &multi.Deny, "regex.deny") ||
			!compileList(nr.Regex.Inside, &multi.Inside, "regex.inside") ||
			!compileList(nr.Regex.NotInside, &multi.NotInside, "regex.not-inside") {
			return
		}
		rule.Matcher = Matcher{Kind: MatcherTextRegexMulti, Multi: multi}

	case nr.JSONPath != nil:
		jp := &JSONPathMatcher{Path: nr.JSONPath.Path}
		if jp.Path == "" {
			fail(errors.New("json-path matcher needs a path"))
			return
		}
		if nr.JSONPath.Pattern != "" {
			re, err := regexp.Compile(nr.JSONPath.Pattern)
			if err != nil {
				fail(fmt.Errorf("json-path.pattern: %w", err))
				return
			}
			jp.Re = re
			rule.Matcher = Matcher{Kind: MatcherJSONPathRegex, JSONPath: jp}
		} else {
			var v any
			if err := nr.JSONPath.Equals.Decode(&v); err != nil {
				fail(fmt.Errorf("json-path.equals: %w", err))
				return
			}
			jp.Equals = v
			jp.HasEquals = true
			rule.Matcher = Matcher{Kind: MatcherJSONPathEq, JSONPath: jp}
		}

	case nr.ASTQuery != nil:
		kindRe, err := regexp.Compile(nr.ASTQuery.Kind)
		if err != nil {
			fail(fmt.Errorf("ast_query.kind: %w", err))
			return
		}
		q := &ASTQueryMatcher{Kind: kindRe, Within: nr.ASTQuery.Within}
		if nr.ASTQuery.Value != "" {
			valueRe, err := regexp.Compile(regexp.QuoteMeta(nr.ASTQuery.Value))
			if err != nil {
				fail(fmt.Errorf("ast_query.value: %w", err))
				return
			}
			q.Value = valueRe
		}
		rule.Matcher = Matcher{Kind: MatcherASTQuery, AST: q}

	default:
		fail(ErrUnsupportedMatcher)
		return
	}

	rs.Add(rule, seen)
}

// jsonRuleSchema validates the native JSON rule document shape before
// compilation; JSON rules are the one source format with a frozen schema.
const jsonRuleSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["rules"],
  "properties": {
    "rules": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "additionalProperties": {
          "type": "object",
          "required": ["severity", "query"],
          "properties": {
            "severity": {"type": "string"},
            "languages": {"type": "array", "items": {"type": "string"}},
            "query": {
              "type": "object",
              "required": ["path", "message"],
              "properties": {
                "path": {"type": "string"},
                "pattern": {"type": "string"},
                "message": {"type": "string"},
                "remediation": {"type": "string"}
              }
            }
          }
        }
      }
    }
  }
}`

var jsonRuleSchemaCompiled = func() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(jsonRuleSchema))
	if err != nil {
		panic(err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("irscan://rules.schema.json", doc); err != nil {
		panic(err)
	}
	sch, err := c.Compile("irscan://rules.schema.json")
	if err != nil {
		panic(err)
	}
	return sch
}()

type jsonRuleDoc struct {
	Rules map[string]map[string]jsonRuleBody `json:"rules"`
}

type jsonRuleBody struct {
	Severity  string   `json:"severity"`
	Languages []string `json:"languages"`
	Query     struct {
		Path        string          `json:"path"`
		Pattern     string          `json:"pattern"`
		Equals      json.RawMessage `json:"equals"`
		Message     string          `json:"message"`
		Remediation string          `json:"remediation"`
	} `json:"query"`
}

func loadJSONRules(rs *RuleSet, seen map[string]struct{}, path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		rs.Errors = append(rs.Errors, &CompileError{File: path, Err: err})
		return
	}
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		rs.Errors = append(rs.Errors, &CompileError{File: path, Err: fmt.Errorf("parsing rule file: %w", err)})
		return
	}
	if err := jsonRuleSchemaCompiled.Validate(raw); err != nil {
		rs.Errors = append(rs.Errors, &CompileError{File: path, Err: fmt.Errorf("schema: %w", err)})
		return
	}
	var doc jsonRuleDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		rs.Errors = append(rs.Errors, &CompileError{File: path, Err: err})
		return
	}

	// Deterministic compile order regardless of map iteration.
	var ids []string
	bodies := make(map[string]jsonRuleBody)
	for group, byName := range doc.Rules {
		for name, body := range byName {
			id := group + "." + name
			ids = append(ids, id)
			bodies[id] = body
		}
	}
	sort.Strings(ids)

	for _, id := range ids {
		body := bodies[id]
		sev, err := finding.ParseSeverity(body.Severity)
		if err != nil {
			rs.Errors = append(rs.Errors, &CompileError{RuleID: id, File: path, Err: err})
			continue
		}
		jp := &JSONPathMatcher{Path: strings.TrimPrefix(body.Query.Path, "$.")}
		rule := &CompiledRule{
			ID:          id,
			Severity:    sev,
			Category:    strings.SplitN(id, ".", 2)[0],
			Message:     body.Query.Message,
			Remediation: body.Query.Remediation,
			Languages:   normalizeLanguages(body.Languages),
			SourceFile:  path,
		}
		if body.Query.Pattern != "" {
			re, err := regexp.Compile(body.Query.Pattern)
			if err != nil {
				rs.Errors = append(rs.Errors, &CompileError{RuleID: id, File: path, Err: err})
				continue
			}
			jp.Re = re
			rule.Matcher = Matcher{Kind: MatcherJSONPathRegex, JSONPath: jp}
		} else if len(body.Query.Equals) > 0 {
			var v any
			if err := json.Unmarshal(body.Query.Equals, &v); err != nil {
				rs.Errors = append(rs.Errors, &CompileError{RuleID: id, File: path, Err: err})
				continue
			}
			jp.Equals = v
			jp.HasEquals = true
			rule.Matcher = Matcher{Kind: MatcherJSONPathEq, JSONPath: jp}
		} else {
			rs.Errors = append(rs.Errors, &CompileError{RuleID: id, File: path, Err: ErrUnsupportedMatcher})
			continue
		}
		rs.Add(rule, seen)
	}
}

func loadWASMRule(rs *RuleSet, seen map[string]struct{}, path string) {
	head := make([]byte, 4)
	f, err := os.Open(path)
	if err != nil {
		rs.Errors = append(rs.Errors, &CompileError{File: path, Err: err})
		return
	}
	n, _ := f.Read(head)
	f.Close()
	if n < 4 || string(head) != "\x00asm" {
		rs.Errors = append(rs.Errors, &CompileError{File: path, Err: errors.New("not a WASM module")})
		return
	}

	side := wasmSidecar{Entrypoint: "deny"}
	found := false
	for _, ext := range []string{".json", ".yaml", ".yml"} {
		data, err := os.ReadFile(path + ext)
		if err != nil {
			continue
		}
		if err := yaml.Unmarshal(data, &side); err != nil {
			rs.Errors = append(rs.Errors, &CompileError{File: path + ext, Err: err})
			return
		}
		found = true
		break
	}
	if !found || side.ID == "" {
		base := strings.TrimSuffix(filepath.Base(path), ".wasm")
		if side.ID == "" {
			side.ID = "wasm." + base
		}
	}
	sev := finding.Medium
	if side.Severity != "" {
		parsed, err := finding.ParseSeverity(side.Severity)
		if err != nil {
			rs.Errors = append(rs.Errors, &CompileError{RuleID: side.ID, File: path, Err: err})
			return
		}
		sev = parsed
	}
	rule := &CompiledRule{
		ID:          side.ID,
		Severity:    sev,
		Category:    side.Category,
		Message:     side.Message,
		Remediation: side.Remediation,
		Languages:   normalizeLanguages(side.Languages),
		SourceFile:  path,
		Matcher: Matcher{
			Kind: MatcherRegoWASM,
			Rego: &RegoMatcher{WASMPath: path, Entrypoint: side.Entrypoint},
		},
	}
	rs.Add(rule, seen)
}

