package rules

import (
	"regexp"

	"github.com/zendesk/irscan/finding"
)

// builtinDef declares one built-in rule; the table keeps the catalogue
// reviewable in one place and compiles lazily through BuiltinRules.
type builtinDef struct {
	id          string
	severity    finding.Severity
	category    string
	message     string
	remediation string
	languages   []string
	build       func(*builtinDef) Matcher
}

func textRegex(pattern string) func(*builtinDef) Matcher {
	re := regexp.MustCompile(pattern)
	return func(*builtinDef) Matcher {
		return Matcher{Kind: MatcherTextRegex, Regex: &RegexMatcher{Re: re, Source: pattern}}
	}
}

func jsonPathRegex(path, pattern string) func(*builtinDef) Matcher {
	re := regexp.MustCompile(pattern)
	return func(*builtinDef) Matcher {
		return Matcher{Kind: MatcherJSONPathRegex, JSONPath: &JSONPathMatcher{Path: path, Re: re}}
	}
}

func taintPatterns(sources, sanitizers, sinks []string) func(*builtinDef) Matcher {
	compile := func(patterns []string) []TaintPattern {
		var out []TaintPattern
		for _, p := range patterns {
			src, groups := PatternToRegex(p, nil)
			out = append(out, TaintPattern{
				Allow: []PatternRegex{{
					Re:         regexp.MustCompile(src),
					Source:     p,
					FocusGroup: groupIndex(groups, ""),
				}},
			})
		}
		return out
	}
	return func(*builtinDef) Matcher {
		return Matcher{Kind: MatcherTaint, Taint: &TaintMatcher{
			Sources:    compile(sources),
			Sanitizers: compile(sanitizers),
			Sinks:      compile(sinks),
		}}
	}
}

var builtinDefs = []builtinDef{
	{
		id:          "dockerfile.no-latest",
		severity:    finding.Medium,
		category:    "docker",
		message:     "Image pinned to the mutable :latest tag",
		remediation: "Pin the base image to an immutable tag or digest",
		languages:   []string{"dockerfile"},
		build:       jsonPathRegex("FROM", `:latest(\s|$)`),
	},
	{
		id:          "dockerfile.root-user",
		severity:    finding.High,
		category:    "docker",
		message:     "Container runs as root",
		remediation: "Add a USER directive with an unprivileged account",
		languages:   []string{"dockerfile"},
		build:       jsonPathRegex("USER", `^USER\s+root\s*$`),
	},
	{
		id:        "secrets.slack-token",
		severity:  finding.High,
		category:  "secrets",
		message:   "Slack token committed to the workspace",
		build:     textRegex(`xox[baprs]-[0-9a-zA-Z]{10,48}`),
	},
	{
		id:        "secrets.aws-access-key",
		severity:  finding.High,
		category:  "secrets",
		message:   "AWS access key id committed to the workspace",
		build:     textRegex(`\b(AKIA|ASIA)[0-9A-Z]{16}\b`),
	},
	{
		id:          "secrets.private-key",
		severity:    finding.Critical,
		category:    "secrets",
		message:     "Private key material committed to the workspace",
		remediation: "Remove the key and rotate it",
		build:       textRegex(`-----BEGIN (RSA |EC |OPENSSH |DSA )?PRIVATE KEY-----`),
	},
	{
		id:          "py.taint-eval",
		severity:    finding.High,
		category:    "injection",
		message:     "User input reaches eval",
		remediation: "Parse the input instead of evaluating it",
		languages:   []string{"python"},
		build: taintPatterns(
			[]string{"$VAR = input(...)"},
			[]string{"html.escape($X)", "shlex.quote($X)"},
			[]string{"eval($X)", "exec($X)"},
		),
	},
	{
		id:          "py.taint-subprocess",
		severity:    finding.High,
		category:    "injection",
		message:     "User input reaches a subprocess invocation",
		remediation: "Pass an argument vector and avoid shell=True",
		languages:   []string{"python"},
		build: taintPatterns(
			[]string{"$VAR = input(...)", "$VAR = request.args.get(...)"},
			[]string{"shlex.quote($X)"},
			[]string{"subprocess.run($X, ...)", "subprocess.call($X, ...)", "os.system($X)"},
		),
	},
	{
		id:          "js.taint-eval",
		severity:    finding.High,
		category:    "injection",
		message:     "User-controlled value reaches eval",
		languages:   []string{"javascript", "typescript"},
		build: taintPatterns(
			[]string{"$VAR = req.query...", "$VAR = req.body..."},
			[]string{"encodeURIComponent($X)"},
			[]string{"eval($X)"},
		),
	},
}

// BuiltinRules compiles the built-in catalogue. Secrets rules carry an
// entropy floor so structured identifiers in test fixtures do not flood
// reports.
func BuiltinRules() *RuleSet {
	rs := &RuleSet{}
	seen := make(map[string]struct{})
	for i := range builtinDefs {
		def := &builtinDefs[i]
		rule := &CompiledRule{
			ID:          def.id,
			Severity:    def.severity,
			Category:    def.category,
			Message:     def.message,
			Remediation: def.remediation,
			Languages:   normalizeLanguages(def.languages),
			Matcher:     def.build(def),
		}
		if def.category == "secrets" {
			rule.Options.Entropy = 3
		}
		rs.Add(rule, seen)
	}
	return rs
}
