package irscan

import "github.com/zendesk/irscan/rules"

// BuiltinRuleSet compiles the rules shipped with the engine, used when no
// rules directory is given.
func BuiltinRuleSet() *rules.RuleSet {
	return rules.BuiltinRules()
}
