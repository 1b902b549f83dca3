// Package finding defines the result type produced by rule evaluation and
// the deterministic ordering reporters and baselines rely on.
package finding

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Severity of a rule or finding.
type Severity int

const (
	Info Severity = iota
	Low
	Medium
	High
	Critical
)

// String returns the canonical upper-case name.
func (s Severity) String() string {
	switch s {
	case Info:
		return "INFO"
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	}
	return "UNKNOWN"
}

// MarshalText implements encoding.TextMarshaler so severities serialize as
// their names in JSON caches and reports.
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts the canonical names plus the Semgrep aliases
// WARNING (MEDIUM) and ERROR (HIGH).
func (s *Severity) UnmarshalText(text []byte) error {
	v, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// ParseSeverity converts a case-insensitive severity name.
func ParseSeverity(raw string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "info":
		return Info, nil
	case "low":
		return Low, nil
	case "medium", "warning":
		return Medium, nil
	case "high", "error":
		return High, nil
	case "critical":
		return Critical, nil
	}
	return Info, fmt.Errorf("unknown severity %q", raw)
}

// Finding is a single rule hit.
type Finding struct {
	ID          string   `json:"id"`
	RuleID      string   `json:"rule_id"`
	RuleFile    string   `json:"rule_file,omitempty"`
	Severity    Severity `json:"severity"`
	File        string   `json:"file"`
	Line        int      `json:"line"`
	Column      int      `json:"column"`
	Excerpt     string   `json:"excerpt"`
	Message     string   `json:"message"`
	Remediation string   `json:"remediation,omitempty"`
	Fix         string   `json:"fix,omitempty"`

	// SourceLine cites the taint source location for taint findings.
	SourceLine int `json:"source_line,omitempty"`
}

// StableID hashes the identity tuple of a finding. The same rule hitting
// the same excerpt at the same position always produces the same id, which
// is what baselines key on.
func StableID(ruleID, file string, line, column int, excerpt string) string {
	sum := sha256.Sum256(fmt.Appendf(nil, "%s:%s:%d:%d:%s", ruleID, file, line, column, excerpt))
	return hex.EncodeToString(sum[:])
}

// New builds a finding with its stable id filled in.
func New(ruleID, file string, line, column int, excerpt, message string, sev Severity) Finding {
	return Finding{
		ID:       StableID(ruleID, file, line, column, excerpt),
		RuleID:   ruleID,
		Severity: sev,
		File:     file,
		Line:     line,
		Column:   column,
		Excerpt:  excerpt,
		Message:  message,
	}
}

// Sort orders findings by (file, line, column, rule id) so repeated runs
// over unchanged inputs emit byte-identical lists.
func Sort(fs []Finding) {
	sort.SliceStable(fs, func(i, j int) bool {
		a, b := fs[i], fs[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.Line != b.Line {
			return a.Line < b.Line
		}
		if a.Column != b.Column {
			return a.Column < b.Column
		}
		return a.RuleID < b.RuleID
	})
}

// Dedup removes findings sharing an id, keeping the first occurrence.
// Input must already be sorted for deterministic retention.
func Dedup(fs []Finding) []Finding {
	seen := make(map[string]struct{}, len(fs))
	out := fs[:0]
	for _, f := range fs {
		if _, ok := seen[f.ID]; ok {
			continue
		}
		seen[f.ID] = struct{}{}
		out = append(out, f)
	}
	return out
}

// MaxSeverity returns the highest severity present, and false when the
// list is empty.
func MaxSeverity(fs []Finding) (Severity, bool) {
	if len(fs) == 0 {
		return Info, false
	}
	maxSev := fs[0].Severity
	for _, f := range fs[1:] {
		if f.Severity > maxSev {
			maxSev = f.Severity
		}
	}
	return maxSev, true
}
