// Package baseline filters findings before they reach the fail-on
// threshold and the reporters: previously accepted finding ids are
// dropped silently, and findings on lines covered by a suppression
// comment are removed.
package baseline

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/zendesk/irscan/finding"
	"github.com/zendesk/irscan/ir"
)

// Baseline is the set of accepted finding ids.
type Baseline map[string]struct{}

// Load reads a baseline file: a JSON array of sha256-hex finding ids.
func Load(path string) (Baseline, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading baseline: %w", err)
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil, fmt.Errorf("parsing baseline: %w", err)
	}
	b := make(Baseline, len(ids))
	for _, id := range ids {
		b[id] = struct{}{}
	}
	return b, nil
}

// Write persists the ids of the given findings as a new baseline.
func Write(path string, findings []finding.Finding) error {
	ids := make([]string, 0, len(findings))
	for _, f := range findings {
		ids = append(ids, f.ID)
	}
	raw, err := json.MarshalIndent(ids, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

// Filter drops findings whose id is in the baseline.
func (b Baseline) Filter(findings []finding.Finding) []finding.Finding {
	if len(b) == 0 {
		return findings
	}
	out := findings[:0]
	for _, f := range findings {
		if _, accepted := b[f.ID]; accepted {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Suppress removes findings on lines the parsers marked as covered by a
// suppression comment (same or preceding line).
func Suppress(findings []finding.Finding, files map[string]*ir.FileIR) []finding.Finding {
	out := findings[:0]
	for _, f := range findings {
		if fir, ok := files[f.File]; ok && fir != nil {
			if _, suppressed := fir.Suppressed[f.Line]; suppressed {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}

// SuppressLines is the line-set variant used when FileIRs are already
// released: file path → suppressed line numbers.
func SuppressLines(findings []finding.Finding, suppressed map[string]map[int]struct{}) []finding.Finding {
	out := findings[:0]
	for _, f := range findings {
		if lines, ok := suppressed[f.File]; ok {
			if _, hit := lines[f.Line]; hit {
				continue
			}
		}
		out = append(out, f)
	}
	return out
}
