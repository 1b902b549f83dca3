// Package report renders findings in the supported output formats: a
// colourised text report for terminals, a plain JSON array, and SARIF
// 2.1.0 for code-scanning integrations.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/gookit/color"

	"github.com/zendesk/irscan/finding"
)

// Format names an output renderer.
type Format string

const (
	FormatText  Format = "text"
	FormatJSON  Format = "json"
	FormatSARIF Format = "sarif"
)

// Write renders findings in the requested format.
func Write(w io.Writer, format Format, findings []finding.Finding) error {
	switch format {
	case FormatText:
		return writeText(w, findings)
	case FormatJSON:
		return writeJSON(w, findings)
	case FormatSARIF:
		return WriteSARIF(w, findings)
	}
	return fmt.Errorf("unknown output format %q", format)
}

func severityColor(sev finding.Severity) color.Color {
	switch sev {
	case finding.Critical, finding.High:
		return color.Red
	case finding.Medium:
		return color.Yellow
	default:
		return color.Green
	}
}

func writeText(w io.Writer, findings []finding.Finding) error {
	if len(findings) == 0 {
		fmt.Fprintln(w, "No findings.")
		return nil
	}
	byFile := make(map[string][]finding.Finding)
	var files []string
	for _, f := range findings {
		if _, seen := byFile[f.File]; !seen {
			files = append(files, f.File)
		}
		byFile[f.File] = append(byFile[f.File], f)
	}
	sort.Strings(files)

	counts := make(map[finding.Severity]int)
	for _, file := range files {
		fmt.Fprintf(w, "%s\n", color.Bold.Sprint(file))
		for _, f := range byFile[file] {
			sev := severityColor(f.Severity).Sprint(f.Severity.String())
			fmt.Fprintf(w, "  %s:%d:%d  [%s] %s  %s\n", file, f.Line, f.Column, sev, f.RuleID, f.Message)
			if f.Excerpt != "" {
				fmt.Fprintf(w, "      %s\n", f.Excerpt)
			}
			if f.Remediation != "" {
				fmt.Fprintf(w, "      remediation: %s\n", f.Remediation)
			}
			counts[f.Severity]++
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "%d finding(s): ", len(findings))
	first := true
	for _, sev := range []finding.Severity{finding.Critical, finding.High, finding.Medium, finding.Low, finding.Info} {
		if counts[sev] == 0 {
			continue
		}
		if !first {
			fmt.Fprint(w, ", ")
		}
		fmt.Fprintf(w, "%d %s", counts[sev], severityColor(sev).Sprint(sev.String()))
		first = false
	}
	fmt.Fprintln(w)
	return nil
}

func writeJSON(w io.Writer, findings []finding.Finding) error {
	if findings == nil {
		findings = []finding.Finding{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(findings)
}
