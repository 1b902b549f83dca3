package report

import (
	"io"

	"github.com/owenrumney/go-sarif/v2/sarif"

	"github.com/zendesk/irscan/finding"
)

// sarifLevel maps engine severities onto SARIF result levels.
func sarifLevel(sev finding.Severity) string {
	switch sev {
	case finding.Critical, finding.High:
		return "error"
	case finding.Medium:
		return "warning"
	default:
		return "note"
	}
}

// sarifRank derives the 0-100 rank SARIF consumers sort by.
func sarifRank(sev finding.Severity) float32 {
	switch sev {
	case finding.Critical:
		return 95
	case finding.High:
		return 80
	case finding.Medium:
		return 55
	case finding.Low:
		return 30
	default:
		return 10
	}
}

// WriteSARIF emits a SARIF 2.1.0 log with one run and one result per
// finding.
func WriteSARIF(w io.Writer, findings []finding.Finding) error {
	rep, err := sarif.New(sarif.Version210)
	if err != nil {
		return err
	}
	run := sarif.NewRunWithInformationURI("irscan", "https://github.com/zendesk/irscan")

	seenRules := make(map[string]struct{})
	for _, f := range findings {
		if _, ok := seenRules[f.RuleID]; !ok {
			seenRules[f.RuleID] = struct{}{}
			run.AddRule(f.RuleID).WithDescription(f.Message)
		}
		rank := sarifRank(f.Severity)
		location := sarif.NewLocationWithPhysicalLocation(
			sarif.NewPhysicalLocation().
				WithArtifactLocation(sarif.NewSimpleArtifactLocation(f.File)).
				WithRegion(
					sarif.NewRegion().
						WithStartLine(f.Line).
						WithStartColumn(f.Column),
				),
		)
		result := run.CreateResultForRule(f.RuleID).
			WithLevel(sarifLevel(f.Severity)).
			WithMessage(sarif.NewTextMessage(f.Message))
		result.AddLocation(location)
		result.Rank = &rank
	}
	rep.AddRun(run)
	return rep.PrettyWrite(w)
}
