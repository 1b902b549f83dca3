package parsers

import (
	"strings"

	"github.com/zendesk/irscan/ir"
)

// parseDockerfile emits one IR event per directive. Continuation lines
// are folded into their directive so JSON-path rules see whole values.
// The path is the directive keyword; the value is the full folded text.
func (p *Parser) parseDockerfile(fir *ir.FileIR) {
	lines := strings.Split(fir.Source, "\n")
	for i := 0; i < len(lines); i++ {
		raw := lines[i]
		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		startLine := i + 1
		folded := trimmed
		for strings.HasSuffix(folded, "\\") && i+1 < len(lines) {
			i++
			folded = strings.TrimSuffix(folded, "\\") + " " + strings.TrimSpace(lines[i])
		}
		fields := strings.Fields(folded)
		if len(fields) == 0 {
			continue
		}
		instr := strings.ToUpper(fields[0])
		col := strings.Index(raw, fields[0]) + 1
		if col < 1 {
			col = 1
		}
		fir.Push(ir.Node{
			Kind:  LangDockerfile,
			Path:  instr,
			Value: folded,
			Meta:  ir.Meta{File: fir.Path, Line: startLine, Column: col},
		})
	}
}
