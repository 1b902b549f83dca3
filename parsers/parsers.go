// Package parsers turns on-disk files into the engine's intermediate
// representation. One parser exists per language; all share the same
// contract: bytes in, FileIR out, and syntax errors degrade to a partial
// IR plus diagnostics instead of aborting the scan.
package parsers

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"

	"github.com/zendesk/irscan/ir"
)

// Language tags, matching rule `languages` entries.
const (
	LangDockerfile = "dockerfile"
	LangYAML       = "yaml"
	LangJSON       = "json"
	LangTerraform  = "terraform"
	LangPython     = "python"
	LangJavaScript = "javascript"
	LangTypeScript = "typescript"
	LangGo         = "go"
	LangRuby       = "ruby"
	LangJava       = "java"
	LangPHP        = "php"
	LangRust       = "rust"
)

// ParseError reports a file that could not be fully parsed. The partial
// FileIR on the parser result is still usable; the scan continues.
type ParseError struct {
	File    string
	Details string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.File, e.Details)
}

// DetectType infers the language from the basename or extension. The
// empty string means the file is not analysable.
func DetectType(path string) string {
	base := filepath.Base(path)
	if base == "Dockerfile" || strings.HasPrefix(base, "Dockerfile.") || strings.HasSuffix(base, ".dockerfile") {
		return LangDockerfile
	}
	switch strings.ToLower(filepath.Ext(base)) {
	case ".yaml", ".yml":
		return LangYAML
	case ".json":
		return LangJSON
	case ".tf":
		return LangTerraform
	case ".py":
		return LangPython
	case ".js", ".mjs", ".cjs":
		return LangJavaScript
	case ".ts":
		return LangTypeScript
	case ".go":
		return LangGo
	case ".rb":
		return LangRuby
	case ".java":
		return LangJava
	case ".php":
		return LangPHP
	case ".rs":
		return LangRust
	}
	return ""
}

// MaturityLevel reports the analysis depth a language parser provides,
// following the layered L1..L8 contract.
func MaturityLevel(language string) int {
	switch language {
	case LangPython:
		return 6
	case LangJavaScript, LangTypeScript:
		return 3
	case LangGo:
		return 2
	case LangJava, LangPHP, LangRuby, LangRust:
		return 1
	}
	return 0
}

// Parser converts files to FileIR. Safe for concurrent use; each Parse
// call builds its own tree-sitter parser instance.
type Parser struct {
	suppressComment string
	logger          hclog.Logger
}

// Option configures a Parser.
type Option func(*Parser)

// WithSuppressComment sets the token that marks suppression comments.
func WithSuppressComment(token string) Option {
	return func(p *Parser) { p.suppressComment = token }
}

// WithLogger attaches a structured logger.
func WithLogger(l hclog.Logger) Option {
	return func(p *Parser) { p.logger = l }
}

// New returns a Parser with the default suppression token.
func New(opts ...Option) *Parser {
	p := &Parser{suppressComment: "sast-ignore", logger: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse converts one file. Unknown types return (nil, nil) so callers can
// skip them without treating it as a failure. A non-nil FileIR may come
// back together with a *ParseError when only part of the file parsed.
func (p *Parser) Parse(path string, src []byte) (*ir.FileIR, error) {
	lang := DetectType(path)
	if lang == "" {
		return nil, nil
	}
	fir := ir.NewFileIR(path, lang)
	fir.Source = string(src)
	p.collectSuppressed(fir)

	var err error
	switch lang {
	case LangDockerfile:
		p.parseDockerfile(fir)
	case LangYAML, LangJSON:
		err = p.parseYAMLDoc(fir)
	case LangTerraform:
		err = p.parseHCL(fir)
	case LangPython:
		err = p.parsePython(fir, src)
	case LangJavaScript, LangTypeScript:
		err = p.parseECMAScript(fir, src)
	case LangGo:
		err = p.parseGo(fir, src)
	case LangJava, LangPHP, LangRuby, LangRust:
		err = p.parseGenericCode(fir, src)
	}
	if err != nil {
		p.logger.Debug("tolerated parse failure", "file", path, "error", err)
		fir.Diagnostics = append(fir.Diagnostics, err.Error())
		return fir, err
	}
	return fir, nil
}

// collectSuppressed records lines covered by a suppression comment on the
// same or the preceding line.
func (p *Parser) collectSuppressed(fir *ir.FileIR) {
	if p.suppressComment == "" {
		return
	}
	lines := strings.Split(fir.Source, "\n")
	for i, line := range lines {
		if !strings.Contains(line, p.suppressComment) {
			continue
		}
		fir.Suppressed[i+1] = struct{}{}
		if i+2 <= len(lines) {
			fir.Suppressed[i+2] = struct{}{}
		}
	}
}
