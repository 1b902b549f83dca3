package parsers

import (
	"testing"

	"github.com/zendesk/irscan/ir"
)

func TestDetectType(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"Dockerfile":          LangDockerfile,
		"sub/Dockerfile":      LangDockerfile,
		"build.dockerfile":    LangDockerfile,
		"deploy.yaml":         LangYAML,
		"deploy.yml":          LangYAML,
		"package.json":        LangJSON,
		"main.tf":             LangTerraform,
		"app.py":              LangPython,
		"index.js":            LangJavaScript,
		"index.ts":            LangTypeScript,
		"main.go":             LangGo,
		"app.rb":              LangRuby,
		"Main.java":           LangJava,
		"index.php":           LangPHP,
		"lib.rs":              LangRust,
		"README.md":           "",
		"binary.exe":          "",
		"noextension":         "",
	}
	for path, want := range cases {
		if got := DetectType(path); got != want {
			t.Fatalf("DetectType(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestParseUnknownTypeReturnsNil(t *testing.T) {
	t.Parallel()

	p := New()
	fir, err := p.Parse("README.md", []byte("hello"))
	if fir != nil || err != nil {
		t.Fatalf("unknown types should be skipped silently, got %v/%v", fir, err)
	}
}

func TestParseDockerfile(t *testing.T) {
	t.Parallel()

	p := New()
	src := "FROM ubuntu:latest\nRUN apt-get update\n# comment\nUSER root\n"
	fir, err := p.Parse("Dockerfile", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fir.Nodes) != 3 {
		t.Fatalf("expected 3 directives, got %d", len(fir.Nodes))
	}
	from := fir.Nodes[0]
	if from.Path != "FROM" || from.Meta.Line != 1 || from.Meta.Column != 1 {
		t.Fatalf("unexpected FROM node: %+v", from)
	}
	if from.Value != "FROM ubuntu:latest" {
		t.Fatalf("unexpected FROM value: %v", from.Value)
	}
	if fir.Nodes[2].Path != "USER" || fir.Nodes[2].Meta.Line != 4 {
		t.Fatalf("unexpected USER node: %+v", fir.Nodes[2])
	}
}

func TestParseDockerfileFoldsContinuations(t *testing.T) {
	t.Parallel()

	p := New()
	src := "RUN apt-get update && \\\n    apt-get install -y curl\n"
	fir, err := p.Parse("Dockerfile", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(fir.Nodes) != 1 {
		t.Fatalf("continuation should fold into one directive, got %d", len(fir.Nodes))
	}
	v := fir.Nodes[0].Value.(string)
	if v != "RUN apt-get update &&  apt-get install -y curl" {
		t.Fatalf("unexpected folded value: %q", v)
	}
}

func TestParseYAMLFlattening(t *testing.T) {
	t.Parallel()

	p := New()
	src := "services:\n  web:\n    image: nginx:latest\n    ports:\n      - 80\n      - 443\n"
	fir, err := p.Parse("compose.yaml", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byPath := indexNodes(fir)
	img, ok := byPath["services.web.image"]
	if !ok {
		t.Fatalf("missing services.web.image node; have %v", pathsOf(fir))
	}
	if img.Value != "nginx:latest" {
		t.Fatalf("unexpected image value: %v", img.Value)
	}
	if img.Meta.Line != 3 {
		t.Fatalf("expected line 3 for image, got %d", img.Meta.Line)
	}
	if _, ok := byPath["services.web.ports[0]"]; !ok {
		t.Fatalf("missing sequence index path; have %v", pathsOf(fir))
	}
}

func TestParseYAMLMergeKeys(t *testing.T) {
	t.Parallel()

	p := New()
	src := "base: &base\n  image: nginx\n  user: root\nweb:\n  <<: *base\n  user: app\n"
	fir, err := p.Parse("stack.yaml", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byPath := indexNodes(fir)
	if v := byPath["web.image"]; v == nil || v.Value != "nginx" {
		t.Fatalf("merge key did not expand web.image; have %v", pathsOf(fir))
	}
	if v := byPath["web.user"]; v == nil || v.Value != "app" {
		t.Fatalf("explicit key must win over merge key, got %v", byPath["web.user"])
	}
}

func TestParseJSONThroughYAMLPath(t *testing.T) {
	t.Parallel()

	p := New()
	src := `{"a": {"b": [1, 2]}, "flag": true}`
	fir, err := p.Parse("config.json", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byPath := indexNodes(fir)
	if v := byPath["a.b[1]"]; v == nil || v.Value != 2 {
		t.Fatalf("missing a.b[1]; have %v", pathsOf(fir))
	}
	if v := byPath["flag"]; v == nil || v.Value != true {
		t.Fatalf("missing flag leaf")
	}
	if fir.Language != LangJSON {
		t.Fatalf("unexpected language %q", fir.Language)
	}
}

func TestParseYAMLPartialOnSyntaxError(t *testing.T) {
	t.Parallel()

	p := New()
	src := "ok: 1\n---\n{broken: [\n"
	fir, err := p.Parse("broken.yaml", []byte(src))
	if err == nil {
		t.Fatalf("expected a parse error")
	}
	if fir == nil {
		t.Fatalf("tolerant parser must return the partial IR")
	}
	if len(fir.Diagnostics) == 0 {
		t.Fatalf("expected diagnostics on partial parse")
	}
}

func TestSuppressionLineCollection(t *testing.T) {
	t.Parallel()

	p := New(WithSuppressComment("sast-ignore"))
	src := "a: 1\nb: 2  # sast-ignore\nc: 3\n"
	fir, err := p.Parse("vals.yaml", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := fir.Suppressed[2]; !ok {
		t.Fatalf("line with the token must be suppressed")
	}
	if _, ok := fir.Suppressed[3]; !ok {
		t.Fatalf("line after the token must be suppressed")
	}
	if _, ok := fir.Suppressed[1]; ok {
		t.Fatalf("line before the token must not be suppressed")
	}
}

func TestMetaInvariantLineColumnPositive(t *testing.T) {
	t.Parallel()

	p := New()
	sources := map[string]string{
		"Dockerfile": "FROM alpine:3.20\n",
		"a.yaml":     "k: v\n",
		"b.json":     `{"k": "v"}`,
		"m.tf":       "resource \"aws_s3_bucket\" \"b\" {\n  acl = \"public-read\"\n}\n",
	}
	for name, src := range sources {
		fir, err := p.Parse(name, []byte(src))
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		for _, n := range fir.Nodes {
			if n.Meta.Line < 1 || n.Meta.Column < 1 {
				t.Fatalf("%s: node %q has invalid position %d:%d", name, n.Path, n.Meta.Line, n.Meta.Column)
			}
		}
	}
}

func indexNodes(fir *ir.FileIR) map[string]*ir.Node {
	out := make(map[string]*ir.Node, len(fir.Nodes))
	for i := range fir.Nodes {
		out[fir.Nodes[i].Path] = &fir.Nodes[i]
	}
	return out
}

func pathsOf(fir *ir.FileIR) []string {
	var out []string
	for _, n := range fir.Nodes {
		out = append(out, n.Path)
	}
	return out
}
