package parsers

import "testing"

func TestParseHCLFlattensBlocksAndAttributes(t *testing.T) {
	t.Parallel()

	src := `
resource "aws_s3_bucket" "logs" {
  acl           = "public-read"
  force_destroy = true

  versioning {
    enabled = false
  }
}

variable "region" {
  default = "us-east-1"
}
`
	p := New()
	fir, err := p.Parse("main.tf", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byPath := indexNodes(fir)

	acl, ok := byPath["resource.aws_s3_bucket.logs.acl"]
	if !ok {
		t.Fatalf("missing acl attribute; have %v", pathsOf(fir))
	}
	if acl.Value != "public-read" {
		t.Fatalf("unexpected acl value: %v", acl.Value)
	}
	if acl.Meta.Line != 3 {
		t.Fatalf("acl at line %d, want 3", acl.Meta.Line)
	}

	if v, ok := byPath["resource.aws_s3_bucket.logs.force_destroy"]; !ok || v.Value != true {
		t.Fatalf("missing or wrong force_destroy; have %v", pathsOf(fir))
	}
	if _, ok := byPath["resource.aws_s3_bucket.logs.versioning.enabled"]; !ok {
		t.Fatalf("nested block attribute missing; have %v", pathsOf(fir))
	}
	if v, ok := byPath["variable.region.default"]; !ok || v.Value != "us-east-1" {
		t.Fatalf("missing variable default; have %v", pathsOf(fir))
	}
}

func TestParseHCLListAndReferenceValues(t *testing.T) {
	t.Parallel()

	src := `
resource "aws_security_group" "sg" {
  cidr_blocks = ["0.0.0.0/0", "10.0.0.0/8"]
  vpc_id      = var.vpc_id
}
`
	p := New()
	fir, err := p.Parse("sg.tf", []byte(src))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	byPath := indexNodes(fir)
	if v, ok := byPath["resource.aws_security_group.sg.cidr_blocks[0]"]; !ok || v.Value != "0.0.0.0/0" {
		t.Fatalf("missing list element; have %v", pathsOf(fir))
	}
	// References evaluate to null but keep the attribute addressable.
	if v, ok := byPath["resource.aws_security_group.sg.vpc_id"]; !ok || v.Value != nil {
		t.Fatalf("reference attribute should project as null; have %v", pathsOf(fir))
	}
}

func TestParseHCLTolerantOnErrors(t *testing.T) {
	t.Parallel()

	p := New()
	fir, err := p.Parse("broken.tf", []byte("resource \"x\" {\n  a = \n"))
	if err == nil {
		t.Fatalf("expected a parse error")
	}
	if fir == nil {
		t.Fatalf("partial IR expected on syntax errors")
	}
}
