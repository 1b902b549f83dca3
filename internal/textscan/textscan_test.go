package textscan

import (
	"regexp"
	"testing"
)

func TestLineCol(t *testing.T) {
	t.Parallel()

	src := "abc\ndef\nghi"
	line, col := LineCol(src, 0)
	if line != 1 || col != 1 {
		t.Fatalf("offset 0 should be 1:1, got %d:%d", line, col)
	}
	line, col = LineCol(src, 5)
	if line != 2 || col != 2 {
		t.Fatalf("offset 5 should be 2:2, got %d:%d", line, col)
	}
}

func TestLineAt(t *testing.T) {
	t.Parallel()

	src := "first\nsecond\nthird"
	if got := LineAt(src, 7); got != "second" {
		t.Fatalf("LineAt(7) = %q", got)
	}
	if got := LineAt(src, 15); got != "third" {
		t.Fatalf("LineAt on last line = %q", got)
	}
}

func TestLine(t *testing.T) {
	t.Parallel()

	src := "a\nb\nc"
	if got := Line(src, 2); got != "b" {
		t.Fatalf("Line 2 = %q", got)
	}
	if got := Line(src, 9); got != "" {
		t.Fatalf("out of range should be empty, got %q", got)
	}
}

func TestRangesAndContains(t *testing.T) {
	t.Parallel()

	src := "foo bar foo"
	ranges := Ranges(src, []*regexp.Regexp{regexp.MustCompile("foo")})
	if len(ranges) != 2 {
		t.Fatalf("expected two matches, got %d", len(ranges))
	}
	if !AnyContains(ranges, 0, 3) {
		t.Fatalf("span [0,3) should be contained")
	}
	if AnyContains(ranges, 3, 6) {
		t.Fatalf("span [3,6) should not be contained")
	}
}

func TestDeriveAssignmentLHS(t *testing.T) {
	t.Parallel()

	src := "x = input()"
	if lhs, ok := DeriveAssignmentLHS(src, 4); !ok || lhs != "x" {
		t.Fatalf("expected x, got %q/%v", lhs, ok)
	}

	typed := "name: str = input()"
	pos := 12 // at "input"
	if lhs, ok := DeriveAssignmentLHS(typed, pos); !ok || lhs != "name" {
		t.Fatalf("typed assignment should still derive, got %q/%v", lhs, ok)
	}

	if _, ok := DeriveAssignmentLHS("input()", 0); ok {
		t.Fatalf("no assignment context should derive nothing")
	}
}

func TestEnclosingBlock(t *testing.T) {
	t.Parallel()

	src := "func f() {\n  body()\n}\nafter()"
	blk, ok := EnclosingBlock(src, 13)
	if !ok {
		t.Fatalf("expected a block around the body")
	}
	inner := src[blk.Start:blk.End]
	if inner != "func f() {\n  body()\n}" {
		t.Fatalf("unexpected block %q", inner)
	}
	if _, ok := EnclosingBlock(src, len(src)-1); ok {
		t.Fatalf("after() sits outside any block")
	}
}

func TestIdentifiers(t *testing.T) {
	t.Parallel()

	ids := Identifiers("eval(user_input, x + x)")
	want := []string{"eval", "user_input", "x"}
	if len(ids) != len(want) {
		t.Fatalf("got %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("got %v, want %v", ids, want)
		}
	}
}
