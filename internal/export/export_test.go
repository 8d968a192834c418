package export

import (
	"testing"

	"koinonia/internal/model"
)

func strPtr(s string) *string { return &s }

func TestParseTextSkipsBlanksAndTrims(t *testing.T) {
	lines := ParseText("Milk\n\n  Eggs  \n\t\nBread\n")
	want := []Line{
		{Name: "Milk"},
		{Name: "Eggs", Nested: true},
		{Name: "Bread"},
	}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines; want %d: %+v", len(lines), len(want), lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("line %d = %+v; want %+v", i, lines[i], want[i])
		}
	}
}

func TestParseTextLeadingIndentIsRoot(t *testing.T) {
	lines := ParseText("  Milk\nBread")
	if lines[0].Nested {
		t.Fatalf("indented first line has no parent and must import as root")
	}
	if lines[1].Nested {
		t.Fatalf("Bread is a root")
	}
}

func TestParseTextEmpty(t *testing.T) {
	if lines := ParseText("   \n\n\t\n"); len(lines) != 0 {
		t.Fatalf("expected no lines; got %+v", lines)
	}
}

func TestFormatText(t *testing.T) {
	items := []model.Item{
		{ID: "a", Name: "Dairy"},
		{ID: "a1", Name: "Milk", ParentID: strPtr("a")},
		{ID: "a2", Name: "Butter", Checked: true, ParentID: strPtr("a")},
		{ID: "b", Name: "Bread", Checked: true},
	}

	got := FormatText(items, true)
	want := "Dairy\n  Milk\n  Butter\nBread"
	if got != want {
		t.Fatalf("FormatText(all) = %q; want %q", got, want)
	}

	got = FormatText(items, false)
	want = "Dairy\n  Milk"
	if got != want {
		t.Fatalf("FormatText(unchecked) = %q; want %q", got, want)
	}
}

func TestFormatTextEmpty(t *testing.T) {
	if got := FormatText(nil, true); got != "" {
		t.Fatalf("expected empty output; got %q", got)
	}
}
