// Package export converts a list to and from plain text, the format used
// for sharing a list outside the app: one item per line, children indented
// two spaces under their parent.
package export

import (
	"strings"

	"koinonia/internal/model"
)

const childIndent = "  "

// Line is one parsed import row.
type Line struct {
	Name string
	// Nested marks lines indented under the previous root line.
	Nested bool
}

// ParseText parses plain text into item lines. Blank lines and surrounding
// whitespace are dropped. A line indented with spaces or tabs nests under
// the closest preceding unindented line; leading indented lines with no
// root above them import as roots.
func ParseText(text string) []Line {
	var out []Line
	sawRoot := false
	for _, raw := range strings.Split(text, "\n") {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		nested := sawRoot && (strings.HasPrefix(raw, " ") || strings.HasPrefix(raw, "\t"))
		if !nested {
			sawRoot = true
		}
		out = append(out, Line{Name: name, Nested: nested})
	}
	return out
}

// FormatText renders items (already in render order, roots followed by
// their children) as plain text. When includeChecked is false, checked
// items are dropped, including checked children of an unchecked parent.
func FormatText(items []model.Item, includeChecked bool) string {
	var b strings.Builder
	for _, it := range items {
		if !includeChecked && it.Checked {
			continue
		}
		if !it.IsRoot() {
			b.WriteString(childIndent)
		}
		b.WriteString(it.Name)
		b.WriteString("\n")
	}
	return strings.TrimSuffix(b.String(), "\n")
}
