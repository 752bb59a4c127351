// Copyright 2026 The Fleetglass Authors
// SPDX-License-Identifier: Apache-2.0

package watchui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/x/ansi"
)

// renderPlain renders markdown and strips styling, leaving the layout.
func renderPlain(t *testing.T, input string, width int) string {
	t.Helper()
	return ansi.Strip(renderMarkdown(input, DefaultTheme, width))
}

func TestRenderMarkdownEmpty(t *testing.T) {
	t.Parallel()

	if got := renderMarkdown("", DefaultTheme, 80); got != "" {
		t.Errorf("renderMarkdown(empty) = %q, want empty", got)
	}
}

func TestRenderMarkdownReflowsParagraph(t *testing.T) {
	t.Parallel()

	// Hard-wrapped source: the single newline is a soft break and must
	// reflow, not survive as a line break at the source position.
	input := "The quick brown fox\njumps over the lazy dog."
	got := renderPlain(t, input, 80)
	if !strings.Contains(got, "fox jumps") {
		t.Errorf("soft line break did not reflow:\n%s", got)
	}
}

func TestRenderMarkdownWrapsToWidth(t *testing.T) {
	t.Parallel()

	input := strings.Repeat("word ", 30)
	got := renderPlain(t, input, 30)
	for _, line := range strings.Split(got, "\n") {
		if length := len([]rune(line)); length > 30 {
			t.Errorf("line %q is %d columns, want <= 30", line, length)
		}
	}
}

func TestRenderMarkdownHeading(t *testing.T) {
	t.Parallel()

	got := renderPlain(t, "# Release plan\n\nbody text", 80)
	if !strings.Contains(got, "Release plan") {
		t.Errorf("heading text missing:\n%s", got)
	}
	if !strings.Contains(got, "body text") {
		t.Errorf("paragraph after heading missing:\n%s", got)
	}
}

func TestRenderMarkdownLists(t *testing.T) {
	t.Parallel()

	got := renderPlain(t, "- first\n- second\n", 80)
	if !strings.Contains(got, "- first") || !strings.Contains(got, "- second") {
		t.Errorf("bullet list items missing:\n%s", got)
	}

	ordered := renderPlain(t, "3. third\n4. fourth\n", 80)
	if !strings.Contains(ordered, "3. third") || !strings.Contains(ordered, "4. fourth") {
		t.Errorf("ordered list should keep its start number:\n%s", ordered)
	}
}

func TestRenderMarkdownNestedListIndents(t *testing.T) {
	t.Parallel()

	got := renderPlain(t, "- outer\n  - inner\n", 80)
	if !strings.Contains(got, "- outer") {
		t.Errorf("outer item missing:\n%s", got)
	}
	if !strings.Contains(got, "  - inner") {
		t.Errorf("inner item should be indented under its parent:\n%s", got)
	}
}

func TestRenderMarkdownTaskList(t *testing.T) {
	t.Parallel()

	got := renderPlain(t, "- [x] shipped\n- [ ] pending\n", 80)
	if !strings.Contains(got, "[x] shipped") {
		t.Errorf("checked task missing:\n%s", got)
	}
	if !strings.Contains(got, "[ ] pending") {
		t.Errorf("unchecked task missing:\n%s", got)
	}
}

func TestRenderMarkdownCodeBlockKeptVerbatim(t *testing.T) {
	t.Parallel()

	longLine := "func main() { fmt.Println(\"a deliberately long line that must not wrap\") }"
	input := "```go\n" + longLine + "\n```\n"
	got := renderPlain(t, input, 30)

	found := false
	for _, line := range strings.Split(got, "\n") {
		if strings.Contains(line, "must not wrap") {
			found = true
			if !strings.Contains(line, "func main()") {
				t.Errorf("code line was split:\n%s", got)
			}
		}
	}
	if !found {
		t.Errorf("code content missing:\n%s", got)
	}
}

func TestRenderMarkdownCodeBlockUnknownLanguage(t *testing.T) {
	t.Parallel()

	got := renderPlain(t, "```nosuchlang\nplain content here\n```\n", 80)
	if !strings.Contains(got, "plain content here") {
		t.Errorf("unknown-language code content missing:\n%s", got)
	}
}

func TestRenderMarkdownBlockquote(t *testing.T) {
	t.Parallel()

	got := renderPlain(t, "> quoted wisdom", 80)
	if !strings.Contains(got, "│ quoted wisdom") {
		t.Errorf("blockquote prefix missing:\n%s", got)
	}
}

func TestRenderMarkdownLinkShowsDestination(t *testing.T) {
	t.Parallel()

	got := renderPlain(t, "see [the docs](https://example.com/docs)", 80)
	if !strings.Contains(got, "the docs") {
		t.Errorf("link text missing:\n%s", got)
	}
	if !strings.Contains(got, "(https://example.com/docs)") {
		t.Errorf("link destination missing:\n%s", got)
	}
}

func TestRenderMarkdownTable(t *testing.T) {
	t.Parallel()

	input := "| Name | State |\n| --- | --- |\n| alpha | running |\n| beta | idle |\n"
	got := renderPlain(t, input, 80)

	for _, want := range []string{"Name", "State", "alpha", "running", "beta", "idle"} {
		if !strings.Contains(got, want) {
			t.Errorf("table missing %q:\n%s", want, got)
		}
	}
	if !strings.Contains(got, "─") {
		t.Errorf("table header separator missing:\n%s", got)
	}

	// Cells in one source row stay on one output line.
	for _, line := range strings.Split(got, "\n") {
		if strings.Contains(line, "alpha") && !strings.Contains(line, "running") {
			t.Errorf("table row split across lines:\n%s", got)
		}
	}
}

func TestRenderMarkdownThematicBreak(t *testing.T) {
	t.Parallel()

	got := renderPlain(t, "above\n\n---\n\nbelow", 40)
	if !strings.Contains(got, strings.Repeat("─", 40)) {
		t.Errorf("horizontal rule missing:\n%s", got)
	}
}

func TestRenderMarkdownStripsHTML(t *testing.T) {
	t.Parallel()

	got := renderPlain(t, "before <b>kept</b> after", 80)
	if strings.Contains(got, "<b>") {
		t.Errorf("raw HTML tag leaked:\n%s", got)
	}
	if !strings.Contains(got, "kept") {
		t.Errorf("inline HTML text content missing:\n%s", got)
	}
}

func TestStripHTMLTags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  string
	}{
		{"<p>hello</p>", "hello"},
		{"no tags", "no tags"},
		{"<br/>", ""},
		{"a <span class=\"x\">b</span> c", "a b c"},
	}
	for _, test := range tests {
		if got := stripHTMLTags(test.input); got != test.want {
			t.Errorf("stripHTMLTags(%q) = %q, want %q", test.input, got, test.want)
		}
	}
}
