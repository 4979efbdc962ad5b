package converter

import (
	"strings"
	"testing"

	"github.com/confmove/confmove/internal/paths"
)

func TestRelPath(t *testing.T) {
	tests := []struct {
		name    string
		fromDir string
		toFile  string
		want    string
	}{
		{"root to root", "", "Notes.md", "Notes.md"},
		{"root to subdir", "", "Guides/Setup.md", "Guides/Setup.md"},
		{"subdir to sibling file in same dir", "Guides", "Guides/Other.md", "Other.md"},
		{"subdir up to root", "Guides", "Readme.md", "../Readme.md"},
		{"deep to other branch", "A/B", "C/D.md", "../../C/D.md"},
		{"shared prefix", "Guides/Install", "Guides/FAQ.md", "../FAQ.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := relPath(tt.fromDir, tt.toFile); got != tt.want {
				t.Errorf("relPath(%q, %q) = %q, want %q", tt.fromDir, tt.toFile, got, tt.want)
			}
		})
	}
}

func TestEncodeTarget(t *testing.T) {
	tests := []struct {
		name   string
		target string
		want   string
	}{
		{"plain name", "notes.md", "notes.md"},
		{"whitespace", "My File.pdf", "My%20File.pdf"},
		{"reserved chars", "a&b #c.txt", "a&b%20%23c.txt"},
		{"path keeps separators", "Guides/My Page.md", "Guides/My%20Page.md"},
		{"absolute url untouched", "https://example.com/a b", "https://example.com/a b"},
		{"data uri untouched", "data:image/png;base64,x", "data:image/png;base64,x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := encodeTarget(tt.target); got != tt.want {
				t.Errorf("encodeTarget(%q) = %q, want %q", tt.target, got, tt.want)
			}
		})
	}
}

func TestRenderBasicBlocks(t *testing.T) {
	doc := &Node{Kind: KindDocument, Children: []*Node{
		{Kind: KindHeading, Level: 1, Children: []*Node{text("Title")}},
		{Kind: KindParagraph, Children: []*Node{
			text("Hello "),
			{Kind: KindStrong, Children: []*Node{text("world")}},
			text(" and "),
			{Kind: KindEmphasis, Children: []*Node{text("more")}},
		}},
		{Kind: KindCodeBlock, Lang: "go", Text: "fmt.Println()"},
		{Kind: KindRule},
	}}

	got := Render(doc, RenderContext{})
	want := "# Title\n\nHello **world** and *more*\n\n```go\nfmt.Println()\n```\n\n---"
	if got != want {
		t.Errorf("Render() =\n%q\nwant\n%q", got, want)
	}
}

func TestRenderNestedLists(t *testing.T) {
	doc := &Node{Kind: KindDocument, Children: []*Node{
		{Kind: KindList, Children: []*Node{
			{Kind: KindListItem, Children: []*Node{
				text("top"),
				{Kind: KindList, Ordered: true, Children: []*Node{
					{Kind: KindListItem, Children: []*Node{text("first")}},
					{Kind: KindListItem, Children: []*Node{text("second")}},
				}},
			}},
			{Kind: KindListItem, Children: []*Node{text("next")}},
		}},
	}}

	got := Render(doc, RenderContext{})
	want := "- top\n  1. first\n  2. second\n- next"
	if got != want {
		t.Errorf("Render() =\n%q\nwant\n%q", got, want)
	}
}

func TestRenderBlockquoteWithLabel(t *testing.T) {
	doc := &Node{Kind: KindDocument, Children: []*Node{
		{Kind: KindBlockquote, Label: "Warning", Children: []*Node{
			{Kind: KindParagraph, Children: []*Node{text("Careful now.")}},
		}},
	}}

	got := Render(doc, RenderContext{})
	if got != "> **Warning:** Careful now." {
		t.Errorf("Render() = %q", got)
	}
}

func TestRenderTableEscapesCellContent(t *testing.T) {
	doc := &Node{Kind: KindDocument, Children: []*Node{
		{Kind: KindTable, Children: []*Node{
			{Kind: KindTableRow, Children: []*Node{
				{Kind: KindTableCell, Header: true, Children: []*Node{text("a|b")}},
			}},
			{Kind: KindTableRow, Children: []*Node{
				{Kind: KindTableCell, Children: []*Node{text("line"), {Kind: KindHardBreak}, text("break")}},
			}},
		}},
	}}

	got := Render(doc, RenderContext{})
	if !strings.Contains(got, `a\|b`) {
		t.Errorf("pipe not escaped: %q", got)
	}
	for _, line := range strings.Split(got, "\n") {
		if !strings.HasPrefix(line, "|") {
			t.Errorf("table line lost its row structure: %q", got)
		}
	}
}

func TestLinkRewriting(t *testing.T) {
	tree := map[string]paths.OutputPath{
		"42": {File: "Guides/Setup.md", Dir: "Guides"},
		"77": {File: "Readme.md", Dir: ""},
	}
	base := "https://example.atlassian.net"

	tests := []struct {
		name string
		self paths.OutputPath
		href string
		want string
	}{
		{
			"in-scope spaces link from root",
			paths.OutputPath{File: "Readme.md", Dir: ""},
			"/wiki/spaces/DOCS/pages/42/Setup",
			"Guides/Setup.md",
		},
		{
			"in-scope link from subdir to root",
			paths.OutputPath{File: "Guides/Setup.md", Dir: "Guides"},
			"/wiki/spaces/DOCS/pages/77/Home",
			"../Readme.md",
		},
		{
			"absolute in-scope link",
			paths.OutputPath{File: "Readme.md", Dir: ""},
			base + "/wiki/spaces/DOCS/pages/42/Setup",
			"Guides/Setup.md",
		},
		{
			"viewpage query link",
			paths.OutputPath{File: "Readme.md", Dir: ""},
			"/wiki/pages/viewpage.action?pageId=42",
			"Guides/Setup.md",
		},
		{
			"out-of-scope internal link becomes absolute",
			paths.OutputPath{File: "Readme.md", Dir: ""},
			"/wiki/spaces/DOCS/pages/999/Gone",
			base + "/wiki/spaces/DOCS/pages/999/Gone",
		},
		{
			"external link untouched",
			paths.OutputPath{File: "Readme.md", Dir: ""},
			"https://golang.org/doc",
			"https://golang.org/doc",
		},
		{
			"other-host wiki-like link untouched",
			paths.OutputPath{File: "Readme.md", Dir: ""},
			"https://other.example.com/wiki/spaces/X/pages/42/Trap",
			"https://other.example.com/wiki/spaces/X/pages/42/Trap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &renderer{ctx: RenderContext{Self: tt.self, Tree: tree, BaseURL: base}}
			if got := r.linkTarget(tt.href); got != tt.want {
				t.Errorf("linkTarget(%q) = %q, want %q", tt.href, got, tt.want)
			}
		})
	}
}

func TestRenderMentionAndMacroInline(t *testing.T) {
	doc := &Node{Kind: KindDocument, Children: []*Node{
		{Kind: KindParagraph, Children: []*Node{
			text("Ask "),
			{Kind: KindMention, Text: "Bob Jones"},
			text(" first"),
		}},
		{Kind: KindMacro, Text: "gliffy"},
	}}

	got := Render(doc, RenderContext{})
	if !strings.Contains(got, "Ask @Bob Jones first") {
		t.Errorf("mention wrong: %q", got)
	}
	if !strings.Contains(got, "<!-- Unsupported macro: gliffy -->") {
		t.Errorf("macro placeholder wrong: %q", got)
	}
}
