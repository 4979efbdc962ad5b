package converter

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/confmove/confmove/internal/models"
	"github.com/confmove/confmove/internal/paths"
)

func testConverter(opts Options) *Converter {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(opts, logger)
}

// render runs the full normalize → render path with an empty context.
func render(t *testing.T, c *Converter, body string, attachments []models.Attachment) string {
	t.Helper()
	root, err := c.Normalize(body, attachments)
	if err != nil {
		t.Fatalf("Normalize() error = %v", err)
	}
	return Render(root, RenderContext{})
}

func TestHeadingsInTableCellsBecomeBold(t *testing.T) {
	c := testConverter(Options{})

	tests := []struct {
		name string
		html string
	}{
		{"h3 in th", `<table><tr><th><h3>Header</h3></th></tr></table>`},
		{"h2 in td", `<table><tr><td><h2>Cell Title</h2></td></tr></table>`},
		{"h1 and h6 mixed", `<table><tr><th><h1>A</h1></th><th><h6>B</h6></th></tr></table>`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := render(t, c, tt.html, nil)
			if strings.Contains(md, "#") {
				t.Errorf("heading survived inside table cell: %q", md)
			}
			if !strings.Contains(md, "**") {
				t.Errorf("expected bold run in table cell, got %q", md)
			}
		})
	}
}

func TestListsInTableCellsFlattenToText(t *testing.T) {
	c := testConverter(Options{})
	md := render(t, c, `<table><tr><td><ul><li>one</li><li>two</li></ul></td></tr></table>`, nil)

	if !strings.Contains(md, "one, two") {
		t.Errorf("expected comma-joined list items, got %q", md)
	}
	if strings.Contains(md, "- one") {
		t.Errorf("list markup survived inside cell: %q", md)
	}
}

func TestMultipleBlocksInCellJoinInline(t *testing.T) {
	c := testConverter(Options{})
	md := render(t, c, `<table><tr><td><p>first</p><p>second</p></td></tr></table>`, nil)

	if !strings.Contains(md, "first — second") {
		t.Errorf("expected blocks joined in DOM order, got %q", md)
	}
	lines := strings.Split(md, "\n")
	for _, l := range lines {
		if strings.Contains(l, "first") && !strings.Contains(l, "second") {
			t.Errorf("cell content fragmented across rows: %q", md)
		}
	}
}

func TestColspanExpansionEqualizesColumns(t *testing.T) {
	c := testConverter(Options{})
	html := `<table>
		<tr><th colspan="2">Span</th><th>C</th></tr>
		<tr><td>1</td><td>2</td><td>3</td></tr>
		<tr><td>4</td><td>5</td><td>6</td></tr>
	</table>`
	md := render(t, c, html, nil)

	var counts []int
	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(line, "|") {
			counts = append(counts, strings.Count(line, "|"))
		}
	}
	if len(counts) < 4 {
		t.Fatalf("expected 4 table lines (header, separator, 2 rows), got %d in %q", len(counts), md)
	}
	for i, n := range counts {
		if n != counts[0] {
			t.Errorf("row %d has %d pipes, want %d; output:\n%s", i, n, counts[0], md)
		}
	}
	// Spanned header text is duplicated across the covered columns.
	if got := strings.Count(md, "Span"); got != 2 {
		t.Errorf("spanned header text appears %d times, want 2", got)
	}
}

func TestAttachmentWidgetRemoved(t *testing.T) {
	c := testConverter(Options{})
	html := `<p>Content</p><h2>Attachments</h2><div class="plugin_attachments_container"><ul><li>ui noise</li></ul></div>`
	md := render(t, c, html, nil)

	if !strings.Contains(md, "Content") {
		t.Errorf("page content lost: %q", md)
	}
	if strings.Contains(md, "Attachments") || strings.Contains(md, "ui noise") {
		t.Errorf("attachment widget survived: %q", md)
	}
}

func TestAttachmentWidgetKeepsUnrelatedHeading(t *testing.T) {
	c := testConverter(Options{})
	html := `<h2>Overview</h2><div class="plugin_attachments_container"></div>`
	md := render(t, c, html, nil)

	if !strings.Contains(md, "## Overview") {
		t.Errorf("unrelated heading was removed: %q", md)
	}
}

func TestImageReclassification(t *testing.T) {
	attachments := []models.Attachment{
		{Filename: "logo.png", MediaType: "image/png"},
		{Filename: "demo.mp4", MediaType: "video/mp4"},
	}
	c := testConverter(Options{})

	md := render(t, c, `<p><img src="/download/attachments/1/logo.png?version=1" alt="Logo"/></p>
		<p><img src="/download/attachments/1/demo.mp4" alt="Demo"/></p>`, attachments)

	if !strings.Contains(md, "![Logo](logo.png)") {
		t.Errorf("true inline image missing: %q", md)
	}
	if strings.Contains(md, "demo.mp4") {
		t.Errorf("non-image attachment rendered inline: %q", md)
	}
}

func TestImageURLRewriting(t *testing.T) {
	c := testConverter(Options{})

	tests := []struct {
		name string
		html string
		want string
	}{
		{
			"download url with version query",
			`<img src="/download/attachments/12345/logo.png?version=1" alt="Logo"/>`,
			"![Logo](logo.png)",
		},
		{
			"rest api attachment path",
			`<img src="/wiki/rest/api/content/123/child/attachment/456/download/photo.jpg"/>`,
			"![](photo.jpg)",
		},
		{
			"percent-encoded filename is decoded",
			`<img src="/download/attachments/1/my%20chart.png"/>`,
			"![](my%20chart.png)",
		},
		{
			"data uri untouched",
			`<img src="data:image/png;base64,abc123"/>`,
			"![](data:image/png;base64,abc123)",
		},
		{
			"external image untouched",
			`<img src="https://example.com/pic.png" alt="x"/>`,
			"![x](https://example.com/pic.png)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := render(t, c, tt.html, nil)
			if !strings.Contains(md, tt.want) {
				t.Errorf("got %q, want it to contain %q", md, tt.want)
			}
		})
	}
}

func TestExcludeImagesDropsAllImageTags(t *testing.T) {
	c := testConverter(Options{ExcludeImages: true})
	md := render(t, c, `<p>Text</p><img src="/download/attachments/1/img.png"/><p>More</p>`, nil)

	if strings.Contains(md, "![") {
		t.Errorf("image survived exclude-images: %q", md)
	}
	if !strings.Contains(md, "Text") || !strings.Contains(md, "More") {
		t.Errorf("surrounding content lost: %q", md)
	}
}

func TestPanels(t *testing.T) {
	c := testConverter(Options{})

	tests := []struct {
		name      string
		class     string
		body      string
		wantLabel string
	}{
		{"info", "confluence-information-macro confluence-information-macro-information", "Info text", "Info"},
		{"warning", "confluence-information-macro confluence-information-macro-warning", "Danger!", "Warning"},
		{"note", "confluence-information-macro confluence-information-macro-note", "Remember this.", "Note"},
		{"tip", "confluence-information-macro confluence-information-macro-tip", "Pro tip!", "Tip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			html := `<div class="` + tt.class + `"><div class="confluence-information-macro-body"><p>` + tt.body + `</p></div></div>`
			md := render(t, c, html, nil)

			if !strings.HasPrefix(md, "> ") {
				t.Errorf("panel did not render as blockquote: %q", md)
			}
			if !strings.Contains(md, "**"+tt.wantLabel+":**") {
				t.Errorf("missing %s label: %q", tt.wantLabel, md)
			}
			if !strings.Contains(md, tt.body) {
				t.Errorf("panel body lost: %q", md)
			}
		})
	}
}

func TestMacroPlaceholders(t *testing.T) {
	c := testConverter(Options{})

	tests := []struct {
		name string
		html string
		want string
	}{
		{
			"structured macro",
			`<ac:structured-macro ac:name="jira"><ac:parameter ac:name="key">PROJ-1</ac:parameter></ac:structured-macro>`,
			"<!-- Unsupported macro: jira -->",
		},
		{
			"data-macro-name div",
			`<div data-macro-name="drawio"><p>diagram</p></div>`,
			"<!-- Unsupported macro: drawio -->",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			md := render(t, c, tt.html, nil)
			if !strings.Contains(md, tt.want) {
				t.Errorf("got %q, want placeholder %q", md, tt.want)
			}
		})
	}
}

func TestPanelNotDoubleProcessedAsMacro(t *testing.T) {
	c := testConverter(Options{})
	html := `<div class="confluence-information-macro confluence-information-macro-information" data-macro-name="info">
		<div class="confluence-information-macro-body"><p>Info</p></div></div>`
	md := render(t, c, html, nil)

	if strings.Contains(md, "Unsupported macro") {
		t.Errorf("panel was treated as generic macro: %q", md)
	}
	if !strings.Contains(md, "**Info:**") {
		t.Errorf("expected labeled blockquote: %q", md)
	}
}

func TestUserMentions(t *testing.T) {
	c := testConverter(Options{})
	md := render(t, c, `<p>Ping <a class="confluence-userlink" href="/wiki/people/abc">Jane Doe</a> about this</p>`, nil)

	if !strings.Contains(md, "@Jane Doe") {
		t.Errorf("mention not substituted: %q", md)
	}
	if strings.Contains(md, "](") {
		t.Errorf("mention rendered as link: %q", md)
	}
}

func TestCodeBlocks(t *testing.T) {
	c := testConverter(Options{})

	t.Run("with language", func(t *testing.T) {
		md := render(t, c, `<div class="code-block" data-language="java"><pre>System.out.println("hi");</pre></div>`, nil)
		if !strings.Contains(md, "```java") {
			t.Errorf("language hint lost: %q", md)
		}
		if !strings.Contains(md, `System.out.println("hi");`) {
			t.Errorf("code content lost: %q", md)
		}
	})

	t.Run("without language", func(t *testing.T) {
		md := render(t, c, `<div class="code-block"><pre>some code</pre></div>`, nil)
		if !strings.Contains(md, "```\nsome code\n```") {
			t.Errorf("plain code block wrong: %q", md)
		}
	})
}

func TestMalformedFragmentDegradesToText(t *testing.T) {
	c := testConverter(Options{})
	md := render(t, c, `<p>Before</p><ri:weird-element>kept text</ri:weird-element><p>After</p>`, nil)

	if !strings.Contains(md, "Before") || !strings.Contains(md, "After") {
		t.Errorf("surrounding content lost: %q", md)
	}
	if !strings.Contains(md, "kept text") {
		t.Errorf("unrecognized fragment not passed through as text: %q", md)
	}
}

func TestNormalizeUsedByConvertKeepsSeparateContexts(t *testing.T) {
	// A cross-page link uses the resolved tree; sanity-check the plumbing
	// from Normalize through Render with a real context.
	c := testConverter(Options{BaseURL: "https://example.atlassian.net"})
	root, err := c.Normalize(`<p><a href="/wiki/spaces/DOCS/pages/42/Setup">Setup</a></p>`, nil)
	if err != nil {
		t.Fatal(err)
	}

	tree := map[string]paths.OutputPath{"42": {File: "Guides/Setup.md", Dir: "Guides"}}
	md := Render(root, RenderContext{Self: paths.OutputPath{File: "Readme.md"}, Tree: tree, BaseURL: "https://example.atlassian.net"})

	if !strings.Contains(md, "[Setup](Guides/Setup.md)") {
		t.Errorf("in-scope link not rewritten: %q", md)
	}
}
