package converter

import (
	"strings"
	"testing"

	"github.com/confmove/confmove/internal/models"
	"github.com/confmove/confmove/internal/paths"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePage() *models.PageExport {
	return &models.PageExport{
		ID:       "100",
		Title:    "Sample Page Title",
		SpaceKey: "DOCS",
		BodyHTML: `<h1>Sample Page Title</h1>
			<p>Some intro text with <img src="/download/attachments/100/screenshot.png" alt="Screenshot"/>.</p>`,
		Attachments: []models.Attachment{
			{Filename: "screenshot.png", MediaType: "image/png"},
			{Filename: "document.pdf", MediaType: "application/pdf"},
		},
		Comments: []models.Comment{
			{Author: "Alice Smith", CreatedAt: "2024-01-15T10:30:00.000Z", BodyHTML: "<p>Add more examples</p>"},
			{Author: "Bob Jones", CreatedAt: "2024-01-16T09:00:00.000Z", BodyHTML: "<p>Agreed</p>"},
		},
	}
}

func TestConvertPageFull(t *testing.T) {
	c := testConverter(Options{})
	res, err := c.ConvertPage(samplePage(), paths.OutputPath{File: "Readme.md"}, nil)
	require.NoError(t, err)
	md := res.Markdown

	assert.Contains(t, md, "# Sample Page Title")
	assert.Contains(t, md, "![Screenshot](screenshot.png)")

	// Attachments section lists only the non-image file.
	assert.Contains(t, md, "## Attachments")
	assert.Contains(t, md, "- [document.pdf](document.pdf)")
	assert.NotContains(t, md, "- [screenshot.png]")

	// Comments section in chronological source order, after attachments.
	assert.Contains(t, md, "## Comments")
	assert.Contains(t, md, "### Alice Smith — 2024-01-15 10:30:00")
	assert.Contains(t, md, "### Bob Jones — 2024-01-16 09:00:00")
	assert.Less(t, strings.Index(md, "Alice Smith"), strings.Index(md, "Bob Jones"))
	assert.Contains(t, md, "Add more examples")
	assert.Less(t, strings.Index(md, "## Attachments"), strings.Index(md, "## Comments"))

	// Manifest carries both files to place alongside the document.
	require.Len(t, res.Files, 2)
}

func TestConvertPageSectionsOmittedWhenEmpty(t *testing.T) {
	c := testConverter(Options{})
	page := &models.PageExport{ID: "1", BodyHTML: "<p>Simple page</p>"}

	res, err := c.ConvertPage(page, paths.OutputPath{File: "Readme.md"}, nil)
	require.NoError(t, err)
	assert.Contains(t, res.Markdown, "Simple page")
	assert.NotContains(t, res.Markdown, "## Comments")
	assert.NotContains(t, res.Markdown, "## Attachments")
	assert.Empty(t, res.Files)
}

func TestConvertPageExcludeAttachments(t *testing.T) {
	c := testConverter(Options{ExcludeAttachments: true})
	res, err := c.ConvertPage(samplePage(), paths.OutputPath{File: "Readme.md"}, nil)
	require.NoError(t, err)

	assert.NotContains(t, res.Markdown, "## Attachments")
	assert.Empty(t, res.Files)
}

func TestConvertPageExcludeImages(t *testing.T) {
	c := testConverter(Options{ExcludeImages: true})
	res, err := c.ConvertPage(samplePage(), paths.OutputPath{File: "Readme.md"}, nil)
	require.NoError(t, err)

	assert.NotContains(t, res.Markdown, "![")
	// Only the PDF remains in the manifest.
	require.Len(t, res.Files, 1)
	assert.Equal(t, "document.pdf", res.Files[0].Filename)
}

func TestConvertPageVideoInImageMarkup(t *testing.T) {
	page := &models.PageExport{
		ID:       "2",
		BodyHTML: `<p>Watch this: <img src="/download/attachments/2/intro.mp4" alt="Intro"/></p>`,
		Attachments: []models.Attachment{
			{Filename: "intro.mp4", MediaType: "video/mp4"},
		},
	}

	c := testConverter(Options{})
	res, err := c.ConvertPage(page, paths.OutputPath{File: "Readme.md"}, nil)
	require.NoError(t, err)

	assert.NotContains(t, res.Markdown, "![Intro]")
	assert.Contains(t, res.Markdown, "- [intro.mp4](intro.mp4)")
}

func TestConvertPageAttachmentLinksEncoded(t *testing.T) {
	page := &models.PageExport{
		ID:       "3",
		BodyHTML: "<p>x</p>",
		Attachments: []models.Attachment{
			{Filename: "Project Plan.xlsx", MediaType: "application/vnd.ms-excel"},
		},
	}

	c := testConverter(Options{})
	res, err := c.ConvertPage(page, paths.OutputPath{File: "Readme.md"}, nil)
	require.NoError(t, err)

	// Link label keeps the real filename; only the target is encoded.
	assert.Contains(t, res.Markdown, "- [Project Plan.xlsx](Project%20Plan.xlsx)")
	require.Len(t, res.Files, 1)
	assert.Equal(t, "Project Plan.xlsx", res.Files[0].Filename)
}

func TestConvertPageAbsoluteAttachmentLinks(t *testing.T) {
	page := &models.PageExport{
		ID:       "4",
		BodyHTML: "<p>x</p>",
		Attachments: []models.Attachment{
			{Filename: "handbook.pdf", MediaType: "application/pdf"},
		},
	}

	c := testConverter(Options{LinkStyle: LinkAbsolute, AttachmentBase: "/Collectives/Docs"})
	res, err := c.ConvertPage(page, paths.OutputPath{File: "Guides/Setup.md", Dir: "Guides"}, nil)
	require.NoError(t, err)

	assert.Contains(t, res.Markdown, "- [handbook.pdf](/Collectives/Docs/Guides/handbook.pdf)")
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2024-01-15T10:30:00.000Z", "2024-01-15 10:30:00"},
		{"2024-01-15T10:30:00Z", "2024-01-15 10:30:00"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := formatTimestamp(tt.in); got != tt.want {
			t.Errorf("formatTimestamp(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
