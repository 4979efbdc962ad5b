package converter

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/confmove/confmove/internal/models"
	"github.com/confmove/confmove/internal/paths"
)

// Options configures a Converter. The toggles mirror the CLI flags:
// ExcludeImages drops inline images from output and manifest,
// ExcludeAttachments drops the attachment section and manifest entirely.
type Options struct {
	ExcludeImages      bool
	ExcludeAttachments bool

	// BaseURL is the source platform root, used to absolutize links to
	// pages outside the migration scope.
	BaseURL string

	// LinkStyle and AttachmentBase fix attachment link addressing for
	// the target integration.
	LinkStyle      LinkStyle
	AttachmentBase string
}

// Converter renders exported pages to Markdown. It holds no per-page
// state and performs no I/O.
type Converter struct {
	opts   Options
	logger *slog.Logger
}

// New creates a Converter. A nil logger falls back to slog.Default.
func New(opts Options, logger *slog.Logger) *Converter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Converter{opts: opts, logger: logger}
}

// Result is the output of converting one page: the Markdown text plus
// the manifest of attachment files to place alongside it.
type Result struct {
	Markdown string
	Files    []models.Attachment
}

// ConvertPage converts a full page: body, then an Attachments section
// for non-image files, then a Comments section. self and tree come from
// the path resolver and drive reference rewriting.
func (c *Converter) ConvertPage(page *models.PageExport, self paths.OutputPath, tree map[string]paths.OutputPath) (*Result, error) {
	root, err := c.Normalize(page.BodyHTML, page.Attachments)
	if err != nil {
		return nil, fmt.Errorf("normalize page %s: %w", page.ID, err)
	}

	ctx := RenderContext{
		Self:           self,
		Tree:           tree,
		BaseURL:        c.opts.BaseURL,
		LinkStyle:      c.opts.LinkStyle,
		AttachmentBase: c.opts.AttachmentBase,
	}

	md := Render(root, ctx)

	if section := c.attachmentSection(page.Attachments, self); section != "" {
		md += "\n\n" + section
	}
	if section := c.formatComments(page.Comments, ctx); section != "" {
		md += "\n\n" + section
	}

	return &Result{Markdown: md, Files: c.manifest(page.Attachments)}, nil
}

// formatComments renders the flat comment list as a "## Comments"
// section, chronological, each entry headed by author and timestamp.
// Each comment body is converted independently; a body that fails to
// normalize degrades to a diagnostic, not a page failure.
func (c *Converter) formatComments(comments []models.Comment, ctx RenderContext) string {
	if len(comments) == 0 {
		return ""
	}

	parts := []string{"## Comments"}
	for _, cm := range comments {
		author := cm.Author
		if author == "" {
			author = "Unknown"
		}
		parts = append(parts, "### "+author+" — "+formatTimestamp(cm.CreatedAt))

		root, err := c.Normalize(cm.BodyHTML, nil)
		if err != nil {
			c.logger.Warn("comment body failed to normalize, skipping", "author", author, "error", err)
			continue
		}
		if body := Render(root, ctx); body != "" {
			parts = append(parts, body)
		}
	}
	return strings.Join(parts, "\n\n")
}

// attachmentSection lists non-image attachments as links, in source
// order. Inline images are referenced from the body and never listed.
func (c *Converter) attachmentSection(attachments []models.Attachment, self paths.OutputPath) string {
	if c.opts.ExcludeAttachments {
		return ""
	}

	var lines []string
	for _, a := range attachments {
		if a.IsImage() {
			continue
		}
		lines = append(lines, "- ["+a.Filename+"]("+c.attachmentLink(a.Filename, self)+")")
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Attachments\n\n" + strings.Join(lines, "\n")
}

// attachmentLink builds the link target for one attachment file, which
// sits in the same directory as the owning document.
func (c *Converter) attachmentLink(filename string, self paths.OutputPath) string {
	if c.opts.LinkStyle == LinkAbsolute && c.opts.AttachmentBase != "" {
		full := strings.TrimSuffix(c.opts.AttachmentBase, "/")
		if self.Dir != "" {
			full += "/" + self.Dir
		}
		return encodeTarget(full + "/" + filename)
	}
	return encodeTarget(filename)
}

// manifest lists the attachment files the caller must place alongside
// the rendered document, honoring the exclusion toggles.
func (c *Converter) manifest(attachments []models.Attachment) []models.Attachment {
	if c.opts.ExcludeAttachments {
		return nil
	}
	var files []models.Attachment
	for _, a := range attachments {
		if c.opts.ExcludeImages && a.IsImage() {
			continue
		}
		files = append(files, a)
	}
	return files
}

// formatTimestamp turns an ISO timestamp into "YYYY-MM-DD HH:MM:SS".
func formatTimestamp(ts string) string {
	s := strings.ReplaceAll(ts, "T", " ")
	if i := strings.IndexByte(s, '.'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, "Z")
}
