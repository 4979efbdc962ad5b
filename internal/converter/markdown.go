package converter

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/confmove/confmove/internal/paths"
)

// LinkStyle selects how attachment links are addressed. The choice is
// fixed per target-platform integration: Collectives resolves relative
// paths unambiguously, so relative is the default; absolute prefixes
// every target with a base path for targets whose relative links clash
// with their own page-linking syntax.
type LinkStyle int

const (
	LinkRelative LinkStyle = iota
	LinkAbsolute
)

// RenderContext positions one document inside the migration scope so
// reference targets can be computed.
type RenderContext struct {
	// Self is the document's own resolved output location.
	Self paths.OutputPath
	// Tree maps in-scope page IDs to their output locations.
	Tree map[string]paths.OutputPath
	// BaseURL is the source platform root for out-of-scope links.
	BaseURL string
	// LinkStyle and AttachmentBase control attachment link addressing.
	LinkStyle      LinkStyle
	AttachmentBase string
}

type renderer struct {
	ctx RenderContext
}

type renderFunc func(r *renderer, n *Node) string

// dispatch maps each block node kind to its renderer. Populated in
// init to avoid an initialization cycle with the list/table renderers.
var dispatch map[Kind]renderFunc

func init() {
	dispatch = map[Kind]renderFunc{
		KindHeading:    renderHeading,
		KindParagraph:  renderParagraph,
		KindCodeBlock:  renderCodeBlock,
		KindList:       renderList,
		KindTable:      renderTable,
		KindBlockquote: renderBlockquote,
		KindMacro:      renderMacro,
		KindRule:       renderRule,
	}
}

// Render emits Markdown for a normalized tree.
func Render(root *Node, ctx RenderContext) string {
	r := &renderer{ctx: ctx}
	return strings.TrimSpace(r.blocks(root.Children))
}

func isBlockKind(k Kind) bool {
	_, ok := dispatch[k]
	return ok
}

// blocks renders a node list, grouping runs of loose inline nodes into
// implicit paragraphs, and joins the results with blank lines.
func (r *renderer) blocks(nodes []*Node) string {
	var parts []string
	var run []*Node

	flush := func() {
		if len(run) == 0 {
			return
		}
		if s := strings.TrimSpace(r.inline(run)); s != "" {
			parts = append(parts, s)
		}
		run = nil
	}

	for _, n := range nodes {
		if isBlockKind(n.Kind) {
			flush()
			if s := dispatch[n.Kind](r, n); s != "" {
				parts = append(parts, s)
			}
		} else {
			run = append(run, n)
		}
	}
	flush()

	return strings.Join(parts, "\n\n")
}

func renderHeading(r *renderer, n *Node) string {
	level := n.Level
	if level < 1 {
		level = 1
	}
	if level > 6 {
		level = 6
	}
	return strings.Repeat("#", level) + " " + strings.TrimSpace(r.inline(n.Children))
}

func renderParagraph(r *renderer, n *Node) string {
	return strings.TrimSpace(r.inline(n.Children))
}

func renderCodeBlock(_ *renderer, n *Node) string {
	return "```" + n.Lang + "\n" + n.Text + "\n```"
}

func renderRule(_ *renderer, _ *Node) string {
	return "---"
}

func renderMacro(_ *renderer, n *Node) string {
	return "<!-- Unsupported macro: " + n.Text + " -->"
}

func renderBlockquote(r *renderer, n *Node) string {
	content := r.blocks(n.Children)
	if n.Label != "" {
		content = "**" + n.Label + ":** " + content
	}
	var out []string
	for _, line := range strings.Split(content, "\n") {
		out = append(out, strings.TrimRight("> "+line, " "))
	}
	return strings.Join(out, "\n")
}

func renderList(r *renderer, n *Node) string {
	return r.list(n, 0)
}

func (r *renderer) list(n *Node, depth int) string {
	indent := strings.Repeat("  ", depth)
	var lines []string
	num := 0

	for _, item := range n.Children {
		num++
		marker := "- "
		if n.Ordered {
			marker = fmt.Sprintf("%d. ", num)
		}

		var inlineRun []*Node
		var nested []string
		for _, c := range item.Children {
			switch {
			case c.Kind == KindList:
				nested = append(nested, r.list(c, depth+1))
			case isBlockKind(c.Kind):
				if s := dispatch[c.Kind](r, c); s != "" {
					nested = append(nested, indentLines(s, indent+"  "))
				}
			default:
				inlineRun = append(inlineRun, c)
			}
		}

		lines = append(lines, indent+marker+strings.TrimSpace(r.inline(inlineRun)))
		lines = append(lines, nested...)
	}

	return strings.Join(lines, "\n")
}

func indentLines(s, indent string) string {
	parts := strings.Split(s, "\n")
	for i, p := range parts {
		parts[i] = indent + p
	}
	return strings.Join(parts, "\n")
}

func renderTable(r *renderer, n *Node) string {
	if len(n.Children) == 0 {
		return ""
	}

	var rows [][]string
	for _, row := range n.Children {
		var cells []string
		for _, cell := range row.Children {
			cells = append(cells, r.cellText(cell))
		}
		rows = append(rows, cells)
	}

	cols := len(rows[0])
	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for _, c := range cells {
			b.WriteString(" " + c + " |")
		}
		b.WriteString("\n")
	}

	writeRow(rows[0])
	sep := make([]string, cols)
	for i := range sep {
		sep[i] = "---"
	}
	writeRow(sep)
	for _, row := range rows[1:] {
		writeRow(row)
	}

	return strings.TrimRight(b.String(), "\n")
}

// cellText renders a table cell as a single line: newlines collapse to
// spaces and pipes are escaped so row structure survives.
func (r *renderer) cellText(cell *Node) string {
	s := strings.TrimSpace(r.inline(cell.Children))
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "|", `\|`)
	return s
}

// inline renders a run of inline nodes. Block nodes that slipped into
// inline position are rendered as their flattened text.
func (r *renderer) inline(nodes []*Node) string {
	var b strings.Builder
	for _, n := range nodes {
		switch n.Kind {
		case KindText:
			b.WriteString(n.Text)
		case KindStrong:
			b.WriteString("**" + strings.TrimSpace(r.inline(n.Children)) + "**")
		case KindEmphasis:
			b.WriteString("*" + strings.TrimSpace(r.inline(n.Children)) + "*")
		case KindCode:
			b.WriteString("`" + n.Text + "`")
		case KindMention:
			b.WriteString("@" + n.Text)
		case KindHardBreak:
			b.WriteString("\n")
		case KindLink:
			label := strings.TrimSpace(r.inline(n.Children))
			if label == "" {
				label = n.Target
			}
			b.WriteString("[" + label + "](" + r.linkTarget(n.Target) + ")")
		case KindImage:
			b.WriteString("![" + n.Alt + "](" + encodeTarget(n.Target) + ")")
		default:
			b.WriteString(n.plainText())
		}
	}
	return b.String()
}

var (
	spacesLinkRE = regexp.MustCompile(`/wiki/spaces/[^/]+/pages/(\d+)`)
	pageIDRE     = regexp.MustCompile(`[?&]pageId=(\d+)`)
)

// linkTarget rewrites internal cross-document links to relative paths
// when the target page is in scope. In-scope means present in the
// resolved output tree; everything else keeps an absolute source URL.
func (r *renderer) linkTarget(href string) string {
	pageID := r.resolvePageID(href)
	if pageID != "" {
		if target, ok := r.ctx.Tree[pageID]; ok {
			return encodeTarget(relPath(r.ctx.Self.Dir, target.File))
		}
	}

	// Internal-looking links to out-of-scope pages become absolute.
	if r.ctx.BaseURL != "" && strings.HasPrefix(href, "/wiki/") {
		return r.ctx.BaseURL + href
	}
	return href
}

func (r *renderer) resolvePageID(href string) string {
	h := href
	if strings.Contains(h, "://") {
		if r.ctx.BaseURL == "" || !strings.HasPrefix(h, r.ctx.BaseURL) {
			return ""
		}
	}
	if m := spacesLinkRE.FindStringSubmatch(h); m != nil {
		return m[1]
	}
	if m := pageIDRE.FindStringSubmatch(h); m != nil {
		return m[1]
	}
	return ""
}

// relPath computes the relative path from a directory to a file, both
// relative to the space root.
func relPath(fromDir, toFile string) string {
	if fromDir == "" {
		return toFile
	}
	from := strings.Split(fromDir, "/")
	to := strings.Split(toFile, "/")

	common := 0
	for common < len(from) && common < len(to)-1 && from[common] == to[common] {
		common++
	}

	var parts []string
	for i := common; i < len(from); i++ {
		parts = append(parts, "..")
	}
	parts = append(parts, to[common:]...)
	return strings.Join(parts, "/")
}

// encodeTarget percent-encodes a link target. Only the link string is
// encoded; on-disk filenames keep their original characters. Absolute
// URLs and data URIs pass through untouched.
func encodeTarget(target string) string {
	if strings.Contains(target, "://") || strings.HasPrefix(target, "data:") {
		return target
	}
	u := url.URL{Path: target}
	return u.EscapedPath()
}
