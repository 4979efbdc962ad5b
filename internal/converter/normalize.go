package converter

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/confmove/confmove/internal/models"
)

// Normalize repairs a raw Confluence export_view body and maps it onto
// the tagged node tree. Malformed or unrecognized fragments degrade to
// plain text with a diagnostic; only an unparseable document is an error.
func (c *Converter) Normalize(body string, attachments []models.Attachment) (*Node, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	c.removeAttachmentWidget(doc)
	c.repairTableCells(doc)
	c.expandColspans(doc)

	byName := make(map[string]models.Attachment, len(attachments))
	for _, a := range attachments {
		byName[a.Filename] = a
	}

	n := &normalizer{c: c, attachments: byName}

	root := &Node{Kind: KindDocument}
	bodySel := doc.Find("body")
	if len(bodySel.Nodes) == 0 {
		return root, nil
	}
	root.Children = n.walkChildren(bodySel.Nodes[0])
	return root, nil
}

// removeAttachmentWidget drops Confluence's own attachment-management
// container, along with a directly preceding "Attachments" heading.
// The converter generates its own attachment section instead.
func (c *Converter) removeAttachmentWidget(doc *goquery.Document) {
	doc.Find("div.plugin_attachments_container").Each(func(_ int, s *goquery.Selection) {
		el := s.Nodes[0]
		prev := el.PrevSibling
		for prev != nil && prev.Type == html.TextNode && strings.TrimSpace(prev.Data) == "" {
			prev = prev.PrevSibling
		}
		if prev != nil && prev.Type == html.ElementNode && isHeadingTag(prev.Data) {
			if strings.Contains(strings.ToLower(textContent(prev)), "attachment") {
				prev.Parent.RemoveChild(prev)
			}
		}
		s.Remove()
	})
}

// repairTableCells demotes block elements inside th/td to inline
// equivalents so row boundaries survive rendering: headings become
// bold runs, lists collapse to comma-joined text, and cells holding
// several blocks are flattened to a single text run in DOM order.
func (c *Converter) repairTableCells(doc *goquery.Document) {
	doc.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
		cell.Find("h1, h2, h3, h4, h5, h6").Each(func(_ int, h *goquery.Selection) {
			strong := element("strong")
			strong.AppendChild(textNode(textContent(h.Nodes[0])))
			replaceNode(h.Nodes[0], strong)
		})

		cell.Find("ul, ol").Each(func(_ int, lst *goquery.Selection) {
			var items []string
			lst.Find("li").Each(func(_ int, li *goquery.Selection) {
				if t := strings.TrimSpace(textContent(li.Nodes[0])); t != "" {
					items = append(items, t)
				}
			})
			replaceNode(lst.Nodes[0], textNode(strings.Join(items, ", ")))
		})

		blocks := cell.ChildrenFiltered("p")
		switch {
		case blocks.Length() == 1 && cell.ChildrenFiltered("br").Length() == 0:
			unwrapNode(blocks.Nodes[0])
		case blocks.Length() > 1:
			var parts []string
			for child := cell.Nodes[0].FirstChild; child != nil; child = child.NextSibling {
				if t := strings.TrimSpace(textContent(child)); t != "" {
					parts = append(parts, t)
				}
			}
			removeChildren(cell.Nodes[0])
			cell.Nodes[0].AppendChild(textNode(strings.Join(parts, " — ")))
		}
	})
}

// expandColspans widens spanning cells so every row in a table carries
// the same column count. Header text is duplicated across the covered
// columns; spanning data cells are padded with blanks.
func (c *Converter) expandColspans(doc *goquery.Document) {
	doc.Find("th[colspan], td[colspan]").Each(func(_ int, s *goquery.Selection) {
		el := s.Nodes[0]
		span, err := strconv.Atoi(getAttr(el, "colspan"))
		removeAttr(el, "colspan")
		if err != nil || span <= 1 {
			return
		}
		for i := 1; i < span; i++ {
			extra := element(el.Data)
			if el.Data == "th" {
				extra.AppendChild(textNode(textContent(el)))
			}
			insertAfter(el, extra)
		}
	})
}

// normalizer carries per-document context through the DOM walk.
type normalizer struct {
	c           *Converter
	attachments map[string]models.Attachment
}

func (n *normalizer) walkChildren(el *html.Node) []*Node {
	var out []*Node
	for ch := el.FirstChild; ch != nil; ch = ch.NextSibling {
		out = append(out, n.walkNode(ch)...)
	}
	return out
}

func (n *normalizer) walkNode(el *html.Node) []*Node {
	switch el.Type {
	case html.TextNode:
		collapsed := collapseSpace(el.Data)
		if strings.TrimSpace(collapsed) == "" {
			// Keep a separating space only between two inline siblings.
			if isInlineElement(el.PrevSibling) && isInlineElement(el.NextSibling) {
				return []*Node{text(" ")}
			}
			return nil
		}
		return []*Node{text(collapsed)}
	case html.ElementNode:
		return n.walkElement(el)
	default:
		return nil
	}
}

func (n *normalizer) walkElement(el *html.Node) []*Node {
	tag := el.Data
	switch tag {
	case "h1", "h2", "h3", "h4", "h5", "h6":
		return []*Node{{Kind: KindHeading, Level: int(tag[1] - '0'), Children: n.walkChildren(el)}}

	case "p":
		kids := n.walkChildren(el)
		if len(kids) == 0 {
			return nil
		}
		return []*Node{{Kind: KindParagraph, Children: kids}}

	case "strong", "b":
		return []*Node{{Kind: KindStrong, Children: n.walkChildren(el)}}

	case "em", "i":
		return []*Node{{Kind: KindEmphasis, Children: n.walkChildren(el)}}

	case "code":
		return []*Node{{Kind: KindCode, Text: textContent(el)}}

	case "pre":
		lang := ""
		if code := findChild(el, "code"); code != nil {
			lang = languageFromClass(getAttr(code, "class"))
		}
		return []*Node{{Kind: KindCodeBlock, Text: strings.TrimRight(textContent(el), "\n"), Lang: lang}}

	case "a":
		if hasClass(el, "confluence-userlink") {
			display := strings.TrimSpace(textContent(el))
			if display == "" {
				return nil
			}
			return []*Node{{Kind: KindMention, Text: display}}
		}
		href := getAttr(el, "href")
		return []*Node{{Kind: KindLink, Target: href, Children: n.walkChildren(el)}}

	case "img":
		return n.walkImage(el)

	case "ul", "ol":
		return []*Node{n.walkList(el)}

	case "table":
		return []*Node{n.walkTable(el)}

	case "blockquote":
		return []*Node{{Kind: KindBlockquote, Children: n.walkChildren(el)}}

	case "div":
		return n.walkDiv(el)

	case "ac:structured-macro":
		name := getAttr(el, "ac:name")
		if name == "" {
			name = "unknown"
		}
		return []*Node{{Kind: KindMacro, Text: name}}

	case "br":
		return []*Node{{Kind: KindHardBreak}}

	case "hr":
		return []*Node{{Kind: KindRule}}

	case "span", "section", "article", "main", "font", "center", "u", "s", "del", "sub", "sup", "html", "body", "header", "footer":
		return n.walkChildren(el)

	case "script", "style", "head", "title", "meta", "link", "iframe":
		return nil

	default:
		// Best-effort pass-through: keep the text, note the fragment.
		t := strings.TrimSpace(textContent(el))
		n.c.logger.Debug("unrecognized element, keeping text content", "tag", tag)
		if t == "" {
			return nil
		}
		return []*Node{text(collapseSpace(t))}
	}
}

// walkImage resolves an image tag against the attachment list. Only
// references whose attachment declares an image MIME type stay inline;
// anything else (video or audio wrapped in image markup) is dropped
// here and surfaces in the generated attachment section instead.
func (n *normalizer) walkImage(el *html.Node) []*Node {
	if n.c.opts.ExcludeImages {
		return nil
	}

	src := getAttr(el, "src")
	alt := getAttr(el, "alt")

	if strings.HasPrefix(src, "data:") {
		return []*Node{{Kind: KindImage, Target: src, Alt: alt}}
	}

	if strings.Contains(src, "/attachments/") || strings.Contains(src, "/attachment/") {
		filename := attachmentFilename(src)
		if att, ok := n.attachments[filename]; ok && !att.IsImage() {
			n.c.logger.Debug("reclassified image tag as file attachment",
				"filename", filename, "media_type", att.MediaType)
			return nil
		}
		return []*Node{{Kind: KindImage, Target: filename, Alt: alt}}
	}

	return []*Node{{Kind: KindImage, Target: src, Alt: alt}}
}

func (n *normalizer) walkList(el *html.Node) *Node {
	list := &Node{Kind: KindList, Ordered: el.Data == "ol"}
	for ch := el.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type == html.ElementNode && ch.Data == "li" {
			list.Children = append(list.Children, &Node{Kind: KindListItem, Children: n.walkChildren(ch)})
		}
	}
	return list
}

func (n *normalizer) walkTable(el *html.Node) *Node {
	table := &Node{Kind: KindTable}

	var collectRows func(node *html.Node)
	collectRows = func(node *html.Node) {
		for ch := node.FirstChild; ch != nil; ch = ch.NextSibling {
			if ch.Type != html.ElementNode {
				continue
			}
			switch ch.Data {
			case "tr":
				table.Children = append(table.Children, n.walkRow(ch))
			case "thead", "tbody", "tfoot":
				collectRows(ch)
			}
		}
	}
	collectRows(el)
	return table
}

func (n *normalizer) walkRow(el *html.Node) *Node {
	row := &Node{Kind: KindTableRow}
	for ch := el.FirstChild; ch != nil; ch = ch.NextSibling {
		if ch.Type == html.ElementNode && (ch.Data == "th" || ch.Data == "td") {
			row.Children = append(row.Children, &Node{
				Kind:     KindTableCell,
				Header:   ch.Data == "th",
				Children: n.walkChildren(ch),
			})
		}
	}
	return row
}

func (n *normalizer) walkDiv(el *html.Node) []*Node {
	class := getAttr(el, "class")

	if strings.Contains(class, "confluence-information-macro") {
		return []*Node{n.walkPanel(el, class)}
	}

	if strings.Contains(class, "code-block") {
		node := &Node{Kind: KindCodeBlock, Lang: getAttr(el, "data-language")}
		if pre := findDescendant(el, "pre"); pre != nil {
			node.Text = strings.TrimRight(textContent(pre), "\n")
		} else {
			node.Text = strings.TrimSpace(textContent(el))
		}
		return []*Node{node}
	}

	if name := getAttr(el, "data-macro-name"); name != "" {
		return []*Node{{Kind: KindMacro, Text: name}}
	}

	return n.walkChildren(el)
}

// walkPanel maps an admonition panel onto a labeled blockquote.
func (n *normalizer) walkPanel(el *html.Node, class string) *Node {
	label := "Note"
	for _, cls := range strings.Fields(class) {
		switch {
		case strings.Contains(cls, "note"):
			label = "Note"
		case strings.Contains(cls, "warning"):
			label = "Warning"
		case strings.Contains(cls, "tip"):
			label = "Tip"
		case strings.Contains(cls, "info"):
			label = "Info"
		}
	}

	body := el
	if b := findDescendantByClass(el, "confluence-information-macro-body"); b != nil {
		body = b
	}

	return &Node{Kind: KindBlockquote, Label: label, Children: n.walkChildren(body)}
}

// attachmentFilename extracts the decoded filename from an attachment URL.
func attachmentFilename(src string) string {
	trimmed := src
	if i := strings.IndexByte(trimmed, '?'); i >= 0 {
		trimmed = trimmed[:i]
	}
	last := trimmed
	if i := strings.LastIndexByte(trimmed, '/'); i >= 0 {
		last = trimmed[i+1:]
	}
	if decoded, err := url.QueryUnescape(last); err == nil {
		return decoded
	}
	return last
}
