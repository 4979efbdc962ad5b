// Package converter turns Confluence export HTML into Markdown.
//
// Conversion runs in two stages: Normalize repairs the raw DOM and maps
// it onto a closed set of tagged nodes, then Render walks the node tree
// through a dispatch table and emits Markdown text. The converter does
// no I/O; callers place the returned attachment manifest on disk.
package converter

// Kind identifies a node variant. The set is closed: every DOM shape
// the normalizer understands maps onto one of these, and everything
// else degrades to KindText.
type Kind int

const (
	KindDocument Kind = iota
	KindText
	KindHeading
	KindParagraph
	KindStrong
	KindEmphasis
	KindCode
	KindCodeBlock
	KindLink
	KindImage
	KindList
	KindListItem
	KindTable
	KindTableRow
	KindTableCell
	KindBlockquote
	KindMacro
	KindMention
	KindHardBreak
	KindRule
)

// Node is one element of the normalized tree. Field use depends on
// Kind: Text carries text content, macro names, mention display names,
// and code; Target carries link hrefs and image sources.
type Node struct {
	Kind     Kind
	Text     string
	Level    int    // heading level 1-6
	Target   string // link href or image src
	Alt      string // image alt text
	Lang     string // code block language hint
	Ordered  bool   // ordered vs unordered list
	Label    string // admonition panel label ("Info", "Warning", ...)
	Header   bool   // table cell belongs to the header row
	Children []*Node
}

func text(s string) *Node { return &Node{Kind: KindText, Text: s} }

// plainText flattens a subtree to its raw text content.
func (n *Node) plainText() string {
	if n.Kind == KindText {
		return n.Text
	}
	if n.Kind == KindMention {
		return "@" + n.Text
	}
	var out string
	for _, c := range n.Children {
		out += c.plainText()
	}
	return out
}
