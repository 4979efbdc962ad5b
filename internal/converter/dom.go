package converter

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var spaceRE = regexp.MustCompile(`\s+`)

func collapseSpace(s string) string {
	return spaceRE.ReplaceAllString(s, " ")
}

func isHeadingTag(tag string) bool {
	return len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6'
}

var inlineTags = map[string]bool{
	"a": true, "strong": true, "b": true, "em": true, "i": true,
	"code": true, "span": true, "img": true, "u": true, "s": true,
	"del": true, "sub": true, "sup": true,
}

func isInlineElement(n *html.Node) bool {
	return n != nil && n.Type == html.ElementNode && inlineTags[n.Data]
}

// textContent flattens a subtree to its raw text.
func textContent(n *html.Node) string {
	if n == nil {
		return ""
	}
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func getAttr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func removeAttr(n *html.Node, key string) {
	for i, a := range n.Attr {
		if a.Key == key {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return
		}
	}
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(getAttr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func element(tag string) *html.Node {
	return &html.Node{Type: html.ElementNode, Data: tag}
}

func textNode(s string) *html.Node {
	return &html.Node{Type: html.TextNode, Data: s}
}

// replaceNode swaps old for repl in old's parent.
func replaceNode(old, repl *html.Node) {
	parent := old.Parent
	if parent == nil {
		return
	}
	parent.InsertBefore(repl, old)
	parent.RemoveChild(old)
}

// unwrapNode lifts a node's children into its place.
func unwrapNode(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
		c = next
	}
	parent.RemoveChild(n)
}

func removeChildren(n *html.Node) {
	for n.FirstChild != nil {
		n.RemoveChild(n.FirstChild)
	}
}

func insertAfter(ref, newNode *html.Node) {
	parent := ref.Parent
	if parent == nil {
		return
	}
	if ref.NextSibling != nil {
		parent.InsertBefore(newNode, ref.NextSibling)
	} else {
		parent.AppendChild(newNode)
	}
}

func findChild(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
	}
	return nil
}

func findDescendant(n *html.Node, tag string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == tag {
			return c
		}
		if found := findDescendant(c, tag); found != nil {
			return found
		}
	}
	return nil
}

func findDescendantByClass(n *html.Node, class string) *html.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && hasClass(c, class) {
			return c
		}
		if found := findDescendantByClass(c, class); found != nil {
			return found
		}
	}
	return nil
}

// languageFromClass pulls the language hint out of a "language-x" class.
func languageFromClass(class string) string {
	for _, c := range strings.Fields(class) {
		if lang, ok := strings.CutPrefix(c, "language-"); ok {
			return lang
		}
	}
	return ""
}
