// Package cleaner turns raw HTML into normalized readable text.
package cleaner

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Elements whose subtrees never carry page content.
var dropped = map[atom.Atom]bool{
	atom.Script:   true,
	atom.Style:    true,
	atom.Nav:      true,
	atom.Footer:   true,
	atom.Header:   true,
	atom.Noscript: true,
	atom.Template: true,
	atom.Iframe:   true,
	atom.Svg:      true,
	atom.Object:   true,
	atom.Embed:    true,
}

// Clean extracts the visible text of a page. Navigation, header, footer, script
// and style subtrees are removed; text is taken from <body> when present and the
// whole document otherwise; whitespace runs collapse to one space.
func Clean(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return collapse(rawHTML)
	}

	root := doc
	if body := find(doc, atom.Body); body != nil {
		root = body
	}

	var parts []string
	collectText(root, &parts)
	return collapse(strings.Join(parts, " "))
}

// Title returns the trimmed <title> text, or "" when the page has none.
func Title(rawHTML string) string {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return ""
	}
	t := find(doc, atom.Title)
	if t == nil {
		return ""
	}
	var parts []string
	for c := t.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			parts = append(parts, c.Data)
		}
	}
	return collapse(strings.Join(parts, " "))
}

func collectText(n *html.Node, parts *[]string) {
	switch n.Type {
	case html.TextNode:
		*parts = append(*parts, n.Data)
		return
	case html.CommentNode, html.DoctypeNode:
		return
	case html.ElementNode:
		if dropped[n.DataAtom] {
			return
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, parts)
	}
}

func find(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := find(c, a); found != nil {
			return found
		}
	}
	return nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
