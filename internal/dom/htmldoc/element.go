package htmldoc

import (
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kernel/chatbridge/internal/dom"
)

// Element is a node of a Document.
type Element struct {
	doc  *Document
	node *html.Node
}

var _ dom.Element = (*Element)(nil)

// Tag returns the lower-case tag name.
func (e *Element) Tag() string {
	return e.node.Data
}

// Text returns the rendered text, with block elements on their own lines.
func (e *Element) Text() string {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.node.DataAtom == atom.Input {
		v, _ := attr(e.node, "value")
		return v
	}
	return dom.NormalizeText(textOf(e.node))
}

// Attr returns the value of an attribute.
func (e *Element) Attr(name string) (string, bool) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return attr(e.node, name)
}

// Matches reports whether the element itself matches selector.
func (e *Element) Matches(selector string) (bool, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	sel, err := e.doc.compile(selector)
	if err != nil {
		return false, err
	}
	return sel.Match(e.node), nil
}

// QuerySelector returns the first matching descendant.
func (e *Element) QuerySelector(selector string) (dom.Element, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.queryFirst(e.node, selector)
}

// QuerySelectorAll returns every matching descendant.
func (e *Element) QuerySelectorAll(selector string) ([]dom.Element, error) {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	return e.doc.queryAll(e.node, selector)
}

// SetContent sets the value attribute of inputs and replaces the children of anything
// else (textarea, contenteditable) with a single text node.
func (e *Element) SetContent(text string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	if e.node.DataAtom == atom.Input {
		setAttr(e.node, "value", text)
		return nil
	}
	for c := e.node.FirstChild; c != nil; {
		next := c.NextSibling
		e.node.RemoveChild(c)
		c = next
	}
	e.node.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return nil
}

// Dispatch records a synthetic event on the element.
func (e *Element) Dispatch(eventType string) error {
	e.doc.mu.Lock()
	defer e.doc.mu.Unlock()
	e.doc.events[e.node] = append(e.doc.events[e.node], eventType)
	return nil
}

func attr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func setAttr(n *html.Node, name, val string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: val})
}

var blockAtoms = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Blockquote: true, atom.Br: true,
	atom.Div: true, atom.Footer: true, atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true, atom.Header: true, atom.Li: true,
	atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true, atom.Table: true,
	atom.Tr: true, atom.Ul: true,
}

func textOf(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Template, atom.Noscript:
				return
			}
		}
		block := n.Type == html.ElementNode && blockAtoms[n.DataAtom]
		if block {
			b.WriteByte('\n')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if block {
			b.WriteByte('\n')
		}
	}
	walk(n)
	return b.String()
}
