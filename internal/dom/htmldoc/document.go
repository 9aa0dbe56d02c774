// Package htmldoc is an in-memory dom.Document parsed from saved chat page HTML.
// It supports the same reads and writes as a live tab, records dispatched events,
// and reports appended fragments to mutation observers.
package htmldoc

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kernel/chatbridge/internal/dom"
)

// Document is a parsed page. It is safe for concurrent use.
type Document struct {
	mu           sync.Mutex
	root         *html.Node
	url          string
	readyState   string
	events       map[*html.Node][]string
	history      []string
	observers    map[int]*observer
	popListeners map[int]func(string)
	nextObsID    int
	selectors    map[string]cascadia.SelectorGroup
}

type observer struct {
	root *html.Node
	fn   func(added []dom.Element)
}

// Parse reads an HTML page served at pageURL. The ready state starts as complete.
func Parse(r io.Reader, pageURL string) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}
	return &Document{
		root:       root,
		url:        pageURL,
		readyState: dom.ReadyStateComplete,
		events:     make(map[*html.Node][]string),
		observers:  make(map[int]*observer),
		selectors:  make(map[string]cascadia.SelectorGroup),
	}, nil
}

// ParseString is Parse over a string.
func ParseString(s, pageURL string) (*Document, error) {
	return Parse(strings.NewReader(s), pageURL)
}

// URL returns the current page location.
func (d *Document) URL() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.url
}

// SetURL changes the location without touching the tree, like an in-page navigation.
func (d *Document) SetURL(u string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = u
}

// ReadyState returns the simulated document.readyState.
func (d *Document) ReadyState() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.readyState
}

// SetReadyState overrides the simulated document.readyState.
func (d *Document) SetReadyState(state string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.readyState = state
}

// Title returns the text of the <title> element.
func (d *Document) Title() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findFirst(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Title
	})
	if n == nil {
		return ""
	}
	return dom.NormalizeText(textOf(n))
}

// Body returns the <body> element.
func (d *Document) Body() dom.Element {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := findFirst(d.root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
	if n == nil {
		return nil
	}
	return d.wrap(n)
}

// QuerySelector returns the first element matching selector.
func (d *Document) QuerySelector(selector string) (dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queryFirst(d.root, selector)
}

// QuerySelectorAll returns every element matching selector.
func (d *Document) QuerySelectorAll(selector string) ([]dom.Element, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.queryAll(d.root, selector)
}

// Events returns the synthetic events dispatched on el, oldest first.
func (d *Document) Events(el dom.Element) []string {
	e, ok := el.(*Element)
	if !ok {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.events[e.node]...)
}

// HTML renders the current tree.
func (d *Document) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	_ = html.Render(&b, d.root)
	return b.String()
}

func (d *Document) compile(selector string) (cascadia.SelectorGroup, error) {
	if sel, ok := d.selectors[selector]; ok {
		return sel, nil
	}
	sel, err := cascadia.ParseGroup(selector)
	if err != nil {
		return nil, dom.InvalidSelector(selector, err)
	}
	d.selectors[selector] = sel
	return sel, nil
}

func (d *Document) queryFirst(n *html.Node, selector string) (dom.Element, error) {
	sel, err := d.compile(selector)
	if err != nil {
		return nil, err
	}
	match := cascadia.Query(n, sel)
	if match == nil {
		return nil, nil
	}
	return d.wrap(match), nil
}

func (d *Document) queryAll(n *html.Node, selector string) ([]dom.Element, error) {
	sel, err := d.compile(selector)
	if err != nil {
		return nil, err
	}
	matches := cascadia.QueryAll(n, sel)
	out := make([]dom.Element, 0, len(matches))
	for _, m := range matches {
		out = append(out, d.wrap(m))
	}
	return out, nil
}

func (d *Document) wrap(n *html.Node) *Element {
	return &Element{doc: d, node: n}
}

func findFirst(n *html.Node, pred func(*html.Node) bool) *html.Node {
	if pred(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, pred); found != nil {
			return found
		}
	}
	return nil
}

func contains(ancestor, n *html.Node) bool {
	for p := n; p != nil; p = p.Parent {
		if p == ancestor {
			return true
		}
	}
	return false
}
