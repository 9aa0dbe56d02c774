package htmldoc

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/kernel/chatbridge/internal/dom"
)

// Observe registers fn for element nodes added under root. One call of fn covers one
// Append or Reload, mirroring how MutationObserver batches records per turn.
func (d *Document) Observe(root dom.Element, fn func(added []dom.Element)) (func(), error) {
	e, ok := root.(*Element)
	if !ok || e.doc != d {
		return nil, errors.New("observe root does not belong to this document")
	}
	d.mu.Lock()
	id := d.nextObsID
	d.nextObsID++
	d.observers[id] = &observer{root: e.node, fn: fn}
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.observers, id)
			d.mu.Unlock()
		})
	}, nil
}

// Append parses fragment in the context of parent and appends the resulting nodes,
// then reports the added elements to observers watching an ancestor of parent.
func (d *Document) Append(parent dom.Element, fragment string) error {
	p, ok := parent.(*Element)
	if !ok || p.doc != d {
		return errors.New("append parent does not belong to this document")
	}

	d.mu.Lock()
	nodes, err := html.ParseFragment(strings.NewReader(fragment), p.node)
	if err != nil {
		d.mu.Unlock()
		return fmt.Errorf("failed to parse fragment: %w", err)
	}
	var added []*html.Node
	for _, n := range nodes {
		p.node.AppendChild(n)
		if n.Type == html.ElementNode {
			added = append(added, n)
		}
	}
	calls := d.pendingCalls(p.node, added)
	d.mu.Unlock()

	for _, call := range calls {
		call()
	}
	return nil
}

// Reload replaces the whole tree with a freshly parsed page, the way a re-render does,
// and reports the new body's children as added to every observer. Observers are
// re-rooted to the new body.
func (d *Document) Reload(r io.Reader) error {
	root, err := html.Parse(r)
	if err != nil {
		return fmt.Errorf("failed to parse html: %w", err)
	}

	d.mu.Lock()
	d.root = root
	d.events = make(map[*html.Node][]string)
	body := findFirst(root, func(n *html.Node) bool {
		return n.Type == html.ElementNode && n.DataAtom == atom.Body
	})
	var calls []func()
	if body != nil {
		var added []*html.Node
		for c := body.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				added = append(added, c)
			}
		}
		for _, obs := range d.observers {
			obs.root = body
		}
		calls = d.pendingCalls(body, added)
	}
	d.mu.Unlock()

	for _, call := range calls {
		call()
	}
	return nil
}

// pendingCalls must be called with d.mu held. The returned calls run without it.
func (d *Document) pendingCalls(parent *html.Node, added []*html.Node) []func() {
	if len(added) == 0 {
		return nil
	}
	var calls []func()
	for _, obs := range d.observers {
		if !contains(obs.root, parent) {
			continue
		}
		elems := make([]dom.Element, 0, len(added))
		for _, n := range added {
			elems = append(elems, d.wrap(n))
		}
		fn := obs.fn
		calls = append(calls, func() { fn(elems) })
	}
	return calls
}
