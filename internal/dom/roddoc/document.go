// Package roddoc adapts a live browser tab, driven over CDP with go-rod, to the dom
// interfaces.
package roddoc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/cdp"

	"github.com/kernel/chatbridge/internal/dom"
)

// Document is a live tab. Every call goes over the CDP connection bound to ctx.
type Document struct {
	page *rod.Page
}

var _ dom.Document = (*Document)(nil)

// New binds page to ctx. Cancelling ctx aborts in-flight calls.
func New(ctx context.Context, page *rod.Page) *Document {
	return &Document{page: page.Context(ctx)}
}

// Page returns the underlying rod page.
func (d *Document) Page() *rod.Page {
	return d.page
}

// URL returns the tab's current location, or "" when the tab is gone.
func (d *Document) URL() string {
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// Title returns the tab title.
func (d *Document) Title() string {
	info, err := d.page.Info()
	if err != nil {
		return ""
	}
	return info.Title
}

// ReadyState evaluates document.readyState.
func (d *Document) ReadyState() string {
	res, err := d.page.Eval(`() => document.readyState`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// Body returns the body element.
func (d *Document) Body() dom.Element {
	el, err := d.QuerySelector("body")
	if err != nil {
		return nil
	}
	return el
}

// QuerySelector returns the first element matching selector without waiting for it.
func (d *Document) QuerySelector(selector string) (dom.Element, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, queryError(selector, err)
	}
	if len(els) == 0 {
		return nil, nil
	}
	return &Element{el: els.First()}, nil
}

// QuerySelectorAll returns every element matching selector.
func (d *Document) QuerySelectorAll(selector string) ([]dom.Element, error) {
	els, err := d.page.Elements(selector)
	if err != nil {
		return nil, queryError(selector, err)
	}
	return wrapAll(els), nil
}

func wrapAll(els rod.Elements) []dom.Element {
	out := make([]dom.Element, 0, len(els))
	for _, el := range els {
		out = append(out, &Element{el: el})
	}
	return out
}

// queryError maps a browser-side SyntaxError to dom.ErrInvalidSelector.
func queryError(selector string, err error) error {
	var cdpErr *cdp.Error
	if errors.As(err, &cdpErr) && strings.Contains(cdpErr.Message+cdpErr.Data, "not a valid selector") {
		return dom.InvalidSelector(selector, err)
	}
	var evalErr *rod.EvalError
	if errors.As(err, &evalErr) && strings.Contains(evalErr.Error(), "SyntaxError") {
		return dom.InvalidSelector(selector, err)
	}
	return fmt.Errorf("failed to query %q: %w", selector, err)
}
