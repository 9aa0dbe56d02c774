// Package dom abstracts the host chat page so adapters can run against a live browser
// tab or a parsed HTML snapshot.
package dom

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidSelector is wrapped by query errors caused by a selector the engine cannot
// parse. Callers resolving fallback chains skip such selectors.
var ErrInvalidSelector = errors.New("invalid selector")

// Ready states reported by Document.ReadyState.
const (
	ReadyStateLoading     = "loading"
	ReadyStateInteractive = "interactive"
	ReadyStateComplete    = "complete"
)

// Synthetic events dispatched after programmatic edits.
const (
	EventInput  = "input"
	EventChange = "change"
)

// Queryable is anything selectors can be evaluated against.
type Queryable interface {
	// QuerySelector returns the first matching descendant, or nil when none matches.
	QuerySelector(selector string) (Element, error)
	// QuerySelectorAll returns every matching descendant in document order.
	QuerySelectorAll(selector string) ([]Element, error)
}

// Element is one node of the host page.
type Element interface {
	Queryable
	Tag() string
	Text() string
	Attr(name string) (string, bool)
	Matches(selector string) (bool, error)
	// SetContent assigns the value of form controls or the text of editable elements.
	SetContent(text string) error
	// Dispatch fires a bubbling synthetic event of the given type on the element.
	Dispatch(eventType string) error
}

// Document is the host page.
type Document interface {
	Queryable
	URL() string
	Title() string
	ReadyState() string
	// Body returns the body element, or nil when the page has none yet.
	Body() Element
}

// InvalidSelector wraps ErrInvalidSelector with the offending selector.
func InvalidSelector(selector string, cause error) error {
	return fmt.Errorf("%w %q: %v", ErrInvalidSelector, selector, cause)
}

// InsertText writes text into el and notifies the host page's own framework by
// dispatching input and change events, the documented way to signal programmatic edits.
func InsertText(el Element, text string) error {
	if err := el.SetContent(text); err != nil {
		return fmt.Errorf("failed to set content: %w", err)
	}
	for _, ev := range []string{EventInput, EventChange} {
		if err := el.Dispatch(ev); err != nil {
			return fmt.Errorf("failed to dispatch %s: %w", ev, err)
		}
	}
	return nil
}

// NormalizeText collapses whitespace inside each line, drops blank lines and trims the
// result. Line structure survives so code blocks stay readable.
func NormalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
