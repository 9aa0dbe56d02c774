// Package selector resolves logical page targets through ordered fallback selector
// chains. A miss is a normal result: chat UIs drop and rename elements between
// releases, so callers get (nil, false) rather than an error.
package selector

import (
	"errors"

	"go.uber.org/zap"

	"github.com/kernel/chatbridge/internal/dom"
)

// Chain is an ordered list of alternative selectors for one target.
type Chain []string

// Resolver evaluates chains against a page.
type Resolver struct {
	logger *zap.Logger
}

// New returns a Resolver. A nil logger discards output.
func New(logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{logger: logger}
}

// First returns the first element matched by the earliest selector in chain that
// matches anything.
func (r *Resolver) First(root dom.Queryable, chain Chain) (dom.Element, bool) {
	for _, sel := range chain {
		el, err := root.QuerySelector(sel)
		if err != nil {
			r.skip(sel, err)
			continue
		}
		if el != nil {
			return el, true
		}
	}
	return nil, false
}

// All returns the nodes of the earliest selector in chain that matches at least one
// node, along with that selector.
func (r *Resolver) All(root dom.Queryable, chain Chain) ([]dom.Element, string) {
	for _, sel := range chain {
		els, err := root.QuerySelectorAll(sel)
		if err != nil {
			r.skip(sel, err)
			continue
		}
		if len(els) > 0 {
			return els, sel
		}
	}
	return nil, ""
}

// Matches reports whether el itself matches any selector of chain.
func (r *Resolver) Matches(el dom.Element, chain Chain) bool {
	for _, sel := range chain {
		ok, err := el.Matches(sel)
		if err != nil {
			r.skip(sel, err)
			continue
		}
		if ok {
			return true
		}
	}
	return false
}

// Contains reports whether el matches chain or has a descendant that does.
func (r *Resolver) Contains(el dom.Element, chain Chain) bool {
	if r.Matches(el, chain) {
		return true
	}
	_, found := r.First(el, chain)
	return found
}

func (r *Resolver) skip(sel string, err error) {
	if errors.Is(err, dom.ErrInvalidSelector) {
		r.logger.Debug("skipping invalid selector", zap.String("selector", sel), zap.Error(err))
		return
	}
	r.logger.Debug("selector query failed", zap.String("selector", sel), zap.Error(err))
}
