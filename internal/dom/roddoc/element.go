package roddoc

import (
	"strings"

	"github.com/go-rod/rod"

	"github.com/kernel/chatbridge/internal/dom"
)

// Element is a live node.
type Element struct {
	el *rod.Element
}

var _ dom.Element = (*Element)(nil)

// Tag returns the lower-case tag name.
func (e *Element) Tag() string {
	res, err := e.el.Eval(`function() { return this.tagName.toLowerCase() }`)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// Text returns innerText, or the value of form controls.
func (e *Element) Text() string {
	res, err := e.el.Eval(`function() {
		if (this.tagName === 'INPUT' || this.tagName === 'TEXTAREA') return this.value || '';
		return this.innerText || this.textContent || '';
	}`)
	if err != nil {
		return ""
	}
	return dom.NormalizeText(res.Value.Str())
}

// Attr returns the value of an attribute.
func (e *Element) Attr(name string) (string, bool) {
	v, err := e.el.Attribute(name)
	if err != nil || v == nil {
		return "", false
	}
	return *v, true
}

// Matches evaluates Element.matches in the page.
func (e *Element) Matches(selector string) (bool, error) {
	ok, err := e.el.Matches(selector)
	if err != nil {
		return false, queryError(selector, err)
	}
	return ok, nil
}

// QuerySelector returns the first matching descendant.
func (e *Element) QuerySelector(selector string) (dom.Element, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, queryError(selector, err)
	}
	if len(els) == 0 {
		return nil, nil
	}
	return &Element{el: els.First()}, nil
}

// QuerySelectorAll returns every matching descendant.
func (e *Element) QuerySelectorAll(selector string) ([]dom.Element, error) {
	els, err := e.el.Elements(selector)
	if err != nil {
		return nil, queryError(selector, err)
	}
	return wrapAll(els), nil
}

// SetContent assigns value on form controls, through the native setter so frameworks
// that shadow the value property still see the write, and textContent elsewhere.
func (e *Element) SetContent(text string) error {
	_, err := e.el.Eval(`function(text) {
		if (this.tagName === 'INPUT' || this.tagName === 'TEXTAREA') {
			const proto = this.tagName === 'INPUT' ? HTMLInputElement.prototype : HTMLTextAreaElement.prototype;
			const setter = Object.getOwnPropertyDescriptor(proto, 'value').set;
			setter.call(this, text);
		} else {
			this.focus();
			this.textContent = text;
		}
	}`, text)
	return err
}

// Dispatch fires a bubbling event on the element.
func (e *Element) Dispatch(eventType string) error {
	eventType = strings.TrimSpace(eventType)
	_, err := e.el.Eval(`function(type) {
		const ev = type === 'input'
			? new InputEvent('input', { bubbles: true, cancelable: true })
			: new Event(type, { bubbles: true, cancelable: true });
		this.dispatchEvent(ev);
	}`, eventType)
	return err
}
