package changes

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernel/chatbridge/internal/dom"
	"github.com/kernel/chatbridge/internal/dom/htmldoc"
	"github.com/kernel/chatbridge/internal/site"
)

type FakeSource struct {
	ObserveFunc func(root dom.Element, fn func([]dom.Element)) (func(), error)
}

func (f *FakeSource) Observe(root dom.Element, fn func([]dom.Element)) (func(), error) {
	if f.ObserveFunc != nil {
		return f.ObserveFunc(root, fn)
	}
	return func() {}, nil
}

func chatgpt(t *testing.T) *site.Config {
	t.Helper()
	cfg, ok := site.DefaultRegistry().Lookup(site.ChatGPT)
	require.True(t, ok)
	return cfg
}

const page = `<html><body><aside id="side"></aside><main><div data-message-author-role="user">hi</div></main></body></html>`

func TestNotifier_RelevantBatchesOnly(t *testing.T) {
	doc, err := htmldoc.ParseString(page, "https://chatgpt.com/c/1")
	require.NoError(t, err)

	var batches []Batch
	n := New(nil, func(b Batch) { batches = append(batches, b) }, nil)
	require.NoError(t, n.Start(doc, chatgpt(t), doc))
	assert.True(t, n.Running())

	main, err := doc.QuerySelector("main")
	require.NoError(t, err)

	// Typing indicators and other chrome are not conversation content.
	require.NoError(t, doc.Append(main, `<span class="spinner"></span>`))
	assert.Empty(t, batches)

	// Several turns in one batch raise one notification.
	require.NoError(t, doc.Append(main,
		`<div data-message-author-role="assistant">a</div><div data-message-author-role="user">b</div><hr>`))
	require.Len(t, batches, 1)
	assert.Equal(t, Batch{Added: 3, Messages: 2}, batches[0])

	// A wrapper containing a message node counts.
	require.NoError(t, doc.Append(main, `<section><div data-message-author-role="assistant">c</div></section>`))
	assert.Len(t, batches, 2)
}

func TestNotifier_ObservesContainerNotWholePage(t *testing.T) {
	doc, err := htmldoc.ParseString(page, "https://chatgpt.com/c/1")
	require.NoError(t, err)

	count := 0
	n := New(nil, func(Batch) { count++ }, nil)
	require.NoError(t, n.Start(doc, chatgpt(t), doc))

	side, err := doc.QuerySelector("#side")
	require.NoError(t, err)
	require.NoError(t, doc.Append(side, `<div data-message-author-role="user">elsewhere</div>`))
	assert.Equal(t, 0, count)
}

func TestNotifier_FallsBackToBody(t *testing.T) {
	doc, err := htmldoc.ParseString(`<html><body><div id="app"></div></body></html>`, "https://chatgpt.com/")
	require.NoError(t, err)

	var root dom.Element
	src := &FakeSource{
		ObserveFunc: func(r dom.Element, fn func([]dom.Element)) (func(), error) {
			root = r
			return func() {}, nil
		},
	}
	n := New(nil, nil, nil)
	require.NoError(t, n.Start(doc, chatgpt(t), src))
	require.NotNil(t, root)
	assert.Equal(t, "body", root.Tag())
}

func TestNotifier_StartTwiceAndStopIdempotent(t *testing.T) {
	doc, err := htmldoc.ParseString(page, "https://chatgpt.com/c/1")
	require.NoError(t, err)

	stops := 0
	src := &FakeSource{
		ObserveFunc: func(dom.Element, func([]dom.Element)) (func(), error) {
			return func() { stops++ }, nil
		},
	}
	n := New(nil, nil, nil)
	require.NoError(t, n.Start(doc, chatgpt(t), src))
	assert.ErrorIs(t, n.Start(doc, chatgpt(t), src), ErrAlreadyStarted)

	n.Stop()
	n.Stop()
	assert.Equal(t, 1, stops)
	assert.False(t, n.Running())
}

func TestNotifier_SourceError(t *testing.T) {
	doc, err := htmldoc.ParseString(page, "https://chatgpt.com/c/1")
	require.NoError(t, err)

	src := &FakeSource{
		ObserveFunc: func(dom.Element, func([]dom.Element)) (func(), error) {
			return nil, errors.New("detached")
		},
	}
	n := New(nil, nil, nil)
	err = n.Start(doc, chatgpt(t), src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "detached")
	assert.False(t, n.Running())
}
