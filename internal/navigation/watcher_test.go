package navigation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernel/chatbridge/internal/dom/htmldoc"
)

type FakeSource struct {
	ListenFunc func(fn func(url string)) (func(), error)
}

func (f *FakeSource) Listen(fn func(url string)) (func(), error) {
	if f.ListenFunc != nil {
		return f.ListenFunc(fn)
	}
	return func() {}, nil
}

func newDoc(t *testing.T) *htmldoc.Document {
	t.Helper()
	doc, err := htmldoc.ParseString(`<html><body></body></html>`, "https://claude.ai/chat/1")
	require.NoError(t, err)
	return doc
}

func TestWrap_SameURLTwiceFiresOnce(t *testing.T) {
	doc := newDoc(t)
	var seen []string
	w := New(doc.URL(), func(u string) { seen = append(seen, u) }, nil)
	require.NoError(t, w.Install(nil))

	h := w.Wrap(doc)
	h.PushState("https://claude.ai/chat/2")
	h.PushState("https://claude.ai/chat/2")

	assert.Equal(t, []string{"https://claude.ai/chat/2"}, seen)
	assert.Equal(t, "https://claude.ai/chat/2", doc.URL())
}

func TestWrap_ReplaceStateAndInitialURL(t *testing.T) {
	doc := newDoc(t)
	count := 0
	w := New(doc.URL(), func(string) { count++ }, nil)
	require.NoError(t, w.Install(nil))

	h := w.Wrap(doc)
	h.ReplaceState("https://claude.ai/chat/1")
	assert.Equal(t, 0, count, "initial URL is already seen")

	h.ReplaceState("https://claude.ai/chat/9")
	assert.Equal(t, 1, count)
	assert.Equal(t, "https://claude.ai/chat/9", w.LastURL())
}

func TestInstall_ListensForBackNavigation(t *testing.T) {
	doc := newDoc(t)
	var seen []string
	w := New(doc.URL(), func(u string) { seen = append(seen, u) }, nil)
	require.NoError(t, w.Install(doc))

	h := w.Wrap(doc)
	h.PushState("https://claude.ai/chat/2")
	require.True(t, doc.Back())

	assert.Equal(t, []string{"https://claude.ai/chat/2", "https://claude.ai/chat/1"}, seen)
}

func TestInstall_Twice(t *testing.T) {
	w := New("", nil, nil)
	require.NoError(t, w.Install(nil))
	assert.ErrorIs(t, w.Install(nil), ErrAlreadyInstalled)
}

func TestInstall_SourceError(t *testing.T) {
	src := &FakeSource{
		ListenFunc: func(func(string)) (func(), error) { return nil, errors.New("boom") },
	}
	w := New("", nil, nil)
	err := w.Install(src)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// A failed install leaves the watcher installable.
	require.NoError(t, w.Install(&FakeSource{}))
}

func TestObserve_CallbackReentrancy(t *testing.T) {
	var w *Watcher
	calls := 0
	w = New("a", func(u string) {
		calls++
		// A callback observing the same URL again must not re-fire.
		w.Observe(u)
	}, nil)
	require.NoError(t, w.Install(nil))

	assert.True(t, w.Observe("b"))
	assert.Equal(t, 1, calls)
}

func TestUninstall_IdempotentAndSilences(t *testing.T) {
	stops := 0
	var emit func(string)
	src := &FakeSource{
		ListenFunc: func(fn func(string)) (func(), error) {
			emit = fn
			return func() { stops++ }, nil
		},
	}
	count := 0
	w := New("a", func(string) { count++ }, nil)
	require.NoError(t, w.Install(src))

	emit("b")
	assert.Equal(t, 1, count)

	w.Uninstall()
	w.Uninstall()
	assert.Equal(t, 1, stops)

	emit("c")
	assert.False(t, w.Observe("d"))
	assert.Equal(t, 1, count)
}
