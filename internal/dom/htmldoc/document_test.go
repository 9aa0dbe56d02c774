package htmldoc

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernel/chatbridge/internal/dom"
)

const page = `<!doctype html>
<html><head><title> My   chat </title></head>
<body>
  <main id="thread">
    <div class="msg" data-role="user"><p>Hello</p><p>there</p></div>
    <div class="msg" data-role="assistant">Hi! <code>x := 1</code></div>
  </main>
  <textarea id="prompt">old</textarea>
  <input id="search" value="q">
  <script>var ignored = true;</script>
</body></html>`

func mustParse(t *testing.T) *Document {
	t.Helper()
	doc, err := ParseString(page, "https://claude.ai/chat/1")
	require.NoError(t, err)
	return doc
}

func TestDocument_Basics(t *testing.T) {
	doc := mustParse(t)

	assert.Equal(t, "https://claude.ai/chat/1", doc.URL())
	assert.Equal(t, "My chat", doc.Title())
	assert.Equal(t, dom.ReadyStateComplete, doc.ReadyState())
	require.NotNil(t, doc.Body())
	assert.Equal(t, "body", doc.Body().Tag())

	doc.SetReadyState(dom.ReadyStateLoading)
	assert.Equal(t, dom.ReadyStateLoading, doc.ReadyState())
}

func TestDocument_QuerySelector(t *testing.T) {
	doc := mustParse(t)

	el, err := doc.QuerySelector(".msg")
	require.NoError(t, err)
	require.NotNil(t, el)
	role, ok := el.Attr("data-role")
	assert.True(t, ok)
	assert.Equal(t, "user", role)
	assert.Equal(t, "Hello\nthere", el.Text())

	all, err := doc.QuerySelectorAll(".msg")
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Equal(t, "Hi! x := 1", all[1].Text())

	missing, err := doc.QuerySelector("#nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestDocument_InvalidSelector(t *testing.T) {
	doc := mustParse(t)

	_, err := doc.QuerySelector("div[[")
	require.Error(t, err)
	assert.True(t, errors.Is(err, dom.ErrInvalidSelector))

	el, err := doc.QuerySelector("main")
	require.NoError(t, err)
	_, err = el.Matches("a[")
	assert.True(t, errors.Is(err, dom.ErrInvalidSelector))
}

func TestElement_MatchesAndScopedQuery(t *testing.T) {
	doc := mustParse(t)
	main, err := doc.QuerySelector("main")
	require.NoError(t, err)

	ok, err := main.Matches("#thread")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = main.Matches(".msg")
	require.NoError(t, err)
	assert.False(t, ok)

	inner, err := main.QuerySelectorAll("p")
	require.NoError(t, err)
	assert.Len(t, inner, 2)

	self, err := main.QuerySelector("main")
	require.NoError(t, err)
	assert.Nil(t, self, "querySelector only searches descendants")
}

func TestInsertText_TextareaAndInput(t *testing.T) {
	doc := mustParse(t)

	ta, err := doc.QuerySelector("#prompt")
	require.NoError(t, err)
	require.NoError(t, dom.InsertText(ta, "new prompt"))
	assert.Equal(t, "new prompt", ta.Text())
	assert.Equal(t, []string{dom.EventInput, dom.EventChange}, doc.Events(ta))

	in, err := doc.QuerySelector("#search")
	require.NoError(t, err)
	require.NoError(t, dom.InsertText(in, "query"))
	assert.Equal(t, "query", in.Text())
	assert.Contains(t, doc.HTML(), `value="query"`)
}

func TestAppend_NotifiesObserversUnderRoot(t *testing.T) {
	doc := mustParse(t)
	main, err := doc.QuerySelector("main")
	require.NoError(t, err)

	var batches [][]dom.Element
	stop, err := doc.Observe(main, func(added []dom.Element) {
		batches = append(batches, added)
	})
	require.NoError(t, err)

	require.NoError(t, doc.Append(main, `<div class="msg">one</div><div class="msg">two</div>text`))
	require.Len(t, batches, 1)
	require.Len(t, batches[0], 2)
	assert.Equal(t, "two", batches[0][1].Text())

	// Appending outside the observed subtree is not reported.
	require.NoError(t, doc.Append(doc.Body(), `<footer>bye</footer>`))
	assert.Len(t, batches, 1)

	stop()
	stop()
	require.NoError(t, doc.Append(main, `<div class="msg">three</div>`))
	assert.Len(t, batches, 1)

	all, err := doc.QuerySelectorAll(".msg")
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestReload_ReportsNewBody(t *testing.T) {
	doc := mustParse(t)
	main, err := doc.QuerySelector("main")
	require.NoError(t, err)

	var added []dom.Element
	_, err = doc.Observe(main, func(els []dom.Element) { added = els })
	require.NoError(t, err)

	require.NoError(t, doc.Reload(strings.NewReader(`<html><body><section>a</section><section>b</section></body></html>`)))
	require.Len(t, added, 2)
	assert.Equal(t, "section", added[0].Tag())

	// Observers follow the new tree.
	require.NoError(t, doc.Append(doc.Body(), `<p>c</p>`))
	require.Len(t, added, 1)
	assert.Equal(t, "c", added[0].Text())
}

func TestHistory_PushReplaceBack(t *testing.T) {
	doc := mustParse(t)

	var popped []string
	stop, err := doc.Listen(func(u string) { popped = append(popped, u) })
	require.NoError(t, err)
	defer stop()

	doc.PushState("https://claude.ai/chat/2")
	doc.ReplaceState("https://claude.ai/chat/3")
	assert.Equal(t, "https://claude.ai/chat/3", doc.URL())
	assert.Empty(t, popped)

	assert.True(t, doc.Back())
	assert.Equal(t, "https://claude.ai/chat/1", doc.URL())
	assert.Equal(t, []string{"https://claude.ai/chat/1"}, popped)
	assert.False(t, doc.Back())
}
