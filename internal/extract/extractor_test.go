package extract

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kernel/chatbridge/internal/dom/htmldoc"
	"github.com/kernel/chatbridge/internal/protocol"
	"github.com/kernel/chatbridge/internal/site"
)

const chatgptPage = `<html><head><title>ChatGPT</title></head><body>
<nav><a aria-current="page" href="/c/1">Planning a trip</a></nav>
<main>
  <div data-message-author-role="user"><div>Where should I go?</div></div>
  <div data-message-author-role="assistant"><div class="markdown"><p>Try Lisbon.</p><p>It is sunny.</p></div></div>
  <div data-message-author-role="system">   </div>
  <div data-message-author-role="user"><time datetime="2024-05-01T10:00:00Z"></time>Thanks!</div>
</main>
</body></html>`

const claudePage = `<html><head><title>Claude</title></head><body>
<main>
  <div data-test-render-count="1"><div data-testid="user-message">What is Go?</div></div>
  <div data-test-render-count="1"><div class="font-claude-message">A programming language.</div></div>
</main>
</body></html>`

// Nodes with no role attribute and no user/assistant match fall back to alternation.
const anonymousPage = `<html><head><title>Anon</title></head><body>
<main>
  <article data-testid="conversation-turn-1">first</article>
  <article data-testid="conversation-turn-2">   </article>
  <article data-testid="conversation-turn-3">third</article>
  <article data-testid="conversation-turn-4">fourth</article>
</main>
</body></html>`

func config(t *testing.T, id site.Identifier) *site.Config {
	t.Helper()
	cfg, ok := site.DefaultRegistry().Lookup(id)
	require.True(t, ok)
	return cfg
}

func fixedExtractor() *Extractor {
	e := New(nil, nil)
	e.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }
	return e
}

func TestExtract_RoleAttribute(t *testing.T) {
	doc, err := htmldoc.ParseString(chatgptPage, "https://chatgpt.com/c/1")
	require.NoError(t, err)

	snap, err := fixedExtractor().Extract(doc, config(t, site.ChatGPT))
	require.NoError(t, err)

	assert.Equal(t, "Planning a trip", snap.Title)
	assert.Equal(t, "https://chatgpt.com/c/1", snap.URL)
	assert.Equal(t, "chatgpt", snap.Site)
	assert.Equal(t, time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC), snap.ExtractedAt)
	assert.Equal(t, []protocol.ConversationMessage{
		{Role: protocol.RoleUser, Content: "Where should I go?"},
		{Role: protocol.RoleAssistant, Content: "Try Lisbon.\nIt is sunny."},
		{Role: protocol.RoleUser, Content: "Thanks!", Timestamp: "2024-05-01T10:00:00Z"},
	}, snap.Messages)
}

func TestExtract_UserAndAssistantChains(t *testing.T) {
	doc, err := htmldoc.ParseString(claudePage, "https://claude.ai/chat/9")
	require.NoError(t, err)

	snap, err := fixedExtractor().Extract(doc, config(t, site.Claude))
	require.NoError(t, err)

	assert.Equal(t, "Claude", snap.Title)
	require.Len(t, snap.Messages, 2)
	assert.Equal(t, protocol.RoleUser, snap.Messages[0].Role)
	assert.Equal(t, "What is Go?", snap.Messages[0].Content)
	assert.Equal(t, protocol.RoleAssistant, snap.Messages[1].Role)
}

func TestExtract_AlternatingFallbackKeyedByNodeIndex(t *testing.T) {
	doc, err := htmldoc.ParseString(anonymousPage, "https://chatgpt.com/c/2")
	require.NoError(t, err)

	cfg := &site.Config{
		Site:     site.ChatGPT,
		Messages: []string{"article[data-testid^=conversation-turn-]"},
	}
	snap, err := fixedExtractor().Extract(doc, cfg)
	require.NoError(t, err)

	assert.Equal(t, []protocol.ConversationMessage{
		{Role: protocol.RoleUser, Content: "first"},
		{Role: protocol.RoleUser, Content: "third"},
		{Role: protocol.RoleAssistant, Content: "fourth"},
	}, snap.Messages)
	assert.Equal(t, "Anon", snap.Title)
}

func TestExtract_Deterministic(t *testing.T) {
	doc, err := htmldoc.ParseString(chatgptPage, "https://chatgpt.com/c/1")
	require.NoError(t, err)
	e := New(nil, nil)
	cfg := config(t, site.ChatGPT)

	first, err := e.Extract(doc, cfg)
	require.NoError(t, err)
	second, err := e.Extract(doc, cfg)
	require.NoError(t, err)

	a, err := json.Marshal(first.Messages)
	require.NoError(t, err)
	b, err := json.Marshal(second.Messages)
	require.NoError(t, err)
	assert.Equal(t, string(a), string(b))
	assert.Equal(t, first.Fingerprint(), second.Fingerprint())
}

func TestExtract_NotImplemented(t *testing.T) {
	doc, err := htmldoc.ParseString(`<html><body><main></main></body></html>`, "https://gemini.google.com/app")
	require.NoError(t, err)

	_, err = fixedExtractor().Extract(doc, config(t, site.Gemini))
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestExtract_EmptyConversation(t *testing.T) {
	doc, err := htmldoc.ParseString(`<html><body><main></main></body></html>`, "https://claude.ai/new")
	require.NoError(t, err)

	snap, err := fixedExtractor().Extract(doc, config(t, site.Claude))
	require.NoError(t, err)
	assert.Empty(t, snap.Messages)
	assert.Equal(t, DefaultTitle, snap.Title)
}

func TestExtract_FallsBackToDocumentWhenContainerIsEmpty(t *testing.T) {
	page := `<html><body><main><p>sidebar</p></main>
<div data-message-author-role="user">outside</div></body></html>`
	doc, err := htmldoc.ParseString(page, "https://chatgpt.com/c/3")
	require.NoError(t, err)

	snap, err := fixedExtractor().Extract(doc, config(t, site.ChatGPT))
	require.NoError(t, err)
	require.Len(t, snap.Messages, 1)
	assert.Equal(t, "outside", snap.Messages[0].Content)
}
