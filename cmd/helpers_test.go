package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/require"
)

var outBuf bytes.Buffer

func setupStdoutCapture(t *testing.T) {
	t.Helper()
	outBuf.Reset()
	pterm.SetDefaultOutput(&outBuf)
	pterm.DisableStyling()
	prev := stdout
	stdout = &outBuf
	t.Cleanup(func() {
		pterm.SetDefaultOutput(os.Stdout)
		pterm.EnableStyling()
		stdout = prev
	})
}

const chatgptPage = `<html><head><title>ChatGPT</title>
<link rel="canonical" href="https://chatgpt.com/c/trip">
</head><body>
<nav><a aria-current="page" href="/c/trip">Planning a trip</a></nav>
<main>
  <div data-message-author-role="user"><div>Where should I go?</div></div>
  <div data-message-author-role="assistant"><div class="markdown"><p>Try Lisbon.</p></div></div>
  <form><textarea id="prompt-textarea"></textarea></form>
</main>
</body></html>`

const geminiPage = `<html><head><title>Gemini</title></head><body>
<main><rich-textarea><div contenteditable="true"></div></rich-textarea></main>
</body></html>`

const noInputPage = `<html><head><title>Claude</title></head><body>
<main><div data-test-render-count="1"><div data-testid="user-message">Hi</div></div></main>
</body></html>`

func writePage(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "page.html")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
