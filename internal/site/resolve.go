// Package site maps page locations to supported chat sites and holds the per-site
// selector configuration.
package site

import (
	"net/url"
	"strings"
)

// Identifier names a supported chat site.
type Identifier string

const (
	None    Identifier = "none"
	ChatGPT Identifier = "chatgpt"
	Claude  Identifier = "claude"
	Gemini  Identifier = "gemini"
)

// All lists the supported sites in resolution priority order.
var All = []Identifier{ChatGPT, Claude, Gemini}

// Supported reports whether id is a real site rather than None.
func (id Identifier) Supported() bool {
	switch id {
	case ChatGPT, Claude, Gemini:
		return true
	}
	return false
}

func (id Identifier) String() string {
	return string(id)
}

var exactHosts = map[string]Identifier{
	"chat.openai.com":   ChatGPT,
	"chatgpt.com":       ChatGPT,
	"www.chatgpt.com":   ChatGPT,
	"claude.ai":         Claude,
	"www.claude.ai":     Claude,
	"gemini.google.com": Gemini,
	"bard.google.com":   Gemini,
}

var hostSuffixes = []struct {
	suffix string
	id     Identifier
}{
	{".chatgpt.com", ChatGPT},
	{".claude.ai", Claude},
	{".gemini.google.com", Gemini},
}

// Resolve maps a URL to a site. Bare hosts such as "chat.openai.com" are accepted.
// Matching runs exact host, then host suffix, then substring fallbacks, so ambiguous
// hosts always resolve the same way.
func Resolve(rawURL string) Identifier {
	host, path, ok := splitLocation(rawURL)
	if !ok {
		return None
	}

	if id, found := exactHosts[host]; found {
		return id
	}

	for _, s := range hostSuffixes {
		if strings.HasSuffix(host, s.suffix) {
			return s.id
		}
	}

	switch {
	case strings.Contains(host, "chatgpt") || strings.Contains(host, "openai.com"):
		return ChatGPT
	case strings.Contains(host, "claude.ai"):
		return Claude
	case strings.Contains(host, "gemini.google"):
		return Gemini
	case strings.HasSuffix(host, "google.com") && (strings.HasPrefix(path, "/app") || strings.Contains(path, "/bard")):
		return Gemini
	}
	return None
}

func splitLocation(rawURL string) (host, path string, ok bool) {
	raw := strings.TrimSpace(rawURL)
	if raw == "" {
		return "", "", false
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", "", false
	}
	host = strings.TrimSuffix(strings.ToLower(u.Hostname()), ".")
	if host == "" {
		return "", "", false
	}
	return host, u.Path, true
}
