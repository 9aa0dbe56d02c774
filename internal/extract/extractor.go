// Package extract turns a chat page into a role-tagged conversation snapshot.
package extract

import (
	"errors"
	"strings"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/kernel/chatbridge/internal/dom"
	"github.com/kernel/chatbridge/internal/protocol"
	"github.com/kernel/chatbridge/internal/selector"
	"github.com/kernel/chatbridge/internal/site"
)

// ErrNotImplemented is returned for sites without a registered message chain.
var ErrNotImplemented = errors.New("conversation extraction is not implemented for this site")

// DefaultTitle is used when neither the title chain nor the document title yields text.
const DefaultTitle = "Untitled conversation"

// Extractor builds snapshots. The zero value is not usable; use New.
type Extractor struct {
	resolver *selector.Resolver
	logger   *zap.Logger
	now      func() time.Time
}

// New returns an Extractor.
func New(resolver *selector.Resolver, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = selector.New(logger)
	}
	return &Extractor{resolver: resolver, logger: logger, now: time.Now}
}

// Extract reads the conversation on doc. The message list depends only on the DOM, so
// extracting twice from an unchanged page yields identical messages.
func (e *Extractor) Extract(doc dom.Document, cfg *site.Config) (protocol.ConversationSnapshot, error) {
	if !cfg.CanExtract() {
		return protocol.ConversationSnapshot{}, ErrNotImplemented
	}

	var root dom.Queryable = doc
	container, scoped := e.resolver.First(doc, cfg.Container)
	if scoped {
		root = container
	}

	nodes, used := e.resolver.All(root, cfg.Messages)
	if len(nodes) == 0 && scoped {
		// The container chain can match a wrapper that no longer holds the thread.
		nodes, used = e.resolver.All(doc, cfg.Messages)
	}
	e.logger.Debug("resolved message nodes",
		zap.String("site", cfg.Site.String()),
		zap.String("selector", used),
		zap.Int("count", len(nodes)))

	// Roles are decided before empty turns are dropped so the alternating fallback
	// stays keyed to the node index.
	messages := lo.Map(nodes, func(node dom.Element, i int) protocol.ConversationMessage {
		return protocol.ConversationMessage{
			Role:      e.role(node, i, cfg),
			Content:   node.Text(),
			Timestamp: timestampOf(node),
		}
	})
	messages = lo.Filter(messages, func(m protocol.ConversationMessage, _ int) bool {
		return strings.TrimSpace(m.Content) != ""
	})

	return protocol.ConversationSnapshot{
		Title:       e.Title(doc, cfg),
		URL:         doc.URL(),
		Site:        cfg.Site.String(),
		Messages:    messages,
		ExtractedAt: e.now().UTC(),
	}, nil
}

// role applies, in order: the explicit author attribute, the user chain, the
// assistant chain, then alternation by node index starting with the user.
func (e *Extractor) role(node dom.Element, index int, cfg *site.Config) protocol.Role {
	if cfg.RoleAttribute != "" {
		if v, ok := node.Attr(cfg.RoleAttribute); ok {
			switch protocol.Role(strings.ToLower(strings.TrimSpace(v))) {
			case protocol.RoleUser:
				return protocol.RoleUser
			case protocol.RoleAssistant:
				return protocol.RoleAssistant
			}
		}
	}
	if e.resolver.Matches(node, cfg.UserMessages) {
		return protocol.RoleUser
	}
	if e.resolver.Matches(node, cfg.AssistantMessages) {
		return protocol.RoleAssistant
	}
	if index%2 == 0 {
		return protocol.RoleUser
	}
	return protocol.RoleAssistant
}

// Title returns the conversation title: the title chain, then the document title,
// then DefaultTitle.
func (e *Extractor) Title(doc dom.Document, cfg *site.Config) string {
	if cfg == nil {
		cfg = &site.Config{}
	}
	if el, ok := e.resolver.First(doc, cfg.Title); ok {
		if t := el.Text(); t != "" {
			return t
		}
	}
	if t := strings.TrimSpace(doc.Title()); t != "" {
		return t
	}
	return DefaultTitle
}

// timestampOf reads a message time from the page, never from the clock.
func timestampOf(node dom.Element) string {
	if v, ok := node.Attr("data-timestamp"); ok && v != "" {
		return v
	}
	t, err := node.QuerySelector("time[datetime]")
	if err != nil || t == nil {
		return ""
	}
	v, _ := t.Attr("datetime")
	return v
}
