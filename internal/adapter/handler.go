package adapter

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kernel/chatbridge/internal/dom"
	"github.com/kernel/chatbridge/internal/extract"
	"github.com/kernel/chatbridge/internal/protocol"
)

// Handle answers one protocol request about the page. Missing page elements are
// reported as results, not failures.
func (c *Controller) Handle(ctx context.Context, msg protocol.Message) protocol.Response {
	// Page info stays answerable after destroy; it reports ready=false.
	if msg.Type == protocol.KindGetPageInfo {
		return protocol.Succeed(msg, c.pageInfo())
	}
	if c.State() == StateDestroyed {
		return protocol.Fail(msg, protocol.CodeAdapterDestroyed, "adapter has been destroyed")
	}

	switch msg.Type {
	case protocol.KindExportConversation:
		return c.export(msg)
	case protocol.KindInsertText:
		return c.insertText(msg)
	default:
		c.logger.Debug("unknown message type", zap.String("type", string(msg.Type)))
		return protocol.Fail(msg, protocol.CodeUnknownMessageType, fmt.Sprintf("unknown message type %q", msg.Type))
	}
}

func (c *Controller) export(msg protocol.Message) protocol.Response {
	if !c.cfg.CanExtract() {
		return protocol.Fail(msg, protocol.CodeNotImplemented,
			fmt.Sprintf("conversation export is not available for %s", c.site))
	}

	snap, err := c.extract()
	switch {
	case errors.Is(err, extract.ErrNotImplemented):
		return protocol.Fail(msg, protocol.CodeNotImplemented, err.Error())
	case err != nil:
		c.logger.Warn("export failed", zap.Error(err))
		return protocol.Fail(msg, protocol.CodeContentScriptError, err.Error())
	}
	return protocol.Succeed(msg, snap)
}

func (c *Controller) extract() (protocol.ConversationSnapshot, error) {
	c.pageMu.Lock()
	defer c.pageMu.Unlock()
	return c.opts.Extractor.Extract(c.doc, c.cfg)
}

func (c *Controller) insertText(msg protocol.Message) protocol.Response {
	var req protocol.InsertTextRequest
	if err := msg.Decode(&req); err != nil {
		return protocol.Fail(msg, protocol.CodeInvalidPayload, fmt.Sprintf("invalid INSERT_TEXT body: %v", err))
	}
	if c.cfg == nil {
		return protocol.Succeed(msg, protocol.InsertTextResult{Inserted: false})
	}

	c.pageMu.Lock()
	defer c.pageMu.Unlock()

	el, ok := c.opts.Resolver.First(c.doc, c.cfg.Input)
	if !ok {
		c.logger.Debug("no input element found")
		return protocol.Succeed(msg, protocol.InsertTextResult{Inserted: false})
	}
	if err := dom.InsertText(el, req.Text); err != nil {
		return protocol.Fail(msg, protocol.CodeContentScriptError, err.Error())
	}
	return protocol.Succeed(msg, protocol.InsertTextResult{Inserted: true})
}
