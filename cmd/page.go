package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/kernel/chatbridge/internal/adapter"
	"github.com/kernel/chatbridge/internal/dom/htmldoc"
	"github.com/kernel/chatbridge/internal/protocol"
	"github.com/kernel/chatbridge/internal/site"
)

var errNoPageURL = errors.New("could not determine the page URL: pass --url")

// loadPage parses a saved chat page. Without pageURL the page's canonical link or
// og:url is used.
func loadPage(path, pageURL string) (*htmldoc.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	defer f.Close()

	doc, err := htmldoc.Parse(f, strings.TrimSpace(pageURL))
	if err != nil {
		return nil, err
	}
	if doc.URL() != "" {
		return doc, nil
	}
	for _, q := range []struct{ sel, attr string }{
		{`link[rel=canonical]`, "href"},
		{`meta[property="og:url"]`, "content"},
	} {
		el, err := doc.QuerySelector(q.sel)
		if err != nil || el == nil {
			continue
		}
		if v, ok := el.Attr(q.attr); ok && strings.TrimSpace(v) != "" {
			doc.SetURL(strings.TrimSpace(v))
			return doc, nil
		}
	}
	return nil, errNoPageURL
}

// newPageController builds an adapter for a saved page. Requests can be answered
// without starting it.
func newPageController(doc *htmldoc.Document, reg *site.Registry, logger *zap.Logger, emitter adapter.Emitter) *adapter.Controller {
	return adapter.New(doc, adapter.Options{
		Registry:   reg,
		Navigation: doc,
		Changes:    doc,
		Emitter:    emitter,
		Logger:     logger,
	})
}

// ask sends one request straight to a controller and decodes a successful response
// into out.
func ask(ctx context.Context, ctrl *adapter.Controller, kind protocol.MessageKind, payload, out any) error {
	msg, err := protocol.NewMessage(kind, payload)
	if err != nil {
		return err
	}
	resp := ctrl.Handle(ctx, msg)
	if err := resp.Err(); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return resp.Decode(out)
}

func checkOutput(output string) error {
	if output != "" && output != "json" {
		return fmt.Errorf("unsupported --output value: use 'json'")
	}
	return nil
}
