// Package changes raises a notification when new conversation content appears on a page.
package changes

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kernel/chatbridge/internal/dom"
	"github.com/kernel/chatbridge/internal/selector"
	"github.com/kernel/chatbridge/internal/site"
)

var (
	// ErrAlreadyStarted is returned by a second Start on the same Notifier.
	ErrAlreadyStarted = errors.New("change notifier already started")
	// ErrNoRoot is returned when the page has neither a container nor a body to observe.
	ErrNoRoot = errors.New("no element to observe")
)

// Source delivers batches of element nodes added under root. One call of fn is one
// batch as coalesced by the backend.
type Source interface {
	Observe(root dom.Element, fn func(added []dom.Element)) (stop func(), err error)
}

// Batch describes one relevant mutation batch.
type Batch struct {
	Added    int
	Messages int
}

// Notifier filters mutation batches down to the ones that touch conversation messages.
type Notifier struct {
	resolver *selector.Resolver
	logger   *zap.Logger
	onChange func(Batch)

	mu   sync.Mutex
	stop func()
}

// New returns a Notifier that calls onChange once per relevant batch.
func New(resolver *selector.Resolver, onChange func(Batch), logger *zap.Logger) *Notifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = selector.New(logger)
	}
	return &Notifier{resolver: resolver, logger: logger, onChange: onChange}
}

// Start observes the site's conversation container, or the body when no container
// resolves.
func (n *Notifier) Start(doc dom.Document, cfg *site.Config, src Source) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stop != nil {
		return ErrAlreadyStarted
	}

	root, ok := n.resolver.First(doc, cfg.Container)
	if !ok {
		root = doc.Body()
	}
	if root == nil {
		return ErrNoRoot
	}

	messages := selector.Chain(cfg.Messages)
	stop, err := src.Observe(root, func(added []dom.Element) {
		n.handle(added, messages)
	})
	if err != nil {
		return fmt.Errorf("failed to observe %s: %w", root.Tag(), err)
	}
	n.stop = stop
	n.logger.Debug("observing conversation", zap.String("root", root.Tag()))
	return nil
}

func (n *Notifier) handle(added []dom.Element, messages selector.Chain) {
	relevant := 0
	for _, el := range added {
		if n.resolver.Contains(el, messages) {
			relevant++
		}
	}
	if relevant == 0 {
		return
	}
	if n.onChange != nil {
		n.onChange(Batch{Added: len(added), Messages: relevant})
	}
}

// Running reports whether the notifier is observing.
func (n *Notifier) Running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.stop != nil
}

// Stop releases the subscription. Calling it more than once is a no-op.
func (n *Notifier) Stop() {
	n.mu.Lock()
	stop := n.stop
	n.stop = nil
	n.mu.Unlock()

	if stop != nil {
		stop()
	}
}
