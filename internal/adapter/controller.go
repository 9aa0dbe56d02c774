// Package adapter runs the per-page lifecycle of a chat site adapter and answers
// protocol requests against that page.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kernel/chatbridge/internal/changes"
	"github.com/kernel/chatbridge/internal/dom"
	"github.com/kernel/chatbridge/internal/extract"
	"github.com/kernel/chatbridge/internal/navigation"
	"github.com/kernel/chatbridge/internal/protocol"
	"github.com/kernel/chatbridge/internal/selector"
	"github.com/kernel/chatbridge/internal/site"
)

const (
	DefaultReadyTimeout      = 5 * time.Second
	DefaultReadyPollInterval = 100 * time.Millisecond
	DefaultMaxAttempts       = 5
	DefaultRetryBaseDelay    = time.Second
)

var (
	// ErrUnsupportedSite is returned by Start for pages no adapter is registered for.
	ErrUnsupportedSite = errors.New("page is not a supported chat site")
	// ErrAlreadyStarted is returned by a second Start.
	ErrAlreadyStarted = errors.New("adapter already started")
	// ErrSiteChanged fails an initialization attempt when the page no longer resolves to
	// the site the controller was built for.
	ErrSiteChanged = errors.New("page site changed")
)

// Emitter sends one-way events to the background context.
type Emitter interface {
	Emit(ctx context.Context, kind protocol.MessageKind, payload any) error
}

// Options configures a Controller. Zero values select the defaults.
type Options struct {
	Registry   *site.Registry
	Resolver   *selector.Resolver
	Extractor  *extract.Extractor
	Navigation navigation.Source
	Changes    changes.Source
	Emitter    Emitter
	Logger     *zap.Logger

	ReadyTimeout      time.Duration
	ReadyPollInterval time.Duration
	MaxAttempts       int
	RetryBaseDelay    time.Duration

	// Sleep waits between attempts. It returns early with ctx's error.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (o *Options) setDefaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Registry == nil {
		o.Registry = site.DefaultRegistry()
	}
	if o.Resolver == nil {
		o.Resolver = selector.New(o.Logger)
	}
	if o.Extractor == nil {
		o.Extractor = extract.New(o.Resolver, o.Logger)
	}
	if o.ReadyTimeout <= 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.ReadyPollInterval <= 0 {
		o.ReadyPollInterval = DefaultReadyPollInterval
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryBaseDelay <= 0 {
		o.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if o.Sleep == nil {
		o.Sleep = sleep
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Controller owns one page: its lifecycle state, its navigation and change
// subscriptions, and the answers to protocol requests about it.
type Controller struct {
	doc    dom.Document
	opts   Options
	logger *zap.Logger

	site site.Identifier
	cfg  *site.Config

	watcher  *navigation.Watcher
	notifier *changes.Notifier

	// pageMu serializes every access to doc.
	pageMu sync.Mutex

	mu         sync.Mutex
	state      State
	attempts   int
	subscribed bool
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// New builds a Controller for doc. The site is resolved from the page URL now; an
// unsupported page yields a Controller that Start refuses.
func New(doc dom.Document, opts Options) *Controller {
	opts.setDefaults()
	c := &Controller{
		doc:    doc,
		opts:   opts,
		logger: opts.Logger,
		state:  StateUninitialized,
		done:   make(chan struct{}),
	}
	c.site = site.Resolve(doc.URL())
	if cfg, ok := opts.Registry.Lookup(c.site); ok {
		c.cfg = cfg
	}
	c.logger = c.logger.With(zap.String("site", c.site.String()))
	c.watcher = navigation.New(doc.URL(), c.onNavigate, c.logger)
	c.notifier = changes.New(opts.Resolver, c.onChange, c.logger)
	return c
}

// Site returns the site the controller was built for.
func (c *Controller) Site() site.Identifier {
	return c.site
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns how many initialization attempts have started.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Done is closed when the initialization loop has finished, successfully or not.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// History wraps h so that pushState and replaceState also report the new location.
func (c *Controller) History(h navigation.History) navigation.History {
	return c.watcher.Wrap(h)
}

// Start moves the controller to AwaitingReady and begins initialization in the
// background.
func (c *Controller) Start(ctx context.Context) error {
	if c.site == site.None || c.cfg == nil {
		return fmt.Errorf("%w: %s", ErrUnsupportedSite, c.doc.URL())
	}

	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.setStateLocked(StateAwaitingReady)
	runCtx := c.ctx
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

func (c *Controller) run(ctx context.Context) {
	defer close(c.done)

	for attempt := 1; ; attempt++ {
		c.mu.Lock()
		c.attempts = attempt
		c.mu.Unlock()

		err := c.initialize(ctx)
		if err == nil {
			return
		}
		if ctx.Err() != nil {
			return
		}

		c.transition(StateFailed)
		if attempt >= c.opts.MaxAttempts {
			c.logger.Error("adapter initialization failed, giving up",
				zap.Int("attempts", attempt),
				zap.Error(err))
			return
		}

		delay := time.Duration(attempt) * c.opts.RetryBaseDelay
		c.logger.Warn("adapter initialization failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if err := c.opts.Sleep(ctx, delay); err != nil {
			return
		}
		if !c.transition(StateAwaitingReady) {
			return
		}
	}
}

func (c *Controller) initialize(ctx context.Context) error {
	current := site.Resolve(c.currentURL())
	if current != c.site {
		return fmt.Errorf("%w: expected %s, found %s", ErrSiteChanged, c.site, current)
	}

	if err := c.waitReady(ctx); err != nil {
		return err
	}
	if err := c.subscribe(); err != nil {
		return err
	}
	if !c.transition(StateActive) {
		return ctx.Err()
	}
	c.announce(ctx)
	return nil
}

// waitReady returns once the page looks ready or ReadyTimeout elapses. A timeout is
// treated as ready.
func (c *Controller) waitReady(ctx context.Context) error {
	if c.ready() {
		return nil
	}
	deadline := time.NewTimer(c.opts.ReadyTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(c.opts.ReadyPollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			c.logger.Info("page did not signal readiness, continuing",
				zap.Duration("waited", c.opts.ReadyTimeout))
			return nil
		case <-poll.C:
			if c.ready() {
				return nil
			}
		}
	}
}

func (c *Controller) ready() bool {
	c.pageMu.Lock()
	defer c.pageMu.Unlock()
	if c.doc.ReadyState() == dom.ReadyStateComplete {
		return true
	}
	_, ok := c.opts.Resolver.First(c.doc, c.cfg.Ready)
	return ok
}

// subscribe installs the navigation watcher and the change notifier once. A partial
// failure is rolled back so the next attempt starts clean.
func (c *Controller) subscribe() error {
	c.mu.Lock()
	done := c.subscribed
	c.mu.Unlock()
	if done {
		return nil
	}

	if err := c.watcher.Install(c.opts.Navigation); err != nil {
		return fmt.Errorf("failed to install navigation watcher: %w", err)
	}
	if c.opts.Changes != nil {
		if err := c.startNotifier(); err != nil {
			c.watcher.Uninstall()
			return fmt.Errorf("failed to start change notifier: %w", err)
		}
	}

	c.mu.Lock()
	c.subscribed = true
	c.mu.Unlock()
	return nil
}

// onNavigate runs for every genuine location change.
func (c *Controller) onNavigate(url string) {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		c.logger.Debug("ignoring navigation while not active", zap.String("url", url))
		return
	}
	c.setStateLocked(StateReinitializing)
	ctx := c.ctx
	c.mu.Unlock()

	if now := site.Resolve(url); now != c.site {
		c.logger.Warn("navigated to a different site", zap.String("url", url), zap.String("now", now.String()))
	}
	c.announce(ctx)
	c.transitionFrom(StateReinitializing, StateActive)
}

func (c *Controller) onChange(b changes.Batch) {
	switch c.State() {
	case StateActive, StateReinitializing:
	default:
		return
	}
	if c.opts.Emitter == nil {
		return
	}

	data := protocol.SyncData{
		Site:         c.site.String(),
		URL:          c.currentURL(),
		Reason:       "conversation-changed",
		AddedNodes:   b.Added,
		ObservedAtMs: protocol.Now(),
	}
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	if err := c.opts.Emitter.Emit(ctx, protocol.KindSyncData, data); err != nil {
		c.logger.Debug("failed to emit sync data", zap.Error(err))
	}
}

// announce re-sends the page state. The background may have restarted, so nothing is
// assumed to be remembered there.
func (c *Controller) announce(ctx context.Context) {
	if c.opts.Emitter == nil {
		return
	}
	info := c.pageInfo()
	info.Ready = true
	if err := c.opts.Emitter.Emit(ctx, protocol.KindContentScriptReady, info); err != nil {
		c.logger.Debug("failed to announce readiness", zap.Error(err))
	}
}

func (c *Controller) pageInfo() protocol.PageInfo {
	url, title := c.urlAndTitle()
	return protocol.PageInfo{
		Site:    c.site.String(),
		URL:     url,
		Title:   title,
		Ready:   c.State() == StateActive,
		Version: protocol.Version,
	}
}

// Destroy tears the controller down. It is safe to call more than once.
func (c *Controller) Destroy() {
	c.mu.Lock()
	if c.state == StateDestroyed {
		c.mu.Unlock()
		return
	}
	started := c.cancel != nil
	c.setStateLocked(StateDestroyed)
	cancel := c.cancel
	c.mu.Unlock()

	if started {
		cancel()
		<-c.done
	}
	c.watcher.Uninstall()
	c.notifier.Stop()
}

// transition moves to next unless the controller was destroyed.
func (c *Controller) transition(next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateDestroyed {
		return false
	}
	c.setStateLocked(next)
	return true
}

func (c *Controller) transitionFrom(from, next State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != from {
		return false
	}
	c.setStateLocked(next)
	return true
}

func (c *Controller) setStateLocked(next State) {
	if c.state == next {
		return
	}
	c.logger.Debug("adapter state", zap.Stringer("from", c.state), zap.Stringer("to", next))
	c.state = next
}

// Page access goes through these helpers so a panicking Document never leaves
// pageMu held.

func (c *Controller) currentURL() string {
	c.pageMu.Lock()
	defer c.pageMu.Unlock()
	return c.doc.URL()
}

func (c *Controller) urlAndTitle() (string, string) {
	c.pageMu.Lock()
	defer c.pageMu.Unlock()
	return c.doc.URL(), c.opts.Extractor.Title(c.doc, c.cfg)
}

func (c *Controller) startNotifier() error {
	c.pageMu.Lock()
	defer c.pageMu.Unlock()
	return c.notifier.Start(c.doc, c.cfg, c.opts.Changes)
}
