// Package browser connects to a Chrome instance over CDP and attaches an adapter to
// every open chat tab.
package browser

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kernel/chatbridge/internal/adapter"
	"github.com/kernel/chatbridge/internal/background"
	"github.com/kernel/chatbridge/internal/dom/roddoc"
	"github.com/kernel/chatbridge/internal/router"
	"github.com/kernel/chatbridge/internal/site"
)

// ErrNoKernelClient is returned when a Kernel browser id is given without credentials.
var ErrNoKernelClient = errors.New("a Kernel API key is required to attach to a Kernel browser")

// Options selects the browser and tunes the adapters attached to it.
type Options struct {
	// CDPURL is a DevTools websocket or HTTP endpoint. It wins over KernelBrowserID.
	CDPURL string
	// KernelBrowserID names a Kernel cloud browser resolved through Kernel.
	KernelBrowserID string
	Kernel          BrowserLookup
	// Headless applies to a locally launched Chrome.
	Headless bool

	Registry     *site.Registry
	ReadyTimeout time.Duration
	Logger       *zap.Logger

	// Launch starts a local browser and returns its control URL. Defaults to the rod
	// launcher.
	Launch func(headless bool) (controlURL string, cleanup func(), err error)
}

// Endpoint is where the session's browser lives.
type Endpoint struct {
	ControlURL  string
	LiveViewURL string
	Source      string
	cleanup     func()
}

// Resolve picks the browser endpoint: an explicit CDP URL, then a Kernel browser,
// then a freshly launched local Chrome.
func (o Options) Resolve(ctx context.Context) (Endpoint, error) {
	if u := strings.TrimSpace(o.CDPURL); u != "" {
		return Endpoint{ControlURL: u, Source: "cdp-url"}, nil
	}
	if o.KernelBrowserID != "" {
		if o.Kernel == nil {
			return Endpoint{}, ErrNoKernelClient
		}
		b, err := o.Kernel.Lookup(ctx, o.KernelBrowserID)
		if err != nil {
			return Endpoint{}, err
		}
		if b.CdpWsURL == "" {
			return Endpoint{}, fmt.Errorf("kernel browser %s has no CDP URL", o.KernelBrowserID)
		}
		return Endpoint{ControlURL: b.CdpWsURL, LiveViewURL: b.LiveViewURL, Source: "kernel"}, nil
	}

	launch := o.Launch
	if launch == nil {
		launch = launchLocal
	}
	u, cleanup, err := launch(o.Headless)
	if err != nil {
		return Endpoint{}, fmt.Errorf("failed to launch chrome: %w", err)
	}
	return Endpoint{ControlURL: u, Source: "local", cleanup: cleanup}, nil
}

func launchLocal(headless bool) (string, func(), error) {
	l := launcher.New().Headless(headless)
	u, err := l.Launch()
	if err != nil {
		return "", nil, err
	}
	return u, l.Cleanup, nil
}

// Tab is one attached chat tab.
type Tab struct {
	ID         string
	Controller *adapter.Controller
	conn       router.Conn
}

// TabStatus summarizes an attached tab.
type TabStatus struct {
	ID    string `json:"id"`
	Site  string `json:"site"`
	State string `json:"state"`
}

// Session owns the browser connection, one adapter per chat tab and the background
// service they report to.
type Session struct {
	browser  *rod.Browser
	endpoint Endpoint
	opts     Options
	logger   *zap.Logger
	svc      *background.Service

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu   sync.Mutex
	tabs map[string]*Tab
}

// Connect opens the browser selected by opts.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Registry == nil {
		opts.Registry = site.DefaultRegistry()
	}

	endpoint, err := opts.Resolve(ctx)
	if err != nil {
		return nil, err
	}

	sctx, cancel := context.WithCancel(ctx)
	b := rod.New().ControlURL(endpoint.ControlURL).Context(sctx)
	if err := b.Connect(); err != nil {
		cancel()
		if endpoint.cleanup != nil {
			endpoint.cleanup()
		}
		return nil, fmt.Errorf("failed to connect to %s browser: %w", endpoint.Source, err)
	}

	group, gctx := errgroup.WithContext(sctx)
	s := &Session{
		browser:  b,
		endpoint: endpoint,
		opts:     opts,
		logger:   opts.Logger,
		svc:      background.New(opts.Logger),
		ctx:      gctx,
		cancel:   cancel,
		group:    group,
		tabs:     make(map[string]*Tab),
	}
	s.logger.Debug("connected to browser", zap.String("source", endpoint.Source))
	return s, nil
}

// Service returns the background service the tabs report to.
func (s *Session) Service() *background.Service {
	return s.svc
}

// Endpoint returns where the browser lives.
func (s *Session) Endpoint() Endpoint {
	return s.endpoint
}

// AttachSupportedTabs attaches an adapter to every open tab on a supported chat site
// that is not attached yet, and returns the new tab ids.
func (s *Session) AttachSupportedTabs(ctx context.Context) ([]string, error) {
	pages, err := s.browser.Context(ctx).Pages()
	if err != nil {
		return nil, fmt.Errorf("failed to list tabs: %w", err)
	}

	var attached []string
	for _, p := range pages {
		info, err := p.Info()
		if err != nil {
			s.logger.Debug("skipping tab without info", zap.Error(err))
			continue
		}
		if !site.Resolve(info.URL).Supported() {
			continue
		}
		id := string(p.TargetID)
		s.mu.Lock()
		_, known := s.tabs[id]
		s.mu.Unlock()
		if known {
			continue
		}
		if err := s.attach(id, p); err != nil {
			s.logger.Warn("failed to attach tab", zap.String("tab", id), zap.Error(err))
			continue
		}
		attached = append(attached, id)
	}
	return attached, nil
}

func (s *Session) attach(id string, p *rod.Page) error {
	log := s.logger.With(zap.String("tab", id))
	doc := roddoc.New(s.ctx, p)

	bg, pageConn := router.Pipe()
	server := router.NewServer(pageConn, log)
	ctrl := adapter.New(doc, adapter.Options{
		Registry:     s.opts.Registry,
		Navigation:   roddoc.NewNavigationSource(doc.Page(), log),
		Changes:      roddoc.NewMutationSource(doc.Page(), log),
		Emitter:      server,
		Logger:       log,
		ReadyTimeout: s.opts.ReadyTimeout,
	})
	client := router.NewClient(bg, log)
	s.svc.Attach(s.ctx, id, client)

	s.group.Go(func() error {
		if err := server.Serve(s.ctx, ctrl); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("page server stopped", zap.Error(err))
		}
		return nil
	})
	s.group.Go(func() error {
		if err := client.Run(s.ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("background reader stopped", zap.Error(err))
		}
		return nil
	})

	if err := ctrl.Start(s.ctx); err != nil {
		_ = bg.Close()
		s.svc.Detach(id)
		return err
	}

	s.mu.Lock()
	s.tabs[id] = &Tab{ID: id, Controller: ctrl, conn: bg}
	s.mu.Unlock()
	return nil
}

// Tabs lists the attached tabs ordered by id.
func (s *Session) Tabs() []TabStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]TabStatus, 0, len(s.tabs))
	for id, t := range s.tabs {
		out = append(out, TabStatus{ID: id, Site: t.Controller.Site().String(), State: t.Controller.State().String()})
	}
	slices.SortFunc(out, func(a, b TabStatus) int { return strings.Compare(a.ID, b.ID) })
	return out
}

// Close destroys every adapter and disconnects. A browser launched by the session is
// shut down; remote browsers are left running.
func (s *Session) Close() error {
	s.mu.Lock()
	tabs := make([]*Tab, 0, len(s.tabs))
	for _, t := range s.tabs {
		tabs = append(tabs, t)
	}
	s.tabs = map[string]*Tab{}
	s.mu.Unlock()

	for _, t := range tabs {
		t.Controller.Destroy()
		_ = t.conn.Close()
	}
	s.cancel()
	err := s.group.Wait()
	s.svc.Wait()

	if s.endpoint.cleanup != nil {
		if cerr := s.browser.Close(); cerr != nil && err == nil {
			err = cerr
		}
		s.endpoint.cleanup()
	}
	return err
}
