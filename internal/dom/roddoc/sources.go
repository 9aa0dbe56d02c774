package roddoc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/google/uuid"
	"github.com/ysmood/gson"
	"go.uber.org/zap"

	"github.com/kernel/chatbridge/internal/dom"
)

// NavigationSource reports location changes of a tab: history.pushState and
// replaceState, back/forward, and full main-frame navigations all surface here.
type NavigationSource struct {
	page   *rod.Page
	logger *zap.Logger
}

// NewNavigationSource watches page.
func NewNavigationSource(page *rod.Page, logger *zap.Logger) *NavigationSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NavigationSource{page: page, logger: logger}
}

// Listen calls fn with the tab URL after every navigation event. Events from iframes
// also trigger a lookup; the watcher on the other end drops unchanged URLs.
func (s *NavigationSource) Listen(fn func(url string)) (func(), error) {
	if err := (proto.PageEnable{}).Call(s.page); err != nil {
		return nil, fmt.Errorf("failed to enable page domain: %w", err)
	}

	ctx, cancel := context.WithCancel(s.page.GetContext())
	page := s.page.Context(ctx)
	kicks := make(chan struct{}, 1)
	kick := func() {
		select {
		case kicks <- struct{}{}:
		default:
		}
	}

	wait := page.EachEvent(
		func(e *proto.PageNavigatedWithinDocument) { kick() },
		func(e *proto.PageFrameNavigated) {
			if e.Frame != nil && e.Frame.ParentID == "" {
				kick()
			}
		},
	)
	go wait()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-kicks:
				info, err := page.Info()
				if err != nil {
					s.logger.Debug("navigation lookup failed", zap.Error(err))
					continue
				}
				fn(info.URL)
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(cancel) }, nil
}

// MutationSource reports element nodes added to a live tab. Batches come from a
// MutationObserver installed in the page, so one callback maps to one observer record
// list, the same coalescing the browser already does.
type MutationSource struct {
	page   *rod.Page
	logger *zap.Logger
}

// NewMutationSource watches page.
func NewMutationSource(page *rod.Page, logger *zap.Logger) *MutationSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MutationSource{page: page, logger: logger}
}

const observerScript = `function(binding, marker, handle) {
	let seq = 0;
	const obs = new MutationObserver((records) => {
		const batch = handle + ':' + (++seq);
		let added = 0;
		for (const r of records) {
			for (const node of r.addedNodes) {
				if (node.nodeType === Node.ELEMENT_NODE) {
					node.setAttribute(marker, batch);
					added++;
				}
			}
		}
		if (added > 0) window[binding](batch);
	});
	obs.observe(this, { childList: true, subtree: true });
	window.__chatbridgeObservers = window.__chatbridgeObservers || {};
	window.__chatbridgeObservers[handle] = obs;
}`

const disconnectScript = `(handle) => {
	const all = window.__chatbridgeObservers || {};
	if (all[handle]) { all[handle].disconnect(); delete all[handle]; }
}`

const markerAttr = "data-chatbridge-batch"

// Observe installs an observer on root. The returned stop disconnects it.
func (s *MutationSource) Observe(root dom.Element, fn func(added []dom.Element)) (func(), error) {
	r, ok := root.(*Element)
	if !ok {
		return nil, errors.New("observe root is not a live element")
	}

	handle := uuid.NewString()
	binding := "__chatbridgeMutations_" + handle[:8]
	batches := make(chan string, 16)

	stopExpose, err := s.page.Expose(binding, func(j gson.JSON) (interface{}, error) {
		batch := j.Str()
		if arr := j.Arr(); len(arr) > 0 {
			batch = arr[0].Str()
		}
		select {
		case batches <- batch:
		default:
			s.logger.Warn("dropping mutation batch, consumer is behind", zap.String("batch", batch))
		}
		return nil, nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to expose mutation binding: %w", err)
	}

	if _, err := r.el.Eval(observerScript, binding, markerAttr, handle); err != nil {
		_ = stopExpose()
		return nil, fmt.Errorf("failed to install mutation observer: %w", err)
	}

	ctx, cancel := context.WithCancel(s.page.GetContext())
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case batch := <-batches:
				sel := fmt.Sprintf(`[%s=%q]`, markerAttr, batch)
				els, err := s.page.Context(ctx).Elements(sel)
				if err != nil {
					s.logger.Debug("failed to collect mutation batch", zap.String("batch", batch), zap.Error(err))
					continue
				}
				for _, el := range els {
					_, _ = el.Context(ctx).Eval(`function(m) { this.removeAttribute(m) }`, markerAttr)
				}
				if len(els) > 0 {
					fn(wrapAll(els))
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			_, _ = s.page.Eval(disconnectScript, handle)
			_ = stopExpose()
		})
	}, nil
}
