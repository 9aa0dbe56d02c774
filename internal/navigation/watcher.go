// Package navigation detects in-page route changes of single-page chat apps.
package navigation

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ErrAlreadyInstalled is returned by a second Install on the same Watcher.
var ErrAlreadyInstalled = errors.New("navigation watcher already installed")

// History is the pair of location-mutation entry points of a page.
type History interface {
	PushState(url string)
	ReplaceState(url string)
}

// Source reports navigations the watcher cannot intercept itself, such as back/forward.
type Source interface {
	Listen(fn func(url string)) (stop func(), err error)
}

// Watcher raises a location-changed callback once per distinct URL.
type Watcher struct {
	mu        sync.Mutex
	last      string
	onChange  func(url string)
	installed bool
	stop      func()
	logger    *zap.Logger
}

// New returns a Watcher that considers initialURL already seen.
func New(initialURL string, onChange func(url string), logger *zap.Logger) *Watcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Watcher{last: initialURL, onChange: onChange, logger: logger}
}

// Install starts listening on src. A nil src is allowed when every navigation goes
// through a wrapped History.
func (w *Watcher) Install(src Source) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.installed {
		return ErrAlreadyInstalled
	}
	if src != nil {
		stop, err := src.Listen(func(url string) { w.Observe(url) })
		if err != nil {
			return fmt.Errorf("failed to listen for navigation: %w", err)
		}
		w.stop = stop
	}
	w.installed = true
	return nil
}

// Wrap returns a History that forwards to h and then reports the new location.
func (w *Watcher) Wrap(h History) History {
	return &wrappedHistory{inner: h, watcher: w}
}

// Observe records url and reports whether it differs from the last one seen. The
// last URL is updated before the callback runs, so a callback that navigates again to
// the same URL does not fire twice.
func (w *Watcher) Observe(url string) bool {
	w.mu.Lock()
	if !w.installed || url == w.last {
		w.mu.Unlock()
		return false
	}
	prev := w.last
	w.last = url
	fn := w.onChange
	w.mu.Unlock()

	w.logger.Debug("location changed", zap.String("from", prev), zap.String("to", url))
	if fn != nil {
		fn(url)
	}
	return true
}

// LastURL returns the most recently observed location.
func (w *Watcher) LastURL() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}

// Uninstall stops listening. Wrapped histories keep forwarding but no longer notify.
func (w *Watcher) Uninstall() {
	w.mu.Lock()
	stop := w.stop
	w.stop = nil
	w.installed = false
	w.mu.Unlock()

	if stop != nil {
		stop()
	}
}

type wrappedHistory struct {
	inner   History
	watcher *Watcher
}

func (h *wrappedHistory) PushState(url string) {
	h.inner.PushState(url)
	h.watcher.Observe(url)
}

func (h *wrappedHistory) ReplaceState(url string) {
	h.inner.ReplaceState(url)
	h.watcher.Observe(url)
}
