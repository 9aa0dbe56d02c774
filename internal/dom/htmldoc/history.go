package htmldoc

import "sync"

// PushState records a new history entry and moves the location to u.
func (d *Document) PushState(u string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.history = append(d.history, d.url)
	d.url = u
}

// ReplaceState moves the location to u without a new history entry.
func (d *Document) ReplaceState(u string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.url = u
}

// Back pops one history entry and notifies popstate listeners. It reports false when
// there is nothing to go back to.
func (d *Document) Back() bool {
	d.mu.Lock()
	if len(d.history) == 0 {
		d.mu.Unlock()
		return false
	}
	d.url = d.history[len(d.history)-1]
	d.history = d.history[:len(d.history)-1]
	u := d.url
	listeners := make([]func(string), 0, len(d.popListeners))
	for _, fn := range d.popListeners {
		listeners = append(listeners, fn)
	}
	d.mu.Unlock()

	for _, fn := range listeners {
		fn(u)
	}
	return true
}

// Listen registers fn for back/forward navigation.
func (d *Document) Listen(fn func(url string)) (func(), error) {
	d.mu.Lock()
	if d.popListeners == nil {
		d.popListeners = make(map[int]func(string))
	}
	id := d.nextObsID
	d.nextObsID++
	d.popListeners[id] = fn
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.popListeners, id)
			d.mu.Unlock()
		})
	}, nil
}
