package daemon

import (
	"sort"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debouncer collects paths until no new event has arrived for one window,
// then signals ready. The latest operation per path wins.
type debouncer struct {
	window time.Duration
	ready  chan struct{}

	mu      sync.Mutex
	pending map[string]fsnotify.Op
	rescan  bool
	timer   *time.Timer
	stopped bool
}

func newDebouncer(window time.Duration) *debouncer {
	return &debouncer{
		window:  window,
		ready:   make(chan struct{}, 1),
		pending: make(map[string]fsnotify.Op),
	}
}

// add records an event for path and restarts the window.
func (d *debouncer) add(path string, op fsnotify.Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pending[path] = op
	d.resetLocked()
}

// requestRescan asks for a full crawl in place of the next batch.
func (d *debouncer) requestRescan() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rescan = true
	d.resetLocked()
}

func (d *debouncer) resetLocked() {
	if d.stopped {
		return
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.fire)
}

func (d *debouncer) fire() {
	select {
	case d.ready <- struct{}{}:
	default:
	}
}

// drain returns the pending paths in sorted order and whether a full crawl
// was requested, and clears both.
func (d *debouncer) drain() ([]string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	paths := make([]string, 0, len(d.pending))
	for p := range d.pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	rescan := d.rescan
	d.pending = make(map[string]fsnotify.Op)
	d.rescan = false
	return paths, rescan
}

// stop cancels the pending window. Events added after stop never fire.
func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
}
