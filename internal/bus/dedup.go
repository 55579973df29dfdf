package bus

import (
	"sync"
	"time"
)

// dedupWindow tracks recently seen idempotency keys. A key admitted once is
// rejected again until the window elapses, protecting against at-least-once
// transport redelivery.
type dedupWindow struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time
}

func newDedupWindow(window time.Duration) *dedupWindow {
	return &dedupWindow{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// admit records key and reports whether it was new within the window.
func (d *dedupWindow) admit(key string, now time.Time) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Opportunistic purge keeps the map bounded by traffic in one window.
	for k, t := range d.seen {
		if now.Sub(t) > d.window {
			delete(d.seen, k)
		}
	}

	if t, ok := d.seen[key]; ok && now.Sub(t) <= d.window {
		return false
	}
	d.seen[key] = now
	return true
}
