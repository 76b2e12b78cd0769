package zap

import (
	"container/list"
	"sync"
	"time"
)

// Default dedup window settings.
const (
	DefaultWindowCapacity = 4096
	DefaultWindowTTL      = 2 * time.Minute
)

type windowEntry struct {
	key  string
	seen time.Time
}

// Window remembers keys for a limited time and a limited count. It answers
// one question: was this key already seen recently? Entries leave the window
// when they are older than the TTL or when capacity forces out the oldest.
type Window struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	now      func() time.Time

	// front is the newest entry, back the oldest
	order *list.List
	items map[string]*list.Element
}

// NewWindow returns an empty window. Non-positive arguments select the
// defaults.
func NewWindow(capacity int, ttl time.Duration) *Window {
	if capacity <= 0 {
		capacity = DefaultWindowCapacity
	}
	if ttl <= 0 {
		ttl = DefaultWindowTTL
	}
	return &Window{
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Seen records key and reports whether it was already inside the window.
// A duplicate does not extend the lifetime of the original entry.
func (w *Window) Seen(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.expire(now)

	if _, ok := w.items[key]; ok {
		return true
	}

	w.items[key] = w.order.PushFront(&windowEntry{key: key, seen: now})
	for len(w.items) > w.capacity {
		w.remove(w.order.Back())
	}
	return false
}

// Forget drops key so the next Seen treats it as new.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if el, ok := w.items[key]; ok {
		w.remove(el)
	}
}

// Len returns the number of live entries.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.expire(w.now())
	return len(w.items)
}

func (w *Window) expire(now time.Time) {
	for el := w.order.Back(); el != nil; el = w.order.Back() {
		if now.Sub(el.Value.(*windowEntry).seen) < w.ttl {
			return
		}
		w.remove(el)
	}
}

func (w *Window) remove(el *list.Element) {
	w.order.Remove(el)
	delete(w.items, el.Value.(*windowEntry).key)
}
