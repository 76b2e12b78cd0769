package relay

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

type opened struct {
	url string
	ch  chan *nostr.Event
}

type fakeSubscriber struct {
	mu       sync.Mutex
	filters  map[string][]nostr.Filter
	failures map[string]int
	opened   chan opened
}

func newFakeSubscriber() *fakeSubscriber {
	return &fakeSubscriber{
		filters:  make(map[string][]nostr.Filter),
		failures: make(map[string]int),
		opened:   make(chan opened, 8),
	}
}

func (f *fakeSubscriber) Subscribe(ctx context.Context, url string, filter nostr.Filter) (<-chan *nostr.Event, error) {
	f.mu.Lock()
	f.filters[url] = append(f.filters[url], filter)
	if f.failures[url] > 0 {
		f.failures[url]--
		f.mu.Unlock()
		return nil, errors.New("dial refused")
	}
	f.mu.Unlock()

	ch := make(chan *nostr.Event, 8)
	select {
	case f.opened <- opened{url: url, ch: ch}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return ch, nil
}

func (f *fakeSubscriber) filtersFor(url string) []nostr.Filter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]nostr.Filter(nil), f.filters[url]...)
}

func (f *fakeSubscriber) next(t *testing.T) opened {
	t.Helper()
	select {
	case o := <-f.opened:
		return o
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a subscription")
		return opened{}
	}
}

func startPool(t *testing.T, cfg Config, sub Subscriber) *Pool {
	t.Helper()
	p := NewPool(cfg, sub, slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = p.Serve(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return p
}

func nextEvent(t *testing.T, p *Pool) Event {
	t.Helper()
	select {
	case ev := <-p.Events():
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return Event{}
	}
}

func TestPool_merges_relays(t *testing.T) {
	sub := newFakeSubscriber()
	p := startPool(t, Config{
		URLs:   []string{"wss://one", "wss://two"},
		Filter: Filter{Kinds: []int{9735}, Coordinates: []string{"30311:abc:show"}},
	}, sub)

	conns := map[string]chan *nostr.Event{}
	for i := 0; i < 2; i++ {
		o := sub.next(t)
		conns[o.url] = o.ch
	}

	ev := &nostr.Event{ID: "e1", Kind: 9735, CreatedAt: 1700000000}
	conns["wss://one"] <- ev
	conns["wss://two"] <- ev

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		got := nextEvent(t, p)
		if got.ID != "e1" {
			t.Errorf("unexpected event %+v", got.Event)
		}
		seen[got.Relay] = true
	}
	if !seen["wss://one"] || !seen["wss://two"] {
		t.Errorf("both relays should deliver their copy, got %v", seen)
	}

	f := sub.filtersFor("wss://one")[0]
	if len(f.Kinds) != 1 || f.Kinds[0] != 9735 || f.Tags["a"][0] != "30311:abc:show" {
		t.Errorf("unexpected filter %+v", f)
	}
	if f.Since != nil {
		t.Errorf("no since expected without a start time, got %v", *f.Since)
	}
}

func TestPool_reconnect_moves_since_forward(t *testing.T) {
	sub := newFakeSubscriber()
	start := time.Unix(1699999000, 0)
	p := startPool(t, Config{
		URLs:           []string{"wss://one"},
		Filter:         Filter{Kinds: []int{9735}, Since: start},
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Overlap:        10 * time.Second,
	}, sub)

	first := sub.next(t)
	first.ch <- &nostr.Event{ID: "e1", CreatedAt: 1700000000}
	first.ch <- &nostr.Event{ID: "e0", CreatedAt: 1699999500}
	nextEvent(t, p).Accept()
	nextEvent(t, p).Accept()
	close(first.ch)

	sub.next(t)
	filters := sub.filtersFor("wss://one")
	if len(filters) != 2 {
		t.Fatalf("expected two subscriptions, got %d", len(filters))
	}
	if *filters[0].Since != nostr.Timestamp(start.Unix()) {
		t.Errorf("first subscription should start at the configured time, got %v", *filters[0].Since)
	}
	if *filters[1].Since != 1700000000-10 {
		t.Errorf("reconnect should resume just before the newest accepted event, got %v", *filters[1].Since)
	}

	deadline := time.Now().Add(2 * time.Second)
	for !p.Status()[0].Connected && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	st := p.Status()[0]
	if st.Reconnects != 1 || st.Events != 2 || !st.Connected {
		t.Errorf("unexpected status %+v", st)
	}
}

func TestPool_retries_failed_subscriptions(t *testing.T) {
	sub := newFakeSubscriber()
	sub.failures["wss://flaky"] = 2
	p := startPool(t, Config{
		URLs:           []string{"wss://flaky"},
		InitialBackoff: time.Millisecond,
		MaxBackoff:     2 * time.Millisecond,
	}, sub)

	o := sub.next(t)
	if o.url != "wss://flaky" {
		t.Fatalf("unexpected relay %s", o.url)
	}
	st := p.Status()[0]
	if st.Reconnects != 2 {
		t.Errorf("expected 2 reconnects, got %d", st.Reconnects)
	}
	if !strings.Contains(st.LastError, "dial refused") {
		t.Errorf("last error should be kept, got %q", st.LastError)
	}
}

func TestPool_reconnect_ignores_unaccepted_and_future_events(t *testing.T) {
	sub := newFakeSubscriber()
	start := time.Now().Add(-time.Minute).Truncate(time.Second)
	p := startPool(t, Config{
		URLs:           []string{"wss://one"},
		Filter:         Filter{Kinds: []int{9735}, Since: start},
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Overlap:        10 * time.Second,
	}, sub)
	future := nostr.Timestamp(time.Date(2100, 1, 1, 0, 0, 0, 0, time.UTC).Unix())

	// An event nobody accepted must not move the resume point.
	first := sub.next(t)
	first.ch <- &nostr.Event{ID: "junk", Kind: 9735, CreatedAt: future}
	nextEvent(t, p)
	close(first.ch)

	second := sub.next(t)
	if got := *sub.filtersFor("wss://one")[1].Since; got != nostr.Timestamp(start.Unix()) {
		t.Fatalf("unaccepted event moved since to %v", got.Time())
	}

	// An accepted event from the future is clamped to the clock.
	second.ch <- &nostr.Event{ID: "ahead", Kind: 9735, CreatedAt: future}
	nextEvent(t, p).Accept()
	close(second.ch)

	sub.next(t)
	got := sub.filtersFor("wss://one")[2].Since.Time()
	if got.After(time.Now()) {
		t.Errorf("reconnect filter starts in the future: %v", got)
	}
	if got.Before(start) {
		t.Errorf("reconnect filter starts before the configured start: %v", got)
	}
}

func TestEvent_Accept_without_pool(t *testing.T) {
	// Events built by hand, as in tests of the pipeline, have no relay
	// cursor to move.
	Event{Relay: "wss://one", Event: &nostr.Event{ID: "e1"}}.Accept()
	Event{Relay: "wss://one"}.Accept()
}

func TestPools_Status_names_each_pool(t *testing.T) {
	zaps := newFakeSubscriber()
	board := newFakeSubscriber()
	zp := startPool(t, Config{URLs: []string{"wss://one"}}, zaps)
	bp := startPool(t, Config{
		Name:   "boostboard-pool",
		URLs:   []string{"wss://board"},
		Filter: Filter{Kinds: []int{30078}, Authors: []string{"abc"}},
	}, board)
	zaps.next(t)
	board.next(t)

	st := Pools{zp, nil, bp}.Status()
	if len(st) != 2 {
		t.Fatalf("expected 2 relays, got %+v", st)
	}
	if st[0].Pool != DefaultName || st[0].URL != "wss://one" {
		t.Errorf("unexpected first status %+v", st[0])
	}
	if st[1].Pool != "boostboard-pool" || st[1].URL != "wss://board" {
		t.Errorf("unexpected second status %+v", st[1])
	}
	if bp.String() != "boostboard-pool" {
		t.Errorf("String = %q", bp.String())
	}

	f := board.filtersFor("wss://board")[0]
	if len(f.Authors) != 1 || f.Authors[0] != "abc" || f.Tags != nil {
		t.Errorf("author filter not passed through: %+v", f)
	}
}
