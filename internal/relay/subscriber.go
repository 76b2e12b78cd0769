package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/nbd-wtf/go-nostr"
)

// Event is a raw event together with the relay it arrived from. Nothing
// about it has been verified.
type Event struct {
	Relay string
	*nostr.Event

	cursor *conn
}

// Accept tells the relay that delivered e that the event was valid and in
// scope, so a reconnect may resume after it. Events that are never
// accepted do not move the resume point. Accept is a no-op for events that
// did not come from a Pool.
func (e Event) Accept() {
	if e.cursor != nil && e.Event != nil {
		e.cursor.advance(e.CreatedAt)
	}
}

// Filter selects the events a pool subscribes to. Coordinates become an
// "#a" tag filter.
type Filter struct {
	Kinds       []int
	Authors     []string
	Coordinates []string
	Since       time.Time
}

func (f Filter) build(since nostr.Timestamp) nostr.Filter {
	nf := nostr.Filter{
		Kinds:   f.Kinds,
		Authors: f.Authors,
	}
	if len(f.Coordinates) > 0 {
		nf.Tags = nostr.TagMap{"a": f.Coordinates}
	}
	if since > 0 {
		nf.Since = &since
	}
	return nf
}

// Subscriber opens one subscription on one relay. The returned channel is
// closed when the connection or the subscription ends.
type Subscriber interface {
	Subscribe(ctx context.Context, url string, filter nostr.Filter) (<-chan *nostr.Event, error)
}

// NostrSubscriber subscribes over a websocket connection per call.
type NostrSubscriber struct{}

// Subscribe implements Subscriber.
func (NostrSubscriber) Subscribe(ctx context.Context, url string, filter nostr.Filter) (<-chan *nostr.Event, error) {
	relay, err := nostr.RelayConnect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	sub, err := relay.Subscribe(ctx, nostr.Filters{filter})
	if err != nil {
		relay.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan *nostr.Event)
	go func() {
		defer close(out)
		defer relay.Close()
		defer sub.Unsub()

		for {
			select {
			case ev, ok := <-sub.Events:
				if !ok {
					return
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			case <-relay.Context().Done():
				return
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}
