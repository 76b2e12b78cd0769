package nwc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// RelayTransport keeps one connection to the wallet relay and reconnects
// lazily when it drops.
type RelayTransport struct {
	url string
	log *slog.Logger

	mu    sync.Mutex
	relay *nostr.Relay
}

// NewRelayTransport returns a transport for url. It does not connect until
// the first request.
func NewRelayTransport(url string, log *slog.Logger) *RelayTransport {
	return &RelayTransport{url: url, log: log}
}

func (t *RelayTransport) conn(ctx context.Context) (*nostr.Relay, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.relay != nil && t.relay.IsConnected() {
		return t.relay, nil
	}
	relay, err := nostr.RelayConnect(ctx, t.url)
	if err != nil {
		return nil, fmt.Errorf("connect to wallet relay %s: %w", t.url, err)
	}
	t.log.Info("connected to wallet relay", slog.String("relay", t.url))
	t.relay = relay
	return relay, nil
}

// RoundTrip subscribes to the reply before publishing so a fast wallet
// cannot answer unseen.
func (t *RelayTransport) RoundTrip(ctx context.Context, req nostr.Event, reply nostr.Filter) (*nostr.Event, error) {
	relay, err := t.conn(ctx)
	if err != nil {
		return nil, err
	}

	sub, err := relay.Subscribe(ctx, nostr.Filters{reply})
	if err != nil {
		return nil, fmt.Errorf("subscribe for reply: %w", err)
	}
	defer sub.Unsub()

	if err := relay.Publish(ctx, req); err != nil {
		return nil, fmt.Errorf("publish request: %w", err)
	}

	select {
	case ev, ok := <-sub.Events:
		if !ok {
			return nil, errors.New("wallet relay closed the subscription")
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close drops the relay connection.
func (t *RelayTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.relay == nil {
		return nil
	}
	err := t.relay.Close()
	t.relay = nil
	return err
}
