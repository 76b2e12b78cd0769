package boostagram

import (
	"fmt"

	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"

	"boostlights/internal/zap"
)

// KindStoredBoost is the NIP-78 application data kind boostboard uses to
// publish the boosts it received.
const KindStoredBoost = 30078

// SourceBoostboard marks boosts read from a boostboard relay.
const SourceBoostboard = "boostboard"

// Board validates boostboard events. Only events signed by one of the
// configured authors count; the author is the boostboard instance that
// received the payment, so its signature vouches for the amount.
// Check is safe for concurrent use.
type Board struct {
	authors map[string]struct{}
	filter  Filter
	seen    *zap.Window
}

// NewBoard returns a Board trusting authors (hex public keys). A nil window
// gets the default size.
func NewBoard(authors []string, filter Filter, seen *zap.Window) *Board {
	if seen == nil {
		seen = zap.NewWindow(0, 0)
	}
	set := make(map[string]struct{}, len(authors))
	for _, a := range authors {
		set[a] = struct{}{}
	}
	return &Board{authors: set, filter: filter, seen: seen}
}

// Authors returns the trusted public keys.
func (b *Board) Authors() []string {
	out := make([]string, 0, len(b.authors))
	for a := range b.authors {
		out = append(out, a)
	}
	return out
}

// Check validates ev as received from relayURL and returns the boost it
// reports. Errors wrap the zap package sentinels so callers treat both
// sources alike.
func (b *Board) Check(relayURL string, ev *nostr.Event) (zap.Boost, error) {
	if ev == nil {
		return zap.Boost{}, fmt.Errorf("%w: nil event", zap.ErrInvalidEvent)
	}
	if ev.GetID() != ev.ID {
		return zap.Boost{}, fmt.Errorf("%w: id does not match content", zap.ErrInvalidEvent)
	}
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		return zap.Boost{}, fmt.Errorf("%w: bad signature on %s", zap.ErrInvalidEvent, ev.ID)
	}

	if ev.Kind != KindStoredBoost {
		return zap.Boost{}, fmt.Errorf("%w: kind %d", zap.ErrOutOfScope, ev.Kind)
	}
	if _, ok := b.authors[ev.PubKey]; !ok {
		return zap.Boost{}, fmt.Errorf("%w: author %s not trusted", zap.ErrOutOfScope, ev.PubKey)
	}

	bg, err := parseStored(ev.Content)
	if err != nil {
		return zap.Boost{}, fmt.Errorf("%w: %s: %w", zap.ErrOutOfScope, ev.ID, err)
	}
	if !bg.IsBoost() {
		return zap.Boost{}, fmt.Errorf("%w: %s: action %q", zap.ErrOutOfScope, ev.ID, bg.Action)
	}
	if !b.filter.Match(bg) {
		return zap.Boost{}, fmt.Errorf("%w: %s: podcast %q not followed", zap.ErrOutOfScope, ev.ID, bg.Podcast)
	}

	if b.seen.Seen(ev.ID) {
		return zap.Boost{}, fmt.Errorf("%w: event %s", zap.ErrDuplicate, ev.ID)
	}

	return zap.Boost{
		Receipt: zap.Receipt{
			EventID:     ev.ID,
			Source:      SourceBoostboard,
			Relay:       relayURL,
			Payer:       bg.SenderName,
			ClaimedMsat: bg.ValueMsatTotal,
			Message:     bg.Message,
			CreatedAt:   ev.CreatedAt.Time(),
		},
		AmountMsat: bg.ValueMsatTotal,
	}, nil
}

// parseStored reads the boostboard event content, which wraps the
// boostagram in a "boostagram" object.
func parseStored(content string) (Boostagram, error) {
	if !gjson.Valid(content) {
		return Boostagram{}, fmt.Errorf("%w: content is not JSON", ErrNoBoostagram)
	}
	inner := gjson.Get(content, "boostagram")
	if !inner.Exists() {
		return Boostagram{}, fmt.Errorf("%w: content has no boostagram", ErrNoBoostagram)
	}
	return fromResult(inner)
}
