package zap

import (
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

var (
	// ErrInvalidEvent marks events that are malformed or carry a bad
	// signature. They are dropped.
	ErrInvalidEvent = errors.New("invalid zap event")

	// ErrOutOfScope marks well-formed events that do not concern the
	// configured content address. They are dropped silently.
	ErrOutOfScope = errors.New("event out of scope")

	// ErrDuplicate marks an event or payment already seen inside the dedup
	// window.
	ErrDuplicate = errors.New("duplicate zap")
)

// Validator turns raw relay events into receipts, at most once per event ID
// inside its window. Check is safe for concurrent use.
type Validator struct {
	coordinate string
	seen       *Window
}

// NewValidator returns a validator for zaps aimed at coordinate. A nil
// window gets the default size.
func NewValidator(coordinate string, seen *Window) *Validator {
	if seen == nil {
		seen = NewWindow(0, 0)
	}
	return &Validator{coordinate: coordinate, seen: seen}
}

// Coordinate returns the "a" tag value the validator accepts.
func (v *Validator) Coordinate() string {
	return v.coordinate
}

// Check validates ev as received from relayURL.
func (v *Validator) Check(relayURL string, ev *nostr.Event) (Receipt, error) {
	if ev == nil {
		return Receipt{}, fmt.Errorf("%w: nil event", ErrInvalidEvent)
	}
	if ev.GetID() != ev.ID {
		return Receipt{}, fmt.Errorf("%w: id does not match content", ErrInvalidEvent)
	}
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		return Receipt{}, fmt.Errorf("%w: bad signature on %s", ErrInvalidEvent, ev.ID)
	}

	if ev.Kind != KindZapReceipt {
		return Receipt{}, fmt.Errorf("%w: kind %d", ErrOutOfScope, ev.Kind)
	}
	if !hasTag(ev.Tags, "a", v.coordinate) {
		return Receipt{}, fmt.Errorf("%w: no a tag for %s", ErrOutOfScope, v.coordinate)
	}

	invoice, ok := tagValue(ev.Tags, "bolt11")
	if !ok || invoice == "" {
		return Receipt{}, fmt.Errorf("%w: %s has no bolt11 tag", ErrInvalidEvent, ev.ID)
	}
	description, ok := tagValue(ev.Tags, "description")
	if !ok {
		return Receipt{}, fmt.Errorf("%w: %s has no description tag", ErrInvalidEvent, ev.ID)
	}
	req, err := parseZapRequest(description)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %s: %w", ErrInvalidEvent, ev.ID, err)
	}

	if v.seen.Seen(ev.ID) {
		return Receipt{}, fmt.Errorf("%w: event %s", ErrDuplicate, ev.ID)
	}

	payer := req.payer
	if payer == "" {
		payer, _ = tagValue(ev.Tags, "P")
	}
	preimage, _ := tagValue(ev.Tags, "preimage")

	return Receipt{
		EventID:     ev.ID,
		Source:      SourceZap,
		Relay:       relayURL,
		Coordinate:  v.coordinate,
		Payer:       payer,
		ClaimedMsat: req.amountMsat,
		Invoice:     invoice,
		Preimage:    preimage,
		Message:     req.message,
		CreatedAt:   ev.CreatedAt.Time(),
	}, nil
}
