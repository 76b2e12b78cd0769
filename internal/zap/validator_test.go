package zap

import (
	"errors"
	"testing"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

func TestParseContentAddress(t *testing.T) {
	k := newKeys(t)
	naddr, err := nip19.EncodeEntity(k.pk, 30311, "live-show", []string{"wss://relay.example"})
	if err != nil {
		t.Fatalf("EncodeEntity: %v", err)
	}

	got, err := ParseContentAddress(naddr)
	if err != nil {
		t.Fatalf("ParseContentAddress(naddr): %v", err)
	}
	if got != testCoordinate(k) {
		t.Errorf("got %q, want %q", got, testCoordinate(k))
	}

	raw, err := ParseContentAddress(testCoordinate(k))
	if err != nil || raw != testCoordinate(k) {
		t.Errorf("raw coordinate should pass through, got %q, %v", raw, err)
	}

	for _, bad := range []string{"", "30311:nothex:x", "kind:" + k.pk + ":x", "naddr1garbage"} {
		if _, err := ParseContentAddress(bad); !errors.Is(err, ErrInvalidAddress) {
			t.Errorf("ParseContentAddress(%q): expected ErrInvalidAddress, got %v", bad, err)
		}
	}
}

func TestValidator_Check_accepts_receipt(t *testing.T) {
	zapper, payer, host := newKeys(t), newKeys(t), newKeys(t)
	coord := testCoordinate(host)
	v := NewValidator(coord, nil)

	ev := signedReceipt(t, zapper, receiptTags(coord, "lnbc210n1example", zapRequestJSON(t, payer, coord, 21000, "great show")))

	r, err := v.Check("wss://relay.one", ev)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if r.EventID != ev.ID || r.Relay != "wss://relay.one" || r.Coordinate != coord || r.Source != SourceZap {
		t.Errorf("unexpected receipt identity %+v", r)
	}
	if r.Payer != payer.pk || r.Message != "great show" || r.ClaimedMsat != 21000 {
		t.Errorf("zap request fields not carried: %+v", r)
	}
	if r.Invoice != "lnbc210n1example" || r.Preimage == "" {
		t.Errorf("payment fields not carried: %+v", r)
	}
	if !r.CreatedAt.Equal(ev.CreatedAt.Time()) {
		t.Errorf("created_at mismatch: %v vs %v", r.CreatedAt, ev.CreatedAt.Time())
	}
}

func TestValidator_Check_same_event_from_two_relays(t *testing.T) {
	zapper, payer, host := newKeys(t), newKeys(t), newKeys(t)
	coord := testCoordinate(host)
	v := NewValidator(coord, nil)
	ev := signedReceipt(t, zapper, receiptTags(coord, "lnbc1", zapRequestJSON(t, payer, coord, 1000, "")))

	if _, err := v.Check("wss://relay.one", ev); err != nil {
		t.Fatalf("first relay: %v", err)
	}
	copyEv := *ev
	if _, err := v.Check("wss://relay.two", &copyEv); !errors.Is(err, ErrDuplicate) {
		t.Errorf("second relay should yield ErrDuplicate, got %v", err)
	}
	if _, err := v.Check("wss://relay.one", ev); !errors.Is(err, ErrDuplicate) {
		t.Errorf("replay should yield ErrDuplicate, got %v", err)
	}
}

func TestValidator_Check_rejections(t *testing.T) {
	zapper, payer, host := newKeys(t), newKeys(t), newKeys(t)
	coord := testCoordinate(host)
	desc := zapRequestJSON(t, payer, coord, 1000, "")

	tampered := signedReceipt(t, zapper, receiptTags(coord, "lnbc1", desc))
	tampered.Tags = append(tampered.Tags, nostr.Tag{"extra", "x"})

	badSig := signedReceipt(t, zapper, receiptTags(coord, "lnbc1", desc))
	other := signedReceipt(t, newKeys(t), receiptTags(coord, "lnbc1", desc))
	badSig.Sig = other.Sig

	wrongKind := &nostr.Event{Kind: 1, CreatedAt: nostr.Now(), Tags: receiptTags(coord, "lnbc1", desc)}
	if err := wrongKind.Sign(zapper.sk); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		ev   *nostr.Event
		want error
	}{
		{"nil event", nil, ErrInvalidEvent},
		{"tampered content", tampered, ErrInvalidEvent},
		{"bad signature", badSig, ErrInvalidEvent},
		{"wrong kind", wrongKind, ErrOutOfScope},
		{"other coordinate", signedReceipt(t, zapper, receiptTags("30311:"+zapper.pk+":other", "lnbc1", desc)), ErrOutOfScope},
		{"missing bolt11", signedReceipt(t, zapper, nostr.Tags{{"a", coord}, {"description", desc}}), ErrInvalidEvent},
		{"missing description", signedReceipt(t, zapper, nostr.Tags{{"a", coord}, {"bolt11", "lnbc1"}}), ErrInvalidEvent},
		{"description not json", signedReceipt(t, zapper, receiptTags(coord, "lnbc1", "{not json")), ErrInvalidEvent},
		{"description wrong kind", signedReceipt(t, zapper, receiptTags(coord, "lnbc1", `{"kind":1,"pubkey":"x","tags":[]}`)), ErrInvalidEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := NewValidator(coord, nil)
			if _, err := v.Check("wss://relay.one", tt.ev); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidator_Check_rejected_event_is_not_remembered(t *testing.T) {
	zapper, payer, host := newKeys(t), newKeys(t), newKeys(t)
	coord := testCoordinate(host)
	w := NewWindow(10, 0)
	v := NewValidator(coord, w)

	ev := signedReceipt(t, zapper, nostr.Tags{{"a", coord}, {"description", zapRequestJSON(t, payer, coord, 1000, "")}})
	if _, err := v.Check("wss://relay.one", ev); !errors.Is(err, ErrInvalidEvent) {
		t.Fatalf("expected ErrInvalidEvent, got %v", err)
	}
	if w.Len() != 0 {
		t.Errorf("invalid events must not enter the dedup window, len=%d", w.Len())
	}
}
