package zap

import (
	"strconv"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

type testKeys struct {
	sk, pk string
}

func newKeys(t *testing.T) testKeys {
	t.Helper()
	sk := nostr.GeneratePrivateKey()
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		t.Fatalf("GetPublicKey: %v", err)
	}
	return testKeys{sk: sk, pk: pk}
}

func testCoordinate(k testKeys) string {
	return "30311:" + k.pk + ":live-show"
}

// zapRequestJSON builds a signed kind 9734 event the way a wallet would put
// it in the description tag.
func zapRequestJSON(t *testing.T, payer testKeys, coordinate string, amountMsat int64, message string) string {
	t.Helper()
	req := nostr.Event{
		Kind:      KindZapRequest,
		CreatedAt: nostr.Now(),
		Content:   message,
		Tags: nostr.Tags{
			{"relays", "wss://relay.example"},
			{"amount", strconv.FormatInt(amountMsat, 10)},
			{"a", coordinate},
		},
	}
	if err := req.Sign(payer.sk); err != nil {
		t.Fatalf("sign zap request: %v", err)
	}
	return req.String()
}

// signedReceipt builds a kind 9735 receipt signed by the zapper service.
func signedReceipt(t *testing.T, zapper testKeys, tags nostr.Tags) *nostr.Event {
	t.Helper()
	ev := &nostr.Event{
		Kind:      KindZapReceipt,
		CreatedAt: nostr.Now(),
		Tags:      tags,
	}
	if err := ev.Sign(zapper.sk); err != nil {
		t.Fatalf("sign receipt: %v", err)
	}
	return ev
}

func receiptTags(coordinate, invoice, description string) nostr.Tags {
	return nostr.Tags{
		{"p", "f7234bd4c1394dda46d09f35bd384dd30cc552ad5541990f98844fb06676e9ca"},
		{"a", coordinate},
		{"bolt11", invoice},
		{"description", description},
		{"preimage", "5d006d2cf1e73c7148e7519a4c68adc81642ce0e25a432b2434c99f97344c15f"},
	}
}
