package zap

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/tidwall/gjson"
)

// Event kinds from NIP-57.
const (
	KindZapRequest = 9734
	KindZapReceipt = 9735
)

// SourceZap marks receipts read from NIP-57 zap receipts.
const SourceZap = "zap"

// ErrInvalidAddress is returned by ParseContentAddress.
var ErrInvalidAddress = errors.New("invalid content address")

// Receipt is a zap receipt that passed validation. ClaimedMsat comes from
// the zap request and is not trusted; only the wallet settles the amount.
type Receipt struct {
	EventID     string    `json:"event_id"`
	Source      string    `json:"source"`
	Relay       string    `json:"relay"`
	Coordinate  string    `json:"coordinate"`
	Payer       string    `json:"payer,omitempty"`
	ClaimedMsat int64     `json:"claimed_msat"`
	Invoice     string    `json:"invoice"`
	Preimage    string    `json:"preimage,omitempty"`
	Message     string    `json:"message,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// ParseContentAddress accepts an naddr bech32 string or a raw
// "kind:pubkey:identifier" coordinate and returns the coordinate as it
// appears in "a" tags.
func ParseContentAddress(s string) (string, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "naddr1") {
		prefix, value, err := nip19.Decode(s)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrInvalidAddress, err)
		}
		if prefix != "naddr" {
			return "", fmt.Errorf("%w: unexpected %s entity", ErrInvalidAddress, prefix)
		}
		var ep nostr.EntityPointer
		switch v := value.(type) {
		case nostr.EntityPointer:
			ep = v
		case *nostr.EntityPointer:
			ep = *v
		default:
			return "", fmt.Errorf("%w: unexpected naddr payload %T", ErrInvalidAddress, value)
		}
		return fmt.Sprintf("%d:%s:%s", ep.Kind, ep.PublicKey, ep.Identifier), nil
	}

	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return "", fmt.Errorf("%w: %q is neither naddr nor kind:pubkey:identifier", ErrInvalidAddress, s)
	}
	if _, err := strconv.Atoi(parts[0]); err != nil {
		return "", fmt.Errorf("%w: kind %q is not a number", ErrInvalidAddress, parts[0])
	}
	if b, err := hex.DecodeString(parts[1]); err != nil || len(b) != 32 {
		return "", fmt.Errorf("%w: pubkey %q is not 32-byte hex", ErrInvalidAddress, parts[1])
	}
	return s, nil
}

func tagValue(tags nostr.Tags, name string) (string, bool) {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}

func hasTag(tags nostr.Tags, name, value string) bool {
	for _, tag := range tags {
		if len(tag) >= 2 && tag[0] == name && tag[1] == value {
			return true
		}
	}
	return false
}

// zapRequest holds the fields read from the description tag.
type zapRequest struct {
	payer      string
	message    string
	amountMsat int64
}

func parseZapRequest(description string) (zapRequest, error) {
	if !gjson.Valid(description) {
		return zapRequest{}, errors.New("description is not a JSON zap request")
	}
	doc := gjson.Parse(description)
	if kind := doc.Get("kind"); kind.Exists() && kind.Int() != KindZapRequest {
		return zapRequest{}, fmt.Errorf("description has kind %d, want %d", kind.Int(), KindZapRequest)
	}

	req := zapRequest{
		payer:   doc.Get("pubkey").String(),
		message: doc.Get("content").String(),
	}
	doc.Get("tags").ForEach(func(_, tag gjson.Result) bool {
		fields := tag.Array()
		if len(fields) >= 2 && fields[0].String() == "amount" {
			req.amountMsat, _ = strconv.ParseInt(fields[1].String(), 10, 64)
			return false
		}
		return true
	})
	return req, nil
}
