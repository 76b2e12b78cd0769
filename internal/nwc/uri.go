package nwc

import (
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Scheme is the URI scheme of a wallet connection string.
const Scheme = "nostr+walletconnect"

// ErrInvalidURI is returned by ParseURI.
var ErrInvalidURI = errors.New("invalid wallet connect uri")

// URI is a parsed wallet connection string.
type URI struct {
	WalletPubKey string
	Relays       []string
	Secret       string
	LUD16        string
}

// ParseURI parses "nostr+walletconnect://<pubkey>?relay=...&secret=...".
func ParseURI(raw string) (URI, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return URI{}, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	if u.Scheme != Scheme {
		return URI{}, fmt.Errorf("%w: scheme %q", ErrInvalidURI, u.Scheme)
	}

	// Some wallets emit "nostr+walletconnect:<pubkey>" without slashes.
	pub := u.Host
	if pub == "" {
		pub = strings.TrimPrefix(u.Opaque, "//")
	}
	if !isKey(pub) {
		return URI{}, fmt.Errorf("%w: wallet pubkey %q", ErrInvalidURI, pub)
	}

	q := u.Query()
	out := URI{
		WalletPubKey: pub,
		Relays:       q["relay"],
		Secret:       q.Get("secret"),
		LUD16:        q.Get("lud16"),
	}
	if len(out.Relays) == 0 {
		return URI{}, fmt.Errorf("%w: no relay", ErrInvalidURI)
	}
	if !isKey(out.Secret) {
		return URI{}, fmt.Errorf("%w: secret must be 32-byte hex", ErrInvalidURI)
	}
	return out, nil
}

// String returns the URI with the secret redacted, for logs.
func (u URI) String() string {
	return fmt.Sprintf("%s://%s?relay=%s&secret=redacted", Scheme, u.WalletPubKey, strings.Join(u.Relays, ","))
}

func isKey(s string) bool {
	b, err := hex.DecodeString(s)
	return err == nil && len(b) == 32
}
