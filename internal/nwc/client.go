package nwc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"boostlights/internal/zap"

	"github.com/goccy/go-json"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip04"
)

// Event kinds from NIP-47.
const (
	KindRequest  = 23194
	KindResponse = 23195
)

// ErrWallet wraps error responses returned by the wallet service.
var ErrWallet = errors.New("wallet error")

// RoundTripper delivers a signed request and returns the first event
// matching reply.
type RoundTripper interface {
	RoundTrip(ctx context.Context, req nostr.Event, reply nostr.Filter) (*nostr.Event, error)
}

type request struct {
	Method string `json:"method"`
	Params any    `json:"params"`
}

type lookupParams struct {
	Invoice string `json:"invoice"`
}

type walletError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type response struct {
	ResultType string          `json:"result_type"`
	Error      *walletError    `json:"error"`
	Result     json.RawMessage `json:"result"`
}

// Transaction is a wallet transaction as NIP-47 reports it. Amounts are in
// millisatoshis, times in unix seconds.
type Transaction struct {
	Type        string          `json:"type"`
	State       string          `json:"state"`
	Invoice     string          `json:"invoice"`
	Description string          `json:"description"`
	Preimage    string          `json:"preimage"`
	PaymentHash string          `json:"payment_hash"`
	Amount      int64           `json:"amount"`
	CreatedAt   int64           `json:"created_at"`
	SettledAt   int64           `json:"settled_at"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// Settled reports whether the wallet received the payment.
func (t Transaction) Settled() bool {
	return t.SettledAt > 0 || t.State == "settled"
}

// ListParams narrows list_transactions. Zero values are omitted.
type ListParams struct {
	From   int64  `json:"from,omitempty"`
	Until  int64  `json:"until,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	Unpaid bool   `json:"unpaid"`
	Type   string `json:"type,omitempty"`
}

type listResult struct {
	Transactions []Transaction `json:"transactions"`
}

// Client talks to a wallet service over Nostr. It implements zap.Wallet.
type Client struct {
	uri       URI
	clientPub string
	shared    []byte
	rt        RoundTripper
	log       *slog.Logger
}

// NewClient returns a client for uri. A nil rt connects to the first relay
// of the URI.
func NewClient(uri URI, rt RoundTripper, log *slog.Logger) (*Client, error) {
	pub, err := nostr.GetPublicKey(uri.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	shared, err := nip04.ComputeSharedSecret(uri.WalletPubKey, uri.Secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	if rt == nil {
		rt = NewRelayTransport(uri.Relays[0], log)
	}
	return &Client{
		uri:       uri,
		clientPub: pub,
		shared:    shared,
		rt:        rt,
		log:       log,
	}, nil
}

// LookupInvoice asks the wallet for the state of a bolt11 invoice.
func (c *Client) LookupInvoice(ctx context.Context, invoice string) (zap.Invoice, error) {
	raw, err := c.call(ctx, "lookup_invoice", lookupParams{Invoice: invoice})
	if err != nil {
		return zap.Invoice{}, err
	}

	var tx Transaction
	if err := json.Unmarshal(raw, &tx); err != nil {
		return zap.Invoice{}, fmt.Errorf("decode lookup_invoice result: %w", err)
	}

	inv := zap.Invoice{
		Paid:       tx.Settled(),
		AmountMsat: tx.Amount,
	}
	if tx.SettledAt > 0 {
		inv.SettledAt = time.Unix(tx.SettledAt, 0)
	}
	return inv, nil
}

// ListTransactions returns the wallet transactions matching p.
func (c *Client) ListTransactions(ctx context.Context, p ListParams) ([]Transaction, error) {
	raw, err := c.call(ctx, "list_transactions", p)
	if err != nil {
		return nil, err
	}
	var res listResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode list_transactions result: %w", err)
	}
	return res.Transactions, nil
}

func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	body, err := json.Marshal(request{Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	content, err := nip04.Encrypt(string(body), c.shared)
	if err != nil {
		return nil, fmt.Errorf("encrypt %s: %w", method, err)
	}

	req := nostr.Event{
		Kind:      KindRequest,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"p", c.uri.WalletPubKey}},
		Content:   content,
	}
	if err := req.Sign(c.uri.Secret); err != nil {
		return nil, fmt.Errorf("sign %s: %w", method, err)
	}

	reply := nostr.Filter{
		Kinds:   []int{KindResponse},
		Authors: []string{c.uri.WalletPubKey},
		Tags:    nostr.TagMap{"e": []string{req.ID}},
	}

	c.log.Debug("wallet request", slog.String("method", method), slog.String("request_id", req.ID))
	ev, err := c.rt.RoundTrip(ctx, req, reply)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	if ok, err := ev.CheckSignature(); err != nil || !ok {
		return nil, fmt.Errorf("%s: response %s has a bad signature", method, ev.ID)
	}

	plain, err := nip04.Decrypt(ev.Content, c.shared)
	if err != nil {
		return nil, fmt.Errorf("decrypt %s response: %w", method, err)
	}
	var resp response
	if err := json.Unmarshal([]byte(plain), &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrWallet, resp.Error.Code, resp.Error.Message)
	}
	if resp.ResultType != method {
		return nil, fmt.Errorf("%w: expected %s result, got %q", ErrWallet, method, resp.ResultType)
	}
	return resp.Result, nil
}
