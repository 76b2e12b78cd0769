package zap

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
)

// ErrPaymentUnconfirmed is returned when the wallet does not vouch for a
// receipt: the invoice is unknown, unpaid, zero or the lookup timed out.
var ErrPaymentUnconfirmed = errors.New("payment unconfirmed")

// Defaults for CorrelatorConfig.
const (
	DefaultLookupTimeout = 5 * time.Second
	DefaultConcurrency   = 8
)

// Invoice is the wallet's view of a payment.
type Invoice struct {
	Paid       bool
	AmountMsat int64
	SettledAt  time.Time
}

// Wallet looks up invoices by their bolt11 string.
type Wallet interface {
	LookupInvoice(ctx context.Context, invoice string) (Invoice, error)
}

// Boost is a receipt whose payment the wallet confirmed. AmountMsat is the
// settled amount, not the claimed one.
type Boost struct {
	Receipt
	AmountMsat  int64     `json:"amount_msat"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Sats returns the confirmed amount in whole satoshis.
func (b Boost) Sats() int64 {
	return b.AmountMsat / 1000
}

// CorrelatorConfig tunes a Correlator. Zero values select defaults.
type CorrelatorConfig struct {
	Timeout         time.Duration
	Concurrency     int64
	InvoiceCapacity int
	InvoiceTTL      time.Duration
}

// Correlator confirms receipts against the wallet.
type Correlator struct {
	wallet  Wallet
	timeout time.Duration
	sem     *semaphore.Weighted
	group   singleflight.Group
	claimed *Window
	now     func() time.Time
}

// NewCorrelator returns a Correlator backed by w.
func NewCorrelator(w Wallet, cfg CorrelatorConfig) *Correlator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLookupTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Correlator{
		wallet:  w,
		timeout: cfg.Timeout,
		sem:     semaphore.NewWeighted(cfg.Concurrency),
		claimed: NewWindow(cfg.InvoiceCapacity, cfg.InvoiceTTL),
		now:     time.Now,
	}
}

// Confirm asks the wallet about the receipt's invoice. Each payment yields
// at most one Boost; a second receipt for an already claimed invoice gets
// ErrDuplicate.
func (c *Correlator) Confirm(ctx context.Context, r Receipt) (Boost, error) {
	if r.Invoice == "" {
		return Boost{}, fmt.Errorf("%w: receipt %s has no invoice", ErrPaymentUnconfirmed, r.EventID)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ch := c.group.DoChan(r.Invoice, func() (any, error) {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return Invoice{}, err
		}
		defer c.sem.Release(1)
		return c.wallet.LookupInvoice(ctx, r.Invoice)
	})

	var inv Invoice
	select {
	case res := <-ch:
		if res.Err != nil {
			return Boost{}, fmt.Errorf("%w: receipt %s: %w", ErrPaymentUnconfirmed, r.EventID, res.Err)
		}
		inv = res.Val.(Invoice)
	case <-ctx.Done():
		return Boost{}, fmt.Errorf("%w: receipt %s: %w", ErrPaymentUnconfirmed, r.EventID, ctx.Err())
	}

	if !inv.Paid {
		return Boost{}, fmt.Errorf("%w: receipt %s: invoice not settled", ErrPaymentUnconfirmed, r.EventID)
	}
	if inv.AmountMsat <= 0 {
		return Boost{}, fmt.Errorf("%w: receipt %s: zero amount", ErrPaymentUnconfirmed, r.EventID)
	}
	if c.claimed.Seen(r.Invoice) {
		return Boost{}, fmt.Errorf("%w: invoice of receipt %s already claimed", ErrDuplicate, r.EventID)
	}

	return Boost{
		Receipt:     r,
		AmountMsat:  inv.AmountMsat,
		ConfirmedAt: c.now(),
	}, nil
}

// Admit accepts a boost whose amount a trusted source already settled, such
// as an incoming wallet transaction. It applies the same rules as Confirm:
// the amount must be positive and each payment yields at most one Boost.
// Payments are keyed by Invoice, or by source and event ID when the source
// has no invoice.
func (c *Correlator) Admit(b Boost) (Boost, error) {
	if b.AmountMsat <= 0 {
		return Boost{}, fmt.Errorf("%w: boost %s: zero amount", ErrPaymentUnconfirmed, b.EventID)
	}
	key := b.Invoice
	if key == "" {
		key = b.Source + ":" + b.EventID
	}
	if c.claimed.Seen(key) {
		return Boost{}, fmt.Errorf("%w: payment of boost %s already claimed", ErrDuplicate, b.EventID)
	}
	if b.ConfirmedAt.IsZero() {
		b.ConfirmedAt = c.now()
	}
	return b, nil
}
