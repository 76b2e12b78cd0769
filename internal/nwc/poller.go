package nwc

import (
	"context"
	"log/slog"
	"time"

	"boostlights/internal/boostagram"
	"boostlights/internal/zap"
)

// SourceWallet marks boosts found in incoming wallet transactions.
const SourceWallet = "nwc"

// Poller defaults.
const (
	DefaultPollInterval = 5 * time.Second
	DefaultPollBuffer   = 64
)

// Lister lists wallet transactions. *Client implements it.
type Lister interface {
	ListTransactions(ctx context.Context, p ListParams) ([]Transaction, error)
}

// PollerConfig configures a Poller. Zero values select defaults.
type PollerConfig struct {
	Interval time.Duration
	// Since is the oldest transaction creation time considered.
	Since  time.Time
	Filter boostagram.Filter
	Buffer int
}

// Poller turns incoming keysend payments carrying a boostagram into boosts.
// The wallet settled them, so the amount is the received amount.
type Poller struct {
	lister   Lister
	interval time.Duration
	filter   boostagram.Filter
	out      chan zap.Boost
	log      *slog.Logger
	now      func() time.Time

	// from is the created_at the next poll starts at. Only the polling
	// goroutine touches it.
	from int64
}

// NewPoller returns a poller over l. Nothing is fetched until Serve runs.
func NewPoller(l Lister, cfg PollerConfig, log *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultPollBuffer
	}
	p := &Poller{
		lister:   l,
		interval: cfg.Interval,
		filter:   cfg.Filter,
		out:      make(chan zap.Boost, cfg.Buffer),
		log:      log.With(slog.String("component", "nwc-poller")),
		now:      time.Now,
	}
	if !cfg.Since.IsZero() {
		p.from = cfg.Since.Unix()
	}
	return p
}

// Boosts returns the stream of boosts found. It is never closed.
func (p *Poller) Boosts() <-chan zap.Boost {
	return p.out
}

func (p *Poller) String() string {
	return "nwc-poller"
}

// Serve polls every interval until ctx is done. A failed poll is logged and
// retried on the next tick. It implements suture.Service.
func (p *Poller) Serve(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			p.log.Warn("wallet poll failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Poll fetches the settled incoming transactions created since the last
// poll and emits the boosts among them. It must not run concurrently with
// itself or with Serve.
func (p *Poller) Poll(ctx context.Context) error {
	txs, err := p.lister.ListTransactions(ctx, ListParams{From: p.from, Type: "incoming"})
	if err != nil {
		return err
	}

	// Never step past the clock, or a transaction stamped in the future
	// would hide the ones created before it.
	limit := p.now().Unix() + 1
	for _, tx := range txs {
		if b, ok := p.boost(tx); ok {
			select {
			case p.out <- b:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if next := min(tx.CreatedAt+1, limit); next > p.from {
			p.from = next
		}
	}
	return nil
}

func (p *Poller) boost(tx Transaction) (zap.Boost, bool) {
	if (tx.Type != "" && tx.Type != "incoming") || !tx.Settled() {
		return zap.Boost{}, false
	}
	id := tx.PaymentHash
	if id == "" {
		id = tx.Invoice
	}

	bg, err := boostagram.FromTLVRecords(tx.Metadata)
	if err != nil {
		p.log.Debug("transaction without boostagram", slog.String("payment_hash", id), slog.String("reason", err.Error()))
		return zap.Boost{}, false
	}
	if !bg.IsBoost() || !p.filter.Match(bg) {
		p.log.Debug("boostagram skipped",
			slog.String("payment_hash", id),
			slog.String("action", bg.Action),
			slog.String("podcast", bg.Podcast))
		return zap.Boost{}, false
	}
	if id == "" {
		p.log.Warn("boostagram transaction has no payment hash")
		return zap.Boost{}, false
	}

	confirmed := p.now()
	if tx.SettledAt > 0 {
		confirmed = time.Unix(tx.SettledAt, 0)
	}
	return zap.Boost{
		Receipt: zap.Receipt{
			EventID:     id,
			Source:      SourceWallet,
			Payer:       bg.SenderName,
			ClaimedMsat: bg.ValueMsatTotal,
			Invoice:     tx.Invoice,
			Preimage:    tx.Preimage,
			Message:     bg.Message,
			CreatedAt:   time.Unix(tx.CreatedAt, 0),
		},
		AmountMsat:  tx.Amount,
		ConfirmedAt: confirmed,
	}, true
}
