package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"boostlights/internal/platform/metrics"

	"github.com/cenkalti/backoff/v5"
	"github.com/nbd-wtf/go-nostr"
	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

// Reconnect defaults.
const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = time.Minute
	DefaultBuffer         = 256
	DefaultOverlap        = 30 * time.Second
	DefaultName           = "relay-pool"
)

// Config configures a Pool.
type Config struct {
	// Name labels the pool in logs and status. Defaults to DefaultName.
	Name           string
	URLs           []string
	Filter         Filter
	Buffer         int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// Overlap is how far before the newest accepted event a reconnect
	// resumes, to pick up events that relays stored late.
	Overlap time.Duration
}

// Status describes one relay connection.
type Status struct {
	Pool        string    `json:"pool"`
	URL         string    `json:"url"`
	Connected   bool      `json:"connected"`
	Reconnects  int       `json:"reconnects"`
	Events      uint64    `json:"events"`
	LastEventAt time.Time `json:"last_event_at"`
	LastError   string    `json:"last_error,omitempty"`
}

// Pool keeps one supervised subscription per relay and merges their events
// into a single channel in the order they are observed.
type Pool struct {
	name   string
	sup    *suture.Supervisor
	conns  []*conn
	events chan Event
}

// NewPool builds the pool. Nothing connects until Serve runs.
func NewPool(cfg Config, sub Subscriber, log *slog.Logger, m *metrics.Metrics) *Pool {
	if cfg.Buffer <= 0 {
		cfg.Buffer = DefaultBuffer
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = DefaultInitialBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.Overlap <= 0 {
		cfg.Overlap = DefaultOverlap
	}
	if cfg.Name == "" {
		cfg.Name = DefaultName
	}

	log = log.With(slog.String("component", cfg.Name))
	p := &Pool{
		name: cfg.Name,
		sup: suture.New(cfg.Name, suture.Spec{
			EventHook: (&sutureslog.Handler{Logger: log}).MustHook(),
		}),
		events: make(chan Event, cfg.Buffer),
	}

	var since nostr.Timestamp
	if !cfg.Filter.Since.IsZero() {
		since = nostr.Timestamp(cfg.Filter.Since.Unix())
	}
	for _, url := range cfg.URLs {
		c := &conn{
			url:     url,
			filter:  cfg.Filter,
			sub:     sub,
			out:     p.events,
			log:     log.With(slog.String("relay", url)),
			metrics: m,
			since:   since,
			start:   since,
			overlap: nostr.Timestamp(cfg.Overlap / time.Second),
			initial: cfg.InitialBackoff,
			max:     cfg.MaxBackoff,
			now:     time.Now,
			status:  Status{Pool: cfg.Name, URL: url},
		}
		p.conns = append(p.conns, c)
		p.sup.Add(c)
	}
	return p
}

// Events returns the merged event stream. It is never closed.
func (p *Pool) Events() <-chan Event {
	return p.events
}

// Serve runs every relay connection until ctx is done. It implements
// suture.Service.
func (p *Pool) Serve(ctx context.Context) error {
	return p.sup.Serve(ctx)
}

func (p *Pool) String() string {
	return p.name
}

// Status returns the state of each relay in configuration order.
func (p *Pool) Status() []Status {
	out := make([]Status, 0, len(p.conns))
	for _, c := range p.conns {
		out = append(out, c.snapshot())
	}
	return out
}

// Pools reports the status of several pools as one list.
type Pools []*Pool

// Status returns the relays of every non-nil pool, pool by pool.
func (ps Pools) Status() []Status {
	var out []Status
	for _, p := range ps {
		if p != nil {
			out = append(out, p.Status()...)
		}
	}
	return out
}

// conn is the supervised service for one relay.
type conn struct {
	url     string
	filter  Filter
	sub     Subscriber
	out     chan<- Event
	log     *slog.Logger
	metrics *metrics.Metrics

	initial time.Duration
	max     time.Duration
	overlap nostr.Timestamp
	start   nostr.Timestamp
	now     func() time.Time

	mu sync.Mutex
	// since is the newest accepted created_at, never later than the wall
	// clock when it was accepted.
	since  nostr.Timestamp
	status Status
}

func (c *conn) String() string {
	return "relay " + c.url
}

// Serve reconnects forever with exponential backoff. A connection that
// managed to subscribe resets the backoff.
func (c *conn) Serve(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.initial
	b.MaxInterval = c.max

	for {
		subscribed, err := c.session(ctx)
		if ctx.Err() != nil {
			c.setConnected(false, nil)
			return ctx.Err()
		}
		if subscribed {
			b.Reset()
		}
		if err == nil {
			err = errors.New("connection closed")
		}

		wait := b.NextBackOff()
		c.setConnected(false, err)
		c.log.Warn("relay disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("retry_in", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		c.mu.Lock()
		c.status.Reconnects++
		c.mu.Unlock()
	}
}

// session runs one subscription until it ends.
func (c *conn) session(ctx context.Context) (bool, error) {
	filter := c.filter.build(c.resumeAt())

	events, err := c.sub.Subscribe(ctx, c.url, filter)
	if err != nil {
		return false, fmt.Errorf("subscribe %s: %w", c.url, err)
	}
	c.setConnected(true, nil)
	var since int64
	if filter.Since != nil {
		since = int64(*filter.Since)
	}
	c.log.Info("relay subscribed", slog.Int64("since", since))

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return true, nil
			}
			if ev == nil {
				continue
			}
			c.observe()
			select {
			case c.out <- Event{Relay: c.url, Event: ev, cursor: c}:
			case <-ctx.Done():
				return true, ctx.Err()
			}
		}
	}
}

func (c *conn) observe() {
	c.mu.Lock()
	c.status.Events++
	c.status.LastEventAt = c.now()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.IncRelayEvents(c.url)
	}
}

// advance moves the resume point to ts. A created_at in the future is
// clamped to now, so an event stamped years ahead cannot hide everything
// published before that date.
func (c *conn) advance(ts nostr.Timestamp) {
	if now := nostr.Timestamp(c.now().Unix()); ts > now {
		ts = now
	}
	c.mu.Lock()
	if ts > c.since {
		c.since = ts
	}
	c.mu.Unlock()
}

// resumeAt is the since of the next subscription: the newest accepted event
// minus the overlap, but never before the configured start.
func (c *conn) resumeAt() nostr.Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.since == c.start {
		return c.since
	}
	ts := c.since - c.overlap
	if ts < c.start {
		ts = c.start
	}
	return ts
}

func (c *conn) setConnected(connected bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.status.Connected = connected
	if err != nil {
		c.status.LastError = err.Error()
	}
}

func (c *conn) snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
