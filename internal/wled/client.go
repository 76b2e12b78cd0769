package wled

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"boostlights/internal/show"

	"github.com/cenkalti/backoff/v5"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"
)

// ErrDeviceUnreachable is returned by Apply once retries are exhausted or
// the circuit to the device is open.
var ErrDeviceUnreachable = errors.New("device unreachable")

// Config describes one WLED controller.
type Config struct {
	Name         string
	Host         string
	Brightness   int
	Retries      int
	RetryBackoff time.Duration
	Timeout      time.Duration
	// BreakerTrips is the number of consecutive failed commands that open
	// the circuit; BreakerCooldown how long it stays open.
	BreakerTrips    uint32
	BreakerCooldown time.Duration
}

func (c *Config) setDefaults() {
	if c.Brightness <= 0 {
		c.Brightness = 255
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	if c.BreakerTrips == 0 {
		c.BreakerTrips = 3
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
}

// Client sends show commands to a WLED controller. It implements show.Sink.
type Client struct {
	cfg      Config
	base     string
	segments []show.Segment
	http     *http.Client
	cb       *gobreaker.CircuitBreaker[struct{}]
	log      *slog.Logger

	mu      sync.Mutex
	effects map[string]int
}

// New returns a client for cfg driving the given segments. A nil hc gets a
// client with cfg.Timeout.
func New(cfg Config, segments []show.Segment, hc *http.Client, log *slog.Logger) *Client {
	cfg.setDefaults()
	if hc == nil {
		hc = &http.Client{Timeout: cfg.Timeout}
	}
	base := strings.TrimRight(cfg.Host, "/")
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}
	log = log.With(slog.String("device", cfg.Name))

	c := &Client{
		cfg:      cfg,
		base:     base,
		segments: segments,
		http:     hc,
		log:      log,
	}
	c.cb = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "wled-" + cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerTrips
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("device circuit state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return c
}

// Name returns the configured device name.
func (c *Client) Name() string {
	return c.cfg.Name
}

// Apply renders cmd and posts it to /json/state, retrying with exponential
// backoff. Every failure is reported as ErrDeviceUnreachable.
func (c *Client) Apply(ctx context.Context, cmd show.Command) error {
	_, err := c.cb.Execute(func() (struct{}, error) {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = c.cfg.RetryBackoff

		return backoff.Retry(ctx, func() (struct{}, error) {
			return struct{}{}, c.send(ctx, cmd)
		}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.cfg.Retries+1)))
	})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrDeviceUnreachable, c.cfg.Name, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, cmd show.Command) error {
	effects, err := c.effectIDs(ctx, cmd.Preset)
	if err != nil {
		return err
	}

	state := buildState(c.segments, cmd.Preset, c.cfg.Brightness, cmd.Transition, func(name string) int {
		if id, ok := numericEffect(name); ok {
			return id
		}
		if id, ok := effects[name]; ok {
			return id
		}
		c.log.Warn("unknown effect, using solid", slog.String("effect", name))
		return 0
	})

	body, err := json.Marshal(state)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("encode state: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/json/state", bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode >= 500:
		return fmt.Errorf("POST /json/state: %s", resp.Status)
	case resp.StatusCode >= 300:
		return backoff.Permanent(fmt.Errorf("POST /json/state: %s", resp.Status))
	}
	return nil
}

// effectIDs returns the effect table, fetching it once when the preset
// names an effect that is not numeric.
func (c *Client) effectIDs(ctx context.Context, p show.Preset) (map[string]int, error) {
	needed := false
	for _, e := range p.Effects {
		if _, ok := numericEffect(e); !ok {
			needed = true
			break
		}
	}
	if !needed {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.effects != nil {
		return c.effects, nil
	}

	effects, err := c.fetchEffects(ctx)
	if err != nil {
		return nil, err
	}
	c.effects = effects
	c.log.Info("loaded effect list", slog.Int("effects", len(effects)))
	return effects, nil
}

func (c *Client) fetchEffects(ctx context.Context) (map[string]int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/json/effects", nil)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /json/effects: %s", resp.Status)
	}
	var names []string
	if err := json.NewDecoder(resp.Body).Decode(&names); err != nil {
		return nil, fmt.Errorf("decode effects: %w", err)
	}

	effects := make(map[string]int, len(names))
	for id, name := range names {
		if _, dup := effects[name]; !dup {
			effects[name] = id
		}
	}
	return effects, nil
}
