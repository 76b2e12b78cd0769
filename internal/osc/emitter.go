package osc

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net"
	"strconv"
	"time"

	"boostlights/internal/show"
	"boostlights/internal/zap"

	goosc "github.com/hypebeast/go-osc/osc"
)

// DefaultPath is the OSC address pattern of the boost trigger.
const DefaultPath = "/boost"

// Config configures the emitter. Address is host:port.
type Config struct {
	Address string
	Path    string
}

// sentWindow bounds how long a boost is remembered after its message went
// out. Devices playing the same boost start within this window.
const sentWindow = time.Minute

// Emitter sends one OSC message per boost, however many devices start a
// session for it. It implements show.Notifier.
type Emitter struct {
	client *goosc.Client
	path   string
	sent   *zap.Window
	log    *slog.Logger
}

// New returns an emitter for cfg.
func New(cfg Config, log *slog.Logger) (*Emitter, error) {
	host, portStr, err := net.SplitHostPort(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("osc address %q: %w", cfg.Address, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port <= 0 || port > math.MaxUint16 {
		return nil, fmt.Errorf("osc address %q: invalid port", cfg.Address)
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	return &Emitter{
		client: goosc.NewClient(host, port),
		path:   cfg.Path,
		sent:   zap.NewWindow(256, sentWindow),
		log:    log.With(slog.String("osc", cfg.Address)),
	}, nil
}

// SessionStarted sends the trigger message for the first session of a
// boost. The arguments are the boost in sats as int32, the playlist and the
// device that started first. Sessions without an event ID always send.
// Send failures are logged.
func (e *Emitter) SessionStarted(_ context.Context, s show.Session) {
	if s.EventID != "" && e.sent.Seen(s.EventID) {
		e.log.Debug("osc trigger already sent for boost",
			slog.String("event_id", s.EventID),
			slog.String("device", s.Device))
		return
	}

	msg := goosc.NewMessage(e.path)
	msg.Append(clampSats(s.AmountMsat / 1000))
	msg.Append(s.Playlist)
	msg.Append(s.Device)

	if err := e.client.Send(msg); err != nil {
		e.log.Warn("osc trigger failed",
			slog.String("session_id", s.ID),
			slog.String("error", err.Error()))
		return
	}
	e.log.Debug("osc trigger sent", slog.String("session_id", s.ID), slog.String("path", e.path))
}

func clampSats(sats int64) int32 {
	switch {
	case sats > math.MaxInt32:
		return math.MaxInt32
	case sats < 0:
		return 0
	}
	return int32(sats)
}
