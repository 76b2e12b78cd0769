package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"boostlights/internal/boostagram"
	"boostlights/internal/platform/metrics"
	"boostlights/internal/relay"
	"boostlights/internal/show"
	"boostlights/internal/zap"

	"github.com/google/uuid"
	"github.com/thejerf/suture/v4"
)

// Announcer is told about every confirmed boost. It must not block for
// long.
type Announcer interface {
	Announce(b zap.Boost, playlist string)
}

// Deps are the pipeline stages a Service wires together. Announcer may be
// nil. The boostboard and wallet sources are optional: leave BoardEvents
// or Payments nil to disable them.
type Deps struct {
	Events     <-chan relay.Event
	Validator  *zap.Validator
	Correlator *zap.Correlator
	Selector   *show.Selector
	Stage      *show.Stage
	Repo       Repository
	Announcer  Announcer

	// BoardEvents carries boostboard events, checked by Board.
	BoardEvents <-chan relay.Event
	Board       *boostagram.Board
	// Payments carries boosts the wallet already settled.
	Payments <-chan zap.Boost
}

// Service runs the boost pipeline: relay events are validated and
// deduplicated in arrival order, then each boost is confirmed, mapped to
// a playlist and handed to the stage on its own goroutine. Zap receipts
// are confirmed with the wallet; boostboard and wallet boosts skip the
// lookup but share the payment dedup and everything after it.
type Service struct {
	events      <-chan relay.Event
	validator   *zap.Validator
	boardEvents <-chan relay.Event
	board       *boostagram.Board
	payments    <-chan zap.Boost
	correlator  *zap.Correlator
	selector    *show.Selector
	stage       *show.Stage
	repo        Repository
	announcer   Announcer
	log         *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time
	wg          sync.WaitGroup
}

// NewService returns a Service over d. m may be nil.
func NewService(d Deps, log *slog.Logger, m *metrics.Metrics) *Service {
	s := &Service{
		events:     d.Events,
		validator:  d.Validator,
		correlator: d.Correlator,
		selector:   d.Selector,
		stage:      d.Stage,
		repo:       d.Repo,
		announcer:  d.Announcer,
		payments:   d.Payments,
		log:        log,
		metrics:    m,
		now:        time.Now,
	}
	if d.Board != nil {
		s.board, s.boardEvents = d.Board, d.BoardEvents
	}
	return s
}

// String names the service in supervisor logs.
func (s *Service) String() string {
	return "pipeline"
}

// Serve consumes every source until ctx is done or all source channels
// are closed, then waits for in-flight boosts. It implements
// suture.Service and asks not to be restarted once the sources are gone.
func (s *Service) Serve(ctx context.Context) error {
	defer s.wg.Wait()

	zaps, board, payments := s.events, s.boardEvents, s.payments
	for zaps != nil || board != nil || payments != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-zaps:
			if !ok {
				zaps = nil
				continue
			}
			s.Handle(ctx, ev)
		case ev, ok := <-board:
			if !ok {
				board = nil
				continue
			}
			s.HandleBoard(ctx, ev)
		case b, ok := <-payments:
			if !ok {
				payments = nil
				continue
			}
			s.HandlePayment(ctx, b)
		}
	}
	return suture.ErrDoNotRestart
}

// Handle validates one relay event and, if it is a new in-scope receipt,
// starts confirming it in the background.
func (s *Service) Handle(ctx context.Context, ev relay.Event) {
	receipt, err := s.validator.Check(ev.Relay, ev.Event)
	if !s.checked(zap.SourceZap, ev, err) {
		return
	}

	s.log.Debug("zap receipt accepted",
		slog.String("event_id", receipt.EventID),
		slog.String("relay", receipt.Relay),
		slog.Int64("claimed_msat", receipt.ClaimedMsat))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.process(ctx, receipt)
	}()
}

// HandleBoard validates one boostboard event and, if it reports a new boost
// signed by a trusted author, plays it in the background. Without a board
// every event is ignored.
func (s *Service) HandleBoard(ctx context.Context, ev relay.Event) {
	if s.board == nil {
		return
	}
	boost, err := s.board.Check(ev.Relay, ev.Event)
	if !s.checked(boostagram.SourceBoostboard, ev, err) {
		return
	}

	s.log.Debug("boostboard boost accepted",
		slog.String("event_id", boost.EventID),
		slog.String("relay", boost.Relay),
		slog.Int64("amount_msat", boost.AmountMsat))

	s.HandlePayment(ctx, boost)
}

// HandlePayment plays a boost whose amount its source already vouches for.
func (s *Service) HandlePayment(ctx context.Context, b zap.Boost) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.admit(ctx, b)
	}()
}

// checked reports whether a source accepted ev, logging and counting the
// rejection otherwise. Accepted events move the relay's resume point.
func (s *Service) checked(source string, ev relay.Event, err error) bool {
	switch {
	case err == nil:
		ev.Accept()
		return true
	case errors.Is(err, zap.ErrOutOfScope):
		s.incRejected("out_of_scope")
	case errors.Is(err, zap.ErrDuplicate):
		s.log.Debug("duplicate event",
			slog.String("source", source),
			slog.String("relay", ev.Relay),
			slog.String("error", err.Error()))
		if s.metrics != nil {
			s.metrics.IncDuplicates()
		}
	default:
		s.log.Info("invalid event dropped",
			slog.String("source", source),
			slog.String("relay", ev.Relay),
			slog.String("error", err.Error()))
		s.incRejected("invalid")
	}
	return false
}

// Wait blocks until every boost handed to the Service has been processed.
func (s *Service) Wait() {
	s.wg.Wait()
}

func (s *Service) process(ctx context.Context, r zap.Receipt) {
	rec := s.newRecord(r)
	boost, err := s.correlator.Confirm(ctx, r)
	if !s.confirmed(ctx, &rec, err) {
		return
	}
	s.play(ctx, rec, boost)
}

func (s *Service) admit(ctx context.Context, b zap.Boost) {
	rec := s.newRecord(b.Receipt)
	boost, err := s.correlator.Admit(b)
	if !s.confirmed(ctx, &rec, err) {
		return
	}
	s.play(ctx, rec, boost)
}

func (s *Service) newRecord(r zap.Receipt) BoostRecord {
	return BoostRecord{
		EventID:     r.EventID,
		Source:      r.Source,
		Relay:       r.Relay,
		Payer:       r.Payer,
		Message:     r.Message,
		ClaimedMsat: r.ClaimedMsat,
		ReceivedAt:  s.now(),
	}
}

// confirmed handles the outcome of a payment check. Duplicates are
// dropped silently, other failures are recorded as unconfirmed.
func (s *Service) confirmed(ctx context.Context, rec *BoostRecord, err error) bool {
	switch {
	case err == nil:
		if s.metrics != nil {
			s.metrics.IncConfirmed()
		}
		return true
	case errors.Is(err, zap.ErrDuplicate):
		s.log.Debug("payment already claimed", slog.String("event_id", rec.EventID), slog.String("source", rec.Source))
		if s.metrics != nil {
			s.metrics.IncDuplicates()
		}
		return false
	default:
		if ctx.Err() != nil {
			return false
		}
		s.log.Warn("payment unconfirmed",
			slog.String("event_id", rec.EventID),
			slog.String("source", rec.Source),
			slog.String("relay", rec.Relay),
			slog.String("error", err.Error()))
		if s.metrics != nil {
			s.metrics.IncUnconfirmed()
		}
		rec.Outcome = OutcomeUnconfirmed
		rec.Error = err.Error()
		s.record(*rec)
		return false
	}
}

func (s *Service) play(ctx context.Context, rec BoostRecord, boost zap.Boost) {
	rec.AmountMsat = boost.AmountMsat
	rec.ConfirmedAt = boost.ConfirmedAt

	playlist := s.selector.Select(boost.AmountMsat)
	rec.Playlist = playlist
	switch {
	case playlist == "":
		s.log.Info("boost below every threshold",
			slog.String("event_id", rec.EventID),
			slog.Int64("sats", boost.Sats()))
		rec.Outcome = OutcomeBelowThreshold
	default:
		err := s.stage.Trigger(ctx, show.Boost{
			EventID:    boost.EventID,
			AmountMsat: boost.AmountMsat,
			Playlist:   playlist,
		})
		if err != nil {
			s.log.Error("boost trigger failed",
				slog.String("event_id", rec.EventID),
				slog.String("playlist", playlist),
				slog.String("error", err.Error()))
			rec.Outcome = OutcomeFailed
			rec.Error = err.Error()
		} else {
			s.log.Info("boost triggered",
				slog.String("event_id", rec.EventID),
				slog.String("source", rec.Source),
				slog.String("playlist", playlist),
				slog.Int64("sats", boost.Sats()),
				slog.String("payer", rec.Payer))
			rec.Outcome = OutcomeTriggered
		}
	}

	s.record(rec)
	if s.announcer != nil {
		s.announcer.Announce(boost, playlist)
	}
}

// Trigger queues playlist on device, or on every device when device is
// empty, without a payment. Used by the admin API. Each call gets its own
// event ID so outputs treat it as one boost across devices.
func (s *Service) Trigger(ctx context.Context, device, playlist string) error {
	b := show.Boost{EventID: "manual-" + uuid.NewString(), Playlist: playlist}
	if device == "" {
		return s.stage.Trigger(ctx, b)
	}
	return s.stage.TriggerDevice(ctx, device, b)
}

// Devices returns a status snapshot of every device.
func (s *Service) Devices() []show.Status {
	return s.stage.Status()
}

// ActiveSessions counts devices currently playing.
func (s *Service) ActiveSessions() int {
	return s.stage.ActiveSessions()
}

// Recent returns the newest boosts.
func (s *Service) Recent(limit int) []BoostRecord {
	return s.repo.Recent(limit)
}

// Totals returns the boost counters.
func (s *Service) Totals() Totals {
	return s.repo.Totals()
}

func (s *Service) record(rec BoostRecord) {
	if err := s.repo.Record(rec); err != nil {
		s.log.Error("record boost failed", slog.String("event_id", rec.EventID), slog.String("error", err.Error()))
	}
}

func (s *Service) incRejected(reason string) {
	if s.metrics != nil {
		s.metrics.IncRejected(reason)
	}
}
