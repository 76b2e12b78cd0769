package show

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"boostlights/internal/platform/metrics"

	"github.com/google/uuid"
)

// DefaultQueueSize is the number of triggers a scheduler buffers while it
// is busy talking to its device.
const DefaultQueueSize = 16

// ErrSchedulerStopped is returned by Trigger once the scheduler loop exited.
var ErrSchedulerStopped = errors.New("scheduler stopped")

// Sink receives device commands. Apply must return once the command was
// acknowledged or the device was given up on; the scheduler abandons the
// session on any error.
type Sink interface {
	Apply(ctx context.Context, cmd Command) error
}

// Notifier is told about every new session. It must not block for long and
// its failures are its own concern.
type Notifier interface {
	SessionStarted(ctx context.Context, s Session)
}

// Status is a point-in-time view of a scheduler.
type Status struct {
	Device  string   `json:"device"`
	State   string   `json:"state"`
	Session *Session `json:"session,omitempty"`
	Pending string   `json:"pending,omitempty"`
}

// SchedulerConfig configures one device scheduler.
type SchedulerConfig struct {
	Device     string
	Preemption Preemption
	QueueSize  int
}

// Scheduler owns the playback session of one device. All state changes
// happen on the goroutine running Serve; other goroutines only enqueue
// triggers and read status snapshots.
type Scheduler struct {
	device   string
	lib      *Library
	sink     Sink
	notifier Notifier
	log      *slog.Logger
	metrics  *metrics.Metrics

	machine  *machine
	triggers chan *request
	done     chan struct{}
	stopOnce sync.Once
	now      func() time.Time

	mu     sync.RWMutex
	status Status
}

// NewScheduler returns a scheduler for cfg.Device. notifier and m may be nil.
func NewScheduler(cfg SchedulerConfig, lib *Library, sink Sink, notifier Notifier, log *slog.Logger, m *metrics.Metrics) *Scheduler {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Scheduler{
		device:   cfg.Device,
		lib:      lib,
		sink:     sink,
		notifier: notifier,
		log:      log.With(slog.String("device", cfg.Device)),
		metrics:  m,
		machine:  newMachine(cfg.Device, cfg.Preemption, uuid.NewString),
		triggers: make(chan *request, cfg.QueueSize),
		done:     make(chan struct{}),
		now:      time.Now,
		status:   Status{Device: cfg.Device, State: Idle.String()},
	}
}

// Device returns the device name this scheduler drives.
func (s *Scheduler) Device() string {
	return s.device
}

// Trigger queues a boost for playback. It blocks while the queue is full.
func (s *Scheduler) Trigger(ctx context.Context, b Boost) error {
	pl, ok := s.lib.Playlist(b.Playlist)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownPlaylist, b.Playlist)
	}

	r := &request{
		playlist:   pl,
		steps:      s.lib.Steps(pl),
		amountMsat: b.AmountMsat,
		eventID:    b.EventID,
	}
	if pl.End != "" {
		end, _ := s.lib.Preset(pl.End)
		r.end = &end
	}

	select {
	case <-s.done:
		return ErrSchedulerStopped
	default:
	}

	select {
	case s.triggers <- r:
		return nil
	case <-s.done:
		return ErrSchedulerStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns a snapshot of the scheduler state.
func (s *Scheduler) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := s.status
	if st.Session != nil {
		sess := *st.Session
		st.Session = &sess
	}
	return st
}

// Serve runs the scheduler loop until ctx is done. It implements
// suture.Service.
func (s *Scheduler) Serve(ctx context.Context) error {
	var (
		timer  *time.Timer
		timerC <-chan time.Time
		due    time.Time
	)
	stop := func() {
		if timer != nil {
			timer.Stop()
		}
		timer, timerC = nil, nil
	}
	defer stop()

	s.log.Info("scheduler started", slog.String("preemption", s.machine.policy.String()))

	for {
		var p plan
		select {
		case <-ctx.Done():
			s.log.Info("scheduler stopping", slog.String("reason", ctx.Err().Error()))
			return ctx.Err()
		case r := <-s.triggers:
			p = s.machine.trigger(r, s.now())
			if p.ignored {
				s.log.Info("trigger ignored while playing", slog.String("playlist", r.playlist.Name))
			}
			if p.superseded {
				s.log.Info("pending trigger superseded", slog.String("playlist", r.playlist.Name))
			}
		case <-timerC:
			timer, timerC = nil, nil
			p = s.machine.elapse(due)
		}

		action, next := s.run(ctx, p)
		switch action {
		case armTimer:
			stop()
			due = next
			timer = time.NewTimer(due.Sub(s.now()))
			timerC = timer.C
		case stopTimer:
			stop()
		}
		s.publish()
	}
}

// Stop makes pending and future Trigger calls fail. Serve is stopped by
// cancelling its context.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// run carries out a plan and every zero-duration step that follows it. It
// returns what should happen to the step timer and when the timer is due.
// Steps are timed from when they were due, not from when the device
// acknowledged them, so device latency does not stretch a playlist. An
// overdue step still goes through Serve's select so triggers are not
// starved by a slow device.
func (s *Scheduler) run(ctx context.Context, p plan) (timerAction, time.Time) {
	for {
		if p.ended != nil && p.started != nil {
			s.log.Info("session preempted",
				slog.String("session_id", p.ended.ID),
				slog.String("playlist", p.ended.Playlist),
				slog.Int("step", p.ended.Step),
				slog.String("next_playlist", p.started.Playlist))
		}
		if p.started != nil {
			s.log.Info("session started",
				slog.String("session_id", p.started.ID),
				slog.String("playlist", p.started.Playlist),
				slog.Int64("amount_msat", p.started.AmountMsat))
			if s.metrics != nil {
				s.metrics.IncSessionsStarted(s.device)
			}
			if s.notifier != nil {
				s.notifier.SessionStarted(ctx, *p.started)
			}
		}

		if p.cmd != nil {
			if err := s.sink.Apply(ctx, *p.cmd); err != nil {
				if s.metrics != nil {
					s.metrics.IncDeviceCommands(s.device, "error")
				}
				if ctx.Err() != nil {
					return stopTimer, time.Time{}
				}
				s.log.Error("device command failed, session abandoned",
					slog.String("session_id", p.cmd.SessionID),
					slog.String("playlist", p.cmd.Playlist),
					slog.Int("step", p.cmd.Step),
					slog.String("error", err.Error()))
				if sess := s.machine.abandon(); sess != nil && s.metrics != nil {
					s.metrics.IncSessionsAbandoned(s.device)
				}
				return stopTimer, time.Time{}
			}
			if s.metrics != nil {
				s.metrics.IncDeviceCommands(s.device, "ok")
			}
			s.log.Debug("device command applied",
				slog.String("session_id", p.cmd.SessionID),
				slog.Int("step", p.cmd.Step),
				slog.String("preset", p.cmd.Preset.Name),
				slog.Duration("transition", p.cmd.Transition))
		}

		if p.ended != nil && p.started == nil {
			s.log.Info("session finished",
				slog.String("session_id", p.ended.ID),
				slog.String("playlist", p.ended.Playlist))
		}

		if p.timer != armTimer {
			return p.timer, time.Time{}
		}
		if p.wait > 0 {
			return armTimer, p.at.Add(p.wait)
		}
		p = s.machine.elapse(p.at)
	}
}

func (s *Scheduler) publish() {
	st := Status{
		Device:  s.device,
		State:   s.machine.state.String(),
		Pending: s.machine.pendingName(),
	}
	if s.machine.session != nil {
		sess := *s.machine.session
		st.Session = &sess
	}

	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}
