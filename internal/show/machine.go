package show

import (
	"fmt"
	"strings"
	"time"
)

// Preemption decides what a trigger does while a session is playing.
type Preemption int

const (
	// FinishStep lets the in-flight step run to the end of its duration and
	// then starts the new playlist instead of the next step.
	FinishStep Preemption = iota
	// Immediate starts the new playlist right away, cutting the running step.
	Immediate
	// Ignore drops triggers that arrive while a session is playing.
	Ignore
)

// ParsePreemption maps the configuration names onto Preemption values.
func ParsePreemption(s string) (Preemption, error) {
	switch strings.ToLower(s) {
	case "", "finish_step":
		return FinishStep, nil
	case "immediate":
		return Immediate, nil
	case "ignore":
		return Ignore, nil
	default:
		return FinishStep, fmt.Errorf("%w: unknown preemption policy %q", ErrInvalidLibrary, s)
	}
}

func (p Preemption) String() string {
	switch p {
	case Immediate:
		return "immediate"
	case Ignore:
		return "ignore"
	default:
		return "finish_step"
	}
}

type timerAction int

const (
	keepTimer timerAction = iota
	armTimer
	stopTimer
)

// request is a resolved trigger waiting to be applied to the machine.
type request struct {
	playlist   Playlist
	steps      []Step
	end        *Preset
	amountMsat int64
	eventID    string
}

// plan is what the machine asks its owner to do after a transition.
type plan struct {
	cmd   *Command
	timer timerAction
	// at is when the step behind cmd started; the timer is due at at+wait.
	at      time.Time
	wait    time.Duration
	started *Session
	ended   *Session
	// superseded is set when a pending request was replaced by a newer one.
	superseded bool
	ignored    bool
}

// machine is the per-device playback state machine. It performs no I/O and
// keeps no clock of its own, so every transition is driven by its owner.
// It is not safe for concurrent use.
type machine struct {
	device  string
	policy  Preemption
	newID   func() string
	state   State
	session *Session
	current *request
	pending *request
}

func newMachine(device string, policy Preemption, newID func() string) *machine {
	return &machine{device: device, policy: policy, newID: newID}
}

// trigger applies a new request at time now.
func (m *machine) trigger(r *request, now time.Time) plan {
	if m.state == Idle {
		return m.start(r, now)
	}

	switch m.policy {
	case Ignore:
		return plan{timer: keepTimer, ignored: true}
	case Immediate:
		return m.start(r, now)
	default:
		p := plan{timer: keepTimer, superseded: m.pending != nil}
		m.pending = r
		m.state = Draining
		return p
	}
}

// elapse is called when the step timer fires, or immediately after a step
// whose duration is zero.
func (m *machine) elapse(now time.Time) plan {
	switch m.state {
	case Idle:
		return plan{timer: stopTimer}
	case Draining:
		next := m.pending
		m.pending = nil
		return m.start(next, now)
	}

	s := m.session
	steps := m.current.steps

	if s.Step+1 < len(steps) {
		s.Step++
		return m.issue(now)
	}

	if s.RepeatsLeft != 0 {
		if s.RepeatsLeft > 0 {
			s.RepeatsLeft--
		}
		s.Step = 0
		return m.issue(now)
	}

	ended := *s
	p := plan{timer: stopTimer, ended: &ended}
	if end := m.current.end; end != nil {
		p.cmd = &Command{
			Device:     m.device,
			SessionID:  s.ID,
			Playlist:   s.Playlist,
			Step:       -1,
			Preset:     *end,
			Transition: steps[len(steps)-1].Transition,
			Final:      true,
		}
	}
	m.reset()
	return p
}

// abandon drops the session and any pending request.
func (m *machine) abandon() *Session {
	s := m.session
	m.reset()
	return s
}

func (m *machine) reset() {
	m.state = Idle
	m.session = nil
	m.current = nil
	m.pending = nil
}

// start replaces any running session with a new one for r. The replaced
// session is reported as ended.
func (m *machine) start(r *request, now time.Time) plan {
	prev := m.session
	m.pending = nil
	m.current = r
	m.state = Playing
	m.session = &Session{
		ID:          m.newID(),
		Device:      m.device,
		Playlist:    r.playlist.Name,
		Step:        0,
		RepeatsLeft: r.playlist.Repeat,
		AmountMsat:  r.amountMsat,
		EventID:     r.eventID,
		StartedAt:   now,
	}

	p := m.issue(now)
	started := *m.session
	p.started = &started
	if prev != nil {
		ended := *prev
		p.ended = &ended
	}
	return p
}

// issue emits the command for the session's current step and arms the
// timer for that step's duration.
func (m *machine) issue(now time.Time) plan {
	s := m.session
	step := m.current.steps[s.Step]
	s.StepStartedAt = now

	return plan{
		cmd: &Command{
			Device:     m.device,
			SessionID:  s.ID,
			Playlist:   s.Playlist,
			Step:       s.Step,
			Preset:     step.Preset,
			Transition: step.Transition,
		},
		timer: armTimer,
		at:    now,
		wait:  step.Duration,
	}
}

func (m *machine) pendingName() string {
	if m.pending == nil {
		return ""
	}
	return m.pending.playlist.Name
}
