package show

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownDevice is returned when a trigger names a device without a
// scheduler.
var ErrUnknownDevice = errors.New("unknown device")

// Stage groups the schedulers of every configured device.
type Stage struct {
	order      []string
	schedulers map[string]*Scheduler
}

// NewStage returns a stage over the given schedulers, keeping their order.
func NewStage(schedulers ...*Scheduler) *Stage {
	st := &Stage{schedulers: make(map[string]*Scheduler, len(schedulers))}
	for _, s := range schedulers {
		st.order = append(st.order, s.Device())
		st.schedulers[s.Device()] = s
	}
	return st
}

// Trigger queues the boost on every device. Errors from individual devices
// are joined; one failing device does not stop the others.
func (st *Stage) Trigger(ctx context.Context, b Boost) error {
	var errs []error
	for _, name := range st.order {
		if err := st.schedulers[name].Trigger(ctx, b); err != nil {
			errs = append(errs, fmt.Errorf("device %s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// TriggerDevice queues the boost on a single device.
func (st *Stage) TriggerDevice(ctx context.Context, device string, b Boost) error {
	s, ok := st.schedulers[device]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}
	return s.Trigger(ctx, b)
}

// Schedulers returns the schedulers in configuration order.
func (st *Stage) Schedulers() []*Scheduler {
	out := make([]*Scheduler, 0, len(st.order))
	for _, name := range st.order {
		out = append(out, st.schedulers[name])
	}
	return out
}

// Status returns a snapshot of every device.
func (st *Stage) Status() []Status {
	out := make([]Status, 0, len(st.order))
	for _, name := range st.order {
		out = append(out, st.schedulers[name].Status())
	}
	return out
}

// ActiveSessions counts devices that are playing or draining.
func (st *Stage) ActiveSessions() int {
	n := 0
	for _, s := range st.Status() {
		if s.Session != nil {
			n++
		}
	}
	return n
}

// Stop stops every scheduler from accepting triggers.
func (st *Stage) Stop() {
	for _, s := range st.schedulers {
		s.Stop()
	}
}
