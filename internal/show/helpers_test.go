package show

import (
	"fmt"
	"testing"
	"time"
)

func secs(v ...float64) []time.Duration {
	out := make([]time.Duration, len(v))
	for i, s := range v {
		out[i] = time.Duration(s * float64(time.Second))
	}
	return out
}

func testPreset(name string, segments int) Preset {
	p := Preset{Name: name}
	for i := 0; i < segments; i++ {
		p.Colors = append(p.Colors, RGB{255, 0, 0})
		p.Effects = append(p.Effects, "Solid")
	}
	return p
}

func newTestLibrary(t *testing.T, playlists ...Playlist) *Library {
	t.Helper()

	segments := []Segment{
		{Name: "left", Start: 0, Stop: 30},
		{Name: "right", Start: 30, Stop: 60, Grouping: 2, Reverse: true},
	}
	presets := []Preset{
		testPreset("A", 2), testPreset("B", 2), testPreset("C", 2),
		testPreset("D", 2), testPreset("X", 2), testPreset("Y", 2),
	}
	if len(playlists) == 0 {
		playlists = []Playlist{scenarioPlaylist()}
	}

	lib, err := NewLibrary(segments, presets, playlists)
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	return lib
}

// scenarioPlaylist is the four-step, one-repeat playlist ending on D.
func scenarioPlaylist() Playlist {
	return Playlist{
		Name:        "scenario",
		Presets:     []string{"A", "B", "C", "D"},
		Durations:   secs(10, 10, 10, 30),
		Transitions: secs(7, 7, 7, 0),
		Repeat:      1,
		End:         "D",
	}
}

func newTestRequest(t *testing.T, lib *Library, name string, amountMsat int64) *request {
	t.Helper()

	pl, ok := lib.Playlist(name)
	if !ok {
		t.Fatalf("playlist %q not in library", name)
	}
	r := &request{playlist: pl, steps: lib.Steps(pl), amountMsat: amountMsat}
	if pl.End != "" {
		end, _ := lib.Preset(pl.End)
		r.end = &end
	}
	return r
}

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("session-%d", n)
	}
}

// issued is a command as seen by the virtual clock driver.
type issued struct {
	at         time.Duration
	playlist   string
	preset     string
	transition time.Duration
	final      bool
	started    bool
	// ended is the playlist of the session this command replaced, if any.
	ended string
}

// driver runs a machine against virtual time the same way Scheduler.Serve
// runs it against a real timer.
type driver struct {
	m        *machine
	epoch    time.Time
	now      time.Duration
	deadline time.Duration
	armed    bool
	log      []issued
}

func newDriver(policy Preemption) *driver {
	return &driver{
		m:     newMachine("strip", policy, sequentialIDs()),
		epoch: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (d *driver) apply(p plan) {
	for {
		if p.cmd != nil {
			d.log = append(d.log, issued{
				at:         d.now,
				playlist:   p.cmd.Playlist,
				preset:     p.cmd.Preset.Name,
				transition: p.cmd.Transition,
				final:      p.cmd.Final,
				started:    p.started != nil,
			})
			if p.started != nil && p.ended != nil {
				d.log[len(d.log)-1].ended = p.ended.Playlist
			}
		}
		switch p.timer {
		case armTimer:
			if p.wait == 0 {
				p = d.m.elapse(d.epoch.Add(d.now))
				continue
			}
			d.deadline = d.now + p.wait
			d.armed = true
		case stopTimer:
			d.armed = false
		}
		return
	}
}

func (d *driver) trigger(r *request) plan {
	p := d.m.trigger(r, d.epoch.Add(d.now))
	d.apply(p)
	return p
}

// advance moves virtual time to `to`, firing every timer on the way.
func (d *driver) advance(to time.Duration) {
	for d.armed && d.deadline <= to {
		d.now = d.deadline
		d.armed = false
		d.apply(d.m.elapse(d.epoch.Add(d.now)))
	}
	d.now = to
}
