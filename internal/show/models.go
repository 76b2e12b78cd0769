package show

import (
	"time"
)

// RGB is one segment color.
type RGB [3]uint8

// Segment is a contiguous, optionally grouped range of the LED strip.
// Stop is exclusive.
type Segment struct {
	Name     string
	Start    int
	Stop     int
	Grouping int
	Reverse  bool
}

// Preset is a static lighting configuration applied across all segments.
// Colors and Effects carry one entry per configured segment.
type Preset struct {
	Name      string
	Colors    []RGB
	Secondary []RGB
	Effects   []string
	Speed     *int
	Intensity *int
}

// Playlist is a timed sequence of presets. Presets, Durations and
// Transitions are parallel lists.
//
// Repeat counts extra cycles after the first one: 0 plays a single cycle,
// a negative value loops until the session is preempted.
type Playlist struct {
	Name        string
	Presets     []string
	Durations   []time.Duration
	Transitions []time.Duration
	Repeat      int
	End         string
}

// Step is one resolved entry of a playlist.
type Step struct {
	Preset     Preset
	Duration   time.Duration
	Transition time.Duration
}

// Boost is what the pipeline hands to the stage once a payment is confirmed.
type Boost struct {
	EventID    string
	AmountMsat int64
	Playlist   string
}

// Sats returns the boost amount in whole satoshis.
func (b Boost) Sats() int64 {
	return b.AmountMsat / 1000
}

// Command is one device instruction issued by a scheduler.
type Command struct {
	Device     string
	SessionID  string
	Playlist   string
	Step       int
	Preset     Preset
	Transition time.Duration
	// Final marks the terminal "end" preset of a session.
	Final bool
}

// State is the scheduler state of a device.
type State int

const (
	Idle State = iota
	Playing
	Draining
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Playing:
		return "playing"
	case Draining:
		return "draining"
	default:
		return "unknown"
	}
}

// Session is the playback currently driving a device.
type Session struct {
	ID            string    `json:"id"`
	Device        string    `json:"device"`
	Playlist      string    `json:"playlist"`
	Step          int       `json:"step"`
	RepeatsLeft   int       `json:"repeats_left"`
	AmountMsat    int64     `json:"amount_msat"`
	EventID       string    `json:"event_id,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	StepStartedAt time.Time `json:"step_started_at"`
}
