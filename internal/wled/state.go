package wled

import (
	"strconv"
	"time"

	"boostlights/internal/show"
)

// Defaults for effect parameters WLED expects on every segment.
const (
	DefaultSpeed     = 128
	DefaultIntensity = 128
)

// State is the body of POST /json/state.
type State struct {
	On         bool  `json:"on"`
	Bri        int   `json:"bri"`
	Transition int   `json:"transition"`
	Seg        []any `json:"seg"`
}

// SegmentState configures one segment. Col holds primary, secondary and
// tertiary colors.
type SegmentState struct {
	ID    int     `json:"id"`
	Start int     `json:"start"`
	Stop  int     `json:"stop"`
	Grp   int     `json:"grp"`
	Spc   int     `json:"spc"`
	On    bool    `json:"on"`
	Bri   int     `json:"bri"`
	Name  string  `json:"n,omitempty"`
	Col   [][]int `json:"col"`
	Fx    int     `json:"fx"`
	Sx    int     `json:"sx"`
	Ix    int     `json:"ix"`
	Sel   bool    `json:"sel"`
	Rev   bool    `json:"rev"`
}

// clearSegment deletes a segment slot the show does not use.
type clearSegment struct {
	ID   int `json:"id"`
	Stop int `json:"stop"`
}

// transitionTenths converts a transition into WLED's unit of 100ms.
func transitionTenths(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(d / (100 * time.Millisecond))
}

func color(c show.RGB) []int {
	return []int{int(c[0]), int(c[1]), int(c[2])}
}

// buildState renders a preset over the configured segments. effectID maps
// an effect name to its numeric id.
func buildState(segments []show.Segment, p show.Preset, brightness int, transition time.Duration, effectID func(string) int) State {
	st := State{
		On:         true,
		Bri:        brightness,
		Transition: transitionTenths(transition),
		Seg:        make([]any, 0, show.MaxSegments),
	}

	sx, ix := DefaultSpeed, DefaultIntensity
	if p.Speed != nil {
		sx = *p.Speed
	}
	if p.Intensity != nil {
		ix = *p.Intensity
	}

	for i, seg := range segments {
		secondary := []int{0, 0, 0}
		if i < len(p.Secondary) {
			secondary = color(p.Secondary[i])
		}
		st.Seg = append(st.Seg, SegmentState{
			ID:    i,
			Start: seg.Start,
			Stop:  seg.Stop,
			Grp:   seg.Grouping,
			On:    true,
			Bri:   brightness,
			Name:  seg.Name,
			Col:   [][]int{color(p.Colors[i]), secondary, {0, 0, 0}},
			Fx:    effectID(p.Effects[i]),
			Sx:    sx,
			Ix:    ix,
			Sel:   true,
			Rev:   seg.Reverse,
		})
	}
	for i := len(segments); i < show.MaxSegments; i++ {
		st.Seg = append(st.Seg, clearSegment{ID: i, Stop: 0})
	}
	return st
}

// numericEffect reports whether name is already an effect id.
func numericEffect(name string) (int, bool) {
	id, err := strconv.Atoi(name)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}
