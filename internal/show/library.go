package show

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"
)

// MaxSegments is the number of segments a WLED controller exposes.
const MaxSegments = 32

var (
	// ErrInvalidLibrary is returned by NewLibrary when segments, presets and
	// playlists do not fit together. It is a startup error only.
	ErrInvalidLibrary = errors.New("invalid show library")

	// ErrUnknownPlaylist is returned when a trigger names a playlist that is
	// not in the library.
	ErrUnknownPlaylist = errors.New("unknown playlist")
)

// Library holds the static show configuration. It is built once and never
// mutated afterwards, so it is safe for concurrent reads.
type Library struct {
	segments  []Segment
	presets   map[string]Preset
	playlists map[string]Playlist
}

// NewLibrary validates the configuration and returns a Library.
func NewLibrary(segments []Segment, presets []Preset, playlists []Playlist) (*Library, error) {
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no segments configured", ErrInvalidLibrary)
	}
	if len(segments) > MaxSegments {
		return nil, fmt.Errorf("%w: %d segments configured, at most %d supported", ErrInvalidLibrary, len(segments), MaxSegments)
	}

	lib := &Library{
		segments:  make([]Segment, 0, len(segments)),
		presets:   make(map[string]Preset, len(presets)),
		playlists: make(map[string]Playlist, len(playlists)),
	}

	for i, seg := range segments {
		if seg.Grouping == 0 {
			seg.Grouping = 1
		}
		if seg.Start < 0 || seg.Stop <= seg.Start {
			return nil, fmt.Errorf("%w: segment %d (%q) has empty range [%d,%d)", ErrInvalidLibrary, i, seg.Name, seg.Start, seg.Stop)
		}
		if seg.Grouping < 1 {
			return nil, fmt.Errorf("%w: segment %d (%q) grouping must be >= 1", ErrInvalidLibrary, i, seg.Name)
		}
		lib.segments = append(lib.segments, seg)
	}

	for _, p := range presets {
		if err := lib.checkPreset(p); err != nil {
			return nil, err
		}
		lib.presets[p.Name] = p
	}

	for _, pl := range playlists {
		if err := lib.checkPlaylist(pl); err != nil {
			return nil, err
		}
		lib.playlists[pl.Name] = pl
	}

	return lib, nil
}

func (l *Library) checkPreset(p Preset) error {
	n := len(l.segments)
	switch {
	case p.Name == "":
		return fmt.Errorf("%w: preset without a name", ErrInvalidLibrary)
	case len(p.Colors) != n:
		return fmt.Errorf("%w: preset %q has %d colors for %d segments", ErrInvalidLibrary, p.Name, len(p.Colors), n)
	case len(p.Effects) != n:
		return fmt.Errorf("%w: preset %q has %d effects for %d segments", ErrInvalidLibrary, p.Name, len(p.Effects), n)
	case len(p.Secondary) != 0 && len(p.Secondary) != n:
		return fmt.Errorf("%w: preset %q has %d secondary colors for %d segments", ErrInvalidLibrary, p.Name, len(p.Secondary), n)
	case p.Speed != nil && (*p.Speed < 0 || *p.Speed > 255):
		return fmt.Errorf("%w: preset %q speed %d outside [0,255]", ErrInvalidLibrary, p.Name, *p.Speed)
	case p.Intensity != nil && (*p.Intensity < 0 || *p.Intensity > 255):
		return fmt.Errorf("%w: preset %q intensity %d outside [0,255]", ErrInvalidLibrary, p.Name, *p.Intensity)
	}
	if _, dup := l.presets[p.Name]; dup {
		return fmt.Errorf("%w: duplicate preset %q", ErrInvalidLibrary, p.Name)
	}
	return nil
}

func (l *Library) checkPlaylist(pl Playlist) error {
	if pl.Name == "" {
		return fmt.Errorf("%w: playlist without a name", ErrInvalidLibrary)
	}
	if _, dup := l.playlists[pl.Name]; dup {
		return fmt.Errorf("%w: duplicate playlist %q", ErrInvalidLibrary, pl.Name)
	}
	if len(pl.Presets) == 0 {
		return fmt.Errorf("%w: playlist %q has no presets", ErrInvalidLibrary, pl.Name)
	}
	if len(pl.Durations) != len(pl.Presets) || len(pl.Transitions) != len(pl.Presets) {
		return fmt.Errorf("%w: playlist %q has %d presets, %d durations, %d transitions",
			ErrInvalidLibrary, pl.Name, len(pl.Presets), len(pl.Durations), len(pl.Transitions))
	}
	var total time.Duration
	for i, name := range pl.Presets {
		if _, ok := l.presets[name]; !ok {
			return fmt.Errorf("%w: playlist %q step %d references unknown preset %q", ErrInvalidLibrary, pl.Name, i, name)
		}
		if pl.Durations[i] < 0 || pl.Transitions[i] < 0 {
			return fmt.Errorf("%w: playlist %q step %d has a negative duration", ErrInvalidLibrary, pl.Name, i)
		}
		total += pl.Durations[i]
	}
	if pl.Repeat < 0 && total == 0 {
		return fmt.Errorf("%w: looping playlist %q needs a non-zero total duration", ErrInvalidLibrary, pl.Name)
	}
	if pl.End != "" && !slices.Contains(pl.Presets, pl.End) {
		return fmt.Errorf("%w: playlist %q end preset %q is not one of its presets", ErrInvalidLibrary, pl.Name, pl.End)
	}
	return nil
}

// Segments returns the configured segments in order.
func (l *Library) Segments() []Segment {
	return slices.Clone(l.segments)
}

// Preset looks up a preset by name.
func (l *Library) Preset(name string) (Preset, bool) {
	p, ok := l.presets[name]
	return p, ok
}

// Playlist looks up a playlist by name.
func (l *Library) Playlist(name string) (Playlist, bool) {
	pl, ok := l.playlists[name]
	return pl, ok
}

// PlaylistNames returns all playlist names sorted alphabetically.
func (l *Library) PlaylistNames() []string {
	names := make([]string, 0, len(l.playlists))
	for name := range l.playlists {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Steps resolves the preset references of a playlist.
func (l *Library) Steps(pl Playlist) []Step {
	steps := make([]Step, len(pl.Presets))
	for i, name := range pl.Presets {
		steps[i] = Step{
			Preset:     l.presets[name],
			Duration:   pl.Durations[i],
			Transition: pl.Transitions[i],
		}
	}
	return steps
}
