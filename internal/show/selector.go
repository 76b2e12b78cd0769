package show

import (
	"fmt"
	"sort"
	"sync"
)

// SelectionState is the state a Policy threads from one boost to the next.
type SelectionState struct {
	// Count is the number of boosts selected so far.
	Count uint64
	// CycleSats is the running total used by Thresholds, already wrapped
	// around the largest threshold.
	CycleSats int64
}

// Policy maps a confirmed amount and the prior state to a playlist name.
// Implementations must be pure: same inputs, same outputs. An empty name
// means the boost does not start a show.
type Policy interface {
	Select(amountMsat int64, st SelectionState) (playlist string, next SelectionState)
}

// RoundRobin cycles through a fixed list of playlists regardless of amount.
type RoundRobin struct {
	Playlists []string
}

// Select implements Policy.
func (r RoundRobin) Select(_ int64, st SelectionState) (string, SelectionState) {
	if len(r.Playlists) == 0 {
		return "", st
	}
	name := r.Playlists[st.Count%uint64(len(r.Playlists))]
	st.Count++
	return name, st
}

// Tier maps every boost of at least MinSats to Playlist.
type Tier struct {
	MinSats  int64
	Playlist string
}

// Tiers picks the playlist of the highest tier the amount reaches.
// Tiers must be sorted ascending by MinSats; NewTiers does that.
type Tiers []Tier

// NewTiers returns the tiers sorted by MinSats.
func NewTiers(tiers []Tier) Tiers {
	out := make(Tiers, len(tiers))
	copy(out, tiers)
	sort.SliceStable(out, func(i, j int) bool { return out[i].MinSats < out[j].MinSats })
	return out
}

// Select implements Policy.
func (t Tiers) Select(amountMsat int64, st SelectionState) (string, SelectionState) {
	sats := amountMsat / 1000
	name := ""
	for _, tier := range t {
		if sats >= tier.MinSats {
			name = tier.Playlist
		}
	}
	st.Count++
	return name, st
}

// Thresholds accumulates boosts and fires when the running total crosses a
// threshold. Reaching the largest threshold wraps the total around, so a
// long stream of small boosts keeps producing shows.
type Thresholds []Tier

// NewThresholds returns the thresholds sorted by MinSats.
func NewThresholds(tiers []Tier) Thresholds {
	return Thresholds(NewTiers(tiers))
}

// Select implements Policy. When several thresholds are crossed by one
// boost the largest one wins. Wrapping subtracts the largest threshold once,
// so a boost worth more than a full cycle carries the excess into the next
// one and the following boost wraps again.
func (t Thresholds) Select(amountMsat int64, st SelectionState) (string, SelectionState) {
	st.Count++
	if len(t) == 0 {
		return "", st
	}

	top := t[len(t)-1]
	old := st.CycleSats
	total := old + amountMsat/1000

	name := ""
	if top.MinSats > 0 && total >= top.MinSats {
		name = top.Playlist
		st.CycleSats = total - top.MinSats
		return name, st
	}

	st.CycleSats = total
	for _, tier := range t {
		if old < tier.MinSats && total >= tier.MinSats {
			name = tier.Playlist
		}
	}
	return name, st
}

// Selector applies a Policy and owns the state it advances.
type Selector struct {
	mu     sync.Mutex
	policy Policy
	state  SelectionState
}

// NewSelector returns a Selector starting from the zero state.
func NewSelector(p Policy) *Selector {
	return &Selector{policy: p}
}

// Select returns the playlist for a boost and advances the selector state.
func (s *Selector) Select(amountMsat int64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	name, next := s.policy.Select(amountMsat, s.state)
	s.state = next
	return name
}

// State returns a copy of the current selection state.
func (s *Selector) State() SelectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// NewPolicy builds a policy by name: "round_robin" (default), "tiers" or
// "thresholds".
func NewPolicy(kind string, playlists []string, tiers []Tier) (Policy, error) {
	switch kind {
	case "", "round_robin":
		if len(playlists) == 0 {
			return nil, fmt.Errorf("%w: round_robin selection needs at least one playlist", ErrInvalidLibrary)
		}
		return RoundRobin{Playlists: playlists}, nil
	case "tiers":
		if len(tiers) == 0 {
			return nil, fmt.Errorf("%w: tiers selection needs at least one tier", ErrInvalidLibrary)
		}
		return NewTiers(tiers), nil
	case "thresholds":
		if len(tiers) == 0 {
			return nil, fmt.Errorf("%w: thresholds selection needs at least one threshold", ErrInvalidLibrary)
		}
		return NewThresholds(tiers), nil
	default:
		return nil, fmt.Errorf("%w: unknown selection policy %q", ErrInvalidLibrary, kind)
	}
}
