package config

import (
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"time"

	"boostlights/internal/announce"
	"boostlights/internal/boostagram"
	"boostlights/internal/nwc"
	"boostlights/internal/osc"
	"boostlights/internal/relay"
	"boostlights/internal/show"
	"boostlights/internal/wled"
	"boostlights/internal/zap"

	"github.com/nbd-wtf/go-nostr/nip19"
)

func seconds(v float64) time.Duration {
	return time.Duration(math.Round(v * float64(time.Second)))
}

func rgb(c []int) show.RGB {
	return show.RGB{uint8(c[0]), uint8(c[1]), uint8(c[2])}
}

// Coordinate returns the "a" tag value of the configured content address.
func (f *File) Coordinate() (string, error) {
	coord, err := zap.ParseContentAddress(f.Zaps.Address)
	if err != nil {
		return "", fmt.Errorf("%w: zaps.naddr: %w", ErrInvalid, err)
	}
	return coord, nil
}

// WalletURI parses the wallet connection string.
func (f *File) WalletURI() (nwc.URI, error) {
	uri, err := nwc.ParseURI(f.NWC.URI)
	if err != nil {
		return nwc.URI{}, fmt.Errorf("%w: nwc.uri: %w", ErrInvalid, err)
	}
	return uri, nil
}

// BoardAuthors returns the boostboard keys as hex public keys.
func (f *File) BoardAuthors() ([]string, error) {
	out := make([]string, 0, len(f.Boostboard.Authors))
	for _, a := range f.Boostboard.Authors {
		a = strings.TrimSpace(a)
		if strings.HasPrefix(a, "npub1") {
			prefix, value, err := nip19.Decode(a)
			if err != nil || prefix != "npub" {
				return nil, fmt.Errorf("%w: boostboard.authors: %q is not an npub", ErrInvalid, a)
			}
			a = value.(string)
		}
		if len(a) != 64 || !isHex(a) {
			return nil, fmt.Errorf("%w: boostboard.authors: %q is not a public key", ErrInvalid, a)
		}
		out = append(out, a)
	}
	return out, nil
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

// BoardRelays returns the boostboard subscription, or false when no
// boostboard relay is configured.
func (f *File) BoardRelays(now time.Time) (relay.Config, bool) {
	if len(f.Boostboard.Relays) == 0 {
		return relay.Config{}, false
	}
	authors, _ := f.BoardAuthors()
	return relay.Config{
		Name: "boostboard-pool",
		URLs: f.Boostboard.Relays,
		Filter: relay.Filter{
			Kinds:   []int{boostagram.KindStoredBoost},
			Authors: authors,
			Since:   f.Since(now),
		},
	}, true
}

// BoostagramFilter returns the show filter shared by boostboard and the
// wallet poller.
func (f *File) BoostagramFilter() boostagram.Filter {
	return boostagram.Filter{
		Podcasts:     f.Boostagrams.Podcasts,
		EpisodeGUIDs: f.Boostagrams.EpisodeGUIDs,
		EventGUIDs:   f.Boostagrams.EventGUIDs,
	}
}

// PollerConfig reports false unless wallet boostagrams are turned on.
func (f *File) PollerConfig(now time.Time) (nwc.PollerConfig, bool) {
	if !f.Boostagrams.Wallet {
		return nwc.PollerConfig{}, false
	}
	return nwc.PollerConfig{
		Interval: f.Boostagrams.PollInterval,
		Since:    f.Since(now),
		Filter:   f.BoostagramFilter(),
	}, true
}

// Preemption returns the scheduler preemption policy.
func (f *File) Preemption() (show.Preemption, error) {
	p, err := show.ParsePreemption(f.Scheduler.Preemption)
	if err != nil {
		return 0, fmt.Errorf("%w: scheduler.preemption: %w", ErrInvalid, err)
	}
	return p, nil
}

// Library converts segments, presets and playlists into a show library.
func (f *File) Library() (*show.Library, error) {
	segments := make([]show.Segment, 0, len(f.Segments))
	for _, s := range f.Segments {
		segments = append(segments, show.Segment{
			Name:     s.Name,
			Start:    s.Start,
			Stop:     s.Stop,
			Grouping: s.Grouping,
			Reverse:  s.Reverse,
		})
	}

	presets := make([]show.Preset, 0, len(f.Presets))
	for _, p := range f.Presets {
		sp := show.Preset{
			Name:      p.Name,
			Effects:   p.Effects,
			Speed:     p.Speed,
			Intensity: p.Intensity,
		}
		for _, c := range p.Colors {
			sp.Colors = append(sp.Colors, rgb(c))
		}
		for _, c := range p.Secondary {
			sp.Secondary = append(sp.Secondary, rgb(c))
		}
		presets = append(presets, sp)
	}

	playlists := make([]show.Playlist, 0, len(f.Playlists))
	for _, pl := range f.Playlists {
		sp := show.Playlist{
			Name:    pl.Name,
			Presets: pl.Presets,
			Repeat:  pl.Repeat,
			End:     pl.End,
		}
		for _, d := range pl.Durations {
			sp.Durations = append(sp.Durations, seconds(d))
		}
		for _, d := range pl.Transitions {
			sp.Transitions = append(sp.Transitions, seconds(d))
		}
		playlists = append(playlists, sp)
	}

	lib, err := show.NewLibrary(segments, presets, playlists)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return lib, nil
}

// Policy builds the selection policy and checks that it only names
// playlists from lib. Round robin without a list cycles through every
// playlist in file order.
func (f *File) Policy(lib *show.Library) (show.Policy, error) {
	sel := f.Selection
	playlists := sel.Playlists
	if len(playlists) == 0 {
		for _, pl := range f.Playlists {
			playlists = append(playlists, pl.Name)
		}
	}

	tiers := sel.Tiers
	if sel.Policy == "thresholds" {
		tiers = sel.Thresholds
	}
	converted := make([]show.Tier, 0, len(tiers))
	for _, t := range tiers {
		converted = append(converted, show.Tier{MinSats: t.MinSats, Playlist: t.Playlist})
	}

	for _, name := range playlists {
		if _, ok := lib.Playlist(name); !ok {
			return nil, fmt.Errorf("%w: selection names unknown playlist %q", ErrInvalid, name)
		}
	}
	for _, t := range converted {
		if _, ok := lib.Playlist(t.Playlist); !ok {
			return nil, fmt.Errorf("%w: selection tier names unknown playlist %q", ErrInvalid, t.Playlist)
		}
	}

	p, err := show.NewPolicy(sel.Policy, playlists, converted)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return p, nil
}

// Since is where relay subscriptions start when the process boots.
func (f *File) Since(now time.Time) time.Time {
	return now.Add(-f.Zaps.SinceSlack)
}

func (f *File) DedupWindow() *zap.Window {
	return zap.NewWindow(f.Dedup.Capacity, f.Dedup.Window)
}

func (f *File) CorrelatorConfig() zap.CorrelatorConfig {
	return zap.CorrelatorConfig{
		Timeout:         f.NWC.Timeout,
		Concurrency:     f.NWC.Concurrency,
		InvoiceCapacity: f.Dedup.Capacity,
		InvoiceTTL:      f.Dedup.Window,
	}
}

func (f *File) SchedulerFor(device string, p show.Preemption) show.SchedulerConfig {
	return show.SchedulerConfig{Device: device, Preemption: p, QueueSize: f.Scheduler.Queue}
}

// DefaultDeviceRetries applies to devices that leave retries unset.
const DefaultDeviceRetries = 3

// DeviceConfigs returns one WLED client configuration per device, in file
// order.
func (f *File) DeviceConfigs() []wled.Config {
	out := make([]wled.Config, 0, len(f.Devices))
	for _, d := range f.Devices {
		retries := DefaultDeviceRetries
		if d.Retries != nil {
			retries = *d.Retries
		}
		out = append(out, wled.Config{
			Name:         d.Name,
			Host:         d.Host,
			Brightness:   d.Brightness,
			Retries:      retries,
			RetryBackoff: d.RetryBackoff,
			Timeout:      d.Timeout,
		})
	}
	return out
}

// OSCTarget reports false when no OSC target is configured.
func (f *File) OSCTarget() (osc.Config, bool) {
	if f.OSC.Address == "" {
		return osc.Config{}, false
	}
	return osc.Config{Address: f.OSC.Address, Path: f.OSC.Path}, true
}

// MQTTTarget reports false when no broker is configured.
func (f *File) MQTTTarget() (announce.Config, bool) {
	if f.MQTT.Broker == "" {
		return announce.Config{}, false
	}
	return announce.Config{
		Broker:   f.MQTT.Broker,
		Topic:    f.MQTT.Topic,
		ClientID: f.MQTT.ClientID,
		Username: f.MQTT.Username,
		Password: f.MQTT.Password,
	}, true
}
