package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"boostlights/internal/nwc"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix marks environment variables that override the show file.
// A double underscore separates levels: BOOSTLIGHTS_NWC__URI sets nwc.uri.
const EnvPrefix = "BOOSTLIGHTS_"

// ErrInvalid is returned for any configuration that cannot be run.
var ErrInvalid = errors.New("invalid configuration")

// File is the show configuration file.
type File struct {
	Zaps      ZapsConfig       `koanf:"zaps"`
	Dedup     DedupConfig      `koanf:"dedup"`
	NWC       NWCConfig        `koanf:"nwc"`
	Selection SelectionConfig  `koanf:"selection"`
	Scheduler SchedulerConfig  `koanf:"scheduler"`
	Devices   []DeviceConfig   `koanf:"devices" validate:"required,min=1,dive"`
	OSC       OSCConfig        `koanf:"osc"`
	MQTT      MQTTConfig       `koanf:"mqtt"`
	Segments  []SegmentConfig  `koanf:"segments" validate:"required,min=1,max=32,dive"`
	Presets   []PresetConfig   `koanf:"presets" validate:"required,min=1,dive"`
	Playlists []PlaylistConfig `koanf:"playlists" validate:"required,min=1,dive"`

	// Optional boost sources beside zaps.
	Boostboard  BoostboardConfig `koanf:"boostboard"`
	Boostagrams BoostagramConfig `koanf:"boostagrams"`
}

type ZapsConfig struct {
	Relays     []string      `koanf:"relays" validate:"required,min=1,dive,url"`
	Address    string        `koanf:"naddr" validate:"required"`
	SinceSlack time.Duration `koanf:"since_slack" validate:"gte=0"`
}

type DedupConfig struct {
	Capacity int           `koanf:"capacity" validate:"gte=0"`
	Window   time.Duration `koanf:"window" validate:"gte=0"`
}

type NWCConfig struct {
	URI         string        `koanf:"uri" validate:"required"`
	Timeout     time.Duration `koanf:"timeout" validate:"gte=0"`
	Concurrency int64         `koanf:"concurrency" validate:"gte=0"`
}

// BoostboardConfig subscribes to a boostboard instance. Authors are the
// hex or npub keys the instance signs with; they are required with relays.
type BoostboardConfig struct {
	Relays  []string `koanf:"relays" validate:"omitempty,dive,url"`
	Authors []string `koanf:"authors" validate:"required_with=Relays,dive,required"`
}

// BoostagramConfig narrows boostagrams from boostboard and the wallet to
// one show. Wallet turns on polling the wallet for incoming keysend
// boostagrams.
type BoostagramConfig struct {
	Wallet       bool          `koanf:"wallet"`
	PollInterval time.Duration `koanf:"poll_interval" validate:"gte=0"`
	Podcasts     []string      `koanf:"podcasts"`
	EpisodeGUIDs []string      `koanf:"episode_guids"`
	EventGUIDs   []string      `koanf:"event_guids"`
}

type TierConfig struct {
	MinSats  int64  `koanf:"min_sats" validate:"gte=0"`
	Playlist string `koanf:"playlist" validate:"required"`
}

type SelectionConfig struct {
	Policy     string       `koanf:"policy" validate:"omitempty,oneof=round_robin tiers thresholds"`
	Playlists  []string     `koanf:"playlists"`
	Tiers      []TierConfig `koanf:"tiers" validate:"dive"`
	Thresholds []TierConfig `koanf:"thresholds" validate:"dive"`
}

type SchedulerConfig struct {
	Preemption string `koanf:"preemption" validate:"omitempty,oneof=finish_step immediate ignore"`
	Queue      int    `koanf:"queue" validate:"gte=0"`
}

type DeviceConfig struct {
	Name         string        `koanf:"name" validate:"required"`
	Host         string        `koanf:"host" validate:"required"`
	Brightness   int           `koanf:"brightness" validate:"gte=0,lte=255"`
	Retries      *int          `koanf:"retries" validate:"omitempty,gte=0,lte=10"`
	RetryBackoff time.Duration `koanf:"retry_backoff" validate:"gte=0"`
	Timeout      time.Duration `koanf:"timeout" validate:"gte=0"`
}

type OSCConfig struct {
	Address string `koanf:"address" validate:"omitempty,hostname_port"`
	Path    string `koanf:"path" validate:"omitempty,startswith=/"`
}

type MQTTConfig struct {
	Broker   string `koanf:"broker" validate:"omitempty,url"`
	Topic    string `koanf:"topic"`
	ClientID string `koanf:"client_id"`
	Username string `koanf:"username"`
	Password string `koanf:"password"`
}

type SegmentConfig struct {
	Name     string `koanf:"name"`
	Start    int    `koanf:"start" validate:"gte=0"`
	Stop     int    `koanf:"stop" validate:"gtfield=Start"`
	Grouping int    `koanf:"grouping" validate:"gte=0"`
	Reverse  bool   `koanf:"reverse"`
}

type PresetConfig struct {
	Name      string   `koanf:"name" validate:"required"`
	Colors    [][]int  `koanf:"colors" validate:"required,dive,len=3,dive,gte=0,lte=255"`
	Secondary [][]int  `koanf:"secondary" validate:"omitempty,dive,len=3,dive,gte=0,lte=255"`
	Effects   []string `koanf:"effects" validate:"required,dive,required"`
	Speed     *int     `koanf:"speed" validate:"omitempty,gte=0,lte=255"`
	Intensity *int     `koanf:"intensity" validate:"omitempty,gte=0,lte=255"`
}

// PlaylistConfig durations and transitions are seconds, fractions allowed.
// A negative repeat loops until another boost preempts the playlist.
type PlaylistConfig struct {
	Name        string    `koanf:"name" validate:"required"`
	Presets     []string  `koanf:"presets" validate:"required,min=1"`
	Durations   []float64 `koanf:"durations" validate:"dive,gte=0"`
	Transitions []float64 `koanf:"transitions" validate:"dive,gte=0"`
	Repeat      int       `koanf:"repeat"`
	End         string    `koanf:"end"`
}

func defaultFile() *File {
	return &File{
		Zaps:        ZapsConfig{SinceSlack: time.Minute},
		Dedup:       DedupConfig{Capacity: 4096, Window: 2 * time.Minute},
		NWC:         NWCConfig{Timeout: 5 * time.Second, Concurrency: 8},
		Selection:   SelectionConfig{Policy: "round_robin"},
		Scheduler:   SchedulerConfig{Preemption: "finish_step", Queue: 16},
		OSC:         OSCConfig{Path: "/boost"},
		MQTT:        MQTTConfig{Topic: "boostlights/boosts", ClientID: "boostlights"},
		Boostagrams: BoostagramConfig{PollInterval: nwc.DefaultPollInterval},
	}
}

// sliceKeys are split on commas when they come from the environment.
var sliceKeys = []string{
	"zaps.relays",
	"selection.playlists",
	"boostboard.relays",
	"boostboard.authors",
	"boostagrams.podcasts",
}

// LoadShow reads the show file at path, applies defaults and BOOSTLIGHTS_
// overrides and validates the result. Every failure wraps ErrInvalid.
func LoadShow(path string) (*File, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultFile(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("%w: defaults: %w", ErrInvalid, err)
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrInvalid, path, err)
	}
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("%w: environment: %w", ErrInvalid, err)
	}
	for _, key := range sliceKeys {
		if s, ok := k.Get(key).(string); ok {
			if err := k.Set(key, splitList(s)); err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrInvalid, key, err)
			}
		}
	}

	f := &File{}
	if err := k.Unmarshal("", f); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrInvalid, path, err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// envKey maps BOOSTLIGHTS_NWC__URI to nwc.uri. Empty values are skipped so
// a blank line in .env does not wipe the file's setting.
func envKey(key, value string) (string, any) {
	if value == "" {
		return "", nil
	}
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return strings.ReplaceAll(key, "__", "."), value
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks field constraints and every cross reference the runtime
// depends on.
func (f *File) Validate() error {
	if err := validate.Struct(f); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	names := make(map[string]bool, len(f.Devices))
	for _, d := range f.Devices {
		if names[d.Name] {
			return fmt.Errorf("%w: duplicate device %q", ErrInvalid, d.Name)
		}
		names[d.Name] = true
	}

	if _, err := f.Coordinate(); err != nil {
		return err
	}
	if _, err := f.WalletURI(); err != nil {
		return err
	}
	if _, err := f.BoardAuthors(); err != nil {
		return err
	}
	if _, err := f.Preemption(); err != nil {
		return err
	}
	lib, err := f.Library()
	if err != nil {
		return err
	}
	if _, err := f.Policy(lib); err != nil {
		return err
	}
	return nil
}
