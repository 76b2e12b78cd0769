package boostagram

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// TLVType is the keysend TLV record that carries a podcast boostagram.
const TLVType = 7629169

// ActionBoost is the only boostagram action that plays a show. Streaming
// payments use other actions.
const ActionBoost = "boost"

// ErrNoBoostagram is returned when a payload carries no boostagram.
var ErrNoBoostagram = errors.New("no boostagram")

// Boostagram is the podcast payment metadata sent along with a boost.
type Boostagram struct {
	Action         string `json:"action"`
	AppName        string `json:"app_name,omitempty"`
	Podcast        string `json:"podcast,omitempty"`
	Episode        string `json:"episode,omitempty"`
	EpisodeGUID    string `json:"episode_guid,omitempty"`
	EventGUID      string `json:"event_guid,omitempty"`
	SenderName     string `json:"sender_name,omitempty"`
	Message        string `json:"message,omitempty"`
	ValueMsatTotal int64  `json:"value_msat_total"`
	Timestamp      int64  `json:"ts,omitempty"`
}

// IsBoost reports whether b asks for a show.
func (b Boostagram) IsBoost() bool {
	return strings.EqualFold(b.Action, ActionBoost)
}

// Parse reads a boostagram JSON document. Apps disagree on a few key
// names, so the common spellings are all accepted.
func Parse(data []byte) (Boostagram, error) {
	if !gjson.ValidBytes(data) {
		return Boostagram{}, fmt.Errorf("%w: payload is not JSON", ErrNoBoostagram)
	}
	return fromResult(gjson.ParseBytes(data))
}

func fromResult(doc gjson.Result) (Boostagram, error) {
	if !doc.IsObject() {
		return Boostagram{}, fmt.Errorf("%w: payload is not an object", ErrNoBoostagram)
	}
	b := Boostagram{
		Action:         first(doc, "action").String(),
		AppName:        first(doc, "app_name").String(),
		Podcast:        first(doc, "podcast").String(),
		Episode:        first(doc, "episode").String(),
		EpisodeGUID:    first(doc, "episode_guid", "episodeGuid").String(),
		EventGUID:      first(doc, "event_guid", "eventGuid").String(),
		SenderName:     first(doc, "sender_name", "senderName").String(),
		Message:        first(doc, "message").String(),
		ValueMsatTotal: first(doc, "value_msat_total", "value_msat").Int(),
		Timestamp:      first(doc, "ts").Int(),
	}
	if b.Action == "" && b.ValueMsatTotal == 0 {
		return Boostagram{}, fmt.Errorf("%w: neither action nor value", ErrNoBoostagram)
	}
	return b, nil
}

func first(doc gjson.Result, keys ...string) gjson.Result {
	for _, k := range keys {
		if v := doc.Get(k); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

// FromTLVRecords finds the boostagram record in a wallet transaction's
// metadata. The records are objects with a numeric "type" and a hex
// "value".
func FromTLVRecords(metadata []byte) (Boostagram, error) {
	if len(metadata) == 0 || !gjson.ValidBytes(metadata) {
		return Boostagram{}, ErrNoBoostagram
	}

	var (
		out   Boostagram
		found bool
		err   error
	)
	gjson.GetBytes(metadata, "tlv_records").ForEach(func(_, rec gjson.Result) bool {
		if rec.Get("type").Int() != TLVType {
			return true
		}
		raw, decodeErr := hex.DecodeString(rec.Get("value").String())
		if decodeErr != nil {
			err = fmt.Errorf("%w: tlv value is not hex: %w", ErrNoBoostagram, decodeErr)
			return false
		}
		out, err = Parse(raw)
		found = err == nil
		return false
	})
	if err != nil {
		return Boostagram{}, err
	}
	if !found {
		return Boostagram{}, ErrNoBoostagram
	}
	return out, nil
}

// Filter narrows boostagrams to a show. An empty filter matches
// everything; otherwise any one matching field is enough.
type Filter struct {
	Podcasts     []string
	EpisodeGUIDs []string
	EventGUIDs   []string
}

func (f Filter) empty() bool {
	return len(f.Podcasts) == 0 && len(f.EpisodeGUIDs) == 0 && len(f.EventGUIDs) == 0
}

// Match reports whether b belongs to the filtered show. Podcast names
// match case-insensitively by substring, GUIDs exactly.
func (f Filter) Match(b Boostagram) bool {
	if f.empty() {
		return true
	}
	podcast := strings.ToLower(b.Podcast)
	for _, p := range f.Podcasts {
		if p != "" && strings.Contains(podcast, strings.ToLower(p)) {
			return true
		}
	}
	if b.EpisodeGUID != "" {
		for _, g := range f.EpisodeGUIDs {
			if g == b.EpisodeGUID {
				return true
			}
		}
	}
	if b.EventGUID != "" {
		for _, g := range f.EventGUIDs {
			if g == b.EventGUID {
				return true
			}
		}
	}
	return false
}
