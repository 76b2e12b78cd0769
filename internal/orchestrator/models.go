package orchestrator

import "time"

// Outcome is how the pipeline finished with a boost.
type Outcome string

const (
	// OutcomeTriggered means a playlist was queued on the stage.
	OutcomeTriggered Outcome = "triggered"
	// OutcomeBelowThreshold means the payment was confirmed but the
	// selection policy picked no playlist.
	OutcomeBelowThreshold Outcome = "below_threshold"
	// OutcomeUnconfirmed means the wallet did not confirm the payment.
	OutcomeUnconfirmed Outcome = "unconfirmed"
	// OutcomeFailed means the stage refused the trigger.
	OutcomeFailed Outcome = "failed"
)

// BoostRecord is one entry of the boost history.
// This is also the JSON document served by GET /boosts.
type BoostRecord struct {
	EventID     string    `json:"event_id"`
	Source      string    `json:"source"`
	Relay       string    `json:"relay,omitempty"`
	Payer       string    `json:"payer,omitempty"`
	Message     string    `json:"message,omitempty"`
	ClaimedMsat int64     `json:"claimed_msat"`
	AmountMsat  int64     `json:"amount_msat"`
	Playlist    string    `json:"playlist,omitempty"`
	Outcome     Outcome   `json:"outcome"`
	Error       string    `json:"error,omitempty"`
	ReceivedAt  time.Time `json:"received_at"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Totals summarizes every boost recorded since startup, including the ones
// the store no longer holds.
type Totals struct {
	Boosts      int   `json:"boosts"`
	Triggered   int   `json:"triggered"`
	Unconfirmed int   `json:"unconfirmed"`
	AmountMsat  int64 `json:"amount_msat"`
}
