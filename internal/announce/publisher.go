package announce

import (
	"fmt"
	"log/slog"
	"time"

	"boostlights/internal/zap"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/goccy/go-json"
)

// Defaults for Config.
const (
	DefaultTopic    = "boostlights/boosts"
	DefaultClientID = "boostlights"
	DefaultTimeout  = 5 * time.Second
)

// Config configures the MQTT connection.
type Config struct {
	Broker   string
	Topic    string
	ClientID string
	Username string
	Password string
	Timeout  time.Duration
}

// Message is the JSON document published for each confirmed boost.
type Message struct {
	EventID     string    `json:"event_id"`
	Source      string    `json:"source"`
	Relay       string    `json:"relay,omitempty"`
	Payer       string    `json:"payer,omitempty"`
	AmountMsat  int64     `json:"amount_msat"`
	Sats        int64     `json:"sats"`
	Message     string    `json:"message,omitempty"`
	Playlist    string    `json:"playlist,omitempty"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// Publisher announces confirmed boosts on an MQTT topic, QoS 0.
type Publisher struct {
	client  mqtt.Client
	topic   string
	timeout time.Duration
	log     *slog.Logger
}

// Connect dials the broker and returns a publisher.
func Connect(cfg Config, log *slog.Logger) (*Publisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultClientID
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectTimeout(cfg.Timeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(cfg.Timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}
	log.Info("connected to mqtt broker", slog.String("broker", cfg.Broker))

	return NewPublisher(client, cfg.Topic, cfg.Timeout, log), nil
}

// NewPublisher wraps an already connected client.
func NewPublisher(client mqtt.Client, topic string, timeout time.Duration, log *slog.Logger) *Publisher {
	if topic == "" {
		topic = DefaultTopic
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Publisher{client: client, topic: topic, timeout: timeout, log: log}
}

// Announce publishes b. Failures are logged and otherwise ignored.
func (p *Publisher) Announce(b zap.Boost, playlist string) {
	payload, err := json.Marshal(Message{
		EventID:     b.EventID,
		Source:      b.Source,
		Relay:       b.Relay,
		Payer:       b.Payer,
		AmountMsat:  b.AmountMsat,
		Sats:        b.Sats(),
		Message:     b.Message,
		Playlist:    playlist,
		ConfirmedAt: b.ConfirmedAt,
	})
	if err != nil {
		p.log.Error("encode boost announcement", slog.String("error", err.Error()))
		return
	}

	token := p.client.Publish(p.topic, 0, false, payload)
	if !token.WaitTimeout(p.timeout) {
		p.log.Warn("mqtt publish timed out", slog.String("event_id", b.EventID))
		return
	}
	if err := token.Error(); err != nil {
		p.log.Warn("mqtt publish failed", slog.String("event_id", b.EventID), slog.String("error", err.Error()))
	}
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
