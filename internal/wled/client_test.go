package wled

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"boostlights/internal/show"

	"github.com/goccy/go-json"
)

type fakeDevice struct {
	mu          sync.Mutex
	states      []map[string]any
	effectCalls int
	failNext    int
	alwaysFail  bool
}

func (d *fakeDevice) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/json/effects", func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.effectCalls++
		d.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`["Solid","Blink","Breathe","Wipe"]`))
	})
	mux.HandleFunc("/json/state", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		d.mu.Lock()
		defer d.mu.Unlock()
		if d.alwaysFail || d.failNext > 0 {
			if d.failNext > 0 {
				d.failNext--
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		d.states = append(d.states, body)
		_, _ = w.Write([]byte(`{"success":true}`))
	})
	return mux
}

func (d *fakeDevice) effectLookups() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.effectCalls
}

func (d *fakeDevice) posted() []map[string]any {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]map[string]any(nil), d.states...)
}

var testSegments = []show.Segment{
	{Name: "left", Start: 0, Stop: 30, Grouping: 1},
	{Name: "right", Start: 30, Stop: 60, Grouping: 2, Reverse: true},
}

func newTestClient(t *testing.T, d *fakeDevice, cfg Config) *Client {
	t.Helper()
	srv := httptest.NewServer(d.handler())
	t.Cleanup(srv.Close)

	cfg.Name = "strip"
	cfg.Host = srv.URL
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	return New(cfg, testSegments, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testCommand() show.Command {
	speed := 200
	return show.Command{
		Device:     "strip",
		SessionID:  "s1",
		Playlist:   "party",
		Transition: 7 * time.Second,
		Preset: show.Preset{
			Name:      "A",
			Colors:    []show.RGB{{255, 0, 0}, {0, 0, 255}},
			Secondary: []show.RGB{{1, 2, 3}, {4, 5, 6}},
			Effects:   []string{"Breathe", "9"},
			Speed:     &speed,
		},
	}
}

func TestClient_Apply_posts_state(t *testing.T) {
	d := &fakeDevice{}
	c := newTestClient(t, d, Config{Brightness: 180})

	if err := c.Apply(context.Background(), testCommand()); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	states := d.posted()
	if len(states) != 1 {
		t.Fatalf("expected one state post, got %d", len(states))
	}
	st := states[0]
	if st["on"] != true || st["bri"] != float64(180) || st["transition"] != float64(70) {
		t.Errorf("unexpected top-level state %v", st)
	}

	segs := st["seg"].([]any)
	if len(segs) != show.MaxSegments {
		t.Fatalf("expected %d segment slots, got %d", show.MaxSegments, len(segs))
	}
	left := segs[0].(map[string]any)
	if left["fx"] != float64(2) || left["sx"] != float64(200) || left["ix"] != float64(DefaultIntensity) {
		t.Errorf("left segment effect fields wrong: %v", left)
	}
	cols := left["col"].([]any)
	if first := cols[0].([]any); first[0] != float64(255) || first[1] != float64(0) {
		t.Errorf("primary color wrong: %v", cols)
	}
	if second := cols[1].([]any); second[2] != float64(3) {
		t.Errorf("secondary color wrong: %v", cols)
	}

	right := segs[1].(map[string]any)
	if right["fx"] != float64(9) || right["grp"] != float64(2) || right["rev"] != true || right["start"] != float64(30) {
		t.Errorf("right segment wrong: %v", right)
	}

	unused := segs[2].(map[string]any)
	if unused["id"] != float64(2) || unused["stop"] != float64(0) || len(unused) != 2 {
		t.Errorf("unused slots should be cleared, got %v", unused)
	}
}

func TestClient_Apply_caches_effects(t *testing.T) {
	d := &fakeDevice{}
	c := newTestClient(t, d, Config{})

	for i := 0; i < 3; i++ {
		if err := c.Apply(context.Background(), testCommand()); err != nil {
			t.Fatalf("Apply %d: %v", i, err)
		}
	}
	if n := d.effectLookups(); n != 1 {
		t.Errorf("effects should be fetched once, got %d", n)
	}
}

func TestClient_Apply_numeric_effects_skip_lookup(t *testing.T) {
	d := &fakeDevice{}
	c := newTestClient(t, d, Config{})

	cmd := testCommand()
	cmd.Preset.Effects = []string{"0", "3"}
	if err := c.Apply(context.Background(), cmd); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n := d.effectLookups(); n != 0 {
		t.Errorf("numeric effects should not trigger a lookup, got %d calls", n)
	}
}

func TestClient_Apply_retries_transient_failures(t *testing.T) {
	d := &fakeDevice{failNext: 2}
	c := newTestClient(t, d, Config{Retries: 2})

	if err := c.Apply(context.Background(), testCommand()); err != nil {
		t.Fatalf("Apply should succeed on the third attempt: %v", err)
	}
	if len(d.posted()) != 1 {
		t.Errorf("expected the state to land once")
	}
}

func TestClient_Apply_unreachable(t *testing.T) {
	d := &fakeDevice{alwaysFail: true}
	c := newTestClient(t, d, Config{Retries: 1})

	err := c.Apply(context.Background(), testCommand())
	if !errors.Is(err, ErrDeviceUnreachable) {
		t.Fatalf("expected ErrDeviceUnreachable, got %v", err)
	}
}

func TestClient_Apply_connection_refused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(Config{Name: "gone", Host: url, RetryBackoff: time.Millisecond}, testSegments, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	cmd := testCommand()
	cmd.Preset.Effects = []string{"1", "2"}
	if err := c.Apply(context.Background(), cmd); !errors.Is(err, ErrDeviceUnreachable) {
		t.Errorf("expected ErrDeviceUnreachable, got %v", err)
	}
}

func TestClient_Apply_breaker_opens(t *testing.T) {
	d := &fakeDevice{alwaysFail: true}
	var hits int
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		d.handler().ServeHTTP(w, r)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{Name: "strip", Host: srv.URL, RetryBackoff: time.Millisecond, BreakerTrips: 2, BreakerCooldown: time.Hour},
		testSegments, srv.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	cmd := testCommand()
	cmd.Preset.Effects = []string{"1", "2"}

	for i := 0; i < 2; i++ {
		if err := c.Apply(context.Background(), cmd); !errors.Is(err, ErrDeviceUnreachable) {
			t.Fatalf("attempt %d: expected ErrDeviceUnreachable, got %v", i, err)
		}
	}
	mu.Lock()
	before := hits
	mu.Unlock()

	if err := c.Apply(context.Background(), cmd); !errors.Is(err, ErrDeviceUnreachable) {
		t.Fatalf("open circuit: expected ErrDeviceUnreachable, got %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if hits != before {
		t.Errorf("open circuit must not reach the device, hits went %d -> %d", before, hits)
	}
}
