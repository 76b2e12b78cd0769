package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"boostlights/internal/boostagram"
	"boostlights/internal/relay"
	"boostlights/internal/show"
	"boostlights/internal/zap"

	"github.com/nbd-wtf/go-nostr"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeWallet struct {
	mu       sync.Mutex
	invoices map[string]zap.Invoice
	calls    atomic.Int32
}

func (w *fakeWallet) LookupInvoice(_ context.Context, invoice string) (zap.Invoice, error) {
	w.calls.Add(1)
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.invoices[invoice], nil
}

type recordingSink struct {
	mu   sync.Mutex
	cmds []show.Command
}

func (s *recordingSink) Apply(_ context.Context, cmd show.Command) error {
	s.mu.Lock()
	s.cmds = append(s.cmds, cmd)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) commands() []show.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]show.Command(nil), s.cmds...)
}

type recordingAnnouncer struct {
	mu        sync.Mutex
	playlists []string
}

func (a *recordingAnnouncer) Announce(_ zap.Boost, playlist string) {
	a.mu.Lock()
	a.playlists = append(a.playlists, playlist)
	a.mu.Unlock()
}

func (a *recordingAnnouncer) announced() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.playlists...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func testLibrary(t *testing.T) *show.Library {
	t.Helper()
	red := show.Preset{Name: "red", Colors: []show.RGB{{255, 0, 0}}, Effects: []string{"Solid"}}
	blue := show.Preset{Name: "blue", Colors: []show.RGB{{0, 0, 255}}, Effects: []string{"Solid"}}
	lib, err := show.NewLibrary(
		[]show.Segment{{Name: "all", Start: 0, Stop: 60}},
		[]show.Preset{red, blue},
		[]show.Playlist{
			{Name: "calm", Presets: []string{"blue"}, Durations: []time.Duration{10 * time.Millisecond}, Transitions: []time.Duration{0}},
			{Name: "party", Presets: []string{"red"}, Durations: []time.Duration{10 * time.Millisecond}, Transitions: []time.Duration{0}},
		},
	)
	if err != nil {
		t.Fatalf("NewLibrary: %v", err)
	}
	return lib
}

// fixture is a complete pipeline over fakes.
type fixture struct {
	svc        *Service
	repo       *InMemoryRepository
	wallet     *fakeWallet
	sink       *recordingSink
	announcer  *recordingAnnouncer
	stage      *show.Stage
	coordinate string
	zapper     string
	events     chan relay.Event

	boardAuthor string
	boardEvents chan relay.Event
	payments    chan zap.Boost
}

func newFixture(t *testing.T, policy show.Policy, serve bool) *fixture {
	t.Helper()

	zapperSK := nostr.GeneratePrivateKey()
	hostPK, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	coordinate := "30311:" + hostPK + ":live-show"

	lib := testLibrary(t)
	sink := &recordingSink{}
	sched := show.NewScheduler(show.SchedulerConfig{Device: "stage"}, lib, sink, nil, discardLogger(), nil)
	stage := show.NewStage(sched)
	if serve {
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			_ = sched.Serve(ctx)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	if policy == nil {
		policy = show.RoundRobin{Playlists: []string{"calm", "party"}}
	}

	f := &fixture{
		repo:       NewInMemoryRepository(0),
		wallet:     &fakeWallet{invoices: map[string]zap.Invoice{}},
		sink:       sink,
		announcer:  &recordingAnnouncer{},
		stage:      stage,
		coordinate: coordinate,
		zapper:     zapperSK,
		events:     make(chan relay.Event, 8),

		boardAuthor: nostr.GeneratePrivateKey(),
		boardEvents: make(chan relay.Event, 8),
		payments:    make(chan zap.Boost, 8),
	}
	boardPK, _ := nostr.GetPublicKey(f.boardAuthor)
	f.svc = NewService(Deps{
		Events:     f.events,
		Validator:  zap.NewValidator(coordinate, nil),
		Correlator: zap.NewCorrelator(f.wallet, zap.CorrelatorConfig{Timeout: time.Second}),
		Selector:   show.NewSelector(policy),
		Stage:      stage,
		Repo:       f.repo,
		Announcer:  f.announcer,

		BoardEvents: f.boardEvents,
		Board:       boostagram.NewBoard([]string{boardPK}, boostagram.Filter{}, nil),
		Payments:    f.payments,
	}, discardLogger(), nil)
	return f
}

func (f *fixture) pay(invoice string, amountMsat int64) {
	f.wallet.mu.Lock()
	f.wallet.invoices[invoice] = zap.Invoice{Paid: true, AmountMsat: amountMsat, SettledAt: time.Now()}
	f.wallet.mu.Unlock()
}

// receipt builds a signed zap receipt for the fixture's coordinate.
func (f *fixture) receipt(t *testing.T, coordinate, invoice string, amountMsat int64) *nostr.Event {
	t.Helper()
	return f.receiptAt(t, coordinate, invoice, amountMsat, nostr.Now())
}

func (f *fixture) receiptAt(t *testing.T, coordinate, invoice string, amountMsat int64, createdAt nostr.Timestamp) *nostr.Event {
	t.Helper()

	payerSK := nostr.GeneratePrivateKey()
	req := nostr.Event{
		Kind:      zap.KindZapRequest,
		CreatedAt: nostr.Now(),
		Content:   "lights!",
		Tags: nostr.Tags{
			{"amount", strconv.FormatInt(amountMsat, 10)},
			{"a", coordinate},
		},
	}
	if err := req.Sign(payerSK); err != nil {
		t.Fatalf("sign zap request: %v", err)
	}

	ev := &nostr.Event{
		Kind:      zap.KindZapReceipt,
		CreatedAt: createdAt,
		Tags: nostr.Tags{
			{"a", coordinate},
			{"bolt11", invoice},
			{"description", req.String()},
		},
	}
	if err := ev.Sign(f.zapper); err != nil {
		t.Fatalf("sign receipt: %v", err)
	}
	return ev
}

// boardEvent builds a boostboard event signed with sk.
func boardEvent(t *testing.T, sk, action string, amountMsat int64) *nostr.Event {
	t.Helper()
	ev := &nostr.Event{
		Kind:      boostagram.KindStoredBoost,
		CreatedAt: nostr.Now(),
		Tags:      nostr.Tags{{"d", "boost"}},
		Content: `{"boostagram":{"action":"` + action + `","sender_name":"carol","message":"board!",` +
			`"value_msat_total":` + strconv.FormatInt(amountMsat, 10) + `}}`,
	}
	if err := ev.Sign(sk); err != nil {
		t.Fatalf("sign board event: %v", err)
	}
	return ev
}

// chanSubscriber hands out one buffered channel per subscription.
type chanSubscriber struct {
	mu      sync.Mutex
	filters []nostr.Filter
	opened  chan chan *nostr.Event
}

func (s *chanSubscriber) Subscribe(ctx context.Context, _ string, filter nostr.Filter) (<-chan *nostr.Event, error) {
	s.mu.Lock()
	s.filters = append(s.filters, filter)
	s.mu.Unlock()

	ch := make(chan *nostr.Event, 8)
	select {
	case s.opened <- ch:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return ch, nil
}

func (s *chanSubscriber) next(t *testing.T) chan *nostr.Event {
	t.Helper()
	select {
	case ch := <-s.opened:
		return ch
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a subscription")
		return nil
	}
}

func (s *chanSubscriber) filter(i int) nostr.Filter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.filters[i]
}

func nostrPublicKey() (string, error) {
	return nostr.GetPublicKey(nostr.GeneratePrivateKey())
}
