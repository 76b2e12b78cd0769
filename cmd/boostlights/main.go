package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boostlights/internal/announce"
	"boostlights/internal/boostagram"
	"boostlights/internal/nwc"
	"boostlights/internal/orchestrator"
	"boostlights/internal/osc"
	"boostlights/internal/platform/config"
	"boostlights/internal/platform/logger"
	"boostlights/internal/platform/metrics"
	"boostlights/internal/relay"
	"boostlights/internal/show"
	"boostlights/internal/wled"
	"boostlights/internal/zap"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = config.Load()
	proc := config.FromEnv()
	log := logger.New(proc.LogLevel, proc.LogFormat)

	file, err := config.LoadShow(proc.ShowConfig)
	if err != nil {
		log.Error("configuration invalid", "path", proc.ShowConfig, "error", err)
		return 1
	}
	// LoadShow already validated these.
	coordinate, _ := file.Coordinate()
	walletURI, _ := file.WalletURI()
	preemption, _ := file.Preemption()
	lib, err := file.Library()
	if err != nil {
		log.Error("configuration invalid", "error", err)
		return 1
	}
	policy, err := file.Policy(lib)
	if err != nil {
		log.Error("configuration invalid", "error", err)
		return 1
	}

	met := metrics.New()

	transport := nwc.NewRelayTransport(walletURI.Relays[0], log)
	defer transport.Close()
	wallet, err := nwc.NewClient(walletURI, transport, log)
	if err != nil {
		log.Error("wallet connect failed", "wallet", walletURI.String(), "error", err)
		return 1
	}

	var notifier show.Notifier
	if oscCfg, ok := file.OSCTarget(); ok {
		emitter, err := osc.New(oscCfg, log)
		if err != nil {
			log.Error("configuration invalid", "error", err)
			return 1
		}
		notifier = emitter
	}

	var announcer orchestrator.Announcer
	if mqttCfg, ok := file.MQTTTarget(); ok {
		pub, err := announce.Connect(mqttCfg, log)
		if err != nil {
			// Announcements are optional; the show runs without them.
			log.Warn("mqtt unavailable, boosts will not be announced", "broker", mqttCfg.Broker, "error", err)
		} else {
			defer pub.Close()
			announcer = pub
		}
	}

	schedulers := make([]*show.Scheduler, 0, len(file.Devices))
	for _, devCfg := range file.DeviceConfigs() {
		device := wled.New(devCfg, lib.Segments(), nil, log)
		schedulers = append(schedulers, show.NewScheduler(file.SchedulerFor(devCfg.Name, preemption), lib, device, notifier, log, met))
	}
	stage := show.NewStage(schedulers...)
	defer stage.Stop()

	pool := relay.NewPool(relay.Config{
		URLs: file.Zaps.Relays,
		Filter: relay.Filter{
			Kinds:       []int{zap.KindZapReceipt},
			Coordinates: []string{coordinate},
			Since:       file.Since(time.Now()),
		},
	}, relay.NostrSubscriber{}, log, met)

	deps := orchestrator.Deps{
		Events:     pool.Events(),
		Validator:  zap.NewValidator(coordinate, file.DedupWindow()),
		Correlator: zap.NewCorrelator(wallet, file.CorrelatorConfig()),
		Selector:   show.NewSelector(policy),
		Stage:      stage,
		Repo:       orchestrator.NewInMemoryRepository(orchestrator.DefaultHistorySize),
		Announcer:  announcer,
	}

	var boardPool *relay.Pool
	if boardCfg, ok := file.BoardRelays(time.Now()); ok {
		boardPool = relay.NewPool(boardCfg, relay.NostrSubscriber{}, log, met)
		deps.BoardEvents = boardPool.Events()
		deps.Board = boostagram.NewBoard(boardCfg.Filter.Authors, file.BoostagramFilter(), file.DedupWindow())
	}
	var poller *nwc.Poller
	if pollCfg, ok := file.PollerConfig(time.Now()); ok {
		poller = nwc.NewPoller(wallet, pollCfg, log)
		deps.Payments = poller.Boosts()
	}

	svc := orchestrator.NewService(deps, log, met)

	h := orchestrator.NewHandler(svc, relay.Pools{pool, boardPool}, log, met)
	srv := &http.Server{
		Addr:              proc.HTTPAddr,
		Handler:           h.Router(orchestrator.RouterConfig{TriggerRate: proc.TriggerRate, CORSOrigins: proc.CORSOrigins}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	root := suture.New("boostlights", suture.Spec{
		EventHook: (&sutureslog.Handler{Logger: log}).MustHook(),
		Timeout:   proc.ShutdownTimeout,
	})
	root.Add(pool)
	if boardPool != nil {
		root.Add(boardPool)
	}
	if poller != nil {
		root.Add(poller)
	}
	for _, s := range schedulers {
		root.Add(s)
	}
	root.Add(svc)
	root.Add(&httpService{srv: srv, shutdownTimeout: proc.ShutdownTimeout})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("boostlights starting",
		slog.String("http_addr", proc.HTTPAddr),
		slog.String("coordinate", coordinate),
		slog.Any("relays", file.Zaps.Relays),
		slog.String("wallet", walletURI.String()),
		slog.Int("devices", len(schedulers)),
		slog.String("preemption", preemption.String()),
		slog.String("selection", file.Selection.Policy),
		slog.Bool("boostboard", boardPool != nil),
		slog.Bool("wallet_boostagrams", poller != nil),
	)

	if err := root.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("supervisor stopped", "error", err)
		return 1
	}
	log.Info("boostlights stopped")
	return 0
}
