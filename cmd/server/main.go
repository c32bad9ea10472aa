package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"

	"aftercoin.ai/internal/metrics"
	"aftercoin.ai/internal/persistence/archive"
	"aftercoin.ai/internal/persistence/store"
	"aftercoin.ai/internal/sim/alliance"
	"aftercoin.ai/internal/sim/covert"
	"aftercoin.ai/internal/sim/events"
	"aftercoin.ai/internal/sim/market"
	"aftercoin.ai/internal/sim/reputation"
	"aftercoin.ai/internal/sim/scheduler"
	"aftercoin.ai/internal/sim/social"
	"aftercoin.ai/internal/sim/trading"
	"aftercoin.ai/internal/sim/tuning"
	"aftercoin.ai/internal/transport/httpapi"
	"aftercoin.ai/internal/transport/ws"
)

// envConfig carries process-level settings that deploys set through the
// environment. Flags override whatever the environment provides.
type envConfig struct {
	Addr      string `env:"AFC_ADDR" envDefault:":8080"`
	DataDir   string `env:"AFC_DATA_DIR" envDefault:"./data"`
	ConfigDir string `env:"AFC_CONFIG_DIR" envDefault:"./configs"`
	Seed      int64  `env:"AFC_SEED" envDefault:"1337"`
}

func main() {
	var ecfg envConfig
	if err := env.Parse(&ecfg); err != nil {
		log.Fatalf("parse env: %v", err)
	}

	var (
		addr       = flag.String("addr", ecfg.Addr, "http listen address")
		dataDir    = flag.String("data", ecfg.DataDir, "runtime data directory")
		configDir  = flag.String("configs", ecfg.ConfigDir, "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		seed       = flag.Int64("seed", ecfg.Seed, "rng seed for market noise and detection rolls")
		archiveDir = flag.String("archive", "", "archive output directory (default: <data>/archives)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	_ = os.MkdirAll(*dataDir, 0o755)

	tp := strings.TrimSpace(*tuningPath)
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", tp)
			tune = tuning.Default()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	st, err := store.Open(filepath.Join(*dataDir, "aftercoin.db"), logger)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := st.InitRun(ctx, tune); err != nil {
		logger.Fatalf("init run: %v", err)
	}

	hub := ws.NewHub(nil, logger)

	mkt := market.New(st, tune, hub, *seed, logger)
	if err := mkt.InitFromDB(ctx); err != nil {
		logger.Fatalf("init market: %v", err)
	}
	rep := reputation.New(st, tune, logger)
	trd := trading.New(st, tune, mkt, hub, logger)
	all := alliance.New(st, tune, hub, logger)
	cov := covert.New(st, tune, hub, logger)
	ev := events.New(st, tune, hub, logger)
	soc := social.New(st, tune, hub, *seed+1, logger)

	if err := ev.SeedSchedule(ctx); err != nil {
		logger.Fatalf("seed events: %v", err)
	}
	if err := ev.StartRun(ctx); err != nil {
		logger.Fatalf("start run: %v", err)
	}

	runner := scheduler.New(st, tune, hub, mkt, trd, all, cov, ev, soc, *seed+2, logger)
	hub.SetSubmitter(runner)
	if err := runner.Start(ctx); err != nil {
		logger.Fatalf("start scheduler: %v", err)
	}
	defer runner.Stop()

	// Hot reload applies the per-tick knobs; interval changes still need a
	// restart.
	stopWatch, err := tuning.Watch(tp, logger, func(t tuning.Tuning) {
		mkt.SetTuning(t)
	})
	if err != nil {
		logger.Printf("tuning watch disabled: %v", err)
	} else {
		defer stopWatch()
	}

	go gaugeLoop(ctx, st, mkt, logger)

	api := httpapi.NewServer(st, runner, mkt, trd, all, cov, ev, soc, rep, logger)
	mux := api.Mux()
	mux.HandleFunc("GET /v1/ws", hub.Handler())

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Printf("listening on %s", *addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}

	// The run's record outlives the database file.
	outDir := strings.TrimSpace(*archiveDir)
	if outDir == "" {
		outDir = filepath.Join(*dataDir, "archives")
	}
	_ = os.MkdirAll(outDir, 0o755)
	out := filepath.Join(outDir, fmt.Sprintf("run-%s.jsonl.zst", time.Now().UTC().Format("20060102-150405")))
	ctx3, cancel3 := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel3()
	if err := archive.Export(ctx3, st, out, logger); err != nil {
		logger.Printf("archive export: %v", err)
	}
}

// gaugeLoop keeps the cheap gauges current without touching hot paths.
func gaugeLoop(ctx context.Context, st *store.Store, mkt *market.Engine, logger *log.Logger) {
	tick := time.NewTicker(10 * time.Second)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			metrics.Price.Set(mkt.Price())
			gs, err := st.GameState(ctx)
			if err != nil {
				logger.Printf("gauge refresh: %v", err)
				continue
			}
			metrics.GameHour.Set(float64(gs.CurrentHour))
			metrics.ActorsRemaining.Set(float64(gs.ActorsRemaining))
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
