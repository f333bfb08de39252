package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"termrepo/config"
	"termrepo/core/events"
	"termrepo/core/state"
	"termrepo/native/auction"
	"termrepo/native/ledger"
	"termrepo/native/liquidation"
	"termrepo/native/oracle"
	"termrepo/native/registry"
	"termrepo/native/rollover"
	"termrepo/observability/logging"
	"termrepo/observability/metrics"
	"termrepo/storage"
)

func main() {
	configPath := flag.String("config", "", "path to TOML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logging.Setup("termrepod", "").Error("load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.Setup(cfg.Service, cfg.Environment)

	treasury, err := cfg.TreasuryAddress()
	if err != nil {
		logger.Error("decode treasury", "error", err)
		os.Exit(1)
	}
	reserve, err := cfg.ReserveAddress()
	if err != nil {
		logger.Error("decode reserve", "error", err)
		os.Exit(1)
	}
	servicer, err := cfg.Servicer()
	if err != nil {
		logger.Error("decode servicer", "error", err)
		os.Exit(1)
	}

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open state store", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	manager := state.NewManager(db)
	recorder := metrics.NewRecorder()
	emitter := events.NewMultiEmitter(recorder, logging.NewAuditEmitter(logger))

	reg := registry.NewRegistry(treasury, reserve)
	reg.MarkDeployed(servicer)

	ledgerEngine := ledger.NewEngine(servicer)
	ledgerEngine.SetState(manager)
	ledgerEngine.SetEmitter(emitter)
	ledgerEngine.SetPauses(cfg.Pauses)

	auctionEngine := auction.NewEngine(servicer, treasury, servicer)
	auctionEngine.SetState(manager)
	auctionEngine.SetLedger(ledgerEngine)
	auctionEngine.SetEmitter(emitter)
	auctionEngine.SetPauses(cfg.Pauses)
	auctionEngine.SetTimestamp(uint64(time.Now().Unix()))

	lockers := auction.NewLockerSet()

	rolloverEngine := rollover.NewEngine(reg)
	rolloverEngine.SetState(manager)
	rolloverEngine.SetLedger(ledgerEngine)
	rolloverEngine.SetFulfillments(auctionEngine)
	rolloverEngine.SetLockers(lockers)
	rolloverEngine.SetEmitter(emitter)
	rolloverEngine.SetPauses(cfg.Pauses)

	liquidationEngine := liquidation.NewEngine(servicer, reserve, cfg.ProtocolSeizureBps)
	liquidationEngine.SetState(manager)
	liquidationEngine.SetLedger(ledgerEngine)
	liquidationEngine.SetOracle(oracle.NewManualOracle())
	liquidationEngine.SetEmitter(emitter)
	liquidationEngine.SetPauses(cfg.Pauses)
	liquidationEngine.SetTimestamp(uint64(time.Now().Unix()))

	logger.Info("engines initialised",
		"treasury", treasury.String(),
		"reserve", reserve.String(),
		"servicer", servicer.String(),
		"seizure_bps", cfg.ProtocolSeizureBps,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", recorder.Handler())
		metricsServer = &http.Server{Addr: cfg.MetricsAddress, Handler: mux}
		go func() {
			logger.Info("metrics listener started", "address", cfg.MetricsAddress)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics listener", "error", err)
			}
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown", "error", err)
		}
	}
}
