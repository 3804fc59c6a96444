package main

import (
	"context"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Metroman-Development/Metro-Bot-sub001/internal/audit"
	"github.com/Metroman-Development/Metro-Bot-sub001/internal/auth"
	"github.com/Metroman-Development/Metro-Bot-sub001/internal/config"
	"github.com/Metroman-Development/Metro-Bot-sub001/internal/db"
	"github.com/Metroman-Development/Metro-Bot-sub001/internal/eventing"
	"github.com/Metroman-Development/Metro-Bot-sub001/internal/ipc"
	"github.com/Metroman-Development/Metro-Bot-sub001/internal/observability/metrics"
	"github.com/Metroman-Development/Metro-Bot-sub001/internal/status/application"
	statuspg "github.com/Metroman-Development/Metro-Bot-sub001/internal/status/infrastructure/postgres"
	statushttp "github.com/Metroman-Development/Metro-Bot-sub001/internal/status/interfaces/http"
)

func main() {
	configPath := flag.String("config", os.Getenv("METRO_CONFIG"), "path to YAML config")
	flag.Parse()

	logger := log.New(os.Stdout, "statusd ", log.LstdFlags|log.Lmsgprefix)
	if err := godotenv.Load(); err == nil {
		logger.Printf("loaded .env")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	manager := db.NewManager(db.Config{
		DSN:          cfg.Database.DSN,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		MaxRetries:   cfg.Database.MaxRetries,
		RetryBase:    cfg.Database.RetryBase,
		RetryMax:     cfg.Database.RetryMax,
		PingInterval: cfg.Database.PingInterval,
	}, logger)
	manager.OnFatal(func(err error) {
		logger.Printf("fatal: %v", err)
		stop()
	})
	if err := manager.Connect(ctx); err != nil {
		logger.Fatalf("db connect: %v", err)
	}
	defer manager.Close()
	go manager.HealthLoop(ctx)
	metrics.RegisterDBMetrics(manager.Pool(), logger)

	bus := eventing.NewBus(eventing.DefaultRegistry(), "statusd", logger)
	bus.Subscribe(eventing.TypeChangesDetected, func(_ context.Context, payload eventing.Payload) error {
		logger.Printf("changes detected: event_id=%s run_id=%v", payload.Metadata.EventID, payload.Data["runId"])
		return nil
	})
	bus.Subscribe(eventing.TypeError, func(_ context.Context, payload eventing.Payload) error {
		logger.Printf("pipeline error: event_id=%s data=%v", payload.Metadata.EventID, payload.Data)
		return nil
	})

	syncRepo := statuspg.NewSyncRepository(manager, logger)
	overrideStore := statuspg.NewOverrideStore(manager)
	snapshotStore := statuspg.NewSnapshotStore(manager)
	referenceStore := statuspg.NewReferenceStore(manager)

	openHour, openMinute, _ := config.ParseClock(cfg.Poll.ServiceOpen)
	closeHour, closeMinute, _ := config.ParseClock(cfg.Poll.ServiceClose)

	fetcher := application.NewFetcher(application.FetcherConfig{
		UpstreamURL:    cfg.Upstream.URL,
		RequestTimeout: cfg.Upstream.RequestTimeout,
		PollInterval:   cfg.Poll.Interval,
		ServiceHours: application.ServiceHours{
			OpenHour:    openHour,
			OpenMinute:  openMinute,
			CloseHour:   closeHour,
			CloseMinute: closeMinute,
		},
		ReferenceMaxAge:  cfg.Poll.ReferenceMaxAge,
		FailureThreshold: cfg.Poll.FailureThreshold,
		Debug:            cfg.Debug.Enabled,
		ChaosFactor:      cfg.Debug.ChaosFactor,
	},
		bus,
		application.NewNormalizer(logger),
		application.NewDetector(logger),
		syncRepo,
		overrideStore,
		snapshotStore,
		referenceStore,
		logger,
	)

	if *configPath != "" {
		go func() {
			err := config.Watch(ctx, *configPath, logger, func(next config.Config) {
				fetcher.UpdateChaos(next.Debug.Enabled, next.Debug.ChaosFactor)
			})
			if err != nil {
				logger.Printf("config watch unavailable: err=%v", err)
			}
		}()
	}

	// IPC listener for worker processes.
	_ = os.Remove(cfg.IPC.Socket)
	listener, err := net.Listen("unix", cfg.IPC.Socket)
	if err != nil {
		logger.Fatalf("ipc listen: %v", err)
	}
	ipcServer := ipc.NewServer(manager, logger)
	go func() {
		if err := ipcServer.Serve(ctx, listener); err != nil {
			logger.Printf("ipc server stopped: err=%v", err)
		}
	}()

	opsHandler, err := statushttp.NewOpsHandler(fetcher, overrideStore, logger)
	if err != nil {
		logger.Fatalf("ops handler: %v", err)
	}
	opsServer := &http.Server{
		Addr:              cfg.Ops.Listen,
		Handler:           auth.NewMiddleware([]byte(cfg.Ops.JWTSecret)).Wrap(audit.Mutations(logger, opsHandler)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("ops api listening: addr=%s", cfg.Ops.Listen)
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("ops server stopped: err=%v", err)
		}
	}()

	metricsServer := &http.Server{
		Addr:              cfg.Metrics.Listen,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Printf("metrics listening: addr=%s", cfg.Metrics.Listen)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("metrics server stopped: err=%v", err)
		}
	}()

	// Change-log retention: drop rows older than 30 days, once a day.
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pruned, err := syncRepo.PruneChangeLog(ctx, time.Now().AddDate(0, 0, -30))
				if err != nil {
					logger.Printf("change log prune failed: err=%v", err)
					continue
				}
				logger.Printf("change log pruned: rows=%d", pruned)
			}
		}
	}()

	go fetcher.Run(ctx)

	<-ctx.Done()
	logger.Printf("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = opsServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
	_ = os.Remove(cfg.IPC.Socket)
}
