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

	"railsight/internal/config"
	"railsight/internal/db"
	"railsight/internal/httpapi"
	"railsight/internal/memstore"
	"railsight/internal/metrics"
	"railsight/internal/publisher"
	"railsight/internal/redisstore"
	"railsight/internal/report"
	"railsight/internal/timetable"
)

func main() {
	started := time.Now()

	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}
	log := cfg.NewLogger()
	slog.SetDefault(log)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	idx, err := timetable.Load(cfg.TimetablePath)
	if err != nil {
		log.Error("timetable error", "path", cfg.TimetablePath, "err", err)
		os.Exit(1)
	}

	// Metrics setup
	var mcol *metrics.Collector
	if cfg.MetricsAddr != "" {
		mcol = metrics.NewCollector()
		srv := mcol.Serve(cfg.MetricsAddr, log)
		defer shutdown(srv, log)
	}

	store, closeStore := openStore(ctx, cfg, log)
	defer closeStore()
	if mcol != nil {
		_, degraded := store.(report.UnavailableStore)
		mcol.SetDegraded(degraded)
	}

	// Event publishing is optional; a NATS outage never blocks startup.
	var notifier report.Notifier
	if cfg.NATSURL != "" {
		pub, err := publisher.NewNATSPublisher(publisher.Options{
			URL:         cfg.NATSURL,
			Prefix:      cfg.NATSSubjectPrefix,
			LogSubjects: cfg.LogNATSSubjects,
			Metrics:     publisherMetrics(mcol),
			Logger:      log,
		})
		if err != nil {
			log.Warn("nats unavailable, report events disabled", "url", cfg.NATSURL, "err", err)
		} else {
			defer pub.Close()
			notifier = pub
		}
	}

	engine, err := report.NewEngine(report.EngineParam{
		Store:        store,
		Timetable:    idx,
		Location:     cfg.Location,
		StoreTimeout: cfg.StoreTimeout,
		VoteRetries:  cfg.VoteRetries,
		Logger:       log,
		Metrics:      engineMetrics(mcol),
		Notifier:     notifier,
	})
	if err != nil {
		log.Error("engine error", "err", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr: cfg.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.Params{
			Engine:  engine,
			Metrics: httpMetrics(mcol),
			Logger:  log,
			Started: started,
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server error", "err", err)
			cancel()
		}
	}()
	log.Info("railsight started",
		"http", cfg.HTTPAddr,
		"backend", cfg.StoreBackend,
		"degraded", engine.Degraded(),
		"tz", cfg.Location.String(),
		"stations", len(engine.Catalog().AllStations()),
	)

	// Block until context cancelled
	<-ctx.Done()
	shutdown(srv, log)
	log.Info("shutdown complete")
}

// openStore connects the configured backend. When it cannot be reached the
// engine still starts, backed by an UnavailableStore.
func openStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (report.Store, func()) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		log.Warn("using in-memory report store; reports are lost on restart")
		return memstore.New(), func() {}

	case config.BackendRedis:
		client, err := redisstore.Open(ctx, cfg.RedisURL)
		if err != nil {
			log.Error("redis unavailable, starting degraded", "err", err)
			return report.UnavailableStore{Reason: err}, func() {}
		}
		return redisstore.New(client, ""), func() { client.Close() }
	}

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Error("db open error, starting degraded", "err", err)
		return report.UnavailableStore{Reason: err}, func() {}
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		log.Error("db ping error, starting degraded", "err", err)
		sqlDB.Close()
		return report.UnavailableStore{Reason: err}, func() {}
	}
	if err := db.Migrate(ctx, sqlDB); err != nil {
		log.Error("db migrate error, starting degraded", "err", err)
		sqlDB.Close()
		return report.UnavailableStore{Reason: err}, func() {}
	}
	return db.NewReportStore(sqlDB), func() { sqlDB.Close() }
}

func shutdown(srv *http.Server, log *slog.Logger) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("server shutdown", "addr", srv.Addr, "err", err)
	}
}

// The collector is optional; these keep a nil *Collector from reaching the
// consumers as a non-nil interface.

func engineMetrics(c *metrics.Collector) report.Metrics {
	if c == nil {
		return nil
	}
	return c
}

func publisherMetrics(c *metrics.Collector) publisher.PublisherMetrics {
	if c == nil {
		return nil
	}
	return c
}

func httpMetrics(c *metrics.Collector) httpapi.HTTPMetrics {
	if c == nil {
		return nil
	}
	return c
}
