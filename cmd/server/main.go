package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/scmmishra/tally/internal/analytics"
	"github.com/scmmishra/tally/internal/cache"
	"github.com/scmmishra/tally/internal/config"
	"github.com/scmmishra/tally/internal/db"
	"github.com/scmmishra/tally/internal/geo"
	"github.com/scmmishra/tally/internal/handlers"
	"github.com/scmmishra/tally/internal/logging"
	"github.com/scmmishra/tally/internal/metrics"
	"github.com/scmmishra/tally/internal/netblock"
	"github.com/scmmishra/tally/internal/reconcile"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	database, err := db.Open(cfg.DBURL)
	if err != nil {
		log.Error("database", "error", err)
		os.Exit(1)
	}
	defer database.Close()

	geoReader, err := geo.Open(cfg.GeoIPPath)
	if err != nil {
		log.Warn("geo lookups disabled", "path", cfg.GeoIPPath, "error", err)
		geoReader, _ = geo.Open("")
	}
	defer geoReader.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	var store cache.Store
	switch {
	case !cfg.CacheEnabled():
		log.Info("analytics cache disabled")
	case cfg.RedisURL != "":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		rc, err := cache.ConnectRedis(ctx, cfg.RedisURL, cfg.CacheTTL, log)
		cancel()
		if err != nil {
			log.Error("redis", "error", err)
			os.Exit(1)
		}
		defer rc.Close()
		store = rc
	case cfg.CacheEnabled():
		lc, err := cache.NewLocal(cfg.CacheSize, cfg.CacheTTL, nil)
		if err != nil {
			log.Error("cache", "error", err)
			os.Exit(1)
		}
		store = lc
	}

	var sink analytics.EventSink = analytics.SyncSink{DB: database}
	var collector *analytics.Collector
	if cfg.LogBufferSize > 0 {
		collector = analytics.NewCollector(database, m, log, cfg.LogBufferSize, cfg.FlushInterval, cfg.QueryTimeout)
		sink = collector
	}

	extractor := &analytics.Extractor{Geo: geoReader, MaxFieldLen: cfg.MaxFieldLen}
	if cfg.DevPublicIP != "" {
		extractor.Normalizer = analytics.PublicAddressNormalizer{PublicIP: cfg.DevPublicIP}
	}

	var blocklist *netblock.List
	if cfg.IgnoreBots && len(cfg.BlocklistSources) > 0 {
		blocklist = netblock.New(cfg.BlocklistSources, log)
		if err := blocklist.Start(context.Background(), cfg.BlocklistSchedule); err != nil {
			log.Error("blocklist schedule", "schedule", cfg.BlocklistSchedule, "error", err)
			os.Exit(1)
		}
		ranges, ips := blocklist.Len()
		log.Info("blocklist active", "sources", len(cfg.BlocklistSources), "ranges", ranges, "ips", ips)
	}

	recorder := analytics.NewRecorder(database, sink, m, log, analytics.RecorderConfig{
		Location:     cfg.Location,
		QueryTimeout: cfg.QueryTimeout,
		MaxFieldLen:  cfg.MaxFieldLen,
		IgnoreBots:   cfg.IgnoreBots,
		Blocklist:    addressList(blocklist),
	})
	aggregator := analytics.NewAggregator(database, store, m, log, analytics.AggregatorConfig{
		Location:          cfg.Location,
		QueryTimeout:      cfg.QueryTimeout,
		AggregateTimeout:  cfg.AggregateTimeout,
		SessionWindowDays: cfg.SessionWindowDays,
		NewVisitorDays:    cfg.NewVisitorDays,
		TopN:              cfg.TopN,
	})

	var reconciler *reconcile.Reconciler
	if cfg.ReconcileSchedule != "" {
		reconciler = reconcile.New(database, m, log, reconcile.Config{
			Days:         cfg.ReconcileDays,
			Location:     cfg.Location,
			QueryTimeout: cfg.QueryTimeout,
		})
		if err := reconciler.Start(cfg.ReconcileSchedule); err != nil {
			log.Error("reconcile schedule", "schedule", cfg.ReconcileSchedule, "error", err)
			os.Exit(1)
		}
	}

	h := &handlers.VisitHandler{
		DB:         database,
		Extractor:  extractor,
		Recorder:   recorder,
		Aggregator: aggregator,
		Log:        log,
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.Routes(h, m, cfg.AggregateTimeout),
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Info("tally listening", "port", cfg.Port, "database", database.Dialect.String(), "timezone", cfg.Location.String())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "error", err)
			os.Exit(1)
		}
	}()

	<-stop
	log.Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server shutdown", "error", err)
	}

	if collector != nil {
		collector.Shutdown()
	}
	reconciler.Stop()
	blocklist.Stop()
	log.Info("goodbye")
}

// addressList avoids handing the recorder a typed nil.
func addressList(l *netblock.List) analytics.AddressList {
	if l == nil {
		return nil
	}
	return l
}
