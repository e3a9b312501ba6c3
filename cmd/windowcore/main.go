package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/kloudmate/windowcore/internal/bucketcache"
	"github.com/kloudmate/windowcore/internal/bucketstore"
	"github.com/kloudmate/windowcore/internal/dispatch"
	"github.com/kloudmate/windowcore/internal/errs"
	"github.com/kloudmate/windowcore/internal/ingest"
	"github.com/kloudmate/windowcore/internal/metastore"
	"github.com/kloudmate/windowcore/internal/metric"
	"github.com/kloudmate/windowcore/internal/processor"
	"github.com/kloudmate/windowcore/internal/summarystore"
	"github.com/kloudmate/windowcore/internal/window"
	"github.com/kloudmate/windowcore/pkg/remoteread"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	logger, err := initLogger(cfg.Logging.Level)
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	defer logger.Sync()

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.ClickHouse.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.ClickHouse.Database,
			Username: cfg.ClickHouse.Username,
			Password: cfg.ClickHouse.Password,
		},
		MaxIdleConns: cfg.ClickHouse.MaxIdleConns,
		MaxOpenConns: cfg.ClickHouse.MaxOpenConns,
	})
	if err != nil {
		logger.Fatal("failed to connect to clickhouse", zap.Error(err))
	}
	defer conn.Close()

	durations := make([]window.Duration, 0, len(cfg.Window.Durations)+1)
	durations = append(durations, window.RawDuration)
	for _, wc := range cfg.Window.Durations {
		durations = append(durations, window.Duration{Millis: wc.Millis, Name: wc.Name})
	}
	if err := validateDurationChain(durations); err != nil {
		logger.Fatal("invalid window configuration", zap.Error(err))
	}

	chain := buildChain(conn, cfg, durations, logger)

	rawStore := &ingest.Store{
		RawHistograms: chain.histStores[0],
		RawCounters:   chain.countStores[0],
		Meta:          chain.meta,
		Logger:        logger,
	}

	otlpReceiver := ingest.NewOTLPReceiver(ingest.OTLPReceiverConfig{
		Address:        cfg.Ingest.OTLPAddress,
		MaxMessageSize: cfg.Ingest.MaxMessageSize,
		SafetyMillis:   cfg.Ingest.SafetyMillis,
	}, rawStore, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := otlpReceiver.Start(ctx); err != nil {
			logger.Error("otlp receiver stopped", zap.Error(err))
		}
	}()

	dispatcher := dispatch.NewDispatcher(cfg.Dispatch.Interval, cfg.Dispatch.SafetyMillis, logger)
	registerTargets(dispatcher, chain, cfg.Dispatch.KnownMetrics)
	go dispatcher.Start(ctx)

	var rrHandler *remoteread.Handler
	if cfg.RemoteRead.Enabled {
		rrHandler, err = remoteread.NewHandler(&remoteread.Config{
			ClickHouseAddr: cfg.ClickHouse.Addresses[0],
			Database:       cfg.ClickHouse.Database,
			Username:       cfg.ClickHouse.Username,
			Password:       cfg.ClickHouse.Password,
			Tables:         statisticWindowTables(durations, cfg.ClickHouse.Database),
		}, logger)
		if err != nil {
			logger.Fatal("failed to start remote read handler", zap.Error(err))
		}

		mux := http.NewServeMux()
		mux.Handle("/api/v1/read", rrHandler)
		go func() {
			logger.Info("starting remote read server", zap.String("address", cfg.RemoteRead.Address))
			if err := http.ListenAndServe(cfg.RemoteRead.Address, mux); err != nil {
				logger.Error("remote read server stopped", zap.Error(err))
			}
		}()
	}

	logger.Info("windowcore started")
	<-ctx.Done()
	logger.Info("shutting down")

	dispatcher.Stop()
	if err := otlpReceiver.Stop(); err != nil {
		logger.Error("failed to stop otlp receiver", zap.Error(err))
	}
	if rrHandler != nil {
		if err := rrHandler.Close(); err != nil {
			logger.Error("failed to close remote read handler", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
}

// validateDurationChain enforces that each configured window strictly
// widens the one before it; a misconfigured chain would make Rebase
// produce nonsensical bucket numbers downstream, so it is rejected at
// startup rather than discovered mid-roll-up.
func validateDurationChain(durations []window.Duration) error {
	for i := 1; i < len(durations); i++ {
		if durations[i].Millis <= durations[i-1].Millis {
			return fmt.Errorf("window %q (%dms) must be strictly wider than %q (%dms): %w",
				durations[i].Name, durations[i].Millis, durations[i-1].Name, durations[i-1].Millis, errs.ConfigurationError)
		}
	}
	return nil
}

// windowChain holds the per-window stores and processors built for every
// configured window duration, indexed finest (raw, index 0) to coarsest.
type windowChain struct {
	durations   []window.Duration
	histStores  []bucketstore.HistogramStore
	countStores []bucketstore.CounterStore
	histCaches  []*bucketcache.HistogramCache // histCaches[i] caches buckets at durations[i]; nil at index 0 (raw)
	countCaches []*bucketcache.CounterCache
	histProcs   []*processor.HistogramProcessor // histProcs[i] rolls durations[i-1] up into durations[i]
	countProcs  []*processor.CounterProcessor
	meta        metastore.Store
}

func buildChain(conn driver.Conn, cfg *Config, durations []window.Duration, logger *zap.Logger) *windowChain {
	meta := metastore.NewClickHouseStore(conn, metastore.ClickHouseConfig{
		HighWaterMarkTable: "window_high_water_marks",
		MetricsTable:       "window_known_metrics",
	}, logger)

	chain := &windowChain{durations: durations, meta: meta}

	// One cache instance per non-raw window level: a cache instance is
	// fixed to the single duration it serves, so the entries processor i
	// writes (at durations[i]) and the entries processor i+1 reads (at
	// durations[i], its SourceWindow) must share the exact same instance,
	// but a bucket number at durations[i] must never collide with the
	// same number at durations[j].
	chain.histCaches = make([]*bucketcache.HistogramCache, len(durations))
	chain.countCaches = make([]*bucketcache.CounterCache, len(durations))
	for i := 1; i < len(durations); i++ {
		chain.histCaches[i] = bucketcache.NewHistogramCache(bucketcache.Config{
			Enabled: cfg.BucketCache.Enabled,
			IsEnabledFor: func(t metric.Type) bool {
				switch t {
				case metric.Timer:
					return cfg.BucketCache.EnabledForTimer
				case metric.Gauge:
					return cfg.BucketCache.EnabledForGauge
				default:
					return false
				}
			},
			MaxMetrics: cfg.BucketCache.MaxMetrics,
			MaxStore:   cfg.BucketCache.MaxStore,
		}, durations[i], logger)
		chain.countCaches[i] = bucketcache.NewCounterCache(bucketcache.Config{
			Enabled: cfg.BucketCache.Enabled,
			IsEnabledFor: func(t metric.Type) bool {
				return t == metric.Counter && cfg.BucketCache.EnabledForCounter
			},
			MaxMetrics: cfg.BucketCache.MaxMetrics,
			MaxStore:   cfg.BucketCache.MaxStore,
		}, durations[i], logger)
	}

	for _, d := range durations {
		histStore := bucketstore.NewClickHouseHistogramStore(conn, bucketstore.ClickHouseConfig{
			Table: fmt.Sprintf("histogram_buckets_%s", d.Name),
		}, logger)
		countStore := bucketstore.NewClickHouseCounterStore(conn, bucketstore.ClickHouseConfig{
			Table: fmt.Sprintf("counter_buckets_%s", d.Name),
		}, logger)
		chain.histStores = append(chain.histStores, histStore)
		chain.countStores = append(chain.countStores, countStore)
	}

	chain.histProcs = make([]*processor.HistogramProcessor, len(durations))
	chain.countProcs = make([]*processor.CounterProcessor, len(durations))

	for i := 1; i < len(durations); i++ {
		statStore := summarystore.NewClickHouseStatisticStore(conn, summarystore.ClickHouseConfig{
			Table: fmt.Sprintf("timer_summaries_%s", durations[i].Name),
		}, logger)
		gaugeStore := summarystore.NewClickHouseGaugeStore(conn, summarystore.ClickHouseConfig{
			Table: fmt.Sprintf("gauge_summaries_%s", durations[i].Name),
		}, logger)
		countSummaryStore := summarystore.NewClickHouseCounterStore(conn, summarystore.ClickHouseConfig{
			Table: fmt.Sprintf("counter_summaries_%s", durations[i].Name),
		}, logger)

		var target bucketstore.HistogramStore
		var countTarget bucketstore.CounterStore
		if i+1 < len(durations) {
			target = chain.histStores[i+1]
			countTarget = chain.countStores[i+1]
		}

		// SourceCache is nil at i==1: SourceWindow is the raw duration
		// there, and fetchSources already bypasses the cache entirely
		// for a raw source window.
		var sourceHistCache *bucketcache.HistogramCache
		var sourceCountCache *bucketcache.CounterCache
		if i > 1 {
			sourceHistCache = chain.histCaches[i-1]
			sourceCountCache = chain.countCaches[i-1]
		}

		chain.histProcs[i] = &processor.HistogramProcessor{
			Window:       durations[i],
			SourceWindow: durations[i-1],
			Source:       chain.histStores[i-1],
			Target:       target,
			SourceCache:  sourceHistCache,
			Cache:        chain.histCaches[i],
			Meta:         meta,
			Stats:        statStore,
			Gauges:       gaugeStore,
			Logger:       logger,
			SliceLimit:   10000,
		}
		chain.countProcs[i] = &processor.CounterProcessor{
			Window:       durations[i],
			SourceWindow: durations[i-1],
			Source:       chain.countStores[i-1],
			Target:       countTarget,
			SourceCache:  sourceCountCache,
			Cache:        chain.countCaches[i],
			Meta:         meta,
			Counts:       countSummaryStore,
			Logger:       logger,
			SliceLimit:   10000,
		}
	}

	return chain
}

// registerTargets wires one dispatch.Target per (configured metric, window)
// pair. The dispatcher drives every window of a metric's roll-up chain on
// the same tick; each processor independently no-ops when its own
// high-water mark has already caught up.
func registerTargets(d *dispatch.Dispatcher, chain *windowChain, known []MetricConfig) {
	for _, mc := range known {
		m := mc.toMetric()
		for i := 1; i < len(chain.durations); i++ {
			i := i
			switch m.Type {
			case metric.Timer, metric.Gauge:
				proc := chain.histProcs[i]
				d.Register(dispatch.Target{
					Metric: m,
					Window: chain.durations[i],
					Process: func(ctx context.Context, m metric.Metric, ts window.Timestamp) error {
						_, err := proc.Process(ctx, m, ts)
						return err
					},
					MarkProcessed: func(tick window.Tick) {
						if proc.Cache != nil {
							proc.Cache.MarkProcessedTick(m, tick)
						}
						if proc.SourceCache != nil {
							proc.SourceCache.MarkProcessedTick(m, tick)
						}
					},
				})
			case metric.Counter:
				proc := chain.countProcs[i]
				d.Register(dispatch.Target{
					Metric: m,
					Window: chain.durations[i],
					Process: func(ctx context.Context, m metric.Metric, ts window.Timestamp) error {
						_, err := proc.Process(ctx, m, ts)
						return err
					},
					MarkProcessed: func(tick window.Tick) {
						if proc.Cache != nil {
							proc.Cache.MarkProcessedTick(m, tick)
						}
						if proc.SourceCache != nil {
							proc.SourceCache.MarkProcessedTick(m, tick)
						}
					},
				})
			}
		}
	}
}

// statisticWindowTables builds the remote-read handler's window-to-table
// escalation list from the same window durations the roll-up chain uses,
// excluding the raw duration (never summarized, so never queryable).
func statisticWindowTables(durations []window.Duration, _ string) []remoteread.WindowTable {
	tables := make([]remoteread.WindowTable, 0, len(durations)-1)
	for _, d := range durations {
		if d.IsRaw() {
			continue
		}
		tables = append(tables, remoteread.WindowTable{
			WindowName: d.Name,
			MinRange:   time.Duration(d.Millis) * time.Millisecond,
			Table:      fmt.Sprintf("timer_summaries_%s", d.Name),
		})
	}
	return tables
}

func initLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
