package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sony/gobreaker"

	"arbflow/config"
	"arbflow/internal/alert"
	"arbflow/internal/notify"
	"arbflow/internal/pipeline"
	"arbflow/logger"
	"arbflow/models"
	"arbflow/reader"
	"arbflow/reader/binance"
	"arbflow/reader/bitstamp"
	"arbflow/reader/bybit"
	"arbflow/reader/kucoin"
	"arbflow/writer"
)

func main() {
	log := logger.GetLogger()

	// Load environment variables from .env if present
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.WithError(err).Warn("Error loading .env file")
	}

	configPath := flag.String("config", config.DefaultPath, "Path to configuration file")
	flag.Parse()

	path := config.ResolvePath(*configPath)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		log.WithError(err).WithFields(logger.Fields{"path": path}).Error("Failed to load configuration")
		os.Exit(1)
	}

	if err := log.Configure(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output, cfg.Logging.MaxAge); err != nil {
		log.WithError(err).Error("Failed to configure logger")
		os.Exit(1)
	}

	log.WithFields(logger.Fields{
		"service":     cfg.Arbflow.Name,
		"version":     cfg.Arbflow.Version,
		"environment": config.AppEnvironment(),
		"config":      path,
	}).Info("starting arbflow")

	if cfg.Metrics.CloudWatch.Enabled {
		logger.InitCloudWatch(cfg.Metrics.CloudWatch.Region, cfg.Metrics.CloudWatch.Namespace, cfg.Metrics.CloudWatch.Dashboard)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.WithFields(logger.Fields{"signal": sig.String()}).Info("shutdown signal received")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		log.WithError(err).Error("crashed")
		os.Exit(1)
	}
	log.Info("arbflow stopped")
}

func run(ctx context.Context, cfg *config.Config) error {
	log := logger.GetLogger().WithComponent("main")

	logger.StartReport(ctx, logger.GetLogger(), cfg.Pipeline.ReportInterval)

	exchanges := buildExchanges(cfg)
	defer func() {
		for _, ex := range exchanges {
			if err := ex.Close(); err != nil {
				log.WithError(err).WithFields(logger.Fields{"exchange": ex.Name()}).Warn("failed to close exchange")
			}
		}
	}()

	watchers, err := buildWatchers(ctx, cfg, exchanges)
	if err != nil {
		return err
	}

	coordinator, err := pipeline.NewCoordinator(watchers, cfg.MarketDepths(), pipeline.Options{
		IsolateVenueFailures: cfg.Pipeline.IsolateVenueFailures,
	})
	if err != nil {
		return err
	}

	notifier := notify.FromConfig(cfg.Notify)
	defer notifier.Wait()

	keyPolicy := alert.KeyByMarketDepth
	if cfg.Alert.KeyByRoute {
		keyPolicy = alert.KeyByRoute
	}
	engine := alert.NewEngine(alert.Config{
		Threshold:          cfg.Alert.Threshold,
		RetriggerThreshold: cfg.Alert.RetriggerThreshold,
		KeyPolicy:          keyPolicy,
	}, notifier)
	coordinator.Observe(pipeline.ObserverFunc(func(ctx context.Context, cycle pipeline.Cycle) {
		engine.ApplyCycle(ctx, cycle.At, cycle.Table)
		for _, closed := range engine.DrainHistory() {
			log.WithFields(logger.Fields{
				"key":      closed.Key,
				"duration": closed.Duration().String(),
				"profit":   closed.Max.Profit(),
			}).Info("opportunity window closed")
		}
	}))

	queue, stopRecorders, err := buildRecorders(ctx, cfg)
	if err != nil {
		return err
	}
	defer stopRecorders()
	if queue != nil {
		coordinator.Observe(pipeline.ObserverFunc(func(ctx context.Context, cycle pipeline.Cycle) {
			queue.Enqueue(ctx, models.DepthBatch{
				TimestampMs: cycle.At.UnixMilli(),
				Records:     cycle.DepthRecords(),
			})
		}))
	}

	coordinator.Observe(pipeline.NewReporter(coordinator, cfg.Pipeline.ReportInterval))

	notifier.Send(ctx, "🚀 Recorder started", startupMessage(cfg, exchanges))

	log.Info("all components started successfully")
	return coordinator.Run(ctx)
}

func buildExchanges(cfg *config.Config) []reader.Exchange {
	var exchanges []reader.Exchange
	timeout := cfg.Reader.Timeout
	for _, name := range cfg.Exchanges.EnabledNames() {
		exCfg := cfg.Exchanges.ByName()[name]
		switch name {
		case "binance":
			exchanges = append(exchanges, binance.New(exCfg, timeout))
		case "bybit":
			exchanges = append(exchanges, bybit.New(exCfg, timeout))
		case "kucoin":
			exchanges = append(exchanges, kucoin.New(exCfg, timeout, cfg.Reader.MaxWorkers))
		case "bitstamp":
			exchanges = append(exchanges, bitstamp.New(exCfg, timeout))
		}
	}
	return exchanges
}

// buildWatchers creates one watcher per venue for every configured market the
// venue lists.
func buildWatchers(ctx context.Context, cfg *config.Config, exchanges []reader.Exchange) ([]*reader.Watcher, error) {
	log := logger.GetLogger().WithComponent("main")
	pool := reader.NewPool(cfg.Reader.MaxWorkers)
	retry := reader.RetryPolicy{
		MaxAttempts: cfg.Reader.Retry.MaxAttempts,
		BaseDelay:   cfg.Reader.Retry.BaseDelay,
		MaxDelay:    cfg.Reader.Retry.MaxDelay,
		Multiplier:  cfg.Reader.Retry.BackoffMultiplier,
	}

	var watchers []*reader.Watcher
	for _, ex := range exchanges {
		markets, err := ex.LoadMarkets(ctx)
		if err != nil {
			return nil, fmt.Errorf("load %s markets: %w", ex.Name(), err)
		}

		delay := cfg.Exchanges.ByName()[ex.Name()].MinFetchDelay
		if delay <= 0 {
			delay = cfg.Reader.MinFetchDelay
		}
		opts := reader.WatcherOptions{
			Limit:         cfg.Reader.OrderBookLimit,
			MinFetchDelay: delay,
			Retry:         retry,
			Pool:          pool,
		}
		if cfg.Pipeline.IsolateVenueFailures {
			opts.Breaker = newBreaker(ex.Name(), cfg.Reader.CircuitBreaker)
			opts.BreakerWait = cfg.Reader.CircuitBreaker.RecoveryTimeout
		}

		for _, m := range cfg.Markets {
			if !reader.HasMarket(markets, m.Symbol) {
				log.WithFields(logger.Fields{"exchange": ex.Name(), "market": m.Symbol}).Warn("market not listed, skipping")
				continue
			}
			w, err := reader.NewWatcher(ex, m.Symbol, m.Depths, opts)
			if err != nil {
				return nil, err
			}
			watchers = append(watchers, w)
			log.WithFields(logger.Fields{
				"exchange":   ex.Name(),
				"market":     m.Symbol,
				"capability": ex.Capability().String(),
			}).Info("watcher created")
		}
	}
	return watchers, nil
}

func newBreaker(name string, cfg config.CircuitBreakerConfig) *gobreaker.CircuitBreaker {
	log := logger.GetLogger().WithComponent("circuit_breaker")
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.HalfOpenMaxRequests),
		Timeout:     cfg.RecoveryTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(cfg.FailureThreshold)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logger.Fields{
				"exchange": name,
				"from":     from.String(),
				"to":       to.String(),
			}).Warn("circuit breaker state changed")
		},
	})
}

// buildRecorders wires the enabled depth recorders behind one queue. The
// returned stop function drains the queue before the archive uploads what is
// left.
func buildRecorders(ctx context.Context, cfg *config.Config) (*writer.Queue, func(), error) {
	log := logger.GetLogger().WithComponent("main")
	var recorders []writer.Recorder
	var closers []func()
	closeAll := func() {
		for _, c := range closers {
			c()
		}
	}

	if cfg.Storage.S3.Enabled {
		client, err := writer.NewS3Client(ctx, cfg.Storage.S3)
		if err != nil {
			return nil, nil, err
		}
		p := writer.NewParquetRecorder(client, cfg)
		p.Start(ctx)
		recorders = append(recorders, p)
		closers = append(closers, func() {
			if err := p.Close(); err != nil {
				log.WithError(err).Error("depth rows left unarchived")
			}
		})
	}

	if cfg.Storage.Redis.Enabled {
		r, err := writer.DialRedis(ctx, cfg.Storage.Redis)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		recorders = append(recorders, r)
		closers = append(closers, func() { r.Close() })
	}

	if len(recorders) == 0 {
		log.Info("depth recording disabled")
		return nil, func() {}, nil
	}

	queue := writer.NewQueue(cfg.Channels.DepthBuffer, recorders...)
	queue.Start(context.WithoutCancel(ctx))
	stop := func() {
		queue.Close()
		closeAll()
	}
	return queue, stop, nil
}

func startupMessage(cfg *config.Config, exchanges []reader.Exchange) string {
	names := make([]string, 0, len(exchanges))
	for _, ex := range exchanges {
		names = append(names, ex.Name())
	}
	markets := make([]string, 0, len(cfg.Markets))
	for _, m := range cfg.Markets {
		markets = append(markets, m.Symbol)
	}
	return fmt.Sprintf("Connected exchanges: %s\nMarkets: %s\nAlert threshold: %.4f%%\nStarted: %s",
		strings.Join(names, ", "),
		strings.Join(markets, ", "),
		cfg.Alert.Threshold*100,
		time.Now().UTC().Format(time.RFC3339))
}
