package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	ossignal "os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"perp-trader/internal/cfg"
	"perp-trader/internal/common"
	"perp-trader/internal/exchange/bybit"
	"perp-trader/internal/exitpolicy"
	"perp-trader/internal/gate"
	"perp-trader/internal/manager"
	"perp-trader/internal/metrics"
	"perp-trader/internal/position"
	"perp-trader/internal/sched"
	"perp-trader/internal/signal"
	"perp-trader/internal/storage"
)

func main() {
	_ = godotenv.Load()

	c, err := cfg.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}

	// Context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize components
	m := metrics.New()
	mw := metrics.NewWrapper(m)
	store := initializeStorage(c)
	if store != nil {
		defer store.Close()
	}

	policy, err := buildPolicy(c)
	if err != nil {
		log.Fatal().Err(err).Msg("exit policy setup failed")
	}
	log.Info().Str("policy", policy.Name()).Strs("symbols", c.Symbols).
		Bool("dryRun", c.DryRun).Msg("starting exit engine")

	rest := bybit.NewREST(c.Key, c.Secret, c.BaseURL, c.RESTTimeout)
	prices := bybit.NewPriceCache()
	positions := position.NewStore()

	mgr := manager.New(rest, positions, policy, recorderOrNil(store), prices, mw, manager.Config{
		Risk: gate.RiskConfig{
			MaxOpenTrades:          c.MaxOpenTrades,
			MaxDailyLossPercent:    c.MaxDailyLossPercent,
			MinConfidence:          c.MinConfidence,
			MinRiskReward:          c.MinRiskReward,
			SingleTradeRiskPercent: c.SingleTradeRiskPercent,
			MaxPositionFraction:    c.MaxPositionFraction,
		},
		PriceMaxAge: c.PriceMaxAge,
		DryRun:      c.DryRun,
		Leverage:    c.Leverage,
	})

	if store != nil {
		if err := mgr.Restore(ctx); err != nil {
			log.Warn().Err(err).Msg("position restore failed, starting with empty state")
		}
	}

	// Create communication channels
	ticks := make(chan bybit.Tick, 64)
	errors := make(chan error, 32)

	startMetricsServer(ctx, c)

	ws := bybit.NewWS(c.WsURL)
	startWebSocketHandler(ctx, ws, c, ticks, errors)

	// Start background goroutines
	var wg sync.WaitGroup
	startErrorHandler(ctx, &wg, errors, m)
	startTickHandler(ctx, &wg, ticks, prices, mw)
	startPoller(ctx, &wg, c, mgr)

	scheduler := startScheduledJobs(ctx, c, rest, mgr)
	if scheduler != nil {
		defer scheduler.Stop()
	}

	// Wait for shutdown signal
	waitForShutdown(ctx, cancel, &wg)
}

// initializeStorage initializes storage if DATA_PATH is configured
func initializeStorage(c cfg.Settings) *storage.Store {
	if c.DataPath != "" {
		store, err := storage.New(c.DataPath)
		if err != nil {
			log.Warn().Err(err).Msg("storage initialization failed, continuing without persistence")
			return nil
		}
		return store
	}
	return nil
}

// recorderOrNil avoids handing the manager a typed-nil interface value.
func recorderOrNil(store *storage.Store) manager.Recorder {
	if store == nil {
		return nil
	}
	return store
}

// buildPolicy constructs the configured exit policy.
func buildPolicy(c cfg.Settings) (exitpolicy.Policy, error) {
	switch c.ExitStrategy {
	case common.StrategyTrailingStep:
		return exitpolicy.NewTrailingStep(c.TrailingStepPercent)
	case common.StrategyStagedTP:
		return exitpolicy.NewStagedTP(c.TierFractions)
	default:
		return nil, fmt.Errorf("unknown exit strategy %q", c.ExitStrategy)
	}
}

// startMetricsServer starts the Prometheus metrics HTTP server
func startMetricsServer(ctx context.Context, c cfg.Settings) {
	go func() {
		mux := http.NewServeMux()

		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		mux.Handle("/metrics", promhttp.Handler())

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", c.MetricsPort),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		go func() {
			<-ctx.Done()
			if err := server.Shutdown(context.Background()); err != nil {
				log.Error().Err(err).Msg("failed to shutdown metrics server")
			}
		}()

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()
}

// startWebSocketHandler starts the WebSocket connection handler
func startWebSocketHandler(ctx context.Context, ws bybit.WS, c cfg.Settings, ticks chan bybit.Tick, errors chan error) {
	go func() {
		if err := ws.Stream(ctx, c.Symbols, ticks, errors, c.Ping); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("WebSocket stream ended")
			errors <- err
		}
	}()
}

// startErrorHandler starts the background error handling goroutine
func startErrorHandler(ctx context.Context, wg *sync.WaitGroup, errors chan error, m *metrics.Metrics) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-errors:
				log.Error().Err(err).Msg("background error")
				m.WSReconnects.Inc()
				m.ErrorsTotal.Inc()
			}
		}
	}()
}

// startTickHandler feeds streamed ticker updates into the price cache
func startTickHandler(ctx context.Context, wg *sync.WaitGroup, ticks chan bybit.Tick,
	prices *bybit.PriceCache, mw *metrics.Wrapper,
) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticks:
				prices.Update(t)
				mw.TickReceivedInc()
			}
		}
	}()
}

// startPoller runs the exit-management poll loop
func startPoller(ctx context.Context, wg *sync.WaitGroup, c cfg.Settings, mgr *manager.Manager) {
	poller := sched.NewPoller(c.PollInterval, mgr.Cycle)
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()
}

// startScheduledJobs wires the analyzer scan and the signal-inbox scan
// onto their cron schedules. Returns nil when neither job is configured.
func startScheduledJobs(ctx context.Context, c cfg.Settings, rest *bybit.Client, mgr *manager.Manager) *cron.Cron {
	analyzerEnabled := c.AnalyzerURL != ""
	inboxEnabled := c.DataPath != ""
	if !analyzerEnabled && !inboxEnabled {
		return nil
	}

	scheduler := cron.New()

	if analyzerEnabled {
		analyzer := signal.NewAnalyzer(signal.AnalyzerConfig{
			URL:    c.AnalyzerURL,
			APIKey: c.AnalyzerAPIKey,
		})
		if _, err := scheduler.AddFunc(c.AnalyzerSchedule, func() {
			runAnalyzerScan(ctx, c, rest, analyzer, mgr)
		}); err != nil {
			log.Error().Err(err).Str("schedule", c.AnalyzerSchedule).Msg("invalid analyzer schedule")
		}
	}

	if inboxEnabled {
		inbox := filepath.Join(c.DataPath, "inbox")
		if _, err := scheduler.AddFunc(c.SignalSchedule, func() {
			scanSignalInbox(ctx, inbox, mgr)
		}); err != nil {
			log.Error().Err(err).Str("schedule", c.SignalSchedule).Msg("invalid signal schedule")
		}
	}

	scheduler.Start()
	return scheduler
}

// runAnalyzerScan snapshots the configured markets and asks the analyzer
// for trade proposals.
func runAnalyzerScan(ctx context.Context, c cfg.Settings, rest *bybit.Client,
	analyzer *signal.Analyzer, mgr *manager.Manager,
) {
	snapshots := make([]signal.MarketSnapshot, 0, len(c.Symbols))
	for _, sym := range c.Symbols {
		t, err := rest.Ticker(ctx, sym)
		if err != nil {
			log.Warn().Err(err).Str("symbol", sym).Msg("ticker fetch failed, excluding from analysis")
			continue
		}
		snapshots = append(snapshots, signal.MarketSnapshot{
			Symbol:       t.Symbol,
			Price:        t.LastPrice,
			Change24hPct: t.Change24hPct,
			High24h:      t.High24h,
			Low24h:       t.Low24h,
			Volume24h:    t.Volume24h,
		})
	}
	if len(snapshots) == 0 {
		return
	}

	proposals, err := analyzer.Analyze(ctx, snapshots)
	if err != nil {
		log.Error().Err(err).Msg("market analysis failed")
		return
	}
	for _, p := range proposals {
		if err := mgr.HandleProposal(ctx, p); err != nil {
			log.Error().Err(err).Str("symbol", p.Symbol).Msg("analyzer proposal failed")
		}
	}
}

// scanSignalInbox parses free-text signal drops from the inbox directory.
// Each .txt file is one broadcast message; files are removed once handled
// so a signal is consumed at most once.
func scanSignalInbox(ctx context.Context, inbox string, mgr *manager.Manager) {
	entries, err := os.ReadDir(inbox)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warn().Err(err).Str("inbox", inbox).Msg("signal inbox scan failed")
		}
		return
	}

	parser := signal.Parser{DefaultConfidence: common.DefaultMinConfidence}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".txt") {
			continue
		}
		path := filepath.Join(inbox, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("failed to read signal file")
			continue
		}

		p, err := parser.Parse(string(data))
		if err != nil {
			log.Warn().Err(err).Str("file", path).Msg("unparseable signal, discarding")
			os.Remove(path)
			continue
		}
		if err := mgr.HandleProposal(ctx, p); err != nil {
			log.Error().Err(err).Str("file", path).Msg("signal proposal failed, keeping for retry")
			continue
		}
		os.Remove(path)
	}
}

// waitForShutdown waits for shutdown signals and handles graceful shutdown
func waitForShutdown(ctx context.Context, cancel context.CancelFunc, wg *sync.WaitGroup) {
	sigChan := make(chan os.Signal, 1)
	ossignal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Info().Msg("shutdown signal received")
	case <-ctx.Done():
		log.Info().Msg("context canceled")
	}

	log.Info().Msg("shutting down gracefully...")
	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Msg("all goroutines stopped")
	case <-time.After(10 * time.Second):
		log.Warn().Msg("shutdown timeout, forcing exit")
	}
}
