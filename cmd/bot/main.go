// Command bot runs one strategy process: it quotes every instrument named in
// its config across however many gateways it logs onto (live/paper), or
// replays recorded tick data through an in-process matching engine
// (backtest), restoring positions from the store and writing every order and
// fill to the audit trail as it goes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/shopspring/decimal"

	"github.com/automatedalgo/apex-sub000/internal/api"
	"github.com/automatedalgo/apex-sub000/internal/apexclock"
	"github.com/automatedalgo/apex-sub000/internal/audit"
	"github.com/automatedalgo/apex-sub000/internal/config"
	"github.com/automatedalgo/apex-sub000/internal/eventloop"
	"github.com/automatedalgo/apex-sub000/internal/gwsession"
	"github.com/automatedalgo/apex-sub000/internal/instrument"
	"github.com/automatedalgo/apex-sub000/internal/marketdata"
	"github.com/automatedalgo/apex-sub000/internal/matching"
	"github.com/automatedalgo/apex-sub000/internal/order"
	"github.com/automatedalgo/apex-sub000/internal/reactor"
	"github.com/automatedalgo/apex-sub000/internal/replay"
	"github.com/automatedalgo/apex-sub000/internal/risk"
	"github.com/automatedalgo/apex-sub000/internal/router"
	"github.com/automatedalgo/apex-sub000/internal/store"
	"github.com/automatedalgo/apex-sub000/internal/strategy"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

func main() {
	cfgPath := "configs/bot.json"
	if p := os.Getenv("APEX_BOT_CONFIG"); p != "" {
		cfgPath = p
	}
	flags := flag.NewFlagSet("bot", flag.ContinueOnError)
	flags.StringVar(&cfgPath, "config", cfgPath, "path to the strategy config file")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := config.LoadStrategyConfig(cfgPath)
	if err != nil {
		slog.Error("load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	instruments, err := resolveInstruments(*cfg)
	if err != nil {
		logger.Error("resolve instruments", "error", err)
		os.Exit(1)
	}

	posStore, err := store.Open(cfg.Persist.Path)
	if err != nil {
		logger.Error("open position store", "error", err)
		os.Exit(1)
	}
	records, err := posStore.LoadAll(cfg.Strategy.Code)
	if err != nil {
		logger.Error("load positions", "error", err)
		os.Exit(1)
	}
	startQty := make(map[string]decimal.Decimal)
	for _, rec := range records {
		startQty[instrument.Instrument{Exchange: rec.Exchange, NativeSymbol: rec.Symbol}.Key()] = rec.Qty
	}

	var auditor *audit.Auditor
	if cfg.Audit.Path != "" {
		auditor, err = audit.Open(cfg.Audit.Path, apexclock.Now())
		if err != nil {
			logger.Error("open audit trail", "error", err)
			os.Exit(1)
		}
	}

	md := marketdata.New()
	riskMgr := risk.NewManager(cfg.Risk, logger)
	orderSvc := order.NewService(cfg.Strategy.Code, apexclock.Now(), logger)

	rt, err := buildRuntime(*cfg, instruments, md, orderSvc, logger)
	if err != nil {
		logger.Error("build runtime", "error", err)
		os.Exit(1)
	}

	dashboardEvents := make(chan api.DashboardEvent, 256)
	provider := &botProvider{riskMgr: riskMgr, events: dashboardEvents, md: md}

	bots := make(map[string]*strategy.Bot, len(instruments))
	for key, inst := range instruments {
		inv := strategy.NewInventory(key, startQty[key])
		bot := strategy.NewBot(*cfg, inst, md, inv, orderSvc, rt.router, riskMgr, rt.clock, logger, auditor, dashboardEvents)
		bots[key] = bot
		provider.register(key, inst, inv)
	}

	ctx, cancel := context.WithCancel(context.Background())

	riskCtx, riskCancel := context.WithCancel(ctx)
	go riskMgr.Run(riskCtx)
	go watchKillSwitch(riskCtx, riskMgr, bots)

	var wg sync.WaitGroup
	for _, bot := range bots {
		wg.Add(1)
		go func(b *strategy.Bot) {
			defer wg.Done()
			b.Run(ctx)
		}(bot)
	}

	var apiServer *api.Server
	if cfg.Dashboard.Enabled {
		apiServer = api.NewServer(cfg.Dashboard, provider, *cfg, logger)
		go func() {
			if err := apiServer.Start(); err != nil {
				logger.Error("dashboard server failed", "error", err)
			}
		}()
		logger.Info("dashboard started", "url", fmt.Sprintf("http://localhost:%d", cfg.Dashboard.Port))
	}

	if rt.backtest != nil {
		go func() {
			rt.backtest.RunLoop(rt.backtestEnd)
			logger.Info("backtest replay finished")
			cancel()
		}()
	}

	logger.Info("strategy process started",
		"strategy_code", cfg.Strategy.Code,
		"run_mode", cfg.RunMode,
		"instruments", len(instruments),
		"dry_run", cfg.DryRun,
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
	}

	cancel()
	riskCancel()
	wg.Wait()

	for key, inv := range provider.inventories() {
		ex, sym := splitKey(key)
		rec := store.Record{
			Exchange:   ex,
			Symbol:     sym,
			StrategyID: cfg.Strategy.Code,
			Timestamp:  apexclock.Now(),
			Qty:        inv.Snapshot().Net(),
		}
		if err := posStore.Save(rec); err != nil {
			logger.Error("save position", "instrument", key, "error", err)
		}
	}

	if auditor != nil {
		if err := auditor.Close(); err != nil {
			logger.Error("close audit trail", "error", err)
		}
	}
	if apiServer != nil {
		if err := apiServer.Stop(); err != nil {
			logger.Error("stop dashboard", "error", err)
		}
	}
	if rt.loop != nil {
		rt.loop.SyncStop()
	}
	if rt.reactor != nil {
		rt.reactor.Stop()
	}

	logger.Info("strategy process stopped")
}

// runtime bundles the run-mode-specific pieces cmd/bot wires together: the
// event loop driving gateway I/O (or replay, in backtest), the router bots
// send orders through, and the clock bots read "now" from.
type runtime struct {
	router      router.OrderRouter
	clock       apexclock.Source
	loop        eventloop.EventLoop
	reactor     *reactor.Reactor
	backtest    *eventloop.Backtest
	backtestEnd apexclock.Time
}

func buildRuntime(cfg config.StrategyConfig, instruments map[string]instrument.Instrument, md *marketdata.Registry, orderSvc *order.Service, logger *slog.Logger) (*runtime, error) {
	if cfg.RunMode == "backtest" {
		return buildBacktestRuntime(cfg, instruments, md, orderSvc, logger)
	}
	return buildLiveRuntime(cfg, instruments, md, orderSvc, logger)
}

func buildLiveRuntime(cfg config.StrategyConfig, instruments map[string]instrument.Instrument, md *marketdata.Registry, orderSvc *order.Service, logger *slog.Logger) (*runtime, error) {
	rx, err := reactor.New(logger)
	if err != nil {
		return nil, fmt.Errorf("create reactor: %w", err)
	}

	runMode := types.RunMode(cfg.RunMode)
	loop := eventloop.NewRealtime(logger, func(r any) bool {
		logger.Error("unhandled panic in event loop", "panic", r)
		return false
	}, nil, nil)

	gw := cfg.Services.Gateways[0]
	client := gwsession.NewClient(logger, loop, rx, apexclock.WallClock{}, gw.Addr, cfg.Strategy.Code, runMode, orderSvc, md)
	loop.Dispatch(client.Start)
	for _, inst := range instruments {
		loop.Dispatch(func() { client.Subscribe(inst) })
	}

	return &runtime{
		router:  router.NewRealtime(client),
		clock:   apexclock.WallClock{},
		loop:    loop,
		reactor: rx,
	}, nil
}

func buildBacktestRuntime(cfg config.StrategyConfig, instruments map[string]instrument.Instrument, md *marketdata.Registry, orderSvc *order.Service, logger *slog.Logger) (*runtime, error) {
	start, err := apexclock.ParseISO8601(cfg.Backtest.Start)
	if err != nil {
		return nil, fmt.Errorf("parse backtest.start: %w", err)
	}
	end, err := apexclock.ParseISO8601(cfg.Backtest.End)
	if err != nil {
		return nil, fmt.Errorf("parse backtest.end: %w", err)
	}

	loop := eventloop.NewBacktest(logger)
	loop.SetFrom(start)
	engine := matching.New()

	for _, inst := range instruments {
		inst := inst
		onTrade := func(price, size decimal.Decimal) { engine.ApplyTrade(inst, price, size) }
		seq := replay.NewSequencer(logger, cfg.Backtest.DataRoot, inst, replay.FormatTickbin, md, onTrade)
		loop.AddSource(seq)
	}

	svc := router.NewSimulated(loop, engine, orderSvc, loop)

	return &runtime{
		router:      svc,
		clock:       loop,
		backtest:    loop,
		backtestEnd: end,
	}, nil
}

func resolveInstruments(cfg config.StrategyConfig) (map[string]instrument.Instrument, error) {
	all, err := instrument.LoadCSV(cfg.Services.RefData.InstrumentsCSV)
	if err != nil {
		return nil, err
	}
	out := make(map[string]instrument.Instrument, len(cfg.Instruments))
	for _, sel := range cfg.Instruments {
		key := instrument.Instrument{Exchange: sel.Exchange, NativeSymbol: sel.Symbol}.Key()
		inst, ok := all[key]
		if !ok {
			return nil, fmt.Errorf("instrument not found in ref data: %s", key)
		}
		out[key] = inst
	}
	return out, nil
}

func watchKillSwitch(ctx context.Context, riskMgr *risk.Manager, bots map[string]*strategy.Bot) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-riskMgr.KillCh():
			_ = sig // per-instrument targeting is left to the next quote tick's own risk check
		}
	}
}

func splitKey(key string) (exchange, symbol string) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

func newLogger(cfg config.LoggingConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.Level)}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
