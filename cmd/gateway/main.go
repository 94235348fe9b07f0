// Command gateway runs one venue-connectivity process: it logs every
// configured exchange into its REST/WebSocket feeds and serves the gwsession
// wire protocol to strategy processes over TCP, so a strategy never talks to
// an exchange directly.
package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/automatedalgo/apex-sub000/internal/config"
	"github.com/automatedalgo/apex-sub000/internal/eventloop"
	"github.com/automatedalgo/apex-sub000/internal/exchange"
	"github.com/automatedalgo/apex-sub000/internal/gwsession"
	"github.com/automatedalgo/apex-sub000/internal/reactor"
	"github.com/automatedalgo/apex-sub000/pkg/types"
)

func main() {
	cfgPath := "configs/gateway.json"
	if p := os.Getenv("APEX_GATEWAY_CONFIG"); p != "" {
		cfgPath = p
	}
	flags := flag.NewFlagSet("gateway", flag.ContinueOnError)
	flags.StringVar(&cfgPath, "config", cfgPath, "path to the gateway config file")
	flags.StringVar(&cfgPath, "c", cfgPath, "alias for -config")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(1)
	}

	cfg, err := config.LoadGatewayConfig(cfgPath)
	if err != nil {
		slog.Error("load config", "error", err, "path", cfgPath)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)

	rx, err := reactor.New(logger)
	if err != nil {
		logger.Error("create reactor", "error", err)
		os.Exit(1)
	}

	loop := eventloop.NewRealtime(logger, func(r any) bool {
		logger.Error("unhandled panic in event loop", "panic", r)
		return false
	}, nil, nil)

	venues := make(map[string]gwsession.Venue, len(cfg.Exchanges))
	adapters := make([]*exchange.Adapter, 0, len(cfg.Exchanges))
	for _, ex := range cfg.Exchanges {
		switch ex.Type {
		case "binance":
			adapter := exchange.NewAdapter(toExchangeConfig(ex), logger)
			venues[ex.Name] = adapter
			adapters = append(adapters, adapter)
		default:
			logger.Error("unknown exchange type", "type", ex.Type, "name", ex.Name)
			os.Exit(1)
		}
	}

	server := gwsession.NewServer(logger, loop, rx, types.RunMode(cfg.RunMode), venues)
	for _, adapter := range adapters {
		adapter.SetServer(server)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	if err := server.Listen(addr); err != nil {
		logger.Error("listen", "addr", addr, "error", err)
		os.Exit(1)
	}

	for _, adapter := range adapters {
		if err := adapter.Start(); err != nil {
			logger.Error("start venue adapter", "error", err)
			os.Exit(1)
		}
	}

	logger.Info("gateway process started", "addr", addr, "run_mode", cfg.RunMode, "exchanges", len(cfg.Exchanges))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", "signal", sig.String())

	server.Stop()
	rx.Stop()
	loop.SyncStop()

	logger.Info("gateway process stopped")
}

// toExchangeConfig narrows a config.ExchangeConfig down to the fields an
// exchange.Adapter needs; Type only selects which adapter constructor to
// call above and carries no further meaning inside the adapter itself.
func toExchangeConfig(ex config.ExchangeConfig) exchange.Config {
	return exchange.Config{
		Name:        ex.Name,
		RESTBaseURL: ex.RESTBaseURL,
		WSBaseURL:   ex.WSBaseURL,
		APIKey:      ex.APIKey,
		APISecret:   ex.APISecret,
		DryRun:      ex.DryRun,
	}
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
