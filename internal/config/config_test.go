package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadStrategyConfig(t *testing.T) {
	path := writeTempConfig(t, `{
		"run_mode": "paper",
		"logging": {"level": "debug", "format": "json"},
		"services": {
			"gateways": [{"name": "gw1", "addr": "${GATEWAY_ADDR}"}],
			"ref_data": {"instruments_csv": "instruments.csv"}
		},
		"instruments": [{"exchange": "binance", "symbol": "BTCUSDT"}],
		"persist": {"path": "/tmp/positions"},
		"audit": {"path": "/tmp/audit"},
		"strategy": {
			"code": "MM01",
			"gamma": 0.1,
			"sigma": 0.3,
			"k": 1.5,
			"t": 1.0,
			"default_spread_bps": 10,
			"order_size": 100,
			"refresh_interval": "1s",
			"stale_book_timeout": "5s"
		},
		"risk": {
			"max_position_per_instrument": 1000,
			"max_global_exposure": 5000,
			"max_instruments_active": 10,
			"kill_switch_drop_pct": 5,
			"kill_switch_window_sec": 60,
			"max_daily_loss": 500,
			"cooldown_after_kill": "30s"
		},
		"dashboard": {"enabled": true, "port": 8080}
	}`)

	t.Setenv("GATEWAY_ADDR", "127.0.0.1:9000")

	cfg, err := LoadStrategyConfig(path)
	if err != nil {
		t.Fatalf("LoadStrategyConfig: %v", err)
	}
	if cfg.Services.Gateways[0].Addr != "127.0.0.1:9000" {
		t.Fatalf("env interpolation not applied, got %q", cfg.Services.Gateways[0].Addr)
	}
	if len(cfg.Instruments) != 1 || cfg.Instruments[0].Symbol != "BTCUSDT" {
		t.Fatalf("instruments not decoded: %+v", cfg.Instruments)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestStrategyConfigValidateRequiresInstruments(t *testing.T) {
	cfg := &StrategyConfig{
		RunMode:  "paper",
		Strategy: StrategyIdentity{Code: "MM01", Gamma: 0.1, OrderSize: 1},
		Services: ServicesConfig{Gateways: []GatewayEndpoint{{Name: "gw1", Addr: "x"}}},
		Risk:     RiskConfig{MaxPositionPerInstrument: 1, MaxGlobalExposure: 1},
		Persist:  PersistConfig{Path: "/tmp/p"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty instruments list")
	}
}

func TestStrategyConfigValidateRequiresBacktestDataRoot(t *testing.T) {
	cfg := &StrategyConfig{
		RunMode:     "backtest",
		Strategy:    StrategyIdentity{Code: "MM01", Gamma: 0.1, OrderSize: 1},
		Instruments: []InstrumentSelector{{Exchange: "binance", Symbol: "BTCUSDT"}},
		Risk:        RiskConfig{MaxPositionPerInstrument: 1, MaxGlobalExposure: 1},
		Persist:     PersistConfig{Path: "/tmp/p"},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing backtest.data_root")
	}

	cfg.Backtest.DataRoot = "/tmp/ticks"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate should pass once data_root is set: %v", err)
	}
}

func TestStrategyConfigValidateRejectsUnknownRunMode(t *testing.T) {
	cfg := &StrategyConfig{RunMode: "sandbox"}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown run_mode")
	}
}

func TestLoadGatewayConfig(t *testing.T) {
	path := writeTempConfig(t, `{
		"run_mode": "paper",
		"port": 7001,
		"logging": {"level": "info", "format": "text"},
		"exchanges": [{
			"type": "binance",
			"name": "binance",
			"rest_base_url": "https://api.example.com",
			"ws_base_url": "wss://stream.example.com",
			"api_key": "${API_KEY}",
			"api_secret": "secret"
		}]
	}`)

	t.Setenv("API_KEY", "test-key")

	cfg, err := LoadGatewayConfig(path)
	if err != nil {
		t.Fatalf("LoadGatewayConfig: %v", err)
	}
	if cfg.Exchanges[0].APIKey != "test-key" {
		t.Fatalf("env interpolation not applied, got %q", cfg.Exchanges[0].APIKey)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestGatewayConfigValidateRequiresExchangeType(t *testing.T) {
	cfg := &GatewayConfig{
		Port:      7001,
		Exchanges: []ExchangeConfig{{Name: "binance"}},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing exchange type")
	}
}

func TestGatewayConfigValidateRejectsBadPort(t *testing.T) {
	cfg := &GatewayConfig{Port: 0, Exchanges: []ExchangeConfig{{Type: "binance"}}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for invalid port")
	}
}
