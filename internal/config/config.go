// Package config loads the two top-level configuration schemas used by the
// platform's two process kinds: StrategyConfig for a strategy/bot process,
// GatewayConfig for a gateway process. Both are decoded from JSON with
// ${VAR} environment-variable interpolation applied to the raw file bytes
// before they are handed to viper, which does the actual decode. No
// environment overlay beyond that interpolation is applied.
package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/spf13/viper"
)

// varPattern matches a ${VAR} placeholder inside a config file's raw bytes.
// Interpolation runs before the file reaches viper, so it applies uniformly
// whether the placeholder sits inside a string value or (harmlessly) a key.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func interpolateEnv(raw []byte) []byte {
	return varPattern.ReplaceAllFunc(raw, func(m []byte) []byte {
		name := varPattern.FindSubmatch(m)[1]
		return []byte(os.Getenv(string(name)))
	})
}

func loadInto(path string, cfg interface{}) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	v := viper.New()
	v.SetConfigType("json")
	if err := v.ReadConfig(bytes.NewReader(interpolateEnv(raw))); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	if err := v.Unmarshal(cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	return nil
}

// LoggingConfig controls the slog handler every process builds at startup.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// GatewayEndpoint is one entry in a strategy's services.gateways list: the
// gwsession.Client dials Addr and identifies itself with the process-wide
// strategy id.
type GatewayEndpoint struct {
	Name string `mapstructure:"name"`
	Addr string `mapstructure:"addr"`
}

// RefDataConfig points at the reference-data CSV that enumerates tradable
// instruments; loading and parsing it is ordinary CSV handling, not part of
// this package.
type RefDataConfig struct {
	InstrumentsCSV string `mapstructure:"instruments_csv"`
}

// ServicesConfig groups a strategy process's external dependencies.
type ServicesConfig struct {
	Gateways []GatewayEndpoint `mapstructure:"gateways"`
	RefData  RefDataConfig     `mapstructure:"ref_data"`
}

// InstrumentSelector names one (exchange, symbol) pair a strategy process
// quotes; it is resolved against the reference-data CSV at startup.
type InstrumentSelector struct {
	Exchange string `mapstructure:"exchange"`
	Symbol   string `mapstructure:"symbol"`
}

// BacktestConfig configures a backtest run: where replayed tick data lives
// on disk and the time window to replay. Ignored outside run_mode=backtest.
type BacktestConfig struct {
	DataRoot string `mapstructure:"data_root"`
	Start    string `mapstructure:"start"` // ISO8601
	End      string `mapstructure:"end"`   // ISO8601, empty means a single day
}

// PersistConfig points at the directory store.Store writes position
// records under.
type PersistConfig struct {
	Path string `mapstructure:"path"`
}

// AuditConfig points at the directory the audit trail writes its
// per-transaction CSV files under.
type AuditConfig struct {
	Path string `mapstructure:"path"`
}

// StrategyIdentity names the running strategy: Code prefixes every order id
// the strategy's order.Service mints and every position record it persists.
type StrategyIdentity struct {
	Code   string  `mapstructure:"code"`
	Gamma  float64 `mapstructure:"gamma"`
	Sigma  float64 `mapstructure:"sigma"`
	K      float64 `mapstructure:"k"`
	T      float64 `mapstructure:"t"`

	DefaultSpreadBps int           `mapstructure:"default_spread_bps"`
	OrderSize        float64       `mapstructure:"order_size"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	StaleBookTimeout time.Duration `mapstructure:"stale_book_timeout"`

	FlowWindow              time.Duration `mapstructure:"flow_window"`
	FlowToxicityThreshold   float64       `mapstructure:"flow_toxicity_threshold"`
	FlowCooldownPeriod      time.Duration `mapstructure:"flow_cooldown_period"`
	FlowMaxSpreadMultiplier float64       `mapstructure:"flow_max_spread_multiplier"`
}

// RiskConfig bounds a strategy's inventory and loss exposure across an
// arbitrary set of instruments, per-instrument and globally.
type RiskConfig struct {
	MaxPositionPerInstrument float64       `mapstructure:"max_position_per_instrument"`
	MaxGlobalExposure        float64       `mapstructure:"max_global_exposure"`
	MaxInstrumentsActive     int           `mapstructure:"max_instruments_active"`
	KillSwitchDropPct        float64       `mapstructure:"kill_switch_drop_pct"`
	KillSwitchWindowSec      int           `mapstructure:"kill_switch_window_sec"`
	MaxDailyLoss             float64       `mapstructure:"max_daily_loss"`
	CooldownAfterKill        time.Duration `mapstructure:"cooldown_after_kill"`
}

// DashboardConfig controls the optional HTTP/WS introspection server.
type DashboardConfig struct {
	Enabled        bool     `mapstructure:"enabled"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// StrategyConfig is the strategy process's top-level schema.
type StrategyConfig struct {
	RunMode     string               `mapstructure:"run_mode"` // live|paper|backtest
	Logging     LoggingConfig        `mapstructure:"logging"`
	Services    ServicesConfig       `mapstructure:"services"`
	Instruments []InstrumentSelector `mapstructure:"instruments"`
	Persist     PersistConfig        `mapstructure:"persist"`
	Audit       AuditConfig          `mapstructure:"audit"`
	Strategy    StrategyIdentity     `mapstructure:"strategy"`
	Risk        RiskConfig           `mapstructure:"risk"`
	Dashboard   DashboardConfig      `mapstructure:"dashboard"`
	Backtest    BacktestConfig       `mapstructure:"backtest"`
	DryRun      bool                 `mapstructure:"dry_run"`
}

// LoadStrategyConfig reads and decodes a strategy process config file.
func LoadStrategyConfig(path string) (*StrategyConfig, error) {
	var cfg StrategyConfig
	if err := loadInto(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields a strategy process cannot run without.
func (c *StrategyConfig) Validate() error {
	switch c.RunMode {
	case "live", "paper", "backtest":
	default:
		return fmt.Errorf("run_mode must be one of live|paper|backtest, got %q", c.RunMode)
	}
	if len(c.Strategy.Code) == 0 || len(c.Strategy.Code) > 8 {
		return fmt.Errorf("strategy.code must be 1-8 characters, got %q", c.Strategy.Code)
	}
	if c.RunMode != "backtest" && len(c.Services.Gateways) == 0 {
		return fmt.Errorf("services.gateways is required outside backtest mode")
	}
	if c.RunMode == "backtest" && c.Backtest.DataRoot == "" {
		return fmt.Errorf("backtest.data_root is required in backtest mode")
	}
	if len(c.Instruments) == 0 {
		return fmt.Errorf("instruments must name at least one (exchange, symbol) pair")
	}
	if c.Strategy.Gamma <= 0 {
		return fmt.Errorf("strategy.gamma must be > 0")
	}
	if c.Strategy.OrderSize <= 0 {
		return fmt.Errorf("strategy.order_size must be > 0")
	}
	if c.Risk.MaxPositionPerInstrument <= 0 {
		return fmt.Errorf("risk.max_position_per_instrument must be > 0")
	}
	if c.Risk.MaxGlobalExposure <= 0 {
		return fmt.Errorf("risk.max_global_exposure must be > 0")
	}
	if c.Persist.Path == "" {
		return fmt.Errorf("persist.path is required")
	}
	return nil
}

// ExchangeConfig is one entry in a gateway's exchanges[] list: Type selects
// the venue adapter, the remaining fields are that venue's REST/WS
// endpoints and credentials.
type ExchangeConfig struct {
	Type        string `mapstructure:"type"`
	Name        string `mapstructure:"name"`
	RESTBaseURL string `mapstructure:"rest_base_url"`
	WSBaseURL   string `mapstructure:"ws_base_url"`
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
	DryRun      bool   `mapstructure:"dry_run"`
}

// GatewayConfig is the gateway process's top-level schema.
type GatewayConfig struct {
	RunMode   string           `mapstructure:"run_mode"`
	Port      int              `mapstructure:"port"`
	Logging   LoggingConfig    `mapstructure:"logging"`
	Exchanges []ExchangeConfig `mapstructure:"exchanges"`
}

// LoadGatewayConfig reads and decodes a gateway process config file.
func LoadGatewayConfig(path string) (*GatewayConfig, error) {
	var cfg GatewayConfig
	if err := loadInto(path, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields a gateway process cannot run without.
func (c *GatewayConfig) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("port must be in 1-65535, got %d", c.Port)
	}
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("exchanges is required")
	}
	for i, ex := range c.Exchanges {
		if ex.Type == "" {
			return fmt.Errorf("exchanges[%d].type is required", i)
		}
	}
	return nil
}
