// Package config defines the top-level configuration for the arbitrage engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by ARBITER_* environment variables.
type Config struct {
	Wallet   WalletConfig             `toml:"wallet"`
	Networks map[string]NetworkConfig `toml:"networks"`
	Engine   EngineConfig             `toml:"engine"`
	Risk     RiskConfig               `toml:"risk"`
	Gas      GasConfig                `toml:"gas"`
	Mev      MevConfig                `toml:"mev"`
	Confirm  ConfirmConfig            `toml:"confirm"`
	Feed     FeedConfig               `toml:"feed"`
	Advisory AdvisoryConfig           `toml:"advisory"`
	Postgres PostgresConfig           `toml:"postgres"`
	Redis    RedisConfig              `toml:"redis"`
	S3       S3Config                 `toml:"s3"`
	Server   ServerConfig             `toml:"server"`
	Notify   NotifyConfig             `toml:"notify"`
	Mode     string                   `toml:"mode"`
	LogLevel string                   `toml:"log_level"`
}

// WalletConfig holds the signing key for on-chain execution.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
}

// NetworkConfig holds per-network RPC and gas parameters.
type NetworkConfig struct {
	RPCEndpoint string `toml:"rpc_endpoint"`
	ChainID     int64  `toml:"chain_id"`
	// GasCeilingWei is the hard per-network cap on recommended gas price.
	GasCeilingWei uint64 `toml:"gas_ceiling_wei"`
	// DefaultGasPriceWei seeds the gas advisor before any observation.
	DefaultGasPriceWei uint64 `toml:"default_gas_price_wei"`
	// DefaultPriorityFeeWei seeds the priority fee recommendation.
	DefaultPriorityFeeWei uint64 `toml:"default_priority_fee_wei"`
	// BlockTimeMs is the network's typical block interval.
	BlockTimeMs int64 `toml:"block_time_ms"`
	// Routers maps venue name to the router contract address legs are
	// sent to on this network.
	Routers map[string]string `toml:"routers"`
}

// EngineConfig holds dispatcher parameters.
type EngineConfig struct {
	TickInterval        duration `toml:"tick_interval"`
	MaxConcurrentTrades int      `toml:"max_concurrent_trades"`
	QueueCapacity       int      `toml:"queue_capacity"`
	OpportunityTTL      duration `toml:"opportunity_ttl"`
	MinProfitPercent    float64  `toml:"min_profit_percent"`
	TradeSize           float64  `toml:"trade_size"`
	MaxTickAge          duration `toml:"max_tick_age"`
	Network             string   `toml:"network"`
	Simulation          bool     `toml:"simulation"`
	// SwapGasLimit is the base gas limit for a single swap leg.
	SwapGasLimit uint64 `toml:"swap_gas_limit"`
}

// RiskConfig holds the tunable parameters for the risk gate.
type RiskConfig struct {
	DailyLossLimit        float64 `toml:"daily_loss_limit"`
	WorstCaseLossFraction float64 `toml:"worst_case_loss_fraction"`
	MaxPositionSize       float64 `toml:"max_position_size"`
	CorrelationThreshold  float64 `toml:"correlation_threshold"`
	// MinLiquidityRatio is the floor on venue liquidity relative to trade
	// notional.
	MinLiquidityRatio float64 `toml:"min_liquidity_ratio"`
}

// GasConfig holds gas advisor parameters.
type GasConfig struct {
	WindowSize  int    `toml:"window_size"`
	MaxGasLimit uint64 `toml:"max_gas_limit"`
}

// MevConfig holds MEV advisor parameters.
type MevConfig struct {
	MediumThreshold float64 `toml:"medium_threshold"`
	HighThreshold   float64 `toml:"high_threshold"`
	// MaxJitter bounds the timing jitter applied under the
	// timing_jitter mitigation.
	MaxJitter duration `toml:"max_jitter"`
}

// ConfirmConfig holds confirmation polling parameters.
type ConfirmConfig struct {
	Timeout          duration `toml:"timeout"`
	PollInterval     duration `toml:"poll_interval"`
	MaxCancelRetries int      `toml:"max_cancel_retries"`
	MaxRPCAttempts   int      `toml:"max_rpc_attempts"`
}

// FeedConfig holds the price feed connection parameters.
type FeedConfig struct {
	WSURL string   `toml:"ws_url"`
	Pairs []string `toml:"pairs"`
}

// AdvisoryConfig holds the optional scoring collaborator endpoint.
type AdvisoryConfig struct {
	Enabled bool     `toml:"enabled"`
	URL     string   `toml:"url"`
	Timeout duration `toml:"timeout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for the archiver.
type S3Config struct {
	Enabled        bool     `toml:"enabled"`
	Endpoint       string   `toml:"endpoint"`
	Region         string   `toml:"region"`
	Bucket         string   `toml:"bucket"`
	AccessKey      string   `toml:"access_key"`
	SecretKey      string   `toml:"secret_key"`
	UseSSL         bool     `toml:"use_ssl"`
	ForcePathStyle bool     `toml:"force_path_style"`
	RetentionDays  int      `toml:"retention_days"`
	Interval       duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`
	// RatePerMinute caps authenticated API requests per client IP.
	// Zero disables HTTP rate limiting.
	RatePerMinute int `toml:"rate_per_minute"`
}

// NotifyConfig holds notification channel credentials and delivery policy.
type NotifyConfig struct {
	TelegramToken     string `toml:"telegram_token"`
	TelegramChatID    string `toml:"telegram_chat_id"`
	DiscordWebhookURL string `toml:"discord_webhook_url"`
	// MinSeverity is the delivery floor: "info", "warning", or
	// "critical". Critical events are always delivered.
	MinSeverity string `toml:"min_severity"`
	// RatePerMinute caps non-critical deliveries per event type.
	// Zero disables rate limiting.
	RatePerMinute int `toml:"rate_per_minute"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with safe defaults. Load merges the
// TOML file on top of this.
func Defaults() Config {
	return Config{
		Mode:     "trade",
		LogLevel: "info",
		Engine: EngineConfig{
			TickInterval:        duration{2 * time.Second},
			MaxConcurrentTrades: 4,
			QueueCapacity:       256,
			OpportunityTTL:      duration{5 * time.Minute},
			MinProfitPercent:    0.5,
			TradeSize:           1.0,
			MaxTickAge:          duration{30 * time.Second},
			Network:             "ethereum",
			Simulation:          true,
			SwapGasLimit:        300_000,
		},
		Risk: RiskConfig{
			DailyLossLimit:        1_000,
			WorstCaseLossFraction: 0.10,
			MaxPositionSize:       10_000,
			CorrelationThreshold:  0.7,
			MinLiquidityRatio:     10,
		},
		Gas: GasConfig{
			WindowSize:  50,
			MaxGasLimit: 1_000_000,
		},
		Mev: MevConfig{
			MediumThreshold: 0.33,
			HighThreshold:   0.66,
			MaxJitter:       duration{750 * time.Millisecond},
		},
		Confirm: ConfirmConfig{
			Timeout:          duration{30 * time.Second},
			PollInterval:     duration{time.Second},
			MaxCancelRetries: 2,
			MaxRPCAttempts:   3,
		},
		Advisory: AdvisoryConfig{
			Timeout: duration{2 * time.Second},
		},
		Networks: map[string]NetworkConfig{
			"ethereum": {
				ChainID:               1,
				GasCeilingWei:         500_000_000_000, // 500 gwei
				DefaultGasPriceWei:    20_000_000_000,
				DefaultPriorityFeeWei: 1_500_000_000,
				BlockTimeMs:           12_000,
			},
		},
		S3: S3Config{
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{Port: 8080, RatePerMinute: 120},
	}
}

// Validate checks the configuration for inconsistencies that would make the
// engine misbehave at runtime.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Mode) {
	case "trade", "monitor", "full":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}

	if c.Engine.MaxConcurrentTrades <= 0 {
		return fmt.Errorf("config: engine.max_concurrent_trades must be positive")
	}
	if c.Engine.TickInterval.Duration <= 0 {
		return fmt.Errorf("config: engine.tick_interval must be positive")
	}
	if c.Engine.MinProfitPercent < 0 {
		return fmt.Errorf("config: engine.min_profit_percent must not be negative")
	}
	if c.Engine.TradeSize <= 0 {
		return fmt.Errorf("config: engine.trade_size must be positive")
	}
	if _, ok := c.Networks[c.Engine.Network]; !ok {
		return fmt.Errorf("config: engine.network %q has no [networks.%s] section", c.Engine.Network, c.Engine.Network)
	}

	if c.Risk.WorstCaseLossFraction <= 0 || c.Risk.WorstCaseLossFraction > 1 {
		return fmt.Errorf("config: risk.worst_case_loss_fraction must be in (0,1]")
	}
	if c.Risk.CorrelationThreshold < 0 || c.Risk.CorrelationThreshold > 1 {
		return fmt.Errorf("config: risk.correlation_threshold must be in [0,1]")
	}

	if c.Confirm.Timeout.Duration <= 0 || c.Confirm.PollInterval.Duration <= 0 {
		return fmt.Errorf("config: confirm.timeout and confirm.poll_interval must be positive")
	}
	if c.Confirm.PollInterval.Duration > c.Confirm.Timeout.Duration {
		return fmt.Errorf("config: confirm.poll_interval must not exceed confirm.timeout")
	}

	if !c.Engine.Simulation && c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
		return fmt.Errorf("config: wallet key required unless engine.simulation is set")
	}

	for name, n := range c.Networks {
		if n.ChainID == 0 {
			return fmt.Errorf("config: networks.%s.chain_id is required", name)
		}
		if n.GasCeilingWei == 0 {
			return fmt.Errorf("config: networks.%s.gas_ceiling_wei is required", name)
		}
	}

	return nil
}
