// Package config defines the top-level configuration for the flasharb engine
// and provides validation helpers.
package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by FLASHARB_* environment
// variables. Token amounts are decimal strings in base units so uint256
// values survive unclipped.
type Config struct {
	Owner    OwnerConfig    `toml:"owner"`
	Network  NetworkConfig  `toml:"network"`
	Engine   EngineConfig   `toml:"engine"`
	Lender   LenderConfig   `toml:"lender"`
	Tokens   []TokenConfig  `toml:"tokens"`
	Routers  []RouterConfig `toml:"routers"`
	Pools    []PoolConfig   `toml:"pools"`
	Books    []BookConfig   `toml:"books"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// OwnerConfig identifies the owner principal and its API credential. The
// credential may be stored encrypted on disk (see internal/crypto).
type OwnerConfig struct {
	Address          string   `toml:"address"`
	Operators        []string `toml:"operators"`
	APIKey           string   `toml:"api_key"`
	EncryptedKeyPath string   `toml:"encrypted_key_path"`
	KeyPassword      string   `toml:"key_password"`
}

// NetworkConfig names the deployment network.
type NetworkConfig struct {
	Name    string `toml:"name"`
	ChainID int    `toml:"chain_id"`
}

// EngineConfig holds the settlement engine's account and global limits.
type EngineConfig struct {
	Account        string `toml:"account"`
	MaxLoanAmount  string `toml:"max_loan_amount"`
	MinProfitFloor string `toml:"min_profit_floor"`
}

// LenderConfig holds the lending facility's account, fee, and genesis
// liquidity.
type LenderConfig struct {
	Account   string            `toml:"account"`
	FeeBps    int64             `toml:"fee_bps"`
	Liquidity []LiquidityConfig `toml:"liquidity"`
}

// LiquidityConfig seeds the facility with amount of token at startup.
type LiquidityConfig struct {
	Token  string `toml:"token"`
	Amount string `toml:"amount"`
}

// TokenConfig is one whitelist entry.
type TokenConfig struct {
	Address     string `toml:"address"`
	Symbol      string `toml:"symbol"`
	Whitelisted bool   `toml:"whitelisted"`
}

// RouterConfig is one router whitelist entry with its adapter kind.
type RouterConfig struct {
	Address string `toml:"address"`
	Kind    string `toml:"kind"` // "amm_v2" or "orderbook"
	Enabled bool   `toml:"enabled"`
	FeeBps  int64  `toml:"fee_bps"`
}

// PoolConfig seeds one constant-product reserve pair under a router.
type PoolConfig struct {
	Router   string `toml:"router"`
	TokenA   string `toml:"token_a"`
	TokenB   string `toml:"token_b"`
	ReserveA string `toml:"reserve_a"`
	ReserveB string `toml:"reserve_b"`
}

// BookConfig seeds one directed order-book market under a router. Levels are
// [amount_in, amount_out] pairs, best price first.
type BookConfig struct {
	Router   string      `toml:"router"`
	TokenIn  string      `toml:"token_in"`
	TokenOut string      `toml:"token_out"`
	Levels   [][2]string `toml:"levels"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	SlackWebhookURL   string   `toml:"slack_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config populated with reasonable default values.
func Defaults() Config {
	return Config{
		Network: NetworkConfig{
			Name:    "polygon",
			ChainID: 137,
		},
		Engine: EngineConfig{
			Account:        "0x00000000000000000000000000000000000000e1",
			MaxLoanAmount:  "1000000000000",
			MinProfitFloor: "1",
		},
		Lender: LenderConfig{
			Account: "0x00000000000000000000000000000000000000f1",
			FeeBps:  9,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "flasharb",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "flasharb-archive",
			ForcePathStyle: true,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
		},
		Notify: NotifyConfig{
			Events: []string{"arbitrage_executed", "emergency_withdrawal"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"engine": true,
	"server": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validKinds = map[string]bool{
	"amm_v2":    true,
	"orderbook": true,
}

// Validate checks Config for invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: engine, server, full)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if !common.IsHexAddress(c.Owner.Address) {
		errs = append(errs, fmt.Sprintf("owner: address %q is not a valid hex address", c.Owner.Address))
	}
	for _, op := range c.Owner.Operators {
		if !common.IsHexAddress(op) {
			errs = append(errs, fmt.Sprintf("owner: operator %q is not a valid hex address", op))
		}
	}
	if c.Owner.EncryptedKeyPath != "" && c.Owner.KeyPassword == "" {
		errs = append(errs, "owner: key_password is required when encrypted_key_path is set")
	}

	if !common.IsHexAddress(c.Engine.Account) {
		errs = append(errs, fmt.Sprintf("engine: account %q is not a valid hex address", c.Engine.Account))
	}
	if _, err := ParseAmount(c.Engine.MaxLoanAmount); err != nil {
		errs = append(errs, fmt.Sprintf("engine: max_loan_amount: %v", err))
	}
	if _, err := ParseAmount(c.Engine.MinProfitFloor); err != nil {
		errs = append(errs, fmt.Sprintf("engine: min_profit_floor: %v", err))
	}

	if !common.IsHexAddress(c.Lender.Account) {
		errs = append(errs, fmt.Sprintf("lender: account %q is not a valid hex address", c.Lender.Account))
	}
	if c.Lender.FeeBps < 0 || c.Lender.FeeBps >= 10000 {
		errs = append(errs, fmt.Sprintf("lender: fee_bps must be in [0, 10000), got %d", c.Lender.FeeBps))
	}
	for i, liq := range c.Lender.Liquidity {
		if !common.IsHexAddress(liq.Token) {
			errs = append(errs, fmt.Sprintf("lender: liquidity[%d]: token %q is not a valid hex address", i, liq.Token))
		}
		if _, err := ParseAmount(liq.Amount); err != nil {
			errs = append(errs, fmt.Sprintf("lender: liquidity[%d]: %v", i, err))
		}
	}

	for i, tok := range c.Tokens {
		if !common.IsHexAddress(tok.Address) {
			errs = append(errs, fmt.Sprintf("tokens[%d]: address %q is not a valid hex address", i, tok.Address))
		}
	}
	for i, r := range c.Routers {
		if !common.IsHexAddress(r.Address) {
			errs = append(errs, fmt.Sprintf("routers[%d]: address %q is not a valid hex address", i, r.Address))
		}
		if !validKinds[r.Kind] {
			errs = append(errs, fmt.Sprintf("routers[%d]: unknown kind %q (valid: amm_v2, orderbook)", i, r.Kind))
		}
		if r.FeeBps < 0 || r.FeeBps >= 10000 {
			errs = append(errs, fmt.Sprintf("routers[%d]: fee_bps must be in [0, 10000), got %d", i, r.FeeBps))
		}
	}
	for i, p := range c.Pools {
		for _, addr := range []string{p.Router, p.TokenA, p.TokenB} {
			if !common.IsHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("pools[%d]: %q is not a valid hex address", i, addr))
			}
		}
		for _, amt := range []string{p.ReserveA, p.ReserveB} {
			if _, err := ParseAmount(amt); err != nil {
				errs = append(errs, fmt.Sprintf("pools[%d]: %v", i, err))
			}
		}
	}
	for i, b := range c.Books {
		for _, addr := range []string{b.Router, b.TokenIn, b.TokenOut} {
			if !common.IsHexAddress(addr) {
				errs = append(errs, fmt.Sprintf("books[%d]: %q is not a valid hex address", i, addr))
			}
		}
		for j, lvl := range b.Levels {
			for _, amt := range lvl {
				if _, err := ParseAmount(amt); err != nil {
					errs = append(errs, fmt.Sprintf("books[%d].levels[%d]: %v", i, j, err))
				}
			}
		}
	}

	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must be in [0, pool_max_conns]")
	}

	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ParseAmount parses a base-unit decimal string into a non-negative big.Int.
func ParseAmount(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("amount must not be empty")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a decimal integer", s)
	}
	if n.Sign() < 0 {
		return nil, fmt.Errorf("amount %q must not be negative", s)
	}
	return n, nil
}
