// Package config loads agentd configuration from the environment, an optional
// .env file and an optional config file.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/phenomenon0/perp-agents/pkg/drift"
	"github.com/phenomenon0/perp-agents/pkg/risk"
	"github.com/phenomenon0/perp-agents/pkg/solana"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"go.uber.org/fx"
)

const (
	configFileENV   = "CONFIG_FILE"
	vaultENV        = "AGENT_VAULT"
	keypairENV      = "AGENT_KEYPAIR"
	privateKeyENV   = "AGENT_PRIVATEKEY"
	gatewayURLENV   = "DRIFT_GATEWAY_URL"
	gatewayWSENV    = "DRIFT_GATEWAY_WS_URL"
	subAccountENV   = "DRIFT_SUB_ACCOUNT"
	solanaRPCENV    = "SOLANA_RPC_URL"
	askjURLENV      = "ASKJ_API_URL"
	httpAddrENV     = "HTTP_ADDR"
	logLevelENV     = "LOG_LEVEL"
	paperModeENV    = "PAPER_MODE"
	retryMaxENV     = "RETRY_MAX_ATTEMPTS"
	retryBaseENV    = "RETRY_BASE_DELAY"
	retryCapENV     = "RETRY_MAX_DELAY"
	trailingPollENV = "TRAILING_POLL_INTERVAL"
	riskSizeENV     = "RISK_MAX_ORDER_SIZE"
	riskNotionalENV = "RISK_MAX_ORDER_NOTIONAL"
	riskDailyENV    = "RISK_MAX_DAILY_ORDERS"
	riskAllowENV    = "RISK_ALLOWED_MARKETS"
	riskBlockENV    = "RISK_BLOCKED_MARKETS"
)

// ErrMissingKey is returned when required key material is not configured.
var ErrMissingKey = errors.New("missing key material")

// Retry holds the backoff settings for remote calls.
type Retry struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Config is the validated process configuration.
type Config struct {
	Vault    solana.PublicKey
	Delegate *solana.Keypair
	// AskjKey signs the ASKJIMMY login challenge; nil when unset.
	AskjKey *solana.Keypair

	GatewayURL   string
	// GatewayWSURL is the gateway event feed; empty disables it.
	GatewayWSURL string
	SubAccountID uint16
	SolanaRPCURL string
	AskjURL      string
	HTTPAddr     string
	LogLevel     string
	PaperMode    bool

	Retry                Retry
	TrailingPollInterval time.Duration
	Risk                 risk.Limits
}

// Load reads and validates configuration. Missing or malformed key material
// is a fatal error; nothing touches the network before this returns.
func Load() (*Config, error) {
	// Optional .env for local runs
	_ = godotenv.Load()

	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault(gatewayURLENV, "http://127.0.0.1:8080")
	v.SetDefault(subAccountENV, 0)
	v.SetDefault(solanaRPCENV, solana.DefaultRPCURL)
	v.SetDefault(askjURLENV, "https://api.askjimmy.xyz")
	v.SetDefault(httpAddrENV, ":8090")
	v.SetDefault(logLevelENV, "info")
	v.SetDefault(paperModeENV, false)
	v.SetDefault(retryMaxENV, 5)
	v.SetDefault(retryBaseENV, "1s")
	v.SetDefault(retryCapENV, "0s")
	v.SetDefault(trailingPollENV, "3s")

	if file := v.GetString(configFileENV); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := &Config{
		GatewayURL:   v.GetString(gatewayURLENV),
		GatewayWSURL: v.GetString(gatewayWSENV),
		SubAccountID: uint16(v.GetUint(subAccountENV)),
		SolanaRPCURL: v.GetString(solanaRPCENV),
		AskjURL:      v.GetString(askjURLENV),
		HTTPAddr:     v.GetString(httpAddrENV),
		LogLevel:     v.GetString(logLevelENV),
		PaperMode:    v.GetBool(paperModeENV),
		Retry: Retry{
			MaxAttempts: v.GetInt(retryMaxENV),
			BaseDelay:   v.GetDuration(retryBaseENV),
			MaxDelay:    v.GetDuration(retryCapENV),
		},
		TrailingPollInterval: v.GetDuration(trailingPollENV),
	}

	limits, err := loadRisk(v)
	if err != nil {
		return nil, err
	}
	cfg.Risk = limits

	if err := cfg.loadKeys(v); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadKeys(v *viper.Viper) error {
	if raw := v.GetString(keypairENV); raw != "" {
		kp, err := solana.ParseByteList(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", keypairENV, err)
		}
		c.Delegate = kp
	} else if c.PaperMode {
		kp, err := solana.GenerateKeypair()
		if err != nil {
			return err
		}
		c.Delegate = kp
	} else {
		return fmt.Errorf("%w: %s", ErrMissingKey, keypairENV)
	}

	if raw := v.GetString(vaultENV); raw != "" {
		pk, err := solana.ParsePublicKey(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", vaultENV, err)
		}
		c.Vault = pk
	} else if !c.PaperMode {
		return fmt.Errorf("%w: %s", ErrMissingKey, vaultENV)
	}

	if raw := v.GetString(privateKeyENV); raw != "" {
		kp, err := solana.ParseBase58(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", privateKeyENV, err)
		}
		c.AskjKey = kp
	}
	return nil
}

func loadRisk(v *viper.Viper) (risk.Limits, error) {
	var limits risk.Limits
	for env, dst := range map[string]*decimal.Decimal{
		riskSizeENV:     &limits.MaxOrderSize,
		riskNotionalENV: &limits.MaxOrderNotional,
	} {
		raw := v.GetString(env)
		if raw == "" {
			continue
		}
		d, err := decimal.NewFromString(raw)
		if err != nil || d.IsNegative() {
			return limits, fmt.Errorf("%s: invalid amount %q", env, raw)
		}
		*dst = d
	}

	limits.MaxDailyOrders = v.GetInt(riskDailyENV)
	if limits.MaxDailyOrders < 0 {
		return limits, fmt.Errorf("%s must not be negative", riskDailyENV)
	}

	var err error
	if limits.AllowedMarkets, err = parseMarkets(v.GetString(riskAllowENV)); err != nil {
		return limits, fmt.Errorf("%s: %w", riskAllowENV, err)
	}
	if limits.BlockedMarkets, err = parseMarkets(v.GetString(riskBlockENV)); err != nil {
		return limits, fmt.Errorf("%s: %w", riskBlockENV, err)
	}
	return limits, nil
}

// parseMarkets reads a comma separated list of perp indexes or symbols.
func parseMarkets(raw string) ([]uint16, error) {
	var out []uint16
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if n, err := strconv.ParseUint(part, 10, 16); err == nil {
			out = append(out, uint16(n))
			continue
		}
		market, ok := drift.LookupMarket(part, drift.MarketTypePerp)
		if !ok {
			return nil, fmt.Errorf("unknown perp market %q", part)
		}
		out = append(out, market.Index)
	}
	return out, nil
}

func (c *Config) validate() error {
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("%s must be at least 1, got %d", retryMaxENV, c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay < 0 || c.Retry.MaxDelay < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if c.TrailingPollInterval <= 0 {
		return fmt.Errorf("%s must be positive", trailingPollENV)
	}
	return nil
}

// Wallet returns the delegated trading wallet. Without a vault the delegate
// trades its own account.
func (c *Config) Wallet() *solana.Wallet {
	if c.Vault.IsZero() {
		return solana.NewWallet(c.Delegate)
	}
	return solana.NewDelegatedWallet(c.Delegate, c.Vault)
}

// Module provides *Config to the fx graph.
func Module() fx.Option {
	return fx.Module("config",
		fx.Provide(Load),
	)
}
