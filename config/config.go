package config

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Environment variable names forming the startup contract.
const (
	EnvFeeAccountPrivateKey      = "FEE_ACCOUNT_PRIVATE_KEY"
	EnvMaxLiquidationFeePercent  = "MAX_LIQUIDATION_FEE_PERCENT"
	EnvFeeAccumulatorAddress     = "FEE_ACCUMULATOR_ADDRESS"
	EnvEthNetwork                = "ETH_NETWORK"
	EnvWeb3URL                   = "WEB3_URL"
	EnvNotificationWebhookURL    = "NOTIFICATION_WEBHOOK_URL"
	EnvMaxLiquidationFeeSlippage = "MAX_LIQUIDATION_FEE_SLIPPAGE"
	EnvEthTransferThreshold      = "ETH_TRANSFER_THRESHOLD"
	EnvOperatorFeeEthAddress     = "OPERATOR_FEE_ETH_ADDRESS"
	EnvTuningPath                = "FEE_SELLER_CONFIG"
)

const (
	defaultSlippagePercent      = 1.0
	defaultTransferThresholdEth = "3"
)

var weiPerEth = decimal.New(1, 18)

type Config struct {
	FeeSeller FeeSellerConfig `yaml:"feeseller"`
	Worker    WorkerConfig    `yaml:"worker"`
	Venue     VenueConfig     `yaml:"venue"`
	Pricefeed PricefeedConfig `yaml:"pricefeed"`
	Tokens    []TokenConfig   `yaml:"tokens"`
	Notifier  NotifierConfig  `yaml:"notifier"`
	Audit     AuditConfig     `yaml:"audit"`
	Logging   LoggingConfig   `yaml:"logging"`

	// Env carries the environment-variable contract. It is never read from
	// the tuning file.
	Env EnvConfig `yaml:"-"`
}

type FeeSellerConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

type WorkerConfig struct {
	PollInterval     time.Duration `yaml:"poll_interval"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	ConfirmationWait time.Duration `yaml:"confirmation_wait"`
}

type VenueConfig struct {
	Name      string             `yaml:"name"` // binance, kucoin or uniswap
	Binance   BinanceVenueConfig `yaml:"binance"`
	Kucoin    KucoinVenueConfig  `yaml:"kucoin"`
	Uniswap   UniswapVenueConfig `yaml:"uniswap"`
	RateLimit RateLimitConfig    `yaml:"rate_limit"`
}

type BinanceVenueConfig struct {
	URL       string `yaml:"url"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

type KucoinVenueConfig struct {
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	APISecret  string `yaml:"api_secret"`
	Passphrase string `yaml:"passphrase"`
}

type UniswapVenueConfig struct {
	RouterAddress string        `yaml:"router_address"`
	WETHAddress   string        `yaml:"weth_address"`
	GasLimit      uint64        `yaml:"gas_limit"`
	Deadline      time.Duration `yaml:"deadline"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `yaml:"requests_per_second"`
	BurstSize         int `yaml:"burst_size"`
}

type PricefeedConfig struct {
	URL          string        `yaml:"url"`
	QuoteSuffix  string        `yaml:"quote_suffix"`  // appended to the token symbol, e.g. "ETH"
	MaxStaleness time.Duration `yaml:"max_staleness"` // reject tickers older than this
}

// TokenConfig describes one ERC-20 fee token the accumulator collects.
// MinSellAmount is in whole tokens; balances below it are left to accumulate.
type TokenConfig struct {
	Symbol        string `yaml:"symbol"`
	Address       string `yaml:"address"`
	Decimals      int    `yaml:"decimals"`
	MinSellAmount string `yaml:"min_sell_amount"`
}

// MinSellBase converts MinSellAmount into the token's base units.
func (t TokenConfig) MinSellBase() (*big.Int, error) {
	amount := t.MinSellAmount
	if amount == "" {
		amount = "0"
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("token %s: invalid min_sell_amount %q: %w", t.Symbol, t.MinSellAmount, err)
	}
	return d.Mul(decimal.New(1, int32(t.Decimals))).BigInt(), nil
}

type NotifierConfig struct {
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type AuditConfig struct {
	S3 S3Config `yaml:"s3"`
}

type S3Config struct {
	Enabled         bool          `yaml:"enabled"`
	Bucket          string        `yaml:"bucket"`
	Region          string        `yaml:"region"`
	Endpoint        string        `yaml:"endpoint"`
	Prefix          string        `yaml:"prefix"`
	AccessKeyID     string        `yaml:"access_key_id"`
	SecretAccessKey string        `yaml:"secret_access_key"`
	FlushInterval   time.Duration `yaml:"flush_interval"`
	Buffer          int           `yaml:"buffer"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// EnvConfig is the immutable environment-variable contract. All fields are
// resolved once at startup; the process refuses to start when a required
// value is missing or ill-formed.
type EnvConfig struct {
	PrivateKey        *ecdsa.PrivateKey
	FeeAccount        common.Address // derived from the private key
	MaxFeePercent     float64        // 0 < v < 100
	SlippagePercent   float64        // 0 <= v < 100
	Accumulator       common.Address
	Network           string
	Web3URL           string
	WebhookURL        string
	TransferThreshold *big.Int // wei
	OperatorAddress   common.Address
	TransfersEnabled  bool
}

// SellBound returns the fraction of the expected proceeds a fill must reach:
// 1 - maxFeePercent - maxSlippage, both expressed as percentages.
func (e EnvConfig) SellBound() float64 {
	return 1 - (e.MaxFeePercent+e.SlippagePercent)/100
}

// Load resolves the full configuration: the YAML tuning file (optional, all
// fields defaulted) followed by the environment contract. Any error here is
// fatal and stops the process before the worker loop starts.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	explicit := path != ""
	if path == "" {
		path = strings.TrimSpace(os.Getenv(EnvTuningPath))
		explicit = path != ""
	}
	path = resolveTuningPath(path)

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse tuning file %s: %w", path, err)
			}
		case os.IsNotExist(err) && !explicit:
			// The default tuning file is optional; run on defaults.
		default:
			return nil, fmt.Errorf("failed to read tuning file %s: %w", path, err)
		}
	}

	// AWS credentials always come from the environment when present.
	if cfg.Audit.S3.Enabled {
		if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
			cfg.Audit.S3.AccessKeyID = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
			cfg.Audit.S3.SecretAccessKey = strings.TrimSpace(v)
		}
		if v := os.Getenv("AWS_REGION"); v != "" {
			cfg.Audit.S3.Region = strings.TrimSpace(v)
		}
	}

	env, err := FromEnv()
	if err != nil {
		return nil, err
	}
	cfg.Env = *env

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		FeeSeller: FeeSellerConfig{Name: "feeseller", Version: "dev"},
		Worker: WorkerConfig{
			PollInterval:     time.Minute,
			CallTimeout:      30 * time.Second,
			ConfirmationWait: 5 * time.Minute,
		},
		Venue: VenueConfig{
			Name:      "binance",
			RateLimit: RateLimitConfig{RequestsPerSecond: 5, BurstSize: 1},
			Uniswap:   UniswapVenueConfig{GasLimit: 350000, Deadline: 2 * time.Minute},
		},
		Pricefeed: PricefeedConfig{QuoteSuffix: "ETH", MaxStaleness: 2 * time.Minute},
		Notifier: NotifierConfig{
			Timeout:    10 * time.Second,
			MaxRetries: 5,
			BaseDelay:  time.Second,
			MaxDelay:   30 * time.Second,
		},
		Audit: AuditConfig{S3: S3Config{
			FlushInterval: time.Minute,
			Buffer:        256,
		}},
		Logging: LoggingConfig{Level: "info", Format: "json", Output: "stdout"},
	}
}

// FromEnv reads and validates the environment-variable contract.
func FromEnv() (*EnvConfig, error) {
	env := &EnvConfig{}

	keyHex, err := requireEnv(EnvFeeAccountPrivateKey)
	if err != nil {
		return nil, err
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(keyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%s is not a valid private key: %w", EnvFeeAccountPrivateKey, err)
	}
	env.PrivateKey = key
	env.FeeAccount = crypto.PubkeyToAddress(key.PublicKey)

	env.MaxFeePercent, err = requireEnvFloat(EnvMaxLiquidationFeePercent)
	if err != nil {
		return nil, err
	}
	if env.MaxFeePercent <= 0 || env.MaxFeePercent >= 100 {
		return nil, fmt.Errorf("%s must be between 0 and 100, got %v", EnvMaxLiquidationFeePercent, env.MaxFeePercent)
	}

	env.SlippagePercent = defaultSlippagePercent
	if v := os.Getenv(EnvMaxLiquidationFeeSlippage); v != "" {
		env.SlippagePercent, err = strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", EnvMaxLiquidationFeeSlippage, err)
		}
	}
	if env.SlippagePercent < 0 || env.SlippagePercent >= 100 {
		return nil, fmt.Errorf("%s must be between 0 and 100, got %v", EnvMaxLiquidationFeeSlippage, env.SlippagePercent)
	}
	if env.MaxFeePercent+env.SlippagePercent >= 100 {
		return nil, fmt.Errorf("fee percent plus slippage must stay below 100")
	}

	env.Accumulator, err = requireEnvAddress(EnvFeeAccumulatorAddress)
	if err != nil {
		return nil, err
	}

	env.Network, err = requireEnv(EnvEthNetwork)
	if err != nil {
		return nil, err
	}

	env.Web3URL, err = requireEnv(EnvWeb3URL)
	if err != nil {
		return nil, err
	}

	webhook, err := requireEnv(EnvNotificationWebhookURL)
	if err != nil {
		return nil, err
	}
	parsed, err := url.Parse(webhook)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%s must be an http(s) URL, got %q", EnvNotificationWebhookURL, webhook)
	}
	env.WebhookURL = webhook

	threshold := defaultTransferThresholdEth
	if v := os.Getenv(EnvEthTransferThreshold); v != "" {
		threshold = v
	}
	d, err := decimal.NewFromString(threshold)
	if err != nil || d.IsNegative() {
		return nil, fmt.Errorf("%s must be a non-negative ETH amount, got %q", EnvEthTransferThreshold, threshold)
	}
	env.TransferThreshold = d.Mul(weiPerEth).BigInt()

	if v := os.Getenv(EnvOperatorFeeEthAddress); v != "" {
		if !common.IsHexAddress(v) {
			return nil, fmt.Errorf("%s is not a valid address: %q", EnvOperatorFeeEthAddress, v)
		}
		env.OperatorAddress = common.HexToAddress(v)
		env.TransfersEnabled = true
	}

	return env, nil
}

func validate(cfg *Config) error {
	if cfg.FeeSeller.Name == "" {
		return fmt.Errorf("feeseller.name is required")
	}
	if cfg.Worker.PollInterval <= 0 {
		return fmt.Errorf("worker.poll_interval must be greater than 0")
	}
	if cfg.Worker.CallTimeout <= 0 {
		return fmt.Errorf("worker.call_timeout must be greater than 0")
	}
	if cfg.Worker.ConfirmationWait <= 0 {
		return fmt.Errorf("worker.confirmation_wait must be greater than 0")
	}

	switch cfg.Venue.Name {
	case "binance", "kucoin":
	case "uniswap":
		if !common.IsHexAddress(cfg.Venue.Uniswap.RouterAddress) {
			return fmt.Errorf("venue.uniswap.router_address is required for the uniswap venue")
		}
		if !common.IsHexAddress(cfg.Venue.Uniswap.WETHAddress) {
			return fmt.Errorf("venue.uniswap.weth_address is required for the uniswap venue")
		}
	default:
		return fmt.Errorf("venue.name must be binance, kucoin or uniswap, got %q", cfg.Venue.Name)
	}

	seen := make(map[string]struct{}, len(cfg.Tokens))
	for _, t := range cfg.Tokens {
		if t.Symbol == "" {
			return fmt.Errorf("tokens entries require a symbol")
		}
		if !common.IsHexAddress(t.Address) {
			return fmt.Errorf("token %s: address %q is invalid", t.Symbol, t.Address)
		}
		if t.Decimals < 0 || t.Decimals > 36 {
			return fmt.Errorf("token %s: decimals %d out of range", t.Symbol, t.Decimals)
		}
		if _, err := t.MinSellBase(); err != nil {
			return err
		}
		if _, dup := seen[t.Symbol]; dup {
			return fmt.Errorf("token %s listed twice", t.Symbol)
		}
		seen[t.Symbol] = struct{}{}
	}

	if cfg.Audit.S3.Enabled {
		if cfg.Audit.S3.Bucket == "" {
			return fmt.Errorf("audit.s3.bucket is required when the audit trail is enabled")
		}
		if cfg.Audit.S3.Region == "" {
			return fmt.Errorf("audit.s3.region is required when the audit trail is enabled")
		}
		if cfg.Audit.S3.FlushInterval <= 0 {
			return fmt.Errorf("audit.s3.flush_interval must be greater than 0")
		}
	}

	return nil
}

func requireEnv(name string) (string, error) {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is not set", name)
	}
	return v, nil
}

func requireEnvFloat(name string) (float64, error) {
	v, err := requireEnv(name)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", name, err)
	}
	return f, nil
}

func requireEnvAddress(name string) (common.Address, error) {
	v, err := requireEnv(name)
	if err != nil {
		return common.Address{}, err
	}
	if !common.IsHexAddress(v) {
		return common.Address{}, fmt.Errorf("%s is not a valid address: %q", name, v)
	}
	return common.HexToAddress(v), nil
}
