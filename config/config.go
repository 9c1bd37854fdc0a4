package config

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v2"
)

// Config holds every tunable of the arbitrage engine. Thresholds are
// supplied at construction; there is no hot reload.
type Config struct {
	// Chain and network settings
	ChainID     uint64 `json:"chain_id" yaml:"chain_id"`
	RPCEndpoint string `json:"rpc_endpoint" yaml:"rpc_endpoint"`
	WSEndpoint  string `json:"ws_endpoint" yaml:"ws_endpoint"`

	// Contract addresses
	FlashSwapContract common.Address `json:"flash_swap_contract" yaml:"flash_swap_contract"`

	// Pathfinding
	Pathfinder PathfinderConfig `json:"pathfinder" yaml:"pathfinder"`

	// Slippage modeling
	Slippage SlippageConfig `json:"slippage" yaml:"slippage"`

	// Gas estimation and profitability gates
	Gas GasConfig `json:"gas" yaml:"gas"`

	// Execution pipeline
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`

	// Safety layer
	CircuitBreaker CircuitBreakerConfig `json:"circuit_breaker" yaml:"circuit_breaker"`
	EmergencyStop  EmergencyStopConfig  `json:"emergency_stop" yaml:"emergency_stop"`
	Position       PositionConfig       `json:"position" yaml:"position"`

	// RPC rate limiting
	RPCRateLimit RateLimitConfig `json:"rpc_rate_limit" yaml:"rpc_rate_limit"`
}

// PathfinderConfig bounds the cycle search.
type PathfinderConfig struct {
	MinProfitBps       int64    `json:"min_profit_bps" yaml:"min_profit_bps"`
	MaxHops            int      `json:"max_hops" yaml:"max_hops"`
	SupportedProtocols []string `json:"supported_protocols" yaml:"supported_protocols"`
	DedupCacheSize     int      `json:"dedup_cache_size" yaml:"dedup_cache_size"`
}

// SlippageConfig sets per-hop and cumulative impact warning thresholds.
type SlippageConfig struct {
	MaxHopImpactBps        int64 `json:"max_hop_impact_bps" yaml:"max_hop_impact_bps"`
	MaxCumulativeImpactBps int64 `json:"max_cumulative_impact_bps" yaml:"max_cumulative_impact_bps"`
	ToleranceBps           int64 `json:"tolerance_bps" yaml:"tolerance_bps"`
	StableAmplification    int64 `json:"stable_amplification" yaml:"stable_amplification"`
}

// GasConfig drives estimation and the profitability gate.
type GasConfig struct {
	BufferBps        int64    `json:"buffer_bps" yaml:"buffer_bps"`
	MaxGasPrice      *big.Int `json:"max_gas_price" yaml:"max_gas_price"`
	MinNetProfit     *big.Int `json:"min_net_profit" yaml:"min_net_profit"`
	MaxGasPercentBps int64    `json:"max_gas_percent_bps" yaml:"max_gas_percent_bps"`
	UseSimulation    bool     `json:"use_simulation" yaml:"use_simulation"`
	FallbackOnError  bool     `json:"fallback_on_error" yaml:"fallback_on_error"`
	FlashLoanFeeBps  int64    `json:"flash_loan_fee_bps" yaml:"flash_loan_fee_bps"`
	MEVLeakBps       int64    `json:"mev_leak_bps" yaml:"mev_leak_bps"`
}

// PipelineConfig bounds concurrency and retry behavior.
type PipelineConfig struct {
	MaxConcurrentExecutions int           `json:"max_concurrent_executions" yaml:"max_concurrent_executions"`
	MaxRetries              int           `json:"max_retries" yaml:"max_retries"`
	RetryBackoff            time.Duration `json:"retry_backoff" yaml:"retry_backoff"`
	ConfirmationTimeout     time.Duration `json:"confirmation_timeout" yaml:"confirmation_timeout"`
	ConfirmationPoll        time.Duration `json:"confirmation_poll" yaml:"confirmation_poll"`
	HealthCheckInterval     time.Duration `json:"health_check_interval" yaml:"health_check_interval"`
}

// CircuitBreakerConfig sets the trip conditions and recovery cadence.
type CircuitBreakerConfig struct {
	FailureThreshold       int           `json:"failure_threshold" yaml:"failure_threshold"`
	FailureRateBps         int64         `json:"failure_rate_bps" yaml:"failure_rate_bps"`
	ConsecutiveLossLimit   int           `json:"consecutive_loss_limit" yaml:"consecutive_loss_limit"`
	MaxCumulativeLoss      *big.Int      `json:"max_cumulative_loss" yaml:"max_cumulative_loss"`
	RollingWindow          time.Duration `json:"rolling_window" yaml:"rolling_window"`
	CooldownPeriod         time.Duration `json:"cooldown_period" yaml:"cooldown_period"`
	HalfOpenSuccessToClose int           `json:"half_open_success_to_close" yaml:"half_open_success_to_close"`
	MinSamples             int           `json:"min_samples" yaml:"min_samples"`
}

// EmergencyStopConfig sets automatic trigger thresholds.
type EmergencyStopConfig struct {
	MaxCapitalLossBps    int64         `json:"max_capital_loss_bps" yaml:"max_capital_loss_bps"`
	MaxConsecutiveErrors int           `json:"max_consecutive_errors" yaml:"max_consecutive_errors"`
	MinHealthScoreBps    int64         `json:"min_health_score_bps" yaml:"min_health_score_bps"`
	CallbackTimeout      time.Duration `json:"callback_timeout" yaml:"callback_timeout"`
	AutoRecovery         bool          `json:"auto_recovery" yaml:"auto_recovery"`
}

// PositionConfig bounds capital exposure.
type PositionConfig struct {
	MinPositionSize   *big.Int `json:"min_position_size" yaml:"min_position_size"`
	MaxPositionSize   *big.Int `json:"max_position_size" yaml:"max_position_size"`
	MaxTradePctBps    int64    `json:"max_trade_pct_bps" yaml:"max_trade_pct_bps"`
	MaxExposurePctBps int64    `json:"max_exposure_pct_bps" yaml:"max_exposure_pct_bps"`
	PerformanceWindow int      `json:"performance_window" yaml:"performance_window"`
}

// RateLimitConfig throttles outbound RPC calls.
type RateLimitConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	BurstSize         int           `json:"burst_size" yaml:"burst_size"`
	WaitTimeout       time.Duration `json:"wait_timeout" yaml:"wait_timeout"`
}

// Validate collects every configuration failure instead of stopping at the
// first one.
func (c *Config) Validate() error {
	var errs []string

	if c.ChainID == 0 {
		errs = append(errs, "chain_id must be specified")
	}
	if c.RPCEndpoint == "" {
		errs = append(errs, "rpc_endpoint must be specified")
	}
	if c.Pathfinder.MinProfitBps < 0 {
		errs = append(errs, "pathfinder.min_profit_bps must be non-negative")
	}
	if c.Pathfinder.MaxHops < 2 {
		errs = append(errs, "pathfinder.max_hops must be at least 2")
	}
	if c.Gas.MaxGasPrice == nil || c.Gas.MaxGasPrice.Sign() <= 0 {
		errs = append(errs, "gas.max_gas_price must be positive")
	}
	if c.Gas.MinNetProfit == nil || c.Gas.MinNetProfit.Sign() < 0 {
		errs = append(errs, "gas.min_net_profit must be non-negative")
	}
	if c.Gas.MaxGasPercentBps <= 0 || c.Gas.MaxGasPercentBps > 10000 {
		errs = append(errs, "gas.max_gas_percent_bps must be in (0, 10000]")
	}
	if c.Pipeline.MaxConcurrentExecutions <= 0 {
		errs = append(errs, "pipeline.max_concurrent_executions must be positive")
	}
	if c.Pipeline.MaxRetries < 0 {
		errs = append(errs, "pipeline.max_retries must be non-negative")
	}
	if err := c.CircuitBreaker.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("circuit breaker: %v", err))
	}
	if err := c.Position.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("position: %v", err))
	}
	if err := c.RPCRateLimit.Validate(); err != nil {
		errs = append(errs, fmt.Sprintf("rpc rate limit: %v", err))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *CircuitBreakerConfig) Validate() error {
	if c.FailureThreshold <= 0 {
		return fmt.Errorf("failure threshold must be positive")
	}
	if c.FailureRateBps <= 0 || c.FailureRateBps > 10000 {
		return fmt.Errorf("failure rate must be in (0, 10000] bps")
	}
	if c.CooldownPeriod <= 0 {
		return fmt.Errorf("cooldown period must be positive")
	}
	if c.HalfOpenSuccessToClose <= 0 {
		return fmt.Errorf("half-open success threshold must be positive")
	}
	if c.RollingWindow <= 0 {
		return fmt.Errorf("rolling window must be positive")
	}
	return nil
}

func (p *PositionConfig) Validate() error {
	if p.MinPositionSize == nil || p.MinPositionSize.Sign() < 0 {
		return fmt.Errorf("min position size must be non-negative")
	}
	if p.MaxPositionSize == nil || p.MaxPositionSize.Sign() <= 0 {
		return fmt.Errorf("max position size must be positive")
	}
	if p.MinPositionSize.Cmp(p.MaxPositionSize) > 0 {
		return fmt.Errorf("min position size exceeds max")
	}
	if p.MaxTradePctBps <= 0 || p.MaxTradePctBps > 10000 {
		return fmt.Errorf("max trade percentage must be in (0, 10000] bps")
	}
	if p.MaxExposurePctBps <= 0 || p.MaxExposurePctBps > 10000 {
		return fmt.Errorf("max exposure percentage must be in (0, 10000] bps")
	}
	return nil
}

func (r *RateLimitConfig) Validate() error {
	if r.RequestsPerSecond <= 0 {
		return fmt.Errorf("requests per second must be positive")
	}
	if r.BurstSize <= 0 {
		return fmt.Errorf("burst size must be positive")
	}
	return nil
}

// LoadConfig reads a JSON or YAML config file, falling back to
// $HOME/.axionarb.json when no path is given.
func LoadConfig(cfgFile string) (*Config, error) {
	if cfgFile == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		cfgFile = filepath.Join(home, ".axionarb.json")
	}

	data, err := os.ReadFile(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	switch ext := filepath.Ext(cfgFile); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to decode yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to decode json config: %w", err)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// SaveConfig writes the config as indented JSON.
func SaveConfig(cfg *Config, cfgFile string) error {
	file, err := os.Create(cfgFile)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "    ")
	return encoder.Encode(cfg)
}

// DefaultConfig returns production defaults for Arbitrum-class chains.
func DefaultConfig() *Config {
	return &Config{
		ChainID:     42161,
		RPCEndpoint: "http://localhost:8545",
		WSEndpoint:  "ws://localhost:8546",
		Pathfinder: PathfinderConfig{
			MinProfitBps:       50,
			MaxHops:            4,
			SupportedProtocols: []string{"uniswap_v2", "uniswap_v3", "sushiswap", "camelot"},
			DedupCacheSize:     4096,
		},
		Slippage: SlippageConfig{
			MaxHopImpactBps:        300,
			MaxCumulativeImpactBps: 500,
			ToleranceBps:           100,
			StableAmplification:    100,
		},
		Gas: GasConfig{
			BufferBps:        12000, // 1.2x
			MaxGasPrice:      big.NewInt(500_000_000_000),
			MinNetProfit:     big.NewInt(10_000_000_000_000_000), // 0.01 ETH
			MaxGasPercentBps: 5000,
			UseSimulation:    true,
			FallbackOnError:  true,
			FlashLoanFeeBps:  9,
			MEVLeakBps:       1000,
		},
		Pipeline: PipelineConfig{
			MaxConcurrentExecutions: 4,
			MaxRetries:              3,
			RetryBackoff:            500 * time.Millisecond,
			ConfirmationTimeout:     2 * time.Minute,
			ConfirmationPoll:        2 * time.Second,
			HealthCheckInterval:     30 * time.Second,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold:       5,
			FailureRateBps:         5000,
			ConsecutiveLossLimit:   3,
			MaxCumulativeLoss:      big.NewInt(500_000_000_000_000_000), // 0.5 ETH
			RollingWindow:          10 * time.Minute,
			CooldownPeriod:         time.Minute,
			HalfOpenSuccessToClose: 3,
			MinSamples:             10,
		},
		EmergencyStop: EmergencyStopConfig{
			MaxCapitalLossBps:    1000,
			MaxConsecutiveErrors: 10,
			MinHealthScoreBps:    3000,
			CallbackTimeout:      10 * time.Second,
			AutoRecovery:         false,
		},
		Position: PositionConfig{
			MinPositionSize:   big.NewInt(100_000_000_000_000_000),   // 0.1 ETH
			MaxPositionSize:   big.NewInt(0).Mul(big.NewInt(50), big.NewInt(1e18)),
			MaxTradePctBps:    1000,
			MaxExposurePctBps: 5000,
			PerformanceWindow: 20,
		},
		RPCRateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			BurstSize:         20,
			WaitTimeout:       time.Second,
		},
	}
}
