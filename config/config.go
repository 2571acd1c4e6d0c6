package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the yaml omits a field.
const (
	defaultQuorumFraction   = 0.6
	defaultMinEnsembleScore = 0.5
	defaultMaxWaitWindow    = 30 * time.Second
	defaultSweepInterval    = 1 * time.Second
	defaultWorkers          = 1
	defaultMaxRetries       = 3
	defaultQueueCapacity    = 1024
	defaultPollInterval     = 1 * time.Second
	defaultSubmitTimeout    = 10 * time.Second
	defaultRiskBudget       = 10.0
	defaultBalance          = "10000"
	defaultWeighting        = "confidence"
)

// AgentConfig declares a strategy agent known at startup.
type AgentConfig struct {
	ID     string  `yaml:"id"`
	Weight float64 `yaml:"weight"`
}

// Config holds the orchestration core configuration.
type Config struct {
	Venue             string
	WeightingStrategy string
	MinEnsembleScore  float64
	QuorumFraction    float64
	MaxWaitWindow     time.Duration
	SweepInterval     time.Duration
	Workers           int
	MaxRetries        int
	QueueCapacity     int
	PollInterval      time.Duration
	SubmitTimeout     time.Duration
	Balance           decimal.Decimal
	RiskBudgetPercent float64
	WALDir            string
	StatusAddr        string
	Agents            []AgentConfig
	DryRunPrices      map[string]decimal.Decimal
}

// ConfigTmp mirrors the yaml layout before defaults and parsing are applied.
type ConfigTmp struct {
	Venue             string            `yaml:"venue"`
	WeightingStrategy string            `yaml:"weighting_strategy,omitempty"`
	MinEnsembleScore  *float64          `yaml:"min_ensemble_confidence,omitempty"`
	QuorumFraction    *float64          `yaml:"quorum_fraction,omitempty"`
	MaxWaitWindow     string            `yaml:"max_wait_window,omitempty"`
	SweepInterval     string            `yaml:"sweep_interval,omitempty"`
	Workers           int               `yaml:"workers,omitempty"`
	MaxRetries        int               `yaml:"max_retries,omitempty"`
	QueueCapacity     int               `yaml:"queue_capacity,omitempty"`
	PollInterval      string            `yaml:"poll_interval,omitempty"`
	SubmitTimeout     string            `yaml:"submit_timeout,omitempty"`
	BalanceStr        string            `yaml:"balance,omitempty"`
	RiskBudget        *float64          `yaml:"risk_budget_percent,omitempty"`
	WALDir            string            `yaml:"wal_dir,omitempty"`
	StatusAddr        string            `yaml:"status_addr,omitempty"`
	Agents            []AgentConfig     `yaml:"agents,omitempty"`
	DryRunPrices      map[string]string `yaml:"dry_run_prices,omitempty"`
}

// Get loads configuration from the --config yaml file, falling back to CLI
// flags for a minimal dry-run setup.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	venue := flag.String("venue", "paper", "execution venue: binance, bybit or paper")
	workers := flag.Int("workers", defaultWorkers, "execution workers (more than 1 relaxes strict priority ordering)")
	flag.Parse()

	if *configPath != "" {
		return getYaml(*configPath)
	}

	cfg := withDefaults(ConfigTmp{Venue: *venue, Workers: *workers})
	return cfg, validate(cfg)
}

func getYaml(path string) (Config, error) {
	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var tmp ConfigTmp
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, fmt.Errorf("failed to parse yaml config: %w", err)
	}

	cfg := withDefaults(tmp)
	return cfg, validate(cfg)
}

func withDefaults(tmp ConfigTmp) Config {
	cfg := Config{
		Venue:             tmp.Venue,
		WeightingStrategy: tmp.WeightingStrategy,
		MinEnsembleScore:  defaultMinEnsembleScore,
		QuorumFraction:    defaultQuorumFraction,
		MaxWaitWindow:     parseDuration(tmp.MaxWaitWindow),
		SweepInterval:     parseDuration(tmp.SweepInterval),
		Workers:           tmp.Workers,
		MaxRetries:        tmp.MaxRetries,
		QueueCapacity:     tmp.QueueCapacity,
		PollInterval:      parseDuration(tmp.PollInterval),
		SubmitTimeout:     parseDuration(tmp.SubmitTimeout),
		RiskBudgetPercent: defaultRiskBudget,
		WALDir:            tmp.WALDir,
		StatusAddr:        tmp.StatusAddr,
		Agents:            tmp.Agents,
	}

	if cfg.Venue == "" {
		cfg.Venue = "paper"
	}
	if cfg.WeightingStrategy == "" {
		cfg.WeightingStrategy = defaultWeighting
	}
	if tmp.MinEnsembleScore != nil {
		cfg.MinEnsembleScore = *tmp.MinEnsembleScore
	}
	if tmp.QuorumFraction != nil {
		cfg.QuorumFraction = *tmp.QuorumFraction
	}
	if tmp.RiskBudget != nil {
		cfg.RiskBudgetPercent = *tmp.RiskBudget
	}
	if cfg.MaxWaitWindow == 0 {
		cfg.MaxWaitWindow = defaultMaxWaitWindow
	}
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	if cfg.Workers == 0 {
		cfg.Workers = defaultWorkers
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.QueueCapacity == 0 {
		cfg.QueueCapacity = defaultQueueCapacity
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.SubmitTimeout == 0 {
		cfg.SubmitTimeout = defaultSubmitTimeout
	}

	balanceStr := tmp.BalanceStr
	if balanceStr == "" {
		balanceStr = defaultBalance
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		balance, _ = decimal.NewFromString(defaultBalance)
	}
	cfg.Balance = balance

	if len(tmp.DryRunPrices) > 0 {
		cfg.DryRunPrices = make(map[string]decimal.Decimal, len(tmp.DryRunPrices))
		for pair, priceStr := range tmp.DryRunPrices {
			price, err := decimal.NewFromString(priceStr)
			if err != nil {
				continue
			}
			cfg.DryRunPrices[pair] = price
		}
	}

	return cfg
}

// parseDuration returns zero for empty or malformed values so the defaults
// kick in.
func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

func validate(cfg Config) error {
	switch cfg.Venue {
	case "binance", "bybit", "paper":
	default:
		return fmt.Errorf("unsupported venue: %s", cfg.Venue)
	}
	if cfg.MinEnsembleScore < 0 || cfg.MinEnsembleScore > 1 {
		return fmt.Errorf("min_ensemble_confidence must be in [0,1], got %f", cfg.MinEnsembleScore)
	}
	if cfg.QuorumFraction <= 0 || cfg.QuorumFraction > 1 {
		return fmt.Errorf("quorum_fraction must be in (0,1], got %f", cfg.QuorumFraction)
	}
	if cfg.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", cfg.Workers)
	}
	if cfg.Balance.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("balance must be positive, got %s", cfg.Balance.String())
	}
	if cfg.RiskBudgetPercent <= 0 || cfg.RiskBudgetPercent > 100 {
		return fmt.Errorf("risk_budget_percent must be in (0,100], got %f", cfg.RiskBudgetPercent)
	}
	return nil
}
