package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Defaults applied when the config file leaves fields empty.
const (
	DefaultModel                = "llama-3.3-70b-versatile"
	DefaultPollSeconds          = 60
	DefaultStalenessMinutes     = 10
	DefaultLookupTimeoutSeconds = 10
	DefaultStateDir             = "state"
	DefaultJobsDB               = "state/jobs.db"
	DefaultBasePort             = 3000
)

// envVarPattern matches ${VAR_NAME} references in string values.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the config file at path, resolves ${VAR} references against
// the environment, applies defaults, and validates required fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	resolved := resolveEnvVars(string(data))

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// resolveEnvVars replaces all ${VAR_NAME} patterns in s with the
// corresponding environment variable values. Unset variables resolve to "".
func resolveEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1] // strip ${ and }
		return os.Getenv(varName)
	})
}

func applyDefaults(cfg *Config) {
	if cfg.Groq.Model == "" {
		cfg.Groq.Model = DefaultModel
	}
	if cfg.Twitter.PollSeconds <= 0 {
		cfg.Twitter.PollSeconds = DefaultPollSeconds
	}
	if cfg.Payment.StalenessMinutes <= 0 {
		cfg.Payment.StalenessMinutes = DefaultStalenessMinutes
	}
	if cfg.Payment.LookupTimeoutSeconds <= 0 {
		cfg.Payment.LookupTimeoutSeconds = DefaultLookupTimeoutSeconds
	}
	if cfg.State.Dir == "" {
		cfg.State.Dir = DefaultStateDir
	}
	if cfg.State.JobsDB == "" {
		cfg.State.JobsDB = DefaultJobsDB
	}
	if cfg.Web.BasePort <= 0 {
		cfg.Web.BasePort = DefaultBasePort
	}
	if len(cfg.Networks) == 0 {
		cfg.Networks = DefaultNetworks()
	}
	for i := range cfg.Networks {
		if cfg.Networks[i].TokenDecimals <= 0 {
			cfg.Networks[i].TokenDecimals = 6
		}
	}
}

// DefaultNetworks returns the built-in lookup order: Ethereum mainnet
// first, then Base. Both settle USDC.
func DefaultNetworks() []NetworkConfig {
	return []NetworkConfig{
		{
			Name:          "ethereum",
			ExplorerURL:   "https://api.etherscan.io/api",
			APIKey:        os.Getenv("ETHERSCAN_API_KEY"),
			TokenContract: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48",
			TokenDecimals: 6,
		},
		{
			Name:          "base",
			ExplorerURL:   "https://api.basescan.org/api",
			APIKey:        os.Getenv("BASESCAN_API_KEY"),
			TokenContract: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913",
			TokenDecimals: 6,
		},
	}
}

// validate checks that all required fields are present.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Twitter.BearerToken == "" {
		errs = append(errs, "twitter.bearerToken is required")
	}
	if cfg.Twitter.BotUserID == "" {
		errs = append(errs, "twitter.botUserID is required")
	}
	if cfg.Groq.APIKey == "" {
		errs = append(errs, "groq.apiKey is required")
	}
	if cfg.Wallet.Address == "" {
		errs = append(errs, "wallet.address is required")
	}
	for i, n := range cfg.Networks {
		if n.Name == "" {
			errs = append(errs, fmt.Sprintf("networks[%d].name is required", i))
		}
		if n.ExplorerURL == "" {
			errs = append(errs, fmt.Sprintf("networks[%d].explorerURL is required", i))
		}
		if n.TokenContract == "" {
			errs = append(errs, fmt.Sprintf("networks[%d].tokenContract is required", i))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("missing required fields:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}
