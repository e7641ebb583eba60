package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"faucet/internal/logging"
)

type Config struct {
	Store   StoreConfig   `toml:"store"`
	Faucet  FaucetConfig  `toml:"faucet"`
	Console ConsoleConfig `toml:"console"`
	Chain   ChainConfig   `toml:"chain"`
	Logging LoggingConfig `toml:"logging"`
}

type StoreConfig struct {
	Path               string `toml:"path"`
	PartitionSizeLimit uint64 `toml:"partition_size_limit"`
	ClaimsSizeLimit    uint64 `toml:"claims_size_limit"`
	LogsSizeLimit      uint64 `toml:"logs_size_limit"`
	Segments           int    `toml:"segments"`
	NoSync             bool   `toml:"no_sync"`
}

type FaucetConfig struct {
	CooldownSec      uint64   `toml:"cooldown_sec"`
	PayoutBase       uint64   `toml:"payout_base"`
	PayoutAdjustment float64  `toml:"payout_adjustment"`
	FeeThreshold     float64  `toml:"fee_threshold"`
	Decimals         int      `toml:"decimals"`
	MetaInterval     Duration `toml:"meta_interval"`
}

// Cooldown returns CooldownSec as a duration.
func (f FaucetConfig) Cooldown() time.Duration {
	return time.Duration(f.CooldownSec) * time.Second
}

type ConsoleConfig struct {
	Listen         string  `toml:"listen"`
	AuthorizedKeys string  `toml:"authorized_keys"`
	CommandsPerSec float64 `toml:"commands_per_sec"`
}

// ChainConfig configures the static development chain backend.
type ChainConfig struct {
	Fee   uint64            `toml:"fee"`
	Names map[string]string `toml:"names"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Duration is a time.Duration written as a Go duration string in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Defaults returns a Config with sane defaults.
func Defaults() *Config {
	return &Config{
		Store: StoreConfig{
			Path:               "~/.faucet/db",
			PartitionSizeLimit: 64 << 20,
			Segments:           8,
		},
		Faucet: FaucetConfig{
			CooldownSec:      86400,
			PayoutBase:       10_000_000_000_000_000,
			PayoutAdjustment: 0.05,
			FeeThreshold:     0.1,
			Decimals:         18,
			MetaInterval:     Duration{10 * time.Minute},
		},
		Console: ConsoleConfig{
			Listen:         "127.0.0.1:2222",
			AuthorizedKeys: "~/.faucet/authorized_keys",
			CommandsPerSec: 2,
		},
		Chain: ChainConfig{
			Names: map[string]string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a TOML config file and returns the parsed Config.
// If path is empty, only defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path == "" {
		// Try default location
		path = expandHome("~/.faucet/config.toml")
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return cfg, nil
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	return cfg, nil
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Store.PartitionSizeLimit == 0 {
		errs = append(errs, errors.New("store.partition_size_limit: must be positive"))
	}
	if c.Store.Segments < 1 {
		errs = append(errs, fmt.Errorf("store.segments: must be at least 1, got %d", c.Store.Segments))
	}
	if c.Faucet.PayoutAdjustment < 0 {
		errs = append(errs, fmt.Errorf("faucet.payout_adjustment: must not be negative, got %v", c.Faucet.PayoutAdjustment))
	}
	if c.Faucet.FeeThreshold < 0 {
		errs = append(errs, fmt.Errorf("faucet.fee_threshold: must not be negative, got %v", c.Faucet.FeeThreshold))
	}
	if c.Faucet.Decimals < 0 || c.Faucet.Decimals > 30 {
		errs = append(errs, fmt.Errorf("faucet.decimals: must be between 0 and 30, got %d", c.Faucet.Decimals))
	}
	if c.Faucet.MetaInterval.Duration < 0 {
		errs = append(errs, fmt.Errorf("faucet.meta_interval: must not be negative, got %s", c.Faucet.MetaInterval))
	}
	if c.Console.Listen != "" {
		if err := validateListenAddr(c.Console.Listen); err != nil {
			errs = append(errs, fmt.Errorf("console.listen: %w", err))
		}
	}
	if c.Console.CommandsPerSec < 0 {
		errs = append(errs, fmt.Errorf("console.commands_per_sec: must not be negative, got %v", c.Console.CommandsPerSec))
	}
	for name := range c.Chain.Names {
		if n, _, ok := strings.Cut(name, "@"); !ok || n == "" {
			errs = append(errs, fmt.Errorf("chain.names[%q]: expected name@namespace", name))
		}
	}
	if err := validateLogLevel(c.Logging.Level); err != nil {
		errs = append(errs, fmt.Errorf("logging.level: %w", err))
	}
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

func validateListenAddr(addr string) error {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return err
	}
	if strings.TrimSpace(host) == "" {
		return errors.New("empty host")
	}
	if strings.TrimSpace(port) == "" {
		return errors.New("empty port")
	}
	return nil
}

func validateLogLevel(level string) error {
	_, err := logging.ParseLevel(level)
	return err
}

// ExpandHome resolves a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	return expandHome(path)
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
