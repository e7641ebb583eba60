package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"faucet/internal/config"
	"faucet/internal/logging"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	configPath string
	storePath  string
	logLevel   string
	logFormat  string

	cfg *config.Config
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "faucetd",
		Short:         "Test-network currency faucet",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to config file")
	cmd.PersistentFlags().StringVar(&opts.storePath, "store", "", "store directory (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level (overrides config)")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "", "log format, text or json (overrides config)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMetaCommand(opts))
	cmd.AddCommand(newLogsCommand(opts))
	cmd.AddCommand(newPayoutCommand(opts))
	cmd.AddCommand(newClaimCommand(opts))

	return cmd
}

// load reads the config file, applies flag overrides and sets up logging.
func (o *rootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return err
	}

	// CLI flags override config file values
	if o.storePath != "" {
		cfg.Store.Path = o.storePath
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Logging.Format = o.logFormat
	}
	cfg.Store.Path = config.ExpandHome(cfg.Store.Path)
	cfg.Console.AuthorizedKeys = config.ExpandHome(cfg.Console.AuthorizedKeys)

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	logging.InitTo(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	o.cfg = cfg
	return nil
}
