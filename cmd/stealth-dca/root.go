package main

import (
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "config/config.yaml"

type rootOptions struct {
	configPath string
	envOnly    bool
	storeDir   string
	output     string
	verbose    bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "stealth-dca",
		Short:         "Recurring Solana token purchases with optional privacy stages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetErr(os.Stderr)

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", envOr("SDCA_CONFIG", defaultConfigPath), "config file (env SDCA_CONFIG)")
	flags.BoolVar(&opts.envOnly, "env-only", os.Getenv("SDCA_ENV_ONLY") == "1", "read configuration from SDCA_* env vars only")
	flags.StringVar(&opts.storeDir, "store-dir", "", "override the file store directory")
	flags.StringVarP(&opts.output, "output", "o", "text", "text|json")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log at the configured level instead of warn")

	cmd.AddCommand(
		newServeCmd(opts),
		newScheduleCmd(opts),
		newSwapCmd(opts),
	)
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
