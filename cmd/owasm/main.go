// owasm compiles and runs oracle scripts against a local request database.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/bandprotocol/go-owasm/types"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

var (
	logLevel   string
	configPath string
	logger     = zerolog.Nop()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(int(types.ToCode(err)))
	}
}

func newRootCmd() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:   "owasm",
		Short: "Oracle script compiler and runner",
		Long: `owasm converts, instruments and runs oracle scripts. Requests and
reports are kept in a local database so prepare and execute can be run
against the same request.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return err
			}
			logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
				Level(level).
				With().
				Timestamp().
				Logger()
			return nil
		},
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML VM configuration")

	rootCmd.AddCommand(
		wat2wasmCmd(),
		compileCmd(),
		requestCmd(),
		reportCmd(),
		runCmd(),
	)
	return rootCmd
}

// loadConfig returns the VM configuration from --config, or the defaults.
func loadConfig() (types.VMConfig, error) {
	if configPath == "" {
		return types.DefaultVMConfig(), nil
	}
	return types.LoadVMConfig(configPath)
}
