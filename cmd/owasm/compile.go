package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	owasm "github.com/bandprotocol/go-owasm"
)

func writeOutput(path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func wat2wasmCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "wat2wasm <file.wat>",
		Short: "Convert the text format to a binary module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			bin, err := owasm.Wat2Wasm(text)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			logger.Info().Str("file", args[0]).Int("size", len(bin)).Msg("converted")
			return writeOutput(output, bin)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}

func compileCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "compile <file.wasm>",
		Short: "Validate a module and inject gas metering",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			config, err := loadConfig()
			if err != nil {
				return err
			}
			if err := config.Limits.CheckCodeSize(raw); err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			code, err := owasm.Compile(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			logger.Info().
				Str("file", args[0]).
				Int("raw_size", len(raw)).
				Int("size", len(code)).
				Msg("compiled")
			return writeOutput(output, code)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Output file (default stdout)")
	return cmd
}
