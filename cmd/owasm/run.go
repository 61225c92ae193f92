package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	owasm "github.com/bandprotocol/go-owasm"
	"github.com/bandprotocol/go-owasm/api"
	"github.com/bandprotocol/go-owasm/types"
)

func runCmd() *cobra.Command {
	var (
		phase    string
		gasLimit uint32
	)
	cmd := &cobra.Command{
		Use:   "run <code.wasm>",
		Short: "Run the prepare or execute phase of compiled code against a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var isPrepare bool
			switch phase {
			case "prepare":
				isPrepare = true
			case "execute":
			default:
				return fmt.Errorf("unknown phase %q, want prepare or execute", phase)
			}

			code, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			config, err := loadConfig()
			if err != nil {
				return err
			}
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			env, err := api.OpenStoreEnv(db, requestID)
			if err != nil {
				return err
			}

			vm, err := owasm.NewVM(config, logger)
			if err != nil {
				return err
			}
			defer vm.Cleanup()

			out, runErr := vm.Run(code, gasLimit, isPrepare, env)
			fmt.Printf("status:   %s (%d)\n", types.ToCode(runErr), types.ToCode(runErr))
			fmt.Printf("gas used: %d / %d\n", out.GasUsed, out.GasLimit)

			result, err := env.Result()
			if err != nil {
				return err
			}
			if result != nil {
				fmt.Printf("result:   %q\n", result)
			}
			asked, err := env.AskedRequests()
			if err != nil {
				return err
			}
			for _, raw := range asked {
				fmt.Printf("asked:    eid=%d did=%d calldata=%q\n", raw.ExternalID, raw.DataID, raw.Calldata)
			}
			return runErr
		},
	}
	addRequestFlags(cmd)
	cmd.Flags().StringVar(&phase, "phase", "prepare", "Phase to run (prepare or execute)")
	cmd.Flags().Uint32Var(&gasLimit, "gas", 1_000_000, "Gas limit")
	return cmd
}
