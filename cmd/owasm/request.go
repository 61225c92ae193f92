package main

import (
	"fmt"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/spf13/cobra"

	"github.com/bandprotocol/go-owasm/api"
	"github.com/bandprotocol/go-owasm/types"
)

const dbName = "owasm"

var (
	dbDir     string
	requestID uint64
)

func addRequestFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&dbDir, "db", "owasm-data", "Directory of the request database")
	cmd.Flags().Uint64Var(&requestID, "id", 1, "Request id")
}

func openDB() (dbm.DB, error) {
	db, err := dbm.NewDB(dbName, dbm.GoLevelDBBackend, dbDir)
	if err != nil {
		return nil, fmt.Errorf("could not open database in %s: %w", dbDir, err)
	}
	return db, nil
}

func requestCmd() *cobra.Command {
	var (
		calldata []byte
		askCount int64
		minCount int64
	)
	cmd := &cobra.Command{
		Use:   "request",
		Short: "Create an oracle request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if minCount > askCount {
				return fmt.Errorf("min count %d is larger than ask count %d", minCount, askCount)
			}
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			if err := api.CreateRequest(db, requestID, api.Request{
				Calldata: calldata,
				AskCount: askCount,
				MinCount: minCount,
			}); err != nil {
				return err
			}
			logger.Info().Uint64("id", requestID).Int64("ask", askCount).Int64("min", minCount).Msg("request created")
			return nil
		},
	}
	addRequestFlags(cmd)
	cmd.Flags().BytesHexVar(&calldata, "calldata", nil, "Hex encoded calldata passed to the oracle script")
	cmd.Flags().Int64Var(&askCount, "ask", 1, "Number of validators asked")
	cmd.Flags().Int64Var(&minCount, "min", 1, "Minimum number of reports")
	return cmd
}

func reportCmd() *cobra.Command {
	var (
		eid    int64
		vid    int64
		status int64
		data   []byte
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Add a validator report to a request",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB()
			if err != nil {
				return err
			}
			defer db.Close()
			report := types.Report{ExternalID: eid, ValidatorID: vid, Status: status, Data: data}
			if err := api.AddReport(db, requestID, report); err != nil {
				return err
			}
			logger.Info().Uint64("id", requestID).Int64("eid", eid).Int64("vid", vid).Msg("report added")
			return nil
		},
	}
	addRequestFlags(cmd)
	cmd.Flags().Int64Var(&eid, "eid", 1, "External id")
	cmd.Flags().Int64Var(&vid, "vid", 1, "Validator id")
	cmd.Flags().Int64Var(&status, "status", types.ExternalDataOk, "Report status")
	cmd.Flags().BytesHexVar(&data, "data", nil, "Hex encoded reported data")
	return cmd
}
