package main

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/spf13/cobra"

	"github.com/storefront/settlement-reconciler/internal/reconciliation"
)

func processCmd(configPath *string) *cobra.Command {
	var reportID, notificationID int64

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process a cataloged report by report or notification id",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (reportID == 0) == (notificationID == 0) {
				return errors.New("exactly one of --report-id or --notification-id is required")
			}
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var res *reconciliation.Result
			if reportID != 0 {
				res, err = a.pipeline.ProcessReport(cmd.Context(), reportID)
			} else {
				res, err = a.pipeline.ProcessNotification(cmd.Context(), notificationID)
			}
			if err != nil {
				return err
			}
			return printJSON(res)
		},
	}

	cmd.Flags().Int64Var(&reportID, "report-id", 0, "report catalog id")
	cmd.Flags().Int64Var(&notificationID, "notification-id", 0, "stored notification id")

	return cmd
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
