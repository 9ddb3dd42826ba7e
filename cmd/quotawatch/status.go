package main

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Fetch and display current quota usage",
	Long:  `Refreshes every enabled provider once and prints the result.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(nil)
		if err != nil {
			return err
		}
		defer app.Close()

		app.monitor.RefreshAll(cmd.Context())

		report := buildReport(app.monitor, app.repo)
		if jsonOut {
			return printJSON(report)
		}
		printStatusTable(report)
		return nil
	},
}
