package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage monitored providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return providersListCmd.RunE(cmd, args)
	},
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List providers and their enablement",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(nil)
		if err != nil {
			return err
		}
		defer app.Close()

		report := buildReport(app.monitor, app.repo)
		if jsonOut {
			return printJSON(report.Providers)
		}
		for _, p := range report.Providers {
			state := "enabled"
			if !p.Enabled {
				state = dimStyle.Render("disabled")
			}
			marker := " "
			if p.Selected {
				marker = "*"
			}
			fmt.Printf("%s %-10s %-14s %s\n", marker, p.ID, p.Name, state)
		}
		return nil
	},
}

var providersEnableCmd = &cobra.Command{
	Use:   "enable <provider>",
	Short: "Enable a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setProviderEnabled(args[0], true)
	},
}

var providersDisableCmd = &cobra.Command{
	Use:   "disable <provider>",
	Short: "Disable a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setProviderEnabled(args[0], false)
	},
}

func setProviderEnabled(providerID string, enabled bool) error {
	app, err := buildApp(nil)
	if err != nil {
		return err
	}
	defer app.Close()

	p, ok := app.repo.Get(providerID)
	if !ok {
		return fmt.Errorf("unknown provider %q", providerID)
	}
	if err := p.SetEnabled(enabled); err != nil {
		return fmt.Errorf("failed to update provider %s: %w", providerID, err)
	}
	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("%s %s\n", p.Name(), state)
	return nil
}

func init() {
	providersCmd.AddCommand(providersListCmd)
	providersCmd.AddCommand(providersEnableCmd)
	providersCmd.AddCommand(providersDisableCmd)
}
