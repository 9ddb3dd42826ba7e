package main

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile  string
	logLevel string
	jsonOut  bool

	rootCmd = &cobra.Command{
		Use:   "quotawatch",
		Short: "AI coding assistant quota monitor",
		Long: `quotawatch tracks the remaining usage quotas of AI coding assistants
such as Claude Code, Codex CLI and MiniMax, by probing their vendor APIs
or scraping their interactive CLI status screens.`,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return statusCmd.RunE(cmd, args)
		},
	}
)

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/quotawatch/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output as JSON")

	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(providersCmd)
}
