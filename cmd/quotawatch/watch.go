package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/mihaimyh/quotawatch/pkg/quotawatch"
)

var watchInterval time.Duration

func init() {
	watchCmd.Flags().DurationVar(&watchInterval, "interval", 0, "poll interval (default from config)")
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll providers continuously and re-render the status table",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		app, err := buildApp(nil)
		if err != nil {
			return err
		}
		defer app.Close()

		interval := watchInterval
		if interval <= 0 {
			interval = app.cfg.Settings.RefreshInterval
		}

		subID, events := app.monitor.Subscribe()
		if events == nil {
			return fmt.Errorf("monitor has no subscriber capacity left")
		}
		defer app.monitor.Unsubscribe(subID)

		if err := app.monitor.StartMonitoring(interval); err != nil {
			return err
		}

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

		// The first poll fires immediately; each completed cycle emits one
		// refreshed event, so rendering on those alone repaints once per
		// cycle even when individual providers fail.
		for {
			select {
			case <-quit:
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if ev.Kind != quotawatch.EventRefreshed {
					continue
				}
				report := buildReport(app.monitor, app.repo)
				if jsonOut {
					if err := printJSON(report); err != nil {
						return err
					}
					continue
				}
				printStatusTable(report)
				fmt.Println(dimStyle.Render(fmt.Sprintf("Updated: %s (next in %s)",
					ev.At.Format(time.Kitchen), formatDuration(interval))))
				fmt.Println()
			}
		}
	},
}
