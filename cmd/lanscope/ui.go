package main

import (
	"github.com/spf13/cobra"

	"github.com/user/lanscope/internal/tui"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Launch the terminal dashboard",
	Long: `Launch an interactive terminal dashboard showing live network status.

The dashboard shows:
- Public IP, location and local interface
- Live traffic table with data quality tags
- Discovered devices
- Speed test with live samples

Keys: s speed test, r refresh, tab switch table, q quit.`,
	RunE: runUI,
}

func runUI(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc := newService()
	defer svc.Close()

	return tui.NewApp(svc, cfg.Traffic.Interval).Run(ctx)
}
