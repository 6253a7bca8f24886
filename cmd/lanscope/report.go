package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/user/lanscope/internal/report"
)

var (
	reportOutput  string
	reportTraffic bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Generate a Markdown network report",
	Long: `Generate a Markdown snapshot of the network with a Mermaid LAN diagram.

Examples:
  lanscope report
  lanscope report --output ./network.md
  lanscope report --output - --traffic=false`,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVarP(&reportOutput, "output", "o", "",
		"Output file path, '-' for stdout (default: <data dir>/reports)")
	reportCmd.Flags().BoolVar(&reportTraffic, "traffic", true,
		"Take one traffic sample before writing")
}

func runReport(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc := newService()
	defer svc.Close()

	gen := report.NewGenerator(svc)
	data, err := gen.Generate(ctx)
	if err != nil {
		return fmt.Errorf("failed to generate report: %w", err)
	}
	if reportTraffic {
		if err := svc.SampleTraffic(ctx); err != nil {
			fmt.Fprintln(os.Stderr, warnStyle.Render(err.Error()))
		}
		data.Traffic = svc.TrafficRecords()
		data.TrafficStatus = svc.TrafficStatus()
	}

	switch reportOutput {
	case "":
		path, err := report.WriteMarkdownFile(data, filepath.Join(cfg.DataDir, "reports"))
		if err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report saved to: %s\n", path)
	case "-":
		fmt.Println(report.FormatMarkdown(data))
	default:
		if err := os.WriteFile(reportOutput, []byte(report.FormatMarkdown(data)), 0o644); err != nil {
			return fmt.Errorf("failed to write report: %w", err)
		}
		fmt.Printf("Report saved to: %s\n", reportOutput)
	}
	return nil
}
