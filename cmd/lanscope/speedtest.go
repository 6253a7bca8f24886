package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/lanscope/internal/model"
)

var speedtestCmd = &cobra.Command{
	Use:   "speedtest",
	Short: "Measure latency, download and upload throughput",
	RunE:  runSpeedtest,
}

func runSpeedtest(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc := newService()
	defer svc.Close()

	sampling := false
	result, err := svc.RunSpeedTest(ctx, func(ev model.SpeedEvent) {
		if ev.Sample {
			fmt.Printf("\r  %s %s   ", labelStyle.Render(string(ev.Phase)), valueStyle.Render(fmt.Sprintf("%8.2f Mbps", ev.Mbps)))
			sampling = true
			return
		}
		if sampling {
			fmt.Println()
			sampling = false
		}
		switch ev.Phase {
		case model.PhasePing, model.PhaseDownload, model.PhaseUpload:
			fmt.Println(titleStyle.Render("» " + string(ev.Phase)))
		}
	})
	if sampling {
		fmt.Println()
	}
	if err != nil {
		return err
	}

	fmt.Println()
	printField("Ping:", fmt.Sprintf("%.1f ms", result.PingMs))
	printField("Download:", fmt.Sprintf("%.2f Mbps", result.DownloadMbps))
	printField("Upload:", fmt.Sprintf("%.2f Mbps", result.UploadMbps))
	return nil
}
