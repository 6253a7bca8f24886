package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/lanscope/internal/daemon"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  "Show the current status of the lanscope daemon and its latest results.",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	running, pid := daemon.CheckRunning(cfg.DataDir)

	fmt.Println(titleStyle.Render("lanscope Status"))
	fmt.Println()

	fmt.Print(labelStyle.Render("Daemon: "))
	if running {
		fmt.Println(runningStyle.Render(fmt.Sprintf("Running (PID %d)", pid)))
	} else {
		fmt.Println(stoppedStyle.Render("Stopped"))
		return nil
	}

	sf, err := daemon.ReadStatusFile(cfg.DataDir)
	if err != nil {
		fmt.Println(warnStyle.Render("No status snapshot yet"))
		return nil
	}

	printField("Started:", sf.StartTime)
	printField("Uptime:", sf.Uptime)
	printField("API:", "http://"+sf.APIAddr)
	printField("Devices:", fmt.Sprintf("%d", sf.Devices))
	if sf.LastScan != "" {
		printField("Last scan:", sf.LastScan)
	}

	fmt.Println()
	fmt.Println(titleStyle.Render("Traffic"))
	monitor := "stopped"
	if sf.Traffic.Running {
		monitor = "running"
	}
	printField("Monitor:", monitor)
	if sf.Traffic.Quality != "" {
		printField("Quality:", string(sf.Traffic.Quality))
	}
	printField("Remote IPs:", fmt.Sprintf("%d", sf.TrafficRows))
	if sf.Traffic.Error != "" {
		fmt.Println(warnStyle.Render("  " + sf.Traffic.Error))
	}

	if sf.LastSpeed != nil {
		fmt.Println()
		fmt.Println(titleStyle.Render("Last Speed Test"))
		printField("Ping:", fmt.Sprintf("%.1f ms", sf.LastSpeed.PingMs))
		printField("Download:", fmt.Sprintf("%.2f Mbps", sf.LastSpeed.DownloadMbps))
		printField("Upload:", fmt.Sprintf("%.2f Mbps", sf.LastSpeed.UploadMbps))
	}

	if len(sf.Jobs) > 0 {
		fmt.Println()
		fmt.Println(titleStyle.Render("Jobs"))
		for _, job := range sf.Jobs {
			statusStr := "idle"
			if job.Running {
				statusStr = "running"
			}
			fmt.Printf("  %s: %s (last: %s, errors: %d)\n",
				labelStyle.Render(job.Name),
				valueStyle.Render(statusStr),
				job.LastRun.Format("15:04:05"),
				job.ErrorCount)
		}
	}

	return nil
}

func printField(label, value string) {
	fmt.Printf("  %s %s\n", labelStyle.Render(fmt.Sprintf("%-12s", label)), valueStyle.Render(value))
}
