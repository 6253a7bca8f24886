package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/runner"
	"github.com/user/lanscope/internal/traffic"
)

var (
	trafficDuration time.Duration
	trafficElevate  bool
)

var trafficCmd = &cobra.Command{
	Use:   "traffic",
	Short: "Sample per-remote-IP traffic estimates",
	Long: `Sample the connection table and interface counters for a while and
print the traffic table. Speeds tagged "est" split the interface total
evenly across active remote IPs; "conn" rows only prove a connection.`,
	RunE: runTraffic,
}

func init() {
	trafficCmd.Flags().DurationVar(&trafficDuration, "duration", 10*time.Second,
		"How long to sample before printing")
	trafficCmd.Flags().BoolVar(&trafficElevate, "elevate", false,
		"Rerun through the OS privilege prompt if the connection table is denied")
}

func runTraffic(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	svc := newService()
	defer svc.Close()

	fmt.Printf("Sampling traffic for %s...\n", trafficDuration)

	deadline := time.After(trafficDuration)
	ticker := time.NewTicker(cfg.Traffic.Interval)
	defer ticker.Stop()

	for {
		if err := svc.SampleTraffic(ctx); err != nil {
			var dae *traffic.DataAccessError
			if errors.As(err, &dae) {
				if dae.RequiresElevatedPrivilege {
					if trafficElevate {
						svc.Close()
						return runTrafficElevated(ctx, err)
					}
					return fmt.Errorf("%w (rerun with --elevate)", err)
				}
				return err
			}
			if ctx.Err() == nil {
				fmt.Println(warnStyle.Render(err.Error()))
			}
		}

		select {
		case <-ctx.Done():
			return printTraffic(svc.TrafficRecords(), svc.TrafficStatus())
		case <-deadline:
			return printTraffic(svc.TrafficRecords(), svc.TrafficStatus())
		case <-ticker.C:
		}
	}
}

// runTrafficElevated reruns this command with elevated privilege and
// prints what the elevated copy printed. denied is the original error.
func runTrafficElevated(ctx context.Context, denied error) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("%w (cannot locate executable: %v)", denied, err)
	}
	args := []string{"traffic", "--duration", trafficDuration.String()}
	if cfgFile != "" {
		path, err := filepath.Abs(cfgFile)
		if err != nil {
			path = cfgFile
		}
		args = append(args, "--config", path)
	}

	fmt.Println(labelStyle.Render("Connection table needs elevated privileges, requesting..."))
	out, err := runner.New().RunElevatedOutput(ctx, runner.ShellLine(runtime.GOOS, runner.Cmd(exe, args...)))
	if errors.Is(err, runner.ErrElevationCancelled) {
		return fmt.Errorf("%w: %v", denied, err)
	}
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func printTraffic(records []model.TrafficRecord, st model.TrafficStatus) error {
	fmt.Println(titleStyle.Render(fmt.Sprintf("Traffic (%d remote IPs)", len(records))))
	printField("Quality:", string(st.Quality))
	if st.CounterSource != "" {
		printField("Counters:", st.CounterSource)
	}
	if len(records) == 0 {
		fmt.Println(warnStyle.Render("No established connections seen"))
		return nil
	}
	fmt.Println(trafficTable(records))
	if st.Quality == model.QualityEstimated {
		fmt.Println(labelStyle.Render("est: interface totals split evenly across active remote IPs"))
	}
	return nil
}
