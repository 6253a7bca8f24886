package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/user/lanscope/internal/daemon"
	"github.com/user/lanscope/internal/util"
)

var (
	foreground bool
	apiPort    int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the lanscope daemon",
	Long: `Start the lanscope daemon in the background. It rescans the subnet
periodically, keeps the traffic table current and serves the local API
on 127.0.0.1.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false,
		"Run in foreground instead of daemonizing")
	startCmd.Flags().IntVar(&apiPort, "api-port", 0,
		"Port for the local API (default from config)")
}

func runStart(cmd *cobra.Command, args []string) error {
	running, pid := daemon.CheckRunning(cfg.DataDir)
	if running {
		fmt.Printf("Daemon is already running (PID %d)\n", pid)
		return nil
	}

	if apiPort > 0 {
		cfg.API.Port = apiPort
	}

	if foreground {
		return runForeground()
	}
	return runDaemon()
}

func runForeground() error {
	fmt.Println("Starting lanscope in foreground mode...")

	d, err := daemon.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	fmt.Printf("lanscope daemon started. API on http://%s. Press Ctrl+C to stop.\n", d.GetStatus().APIAddr)

	d.Wait()
	return d.Stop()
}

func runDaemon() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	args := []string{"start", "--foreground", "--api-port", strconv.Itoa(cfg.API.Port)}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}

	if err := util.EnsureDir(cfg.DataDir); err != nil {
		return err
	}
	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	procAttr := &os.ProcAttr{
		Dir:   cfg.DataDir,
		Env:   os.Environ(),
		Files: []*os.File{nil, logFile, logFile},
		Sys:   detachedAttr(),
	}

	proc, err := os.StartProcess(executable, append([]string{executable}, args...), procAttr)
	if err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}

	if err := proc.Release(); err != nil {
		util.Warn("Failed to release process: %v", err)
	}

	fmt.Printf("lanscope daemon started (PID %d)\n", proc.Pid)
	fmt.Printf("API: http://127.0.0.1:%d\n", cfg.API.Port)
	fmt.Printf("Logs: %s\n", cfg.LogFile)
	return nil
}
