package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/user/lanscope/internal/engine"
	"github.com/user/lanscope/internal/model"
)

// StatusFileName is the status snapshot written by the daemon.
const StatusFileName = "status.json"

// CheckRunning checks if the daemon is already running.
func CheckRunning(dataDir string) (bool, int) {
	data, err := os.ReadFile(filepath.Join(dataDir, PIDFileName))
	if err != nil {
		return false, 0
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return false, 0
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false, 0
	}

	// Signal 0 checks for existence without delivering anything
	if err := process.Signal(syscall.Signal(0)); err != nil {
		return false, 0
	}

	return true, pid
}

// SendStop sends a stop signal to the running daemon.
func SendStop(dataDir string) error {
	running, pid := CheckRunning(dataDir)
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send signal: %w", err)
	}

	return nil
}

// StatusFile holds serialized daemon status.
type StatusFile struct {
	Running     bool                `json:"running"`
	PID         int                 `json:"pid"`
	StartTime   string              `json:"start_time"`
	Uptime      string              `json:"uptime"`
	APIAddr     string              `json:"api_addr"`
	Devices     int                 `json:"devices"`
	LastScan    string              `json:"last_scan,omitempty"`
	Traffic     model.TrafficStatus `json:"traffic"`
	TrafficRows int                 `json:"traffic_rows"`
	LastSpeed   *model.SpeedResult  `json:"last_speed,omitempty"`
	Jobs        []JobStatus         `json:"jobs"`
}

// WriteStatusFile writes the daemon and engine status to the data dir.
func WriteStatusFile(dataDir string, status *DaemonStatus, svc *engine.Service) error {
	sf := StatusFile{
		Running:   status.Running,
		PID:       status.PID,
		StartTime: status.StartTime.Format("2006-01-02 15:04:05"),
		Uptime:    status.Uptime.Round(time.Second).String(),
		APIAddr:   status.APIAddr,
		Jobs:      status.Jobs,
	}
	if svc != nil {
		sf.Devices = len(svc.Devices())
		if scan := svc.LastScan(); !scan.IsZero() {
			sf.LastScan = scan.Format("2006-01-02 15:04:05")
		}
		sf.Traffic = svc.TrafficStatus()
		sf.TrafficRows = len(svc.TrafficRecords())
		sf.LastSpeed = svc.LastSpeedResult()
	}

	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dataDir, StatusFileName), data, 0644)
}

// ReadStatusFile reads the daemon status from a file.
func ReadStatusFile(dataDir string) (*StatusFile, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, StatusFileName))
	if err != nil {
		return nil, err
	}

	var sf StatusFile
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, err
	}

	return &sf, nil
}
