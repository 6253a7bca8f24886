// Package model defines core data structures for lanscope.
package model

import "time"

// Device types as reported by the ARP table.
const (
	DeviceDynamic = "dynamic"
	DeviceStatic  = "static"
	DeviceUnknown = "unknown"
)

// Device represents a host discovered on the local segment.
// IP is the identity key.
type Device struct {
	IP       string    `json:"ip"`
	MAC      string    `json:"mac"`
	Type     string    `json:"type"`
	Hostname string    `json:"hostname"`
	Vendor   string    `json:"vendor"`
	LastSeen time.Time `json:"last_seen"`
}

// LocalInterface represents a non-internal IPv4 interface of this host.
type LocalInterface struct {
	Name    string `json:"name"`
	IP      string `json:"ip"`
	MAC     string `json:"mac"`
	Netmask string `json:"netmask"`
}

// PublicInfo holds the public IP address and its geolocation.
type PublicInfo struct {
	IP       string `json:"ip"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Org      string `json:"org"`
	Timezone string `json:"timezone"`
}

// UnknownIP is reported when no public IP source answered.
const UnknownIP = "Unknown"

// SystemInfo holds point-in-time host statistics.
type SystemInfo struct {
	Hostname         string `json:"hostname"`
	Platform         string `json:"platform"`
	Arch             string `json:"arch"`
	UptimeSeconds    uint64 `json:"uptime_seconds"`
	TotalMemoryBytes uint64 `json:"total_memory_bytes"`
	FreeMemoryBytes  uint64 `json:"free_memory_bytes"`
	CPUModel         string `json:"cpu_model"`
	CPUCores         int    `json:"cpu_cores"`
}

// NetworkInfo is one composed snapshot of the host's network situation.
type NetworkInfo struct {
	Public      PublicInfo       `json:"public"`
	Interfaces  []LocalInterface `json:"interfaces"`
	System      SystemInfo       `json:"system"`
	Devices     []Device         `json:"devices"`
	CollectedAt time.Time        `json:"collected_at"`
}

// SpeedResult is the outcome of one completed speed test run.
type SpeedResult struct {
	RunID        string    `json:"run_id"`
	PingMs       float64   `json:"ping_ms"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	Timestamp    time.Time `json:"timestamp"`
}

// SpeedPhase is a state of the speed test state machine.
type SpeedPhase string

const (
	PhaseIdle     SpeedPhase = "idle"
	PhasePing     SpeedPhase = "ping"
	PhaseDownload SpeedPhase = "download"
	PhaseUpload   SpeedPhase = "upload"
	PhaseDone     SpeedPhase = "done"
	PhaseError    SpeedPhase = "error"
)

// SpeedEvent is emitted on every phase change and, with Sample set,
// for every live throughput sample during download and upload.
type SpeedEvent struct {
	RunID  string     `json:"run_id"`
	Phase  SpeedPhase `json:"phase"`
	Mbps   float64    `json:"mbps,omitempty"`
	Sample bool       `json:"sample"`
}

// DataQuality tags how a traffic record's numbers were obtained.
type DataQuality string

const (
	// QualityEstimated means aggregate interface deltas were split
	// evenly across active remote IPs. It does not reflect the true
	// per-IP distribution.
	QualityEstimated DataQuality = "estimated"
	// QualityConnectionOnly means the IP was seen but no byte
	// attribution source was available; speed fields are zero.
	QualityConnectionOnly DataQuality = "connection_only"
	// QualityUnavailable means the platform denied access to the data.
	QualityUnavailable DataQuality = "unavailable"
)

// TrafficRecord is the best-effort traffic estimate for one remote IP.
type TrafficRecord struct {
	IP                 string      `json:"ip"`
	DownloadSpeedBps   float64     `json:"download_speed_bps"`
	UploadSpeedBps     float64     `json:"upload_speed_bps"`
	TotalDownloadBytes uint64      `json:"total_download_bytes"`
	TotalUploadBytes   uint64      `json:"total_upload_bytes"`
	LastSeenEpochMs    int64       `json:"last_seen_epoch_ms"`
	DataQuality        DataQuality `json:"data_quality"`
	Process            string      `json:"process,omitempty"`
	PID                int         `json:"pid,omitempty"`
}

// Idle reports whether the record currently shows no traffic.
func (r TrafficRecord) Idle() bool {
	return r.DownloadSpeedBps == 0 && r.UploadSpeedBps == 0
}

// TrafficStatus describes the most recent estimator tick.
type TrafficStatus struct {
	Running                   bool        `json:"running"`
	LastTick                  time.Time   `json:"last_tick"`
	Quality                   DataQuality `json:"quality"`
	CounterSource             string      `json:"counter_source,omitempty"`
	Error                     string      `json:"error,omitempty"`
	RequiresElevatedPrivilege bool        `json:"requires_elevated_privilege"`
}
