// Package report renders a Markdown snapshot of the local network.
package report

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/util"
)

// Source is what the generator reads a snapshot from.
type Source interface {
	NetworkInfo(ctx context.Context) (*model.NetworkInfo, error)
	TrafficRecords() []model.TrafficRecord
	TrafficStatus() model.TrafficStatus
	LastSpeedResult() *model.SpeedResult
}

// Generator creates network snapshot reports.
type Generator struct {
	src Source
	now func() time.Time
}

// NewGenerator creates a new report generator.
func NewGenerator(src Source) *Generator {
	return &Generator{src: src, now: time.Now}
}

// ReportData holds all data for a report.
type ReportData struct {
	GeneratedAt   time.Time
	Network       *model.NetworkInfo
	Traffic       []model.TrafficRecord
	TrafficStatus model.TrafficStatus
	Speed         *model.SpeedResult
}

// Generate collects a fresh network snapshot plus the current traffic
// table and last speed test.
func (g *Generator) Generate(ctx context.Context) (*ReportData, error) {
	info, err := g.src.NetworkInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to collect network info: %w", err)
	}
	return &ReportData{
		GeneratedAt:   g.now(),
		Network:       info,
		Traffic:       g.src.TrafficRecords(),
		TrafficStatus: g.src.TrafficStatus(),
		Speed:         g.src.LastSpeedResult(),
	}, nil
}

// FormatMarkdown renders data as a Markdown document.
func FormatMarkdown(data *ReportData) string {
	var sb strings.Builder

	sb.WriteString("# lanscope Network Report\n\n")
	fmt.Fprintf(&sb, "Generated: %s\n\n", data.GeneratedAt.Format("2006-01-02 15:04:05 MST"))

	info := data.Network
	pub := info.Public
	sb.WriteString("## Public Address\n\n")
	sb.WriteString("| Field | Value |\n|---|---|\n")
	fmt.Fprintf(&sb, "| IP | %s |\n", cell(pub.IP))
	fmt.Fprintf(&sb, "| City | %s |\n", cell(pub.City))
	fmt.Fprintf(&sb, "| Region | %s |\n", cell(pub.Region))
	fmt.Fprintf(&sb, "| Country | %s |\n", cell(pub.Country))
	fmt.Fprintf(&sb, "| Organization | %s |\n", cell(pub.Org))
	fmt.Fprintf(&sb, "| Timezone | %s |\n\n", cell(pub.Timezone))

	sys := info.System
	sb.WriteString("## Host\n\n")
	fmt.Fprintf(&sb, "- Hostname: %s\n", cell(sys.Hostname))
	fmt.Fprintf(&sb, "- Platform: %s/%s\n", cell(sys.Platform), cell(sys.Arch))
	fmt.Fprintf(&sb, "- CPU: %s (%d cores)\n", cell(sys.CPUModel), sys.CPUCores)
	fmt.Fprintf(&sb, "- Memory: %s free of %s\n", util.FormatBytes(sys.FreeMemoryBytes), util.FormatBytes(sys.TotalMemoryBytes))
	fmt.Fprintf(&sb, "- Uptime: %s\n\n", (time.Duration(sys.UptimeSeconds) * time.Second).String())

	sb.WriteString("## Interfaces\n\n")
	if len(info.Interfaces) == 0 {
		sb.WriteString("_No IPv4 interfaces._\n\n")
	} else {
		sb.WriteString("| Name | IP | Netmask | MAC |\n|---|---|---|---|\n")
		for _, i := range info.Interfaces {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s |\n", cell(i.Name), cell(i.IP), cell(i.Netmask), cell(i.MAC))
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "## Devices (%d)\n\n", len(info.Devices))
	if len(info.Devices) == 0 {
		sb.WriteString("_No devices discovered._\n\n")
	} else {
		sb.WriteString("| IP | MAC | Hostname | Vendor | Type |\n|---|---|---|---|---|\n")
		for _, d := range info.Devices {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s |\n",
				cell(d.IP), cell(d.MAC), cell(d.Hostname), cell(d.Vendor), cell(d.Type))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## LAN Diagram\n\n")
	sb.WriteString(GenerateLANDiagram(info))
	sb.WriteString("\n")

	sb.WriteString("## Traffic\n\n")
	st := data.TrafficStatus
	fmt.Fprintf(&sb, "Data quality: **%s**", cell(string(st.Quality)))
	if st.CounterSource != "" {
		fmt.Fprintf(&sb, " (counters from %s)", st.CounterSource)
	}
	sb.WriteString("\n\n")
	if st.Error != "" {
		fmt.Fprintf(&sb, "> %s\n\n", st.Error)
	}
	if st.Quality == model.QualityEstimated {
		sb.WriteString("> Per-IP figures split interface totals evenly across active connections and are estimates.\n\n")
	}
	if len(data.Traffic) == 0 {
		sb.WriteString("_No connections observed._\n\n")
	} else {
		sb.WriteString("| Remote IP | Down | Up | Total Down | Total Up | Quality | Process |\n|---|---|---|---|---|---|---|\n")
		for _, r := range data.Traffic {
			fmt.Fprintf(&sb, "| %s | %s | %s | %s | %s | %s | %s |\n",
				cell(r.IP),
				util.FormatRate(r.DownloadSpeedBps),
				util.FormatRate(r.UploadSpeedBps),
				util.FormatBytes(r.TotalDownloadBytes),
				util.FormatBytes(r.TotalUploadBytes),
				r.DataQuality,
				cell(r.Process),
			)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Speed Test\n\n")
	if data.Speed == nil {
		sb.WriteString("_No speed test run yet._\n")
	} else {
		s := data.Speed
		fmt.Fprintf(&sb, "- Ping: %.1f ms\n", s.PingMs)
		fmt.Fprintf(&sb, "- Download: %.2f Mbps\n", s.DownloadMbps)
		fmt.Fprintf(&sb, "- Upload: %.2f Mbps\n", s.UploadMbps)
		fmt.Fprintf(&sb, "- Run: %s at %s\n", s.RunID, s.Timestamp.Format("2006-01-02 15:04:05"))
	}

	return sb.String()
}

// WriteMarkdownFile writes the report into dir under a timestamped name
// and returns the path.
func WriteMarkdownFile(data *ReportData, dir string) (string, error) {
	if err := util.EnsureDir(dir); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}
	name := fmt.Sprintf("lanscope-report-%s.md", data.GeneratedAt.Format("20060102-150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(FormatMarkdown(data)), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// cell makes s safe inside a Markdown table cell.
func cell(s string) string {
	if s == "" {
		return "-"
	}
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}
