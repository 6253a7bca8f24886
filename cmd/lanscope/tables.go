package main

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/tui"
	"github.com/user/lanscope/internal/util"
)

var headerCell = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("99")).Padding(0, 1)

var bodyCell = lipgloss.NewStyle().Padding(0, 1)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("241"))).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerCell
			}
			return bodyCell
		}).
		Headers(headers...)
}

func deviceTable(devices []model.Device) string {
	t := newTable("IP", "MAC", "Hostname", "Vendor", "Type")
	for _, d := range devices {
		t.Row(d.IP, orDash(d.MAC), orDash(d.Hostname), orDash(d.Vendor), d.Type)
	}
	return t.String()
}

func trafficTable(records []model.TrafficRecord) string {
	t := newTable("Remote IP", "Down", "Up", "Total Down", "Total Up", "Q", "Process")
	for _, r := range records {
		t.Row(
			r.IP,
			util.FormatRate(r.DownloadSpeedBps),
			util.FormatRate(r.UploadSpeedBps),
			util.FormatBytes(r.TotalDownloadBytes),
			util.FormatBytes(r.TotalUploadBytes),
			tui.QualityTag(r.DataQuality),
			orDash(r.Process),
		)
	}
	return t.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func joinNonEmpty(parts ...string) string {
	var kept []string
	for _, p := range parts {
		if p != "" {
			kept = append(kept, p)
		}
	}
	return orDash(strings.Join(kept, ", "))
}
