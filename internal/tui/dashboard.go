package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/lipgloss"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/util"
)

var trafficColumns = []table.Column{
	{Title: "Remote IP", Width: 40},
	{Title: "Down", Width: 12},
	{Title: "Up", Width: 12},
	{Title: "Total Down", Width: 11},
	{Title: "Total Up", Width: 11},
	{Title: "Q", Width: 4},
	{Title: "Process", Width: 16},
}

var deviceColumns = []table.Column{
	{Title: "IP", Width: 16},
	{Title: "MAC", Width: 17},
	{Title: "Hostname", Width: 24},
	{Title: "Vendor", Width: 24},
	{Title: "Type", Width: 8},
}

func trafficRows(records []model.TrafficRecord) []table.Row {
	rows := make([]table.Row, 0, len(records))
	for _, r := range records {
		process := r.Process
		if process == "" {
			process = "-"
		}
		rows = append(rows, table.Row{
			r.IP,
			util.FormatRate(r.DownloadSpeedBps),
			util.FormatRate(r.UploadSpeedBps),
			util.FormatBytes(r.TotalDownloadBytes),
			util.FormatBytes(r.TotalUploadBytes),
			QualityTag(r.DataQuality),
			process,
		})
	}
	return rows
}

func deviceRows(devices []model.Device) []table.Row {
	rows := make([]table.Row, 0, len(devices))
	for _, d := range devices {
		rows = append(rows, table.Row{
			d.IP,
			orDash(d.MAC),
			orDash(d.Hostname),
			orDash(d.Vendor),
			d.Type,
		})
	}
	return rows
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// View renders the UI.
func (m appModel) View() string {
	if m.info == nil && m.loading {
		return LoadingStyle.Render(m.spinner.View() + " Scanning network...")
	}

	width := m.width - 2
	if width < 60 {
		width = 60
	}

	var sb strings.Builder
	sb.WriteString(HeaderStyle.Width(width).Render("lanscope"))
	sb.WriteString("\n")

	top := lipgloss.JoinHorizontal(lipgloss.Top,
		SectionStyle.Width(width/2-1).Render(m.renderNetwork()),
		SectionStyle.Width(width-width/2-1).Render(m.renderSpeed()),
	)
	sb.WriteString(top)
	sb.WriteString("\n")

	trafficStyle, deviceStyle := FocusedSectionStyle, SectionStyle
	if m.focus == focusDevices {
		trafficStyle, deviceStyle = SectionStyle, FocusedSectionStyle
	}
	sb.WriteString(trafficStyle.Width(width).Render(m.renderTraffic()))
	sb.WriteString("\n")
	sb.WriteString(deviceStyle.Width(width).Render(m.renderDevices()))
	sb.WriteString("\n")

	sb.WriteString(HelpStyle.Render("s speed test • r refresh • tab switch table • q quit"))
	return sb.String()
}

func (m appModel) renderNetwork() string {
	title := SectionTitleStyle.Render("Network")
	if m.loading {
		title += " " + m.spinner.View()
	}
	if m.infoErr != nil {
		return title + "\n" + ErrorStyle.Render(m.infoErr.Error())
	}
	if m.info == nil {
		return title + "\n" + DimStyle.Render("no data")
	}

	pub := m.info.Public
	location := strings.Trim(strings.Join([]string{pub.City, pub.Country}, ", "), ", ")
	local := "-"
	if len(m.info.Interfaces) > 0 {
		i := m.info.Interfaces[0]
		local = fmt.Sprintf("%s (%s)", i.IP, i.Name)
	}

	lines := []string{
		title,
		LabelStyle.Render("Public IP:") + " " + ValueStyle.Render(pub.IP),
		LabelStyle.Render("Location:") + " " + ValueStyle.Render(orDash(location)),
		LabelStyle.Render("ISP:") + " " + ValueStyle.Render(orDash(pub.Org)),
		LabelStyle.Render("Local:") + " " + ValueStyle.Render(local),
		LabelStyle.Render("Host:") + " " + ValueStyle.Render(m.info.System.Hostname),
	}
	return strings.Join(lines, "\n")
}

func (m appModel) renderSpeed() string {
	title := SectionTitleStyle.Render("Speed Test")
	s := m.speed

	var lines []string
	switch {
	case s.running:
		lines = append(lines,
			title+" "+m.spinner.View(),
			LabelStyle.Render("Phase:")+" "+ValueStyle.Render(string(s.phase)),
		)
		if s.phase == model.PhaseDownload || s.phase == model.PhaseUpload {
			lines = append(lines,
				LabelStyle.Render("Now:")+" "+ValueStyle.Render(fmt.Sprintf("%.2f Mbps", s.mbps)),
				RenderBar(s.mbps, s.peak, 24),
			)
		}
	case s.err != nil:
		lines = append(lines, title, ErrorStyle.Render(s.err.Error()))
	case s.result != nil:
		lines = append(lines,
			title,
			LabelStyle.Render("Ping:")+" "+ValueStyle.Render(fmt.Sprintf("%.1f ms", s.result.PingMs)),
			LabelStyle.Render("Download:")+" "+ValueStyle.Render(fmt.Sprintf("%.2f Mbps", s.result.DownloadMbps)),
			LabelStyle.Render("Upload:")+" "+ValueStyle.Render(fmt.Sprintf("%.2f Mbps", s.result.UploadMbps)),
		)
	default:
		lines = append(lines, title, DimStyle.Render("press s to run"))
	}
	return strings.Join(lines, "\n")
}

func (m appModel) renderTraffic() string {
	st := m.status
	header := fmt.Sprintf("%s  %s  %s",
		SectionTitleStyle.Render("Traffic"),
		RenderStatus(st.Running, "monitoring", "stopped"),
		renderQuality(st.Quality),
	)
	if st.CounterSource != "" {
		header += DimStyle.Render("  via " + st.CounterSource)
	}
	if !m.lastDraw.IsZero() {
		header += DimStyle.Render("  " + m.lastDraw.Format("15:04:05"))
	}

	var notes []string
	if st.Error != "" {
		notes = append(notes, ErrorStyle.Render(st.Error))
		if st.RequiresElevatedPrivilege {
			notes = append(notes, WarningStyle.Render("run with elevated privileges to read the connection table"))
		}
	}
	if st.Quality == model.QualityEstimated {
		notes = append(notes, DimStyle.Render("est: interface totals split evenly across active IPs"))
	}

	body := DimStyle.Render("no connections yet")
	if len(m.records) > 0 {
		body = m.traffic.View()
	}
	return strings.Join(append([]string{header, body}, notes...), "\n")
}

func (m appModel) renderDevices() string {
	if m.info == nil || len(m.info.Devices) == 0 {
		return SectionTitleStyle.Render("Devices") + "\n" + DimStyle.Render("No devices discovered yet")
	}
	title := SectionTitleStyle.Render(fmt.Sprintf("Devices (%d)", len(m.info.Devices)))
	return title + "\n" + m.devices.View()
}
