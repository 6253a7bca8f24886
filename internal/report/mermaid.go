package report

import (
	"fmt"
	"strings"

	"github.com/user/lanscope/internal/model"
)

// GenerateLANDiagram creates a Mermaid flowchart of the segment: the
// internet, the probable gateway, this host and every discovered device.
func GenerateLANDiagram(info *model.NetworkInfo) string {
	var sb strings.Builder

	sb.WriteString("```mermaid\n")
	sb.WriteString("flowchart TD\n")
	fmt.Fprintf(&sb, "    Internet((\"Internet<br/>%s\")):::internet\n", sanitizeForMermaid(info.Public.IP))

	hostLabel := info.System.Hostname
	if len(info.Interfaces) > 0 {
		hostLabel = fmt.Sprintf("%s<br/>%s", hostLabel, info.Interfaces[0].IP)
	}
	fmt.Fprintf(&sb, "    Host[\"%s\"]:::host\n", sanitizeForMermaid(strings.TrimPrefix(hostLabel, "<br/>")))

	gateway := findGateway(info)
	upstream := "Host"
	if gateway != nil {
		gwID := ipToNodeID(gateway.IP)
		fmt.Fprintf(&sb, "    %s[\"%s\"]:::gateway\n", gwID, deviceLabel(*gateway))
		fmt.Fprintf(&sb, "    Internet --- %s\n", gwID)
		fmt.Fprintf(&sb, "    %s --- Host\n", gwID)
		upstream = gwID
	} else {
		sb.WriteString("    Internet --- Host\n")
	}

	for _, d := range info.Devices {
		if gateway != nil && d.IP == gateway.IP {
			continue
		}
		id := ipToNodeID(d.IP)
		fmt.Fprintf(&sb, "    %s[\"%s\"]\n", id, deviceLabel(d))
		fmt.Fprintf(&sb, "    %s --- %s\n", upstream, id)
	}

	sb.WriteString("\n")
	sb.WriteString("    classDef internet fill:#87CEEB\n")
	sb.WriteString("    classDef host fill:#90EE90\n")
	sb.WriteString("    classDef gateway fill:#FFD580\n")
	sb.WriteString("```\n")

	return sb.String()
}

// findGateway guesses the router as the device at .1 of the host's /24.
func findGateway(info *model.NetworkInfo) *model.Device {
	if len(info.Interfaces) == 0 {
		return nil
	}
	ip := info.Interfaces[0].IP
	idx := strings.LastIndex(ip, ".")
	if idx < 0 {
		return nil
	}
	want := ip[:idx] + ".1"
	for i := range info.Devices {
		if info.Devices[i].IP == want {
			return &info.Devices[i]
		}
	}
	return nil
}

func deviceLabel(d model.Device) string {
	parts := []string{d.IP}
	if d.Hostname != "" {
		parts = append(parts, shortenHostname(d.Hostname))
	}
	if d.Vendor != "" {
		parts = append(parts, d.Vendor)
	}
	return sanitizeForMermaid(strings.Join(parts, "<br/>"))
}

func shortenHostname(hostname string) string {
	if len(hostname) > 20 {
		parts := strings.Split(hostname, ".")
		if len(parts) > 2 {
			return parts[0] + "..."
		}
		return hostname[:17] + "..."
	}
	return hostname
}

func ipToNodeID(ip string) string {
	return "D" + strings.NewReplacer(".", "_", ":", "_").Replace(ip)
}

// sanitizeForMermaid strips characters that end a quoted Mermaid label.
func sanitizeForMermaid(s string) string {
	return strings.NewReplacer(`"`, "'", "[", "(", "]", ")").Replace(s)
}
