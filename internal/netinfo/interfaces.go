package netinfo

import (
	"net"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/util"
)

// LocalInterfaces lists up, non-loopback interfaces with an IPv4 address.
// An interface with several IPv4 addresses yields one entry per address.
func LocalInterfaces() []model.LocalInterface {
	ifaces, err := net.Interfaces()
	if err != nil {
		util.Warn("Failed to list interfaces: %v", err)
		return nil
	}

	var out []model.LocalInterface
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		out = append(out, ipv4Entries(iface.Name, iface.HardwareAddr.String(), addrs)...)
	}
	return out
}

func ipv4Entries(name, mac string, addrs []net.Addr) []model.LocalInterface {
	var out []model.LocalInterface
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipNet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() {
			continue
		}
		mask := ipNet.Mask
		if len(mask) == net.IPv6len {
			mask = mask[12:]
		}
		out = append(out, model.LocalInterface{
			Name:    name,
			IP:      ip.String(),
			MAC:     mac,
			Netmask: net.IP(mask).String(),
		})
	}
	return out
}
