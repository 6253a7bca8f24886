package netinfo

import (
	"context"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/user/lanscope/internal/model"
	"github.com/user/lanscope/internal/util"
)

// CollectSystem gathers host statistics. Fields that cannot be read stay zero.
func CollectSystem(ctx context.Context) model.SystemInfo {
	info := model.SystemInfo{
		Platform: runtime.GOOS,
		Arch:     runtime.GOARCH,
	}
	info.Hostname, _ = os.Hostname()

	if up, err := host.UptimeWithContext(ctx); err == nil {
		info.UptimeSeconds = up
	} else {
		util.Debug("Uptime unavailable: %v", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.TotalMemoryBytes = vm.Total
		info.FreeMemoryBytes = vm.Available
	} else {
		util.Debug("Memory stats unavailable: %v", err)
	}

	if cpus, err := cpu.InfoWithContext(ctx); err == nil && len(cpus) > 0 {
		info.CPUModel = cpus[0].ModelName
	}
	if n, err := cpu.CountsWithContext(ctx, true); err == nil {
		info.CPUCores = n
	} else {
		info.CPUCores = runtime.NumCPU()
	}

	return info
}
