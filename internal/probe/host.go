package probe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// Host reads CPU, memory and disk usage through gopsutil.
type Host struct {
	DiskPath string
}

func NewHost(diskPath string) *Host {
	if strings.TrimSpace(diskPath) == "" {
		diskPath = "/"
	}
	return &Host{DiskPath: diskPath}
}

func clampPercent(v float64) float64 {
	return min(max(v, 0), 100)
}

func (h *Host) MemoryPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return clampPercent(vm.UsedPercent), nil
}

func (h *Host) DiskPercent(ctx context.Context) (float64, error) {
	u, err := disk.UsageWithContext(ctx, h.DiskPath)
	if err != nil {
		return 0, err
	}
	return clampPercent(u.UsedPercent), nil
}

// CPUPercent samples total CPU usage over a short window.
func (h *Host) CPUPercent(ctx context.Context) (float64, error) {
	ps, err := cpu.PercentWithContext(ctx, 200*time.Millisecond, false)
	if err != nil {
		return 0, err
	}
	if len(ps) == 0 {
		return 0, errors.New("cpu: no samples")
	}
	return clampPercent(ps[0]), nil
}

// LoadAndUptime is best-effort; zero values mean unavailable.
func (h *Host) LoadAndUptime(ctx context.Context) (float64, time.Duration) {
	var load1 float64
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		load1 = avg.Load1
	}
	var up time.Duration
	if secs, err := host.UptimeWithContext(ctx); err == nil {
		up = time.Duration(secs) * time.Second
	}
	return load1, up
}
