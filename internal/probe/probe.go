// Package probe reads host, GPU and service metrics. Every read is fallible
// and a failed read is reported as an unknown Reading, never as zero.
package probe

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"serverpal/internal/issue"
	"serverpal/internal/metrics"
	logx "serverpal/pkg/logx"
)

// Reading is a probe result; OK=false is the "no signal" sentinel.
type Reading = issue.Reading

// Source is what the alerter and the context builders consume.
type Source interface {
	GPUTemperature(ctx context.Context) Reading
	DiskPercent(ctx context.Context) Reading
	MemoryPercent(ctx context.Context) Reading
	// ServiceDown returns 1 when the unit is not active, 0 when it is, and
	// unknown when systemd cannot be asked or does not know the unit.
	ServiceDown(ctx context.Context, name string) Reading
	Snapshot(ctx context.Context) Snapshot
}

// Snapshot is a point-in-time view used in status replies and LLM context.
type Snapshot struct {
	At       time.Time         `json:"at"`
	CPU      Reading           `json:"cpu_percent"`
	Memory   Reading           `json:"memory_percent"`
	Disk     Reading           `json:"disk_percent"`
	GPUTemp  Reading           `json:"gpu_temp_c"`
	GPUUtil  Reading           `json:"gpu_util_percent"`
	Load1    float64           `json:"load1"`
	Uptime   time.Duration     `json:"uptime"`
	Services map[string]string `json:"services,omitempty"`
}

// String renders the snapshot as short "key: value" lines.
func (s Snapshot) String() string {
	var b strings.Builder
	line := func(label string, r Reading, unit string) {
		if r.OK {
			fmt.Fprintf(&b, "%s: %.0f%s\n", label, r.Value, unit)
		} else {
			fmt.Fprintf(&b, "%s: unknown\n", label)
		}
	}
	line("CPU", s.CPU, "%")
	line("Memory", s.Memory, "%")
	line("Disk", s.Disk, "%")
	line("GPU temperature", s.GPUTemp, "°C")
	line("GPU utilization", s.GPUUtil, "%")
	if s.Uptime > 0 {
		fmt.Fprintf(&b, "Uptime: %s\n", s.Uptime.Truncate(time.Minute))
	}
	if len(s.Services) > 0 {
		names := make([]string, 0, len(s.Services))
		for n := range s.Services {
			names = append(names, n)
		}
		sort.Strings(names)
		for _, n := range names {
			fmt.Fprintf(&b, "Service %s: %s\n", n, s.Services[n])
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// Probe combines the host, GPU and service readers.
type Probe struct {
	Host     *Host
	GPU      *GPU
	Services *Services

	// Watched lists services included in snapshots.
	Watched []string

	log logx.Logger
	now func() time.Time
}

func New(host *Host, gpu *GPU, services *Services, watched []string, log logx.Logger) *Probe {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Probe{
		Host:     host,
		GPU:      gpu,
		Services: services,
		Watched:  append([]string(nil), watched...),
		log:      log.With(logx.String("comp", "probe")),
		now:      time.Now,
	}
}

func (p *Probe) fail(name string, err error) Reading {
	metrics.ProbeFailures.WithLabelValues(name).Inc()
	p.log.Debug("probe read failed", logx.String("probe", name), logx.Err(err))
	return issue.Unknown()
}

func (p *Probe) GPUTemperature(ctx context.Context) Reading {
	if p.GPU == nil {
		return issue.Unknown()
	}
	g, err := p.GPU.Read(ctx)
	if err != nil {
		return p.fail("gpu", err)
	}
	return issue.Value(g.TemperatureC)
}

func (p *Probe) DiskPercent(ctx context.Context) Reading {
	if p.Host == nil {
		return issue.Unknown()
	}
	v, err := p.Host.DiskPercent(ctx)
	if err != nil {
		return p.fail("disk", err)
	}
	return issue.Value(v)
}

func (p *Probe) MemoryPercent(ctx context.Context) Reading {
	if p.Host == nil {
		return issue.Unknown()
	}
	v, err := p.Host.MemoryPercent(ctx)
	if err != nil {
		return p.fail("memory", err)
	}
	return issue.Value(v)
}

func (p *Probe) ServiceDown(ctx context.Context, name string) Reading {
	if p.Services == nil {
		return issue.Unknown()
	}
	st, err := p.Services.State(ctx, name)
	if err != nil {
		return p.fail("service", err)
	}
	if !st.Found() {
		return issue.Unknown()
	}
	if st.Running() {
		return issue.Value(0)
	}
	return issue.Value(1)
}

func (p *Probe) Snapshot(ctx context.Context) Snapshot {
	s := Snapshot{
		At:      p.now(),
		Memory:  p.MemoryPercent(ctx),
		Disk:    p.DiskPercent(ctx),
		CPU:     issue.Unknown(),
		GPUTemp: issue.Unknown(),
		GPUUtil: issue.Unknown(),
	}
	if p.Host != nil {
		if v, err := p.Host.CPUPercent(ctx); err == nil {
			s.CPU = issue.Value(v)
		}
		s.Load1, s.Uptime = p.Host.LoadAndUptime(ctx)
	}
	if p.GPU != nil {
		if g, err := p.GPU.Read(ctx); err == nil {
			s.GPUTemp = issue.Value(g.TemperatureC)
			s.GPUUtil = issue.Value(g.UtilizationPct)
		}
	}
	if p.Services != nil && len(p.Watched) > 0 {
		s.Services = make(map[string]string, len(p.Watched))
		for _, name := range p.Watched {
			st, err := p.Services.State(ctx, name)
			switch {
			case err != nil:
				s.Services[name] = "unknown"
			case !st.Found():
				s.Services[name] = "not-found"
			default:
				s.Services[name] = st.Active
			}
		}
	}
	return s
}
