package probe

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// GPUReading is the hottest GPU on the host.
type GPUReading struct {
	TemperatureC   float64 `json:"temperature_c"`
	UtilizationPct float64 `json:"utilization_pct"`
	Count          int     `json:"count"`
}

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// GPU queries nvidia-smi.
type GPU struct {
	Binary string
	Run    Runner
}

func NewGPU() *GPU {
	return &GPU{Binary: "nvidia-smi", Run: execRunner}
}

var errNoGPU = errors.New("gpu: no devices reported")

func (g *GPU) Read(ctx context.Context) (GPUReading, error) {
	out, err := g.Run(ctx, g.Binary,
		"--query-gpu=temperature.gpu,utilization.gpu",
		"--format=csv,noheader,nounits",
	)
	if err != nil {
		return GPUReading{}, fmt.Errorf("gpu: %w", err)
	}
	return parseNvidiaSMI(string(out))
}

// parseNvidiaSMI reads "temp, util" lines, one per device.
func parseNvidiaSMI(out string) (GPUReading, error) {
	var r GPUReading
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, ",")
		if len(parts) < 2 {
			return GPUReading{}, fmt.Errorf("gpu: unexpected line %q", line)
		}
		temp, err1 := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
		util, err2 := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err1 != nil || err2 != nil {
			return GPUReading{}, fmt.Errorf("gpu: unparsable line %q", line)
		}
		if r.Count == 0 || temp > r.TemperatureC {
			r.TemperatureC = temp
		}
		r.UtilizationPct = max(r.UtilizationPct, util)
		r.Count++
	}
	if r.Count == 0 {
		return GPUReading{}, errNoGPU
	}
	return r, nil
}
