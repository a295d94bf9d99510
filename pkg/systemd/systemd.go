// Package systemd reads unit state through the systemctl CLI. It is the
// fallback when the D-Bus connection used by systemdmanager is unavailable
// (containers, restricted sockets).
package systemd

import (
	"context"
	"os/exec"
	"strings"

	"serverpal/pkg/systemdmanager"
)

// CLI implements the same State call as systemdmanager.Manager.
type CLI struct {
	// Run executes systemctl; tests replace it.
	Run func(ctx context.Context, args ...string) ([]byte, error)
}

func NewCLI() *CLI {
	return &CLI{Run: func(ctx context.Context, args ...string) ([]byte, error) {
		return exec.CommandContext(ctx, "systemctl", args...).Output()
	}}
}

func (c *CLI) State(ctx context.Context, name string) (systemdmanager.UnitState, error) {
	// systemctl show exits 0 for unknown units and reports LoadState=not-found.
	out, err := c.Run(ctx, "show", "--no-pager", "-p", "ActiveState,SubState,LoadState,Description", name)
	if err != nil {
		return systemdmanager.UnitState{}, err
	}
	return parseShow(name, string(out)), nil
}

func parseShow(name, out string) systemdmanager.UnitState {
	st := systemdmanager.UnitState{Name: name}
	for _, line := range strings.Split(out, "\n") {
		k, v, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch k {
		case "ActiveState":
			st.Active = v
		case "SubState":
			st.SubState = v
		case "LoadState":
			st.LoadState = v
		case "Description":
			st.Description = v
		}
	}
	if st.LoadState == "not-found" {
		st.Active = "unknown"
	}
	return st
}
