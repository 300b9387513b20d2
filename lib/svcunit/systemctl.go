// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

package svcunit

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// State is the service manager's view of the workload.
//
// Forward transitions are driven here: Register moves Unregistered →
// Registered, Enable → Enabled, Start → Running. A crash moves Running
// → Failed, which is reported via CurrentState but is not terminal —
// the restart policy brings the service back. Teardown drives any
// state back to Unregistered.
type State string

const (
	StateUnregistered State = "unregistered"
	StateRegistered   State = "registered"
	StateEnabled      State = "enabled"
	StateRunning      State = "running"
	StateFailed       State = "failed"
)

// Overridable for tests.
var (
	runSystemctl    = defaultRunSystemctl
	systemctlOutput = defaultSystemctlOutput
)

func defaultRunSystemctl(ctx context.Context, args ...string) error {
	command := exec.CommandContext(ctx, "systemctl", args...)
	output, err := command.CombinedOutput()
	if err != nil {
		return fmt.Errorf("systemctl %s: %w: %s", strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}

func defaultSystemctlOutput(ctx context.Context, args ...string) string {
	output, _ := exec.CommandContext(ctx, "systemctl", args...).Output()
	return strings.TrimSpace(string(output))
}

// Register writes the unit description unconditionally and reloads the
// service-manager definitions. An existing unit file is overwritten in
// full; there is no diffing.
func Register(ctx context.Context, logger *slog.Logger, descriptor Descriptor) error {
	content, err := descriptor.Render()
	if err != nil {
		return err
	}
	if err := os.WriteFile(UnitPath, []byte(content), 0o644); err != nil {
		return fmt.Errorf("writing unit description: %w", err)
	}
	if err := runSystemctl(ctx, "daemon-reload"); err != nil {
		return fmt.Errorf("reloading service definitions: %w", err)
	}
	logger.Info("service registered", "unit", UnitName, "path", UnitPath)
	return nil
}

// Enable marks the unit for start at boot.
func Enable(ctx context.Context) error {
	return runSystemctl(ctx, "enable", UnitName)
}

// Start starts (or restarts, when already running) the workload. It
// returns as soon as the service manager accepts the transition; the
// verifier checks whether the Running state was actually reached.
func Start(ctx context.Context) error {
	return runSystemctl(ctx, "restart", UnitName)
}

// Stop stops the workload. A unit that is not running is not an error.
func Stop(ctx context.Context) error {
	return runSystemctl(ctx, "stop", UnitName)
}

// Disable removes the boot-time start marker.
func Disable(ctx context.Context) error {
	return runSystemctl(ctx, "disable", UnitName)
}

// CurrentState queries the service manager for the workload's state.
func CurrentState(ctx context.Context) State {
	if _, err := os.Stat(UnitPath); err != nil {
		return StateUnregistered
	}

	switch systemctlOutput(ctx, "is-active", UnitName) {
	case "active", "activating":
		return StateRunning
	case "failed":
		return StateFailed
	}

	if systemctlOutput(ctx, "is-enabled", UnitName) == "enabled" {
		return StateEnabled
	}
	return StateRegistered
}
