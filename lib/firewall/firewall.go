// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package firewall opens the workload's auxiliary ports when a
// firewall manager is present. Devices without one skip this entirely;
// the fleet network is assumed closed at the perimeter.
package firewall

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"

	"github.com/sensorgrid/sensorgrid/lib/pipeline"
)

// Ports opened for the workload's auxiliary surfaces.
const (
	// ModbusPort is the Modbus-style TCP port.
	ModbusPort = 502

	// DebugConsolePort is the interactive debug console.
	DebugConsolePort = 8081
)

// Overridable for tests.
var (
	runCommand = defaultRunCommand
	lookPath   = exec.LookPath
)

func defaultRunCommand(ctx context.Context, name string, args ...string) error {
	command := exec.CommandContext(ctx, name, args...)
	output, err := command.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}

// OpenPorts allows the auxiliary ports through ufw. Absence of a
// firewall manager is a clean skip; a rule that cannot be applied is a
// warning, since the workload itself does not depend on these ports.
func OpenPorts(ctx context.Context, logger *slog.Logger) error {
	if _, err := lookPath("ufw"); err != nil {
		logger.Info("no firewall manager present, skipping port rules")
		return nil
	}

	var problems []string
	for _, port := range []int{ModbusPort, DebugConsolePort} {
		rule := fmt.Sprintf("%d/tcp", port)
		if err := runCommand(ctx, "ufw", "allow", rule); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", rule, err))
			continue
		}
		logger.Info("firewall rule applied", "rule", rule)
	}
	if len(problems) > 0 {
		return pipeline.Recoverable("some firewall rules not applied: %s", strings.Join(problems, "; "))
	}
	return nil
}
