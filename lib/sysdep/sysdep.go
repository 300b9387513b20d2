// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package sysdep ensures the operating-system dependencies of the
// sensor workload: the package set, the dedicated system identity with
// hardware-bus access, and the hardware-interface kernel features.
// Every function pre-checks the desired state so a re-run is a no-op
// for anything already in place. Package and identity failures are
// fatal; kernel feature toggles degrade to warnings on boards that do
// not support them.
package sysdep

import (
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"os/user"
	"strings"

	"github.com/sensorgrid/sensorgrid/lib/pipeline"
)

// SystemUser is the dedicated identity the workload runs as. Teardown
// removes exactly this identity.
const SystemUser = "sensorgrid"

// hardwareGroups grant the workload access to the GPIO and I2C buses
// and the serial line.
var hardwareGroups = []string{"gpio", "i2c", "dialout"}

// Packages is the fixed set the workload needs: the Python runtime and
// venv tooling, a build toolchain for native sensor bindings, version
// control for artifact deployment, the GPIO userspace library, and TLS
// tooling.
var Packages = []string{
	"python3",
	"python3-venv",
	"python3-pip",
	"build-essential",
	"git",
	"libgpiod2",
	"openssl",
	"ca-certificates",
}

// Overridable for tests.
var (
	runCommand    = defaultRunCommand
	commandOutput = defaultCommandOutput
	lookPath      = exec.LookPath
	lookupUser    = user.Lookup
)

func defaultRunCommand(ctx context.Context, name string, args ...string) error {
	command := exec.CommandContext(ctx, name, args...)
	output, err := command.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}

func defaultCommandOutput(ctx context.Context, name string, args ...string) (string, error) {
	output, err := exec.CommandContext(ctx, name, args...).Output()
	return strings.TrimSpace(string(output)), err
}

// EnsurePackages refreshes the package index and installs any missing
// packages from the fixed set. Already-installed packages are detected
// with dpkg-query and skipped without invoking the package manager.
func EnsurePackages(ctx context.Context, logger *slog.Logger) error {
	missing := missingPackages(ctx)
	if len(missing) == 0 {
		logger.Info("all packages already installed")
		return nil
	}

	logger.Info("installing packages", "packages", missing)
	if err := runCommand(ctx, "apt-get", "update"); err != nil {
		return fmt.Errorf("refreshing package index: %w", err)
	}

	installArgs := append([]string{"install", "-y"}, missing...)
	if err := runCommand(ctx, "apt-get", installArgs...); err != nil {
		return fmt.Errorf("installing packages: %w", err)
	}
	return nil
}

func missingPackages(ctx context.Context) []string {
	var missing []string
	for _, packageName := range Packages {
		status, err := commandOutput(ctx, "dpkg-query", "-W", "-f=${Status}", packageName)
		if err != nil || !strings.Contains(status, "install ok installed") {
			missing = append(missing, packageName)
		}
	}
	return missing
}

// EnsureSystemUser creates the dedicated system identity and its
// hardware group memberships. Existing users and groups are left
// untouched; membership is additive and re-applying it is a no-op.
func EnsureSystemUser(ctx context.Context, logger *slog.Logger) error {
	if _, err := lookupUser(SystemUser); err == nil {
		logger.Info("system user already exists", "user", SystemUser)
	} else {
		logger.Info("creating system user", "user", SystemUser)
		err := runCommand(ctx, "useradd", "--system", "--no-create-home", "--shell", "/usr/sbin/nologin", SystemUser)
		if err != nil {
			return fmt.Errorf("creating system user %s: %w", SystemUser, err)
		}
	}

	for _, group := range hardwareGroups {
		if _, err := user.LookupGroup(group); err != nil {
			// Not every board image ships every hardware group.
			logger.Warn("hardware group absent, skipping", "group", group)
			continue
		}
		if err := runCommand(ctx, "usermod", "-aG", group, SystemUser); err != nil {
			return fmt.Errorf("adding %s to group %s: %w", SystemUser, group, err)
		}
	}
	return nil
}

// EnableHardwareInterfaces turns on the I2C and 1-wire kernel features
// via raspi-config. Boards without raspi-config, or where a toggle is
// unsupported, produce a recoverable error: the sensor may still work
// over plain GPIO.
func EnableHardwareInterfaces(ctx context.Context, logger *slog.Logger) error {
	if _, err := lookPath("raspi-config"); err != nil {
		return pipeline.Recoverable("raspi-config not found; enable I2C and 1-wire manually if the sensor needs them")
	}

	features := []struct {
		name string
		args []string
	}{
		{"I2C", []string{"nonint", "do_i2c", "0"}},
		{"1-wire", []string{"nonint", "do_onewire", "0"}},
	}

	var unsupported []string
	for _, feature := range features {
		if err := runCommand(ctx, "raspi-config", feature.args...); err != nil {
			logger.Warn("kernel feature toggle failed", "feature", feature.name, "error", err)
			unsupported = append(unsupported, feature.name)
			continue
		}
		logger.Info("kernel feature enabled", "feature", feature.name)
	}

	if len(unsupported) > 0 {
		return pipeline.Recoverable("unsupported on this board: %s", strings.Join(unsupported, ", "))
	}
	return nil
}
