// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package teardown restores a device to its pre-install state. It is
// the exact inverse of the install pipeline: everything install
// creates — the service registration, the install root, the
// configuration, log, and data directories, the system identity — is
// removed here, and nothing else. Every step is best-effort: a target
// that is already absent is success, not failure, so teardown on a
// never-provisioned device completes cleanly.
package teardown

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/sensorgrid/sensorgrid/lib/pipeline"
	"github.com/sensorgrid/sensorgrid/lib/render"
	"github.com/sensorgrid/sensorgrid/lib/svcunit"
	"github.com/sensorgrid/sensorgrid/lib/sysdep"
)

// processPattern identifies stray workload processes by command line.
const processPattern = "sensorgrid"

// Overridable for tests.
var (
	runCommand = defaultRunCommand
	lookPath   = exec.LookPath
	lookupUser = user.Lookup
	procDir    = "/proc"
	killProc   = func(pid int) error { return unix.Kill(pid, unix.SIGTERM) }
)

func defaultRunCommand(ctx context.Context, name string, args ...string) error {
	command := exec.CommandContext(ctx, name, args...)
	output, err := command.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}

// StopService stops and disables the workload. A service that was
// never installed or is already stopped is fine.
func StopService(ctx context.Context, logger *slog.Logger) error {
	if _, err := os.Stat(svcunit.UnitPath); err != nil {
		logger.Info("service not registered, nothing to stop")
		return nil
	}

	var problems []string
	if err := svcunit.Stop(ctx); err != nil {
		problems = append(problems, fmt.Sprintf("stop: %v", err))
	}
	if err := svcunit.Disable(ctx); err != nil {
		problems = append(problems, fmt.Sprintf("disable: %v", err))
	}
	if len(problems) > 0 {
		return pipeline.Recoverable("service shutdown incomplete: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RemoveUnit deletes the unit description and reloads the service
// definitions.
func RemoveUnit(ctx context.Context, logger *slog.Logger) error {
	if err := os.Remove(svcunit.UnitPath); err != nil {
		if os.IsNotExist(err) {
			logger.Info("unit description already absent")
			return nil
		}
		return pipeline.Recoverable("removing unit description: %v", err)
	}
	if err := runCommand(ctx, "systemctl", "daemon-reload"); err != nil {
		return pipeline.Recoverable("reloading service definitions: %v", err)
	}
	logger.Info("service unregistered", "unit", svcunit.UnitName)
	return nil
}

// RemoveDirectories deletes the install root and the configuration,
// log, and data directories — the exact set the install pipeline
// creates.
func RemoveDirectories(logger *slog.Logger, installRoot string) error {
	var problems []string
	for _, dir := range []string{installRoot, render.ConfigDir, render.LogDir, render.DataDir} {
		if dir == "" || dir == "/" {
			continue
		}
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			problems = append(problems, fmt.Sprintf("%s: %v", dir, err))
			continue
		}
		logger.Info("removed", "dir", dir)
	}
	if len(problems) > 0 {
		return pipeline.Recoverable("some directories not removed: %s", strings.Join(problems, "; "))
	}
	return nil
}

// RemoveSystemUser deletes the dedicated system identity.
func RemoveSystemUser(ctx context.Context, logger *slog.Logger) error {
	if _, err := lookupUser(sysdep.SystemUser); err != nil {
		logger.Info("system user already absent", "user", sysdep.SystemUser)
		return nil
	}
	if err := runCommand(ctx, "userdel", sysdep.SystemUser); err != nil {
		return pipeline.Recoverable("removing system user: %v", err)
	}
	logger.Info("system user removed", "user", sysdep.SystemUser)
	return nil
}

// KillStrayProcesses terminates any process whose command line matches
// the workload's name pattern. The registered service is stopped
// through the service manager first; this catches processes started
// outside it.
func KillStrayProcesses(logger *slog.Logger) error {
	pids, err := matchingProcesses()
	if err != nil {
		return pipeline.Recoverable("scanning processes: %v", err)
	}

	var problems []string
	for _, pid := range pids {
		if err := killProc(pid); err != nil {
			problems = append(problems, fmt.Sprintf("pid %d: %v", pid, err))
			continue
		}
		logger.Info("terminated stray process", "pid", pid)
	}
	if len(problems) > 0 {
		return pipeline.Recoverable("some processes not terminated: %s", strings.Join(problems, "; "))
	}
	return nil
}

// matchingProcesses scans /proc command lines for the workload
// pattern, excluding the running tool itself.
func matchingProcesses() ([]int, error) {
	entries, err := os.ReadDir(procDir)
	if err != nil {
		return nil, err
	}

	self := os.Getpid()
	var pids []int
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}
		cmdline, err := os.ReadFile(filepath.Join(procDir, entry.Name(), "cmdline"))
		if err != nil {
			continue
		}
		command := strings.ReplaceAll(string(cmdline), "\x00", " ")
		if strings.Contains(command, processPattern) && !strings.Contains(command, "teardown") {
			pids = append(pids, pid)
		}
	}
	return pids, nil
}

// ResetGPIOLine returns the sensor's GPIO line to a safe input state.
// Boards without the tool skip this with a warning.
func ResetGPIOLine(ctx context.Context, logger *slog.Logger, pin int) error {
	if _, err := lookPath("raspi-gpio"); err != nil {
		return pipeline.Recoverable("raspi-gpio not found; GPIO line %d left as-is", pin)
	}
	if err := runCommand(ctx, "raspi-gpio", "set", strconv.Itoa(pin), "ip", "pd"); err != nil {
		return pipeline.Recoverable("resetting GPIO line %d: %v", pin, err)
	}
	logger.Info("GPIO line reset", "pin", pin)
	return nil
}
