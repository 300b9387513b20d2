// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package deploy materializes the sensor-agent source tree and its
// Python dependencies under the install root. Two paths converge on
// the same tree state: a clone when the target does not exist yet, and
// a fast-forward pull when it does. The virtual environment and the
// requirements install are both guarded by existence checks, so
// re-running the deployer against a current tree does no work.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultSource is the declared remote location of the sensor-agent
// application.
const DefaultSource = "https://github.com/sensorgrid/sensorgrid-agent.git"

// VenvDir is the isolated package environment, relative to the install
// root.
const VenvDir = "venv"

// Overridable for tests.
var runCommand = defaultRunCommand

func defaultRunCommand(ctx context.Context, dir, name string, args ...string) error {
	command := exec.CommandContext(ctx, name, args...)
	if dir != "" {
		command.Dir = dir
	}
	output, err := command.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s %s: %w: %s", name, strings.Join(args, " "), err, strings.TrimSpace(string(output)))
	}
	return nil
}

// Deploy brings the source tree at installRoot up to date with source
// and installs the declared dependencies into the tree's virtual
// environment. Any failure is fatal: a half-deployed tree is resolved
// by re-running (idempotent) or by a teardown/install cycle.
func Deploy(ctx context.Context, logger *slog.Logger, source, installRoot string) error {
	if err := syncTree(ctx, logger, source, installRoot); err != nil {
		return err
	}
	if err := ensureVenv(ctx, logger, installRoot); err != nil {
		return err
	}
	return installRequirements(ctx, logger, installRoot)
}

// syncTree clones when the tree is absent and fast-forwards in place
// when it exists. Both paths end at the same revision for the same
// source state.
func syncTree(ctx context.Context, logger *slog.Logger, source, installRoot string) error {
	if _, err := os.Stat(filepath.Join(installRoot, ".git")); err == nil {
		logger.Info("source tree present, fast-forwarding", "dir", installRoot)
		if err := runCommand(ctx, installRoot, "git", "pull", "--ff-only"); err != nil {
			return fmt.Errorf("updating source tree: %w", err)
		}
		return nil
	}

	logger.Info("cloning source tree", "source", source, "dir", installRoot)
	if err := os.MkdirAll(filepath.Dir(installRoot), 0o755); err != nil {
		return fmt.Errorf("creating install parent: %w", err)
	}
	if err := runCommand(ctx, "", "git", "clone", source, installRoot); err != nil {
		return fmt.Errorf("cloning source tree: %w", err)
	}
	return nil
}

// ensureVenv creates the isolated package environment when absent.
func ensureVenv(ctx context.Context, logger *slog.Logger, installRoot string) error {
	venvPath := filepath.Join(installRoot, VenvDir)
	if _, err := os.Stat(filepath.Join(venvPath, "bin", "python")); err == nil {
		logger.Info("virtual environment already present", "dir", venvPath)
		return nil
	}

	logger.Info("creating virtual environment", "dir", venvPath)
	if err := runCommand(ctx, installRoot, "python3", "-m", "venv", VenvDir); err != nil {
		return fmt.Errorf("creating virtual environment: %w", err)
	}
	return nil
}

// installRequirements installs the declared library dependencies into
// the virtual environment. pip itself is idempotent: satisfied
// requirements are skipped.
func installRequirements(ctx context.Context, logger *slog.Logger, installRoot string) error {
	requirements := filepath.Join(installRoot, "requirements.txt")
	if _, err := os.Stat(requirements); err != nil {
		logger.Warn("no requirements.txt in source tree, skipping dependency install")
		return nil
	}

	pip := filepath.Join(installRoot, VenvDir, "bin", "pip")
	if err := runCommand(ctx, installRoot, pip, "install", "--requirement", requirements); err != nil {
		return fmt.Errorf("installing requirements: %w", err)
	}
	return nil
}
