// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Sensorgrid-doctor inspects a fleet device without changing anything:
// the detected environment, the service state, the rendered
// configuration, the installed application tree, and broker
// reachability with the installed credentials. Intended for diagnosing
// a device before re-provisioning or filing a fleet issue.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sensorgrid/sensorgrid/lib/deploy"
	"github.com/sensorgrid/sensorgrid/lib/envdetect"
	"github.com/sensorgrid/sensorgrid/lib/pipeline"
	"github.com/sensorgrid/sensorgrid/lib/render"
	"github.com/sensorgrid/sensorgrid/lib/svcunit"
	"github.com/sensorgrid/sensorgrid/lib/verify"
	"github.com/sensorgrid/sensorgrid/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		jsonOutput  bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("sensorgrid-doctor", pflag.ContinueOnError)
	flagSet.BoolVar(&jsonOutput, "json", false, "emit results as JSON")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("sensorgrid-doctor %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	results := diagnose(ctx)

	if jsonOutput {
		if err := pipeline.WriteJSON(os.Stdout, results); err != nil {
			return err
		}
	} else {
		pipeline.PrintChecklist(os.Stdout, results)
	}

	for _, result := range results {
		if result.Status == pipeline.StatusFail {
			return fmt.Errorf("device is not healthy")
		}
	}
	return nil
}

// diagnose runs every check and never mutates the device. Checks that
// depend on an earlier one (the broker probe needs the rendered
// configuration) degrade to a warning rather than cascading failures.
func diagnose(ctx context.Context) []pipeline.Result {
	var results []pipeline.Result

	env, err := envdetect.Detect()
	if err != nil {
		results = append(results, pipeline.Result{
			Name: "environment", Status: pipeline.StatusFail, Message: err.Error(),
		})
	} else {
		results = append(results, pipeline.Result{
			Name:   "environment",
			Status: pipeline.StatusOK,
			Message: fmt.Sprintf("user %s, role %s, address %s",
				env.User, env.Role, env.LocalAddress),
		})
		results = append(results, checkInstallTree(env.InstallRoot))
	}

	results = append(results, checkService(ctx))
	results = append(results, checkSecretsFile())

	config, err := render.Load()
	if err != nil {
		results = append(results, pipeline.Result{
			Name: "rendered configuration", Status: pipeline.StatusFail, Message: err.Error(),
		})
		results = append(results, pipeline.Result{
			Name:    "broker connectivity",
			Status:  pipeline.StatusWarn,
			Message: "skipped: no rendered configuration to probe with",
		})
		return results
	}
	results = append(results, pipeline.Result{
		Name:    "rendered configuration",
		Status:  pipeline.StatusOK,
		Message: fmt.Sprintf("device %s, broker %s", config.DeviceID, config.HostAddress),
	})
	results = append(results, probeResult(verify.ProbeBroker(ctx, config)))

	return results
}

// checkInstallTree verifies the application tree and its virtual
// environment exist under the install root.
func checkInstallTree(installRoot string) pipeline.Result {
	const name = "application tree"

	if _, err := os.Stat(filepath.Join(installRoot, ".git")); err != nil {
		return pipeline.Result{Name: name, Status: pipeline.StatusFail,
			Message: fmt.Sprintf("no source tree at %s", installRoot)}
	}
	python := filepath.Join(installRoot, deploy.VenvDir, "bin", "python")
	if _, err := os.Stat(python); err != nil {
		return pipeline.Result{Name: name, Status: pipeline.StatusFail,
			Message: "source tree present but virtual environment is missing"}
	}
	return pipeline.Result{Name: name, Status: pipeline.StatusOK,
		Message: fmt.Sprintf("source and virtual environment at %s", installRoot)}
}

// checkService reports the service manager's view of the workload.
func checkService(ctx context.Context) pipeline.Result {
	const name = "service state"

	switch state := svcunit.CurrentState(ctx); state {
	case svcunit.StateRunning:
		return pipeline.Result{Name: name, Status: pipeline.StatusOK, Message: "running"}
	case svcunit.StateFailed:
		return pipeline.Result{Name: name, Status: pipeline.StatusFail, Message: "service entered the failed state"}
	case svcunit.StateUnregistered:
		return pipeline.Result{Name: name, Status: pipeline.StatusFail, Message: "service is not registered"}
	default:
		return pipeline.Result{Name: name, Status: pipeline.StatusWarn,
			Message: fmt.Sprintf("registered but not running (state: %s)", state)}
	}
}

// checkSecretsFile verifies the secrets file exists and is not readable
// beyond its owner.
func checkSecretsFile() pipeline.Result {
	const name = "secrets file"

	info, err := os.Stat(render.SecretsPath())
	if err != nil {
		return pipeline.Result{Name: name, Status: pipeline.StatusFail,
			Message: fmt.Sprintf("missing: %s", render.SecretsPath())}
	}
	if mode := info.Mode().Perm(); mode&0o077 != 0 {
		return pipeline.Result{Name: name, Status: pipeline.StatusFail,
			Message: fmt.Sprintf("mode %04o is readable beyond the owner", mode)}
	}
	return pipeline.Result{Name: name, Status: pipeline.StatusOK, Message: "present, owner-only"}
}

// probeResult maps a probe outcome onto a check result. Inconclusive
// probes are warnings: an unreachable broker usually means broker-side
// setup is pending, not a broken device.
func probeResult(probe verify.ProbeResult) pipeline.Result {
	result := pipeline.Result{Name: probe.Name, Message: probe.Detail}
	switch probe.Status {
	case verify.ProbePass:
		result.Status = pipeline.StatusOK
	case verify.ProbeFail:
		result.Status = pipeline.StatusFail
	default:
		result.Status = pipeline.StatusWarn
	}
	return result
}
