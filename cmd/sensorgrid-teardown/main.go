// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Sensorgrid-teardown removes the sensor agent from a fleet device:
// the service registration, the install tree, the configuration, and
// the dedicated system identity. Every step is best-effort and
// tolerates targets that are already gone, so teardown completes
// cleanly on a partially provisioned or never-provisioned device.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sensorgrid/sensorgrid/lib/envdetect"
	"github.com/sensorgrid/sensorgrid/lib/pipeline"
	"github.com/sensorgrid/sensorgrid/lib/prompt"
	"github.com/sensorgrid/sensorgrid/lib/provision"
	"github.com/sensorgrid/sensorgrid/lib/render"
	"github.com/sensorgrid/sensorgrid/lib/teardown"
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
		assumeYes    bool
		keepIdentity bool
		showVersion  bool
	)

	flagSet := pflag.NewFlagSet("sensorgrid-teardown", pflag.ContinueOnError)
	flagSet.BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation gate")
	flagSet.BoolVar(&keepIdentity, "keep-identity", false, "leave the dedicated system user in place")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("sensorgrid-teardown %s\n", version.Info())
		return nil
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	env, err := envdetect.Detect()
	if err != nil {
		return err
	}

	// Recover the installed sensor pin before the configuration is
	// removed; a device without a rendered configuration falls back to
	// the default line.
	sensorPin := provision.DefaultSensorPin
	if installed, err := render.Load(); err == nil {
		sensorPin = installed.SensorPin
	}

	fmt.Fprintf(os.Stderr, "About to remove the sensor workload from this device:\n")
	fmt.Fprintf(os.Stderr, "  Install root:  %s\n", env.InstallRoot)
	fmt.Fprintf(os.Stderr, "  Config dir:    %s\n", render.ConfigDir)
	fmt.Fprintf(os.Stderr, "  Log dir:       %s\n", render.LogDir)
	fmt.Fprintf(os.Stderr, "  Data dir:      %s\n\n", render.DataDir)
	if !assumeYes {
		confirmed, err := prompt.New().Confirm("Proceed")
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(os.Stderr, "Aborted. Nothing was changed.")
			return nil
		}
	}

	steps := []pipeline.Step{
		{Name: "stop service", Run: func(ctx context.Context) error {
			return teardown.StopService(ctx, logger)
		}},
		{Name: "unregister service", Run: func(ctx context.Context) error {
			return teardown.RemoveUnit(ctx, logger)
		}},
		{Name: "terminate stray processes", Run: func(ctx context.Context) error {
			return teardown.KillStrayProcesses(logger)
		}},
		{Name: "reset GPIO line", Run: func(ctx context.Context) error {
			return teardown.ResetGPIOLine(ctx, logger, sensorPin)
		}},
		{Name: "remove directories", Run: func(ctx context.Context) error {
			return teardown.RemoveDirectories(logger, env.InstallRoot)
		}},
	}
	if keepIdentity {
		logger.Info("keeping system identity as requested")
	} else {
		steps = append(steps, pipeline.Step{Name: "remove system identity", Run: func(ctx context.Context) error {
			return teardown.RemoveSystemUser(ctx, logger)
		}})
	}

	runner := &pipeline.Runner{Logger: logger}
	results, fatal := runner.Run(ctx, steps)

	fmt.Fprintln(os.Stdout)
	pipeline.PrintChecklist(os.Stdout, results)
	return fatal
}
