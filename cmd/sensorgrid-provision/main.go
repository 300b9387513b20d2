// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Sensorgrid-provision installs the sensor agent on a fleet device:
// system packages, the dedicated service identity, the application
// tree, configuration, and the service registration. Safe to re-run:
// every step reconciles toward the same state.
//
// Nothing is mutated before the operator confirms the collected
// configuration. Declining the confirmation is a normal exit, not a
// failure.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/sensorgrid/sensorgrid/lib/deploy"
	"github.com/sensorgrid/sensorgrid/lib/envdetect"
	"github.com/sensorgrid/sensorgrid/lib/firewall"
	"github.com/sensorgrid/sensorgrid/lib/pipeline"
	"github.com/sensorgrid/sensorgrid/lib/prompt"
	"github.com/sensorgrid/sensorgrid/lib/provision"
	"github.com/sensorgrid/sensorgrid/lib/render"
	"github.com/sensorgrid/sensorgrid/lib/svcunit"
	"github.com/sensorgrid/sensorgrid/lib/sysdep"
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
		hostAddress string
		deviceID    string
		sensorKind  string
		sensorPin   int
		interval    int
		brokerUser  string
		secretFile  string
		source      string
		assumeYes   bool
		showVersion bool
	)

	flagSet := pflag.NewFlagSet("sensorgrid-provision", pflag.ContinueOnError)
	flagSet.StringVar(&hostAddress, "host", "", "broker IPv4 address (default: inferred from device role)")
	flagSet.StringVar(&deviceID, "device-id", "", "fleet-unique device identifier (default: inferred from device role)")
	flagSet.StringVar(&sensorKind, "sensor", string(provision.DefaultSensorKind), "sensor hardware kind (DHT11 or DHT22)")
	flagSet.IntVar(&sensorPin, "pin", provision.DefaultSensorPin, "GPIO line the sensor data wire is attached to")
	flagSet.IntVar(&interval, "interval", provision.DefaultUpdateInterval, "publish cadence in seconds")
	flagSet.StringVar(&brokerUser, "broker-user", provision.DefaultBrokerUsername, "broker username")
	flagSet.StringVar(&secretFile, "secret-file", "", "path to file containing the broker secret, or - for stdin (enables non-interactive mode)")
	flagSet.StringVar(&source, "source", deploy.DefaultSource, "git remote of the sensor-agent application")
	flagSet.BoolVarP(&assumeYes, "yes", "y", false, "skip the confirmation gate")
	flagSet.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		return err
	}

	if showVersion {
		fmt.Printf("sensorgrid-provision %s\n", version.Info())
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
	logger.Info("environment detected",
		"user", env.User, "role", env.Role, "address", env.LocalAddress, "install_root", env.InstallRoot)

	prompter := prompt.New()

	var config provision.Config
	if secretFile != "" {
		config, err = configFromFlags(env, hostAddress, deviceID, sensorKind, sensorPin, interval, brokerUser, secretFile)
	} else {
		config, err = prompt.Gather(prompter, env)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "\nAbout to provision this device:\n%s\n", config.Summary())
	if !assumeYes {
		confirmed, err := prompter.Confirm("Proceed")
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(os.Stderr, "Aborted. Nothing was changed.")
			return nil
		}
	}

	runner := &pipeline.Runner{Logger: logger}
	results, fatal := runner.Run(ctx, []pipeline.Step{
		{Name: "system packages", Run: func(ctx context.Context) error {
			return sysdep.EnsurePackages(ctx, logger)
		}},
		{Name: "system identity", Run: func(ctx context.Context) error {
			return sysdep.EnsureSystemUser(ctx, logger)
		}},
		{Name: "hardware interfaces", Run: func(ctx context.Context) error {
			return sysdep.EnableHardwareInterfaces(ctx, logger)
		}},
		{Name: "firewall rules", Run: func(ctx context.Context) error {
			return firewall.OpenPorts(ctx, logger)
		}},
		{Name: "application deploy", Run: func(ctx context.Context) error {
			return deploy.Deploy(ctx, logger, source, config.InstallRoot)
		}},
		{Name: "configuration files", Run: func(ctx context.Context) error {
			return render.Render(logger, config)
		}},
		{Name: "service registration", Run: func(ctx context.Context) error {
			return svcunit.Register(ctx, logger, svcunit.DescriptorFor(config))
		}},
		{Name: "service enable", Run: func(ctx context.Context) error {
			return svcunit.Enable(ctx)
		}},
		{Name: "service start", Run: func(ctx context.Context) error {
			return svcunit.Start(ctx)
		}},
		{Name: "broker connectivity probe", Run: func(ctx context.Context) error {
			return probeStep(verify.ProbeBroker(ctx, config))
		}},
		{Name: "service health probe", Run: func(ctx context.Context) error {
			return probeStep(verify.ProbeService(ctx))
		}},
	})

	fmt.Fprintln(os.Stdout)
	pipeline.PrintChecklist(os.Stdout, results)
	return fatal
}

// probeStep maps probe outcomes onto step outcomes. Probes never abort
// the run: the install itself already succeeded, so anything short of a
// pass is a warning for the operator to follow up on.
func probeStep(result verify.ProbeResult) error {
	if result.Status == verify.ProbePass {
		return nil
	}
	return pipeline.Recoverable("%s", result.Detail)
}

// configFromFlags builds the configuration for the non-interactive
// path. Role-derived defaults fill the omitted fields; everything then
// passes through the same validators the prompts use.
func configFromFlags(env *envdetect.Environment, hostAddress, deviceID, sensorKind string, sensorPin, interval int, brokerUser, secretFile string) (provision.Config, error) {
	if hostAddress == "" {
		hostAddress = env.BrokerAddress
	}
	if deviceID == "" {
		deviceID = env.DeviceIDPrefix
	}

	secret, err := readSecretFile(secretFile)
	if err != nil {
		return provision.Config{}, fmt.Errorf("reading broker secret: %w", err)
	}

	config := provision.Config{
		HostAddress:           hostAddress,
		DeviceID:              deviceID,
		Sensor:                provision.SensorKind(strings.ToUpper(sensorKind)),
		SensorPin:             sensorPin,
		UpdateIntervalSeconds: interval,
		Broker:                provision.Credentials{Username: brokerUser, Secret: secret},
		InstallRoot:           env.InstallRoot,
	}
	if err := config.Validate(); err != nil {
		return provision.Config{}, err
	}
	return config, nil
}

// readSecretFile reads the broker secret from a file, or from stdin
// when the path is "-". The secret never appears on the command line
// or in logs.
func readSecretFile(path string) (string, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
