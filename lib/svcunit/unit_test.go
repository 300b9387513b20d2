// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

package svcunit

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sensorgrid/sensorgrid/lib/provision"
)

func testConfig() provision.Config {
	return provision.Config{
		HostAddress:           "192.168.1.112",
		DeviceID:              "host_sensors_01",
		Sensor:                provision.SensorDHT22,
		SensorPin:             4,
		UpdateIntervalSeconds: 30,
		Broker:                provision.Credentials{Username: "sensorgrid", Secret: "hunter2"},
		InstallRoot:           "/home/pi/sensorgrid",
	}
}

func TestDescriptorFor(t *testing.T) {
	descriptor := DescriptorFor(testConfig())

	if descriptor.WorkingDirectory != "/home/pi/sensorgrid" {
		t.Errorf("working directory = %q", descriptor.WorkingDirectory)
	}
	if !strings.HasPrefix(descriptor.ExecStart, "/home/pi/sensorgrid/venv/bin/python") {
		t.Errorf("exec start does not use the venv interpreter: %q", descriptor.ExecStart)
	}
	if descriptor.User != "sensorgrid" {
		t.Errorf("user = %q", descriptor.User)
	}
	if descriptor.RestartSec != 5 {
		t.Errorf("restart backoff = %d", descriptor.RestartSec)
	}
}

func TestRender_IsolationFlags(t *testing.T) {
	content, err := DescriptorFor(testConfig()).Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	for _, directive := range []string{
		"Restart=always",
		"RestartSec=5",
		"NoNewPrivileges=true",
		"PrivateTmp=true",
		"ProtectSystem=strict",
		"WorkingDirectory=/home/pi/sensorgrid",
	} {
		if !strings.Contains(content, directive) {
			t.Errorf("unit description missing %q:\n%s", directive, content)
		}
	}
	if !strings.Contains(content, "ReadWritePaths=/home/pi/sensorgrid") {
		t.Errorf("writable paths not restricted to the install layout:\n%s", content)
	}
}

func TestRender_Deterministic(t *testing.T) {
	descriptor := DescriptorFor(testConfig())

	first, err := descriptor.Render()
	if err != nil {
		t.Fatal(err)
	}
	second, err := descriptor.Render()
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("identical descriptors rendered differently")
	}
}

func TestRegister_OverwritesExistingUnit(t *testing.T) {
	origPath := UnitPath
	origRun := runSystemctl
	t.Cleanup(func() { UnitPath, runSystemctl = origPath, origRun })
	UnitPath = filepath.Join(t.TempDir(), UnitName)

	var reloaded bool
	runSystemctl = func(ctx context.Context, args ...string) error {
		if args[0] == "daemon-reload" {
			reloaded = true
		}
		return nil
	}

	if err := os.WriteFile(UnitPath, []byte("stale content"), 0o644); err != nil {
		t.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := Register(context.Background(), logger, DescriptorFor(testConfig())); err != nil {
		t.Fatalf("Register: %v", err)
	}

	data, err := os.ReadFile(UnitPath)
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "stale content") {
		t.Error("prior unit content survived registration")
	}
	if !reloaded {
		t.Error("service definitions not reloaded after registration")
	}
}

func TestCurrentState(t *testing.T) {
	origPath := UnitPath
	origOutput := systemctlOutput
	t.Cleanup(func() { UnitPath, systemctlOutput = origPath, origOutput })

	// Unit file absent: unregistered regardless of systemctl.
	UnitPath = filepath.Join(t.TempDir(), UnitName)
	if state := CurrentState(context.Background()); state != StateUnregistered {
		t.Errorf("expected unregistered, got %s", state)
	}

	if err := os.WriteFile(UnitPath, []byte("[Unit]\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		active  string
		enabled string
		want    State
	}{
		{"active", "enabled", StateRunning},
		{"activating", "enabled", StateRunning},
		{"failed", "enabled", StateFailed},
		{"inactive", "enabled", StateEnabled},
		{"inactive", "disabled", StateRegistered},
	}
	for _, test := range tests {
		systemctlOutput = func(ctx context.Context, args ...string) string {
			if args[0] == "is-active" {
				return test.active
			}
			return test.enabled
		}
		if state := CurrentState(context.Background()); state != test.want {
			t.Errorf("active=%s enabled=%s: expected %s, got %s", test.active, test.enabled, test.want, state)
		}
	}
}
