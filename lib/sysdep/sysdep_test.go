// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

package sysdep

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/user"
	"slices"
	"strings"
	"testing"

	"github.com/sensorgrid/sensorgrid/lib/pipeline"
)

type commandRecorder struct {
	calls [][]string
}

func (r *commandRecorder) record(name string, args []string) {
	r.calls = append(r.calls, append([]string{name}, args...))
}

func (r *commandRecorder) ran(fragments ...string) bool {
	for _, call := range r.calls {
		line := strings.Join(call, " ")
		matched := true
		for _, fragment := range fragments {
			if !strings.Contains(line, fragment) {
				matched = false
				break
			}
		}
		if matched {
			return true
		}
	}
	return false
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func stubCommands(t *testing.T, recorder *commandRecorder, fail map[string]error) {
	t.Helper()
	origRun, origOutput := runCommand, commandOutput
	t.Cleanup(func() { runCommand, commandOutput = origRun, origOutput })
	runCommand = func(ctx context.Context, name string, args ...string) error {
		recorder.record(name, args)
		if err, ok := fail[name]; ok {
			return err
		}
		return nil
	}
}

func TestEnsurePackages_SkipsWhenAllInstalled(t *testing.T) {
	recorder := &commandRecorder{}
	stubCommands(t, recorder, nil)
	origOutput := commandOutput
	t.Cleanup(func() { commandOutput = origOutput })
	commandOutput = func(ctx context.Context, name string, args ...string) (string, error) {
		return "install ok installed", nil
	}

	if err := EnsurePackages(context.Background(), testLogger()); err != nil {
		t.Fatalf("EnsurePackages: %v", err)
	}
	if recorder.ran("apt-get") {
		t.Errorf("package manager invoked although everything is installed: %v", recorder.calls)
	}
}

func TestEnsurePackages_InstallsOnlyMissing(t *testing.T) {
	recorder := &commandRecorder{}
	stubCommands(t, recorder, nil)
	origOutput := commandOutput
	t.Cleanup(func() { commandOutput = origOutput })
	commandOutput = func(ctx context.Context, name string, args ...string) (string, error) {
		packageName := args[len(args)-1]
		if packageName == "git" || packageName == "libgpiod2" {
			return "", fmt.Errorf("not installed")
		}
		return "install ok installed", nil
	}

	if err := EnsurePackages(context.Background(), testLogger()); err != nil {
		t.Fatalf("EnsurePackages: %v", err)
	}
	if !recorder.ran("apt-get", "update") {
		t.Error("package index not refreshed before install")
	}
	if !recorder.ran("apt-get", "install", "git", "libgpiod2") {
		t.Errorf("missing packages not installed: %v", recorder.calls)
	}
	if recorder.ran("install", "python3-venv") {
		t.Errorf("already-installed package reinstalled: %v", recorder.calls)
	}
}

func TestEnsurePackages_InstallFailureIsFatal(t *testing.T) {
	recorder := &commandRecorder{}
	stubCommands(t, recorder, map[string]error{"apt-get": fmt.Errorf("dpkg lock held")})
	origOutput := commandOutput
	t.Cleanup(func() { commandOutput = origOutput })
	commandOutput = func(ctx context.Context, name string, args ...string) (string, error) {
		return "", fmt.Errorf("not installed")
	}

	err := EnsurePackages(context.Background(), testLogger())
	if err == nil {
		t.Fatal("expected fatal error")
	}
	if pipeline.IsRecoverable(err) {
		t.Error("package failure must not be recoverable")
	}
}

func TestEnsureSystemUser_ExistingUserIsNoOp(t *testing.T) {
	recorder := &commandRecorder{}
	stubCommands(t, recorder, nil)
	origLookup := lookupUser
	t.Cleanup(func() { lookupUser = origLookup })
	lookupUser = func(username string) (*user.User, error) {
		return &user.User{Username: username}, nil
	}

	if err := EnsureSystemUser(context.Background(), testLogger()); err != nil {
		t.Fatalf("EnsureSystemUser: %v", err)
	}
	if recorder.ran("useradd") {
		t.Errorf("useradd invoked for existing user: %v", recorder.calls)
	}
}

func TestEnsureSystemUser_CreatesMissingUser(t *testing.T) {
	recorder := &commandRecorder{}
	stubCommands(t, recorder, nil)
	origLookup := lookupUser
	t.Cleanup(func() { lookupUser = origLookup })
	lookupUser = func(username string) (*user.User, error) {
		return nil, user.UnknownUserError(username)
	}

	if err := EnsureSystemUser(context.Background(), testLogger()); err != nil {
		t.Fatalf("EnsureSystemUser: %v", err)
	}
	if !recorder.ran("useradd", "--system", SystemUser) {
		t.Errorf("system user not created: %v", recorder.calls)
	}
}

func TestEnableHardwareInterfaces_MissingToolIsRecoverable(t *testing.T) {
	origLookPath := lookPath
	t.Cleanup(func() { lookPath = origLookPath })
	lookPath = func(name string) (string, error) {
		return "", fmt.Errorf("not found")
	}

	err := EnableHardwareInterfaces(context.Background(), testLogger())
	if err == nil {
		t.Fatal("expected recoverable error")
	}
	if !pipeline.IsRecoverable(err) {
		t.Errorf("missing raspi-config must be recoverable, got %v", err)
	}
}

func TestEnableHardwareInterfaces_ToggleFailureIsRecoverable(t *testing.T) {
	recorder := &commandRecorder{}
	stubCommands(t, recorder, map[string]error{"raspi-config": fmt.Errorf("unsupported")})
	origLookPath := lookPath
	t.Cleanup(func() { lookPath = origLookPath })
	lookPath = func(name string) (string, error) { return "/usr/bin/raspi-config", nil }

	err := EnableHardwareInterfaces(context.Background(), testLogger())
	if !pipeline.IsRecoverable(err) {
		t.Errorf("unsupported toggle must be recoverable, got %v", err)
	}
}

func TestPackageSetIsFixed(t *testing.T) {
	// The deployer and renderer rely on these being present.
	for _, required := range []string{"python3", "python3-venv", "git", "openssl"} {
		if !slices.Contains(Packages, required) {
			t.Errorf("package set missing %s", required)
		}
	}
}
