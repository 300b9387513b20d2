// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package svcunit registers the sensor workload with the host's
// service manager and drives its lifecycle transitions. The unit
// description is derived from the provisioning configuration and
// regenerated in full on every install run — there are no incremental
// field updates, mirroring the renderer's overwrite semantics.
package svcunit

import (
	"fmt"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/sensorgrid/sensorgrid/lib/deploy"
	"github.com/sensorgrid/sensorgrid/lib/provision"
	"github.com/sensorgrid/sensorgrid/lib/render"
	"github.com/sensorgrid/sensorgrid/lib/sysdep"
)

// UnitName is the service-manager unit the workload runs under.
const UnitName = "sensorgrid-agent.service"

// UnitPath is where the unit description is installed. Variable rather
// than constant to allow test overrides.
var UnitPath = "/etc/systemd/system/" + UnitName

// restartBackoffSeconds is the fixed delay between crash restarts.
const restartBackoffSeconds = 5

// Descriptor is the derived unit description. It owns no configuration
// of its own: every field is computed from ProvisioningConfig and the
// canonical layout.
type Descriptor struct {
	Description      string
	User             string
	WorkingDirectory string
	ExecStart        string
	EnvironmentFile  string
	RestartSec       int
	ReadWritePaths   []string
}

// DescriptorFor derives the unit description for a provisioning
// configuration.
func DescriptorFor(config provision.Config) Descriptor {
	python := filepath.Join(config.InstallRoot, deploy.VenvDir, "bin", "python")
	return Descriptor{
		Description:      fmt.Sprintf("SensorGrid sensor agent (%s)", config.DeviceID),
		User:             sysdep.SystemUser,
		WorkingDirectory: config.InstallRoot,
		ExecStart:        fmt.Sprintf("%s src/main.py --config %s", python, render.ConfigPath()),
		EnvironmentFile:  render.SecretsPath(),
		RestartSec:       restartBackoffSeconds,
		ReadWritePaths:   []string{config.InstallRoot, render.LogDir, render.DataDir},
	}
}

var unitTemplate = template.Must(template.New("unit").Funcs(template.FuncMap{
	"join": strings.Join,
}).Parse(`[Unit]
Description={{.Description}}
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
User={{.User}}
WorkingDirectory={{.WorkingDirectory}}
EnvironmentFile={{.EnvironmentFile}}
ExecStart={{.ExecStart}}
Restart=always
RestartSec={{.RestartSec}}
NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ReadWritePaths={{join .ReadWritePaths " "}}

[Install]
WantedBy=multi-user.target
`))

// Render produces the unit file content. Rendering the same descriptor
// twice yields byte-identical output.
func (d Descriptor) Render() (string, error) {
	var builder strings.Builder
	if err := unitTemplate.Execute(&builder, d); err != nil {
		return "", fmt.Errorf("rendering unit description: %w", err)
	}
	return builder.String(), nil
}
