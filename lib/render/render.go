// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package render writes the workload's layered configuration: the
// structured YAML file the agent loads at startup, and the flat
// key/value secrets file consumed through the process environment.
// Both files are fully overwritten on every call — last writer wins,
// never merged — so stale configuration from an earlier run can never
// survive into a new one.
package render

import (
	"fmt"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sensorgrid/sensorgrid/lib/provision"
	"github.com/sensorgrid/sensorgrid/lib/sysdep"
)

// Canonical directories. Teardown removes exactly these; variables
// rather than constants to allow test overrides.
var (
	ConfigDir = "/etc/sensorgrid"
	LogDir    = "/var/log/sensorgrid"
	DataDir   = "/var/lib/sensorgrid"
)

const (
	// ConfigFileName is the structured configuration file.
	ConfigFileName = "config.yaml"

	// SecretsFileName is the flat environment file. Never
	// world-readable.
	SecretsFileName = "sensorgrid.env"

	// MQTTPort is the fixed TLS port of the broker transport.
	MQTTPort = 8883

	mqttKeepalive = 60
	logLevel      = "INFO"
)

// Overridable for tests: resolving and applying file ownership needs
// the sensorgrid identity and root privileges, neither of which exist
// in a test environment.
var (
	lookupUser = user.Lookup
	chownFile  = os.Chown
)

// fileConfig mirrors ProvisioningConfig into the agent's four
// configuration sections. The logging file path is the only derived
// value.
type fileConfig struct {
	MQTT    mqttSection    `yaml:"mqtt"`
	Client  clientSection  `yaml:"client"`
	Sensor  sensorSection  `yaml:"sensor"`
	Logging loggingSection `yaml:"logging"`
}

type mqttSection struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	UseTLS    bool   `yaml:"use_tls"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Keepalive int    `yaml:"keepalive"`
}

type clientSection struct {
	ClientID       string `yaml:"client_id"`
	UpdateInterval int    `yaml:"update_interval"`
}

type sensorSection struct {
	Type string `yaml:"type"`
	Pin  int    `yaml:"pin"`
}

type loggingSection struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// ConfigPath returns the structured configuration file path.
func ConfigPath() string {
	return filepath.Join(ConfigDir, ConfigFileName)
}

// SecretsPath returns the flat secrets file path.
func SecretsPath() string {
	return filepath.Join(ConfigDir, SecretsFileName)
}

// LogFilePath returns the agent's log file path.
func LogFilePath() string {
	return filepath.Join(LogDir, "agent.log")
}

// Render writes both configuration files and sets their ownership to
// the dedicated system identity. The config file is group-readable for
// the sensorgrid group; the secrets file is owner-only.
func Render(logger *slog.Logger, config provision.Config) error {
	for _, dir := range []string{ConfigDir, LogDir, DataDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}

	if err := writeConfigFile(config); err != nil {
		return err
	}
	if err := writeSecretsFile(config); err != nil {
		return err
	}

	if err := applyOwnership(); err != nil {
		return err
	}

	logger.Info("configuration rendered", "config", ConfigPath(), "secrets", SecretsPath())
	return nil
}

// Load reads the rendered configuration file back into a provisioning
// configuration. Teardown and doctor use it to recover the installed
// device's settings without re-prompting the operator.
func Load() (provision.Config, error) {
	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		return provision.Config{}, fmt.Errorf("reading %s: %w", ConfigPath(), err)
	}

	var document fileConfig
	if err := yaml.Unmarshal(data, &document); err != nil {
		return provision.Config{}, fmt.Errorf("parsing %s: %w", ConfigPath(), err)
	}

	return provision.Config{
		HostAddress:           document.MQTT.Host,
		DeviceID:              document.Client.ClientID,
		Sensor:                provision.SensorKind(document.Sensor.Type),
		SensorPin:             document.Sensor.Pin,
		UpdateIntervalSeconds: document.Client.UpdateInterval,
		Broker: provision.Credentials{
			Username: document.MQTT.Username,
			Secret:   document.MQTT.Password,
		},
	}, nil
}

func writeConfigFile(config provision.Config) error {
	document := fileConfig{
		MQTT: mqttSection{
			Host:      config.HostAddress,
			Port:      MQTTPort,
			UseTLS:    true,
			Username:  config.Broker.Username,
			Password:  config.Broker.Secret,
			Keepalive: mqttKeepalive,
		},
		Client: clientSection{
			ClientID:       config.DeviceID,
			UpdateInterval: config.UpdateIntervalSeconds,
		},
		Sensor: sensorSection{
			Type: string(config.Sensor),
			Pin:  config.SensorPin,
		},
		Logging: loggingSection{
			Level: logLevel,
			File:  LogFilePath(),
		},
	}

	data, err := yaml.Marshal(document)
	if err != nil {
		return fmt.Errorf("marshalling configuration: %w", err)
	}
	if err := os.WriteFile(ConfigPath(), data, 0o640); err != nil {
		return fmt.Errorf("writing %s: %w", ConfigPath(), err)
	}
	return nil
}

func writeSecretsFile(config provision.Config) error {
	environment := map[string]string{
		"CLIENT_ID":       config.DeviceID,
		"MQTT_HOST":       config.HostAddress,
		"MQTT_PORT":       strconv.Itoa(MQTTPort),
		"MQTT_USE_TLS":    "true",
		"SENSOR_TYPE":     string(config.Sensor),
		"SENSOR_PIN":      strconv.Itoa(config.SensorPin),
		"UPDATE_INTERVAL": strconv.Itoa(config.UpdateIntervalSeconds),
		"LOG_LEVEL":       logLevel,
	}

	path := SecretsPath()
	if err := godotenv.Write(environment, path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	// godotenv creates with the process umask; the env file must never
	// be world-readable.
	if err := os.Chmod(path, 0o600); err != nil {
		return fmt.Errorf("restricting %s: %w", path, err)
	}
	return nil
}

// applyOwnership hands the rendered files and directories to the
// dedicated system identity.
func applyOwnership() error {
	identity, err := lookupUser(sysdep.SystemUser)
	if err != nil {
		return fmt.Errorf("looking up %s identity: %w", sysdep.SystemUser, err)
	}
	uid, err := strconv.Atoi(identity.Uid)
	if err != nil {
		return fmt.Errorf("parsing uid %q: %w", identity.Uid, err)
	}
	gid, err := strconv.Atoi(identity.Gid)
	if err != nil {
		return fmt.Errorf("parsing gid %q: %w", identity.Gid, err)
	}

	for _, path := range []string{ConfigDir, ConfigPath(), SecretsPath(), LogDir, DataDir} {
		if err := chownFile(path, uid, gid); err != nil {
			return fmt.Errorf("chown %s: %w", path, err)
		}
	}
	return nil
}
