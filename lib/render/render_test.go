// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

package render

import (
	"io"
	"log/slog"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"testing"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/sensorgrid/sensorgrid/lib/provision"
)

func testConfig() provision.Config {
	return provision.Config{
		HostAddress:           "192.168.1.112",
		DeviceID:              "client_sensors_01",
		Sensor:                provision.SensorDHT22,
		SensorPin:             4,
		UpdateIntervalSeconds: 30,
		Broker:                provision.Credentials{Username: "sensorgrid", Secret: "hunter2"},
		InstallRoot:           "/opt/sensorgrid",
	}
}

// withTestDirs redirects the canonical directories into a temp tree and
// neutralizes ownership handling.
func withTestDirs(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	origConfig, origLog, origData := ConfigDir, LogDir, DataDir
	origLookup, origChown := lookupUser, chownFile
	t.Cleanup(func() {
		ConfigDir, LogDir, DataDir = origConfig, origLog, origData
		lookupUser, chownFile = origLookup, origChown
	})
	ConfigDir = filepath.Join(base, "etc")
	LogDir = filepath.Join(base, "log")
	DataDir = filepath.Join(base, "data")
	lookupUser = func(string) (*user.User, error) {
		return &user.User{Uid: "1000", Gid: "1000"}, nil
	}
	chownFile = func(string, int, int) error { return nil }
	return base
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRender_WritesFourSections(t *testing.T) {
	withTestDirs(t)

	if err := Render(testLogger(), testConfig()); err != nil {
		t.Fatalf("Render: %v", err)
	}

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		t.Fatalf("reading config: %v", err)
	}

	var document map[string]map[string]any
	if err := yaml.Unmarshal(data, &document); err != nil {
		t.Fatalf("unmarshalling config: %v", err)
	}

	for _, section := range []string{"mqtt", "client", "sensor", "logging"} {
		if _, ok := document[section]; !ok {
			t.Errorf("missing section %q", section)
		}
	}
	if document["mqtt"]["host"] != "192.168.1.112" {
		t.Errorf("mqtt.host = %v", document["mqtt"]["host"])
	}
	if document["mqtt"]["port"] != 8883 {
		t.Errorf("mqtt.port = %v", document["mqtt"]["port"])
	}
	if document["mqtt"]["use_tls"] != true {
		t.Errorf("mqtt.use_tls = %v", document["mqtt"]["use_tls"])
	}
	if document["client"]["client_id"] != "client_sensors_01" {
		t.Errorf("client.client_id = %v", document["client"]["client_id"])
	}
	if document["sensor"]["pin"] != 4 {
		t.Errorf("sensor.pin = %v", document["sensor"]["pin"])
	}
	if document["logging"]["file"] != LogFilePath() {
		t.Errorf("logging.file = %v", document["logging"]["file"])
	}
}

func TestRender_SecretsFileNotWorldReadable(t *testing.T) {
	withTestDirs(t)

	if err := Render(testLogger(), testConfig()); err != nil {
		t.Fatalf("Render: %v", err)
	}

	info, err := os.Stat(SecretsPath())
	if err != nil {
		t.Fatalf("stat secrets: %v", err)
	}
	if mode := info.Mode().Perm(); mode != 0o600 {
		t.Errorf("secrets file mode %04o, expected 0600", mode)
	}

	environment, err := godotenv.Read(SecretsPath())
	if err != nil {
		t.Fatalf("reading secrets env: %v", err)
	}
	expected := map[string]string{
		"CLIENT_ID":       "client_sensors_01",
		"MQTT_HOST":       "192.168.1.112",
		"MQTT_PORT":       "8883",
		"MQTT_USE_TLS":    "true",
		"SENSOR_TYPE":     "DHT22",
		"SENSOR_PIN":      "4",
		"UPDATE_INTERVAL": "30",
		"LOG_LEVEL":       "INFO",
	}
	for key, want := range expected {
		if environment[key] != want {
			t.Errorf("%s = %q, want %q", key, environment[key], want)
		}
	}
	if _, present := environment["MQTT_PASSWORD"]; present {
		t.Error("broker secret must not appear in the environment file")
	}
}

func TestRender_OverwritesPriorConfiguration(t *testing.T) {
	withTestDirs(t)

	first := testConfig()
	if err := Render(testLogger(), first); err != nil {
		t.Fatalf("first render: %v", err)
	}

	second := testConfig()
	second.DeviceID = "replacement_id"
	second.SensorPin = 17
	if err := Render(testLogger(), second); err != nil {
		t.Fatalf("second render: %v", err)
	}

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "replacement_id") {
		t.Error("second render did not replace device id")
	}
	if strings.Contains(content, "client_sensors_01") {
		t.Error("stale configuration survived the overwrite")
	}
}

func TestLoad_RoundTripsRenderedConfiguration(t *testing.T) {
	withTestDirs(t)
	written := testConfig()

	if err := Render(testLogger(), written); err != nil {
		t.Fatalf("Render: %v", err)
	}

	loaded, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.HostAddress != written.HostAddress {
		t.Errorf("host address %q, want %q", loaded.HostAddress, written.HostAddress)
	}
	if loaded.DeviceID != written.DeviceID {
		t.Errorf("device id %q, want %q", loaded.DeviceID, written.DeviceID)
	}
	if loaded.Sensor != written.Sensor || loaded.SensorPin != written.SensorPin {
		t.Errorf("sensor %s/%d, want %s/%d", loaded.Sensor, loaded.SensorPin, written.Sensor, written.SensorPin)
	}
	if loaded.Broker != written.Broker {
		t.Errorf("credentials %+v do not round-trip", loaded.Broker)
	}
}

func TestLoad_MissingConfigurationIsAnError(t *testing.T) {
	withTestDirs(t)

	if _, err := Load(); err == nil {
		t.Error("expected an error for a device that was never provisioned")
	}
}

func TestRender_IsByteStableAcrossRuns(t *testing.T) {
	withTestDirs(t)
	config := testConfig()

	if err := Render(testLogger(), config); err != nil {
		t.Fatal(err)
	}
	firstConfig, err := os.ReadFile(ConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	firstSecrets, err := os.ReadFile(SecretsPath())
	if err != nil {
		t.Fatal(err)
	}

	if err := Render(testLogger(), config); err != nil {
		t.Fatal(err)
	}
	secondConfig, err := os.ReadFile(ConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	secondSecrets, err := os.ReadFile(SecretsPath())
	if err != nil {
		t.Fatal(err)
	}

	if string(firstConfig) != string(secondConfig) {
		t.Error("config file differs across identical runs")
	}
	if string(firstSecrets) != string(secondSecrets) {
		t.Error("secrets file differs across identical runs")
	}
}
