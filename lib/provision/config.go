// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package provision defines the provisioning configuration and its
// field validators. The configuration is constructed once per run —
// interactively or from flags — and passed to every pipeline step as a
// value; no step mutates another step's view of it.
package provision

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"
)

// SensorKind enumerates the supported sensor hardware.
type SensorKind string

const (
	SensorDHT11 SensorKind = "DHT11"
	SensorDHT22 SensorKind = "DHT22"
)

// Defaults applied when the operator accepts the suggested values.
const (
	DefaultSensorKind     = SensorDHT22
	DefaultSensorPin      = 4
	DefaultUpdateInterval = 30
	DefaultBrokerUsername = "sensorgrid"
)

// GPIO line numbers valid on the target boards (BCM numbering).
const (
	minGPIOPin = 0
	maxGPIOPin = 27
)

// Credentials is a broker username/secret pair. The secret is never
// echoed, logged, or included in summaries.
type Credentials struct {
	Username string
	Secret   string
}

// Config is the single source of truth for one provisioning run.
type Config struct {
	// HostAddress is the IPv4 literal of the broker endpoint.
	HostAddress string

	// DeviceID is the fleet-unique identifier, used as MQTT client
	// identity and topic namespace key.
	DeviceID string

	// Sensor is the attached sensor hardware kind.
	Sensor SensorKind

	// SensorPin is the GPIO line the sensor data wire is attached to.
	SensorPin int

	// UpdateIntervalSeconds is the publish cadence.
	UpdateIntervalSeconds int

	// Broker holds the credentials the workload authenticates with.
	Broker Credentials

	// InstallRoot is derived from the invoking identity by envdetect.
	InstallRoot string
}

var dottedQuad = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)

// ValidateHostAddress accepts only dotted-quad IPv4 literals with
// in-range octets. Hostnames and IPv6 literals are rejected.
func ValidateHostAddress(address string) error {
	if !dottedQuad.MatchString(address) {
		return fmt.Errorf("%q is not a dotted-quad IPv4 address", address)
	}
	if net.ParseIP(address) == nil {
		return fmt.Errorf("%q has an out-of-range octet", address)
	}
	return nil
}

// ValidateDeviceID requires a non-empty identifier without whitespace;
// the identifier is embedded in MQTT topic names.
func ValidateDeviceID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("device identifier must not be empty")
	}
	if strings.ContainsAny(id, " \t/#+") {
		return fmt.Errorf("device identifier %q contains characters not allowed in topic names", id)
	}
	return nil
}

// ValidateSensorKind accepts the supported sensor enumeration,
// case-insensitively.
func ValidateSensorKind(kind string) error {
	switch SensorKind(strings.ToUpper(kind)) {
	case SensorDHT11, SensorDHT22:
		return nil
	}
	return fmt.Errorf("unsupported sensor kind %q (expected DHT11 or DHT22)", kind)
}

// ValidateSensorPin accepts GPIO line numbers present on the target
// hardware.
func ValidateSensorPin(pin int) error {
	if pin < minGPIOPin || pin > maxGPIOPin {
		return fmt.Errorf("GPIO pin %d out of range %d-%d", pin, minGPIOPin, maxGPIOPin)
	}
	return nil
}

// ValidateUpdateInterval accepts positive second counts.
func ValidateUpdateInterval(seconds int) error {
	if seconds <= 0 {
		return fmt.Errorf("update interval must be positive, got %d", seconds)
	}
	return nil
}

// ValidateSecret requires a non-empty broker secret. The service must
// not be started with empty credentials.
func ValidateSecret(secret string) error {
	if secret == "" {
		return errors.New("broker secret must not be empty")
	}
	return nil
}

// Validate checks the whole configuration. It is called on the
// non-interactive path, where invalid input is rejected rather than
// re-prompted.
func (c *Config) Validate() error {
	var errs []error

	if err := ValidateHostAddress(c.HostAddress); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateDeviceID(c.DeviceID); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateSensorKind(string(c.Sensor)); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateSensorPin(c.SensorPin); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateUpdateInterval(c.UpdateIntervalSeconds); err != nil {
		errs = append(errs, err)
	}
	if err := ValidateSecret(c.Broker.Secret); err != nil {
		errs = append(errs, err)
	}
	if c.InstallRoot == "" {
		errs = append(errs, errors.New("install root is not set"))
	}

	return errors.Join(errs...)
}

// Summary returns a multi-line display of the configuration with the
// broker secret redacted, for the operator confirmation gate.
func (c *Config) Summary() string {
	var builder strings.Builder
	fmt.Fprintf(&builder, "  Broker address:   %s\n", c.HostAddress)
	fmt.Fprintf(&builder, "  Device ID:        %s\n", c.DeviceID)
	fmt.Fprintf(&builder, "  Sensor:           %s on GPIO %d\n", c.Sensor, c.SensorPin)
	fmt.Fprintf(&builder, "  Update interval:  %ds\n", c.UpdateIntervalSeconds)
	fmt.Fprintf(&builder, "  Broker user:      %s\n", c.Broker.Username)
	fmt.Fprintf(&builder, "  Broker secret:    (redacted)\n")
	fmt.Fprintf(&builder, "  Install root:     %s\n", c.InstallRoot)
	return builder.String()
}
