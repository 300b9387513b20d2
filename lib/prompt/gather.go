// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

package prompt

import (
	"fmt"
	"strings"

	"github.com/sensorgrid/sensorgrid/lib/envdetect"
	"github.com/sensorgrid/sensorgrid/lib/provision"
)

// Gather collects a full provisioning configuration interactively,
// seeding each prompt with the environment-derived default. The
// returned configuration has passed every field validator.
func Gather(p *Prompter, env *envdetect.Environment) (provision.Config, error) {
	config := provision.Config{InstallRoot: env.InstallRoot}

	hostAddress, err := p.String("Broker address", env.BrokerAddress, provision.ValidateHostAddress)
	if err != nil {
		return provision.Config{}, err
	}
	config.HostAddress = hostAddress

	deviceID, err := p.String("Device identifier", env.DeviceIDPrefix, provision.ValidateDeviceID)
	if err != nil {
		return provision.Config{}, err
	}
	config.DeviceID = deviceID

	sensorKind, err := p.String(
		fmt.Sprintf("Sensor kind (%s/%s)", provision.SensorDHT11, provision.SensorDHT22),
		string(provision.DefaultSensorKind),
		provision.ValidateSensorKind,
	)
	if err != nil {
		return provision.Config{}, err
	}
	config.Sensor = provision.SensorKind(strings.ToUpper(sensorKind))

	pin, err := p.Int("Sensor GPIO pin", provision.DefaultSensorPin, provision.ValidateSensorPin)
	if err != nil {
		return provision.Config{}, err
	}
	config.SensorPin = pin

	interval, err := p.Int("Update interval (seconds)", provision.DefaultUpdateInterval, provision.ValidateUpdateInterval)
	if err != nil {
		return provision.Config{}, err
	}
	config.UpdateIntervalSeconds = interval

	username, err := p.String("Broker username", provision.DefaultBrokerUsername, func(value string) error {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("broker username must not be empty")
		}
		return nil
	})
	if err != nil {
		return provision.Config{}, err
	}
	config.Broker.Username = username

	secret, err := p.Secret("Broker secret", provision.ValidateSecret)
	if err != nil {
		return provision.Config{}, err
	}
	config.Broker.Secret = secret

	return config, nil
}
