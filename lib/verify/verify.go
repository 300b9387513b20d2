// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package verify probes the provisioned workload's surroundings: a
// test publish against the broker over the same TLS transport the
// workload uses, and a service-manager health check. Both probes are
// bounded by a short timeout and report rather than abort — a failed
// connectivity probe is expected when broker-side setup has not
// completed yet.
package verify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/sensorgrid/sensorgrid/lib/provision"
	"github.com/sensorgrid/sensorgrid/lib/render"
	"github.com/sensorgrid/sensorgrid/lib/svcunit"
)

// probeTimeout bounds every network-facing probe so the run never
// hangs on an unreachable target.
const probeTimeout = 5 * time.Second

// ProbeStatus is the outcome of a single probe.
type ProbeStatus string

const (
	ProbePass         ProbeStatus = "pass"
	ProbeFail         ProbeStatus = "fail"
	ProbeInconclusive ProbeStatus = "inconclusive"
)

// ProbeResult is a probe outcome with operator-facing detail.
type ProbeResult struct {
	Name   string      `json:"name"`
	Status ProbeStatus `json:"status"`
	Detail string      `json:"detail"`
}

// Overridable for tests.
var (
	connectBroker = defaultConnectBroker
	serviceState  = svcunit.CurrentState
)

// brokerSession is the minimal broker interaction the probe needs.
type brokerSession interface {
	Publish(topic string, payload []byte) error
	Close()
}

// ProbeBroker publishes a test message using the collected credentials
// over TLS. An authentication rejection is a failure; timeouts and
// connection refusals are inconclusive, since the broker side may
// simply not be set up yet.
func ProbeBroker(ctx context.Context, config provision.Config) ProbeResult {
	const name = "broker connectivity"

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	session, err := connectBroker(ctx, config)
	if err != nil {
		if isAuthError(err) {
			return ProbeResult{Name: name, Status: ProbeFail,
				Detail: fmt.Sprintf("broker rejected credentials: %v", err)}
		}
		return ProbeResult{Name: name, Status: ProbeInconclusive,
			Detail: fmt.Sprintf("broker unreachable (expected if broker setup is pending): %v", err)}
	}
	defer session.Close()

	topic := fmt.Sprintf("sensors/%s/debug", config.DeviceID)
	if err := session.Publish(topic, []byte(`{"event":"provision_probe"}`)); err != nil {
		return ProbeResult{Name: name, Status: ProbeInconclusive,
			Detail: fmt.Sprintf("connected but publish did not complete: %v", err)}
	}

	return ProbeResult{Name: name, Status: ProbePass,
		Detail: fmt.Sprintf("test message published to %s", topic)}
}

// ProbeService asks the service manager whether the workload reached
// the running state.
func ProbeService(ctx context.Context) ProbeResult {
	const name = "service health"

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	switch state := serviceState(ctx); state {
	case svcunit.StateRunning:
		return ProbeResult{Name: name, Status: ProbePass, Detail: "service is running"}
	case svcunit.StateFailed:
		return ProbeResult{Name: name, Status: ProbeFail, Detail: "service entered the failed state"}
	case svcunit.StateUnregistered:
		return ProbeResult{Name: name, Status: ProbeFail, Detail: "service is not registered"}
	default:
		return ProbeResult{Name: name, Status: ProbeInconclusive,
			Detail: fmt.Sprintf("service registered but not running (state: %s)", state)}
	}
}

// pahoSession adapts the paho client to brokerSession.
type pahoSession struct {
	client mqtt.Client
}

func (s *pahoSession) Publish(topic string, payload []byte) error {
	token := s.client.Publish(topic, 1, false, payload)
	if !token.WaitTimeout(probeTimeout) {
		return errors.New("publish timed out")
	}
	return token.Error()
}

func (s *pahoSession) Close() {
	s.client.Disconnect(250)
}

// defaultConnectBroker dials the broker the way the workload will:
// TLS on the fixed port, username/password authentication, and no
// certificate verification — the fleet broker uses a self-signed
// certificate issued on the host device.
func defaultConnectBroker(ctx context.Context, config provision.Config) (brokerSession, error) {
	options := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("ssl://%s:%d", config.HostAddress, render.MQTTPort)).
		SetClientID(config.DeviceID + "_probe").
		SetUsername(config.Broker.Username).
		SetPassword(config.Broker.Secret).
		SetTLSConfig(&tls.Config{InsecureSkipVerify: true}).
		SetConnectTimeout(probeTimeout).
		SetConnectRetry(false)

	client := mqtt.NewClient(options)
	token := client.Connect()
	if !token.WaitTimeout(probeTimeout) {
		client.Disconnect(0)
		return nil, errors.New("connect timed out")
	}
	if err := token.Error(); err != nil {
		return nil, err
	}
	return &pahoSession{client: client}, nil
}

// isAuthError distinguishes credential rejections from reachability
// problems.
func isAuthError(err error) bool {
	return errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised)
}
