// Copyright 2026 The SensorGrid Authors
// SPDX-License-Identifier: Apache-2.0

// Package envdetect determines where and as whom the provisioning tool
// is running: the invoking identity, the install root derived from it,
// and the device role inferred from the local network address. Detection
// is purely local — it enumerates interfaces and reads the hostname but
// never touches the network.
package envdetect

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"strings"
)

// Role is the fleet-side identity of a device. The host device runs the
// broker locally; clients publish to the host.
type Role string

const (
	RoleHost   Role = "host"
	RoleClient Role = "client"
)

// Known fleet addresses. The host device has a fixed address; clients
// either match the documented client address or fall back to a
// hostname-derived identity with the host as broker target.
const (
	hostAddress   = "192.168.1.112"
	clientAddress = "192.168.1.145"
)

// Install roots by invoking identity. Any other identity is rejected
// before the pipeline mutates anything.
var installRoots = map[string]string{
	"pi":   "/home/pi/sensorgrid",
	"root": "/opt/sensorgrid",
}

// Environment describes the detected execution context.
type Environment struct {
	// User is the invoking identity's username.
	User string

	// InstallRoot is the fixed install root for the invoking identity.
	InstallRoot string

	// Role is host or client, inferred from LocalAddress.
	Role Role

	// DeviceIDPrefix seeds the default device identifier.
	DeviceIDPrefix string

	// BrokerAddress is the default broker target for this role.
	BrokerAddress string

	// LocalAddress is the first non-loopback IPv4 address, or empty when
	// the device has none.
	LocalAddress string

	// Hostname is the local hostname, used for the fallback identity.
	Hostname string
}

// Overridable for tests.
var (
	currentUser    = user.Current
	localAddress   = firstIPv4Address
	lookupHostname = os.Hostname
)

// Detect resolves the execution environment. It fails when the invoking
// identity is not one of the recognized identities; this is a
// precondition check and happens before any mutation.
func Detect() (*Environment, error) {
	invoker, err := currentUser()
	if err != nil {
		return nil, fmt.Errorf("resolving invoking identity: %w", err)
	}

	installRoot, ok := installRoots[invoker.Username]
	if !ok {
		return nil, fmt.Errorf("unrecognized invoking identity %q: run as one of %s",
			invoker.Username, strings.Join(recognizedIdentities(), ", "))
	}

	hostname, err := lookupHostname()
	if err != nil {
		return nil, fmt.Errorf("reading hostname: %w", err)
	}

	address := localAddress()

	env := &Environment{
		User:         invoker.Username,
		InstallRoot:  installRoot,
		LocalAddress: address,
		Hostname:     hostname,
	}

	switch address {
	case hostAddress:
		env.Role = RoleHost
		env.DeviceIDPrefix = "host_sensors"
		env.BrokerAddress = "127.0.0.1"
	case clientAddress:
		env.Role = RoleClient
		env.DeviceIDPrefix = "client_sensors"
		env.BrokerAddress = hostAddress
	default:
		// Fallback for fleet members beyond the two documented hosts:
		// hostname-derived identity, broker on the host device.
		env.Role = RoleClient
		env.DeviceIDPrefix = strings.ToLower(hostname) + "_sensors"
		env.BrokerAddress = hostAddress
	}

	return env, nil
}

func recognizedIdentities() []string {
	identities := make([]string, 0, len(installRoots))
	for identity := range installRoots {
		identities = append(identities, identity)
	}
	return identities
}

// firstIPv4Address returns the first non-loopback IPv4 address of an
// interface that is up, or empty when none exists. Interface order is
// the kernel's enumeration order, which is stable across a run.
func firstIPv4Address() string {
	interfaces, err := net.Interfaces()
	if err != nil {
		return ""
	}
	for _, networkInterface := range interfaces {
		if networkInterface.Flags&net.FlagUp == 0 || networkInterface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addresses, err := networkInterface.Addrs()
		if err != nil {
			continue
		}
		for _, address := range addresses {
			ipNet, ok := address.(*net.IPNet)
			if !ok {
				continue
			}
			if ip := ipNet.IP.To4(); ip != nil {
				return ip.String()
			}
		}
	}
	return ""
}
