package dependency

import (
	"fmt"
	"net"
	"strings"
)

// AddressResolver normalizes and validates the address a dependency binds.
// It is an explicit strategy so orchestration code stays independent from
// any particular network layout.
type AddressResolver interface {
	Resolve(address string) (string, error)
}

// LoopbackResolver only admits loopback addresses. An empty host resolves
// to 127.0.0.1, keeping build-time dependencies off externally reachable
// interfaces.
type LoopbackResolver struct{}

func (LoopbackResolver) Resolve(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("address is empty")
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return "", fmt.Errorf("parse address %q: %w", address, err)
	}
	if port == "" {
		return "", fmt.Errorf("address %q has no port", address)
	}
	if host == "" || host == "localhost" {
		return net.JoinHostPort("127.0.0.1", port), nil
	}

	ip := net.ParseIP(host)
	if ip == nil {
		return "", fmt.Errorf("address host %q is not an IP or localhost", host)
	}
	if !ip.IsLoopback() {
		return "", fmt.Errorf("address %q is not loopback", address)
	}
	return net.JoinHostPort(host, port), nil
}

// PassthroughResolver admits any well-formed host:port. It suits borrowed
// dependencies that live on another host.
type PassthroughResolver struct{}

func (PassthroughResolver) Resolve(address string) (string, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return "", fmt.Errorf("address is empty")
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return "", fmt.Errorf("parse address %q: %w", address, err)
	}
	return address, nil
}
