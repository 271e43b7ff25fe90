package net

import (
	"fmt"
	"net"
	"strconv"
)

// DefaultMaxProbes is the number of consecutive ports FindFreePort tries when maxProbes is not positive.
const DefaultMaxProbes = 100

func GetEphemeralTCPPort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, fmt.Errorf("resolving localhost:0: %w", err)
	}
	listener, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, fmt.Errorf("listening to acquire port: %w", err)
	}
	defer listener.Close()
	return listener.Addr().(*net.TCPAddr).Port, nil
}

// FindFreePort returns the first port in [startPort, startPort+maxProbes) that can be bound on host.
// If none can be bound, startPort is returned unchanged and the caller will find out at bind time.
func FindFreePort(host string, startPort, maxProbes int) int {
	if maxProbes <= 0 {
		maxProbes = DefaultMaxProbes
	}
	for port := startPort; port < startPort+maxProbes; port++ {
		if canBind(host, port) {
			return port
		}
	}
	return startPort
}

func canBind(host string, port int) bool {
	listener, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	listener.Close()
	return true
}
