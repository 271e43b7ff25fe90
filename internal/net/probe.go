package net

import (
	"context"
	"net"
	"strconv"
	"time"
)

var (
	// ProbeInterval is how long WaitUntilReady sleeps between failed connection attempts.
	ProbeInterval = 500 * time.Millisecond
	// DialTimeout bounds a single connection attempt.
	DialTimeout = 1 * time.Second
)

// WaitUntilReady polls host:port until a TCP connection succeeds, returning false once timeout has elapsed or ctx is done.
// Connection errors only mean "not ready yet".
func WaitUntilReady(ctx context.Context, host string, port int, timeout time.Duration) bool {
	addr := net.JoinHostPort(host, strconv.Itoa(port))
	dialer := &net.Dialer{Timeout: DialTimeout}
	start := time.Now()
	for time.Since(start) < timeout {
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			conn.Close()
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(ProbeInterval):
		}
	}
	return false
}
