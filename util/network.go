package util

import (
	"fmt"
	"net"
	"strconv"
)

// FormatAddr returns "host:port".
func FormatAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// DialAddr turns a host address into something a dialer accepts.  An
// address that already carries a port wins over port, and port wins
// over defaultPort.
func DialAddr(address string, port, defaultPort int) (string, error) {
	if address == "" {
		return "", fmt.Errorf("empty host address")
	}
	if h, p, err := net.SplitHostPort(address); err == nil {
		if h == "" {
			return "", fmt.Errorf("missing host in %q", address)
		}
		if _, err := strconv.Atoi(p); err != nil {
			return "", fmt.Errorf("invalid port in %q", address)
		}
		return address, nil
	}
	if port <= 0 {
		port = defaultPort
	}
	if port < 1 || port > 65535 {
		return "", fmt.Errorf("port %d out of range 1-65535", port)
	}
	return FormatAddr(address, port), nil
}
