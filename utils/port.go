package utils

import (
	"fmt"
	"net"
)

// FindFreePort returns a UDP port on the loopback interface that was free
// when it was probed. Another process may take it before the caller binds.
func FindFreePort() (int, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return 0, fmt.Errorf("find free port: %w", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port, nil
}
