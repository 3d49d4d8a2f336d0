//go:build !linux

package mvfst

import (
	"net"
	"syscall"
)

func setDontFragment(conn *net.UDPConn) error {
	return nil
}

func controlReusePort(network, address string, c syscall.RawConn) error {
	return nil
}
