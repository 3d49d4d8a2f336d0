//go:build linux

package mvfst

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// setDontFragment disables path MTU discovery on the socket: the DF
// bit stays set and the kernel never fragments outgoing datagrams.
func setDontFragment(conn *net.UDPConn) error {
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}
	var v4err, v6err error
	err = raw.Control(func(fd uintptr) {
		v4err = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_MTU_DISCOVER, unix.IP_PMTUDISC_PROBE)
		v6err = unix.SetsockoptInt(int(fd), unix.IPPROTO_IPV6, unix.IPV6_MTU_DISCOVER, unix.IPV6_PMTUDISC_PROBE)
	})
	if err != nil {
		return err
	}
	// One of the families may be absent on this socket.
	if v4err != nil && v6err != nil {
		return v4err
	}
	return nil
}

// controlReusePort lets every worker bind its own socket to the same
// address, the kernel spreading datagrams between them.
func controlReusePort(network, address string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return serr
}
