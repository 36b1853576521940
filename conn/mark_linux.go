//go:build linux

package conn

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// SetMark sets SO_MARK on the bind's underlying sockets so routing
// policy (ip rule, nftables) can steer tunnel traffic separately from
// the rest of the host's egress. It mirrors the fwmark support the
// reference implementation wires up per-platform; other platforms get
// a no-op (see mark_other.go).
func (bind *StdNetBind) SetMark(mark uint32) error {
	var err4, err6 error
	if bind.ipv4 != nil {
		err4 = setSockoptMark(bind.ipv4, mark)
	}
	if bind.ipv6 != nil {
		err6 = setSockoptMark(bind.ipv6, mark)
	}
	if err4 != nil {
		return err4
	}
	return err6
}

func setSockoptMark(sc syscall.Conn, mark uint32) error {
	raw, err := sc.SyscallConn()
	if err != nil {
		return err
	}
	var sockErr error
	err = raw.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_MARK, int(mark))
	})
	if err != nil {
		return err
	}
	return sockErr
}

func (bind *RawIPBind) SetMark(mark uint32) error {
	var err4, err6 error
	if bind.raw4 != nil {
		err4 = setSockoptMark(bind.raw4, mark)
	}
	if bind.raw6 != nil {
		err6 = setSockoptMark(bind.raw6, mark)
	}
	if err4 != nil {
		return err4
	}
	return err6
}
