package conn

import (
	"errors"
	"net"
	"syscall"
)

// StdNetBind implements Bind using the standard library's net package.
// It is the portable fallback; a platform with sticky-socket / source
// caching support would implement Bind with raw sockets instead, but
// that is out of scope here (see DESIGN.md).
type StdNetBind struct {
	ipv4       *net.UDPConn
	ipv6       *net.UDPConn
	blackhole4 bool
	blackhole6 bool
}

func NewStdNetBind() *StdNetBind { return &StdNetBind{} }

var _ Bind = (*StdNetBind)(nil)

type StdNetEndpoint net.UDPAddr

var _ Endpoint = (*StdNetEndpoint)(nil)

func (*StdNetEndpoint) ClearSrc() {}

func (e *StdNetEndpoint) DstIP() net.IP {
	return (*net.UDPAddr)(e).IP
}

func (e *StdNetEndpoint) SrcIP() net.IP {
	return nil // source address caching not supported by this bind
}

func (e *StdNetEndpoint) DstToBytes() []byte {
	addr := (*net.UDPAddr)(e)
	out := addr.IP.To4()
	if out == nil {
		out = addr.IP
	}
	out = append(out, byte(addr.Port&0xff), byte((addr.Port>>8)&0xff))
	return out
}

func (e *StdNetEndpoint) DstToString() string {
	return (*net.UDPAddr)(e).String()
}

func (e *StdNetEndpoint) SrcToString() string {
	return ""
}

func listenNet(network string, port int) (*net.UDPConn, int, error) {
	conn, err := net.ListenUDP(network, &net.UDPAddr{Port: port})
	if err != nil {
		return nil, 0, err
	}
	uaddr, err := net.ResolveUDPAddr(conn.LocalAddr().Network(), conn.LocalAddr().String())
	if err != nil {
		return nil, 0, err
	}
	return conn, uaddr.Port, nil
}

func (bind *StdNetBind) Open(uport uint16) (uint16, error) {
	if bind.ipv4 != nil || bind.ipv6 != nil {
		return 0, ErrBindAlreadyOpen
	}

	var err error
	var tries int

again:
	port := int(uport)
	var ipv4, ipv6 *net.UDPConn

	ipv4, port, err = listenNet("udp4", port)
	if err != nil && !errors.Is(err, syscall.EAFNOSUPPORT) {
		return 0, err
	}

	ipv6, port, err = listenNet("udp6", port)
	if uport == 0 && errors.Is(err, syscall.EADDRINUSE) && tries < 100 {
		if ipv4 != nil {
			ipv4.Close()
		}
		tries++
		goto again
	}
	if err != nil && !errors.Is(err, syscall.EAFNOSUPPORT) {
		if ipv4 != nil {
			ipv4.Close()
		}
		return 0, err
	}
	if ipv4 == nil && ipv6 == nil {
		return 0, syscall.EAFNOSUPPORT
	}

	bind.ipv4 = ipv4
	bind.ipv6 = ipv6
	return uint16(port), nil
}

func (bind *StdNetBind) Close() error {
	var err1, err2 error
	if bind.ipv4 != nil {
		err1 = bind.ipv4.Close()
		bind.ipv4 = nil
	}
	if bind.ipv6 != nil {
		err2 = bind.ipv6.Close()
		bind.ipv6 = nil
	}
	bind.blackhole4 = false
	bind.blackhole6 = false
	if err1 != nil {
		return err1
	}
	return err2
}

func (bind *StdNetBind) ReceiveIPv4(b []byte) (int, Endpoint, error) {
	if bind.ipv4 == nil {
		return 0, nil, syscall.EAFNOSUPPORT
	}
	n, addr, err := bind.ipv4.ReadFromUDP(b)
	if addr != nil {
		addr.IP = addr.IP.To4()
	}
	return n, (*StdNetEndpoint)(addr), err
}

func (bind *StdNetBind) ReceiveIPv6(b []byte) (int, Endpoint, error) {
	if bind.ipv6 == nil {
		return 0, nil, syscall.EAFNOSUPPORT
	}
	n, addr, err := bind.ipv6.ReadFromUDP(b)
	return n, (*StdNetEndpoint)(addr), err
}

func (bind *StdNetBind) Send(b []byte, ep Endpoint) error {
	nend, ok := ep.(*StdNetEndpoint)
	if !ok {
		return ErrWrongEndpointType
	}

	var conn *net.UDPConn
	var blackhole bool
	if nend.IP.To4() != nil {
		conn, blackhole = bind.ipv4, bind.blackhole4
	} else {
		conn, blackhole = bind.ipv6, bind.blackhole6
	}
	if blackhole {
		return nil
	}
	if conn == nil {
		return syscall.EAFNOSUPPORT
	}
	_, err := conn.WriteToUDP(b, (*net.UDPAddr)(nend))
	return err
}
