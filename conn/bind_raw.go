package conn

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// RawIPBind reads whole IP datagrams — outer IP header, UDP header,
// and tunnel payload together — rather than letting the kernel strip
// the encapsulation for us. It exists so the outer-frame parser (see
// device.ParseOuterFrame) has a real envelope to validate instead of
// an already-stripped UDP payload; StdNetBind remains the portable
// default for callers that don't need that. This holds for IPv4 only:
// the IPv6 raw socket delivers the UDP header and payload without the
// outer IPv6 header.
//
// Opening a RawIPBind requires CAP_NET_RAW (or equivalent) since it
// listens on a raw IP socket for protocol 17 (UDP).
type RawIPBind struct {
	ipv4 *ipv4.RawConn
	ipv6 *ipv6.PacketConn
	raw4 *net.IPConn
	raw6 *net.IPConn
}

func NewRawIPBind() *RawIPBind { return &RawIPBind{} }

var _ Bind = (*RawIPBind)(nil)

func (bind *RawIPBind) Open(_ uint16) (uint16, error) {
	raw4, err := net.ListenIP("ip4:udp", &net.IPAddr{})
	if err == nil {
		rc, err := ipv4.NewRawConn(raw4)
		if err == nil {
			bind.raw4 = raw4
			bind.ipv4 = rc
		}
	}

	raw6, err := net.ListenIP("ip6:udp", &net.IPAddr{})
	if err == nil {
		pc := ipv6.NewPacketConn(raw6)
		bind.raw6 = raw6
		bind.ipv6 = pc
	}

	if bind.ipv4 == nil && bind.ipv6 == nil {
		return 0, err
	}
	return 0, nil
}

func (bind *RawIPBind) Close() error {
	var err error
	if bind.raw4 != nil {
		err = bind.raw4.Close()
		bind.raw4, bind.ipv4 = nil, nil
	}
	if bind.raw6 != nil {
		if e := bind.raw6.Close(); err == nil {
			err = e
		}
		bind.raw6, bind.ipv6 = nil, nil
	}
	return err
}

// ReceiveIPv4 reads one full raw IPv4 datagram (header included) into
// b and reports the UDP source as the Endpoint.
func (bind *RawIPBind) ReceiveIPv4(b []byte) (int, Endpoint, error) {
	if bind.ipv4 == nil {
		return 0, nil, errBindNotOpen
	}
	hdr, payload, _, err := bind.ipv4.ReadFrom(b)
	if err != nil {
		return 0, nil, err
	}
	n := copy(b, rebuildIPv4(hdr, payload))
	return n, endpointFromIPv4(hdr, payload), nil
}

func (bind *RawIPBind) ReceiveIPv6(b []byte) (int, Endpoint, error) {
	if bind.ipv6 == nil {
		return 0, nil, errBindNotOpen
	}
	n, _, src, err := bind.ipv6.ReadFrom(b)
	if err != nil {
		return 0, nil, err
	}
	udpSrc, _ := udpPortFrom(b[:n])
	addr := &net.UDPAddr{Port: int(udpSrc)}
	if ipAddr, ok := src.(*net.IPAddr); ok {
		addr.IP = ipAddr.IP
	}
	return n, (*StdNetEndpoint)(addr), nil
}

func (bind *RawIPBind) Send(b []byte, ep Endpoint) error {
	nend, ok := ep.(*StdNetEndpoint)
	if !ok {
		return ErrWrongEndpointType
	}
	if nend.IP.To4() != nil && bind.raw4 != nil {
		_, err := bind.raw4.WriteToIP(b, &net.IPAddr{IP: nend.IP})
		return err
	}
	if bind.raw6 != nil {
		_, err := bind.raw6.WriteToIP(b, &net.IPAddr{IP: nend.IP})
		return err
	}
	return errBindNotOpen
}
