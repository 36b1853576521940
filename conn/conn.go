// Package conn implements the tunnel's UDP network connections.
package conn

import (
	"errors"
	"net"
	"strings"
)

// A Bind listens on a port for both IPv6 and IPv4 UDP traffic.
type Bind interface {
	// Open binds to a port and returns the actual port bound to.
	// A port of zero asks the kernel to pick one.
	Open(port uint16) (actualPort uint16, err error)

	// ReceiveIPv4 reads an IPv4 UDP datagram into b.
	ReceiveIPv4(b []byte) (n int, ep Endpoint, err error)

	// ReceiveIPv6 reads an IPv6 UDP datagram into b.
	ReceiveIPv6(b []byte) (n int, ep Endpoint, err error)

	// Send writes a datagram b to ep.
	Send(b []byte, ep Endpoint) error

	// Close closes the Bind.
	Close() error
}

// Marker is implemented by Binds that can set a firewall mark (SO_MARK)
// on their underlying sockets, so routing policy can steer tunnel
// egress separately from the rest of the host. Both Bind
// implementations in this package support it on Linux; callers on
// other platforms get a no-op rather than a type assertion failure.
type Marker interface {
	SetMark(mark uint32) error
}

// An Endpoint maintains the source/destination caching for a peer.
//
//	dst : the remote address of a peer (its "endpoint")
//	src : the local address from which datagrams originate going to the peer
type Endpoint interface {
	ClearSrc()           // clears the source address
	SrcToString() string // local source address (ip:port)
	DstToString() string // remote destination address (ip:port)
	DstToBytes() []byte  // remote address and port as raw bytes
	DstIP() net.IP
	SrcIP() net.IP
}

var (
	ErrBindAlreadyOpen  = errors.New("bind already open")
	ErrWrongEndpointType = errors.New("endpoint type does not match bind type")
)

func parseEndpoint(s string) (*net.UDPAddr, error) {
	host, _, err := net.SplitHostPort(s)
	if err != nil {
		return nil, err
	}
	if i := strings.LastIndexByte(host, '%'); i > 0 && strings.IndexByte(host, ':') >= 0 {
		host = host[:i]
	}
	if ip := net.ParseIP(host); ip == nil {
		return nil, errors.New("failed to parse IP address: " + host)
	}

	addr, err := net.ResolveUDPAddr("udp", s)
	if err != nil {
		return nil, err
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		addr.IP = ip4
	}
	return addr, nil
}

// ParseEndpoint resolves a "host:port" string into an Endpoint usable
// with a StdNetBind.
func ParseEndpoint(s string) (Endpoint, error) {
	addr, err := parseEndpoint(s)
	if err != nil {
		return nil, err
	}
	return (*StdNetEndpoint)(addr), nil
}
