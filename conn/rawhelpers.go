package conn

import (
	"encoding/binary"
	"errors"
	"net"

	"golang.org/x/net/ipv4"
)

var errBindNotOpen = errors.New("conn: raw bind not open for this address family")

// rebuildIPv4 reassembles the header and UDP+payload golang.org/x/net/ipv4
// split apart on read, so device.ParseOuterFrame sees the same envelope
// a raw socket read would have handed a C implementation.
func rebuildIPv4(hdr *ipv4.Header, payload []byte) []byte {
	raw, err := hdr.Marshal()
	if err != nil {
		return payload
	}
	return append(raw, payload...)
}

// udpPortFrom reads the UDP source port from the first 2 bytes of a
// UDP header fragment.
func udpPortFrom(udp []byte) (uint16, bool) {
	if len(udp) < 2 {
		return 0, false
	}
	return binary.BigEndian.Uint16(udp[0:2]), true
}

func endpointFromIPv4(hdr *ipv4.Header, payload []byte) Endpoint {
	port, _ := udpPortFrom(payload)
	addr := &net.UDPAddr{IP: hdr.Src, Port: int(port)}
	return (*StdNetEndpoint)(addr)
}
