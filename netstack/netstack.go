// Package netstack delivers decrypted inner IP packets into a
// userspace network stack instead of a TUN device, so this module can
// run as a pure library: component N of the receive-path demultiplexer
// (spec.md's "delivery" collaborator) hands packets here instead of
// writing them to an OS-level interface.
//
// It is grounded on the teacher's tun/netstack package, adapted to
// inject directly off the wire rather than emulate a tun.Device.
package netstack

import (
	"context"
	"fmt"
	"net"

	"gvisor.dev/gvisor/pkg/buffer"
	"gvisor.dev/gvisor/pkg/tcpip"
	"gvisor.dev/gvisor/pkg/tcpip/adapters/gonet"
	"gvisor.dev/gvisor/pkg/tcpip/header"
	"gvisor.dev/gvisor/pkg/tcpip/link/channel"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv4"
	"gvisor.dev/gvisor/pkg/tcpip/network/ipv6"
	"gvisor.dev/gvisor/pkg/tcpip/stack"
	"gvisor.dev/gvisor/pkg/tcpip/transport/tcp"
	"gvisor.dev/gvisor/pkg/tcpip/transport/udp"
)

const nicID = 1

// Stack wraps a gvisor userspace network stack that terminates the
// tunnel's decrypted traffic, implementing device.Deliverer.
type Stack struct {
	stack *stack.Stack
	link  *channel.Endpoint
	mtu   int
}

// New builds a Stack owning localAddresses on its single NIC, with the
// given MTU (must match the tunnel's effective MTU so gvisor doesn't
// fragment packets the wire never expected).
func New(localAddresses []net.IP, mtu int) (*Stack, error) {
	opts := stack.Options{
		NetworkProtocols:   []stack.NetworkProtocolFactory{ipv4.NewProtocol, ipv6.NewProtocol},
		TransportProtocols: []stack.TransportProtocolFactory{tcp.NewProtocol, udp.NewProtocol},
		HandleLocal:        true,
	}
	s := &Stack{
		stack: stack.New(opts),
		link:  channel.New(1024, uint32(mtu), ""),
		mtu:   mtu,
	}

	if err := s.stack.CreateNIC(nicID, s.link); err != nil {
		return nil, fmt.Errorf("netstack: CreateNIC: %v", err)
	}

	var hasV4, hasV6 bool
	for _, ip := range localAddresses {
		if v4 := ip.To4(); v4 != nil {
			if err := s.stack.AddAddress(nicID, ipv4.ProtocolNumber, tcpip.Address(v4)); err != nil {
				return nil, fmt.Errorf("netstack: AddAddress(%v): %v", v4, err)
			}
			hasV4 = true
			continue
		}
		if err := s.stack.AddAddress(nicID, ipv6.ProtocolNumber, tcpip.Address(ip.To16())); err != nil {
			return nil, fmt.Errorf("netstack: AddAddress(%v): %v", ip, err)
		}
		hasV6 = true
	}
	if hasV4 {
		s.stack.AddRoute(tcpip.Route{Destination: header.IPv4EmptySubnet, NIC: nicID})
	}
	if hasV6 {
		s.stack.AddRoute(tcpip.Route{Destination: header.IPv6EmptySubnet, NIC: nicID})
	}

	return s, nil
}

// Deliver injects one decrypted inner IP packet into the stack's NIC,
// as if it had arrived on a real network interface. It implements
// device.Deliverer.
func (s *Stack) Deliver(packet []byte) error {
	if len(packet) < 1 {
		return fmt.Errorf("netstack: empty packet")
	}

	proto := header.IPv4ProtocolNumber
	if packet[0]>>4 == 6 {
		proto = header.IPv6ProtocolNumber
	}

	pkt := stack.NewPacketBuffer(stack.PacketBufferOptions{
		Payload: buffer.MakeWithData(append([]byte(nil), packet...)),
	})
	s.link.InjectInbound(proto, pkt)
	return nil
}

// DialContext opens an outbound TCP connection through the stack,
// used by anything downstream of the tunnel that wants to originate
// connections toward peers (mirrors the teacher's Net.DialContext).
func (s *Stack) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return nil, fmt.Errorf("netstack: %q is not a literal IP address", host)
	}

	var nicAddr tcpip.Address
	var proto tcpip.NetworkProtocolNumber = ipv4.ProtocolNumber
	if v4 := ip.To4(); v4 != nil {
		nicAddr = tcpip.Address(v4)
	} else {
		nicAddr = tcpip.Address(ip.To16())
		proto = ipv6.ProtocolNumber
	}

	var port int
	if _, err := fmt.Sscanf(portStr, "%d", &port); err != nil {
		return nil, err
	}

	fa := tcpip.FullAddress{NIC: nicID, Addr: nicAddr, Port: uint16(port)}
	conn, err := gonet.DialContextTCP(ctx, s.stack, fa, proto)
	if err != nil {
		return nil, err
	}
	return conn, nil
}
