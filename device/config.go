package device

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/wireward/tunneld/conn"
)

// IpcGetOperation serializes the device's current configuration as a
// sequence of "key=value" lines terminated by a blank line, matching
// the teacher's UAPI line protocol (spec.md §4.O).
func (d *Device) IpcGetOperation(w io.Writer) error {
	bw := bufio.NewWriter(w)

	d.staticIdentity.mu.RLock()
	fmt.Fprintf(bw, "private_key=%s\n", d.staticIdentity.privateKey.ToHex())
	d.staticIdentity.mu.RUnlock()

	d.net.mu.RLock()
	fmt.Fprintf(bw, "listen_port=%d\n", d.net.port)
	d.net.mu.RUnlock()

	d.peers.mu.RLock()
	for _, peer := range d.peers.all {
		peer.mu.RLock()
		fmt.Fprintf(bw, "public_key=%s\n", peer.handshake.remoteStatic.ToHex())
		if peer.handshake.hasPresharedKey() {
			fmt.Fprintf(bw, "preshared_key=%s\n", peer.handshake.presharedKey.ToHex())
		}
		if ep := peer.endpoint; ep != nil {
			fmt.Fprintf(bw, "endpoint=%s\n", ep.DstToString())
		}
		fmt.Fprintf(bw, "last_handshake_time_nsec=%d\n", peer.stats.lastHandshakeNano)
		fmt.Fprintf(bw, "rx_bytes=%d\n", peer.stats.rxBytes)
		fmt.Fprintf(bw, "tx_bytes=%d\n", peer.stats.txBytes)
		peer.mu.RUnlock()
	}
	d.peers.mu.RUnlock()

	d.allowedIPs.EachEntry(func(ip net.IP, cidr uint8, peer *Peer) {
		fmt.Fprintf(bw, "allowed_ip=%s/%d\n", ip.String(), cidr)
	})

	fmt.Fprint(bw, "\n")
	return bw.Flush()
}

// IpcSetOperation applies a configuration transaction read from r,
// line by line, in the same "key=value" format IpcGetOperation emits.
func (d *Device) IpcSetOperation(r io.Reader) error {
	scanner := bufio.NewScanner(r)

	var current *Peer
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			current = nil
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return &IpcError{fmt.Errorf("device: malformed config line %q", line)}
		}

		switch key {
		case "private_key":
			var sk NoisePrivateKey
			if err := sk.FromHex(value); err != nil {
				return &IpcError{err}
			}
			d.SetPrivateKey(sk)
		case "listen_port":
			port, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return &IpcError{err}
			}
			d.net.mu.Lock()
			d.net.port = uint16(port)
			d.net.mu.Unlock()
		case "public_key":
			var pk NoisePublicKey
			if err := pk.FromHex(value); err != nil {
				return &IpcError{err}
			}
			peer, err := d.NewPeer(pk)
			if err != nil {
				return &IpcError{err}
			}
			current = peer
		case "preshared_key":
			if current == nil {
				return &IpcError{fmt.Errorf("device: preshared_key set with no preceding public_key")}
			}
			var psk NoiseSymmetricKey
			if err := psk.FromHex(value); err != nil {
				return &IpcError{err}
			}
			current.handshake.SetPresharedKey(psk)
		case "endpoint":
			if current == nil {
				return &IpcError{fmt.Errorf("device: endpoint set with no preceding public_key")}
			}
			ep, err := conn.ParseEndpoint(value)
			if err != nil {
				return &IpcError{err}
			}
			current.SetEndpoint(ep)
		case "allowed_ip":
			if current == nil {
				return &IpcError{fmt.Errorf("device: allowed_ip set with no preceding public_key")}
			}
			ip, network, err := net.ParseCIDR(value)
			if err != nil {
				return &IpcError{err}
			}
			ones, _ := network.Mask.Size()
			if err := d.allowedIPs.Insert(ip, uint8(ones), current); err != nil {
				return &IpcError{err}
			}
		default:
			return &IpcError{fmt.Errorf("device: unrecognized config key %q", key)}
		}
	}
	return scanner.Err()
}

// IpcError wraps a config-protocol failure; kept as its own type so a
// caller bridging this onto an actual UAPI socket can format it the
// way the teacher's uapi.go does.
type IpcError struct {
	err error
}

func (e *IpcError) Error() string { return e.err.Error() }
func (e *IpcError) Unwrap() error { return e.err }
