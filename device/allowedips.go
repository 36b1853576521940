package device

import (
	"fmt"
	"net"
	"sync"

	"github.com/google/btree"
)

// allowedIPsNode is one node of the per-family binary trie used for
// longest-prefix-match cryptokey routing (spec.md §4.K). Matches the
// teacher's bit-trie shape: each node owns up to two children keyed
// by the next unread bit of the address.
type allowedIPsNode struct {
	peer        *Peer
	child       [2]*allowedIPsNode
	bits        []byte
	cidr        uint8
}

func (n *allowedIPsNode) bitAt(i uint8) bool {
	return (n.bits[i/8]>>(7-i%8))&1 == 1
}

func commonBits(a, b []byte) uint8 {
	var i uint8
	for i = 0; int(i) < len(a)*8; i++ {
		if bitAt(a, i) != bitAt(b, i) {
			break
		}
	}
	return i
}

func bitAt(b []byte, i uint8) bool {
	return (b[i/8]>>(7-i%8))&1 == 1
}

// cidrEntry is the ordered-index record kept in the listing btree so
// IPC dumps (spec.md §4.O) and diagnostics can enumerate a peer's
// allowed-IPs set in a stable, sorted order without walking the trie.
type cidrEntry struct {
	family int // 4 or 6
	bits   [16]byte
	cidr   uint8
	peer   *Peer
}

func (a cidrEntry) Less(other cidrEntry) bool {
	if a.family != other.family {
		return a.family < other.family
	}
	for i := range a.bits {
		if a.bits[i] != other.bits[i] {
			return a.bits[i] < other.bits[i]
		}
	}
	return a.cidr < other.cidr
}

func (a cidrEntry) String() string {
	ip := net.IP(a.bits[:4])
	if a.family == 6 {
		ip = net.IP(a.bits[:])
	}
	return fmt.Sprintf("%s/%d", ip.String(), a.cidr)
}

// AllowedIPs is the cryptokey routing table: it answers "which peer,
// if any, is authorized to send/receive this address" in O(prefix
// length) via a trie, while also keeping a btree.BTreeG index for
// ordered enumeration (peer removal, IPC dumps) that the trie itself
// doesn't support cheaply.
type AllowedIPs struct {
	mu        sync.RWMutex
	ipv4      *allowedIPsNode
	ipv6      *allowedIPsNode
	listing   *btree.BTreeG[cidrEntry]
}

func NewAllowedIPs() *AllowedIPs {
	return &AllowedIPs{
		listing: btree.NewG(32, cidrEntry.Less),
	}
}

// Insert grants peer routing authority over the CIDR ip/cidr.
func (t *AllowedIPs) Insert(ip net.IP, cidr uint8, peer *Peer) error {
	bits, family, err := normalizeIP(ip)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	root := &t.ipv4
	if family == 6 {
		root = &t.ipv6
	}
	*root = insertNode(*root, bits, cidr, peer)

	var e cidrEntry
	e.family = family
	copy(e.bits[:], bits)
	e.cidr = cidr
	e.peer = peer
	t.listing.ReplaceOrInsert(e)
	return nil
}

func insertNode(node *allowedIPsNode, bits []byte, cidr uint8, peer *Peer) *allowedIPsNode {
	if node == nil {
		return &allowedIPsNode{peer: peer, bits: bits, cidr: cidr}
	}
	common := commonBits(node.bits, bits)
	if common > cidr {
		common = cidr
	}
	if common >= node.cidr && cidr == node.cidr {
		node.peer = peer
		return node
	}
	if common >= node.cidr {
		idx := 0
		if bitAt(bits, node.cidr) {
			idx = 1
		}
		node.child[idx] = insertNode(node.child[idx], bits, cidr, peer)
		return node
	}

	split := &allowedIPsNode{bits: bits, cidr: common}
	idxOld := 0
	if bitAt(node.bits, common) {
		idxOld = 1
	}
	split.child[idxOld] = node
	if common == cidr {
		split.peer = peer
	} else {
		idxNew := 1 - idxOld
		split.child[idxNew] = &allowedIPsNode{peer: peer, bits: bits, cidr: cidr}
	}
	return split
}

// lookup walks the trie for ip, returning the most specific peer
// authorized for it, or nil.
func lookup(node *allowedIPsNode, bits []byte) *Peer {
	var match *Peer
	for node != nil {
		if commonBits(node.bits, bits) < node.cidr {
			break
		}
		if node.peer != nil {
			match = node.peer
		}
		if int(node.cidr) >= len(bits)*8 {
			break
		}
		idx := 0
		if bitAt(bits, node.cidr) {
			idx = 1
		}
		node = node.child[idx]
	}
	return match
}

// LookupIPv4 enforces cryptokey routing on an inbound packet's source
// (or an outbound packet's destination): is peer authorized for ip?
func (t *AllowedIPs) LookupIPv4(ip net.IP) *Peer {
	bits, family, err := normalizeIP(ip)
	if err != nil || family != 4 {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lookup(t.ipv4, bits)
}

func (t *AllowedIPs) LookupIPv6(ip net.IP) *Peer {
	bits, family, err := normalizeIP(ip)
	if err != nil || family != 6 {
		return nil
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lookup(t.ipv6, bits)
}

// RemovePeer deletes every entry belonging to peer, from both the
// trie (rebuilt) and the listing index.
func (t *AllowedIPs) RemovePeer(peer *Peer) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var kept []cidrEntry
	t.listing.Ascend(func(e cidrEntry) bool {
		if e.peer != peer {
			kept = append(kept, e)
		}
		return true
	})

	t.listing.Clear(false)
	t.ipv4, t.ipv6 = nil, nil
	for _, e := range kept {
		t.listing.ReplaceOrInsert(e)
		root := &t.ipv4
		if e.family == 6 {
			root = &t.ipv6
		}
		bits := append([]byte{}, e.bits[:]...)
		if e.family == 4 {
			bits = bits[:4]
		}
		*root = insertNode(*root, bits, e.cidr, e.peer)
	}
}

// EachEntry calls fn once per allowed-IP entry in sorted order, for
// config/IPC dumps (spec.md §4.O).
func (t *AllowedIPs) EachEntry(fn func(ip net.IP, cidr uint8, peer *Peer)) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	t.listing.Ascend(func(e cidrEntry) bool {
		ip := net.IP(append([]byte{}, e.bits[:4]...))
		if e.family == 6 {
			ip = net.IP(append([]byte{}, e.bits[:]...))
		}
		fn(ip, e.cidr, e.peer)
		return true
	})
}

func normalizeIP(ip net.IP) (bits []byte, family int, err error) {
	if v4 := ip.To4(); v4 != nil {
		return v4, 4, nil
	}
	if v6 := ip.To16(); v6 != nil {
		return v6, 6, nil
	}
	return nil, 0, fmt.Errorf("device: not a valid IPv4/IPv6 address: %v", ip)
}
