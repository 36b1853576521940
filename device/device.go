package device

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/wireward/tunneld/conn"
	"github.com/wireward/tunneld/fec"
	"github.com/wireward/tunneld/ratelimiter"
)

// Deliverer hands a fully decrypted inner IP packet to whatever sits
// above the tunnel — a netstack, a TUN device, anything implementing
// this one method (component N's collaborator contract, spec.md §4.E).
type Deliverer interface {
	Deliver(packet []byte) error
}

// Device is the tunnel endpoint: it owns the UDP bind, the peer set,
// cryptokey routing, the handshake admission queue and worker pool,
// and the deliverer downstream packets are handed to (spec.md §4.G).
type Device struct {
	log *Logger

	isUp atomic.Bool

	staticIdentity struct {
		mu         sync.RWMutex
		privateKey NoisePrivateKey
		publicKey  NoisePublicKey
	}

	net struct {
		mu   sync.RWMutex
		bind conn.Bind
		port uint16
	}

	peers struct {
		mu  sync.RWMutex
		all map[NoisePublicKey]*Peer
	}

	indexTable  *IndexTable
	allowedIPs  *AllowedIPs
	rate        *ratelimiter.Ratelimiter
	cookieCheck CookieChecker

	handshakeQueue *handshakeQueue

	fecReassembler *fec.Reassembler

	deliverer Deliverer

	underLoadUntil atomic.Int64 // unix nano; 0 means "not under load"

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewDevice wires up every receive-path collaborator and starts the
// handshake worker pool. bind must already be constructed (StdNetBind
// or RawIPBind); deliverer receives every decrypted inner packet that
// clears cryptokey routing.
func NewDevice(bind conn.Bind, deliverer Deliverer, logger *Logger) *Device {
	if logger == nil {
		logger = NewLogger(LogLevelError, "")
	}

	d := &Device{
		log:            logger,
		indexTable:     NewIndexTable(),
		allowedIPs:     NewAllowedIPs(),
		rate:           new(ratelimiter.Ratelimiter),
		handshakeQueue: newHandshakeQueue(MaxQueuedHandshakes),
		fecReassembler: fec.NewReassembler(FECReassemblyTimeout, fec.ProtectorForAlgorithm),
		deliverer:      deliverer,
		stop:           make(chan struct{}),
	}
	d.peers.all = make(map[NoisePublicKey]*Peer)
	d.net.bind = bind
	d.rate.Init()

	workers := 1
	d.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go d.RoutineHandshake()
	}

	return d
}

// SetPrivateKey installs the device's static identity, re-keying every
// peer's precomputed static-static DH shared secret.
func (d *Device) SetPrivateKey(sk NoisePrivateKey) {
	d.staticIdentity.mu.Lock()
	d.staticIdentity.privateKey = sk
	d.staticIdentity.publicKey = sk.publicKey()
	d.staticIdentity.mu.Unlock()

	d.cookieCheck.Init(d.staticIdentity.publicKey)

	d.peers.mu.RLock()
	defer d.peers.mu.RUnlock()
	for _, peer := range d.peers.all {
		peer.handshake.Init(sk, peer.handshake.remoteStatic)
	}
}

// NewPeer registers a peer for publicKey, or returns the existing one.
func (d *Device) NewPeer(publicKey NoisePublicKey) (*Peer, error) {
	d.peers.mu.Lock()
	defer d.peers.mu.Unlock()

	if peer, ok := d.peers.all[publicKey]; ok {
		return peer, nil
	}
	if len(d.peers.all) >= MaxPeers {
		return nil, errTooManyPeers
	}

	peer := NewPeer(d, publicKey)
	d.peers.all[publicKey] = peer
	peer.Start()
	return peer, nil
}

// LookupPeer returns a referenced Peer handle for publicKey. Callers
// must call DecRef exactly once when done (spec.md §8).
func (d *Device) LookupPeer(publicKey NoisePublicKey) *Peer {
	d.peers.mu.RLock()
	defer d.peers.mu.RUnlock()
	peer, ok := d.peers.all[publicKey]
	if !ok {
		return nil
	}
	peer.IncRef()
	return peer
}

// RemovePeer stops and forgets a peer.
func (d *Device) RemovePeer(publicKey NoisePublicKey) {
	d.peers.mu.Lock()
	peer, ok := d.peers.all[publicKey]
	if ok {
		delete(d.peers.all, publicKey)
	}
	d.peers.mu.Unlock()
	if !ok {
		return
	}
	peer.Stop()
	d.allowedIPs.RemovePeer(peer)
}

// IsUnderLoad reports whether the handshake admission queue has
// recently been at least half full (spec.md §4.D's load signal,
// evaluated at processing time, matching the Open Question decision
// recorded in DESIGN.md to keep the check at drain time rather than
// at enqueue time).
func (d *Device) IsUnderLoad() bool {
	if d.handshakeQueue.Len() >= MaxQueuedHandshakes/2 {
		d.underLoadUntil.Store(time.Now().Add(UnderLoadAfterTime).UnixNano())
		return true
	}
	return time.Now().UnixNano() < d.underLoadUntil.Load()
}

// SendHandshakeInitiation creates (or re-creates, if retry is true) a
// handshake initiation for peer and transmits it.
func (d *Device) SendHandshakeInitiation(peer *Peer, retry bool) error {
	_ = retry
	msg, err := peer.handshake.CreateInitiation()
	if err != nil {
		return err
	}

	index := d.indexTable.Insert(peer, &peer.handshake)
	peer.handshake.mu.Lock()
	peer.handshake.localIndex = index
	peer.handshake.mu.Unlock()
	msg.Sender = index

	raw := marshalInitiation(msg)
	peer.cookie.AddMacs(raw)

	ep := peer.Endpoint()
	if ep == nil {
		return errNoEndpoint
	}
	peer.timersHandshakeInitiated()
	return d.net.bind.Send(raw, ep)
}

// Close stops every peer and the worker pool.
func (d *Device) Close() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	d.peers.mu.Lock()
	for _, peer := range d.peers.all {
		peer.Stop()
	}
	d.peers.mu.Unlock()
	d.rate.Close()
	d.wg.Wait()
}
