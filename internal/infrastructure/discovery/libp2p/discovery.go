// Package libp2p implements ports.Discoverer over libp2p mDNS and a
// Kademlia DHT, so peers on the same LAN are found immediately and
// peers elsewhere are found through rendezvous advertisement.
package libp2p

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/security/noise"
	"github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr/net"

	"sentinelfs/internal/domain/ports"
	"sentinelfs/internal/infrastructure/logging"
)

// syncPortProtocol is queried over a libp2p stream to learn the TCP
// port a discovered peer accepts sync sessions on, since that port is
// independent of the libp2p swarm's own listen ports.
const syncPortProtocol = protocol.ID("/sentinelfs/syncport/1.0.0")

const dhtAdvertiseInterval = time.Hour

// Config configures the discovery host.
type Config struct {
	ListenAddrs    []string
	BootstrapPeers []peer.AddrInfo
	Rendezvous     string
	SyncPort       int
	PrivateKey     crypto.PrivKey
}

// DefaultConfig returns sane defaults for a LAN-facing node.
func DefaultConfig() Config {
	return Config{
		ListenAddrs: []string{"/ip4/0.0.0.0/tcp/0"},
		Rendezvous:  "sentinelfs",
	}
}

// Discoverer implements ports.Discoverer using an mDNS service for
// local-network peers and a DHT rendezvous point for everyone else.
type Discoverer struct {
	cfg    Config
	logger *logging.Logger

	host host.Host
	dht  *dht.IpfsDHT

	onPeerFound ports.PeerFoundFunc

	mu      sync.Mutex
	seen    map[peer.ID]bool
	mdnsSvc mdns.Service
	cancel  context.CancelFunc
}

// notifee adapts mDNS HandlePeerFound callbacks into Discoverer.handleFound.
type notifee struct {
	d *Discoverer
}

func (n *notifee) HandlePeerFound(pi peer.AddrInfo) {
	n.d.handleFound(pi)
}

// New builds a libp2p host and wraps it as a Discoverer. onPeerFound is
// invoked at most once per peer ID for the lifetime of the Discoverer.
func New(cfg Config, onPeerFound ports.PeerFoundFunc, logger *logging.Logger) (*Discoverer, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	if cfg.Rendezvous == "" {
		cfg.Rendezvous = "sentinelfs"
	}

	privKey := cfg.PrivateKey
	if privKey == nil {
		var err error
		privKey, _, err = crypto.GenerateKeyPair(crypto.Ed25519, -1)
		if err != nil {
			return nil, fmt.Errorf("generate identity key: %w", err)
		}
	}

	connMgr, err := connmgr.NewConnManager(100, 400, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		return nil, fmt.Errorf("create connection manager: %w", err)
	}

	var listenAddrs []multiaddr.Multiaddr
	for _, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			return nil, fmt.Errorf("parse listen addr %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.Security(noise.ID, noise.New),
		libp2p.NATPortMap(),
		libp2p.EnableHolePunching(),
		libp2p.ConnectionManager(connMgr),
	)
	if err != nil {
		return nil, fmt.Errorf("create libp2p host: %w", err)
	}

	kadDHT, err := dht.New(context.Background(), h, dht.Mode(dht.ModeAutoServer))
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("create DHT: %w", err)
	}

	d := &Discoverer{
		cfg:         cfg,
		logger:      logger.Component("discovery.libp2p"),
		host:        h,
		dht:         kadDHT,
		onPeerFound: onPeerFound,
		seen:        make(map[peer.ID]bool),
	}

	h.SetStreamHandler(syncPortProtocol, d.handleSyncPortQuery)

	return d, nil
}

// LocalID returns this node's libp2p peer ID, usable as the handshake
// peer identifier.
func (d *Discoverer) LocalID() string { return d.host.ID().String() }

func (d *Discoverer) handleSyncPortQuery(s network.Stream) {
	defer s.Close()
	s.Write([]byte(strconv.Itoa(d.cfg.SyncPort)))
}

// Start connects to any configured bootstrap peers, bootstraps the
// DHT, begins advertising this node under the rendezvous string, and
// starts both mDNS discovery and periodic DHT peer lookups.
func (d *Discoverer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	var wg sync.WaitGroup
	for _, pi := range d.cfg.BootstrapPeers {
		wg.Add(1)
		go func(pi peer.AddrInfo) {
			defer wg.Done()
			if err := d.host.Connect(ctx, pi); err != nil {
				d.logger.Warn("bootstrap peer connect failed", "peer", pi.ID.String(), "error", err)
			}
		}(pi)
	}
	wg.Wait()

	if err := d.dht.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap DHT: %w", err)
	}

	svc := mdns.NewMdnsService(d.host, d.cfg.Rendezvous, &notifee{d: d})
	if err := svc.Start(); err != nil {
		return fmt.Errorf("start mDNS: %w", err)
	}
	d.mu.Lock()
	d.mdnsSvc = svc
	d.mu.Unlock()

	routingDiscovery := drouting.NewRoutingDiscovery(d.dht)
	dutil.Advertise(ctx, routingDiscovery, d.cfg.Rendezvous)

	go d.dhtFindLoop(ctx, routingDiscovery)

	return nil
}

func (d *Discoverer) dhtFindLoop(ctx context.Context, rd *drouting.RoutingDiscovery) {
	ticker := time.NewTicker(dhtAdvertiseInterval)
	defer ticker.Stop()

	d.findOnce(ctx, rd)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.findOnce(ctx, rd)
		}
	}
}

func (d *Discoverer) findOnce(ctx context.Context, rd *drouting.RoutingDiscovery) {
	peerChan, err := rd.FindPeers(ctx, d.cfg.Rendezvous)
	if err != nil {
		d.logger.Warn("DHT FindPeers failed", "error", err)
		return
	}
	for pi := range peerChan {
		d.handleFound(pi)
	}
}

func (d *Discoverer) handleFound(pi peer.AddrInfo) {
	if pi.ID == d.host.ID() || len(pi.Addrs) == 0 {
		return
	}

	d.mu.Lock()
	if d.seen[pi.ID] {
		d.mu.Unlock()
		return
	}
	d.seen[pi.ID] = true
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := d.host.Connect(ctx, pi); err != nil {
		d.logger.Warn("peer connect failed", "peer", pi.ID.String(), "error", err)
		return
	}

	address := ""
	if addr, err := manet.ToNetAddr(pi.Addrs[0]); err == nil {
		address = addr.String()
	}

	port := d.querySyncPort(ctx, pi.ID)

	d.logger.Info("peer discovered", "peer", pi.ID.String(), "address", address, "sync_port", port)

	if d.onPeerFound != nil {
		d.onPeerFound(ports.DiscoveredPeer{
			PeerID:  pi.ID.String(),
			Address: address,
			Port:    port,
		})
	}
}

func (d *Discoverer) querySyncPort(ctx context.Context, id peer.ID) int {
	s, err := d.host.NewStream(ctx, id, syncPortProtocol)
	if err != nil {
		return 0
	}
	defer s.Close()

	buf := make([]byte, 16)
	n, _ := s.Read(buf)
	port, _ := strconv.Atoi(string(buf[:n]))
	return port
}

// Stop shuts down mDNS, the DHT, and the underlying libp2p host.
func (d *Discoverer) Stop() error {
	d.mu.Lock()
	cancel := d.cancel
	svc := d.mdnsSvc
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if svc != nil {
		svc.Close()
	}
	if d.dht != nil {
		d.dht.Close()
	}
	return d.host.Close()
}

var _ ports.Discoverer = (*Discoverer)(nil)
