// Package application wires the domain and infrastructure packages into
// one running daemon: the sync pipeline, the peer mesh, the local
// watcher, and the persisted store.
package application

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinelfs/internal/domain/antiloop"
	"sentinelfs/internal/domain/eventbus"
	"sentinelfs/internal/domain/governor"
	"sentinelfs/internal/domain/netquality"
	"sentinelfs/internal/domain/pipeline"
	"sentinelfs/internal/domain/ports"
	"sentinelfs/internal/domain/remesh"
	"sentinelfs/internal/domain/session"
	"sentinelfs/internal/domain/tlspin"
	"sentinelfs/internal/domain/wire"
	badgerstore "sentinelfs/internal/infrastructure/storage/badger"
	"sentinelfs/internal/infrastructure/storage/versions"
	sftls "sentinelfs/internal/infrastructure/transport/tls"

	"sentinelfs/internal/infrastructure/config"
	"sentinelfs/internal/infrastructure/discovery/libp2p"
	"sentinelfs/internal/infrastructure/identity"
	"sentinelfs/internal/infrastructure/logging"
	"sentinelfs/internal/infrastructure/watcher/fsnotify"
)

// antiLoopTTL matches the window a locally-applied remote write stays
// marked so the watcher event it produces is not rebroadcast.
const antiLoopTTL = 30 * time.Second

// sessionBase is the starting sequence number both sides agree to use
// once the handshake completes.
const sessionBase = 1

// probeInterval is how often the probe loop pings each connected peer
// and checks session liveness.
const probeInterval = 15 * time.Second

// reapInterval is how often idle pending transfers and expired TLS
// pins are swept.
const reapInterval = 30 * time.Second

// Daemon owns every long-running subsystem of one SentinelFS node.
type Daemon struct {
	cfg    config.Config
	logger *logging.Logger

	store   ports.Store
	watcher ports.Watcher
	pins    *tlspin.Store
	govern  *governor.Governor
	netTrk  *netquality.Tracker
	antiLp  *antiloop.Ledger
	bus     *eventbus.Bus
	remesh  *remesh.Loop
	disc    *libp2p.Discoverer
	tlsLn   *sftls.Listener

	versions *versions.Store
	fileW    *localFileWriter
	xferMgr  *pipeline.Manager
	sender   *pipeline.Sender
	receiver *pipeline.Receiver

	localPeerID string
	startedAt   time.Time

	mu    sync.Mutex
	peers map[string]*peerConn

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Daemon from cfg without starting any subsystem.
func New(cfg config.Config, logger *logging.Logger) (*Daemon, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	if err := ensureIdentityCert(cfg.CertFile, cfg.KeyFile); err != nil {
		return nil, fmt.Errorf("ensure identity cert: %w", err)
	}

	mgr := badgerstore.NewManager(cfg.DataDir)
	store, err := badgerstore.NewStore(mgr)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	d := &Daemon{
		cfg:      cfg,
		logger:   logger.Component("daemon"),
		store:    store,
		pins:     tlspin.New(cfg.PinPolicy()),
		govern:   governor.New(cfg.GovernorConfig()),
		netTrk:   netquality.NewTracker(),
		antiLp:   antiloop.New(antiLoopTTL),
		bus:      eventbus.NewBus(),
		versions: versions.New(cfg.DataDir),
		fileW:    newLocalFileWriter(syncRoot(cfg)),
		peers:    make(map[string]*peerConn),
	}
	d.versions.SetMaxVersions(cfg.VersionRetention)
	d.xferMgr = pipeline.NewManager(uuid.NewString)
	d.sender = pipeline.NewSender(d.xferMgr)
	d.receiver = pipeline.NewReceiver(d.xferMgr, d.antiLp, d.fileW)

	ctx := context.Background()
	if pins, err := store.LoadCertificatePins(ctx); err == nil {
		d.pins.LoadPins(pins)
	}

	watcher, err := fsnotify.New(logger)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	d.watcher = watcher

	d.remesh = remesh.New(cfg.RemeshConfig(), d.netTrk, d, d, logger)

	return d, nil
}

// Start brings up every subsystem: the store is already open from New,
// so Start begins watching configured directories, accepting inbound
// peer connections, and discovering peers on the network.
func (d *Daemon) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.startedAt = time.Now()

	discCfg := libp2p.DefaultConfig()
	discCfg.Rendezvous = d.cfg.Rendezvous
	discCfg.SyncPort = d.cfg.ListenPort

	if kp, err := identity.LoadOrCreate(identity.DefaultPath(d.cfg.DataDir)); err != nil {
		d.logger.Warn("persistent identity unavailable, using ephemeral peer ID", "error", err)
	} else {
		discCfg.PrivateKey = kp.PrivateKey
	}

	disc, err := libp2p.New(discCfg, d.onPeerFound, d.logger)
	if err != nil {
		return fmt.Errorf("create discoverer: %w", err)
	}
	d.disc = disc
	d.localPeerID = disc.LocalID()

	if err := disc.Start(ctx); err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}

	serverTLS, err := sftls.ServerConfig(sftls.Config{CertFile: d.cfg.CertFile, KeyFile: d.cfg.KeyFile, Pins: d.pins})
	if err != nil {
		return fmt.Errorf("build server tls config: %w", err)
	}
	ln, err := sftls.Listen(fmt.Sprintf(":%d", d.cfg.ListenPort), serverTLS, d.logger)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	d.tlsLn = ln

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := ln.Serve(ctx, d.acceptConn); err != nil && ctx.Err() == nil {
			d.logger.Warn("listener stopped", "error", err)
		}
	}()

	for _, dir := range d.cfg.WatchedDirs {
		if err := d.watcher.Watch(ctx, dir); err != nil {
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		if err := d.store.AddWatchedFolder(ctx, ports.WatchedFolder{Path: dir, Status: "active", AddedAt: time.Now()}); err != nil {
			d.logger.Warn("record watched folder failed", "path", dir, "error", err)
		}
	}

	d.antiLp.StartSweeper(antiLoopTTL)
	d.remesh.Start(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.watchLoop(ctx)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.probeLoop(ctx)
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.reapLoop(ctx)
	}()

	return nil
}

// probeLoop pings every connected peer on probeInterval, feeding the
// round trip into netTrk and checking each session's liveness. A peer
// whose session has gone silent past its liveness timeout is marked
// failed and dropped; the next discovery cycle or remesh pass is left
// to reconnect it.
func (d *Daemon) probeLoop(ctx context.Context) {
	ticker := time.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.probePeers(ctx)
		}
	}
}

func (d *Daemon) probePeers(ctx context.Context) {
	d.mu.Lock()
	conns := make([]*peerConn, 0, len(d.peers))
	for _, pc := range d.peers {
		conns = append(conns, pc)
	}
	d.mu.Unlock()

	now := time.Now()
	for _, pc := range conns {
		if pc.sess.CheckLiveness(now) {
			d.logger.Warn("peer liveness timeout", "peer", pc.peerID)
			pc.sess.MarkFailed()
			d.netTrk.RecordConnectionReset(pc.peerID)
			d.DropPeer(pc.peerID, "liveness timeout")
			continue
		}

		d.netTrk.RecordPacketSent(pc.peerID)
		ping := wire.EncodePing(wire.Ping{Nonce: uint64(now.UnixNano()), SentAtUnixNano: now.UnixNano()})
		if err := pc.sess.Send(ctx, wire.MsgPing, ping, now.Add(sendDeadline)); err != nil {
			d.logger.Debug("probe send failed", "peer", pc.peerID, "error", err)
			d.netTrk.RecordPacketLost(pc.peerID)
		}
	}
}

// reapLoop drives the periodic cleanup of idle half-received transfers
// and expired TLS pins on reapInterval, using the same cooperative
// cancellation as the anti-loop ledger's sweeper.
func (d *Daemon) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(reapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if n := d.receiver.ReapIdle(now); n > 0 {
				d.logger.Debug("reaped idle transfers", "count", n)
			}
			if n := d.pins.ReapExpired(now); n > 0 {
				d.logger.Debug("reaped expired pins", "count", n)
			}
		}
	}
}

// Stop cancels every subsystem and waits for its goroutines to exit.
func (d *Daemon) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.tlsLn != nil {
		d.tlsLn.Close()
	}
	if d.disc != nil {
		d.disc.Stop()
	}
	d.remesh.Stop()
	d.antiLp.StopSweeper()
	d.watcher.Close()

	d.mu.Lock()
	for _, pc := range d.peers {
		pc.conn.Close()
	}
	d.mu.Unlock()

	d.wg.Wait()

	if pins := d.pins.Pins(); len(pins) > 0 {
		if err := d.store.SaveCertificatePins(context.Background(), pins); err != nil {
			d.logger.Warn("persist certificate pins failed", "error", err)
		}
	}
	return d.store.Close()
}

// ConnectedPeers implements remesh.Lister.
func (d *Daemon) ConnectedPeers() []remesh.ConnectedPeer {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]remesh.ConnectedPeer, 0, len(d.peers))
	for id, pc := range d.peers {
		out = append(out, remesh.ConnectedPeer{PeerID: id, ConnectedSince: pc.connectedSince})
	}
	return out
}

// Events returns the bus daemon activity is published on, for the IPC
// and CLI layers to subscribe against.
func (d *Daemon) Events() *eventbus.Bus { return d.bus }

// Store exposes the persisted store for the IPC layer's read-only
// queries (status, peers, conflicts).
func (d *Daemon) Store() ports.Store { return d.store }

// Pins exposes the certificate pin store for the IPC layer's pin
// rotate/list commands.
func (d *Daemon) Pins() *tlspin.Store { return d.pins }

// NetQuality exposes per-peer connection metrics for the IPC layer's
// peers command.
func (d *Daemon) NetQuality() *netquality.Tracker { return d.netTrk }

// Config returns the configuration the daemon was constructed with.
func (d *Daemon) Config() config.Config { return d.cfg }

// LocalPeerID returns this node's discovery identity, populated once
// Start has run.
func (d *Daemon) LocalPeerID() string { return d.localPeerID }

// StartedAt reports when Start began bringing subsystems up; the zero
// value before Start has been called.
func (d *Daemon) StartedAt() time.Time { return d.startedAt }

// DropPeer implements remesh.Dropper.
func (d *Daemon) DropPeer(peerID, reason string) {
	d.logger.Info("dropping peer", "peer", peerID, "reason", reason)
	d.mu.Lock()
	pc, ok := d.peers[peerID]
	delete(d.peers, peerID)
	d.mu.Unlock()
	if ok {
		pc.conn.Close()
	}
	d.netTrk.Forget(peerID)
	d.bus.Publish(eventbus.New(eventbus.KindPeerDisconnected, map[string]string{"peer_id": peerID, "reason": reason}))
}

func (d *Daemon) registerPeer(pc *peerConn) {
	d.mu.Lock()
	d.peers[pc.peerID] = pc
	d.mu.Unlock()
	if err := d.store.PutPeer(context.Background(), ports.PeerRecord{
		ID: pc.peerID, LastSeen: time.Now(), Status: "connected",
	}); err != nil {
		d.logger.Warn("persist peer record failed", "peer", pc.peerID, "error", err)
	}
	d.bus.Publish(eventbus.New(eventbus.KindPeerConnected, map[string]string{"peer_id": pc.peerID}))
}

func (d *Daemon) dropConn(peerID string, conn net.Conn) {
	d.mu.Lock()
	if pc, ok := d.peers[peerID]; ok && pc.conn == conn {
		delete(d.peers, peerID)
	}
	d.mu.Unlock()
}

// onPeerFound dials a peer the discovery layer has surfaced and, on a
// successful handshake, brings it into the mesh.
func (d *Daemon) onPeerFound(dp ports.DiscoveredPeer) {
	if dp.Port == 0 {
		return
	}
	addr := net.JoinHostPort(hostOf(dp.Address), strconv.Itoa(dp.Port))

	clientTLS, err := sftls.ClientConfig(sftls.Config{CertFile: d.cfg.CertFile, KeyFile: d.cfg.KeyFile, Pins: d.pins}, dp.PeerID)
	if err != nil {
		d.logger.Warn("build client tls config failed", "peer", dp.PeerID, "error", err)
		return
	}

	dialCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	conn, err := sftls.Dial(dialCtx, addr, clientTLS)
	if err != nil {
		d.logger.Warn("dial peer failed", "peer", dp.PeerID, "address", addr, "error", err)
		return
	}

	state, err := handshakeOutbound(conn, d.localPeerID, d.cfg.Rendezvous, uint32(d.cfg.ChunkSize))
	if err != nil {
		d.logger.Warn("handshake failed", "peer", dp.PeerID, "error", err)
		conn.Close()
		return
	}

	sess := session.New(conn, state, sessionBase, d.govern, d.netTrk, d.logger)
	pc := &peerConn{peerID: state.RemotePeerID, conn: conn, sess: sess, connectedSince: time.Now()}
	d.registerPeer(pc)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.servePeer(pc)
	}()
}

func (d *Daemon) acceptConn(conn net.Conn) {
	state, err := handshakeInbound(conn, d.localPeerID, uint32(d.cfg.ChunkSize))
	if err != nil {
		d.logger.Warn("inbound handshake failed", "error", err)
		conn.Close()
		return
	}

	sess := session.New(conn, state, sessionBase, d.govern, d.netTrk, d.logger)
	pc := &peerConn{peerID: state.RemotePeerID, conn: conn, sess: sess, connectedSince: time.Now()}
	d.registerPeer(pc)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.servePeer(pc)
	}()
}

// syncRoot is the filesystem root relative file paths in the wire
// protocol are resolved against. A node with multiple watched folders
// still has exactly one sync root: the first configured directory.
func syncRoot(cfg config.Config) string {
	if len(cfg.WatchedDirs) > 0 {
		return cfg.WatchedDirs[0]
	}
	return cfg.DataDir
}

func hostOf(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
