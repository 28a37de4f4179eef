package libp2p

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"sentinelfs/internal/domain/ports"
)

// TestTwoNodesDiscoverEachOtherViaMDNS starts two Discoverers on the
// loopback interface under the same rendezvous string and checks each
// reports the other at least once. Skipped under -short, since mDNS
// needs multicast.
func TestTwoNodesDiscoverEachOtherViaMDNS(t *testing.T) {
	if testing.Short() {
		t.Skip("mDNS discovery requires multicast; skipped in -short")
	}

	var muA, muB sync.Mutex
	var foundA, foundB []ports.DiscoveredPeer

	cfgA := DefaultConfig()
	cfgA.Rendezvous = "sentinelfs-test-rendezvous"
	cfgA.SyncPort = 9001
	a, err := New(cfgA, func(p ports.DiscoveredPeer) {
		muA.Lock()
		defer muA.Unlock()
		foundA = append(foundA, p)
	}, nil)
	if err != nil {
		t.Fatalf("New a: %v", err)
	}
	defer a.Stop()

	cfgB := DefaultConfig()
	cfgB.Rendezvous = "sentinelfs-test-rendezvous"
	cfgB.SyncPort = 9002
	b, err := New(cfgB, func(p ports.DiscoveredPeer) {
		muB.Lock()
		defer muB.Unlock()
		foundB = append(foundB, p)
	}, nil)
	if err != nil {
		t.Fatalf("New b: %v", err)
	}
	defer b.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start a: %v", err)
	}
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start b: %v", err)
	}

	deadline := time.After(15 * time.Second)
	tick := time.NewTicker(200 * time.Millisecond)
	defer tick.Stop()

	for {
		muA.Lock()
		lenA := len(foundA)
		muA.Unlock()
		muB.Lock()
		lenB := len(foundB)
		muB.Unlock()

		if lenA >= 1 && lenB >= 1 {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for mutual discovery: a saw %d, b saw %d", lenA, lenB)
		case <-tick.C:
		}
	}
}

func TestHandleFoundIgnoresSelf(t *testing.T) {
	d, err := New(DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Stop()

	var called bool
	d.onPeerFound = func(ports.DiscoveredPeer) { called = true }

	d.handleFound(d.host.Peerstore().PeerInfo(d.host.ID()))
	if called {
		t.Fatal("expected self-discovery to be ignored")
	}
}

func TestHandleFoundSkipsAlreadySeenPeer(t *testing.T) {
	d, err := New(DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer d.Stop()

	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := peer.IDFromPublicKey(priv.GetPublic())
	if err != nil {
		t.Fatalf("derive peer id: %v", err)
	}

	var calls int
	d.onPeerFound = func(ports.DiscoveredPeer) { calls++ }

	d.mu.Lock()
	d.seen[id] = true
	d.mu.Unlock()

	addr, _ := multiaddr.NewMultiaddr("/ip4/127.0.0.1/tcp/4001")
	d.handleFound(peer.AddrInfo{ID: id, Addrs: []multiaddr.Multiaddr{addr}})

	if calls != 0 {
		t.Fatalf("expected already-seen peer to be skipped, got %d calls", calls)
	}
}
