package ports

import "context"

// DiscoveredPeer is one peer surfaced by a Discoverer, before a
// session has been established with it.
type DiscoveredPeer struct {
	PeerID  string
	Address string
	Port    int
}

// PeerFoundFunc is invoked once per newly discovered peer.
type PeerFoundFunc func(DiscoveredPeer)

// Discoverer finds candidate peers on the local network or a DHT and
// reports each one at most once via the callback registered at
// construction, mirroring the notifee pattern discovery backends
// commonly expose.
type Discoverer interface {
	Start(ctx context.Context) error
	Stop() error
}
