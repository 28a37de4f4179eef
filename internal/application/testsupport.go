package application

import (
	"time"

	"sentinelfs/internal/domain/netquality"
	"sentinelfs/internal/domain/ports"
	"sentinelfs/internal/domain/tlspin"
	"sentinelfs/internal/infrastructure/config"
	"sentinelfs/internal/infrastructure/logging"
)

// NewForTest builds a Daemon wired with a caller-supplied store, pin
// store, and connection-quality tracker but none of the networking or
// watcher subsystems Start would normally bring up. It exists so
// packages outside application (notably the IPC server) can exercise
// the read-only accessors against real dependencies without standing
// up a full daemon.
func NewForTest(cfg config.Config, logger *logging.Logger, store ports.Store, pins *tlspin.Store, netTrk *netquality.Tracker, localPeerID string) *Daemon {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Daemon{
		cfg:         cfg,
		logger:      logger,
		store:       store,
		pins:        pins,
		netTrk:      netTrk,
		localPeerID: localPeerID,
		startedAt:   time.Now(),
		peers:       make(map[string]*peerConn),
	}
}
