// Package remesh runs the periodic auto-remesh evaluation loop: peers that
// persistently score below threshold are dropped, never below the
// configured peer-count floor (§4.9).
package remesh

import (
	"context"
	"sort"
	"sync"
	"time"

	"sentinelfs/internal/domain/netquality"
	"sentinelfs/internal/domain/scorer"
	"sentinelfs/internal/infrastructure/logging"
)

// ConnectedPeer is the subset of a live peer session the loop needs.
type ConnectedPeer struct {
	PeerID         string
	ConnectedSince time.Time
}

// Lister supplies the set of currently connected peers on each tick.
type Lister interface {
	ConnectedPeers() []ConnectedPeer
}

// Dropper disconnects a peer and records why.
type Dropper interface {
	DropPeer(peerID, reason string)
}

// Config configures one Loop.
type Config struct {
	Period             time.Duration
	MinThreshold       float64
	MinEvaluationCount int
	MinPeers           int
	HysteresisMargin   float64
	Scoring            scorer.Config
}

// DefaultConfig matches the spec's defaults.
func DefaultConfig() Config {
	return Config{
		Period:             30 * time.Second,
		MinThreshold:       40,
		MinEvaluationCount: 3,
		MinPeers:           1,
		HysteresisMargin:   10,
		Scoring:            scorer.DefaultConfig(),
	}
}

// Stats accumulates counters across the loop's lifetime.
type Stats struct {
	Evaluations       uint64
	PeersDropped      uint64
	Replacements      uint64
	OptimizationEvents uint64
}

type peerState struct {
	consecutiveBadEvals int
	lastScore           float64
	hasLastScore        bool
}

// Loop is the cancellable auto-remesh worker.
type Loop struct {
	cfg     Config
	metrics *netquality.Tracker
	lister  Lister
	dropper Dropper
	log     *logging.Logger

	mu     sync.Mutex
	states map[string]*peerState
	stats  Stats

	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Loop. Call Start to begin ticking.
func New(cfg Config, metrics *netquality.Tracker, lister Lister, dropper Dropper, log *logging.Logger) *Loop {
	if log == nil {
		log = logging.Nop()
	}
	return &Loop{
		cfg:     cfg,
		metrics: metrics,
		lister:  lister,
		dropper: dropper,
		log:     log.Component("remesh"),
		states:  make(map[string]*peerState),
	}
}

// Start launches the periodic evaluation goroutine.
func (l *Loop) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})

	go func() {
		defer close(l.done)
		ticker := time.NewTicker(l.cfg.Period)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				l.evaluate()
			}
		}
	}()
}

// Stop requests cancellation and waits for the worker to exit.
func (l *Loop) Stop() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
	}
}

// Stats returns a copy of the current counters.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

type scoredPeer struct {
	peerID    string
	score     float64
	blocked   bool
}

func (l *Loop) evaluate() {
	connected := l.lister.ConnectedPeers()
	now := time.Now()

	l.mu.Lock()
	l.stats.Evaluations++

	scored := make([]scoredPeer, 0, len(connected))
	connectedSet := make(map[string]bool, len(connected))

	for _, peer := range connected {
		connectedSet[peer.PeerID] = true
		snap := l.metrics.Snapshot(peer.PeerID)
		score := scorer.Score(l.cfg.Scoring, snap, now.Sub(peer.ConnectedSince))

		st, ok := l.states[peer.PeerID]
		if !ok {
			st = &peerState{}
			l.states[peer.PeerID] = st
		}

		hysteresisBlocked := st.hasLastScore && absFloat(score-st.lastScore) < l.cfg.HysteresisMargin
		st.lastScore = score
		st.hasLastScore = true

		if hysteresisBlocked {
			scored = append(scored, scoredPeer{peerID: peer.PeerID, score: score, blocked: true})
			continue
		}

		if score < l.cfg.MinThreshold {
			st.consecutiveBadEvals++
		} else {
			st.consecutiveBadEvals = 0
		}

		scored = append(scored, scoredPeer{peerID: peer.PeerID, score: score})
	}

	for id := range l.states {
		if !connectedSet[id] {
			delete(l.states, id)
		}
	}

	candidates := make([]scoredPeer, 0)
	for _, sp := range scored {
		if sp.blocked {
			continue
		}
		if l.states[sp.peerID].consecutiveBadEvals >= l.cfg.MinEvaluationCount {
			candidates = append(candidates, sp)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score < candidates[j].score })

	connectedCount := len(connected)
	dropped := 0
	toDrop := make([]string, 0, len(candidates))
	for _, c := range candidates {
		if connectedCount-dropped <= l.cfg.MinPeers {
			break
		}
		toDrop = append(toDrop, c.peerID)
		dropped++
	}

	if dropped > 0 {
		l.stats.PeersDropped += uint64(dropped)
		l.stats.OptimizationEvents++
	}
	l.mu.Unlock()

	for _, id := range toDrop {
		l.log.Info("dropping low-quality peer", "peer_id", id, "reason", "score below threshold")
		l.dropper.DropPeer(id, "score below threshold")
	}
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
