// Package conflict implements the conflict detector invoked when a
// FILE_META arrives for a path that already exists locally under a
// different strong hash (§4.6).
package conflict

import (
	"time"

	"github.com/google/uuid"
)

// DefaultSkewThreshold is the mtime-skew window within which neither
// side's timestamp is trusted enough to win outright.
const DefaultSkewThreshold = 2 * time.Second

// Winner identifies which side's copy should be kept.
type Winner int

const (
	WinnerRemote Winner = iota
	WinnerLocal
)

func (w Winner) String() string {
	if w == WinnerLocal {
		return "local"
	}
	return "remote"
}

// Record is the immutable-after-creation conflict record persisted to
// the store, per §3's ConflictRecord. Resolved, StrategyID, and
// ResolvedAt are the only fields mutated after creation, by the IPC
// surface's mark_conflict_resolved.
type Record struct {
	ID            string
	Path          string
	LocalHash     string
	RemoteHash    string
	RemotePeerID  string
	LocalMtime    time.Time
	RemoteMtime   time.Time
	LocalSize     uint64
	RemoteSize    uint64
	StrategyID    string
	Resolved      bool
	DetectedAt    time.Time
	ResolvedAt    time.Time
}

// Input bundles the two conflicting copies' metadata for Detect.
type Input struct {
	Path         string
	LocalHash    string
	RemoteHash   string
	LocalPeerID  string
	RemotePeerID string
	LocalMtime   time.Time
	RemoteMtime  time.Time
	LocalSize    uint64
	RemoteSize   uint64
}

// Decide applies the §4.6 policy and reports which side wins. Ties
// within threshold break on lexicographic peer_id comparison: the
// peer with the lexicographically greater ID wins, giving both sides
// of the comparison the same deterministic answer independent of
// which one is "local" here.
func Decide(in Input, threshold time.Duration) Winner {
	if threshold <= 0 {
		threshold = DefaultSkewThreshold
	}

	skew := in.RemoteMtime.Sub(in.LocalMtime)
	switch {
	case skew > threshold:
		return WinnerRemote
	case -skew > threshold:
		return WinnerLocal
	}

	if in.LocalPeerID > in.RemotePeerID {
		return WinnerLocal
	}
	return WinnerRemote
}

// Detect builds a Record for in and decides a winner under threshold.
// Every conflict is recorded regardless of winner, per §4.6.
func Detect(in Input, threshold time.Duration) (Record, Winner) {
	winner := Decide(in, threshold)
	now := time.Now()

	return Record{
		ID:           uuid.New().String(),
		Path:         in.Path,
		LocalHash:    in.LocalHash,
		RemoteHash:   in.RemoteHash,
		RemotePeerID: in.RemotePeerID,
		LocalMtime:   in.LocalMtime,
		RemoteMtime:  in.RemoteMtime,
		LocalSize:    in.LocalSize,
		RemoteSize:   in.RemoteSize,
		Resolved:     false,
		DetectedAt:   now,
	}, winner
}

// MarkResolved records the out-of-band resolution applied by the IPC
// surface's mark_conflict_resolved(id, strategy_id).
func (r *Record) MarkResolved(strategyID string) {
	r.StrategyID = strategyID
	r.Resolved = true
	r.ResolvedAt = time.Now()
}
