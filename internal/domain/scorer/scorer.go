// Package scorer computes a deterministic 0-100 composite quality score
// from a peer's network-quality snapshot (§4.8).
package scorer

import (
	"math"
	"time"

	"sentinelfs/internal/domain/netquality"
)

// Weights are the composite score's per-component weights; they must sum
// to 1.
type Weights struct {
	RTT    float64
	Jitter float64
	Loss   float64
}

// DefaultWeights matches the spec's default composite weighting.
var DefaultWeights = Weights{RTT: 0.4, Jitter: 0.3, Loss: 0.3}

// References are the exponential-decay reference points and decay
// constants per component.
type References struct {
	RTTReferenceMS    float64
	RTTDecayK         float64
	JitterReferenceMS float64
	JitterDecayK      float64
	LossReference     float64
	LossDecayK        float64
}

// DefaultReferences matches the spec's defaults: RTT 100ms (k=2.0), jitter
// 20ms (k=2.5), loss 2% (k=3.0).
var DefaultReferences = References{
	RTTReferenceMS:    100,
	RTTDecayK:         2.0,
	JitterReferenceMS: 20,
	JitterDecayK:      2.5,
	LossReference:     0.02,
	LossDecayK:        3.0,
}

// Config bundles the weights, references, and stability-bonus parameters
// used by Score.
type Config struct {
	Weights         Weights
	References      References
	StableThreshold time.Duration
	MaxStabilityBonus float64
}

// DefaultConfig is the spec's default scoring configuration.
func DefaultConfig() Config {
	return Config{
		Weights:           DefaultWeights,
		References:        DefaultReferences,
		StableThreshold:   10 * time.Minute,
		MaxStabilityBonus: 10,
	}
}

// neutralScore is returned when there isn't enough data to score a peer.
const neutralScore = 50

// componentScore applies the exponential-decay normalization:
// 100 * exp(-k * x / reference), clamped to [0, 100].
func componentScore(x, reference, k float64) float64 {
	if reference <= 0 {
		return 0
	}
	s := 100 * math.Exp(-k*x/reference)
	return clamp(s, 0, 100)
}

// Score computes the composite score for a peer given its metrics snapshot
// and how long the session has been continuously up.
func Score(cfg Config, snap netquality.Snapshot, uptime time.Duration) float64 {
	if snap.PacketsSent == 0 || snap.RTTAvg == 0 {
		return neutralScore
	}

	rttScore := componentScore(float64(snap.RTTAvg.Milliseconds()), cfg.References.RTTReferenceMS, cfg.References.RTTDecayK)
	jitterScore := componentScore(snap.JitterMS, cfg.References.JitterReferenceMS, cfg.References.JitterDecayK)
	lossScore := componentScore(snap.LossRate, cfg.References.LossReference, cfg.References.LossDecayK)

	composite := rttScore*cfg.Weights.RTT + jitterScore*cfg.Weights.Jitter + lossScore*cfg.Weights.Loss

	var stabilityBonus float64
	if cfg.StableThreshold > 0 {
		uptimeFactor := clamp(uptime.Seconds()/cfg.StableThreshold.Seconds(), 0, 1)
		resetPenalty := math.Max(0, 1-0.2*float64(snap.ConnectionResets))
		stabilityBonus = cfg.MaxStabilityBonus * uptimeFactor * resetPenalty
	}

	return clamp(composite+stabilityBonus, 0, 100)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
