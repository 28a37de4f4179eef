package scorer

import (
	"testing"
	"time"

	"sentinelfs/internal/domain/netquality"
)

func TestScoreNeutralWhenNoData(t *testing.T) {
	cfg := DefaultConfig()
	snap := netquality.Snapshot{}
	got := Score(cfg, snap, 0)
	if got != neutralScore {
		t.Errorf("Score() = %v, want neutral %v", got, neutralScore)
	}
}

func TestScorePerfectConditions(t *testing.T) {
	cfg := DefaultConfig()
	snap := netquality.Snapshot{
		PacketsSent: 100,
		RTTAvg:      1 * time.Millisecond,
		JitterMS:    0,
		LossRate:    0,
	}
	got := Score(cfg, snap, 0)
	if got < 90 {
		t.Errorf("Score() = %v, want close to 100 under near-ideal conditions", got)
	}
	if got > 100 {
		t.Errorf("Score() = %v, exceeds max of 100", got)
	}
}

func TestScoreDegradesWithWorseRTT(t *testing.T) {
	cfg := DefaultConfig()
	good := netquality.Snapshot{PacketsSent: 100, RTTAvg: 20 * time.Millisecond}
	bad := netquality.Snapshot{PacketsSent: 100, RTTAvg: 500 * time.Millisecond}

	goodScore := Score(cfg, good, 0)
	badScore := Score(cfg, bad, 0)
	if !(goodScore > badScore) {
		t.Errorf("expected better RTT to score higher: good=%v bad=%v", goodScore, badScore)
	}
}

func TestScoreClampedToRange(t *testing.T) {
	cfg := DefaultConfig()
	snap := netquality.Snapshot{
		PacketsSent: 100,
		RTTAvg:      5 * time.Second,
		JitterMS:    1000,
		LossRate:    1.0,
	}
	got := Score(cfg, snap, 0)
	if got < 0 || got > 100 {
		t.Fatalf("Score() = %v, out of [0,100] range", got)
	}
}

func TestStabilityBonusIncreasesScoreWithUptime(t *testing.T) {
	cfg := DefaultConfig()
	snap := netquality.Snapshot{PacketsSent: 100, RTTAvg: 100 * time.Millisecond}

	noUptime := Score(cfg, snap, 0)
	fullyStable := Score(cfg, snap, cfg.StableThreshold*2)

	if !(fullyStable >= noUptime) {
		t.Errorf("expected stability bonus to raise or maintain score: no_uptime=%v fully_stable=%v", noUptime, fullyStable)
	}
	if fullyStable-noUptime > cfg.MaxStabilityBonus+1e-9 {
		t.Errorf("stability bonus exceeded max: delta=%v max=%v", fullyStable-noUptime, cfg.MaxStabilityBonus)
	}
}

func TestStabilityBonusPenalizedByConnectionResets(t *testing.T) {
	cfg := DefaultConfig()
	stable := netquality.Snapshot{PacketsSent: 100, RTTAvg: 100 * time.Millisecond, ConnectionResets: 0}
	reset := netquality.Snapshot{PacketsSent: 100, RTTAvg: 100 * time.Millisecond, ConnectionResets: 5}

	stableScore := Score(cfg, stable, cfg.StableThreshold)
	resetScore := Score(cfg, reset, cfg.StableThreshold)

	if !(stableScore >= resetScore) {
		t.Errorf("expected connection resets to reduce or not exceed stability bonus: stable=%v reset=%v", stableScore, resetScore)
	}
}

func TestWeightsSumToOne(t *testing.T) {
	w := DefaultWeights
	sum := w.RTT + w.Jitter + w.Loss
	if absDiff(sum, 1.0) > 1e-9 {
		t.Errorf("default weights sum to %v, want 1.0", sum)
	}
}

func absDiff(a, b float64) float64 {
	if a < b {
		return b - a
	}
	return a - b
}
