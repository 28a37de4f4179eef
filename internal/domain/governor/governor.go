// Package governor implements the bandwidth governor (§4.12): a pair of
// token buckets, one per direction, that every payload read/write goes
// through so the daemon enforces one global ceiling across concurrent
// transfers.
package governor

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"sentinelfs/internal/pkg/sferrors"
)

// Direction distinguishes the two independent token buckets.
type Direction int

const (
	Upload Direction = iota
	Download
)

// Config sets each direction's sustained rate and burst. A rate of 0
// means unlimited for that direction.
type Config struct {
	UploadBytesPerSec   int
	UploadBurst         int
	DownloadBytesPerSec int
	DownloadBurst       int
}

// Governor is the single point of truth for bandwidth accounting. Every
// frame header and payload byte, in either direction, passes through
// Acquire before it is written or after it is read.
type Governor struct {
	upload   *rate.Limiter
	download *rate.Limiter

	uploadBurst   int
	downloadBurst int

	uploadBytes   uint64 // atomic
	downloadBytes uint64 // atomic
}

// New constructs a Governor from cfg.
func New(cfg Config) *Governor {
	g := &Governor{
		uploadBurst:   cfg.UploadBurst,
		downloadBurst: cfg.DownloadBurst,
	}

	g.upload = newLimiter(cfg.UploadBytesPerSec, cfg.UploadBurst)
	g.download = newLimiter(cfg.DownloadBytesPerSec, cfg.DownloadBurst)

	if g.uploadBurst <= 0 {
		g.uploadBurst = defaultBurst(cfg.UploadBytesPerSec)
	}
	if g.downloadBurst <= 0 {
		g.downloadBurst = defaultBurst(cfg.DownloadBytesPerSec)
	}

	return g
}

func defaultBurst(bytesPerSec int) int {
	if bytesPerSec <= 0 {
		return 1 << 20 // unlimited direction: chunk size is irrelevant but must be positive
	}
	return bytesPerSec
}

func newLimiter(bytesPerSec, burst int) *rate.Limiter {
	if bytesPerSec <= 0 {
		return rate.NewLimiter(rate.Inf, 1<<30)
	}
	if burst <= 0 {
		burst = bytesPerSec
	}
	return rate.NewLimiter(rate.Limit(bytesPerSec), burst)
}

// Acquire blocks until n bytes of capacity are available in the given
// direction, or until deadline elapses, whichever comes first. A zero
// deadline means no deadline.
func (g *Governor) Acquire(ctx context.Context, n int, dir Direction, deadline time.Time) error {
	if n <= 0 {
		return nil
	}

	limiter, burst, counter := g.directionState(dir)

	waitCtx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}

	remaining := n
	for remaining > 0 {
		chunk := remaining
		if chunk > burst {
			chunk = burst
		}
		if err := limiter.WaitN(waitCtx, chunk); err != nil {
			return &sferrors.RateLimited{Operation: directionName(dir)}
		}
		remaining -= chunk
	}

	atomic.AddUint64(counter, uint64(n))
	return nil
}

func (g *Governor) directionState(dir Direction) (*rate.Limiter, int, *uint64) {
	if dir == Upload {
		return g.upload, g.uploadBurst, &g.uploadBytes
	}
	return g.download, g.downloadBurst, &g.downloadBytes
}

func directionName(dir Direction) string {
	if dir == Upload {
		return "upload"
	}
	return "download"
}

// BytesTransferred returns the cumulative byte counts acquired in each
// direction since construction.
func (g *Governor) BytesTransferred() (upload, download uint64) {
	return atomic.LoadUint64(&g.uploadBytes), atomic.LoadUint64(&g.downloadBytes)
}
