package pipeline

import (
	"sync"
	"time"
)

// PendingChunksIdleTimeout bounds how long a receive buffer may sit
// without progress before it is reaped.
const PendingChunksIdleTimeout = 2 * time.Minute

// PendingChunks is the per-(peer,path) receive buffer for an in-flight
// block stream (§3). A chunk slot is written at most once; duplicate
// chunks from the wire are dropped.
type PendingChunks struct {
	mu            sync.Mutex
	total         uint32
	receivedCount uint32
	chunks        map[uint32][]byte
	lastActivity  time.Time
}

// NewPendingChunks allocates a receive buffer for total chunks.
func NewPendingChunks(total uint32) *PendingChunks {
	return &PendingChunks{
		total:        total,
		chunks:       make(map[uint32][]byte, total),
		lastActivity: time.Now(),
	}
}

// AddChunk records data at index if that slot has not already been
// filled. Returns true if the chunk was newly recorded, false if it was
// a duplicate or its index lies outside [0, total).
func (p *PendingChunks) AddChunk(index uint32, data []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if index >= p.total {
		return false
	}
	if _, exists := p.chunks[index]; exists {
		return false
	}
	stored := make([]byte, len(data))
	copy(stored, data)
	p.chunks[index] = stored
	p.receivedCount++
	p.lastActivity = time.Now()
	return true
}

// ReceivedCount reports how many distinct chunk indices have arrived.
func (p *PendingChunks) ReceivedCount() uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receivedCount
}

// Complete reports whether every chunk in [0, total) has arrived.
func (p *PendingChunks) Complete() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receivedCount >= p.total
}

// Assemble concatenates chunks in index order. Only valid once Complete
// reports true; callers must check first.
func (p *PendingChunks) Assemble() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()

	var size int
	for i := uint32(0); i < p.total; i++ {
		size += len(p.chunks[i])
	}
	out := make([]byte, 0, size)
	for i := uint32(0); i < p.total; i++ {
		out = append(out, p.chunks[i]...)
	}
	return out
}

// IdleSince reports how long it has been since the last chunk arrived.
func (p *PendingChunks) IdleSince(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return now.Sub(p.lastActivity)
}
