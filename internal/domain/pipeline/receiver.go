package pipeline

import (
	"sync"
	"time"

	"sentinelfs/internal/domain/antiloop"
	"sentinelfs/internal/domain/deltacodec"
	"sentinelfs/internal/domain/wire"
	"sentinelfs/internal/pkg/sferrors"
)

// FileWriter is the narrow filesystem surface the receiver's commit
// step needs: write the reconstructed bytes to a sibling temporary
// path, create missing parent directories, then atomically rename into
// place (§4.4 Commit). Implementations live in infrastructure.
type FileWriter interface {
	WriteTemp(path string, data []byte) (tempPath string, err error)
	Rename(tempPath, targetPath string) error
	Remove(path string) error
}

type metaKey struct {
	peerID string
	path   string
}

type metaDecision struct {
	hash    [32]byte
	size    uint64
	ackType wire.AckType
}

// Receiver drives the receiver-side sync pipeline state machine:
// FILE_META evaluation, signature computation for delta transfers,
// block assembly, integrity verification, and commit.
type Receiver struct {
	manager  *Manager
	antiLoop *antiloop.Ledger
	writer   FileWriter

	mu       sync.Mutex
	pending  map[metaKey]*PendingChunks
	lastMeta map[metaKey]metaDecision
}

// NewReceiver constructs a Receiver. antiLoop and writer may be nil in
// tests that only exercise the decision/verification logic.
func NewReceiver(m *Manager, antiLoop *antiloop.Ledger, writer FileWriter) *Receiver {
	return &Receiver{
		manager:  m,
		antiLoop: antiLoop,
		writer:   writer,
		pending:  make(map[metaKey]*PendingChunks),
		lastMeta: make(map[metaKey]metaDecision),
	}
}

// DecideFileMeta implements the metadata exchange contract (§4.4). It
// compares the incoming FILE_META against the local file's state and
// returns the FILE_META_ACK to send plus the TransferContext created
// for NEED_FULL/NEED_DELTA (nil for UP_TO_DATE).
//
// Delivering the same FILE_META twice with an identical hash and size
// returns the same decision without creating a second TransferContext,
// satisfying the metadata-idempotence property: at most one work item
// is produced per distinct (peer, path, hash).
func (r *Receiver) DecideFileMeta(peerID string, meta wire.FileMeta, localExists bool, localHash [32]byte, bothSupportDelta bool) (wire.AckType, *TransferContext) {
	key := metaKey{peerID: peerID, path: meta.Path}

	r.mu.Lock()
	if prev, ok := r.lastMeta[key]; ok && prev.hash == meta.Hash && prev.size == meta.Size {
		r.mu.Unlock()
		ctx, _ := r.manager.Get(peerID, meta.Path, DirectionRecv)
		return prev.ackType, ctx
	}
	r.mu.Unlock()

	var ackType wire.AckType
	var ctx *TransferContext

	switch {
	case localExists && localHash == meta.Hash:
		ackType = wire.AckUpToDate
	case !localExists:
		ackType = wire.AckNeedFull
		ctx = r.manager.Create(peerID, meta.Path, DirectionRecv, meta.Size, meta.Hash)
		ctx.State = StateNeedFull
	case bothSupportDelta:
		ackType = wire.AckNeedDelta
		ctx = r.manager.Create(peerID, meta.Path, DirectionRecv, meta.Size, meta.Hash)
		ctx.State = StateNeedDelta
		ctx.UseDelta = true
	default:
		ackType = wire.AckNeedFull
		ctx = r.manager.Create(peerID, meta.Path, DirectionRecv, meta.Size, meta.Hash)
		ctx.State = StateNeedFull
	}

	r.mu.Lock()
	r.lastMeta[key] = metaDecision{hash: meta.Hash, size: meta.Size, ackType: ackType}
	r.mu.Unlock()

	return ackType, ctx
}

// ComputeSignatures builds the SIGNATURE_LIST payload of the local
// file's blocks at the agreed block size, for the delta path.
func (r *Receiver) ComputeSignatures(path string, localBytes []byte, blockSize int) wire.SignatureList {
	sigs := deltacodec.Signatures(localBytes, blockSize)
	entries := make([]wire.SignatureEntry, len(sigs))
	for i, s := range sigs {
		entries[i] = wire.SignatureEntry{Index: s.Index, Weak: uint32(s.Weak), Strong: [32]byte(s.Strong)}
	}
	return wire.SignatureList{Path: path, Entries: entries}
}

// BeginBlockReceive allocates the receive buffer for totalChunks and
// transitions ctx into RECEIVING_BLOCKS.
func (r *Receiver) BeginBlockReceive(ctx *TransferContext, totalChunks uint32) {
	ctx.TotalChunks = totalChunks
	ctx.State = StateReceivingBlocks
	ctx.touch()

	r.mu.Lock()
	r.pending[metaKey{peerID: ctx.PeerID, path: ctx.RelativePath}] = NewPendingChunks(totalChunks)
	r.mu.Unlock()
}

// OnBlockData records one BLOCK_DATA chunk, ignoring duplicates, and
// reports the BLOCK_ACK to send back.
func (r *Receiver) OnBlockData(ctx *TransferContext, chunk wire.BlockData) wire.BlockAck {
	key := metaKey{peerID: ctx.PeerID, path: ctx.RelativePath}

	r.mu.Lock()
	pc := r.pending[key]
	r.mu.Unlock()

	if pc != nil && pc.AddChunk(chunk.ChunkIndex, chunk.Data) {
		ctx.CurrentChunk = chunk.ChunkIndex
		ctx.BytesTransferred += uint64(len(chunk.Data))
		ctx.touch()
	}

	received := uint32(0)
	if pc != nil {
		received = pc.ReceivedCount()
	}
	return wire.BlockAck{Path: ctx.RelativePath, ChunkIndex: chunk.ChunkIndex, Received: received}
}

// Ready reports whether every chunk has arrived for ctx.
func (r *Receiver) Ready(ctx *TransferContext) bool {
	r.mu.Lock()
	pc := r.pending[metaKey{peerID: ctx.PeerID, path: ctx.RelativePath}]
	r.mu.Unlock()
	return pc != nil && pc.Complete()
}

// VerifyAndCommit assembles the received chunks (applying them as a
// delta against base when ctx.UseDelta is set), checks the strong hash
// against ctx.FileHash, and — on match — writes the result via the
// sibling-temp-file-then-atomic-rename sequence, installing an
// Anti-Loop entry immediately before the rename so the resulting
// watcher event does not re-trigger a broadcast (§4.4 Commit).
//
// On a hash mismatch the transfer is marked FAILED and no write is
// made to the target path.
func (r *Receiver) VerifyAndCommit(ctx *TransferContext, targetPath string, base []byte) error {
	ctx.State = StateVerifying

	key := metaKey{peerID: ctx.PeerID, path: ctx.RelativePath}
	r.mu.Lock()
	pc := r.pending[key]
	r.mu.Unlock()
	if pc == nil || !pc.Complete() {
		ctx.State = StateFailed
		return &sferrors.TransferTimeout{Phase: "verifying"}
	}

	raw := pc.Assemble()

	var reconstructed []byte
	if ctx.UseDelta {
		ops, err := DecodeDeltaOps(raw)
		if err != nil {
			ctx.State = StateFailed
			return err
		}
		applied, err := deltacodec.Apply(base, deltacodec.DeltaResult{Ops: ops})
		if err != nil {
			ctx.State = StateFailed
			return err
		}
		reconstructed = applied
	} else {
		reconstructed = raw
	}

	if deltacodec.StrongHashOf(reconstructed) != deltacodec.StrongHash(ctx.FileHash) {
		ctx.State = StateFailed
		return &sferrors.IntegrityMismatch{Path: ctx.RelativePath}
	}

	ctx.State = StateCommitting
	if r.writer == nil {
		ctx.State = StateComplete
		r.cleanup(ctx)
		return nil
	}

	tempPath, err := r.writer.WriteTemp(targetPath, reconstructed)
	if err != nil {
		ctx.State = StateFailed
		return sferrors.Wrap(err, "write temp file")
	}

	if r.antiLoop != nil {
		r.antiLoop.Mark(targetPath)
	}

	if err := r.writer.Rename(tempPath, targetPath); err != nil {
		ctx.State = StateFailed
		return sferrors.Wrap(err, "atomic rename")
	}

	ctx.State = StateComplete
	r.cleanup(ctx)
	return nil
}

// HandleDelete applies the idempotent DELETE_FILE contract: if the
// target exists, remove it (marking Anti-Loop first); if absent,
// succeed silently (§4.4 Delete propagation).
func (r *Receiver) HandleDelete(path string, exists bool) error {
	if !exists {
		return nil
	}
	if r.antiLoop != nil {
		r.antiLoop.Mark(path)
	}
	if r.writer == nil {
		return nil
	}
	return r.writer.Remove(path)
}

func (r *Receiver) cleanup(ctx *TransferContext) {
	r.mu.Lock()
	delete(r.pending, metaKey{peerID: ctx.PeerID, path: ctx.RelativePath})
	r.mu.Unlock()
	r.manager.Destroy(ctx.PeerID, ctx.RelativePath, DirectionRecv)
}

// ReapIdle destroys pending receive buffers that have been idle past
// PendingChunksIdleTimeout without completing, per §3's "Reaped when
// idle past a timeout without completion."
func (r *Receiver) ReapIdle(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	reaped := 0
	for k, pc := range r.pending {
		if pc.IdleSince(now) > PendingChunksIdleTimeout && !pc.Complete() {
			delete(r.pending, k)
			reaped++
		}
	}
	return reaped
}
