package pipeline

import (
	"sentinelfs/internal/domain/deltacodec"
	"sentinelfs/internal/domain/wire"
	"sentinelfs/internal/pkg/sferrors"
)

// SendWindow is a per-transfer count of unacknowledged BLOCK_DATA
// chunks. Nothing reads it: neither Sender nor the daemon's block
// streaming tracks chunks in flight, and every chunk of a payload is
// sent without waiting for BLOCK_ACKs.
const SendWindow = 16

// Sender drives the sender-side sync pipeline state machine: metadata
// emission, delta computation against signatures the receiver sends
// back, chunking, and BLOCK_ACK progress tracking.
type Sender struct {
	manager *Manager
}

// NewSender constructs a Sender.
func NewSender(m *Manager) *Sender {
	return &Sender{manager: m}
}

// StartTransfer creates the sender-side TransferContext and the
// FILE_META to emit, transitioning to AWAITING_META_ACK.
func (s *Sender) StartTransfer(peerID, path string, fileBytes []byte, hash [32]byte) (*TransferContext, wire.FileMeta) {
	ctx := s.manager.Create(peerID, path, DirectionSend, uint64(len(fileBytes)), hash)
	ctx.State = StateAwaitingMetaAck
	ctx.touch()

	meta := wire.FileMeta{
		Size:     uint64(len(fileBytes)),
		HashAlgo: 0,
		Hash:     hash,
		Path:     path,
	}
	return ctx, meta
}

// payloadFor returns the bytes to stream for the negotiated transfer
// kind: the raw file for NEED_FULL, or a serialized delta op stream
// computed against the receiver's signatures for NEED_DELTA.
func payloadFor(ctx *TransferContext, ack wire.FileMetaAck, fileBytes []byte, blockSize int, signatures []wire.SignatureEntry) ([]byte, error) {
	switch ack.AckType {
	case wire.AckNeedFull:
		return fileBytes, nil
	case wire.AckNeedDelta:
		sigs := make([]deltacodec.BlockSignature, len(signatures))
		for i, e := range signatures {
			sigs[i] = deltacodec.BlockSignature{Index: e.Index, Weak: deltacodec.WeakChecksum(e.Weak), Strong: deltacodec.StrongHash(e.Strong)}
		}
		delta := deltacodec.Delta(fileBytes, sigs, blockSize)
		return EncodeDeltaOps(delta.Ops), nil
	default:
		return nil, &sferrors.InvalidDelta{Detail: "no payload for ack type"}
	}
}

// OnMetaAck advances ctx per the receiver's decision. For NEED_DELTA it
// transitions to AWAITING_SIGNATURES; for NEED_FULL it builds the full
// streaming payload directly; for UP_TO_DATE the transfer is complete
// without ever reaching STREAMING_BLOCKS.
func (s *Sender) OnMetaAck(ctx *TransferContext, ack wire.FileMetaAck, fileBytes []byte) ([]byte, error) {
	switch ack.AckType {
	case wire.AckUpToDate:
		ctx.State = StateComplete
		s.manager.Destroy(ctx.PeerID, ctx.RelativePath, DirectionSend)
		return nil, nil
	case wire.AckNeedFull:
		ctx.State = StateStreamingBlocks
		ctx.touch()
		return fileBytes, nil
	case wire.AckNeedDelta:
		ctx.State = StateAwaitingSignatures
		ctx.UseDelta = true
		ctx.touch()
		return nil, nil
	default:
		ctx.State = StateFailed
		return nil, &sferrors.InvalidDelta{Detail: "unrecognized FILE_META_ACK type"}
	}
}

// OnSignatureList computes the delta against the receiver's signatures
// and returns the serialized block stream to chunk and send.
func (s *Sender) OnSignatureList(ctx *TransferContext, sigList wire.SignatureList, fileBytes []byte, blockSize int) ([]byte, error) {
	if ctx.State != StateAwaitingSignatures {
		return nil, &sferrors.InvalidDelta{Detail: "signature list received outside AWAITING_SIGNATURES"}
	}
	ctx.State = StateComputingDelta

	ack := wire.FileMetaAck{AckType: wire.AckNeedDelta}
	payload, err := payloadFor(ctx, ack, fileBytes, blockSize, sigList.Entries)
	if err != nil {
		ctx.State = StateFailed
		return nil, err
	}

	ctx.State = StateStreamingBlocks
	ctx.touch()
	return payload, nil
}

// ChunkPayload splits payload into fixed-size chunks of chunkSize,
// matching §4.4's "sender splits the payload into fixed-size chunks of
// agreed_chunk_size".
func ChunkPayload(payload []byte, chunkSize uint32) [][]byte {
	if chunkSize == 0 {
		chunkSize = 1
	}
	var chunks [][]byte
	for i := 0; i < len(payload); i += int(chunkSize) {
		end := i + int(chunkSize)
		if end > len(payload) {
			end = len(payload)
		}
		chunks = append(chunks, payload[i:end])
	}
	return chunks
}

// OnBlockAck records sender-side progress from a BLOCK_ACK. Returns
// true once every chunk has been acknowledged, at which point the
// caller should transition to AWAITING_COMPLETE_ACK.
func (s *Sender) OnBlockAck(ctx *TransferContext, ack wire.BlockAck, totalChunks uint32) bool {
	ctx.touch()
	if ack.Received >= totalChunks {
		ctx.State = StateAwaitingCompleteAck
		return true
	}
	return false
}

// OnTransferComplete finalizes the transfer on the sender side. A
// successful TRANSFER_COMPLETE moves ctx to COMPLETE; an unsuccessful
// one moves it to FAILED and returns a TransferTimeout error. Either way
// the context is destroyed.
func (s *Sender) OnTransferComplete(ctx *TransferContext, msg wire.TransferComplete) error {
	if !msg.Success {
		ctx.State = StateFailed
		s.manager.Destroy(ctx.PeerID, ctx.RelativePath, DirectionSend)
		return &sferrors.TransferTimeout{Phase: "awaiting_complete_ack"}
	}
	ctx.State = StateComplete
	s.manager.Destroy(ctx.PeerID, ctx.RelativePath, DirectionSend)
	return nil
}

// Retry reports whether ctx may be retried from IDLE, incrementing its
// retry counter, bounded by MaxTransferRetries (§4.4: "the sender may
// retry the whole transfer at most a bounded number of times").
func (s *Sender) Retry(ctx *TransferContext) bool {
	if ctx.Retries >= MaxTransferRetries {
		ctx.State = StateFailed
		return false
	}
	ctx.Retries++
	ctx.State = StateSendingMeta
	ctx.touch()
	return true
}
