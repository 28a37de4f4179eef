package pipeline

import (
	"bytes"
	"testing"

	"sentinelfs/internal/domain/deltacodec"
	"sentinelfs/internal/domain/wire"
)

func TestChunkPayloadSplitsIntoFixedSizePieces(t *testing.T) {
	chunks := ChunkPayload([]byte("abcdefghij"), 3)
	if len(chunks) != 4 {
		t.Fatalf("got %d chunks, want 4", len(chunks))
	}
	if string(chunks[0]) != "abc" || string(chunks[3]) != "j" {
		t.Fatalf("unexpected chunk contents: %q", chunks)
	}
}

func TestSenderFullTransferRoundTrip(t *testing.T) {
	content := []byte("the quick brown fox jumps over the lazy dog")
	hash := deltacodec.StrongHashOf(content)

	sender := NewSender(NewManager(nil))
	ctx, meta := sender.StartTransfer("peer-b", "fox.txt", content, [32]byte(hash))
	if ctx.State != StateAwaitingMetaAck {
		t.Fatalf("sender state = %v, want awaiting_meta_ack", ctx.State)
	}

	receiver := NewReceiver(NewManager(nil), nil, nil)
	ackType, rctx := receiver.DecideFileMeta("peer-a", meta, false, [32]byte{}, true)
	if ackType != wire.AckNeedFull {
		t.Fatalf("ackType = %v, want AckNeedFull for a missing file", ackType)
	}

	payload, err := sender.OnMetaAck(ctx, wire.FileMetaAck{AckType: ackType}, content)
	if err != nil {
		t.Fatalf("OnMetaAck: %v", err)
	}
	if !bytes.Equal(payload, content) {
		t.Fatal("expected full payload to equal file content")
	}

	chunks := ChunkPayload(payload, 8)
	receiver.BeginBlockReceive(rctx, uint32(len(chunks)))

	var lastAck wire.BlockAck
	for i, c := range chunks {
		lastAck = receiver.OnBlockData(rctx, wire.BlockData{Path: "fox.txt", ChunkIndex: uint32(i), Data: c})
	}

	done := sender.OnBlockAck(ctx, lastAck, uint32(len(chunks)))
	if !done {
		t.Fatal("expected OnBlockAck to report completion once every chunk is acked")
	}
	if ctx.State != StateAwaitingCompleteAck {
		t.Fatalf("sender state = %v, want awaiting_complete_ack", ctx.State)
	}

	if err := receiver.VerifyAndCommit(rctx, "fox.txt", nil); err != nil {
		t.Fatalf("VerifyAndCommit: %v", err)
	}

	if err := sender.OnTransferComplete(ctx, wire.TransferComplete{Success: true, Path: "fox.txt"}); err != nil {
		t.Fatalf("OnTransferComplete: %v", err)
	}
	if ctx.State != StateComplete {
		t.Fatalf("sender state = %v, want complete", ctx.State)
	}
}

func TestSenderDeltaTransferRoundTrip(t *testing.T) {
	base := bytes.Repeat([]byte("0123456789"), 20)
	newContent := append(append([]byte{}, base...), []byte("-appended-tail")...)
	hash := deltacodec.StrongHashOf(newContent)

	sender := NewSender(NewManager(nil))
	ctx, meta := sender.StartTransfer("peer-b", "blob.bin", newContent, [32]byte(hash))

	receiver := NewReceiver(NewManager(nil), nil, nil)
	localHash := deltacodec.StrongHashOf(base)
	ackType, rctx := receiver.DecideFileMeta("peer-a", meta, true, [32]byte(localHash), true)
	if ackType != wire.AckNeedDelta {
		t.Fatalf("ackType = %v, want AckNeedDelta", ackType)
	}

	if _, err := sender.OnMetaAck(ctx, wire.FileMetaAck{AckType: ackType}, newContent); err != nil {
		t.Fatalf("OnMetaAck: %v", err)
	}
	if ctx.State != StateAwaitingSignatures {
		t.Fatalf("sender state = %v, want awaiting_signatures", ctx.State)
	}

	sigList := receiver.ComputeSignatures("blob.bin", base, 10)

	payload, err := sender.OnSignatureList(ctx, sigList, newContent, 10)
	if err != nil {
		t.Fatalf("OnSignatureList: %v", err)
	}

	chunks := ChunkPayload(payload, 16)
	receiver.BeginBlockReceive(rctx, uint32(len(chunks)))
	var lastAck wire.BlockAck
	for i, c := range chunks {
		lastAck = receiver.OnBlockData(rctx, wire.BlockData{Path: "blob.bin", ChunkIndex: uint32(i), Data: c})
	}
	sender.OnBlockAck(ctx, lastAck, uint32(len(chunks)))

	if err := receiver.VerifyAndCommit(rctx, "blob.bin", base); err != nil {
		t.Fatalf("VerifyAndCommit: %v", err)
	}
	if rctx.State != StateComplete {
		t.Fatalf("receiver state = %v, want complete", rctx.State)
	}
}

func TestSenderRetryBoundedByMaxTransferRetries(t *testing.T) {
	sender := NewSender(NewManager(nil))
	ctx, _ := sender.StartTransfer("peer-b", "f.txt", []byte("x"), [32]byte{})

	for i := 0; i < MaxTransferRetries; i++ {
		if !sender.Retry(ctx) {
			t.Fatalf("expected Retry to succeed on attempt %d", i)
		}
	}
	if sender.Retry(ctx) {
		t.Fatal("expected Retry to fail once MaxTransferRetries is exceeded")
	}
	if ctx.State != StateFailed {
		t.Fatalf("state = %v, want failed after exhausting retries", ctx.State)
	}
}

func TestOnTransferCompleteFailureMarksContextFailed(t *testing.T) {
	sender := NewSender(NewManager(nil))
	ctx, _ := sender.StartTransfer("peer-b", "f.txt", []byte("x"), [32]byte{})

	err := sender.OnTransferComplete(ctx, wire.TransferComplete{Success: false, Reason: "peer aborted"})
	if err == nil {
		t.Fatal("expected error on unsuccessful TRANSFER_COMPLETE")
	}
	if ctx.State != StateFailed {
		t.Fatalf("state = %v, want failed", ctx.State)
	}
}
