package pipeline

import (
	"testing"

	"sentinelfs/internal/domain/deltacodec"
	"sentinelfs/internal/domain/wire"
)

type fakeWriter struct {
	writes  map[string][]byte
	renamed map[string]string
	removed []string
}

func newFakeWriter() *fakeWriter {
	return &fakeWriter{writes: make(map[string][]byte), renamed: make(map[string]string)}
}

func (f *fakeWriter) WriteTemp(path string, data []byte) (string, error) {
	tmp := path + ".tmp"
	f.writes[tmp] = data
	return tmp, nil
}

func (f *fakeWriter) Rename(tempPath, targetPath string) error {
	f.renamed[tempPath] = targetPath
	return nil
}

func (f *fakeWriter) Remove(path string) error {
	f.removed = append(f.removed, path)
	return nil
}

func TestDecideFileMetaUpToDateCreatesNoContext(t *testing.T) {
	r := NewReceiver(NewManager(nil), nil, nil)
	hash := deltacodec.StrongHashOf([]byte("same content"))

	ackType, ctx := r.DecideFileMeta("peer-a", wire.FileMeta{Path: "a.txt", Hash: [32]byte(hash)}, true, [32]byte(hash), true)

	if ackType != wire.AckUpToDate {
		t.Fatalf("ackType = %v, want AckUpToDate", ackType)
	}
	if ctx != nil {
		t.Fatal("expected no TransferContext for UP_TO_DATE")
	}
}

func TestDecideFileMetaMissingFileWantsFull(t *testing.T) {
	r := NewReceiver(NewManager(nil), nil, nil)
	hash := deltacodec.StrongHashOf([]byte("remote content"))

	ackType, ctx := r.DecideFileMeta("peer-a", wire.FileMeta{Path: "a.txt", Hash: [32]byte(hash)}, false, [32]byte{}, true)

	if ackType != wire.AckNeedFull {
		t.Fatalf("ackType = %v, want AckNeedFull", ackType)
	}
	if ctx == nil || ctx.State != StateNeedFull {
		t.Fatal("expected a TransferContext in NEED_FULL")
	}
}

func TestDecideFileMetaDifferingHashWantsDeltaWhenBothSupportIt(t *testing.T) {
	r := NewReceiver(NewManager(nil), nil, nil)
	remoteHash := deltacodec.StrongHashOf([]byte("remote content"))
	localHash := deltacodec.StrongHashOf([]byte("local content"))

	ackType, ctx := r.DecideFileMeta("peer-a", wire.FileMeta{Path: "a.txt", Hash: [32]byte(remoteHash)}, true, [32]byte(localHash), true)

	if ackType != wire.AckNeedDelta {
		t.Fatalf("ackType = %v, want AckNeedDelta", ackType)
	}
	if ctx == nil || !ctx.UseDelta {
		t.Fatal("expected a delta TransferContext")
	}
}

func TestDecideFileMetaFallsBackToFullWithoutDeltaCapability(t *testing.T) {
	r := NewReceiver(NewManager(nil), nil, nil)
	remoteHash := deltacodec.StrongHashOf([]byte("remote content"))
	localHash := deltacodec.StrongHashOf([]byte("local content"))

	ackType, _ := r.DecideFileMeta("peer-a", wire.FileMeta{Path: "a.txt", Hash: [32]byte(remoteHash)}, true, [32]byte(localHash), false)

	if ackType != wire.AckNeedFull {
		t.Fatalf("ackType = %v, want AckNeedFull when DELTA_SYNC isn't mutually supported", ackType)
	}
}

// TestDecideFileMetaIsIdempotentForDuplicateMeta exercises the
// "Metadata idempotence" testable property: delivering the same
// FILE_META twice with an identical hash produces at most one work
// item — the second call must not spawn a second TransferContext.
func TestDecideFileMetaIsIdempotentForDuplicateMeta(t *testing.T) {
	r := NewReceiver(NewManager(nil), nil, nil)
	hash := deltacodec.StrongHashOf([]byte("remote content"))
	meta := wire.FileMeta{Path: "a.txt", Hash: [32]byte(hash), Size: 42}

	ack1, ctx1 := r.DecideFileMeta("peer-a", meta, false, [32]byte{}, true)
	ack2, ctx2 := r.DecideFileMeta("peer-a", meta, false, [32]byte{}, true)

	if ack1 != ack2 {
		t.Fatalf("expected identical ack decisions, got %v then %v", ack1, ack2)
	}
	if ctx1 != ctx2 {
		t.Fatal("expected the same TransferContext returned for a duplicate identical FILE_META")
	}
	if r.manager.Len() != 1 {
		t.Fatalf("manager.Len() = %d, want 1 (no second transfer begun)", r.manager.Len())
	}
}

func TestBlockDataDropsDuplicateChunkIndex(t *testing.T) {
	r := NewReceiver(NewManager(nil), nil, nil)
	hash := deltacodec.StrongHashOf([]byte("xx"))
	_, ctx := r.DecideFileMeta("peer-a", wire.FileMeta{Path: "a.txt", Hash: [32]byte(hash)}, false, [32]byte{}, true)
	r.BeginBlockReceive(ctx, 2)

	r.OnBlockData(ctx, wire.BlockData{Path: "a.txt", ChunkIndex: 0, Data: []byte("x")})
	ack := r.OnBlockData(ctx, wire.BlockData{Path: "a.txt", ChunkIndex: 0, Data: []byte("y")})

	if ack.Received != 1 {
		t.Fatalf("Received = %d, want 1 (duplicate must not double-count)", ack.Received)
	}
	if ctx.BytesTransferred != 1 {
		t.Fatalf("BytesTransferred = %d, want 1", ctx.BytesTransferred)
	}
}

func TestVerifyAndCommitWritesOnHashMatch(t *testing.T) {
	m := NewManager(nil)
	writer := newFakeWriter()
	r := NewReceiver(m, nil, writer)

	content := []byte("hello world")
	hash := deltacodec.StrongHashOf(content)
	_, ctx := r.DecideFileMeta("peer-a", wire.FileMeta{Path: "a.txt", Hash: [32]byte(hash)}, false, [32]byte{}, true)
	r.BeginBlockReceive(ctx, 1)
	r.OnBlockData(ctx, wire.BlockData{Path: "a.txt", ChunkIndex: 0, Data: content})

	if err := r.VerifyAndCommit(ctx, "a.txt", nil); err != nil {
		t.Fatalf("VerifyAndCommit: %v", err)
	}
	if ctx.State != StateComplete {
		t.Fatalf("State = %v, want complete", ctx.State)
	}
	if len(writer.renamed) != 1 {
		t.Fatal("expected exactly one rename to commit the file")
	}
}

func TestVerifyAndCommitFailsOnHashMismatch(t *testing.T) {
	m := NewManager(nil)
	writer := newFakeWriter()
	r := NewReceiver(m, nil, writer)

	wrongHash := deltacodec.StrongHashOf([]byte("expected content"))
	_, ctx := r.DecideFileMeta("peer-a", wire.FileMeta{Path: "a.txt", Hash: [32]byte(wrongHash)}, false, [32]byte{}, true)
	r.BeginBlockReceive(ctx, 1)
	r.OnBlockData(ctx, wire.BlockData{Path: "a.txt", ChunkIndex: 0, Data: []byte("actual bytes")})

	err := r.VerifyAndCommit(ctx, "a.txt", nil)
	if err == nil {
		t.Fatal("expected error on hash mismatch")
	}
	if ctx.State != StateFailed {
		t.Fatalf("State = %v, want failed", ctx.State)
	}
	if len(writer.renamed) != 0 {
		t.Fatal("expected no rename when integrity check fails")
	}
}

func TestHandleDeleteIsIdempotentWhenAbsent(t *testing.T) {
	writer := newFakeWriter()
	r := NewReceiver(NewManager(nil), nil, writer)

	if err := r.HandleDelete("gone.txt", false); err != nil {
		t.Fatalf("HandleDelete on absent file: %v", err)
	}
	if len(writer.removed) != 0 {
		t.Fatal("expected no Remove call for an already-absent file")
	}
}

func TestHandleDeleteRemovesWhenPresent(t *testing.T) {
	writer := newFakeWriter()
	r := NewReceiver(NewManager(nil), nil, writer)

	if err := r.HandleDelete("present.txt", true); err != nil {
		t.Fatalf("HandleDelete: %v", err)
	}
	if len(writer.removed) != 1 || writer.removed[0] != "present.txt" {
		t.Fatalf("removed = %v, want [present.txt]", writer.removed)
	}
}
