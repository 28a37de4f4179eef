package pipeline

import (
	"bytes"
	"testing"
	"time"
)

func TestAddChunkDropsDuplicateIndex(t *testing.T) {
	pc := NewPendingChunks(3)

	if !pc.AddChunk(0, []byte("a")) {
		t.Fatal("expected first write to index 0 to succeed")
	}
	if pc.AddChunk(0, []byte("z")) {
		t.Fatal("expected duplicate write to index 0 to be dropped")
	}
	if pc.ReceivedCount() != 1 {
		t.Fatalf("ReceivedCount() = %d, want 1", pc.ReceivedCount())
	}
}

func TestCompleteOnlyAfterAllIndicesArrive(t *testing.T) {
	pc := NewPendingChunks(2)
	if pc.Complete() {
		t.Fatal("expected incomplete with zero chunks")
	}
	pc.AddChunk(0, []byte("a"))
	if pc.Complete() {
		t.Fatal("expected incomplete with one of two chunks")
	}
	pc.AddChunk(1, []byte("b"))
	if !pc.Complete() {
		t.Fatal("expected complete once both chunks arrive")
	}
}

func TestAssembleConcatenatesInIndexOrder(t *testing.T) {
	pc := NewPendingChunks(3)
	pc.AddChunk(2, []byte("c"))
	pc.AddChunk(0, []byte("a"))
	pc.AddChunk(1, []byte("b"))

	if got := pc.Assemble(); !bytes.Equal(got, []byte("abc")) {
		t.Fatalf("Assemble() = %q, want abc", got)
	}
}

func TestIdleSinceReflectsLastChunkTime(t *testing.T) {
	pc := NewPendingChunks(2)
	pc.AddChunk(0, []byte("a"))

	time.Sleep(20 * time.Millisecond)
	if d := pc.IdleSince(time.Now()); d < 20*time.Millisecond {
		t.Fatalf("IdleSince() = %v, want >= 20ms", d)
	}
}
