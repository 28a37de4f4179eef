package pipeline

import "testing"

func TestManagerCreateIsIdempotentPerKey(t *testing.T) {
	m := NewManager(nil)

	c1 := m.Create("peer-a", "docs/a.txt", DirectionRecv, 100, [32]byte{1})
	c2 := m.Create("peer-a", "docs/a.txt", DirectionRecv, 999, [32]byte{2})

	if c1 != c2 {
		t.Fatal("expected Create to return the existing context for an already-live key")
	}
	if c2.FileSize != 100 {
		t.Fatalf("FileSize = %d, want the original 100 (second Create must not overwrite)", c2.FileSize)
	}
}

func TestManagerCreateDistinguishesDirection(t *testing.T) {
	m := NewManager(nil)

	send := m.Create("peer-a", "docs/a.txt", DirectionSend, 100, [32]byte{1})
	recv := m.Create("peer-a", "docs/a.txt", DirectionRecv, 100, [32]byte{1})

	if send == recv {
		t.Fatal("expected distinct contexts for send vs recv direction on the same (peer, path)")
	}
	if m.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", m.Len())
	}
}

func TestManagerDestroyRemovesContext(t *testing.T) {
	m := NewManager(nil)
	m.Create("peer-a", "docs/a.txt", DirectionSend, 100, [32]byte{1})

	m.Destroy("peer-a", "docs/a.txt", DirectionSend)

	if _, ok := m.Get("peer-a", "docs/a.txt", DirectionSend); ok {
		t.Fatal("expected context to be gone after Destroy")
	}
}

func TestManagerGeneratesDistinctTransferIDs(t *testing.T) {
	m := NewManager(nil)
	c1 := m.Create("peer-a", "one.txt", DirectionSend, 1, [32]byte{})
	c2 := m.Create("peer-a", "two.txt", DirectionSend, 1, [32]byte{})

	if c1.TransferID == c2.TransferID {
		t.Fatal("expected distinct transfer IDs for distinct transfers")
	}
}
