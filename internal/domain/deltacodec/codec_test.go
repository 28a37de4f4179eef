package deltacodec

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestDeltaRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		base []byte
		new  []byte
	}{
		{"identical", []byte("the quick brown fox jumps over the lazy dog"), []byte("the quick brown fox jumps over the lazy dog")},
		{"empty base", []byte{}, []byte("hello world")},
		{"empty new", []byte("hello world"), []byte{}},
		{"both empty", []byte{}, []byte{}},
		{"appended", bytes.Repeat([]byte("a"), 10000), append(bytes.Repeat([]byte("a"), 10000), []byte("tail")...)},
		{"prepended", bytes.Repeat([]byte("b"), 10000), append([]byte("head"), bytes.Repeat([]byte("b"), 10000)...)},
		{"middle edit", bytes.Repeat([]byte("c"), 20000), editMiddle(bytes.Repeat([]byte("c"), 20000), 9000, []byte("INSERTED-CONTENT")) },
		{"totally different", bytes.Repeat([]byte("x"), 5000), bytes.Repeat([]byte("y"), 5000)},
		{"unaligned sizes", makeRandom(t, 12345), makeRandom(t, 9000)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sigs := Signatures(tc.base, 64)
			delta := Delta(tc.new, sigs, 64)
			got, err := Apply(tc.base, delta)
			if err != nil {
				t.Fatalf("Apply() error = %v", err)
			}
			if !bytes.Equal(got, tc.new) {
				t.Fatalf("round trip mismatch: got %d bytes, want %d bytes", len(got), len(tc.new))
			}
		})
	}
}

func editMiddle(data []byte, at int, replacement []byte) []byte {
	out := make([]byte, 0, len(data)+len(replacement))
	out = append(out, data[:at]...)
	out = append(out, replacement...)
	out = append(out, data[at+len(replacement):]...)
	return out
}

func makeRandom(t *testing.T, n int) []byte {
	t.Helper()
	r := rand.New(rand.NewSource(int64(n)))
	buf := make([]byte, n)
	r.Read(buf)
	return buf
}

func TestDeltaEfficiencyBoundedModification(t *testing.T) {
	const blockSize = 256
	const numBlocks = 40
	base := makeRandom(t, blockSize*numBlocks)

	modified := append([]byte(nil), base...)
	const k = 3
	modifiedBlocks := []int{5, 17, 30}
	for _, bi := range modifiedBlocks {
		off := bi * blockSize
		copy(modified[off:off+blockSize], bytes.Repeat([]byte{0xFF}, blockSize))
	}

	sigs := Signatures(base, blockSize)
	delta := Delta(modified, sigs, blockSize)

	maxLiteral := uint64(k*blockSize) + uint64(blockSize-1)*2
	if delta.LiteralByteCount > maxLiteral {
		t.Fatalf("literal byte count %d exceeds bound %d for %d modified blocks", delta.LiteralByteCount, maxLiteral, k)
	}

	got, err := Apply(base, delta)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	if !bytes.Equal(got, modified) {
		t.Fatalf("round trip mismatch after bounded modification")
	}
}

func TestApplyRejectsOutOfRangeBlockRef(t *testing.T) {
	base := []byte("short base")
	delta := DeltaResult{
		OriginalSize: 100,
		Ops: []DeltaOp{
			{Type: OpBlockRef, Offset: 0, Len: 1000},
		},
	}
	if _, err := Apply(base, delta); err == nil {
		t.Fatal("expected error for out-of-range block reference, got nil")
	}
}

func TestApplyRejectsUnknownOpType(t *testing.T) {
	base := []byte("base")
	delta := DeltaResult{Ops: []DeltaOp{{Type: DeltaOpType(99)}}}
	if _, err := Apply(base, delta); err == nil {
		t.Fatal("expected error for unknown op type, got nil")
	}
}

func TestSignaturesCoversAllBlocks(t *testing.T) {
	data := makeRandom(t, 1000)
	sigs := Signatures(data, 128)
	wantBlocks := (len(data) + 127) / 128
	if len(sigs) != wantBlocks {
		t.Fatalf("got %d signatures, want %d", len(sigs), wantBlocks)
	}
	last := sigs[len(sigs)-1]
	lastLen := len(data) - int(last.Offset)
	if lastLen != 1000-7*128 {
		t.Fatalf("unexpected final block length %d", lastLen)
	}
}
