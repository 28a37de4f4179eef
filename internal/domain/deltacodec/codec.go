package deltacodec

import (
	"crypto/sha256"

	"sentinelfs/internal/pkg/sferrors"
)

// StrongHashOf computes the strong cryptographic digest of data.
func StrongHashOf(data []byte) StrongHash {
	return sha256.Sum256(data)
}

// Signatures splits data into non-overlapping blocks of blockSize (the
// last block may be short) and records a weak+strong signature for each.
func Signatures(data []byte, blockSize int) []BlockSignature {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	numBlocks := (len(data) + blockSize - 1) / blockSize
	sigs := make([]BlockSignature, 0, numBlocks)

	for i := 0; i < numBlocks; i++ {
		offset := i * blockSize
		end := offset + blockSize
		if end > len(data) {
			end = len(data)
		}
		block := data[offset:end]

		sigs = append(sigs, BlockSignature{
			Index:  uint32(i),
			Offset: uint64(offset),
			Weak:   WeakChecksumOf(block),
			Strong: StrongHashOf(block),
		})
	}

	return sigs
}

// signatureIndex is a multimap from weak checksum to candidate base blocks,
// used for O(1)-average lookup while scanning.
type signatureIndex map[WeakChecksum][]BlockSignature

func buildIndex(sigs []BlockSignature) signatureIndex {
	idx := make(signatureIndex, len(sigs))
	for _, s := range sigs {
		idx[s.Weak] = append(idx[s.Weak], s)
	}
	return idx
}

func (idx signatureIndex) find(weak WeakChecksum, strong StrongHash) (BlockSignature, bool) {
	for _, cand := range idx[weak] {
		if cand.Strong == strong {
			return cand, true
		}
	}
	return BlockSignature{}, false
}

// Delta computes the operations needed to reconstruct newData given a base
// file described by baseSignatures. It slides a blockSize window over
// newData, maintaining the weak checksum via an O(1) rolling update, and
// falls back to per-byte literal accumulation on a miss.
func Delta(newData []byte, baseSignatures []BlockSignature, blockSize int) DeltaResult {
	if blockSize <= 0 {
		blockSize = DefaultBlockSize
	}

	idx := buildIndex(baseSignatures)

	result := DeltaResult{OriginalSize: uint64(len(newData))}

	var literal []byte
	flush := func() {
		if len(literal) == 0 {
			return
		}
		result.Ops = append(result.Ops, DeltaOp{Type: OpLiteral, Literal: literal})
		result.DeltaSize += uint64(len(literal))
		result.LiteralByteCount += uint64(len(literal))
		literal = nil
	}

	pos := 0
	n := len(newData)

	windowLen := func(p int) int {
		remaining := n - p
		if remaining > blockSize {
			return blockSize
		}
		return remaining
	}

	winLen := windowLen(pos)
	var weak WeakChecksum
	if winLen > 0 {
		weak = WeakChecksumOf(newData[pos : pos+winLen])
	}

	for pos < n {
		winLen = windowLen(pos)
		if winLen <= 0 {
			break
		}

		window := newData[pos : pos+winLen]

		if _, present := idx[weak]; present {
			if match, ok := idx.find(weak, StrongHashOf(window)); ok {
				flush()
				result.Ops = append(result.Ops, DeltaOp{
					Type:      OpBlockRef,
					BaseIndex: match.Index,
					Offset:    match.Offset,
					Len:       uint64(winLen),
				})
				result.DeltaSize += blockRefOverhead
				result.MatchedBlockCount++

				pos += winLen
				if pos < n {
					nextLen := windowLen(pos)
					if nextLen > 0 {
						weak = WeakChecksumOf(newData[pos : pos+nextLen])
					}
				}
				continue
			}
		}

		literal = append(literal, newData[pos])

		nextPos := pos + 1
		nextLen := windowLen(nextPos)
		if nextLen > 0 && nextLen == winLen {
			weak = RollUpdate(weak, newData[pos], newData[pos+winLen], winLen)
		} else if nextLen > 0 {
			weak = WeakChecksumOf(newData[nextPos : nextPos+nextLen])
		}
		pos = nextPos
	}

	flush()
	return result
}

// Apply reconstructs the new content given the base file and a DeltaResult.
// It fails with InvalidDelta if any BlockRef falls outside base.
func Apply(base []byte, delta DeltaResult) ([]byte, error) {
	out := make([]byte, 0, delta.OriginalSize)

	for _, op := range delta.Ops {
		switch op.Type {
		case OpLiteral:
			out = append(out, op.Literal...)
		case OpBlockRef:
			end := op.Offset + op.Len
			if end > uint64(len(base)) {
				return nil, &sferrors.InvalidDelta{Detail: "block reference outside base file"}
			}
			out = append(out, base[op.Offset:end]...)
		default:
			return nil, &sferrors.InvalidDelta{Detail: "unknown delta op type"}
		}
	}

	return out, nil
}
