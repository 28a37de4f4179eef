package pipeline

import (
	"encoding/binary"

	"sentinelfs/internal/domain/deltacodec"
	"sentinelfs/internal/pkg/sferrors"
)

// EncodeDeltaOps serializes a delta op sequence into the byte stream
// the sender chunks into BLOCK_DATA frames during a NEED_DELTA
// transfer. One entry per op: a type byte followed by either a
// length-prefixed literal run or a (base_index, offset, len) block
// reference.
func EncodeDeltaOps(ops []deltacodec.DeltaOp) []byte {
	buf := make([]byte, 0, len(ops)*24)
	for _, op := range ops {
		switch op.Type {
		case deltacodec.OpLiteral:
			buf = append(buf, byte(deltacodec.OpLiteral))
			buf = appendU32(buf, uint32(len(op.Literal)))
			buf = append(buf, op.Literal...)
		case deltacodec.OpBlockRef:
			buf = append(buf, byte(deltacodec.OpBlockRef))
			buf = appendU32(buf, op.BaseIndex)
			buf = appendU64(buf, op.Offset)
			buf = appendU64(buf, op.Len)
		}
	}
	return buf
}

// DecodeDeltaOps parses the stream EncodeDeltaOps produces.
func DecodeDeltaOps(data []byte) ([]deltacodec.DeltaOp, error) {
	var ops []deltacodec.DeltaOp
	pos := 0
	for pos < len(data) {
		if pos+1 > len(data) {
			return nil, &sferrors.InvalidDelta{Detail: "truncated op tag"}
		}
		opType := deltacodec.DeltaOpType(data[pos])
		pos++

		switch opType {
		case deltacodec.OpLiteral:
			if pos+4 > len(data) {
				return nil, &sferrors.InvalidDelta{Detail: "truncated literal length"}
			}
			n := binary.LittleEndian.Uint32(data[pos : pos+4])
			pos += 4
			if pos+int(n) > len(data) {
				return nil, &sferrors.InvalidDelta{Detail: "truncated literal body"}
			}
			literal := make([]byte, n)
			copy(literal, data[pos:pos+int(n)])
			pos += int(n)
			ops = append(ops, deltacodec.DeltaOp{Type: deltacodec.OpLiteral, Literal: literal})
		case deltacodec.OpBlockRef:
			if pos+20 > len(data) {
				return nil, &sferrors.InvalidDelta{Detail: "truncated block reference"}
			}
			baseIndex := binary.LittleEndian.Uint32(data[pos : pos+4])
			offset := binary.LittleEndian.Uint64(data[pos+4 : pos+12])
			length := binary.LittleEndian.Uint64(data[pos+12 : pos+20])
			pos += 20
			ops = append(ops, deltacodec.DeltaOp{Type: deltacodec.OpBlockRef, BaseIndex: baseIndex, Offset: offset, Len: length})
		default:
			return nil, &sferrors.InvalidDelta{Detail: "unknown op type"}
		}
	}
	return ops, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}
