package wire

import (
	"encoding/binary"
	"hash/crc32"
	"io"

	"sentinelfs/internal/pkg/sferrors"
)

// EncodeFrame serializes a header + payload into a wire-ready byte slice.
// The checksum is computed over the header with its checksum field zeroed,
// followed by the payload.
func EncodeFrame(msgType MsgType, seq uint32, flags uint16, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadLen {
		return nil, &sferrors.FrameInvalid{Detail: "payload exceeds maximum length"}
	}

	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], ProtocolVersion)
	binary.LittleEndian.PutUint16(buf[6:8], uint16(msgType))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(len(payload)))
	binary.LittleEndian.PutUint32(buf[12:16], seq)
	binary.LittleEndian.PutUint16(buf[16:18], flags)
	binary.LittleEndian.PutUint32(buf[18:22], 0) // checksum field zeroed for computation
	copy(buf[HeaderSize:], payload)

	sum := crc32.ChecksumIEEE(buf)
	binary.LittleEndian.PutUint32(buf[18:22], sum)

	return buf, nil
}

// DecodeFrame reads one frame from r, validating magic, version, and
// checksum. Any violation returns a FrameInvalid error; the caller must
// reset the session on any such error (§4.2).
func DecodeFrame(r io.Reader) (*Frame, error) {
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}

	magic := binary.LittleEndian.Uint32(header[0:4])
	if magic != Magic {
		return nil, &sferrors.FrameInvalid{Detail: "bad magic"}
	}

	version := binary.LittleEndian.Uint16(header[4:6])
	if version != ProtocolVersion {
		return nil, &sferrors.FrameInvalid{Detail: "unsupported version"}
	}

	msgType := binary.LittleEndian.Uint16(header[6:8])
	payloadLen := binary.LittleEndian.Uint32(header[8:12])
	if payloadLen > MaxPayloadLen {
		return nil, &sferrors.FrameInvalid{Detail: "payload exceeds maximum length"}
	}
	seq := binary.LittleEndian.Uint32(header[12:16])
	flags := binary.LittleEndian.Uint16(header[16:18])
	wantChecksum := binary.LittleEndian.Uint32(header[18:22])

	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, err
		}
	}

	verifyBuf := make([]byte, HeaderSize+len(payload))
	copy(verifyBuf, header)
	binary.LittleEndian.PutUint32(verifyBuf[18:22], 0)
	copy(verifyBuf[HeaderSize:], payload)

	if crc32.ChecksumIEEE(verifyBuf) != wantChecksum {
		return nil, &sferrors.FrameInvalid{Detail: "checksum mismatch"}
	}

	return &Frame{
		Version: version,
		MsgType: MsgType(msgType),
		Seq:     seq,
		Flags:   flags,
		Payload: payload,
	}, nil
}
