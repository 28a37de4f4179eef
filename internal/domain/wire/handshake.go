package wire

import (
	"encoding/binary"

	"sentinelfs/internal/pkg/sferrors"
)

// Hello is the client's opening handshake message.
type Hello struct {
	ProtocolVersion   uint16
	PeerID            string
	SessionCode       string
	Capabilities      uint32
	ProposedChunkSize uint32
}

// EncodeHello serializes h per §6's HELLO layout.
func EncodeHello(h Hello) []byte {
	buf := make([]byte, 0, 2+2+len(h.PeerID)+2+len(h.SessionCode)+4+4)
	buf = appendU16(buf, h.ProtocolVersion)
	buf = appendLenPrefixedString(buf, h.PeerID)
	buf = appendLenPrefixedString(buf, h.SessionCode)
	buf = appendU32(buf, h.Capabilities)
	buf = appendU32(buf, h.ProposedChunkSize)
	return buf
}

// DecodeHello parses a HELLO payload.
func DecodeHello(payload []byte) (Hello, error) {
	r := newReader(payload)
	var h Hello
	var err error
	if h.ProtocolVersion, err = r.u16(); err != nil {
		return h, wrapFrameErr(err)
	}
	if h.PeerID, err = r.lenPrefixedString(); err != nil {
		return h, wrapFrameErr(err)
	}
	if h.SessionCode, err = r.lenPrefixedString(); err != nil {
		return h, wrapFrameErr(err)
	}
	if h.Capabilities, err = r.u32(); err != nil {
		return h, wrapFrameErr(err)
	}
	if h.ProposedChunkSize, err = r.u32(); err != nil {
		return h, wrapFrameErr(err)
	}
	return h, nil
}

// Welcome is the server's accepting handshake response.
type Welcome struct {
	ProtocolVersion   uint16
	PeerID            string
	Capabilities      uint32
	AgreedChunkSize   uint32
}

func EncodeWelcome(w Welcome) []byte {
	buf := make([]byte, 0, 2+2+len(w.PeerID)+4+4)
	buf = appendU16(buf, w.ProtocolVersion)
	buf = appendLenPrefixedString(buf, w.PeerID)
	buf = appendU32(buf, w.Capabilities)
	buf = appendU32(buf, w.AgreedChunkSize)
	return buf
}

func DecodeWelcome(payload []byte) (Welcome, error) {
	r := newReader(payload)
	var w Welcome
	var err error
	if w.ProtocolVersion, err = r.u16(); err != nil {
		return w, wrapFrameErr(err)
	}
	if w.PeerID, err = r.lenPrefixedString(); err != nil {
		return w, wrapFrameErr(err)
	}
	if w.Capabilities, err = r.u32(); err != nil {
		return w, wrapFrameErr(err)
	}
	if w.AgreedChunkSize, err = r.u32(); err != nil {
		return w, wrapFrameErr(err)
	}
	return w, nil
}

// Reject is the server's refusal handshake response.
type Reject struct {
	Reason  RejectReason
	Message string
}

func EncodeReject(rej Reject) []byte {
	buf := make([]byte, 0, 2+2+len(rej.Message))
	buf = appendU16(buf, uint16(rej.Reason))
	buf = appendLenPrefixedString(buf, rej.Message)
	return buf
}

func DecodeReject(payload []byte) (Reject, error) {
	r := newReader(payload)
	var rej Reject
	reason, err := r.u16()
	if err != nil {
		return rej, wrapFrameErr(err)
	}
	rej.Reason = RejectReason(reason)
	if rej.Message, err = r.lenPrefixedString(); err != nil {
		return rej, wrapFrameErr(err)
	}
	return rej, nil
}

func wrapFrameErr(err error) error {
	return &sferrors.FrameInvalid{Detail: err.Error()}
}

func appendU16(buf []byte, v uint16) []byte {
	var tmp [2]byte
	binary.LittleEndian.PutUint16(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendLenPrefixedString(buf []byte, s string) []byte {
	buf = appendU16(buf, uint16(len(s)))
	return append(buf, s...)
}

func appendLenPrefixedBytes(buf []byte, b []byte) []byte {
	buf = appendU16(buf, uint16(len(b)))
	return append(buf, b...)
}
