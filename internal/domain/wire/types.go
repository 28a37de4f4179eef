// Package wire implements the SentinelFS frame format, handshake messages,
// and per-message-type payload encodings.
package wire

// Magic identifies a SentinelFS frame header.
const Magic uint32 = 0x53465321

// ProtocolVersion is the only version this build speaks.
const ProtocolVersion uint16 = 1

// HeaderSize is the fixed on-wire header length in bytes.
const HeaderSize = 22

// MaxPayloadLen bounds a single frame's payload.
const MaxPayloadLen = 16 * 1024 * 1024

// MsgType tags the payload layout that follows a frame header.
type MsgType uint16

const (
	MsgHello           MsgType = 0x01
	MsgWelcome         MsgType = 0x02
	MsgReject          MsgType = 0x03
	MsgFileMeta        MsgType = 0x10
	MsgFileMetaAck     MsgType = 0x11
	MsgSignatureList   MsgType = 0x12
	MsgBlockData       MsgType = 0x13
	MsgBlockAck        MsgType = 0x14
	MsgTransferComplete MsgType = 0x15
	MsgDeleteFile      MsgType = 0x16
	MsgPing            MsgType = 0x20
	MsgPong            MsgType = 0x21
)

// Capability bits negotiated during the handshake.
const (
	CapDeltaSync   uint32 = 0x1
	CapResume      uint32 = 0x2
	CapCompression uint32 = 0x4
	CapEncryption  uint32 = 0x8
)

// Frame flag bits.
const (
	// FlagCompressed marks a payload wrapped by the zstd envelope in
	// compression.go. Only ever set when both peers negotiated
	// CapCompression during the handshake.
	FlagCompressed uint16 = 0x1
)

// AckType is the receiver's verdict in a FILE_META_ACK.
type AckType uint8

const (
	AckUpToDate AckType = 0
	AckNeedDelta AckType = 1
	AckNeedFull AckType = 2
)

// RejectReason is the server's verdict code in a REJECT message.
type RejectReason uint16

const (
	ReasonSessionCodeMismatch RejectReason = 1
	ReasonVersionIncompatible RejectReason = 2
	ReasonPinViolation        RejectReason = 3
	ReasonPeerBlocked         RejectReason = 4
	ReasonRateLimited         RejectReason = 5
)

func (r RejectReason) String() string {
	switch r {
	case ReasonSessionCodeMismatch:
		return "SESSION_CODE_MISMATCH"
	case ReasonVersionIncompatible:
		return "VERSION_INCOMPATIBLE"
	case ReasonPinViolation:
		return "PIN_VIOLATION"
	case ReasonPeerBlocked:
		return "PEER_BLOCKED"
	case ReasonRateLimited:
		return "RATE_LIMITED"
	default:
		return "UNKNOWN"
	}
}

// Frame is a decoded SentinelFS wire frame.
type Frame struct {
	Version    uint16
	MsgType    MsgType
	Seq        uint32
	Flags      uint16
	Payload    []byte
}
