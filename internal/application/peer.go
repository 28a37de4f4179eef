package application

import (
	"net"
	"time"

	"sentinelfs/internal/domain/session"
	"sentinelfs/internal/domain/wire"
	"sentinelfs/internal/pkg/sferrors"
)

// localCapabilities are the capability bits this build always offers
// during the handshake; encryption is handled by the TLS transport the
// handshake frames travel over, not negotiated at this layer.
const localCapabilities = wire.CapDeltaSync | wire.CapResume | wire.CapCompression

// peerConn is one live connection to a remote peer: the raw transport
// plus the Session framing it.
type peerConn struct {
	peerID         string
	conn           net.Conn
	sess           *session.Session
	connectedSince time.Time
}

func writeHandshakeFrame(conn net.Conn, msgType wire.MsgType, payload []byte) error {
	frame, err := wire.EncodeFrame(msgType, 0, 0, payload)
	if err != nil {
		return err
	}
	_, err = conn.Write(frame)
	return err
}

func negotiateChunkSize(local, proposed uint32) uint32 {
	if proposed == 0 {
		return local
	}
	if local < proposed {
		return local
	}
	return proposed
}

// handshakeOutbound performs the client side of the handshake: send
// HELLO, then expect either WELCOME or REJECT.
func handshakeOutbound(conn net.Conn, localPeerID, sessionCode string, chunkSize uint32) (session.State, error) {
	hello := wire.EncodeHello(wire.Hello{
		ProtocolVersion:   wire.ProtocolVersion,
		PeerID:            localPeerID,
		SessionCode:       sessionCode,
		Capabilities:      localCapabilities,
		ProposedChunkSize: chunkSize,
	})
	if err := writeHandshakeFrame(conn, wire.MsgHello, hello); err != nil {
		return session.State{}, sferrors.Wrap(err, "send hello")
	}

	frame, err := wire.DecodeFrame(conn)
	if err != nil {
		return session.State{}, sferrors.Wrap(err, "read handshake response")
	}

	switch frame.MsgType {
	case wire.MsgWelcome:
		welcome, err := wire.DecodeWelcome(frame.Payload)
		if err != nil {
			return session.State{}, err
		}
		return session.State{
			LocalPeerID:            localPeerID,
			RemotePeerID:           welcome.PeerID,
			NegotiatedCapabilities: welcome.Capabilities,
			AgreedChunkSize:        welcome.AgreedChunkSize,
		}, nil
	case wire.MsgReject:
		rej, err := wire.DecodeReject(frame.Payload)
		if err != nil {
			return session.State{}, err
		}
		return session.State{}, &sferrors.SessionHandshakeFailed{Reason: rej.Reason.String() + ": " + rej.Message}
	default:
		return session.State{}, &sferrors.SessionHandshakeFailed{Reason: "unexpected message type during handshake"}
	}
}

// handshakeInbound performs the server side of the handshake: expect
// HELLO, respond WELCOME with negotiated parameters.
func handshakeInbound(conn net.Conn, localPeerID string, chunkSize uint32) (session.State, error) {
	frame, err := wire.DecodeFrame(conn)
	if err != nil {
		return session.State{}, sferrors.Wrap(err, "read hello")
	}
	if frame.MsgType != wire.MsgHello {
		writeHandshakeFrame(conn, wire.MsgReject, wire.EncodeReject(wire.Reject{
			Reason:  wire.ReasonVersionIncompatible,
			Message: "expected HELLO",
		}))
		return session.State{}, &sferrors.SessionHandshakeFailed{Reason: "expected HELLO"}
	}

	hello, err := wire.DecodeHello(frame.Payload)
	if err != nil {
		return session.State{}, err
	}
	if hello.ProtocolVersion != wire.ProtocolVersion {
		writeHandshakeFrame(conn, wire.MsgReject, wire.EncodeReject(wire.Reject{
			Reason:  wire.ReasonVersionIncompatible,
			Message: "unsupported protocol version",
		}))
		return session.State{}, &sferrors.SessionHandshakeFailed{Reason: "VERSION_INCOMPATIBLE"}
	}

	negotiated := localCapabilities & hello.Capabilities
	agreedChunkSize := negotiateChunkSize(chunkSize, hello.ProposedChunkSize)

	welcome := wire.EncodeWelcome(wire.Welcome{
		ProtocolVersion: wire.ProtocolVersion,
		PeerID:          localPeerID,
		Capabilities:    negotiated,
		AgreedChunkSize: agreedChunkSize,
	})
	if err := writeHandshakeFrame(conn, wire.MsgWelcome, welcome); err != nil {
		return session.State{}, sferrors.Wrap(err, "send welcome")
	}

	return session.State{
		LocalPeerID:            localPeerID,
		RemotePeerID:           hello.PeerID,
		NegotiatedCapabilities: negotiated,
		AgreedChunkSize:        agreedChunkSize,
	}, nil
}
