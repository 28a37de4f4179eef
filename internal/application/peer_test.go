package application

import (
	"fmt"
	"net"
	"testing"

	"sentinelfs/internal/domain/wire"
)

func TestNegotiateChunkSizeUsesLocalWhenProposedIsZero(t *testing.T) {
	if got := negotiateChunkSize(4096, 0); got != 4096 {
		t.Fatalf("got %d, want 4096", got)
	}
}

func TestNegotiateChunkSizeTakesSmallerOfTheTwo(t *testing.T) {
	if got := negotiateChunkSize(4096, 2048); got != 2048 {
		t.Fatalf("got %d, want 2048", got)
	}
	if got := negotiateChunkSize(2048, 4096); got != 2048 {
		t.Fatalf("got %d, want 2048", got)
	}
}

func TestHandshakeRoundTripNegotiatesCapabilitiesAndChunkSize(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	serverDone := make(chan error, 1)
	go func() {
		state, err := handshakeInbound(serverConn, "server-peer", 8192)
		if err == nil {
			switch {
			case state.RemotePeerID != "client-peer":
				err = fmt.Errorf("got remote peer id %q, want client-peer", state.RemotePeerID)
			case state.AgreedChunkSize != 4096:
				err = fmt.Errorf("got agreed chunk size %d, want 4096", state.AgreedChunkSize)
			}
		}
		serverDone <- err
	}()

	clientState, err := handshakeOutbound(clientConn, "client-peer", "rendezvous", 4096)
	if err != nil {
		t.Fatalf("handshakeOutbound: %v", err)
	}
	if clientState.RemotePeerID != "server-peer" {
		t.Fatalf("got remote peer %q, want server-peer", clientState.RemotePeerID)
	}
	if clientState.AgreedChunkSize != 4096 {
		t.Fatalf("got agreed chunk size %d, want 4096", clientState.AgreedChunkSize)
	}
	if clientState.NegotiatedCapabilities != localCapabilities {
		t.Fatalf("got capabilities %#x, want %#x", clientState.NegotiatedCapabilities, localCapabilities)
	}

	if err := <-serverDone; err != nil {
		t.Fatalf("handshakeInbound: %v", err)
	}
}

func TestHandshakeInboundRejectsMismatchedProtocolVersion(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	clientDone := make(chan struct{})
	go func() {
		defer close(clientDone)
		hello := wire.EncodeHello(wire.Hello{
			ProtocolVersion: wire.ProtocolVersion + 1,
			PeerID:          "old-client",
			Capabilities:    localCapabilities,
		})
		writeHandshakeFrame(clientConn, wire.MsgHello, hello)
		wire.DecodeFrame(clientConn) // drain the REJECT so the server's write does not block
	}()

	_, err := handshakeInbound(serverConn, "server-peer", 4096)
	if err == nil {
		t.Fatal("expected handshakeInbound to reject incompatible protocol version")
	}
	<-clientDone
}
