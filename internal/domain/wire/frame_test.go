package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeFrameRoundTrip(t *testing.T) {
	payload := []byte("hello frame payload")
	buf, err := EncodeFrame(MsgFileMeta, 7, FlagCompressed, payload)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}

	frame, err := DecodeFrame(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}

	if frame.Version != ProtocolVersion {
		t.Errorf("Version = %d, want %d", frame.Version, ProtocolVersion)
	}
	if frame.MsgType != MsgFileMeta {
		t.Errorf("MsgType = %v, want %v", frame.MsgType, MsgFileMeta)
	}
	if frame.Seq != 7 {
		t.Errorf("Seq = %d, want 7", frame.Seq)
	}
	if frame.Flags != FlagCompressed {
		t.Errorf("Flags = %d, want %d", frame.Flags, FlagCompressed)
	}
	if !bytes.Equal(frame.Payload, payload) {
		t.Errorf("Payload = %q, want %q", frame.Payload, payload)
	}
}

func TestEncodeDecodeFrameEmptyPayload(t *testing.T) {
	buf, err := EncodeFrame(MsgDeleteFile, 1, 0, nil)
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	frame, err := DecodeFrame(bytes.NewReader(buf))
	if err != nil {
		t.Fatalf("DecodeFrame() error = %v", err)
	}
	if len(frame.Payload) != 0 {
		t.Errorf("expected empty payload, got %d bytes", len(frame.Payload))
	}
}

func TestDecodeFrameRejectsBitFlipInPayload(t *testing.T) {
	buf, err := EncodeFrame(MsgFileMeta, 1, 0, []byte("integrity-sensitive payload"))
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}

	flipped := append([]byte(nil), buf...)
	flipped[HeaderSize+3] ^= 0x01

	if _, err := DecodeFrame(bytes.NewReader(flipped)); err == nil {
		t.Fatal("expected checksum rejection for flipped payload bit, got nil error")
	}
}

func TestDecodeFrameRejectsBitFlipInHeader(t *testing.T) {
	buf, err := EncodeFrame(MsgFileMeta, 1, 0, []byte("payload"))
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}

	flipped := append([]byte(nil), buf...)
	flipped[10] ^= 0x01 // inside payload_len field

	if _, err := DecodeFrame(bytes.NewReader(flipped)); err == nil {
		t.Fatal("expected rejection for flipped header bit, got nil error")
	}
}

func TestDecodeFrameRejectsBadMagic(t *testing.T) {
	buf, err := EncodeFrame(MsgHello, 1, 0, []byte("x"))
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	buf[0] ^= 0xFF
	if _, err := DecodeFrame(bytes.NewReader(buf)); err == nil {
		t.Fatal("expected rejection for bad magic, got nil error")
	}
}

func TestDecodeFrameRejectsUnsupportedVersion(t *testing.T) {
	buf, err := EncodeFrame(MsgHello, 1, 0, []byte("x"))
	if err != nil {
		t.Fatalf("EncodeFrame() error = %v", err)
	}
	buf[4] = 0xFF
	buf[5] = 0xFF
	if _, err := DecodeFrame(bytes.NewReader(buf)); err == nil {
		t.Fatal("expected rejection for unsupported version, got nil error")
	}
}

func TestEncodeFrameRejectsOversizedPayload(t *testing.T) {
	oversized := make([]byte, MaxPayloadLen+1)
	if _, err := EncodeFrame(MsgBlockData, 1, 0, oversized); err == nil {
		t.Fatal("expected error for oversized payload, got nil")
	}
}
