package session

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"sentinelfs/internal/domain/wire"
	"sentinelfs/internal/pkg/sferrors"
)

type loopback struct {
	buf bytes.Buffer
}

func (l *loopback) Write(p []byte) (int, error) { return l.buf.Write(p) }
func (l *loopback) Read(p []byte) (int, error)  { return l.buf.Read(p) }

func newTestSession(base uint32) (*Session, *loopback) {
	tr := &loopback{}
	s := New(tr, State{LocalPeerID: "local", RemotePeerID: "remote"}, base, nil, nil, nil)
	return s, tr
}

func TestSendAssignsIncreasingSequenceNumbers(t *testing.T) {
	s, tr := newTestSession(1)

	if err := s.Send(context.Background(), wire.MsgHello, []byte("a"), time.Time{}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if err := s.Send(context.Background(), wire.MsgHello, []byte("b"), time.Time{}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	r := bytes.NewReader(tr.buf.Bytes())
	f1, err := wire.DecodeFrame(r)
	if err != nil {
		t.Fatalf("DecodeFrame 1: %v", err)
	}
	if f1.Seq != 1 {
		t.Fatalf("first frame seq = %d, want 1", f1.Seq)
	}
	f2, err := wire.DecodeFrame(r)
	if err != nil {
		t.Fatalf("DecodeFrame 2: %v", err)
	}
	if f2.Seq != 2 {
		t.Fatalf("second frame seq = %d, want 2", f2.Seq)
	}
}

func TestOnFrameAcceptsExpectedSequenceAndAdvances(t *testing.T) {
	s, _ := newTestSession(1)

	frame := &wire.Frame{Version: wire.ProtocolVersion, MsgType: wire.MsgHello, Seq: 1, Payload: []byte("x")}
	_, payload, err := s.OnFrame(frame)
	if err != nil {
		t.Fatalf("OnFrame: %v", err)
	}
	if string(payload) != "x" {
		t.Fatalf("payload = %q, want x", payload)
	}

	frame2 := &wire.Frame{Version: wire.ProtocolVersion, MsgType: wire.MsgHello, Seq: 2, Payload: []byte("y")}
	if _, _, err := s.OnFrame(frame2); err != nil {
		t.Fatalf("OnFrame second: %v", err)
	}
}

func TestOnFrameRejectsSequenceGapAndMarksFailed(t *testing.T) {
	s, _ := newTestSession(1)

	frame := &wire.Frame{Version: wire.ProtocolVersion, MsgType: wire.MsgHello, Seq: 5, Payload: []byte("x")}
	_, _, err := s.OnFrame(frame)
	if err == nil {
		t.Fatal("expected error on sequence gap")
	}
	var invalid *sferrors.FrameInvalid
	if !errors.As(err, &invalid) {
		t.Fatalf("expected FrameInvalid, got %T", err)
	}
	if !s.Failed() {
		t.Fatal("expected session to be marked failed after sequence gap")
	}
}

func TestOnFrameOnFailedSessionIsRejected(t *testing.T) {
	s, _ := newTestSession(1)
	s.MarkFailed()

	frame := &wire.Frame{Version: wire.ProtocolVersion, MsgType: wire.MsgHello, Seq: 1, Payload: []byte("x")}
	if _, _, err := s.OnFrame(frame); err == nil {
		t.Fatal("expected error when session already failed")
	}
}

func TestSendOnFailedSessionReturnsError(t *testing.T) {
	s, _ := newTestSession(1)
	s.MarkFailed()

	if err := s.Send(context.Background(), wire.MsgHello, []byte("a"), time.Time{}); err == nil {
		t.Fatal("expected error sending on a failed session")
	}
}

func TestCheckLivenessDetectsSilence(t *testing.T) {
	s, _ := newTestSession(1)
	s.SetLivenessTimeout(10 * time.Millisecond)

	if s.CheckLiveness(time.Now()) {
		t.Fatal("expected liveness ok immediately after construction")
	}

	time.Sleep(20 * time.Millisecond)
	if !s.CheckLiveness(time.Now()) {
		t.Fatal("expected liveness timeout to trip after silence")
	}
}

func TestOnFrameResetsLivenessClock(t *testing.T) {
	s, _ := newTestSession(1)
	s.SetLivenessTimeout(50 * time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	frame := &wire.Frame{Version: wire.ProtocolVersion, MsgType: wire.MsgHello, Seq: 1, Payload: []byte("x")}
	if _, _, err := s.OnFrame(frame); err != nil {
		t.Fatalf("OnFrame: %v", err)
	}

	if s.CheckLiveness(time.Now()) {
		t.Fatal("expected liveness to be refreshed by a received frame")
	}
}
