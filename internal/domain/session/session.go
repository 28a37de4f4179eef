// Package session implements the peer session: the framing and sequence
// layer sitting directly on top of one underlying transport connection
// (§4.2, §4.3).
package session

import (
	"context"
	"io"
	"sync"
	"time"

	"sentinelfs/internal/domain/governor"
	"sentinelfs/internal/domain/netquality"
	"sentinelfs/internal/domain/wire"
	"sentinelfs/internal/infrastructure/logging"
	"sentinelfs/internal/pkg/sferrors"
)

// DefaultLivenessTimeout is the window of silence after which a session
// is considered dead and must be reset.
const DefaultLivenessTimeout = 60 * time.Second

// Transport is the minimal byte-stream contract a Session frames over.
// A *net.Conn (optionally TLS-wrapped) satisfies this directly.
type Transport interface {
	io.Reader
	io.Writer
}

// State captures a session's negotiated parameters, established once by
// the handshake and immutable for the session's lifetime.
type State struct {
	LocalPeerID            string
	RemotePeerID           string
	NegotiatedCapabilities uint32
	AgreedChunkSize        uint32
}

// Session holds negotiated state for one peer connection and owns
// framing: assigning/validating sequence numbers, computing checksums,
// and routing writes through the bandwidth governor.
type Session struct {
	transport Transport
	state     State
	governor  *governor.Governor
	metrics   *netquality.Tracker
	logger    *logging.Logger

	livenessTimeout time.Duration

	mu            sync.Mutex
	nextTxSeq     uint32
	expectedRxSeq uint32
	lastRx        time.Time
	failed        bool
}

// New constructs a Session over transport with the given negotiated
// state. next_tx_seq and expected_rx_seq both start at base, per §4.2's
// "initialized to a shared base (e.g., 1)".
func New(transport Transport, state State, base uint32, gov *governor.Governor, metrics *netquality.Tracker, logger *logging.Logger) *Session {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Session{
		transport:       transport,
		state:           state,
		governor:        gov,
		metrics:         metrics,
		logger:          logger.Component("session"),
		livenessTimeout: DefaultLivenessTimeout,
		nextTxSeq:       base,
		expectedRxSeq:   base,
		lastRx:          time.Now(),
	}
}

// SetLivenessTimeout overrides DefaultLivenessTimeout, primarily for tests.
func (s *Session) SetLivenessTimeout(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.livenessTimeout = d
}

// State returns the session's negotiated parameters.
func (s *Session) State() State { return s.state }

// Failed reports whether the session has been marked failed and must no
// longer be used.
func (s *Session) Failed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failed
}

// Send assigns the next outgoing sequence number, frames payload, blocks
// on the bandwidth governor for capacity, then writes the frame to the
// transport. On write failure the session is marked failed and the
// error returned for the router to notify on.
func (s *Session) Send(ctx context.Context, msgType wire.MsgType, payload []byte, deadline time.Time) error {
	s.mu.Lock()
	if s.failed {
		s.mu.Unlock()
		return &sferrors.PeerUnreachable{PeerID: s.state.RemotePeerID, Cause: errSessionFailed}
	}
	seq := s.nextTxSeq
	s.nextTxSeq++
	s.mu.Unlock()

	var flags uint16
	sendPayload := payload
	if compressed, ok := wire.MaybeCompress(payload, s.state.NegotiatedCapabilities); ok {
		sendPayload = compressed
		flags |= wire.FlagCompressed
	}

	frame, err := wire.EncodeFrame(msgType, seq, flags, sendPayload)
	if err != nil {
		return sferrors.Wrap(err, "encode frame")
	}

	if s.governor != nil {
		if err := s.governor.Acquire(ctx, len(frame), governor.Upload, deadline); err != nil {
			return err
		}
	}

	if _, err := s.transport.Write(frame); err != nil {
		s.markFailed()
		if s.metrics != nil {
			s.metrics.RecordConnectionReset(s.state.RemotePeerID)
		}
		return &sferrors.PeerUnreachable{PeerID: s.state.RemotePeerID, Cause: err}
	}
	return nil
}

// OnFrame validates a decoded frame's sequence against expected_rx_seq,
// advances liveness, and returns the payload for router dispatch. A
// sequence gap is a protocol violation (§4.2: "a gap triggers session
// reset") and marks the session failed.
func (s *Session) OnFrame(frame *wire.Frame) (wire.MsgType, []byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failed {
		return 0, nil, &sferrors.FrameInvalid{Detail: "session already failed"}
	}

	if frame.Seq != s.expectedRxSeq {
		s.failed = true
		return 0, nil, &sferrors.FrameInvalid{Detail: "sequence gap: expected consecutive frame numbers"}
	}
	s.expectedRxSeq++
	s.lastRx = time.Now()

	payload := frame.Payload
	if frame.Flags&wire.FlagCompressed != 0 {
		decompressed, err := wire.Decompress(payload)
		if err != nil {
			s.failed = true
			return 0, nil, sferrors.Wrap(err, "decompress payload")
		}
		payload = decompressed
	}

	return frame.MsgType, payload, nil
}

// CheckLiveness reports whether the session has gone silent for longer
// than its liveness timeout. Callers that observe true should reset the
// session and record a connection_reset against the peer's metrics.
func (s *Session) CheckLiveness(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastRx) > s.livenessTimeout
}

// MarkFailed transitions the session to failed, preventing further use.
func (s *Session) MarkFailed() {
	s.markFailed()
	if s.metrics != nil {
		s.metrics.RecordConnectionReset(s.state.RemotePeerID)
	}
}

func (s *Session) markFailed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = true
}

var errSessionFailed = sessionFailedError{}

type sessionFailedError struct{}

func (sessionFailedError) Error() string { return "session marked failed" }
