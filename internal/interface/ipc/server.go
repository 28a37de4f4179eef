// Package ipc implements SentinelFS's local control surface: a JSON
// request/response API served over a Unix domain socket, the daemon's
// only supported way of being driven by sentinelfsctl or any other
// local client (§1 "local IPC/CLI" external collaborator).
package ipc

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"sentinelfs/internal/application"
	"sentinelfs/internal/domain/conflict"
	"sentinelfs/internal/domain/scorer"
	"sentinelfs/internal/infrastructure/logging"
)

// Server exposes one running Daemon's status, peer, pin, and conflict
// surface over a Unix socket.
type Server struct {
	daemon     *application.Daemon
	logger     *logging.Logger
	socketPath string

	listener net.Listener
	http     *http.Server
}

// NewServer constructs a Server bound to socketPath, not yet listening.
func NewServer(daemon *application.Daemon, socketPath string, logger *logging.Logger) *Server {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Server{daemon: daemon, socketPath: socketPath, logger: logger.Component("ipc")}
}

// Start opens the Unix socket and begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0700); err != nil {
		return fmt.Errorf("create socket dir: %w", err)
	}
	os.Remove(s.socketPath)

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listen on socket: %w", err)
	}
	if err := os.Chmod(s.socketPath, 0600); err != nil {
		ln.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	s.registerRoutes(mux)
	s.http = &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Warn("ipc server stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop shuts the HTTP server down and removes the socket file.
func (s *Server) Stop() error {
	if s.http != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.http.Shutdown(shutdownCtx)
	}
	if s.listener != nil {
		s.listener.Close()
	}
	os.Remove(s.socketPath)
	return nil
}

func (s *Server) registerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/peers", s.handlePeers)
	mux.HandleFunc("/pin/list", s.handlePinList)
	mux.HandleFunc("/pin/rotate", s.handlePinRotate)
	mux.HandleFunc("/conflicts/list", s.handleConflictsList)
	mux.HandleFunc("/conflicts/resolve", s.handleConflictsResolve)
	mux.HandleFunc("/shutdown", s.handleShutdown)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	resp := StatusResponse{
		Running:     true,
		PID:         os.Getpid(),
		StartedAt:   s.daemon.StartedAt(),
		NodeID:      s.daemon.LocalPeerID(),
		WatchedDirs: s.daemon.Config().WatchedDirs,
	}

	resp.PeerCount = len(s.daemon.ConnectedPeers())

	if unresolved, err := s.daemon.Store().ListUnresolvedConflicts(ctx); err == nil {
		resp.UnresolvedConflicts = len(unresolved)
	}
	if queue, err := s.daemon.Store().ListSyncQueue(ctx); err == nil {
		resp.SyncQueueDepth = len(queue)
	}

	json.NewEncoder(w).Encode(resp)
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	records, err := s.daemon.Store().ListPeers(ctx)
	if err != nil {
		json.NewEncoder(w).Encode(ListPeersResponse{Error: err.Error()})
		return
	}

	cfg := s.daemon.Config().ScorerConfig()
	peers := make([]PeerInfo, 0, len(records))
	for _, rec := range records {
		snap := s.daemon.NetQuality().Snapshot(rec.ID)
		uptime := time.Since(snap.FirstSeen)
		peers = append(peers, PeerInfo{
			ID:       rec.ID,
			Address:  fmt.Sprintf("%s:%d", rec.Address, rec.Port),
			Status:   rec.Status,
			LastSeen: rec.LastSeen,
			RTTAvg:   snap.RTTAvg,
			JitterMS: snap.JitterMS,
			LossRate: snap.LossRate,
			Score:    scorer.Score(cfg, snap, uptime),
		})
	}
	json.NewEncoder(w).Encode(ListPeersResponse{Peers: peers})
}

func (s *Server) handlePinList(w http.ResponseWriter, r *http.Request) {
	pins := s.daemon.Pins().Pins()
	out := make([]PinInfo, len(pins))
	for i, p := range pins {
		out[i] = PinInfo{
			HostnamePattern: p.HostnamePattern,
			SPKIHashB64:     p.SPKIHashB64,
			FingerprintHex:  p.FingerprintHex,
			Comment:         p.Comment,
			ExpiresAtEpoch:  p.ExpiresAtEpoch,
		}
	}
	json.NewEncoder(w).Encode(ListPinsResponse{Pins: out})
}

func (s *Server) handlePinRotate(w http.ResponseWriter, r *http.Request) {
	var req PinRotateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		json.NewEncoder(w).Encode(GenericResponse{Error: err.Error()})
		return
	}
	if req.BackupDays <= 0 {
		req.BackupDays = 30
	}
	if err := s.daemon.Pins().Rotate(req.Hostname, req.OldSPKI, req.NewSPKI, req.BackupDays); err != nil {
		json.NewEncoder(w).Encode(GenericResponse{Error: err.Error()})
		return
	}
	json.NewEncoder(w).Encode(GenericResponse{Success: true, Message: "pin rotated"})
}

func (s *Server) handleConflictsList(w http.ResponseWriter, r *http.Request) {
	records, err := s.daemon.Store().ListUnresolvedConflicts(r.Context())
	if err != nil {
		json.NewEncoder(w).Encode(ListConflictsResponse{Error: err.Error()})
		return
	}
	out := make([]ConflictInfo, len(records))
	for i, rec := range records {
		out[i] = toConflictInfo(rec)
	}
	json.NewEncoder(w).Encode(ListConflictsResponse{Conflicts: out})
}

func (s *Server) handleConflictsResolve(w http.ResponseWriter, r *http.Request) {
	var req ResolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		json.NewEncoder(w).Encode(GenericResponse{Error: err.Error()})
		return
	}
	if err := s.daemon.Store().MarkConflictResolved(r.Context(), req.ID, req.StrategyID); err != nil {
		json.NewEncoder(w).Encode(GenericResponse{Error: err.Error()})
		return
	}
	json.NewEncoder(w).Encode(GenericResponse{Success: true, Message: "conflict resolved"})
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(GenericResponse{Success: true, Message: "shutting down"})
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.daemon.Stop()
	}()
}

func toConflictInfo(rec conflict.Record) ConflictInfo {
	return ConflictInfo{
		ID:           rec.ID,
		Path:         rec.Path,
		LocalHash:    rec.LocalHash,
		RemoteHash:   rec.RemoteHash,
		RemotePeerID: rec.RemotePeerID,
		LocalMtime:   rec.LocalMtime,
		RemoteMtime:  rec.RemoteMtime,
		Resolved:     rec.Resolved,
		StrategyID:   rec.StrategyID,
		DetectedAt:   rec.DetectedAt,
	}
}
