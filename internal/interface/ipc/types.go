package ipc

import "time"

// StatusResponse summarizes the running daemon for `sentinelfsctl status`.
type StatusResponse struct {
	Running        bool      `json:"running"`
	PID            int       `json:"pid"`
	StartedAt      time.Time `json:"started_at"`
	NodeID         string    `json:"node_id"`
	WatchedDirs    []string  `json:"watched_dirs"`
	PeerCount      int       `json:"peer_count"`
	UnresolvedConflicts int  `json:"unresolved_conflicts"`
	SyncQueueDepth int       `json:"sync_queue_depth"`
	Error          string    `json:"error,omitempty"`
}

// PeerInfo is one connected or last-known peer, enriched with the
// connection-quality snapshot and composite score behind it.
type PeerInfo struct {
	ID        string        `json:"id"`
	Address   string        `json:"address"`
	Status    string        `json:"status"`
	LastSeen  time.Time     `json:"last_seen"`
	RTTAvg    time.Duration `json:"rtt_avg_ns"`
	JitterMS  float64       `json:"jitter_ms"`
	LossRate  float64       `json:"loss_rate"`
	Score     float64       `json:"score"`
}

// ListPeersResponse is the response to `sentinelfsctl peers`.
type ListPeersResponse struct {
	Peers []PeerInfo `json:"peers"`
	Error string     `json:"error,omitempty"`
}

// PinInfo is one certificate pin entry for `sentinelfsctl pin list`.
type PinInfo struct {
	HostnamePattern string `json:"hostname_pattern"`
	SPKIHashB64     string `json:"spki_hash_b64,omitempty"`
	FingerprintHex  string `json:"fingerprint_hex,omitempty"`
	Comment         string `json:"comment,omitempty"`
	ExpiresAtEpoch  int64  `json:"expires_at_epoch,omitempty"`
}

// ListPinsResponse is the response to `sentinelfsctl pin list`.
type ListPinsResponse struct {
	Pins  []PinInfo `json:"pins"`
	Error string    `json:"error,omitempty"`
}

// PinRotateRequest is the request body for `sentinelfsctl pin rotate`.
type PinRotateRequest struct {
	Hostname   string `json:"hostname"`
	OldSPKI    string `json:"old_spki"`
	NewSPKI    string `json:"new_spki"`
	BackupDays int    `json:"backup_days"`
}

// ConflictInfo is one unresolved or resolved conflict record.
type ConflictInfo struct {
	ID           string    `json:"id"`
	Path         string    `json:"path"`
	LocalHash    string    `json:"local_hash"`
	RemoteHash   string    `json:"remote_hash"`
	RemotePeerID string    `json:"remote_peer_id"`
	LocalMtime   time.Time `json:"local_mtime"`
	RemoteMtime  time.Time `json:"remote_mtime"`
	Resolved     bool      `json:"resolved"`
	StrategyID   string    `json:"strategy_id,omitempty"`
	DetectedAt   time.Time `json:"detected_at"`
}

// ListConflictsResponse is the response to `sentinelfsctl conflicts list`.
type ListConflictsResponse struct {
	Conflicts []ConflictInfo `json:"conflicts"`
	Error     string         `json:"error,omitempty"`
}

// ResolveConflictRequest is the request body for
// `sentinelfsctl conflicts resolve`.
type ResolveConflictRequest struct {
	ID         string `json:"id"`
	StrategyID string `json:"strategy_id"`
}

// GenericResponse is a generic success/error acknowledgement.
type GenericResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}
