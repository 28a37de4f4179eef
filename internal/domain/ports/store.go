// Package ports declares the interfaces the domain core consumes from
// infrastructure: the persistent store, the filesystem watcher, and
// peer discovery. Concrete adapters live under internal/infrastructure.
package ports

import (
	"context"
	"time"

	"sentinelfs/internal/domain/conflict"
	"sentinelfs/internal/domain/tlspin"
)

// FileRecord is one row of the files table (§6).
type FileRecord struct {
	Path       string
	Hash       [32]byte
	Mtime      time.Time
	Size       uint64
	SyncedFlag bool
}

// PeerRecord is one row of the peers table (§6).
type PeerRecord struct {
	ID       string
	Address  string
	Port     int
	LastSeen time.Time
	Status   string
	Latency  time.Duration
}

// WatchedFolder is one row of the watched_folders table (§6).
type WatchedFolder struct {
	Path    string
	Status  string
	AddedAt time.Time
}

// SyncQueueItem is one row of the sync_queue table (§6).
type SyncQueueItem struct {
	ID        int64
	FilePath  string
	OpType    string
	Status    string
	Progress  float64
	Size      uint64
	PeerID    string
	CreatedAt time.Time
}

// Store persists every logical table the core reads and writes (§6).
// Writes are synchronous: when the underlying database cannot be
// written the call returns the error, and nothing is queued for a later
// retry. The badger adapter buffers only UpdateSyncStatus, and that call
// fails when its buffer is full.
type Store interface {
	// Files
	GetFile(ctx context.Context, path string) (FileRecord, bool, error)
	PutFile(ctx context.Context, rec FileRecord) error
	DeleteFile(ctx context.Context, path string) error
	ListFiles(ctx context.Context) ([]FileRecord, error)

	// Peers
	GetPeer(ctx context.Context, id string) (PeerRecord, bool, error)
	PutPeer(ctx context.Context, rec PeerRecord) error
	DeletePeer(ctx context.Context, id string) error
	ListPeers(ctx context.Context) ([]PeerRecord, error)

	// Conflicts
	PutConflict(ctx context.Context, rec conflict.Record) error
	GetConflict(ctx context.Context, id string) (conflict.Record, bool, error)
	ListUnresolvedConflicts(ctx context.Context) ([]conflict.Record, error)
	MarkConflictResolved(ctx context.Context, id, strategyID string) error

	// Ignore patterns
	AddIgnorePattern(ctx context.Context, pattern string) error
	RemoveIgnorePattern(ctx context.Context, pattern string) error
	ListIgnorePatterns(ctx context.Context) ([]string, error)

	// Watched folders
	AddWatchedFolder(ctx context.Context, f WatchedFolder) error
	RemoveWatchedFolder(ctx context.Context, path string) error
	ListWatchedFolders(ctx context.Context) ([]WatchedFolder, error)

	// Sync queue
	EnqueueSync(ctx context.Context, item SyncQueueItem) (int64, error)
	UpdateSyncStatus(ctx context.Context, id int64, status string, progress float64) error
	ListSyncQueue(ctx context.Context) ([]SyncQueueItem, error)

	// Certificate pins
	LoadCertificatePins(ctx context.Context) ([]tlspin.CertificatePin, error)
	SaveCertificatePins(ctx context.Context, pins []tlspin.CertificatePin) error

	// Close releases resources held by the store.
	Close() error
}
