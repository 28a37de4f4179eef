package badger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"

	"sentinelfs/internal/domain/conflict"
	"sentinelfs/internal/domain/ports"
	"sentinelfs/internal/domain/tlspin"
)

// Key prefixes for each logical table named in §6. One BadgerDB
// instance hosts every table, namespaced by prefix, following the
// same sharded-key-space approach the delta store uses to separate
// primary and index entries within a single database.
const (
	prefixFile     = "file:"
	prefixPeer     = "peer:"
	prefixConflict = "conflict:"
	prefixIgnore   = "ignore:"
	prefixWatched  = "watched:"
	prefixQueue    = "queue:"
	prefixPins     = "pins:"

	queueSeqKey = "queue_seq"
)

// Store implements ports.Store on top of a single BadgerDB instance.
type Store struct {
	db    *badgerdb.DB
	queue *queueWriter
}

// NewStore opens (or returns) the "sentinelfs" BadgerDB instance
// managed by mgr and wraps it as a Store.
func NewStore(mgr *Manager) (*Store, error) {
	db, err := mgr.Open("sentinelfs")
	if err != nil {
		return nil, fmt.Errorf("open sentinelfs store: %w", err)
	}
	s := &Store{db: db}
	s.queue = newQueueWriter(db, defaultQueueBufferSize)
	return s, nil
}

func fileKey(path string) []byte    { return []byte(prefixFile + path) }
func peerKey(id string) []byte      { return []byte(prefixPeer + id) }
func conflictKey(id string) []byte  { return []byte(prefixConflict + id) }
func ignoreKey(pat string) []byte   { return []byte(prefixIgnore + pat) }
func watchedKey(path string) []byte { return []byte(prefixWatched + path) }

func getJSON(db *badgerdb.DB, key []byte, out any) (bool, error) {
	var found bool
	err := db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(key)
		if IsNotFoundErr(err) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, out)
		})
	})
	return found, WrapError(err)
}

func putJSON(db *badgerdb.DB, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return WrapError(db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(key, data)
	}))
}

func deleteKey(db *badgerdb.DB, key []byte) error {
	return WrapError(db.Update(func(txn *badgerdb.Txn) error {
		return txn.Delete(key)
	}))
}

func listPrefix[T any](db *badgerdb.DB, prefix []byte) ([]T, error) {
	var out []T
	err := Iterate(db, prefix, func(_, value []byte) error {
		var v T
		if err := json.Unmarshal(value, &v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, WrapError(err)
}

// IsNotFoundErr reports whether err is badger's key-not-found sentinel,
// as returned directly from txn.Get before WrapError normalizes it.
func IsNotFoundErr(err error) bool {
	return err == badgerdb.ErrKeyNotFound
}

// --- files ---

func (s *Store) GetFile(ctx context.Context, path string) (ports.FileRecord, bool, error) {
	var rec ports.FileRecord
	found, err := getJSON(s.db, fileKey(path), &rec)
	return rec, found, err
}

func (s *Store) PutFile(ctx context.Context, rec ports.FileRecord) error {
	return putJSON(s.db, fileKey(rec.Path), rec)
}

func (s *Store) DeleteFile(ctx context.Context, path string) error {
	return deleteKey(s.db, fileKey(path))
}

func (s *Store) ListFiles(ctx context.Context) ([]ports.FileRecord, error) {
	return listPrefix[ports.FileRecord](s.db, []byte(prefixFile))
}

// --- peers ---

func (s *Store) GetPeer(ctx context.Context, id string) (ports.PeerRecord, bool, error) {
	var rec ports.PeerRecord
	found, err := getJSON(s.db, peerKey(id), &rec)
	return rec, found, err
}

func (s *Store) PutPeer(ctx context.Context, rec ports.PeerRecord) error {
	return putJSON(s.db, peerKey(rec.ID), rec)
}

func (s *Store) DeletePeer(ctx context.Context, id string) error {
	return deleteKey(s.db, peerKey(id))
}

func (s *Store) ListPeers(ctx context.Context) ([]ports.PeerRecord, error) {
	return listPrefix[ports.PeerRecord](s.db, []byte(prefixPeer))
}

// --- conflicts ---

func (s *Store) PutConflict(ctx context.Context, rec conflict.Record) error {
	return putJSON(s.db, conflictKey(rec.ID), rec)
}

func (s *Store) GetConflict(ctx context.Context, id string) (conflict.Record, bool, error) {
	var rec conflict.Record
	found, err := getJSON(s.db, conflictKey(id), &rec)
	return rec, found, err
}

func (s *Store) ListUnresolvedConflicts(ctx context.Context) ([]conflict.Record, error) {
	all, err := listPrefix[conflict.Record](s.db, []byte(prefixConflict))
	if err != nil {
		return nil, err
	}
	var unresolved []conflict.Record
	for _, c := range all {
		if !c.Resolved {
			unresolved = append(unresolved, c)
		}
	}
	return unresolved, nil
}

func (s *Store) MarkConflictResolved(ctx context.Context, id, strategyID string) error {
	rec, found, err := s.GetConflict(ctx, id)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("conflict %s: %w", id, ErrNotFound)
	}
	rec.MarkResolved(strategyID)
	return s.PutConflict(ctx, rec)
}

// --- ignore patterns ---

func (s *Store) AddIgnorePattern(ctx context.Context, pattern string) error {
	return putJSON(s.db, ignoreKey(pattern), pattern)
}

func (s *Store) RemoveIgnorePattern(ctx context.Context, pattern string) error {
	return deleteKey(s.db, ignoreKey(pattern))
}

func (s *Store) ListIgnorePatterns(ctx context.Context) ([]string, error) {
	return listPrefix[string](s.db, []byte(prefixIgnore))
}

// --- watched folders ---

func (s *Store) AddWatchedFolder(ctx context.Context, f ports.WatchedFolder) error {
	return putJSON(s.db, watchedKey(f.Path), f)
}

func (s *Store) RemoveWatchedFolder(ctx context.Context, path string) error {
	return deleteKey(s.db, watchedKey(path))
}

func (s *Store) ListWatchedFolders(ctx context.Context) ([]ports.WatchedFolder, error) {
	return listPrefix[ports.WatchedFolder](s.db, []byte(prefixWatched))
}

// --- sync queue ---

func (s *Store) EnqueueSync(ctx context.Context, item ports.SyncQueueItem) (int64, error) {
	id, err := s.nextQueueID()
	if err != nil {
		return 0, err
	}
	item.ID = id
	return id, putJSON(s.db, queueKey(id), item)
}

func (s *Store) UpdateSyncStatus(ctx context.Context, id int64, status string, progress float64) error {
	return s.queue.updateAsync(id, status, progress)
}

func (s *Store) ListSyncQueue(ctx context.Context) ([]ports.SyncQueueItem, error) {
	return listPrefix[ports.SyncQueueItem](s.db, []byte(prefixQueue))
}

func queueKey(id int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixQueue, id))
}

func (s *Store) nextQueueID() (int64, error) {
	var next int64
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(queueSeqKey))
		var cur int64
		if err == nil {
			if verr := item.Value(func(val []byte) error {
				cur = int64(binary.BigEndian.Uint64(val))
				return nil
			}); verr != nil {
				return verr
			}
		} else if !IsNotFoundErr(err) {
			return err
		}
		next = cur + 1
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, uint64(next))
		return txn.Set([]byte(queueSeqKey), buf)
	})
	return next, WrapError(err)
}

// --- certificate pins ---

func (s *Store) LoadCertificatePins(ctx context.Context) ([]tlspin.CertificatePin, error) {
	var pins []tlspin.CertificatePin
	found, err := getJSON(s.db, []byte(prefixPins+"all"), &pins)
	if err != nil || !found {
		return nil, err
	}
	return pins, nil
}

func (s *Store) SaveCertificatePins(ctx context.Context, pins []tlspin.CertificatePin) error {
	return putJSON(s.db, []byte(prefixPins+"all"), pins)
}

// Close flushes pending async writes and closes the underlying
// BadgerDB handle.
func (s *Store) Close() error {
	s.queue.close()
	return s.db.Close()
}
