package badger

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"sentinelfs/internal/domain/ports"
)

const (
	// Default buffer size for queued sync-status updates.
	defaultQueueBufferSize = 1000

	// Batch flush interval for sync-status updates.
	queueFlushInterval = time.Second
)

type statusUpdate struct {
	id       int64
	status   string
	progress float64
}

// queueWriter applies sync_queue status/progress updates asynchronously,
// so a noisy stream of per-chunk progress callbacks from the transfer
// pipeline never blocks on disk I/O. Enqueue and list operations on the
// sync_queue table stay synchronous on the same db handle; only the
// high-frequency status update path is buffered here.
type queueWriter struct {
	db      *badger.DB
	buffer  chan statusUpdate
	done    chan struct{}
	wg      sync.WaitGroup
	bufSize int
}

func newQueueWriter(db *badger.DB, bufferSize int) *queueWriter {
	if bufferSize <= 0 {
		bufferSize = defaultQueueBufferSize
	}

	w := &queueWriter{
		db:      db,
		buffer:  make(chan statusUpdate, bufferSize),
		done:    make(chan struct{}),
		bufSize: bufferSize,
	}

	w.wg.Add(1)
	go w.run()

	return w
}

// updateAsync queues a status update for the given sync_queue row.
// Returns immediately without waiting for the write to land.
func (w *queueWriter) updateAsync(id int64, status string, progress float64) error {
	select {
	case w.buffer <- statusUpdate{id: id, status: status, progress: progress}:
		return nil
	default:
		return fmt.Errorf("sync queue update buffer full, update to %d dropped", id)
	}
}

func (w *queueWriter) apply(u statusUpdate) error {
	return w.db.Update(func(txn *badger.Txn) error {
		key := queueKey(u.id)
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var rec ports.SyncQueueItem
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		rec.Status = u.status
		rec.Progress = u.progress
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, data)
	})
}

func (w *queueWriter) run() {
	defer w.wg.Done()

	batch := make([]statusUpdate, 0, 100)
	ticker := time.NewTicker(queueFlushInterval)
	defer ticker.Stop()

	flush := func() {
		for _, u := range batch {
			if err := w.apply(u); err != nil && !IsNotFound(err) {
				continue
			}
		}
		batch = batch[:0]
	}

	for {
		select {
		case u := <-w.buffer:
			batch = append(batch, u)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.done:
			close(w.buffer)
			for u := range w.buffer {
				batch = append(batch, u)
			}
			flush()
			return
		}
	}
}

// close flushes pending updates and stops the writer goroutine.
func (w *queueWriter) close() {
	close(w.done)
	w.wg.Wait()
}
