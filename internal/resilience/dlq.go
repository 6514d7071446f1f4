package resilience

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"musterd/internal/errkind"
	"musterd/pkg/logging"
)

// DLQEntry is one dead-lettered call (spec §4.8). Capability, rather than
// ServerID alone, is what Retry replays against: spec §9 requires retry to
// "re-execute the stored call through the normal Router path", i.e. through
// capability resolution again, not pinned back to the server that failed it.
type DLQEntry struct {
	EntryID    string          `json:"entryId"`
	ServerID   string          `json:"serverId"`
	Capability string          `json:"capability"`
	Method     string          `json:"method"`
	Params     json.RawMessage `json:"params,omitempty"`
	Kind       errkind.Kind    `json:"kind"`
	Cause      string          `json:"cause"`
	CreatedAt  time.Time       `json:"createdAt"`
	Attempts   int             `json:"attempts"`
}

// ExecuteFunc re-issues a dead-lettered call through the normal call path
// (the Router), returning nil on success.
type ExecuteFunc func(ctx context.Context, entry DLQEntry) error

// DLQStats summarizes queue occupancy.
type DLQStats struct {
	Size     int
	Capacity int
	Evicted  uint64
}

// DLQ is a bounded in-memory FIFO with asynchronous disk persistence, so a
// restart does not lose recent failures (spec §4.8).
type DLQ struct {
	capacity    int
	persistPath string

	mu      sync.Mutex
	order   []string // entryIDs in FIFO order
	entries map[string]DLQEntry
	evicted uint64

	persistCh chan DLQEntry
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// NewDLQ constructs a DLQ bounded to capacity, persisting appends to
// persistPath (empty disables persistence).
func NewDLQ(capacity int, persistPath string) *DLQ {
	q := &DLQ{
		capacity:    capacity,
		persistPath: persistPath,
		entries:     make(map[string]DLQEntry),
		persistCh:   make(chan DLQEntry, 64),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
	if persistPath != "" {
		go q.persistLoop()
	} else {
		close(q.doneCh)
	}
	return q
}

// Load replays the persisted log into memory, used at startup.
func (q *DLQ) Load() error {
	if q.persistPath == "" {
		return nil
	}
	f, err := os.Open(q.persistPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("dlq: opening persist log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var entry DLQEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			logging.Warn("resilience", "dlq: skipping corrupt persist record: %v", err)
			continue
		}
		q.insertInMemory(entry)
	}
	return scanner.Err()
}

// Add enqueues a failed call, evicting the oldest entry (FIFO) if the queue
// is at capacity.
func (q *DLQ) Add(entry DLQEntry) DLQEntry {
	if entry.EntryID == "" {
		entry.EntryID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	q.insertInMemory(entry)

	select {
	case q.persistCh <- entry:
	default:
		logging.Warn("resilience", "dlq: persist channel full, dropping async write for %s", entry.EntryID)
	}
	return entry
}

func (q *DLQ) insertInMemory(entry DLQEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, exists := q.entries[entry.EntryID]; exists {
		q.entries[entry.EntryID] = entry
		return
	}
	q.entries[entry.EntryID] = entry
	q.order = append(q.order, entry.EntryID)

	for len(q.order) > q.capacity && q.capacity > 0 {
		oldest := q.order[0]
		q.order = q.order[1:]
		delete(q.entries, oldest)
		q.evicted++
	}
}

// List returns entries, optionally filtered by serverID (empty = all), in
// FIFO order.
func (q *DLQ) List(serverID string) []DLQEntry {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DLQEntry, 0, len(q.order))
	for _, id := range q.order {
		e := q.entries[id]
		if serverID == "" || e.ServerID == serverID {
			out = append(out, e)
		}
	}
	return out
}

// Stats reports occupancy.
func (q *DLQ) Stats() DLQStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return DLQStats{Size: len(q.order), Capacity: q.capacity, Evicted: q.evicted}
}

// Purge removes an entry without re-executing it.
func (q *DLQ) Purge(entryID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.entries[entryID]; !ok {
		return false
	}
	delete(q.entries, entryID)
	for i, id := range q.order {
		if id == entryID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Retry re-executes entryID through execFn; success removes the entry
// (spec: "success removes the entry").
func (q *DLQ) Retry(ctx context.Context, entryID string, execFn ExecuteFunc) error {
	q.mu.Lock()
	entry, ok := q.entries[entryID]
	q.mu.Unlock()
	if !ok {
		return fmt.Errorf("dlq: no such entry %s", entryID)
	}

	if err := execFn(ctx, entry); err != nil {
		return err
	}
	q.Purge(entryID)
	return nil
}

func (q *DLQ) persistLoop() {
	defer close(q.doneCh)
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case entry := <-q.persistCh:
			if err := q.appendToLog(entry); err != nil {
				logging.Error("resilience", err, "dlq: append failed")
			}
		case <-ticker.C:
			if err := q.compact(); err != nil {
				logging.Error("resilience", err, "dlq: compact failed")
			}
		case <-q.stopCh:
			_ = q.compact()
			return
		}
	}
}

func (q *DLQ) appendToLog(entry DLQEntry) error {
	f, err := os.OpenFile(q.persistPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = f.Write(append(line, '\n'))
	return err
}

// compact rewrites the persist log to contain exactly the in-memory
// entries, bounding its growth (spec: "append + periodic compact").
func (q *DLQ) compact() error {
	entries := q.List("")
	tmpPath := q.persistPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, q.persistPath)
}

// Close stops the persist goroutine, flushing a final compaction.
func (q *DLQ) Close() {
	if q.persistPath == "" {
		return
	}
	select {
	case <-q.stopCh:
	default:
		close(q.stopCh)
	}
	<-q.doneCh
}
