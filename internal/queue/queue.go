// Package queue provides the durable mutation queue: the single source of
// truth for what has not yet been confirmed by the remote backend.
package queue

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/auditcore/fieldsync/internal/errors"
	"github.com/auditcore/fieldsync/internal/logging"
	"github.com/auditcore/fieldsync/internal/models"
	"github.com/auditcore/fieldsync/internal/store"
)

// Queue is an ordered, durable log of pending remote mutations. Entries are
// persisted in the mutation queue collection and indexed in memory; every
// state-changing operation notifies registered observers.
type Queue struct {
	store *store.Store

	mu        sync.Mutex
	entries   map[string]*models.MutationEntry
	seq       int64
	observers map[int]func()
	nextObs   int
}

// New loads the persisted queue. Entries left in "syncing" by a crash are
// reset to "pending": a process torn down mid-call leaves no reliable
// signal of remote success, so the entry must be attempted again.
func New(st *store.Store) (*Queue, error) {
	q := &Queue{
		store:     st,
		entries:   make(map[string]*models.MutationEntry),
		observers: make(map[int]func()),
	}

	for _, rec := range st.GetAll(models.CollectionMutationQueue) {
		entry, err := models.MutationEntryFromRecord(rec)
		if err != nil {
			logging.ErrorWithCode("dropping unreadable queue entry", string(apperrors.ErrStorage), err, nil)
			continue
		}
		if entry.Status == models.MutationSyncing {
			entry.Status = models.MutationPending
			if err := q.persist(entry); err != nil {
				return nil, err
			}
		}
		q.entries[entry.ID] = entry
		if entry.Seq > q.seq {
			q.seq = entry.Seq
		}
	}

	return q, nil
}

func (q *Queue) persist(entry *models.MutationEntry) error {
	rec, err := entry.ToRecord()
	if err != nil {
		return err
	}
	if err := q.store.Put(models.CollectionMutationQueue, rec); err != nil {
		return fmt.Errorf("failed to persist queue entry %s: %w", entry.ID, err)
	}
	return nil
}

// Enqueue appends a new pending entry. The entry is assigned its own unique
// id, independent of the record id inside Data.
func (q *Queue) Enqueue(entry *models.MutationEntry) (*models.MutationEntry, error) {
	if entry == nil || entry.Table == "" || entry.Operation == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "queue entry needs a table and operation")
	}

	q.mu.Lock()
	q.seq++
	entry.ID = uuid.New().String()
	entry.Status = models.MutationPending
	entry.Retries = 0
	entry.Error = ""
	entry.CreatedAt = time.Now().UnixMilli()
	entry.Seq = q.seq

	if err := q.persist(entry); err != nil {
		q.mu.Unlock()
		return nil, err
	}
	q.entries[entry.ID] = entry
	copied := *entry
	q.mu.Unlock()

	logging.Debug("enqueued mutation", map[string]any{
		"entry":     entry.ID,
		"table":     entry.Table,
		"operation": string(entry.Operation),
	})
	q.notify()
	return &copied, nil
}

// PendingCount counts entries that will still be attempted: pending ones
// plus failed ones with retry budget remaining.
func (q *Queue) PendingCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.entries {
		if e.Eligible() {
			n++
		}
	}
	return n
}

// StuckCount counts entries that have exhausted their retry budget and
// require operator attention.
func (q *Queue) StuckCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := 0
	for _, e := range q.entries {
		if e.Stuck() {
			n++
		}
	}
	return n
}

// All returns a full copy of the queue for diagnostics, ordered by enqueue
// time.
func (q *Queue) All() []*models.MutationEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*models.MutationEntry, 0, len(q.entries))
	for _, e := range q.entries {
		copied := *e
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// Eligible returns copies of every entry the next drain pass should
// attempt, ordered by enqueue time. Class ordering is the sync engine's
// concern.
func (q *Queue) Eligible() []*models.MutationEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*models.MutationEntry
	for _, e := range q.entries {
		if e.Eligible() {
			copied := *e
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt != out[j].CreatedAt {
			return out[i].CreatedAt < out[j].CreatedAt
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// MarkSyncing advances an entry to the syncing state.
func (q *Queue) MarkSyncing(id string) error {
	return q.transition(id, func(e *models.MutationEntry) {
		e.Status = models.MutationSyncing
	})
}

// MarkSynced marks an entry confirmed by the remote backend.
func (q *Queue) MarkSynced(id string) error {
	return q.transition(id, func(e *models.MutationEntry) {
		e.Status = models.MutationSynced
		e.Error = ""
	})
}

// MarkFailed records a remote failure: the entry returns to the failed
// state with its retry count advanced and the cause captured.
func (q *Queue) MarkFailed(id string, cause error) error {
	return q.transition(id, func(e *models.MutationEntry) {
		e.Status = models.MutationFailed
		e.Retries++
		if cause != nil {
			e.Error = cause.Error()
		}
	})
}

func (q *Queue) transition(id string, apply func(*models.MutationEntry)) error {
	q.mu.Lock()
	entry, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return apperrors.New(apperrors.ErrNotFound, "queue entry "+id+" not found")
	}
	apply(entry)
	err := q.persist(entry)
	q.mu.Unlock()

	if err != nil {
		return err
	}
	q.notify()
	return nil
}

// RemoveSynced garbage-collects every synced entry so the queue does not
// grow unbounded with completed work.
func (q *Queue) RemoveSynced() error {
	q.mu.Lock()
	var removed []string
	for id, e := range q.entries {
		if e.Status == models.MutationSynced {
			if err := q.store.Remove(models.CollectionMutationQueue, id); err != nil {
				q.mu.Unlock()
				return err
			}
			delete(q.entries, id)
			removed = append(removed, id)
		}
	}
	q.mu.Unlock()

	if len(removed) > 0 {
		logging.Debug("removed synced entries", map[string]any{"count": len(removed)})
		q.notify()
	}
	return nil
}

// ResetStuck returns every stuck entry to the pending state with a fresh
// retry budget. Operator action; stuck entries are never retried
// automatically.
func (q *Queue) ResetStuck() int {
	q.mu.Lock()
	count := 0
	for _, e := range q.entries {
		if e.Stuck() {
			e.Status = models.MutationPending
			e.Retries = 0
			e.Error = ""
			if err := q.persist(e); err != nil {
				logging.Error("failed to persist reset entry", err, map[string]any{"entry": e.ID})
				continue
			}
			count++
		}
	}
	q.mu.Unlock()

	if count > 0 {
		logging.Info("reset stuck entries", map[string]any{"count": count})
		q.notify()
	}
	return count
}

// Subscribe registers an observer invoked after every state-changing
// operation. The returned function unsubscribes. Multiple observers are
// supported; registration order is not significant.
func (q *Queue) Subscribe(fn func()) func() {
	q.mu.Lock()
	id := q.nextObs
	q.nextObs++
	q.observers[id] = fn
	q.mu.Unlock()

	return func() {
		q.mu.Lock()
		delete(q.observers, id)
		q.mu.Unlock()
	}
}

// notify invokes observers outside the queue lock so observers may call
// back into the queue.
func (q *Queue) notify() {
	q.mu.Lock()
	fns := make([]func(), 0, len(q.observers))
	for _, fn := range q.observers {
		fns = append(fns, fn)
	}
	q.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
