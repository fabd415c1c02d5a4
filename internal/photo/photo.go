// Package photo provides the photo-analysis queue and its consumer.
//
// The queue mirrors the mutation queue's producer/consumer pattern but is
// drained by an external classifier call instead of a CRUD call. Analysis
// results flow out through a sink supplied at construction, keeping the
// core decoupled from any application state container.
package photo

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/auditcore/fieldsync/internal/connectivity"
	apperrors "github.com/auditcore/fieldsync/internal/errors"
	"github.com/auditcore/fieldsync/internal/logging"
	"github.com/auditcore/fieldsync/internal/models"
	"github.com/auditcore/fieldsync/internal/store"
)

// Analyzer is the external classification collaborator, invoked once per
// pending entry, sequentially.
type Analyzer interface {
	Analyze(ctx context.Context, payload models.Record) (models.Record, error)
}

// ResultSink receives successful analysis results. Supplied at
// construction; never discovered at runtime.
type ResultSink func(entryID string, payload, result models.Record)

// Queue is the durable photo-analysis queue.
type Queue struct {
	store *store.Store

	mu        sync.Mutex
	entries   map[string]*models.PhotoEntry
	seq       int64
	observers map[int]func()
	nextObs   int
}

// NewQueue loads the persisted photo queue, resetting entries interrupted
// mid-processing back to pending.
func NewQueue(st *store.Store) (*Queue, error) {
	q := &Queue{
		store:     st,
		entries:   make(map[string]*models.PhotoEntry),
		observers: make(map[int]func()),
	}

	for _, rec := range st.GetAll(models.CollectionPhotoQueue) {
		entry, err := models.PhotoEntryFromRecord(rec)
		if err != nil {
			logging.ErrorWithCode("dropping unreadable photo entry", string(apperrors.ErrStorage), err, nil)
			continue
		}
		if entry.Status == models.PhotoProcessing {
			entry.Status = models.PhotoPending
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

func (q *Queue) persist(entry *models.PhotoEntry) error {
	rec, err := entry.ToRecord()
	if err != nil {
		return err
	}
	if err := q.store.Put(models.CollectionPhotoQueue, rec); err != nil {
		return fmt.Errorf("failed to persist photo entry %s: %w", entry.ID, err)
	}
	return nil
}

// Enqueue appends a pending analysis request.
func (q *Queue) Enqueue(payload models.Record) (*models.PhotoEntry, error) {
	if payload == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "photo entry needs a payload")
	}

	q.mu.Lock()
	q.seq++
	entry := &models.PhotoEntry{
		ID:        uuid.New().String(),
		Status:    models.PhotoPending,
		Payload:   payload,
		CreatedAt: time.Now().UnixMilli(),
		Seq:       q.seq,
	}
	if err := q.persist(entry); err != nil {
		q.mu.Unlock()
		return nil, err
	}
	q.entries[entry.ID] = entry
	copied := *entry
	q.mu.Unlock()

	q.notify()
	return &copied, nil
}

// PendingCount counts entries that will still be attempted.
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

// StuckCount counts entries that have exhausted their retry budget.
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

// All returns a copy of the queue for diagnostics, ordered by enqueue time.
func (q *Queue) All() []*models.PhotoEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*models.PhotoEntry, 0, len(q.entries))
	for _, e := range q.entries {
		copied := *e
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// eligible returns copies of entries the next pass should attempt, FIFO.
func (q *Queue) eligible() []*models.PhotoEntry {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []*models.PhotoEntry
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

func (q *Queue) transition(id string, apply func(*models.PhotoEntry)) error {
	q.mu.Lock()
	entry, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return apperrors.New(apperrors.ErrNotFound, "photo entry "+id+" not found")
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

// RemoveDone garbage-collects completed entries.
func (q *Queue) RemoveDone() error {
	q.mu.Lock()
	removed := 0
	for id, e := range q.entries {
		if e.Status == models.PhotoDone {
			if err := q.store.Remove(models.CollectionPhotoQueue, id); err != nil {
				q.mu.Unlock()
				return err
			}
			delete(q.entries, id)
			removed++
		}
	}
	q.mu.Unlock()

	if removed > 0 {
		q.notify()
	}
	return nil
}

// Subscribe registers an observer invoked after every state change. The
// returned function unsubscribes.
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

// Consumer drains the photo queue through the Analyzer.
type Consumer struct {
	queue    *Queue
	analyzer Analyzer
	monitor  connectivity.Monitor
	sink     ResultSink

	mu         sync.Mutex
	processing bool
}

// NewConsumer wires the queue to its classifier and result sink.
func NewConsumer(q *Queue, analyzer Analyzer, monitor connectivity.Monitor, sink ResultSink) *Consumer {
	return &Consumer{
		queue:    q,
		analyzer: analyzer,
		monitor:  monitor,
		sink:     sink,
	}
}

// Processing reports whether a pass is currently running.
func (c *Consumer) Processing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.processing
}

// Process drains eligible entries sequentially. At most one pass runs at a
// time; a pass started while another is running is a no-op, and losing
// connectivity aborts the pass with the remaining entries untouched.
func (c *Consumer) Process(ctx context.Context) error {
	c.mu.Lock()
	if c.processing {
		c.mu.Unlock()
		return nil
	}
	c.processing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.processing = false
		c.mu.Unlock()
	}()

	if !c.monitor.IsOnline() {
		return nil
	}

	for _, entry := range c.queue.eligible() {
		if ctx.Err() != nil || !c.monitor.IsOnline() {
			break
		}

		if err := c.queue.transition(entry.ID, func(e *models.PhotoEntry) {
			e.Status = models.PhotoProcessing
		}); err != nil {
			return err
		}

		result, err := c.analyzer.Analyze(ctx, entry.Payload)
		if err != nil {
			logging.Warn("photo analysis failed", map[string]any{
				"entry": entry.ID,
				"error": err.Error(),
			})
			if terr := c.queue.transition(entry.ID, func(e *models.PhotoEntry) {
				e.Status = models.PhotoFailed
				e.Retries++
				e.Error = err.Error()
			}); terr != nil {
				return terr
			}
			continue
		}

		if err := c.queue.transition(entry.ID, func(e *models.PhotoEntry) {
			e.Status = models.PhotoDone
			e.Result = result
			e.Error = ""
		}); err != nil {
			return err
		}
		if c.sink != nil {
			c.sink(entry.ID, entry.Payload, result)
		}
	}

	return c.queue.RemoveDone()
}
