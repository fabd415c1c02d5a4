package orchestrator

import (
	"github.com/auditcore/fieldsync/internal/models"
	"github.com/auditcore/fieldsync/internal/queue"
	"github.com/auditcore/fieldsync/internal/store"
	"github.com/auditcore/fieldsync/internal/tempid"
)

// Client is the optimistic-write facade the application calls. Every local
// write pairs with exactly one queue entry describing how to reproduce it
// remotely; the store holds the current best-known state, the queue holds
// what the server has not yet confirmed.
type Client struct {
	store *store.Store
	queue *queue.Queue
}

// ParentRef marks a create whose foreign key references a parent record
// that may not be synced yet. Field names the foreign-key field holding
// the parent's id.
type ParentRef struct {
	TempID string
	Field  string
}

// NewClient builds the write facade over the store and queue.
func NewClient(st *store.Store, q *queue.Queue) *Client {
	return &Client{store: st, queue: q}
}

// Create optimistically inserts a record under a freshly allocated
// temporary id and enqueues the remote insert. The stored record is
// returned so callers can render it immediately.
func (c *Client) Create(collection string, fields models.Record, parent *ParentRef) (models.Record, error) {
	tempID := tempid.Allocate()
	rec := fields.Clone()
	if rec == nil {
		rec = models.Record{}
	}
	rec["id"] = tempID
	rec["_tempId"] = tempID
	rec["_pending"] = true
	if parent != nil && parent.Field != "" {
		rec[parent.Field] = parent.TempID
	}

	if err := c.store.Put(collection, rec); err != nil {
		return nil, err
	}

	entry := &models.MutationEntry{
		Table:     collection,
		Operation: models.OpInsert,
		Data:      rec.Clone(),
		TempID:    tempID,
	}
	if parent != nil {
		entry.ParentTempID = parent.TempID
		entry.ParentFkField = parent.Field
	}
	if _, err := c.queue.Enqueue(entry); err != nil {
		return nil, err
	}
	return rec, nil
}

// Update merges fields into the stored record and enqueues the remote
// update with a snapshot of the merged state.
func (c *Client) Update(collection, id string, fields models.Record) (models.Record, error) {
	rec, ok := c.store.Get(collection, id)
	if !ok {
		rec = models.Record{"id": id}
	}
	for k, v := range fields {
		rec[k] = v
	}
	rec["id"] = id

	if err := c.store.Put(collection, rec); err != nil {
		return nil, err
	}

	entry := &models.MutationEntry{
		Table:     collection,
		Operation: models.OpUpdate,
		Data:      rec.Clone(),
	}
	if _, err := c.queue.Enqueue(entry); err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the record locally and enqueues the remote delete.
func (c *Client) Delete(collection, id string) error {
	if err := c.store.Remove(collection, id); err != nil {
		return err
	}
	entry := &models.MutationEntry{
		Table:     collection,
		Operation: models.OpDelete,
		Data:      models.Record{"id": id},
	}
	_, err := c.queue.Enqueue(entry)
	return err
}
