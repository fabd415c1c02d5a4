// Package engine drains the mutation queue against the remote backend.
//
// A drain pass processes eligible entries in four fixed classes: parent
// inserts, child inserts, updates, deletes. Parents go before children so a
// child's foreign key can be resolved to the parent's server-assigned id
// within the same pass; deletes go last so earlier steps can still
// reference the rows they need.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/auditcore/fieldsync/internal/connectivity"
	apperrors "github.com/auditcore/fieldsync/internal/errors"
	"github.com/auditcore/fieldsync/internal/logging"
	"github.com/auditcore/fieldsync/internal/models"
	"github.com/auditcore/fieldsync/internal/queue"
	"github.com/auditcore/fieldsync/internal/remote"
	"github.com/auditcore/fieldsync/internal/store"
	"github.com/auditcore/fieldsync/internal/tempid"
)

// Engine coordinates one drain at a time between the local store, the
// mutation queue, the identifier resolver and the remote backend.
type Engine struct {
	store    *store.Store
	queue    *queue.Queue
	resolver *tempid.Resolver
	backend  remote.Backend
	monitor  connectivity.Monitor

	mu       sync.Mutex
	draining bool
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Attempted int
	Synced    int
	Failed    int
	Aborted   bool // connectivity lost mid-pass
	Skipped   bool // another drain was running, or offline at entry
}

// New creates an Engine. All collaborators are required.
func New(st *store.Store, q *queue.Queue, r *tempid.Resolver, backend remote.Backend, monitor connectivity.Monitor) *Engine {
	return &Engine{
		store:    st,
		queue:    q,
		resolver: r,
		backend:  backend,
		monitor:  monitor,
	}
}

// Draining reports whether a pass is currently running.
func (e *Engine) Draining() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.draining
}

// orderingClass partitions entries for dependency-safe processing.
//
//	0: inserts with no parent placeholder (independent creates)
//	1: inserts referencing a not-yet-synced parent
//	2: updates
//	3: deletes
func orderingClass(entry *models.MutationEntry) int {
	switch entry.Operation {
	case models.OpInsert:
		if entry.ParentTempID == "" {
			return 0
		}
		return 1
	case models.OpUpdate:
		return 2
	default:
		return 3
	}
}

// Drain processes every currently-eligible queue entry, one at a time.
//
// If a pass is already running, or the client is offline, Drain returns
// immediately without side effects. Failure of one entry never aborts the
// pass; losing connectivity does, leaving unprocessed entries untouched for
// the next drain.
func (e *Engine) Drain(ctx context.Context) (*DrainResult, error) {
	e.mu.Lock()
	if e.draining {
		e.mu.Unlock()
		return &DrainResult{Skipped: true}, nil
	}
	e.draining = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.draining = false
		e.mu.Unlock()
	}()

	if !e.monitor.IsOnline() {
		return &DrainResult{Skipped: true}, nil
	}

	entries := e.queue.Eligible()
	sort.SliceStable(entries, func(i, j int) bool {
		ci, cj := orderingClass(entries[i]), orderingClass(entries[j])
		if ci != cj {
			return ci < cj
		}
		if entries[i].CreatedAt != entries[j].CreatedAt {
			return entries[i].CreatedAt < entries[j].CreatedAt
		}
		return entries[i].Seq < entries[j].Seq
	})

	result := &DrainResult{}
	logging.Debug("drain pass starting", map[string]any{"eligible": len(entries)})

	for _, entry := range entries {
		if ctx.Err() != nil || !e.monitor.IsOnline() {
			result.Aborted = true
			break
		}

		result.Attempted++
		if err := e.processEntry(ctx, entry); err != nil {
			result.Failed++
			if markErr := e.queue.MarkFailed(entry.ID, err); markErr != nil {
				logging.Error("failed to record entry failure", markErr, map[string]any{"entry": entry.ID})
			}
			logging.Warn("mutation failed, will retry", map[string]any{
				"entry":     entry.ID,
				"table":     entry.Table,
				"operation": string(entry.Operation),
				"retries":   entry.Retries + 1,
				"error":     err.Error(),
			})
			continue
		}
		result.Synced++
		if err := e.queue.MarkSynced(entry.ID); err != nil {
			logging.Error("failed to mark entry synced", err, map[string]any{"entry": entry.ID})
		}
	}

	if err := e.queue.RemoveSynced(); err != nil {
		logging.Error("failed to garbage collect synced entries", err)
	}

	logging.Info("drain pass finished", map[string]any{
		"attempted": result.Attempted,
		"synced":    result.Synced,
		"failed":    result.Failed,
		"aborted":   result.Aborted,
	})
	return result, nil
}

// processEntry sends one mutation to the remote backend and reconciles the
// local store on success.
func (e *Engine) processEntry(ctx context.Context, entry *models.MutationEntry) error {
	if err := e.queue.MarkSyncing(entry.ID); err != nil {
		return err
	}

	data := e.resolver.ResolveFields(entry.Data)
	for _, field := range models.ClientOnlyFields {
		delete(data, field)
	}

	table := models.RemoteTableName(entry.Table)

	switch entry.Operation {
	case models.OpInsert:
		return e.processInsert(ctx, entry, table, data)
	case models.OpUpdate:
		return e.processUpdate(ctx, entry, table, data)
	case models.OpDelete:
		return e.processDelete(ctx, entry, table, data)
	default:
		return apperrors.New(apperrors.ErrInvalid, "unknown operation "+string(entry.Operation))
	}
}

func (e *Engine) processInsert(ctx context.Context, entry *models.MutationEntry, table string, data models.Record) error {
	// The server assigns the real identifier; a temporary one must not be
	// transmitted.
	if id, ok := data["id"].(string); ok && tempid.IsTempID(id) {
		delete(data, "id")
	}

	serverRec, err := e.backend.Insert(ctx, table, data)
	if err != nil {
		return err
	}

	realID := serverRec.ID()
	if realID == "" {
		return apperrors.New(apperrors.ErrRemoteRejected, "insert response missing id for "+table)
	}

	if entry.TempID != "" {
		if err := e.resolver.RecordMapping(entry.TempID, realID); err != nil {
			// A conflicting mapping is an invariant violation, not an
			// operational failure; surface it and leave the entry failed.
			return err
		}
		if err := e.store.Remove(entry.Table, entry.TempID); err != nil {
			logging.Error("failed to remove placeholder record", err,
				map[string]any{"collection": entry.Table, "id": entry.TempID})
		}
	}

	if err := e.store.Put(entry.Table, serverRec); err != nil {
		logging.Error("failed to store server record", err,
			map[string]any{"collection": entry.Table, "id": realID})
	}
	return nil
}

func (e *Engine) processUpdate(ctx context.Context, entry *models.MutationEntry, table string, data models.Record) error {
	id, _ := data["id"].(string)
	if id == "" {
		return apperrors.New(apperrors.ErrInvalid, "update entry has no record id")
	}

	patch := data.Clone()
	delete(patch, "id")
	for _, field := range models.ImmutableUpdateFields {
		delete(patch, field)
	}

	if err := e.backend.Update(ctx, table, id, patch); err != nil {
		return err
	}

	// The queue snapshot is the best-known state; refresh the local copy
	// under the resolved id in case the record was created under a
	// placeholder.
	if local, ok := e.store.Get(entry.Table, id); ok {
		for k, v := range patch {
			local[k] = v
		}
		if err := e.store.Put(entry.Table, local); err != nil {
			logging.Error("failed to refresh local record", err,
				map[string]any{"collection": entry.Table, "id": id})
		}
	}
	return nil
}

func (e *Engine) processDelete(ctx context.Context, entry *models.MutationEntry, table string, data models.Record) error {
	id, _ := data["id"].(string)
	if id == "" {
		return apperrors.New(apperrors.ErrInvalid, "delete entry has no record id")
	}
	if err := e.backend.Delete(ctx, table, id); err != nil {
		return err
	}
	return nil
}

// String implements fmt.Stringer for drain summaries in logs and CLI output.
func (r *DrainResult) String() string {
	return fmt.Sprintf("attempted=%d synced=%d failed=%d aborted=%t skipped=%t",
		r.Attempted, r.Synced, r.Failed, r.Aborted, r.Skipped)
}
