// Package tempid allocates temporary record identifiers for records created
// offline and resolves them to server-assigned identifiers once synced.
package tempid

import (
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"

	apperrors "github.com/auditcore/fieldsync/internal/errors"
	"github.com/auditcore/fieldsync/internal/logging"
	"github.com/auditcore/fieldsync/internal/models"
	"github.com/auditcore/fieldsync/internal/store"
)

// Prefix distinguishes temporary identifiers from server identifiers.
const Prefix = "temp_"

// Allocate returns a fresh temporary identifier backed by 128 bits of
// randomness, so collisions are negligible even across devices.
func Allocate() string {
	id := uuid.New()
	return Prefix + hex.EncodeToString(id[:])
}

// IsTempID reports whether the value matches the temporary-id pattern.
func IsTempID(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

// Resolver maintains the durable temporary-id to server-id mapping.
//
// Mappings are created exactly once, by the sync engine on successful
// insert, and never mutated afterwards.
type Resolver struct {
	store *store.Store

	mu       sync.RWMutex
	mappings map[string]string
}

// NewResolver loads persisted mappings so resolution keeps working after a
// restart.
func NewResolver(st *store.Store) *Resolver {
	r := &Resolver{
		store:    st,
		mappings: make(map[string]string),
	}
	for _, rec := range st.GetAll(models.CollectionTempIDMap) {
		tempID := rec.ID()
		realID, _ := rec["realId"].(string)
		if tempID != "" && realID != "" {
			r.mappings[tempID] = realID
		}
	}
	return r
}

// RecordMapping persists a temporary-id to server-id association.
//
// Re-recording the same pair is harmless. Recording a different real id for
// an already-mapped temporary id is a core invariant violation and is
// surfaced, never silently overwritten.
func (r *Resolver) RecordMapping(tempID, realID string) error {
	if tempID == "" || realID == "" {
		return apperrors.New(apperrors.ErrInvalid, "empty identifier in mapping")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.mappings[tempID]; ok {
		if existing == realID {
			return nil
		}
		err := apperrors.New(apperrors.ErrIDConflict,
			fmt.Sprintf("temporary id %s already mapped to %s, refusing %s", tempID, existing, realID))
		logging.ErrorWithCode("conflicting identifier mapping", string(apperrors.ErrIDConflict), err,
			map[string]any{"tempId": tempID})
		return err
	}

	if err := r.store.Put(models.CollectionTempIDMap, models.Record{"id": tempID, "realId": realID}); err != nil {
		return fmt.Errorf("failed to persist id mapping: %w", err)
	}
	r.mappings[tempID] = realID
	return nil
}

// Resolve translates a single field value. Strings matching the
// temporary-id pattern with a recorded mapping become the real id; every
// other value passes through unchanged, including unmapped temporary ids
// (the sync engine's ordering policy keeps those from being transmitted
// prematurely).
func (r *Resolver) Resolve(value any) any {
	s, ok := value.(string)
	if !ok || !IsTempID(s) {
		return value
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if real, ok := r.mappings[s]; ok {
		return real
	}
	return value
}

// ResolveFields applies Resolve to every field of a record. The schema of
// referencing fields is not statically known, so all fields are scanned,
// not just declared foreign keys. The input is not modified.
func (r *Resolver) ResolveFields(data models.Record) models.Record {
	if data == nil {
		return nil
	}
	out := make(models.Record, len(data))
	for k, v := range data {
		out[k] = r.Resolve(v)
	}
	return out
}

// Lookup returns the mapped real id for a temporary id, if recorded.
func (r *Resolver) Lookup(tempID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	real, ok := r.mappings[tempID]
	return real, ok
}
