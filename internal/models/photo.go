package models

import (
	"encoding/json"
	"fmt"
)

// PhotoStatus is the lifecycle state of a photo-analysis queue entry.
type PhotoStatus string

const (
	PhotoPending    PhotoStatus = "pending"
	PhotoProcessing PhotoStatus = "processing"
	PhotoDone       PhotoStatus = "done"
	PhotoFailed     PhotoStatus = "failed"
)

// PhotoEntry is one pending photo-analysis request. Structurally parallel
// to MutationEntry but consumed by the external classifier instead of a
// CRUD call.
type PhotoEntry struct {
	ID        string      `json:"id"`
	Status    PhotoStatus `json:"status"`
	Payload   Record      `json:"payload"`
	Result    Record      `json:"result,omitempty"`
	Error     string      `json:"error,omitempty"`
	Retries   int         `json:"retries"`
	CreatedAt int64       `json:"createdAt"` // unix milliseconds
	Seq       int64       `json:"seq"`
}

// Stuck reports whether the entry has exhausted its retry budget.
func (e *PhotoEntry) Stuck() bool {
	return e.Status == PhotoFailed && e.Retries >= RetryLimit
}

// Eligible reports whether the entry should be attempted on the next
// processing pass.
func (e *PhotoEntry) Eligible() bool {
	if e.Status == PhotoPending {
		return true
	}
	return e.Status == PhotoFailed && e.Retries < RetryLimit
}

// ToRecord converts the entry to a Record for storage in the photo queue
// collection.
func (e *PhotoEntry) ToRecord() (Record, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal photo entry: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to convert photo entry: %w", err)
	}
	return rec, nil
}

// PhotoEntryFromRecord reconstructs an entry from its stored Record.
func PhotoEntryFromRecord(rec Record) (*PhotoEntry, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	var entry PhotoEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal photo entry: %w", err)
	}
	return &entry, nil
}
