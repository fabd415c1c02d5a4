package models

import (
	"encoding/json"
	"fmt"
)

// RetryLimit is the number of failed sync attempts after which a queue
// entry is considered stuck and requires operator attention.
const RetryLimit = 10

// Operation is the kind of remote mutation a queue entry describes.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// MutationStatus is the lifecycle state of a mutation queue entry.
//
// pending -> syncing -> {synced | failed}; failed -> syncing while
// retries < RetryLimit; failed is terminal once retries >= RetryLimit
// until externally reset. synced entries are garbage collected.
type MutationStatus string

const (
	MutationPending MutationStatus = "pending"
	MutationSyncing MutationStatus = "syncing"
	MutationSynced  MutationStatus = "synced"
	MutationFailed  MutationStatus = "failed"
)

// MutationEntry is one pending remote operation. Entries are only mutated
// to advance Status, Retries and Error.
type MutationEntry struct {
	ID            string         `json:"id"`
	Table         string         `json:"table"`
	Operation     Operation      `json:"operation"`
	Data          Record         `json:"data"`
	TempID        string         `json:"tempId,omitempty"`
	ParentTempID  string         `json:"parentTempId,omitempty"`
	ParentFkField string         `json:"parentFkField,omitempty"`
	Status        MutationStatus `json:"status"`
	Retries       int            `json:"retries"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     int64          `json:"createdAt"` // unix milliseconds
	Seq           int64          `json:"seq"`       // FIFO tiebreaker within a class
}

// Stuck reports whether the entry has exhausted its retry budget.
func (e *MutationEntry) Stuck() bool {
	return e.Status == MutationFailed && e.Retries >= RetryLimit
}

// Eligible reports whether the entry should be attempted on the next drain.
func (e *MutationEntry) Eligible() bool {
	if e.Status == MutationPending {
		return true
	}
	return e.Status == MutationFailed && e.Retries < RetryLimit
}

// ToRecord converts the entry to a Record for storage in the mutation
// queue collection.
func (e *MutationEntry) ToRecord() (Record, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal mutation entry: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("failed to convert mutation entry: %w", err)
	}
	return rec, nil
}

// MutationEntryFromRecord reconstructs an entry from its stored Record.
func MutationEntryFromRecord(rec Record) (*MutationEntry, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}
	var entry MutationEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal mutation entry: %w", err)
	}
	return &entry, nil
}
