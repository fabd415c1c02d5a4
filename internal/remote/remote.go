// Package remote defines the contract the sync engine needs from the hosted
// relational backend, and a REST implementation of it.
package remote

import (
	"context"

	"github.com/auditcore/fieldsync/internal/models"
)

// Backend is the minimal per-table contract the sync core requires.
// Insert returns the server's version of the record, including the
// server-assigned identifier.
type Backend interface {
	Insert(ctx context.Context, table string, record models.Record) (models.Record, error)
	Update(ctx context.Context, table string, id string, record models.Record) error
	Delete(ctx context.Context, table string, id string) error
}
