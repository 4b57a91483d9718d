package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type ListFilter struct {
	Statuses []Status
	ClientID *snowflake.ID
	WriterID *snowflake.ID
	// Before pages by id, newest first.
	Before *snowflake.ID
	Limit  int
}

// LedgerFilter narrows the ledger snapshot read.
type LedgerFilter struct {
	WriterID *snowflake.ID
	IDs      []snowflake.ID
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, assignment *Assignment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Assignment, error)
	FindByIDs(ctx context.Context, db *gorm.DB, ids []snowflake.ID) ([]*Assignment, error)
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*Assignment, error)
	// UpdateVersioned writes the full row only if the stored version still
	// equals expectedVersion; otherwise it returns ErrConflict.
	UpdateVersioned(ctx context.Context, db *gorm.DB, assignment *Assignment, expectedVersion int64) error
	InsertTransition(ctx context.Context, db *gorm.DB, transition *Transition) error
	ListTransitions(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID) ([]*Transition, error)
	// ListForLedger returns every assignment carrying a writer and a writer
	// price in a single statement, so the caller sees one consistent snapshot.
	ListForLedger(ctx context.Context, db *gorm.DB, filter LedgerFilter) ([]*Assignment, error)
	ListWriterIDs(ctx context.Context, db *gorm.DB, since *time.Time) ([]snowflake.ID, error)
}
