package store

import (
	"context"
	"errors"
	"time"

	"github.com/mwantia/suprsync/pkg/db/models"
)

// Action is the work a selected record needs.
type Action int

const (
	ActionNone Action = iota
	ActionCopy
	ActionRemove
)

func (a Action) String() string {
	switch a {
	case ActionCopy:
		return "copy"
	case ActionRemove:
		return "remove"
	}
	return "none"
}

// SelectOptions carries the policy the candidate selector applies.
type SelectOptions struct {
	Now time.Time
	// DeleteAfter is the retention window; nil disables deletion.
	DeleteAfter *time.Duration
	// MaxCopyAttempts is the attempt ceiling; zero means unlimited.
	MaxCopyAttempts int
	// Holder keeps its own claims eligible; records claimed by anyone else
	// are skipped until the claim expires.
	Holder string
}

// ErrClaimLost is returned by Complete when the claim expired and another
// holder took the record over.
var ErrClaimLost = errors.New("claim on record was lost")

// Claim is a record reserved for one holder by ClaimNext.
type Claim struct {
	File   *models.File
	Action Action
	// Exhausted counts pending records moved to failed because they had
	// already reached the attempt ceiling.
	Exhausted int64
}

// ListOptions filters ListFiles.
type ListOptions struct {
	ArchiveName string
	Status      models.CopyStatus
	Removed     *bool
	Limit       int
	Offset      int
}

// ArchiveStats summarises the records of one archive.
type ArchiveStats struct {
	Pending  int64
	Verified int64
	Failed   int64
	Removed  int64
}

// Tx is the scoped handle passed into Transaction. It is only valid inside
// the callback.
type Tx interface {
	SelectNext(archiveName string, opts SelectOptions) (*models.File, Action, error)
	UpdateFile(file *models.File) error
	// FailExhausted marks pending records at or above the attempt ceiling
	// as failed and returns how many changed.
	FailExhausted(archiveName string, maxCopyAttempts int) (int64, error)
}

// RecordStore defines the interface for file record persistence
type RecordStore interface {
	// Lifecycle
	Connect(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	Health(ctx context.Context) error

	// File operations
	CreateFile(ctx context.Context, file *models.File) error
	GetFile(ctx context.Context, id uint) (*models.File, error)
	ListFiles(ctx context.Context, opts ListOptions) ([]models.File, error)
	Stats(ctx context.Context, archiveName string) (*ArchiveStats, error)

	// Transaction runs fn while holding the archive lock. Selection and
	// every mutation made through tx commit or roll back together.
	Transaction(ctx context.Context, archiveName, holder string, fn func(tx Tx) error) error

	// ClaimNext selects the next record and reserves it for holder for ttl.
	// The write lock is only held while claiming, never during the work.
	ClaimNext(ctx context.Context, archiveName, holder string, ttl time.Duration, opts SelectOptions) (*Claim, error)
	// Complete stores the outcome of a claimed record and releases the claim.
	Complete(ctx context.Context, holder string, file *models.File) error
}
