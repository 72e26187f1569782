package storage

import (
	"context"

	"github.com/draftline/draftline-go/contracts"
)

// Store is the persistence abstraction for versions and states.
//
// Reads outside a transaction observe a consistent committed snapshot.
// Version records are immutable and state records append-only, so the
// contract offers no update or delete operations.
type Store interface {
	// Begin starts a transaction. Every mutation goes through one.
	Begin(ctx context.Context) (Tx, error)

	// GetVersion returns the version with the given ID, or
	// contracts.ErrNotFound.
	GetVersion(ctx context.Context, versionID string) (*contracts.Version, error)

	// ListVersions returns all versions for a content ID, descending by
	// version number. An unknown content ID yields an empty slice.
	ListVersions(ctx context.Context, contentID string) ([]*contracts.Version, error)

	// CurrentState returns the state with the highest sequence for a
	// version, or contracts.ErrNotFound if the version has no states.
	CurrentState(ctx context.Context, versionID string) (*contracts.State, error)

	// ListStates returns all states for a version, ascending by
	// sequence.
	ListStates(ctx context.Context, versionID string) ([]*contracts.State, error)
}

// Tx is a single storage transaction. Writes staged through it are
// invisible to other readers until Commit; reads through it see
// committed data plus the transaction's own staged writes.
//
// Rollback after Commit (or a second Rollback) is a no-op, so callers
// can unconditionally defer it.
type Tx interface {
	// LockContent acquires the exclusive per-content lock used to keep
	// version numbering gapless. Held until Commit or Rollback.
	LockContent(ctx context.Context, contentID string) error

	// LockVersion acquires the exclusive per-version lock used to
	// serialize state transitions. Held until Commit or Rollback.
	LockVersion(ctx context.Context, versionID string) error

	// MaxVersionNumber returns the highest committed or staged version
	// number for a content ID, or 0 when none exist.
	MaxVersionNumber(ctx context.Context, contentID string) (int, error)

	// InsertVersion stages a version insert.
	InsertVersion(ctx context.Context, version *contracts.Version) error

	// GetVersion reads a version, including ones staged in this
	// transaction.
	GetVersion(ctx context.Context, versionID string) (*contracts.Version, error)

	// CurrentState reads the highest-sequence state for a version,
	// including states staged in this transaction.
	CurrentState(ctx context.Context, versionID string) (*contracts.State, error)

	// InsertState stages a state append.
	InsertState(ctx context.Context, state *contracts.State) error

	Commit() error
	Rollback() error
}
