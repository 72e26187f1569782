package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/draftline/draftline-go/contracts"
	"github.com/draftline/draftline-go/storage"
)

// VersionManager allocates and reads immutable content versions with
// gapless per-content numbering.
type VersionManager struct {
	store  storage.Store
	logger *slog.Logger
}

// NewVersionManager creates a version manager backed by store.
func NewVersionManager(store storage.Store, logger *slog.Logger) *VersionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &VersionManager{store: store, logger: logger}
}

// Create allocates the next version number for a content ID and stages
// the version insert inside the caller's transaction.
//
// The per-content lock is held from the read of the current maximum
// through the insert, so two writers cannot both observe the same
// numbering basis. A racing writer that slips past anyway hits the
// unique constraint at commit and surfaces contracts.ErrVersionConflict,
// which the coordinator retries a bounded number of times.
func (m *VersionManager) Create(ctx context.Context, tx storage.Tx, contentID string, payload contracts.ContentPayload, metadata contracts.Metadata) (*contracts.Version, error) {
	if contentID == "" {
		return nil, fmt.Errorf("content ID is required")
	}

	if err := tx.LockContent(ctx, contentID); err != nil {
		return nil, contracts.NewPersistenceError("lock content", err)
	}

	max, err := tx.MaxVersionNumber(ctx, contentID)
	if err != nil {
		return nil, contracts.NewPersistenceError("read max version number", err)
	}

	version := contracts.NewVersion(contentID, max+1, payload, metadata)
	if err := tx.InsertVersion(ctx, version); err != nil {
		return nil, contracts.NewPersistenceError("insert version", err)
	}

	m.logger.Debug("version staged",
		"contentId", contentID,
		"versionId", version.ID,
		"versionNumber", version.VersionNumber)

	return version, nil
}

// FindByID returns a committed version, or contracts.ErrNotFound.
func (m *VersionManager) FindByID(ctx context.Context, versionID string) (*contracts.Version, error) {
	return m.store.GetVersion(ctx, versionID)
}

// GetHistory returns all committed versions for a content ID, descending
// by version number. The slice is a finite snapshot, re-read on each
// call.
func (m *VersionManager) GetHistory(ctx context.Context, contentID string) ([]*contracts.Version, error) {
	return m.store.ListVersions(ctx, contentID)
}
