// Package store defines the VersionStore contract and its
// implementations: a flat-file backend (store/flatfile) supporting
// text and binary on-disk formats, and an in-memory caching decorator
// (store/cache) that sits in front of any VersionStore.
package store

import (
	"context"

	"github.com/quay/versiontracker"
)

// VersionStore is the persistence contract every backend and decorator
// implements. All operations may fail with a *versiontracker.Error of
// kind ErrStorageIO (or ErrInvalidFormat, for Open).
type VersionStore interface {
	// GetAllVersions returns deep copies of every stored VersionInfo.
	// Order is unspecified.
	GetAllVersions(ctx context.Context) ([]*versiontracker.VersionInfo, error)

	// GetVersionInfo returns a deep copy of the VersionInfo matching
	// (groupID, artifactID), or (nil, nil) if absent.
	GetVersionInfo(ctx context.Context, groupID, artifactID string) (*versiontracker.VersionInfo, error)

	// SaveOrUpdate upserts info by (groupID, artifactID), deep-copying
	// its argument.
	SaveOrUpdate(ctx context.Context, info *versiontracker.VersionInfo) error

	// SaveOrUpdateAll atomically bulk-replaces every entry named by
	// infos (matched by key); entries not present in infos are
	// retained untouched.
	SaveOrUpdateAll(ctx context.Context, infos []*versiontracker.VersionInfo) error

	// Statistics reports entry count, on-disk size, and last-load
	// duration.
	Statistics(ctx context.Context) (versiontracker.Stats, error)

	// Close flushes pending writes. Further operations after Close
	// fail.
	Close(ctx context.Context) error
}
