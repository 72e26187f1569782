// Package storage defines the persistence contract of the workflow
// engine and provides an in-memory implementation of it.
//
// A Store hands out transactions; all mutating work happens through a Tx
// and becomes visible to readers only at Commit. Per-key exclusive locks
// (content key for version numbering, version key for state transitions)
// are acquired inside the transaction and held until it finishes, and
// unique constraints on (contentId, versionNumber) and (versionId,
// sequence) turn any remaining write race into a conflict error at
// commit time.
//
// Read methods on the Store observe committed data only and never block
// writers.
package storage
