// Package contracts defines the shared domain types of the versioning
// and workflow engine: immutable content versions, append-only workflow
// states, the domain events emitted after commit, and the error kinds
// every layer agrees on.
//
// Types in this package carry no behavior beyond construction and
// defensive copying; the packages workflow, storage, and schema operate
// on them.
package contracts
