// Package draftline provides immutable content versioning with a
// configuration-driven workflow state machine.
//
// Content is stored as numbered, immutable versions: the version numbers
// for one content ID are always the gapless sequence 1..N, even under
// concurrent writers. Each version carries an append-only trail of
// workflow states; transitions between states are driven by an immutable
// transition table loaded once at startup, and every mutation runs
// inside a single storage transaction with domain events published only
// after commit.
//
// Key features:
//   - Gapless per-content version numbering under concurrency
//   - Data-driven state machine: states and actions are configuration
//   - Per-rule payload schemas with fail-fast validation
//   - Pluggable persistence: in-memory and SQLite stores included
//   - Post-commit domain events, in-process or over RabbitMQ
//
// Basic usage:
//
//	cfg, err := config.FromEnv()
//	client, err := draftline.NewClient(cfg)
//	defer client.Close()
//
//	version, err := client.Workflows().CreateVersion(ctx, payload, caller)
//	state, err := client.Workflows().Transition(ctx, version.ID, "submit", nil, caller)
package draftline
