// Package workflow implements the content versioning and workflow
// engine: monotonic version allocation, configuration-driven state
// transitions, and the coordinating Manager that runs both inside
// storage transactions and publishes domain events after commit.
//
// The transition rules are data, not code. A Table is built once at
// startup from configuration and shared read-only; a state with no
// outgoing rules is terminal by construction and cycles between states
// are legal.
//
// Basic usage:
//
//	table, err := workflow.NewTable("draft", []workflow.Rule{
//	    {SourceState: "draft", Action: "submit", TargetState: "review"},
//	    {SourceState: "review", Action: "approve", TargetState: "published"},
//	    {SourceState: "review", Action: "reject", TargetState: "draft"},
//	})
//	mgr := workflow.NewManager(storage.NewMemoryStore(), table)
//
//	version, err := mgr.CreateVersion(ctx, payload, caller)
//	state, err := mgr.Transition(ctx, version.ID, "submit", nil, caller)
package workflow
