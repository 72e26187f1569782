package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/draftline/draftline-go/contracts"
	"github.com/draftline/draftline-go/schema"
	"github.com/draftline/draftline-go/storage"
)

// StateManager initializes and transitions per-version workflow state
// against the transition table.
type StateManager struct {
	store     storage.Store
	table     *Table
	validator *schema.Validator
	logger    *slog.Logger
}

// NewStateManager creates a state manager. The table is shared by
// reference and never mutated.
func NewStateManager(store storage.Store, table *Table, validator *schema.Validator, logger *slog.Logger) *StateManager {
	if validator == nil {
		validator = schema.NewValidator()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &StateManager{store: store, table: table, validator: validator, logger: logger}
}

// TransitionResult is the outcome of a successful transition.
type TransitionResult struct {
	State *contracts.State
	From  string
}

// Initialize stages the configured initial state for a freshly created
// version, in the same transaction as the version insert.
func (m *StateManager) Initialize(ctx context.Context, tx storage.Tx, version *contracts.Version) (*contracts.State, error) {
	if version == nil {
		return nil, fmt.Errorf("version is required")
	}

	state := contracts.NewState(version.ID, m.table.InitialState(), 1, nil)
	if err := tx.InsertState(ctx, state); err != nil {
		return nil, contracts.NewPersistenceError("insert initial state", err)
	}

	m.logger.Debug("initial state staged",
		"versionId", version.ID,
		"state", state.Name)

	return state, nil
}

// Transition appends the next state for a version inside the caller's
// transaction.
//
// The per-version lock is held from the current-state read through the
// append, which closes the read-then-append race between concurrent
// transitions. No state row is written when the action is not permitted
// or the payload fails validation.
func (m *StateManager) Transition(ctx context.Context, tx storage.Tx, version *contracts.Version, action string, payload contracts.TransitionPayload) (*TransitionResult, error) {
	if version == nil {
		return nil, fmt.Errorf("version is required")
	}
	if action == "" {
		return nil, fmt.Errorf("action is required")
	}

	if err := tx.LockVersion(ctx, version.ID); err != nil {
		return nil, contracts.NewPersistenceError("lock version", err)
	}

	current, err := tx.CurrentState(ctx, version.ID)
	if err != nil {
		return nil, err
	}

	rule, ok := m.table.Lookup(current.Name, action)
	if !ok {
		return nil, fmt.Errorf("%w: action %q from state %q",
			contracts.ErrInvalidTransition, action, current.Name)
	}

	if err := m.validator.ValidateTransition(rule.Payload, payload); err != nil {
		return nil, err
	}

	next := contracts.NewState(version.ID, rule.TargetState, current.Sequence+1, payload)
	if err := tx.InsertState(ctx, next); err != nil {
		return nil, contracts.NewPersistenceError("insert state", err)
	}

	m.logger.Debug("transition staged",
		"versionId", version.ID,
		"action", action,
		"from", current.Name,
		"to", next.Name,
		"sequence", next.Sequence)

	return &TransitionResult{State: next, From: current.Name}, nil
}

// CurrentState returns the committed current state of a version: the
// record with the highest sequence. Pure snapshot read, no locking.
func (m *StateManager) CurrentState(ctx context.Context, versionID string) (*contracts.State, error) {
	return m.store.CurrentState(ctx, versionID)
}

// History returns all committed states of a version in creation order.
func (m *StateManager) History(ctx context.Context, versionID string) ([]*contracts.State, error) {
	return m.store.ListStates(ctx, versionID)
}
