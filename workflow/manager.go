package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"time"

	"github.com/draftline/draftline-go/contracts"
	"github.com/draftline/draftline-go/internal/reliability"
	"github.com/draftline/draftline-go/schema"
	"github.com/draftline/draftline-go/storage"
)

// Manager coordinates the workflow engine: it authorizes callers,
// validates payloads, executes version and state changes inside one
// storage transaction, and publishes domain events after commit.
type Manager struct {
	store     storage.Store
	versions  *VersionManager
	states    *StateManager
	validator *schema.Validator
	gate      SecurityGate
	publisher EventPublisher
	retry     reliability.RetryPolicy
	txTimeout time.Duration
	logger    *slog.Logger
}

// ManagerOption configures the Manager.
type ManagerOption func(*managerConfig)

type managerConfig struct {
	gate      SecurityGate
	publisher EventPublisher
	validator *schema.Validator
	retry     reliability.RetryPolicy
	txTimeout time.Duration
	logger    *slog.Logger
}

// WithSecurityGate sets the authorization gate.
func WithSecurityGate(gate SecurityGate) ManagerOption {
	return func(c *managerConfig) {
		if gate != nil {
			c.gate = gate
		}
	}
}

// WithEventPublisher sets the post-commit event publisher.
func WithEventPublisher(publisher EventPublisher) ManagerOption {
	return func(c *managerConfig) {
		if publisher != nil {
			c.publisher = publisher
		}
	}
}

// WithValidator overrides the payload validator.
func WithValidator(validator *schema.Validator) ManagerOption {
	return func(c *managerConfig) {
		if validator != nil {
			c.validator = validator
		}
	}
}

// WithRetryPolicy sets the bounded retry policy applied to version
// numbering conflicts.
func WithRetryPolicy(policy reliability.RetryPolicy) ManagerOption {
	return func(c *managerConfig) {
		if policy != nil {
			c.retry = policy
		}
	}
}

// WithTransactionTimeout bounds each mutating transaction, retries
// included. Zero disables the bound.
func WithTransactionTimeout(timeout time.Duration) ManagerOption {
	return func(c *managerConfig) {
		c.txTimeout = timeout
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(c *managerConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewManager creates the coordinator with its default collaborators: an
// allow-all gate, a no-op publisher, and three retries on numbering
// conflicts.
func NewManager(store storage.Store, table *Table, opts ...ManagerOption) *Manager {
	cfg := &managerConfig{
		gate:      AllowAllGate{},
		publisher: NopPublisher{},
		validator: schema.NewValidator(),
		retry:     reliability.NewExponentialBackoff(10*time.Millisecond, 250*time.Millisecond, 2.0, 3),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(cfg)
	}

	return &Manager{
		store:     store,
		versions:  NewVersionManager(store, cfg.logger),
		states:    NewStateManager(store, table, cfg.validator, cfg.logger),
		validator: cfg.validator,
		gate:      cfg.gate,
		publisher: cfg.publisher,
		retry:     cfg.retry,
		txTimeout: cfg.txTimeout,
		logger:    cfg.logger,
	}
}

// Versions exposes the version manager for read paths that bypass
// coordination.
func (m *Manager) Versions() *VersionManager { return m.versions }

// States exposes the state manager for read paths that bypass
// coordination.
func (m *Manager) States() *StateManager { return m.states }

// CreateVersion validates the content payload and creates the next
// version for its identifier together with the configured initial state,
// atomically. The VersionCreated event is published only after the
// transaction has committed; a publish failure is logged and does not
// undo the committed version.
func (m *Manager) CreateVersion(ctx context.Context, payload contracts.ContentPayload, sc contracts.SecurityContext) (*contracts.Version, error) {
	if err := m.authorize(ctx, sc, PermissionCreate); err != nil {
		return nil, err
	}
	if err := m.validator.ValidateContent(payload); err != nil {
		return nil, err
	}

	contentID, _ := payload["identifier"].(string)
	metadata := extractMetadata(payload)

	ctx, cancel := m.bound(ctx)
	defer cancel()

	var version *contracts.Version
	var initial *contracts.State

	// Numbering conflicts rerun the whole create transaction so version
	// and initial state stay one atomic unit.
	err := reliability.Retry(ctx, m.retry, func() error {
		tx, err := m.store.Begin(ctx)
		if err != nil {
			return contracts.NewPersistenceError("begin transaction", err)
		}
		defer tx.Rollback()

		version, err = m.versions.Create(ctx, tx, contentID, payload, metadata)
		if err != nil {
			return err
		}
		initial, err = m.states.Initialize(ctx, tx, version)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		m.logger.Error("create version failed",
			"contentId", contentID,
			"error", err)
		return nil, err
	}

	m.logger.Info("version created",
		"contentId", contentID,
		"versionId", version.ID,
		"versionNumber", version.VersionNumber,
		"initialState", initial.Name)

	m.publish(ctx, contracts.NewVersionCreatedEvent(version, initial))
	return version, nil
}

// Transition applies an action to a version's current state inside one
// transaction and publishes StateTransitioned after commit. The action
// must be permitted by the transition table and the payload must satisfy
// the matched rule's schema; otherwise no state row is written.
func (m *Manager) Transition(ctx context.Context, versionID, action string, payload contracts.TransitionPayload, sc contracts.SecurityContext) (*contracts.State, error) {
	if err := m.authorize(ctx, sc, PermissionTransition); err != nil {
		return nil, err
	}

	ctx, cancel := m.bound(ctx)
	defer cancel()

	tx, err := m.store.Begin(ctx)
	if err != nil {
		return nil, contracts.NewPersistenceError("begin transaction", err)
	}
	defer tx.Rollback()

	version, err := tx.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	result, err := m.states.Transition(ctx, tx, version, action, payload)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	m.logger.Info("state transitioned",
		"versionId", versionID,
		"action", action,
		"from", result.From,
		"to", result.State.Name)

	m.publish(ctx, contracts.NewStateTransitionedEvent(versionID, action, result.From, result.State))
	return result.State, nil
}

// GetHistory returns all versions of a content ID, newest first.
// Unknown content IDs yield contracts.ErrNotFound.
func (m *Manager) GetHistory(ctx context.Context, contentID string, sc contracts.SecurityContext) ([]*contracts.Version, error) {
	if err := m.authorize(ctx, sc, PermissionRead); err != nil {
		return nil, err
	}
	history, err := m.versions.GetHistory(ctx, contentID)
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, fmt.Errorf("%w: content %q", contracts.ErrNotFound, contentID)
	}
	return history, nil
}

// GetCurrentState returns the current state of a version.
func (m *Manager) GetCurrentState(ctx context.Context, versionID string, sc contracts.SecurityContext) (*contracts.State, error) {
	if err := m.authorize(ctx, sc, PermissionRead); err != nil {
		return nil, err
	}
	return m.states.CurrentState(ctx, versionID)
}

// GetStateHistory returns every state a version has been in, in
// creation order.
func (m *Manager) GetStateHistory(ctx context.Context, versionID string, sc contracts.SecurityContext) ([]*contracts.State, error) {
	if err := m.authorize(ctx, sc, PermissionRead); err != nil {
		return nil, err
	}
	return m.states.History(ctx, versionID)
}

func (m *Manager) authorize(ctx context.Context, sc contracts.SecurityContext, permission string) error {
	err := m.gate.Authorize(ctx, sc, permission)
	if err == nil {
		return nil
	}
	if errors.Is(err, contracts.ErrUnauthorized) {
		return err
	}
	return fmt.Errorf("%w: %v", contracts.ErrUnauthorized, err)
}

func (m *Manager) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.txTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, m.txTimeout)
}

func (m *Manager) publish(ctx context.Context, event contracts.Event) {
	if err := m.publisher.Publish(ctx, event); err != nil {
		m.logger.Error("event publish failed",
			"eventType", event.GetType(),
			"eventId", event.GetID(),
			"error", err)
	}
}

// extractMetadata pulls the validated metadata map out of the content
// payload, stringifying non-string keys and values. The validator
// accepts any map kind for metadata, so this must too.
func extractMetadata(payload contracts.ContentPayload) contracts.Metadata {
	raw := reflect.ValueOf(payload["metadata"])
	if !raw.IsValid() || raw.Kind() != reflect.Map {
		return nil
	}
	metadata := make(contracts.Metadata, raw.Len())
	iter := raw.MapRange()
	for iter.Next() {
		key := fmt.Sprintf("%v", iter.Key().Interface())
		if s, ok := iter.Value().Interface().(string); ok {
			metadata[key] = s
			continue
		}
		metadata[key] = fmt.Sprintf("%v", iter.Value().Interface())
	}
	return metadata
}
