package workflow

import (
	"context"
	"testing"

	"github.com/draftline/draftline-go/contracts"
	"github.com/draftline/draftline-go/schema"
	"github.com/draftline/draftline-go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStateFixture(t *testing.T, rules []Rule) (*storage.MemoryStore, *StateManager, *contracts.Version) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	table, err := NewTable("draft", rules)
	require.NoError(t, err)
	sm := NewStateManager(store, table, nil, nil)

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	version := contracts.NewVersion("article-1", 1, contracts.ContentPayload{}, nil)
	require.NoError(t, tx.InsertVersion(ctx, version))
	_, err = sm.Initialize(ctx, tx, version)
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	return store, sm, version
}

func TestStateManagerInitialize(t *testing.T) {
	ctx := context.Background()

	t.Run("initial state round-trips through current state", func(t *testing.T) {
		_, sm, version := newStateFixture(t, editorialRules())

		cur, err := sm.CurrentState(ctx, version.ID)
		require.NoError(t, err)
		assert.Equal(t, "draft", cur.Name)
		assert.Equal(t, 1, cur.Sequence)
		assert.Empty(t, cur.Data)
		assert.Equal(t, version.ID, cur.VersionID)
	})

	t.Run("requires a version", func(t *testing.T) {
		store := storage.NewMemoryStore()
		table, err := NewTable("draft", editorialRules())
		require.NoError(t, err)
		sm := NewStateManager(store, table, nil, nil)

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback()

		_, err = sm.Initialize(ctx, tx, nil)
		assert.Error(t, err)
	})
}

func TestStateManagerTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("permitted action appends next state", func(t *testing.T) {
		store, sm, version := newStateFixture(t, editorialRules())

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		result, err := sm.Transition(ctx, tx, version, "submit", nil)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.Equal(t, "review", result.State.Name)
		assert.Equal(t, "draft", result.From)
		assert.Equal(t, 2, result.State.Sequence)

		cur, err := sm.CurrentState(ctx, version.ID)
		require.NoError(t, err)
		assert.Equal(t, "review", cur.Name)
	})

	t.Run("unpermitted action fails and writes nothing", func(t *testing.T) {
		store, sm, version := newStateFixture(t, []Rule{
			{SourceState: "draft", Action: "submit", TargetState: "review"},
		})

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = sm.Transition(ctx, tx, version, "publish", nil)
		assert.ErrorIs(t, err, contracts.ErrInvalidTransition)
		require.NoError(t, tx.Rollback())

		history, err := sm.History(ctx, version.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1) // only the initial state
	})

	t.Run("payload failing rule schema writes nothing", func(t *testing.T) {
		rules := editorialRules()
		rules[0].Payload = &schema.Definition{
			Required: []string{"comment"},
			Fields:   map[string]*schema.FieldDef{"comment": {Type: schema.TypeString}},
		}
		store, sm, version := newStateFixture(t, rules)

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = sm.Transition(ctx, tx, version, "submit", contracts.TransitionPayload{})
		require.Error(t, err)
		var ve *schema.ValidationError
		assert.ErrorAs(t, err, &ve)
		assert.Equal(t, "comment", ve.Field)
		require.NoError(t, tx.Rollback())

		history, err := sm.History(ctx, version.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("transition payload is recorded on the state", func(t *testing.T) {
		store, sm, version := newStateFixture(t, editorialRules())

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		payload := contracts.TransitionPayload{"comment": "ready"}
		result, err := sm.Transition(ctx, tx, version, "submit", payload)
		require.NoError(t, err)
		require.NoError(t, tx.Commit())

		assert.Equal(t, "ready", result.State.Data["comment"])
	})

	t.Run("cycle returns to an earlier state as a new row", func(t *testing.T) {
		store, sm, version := newStateFixture(t, editorialRules())

		apply := func(action string) {
			tx, err := store.Begin(ctx)
			require.NoError(t, err)
			_, err = sm.Transition(ctx, tx, version, action, nil)
			require.NoError(t, err)
			require.NoError(t, tx.Commit())
		}
		apply("submit")
		apply("reject")

		cur, err := sm.CurrentState(ctx, version.ID)
		require.NoError(t, err)
		assert.Equal(t, "draft", cur.Name)
		assert.Equal(t, 3, cur.Sequence)

		history, err := sm.History(ctx, version.ID)
		require.NoError(t, err)
		require.Len(t, history, 3)
		assert.Equal(t, []string{"draft", "review", "draft"}, stateNames(history))
	})

	t.Run("terminal state rejects every action", func(t *testing.T) {
		store, sm, version := newStateFixture(t, editorialRules())

		for _, action := range []string{"submit", "approve"} {
			tx, err := store.Begin(ctx)
			require.NoError(t, err)
			if _, err := sm.Transition(ctx, tx, version, action, nil); err != nil {
				require.NoError(t, tx.Rollback())
				continue
			}
			require.NoError(t, tx.Commit())
		}

		cur, err := sm.CurrentState(ctx, version.ID)
		require.NoError(t, err)
		require.Equal(t, "published", cur.Name)

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		defer tx.Rollback()
		_, err = sm.Transition(ctx, tx, version, "submit", nil)
		assert.ErrorIs(t, err, contracts.ErrInvalidTransition)
	})
}

func stateNames(states []*contracts.State) []string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.Name
	}
	return names
}
