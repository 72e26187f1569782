package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/draftline/draftline-go/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func insertVersion(t *testing.T, s *MemoryStore, contentID string, number int) *contracts.Version {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	v := contracts.NewVersion(contentID, number, contracts.ContentPayload{"identifier": contentID}, nil)
	require.NoError(t, tx.InsertVersion(ctx, v))
	require.NoError(t, tx.Commit())
	return v
}

func TestMemoryStoreVersions(t *testing.T) {
	ctx := context.Background()

	t.Run("insert and read back", func(t *testing.T) {
		s := NewMemoryStore()
		v := insertVersion(t, s, "article-1", 1)

		got, err := s.GetVersion(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, v.ID, got.ID)
		assert.Equal(t, 1, got.VersionNumber)
	})

	t.Run("unknown version is not found", func(t *testing.T) {
		s := NewMemoryStore()
		_, err := s.GetVersion(ctx, "missing")
		assert.ErrorIs(t, err, contracts.ErrNotFound)
	})

	t.Run("list is descending by number", func(t *testing.T) {
		s := NewMemoryStore()
		insertVersion(t, s, "article-1", 1)
		insertVersion(t, s, "article-1", 2)
		insertVersion(t, s, "article-1", 3)

		got, err := s.ListVersions(ctx, "article-1")
		require.NoError(t, err)
		require.Len(t, got, 3)
		assert.Equal(t, 3, got[0].VersionNumber)
		assert.Equal(t, 1, got[2].VersionNumber)
	})

	t.Run("duplicate number conflicts at commit", func(t *testing.T) {
		s := NewMemoryStore()
		insertVersion(t, s, "article-1", 1)

		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		dup := contracts.NewVersion("article-1", 1, contracts.ContentPayload{}, nil)
		require.NoError(t, tx.InsertVersion(ctx, dup))

		assert.ErrorIs(t, tx.Commit(), contracts.ErrVersionConflict)

		got, err := s.ListVersions(ctx, "article-1")
		require.NoError(t, err)
		assert.Len(t, got, 1)
	})

	t.Run("handed out records are copies", func(t *testing.T) {
		s := NewMemoryStore()
		v := insertVersion(t, s, "article-1", 1)

		got, err := s.GetVersion(ctx, v.ID)
		require.NoError(t, err)
		got.Payload["identifier"] = "tampered"

		again, err := s.GetVersion(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, "article-1", again.Payload["identifier"])
	})
}

func TestMemoryStoreStates(t *testing.T) {
	ctx := context.Background()

	t.Run("append and current state", func(t *testing.T) {
		s := NewMemoryStore()
		v := insertVersion(t, s, "article-1", 1)

		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertState(ctx, contracts.NewState(v.ID, "draft", 1, nil)))
		require.NoError(t, tx.Commit())

		tx, err = s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertState(ctx, contracts.NewState(v.ID, "review", 2, nil)))
		require.NoError(t, tx.Commit())

		cur, err := s.CurrentState(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, "review", cur.Name)
		assert.Equal(t, 2, cur.Sequence)

		all, err := s.ListStates(ctx, v.ID)
		require.NoError(t, err)
		require.Len(t, all, 2)
		assert.Equal(t, "draft", all[0].Name)
	})

	t.Run("no states is not found", func(t *testing.T) {
		s := NewMemoryStore()
		v := insertVersion(t, s, "article-1", 1)
		_, err := s.CurrentState(ctx, v.ID)
		assert.ErrorIs(t, err, contracts.ErrNotFound)
	})

	t.Run("duplicate sequence conflicts at commit", func(t *testing.T) {
		s := NewMemoryStore()
		v := insertVersion(t, s, "article-1", 1)

		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertState(ctx, contracts.NewState(v.ID, "draft", 1, nil)))
		require.NoError(t, tx.Commit())

		tx, err = s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertState(ctx, contracts.NewState(v.ID, "review", 1, nil)))
		assert.ErrorIs(t, tx.Commit(), contracts.ErrStateConflict)

		all, err := s.ListStates(ctx, v.ID)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("state for unknown version fails commit", func(t *testing.T) {
		s := NewMemoryStore()
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertState(ctx, contracts.NewState("ghost", "draft", 1, nil)))

		err = tx.Commit()
		require.Error(t, err)
		var pe *contracts.PersistenceError
		assert.True(t, errors.As(err, &pe))
	})
}

func TestMemoryTxSnapshots(t *testing.T) {
	ctx := context.Background()

	t.Run("staged writes visible inside tx only", func(t *testing.T) {
		s := NewMemoryStore()
		tx, err := s.Begin(ctx)
		require.NoError(t, err)

		v := contracts.NewVersion("article-1", 1, contracts.ContentPayload{}, nil)
		require.NoError(t, tx.InsertVersion(ctx, v))
		require.NoError(t, tx.InsertState(ctx, contracts.NewState(v.ID, "draft", 1, nil)))

		got, err := tx.GetVersion(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, v.ID, got.ID)

		cur, err := tx.CurrentState(ctx, v.ID)
		require.NoError(t, err)
		assert.Equal(t, "draft", cur.Name)

		// Not visible outside before commit.
		_, err = s.GetVersion(ctx, v.ID)
		assert.ErrorIs(t, err, contracts.ErrNotFound)

		require.NoError(t, tx.Commit())
		_, err = s.GetVersion(ctx, v.ID)
		assert.NoError(t, err)
	})

	t.Run("max version number sees staged inserts", func(t *testing.T) {
		s := NewMemoryStore()
		insertVersion(t, s, "article-1", 1)

		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertVersion(ctx, contracts.NewVersion("article-1", 2, contracts.ContentPayload{}, nil)))

		max, err := tx.MaxVersionNumber(ctx, "article-1")
		require.NoError(t, err)
		assert.Equal(t, 2, max)
		require.NoError(t, tx.Rollback())
	})

	t.Run("rollback discards staged writes", func(t *testing.T) {
		s := NewMemoryStore()
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		v := contracts.NewVersion("article-1", 1, contracts.ContentPayload{}, nil)
		require.NoError(t, tx.InsertVersion(ctx, v))
		require.NoError(t, tx.Rollback())

		_, err = s.GetVersion(ctx, v.ID)
		assert.ErrorIs(t, err, contracts.ErrNotFound)
	})

	t.Run("rollback after commit is a no-op", func(t *testing.T) {
		s := NewMemoryStore()
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.InsertVersion(ctx, contracts.NewVersion("article-1", 1, contracts.ContentPayload{}, nil)))
		require.NoError(t, tx.Commit())
		assert.NoError(t, tx.Rollback())
	})
}

func TestMemoryStoreLocking(t *testing.T) {
	ctx := context.Background()

	t.Run("content lock serializes writers", func(t *testing.T) {
		s := NewMemoryStore()

		tx1, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx1.LockContent(ctx, "article-1"))

		blocked := make(chan struct{})
		go func() {
			tx2, err := s.Begin(ctx)
			if err != nil {
				return
			}
			if err := tx2.LockContent(ctx, "article-1"); err != nil {
				return
			}
			close(blocked)
			_ = tx2.Rollback()
		}()

		select {
		case <-blocked:
			t.Fatal("second writer acquired held lock")
		case <-time.After(50 * time.Millisecond):
		}

		require.NoError(t, tx1.Rollback())

		select {
		case <-blocked:
		case <-time.After(time.Second):
			t.Fatal("lock was not released on rollback")
		}
	})

	t.Run("lock acquisition honors context cancellation", func(t *testing.T) {
		s := NewMemoryStore()
		tx1, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx1.LockVersion(ctx, "v1"))
		defer tx1.Rollback()

		cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
		defer cancel()

		tx2, err := s.Begin(ctx)
		require.NoError(t, err)
		defer tx2.Rollback()

		err = tx2.LockVersion(cancelCtx, "v1")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("relocking the same key in one tx is a no-op", func(t *testing.T) {
		s := NewMemoryStore()
		tx, err := s.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.LockContent(ctx, "article-1"))
		require.NoError(t, tx.LockContent(ctx, "article-1"))
		require.NoError(t, tx.Rollback())
	})
}

func TestMemoryStoreConcurrentNumbering(t *testing.T) {
	// Locked read-max-then-insert across many goroutines must yield a
	// gapless numbering.
	ctx := context.Background()
	s := NewMemoryStore()
	const writers = 20

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tx, err := s.Begin(ctx)
			if err != nil {
				return
			}
			defer tx.Rollback()
			if err := tx.LockContent(ctx, "article-1"); err != nil {
				return
			}
			max, err := tx.MaxVersionNumber(ctx, "article-1")
			if err != nil {
				return
			}
			v := contracts.NewVersion("article-1", max+1, contracts.ContentPayload{}, nil)
			if err := tx.InsertVersion(ctx, v); err != nil {
				return
			}
			_ = tx.Commit()
		}()
	}
	wg.Wait()

	got, err := s.ListVersions(ctx, "article-1")
	require.NoError(t, err)
	require.Len(t, got, writers)
	for i, v := range got {
		assert.Equal(t, writers-i, v.VersionNumber)
	}
}
