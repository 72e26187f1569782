package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/draftline/draftline-go/contracts"
)

// MemoryStore is an in-memory Store implementation. It is the default
// backing for tests and single-process use; the sqlite subpackage
// provides the durable one.
type MemoryStore struct {
	mu        sync.RWMutex
	versions  map[string]*contracts.Version   // by version ID
	byContent map[string][]*contracts.Version // ascending by number
	states    map[string][]*contracts.State   // by version ID, ascending by sequence

	locks *keyLocks
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		versions:  make(map[string]*contracts.Version),
		byContent: make(map[string][]*contracts.Version),
		states:    make(map[string][]*contracts.State),
		locks:     newKeyLocks(),
	}
}

// Begin starts a transaction.
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memoryTx{store: s, held: make(map[string]func())}, nil
}

// GetVersion returns a committed version by ID.
func (s *MemoryStore) GetVersion(ctx context.Context, versionID string) (*contracts.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.versions[versionID]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	return v.Clone(), nil
}

// ListVersions returns committed versions for a content ID, descending
// by version number.
func (s *MemoryStore) ListVersions(ctx context.Context, contentID string) ([]*contracts.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.byContent[contentID]
	out := make([]*contracts.Version, 0, len(stored))
	for i := len(stored) - 1; i >= 0; i-- {
		out = append(out, stored[i].Clone())
	}
	return out, nil
}

// CurrentState returns the highest-sequence committed state for a
// version.
func (s *MemoryStore) CurrentState(ctx context.Context, versionID string) (*contracts.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.states[versionID]
	if len(stored) == 0 {
		return nil, contracts.ErrNotFound
	}
	return stored[len(stored)-1].Clone(), nil
}

// ListStates returns committed states for a version, ascending by
// sequence.
func (s *MemoryStore) ListStates(ctx context.Context, versionID string) ([]*contracts.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.states[versionID]
	out := make([]*contracts.State, 0, len(stored))
	for _, st := range stored {
		out = append(out, st.Clone())
	}
	return out, nil
}

// memoryTx stages writes and applies them atomically at Commit.
type memoryTx struct {
	store *MemoryStore
	mu    sync.Mutex
	held  map[string]func() // lock key -> release

	stagedVersions []*contracts.Version
	stagedStates   []*contracts.State
	done           bool
}

func (tx *memoryTx) lock(ctx context.Context, key string) error {
	tx.mu.Lock()
	if tx.done {
		tx.mu.Unlock()
		return fmt.Errorf("transaction already finished")
	}
	if _, ok := tx.held[key]; ok {
		tx.mu.Unlock()
		return nil
	}
	tx.mu.Unlock()

	release, err := tx.store.locks.acquire(ctx, key)
	if err != nil {
		return err
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		release()
		return fmt.Errorf("transaction already finished")
	}
	tx.held[key] = release
	return nil
}

// LockContent acquires the numbering lock for a content ID.
func (tx *memoryTx) LockContent(ctx context.Context, contentID string) error {
	return tx.lock(ctx, "content:"+contentID)
}

// LockVersion acquires the transition lock for a version ID.
func (tx *memoryTx) LockVersion(ctx context.Context, versionID string) error {
	return tx.lock(ctx, "version:"+versionID)
}

// MaxVersionNumber returns the highest version number visible to this
// transaction for a content ID.
func (tx *memoryTx) MaxVersionNumber(ctx context.Context, contentID string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	tx.store.mu.RLock()
	max := 0
	if stored := tx.store.byContent[contentID]; len(stored) > 0 {
		max = stored[len(stored)-1].VersionNumber
	}
	tx.store.mu.RUnlock()

	tx.mu.Lock()
	defer tx.mu.Unlock()
	for _, v := range tx.stagedVersions {
		if v.ContentID == contentID && v.VersionNumber > max {
			max = v.VersionNumber
		}
	}
	return max, nil
}

// InsertVersion stages a version insert.
func (tx *memoryTx) InsertVersion(ctx context.Context, version *contracts.Version) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if version == nil {
		return fmt.Errorf("version is required")
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.stagedVersions = append(tx.stagedVersions, version.Clone())
	return nil
}

// GetVersion reads a version visible to this transaction.
func (tx *memoryTx) GetVersion(ctx context.Context, versionID string) (*contracts.Version, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx.mu.Lock()
	for _, v := range tx.stagedVersions {
		if v.ID == versionID {
			cp := v.Clone()
			tx.mu.Unlock()
			return cp, nil
		}
	}
	tx.mu.Unlock()
	return tx.store.GetVersion(ctx, versionID)
}

// CurrentState reads the highest-sequence state visible to this
// transaction.
func (tx *memoryTx) CurrentState(ctx context.Context, versionID string) (*contracts.State, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var current *contracts.State
	if committed, err := tx.store.CurrentState(ctx, versionID); err == nil {
		current = committed
	}

	tx.mu.Lock()
	defer tx.mu.Unlock()
	for _, st := range tx.stagedStates {
		if st.VersionID == versionID && (current == nil || st.Sequence > current.Sequence) {
			current = st.Clone()
		}
	}
	if current == nil {
		return nil, contracts.ErrNotFound
	}
	return current, nil
}

// InsertState stages a state append.
func (tx *memoryTx) InsertState(ctx context.Context, state *contracts.State) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if state == nil {
		return fmt.Errorf("state is required")
	}
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.stagedStates = append(tx.stagedStates, state.Clone())
	return nil
}

// Commit applies staged writes atomically, enforcing the uniqueness
// constraints. On constraint violation nothing is applied and the
// matching conflict error is returned.
func (tx *memoryTx) Commit() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return fmt.Errorf("transaction already finished")
	}
	tx.done = true
	defer tx.releaseLocked()

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()

	// Constraint checks before any write becomes visible.
	seenNumbers := make(map[string]bool)
	for _, v := range tx.stagedVersions {
		key := fmt.Sprintf("%s#%d", v.ContentID, v.VersionNumber)
		if seenNumbers[key] {
			return contracts.ErrVersionConflict
		}
		seenNumbers[key] = true
		if _, exists := s.versions[v.ID]; exists {
			return contracts.ErrVersionConflict
		}
		for _, existing := range s.byContent[v.ContentID] {
			if existing.VersionNumber == v.VersionNumber {
				return contracts.ErrVersionConflict
			}
		}
	}
	seenSequences := make(map[string]bool)
	for _, st := range tx.stagedStates {
		if !tx.versionVisibleLocked(st.VersionID) {
			return contracts.NewPersistenceError("insert state",
				fmt.Errorf("version %s does not exist", st.VersionID))
		}
		key := fmt.Sprintf("%s#%d", st.VersionID, st.Sequence)
		if seenSequences[key] {
			return contracts.ErrStateConflict
		}
		seenSequences[key] = true
		for _, existing := range s.states[st.VersionID] {
			if existing.Sequence == st.Sequence {
				return contracts.ErrStateConflict
			}
		}
	}

	for _, v := range tx.stagedVersions {
		s.versions[v.ID] = v
		s.byContent[v.ContentID] = append(s.byContent[v.ContentID], v)
		sort.Slice(s.byContent[v.ContentID], func(i, j int) bool {
			return s.byContent[v.ContentID][i].VersionNumber < s.byContent[v.ContentID][j].VersionNumber
		})
	}
	for _, st := range tx.stagedStates {
		s.states[st.VersionID] = append(s.states[st.VersionID], st)
		sort.Slice(s.states[st.VersionID], func(i, j int) bool {
			return s.states[st.VersionID][i].Sequence < s.states[st.VersionID][j].Sequence
		})
	}
	return nil
}

// versionVisibleLocked reports whether a version is committed or staged
// in this transaction. Caller holds both tx.mu and store.mu.
func (tx *memoryTx) versionVisibleLocked(versionID string) bool {
	if _, ok := tx.store.versions[versionID]; ok {
		return true
	}
	for _, v := range tx.stagedVersions {
		if v.ID == versionID {
			return true
		}
	}
	return false
}

// Rollback discards staged writes and releases held locks. Safe to call
// after Commit.
func (tx *memoryTx) Rollback() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return nil
	}
	tx.done = true
	tx.stagedVersions = nil
	tx.stagedStates = nil
	tx.releaseLocked()
	return nil
}

// releaseLocked releases all held key locks. Caller holds tx.mu.
func (tx *memoryTx) releaseLocked() {
	for key, release := range tx.held {
		release()
		delete(tx.held, key)
	}
}

// keyLocks is a set of context-aware exclusive locks keyed by string.
// Entries are reference counted and removed once unused.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	ch   chan struct{}
	refs int
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*keyLock)}
}

func (kl *keyLocks) acquire(ctx context.Context, key string) (func(), error) {
	kl.mu.Lock()
	l, ok := kl.locks[key]
	if !ok {
		l = &keyLock{ch: make(chan struct{}, 1)}
		kl.locks[key] = l
	}
	l.refs++
	kl.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		kl.unref(key, l)
		return nil, ctx.Err()
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			<-l.ch
			kl.unref(key, l)
		})
	}
	return release, nil
}

func (kl *keyLocks) unref(key string, l *keyLock) {
	kl.mu.Lock()
	l.refs--
	if l.refs == 0 {
		delete(kl.locks, key)
	}
	kl.mu.Unlock()
}
