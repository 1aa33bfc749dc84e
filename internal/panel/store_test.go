package panel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/lotas/ragex/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory Repository that records every save.
type memRepo struct {
	mu      sync.Mutex
	state   types.State
	saves   []types.State
	loadErr error
	saveErr error
}

func (r *memRepo) Load(ctx context.Context) (types.State, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state, r.loadErr
}

func (r *memRepo) Save(ctx context.Context, state types.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saveErr != nil {
		return r.saveErr
	}
	r.state = state
	r.saves = append(r.saves, state)
	return nil
}

func (r *memRepo) saveCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saves)
}

func (r *memRepo) last() types.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// seqIDs returns an id generator yielding s1, s2, ...
func seqIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("s%d", n)
	}
}

func newTestStore(t *testing.T, repo *memRepo) *Store {
	t.Helper()
	s := NewStore(repo, WithIDFunc(seqIDs()))
	require.NoError(t, s.Load(context.Background()))
	return s
}

func TestLoad_FreshInstallCreatesDefaultSession(t *testing.T) {
	repo := &memRepo{}
	s := newTestStore(t, repo)

	state := s.Snapshot()
	require.Len(t, state.Sessions, 1)
	sess := state.Sessions[0]
	assert.Equal(t, state.ActiveID, sess.ID)
	assert.Equal(t, types.DefaultTitle, sess.Title)
	assert.False(t, sess.IsConnected)
	assert.Empty(t, sess.History)
	assert.Equal(t, 1, repo.saveCount(), "default session is persisted")
}

func TestLoad_RestoresPersistedState(t *testing.T) {
	repo := &memRepo{state: types.State{
		ActiveID: "b",
		Sessions: []types.Session{{ID: "a", Title: "one"}, {ID: "b", Title: "two"}},
	}}
	s := newTestStore(t, repo)

	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "b", active.ID)
	assert.Equal(t, 0, repo.saveCount(), "nothing to repair")
}

func TestLoad_RepairsStaleActivePointer(t *testing.T) {
	repo := &memRepo{state: types.State{
		ActiveID: "gone",
		Sessions: []types.Session{{ID: "a"}, {ID: "b"}},
	}}
	s := newTestStore(t, repo)

	active, ok := s.Active()
	require.True(t, ok)
	assert.Equal(t, "a", active.ID)
	assert.Equal(t, types.DefaultTitle, active.Title)
	assert.Equal(t, "a", repo.last().ActiveID)
}

func TestLoad_RepositoryErrorKeepsStoredState(t *testing.T) {
	stored := types.State{
		ActiveID: "b",
		Sessions: []types.Session{{ID: "a", Title: "one"}, {ID: "b", Title: "two"}},
	}
	repo := &memRepo{state: stored, loadErr: errors.New("database is locked")}
	s := NewStore(repo, WithIDFunc(seqIDs()))

	err := s.Load(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database is locked")

	state := s.Snapshot()
	require.Len(t, state.Sessions, 1, "panel still opens on a default session")
	assert.Equal(t, state.Sessions[0].ID, state.ActiveID)

	assert.Equal(t, 0, repo.saveCount(), "a failed read must not overwrite storage")
	assert.Equal(t, stored, repo.last())
}

func TestCreate(t *testing.T) {
	repo := &memRepo{}
	s := newTestStore(t, repo)
	ctx := context.Background()

	id, err := s.Create(ctx)
	require.NoError(t, err)

	state := s.Snapshot()
	require.Len(t, state.Sessions, 2)
	assert.Equal(t, id, state.Sessions[1].ID, "appended at the end")
	assert.Equal(t, id, state.ActiveID)

	persisted := repo.last()
	assert.Equal(t, id, persisted.ActiveID)
	assert.Len(t, persisted.Sessions, 2)
}

func TestCreate_UniqueIDs(t *testing.T) {
	calls := 0
	ids := []string{"x", "x", "y"}
	s := NewStore(&memRepo{}, WithIDFunc(func() string {
		id := ids[calls]
		calls++
		return id
	}))
	require.NoError(t, s.Load(context.Background()))
	id, _ := s.Create(context.Background())
	assert.Equal(t, "y", id)
}

func TestSwitchTo(t *testing.T) {
	repo := &memRepo{}
	s := newTestStore(t, repo)
	ctx := context.Background()
	first := s.Snapshot().ActiveID
	s.Create(ctx)

	require.NoError(t, s.SwitchTo(ctx, first))
	assert.Equal(t, first, s.Snapshot().ActiveID)
	assert.Equal(t, first, repo.last().ActiveID)

	saves := repo.saveCount()
	require.NoError(t, s.SwitchTo(ctx, "unknown"))
	assert.Equal(t, first, s.Snapshot().ActiveID)
	assert.Equal(t, saves, repo.saveCount(), "unknown id is a no-op")
}

func TestClose_SoleSessionIsReset(t *testing.T) {
	repo := &memRepo{}
	s := newTestStore(t, repo)
	ctx := context.Background()
	id := s.Snapshot().ActiveID

	s.Update(ctx, id, func(sess *types.Session) {
		sess.Title = "example.com"
		sess.URL = "https://example.com"
		sess.IsConnected = true
		sess.History = []types.Turn{{Role: types.RoleUser, Content: "hi"}}
		sess.Analysis = types.DefaultAnalysis()
	})

	require.NoError(t, s.Close(ctx, id))
	state := s.Snapshot()
	require.Len(t, state.Sessions, 1)
	sess := state.Sessions[0]
	assert.Equal(t, id, sess.ID)
	assert.Equal(t, id, state.ActiveID)
	assert.Equal(t, types.DefaultTitle, sess.Title)
	assert.Empty(t, sess.URL)
	assert.False(t, sess.IsConnected)
	assert.Empty(t, sess.History)
	assert.Nil(t, sess.Analysis)
	assert.False(t, repo.last().Sessions[0].IsConnected)
}

func TestClose_NonActiveKeepsActive(t *testing.T) {
	s := newTestStore(t, &memRepo{})
	ctx := context.Background()
	s.Create(ctx)
	s.Create(ctx) // s1 s2 s3, s3 active

	require.NoError(t, s.Close(ctx, "s1"))
	state := s.Snapshot()
	assert.Equal(t, "s3", state.ActiveID)
	assert.Len(t, state.Sessions, 2)
}

func TestClose_ActivePrefersPredecessor(t *testing.T) {
	s := newTestStore(t, &memRepo{})
	ctx := context.Background()
	s.Create(ctx)
	s.Create(ctx)
	s.SwitchTo(ctx, "s2")

	require.NoError(t, s.Close(ctx, "s2"))
	assert.Equal(t, "s1", s.Snapshot().ActiveID)
}

func TestClose_ActiveFirstFallsBackToNewFirst(t *testing.T) {
	s := newTestStore(t, &memRepo{})
	ctx := context.Background()
	s.Create(ctx)
	s.Create(ctx)
	s.SwitchTo(ctx, "s1")

	require.NoError(t, s.Close(ctx, "s1"))
	state := s.Snapshot()
	assert.Equal(t, "s2", state.ActiveID)
	assert.Equal(t, "s2", state.Sessions[0].ID)
}

func TestClose_UnknownIsNoop(t *testing.T) {
	repo := &memRepo{}
	s := newTestStore(t, repo)
	s.Create(context.Background())
	saves := repo.saveCount()

	require.NoError(t, s.Close(context.Background(), "nope"))
	assert.Len(t, s.Snapshot().Sessions, 2)
	assert.Equal(t, saves, repo.saveCount())
}

func TestActivePointerAlwaysResolves(t *testing.T) {
	s := newTestStore(t, &memRepo{})
	ctx := context.Background()
	for i := 0; i < 4; i++ {
		s.Create(ctx)
	}
	for _, id := range []string{"s3", "s5", "s1", "s2", "s4", "s4"} {
		s.Close(ctx, id)
		state := s.Snapshot()
		require.NotEmpty(t, state.Sessions)
		_, ok := s.Active()
		require.True(t, ok, "active pointer %q must resolve after closing %s", state.ActiveID, id)
	}
}

func TestSaveErrorKeepsMemoryState(t *testing.T) {
	repo := &memRepo{}
	s := newTestStore(t, repo)
	repo.saveErr = errors.New("disk full")

	id, err := s.Create(context.Background())
	require.Error(t, err)
	assert.Equal(t, id, s.Snapshot().ActiveID)
}

func TestNotices(t *testing.T) {
	s := newTestStore(t, &memRepo{})
	ctx := context.Background()
	id := s.Snapshot().ActiveID

	s.AddNotice(id, types.Turn{Role: types.RoleAssistant, Content: "Error: x"})
	assert.Len(t, s.Notices(id), 1)

	other, _ := s.Create(ctx)
	s.SwitchTo(ctx, id)
	s.SwitchTo(ctx, other)
	assert.Empty(t, s.Notices(id), "switching away drops notices")

	s.AddNotice("unknown", types.Turn{Content: "x"})
	assert.Empty(t, s.Notices("unknown"))
}

func TestOnChange(t *testing.T) {
	s := newTestStore(t, &memRepo{})
	calls := 0
	s.OnChange(func() { calls++ })
	s.Create(context.Background())
	assert.Equal(t, 1, calls)
}

func TestSnapshotIsACopy(t *testing.T) {
	s := newTestStore(t, &memRepo{})
	snap := s.Snapshot()
	snap.Sessions[0].Title = "mutated"
	assert.Equal(t, types.DefaultTitle, s.Snapshot().Sessions[0].Title)
}
