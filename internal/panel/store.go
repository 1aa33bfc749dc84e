// Package panel holds the companion panel's state and the operations the
// UI triggers on it: the session store, connect/send, and the projection
// of state into a view model.
package panel

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lotas/ragex/internal/applog"
	"github.com/lotas/ragex/internal/metrics"
	"github.com/lotas/ragex/internal/types"
)

// Repository persists the full panel state.
type Repository interface {
	Load(ctx context.Context) (types.State, error)
	Save(ctx context.Context, state types.State) error
}

// Store owns the session list and the active pointer. Every mutation is
// followed by a full Save; a failed save is logged and returned but the
// in-memory change stands.
type Store struct {
	mu       sync.Mutex
	repo     Repository
	sessions []*types.Session
	activeID string
	// View-only turns per session; never persisted.
	notices map[string][]types.Turn

	newID    func() string
	now      func() time.Time
	onChange func()
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithIDFunc overrides session id generation.
func WithIDFunc(f func() string) StoreOption {
	return func(s *Store) { s.newID = f }
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

func NewStore(repo Repository, opts ...StoreOption) *Store {
	s := &Store{
		repo:    repo,
		notices: make(map[string][]types.Turn),
		newID:   newSessionID,
		now:     time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// newSessionID returns a time-ordered UUIDv7.
func newSessionID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// OnChange registers a callback run after every state change, outside the lock.
func (s *Store) OnChange(f func()) {
	s.mu.Lock()
	s.onChange = f
	s.mu.Unlock()
}

// Load reads persisted state. It guarantees at least one session and an
// active pointer that resolves, persisting any repair it makes. When the
// repository cannot be read the panel opens on an unsaved default session
// and the error is returned; stored data is left untouched until the user
// changes something.
func (s *Store) Load(ctx context.Context) error {
	state, loadErr := s.repo.Load(ctx)
	if loadErr != nil {
		applog.Error("store.load", loadErr)
		state = types.State{}
	}

	s.mu.Lock()
	s.sessions = s.sessions[:0]
	seen := make(map[string]bool, len(state.Sessions))
	for i := range state.Sessions {
		sess := state.Sessions[i]
		if sess.ID == "" || seen[sess.ID] {
			continue
		}
		seen[sess.ID] = true
		if sess.Title == "" {
			sess.Title = types.DefaultTitle
		}
		s.sessions = append(s.sessions, &sess)
	}
	s.activeID = state.ActiveID

	repaired := false
	if len(s.sessions) == 0 {
		s.sessions = append(s.sessions, s.newSessionLocked())
		repaired = true
	}
	if s.indexLocked(s.activeID) < 0 {
		s.activeID = s.sessions[0].ID
		repaired = true
	}
	applog.Info("store.loaded", "sessions", len(s.sessions), "active", s.activeID)

	var err error
	switch {
	case loadErr != nil:
		err = fmt.Errorf("load sessions: %w", loadErr)
	case repaired:
		err = s.saveLocked(ctx)
	}
	s.mu.Unlock()
	s.changed()
	return err
}

// Create appends a fresh session and makes it active.
func (s *Store) Create(ctx context.Context) (string, error) {
	s.mu.Lock()
	sess := s.newSessionLocked()
	s.sessions = append(s.sessions, sess)
	s.activeID = sess.ID
	applog.Info("session.created", "id", sess.ID)
	err := s.saveLocked(ctx)
	s.mu.Unlock()
	s.changed()
	return sess.ID, err
}

// SwitchTo makes id active. Unknown ids are ignored.
func (s *Store) SwitchTo(ctx context.Context, id string) error {
	s.mu.Lock()
	if s.indexLocked(id) < 0 {
		s.mu.Unlock()
		return nil
	}
	if s.activeID != id {
		delete(s.notices, s.activeID)
	}
	s.activeID = id
	err := s.saveLocked(ctx)
	s.mu.Unlock()
	s.changed()
	return err
}

// Close removes id. The last remaining session is reset in place instead.
// Closing the active session activates its predecessor, or the new first
// session when it was first. Unknown ids are ignored.
func (s *Store) Close(ctx context.Context, id string) error {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return nil
	}
	delete(s.notices, id)

	if len(s.sessions) == 1 {
		s.sessions[0].Reset()
		applog.Info("session.reset", "id", id)
	} else {
		s.sessions = slices.Delete(s.sessions, idx, idx+1)
		if id == s.activeID {
			s.activeID = s.sessions[max(0, idx-1)].ID
		}
		applog.Info("session.closed", "id", id, "active", s.activeID)
	}
	err := s.saveLocked(ctx)
	s.mu.Unlock()
	s.changed()
	return err
}

// Active returns a copy of the active session.
func (s *Store) Active() (types.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(s.activeID); i >= 0 {
		return s.sessions[i].Clone(), true
	}
	return types.Session{}, false
}

// Session returns a copy of the session with the given id.
func (s *Store) Session(id string) (types.Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i := s.indexLocked(id); i >= 0 {
		return s.sessions[i].Clone(), true
	}
	return types.Session{}, false
}

// Update applies fn to session id and persists. It reports false, without
// saving, when the session no longer exists.
func (s *Store) Update(ctx context.Context, id string, fn func(*types.Session)) (bool, error) {
	s.mu.Lock()
	i := s.indexLocked(id)
	if i < 0 {
		s.mu.Unlock()
		return false, nil
	}
	fn(s.sessions[i])
	err := s.saveLocked(ctx)
	s.mu.Unlock()
	s.changed()
	return true, err
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() types.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// AddNotice attaches a view-only turn to session id.
func (s *Store) AddNotice(id string, t types.Turn) {
	s.mu.Lock()
	if s.indexLocked(id) >= 0 {
		s.notices[id] = append(s.notices[id], t)
	}
	s.mu.Unlock()
	s.changed()
}

// ClearNotices drops the view-only turns of session id.
func (s *Store) ClearNotices(id string) {
	s.mu.Lock()
	delete(s.notices, id)
	s.mu.Unlock()
}

// Notices returns the view-only turns of session id.
func (s *Store) Notices(id string) []types.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.notices[id])
}

func (s *Store) newSessionLocked() *types.Session {
	id := s.newID()
	for s.indexLocked(id) >= 0 {
		id = s.newID()
	}
	return &types.Session{ID: id, Title: types.DefaultTitle, CreatedAt: s.now()}
}

func (s *Store) indexLocked(id string) int {
	if id == "" {
		return -1
	}
	return slices.IndexFunc(s.sessions, func(sess *types.Session) bool { return sess.ID == id })
}

func (s *Store) snapshotLocked() types.State {
	state := types.State{ActiveID: s.activeID, Sessions: make([]types.Session, len(s.sessions))}
	for i, sess := range s.sessions {
		state.Sessions[i] = sess.Clone()
	}
	return state
}

func (s *Store) saveLocked(ctx context.Context) error {
	metrics.Sessions.Set(float64(len(s.sessions)))
	if err := s.repo.Save(ctx, s.snapshotLocked()); err != nil {
		applog.Error("store.save", err, "sessions", len(s.sessions))
		return fmt.Errorf("save sessions: %w", err)
	}
	return nil
}

func (s *Store) changed() {
	s.mu.Lock()
	f := s.onChange
	s.mu.Unlock()
	if f != nil {
		f()
	}
}
