package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lotas/ragex/internal/types"
)

// Keys holding the panel state.
const (
	KeySessions = "ragex_sessions"
	KeyActiveID = "ragex_active_id"
)

// SessionRepo persists the panel state in the kv table.
type SessionRepo struct {
	db *sql.DB
}

func NewSessionRepo(db *sql.DB) *SessionRepo {
	return &SessionRepo{db: db}
}

// Load reads the session list and active id. A fresh database yields an
// empty State.
func (r *SessionRepo) Load(ctx context.Context) (types.State, error) {
	var state types.State

	raw, err := r.get(ctx, KeySessions)
	if err != nil {
		return state, err
	}
	if raw != nil {
		data, err := decodeBlob(raw)
		if err != nil {
			return state, fmt.Errorf("decode %s: %w", KeySessions, err)
		}
		if err := json.Unmarshal(data, &state.Sessions); err != nil {
			return state, fmt.Errorf("parse %s: %w", KeySessions, err)
		}
	}

	active, err := r.get(ctx, KeyActiveID)
	if err != nil {
		return state, err
	}
	state.ActiveID = string(active)
	return state, nil
}

// Save writes the whole session list and active id in one transaction.
func (r *SessionRepo) Save(ctx context.Context, state types.State) error {
	sessions := state.Sessions
	if sessions == nil {
		sessions = []types.Session{}
	}
	data, err := json.Marshal(sessions)
	if err != nil {
		return fmt.Errorf("marshal sessions: %w", err)
	}
	blob, err := encodeBlob(data)
	if err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := put(ctx, tx, KeySessions, blob); err != nil {
		return err
	}
	if err := put(ctx, tx, KeyActiveID, state.ActiveID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SessionRepo) get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := r.db.QueryRowContext(ctx, "SELECT value FROM kv WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return v, nil
}

func put(ctx context.Context, tx *sql.Tx, key string, value any) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}
