package payments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
)

// PostgresSessionStore persists sessions in the grant_sessions table. The
// session itself is stored as JSONB so the schema does not follow every
// field of the Open Payments documents.
type PostgresSessionStore struct {
	db *sql.DB
}

// NewPostgresSessionStore creates a PostgreSQL-backed session store.
func NewPostgresSessionStore(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

func (p *PostgresSessionStore) Put(ctx context.Context, s *Session) (bool, error) {
	payload, err := json.Marshal(s)
	if err != nil {
		return false, fmt.Errorf("marshal session: %w", err)
	}
	// xmax is non-zero when the row came from the ON CONFLICT branch.
	var replaced bool
	err = p.db.QueryRowContext(ctx, `
		INSERT INTO grant_sessions (session_key, kind, payload, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (session_key) DO UPDATE SET
			kind = EXCLUDED.kind,
			payload = EXCLUDED.payload,
			created_at = EXCLUDED.created_at,
			updated_at = NOW()
		RETURNING (xmax <> 0)`,
		s.Key, string(s.Intent.Kind), payload, s.CreatedAt,
	).Scan(&replaced)
	return replaced, err
}

func (p *PostgresSessionStore) Get(ctx context.Context, key string) (*Session, error) {
	var payload []byte
	err := p.db.QueryRowContext(ctx,
		`SELECT payload FROM grant_sessions WHERE session_key = $1`, key,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return decodeSession(payload)
}

func (p *PostgresSessionStore) Delete(ctx context.Context, key string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM grant_sessions WHERE session_key = $1`, key)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (p *PostgresSessionStore) List(ctx context.Context) ([]*Session, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT payload FROM grant_sessions ORDER BY created_at ASC, session_key ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Session
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		s, err := decodeSession(payload)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	return result, rows.Err()
}

func decodeSession(payload []byte) (*Session, error) {
	var s Session
	if err := json.Unmarshal(payload, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
