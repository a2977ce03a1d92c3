package causes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// PostgresStore persists causes and their totals in the causes table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed cause store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const causeColumns = `id, name, description, icon, goal, raised, wallet_url, updated_at`

func (p *PostgresStore) Seed(ctx context.Context, causes []Cause) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i, c := range causes {
		// raised is only written on first insert.
		_, err := tx.ExecContext(ctx, `
			INSERT INTO causes (id, name, description, icon, goal, raised, wallet_url, position, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name,
				description = EXCLUDED.description,
				icon = EXCLUDED.icon,
				goal = EXCLUDED.goal,
				wallet_url = EXCLUDED.wallet_url,
				position = EXCLUDED.position,
				updated_at = NOW()`,
			c.ID, c.Name, c.Description, c.Icon, c.Goal, c.Raised, c.WalletURL, i,
		)
		if err != nil {
			return fmt.Errorf("seed cause %q: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) List(ctx context.Context) ([]*Cause, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+causeColumns+`
		FROM causes
		ORDER BY position ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Cause
	for rows.Next() {
		c, err := scanCause(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Cause, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+causeColumns+` FROM causes WHERE id = $1`, id)
	c, err := scanCause(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

func (p *PostgresStore) AddRaised(ctx context.Context, id string, amount decimal.Decimal) (*Cause, error) {
	row := p.db.QueryRowContext(ctx, `
		UPDATE causes SET raised = raised + $2, updated_at = NOW()
		WHERE id = $1
		RETURNING `+causeColumns, id, amount)
	c, err := scanCause(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCause(s scanner) (*Cause, error) {
	c := &Cause{}
	err := s.Scan(&c.ID, &c.Name, &c.Description, &c.Icon, &c.Goal, &c.Raised, &c.WalletURL, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}
