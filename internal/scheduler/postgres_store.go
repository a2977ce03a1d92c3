package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists scheduled tasks in the scheduled_tasks table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed task store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const taskColumns = `id, recipient, amount, description, trigger_at,
		       state, grant_generated, authorization_url, grant_generated_at,
		       outgoing_payment, error_detail, completed_at, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *Task) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (
			id, recipient, amount, description, trigger_at,
			state, grant_generated, authorization_url, grant_generated_at,
			outgoing_payment, error_detail, completed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12, $13, $14
		)`,
		t.ID, t.Recipient, t.Amount, t.Description, t.TriggerAt,
		string(t.State), t.GrantGenerated, nullString(t.AuthorizationURL), nullTime(t.GrantGeneratedAt),
		nullString(t.OutgoingPaymentID), nullString(t.ErrorDetail), nullTime(t.CompletedAt),
		t.CreatedAt, t.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrTaskExists
	}
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Task, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM scheduled_tasks WHERE id = $1`, id)

	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTaskNotFound
	}
	return t, err
}

func (p *PostgresStore) Update(ctx context.Context, t *Task) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET
			state = $1, grant_generated = $2, authorization_url = $3,
			grant_generated_at = $4, outgoing_payment = $5, error_detail = $6,
			completed_at = $7, updated_at = $8
		WHERE id = $9`,
		string(t.State), t.GrantGenerated, nullString(t.AuthorizationURL),
		nullTime(t.GrantGeneratedAt), nullString(t.OutgoingPaymentID), nullString(t.ErrorDetail),
		nullTime(t.CompletedAt), t.UpdatedAt,
		t.ID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrTaskNotFound
	}
	return nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*Task, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTasks(rows)
}

func (p *PostgresStore) ListByState(ctx context.Context, state State) ([]*Task, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+taskColumns+`
		FROM scheduled_tasks
		WHERE state = $1
		ORDER BY created_at ASC, id ASC`, string(state))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTasks(rows)
}

// scanner is satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(s scanner) (*Task, error) {
	t := &Task{}
	var (
		state            string
		authorizationURL sql.NullString
		grantGeneratedAt sql.NullTime
		outgoingPayment  sql.NullString
		errorDetail      sql.NullString
		completedAt      sql.NullTime
	)
	err := s.Scan(
		&t.ID, &t.Recipient, &t.Amount, &t.Description, &t.TriggerAt,
		&state, &t.GrantGenerated, &authorizationURL, &grantGeneratedAt,
		&outgoingPayment, &errorDetail, &completedAt, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.State = State(state)
	t.AuthorizationURL = authorizationURL.String
	t.OutgoingPaymentID = outgoingPayment.String
	t.ErrorDetail = errorDetail.String
	if grantGeneratedAt.Valid {
		t.GrantGeneratedAt = &grantGeneratedAt.Time
	}
	if completedAt.Valid {
		t.CompletedAt = &completedAt.Time
	}
	return t, nil
}

func scanTasks(rows *sql.Rows) ([]*Task, error) {
	var result []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}
