package receipts

import (
	"context"
	"database/sql"
	"errors"

	"github.com/mbd888/interpay/internal/payments"
)

// PostgresStore persists receipts in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed receipt store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const receiptColumns = `id, outgoing_payment_id, session_key, kind, from_wallet, to_wallet,
	amount, asset_code, concept, cause_id, status, payload_hash, signature,
	issued_at, expires_at, created_at`

func (p *PostgresStore) Create(ctx context.Context, r *Receipt) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO receipts (`+receiptColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		r.ID, r.OutgoingPaymentID, r.SessionKey, string(r.Kind), r.From, r.To,
		r.Amount, nullString(r.AssetCode), nullString(r.Concept), nullString(r.CauseID),
		r.Status, r.PayloadHash, r.Signature,
		r.IssuedAt, r.ExpiresAt, r.CreatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Receipt, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+receiptColumns+` FROM receipts WHERE id = $1`, id)
	r, err := scanReceipt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrReceiptNotFound
	}
	return r, err
}

func (p *PostgresStore) List(ctx context.Context, wallet string) ([]*Receipt, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+receiptColumns+`
		FROM receipts
		WHERE $1 = '' OR from_wallet = $1 OR to_wallet = $1
		ORDER BY created_at DESC, id DESC`, wallet)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := []*Receipt{}
	for rows.Next() {
		r, err := scanReceipt(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanReceipt(sc scanner) (*Receipt, error) {
	r := &Receipt{}
	var (
		kind                        string
		assetCode, concept, causeID sql.NullString
	)
	err := sc.Scan(
		&r.ID, &r.OutgoingPaymentID, &r.SessionKey, &kind, &r.From, &r.To,
		&r.Amount, &assetCode, &concept, &causeID, &r.Status, &r.PayloadHash, &r.Signature,
		&r.IssuedAt, &r.ExpiresAt, &r.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	r.Kind = payments.Kind(kind)
	r.AssetCode = assetCode.String
	r.Concept = concept.String
	r.CauseID = causeID.String
	return r, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
