package children

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// uniqueViolation is the Postgres error code raised when an insert
// breaks a unique constraint.
const uniqueViolation = "23505"

// PGStore is a Postgres-backed Store for one child table. The table
// must carry a unique constraint on the parent id column; that
// constraint is the race arbiter.
type PGStore struct {
	pool      *pgxpool.Pool
	table     string
	parentCol string
}

// NewPGContractStore stores contracts keyed uniquely by deal id.
func NewPGContractStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, table: "revoflow.contracts", parentCol: "deal_id"}
}

// NewPGInvoiceStore stores invoices keyed uniquely by contract id.
func NewPGInvoiceStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool, table: "revoflow.invoices", parentCol: "contract_id"}
}

func (s *PGStore) FindByParent(ctx context.Context, parentID string) (string, bool, error) {
	var id string
	q := fmt.Sprintf(`SELECT id FROM %s WHERE %s=$1`, s.table, s.parentCol)
	err := s.pool.QueryRow(ctx, q, parentID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

func (s *PGStore) Insert(ctx context.Context, child Child) error {
	q := fmt.Sprintf(`INSERT INTO %s(id, %s, code, created_at) VALUES ($1,$2,$3,now())`, s.table, s.parentCol)
	_, err := s.pool.Exec(ctx, q, child.ID, child.ParentID, child.Code)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicate
	}
	return err
}

// PGSignedContractLister lists contract ids whose signature landed.
type PGSignedContractLister struct {
	pool *pgxpool.Pool
}

func NewPGSignedContractLister(pool *pgxpool.Pool) *PGSignedContractLister {
	return &PGSignedContractLister{pool: pool}
}

func (l *PGSignedContractLister) ListSigned(ctx context.Context) ([]string, error) {
	rows, err := l.pool.Query(ctx, `SELECT id FROM revoflow.contracts WHERE signed ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
