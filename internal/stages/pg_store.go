package stages

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore is the Postgres-backed Store. Concurrency control is
// optimistic: the swap is an UPDATE conditioned on the expected stage,
// so a lost race affects zero rows instead of overwriting the winner.
type PGStore struct {
	pool *pgxpool.Pool
}

func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

func (s *PGStore) Load(ctx context.Context, entityID string) (Entity, error) {
	var e Entity
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, stage, closed
		FROM revoflow.deals
		WHERE id=$1`, entityID).Scan(&e.ID, &e.TenantID, &e.Stage, &e.Closed)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entity{}, ErrNotFound
	}
	if err != nil {
		return Entity{}, err
	}
	return e, nil
}

func (s *PGStore) CompareAndSwapStage(ctx context.Context, entityID, expected, newStage string, closed bool) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE revoflow.deals
		SET stage=$2, closed=closed OR $3, last_updated=now()
		WHERE id=$1 AND stage=$4`,
		entityID, newStage, closed, expected,
	)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ListByStage returns deal ids currently at stage.
func (s *PGStore) ListByStage(ctx context.Context, stage string) ([]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id FROM revoflow.deals
		WHERE stage=$1
		ORDER BY id`, stage)
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

// PGAuditSink appends transition records to the deal_stage_audit table.
type PGAuditSink struct {
	pool *pgxpool.Pool
}

func NewPGAuditSink(pool *pgxpool.Pool) *PGAuditSink {
	return &PGAuditSink{pool: pool}
}

func (s *PGAuditSink) Append(ctx context.Context, entry AuditEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO revoflow.deal_stage_audit(tenant_id, deal_id, old_stage, new_stage, actor, reason, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		entry.TenantID, entry.EntityID, entry.OldStage, entry.NewStage, entry.Actor, entry.Reason, entry.CreatedAt,
	)
	return err
}
