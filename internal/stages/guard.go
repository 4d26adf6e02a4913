package stages

import (
	"context"
	"errors"
	"time"

	"github.com/revohq/revoflow/internal/logging"
	"github.com/revohq/revoflow/internal/metrics"
	"github.com/revohq/revoflow/internal/statemachine"
)

// ErrNotFound marks a load for an entity id with no row.
var ErrNotFound = errors.New("stage entity not found")

// ErrContention is returned when every swap attempt lost the race to a
// concurrent writer. Distinct from the false-nil business rejection:
// the edge may well be legal, the caller just has to try again.
var ErrContention = errors.New("stage transition contention")

// Entity is the stage-relevant view of a pipeline entity (a deal).
type Entity struct {
	ID       string
	TenantID string
	Stage    string
	Closed   bool
}

// AuditEntry records one accepted stage transition. Entries are
// append-only and never mutated or deleted.
type AuditEntry struct {
	TenantID  string    `json:"tenant_id"`
	EntityID  string    `json:"entity_id"`
	OldStage  string    `json:"old_stage"`
	NewStage  string    `json:"new_stage"`
	Actor     string    `json:"actor"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the storage collaborator for stage state. CompareAndSwapStage
// must be atomic with respect to concurrent swaps on the same entity:
// it succeeds only if the stored stage still equals expected.
type Store interface {
	Load(ctx context.Context, entityID string) (Entity, error)
	CompareAndSwapStage(ctx context.Context, entityID, expected, newStage string, closed bool) (bool, error)
}

// AuditSink accepts append-only transition records. Never read by the
// guard.
type AuditSink interface {
	Append(ctx context.Context, entry AuditEntry) error
}

// casAttempts bounds the reload-and-retry loop under contention.
const casAttempts = 3

// Guard validates and applies stage transitions. An illegal transition
// is a business-rule rejection, never an error; the caller branches on
// the returned bool.
type Guard struct {
	machine *statemachine.Machine
	store   Store
	audit   AuditSink
	logger  *logging.Logger
	now     func() time.Time
}

func NewGuard(machine *statemachine.Machine, store Store, audit AuditSink) *Guard {
	return &Guard{
		machine: machine,
		store:   store,
		audit:   audit,
		logger:  logging.New("revoflow-stages"),
		now:     time.Now,
	}
}

// SetClock replaces the guard clock. Test hook.
func (g *Guard) SetClock(now func() time.Time) {
	g.now = now
}

// Transition moves entityID to newStage if the deal pipeline allows the
// edge from its current stage. On acceptance the stage is swapped
// atomically, the entity is closed when newStage is terminal, and
// exactly one audit entry is appended. Returns false with nil error for
// an illegal edge (nothing mutated), false with ErrContention when
// every swap attempt lost to a concurrent writer, and any other non-nil
// error when the storage collaborator failed.
func (g *Guard) Transition(ctx context.Context, entityID, newStage, actor, reason string) (bool, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		entity, err := g.store.Load(ctx, entityID)
		if err != nil {
			return false, err
		}

		if !g.machine.CanTransition(entity.Stage, newStage) {
			metrics.RecordStageTransition("rejected")
			g.logger.WithContext(ctx).WithDeal(entityID).WithFields(map[string]any{
				"old_stage": entity.Stage,
				"new_stage": newStage,
			}).Warn("stage.transition_rejected")
			return false, nil
		}

		closed := g.machine.IsTerminal(newStage)
		swapped, err := g.store.CompareAndSwapStage(ctx, entityID, entity.Stage, newStage, closed)
		if err != nil {
			return false, err
		}
		if !swapped {
			// Lost the race; reload and re-validate against the
			// winner's stage.
			metrics.RecordStageTransition("conflict")
			continue
		}

		entry := AuditEntry{
			TenantID:  entity.TenantID,
			EntityID:  entityID,
			OldStage:  entity.Stage,
			NewStage:  newStage,
			Actor:     actor,
			Reason:    reason,
			CreatedAt: g.now().UTC(),
		}
		if err := g.audit.Append(ctx, entry); err != nil {
			// Stage already moved; surface the sink failure rather
			// than pretending the transition did not happen.
			return true, err
		}
		metrics.RecordStageTransition("accepted")
		g.logger.WithContext(ctx).WithDeal(entityID).WithFields(map[string]any{
			"old_stage": entity.Stage,
			"new_stage": newStage,
			"actor":     actor,
		}).Info("stage.transition")
		return true, nil
	}

	g.logger.WithContext(ctx).WithDeal(entityID).WithField("new_stage", newStage).Warn("stage.transition_contention")
	return false, ErrContention
}
