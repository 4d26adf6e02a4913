// Package agents wires the default task registry: one executor per
// pipeline agent. Executor bodies only drive the stage guard and the
// idempotent creators; drafting, scoring and outreach live behind the
// collaborator interfaces and are out of the engine's sight.
package agents

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/revohq/revoflow/internal/children"
	"github.com/revohq/revoflow/internal/logging"
	"github.com/revohq/revoflow/internal/pipeline"
	"github.com/revohq/revoflow/internal/stages"
	"github.com/revohq/revoflow/internal/tasks"
)

// Task keys for the registered agents.
const (
	KeySDR         = "agents.sdr"
	KeySales       = "agents.sales"
	KeyNegotiation = "agents.negotiation"
	KeyFinance     = "agents.finance"
	KeyPipeline    = "agents.pipeline"
)

// DealLister lists deal ids sitting at a stage.
type DealLister interface {
	ListByStage(ctx context.Context, stage string) ([]string, error)
}

// ContractLister lists contract ids ready for invoicing.
type ContractLister interface {
	ListSigned(ctx context.Context) ([]string, error)
}

// Deps are the collaborators the agent executors run against.
type Deps struct {
	Guard     *stages.Guard
	Deals     DealLister
	Contracts ContractLister
	// ContractFromDeal creates at most one contract per deal.
	ContractFromDeal *children.Creator
	// InvoiceFromContract creates at most one invoice per contract.
	InvoiceFromContract *children.Creator
}

var logger = logging.New("revoflow-agents")

// Register installs the four agent executors on reg.
func Register(reg *tasks.Registry, deps Deps) {
	reg.Register(KeySDR, sdrExecutor(deps))
	reg.Register(KeySales, salesExecutor(deps))
	reg.Register(KeyNegotiation, negotiationExecutor(deps))
	reg.Register(KeyFinance, financeExecutor(deps))
}

// RegisterPipeline installs the full-pipeline executor. Separate from
// Register because the orchestrator wraps the engine that reads reg.
func RegisterPipeline(reg *tasks.Registry, orch *pipeline.Orchestrator, tenantID, userID string) {
	reg.Register(KeyPipeline, func(ctx context.Context) error {
		outcomes := orch.RunPipeline(ctx, pipeline.DefaultTaskKeys, tenantID, userID)
		for key, outcome := range outcomes {
			if outcome != "success" {
				return fmt.Errorf("pipeline step %s: %s", key, outcome)
			}
		}
		return nil
	})
}

// sdrExecutor qualifies fresh leads: every deal at Lead moves to
// Qualified.
func sdrExecutor(deps Deps) tasks.Executor {
	return func(ctx context.Context) error {
		ids, err := deps.Deals.ListByStage(ctx, stages.StageLead)
		if err != nil {
			return err
		}
		for _, id := range ids {
			moved, err := deps.Guard.Transition(ctx, id, stages.StageQualified, "sdr_agent", "lead contacted and scored")
			if err != nil {
				return err
			}
			if !moved {
				logger.WithContext(ctx).WithDeal(id).Warn("sdr.transition_skipped")
			}
		}
		return nil
	}
}

// salesExecutor sends proposals: qualified deals move to Proposal Sent.
func salesExecutor(deps Deps) tasks.Executor {
	return func(ctx context.Context) error {
		ids, err := deps.Deals.ListByStage(ctx, stages.StageQualified)
		if err != nil {
			return err
		}
		for _, id := range ids {
			moved, err := deps.Guard.Transition(ctx, id, stages.StageProposalSent, "sales_agent", "probability threshold met")
			if err != nil {
				return err
			}
			if !moved {
				logger.WithContext(ctx).WithDeal(id).Warn("sales.transition_skipped")
			}
		}
		return nil
	}
}

// negotiationExecutor opens negotiation on proposed deals and ensures
// each has exactly one contract, however many times it reruns.
func negotiationExecutor(deps Deps) tasks.Executor {
	return func(ctx context.Context) error {
		ids, err := deps.Deals.ListByStage(ctx, stages.StageProposalSent)
		if err != nil {
			return err
		}
		for _, id := range ids {
			moved, err := deps.Guard.Transition(ctx, id, stages.StageNegotiation, "negotiation_agent", "proposal acknowledged")
			if err != nil {
				return err
			}
			if !moved {
				logger.WithContext(ctx).WithDeal(id).Warn("negotiation.transition_skipped")
				continue
			}
			contractID, err := deps.ContractFromDeal.CreateOrGet(ctx, id, func() (children.Child, error) {
				cid := uuid.NewString()
				return children.Child{ID: cid, Code: "CONTRACT-" + shortCode(cid)}, nil
			})
			if err != nil {
				return err
			}
			logger.WithContext(ctx).WithDeal(id).WithField("contract_id", contractID).Info("negotiation.contract_ready")
		}
		return nil
	}
}

// financeExecutor ensures each signed contract has exactly one invoice.
func financeExecutor(deps Deps) tasks.Executor {
	return func(ctx context.Context) error {
		ids, err := deps.Contracts.ListSigned(ctx)
		if err != nil {
			return err
		}
		for _, id := range ids {
			invoiceID, err := deps.InvoiceFromContract.CreateOrGet(ctx, id, func() (children.Child, error) {
				iid := uuid.NewString()
				return children.Child{ID: iid, Code: "INV-" + shortCode(iid)}, nil
			})
			if err != nil {
				return err
			}
			logger.WithContext(ctx).WithField("contract_id", id).WithField("invoice_id", invoiceID).Info("finance.invoice_ready")
		}
		return nil
	}
}

func shortCode(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
