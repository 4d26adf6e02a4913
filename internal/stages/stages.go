package stages

import "github.com/revohq/revoflow/internal/statemachine"

// Deal pipeline stages.
const (
	StageLead         = "Lead"
	StageQualified    = "Qualified"
	StageProposalSent = "Proposal Sent"
	StageNegotiation  = "Negotiation"
	StageClosedWon    = "Closed Won"
	StageClosedLost   = "Closed Lost"
)

// dealTransitions is the fixed adjacency for the deal pipeline.
// Terminal stages have no outgoing edges.
var dealTransitions = map[string][]string{
	StageLead:         {StageQualified, StageClosedLost},
	StageQualified:    {StageProposalSent, StageClosedLost},
	StageProposalSent: {StageNegotiation, StageClosedWon, StageClosedLost},
	StageNegotiation:  {StageClosedWon, StageClosedLost},
}

// NewDealStateMachine builds the transition validator for the deal
// pipeline.
func NewDealStateMachine() *statemachine.Machine {
	return statemachine.New(dealTransitions)
}
