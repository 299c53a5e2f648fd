package engine

import (
	"fmt"

	"github.com/gatekit/gatekit/internal/model"
)

// Transition maps (contract, decision, current state) to the next project
// state using the contract's transition table. The loader enforces that the
// table is total over allow/reject/need_more, so an empty target here means
// registry drift and is surfaced as a consistency fault.
//
// An error decision never reaches this function: engine faults must not be
// read as project progress or regress, so the orchestrator leaves the
// state untouched without consulting the table.
func Transition(contract *model.GateContract, decision model.Decision, currentState string) (string, error) {
	var next string
	switch decision {
	case model.DecisionAllow:
		next = contract.Transitions.Allow
	case model.DecisionReject:
		next = contract.Transitions.Reject
	case model.DecisionNeedMore:
		next = contract.Transitions.NeedMore
	default:
		return currentState, fmt.Errorf("decision %q: %w", decision, model.ErrTransitionUndefined)
	}
	if next == "" {
		return currentState, fmt.Errorf("gate %s@%s decision %q: %w",
			contract.GateID, contract.Version, decision, model.ErrTransitionUndefined)
	}
	return next, nil
}
