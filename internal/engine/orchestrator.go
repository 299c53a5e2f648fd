package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gowebpki/jcs"

	"github.com/gatekit/gatekit/internal/bundle"
	"github.com/gatekit/gatekit/internal/model"
	"github.com/gatekit/gatekit/internal/registry"
)

// ErrInvalidArtifacts marks a request whose artifact payload is not valid
// JSON. Nothing is evaluated or logged for such a request.
var ErrInvalidArtifacts = errors.New("invalid artifacts payload")

// ProjectDirectory is the project lookup the orchestrator needs.
type ProjectDirectory interface {
	GetProject(ctx context.Context, ownerID, projectID string) (*model.Project, error)
}

// SubmissionLedger is the append-only audit store. Append persists the
// submission and, when advance is non-nil, moves the project's state and
// gate pointer in the same durable transaction.
type SubmissionLedger interface {
	AppendSubmission(ctx context.Context, sub model.Submission, advance *model.ProjectAdvance) (model.Submission, error)
}

// Orchestrator is the gate evaluation façade: it resolves the active gate,
// runs the rule evaluator and the state machine, writes the ledger record,
// and returns the decision contract.
type Orchestrator struct {
	registry *registry.Registry
	projects ProjectDirectory
	ledger   SubmissionLedger
	locks    keyedMutex
}

// NewOrchestrator wires the evaluation façade.
func NewOrchestrator(reg *registry.Registry, projects ProjectDirectory, ledger SubmissionLedger) *Orchestrator {
	return &Orchestrator{registry: reg, projects: projects, ledger: ledger}
}

// Evaluate runs one evaluation attempt for a project. Calls against the
// same project are serialized; different projects proceed in parallel.
//
// The returned error is nil for every completed evaluation, including
// error decisions that were recorded in the ledger. It is non-nil only
// when the caller must not treat the result as recorded: unknown project,
// malformed artifacts, or a persistence fault.
func (o *Orchestrator) Evaluate(ctx context.Context, ownerID, projectID string, artifacts json.RawMessage) (model.EvaluationResult, error) {
	b, err := bundle.FromJSON(artifacts)
	if err != nil {
		return model.EvaluationResult{}, fmt.Errorf("%w: %v", ErrInvalidArtifacts, err)
	}

	unlock := o.locks.lock(projectID)
	defer unlock()

	p, err := o.projects.GetProject(ctx, ownerID, projectID)
	if err != nil {
		if errors.Is(err, model.ErrProjectNotFound) {
			// Nothing to audit for a nonexistent project.
			return faultResult("", "", "", model.CodeProjectNotFound, "project not found"), err
		}
		return model.EvaluationResult{}, fmt.Errorf("load project: %w", err)
	}

	gate, gateErr := o.activeGate(p)
	if gateErr != nil {
		// The project exists and did attempt an evaluation, so the fault
		// is still written to the ledger with state_after == state_before.
		return o.recordFault(ctx, p, artifacts, gateErr)
	}

	ev := Evaluate(b, gate)

	next, err := Transition(gate, ev.Decision, p.CurrentState)
	if err != nil {
		return o.recordFault(ctx, p, artifacts, err)
	}

	result := model.EvaluationResult{
		Decision:           string(ev.Decision),
		ProjectState:       p.CurrentState,
		CurrentGateID:      gate.GateID,
		CurrentGateVersion: gate.Version,
		SubmissionID:       uuid.New().String(),
		Errors:             wireErrors(ev.Violations, gate.GateID, gate.Version),
	}

	stateAfter := p.CurrentState
	var advance *model.ProjectAdvance
	if ev.Decision == model.DecisionAllow {
		result.NextState = &next
		stateAfter = next
		advance = o.advanceTo(p, next)
	}

	sub, err := o.buildSubmission(result.SubmissionID, p, gate.GateID, gate.Version, stateAfter, artifacts, result)
	if err != nil {
		return model.EvaluationResult{}, err
	}
	if _, err := o.ledger.AppendSubmission(ctx, sub, advance); err != nil {
		// Persistence fault: no partial effect, no submission_id.
		return model.EvaluationResult{}, fmt.Errorf("append submission: %w", err)
	}

	return result, nil
}

// activeGate resolves the gate the project points at, distinguishing a
// finalized project (no pointer) from registry drift (dangling pointer).
func (o *Orchestrator) activeGate(p *model.Project) (*model.GateContract, error) {
	if p.CurrentGateID == "" {
		return nil, fmt.Errorf("state %q: %w", p.CurrentState, model.ErrNoGateForState)
	}
	return o.registry.ActiveGateFor(p)
}

// advanceTo computes the project's new gate pointer for the passed state.
// A state with no configured gate is terminal: the pointer is cleared and
// the project is fully admitted.
func (o *Orchestrator) advanceTo(p *model.Project, nextState string) *model.ProjectAdvance {
	adv := &model.ProjectAdvance{ProjectID: p.ID, NewState: nextState}
	if nextGate, ok := o.registry.GateForState(nextState); ok {
		adv.NewGateID = nextGate.GateID
		adv.NewGateVersion = nextGate.Version
	}
	return adv
}

// recordFault writes an error-decision submission against an existing
// project. Engine faults never move project state.
func (o *Orchestrator) recordFault(ctx context.Context, p *model.Project, artifacts json.RawMessage, cause error) (model.EvaluationResult, error) {
	code := model.CodeInternal
	switch {
	case errors.Is(cause, model.ErrGateNotFound):
		code = model.CodeGateNotFound
	case errors.Is(cause, model.ErrNoGateForState):
		code = model.CodeNoGateForState
	}
	slog.Error("evaluation fault", "project_id", p.ID, "state", p.CurrentState, "code", code, "error", cause)

	result := faultResult(p.CurrentState, p.CurrentGateID, p.CurrentGateVersion, code, cause.Error())
	result.SubmissionID = uuid.New().String()

	sub, err := o.buildSubmission(result.SubmissionID, p, p.CurrentGateID, p.CurrentGateVersion, p.CurrentState, artifacts, result)
	if err != nil {
		return model.EvaluationResult{}, err
	}
	if _, err := o.ledger.AppendSubmission(ctx, sub, nil); err != nil {
		return model.EvaluationResult{}, fmt.Errorf("append submission: %w", err)
	}
	return result, nil
}

// buildSubmission assembles the immutable ledger record. Both snapshots
// are canonicalized (RFC 8785) so identical inputs produce byte-identical
// stored records.
func (o *Orchestrator) buildSubmission(id string, p *model.Project, gateID, gateVersion, stateAfter string, artifacts json.RawMessage, result model.EvaluationResult) (model.Submission, error) {
	reqSnap, err := jcs.Transform(artifacts)
	if err != nil {
		return model.Submission{}, fmt.Errorf("canonicalize request: %w", err)
	}
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return model.Submission{}, fmt.Errorf("marshal result: %w", err)
	}
	resSnap, err := jcs.Transform(resultJSON)
	if err != nil {
		return model.Submission{}, fmt.Errorf("canonicalize result: %w", err)
	}

	return model.Submission{
		ID:              id,
		ProjectID:       p.ID,
		GateID:          gateID,
		GateVersion:     gateVersion,
		StateBefore:     p.CurrentState,
		StateAfter:      stateAfter,
		Decision:        result.Decision,
		RequestSnapshot: reqSnap,
		ResultSnapshot:  resSnap,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
	}, nil
}

func wireErrors(violations []model.Violation, gateID, gateVersion string) []model.StructuredError {
	out := make([]model.StructuredError, 0, len(violations))
	for _, v := range violations {
		out = append(out, v.WireError(gateID, gateVersion))
	}
	return out
}

// faultResult builds the error-decision contract for engine-side faults.
func faultResult(state, gateID, gateVersion, code, message string) model.EvaluationResult {
	return model.EvaluationResult{
		Decision:           string(model.DecisionError),
		ProjectState:       state,
		CurrentGateID:      gateID,
		CurrentGateVersion: gateVersion,
		Errors: []model.StructuredError{{
			Code:     code,
			Message:  message,
			Path:     "/artifacts",
			Severity: string(model.SeverityError),
		}},
	}
}

// keyedMutex serializes evaluations per project while leaving different
// projects fully parallel. Entries are kept for the process lifetime; the
// map is bounded by the number of distinct projects seen.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
