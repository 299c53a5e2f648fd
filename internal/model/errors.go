package model

import "errors"

// Fault taxonomy. Validation violations are values on the result, never Go
// errors; these sentinels cover engine-side faults only.
var (
	// ErrProjectNotFound: unknown project. No ledger entry is written;
	// there is nothing to audit for a nonexistent project.
	ErrProjectNotFound = errors.New("project not found")

	// ErrSubmissionNotFound: unknown submission id on an audit read.
	ErrSubmissionNotFound = errors.New("submission not found")

	// ErrGateNotFound: a project references a (gate_id, version) absent
	// from the registry. Registry/project drift; surfaced as an error
	// decision and still logged against the project.
	ErrGateNotFound = errors.New("gate not found in registry")

	// ErrNoGateForState: no gate is configured at the project's current
	// state. Terminal states reach this on re-submission after the final
	// allow.
	ErrNoGateForState = errors.New("no gate configured for state")

	// ErrTransitionUndefined: a contract's transition table has no entry
	// for a reachable decision. Checked at load time; hitting it at
	// runtime means registry drift.
	ErrTransitionUndefined = errors.New("transition table has no entry for decision")
)

// Engine-fault error codes used on error-decision results.
const (
	CodeProjectNotFound = "ERR_PROJECT_NOT_FOUND"
	CodeGateNotFound    = "ERR_GATE_NOT_FOUND"
	CodeNoGateForState  = "ERR_NO_GATE_FOR_STATE"
	CodeRequiredMissing = "ERR_REQUIRED_ARTIFACT_MISSING"
	CodeInternal        = "ERR_INTERNAL"
)
