package model

import (
	"regexp"

	"github.com/gatekit/gatekit/internal/bundle"
)

// PredicateKind enumerates the typed checks a rule can apply.
type PredicateKind string

const (
	PredicatePresence        PredicateKind = "presence"
	PredicateType            PredicateKind = "type"
	PredicateRange           PredicateKind = "range"
	PredicatePattern         PredicateKind = "pattern"
	PredicateRequireTogether PredicateKind = "require_together"
)

// Predicate is a compiled, typed check. Fields are populated per kind:
// type uses WantKind; range uses Min/Max; pattern uses Pattern and the
// length/word bounds; presence honors AllowNull.
type Predicate struct {
	Kind PredicateKind

	// presence
	AllowNull bool

	// type
	WantKind bundle.Kind

	// range
	Min          *float64
	Max          *float64
	ExclusiveMin bool

	// pattern / string shape
	Pattern  *regexp.Regexp
	MinLen   int
	MaxLen   int
	MinWords int
}

// Rule is a single checkable condition within a gate contract.
// One rule yields at most one violation per evaluation.
type Rule struct {
	RuleID        string
	ArtifactPath  string   // single-path predicates
	ArtifactPaths []string // cross-field predicates
	Predicate     Predicate
	ErrorCode     string
	Message       string // template; {path} and {value} are substituted
	Severity      Severity

	// UI binding: routing hints for the presentation layer, inert to
	// evaluation semantics, carried verbatim into violations.
	UIFieldID  string
	UIFieldIDs []string
	UIBlockID  string
}

// Paths returns every artifact path the rule inspects.
func (r Rule) Paths() []string {
	if len(r.ArtifactPaths) > 0 {
		return r.ArtifactPaths
	}
	if r.ArtifactPath != "" {
		return []string{r.ArtifactPath}
	}
	return nil
}

// TransitionTable maps each non-error decision to the next project state.
// It is total over allow/reject/need_more; the loader rejects documents
// with missing entries. An error decision never transitions state.
type TransitionTable struct {
	Allow    string
	Reject   string
	NeedMore string
}

// GateContract is an immutable, versioned checkpoint contract. Once
// published, a (gate_id, version) pair never changes; rule edits require
// a new version.
type GateContract struct {
	GateID  string
	Version string
	Title   string

	// EntryState is the project state this gate guards.
	EntryState string

	Rules         []Rule
	RequiredPaths []string
	Transitions   TransitionTable
}

// Key returns the exact registry lookup key.
func (g *GateContract) Key() GateKey {
	return GateKey{GateID: g.GateID, Version: g.Version}
}

// GateKey identifies a contract by exact (gate_id, version).
type GateKey struct {
	GateID  string
	Version string
}
