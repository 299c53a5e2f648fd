// Package engine contains the rule evaluator and the state machine, both
// pure, and the orchestrator that ties them to the registry and the ledger.
package engine

import (
	"fmt"
	"strings"

	"github.com/gatekit/gatekit/internal/bundle"
	"github.com/gatekit/gatekit/internal/model"
)

// Evaluation is the outcome of checking one artifact bundle against one
// gate contract. Violations are in presentation order: rule violations in
// rule declaration order, then required-path gaps in declared path order.
// Callers must not re-sort them.
type Evaluation struct {
	Decision   model.Decision
	Violations []model.Violation
}

// Evaluate checks the bundle against the contract. It is a pure function:
// no side effects, no I/O, deterministic for identical inputs.
//
// Decision derivation: any error-severity rule violation → reject; else
// any unresolved required artifact path → need_more; else allow. Warnings
// are reported but never change the decision. A required-path gap is not a
// rule outcome: gate authors cannot hand-author a need_more rule.
func Evaluate(b bundle.Value, contract *model.GateContract) Evaluation {
	var violations []model.Violation
	reject := false
	flagged := make(map[string]bool) // paths already covered by an error-severity violation

	for _, rule := range contract.Rules {
		v, failed := applyRule(b, rule)
		if !failed {
			continue
		}
		violations = append(violations, v)
		if rule.Severity == model.SeverityError {
			reject = true
			for _, p := range rule.Paths() {
				flagged[p] = true
			}
		}
	}

	gap := false
	for _, path := range contract.RequiredPaths {
		val, ok := b.Resolve(path)
		if ok && !val.IsEmpty() {
			continue
		}
		gap = true
		if flagged[path] {
			continue // a blocking rule already explains this path
		}
		violations = append(violations, model.Violation{
			Code:      model.CodeRequiredMissing,
			Message:   fmt.Sprintf("required artifact %q is missing or empty", path),
			Path:      path,
			Severity:  model.SeverityError,
			UIFieldID: path,
		})
	}

	decision := model.DecisionAllow
	switch {
	case reject:
		decision = model.DecisionReject
	case gap:
		decision = model.DecisionNeedMore
	}

	return Evaluation{Decision: decision, Violations: violations}
}

// applyRule applies one rule's predicate and, on failure, builds the
// violation. One rule yields at most one violation.
func applyRule(b bundle.Value, rule model.Rule) (model.Violation, bool) {
	failed, val, resolved := applyPredicate(b, rule)
	if !failed {
		return model.Violation{}, false
	}

	uiFieldID := rule.UIFieldID
	if uiFieldID == "" && len(rule.UIFieldIDs) == 0 && rule.UIBlockID == "" {
		// Default binding: the inspected path doubles as the field id.
		uiFieldID = rule.ArtifactPath
	}

	return model.Violation{
		RuleID:     rule.RuleID,
		Code:       rule.ErrorCode,
		Message:    renderMessage(rule, val, resolved),
		Path:       rule.ArtifactPath,
		Severity:   rule.Severity,
		UIFieldID:  uiFieldID,
		UIFieldIDs: rule.UIFieldIDs,
		UIBlockID:  rule.UIBlockID,
	}, true
}

// applyPredicate reports whether the rule's predicate failed, along with
// the resolved value when there was one.
//
// Presence fails on absent or empty values. The other single-path kinds
// pass on absence: shape checks only apply to values that are there, and
// mandatory presence is the job of a presence rule or a required path.
func applyPredicate(b bundle.Value, rule model.Rule) (failed bool, val bundle.Value, resolved bool) {
	pred := rule.Predicate

	if pred.Kind == model.PredicateRequireTogether {
		return applyRequireTogether(b, rule.ArtifactPaths), bundle.Value{}, false
	}

	val, resolved = b.Resolve(rule.ArtifactPath)

	switch pred.Kind {
	case model.PredicatePresence:
		if !resolved {
			return true, val, false
		}
		if val.Kind() == bundle.KindNull && pred.AllowNull {
			return false, val, true
		}
		return val.IsEmpty(), val, true

	case model.PredicateType:
		if !resolved {
			return false, val, false
		}
		return val.Kind() != pred.WantKind, val, true

	case model.PredicateRange:
		if !resolved {
			return false, val, false
		}
		f, isNum := val.Float()
		if !isNum {
			return true, val, true
		}
		if pred.Min != nil {
			if pred.ExclusiveMin && f <= *pred.Min {
				return true, val, true
			}
			if !pred.ExclusiveMin && f < *pred.Min {
				return true, val, true
			}
		}
		if pred.Max != nil && f > *pred.Max {
			return true, val, true
		}
		return false, val, true

	case model.PredicatePattern:
		if !resolved {
			return false, val, false
		}
		s, isStr := val.String()
		if !isStr {
			return true, val, true
		}
		if pred.Pattern != nil && !pred.Pattern.MatchString(s) {
			return true, val, true
		}
		if pred.MinLen > 0 && len([]rune(s)) < pred.MinLen {
			return true, val, true
		}
		if pred.MaxLen > 0 && len([]rune(s)) > pred.MaxLen {
			return true, val, true
		}
		if pred.MinWords > 0 && len(strings.Fields(s)) < pred.MinWords {
			return true, val, true
		}
		return false, val, true

	default:
		// Unreachable for contracts that passed the loader.
		return false, val, resolved
	}
}

// applyRequireTogether fails when the listed paths are partially supplied:
// if any of them resolves to a present, non-empty value, all of them must.
// A fully absent group passes; mandatory presence belongs to required
// paths, this predicate only checks joint consistency.
func applyRequireTogether(b bundle.Value, paths []string) bool {
	present := 0
	for _, p := range paths {
		if v, ok := b.Resolve(p); ok && !v.IsEmpty() {
			present++
		}
	}
	return present > 0 && present < len(paths)
}

// renderMessage fills the rule's message template. {path} resolves to the
// inspected artifact path and {value} to a short rendering of the resolved
// value ("absent" when the path did not resolve).
func renderMessage(rule model.Rule, val bundle.Value, resolved bool) string {
	msg := rule.Message
	path := rule.ArtifactPath
	if path == "" {
		path = strings.Join(rule.ArtifactPaths, ", ")
	}
	msg = strings.ReplaceAll(msg, "{path}", path)
	display := "absent"
	if resolved {
		display = val.Display()
	}
	return strings.ReplaceAll(msg, "{value}", display)
}
