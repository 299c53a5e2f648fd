package model

import "fmt"

// Decision is the engine's verdict for one evaluation attempt.
// Internal logic switches exhaustively on these values; the same strings
// travel on the wire, so conversion at the API boundary is the identity
// plus validation.
type Decision string

const (
	DecisionAllow    Decision = "allow"
	DecisionReject   Decision = "reject"
	DecisionNeedMore Decision = "need_more"
	DecisionError    Decision = "error"
)

// ParseDecision validates a wire decision string.
func ParseDecision(s string) (Decision, error) {
	switch d := Decision(s); d {
	case DecisionAllow, DecisionReject, DecisionNeedMore, DecisionError:
		return d, nil
	default:
		return "", fmt.Errorf("unknown decision %q", s)
	}
}

// Blocking reports whether the decision prevents the project from advancing.
func (d Decision) Blocking() bool {
	return d != DecisionAllow
}

// Severity classifies a rule: only error-severity violations can block a
// decision, warnings are advisory.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// ParseSeverity validates a severity string from a gate document.
func ParseSeverity(s string) (Severity, error) {
	switch sv := Severity(s); sv {
	case SeverityError, SeverityWarning:
		return sv, nil
	default:
		return "", fmt.Errorf("unknown severity %q", s)
	}
}
