package model

import "encoding/json"

// Violation is a single rule failure: code, rendered message, path,
// severity, and the rule's UI routing metadata carried verbatim.
type Violation struct {
	RuleID     string
	Code       string
	Message    string
	Path       string
	Severity   Severity
	UIFieldID  string
	UIFieldIDs []string
	UIBlockID  string
}

// ErrorMeta is the optional machine-addressable metadata on a wire error.
type ErrorMeta struct {
	UIFieldID    string   `json:"ui_field_id,omitempty"`
	UIFieldIDs   []string `json:"ui_field_ids,omitempty"`
	UIBlockID    string   `json:"ui_block_id,omitempty"`
	ArtifactPath string   `json:"artifact_path,omitempty"`
	RuleID       string   `json:"rule_id,omitempty"`
	GateID       string   `json:"gate_id,omitempty"`
	GateVersion  string   `json:"gate_version,omitempty"`
}

// StructuredError is the wire form of a violation or engine fault.
type StructuredError struct {
	Code     string     `json:"code"`
	Message  string     `json:"message"`
	Path     string     `json:"path"`
	Severity string     `json:"severity"`
	Meta     *ErrorMeta `json:"meta,omitempty"`
}

// WireError converts a violation to its wire form, binding it to the gate
// that produced it. Paths become JSON-pointer-ish field locations
// ("/artifacts/scenario/actor") so callers can address submission fields.
func (v Violation) WireError(gateID, gateVersion string) StructuredError {
	path := "/artifacts"
	if v.Path != "" {
		path = "/artifacts/" + dotsToSlashes(v.Path)
	}
	return StructuredError{
		Code:     v.Code,
		Message:  v.Message,
		Path:     path,
		Severity: string(v.Severity),
		Meta: &ErrorMeta{
			UIFieldID:    v.UIFieldID,
			UIFieldIDs:   v.UIFieldIDs,
			UIBlockID:    v.UIBlockID,
			ArtifactPath: path,
			RuleID:       v.RuleID,
			GateID:       gateID,
			GateVersion:  gateVersion,
		},
	}
}

func dotsToSlashes(path string) string {
	out := make([]byte, len(path))
	for i := 0; i < len(path); i++ {
		if path[i] == '.' {
			out[i] = '/'
		} else {
			out[i] = path[i]
		}
	}
	return string(out)
}

// EvaluationResult is the decision contract returned to the caller and
// persisted verbatim as the submission's result snapshot.
type EvaluationResult struct {
	Decision           string            `json:"decision"`
	NextState          *string           `json:"next_state"`
	ProjectState       string            `json:"project_state"`
	CurrentGateID      string            `json:"current_gate_id"`
	CurrentGateVersion string            `json:"current_gate_version"`
	SubmissionID       string            `json:"submission_id"`
	Errors             []StructuredError `json:"errors"`
}

// Submission is one immutable record of a single evaluation attempt.
// No field is ever edited after creation; corrections require a new
// submission. Seq is assigned by the ledger and orders records with
// identical timestamps.
type Submission struct {
	Seq       int64  `json:"-"`
	ID        string `json:"submission_id"`
	ProjectID string `json:"project_id"`

	GateID      string `json:"gate_id"`
	GateVersion string `json:"gate_version"`
	StateBefore string `json:"state_before"`
	StateAfter  string `json:"state_after"`
	Decision    string `json:"decision"`

	// Canonical JSON (RFC 8785) of the evaluated artifact bundle and of
	// the result contract returned to the caller.
	RequestSnapshot json.RawMessage `json:"-"`
	ResultSnapshot  json.RawMessage `json:"-"`

	CreatedAt string `json:"created_at"`
}

// AuditImmutability is the audit viewer's immutability block.
type AuditImmutability struct {
	IsImmutable bool   `json:"is_immutable"`
	StoredAt    string `json:"stored_at"`
}

// AuditRequest wraps the verbatim request snapshot.
type AuditRequest struct {
	Artifacts json.RawMessage `json:"artifacts"`
}

// AuditRecord is the immutable stored record served to the audit viewer,
// rendered verbatim with no reinterpretation.
type AuditRecord struct {
	SubmissionID string            `json:"submission_id"`
	ProjectID    string            `json:"project_id"`
	CreatedAt    string            `json:"created_at"`
	Immutability AuditImmutability `json:"immutability"`
	Request      AuditRequest      `json:"request"`
	Result       json.RawMessage   `json:"result"`
	GateID       string            `json:"gate_id"`
	GateVersion  string            `json:"gate_version"`
	StateBefore  string            `json:"state_before"`
	StateAfter   string            `json:"state_after"`
}

// Record converts a stored submission into its audit wire form.
func (s Submission) Record() AuditRecord {
	return AuditRecord{
		SubmissionID: s.ID,
		ProjectID:    s.ProjectID,
		CreatedAt:    s.CreatedAt,
		Immutability: AuditImmutability{IsImmutable: true, StoredAt: s.CreatedAt},
		Request:      AuditRequest{Artifacts: s.RequestSnapshot},
		Result:       s.ResultSnapshot,
		GateID:       s.GateID,
		GateVersion:  s.GateVersion,
		StateBefore:  s.StateBefore,
		StateAfter:   s.StateAfter,
	}
}
