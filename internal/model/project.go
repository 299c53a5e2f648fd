package model

import "time"

// Project tracks one submitter's progress through the gate sequence.
// CurrentState is the only field the engine mutates after creation; the
// gate pointer moves together with it on an allow decision.
type Project struct {
	ID          string `json:"id"`
	OwnerID     string `json:"-"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	CurrentState       string `json:"current_state"`
	CurrentGateID      string `json:"current_gate_id"`
	CurrentGateVersion string `json:"current_gate_version"`

	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

// ProjectAdvance describes the state and gate-pointer move an allow
// decision triggers. Empty gate fields mark a terminal state: the project
// is fully admitted and no further gate applies.
type ProjectAdvance struct {
	ProjectID      string
	NewState       string
	NewGateID      string
	NewGateVersion string
}

// NewProject creates a project positioned at the given entry gate.
func NewProject(id, ownerID, title, description string, gate *GateContract) Project {
	now := time.Now().UTC().Format(time.RFC3339)
	return Project{
		ID:                 id,
		OwnerID:            ownerID,
		Title:              title,
		Description:        description,
		CurrentState:       gate.EntryState,
		CurrentGateID:      gate.GateID,
		CurrentGateVersion: gate.Version,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
}
