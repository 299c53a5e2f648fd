package store

import (
	"context"

	"github.com/gatekit/gatekit/internal/model"
)

// ProjectDirectory provides access to project records.
type ProjectDirectory interface {
	CreateProject(ctx context.Context, p model.Project) error
	GetProject(ctx context.Context, ownerID, id string) (*model.Project, error)
	ListProjects(ctx context.Context, ownerID string) ([]model.Project, error)
}

// SubmissionLedger is the append-only audit store. Append is the only
// mutation: there is no update or delete, enforcing immutability at the
// interface level rather than by convention.
type SubmissionLedger interface {
	AppendSubmission(ctx context.Context, sub model.Submission, advance *model.ProjectAdvance) (model.Submission, error)
	GetSubmission(ctx context.Context, ownerID, id string) (*model.Submission, error)
	ListSubmissions(ctx context.Context, ownerID, projectID string, opts ListOptions) ([]model.Submission, string, error)
}

// Repository combines all persistence operations for the API layer.
type Repository interface {
	ProjectDirectory
	SubmissionLedger
}
