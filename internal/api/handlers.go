package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"

	"github.com/gatekit/gatekit/internal/engine"
	"github.com/gatekit/gatekit/internal/model"
	"github.com/gatekit/gatekit/internal/store"
)

// ---------------------------------------------------------------------------
// GET /api/health
// ---------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "gates": s.registry.Len()})
}

// ---------------------------------------------------------------------------
// POST /api/projects
// ---------------------------------------------------------------------------

type createProjectRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleCreateProject(w http.ResponseWriter, r *http.Request) {
	var req createProjectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Title == "" || len(req.Title) > 200 {
		writeError(w, http.StatusBadRequest, "title is required (1-200 chars)")
		return
	}

	gate, ok := s.registry.GateForState(s.opts.InitialState)
	if !ok {
		writeError(w, http.StatusInternalServerError, "no gate configured for the initial state")
		return
	}

	p := model.NewProject(uuid.New().String(), ownerFrom(r), req.Title, req.Description, gate)
	if err := s.store.CreateProject(r.Context(), p); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create project")
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

// ---------------------------------------------------------------------------
// GET /api/projects
// ---------------------------------------------------------------------------

func (s *Server) handleListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := s.store.ListProjects(r.Context(), ownerFrom(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list projects")
		return
	}
	if projects == nil {
		projects = []model.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

// ---------------------------------------------------------------------------
// GET /api/projects/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleGetProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProject(r.Context(), ownerFrom(r), r.PathValue("id"))
	if errors.Is(err, model.ErrProjectNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get project")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// ---------------------------------------------------------------------------
// POST /api/projects/{id}/evaluate
// ---------------------------------------------------------------------------

type evaluateRequest struct {
	Artifacts json.RawMessage `json:"artifacts"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Artifacts) == 0 {
		writeError(w, http.StatusBadRequest, "artifacts is required")
		return
	}

	result, err := s.orch.Evaluate(r.Context(), ownerFrom(r), r.PathValue("id"), req.Artifacts)
	switch {
	case errors.Is(err, engine.ErrInvalidArtifacts):
		writeError(w, http.StatusBadRequest, "artifacts must be a JSON value")
		return
	case errors.Is(err, model.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, "project not found")
		return
	case err != nil:
		// Persistence fault: nothing was recorded, no submission_id.
		writeError(w, http.StatusInternalServerError, "evaluation could not be recorded")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// ---------------------------------------------------------------------------
// GET /api/projects/{id}/submissions
// ---------------------------------------------------------------------------

type submissionListResponse struct {
	Items      []model.AuditRecord `json:"items"`
	NextCursor *string             `json:"next_cursor"`
}

func (s *Server) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	opts := store.ListOptions{
		Limit:  queryInt(r, "limit", 50),
		Cursor: r.URL.Query().Get("cursor"),
		Desc:   r.URL.Query().Get("order") == "desc",
	}

	subs, next, err := s.store.ListSubmissions(r.Context(), ownerFrom(r), r.PathValue("id"), opts)
	switch {
	case errors.Is(err, model.ErrProjectNotFound):
		writeError(w, http.StatusNotFound, "project not found")
		return
	case errors.Is(err, store.ErrInvalidCursor):
		writeError(w, http.StatusUnprocessableEntity, "invalid cursor")
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, "failed to list submissions")
		return
	}

	resp := submissionListResponse{Items: make([]model.AuditRecord, 0, len(subs))}
	for _, sub := range subs {
		resp.Items = append(resp.Items, sub.Record())
	}
	if next != "" {
		resp.NextCursor = &next
	}
	writeJSON(w, http.StatusOK, resp)
}

// ---------------------------------------------------------------------------
// GET /api/submissions/{id}
// ---------------------------------------------------------------------------

func (s *Server) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	sub, err := s.store.GetSubmission(r.Context(), ownerFrom(r), r.PathValue("id"))
	if errors.Is(err, model.ErrSubmissionNotFound) {
		writeError(w, http.StatusNotFound, "submission not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get submission")
		return
	}
	writeJSON(w, http.StatusOK, sub.Record())
}

// ---------------------------------------------------------------------------
// GET /api/projects/{id}/ui-schema
// ---------------------------------------------------------------------------

type uiField struct {
	Key      string `json:"key"`
	Label    string `json:"label"`
	Type     string `json:"type"`
	Required bool   `json:"required"`
}

type uiGate struct {
	ID      string `json:"id"`
	Version string `json:"version"`
	Title   string `json:"title"`
}

type uiSchemaResponse struct {
	ProjectID    string    `json:"project_id"`
	ProjectState string    `json:"project_state"`
	Gate         *uiGate   `json:"gate"`
	Fields       []uiField `json:"fields"`
}

// handleUISchema renders the presentation-layer schema for the project's
// active gate. The front-end renders these fields; it never invents
// evaluation logic.
func (s *Server) handleUISchema(w http.ResponseWriter, r *http.Request) {
	p, err := s.store.GetProject(r.Context(), ownerFrom(r), r.PathValue("id"))
	if errors.Is(err, model.ErrProjectNotFound) {
		writeError(w, http.StatusNotFound, "project not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get project")
		return
	}

	resp := uiSchemaResponse{
		ProjectID:    p.ID,
		ProjectState: p.CurrentState,
		Fields:       []uiField{},
	}

	if p.CurrentGateID == "" {
		// Fully admitted: no further gate, nothing to render.
		writeJSON(w, http.StatusOK, resp)
		return
	}

	gate, err := s.registry.ActiveGateFor(p)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "gate missing from registry")
		return
	}

	resp.Gate = &uiGate{ID: gate.GateID, Version: gate.Version, Title: gate.Title}
	resp.Fields = uiFieldsFor(gate)
	writeJSON(w, http.StatusOK, resp)
}

// uiFieldsFor derives form fields from the gate's UI bindings and required
// paths. Gates without any binding fall back to one free-form JSON field.
func uiFieldsFor(gate *model.GateContract) []uiField {
	required := make(map[string]bool, len(gate.RequiredPaths))
	for _, p := range gate.RequiredPaths {
		required[p] = true
	}

	seen := make(map[string]bool)
	var fields []uiField
	add := func(key, path string) {
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		fields = append(fields, uiField{
			Key:      key,
			Label:    key,
			Type:     "text",
			Required: required[path],
		})
	}

	for _, rule := range gate.Rules {
		add(rule.UIFieldID, rule.ArtifactPath)
		for _, id := range rule.UIFieldIDs {
			add(id, rule.ArtifactPath)
		}
	}
	for _, path := range gate.RequiredPaths {
		add(path, path)
	}

	if len(fields) == 0 {
		fields = []uiField{{Key: "artifacts", Label: "Artifacts", Type: "json", Required: true}}
	}
	return fields
}
