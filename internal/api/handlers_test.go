package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gatekit/gatekit/internal/engine"
	"github.com/gatekit/gatekit/internal/model"
	"github.com/gatekit/gatekit/internal/registry"
	"github.com/gatekit/gatekit/internal/store"
)

func floatPtr(f float64) *float64 { return &f }

func draftGate() *model.GateContract {
	return &model.GateContract{
		GateID:        "PROBLEM_VALIDATION_01",
		Version:       "1.1.0",
		Title:         "Problem validation",
		EntryState:    "DRAFT",
		RequiredPaths: []string{"scenario.actor", "cost_of_error.amount"},
		Transitions: model.TransitionTable{
			Allow:    "VALIDATED_PROBLEM",
			Reject:   "DRAFT",
			NeedMore: "DRAFT",
		},
		Rules: []model.Rule{{
			RuleID:       "cost_positive",
			ArtifactPath: "cost_of_error.amount",
			Predicate:    model.Predicate{Kind: model.PredicateRange, Min: floatPtr(0), ExclusiveMin: true},
			ErrorCode:    "ERR_LOW_BUSINESS_IMPACT",
			Message:      "{path} must be positive",
			Severity:     model.SeverityError,
			UIFieldID:    "cost_amount",
		}},
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	db, err := store.OpenSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	s, err := store.New(db)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}

	reg, err := registry.New([]*model.GateContract{draftGate()})
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	orch := engine.NewOrchestrator(reg, s, s)
	return New(s, reg, orch, Options{InitialState: "DRAFT"})
}

func doRequest(t *testing.T, h http.Handler, method, path, owner, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set("X-Owner-Id", owner)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var result map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode JSON: %v\nbody: %s", err, rr.Body.String())
	}
	return result
}

func createProject(t *testing.T, h http.Handler, owner string) string {
	t.Helper()
	rr := doRequest(t, h, "POST", "/api/projects", owner, `{"title": "Course X"}`)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create project status = %d, body: %s", rr.Code, rr.Body.String())
	}
	return decodeJSON(t, rr)["id"].(string)
}

func TestHealth_NoAuthRequired(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := doRequest(t, h, "GET", "/api/health", "", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := decodeJSON(t, rr)["gates"].(float64); got != 1 {
		t.Errorf("gates = %v, want 1", got)
	}
}

func TestMissingOwnerHeader(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := doRequest(t, h, "GET", "/api/projects", "", "")
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rr.Code)
	}
}

func TestCreateAndGetProject(t *testing.T) {
	h := newTestServer(t).Handler()
	id := createProject(t, h, "owner-1")

	rr := doRequest(t, h, "GET", "/api/projects/"+id, "owner-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSON(t, rr)
	if body["current_state"] != "DRAFT" {
		t.Errorf("current_state = %v", body["current_state"])
	}
	if body["current_gate_id"] != "PROBLEM_VALIDATION_01" {
		t.Errorf("current_gate_id = %v", body["current_gate_id"])
	}
}

func TestCreateProject_TitleRequired(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := doRequest(t, h, "POST", "/api/projects", "owner-1", `{"description": "no title"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rr.Code)
	}
}

func TestGetProject_ForeignOwnerIs404(t *testing.T) {
	h := newTestServer(t).Handler()
	id := createProject(t, h, "owner-1")

	rr := doRequest(t, h, "GET", "/api/projects/"+id, "owner-2", "")
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for foreign project", rr.Code)
	}
}

func TestListProjects_EmptyIsArray(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := doRequest(t, h, "GET", "/api/projects", "owner-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestEvaluate_Flow(t *testing.T) {
	h := newTestServer(t).Handler()
	id := createProject(t, h, "owner-1")

	// Empty bundle: required paths unresolved.
	rr := doRequest(t, h, "POST", "/api/projects/"+id+"/evaluate", "owner-1", `{"artifacts": {}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body: %s", rr.Code, rr.Body.String())
	}
	body := decodeJSON(t, rr)
	if body["decision"] != "need_more" {
		t.Fatalf("decision = %v, want need_more", body["decision"])
	}
	if body["next_state"] != nil {
		t.Errorf("next_state = %v, want null", body["next_state"])
	}
	if body["submission_id"] == "" {
		t.Error("submission_id missing")
	}

	// Complete bundle: allow and advance.
	rr = doRequest(t, h, "POST", "/api/projects/"+id+"/evaluate", "owner-1",
		`{"artifacts": {"scenario": {"actor": "operator"}, "cost_of_error": {"amount": 900}}}`)
	body = decodeJSON(t, rr)
	if body["decision"] != "allow" {
		t.Fatalf("decision = %v, body: %s", body["decision"], rr.Body.String())
	}
	if body["next_state"] != "VALIDATED_PROBLEM" {
		t.Errorf("next_state = %v", body["next_state"])
	}
	if body["project_state"] != "DRAFT" {
		t.Errorf("project_state = %v, want the pre-advance state", body["project_state"])
	}

	rr = doRequest(t, h, "GET", "/api/projects/"+id, "owner-1", "")
	if got := decodeJSON(t, rr)["current_state"]; got != "VALIDATED_PROBLEM" {
		t.Errorf("current_state = %v", got)
	}
}

func TestEvaluate_BadRequests(t *testing.T) {
	h := newTestServer(t).Handler()
	id := createProject(t, h, "owner-1")

	rr := doRequest(t, h, "POST", "/api/projects/"+id+"/evaluate", "owner-1", `not json`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", rr.Code)
	}

	rr = doRequest(t, h, "POST", "/api/projects/"+id+"/evaluate", "owner-1", `{}`)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing artifacts status = %d, want 400", rr.Code)
	}
}

func TestEvaluate_UnknownProject(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := doRequest(t, h, "POST", "/api/projects/ghost/evaluate", "owner-1", `{"artifacts": {}}`)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rr.Code)
	}
}

func TestSubmissionAudit(t *testing.T) {
	h := newTestServer(t).Handler()
	id := createProject(t, h, "owner-1")

	rr := doRequest(t, h, "POST", "/api/projects/"+id+"/evaluate", "owner-1",
		`{"artifacts": {"scenario": {"actor": "op"}, "cost_of_error": {"amount": -1}}}`)
	subID := decodeJSON(t, rr)["submission_id"].(string)

	rr = doRequest(t, h, "GET", "/api/submissions/"+subID, "owner-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSON(t, rr)
	imm := body["immutability"].(map[string]any)
	if imm["is_immutable"] != true {
		t.Errorf("is_immutable = %v", imm["is_immutable"])
	}
	result := body["result"].(map[string]any)
	if result["decision"] != "reject" {
		t.Errorf("stored decision = %v", result["decision"])
	}
	if body["state_before"] != "DRAFT" || body["state_after"] != "DRAFT" {
		t.Errorf("states = %v → %v", body["state_before"], body["state_after"])
	}

	// Foreign owner cannot see the record.
	rr = doRequest(t, h, "GET", "/api/submissions/"+subID, "owner-2", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("foreign owner status = %d, want 404", rr.Code)
	}
}

func TestListSubmissions(t *testing.T) {
	h := newTestServer(t).Handler()
	id := createProject(t, h, "owner-1")

	for i := 0; i < 3; i++ {
		doRequest(t, h, "POST", "/api/projects/"+id+"/evaluate", "owner-1", `{"artifacts": {}}`)
	}

	rr := doRequest(t, h, "GET", "/api/projects/"+id+"/submissions?limit=2", "owner-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSON(t, rr)
	items := body["items"].([]any)
	if len(items) != 2 {
		t.Fatalf("items len = %d, want 2", len(items))
	}
	cursor, ok := body["next_cursor"].(string)
	if !ok || cursor == "" {
		t.Fatal("next_cursor missing")
	}

	rr = doRequest(t, h, "GET", "/api/projects/"+id+"/submissions?limit=2&cursor="+cursor, "owner-1", "")
	body = decodeJSON(t, rr)
	if len(body["items"].([]any)) != 1 {
		t.Errorf("second page len = %d, want 1", len(body["items"].([]any)))
	}
	if body["next_cursor"] != nil {
		t.Errorf("next_cursor = %v, want null on final page", body["next_cursor"])
	}
}

func TestListSubmissions_InvalidCursor(t *testing.T) {
	h := newTestServer(t).Handler()
	id := createProject(t, h, "owner-1")

	rr := doRequest(t, h, "GET", "/api/projects/"+id+"/submissions?cursor=garbage", "owner-1", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rr.Code)
	}
}

func TestUISchema(t *testing.T) {
	h := newTestServer(t).Handler()
	id := createProject(t, h, "owner-1")

	rr := doRequest(t, h, "GET", "/api/projects/"+id+"/ui-schema", "owner-1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := decodeJSON(t, rr)
	gate := body["gate"].(map[string]any)
	if gate["id"] != "PROBLEM_VALIDATION_01" {
		t.Errorf("gate id = %v", gate["id"])
	}
	fields := body["fields"].([]any)
	if len(fields) == 0 {
		t.Fatal("no fields rendered")
	}

	// Finalize the project; the schema then renders no gate.
	doRequest(t, h, "POST", "/api/projects/"+id+"/evaluate", "owner-1",
		`{"artifacts": {"scenario": {"actor": "op"}, "cost_of_error": {"amount": 900}}}`)

	rr = doRequest(t, h, "GET", "/api/projects/"+id+"/ui-schema", "owner-1", "")
	body = decodeJSON(t, rr)
	if body["gate"] != nil {
		t.Errorf("gate = %v, want null after finalization", body["gate"])
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestServer(t).Handler()
	rr := doRequest(t, h, "OPTIONS", "/api/projects", "", "")
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("missing CORS header")
	}
}
