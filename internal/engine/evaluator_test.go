package engine

import (
	"reflect"
	"regexp"
	"testing"

	"github.com/gatekit/gatekit/internal/bundle"
	"github.com/gatekit/gatekit/internal/model"
)

func mustBundle(t *testing.T, data string) bundle.Value {
	t.Helper()
	b, err := bundle.FromJSON([]byte(data))
	if err != nil {
		t.Fatalf("FromJSON: %v", err)
	}
	return b
}

func floatPtr(f float64) *float64 { return &f }

// scenarioGate guards DRAFT: the submitter must name the failure actor and
// quantify the cost of getting it wrong.
func scenarioGate() *model.GateContract {
	return &model.GateContract{
		GateID:     "PROBLEM_VALIDATION_01",
		Version:    "1.1.0",
		EntryState: "DRAFT",
		RequiredPaths: []string{
			"scenario.actor",
			"cost_of_error.amount",
		},
		Transitions: model.TransitionTable{
			Allow:    "VALIDATED_PROBLEM",
			Reject:   "DRAFT",
			NeedMore: "DRAFT",
		},
		Rules: []model.Rule{
			{
				RuleID:       "actor_named",
				ArtifactPath: "scenario.actor",
				Predicate:    model.Predicate{Kind: model.PredicatePresence},
				ErrorCode:    "ERR_VAGUE_OBJECTIVE",
				Message:      "{path} must name who hits the failure",
				Severity:     model.SeverityError,
			},
			{
				RuleID:       "cost_positive",
				ArtifactPath: "cost_of_error.amount",
				Predicate:    model.Predicate{Kind: model.PredicateRange, Min: floatPtr(0), ExclusiveMin: true},
				ErrorCode:    "ERR_LOW_BUSINESS_IMPACT",
				Message:      "{path} must be positive, got {value}",
				Severity:     model.SeverityError,
				UIFieldID:    "cost_amount",
			},
		},
	}
}

func TestEvaluate_Allow(t *testing.T) {
	b := mustBundle(t, `{
		"scenario": {"actor": "support operator"},
		"cost_of_error": {"amount": 1200}
	}`)

	ev := Evaluate(b, scenarioGate())
	if ev.Decision != model.DecisionAllow {
		t.Fatalf("Decision = %q, want allow; violations: %+v", ev.Decision, ev.Violations)
	}
	if len(ev.Violations) != 0 {
		t.Errorf("Violations len = %d, want 0", len(ev.Violations))
	}
}

func TestEvaluate_RequiredPathGaps(t *testing.T) {
	gate := scenarioGate()
	gate.Rules = nil // only required paths remain

	ev := Evaluate(mustBundle(t, `{}`), gate)
	if ev.Decision != model.DecisionNeedMore {
		t.Fatalf("Decision = %q, want need_more", ev.Decision)
	}
	if len(ev.Violations) != 2 {
		t.Fatalf("Violations len = %d, want 2: %+v", len(ev.Violations), ev.Violations)
	}
	// Gap violations follow declared path order.
	if ev.Violations[0].Path != "scenario.actor" || ev.Violations[1].Path != "cost_of_error.amount" {
		t.Errorf("gap order = %q, %q", ev.Violations[0].Path, ev.Violations[1].Path)
	}
	for _, v := range ev.Violations {
		if v.Code != model.CodeRequiredMissing {
			t.Errorf("Code = %q, want %q", v.Code, model.CodeRequiredMissing)
		}
		if v.Severity != model.SeverityError {
			t.Errorf("Severity = %q, want error", v.Severity)
		}
	}
}

func TestEvaluate_RejectWinsOverNeedMore(t *testing.T) {
	// actor present but cost negative: the range rule rejects even though
	// required paths are satisfied; add a second gap to show reject wins.
	b := mustBundle(t, `{
		"scenario": {"actor": "operator"},
		"cost_of_error": {"amount": -5}
	}`)
	ev := Evaluate(b, scenarioGate())
	if ev.Decision != model.DecisionReject {
		t.Fatalf("Decision = %q, want reject", ev.Decision)
	}
	if len(ev.Violations) != 1 {
		t.Fatalf("Violations len = %d, want 1: %+v", len(ev.Violations), ev.Violations)
	}
	v := ev.Violations[0]
	if v.Code != "ERR_LOW_BUSINESS_IMPACT" {
		t.Errorf("Code = %q", v.Code)
	}
	if v.Message != "cost_of_error.amount must be positive, got -5" {
		t.Errorf("Message = %q", v.Message)
	}
	if v.UIFieldID != "cost_amount" {
		t.Errorf("UIFieldID = %q, want explicit binding kept", v.UIFieldID)
	}
}

func TestEvaluate_FlaggedPathSkipsDuplicateGap(t *testing.T) {
	// The presence rule on scenario.actor already explains the missing
	// path with error severity; no synthetic gap violation is added for it.
	b := mustBundle(t, `{"cost_of_error": {"amount": 10}}`)
	ev := Evaluate(b, scenarioGate())
	if ev.Decision != model.DecisionReject {
		t.Fatalf("Decision = %q, want reject", ev.Decision)
	}
	if len(ev.Violations) != 1 {
		t.Fatalf("Violations len = %d, want 1 (no duplicate gap): %+v", len(ev.Violations), ev.Violations)
	}
	if ev.Violations[0].Code != "ERR_VAGUE_OBJECTIVE" {
		t.Errorf("Code = %q", ev.Violations[0].Code)
	}
}

func TestEvaluate_WarningsNeverBlock(t *testing.T) {
	gate := &model.GateContract{
		GateID: "G", Version: "1", EntryState: "S",
		Transitions: model.TransitionTable{Allow: "T", Reject: "S", NeedMore: "S"},
		Rules: []model.Rule{{
			RuleID:       "thin_rule",
			ArtifactPath: "admission_rule",
			Predicate:    model.Predicate{Kind: model.PredicatePattern, MinWords: 10},
			ErrorCode:    "ERR_GOAL_RULE_MISMATCH",
			Message:      "{path} looks thin",
			Severity:     model.SeverityWarning,
		}},
	}
	ev := Evaluate(mustBundle(t, `{"admission_rule": "forbid merge"}`), gate)
	if ev.Decision != model.DecisionAllow {
		t.Fatalf("Decision = %q, want allow with warning", ev.Decision)
	}
	if len(ev.Violations) != 1 || ev.Violations[0].Severity != model.SeverityWarning {
		t.Fatalf("Violations = %+v, want one warning", ev.Violations)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	b := mustBundle(t, `{"cost_of_error": {"amount": -1}}`)
	gate := scenarioGate()
	first := Evaluate(b, gate)
	for i := 0; i < 5; i++ {
		again := Evaluate(b, gate)
		if again.Decision != first.Decision || len(again.Violations) != len(first.Violations) {
			t.Fatalf("run %d diverged: %+v vs %+v", i, again, first)
		}
		if !reflect.DeepEqual(again.Violations, first.Violations) {
			t.Fatalf("run %d violations diverged", i)
		}
	}
}

// ---------------------------------------------------------------------------
// Predicate semantics
// ---------------------------------------------------------------------------

func evalSingle(t *testing.T, json string, rule model.Rule) (model.Violation, bool) {
	t.Helper()
	return applyRule(mustBundle(t, json), rule)
}

func TestPredicate_Presence(t *testing.T) {
	rule := model.Rule{
		RuleID: "r", ArtifactPath: "a",
		Predicate: model.Predicate{Kind: model.PredicatePresence},
		ErrorCode: "E", Message: "m", Severity: model.SeverityError,
	}

	if _, failed := evalSingle(t, `{"a": "x"}`, rule); failed {
		t.Error("presence failed on present value")
	}
	if _, failed := evalSingle(t, `{}`, rule); !failed {
		t.Error("presence passed on absent path")
	}
	if _, failed := evalSingle(t, `{"a": ""}`, rule); !failed {
		t.Error("presence passed on empty string")
	}
	if _, failed := evalSingle(t, `{"a": null}`, rule); !failed {
		t.Error("presence passed on null")
	}

	rule.Predicate.AllowNull = true
	if _, failed := evalSingle(t, `{"a": null}`, rule); failed {
		t.Error("presence with allow_null failed on null")
	}
}

func TestPredicate_TypePassesOnAbsence(t *testing.T) {
	rule := model.Rule{
		RuleID: "r", ArtifactPath: "a",
		Predicate: model.Predicate{Kind: model.PredicateType, WantKind: bundle.KindArray},
		ErrorCode: "E", Message: "m", Severity: model.SeverityError,
	}

	if _, failed := evalSingle(t, `{}`, rule); failed {
		t.Error("type failed on absent path, want pass")
	}
	if _, failed := evalSingle(t, `{"a": [1]}`, rule); failed {
		t.Error("type failed on matching kind")
	}
	if _, failed := evalSingle(t, `{"a": "nope"}`, rule); !failed {
		t.Error("type passed on wrong kind")
	}
}

func TestPredicate_Range(t *testing.T) {
	rule := model.Rule{
		RuleID: "r", ArtifactPath: "n",
		Predicate: model.Predicate{Kind: model.PredicateRange, Min: floatPtr(1), Max: floatPtr(10)},
		ErrorCode: "E", Message: "m", Severity: model.SeverityError,
	}

	cases := []struct {
		json string
		fail bool
	}{
		{`{"n": 1}`, false},  // inclusive min
		{`{"n": 10}`, false}, // inclusive max
		{`{"n": 0.5}`, true},
		{`{"n": 11}`, true},
		{`{"n": "5"}`, true}, // strings are not numbers
		{`{}`, false},        // absent passes
	}
	for _, c := range cases {
		if _, failed := evalSingle(t, c.json, rule); failed != c.fail {
			t.Errorf("range on %s: failed = %v, want %v", c.json, failed, c.fail)
		}
	}

	rule.Predicate.ExclusiveMin = true
	if _, failed := evalSingle(t, `{"n": 1}`, rule); !failed {
		t.Error("exclusive min passed boundary value")
	}
}

func TestPredicate_Pattern(t *testing.T) {
	rule := model.Rule{
		RuleID: "r", ArtifactPath: "s",
		Predicate: model.Predicate{
			Kind:     model.PredicatePattern,
			Pattern:  regexp.MustCompile(`(?i)\b(when|if)\b`),
			MinWords: 3,
		},
		ErrorCode: "E", Message: "m", Severity: model.SeverityError,
	}

	cases := []struct {
		json string
		fail bool
	}{
		{`{"s": "fails when the cache is cold"}`, false},
		{`{"s": "always fails badly"}`, true}, // no conditional marker
		{`{"s": "if cold"}`, true},            // too few words
		{`{"s": 42}`, true},                   // not a string
		{`{}`, false},                         // absent passes
	}
	for _, c := range cases {
		if _, failed := evalSingle(t, c.json, rule); failed != c.fail {
			t.Errorf("pattern on %s: failed = %v, want %v", c.json, failed, c.fail)
		}
	}
}

func TestPredicate_RequireTogether(t *testing.T) {
	rule := model.Rule{
		RuleID:        "r",
		ArtifactPaths: []string{"impact.value", "impact.unit"},
		Predicate:     model.Predicate{Kind: model.PredicateRequireTogether},
		ErrorCode:     "E", Message: "m", Severity: model.SeverityError,
	}

	cases := []struct {
		json string
		fail bool
	}{
		{`{}`, false}, // fully absent group passes
		{`{"impact": {"value": 5, "unit": "USD"}}`, false},
		{`{"impact": {"value": 5}}`, true},     // partial
		{`{"impact": {"unit": ""}}`, false},    // empty counts as absent
		{`{"impact": {"value": 0}}`, true},     // zero is present
	}
	for _, c := range cases {
		if _, failed := evalSingle(t, c.json, rule); failed != c.fail {
			t.Errorf("require_together on %s: failed = %v, want %v", c.json, failed, c.fail)
		}
	}
}

func TestDefaultUIBinding(t *testing.T) {
	rule := model.Rule{
		RuleID: "r", ArtifactPath: "scenario.actor",
		Predicate: model.Predicate{Kind: model.PredicatePresence},
		ErrorCode: "E", Message: "m", Severity: model.SeverityError,
	}
	v, failed := evalSingle(t, `{}`, rule)
	if !failed {
		t.Fatal("expected failure")
	}
	if v.UIFieldID != "scenario.actor" {
		t.Errorf("UIFieldID = %q, want path fallback", v.UIFieldID)
	}
}

func TestRenderMessage_AbsentValue(t *testing.T) {
	rule := model.Rule{
		RuleID: "r", ArtifactPath: "a",
		Predicate: model.Predicate{Kind: model.PredicatePresence},
		ErrorCode: "E", Message: "{path} is {value}", Severity: model.SeverityError,
	}
	v, failed := evalSingle(t, `{}`, rule)
	if !failed {
		t.Fatal("expected failure")
	}
	if v.Message != "a is absent" {
		t.Errorf("Message = %q", v.Message)
	}
}
