package registry

import (
	"fmt"
	"regexp"

	"github.com/gatekit/gatekit/internal/bundle"
	"github.com/gatekit/gatekit/internal/model"
)

// gateDocument is the decoded form of an authored gate contract file.
// Document format is validated against gate.schema.json before decoding,
// so compile only has to handle semantic checks.
type gateDocument struct {
	GateID        string              `json:"gate_id"`
	Version       string              `json:"version"`
	Title         string              `json:"title"`
	EntryState    string              `json:"entry_state"`
	RequiredPaths []string            `json:"required_artifact_paths"`
	Transitions   transitionsDocument `json:"transitions"`
	Rules         []ruleDocument      `json:"rules"`
}

type transitionsDocument struct {
	Allow    string `json:"allow"`
	Reject   string `json:"reject"`
	NeedMore string `json:"need_more"`
}

type ruleDocument struct {
	RuleID        string            `json:"rule_id"`
	ArtifactPath  string            `json:"artifact_path"`
	ArtifactPaths []string          `json:"artifact_paths"`
	Predicate     predicateDocument `json:"predicate"`
	ErrorCode     string            `json:"error_code"`
	Message       string            `json:"message"`
	Severity      string            `json:"severity"`
	UIFieldID     string            `json:"ui_field_id"`
	UIFieldIDs    []string          `json:"ui_field_ids"`
	UIBlockID     string            `json:"ui_block_id"`
}

type predicateDocument struct {
	Kind         string   `json:"kind"`
	AllowNull    bool     `json:"allow_null"`
	Want         string   `json:"want"`
	Min          *float64 `json:"min"`
	Max          *float64 `json:"max"`
	ExclusiveMin bool     `json:"exclusive_min"`
	Regexp       string   `json:"regexp"`
	MinLen       int      `json:"min_len"`
	MaxLen       int      `json:"max_len"`
	MinWords     int      `json:"min_words"`
}

// compile turns a validated document into an immutable contract. Regexps
// are compiled once here so evaluation stays allocation-light.
func (d gateDocument) compile() (*model.GateContract, error) {
	contract := &model.GateContract{
		GateID:        d.GateID,
		Version:       d.Version,
		Title:         d.Title,
		EntryState:    d.EntryState,
		RequiredPaths: d.RequiredPaths,
		Transitions: model.TransitionTable{
			Allow:    d.Transitions.Allow,
			Reject:   d.Transitions.Reject,
			NeedMore: d.Transitions.NeedMore,
		},
	}

	seen := make(map[string]bool, len(d.Rules))
	for _, rd := range d.Rules {
		if seen[rd.RuleID] {
			return nil, fmt.Errorf("rule %q: duplicate rule_id", rd.RuleID)
		}
		seen[rd.RuleID] = true

		rule, err := rd.compile()
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", rd.RuleID, err)
		}
		contract.Rules = append(contract.Rules, rule)
	}

	return contract, nil
}

func (rd ruleDocument) compile() (model.Rule, error) {
	severity := model.SeverityError
	if rd.Severity != "" {
		sv, err := model.ParseSeverity(rd.Severity)
		if err != nil {
			return model.Rule{}, err
		}
		severity = sv
	}

	pred, err := rd.Predicate.compile()
	if err != nil {
		return model.Rule{}, err
	}

	if pred.Kind == model.PredicateRequireTogether {
		if len(rd.ArtifactPaths) < 2 {
			return model.Rule{}, fmt.Errorf("require_together needs artifact_paths")
		}
	} else if rd.ArtifactPath == "" {
		return model.Rule{}, fmt.Errorf("predicate %s needs artifact_path", pred.Kind)
	}

	return model.Rule{
		RuleID:        rd.RuleID,
		ArtifactPath:  rd.ArtifactPath,
		ArtifactPaths: rd.ArtifactPaths,
		Predicate:     pred,
		ErrorCode:     rd.ErrorCode,
		Message:       rd.Message,
		Severity:      severity,
		UIFieldID:     rd.UIFieldID,
		UIFieldIDs:    rd.UIFieldIDs,
		UIBlockID:     rd.UIBlockID,
	}, nil
}

func (pd predicateDocument) compile() (model.Predicate, error) {
	switch kind := model.PredicateKind(pd.Kind); kind {
	case model.PredicatePresence:
		return model.Predicate{Kind: kind, AllowNull: pd.AllowNull}, nil

	case model.PredicateType:
		if pd.Want == "" {
			return model.Predicate{}, fmt.Errorf("type predicate needs want")
		}
		return model.Predicate{Kind: kind, WantKind: bundle.Kind(pd.Want)}, nil

	case model.PredicateRange:
		if pd.Min == nil && pd.Max == nil {
			return model.Predicate{}, fmt.Errorf("range predicate needs min or max")
		}
		return model.Predicate{
			Kind:         kind,
			Min:          pd.Min,
			Max:          pd.Max,
			ExclusiveMin: pd.ExclusiveMin,
		}, nil

	case model.PredicatePattern:
		p := model.Predicate{
			Kind:     kind,
			MinLen:   pd.MinLen,
			MaxLen:   pd.MaxLen,
			MinWords: pd.MinWords,
		}
		if pd.Regexp != "" {
			re, err := regexp.Compile(pd.Regexp)
			if err != nil {
				return model.Predicate{}, fmt.Errorf("compile regexp: %w", err)
			}
			p.Pattern = re
		}
		if p.Pattern == nil && p.MinLen == 0 && p.MaxLen == 0 && p.MinWords == 0 {
			return model.Predicate{}, fmt.Errorf("pattern predicate needs regexp or a length bound")
		}
		return p, nil

	case model.PredicateRequireTogether:
		return model.Predicate{Kind: kind}, nil

	default:
		return model.Predicate{}, fmt.Errorf("unknown predicate kind %q", pd.Kind)
	}
}
