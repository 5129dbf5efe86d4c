package core

import (
	"context"
	"fmt"
	"slices"

	"bibstat/pkg/domain"
)

// NewDefaultRulesEngine returns an engine with the built-in rules registered.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(ReplacementSymmetryRule())
	engine.Register(ObservationReferenceRule())
	return engine
}

// ReplacementSymmetryRule blocks commits that leave replaced_by and the
// replacing variable's replaces list out of agreement.
func ReplacementSymmetryRule() domain.Rule { return replacementSymmetryRule{} }

type replacementSymmetryRule struct{}

func (replacementSymmetryRule) Name() string { return "replacement_symmetry" }

func (r replacementSymmetryRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	if !touches(changes, domain.EntityVariable) {
		return res, nil
	}
	for _, v := range view.ListVariables() {
		if v.ReplacedBy != nil {
			by, ok := view.FindVariable(*v.ReplacedBy)
			switch {
			case !ok:
				res.Violations = append(res.Violations, r.violation(v.ID, fmt.Sprintf("variable %s is replaced by missing variable %s", v.Key, *v.ReplacedBy)))
			case by.IsDraft:
				res.Violations = append(res.Violations, r.violation(v.ID, fmt.Sprintf("variable %s is replaced by draft %s", v.Key, by.Key)))
			case !slices.Contains(by.Replaces, v.ID):
				res.Violations = append(res.Violations, r.violation(v.ID, fmt.Sprintf("variable %s is replaced by %s which does not list it", v.Key, by.Key)))
			}
		}
		if v.IsDraft {
			continue
		}
		for _, id := range v.Replaces {
			sibling, ok := view.FindVariable(id)
			if !ok || !sibling.IsReplacedBy(v.ID) {
				res.Violations = append(res.Violations, r.violation(v.ID, fmt.Sprintf("variable %s lists %s in replaces without a matching replaced_by", v.Key, id)))
			}
		}
	}
	return res, nil
}

func (replacementSymmetryRule) violation(id, msg string) domain.Violation {
	return domain.Violation{
		Rule:     "replacement_symmetry",
		Severity: domain.SeverityBlock,
		Message:  msg,
		Entity:   domain.EntityVariable,
		EntityID: id,
	}
}

// ObservationReferenceRule warns about survey observations pointing at
// variables that no longer exist.
func ObservationReferenceRule() domain.Rule { return observationReferenceRule{} }

type observationReferenceRule struct{}

func (observationReferenceRule) Name() string { return "observation_reference" }

func (observationReferenceRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntitySurvey || change.After == nil {
			continue
		}
		survey, ok := change.After.(domain.Survey)
		if !ok {
			continue
		}
		for _, obs := range survey.Observations {
			if _, ok := view.FindVariable(obs.VariableID); ok {
				continue
			}
			res.Violations = append(res.Violations, domain.Violation{
				Rule:     "observation_reference",
				Severity: domain.SeverityWarn,
				Message:  fmt.Sprintf("survey %s observation %s references missing variable %s", survey.ID, obs.SourceKey, obs.VariableID),
				Entity:   domain.EntitySurvey,
				EntityID: survey.ID,
			})
		}
	}
	return res, nil
}

func touches(changes []domain.Change, entity domain.EntityType) bool {
	for _, c := range changes {
		if c.Entity == entity {
			return true
		}
	}
	return false
}
