package core

import (
	"context"
	"slices"
	"sort"
	"strings"

	"bibstat/pkg/domain"
)

func validateVariable(v domain.Variable) error {
	verr := domain.ValidationError{Entity: domain.EntityVariable, ID: v.ID}
	if strings.TrimSpace(v.Key) == "" {
		verr.Add("key", "required")
	}
	if !v.Type.Valid() {
		verr.Add("type", "unknown variable type "+string(v.Type))
	}
	for _, g := range v.TargetGroups {
		if !g.Valid() {
			verr.Add("target_groups", "unknown target group "+string(g))
		}
	}
	if v.ActiveFrom != nil && v.ActiveTo != nil && v.ActiveTo.Before(*v.ActiveFrom) {
		verr.Add("active_to", "precedes active_from")
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// CreateVariable persists a new variable. A committed variable listing
// Replaces takes over those variables from its active_from date; a draft
// only records the intent.
func (s *Service) CreateVariable(ctx context.Context, v domain.Variable, actor string) (domain.Variable, domain.Result, error) {
	var created domain.Variable
	res, err := s.run(ctx, "create_variable", actor, func(tx domain.Transaction) (string, error) {
		if v.ReplacedBy != nil {
			return "", domain.ValidationError{Entity: domain.EntityVariable, Fields: map[string]string{"replaced_by": "set through the replacing variable"}}
		}
		if err := validateVariable(v); err != nil {
			return "", err
		}
		replaces := v.Replaces
		v.Replaces = nil
		v.ModifiedBy = actor
		var err error
		created, err = tx.CreateVariable(v)
		if err != nil || len(replaces) == 0 {
			return created.ID, err
		}
		plan, err := domain.PlanReplacement(tx, created, replaces, created.ActiveFrom)
		if err != nil {
			return created.ID, err
		}
		// The record has no history yet, so its replaces list is written
		// directly instead of through the ledger.
		created, err = tx.UpdateVariable(created.ID, func(cur *domain.Variable) error {
			cur.Replaces = plan.Replacement.Replaces
			return nil
		})
		if err != nil || created.IsDraft {
			return created.ID, err
		}
		_, err = persistSiblings(tx, plan, actor)
		return created.ID, err
	})
	return created, res, err
}

// GetVariable returns a variable by id.
func (s *Service) GetVariable(ctx context.Context, id string) (domain.Variable, error) {
	var out domain.Variable
	err := s.view(ctx, "get_variable", func(view domain.TransactionView) error {
		v, ok := view.FindVariable(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityVariable, ID: id}
		}
		out = v
		return nil
	})
	return out, err
}

// ListVariables returns every variable ordered by key.
func (s *Service) ListVariables(ctx context.Context) ([]domain.Variable, error) {
	return s.filterVariables(ctx, "list_variables", func(domain.Variable) bool { return true })
}

// PublicTerms returns the public, committed variables exposed by the term API.
func (s *Service) PublicTerms(ctx context.Context) ([]domain.Variable, error) {
	return s.filterVariables(ctx, "public_terms", func(v domain.Variable) bool { return v.IsPublic && !v.IsDraft })
}

// ReplaceableVariables lists variables another variable may take over.
func (s *Service) ReplaceableVariables(ctx context.Context) ([]domain.Variable, error) {
	return s.filterVariables(ctx, "replaceable_variables", domain.Variable.Replaceable)
}

// SurveyableVariables lists variables new surveys may reference today.
func (s *Service) SurveyableVariables(ctx context.Context) ([]domain.Variable, error) {
	today := s.today()
	return s.filterVariables(ctx, "surveyable_variables", func(v domain.Variable) bool { return v.Surveyable(today) })
}

func (s *Service) filterVariables(ctx context.Context, op string, keep func(domain.Variable) bool) ([]domain.Variable, error) {
	var out []domain.Variable
	err := s.view(ctx, op, func(view domain.TransactionView) error {
		for _, v := range view.ListVariables() {
			if keep(v) {
				out = append(out, v)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, err
}

// PublicTerm returns the public variable with key.
func (s *Service) PublicTerm(ctx context.Context, key string) (domain.Variable, error) {
	var out domain.Variable
	err := s.view(ctx, "public_term", func(view domain.TransactionView) error {
		v, ok := view.FindVariableByKey(key)
		if !ok || !v.IsPublic || v.IsDraft {
			return domain.NotFoundError{Entity: domain.EntityVariable, ID: key}
		}
		out = v
		return nil
	})
	return out, err
}

// VariableVersions returns the recorded snapshots of a variable, oldest first.
func (s *Service) VariableVersions(ctx context.Context, id string) ([]domain.VariableVersion, error) {
	var out []domain.VariableVersion
	err := s.view(ctx, "variable_versions", func(view domain.TransactionView) error {
		if _, ok := view.FindVariable(id); !ok {
			return domain.NotFoundError{Entity: domain.EntityVariable, ID: id}
		}
		out = view.ListVariableVersions(id)
		return nil
	})
	return out, err
}

// UpdateVariable applies mutator through the version ledger. Replacement
// edges and the active_to of a replaced variable are owned by
// ReplaceSiblings and are refused here, except that drafts may change the
// variables they intend to replace. Committing a draft applies its
// replacements from its active_from date.
func (s *Service) UpdateVariable(ctx context.Context, id, actor string, mutator func(*domain.Variable) error) (domain.Variable, domain.Result, error) {
	var updated domain.Variable
	res, err := s.run(ctx, "update_variable", actor, func(tx domain.Transaction) (string, error) {
		before, ok := tx.FindVariable(id)
		if !ok {
			return id, domain.NotFoundError{Entity: domain.EntityVariable, ID: id}
		}
		candidate := before.Clone()
		if err := mutator(&candidate); err != nil {
			return id, err
		}
		if err := guardGraphEdits(before, candidate); err != nil {
			return id, err
		}
		if err := validateVariable(candidate); err != nil {
			return id, err
		}
		var plan domain.ReplacementPlan
		committing := before.IsDraft && !candidate.IsDraft && len(candidate.Replaces) > 0
		if committing {
			var err error
			plan, err = domain.PlanReplacement(tx, before, candidate.Replaces, candidate.ActiveFrom)
			if err != nil {
				return id, err
			}
			candidate.Replaces = plan.Replacement.Replaces
		}
		var err error
		updated, err = saveVariable(tx, id, actor, func(v *domain.Variable) error {
			*v = candidate
			return nil
		})
		if err != nil || !committing {
			return id, err
		}
		_, err = persistSiblings(tx, plan, actor)
		return id, err
	})
	return updated, res, err
}

func guardGraphEdits(before, after domain.Variable) error {
	verr := domain.ValidationError{Entity: domain.EntityVariable, ID: before.ID}
	if !equalStringPtr(before.ReplacedBy, after.ReplacedBy) {
		verr.Add("replaced_by", "changed only by replacing variables")
	}
	if !before.IsDraft && !slices.Equal(before.Replaces, after.Replaces) {
		verr.Add("replaces", "changed only through sibling replacement")
	}
	if !before.IsDraft && after.IsDraft && (len(before.Replaces) > 0 || before.ReplacedBy != nil) {
		verr.Add("is_draft", "variables in a replacement cannot return to draft")
	}
	if !before.IsDraft && before.ReplacedBy != nil && !datePtrEqual(before.ActiveTo, after.ActiveTo) {
		verr.Add("active_to", "driven by the replacing variable")
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

// ReplaceSiblings makes the replacement variable take over candidateIDs from
// switchover onwards. It returns the siblings whose replaced_by or active_to
// changed. A draft replacement only records its replaces list.
func (s *Service) ReplaceSiblings(ctx context.Context, replacementID string, candidateIDs []string, switchover *domain.Date, actor string) ([]domain.Variable, domain.Result, error) {
	var mutated []domain.Variable
	res, err := s.run(ctx, "replace_siblings", actor, func(tx domain.Transaction) (string, error) {
		replacement, ok := tx.FindVariable(replacementID)
		if !ok {
			return replacementID, domain.NotFoundError{Entity: domain.EntityVariable, ID: replacementID}
		}
		var err error
		_, mutated, err = applyReplacement(tx, replacement, candidateIDs, switchover, actor)
		return replacementID, err
	})
	if err != nil {
		return nil, res, err
	}
	return mutated, res, nil
}

// applyReplacement plans and persists a replacement inside tx, writing the
// replacement before its siblings.
func applyReplacement(tx domain.Transaction, replacement domain.Variable, candidateIDs []string, switchover *domain.Date, actor string) (domain.Variable, []domain.Variable, error) {
	plan, err := domain.PlanReplacement(tx, replacement, candidateIDs, switchover)
	if err != nil {
		return domain.Variable{}, nil, err
	}
	updated, err := saveVariable(tx, replacement.ID, actor, func(v *domain.Variable) error {
		v.Replaces = plan.Replacement.Replaces
		return nil
	})
	if err != nil {
		return domain.Variable{}, nil, err
	}
	if replacement.IsDraft {
		return updated, nil, nil
	}
	mutated, err := persistSiblings(tx, plan, actor)
	if err != nil {
		return domain.Variable{}, nil, err
	}
	return updated, mutated, nil
}

// persistSiblings writes the sibling edits of plan through the ledger. The
// replacement itself must already carry its new replaces list.
func persistSiblings(tx domain.Transaction, plan domain.ReplacementPlan, actor string) ([]domain.Variable, error) {
	mutated := make([]domain.Variable, 0, len(plan.Siblings))
	for _, sibling := range plan.Siblings {
		saved, err := saveVariable(tx, sibling.ID, actor, func(v *domain.Variable) error {
			v.ReplacedBy = sibling.ReplacedBy
			v.ActiveTo = sibling.ActiveTo
			return nil
		})
		if err != nil {
			return nil, err
		}
		mutated = append(mutated, saved)
	}
	return mutated, nil
}

func isDeletable(view domain.TransactionView, v domain.Variable) bool {
	if v.IsDraft {
		return true
	}
	for _, survey := range view.ListSurveys() {
		if _, _, ok := survey.ObservationFor(v.ID); ok {
			return false
		}
	}
	for _, row := range view.ListOpenData() {
		if row.VariableID == v.ID {
			return false
		}
	}
	return true
}

// IsDeletable reports whether the variable may be deleted: drafts always,
// committed variables only while no survey or published row references them.
func (s *Service) IsDeletable(ctx context.Context, id string) (bool, error) {
	var deletable bool
	err := s.view(ctx, "is_deletable", func(view domain.TransactionView) error {
		v, ok := view.FindVariable(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntityVariable, ID: id}
		}
		deletable = isDeletable(view, v)
		return nil
	})
	return deletable, err
}

// DeleteVariable removes a deletable variable and releases the variables it
// replaced, in one transaction.
func (s *Service) DeleteVariable(ctx context.Context, id, actor string) (domain.Result, error) {
	return s.run(ctx, "delete_variable", actor, func(tx domain.Transaction) (string, error) {
		v, ok := tx.FindVariable(id)
		if !ok {
			return id, domain.NotFoundError{Entity: domain.EntityVariable, ID: id}
		}
		if !isDeletable(tx.Snapshot(), v) {
			return id, domain.ConflictError{Entity: domain.EntityVariable, ID: id, Reason: "variable is referenced by surveys or open data"}
		}
		for _, siblingID := range v.Replaces {
			sibling, ok := tx.FindVariable(siblingID)
			if !ok || !sibling.IsReplacedBy(id) {
				continue
			}
			if _, err := saveVariable(tx, siblingID, actor, func(sv *domain.Variable) error {
				sv.ReplacedBy = nil
				sv.ActiveTo = nil
				return nil
			}); err != nil {
				return id, err
			}
		}
		for _, other := range tx.Snapshot().ListVariables() {
			if other.ID == id || !slices.Contains(other.Replaces, id) {
				continue
			}
			if _, err := saveVariable(tx, other.ID, actor, func(ov *domain.Variable) error {
				ov.Replaces = slices.DeleteFunc(ov.Replaces, func(r string) bool { return r == id })
				return nil
			}); err != nil {
				return id, err
			}
		}
		return id, tx.DeleteVariable(id)
	})
}

func equalStringPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func datePtrEqual(a, b *domain.Date) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
