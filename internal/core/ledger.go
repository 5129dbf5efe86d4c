package core

import "bibstat/pkg/domain"

// saveVariable applies mutator to the stored variable and records a version
// of the prior state when a committed variable changes a tracked field.
// date_modified advances on every save, drafts included.
func saveVariable(tx domain.Transaction, id, actor string, mutator func(*domain.Variable) error) (domain.Variable, error) {
	before, ok := tx.FindVariable(id)
	if !ok {
		return domain.Variable{}, domain.NotFoundError{Entity: domain.EntityVariable, ID: id}
	}
	candidate := before.Clone()
	if err := mutator(&candidate); err != nil {
		return domain.Variable{}, err
	}
	candidate.Base = before.Base
	candidate.UpdatedAt = tx.Now()
	candidate.ModifiedBy = actor

	if !before.IsDraft && !candidate.IsDraft && !before.TrackedEqual(candidate) {
		if _, err := tx.CreateVariableVersion(domain.VariableVersion{
			VariableID: id,
			RecordedBy: actor,
			Snapshot:   before.Clone(),
		}); err != nil {
			return domain.Variable{}, err
		}
	}
	return tx.UpdateVariable(id, func(v *domain.Variable) error {
		*v = candidate
		return nil
	})
}

// saveSurvey applies mutator and versions the survey. Notes-only edits are
// written without a version and without touching date_modified or the
// publication flag. Saves that change nothing write nothing; the second
// return value reports whether a write happened.
func saveSurvey(tx domain.Transaction, id, actor string, mutator func(*domain.Survey) error) (domain.Survey, bool, error) {
	before, ok := tx.FindSurvey(id)
	if !ok {
		return domain.Survey{}, false, domain.NotFoundError{Entity: domain.EntitySurvey, ID: id}
	}
	candidate := before.Clone()
	if err := mutator(&candidate); err != nil {
		return domain.Survey{}, false, err
	}
	candidate.Base = before.Base
	candidate.CreatedBy = before.CreatedBy
	candidate.PublishedAt = before.PublishedAt
	candidate.PublishedBy = before.PublishedBy
	candidate.IsPublished = before.IsPublished
	candidate.ModifiedBy = before.ModifiedBy

	contentChanged := !before.ContentEqual(candidate)
	if !contentChanged && candidate.Notes == before.Notes {
		return before, false, nil
	}
	if contentChanged {
		if _, err := tx.CreateSurveyVersion(domain.SurveyVersion{
			SurveyID:   id,
			RecordedBy: actor,
			Snapshot:   before.Clone(),
		}); err != nil {
			return domain.Survey{}, false, err
		}
		candidate.UpdatedAt = tx.Now()
		candidate.ModifiedBy = actor
		candidate.IsPublished = false
	}
	updated, err := tx.UpdateSurvey(id, func(s *domain.Survey) error {
		*s = candidate
		return nil
	})
	return updated, err == nil, err
}

// markPublication writes publication markers only: no version is recorded
// and date_modified is left alone.
func markPublication(tx domain.Transaction, id string, mark func(*domain.Survey)) (domain.Survey, error) {
	return tx.UpdateSurvey(id, func(s *domain.Survey) error {
		updatedAt := s.UpdatedAt
		mark(s)
		s.UpdatedAt = updatedAt
		return nil
	})
}
