package core

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"

	"bibstat/pkg/domain"

	"github.com/google/uuid"
)

// SurveyFilter narrows ListSurveys. Zero fields do not filter.
type SurveyFilter struct {
	SampleYear      int
	TargetGroup     domain.TargetGroup
	Status          domain.SurveyStatus
	UnpublishedOnly bool
}

func (f SurveyFilter) match(s domain.Survey) bool {
	switch {
	case f.SampleYear != 0 && s.SampleYear != f.SampleYear:
		return false
	case f.TargetGroup != "" && s.TargetGroup != f.TargetGroup:
		return false
	case f.Status != "" && s.Status != f.Status:
		return false
	case f.UnpublishedOnly && s.IsPublished:
		return false
	}
	return true
}

// Answer is a respondent's value for one cell.
type Answer struct {
	Value   domain.Value
	Unknown bool
}

func newPassword() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// CreateSurvey creates the survey of library sigel for sampleYear from the
// year's template, with one empty observation per template cell.
func (s *Service) CreateSurvey(ctx context.Context, sigel string, sampleYear int, actor string) (domain.Survey, domain.Result, error) {
	var created domain.Survey
	res, err := s.run(ctx, "create_survey", actor, func(tx domain.Transaction) (string, error) {
		var err error
		created, err = s.createSurvey(ctx, tx, sigel, sampleYear, actor)
		return created.ID, err
	})
	return created, res, err
}

func (s *Service) createSurvey(ctx context.Context, tx domain.Transaction, sigel string, sampleYear int, actor string) (domain.Survey, error) {
	if s.libraries == nil {
		return domain.Survey{}, errors.New("no library resolver configured")
	}
	library, err := s.libraries.Resolve(ctx, sigel)
	if err != nil {
		return domain.Survey{}, err
	}
	for _, existing := range tx.Snapshot().ListSurveys() {
		if existing.Library.Sigel == library.Sigel && existing.SampleYear == sampleYear {
			return domain.Survey{}, domain.ConflictError{
				Entity:    domain.EntitySurvey,
				ID:        library.Sigel,
				Reason:    fmt.Sprintf("survey for %d already exists", sampleYear),
				Conflicts: []string{existing.ID},
			}
		}
	}
	template, err := s.templates.TemplateFor(ctx, sampleYear)
	if err != nil {
		return domain.Survey{}, err
	}
	observations := make([]domain.Observation, 0, len(template.Cells))
	for _, cell := range template.Cells {
		v, ok := tx.FindVariableByKey(cell.VariableKey)
		if !ok {
			return domain.Survey{}, domain.NotFoundError{Entity: domain.EntityVariable, ID: cell.VariableKey}
		}
		observations = append(observations, domain.Observation{
			VariableID: v.ID,
			SourceKey:  v.Key,
			IsPublic:   v.IsPublic,
		})
	}
	return tx.CreateSurvey(domain.Survey{
		Library:      library,
		SampleYear:   sampleYear,
		TargetGroup:  library.Category,
		Password:     newPassword(),
		Status:       domain.SurveyNotViewed,
		Observations: observations,
		CreatedBy:    actor,
		ModifiedBy:   actor,
	})
}

// CreateSurveys creates surveys for several libraries, skipping libraries
// that already have one for the year. Each library is its own transaction.
func (s *Service) CreateSurveys(ctx context.Context, sigels []string, sampleYear int, actor string) ([]domain.Survey, []string, error) {
	var created []domain.Survey
	var skipped []string
	for _, sigel := range sigels {
		if err := ctx.Err(); err != nil {
			return created, skipped, err
		}
		survey, _, err := s.CreateSurvey(ctx, sigel, sampleYear, actor)
		var conflict domain.ConflictError
		switch {
		case errors.As(err, &conflict):
			skipped = append(skipped, sigel)
		case err != nil:
			return created, skipped, err
		default:
			created = append(created, survey)
		}
	}
	return created, skipped, nil
}

// GetSurvey returns a survey by id.
func (s *Service) GetSurvey(ctx context.Context, id string) (domain.Survey, error) {
	var out domain.Survey
	err := s.view(ctx, "get_survey", func(view domain.TransactionView) error {
		survey, ok := view.FindSurvey(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntitySurvey, ID: id}
		}
		out = survey
		return nil
	})
	return out, err
}

// ListSurveys returns the surveys matching filter ordered by library name.
func (s *Service) ListSurveys(ctx context.Context, filter SurveyFilter) ([]domain.Survey, error) {
	var out []domain.Survey
	err := s.view(ctx, "list_surveys", func(view domain.TransactionView) error {
		for _, survey := range view.ListSurveys() {
			if filter.match(survey) {
				out = append(out, survey)
			}
		}
		return nil
	})
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].SampleYear != out[j].SampleYear {
			return out[i].SampleYear > out[j].SampleYear
		}
		return out[i].Library.Name < out[j].Library.Name
	})
	return out, err
}

// SampleYears lists the years that have surveys, newest first.
func (s *Service) SampleYears(ctx context.Context) ([]int, error) {
	var years []int
	err := s.view(ctx, "sample_years", func(view domain.TransactionView) error {
		for _, survey := range view.ListSurveys() {
			if !slices.Contains(years, survey.SampleYear) {
				years = append(years, survey.SampleYear)
			}
		}
		return nil
	})
	sort.Sort(sort.Reverse(sort.IntSlice(years)))
	return years, err
}

// SurveyVersions returns the recorded snapshots of a survey, oldest first.
func (s *Service) SurveyVersions(ctx context.Context, id string) ([]domain.SurveyVersion, error) {
	var out []domain.SurveyVersion
	err := s.view(ctx, "survey_versions", func(view domain.TransactionView) error {
		if _, ok := view.FindSurvey(id); !ok {
			return domain.NotFoundError{Entity: domain.EntitySurvey, ID: id}
		}
		out = view.ListSurveyVersions(id)
		return nil
	})
	return out, err
}

// UpdateSurvey applies mutator through the version ledger. Status changes go
// through SetStatus, Submit or Publish.
func (s *Service) UpdateSurvey(ctx context.Context, id, actor string, mutator func(*domain.Survey) error) (domain.Survey, domain.Result, error) {
	return s.saveSurveyOp(ctx, "update_survey", id, actor, func(_ domain.Transaction, survey *domain.Survey) error {
		status := survey.Status
		if err := mutator(survey); err != nil {
			return err
		}
		if survey.Status != status {
			return domain.ValidationError{Entity: domain.EntitySurvey, ID: id, Fields: map[string]string{"status": "changed through status transitions"}}
		}
		return nil
	})
}

// UpdateNotes replaces the internal notes. Notes are not versioned.
func (s *Service) UpdateNotes(ctx context.Context, id, actor, notes string) (domain.Survey, domain.Result, error) {
	return s.saveSurveyOp(ctx, "update_survey_notes", id, actor, func(_ domain.Transaction, survey *domain.Survey) error {
		survey.Notes = notes
		return nil
	})
}

// RecordAnswers stores respondent answers keyed by variable key.
func (s *Service) RecordAnswers(ctx context.Context, id, actor string, answers map[string]Answer) (domain.Survey, domain.Result, error) {
	return s.saveSurveyOp(ctx, "record_answers", id, actor, func(tx domain.Transaction, survey *domain.Survey) error {
		verr := domain.ValidationError{Entity: domain.EntitySurvey, ID: id}
		for key, answer := range answers {
			_, idx, ok := survey.ObservationByKey(key)
			if !ok {
				verr.Add(key, "not part of this survey")
				continue
			}
			obs := &survey.Observations[idx]
			if v, found := tx.FindVariable(obs.VariableID); found && !valueFitsType(answer.Value, v.Type) {
				verr.Add(key, fmt.Sprintf("%s value does not fit %s", answer.Value.Kind(), v.Type))
				continue
			}
			obs.Value = answer.Value
			obs.ValueUnknown = answer.Unknown
		}
		if !verr.Empty() {
			return verr
		}
		return nil
	})
}

func valueFitsType(v domain.Value, t domain.VariableType) bool {
	switch v.Kind() {
	case domain.KindAbsent:
		return true
	case domain.KindString:
		return t == domain.VariableTypeString
	case domain.KindBool:
		return t == domain.VariableTypeBoolean
	case domain.KindInt:
		return t.Numeric()
	case domain.KindFloat:
		return t == domain.VariableTypeDecimal || t == domain.VariableTypePercent
	}
	return false
}

// SelectLibraries records the libraries the survey also reports for.
func (s *Service) SelectLibraries(ctx context.Context, id, actor string, sigels []string) (domain.Survey, domain.Result, error) {
	return s.saveSurveyOp(ctx, "select_libraries", id, actor, func(_ domain.Transaction, survey *domain.Survey) error {
		selected := make([]string, 0, len(sigels))
		for _, sigel := range sigels {
			sigel = strings.TrimSpace(sigel)
			if sigel != "" && sigel != survey.Library.Sigel && !slices.Contains(selected, sigel) {
				selected = append(selected, sigel)
			}
		}
		if len(selected) == 0 {
			selected = nil
		}
		survey.SelectedLibraries = selected
		return nil
	})
}

// ApplyImportedValues stores spreadsheet values keyed by variable key after
// coercing them to the variable type. Unknown keys are ignored.
func (s *Service) ApplyImportedValues(ctx context.Context, id, actor string, raw map[string]any) (domain.Survey, domain.Result, error) {
	return s.saveSurveyOp(ctx, "apply_imported_values", id, actor, func(tx domain.Transaction, survey *domain.Survey) error {
		for i := range survey.Observations {
			obs := &survey.Observations[i]
			value, ok := raw[obs.SourceKey]
			if !ok {
				continue
			}
			v, found := tx.FindVariable(obs.VariableID)
			if !found {
				continue
			}
			obs.Value = domain.CoerceImported(value, v.Type)
			obs.ValueUnknown = false
		}
		return nil
	})
}

// OpenSurvey checks the respondent capability token and marks a survey that
// has never been viewed as initiated.
func (s *Service) OpenSurvey(ctx context.Context, id, password string) (domain.Survey, error) {
	var out domain.Survey
	actor := "respondent"
	_, err := s.run(ctx, "open_survey", actor, func(tx domain.Transaction) (string, error) {
		survey, ok := tx.FindSurvey(id)
		if !ok {
			return id, domain.NotFoundError{Entity: domain.EntitySurvey, ID: id}
		}
		if subtle.ConstantTimeCompare([]byte(survey.Password), []byte(password)) != 1 {
			return id, domain.ErrAccessDenied
		}
		out = survey
		if survey.Status != domain.SurveyNotViewed {
			return id, nil
		}
		var err error
		out, _, err = saveSurvey(tx, id, actor, func(sv *domain.Survey) error {
			sv.Status = domain.SurveyInitiated
			return nil
		})
		return id, err
	})
	return out, err
}

// SubmitSurvey hands the survey in. It is refused while the library
// selection collides with another survey or the answers fail the template.
func (s *Service) SubmitSurvey(ctx context.Context, id, actor string) (domain.Survey, domain.Result, error) {
	return s.saveSurveyOp(ctx, "submit_survey", id, actor, func(tx domain.Transaction, survey *domain.Survey) error {
		if survey.Status != domain.SurveyNotViewed && survey.Status != domain.SurveyInitiated {
			return domain.InvalidStateError{Entity: domain.EntitySurvey, ID: id, From: string(survey.Status), To: string(domain.SurveySubmitted)}
		}
		if err := selectionConflictError(tx.Snapshot(), *survey); err != nil {
			return err
		}
		template, err := s.templates.TemplateFor(ctx, survey.SampleYear)
		var notFound domain.NotFoundError
		switch {
		case errors.As(err, &notFound):
		case err != nil:
			return err
		default:
			if err := validateAgainstTemplate(*survey, template); err != nil {
				return err
			}
		}
		survey.Status = domain.SurveySubmitted
		return nil
	})
}

// SetStatus is the administrator transition. Publishing is only possible
// through Publish; leaving the published status withdraws the open data.
func (s *Service) SetStatus(ctx context.Context, id string, status domain.SurveyStatus, actor string) (domain.Survey, domain.Result, error) {
	return s.saveSurveyOp(ctx, "set_survey_status", id, actor, func(tx domain.Transaction, survey *domain.Survey) error {
		if !status.Valid() {
			return domain.InvalidStateError{Entity: domain.EntitySurvey, ID: id, To: string(status)}
		}
		if status == domain.SurveyPublished && survey.Status != domain.SurveyPublished {
			return domain.InvalidStateError{Entity: domain.EntitySurvey, ID: id, From: string(survey.Status), To: string(status)}
		}
		if survey.Status == domain.SurveyPublished && status != domain.SurveyPublished {
			if err := deactivateOpenData(tx, id); err != nil {
				return err
			}
		}
		survey.Status = status
		return nil
	})
}

// DeleteSurvey removes a survey that is not currently published.
func (s *Service) DeleteSurvey(ctx context.Context, id, actor string) (domain.Result, error) {
	return s.run(ctx, "delete_survey", actor, func(tx domain.Transaction) (string, error) {
		survey, ok := tx.FindSurvey(id)
		if !ok {
			return id, domain.NotFoundError{Entity: domain.EntitySurvey, ID: id}
		}
		if survey.IsPublished {
			return id, domain.ConflictError{Entity: domain.EntitySurvey, ID: id, Reason: "unpublish before deleting"}
		}
		return id, tx.DeleteSurvey(id)
	})
}

// LibrarySelectionConflicts lists the other surveys of the same year and
// municipality that report on a library this survey reports on.
func (s *Service) LibrarySelectionConflicts(ctx context.Context, id string) ([]domain.Survey, error) {
	var out []domain.Survey
	err := s.view(ctx, "library_selection_conflicts", func(view domain.TransactionView) error {
		survey, ok := view.FindSurvey(id)
		if !ok {
			return domain.NotFoundError{Entity: domain.EntitySurvey, ID: id}
		}
		out = selectionConflicts(view, survey)
		return nil
	})
	return out, err
}

func selectionConflicts(view domain.TransactionView, survey domain.Survey) []domain.Survey {
	municipality := survey.MunicipalityCode()
	if municipality == "" {
		return nil
	}
	mine := survey.EffectiveSelection()
	var out []domain.Survey
	for _, other := range view.ListSurveys() {
		if other.ID == survey.ID || other.SampleYear != survey.SampleYear || other.MunicipalityCode() != municipality {
			continue
		}
		if slices.ContainsFunc(other.EffectiveSelection(), func(sigel string) bool { return slices.Contains(mine, sigel) }) {
			out = append(out, other)
		}
	}
	return out
}

func selectionConflictError(view domain.TransactionView, survey domain.Survey) error {
	conflicts := selectionConflicts(view, survey)
	if len(conflicts) == 0 {
		return nil
	}
	ids := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		ids = append(ids, c.ID)
	}
	return domain.ConflictError{Entity: domain.EntitySurvey, ID: survey.ID, Reason: "library selection overlaps another survey", Conflicts: ids}
}

func (s *Service) saveSurveyOp(ctx context.Context, op, id, actor string, mutator func(domain.Transaction, *domain.Survey) error) (domain.Survey, domain.Result, error) {
	var out domain.Survey
	res, err := s.run(ctx, op, actor, func(tx domain.Transaction) (string, error) {
		var err error
		out, _, err = saveSurvey(tx, id, actor, func(survey *domain.Survey) error {
			return mutator(tx, survey)
		})
		return id, err
	})
	return out, res, err
}
