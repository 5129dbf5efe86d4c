package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"bibstat/pkg/domain"

	"golang.org/x/sync/errgroup"
)

// PublishOutcome counts what a publish did to the open data rows.
type PublishOutcome struct {
	SurveyID    string `json:"survey_id"`
	Created     int    `json:"created"`
	Updated     int    `json:"updated"`
	Reactivated int    `json:"reactivated"`
	Unchanged   int    `json:"unchanged"`
}

// BatchItem is the result of publishing one survey of a batch.
type BatchItem struct {
	SurveyID string         `json:"survey_id"`
	Outcome  PublishOutcome `json:"outcome"`
	Err      error          `json:"-"`
	Error    string         `json:"error,omitempty"`
}

// BatchReport collects per-survey results in request order.
type BatchReport struct {
	Items []BatchItem `json:"items"`
}

// Failed returns the items that did not publish.
func (r BatchReport) Failed() []BatchItem {
	var out []BatchItem
	for _, item := range r.Items {
		if item.Err != nil {
			out = append(out, item)
		}
	}
	return out
}

// Err joins the per-item errors, or returns nil when every item published.
func (r BatchReport) Err() error {
	var errs []error
	for _, item := range r.Failed() {
		errs = append(errs, fmt.Errorf("survey %s: %w", item.SurveyID, item.Err))
	}
	return errors.Join(errs...)
}

// Publish projects the survey's public answers into open data and marks the
// survey published. Rows whose value is unchanged are not written.
func (s *Service) Publish(ctx context.Context, id, actor string) (PublishOutcome, error) {
	var outcome PublishOutcome
	_, err := s.run(ctx, "publish_survey", actor, func(tx domain.Transaction) (string, error) {
		var err error
		outcome, err = s.publishOne(tx, id, actor)
		return id, err
	})
	return outcome, err
}

func (s *Service) checkPublishable(view domain.TransactionView, survey domain.Survey) error {
	if err := selectionConflictError(view, survey); err != nil {
		return err
	}
	verr := domain.ValidationError{Entity: domain.EntitySurvey, ID: survey.ID}
	for _, field := range s.publish.RequiredMetadata {
		if strings.TrimSpace(survey.MetadataValue(field)) == "" {
			verr.Add(field, "required before publishing")
		}
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

func (s *Service) publishOne(tx domain.Transaction, id, actor string) (PublishOutcome, error) {
	outcome := PublishOutcome{SurveyID: id}
	survey, ok := tx.FindSurvey(id)
	if !ok {
		return outcome, domain.NotFoundError{Entity: domain.EntitySurvey, ID: id}
	}
	if err := s.checkPublishable(tx.Snapshot(), survey); err != nil {
		return outcome, err
	}
	for _, obs := range survey.Observations {
		if !obs.IsPublic || obs.Value.IsAbsent() {
			continue
		}
		key := obs.SourceKey
		if v, ok := tx.FindVariable(obs.VariableID); ok {
			key = v.Key
		}
		existing, found := tx.FindOpenData(survey.Library.Name, survey.SampleYear, obs.VariableID)
		if !found {
			if _, err := tx.CreateOpenData(domain.OpenData{
				LibraryName:      survey.Library.Name,
				LibraryID:        survey.Library.ExternalID,
				SampleYear:       survey.SampleYear,
				TargetGroup:      survey.TargetGroup,
				VariableID:       obs.VariableID,
				VariableKey:      key,
				SourceSurveyID:   survey.ID,
				MunicipalityCode: survey.MunicipalityCode(),
				LibraryType:      survey.MetadataValue("library_type"),
				Value:            obs.Value,
				IsActive:         true,
			}); err != nil {
				return outcome, err
			}
			outcome.Created++
			continue
		}
		changed := !existing.Value.Equal(obs.Value)
		stamp := survey.Library.ExternalID != "" && existing.LibraryID != survey.Library.ExternalID
		if !changed && existing.IsActive && !stamp {
			outcome.Unchanged++
			continue
		}
		if _, err := tx.UpdateOpenData(existing.ID, func(row *domain.OpenData) error {
			if changed {
				row.Value = obs.Value
				row.UpdatedAt = tx.Now()
			}
			if stamp {
				row.LibraryID = survey.Library.ExternalID
			}
			row.IsActive = true
			row.SourceSurveyID = survey.ID
			return nil
		}); err != nil {
			return outcome, err
		}
		switch {
		case changed:
			outcome.Updated++
		case !existing.IsActive:
			outcome.Reactivated++
		default:
			outcome.Unchanged++
		}
	}
	_, err := markPublication(tx, id, func(sv *domain.Survey) {
		now := tx.Now()
		sv.Status = domain.SurveyPublished
		sv.PublishedAt = &now
		sv.PublishedBy = actor
		sv.IsPublished = true
	})
	return outcome, err
}

// Unpublish withdraws the survey's open data rows without touching their
// date_modified and clears the publication flag. A survey in the published
// status falls back to controlled.
func (s *Service) Unpublish(ctx context.Context, id, actor string) (domain.Survey, error) {
	var out domain.Survey
	_, err := s.run(ctx, "unpublish_survey", actor, func(tx domain.Transaction) (string, error) {
		if _, ok := tx.FindSurvey(id); !ok {
			return id, domain.NotFoundError{Entity: domain.EntitySurvey, ID: id}
		}
		if err := deactivateOpenData(tx, id); err != nil {
			return id, err
		}
		var err error
		out, err = markPublication(tx, id, func(sv *domain.Survey) {
			sv.IsPublished = false
			if sv.Status == domain.SurveyPublished {
				sv.Status = domain.SurveyControlled
			}
		})
		return id, err
	})
	return out, err
}

func deactivateOpenData(tx domain.Transaction, surveyID string) error {
	for _, row := range tx.Snapshot().ListOpenData() {
		if row.SourceSurveyID != surveyID || !row.IsActive {
			continue
		}
		if _, err := tx.UpdateOpenData(row.ID, func(r *domain.OpenData) error {
			r.IsActive = false
			return nil
		}); err != nil {
			return err
		}
	}
	return nil
}

// PublishBatch publishes up to the configured maximum number of surveys
// with bounded concurrency. A failing survey does not stop the others; its
// error is reported in its item. Cancelling ctx stops scheduling new items.
func (s *Service) PublishBatch(ctx context.Context, ids []string, actor string) (BatchReport, error) {
	if len(ids) > s.publish.MaxBatch {
		return BatchReport{}, domain.ValidationError{
			Entity: domain.EntitySurvey,
			Fields: map[string]string{"ids": fmt.Sprintf("at most %d surveys per batch, got %d", s.publish.MaxBatch, len(ids))},
		}
	}
	return s.publishMany(ctx, ids, actor)
}

// PublishYear publishes every unpublished survey of sampleYear, optionally
// restricted to one target group.
func (s *Service) PublishYear(ctx context.Context, sampleYear int, group domain.TargetGroup, actor string) (BatchReport, error) {
	surveys, err := s.ListSurveys(ctx, SurveyFilter{SampleYear: sampleYear, TargetGroup: group, UnpublishedOnly: true})
	if err != nil {
		return BatchReport{}, err
	}
	ids := make([]string, 0, len(surveys))
	for _, survey := range surveys {
		ids = append(ids, survey.ID)
	}
	return s.publishMany(ctx, ids, actor)
}

func (s *Service) publishMany(ctx context.Context, ids []string, actor string) (BatchReport, error) {
	report := BatchReport{Items: make([]BatchItem, len(ids))}
	var mu sync.Mutex
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(s.publish.Concurrency)
	for i, id := range ids {
		if egCtx.Err() != nil {
			break
		}
		eg.Go(func() error {
			outcome, err := s.Publish(egCtx, id, actor)
			item := BatchItem{SurveyID: id, Outcome: outcome, Err: err}
			if err != nil {
				item.Error = err.Error()
			}
			mu.Lock()
			report.Items[i] = item
			mu.Unlock()
			return nil
		})
	}
	_ = eg.Wait()
	for i := range report.Items {
		if report.Items[i].SurveyID == "" {
			report.Items[i] = BatchItem{SurveyID: ids[i], Err: ctx.Err(), Error: fmt.Sprint(ctx.Err())}
		}
	}
	s.logger.Info("batch publish finished", "surveys", len(ids), "failed", len(report.Failed()))
	return report, ctx.Err()
}
