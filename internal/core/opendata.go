package core

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"bibstat/pkg/domain"
)

// ObservationTimeLayout formats published/modified stamps in documents.
const ObservationTimeLayout = "2006-01-02T15:04:05.000000Z"

// OpenDataQuery filters the public read model. Zero fields do not filter;
// From defaults to the epoch and To to tomorrow.
type OpenDataQuery struct {
	From             *time.Time
	To               *time.Time
	Term             string
	SampleYear       int
	Sigel            string
	MunicipalityCode string
	LibraryType      string
	Limit            int
	Offset           int
}

// OpenDataPage is one page of active rows.
type OpenDataPage struct {
	Items []domain.OpenData
	// Next is the query string of the following page, empty on the last one.
	Next string
}

// QueryOpenData returns active rows matching q ordered by date_modified.
func (s *Service) QueryOpenData(ctx context.Context, q OpenDataQuery) (OpenDataPage, error) {
	if q.Limit <= 0 {
		q.Limit = s.api.DefaultLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	from := time.Unix(0, 0).UTC()
	if q.From != nil {
		from = *q.From
	}
	to := s.clock.Now().AddDate(0, 0, 1)
	if q.To != nil {
		to = *q.To
	}
	var page OpenDataPage
	err := s.view(ctx, "query_open_data", func(view domain.TransactionView) error {
		var surveyIDs map[string]struct{}
		if q.Sigel != "" {
			surveyIDs = map[string]struct{}{}
			for _, survey := range view.ListSurveys() {
				if survey.Library.Sigel == q.Sigel {
					surveyIDs[survey.ID] = struct{}{}
				}
			}
		}
		var rows []domain.OpenData
		for _, row := range view.ListOpenData() {
			if !row.IsActive || row.UpdatedAt.Before(from) || !row.UpdatedAt.Before(to) {
				continue
			}
			if q.Term != "" && row.VariableKey != q.Term {
				continue
			}
			if q.SampleYear != 0 && row.SampleYear != q.SampleYear {
				continue
			}
			if q.MunicipalityCode != "" && row.MunicipalityCode != q.MunicipalityCode {
				continue
			}
			if q.LibraryType != "" && row.LibraryType != q.LibraryType {
				continue
			}
			if surveyIDs != nil {
				if _, ok := surveyIDs[row.SourceSurveyID]; !ok {
					continue
				}
			}
			rows = append(rows, row)
		}
		sort.SliceStable(rows, func(i, j int) bool {
			if !rows[i].UpdatedAt.Equal(rows[j].UpdatedAt) {
				return rows[i].UpdatedAt.Before(rows[j].UpdatedAt)
			}
			return rows[i].ID < rows[j].ID
		})
		if q.Offset < len(rows) {
			end := min(q.Offset+q.Limit, len(rows))
			page.Items = rows[q.Offset:end]
		}
		if len(page.Items) == q.Limit {
			page.Next = fmt.Sprintf("?limit=%d&offset=%d", q.Limit, q.Offset+q.Limit)
		}
		return nil
	})
	return page, err
}

// ObservationDocument renders a row as a JSON-LD observation. The term key
// is a dynamic property so the document is a map.
func (s *Service) ObservationDocument(row domain.OpenData) map[string]any {
	library := map[string]any{"name": row.LibraryName}
	if row.LibraryID != "" {
		library = map[string]any{"@id": strings.TrimRight(s.api.LibraryBaseURL, "/") + "/" + row.LibraryID}
	}
	return map[string]any{
		"@id":           strings.TrimRight(s.api.ObservationBaseURL, "/") + "/" + row.ID,
		"@type":         "Observation",
		row.VariableKey: row.Value.Interface(),
		"library":       library,
		"sampleYear":    row.SampleYear,
		"targetGroup":   row.TargetGroup.Label(),
		"published":     row.CreatedAt.UTC().Format(ObservationTimeLayout),
		"modified":      row.UpdatedAt.UTC().Format(ObservationTimeLayout),
	}
}
