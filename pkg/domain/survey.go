package domain

import (
	"encoding/json"
	"maps"
	"reflect"
	"slices"
	"time"
)

// SurveyStatus enumerates survey workflow states.
type SurveyStatus string

// Survey workflow states in their natural order.
const (
	SurveyNotViewed  SurveyStatus = "not_viewed"
	SurveyInitiated  SurveyStatus = "initiated"
	SurveySubmitted  SurveyStatus = "submitted"
	SurveyControlled SurveyStatus = "controlled"
	SurveyPublished  SurveyStatus = "published"
)

// SurveyStatuses lists every valid status.
var SurveyStatuses = []SurveyStatus{SurveyNotViewed, SurveyInitiated, SurveySubmitted, SurveyControlled, SurveyPublished}

// Valid reports whether s is an enumerated status.
func (s SurveyStatus) Valid() bool {
	return slices.Contains(SurveyStatuses, s)
}

// Observation is one answer embedded in a survey. SourceKey and IsPublic are
// copied from the variable when the observation is created and are never
// re-derived from it.
type Observation struct {
	VariableID   string `json:"variable"`
	Value        Value  `json:"value"`
	SourceKey    string `json:"source_key"`
	IsPublic     bool   `json:"is_public"`
	Disabled     bool   `json:"disabled,omitempty"`
	ValueUnknown bool   `json:"value_unknown,omitempty"`
}

// Survey is one library's statistics submission for one sample year.
type Survey struct {
	Base
	Library           LibraryRecord     `json:"library"`
	SampleYear        int               `json:"sample_year"`
	TargetGroup       TargetGroup       `json:"target_group"`
	Password          string            `json:"password"`
	Status            SurveyStatus      `json:"status"`
	Observations      []Observation     `json:"observations"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	SelectedLibraries []string          `json:"selected_libraries,omitempty"`
	Notes             string            `json:"notes,omitempty"`
	PublishedAt       *time.Time        `json:"published_at,omitempty"`
	PublishedBy       string            `json:"published_by,omitempty"`
	IsPublished       bool              `json:"is_published"`
	CreatedBy         string            `json:"created_by,omitempty"`
	ModifiedBy        string            `json:"modified_by,omitempty"`
}

// SurveyVersion is an immutable snapshot of a survey taken before an update.
type SurveyVersion struct {
	ID         string    `json:"id"`
	SurveyID   string    `json:"survey_id"`
	RecordedAt time.Time `json:"recorded_at"`
	RecordedBy string    `json:"recorded_by,omitempty"`
	Snapshot   Survey    `json:"snapshot"`
}

// UnmarshalJSON decodes a survey. Records written before the explicit
// publication flag existed derive it once from published_at >= date_modified.
func (s *Survey) UnmarshalJSON(data []byte) error {
	type surveyAlias Survey
	aux := struct {
		*surveyAlias
		IsPublished *bool `json:"is_published"`
	}{surveyAlias: (*surveyAlias)(s)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	switch {
	case aux.IsPublished != nil:
		s.IsPublished = *aux.IsPublished
	case s.PublishedAt != nil:
		s.IsPublished = !s.PublishedAt.Before(s.UpdatedAt)
	default:
		s.IsPublished = false
	}
	return nil
}

// Clone returns a deep copy of s.
func (s Survey) Clone() Survey {
	cp := s
	cp.Observations = slices.Clone(s.Observations)
	cp.Metadata = maps.Clone(s.Metadata)
	cp.SelectedLibraries = slices.Clone(s.SelectedLibraries)
	if s.PublishedAt != nil {
		t := *s.PublishedAt
		cp.PublishedAt = &t
	}
	return cp
}

// ContentEqual reports whether s and other agree on every tracked field.
// Notes, modification stamps and publication markers are not tracked.
func (s Survey) ContentEqual(other Survey) bool {
	return reflect.DeepEqual(s.tracked(), other.tracked())
}

func (s Survey) tracked() Survey {
	cp := s.Clone()
	cp.UpdatedAt = time.Time{}
	cp.ModifiedBy = ""
	cp.Notes = ""
	cp.PublishedAt = nil
	cp.PublishedBy = ""
	cp.IsPublished = false
	if len(cp.Metadata) == 0 {
		cp.Metadata = nil
	}
	if len(cp.SelectedLibraries) == 0 {
		cp.SelectedLibraries = nil
	}
	if len(cp.Observations) == 0 {
		cp.Observations = nil
	}
	return cp
}

// ObservationFor returns the observation answering variableID.
func (s Survey) ObservationFor(variableID string) (Observation, int, bool) {
	for i, o := range s.Observations {
		if o.VariableID == variableID {
			return o, i, true
		}
	}
	return Observation{}, -1, false
}

// ObservationByKey returns the observation whose source key is key.
func (s Survey) ObservationByKey(key string) (Observation, int, bool) {
	for i, o := range s.Observations {
		if o.SourceKey == key {
			return o, i, true
		}
	}
	return Observation{}, -1, false
}

// EffectiveSelection returns the sigels the survey reports on: its own
// library plus every selected library.
func (s Survey) EffectiveSelection() []string {
	out := make([]string, 0, len(s.SelectedLibraries)+1)
	if s.Library.Sigel != "" {
		out = append(out, s.Library.Sigel)
	}
	for _, sigel := range s.SelectedLibraries {
		if sigel != "" && !slices.Contains(out, sigel) {
			out = append(out, sigel)
		}
	}
	return out
}

// MetadataValue resolves a respondent metadata field. Library registry
// fields act as defaults for the keys they share.
func (s Survey) MetadataValue(field string) string {
	if v := s.Metadata[field]; v != "" {
		return v
	}
	switch field {
	case "municipality_code":
		return s.Library.MunicipalityCode
	case "library_type":
		return s.Library.LibraryType
	case "city":
		return s.Library.City
	case "address":
		return s.Library.Address
	case "email":
		return s.Library.Email
	}
	return ""
}

// MunicipalityCode is the municipality used for selection conflicts and
// published rows.
func (s Survey) MunicipalityCode() string { return s.MetadataValue("municipality_code") }
