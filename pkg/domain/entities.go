// Package domain defines the core persistent entities, value types, and
// rule evaluation primitives used by bibstat.
package domain

import (
	"time"
)

// EntityType identifies the type of record stored in the core domain.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityVariable identifies a statistical metric definition.
	EntityVariable EntityType = "variable"
	// EntityVariableVersion identifies an immutable variable snapshot.
	EntityVariableVersion EntityType = "variable_version"
	// EntitySurvey identifies a library's yearly survey document.
	EntitySurvey EntityType = "survey"
	// EntitySurveyVersion identifies an immutable survey snapshot.
	EntitySurveyVersion EntityType = "survey_version"
	// EntityOpenData identifies a published observation.
	EntityOpenData EntityType = "open_data"
	// EntityLibrary identifies a library record held by the external registry.
	EntityLibrary EntityType = "library"
	// EntityTemplate identifies a survey template.
	EntityTemplate EntityType = "survey_template"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// Base contains common fields for all domain records.
type Base struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"date_created"`
	UpdatedAt time.Time `json:"date_modified"`
}

// TargetGroup is a library-category tag scoping variables and surveys.
type TargetGroup string

// Library categories recognised by the survey program.
const (
	TargetGroupPublic   TargetGroup = "public"
	TargetGroupResearch TargetGroup = "research"
	TargetGroupHospital TargetGroup = "hospital"
	TargetGroupSchool   TargetGroup = "school"
)

var targetGroupLabels = map[TargetGroup]string{
	TargetGroupPublic:   "Folkbibliotek",
	TargetGroupResearch: "Forskningsbibliotek",
	TargetGroupHospital: "Sjukhusbibliotek",
	TargetGroupSchool:   "Skolbibliotek",
}

// Label returns the public display name of the target group.
func (g TargetGroup) Label() string {
	if label, ok := targetGroupLabels[g]; ok {
		return label
	}
	return string(g)
}

// Valid reports whether g is one of the enumerated target groups.
func (g TargetGroup) Valid() bool {
	_, ok := targetGroupLabels[g]
	return ok
}

// LibraryRecord is the library description returned by the external registry.
// Surveys keep a copy taken when they are created.
type LibraryRecord struct {
	Name             string      `json:"name"`
	Sigel            string      `json:"sigel"`
	ExternalID       string      `json:"external_id,omitempty"`
	MunicipalityCode string      `json:"municipality_code,omitempty"`
	LibraryType      string      `json:"library_type,omitempty"`
	City             string      `json:"city,omitempty"`
	Address          string      `json:"address,omitempty"`
	Email            string      `json:"email,omitempty"`
	Category         TargetGroup `json:"category,omitempty"`
}

// OpenData is one published fact derived from a survey observation.
// (LibraryName, SampleYear, VariableID) is unique.
type OpenData struct {
	Base
	LibraryName      string      `json:"library_name"`
	LibraryID        string      `json:"library_id,omitempty"`
	SampleYear       int         `json:"sample_year"`
	TargetGroup      TargetGroup `json:"target_group"`
	VariableID       string      `json:"variable"`
	VariableKey      string      `json:"variable_key"`
	SourceSurveyID   string      `json:"source_survey"`
	MunicipalityCode string      `json:"municipality_code,omitempty"`
	LibraryType      string      `json:"library_type,omitempty"`
	Value            Value       `json:"value"`
	IsActive         bool        `json:"is_active"`
}

// Change describes a mutation applied to an entity during a transaction.
type Change struct {
	Entity EntityType
	Action Action
	Before any
	After  any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported CRUD operations captured in audit trail.
const (
	// ActionCreate indicates an entity was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates an entity was updated.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	EntityID string
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return "transaction blocked by rules: " + v.Message
		}
	}
	return "transaction blocked by rules"
}
