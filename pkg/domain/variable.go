package domain

import (
	"reflect"
	"slices"
	"time"
)

// VariableType enumerates the value types a variable may declare.
type VariableType string

// Supported variable types.
const (
	VariableTypeString  VariableType = "string"
	VariableTypeBoolean VariableType = "boolean"
	VariableTypeInteger VariableType = "integer"
	VariableTypeLong    VariableType = "long"
	VariableTypeDecimal VariableType = "decimal"
	VariableTypePercent VariableType = "percent"
)

// Valid reports whether t is one of the enumerated types.
func (t VariableType) Valid() bool {
	switch t {
	case VariableTypeString, VariableTypeBoolean, VariableTypeInteger,
		VariableTypeLong, VariableTypeDecimal, VariableTypePercent:
		return true
	}
	return false
}

// Numeric reports whether values of t take part in sum validation.
func (t VariableType) Numeric() bool {
	switch t {
	case VariableTypeInteger, VariableTypeLong, VariableTypeDecimal, VariableTypePercent:
		return true
	}
	return false
}

// XSDRange returns the xsd datatype used in term documents.
func (t VariableType) XSDRange() string {
	return "xsd:" + string(t)
}

// VariableState is the derived lifecycle state of a variable.
type VariableState string

// Variable states in precedence order.
const (
	VariableStateDraft        VariableState = "draft"
	VariableStateReplaced     VariableState = "replaced"
	VariableStateDiscontinued VariableState = "discontinued"
	VariableStatePending      VariableState = "pending"
	VariableStateCurrent      VariableState = "current"
)

// Variable is a named, typed statistical metric definition.
type Variable struct {
	Base
	Key          string        `json:"key"`
	Description  string        `json:"description"`
	Comment      string        `json:"comment,omitempty"`
	Type         VariableType  `json:"type"`
	IsPublic     bool          `json:"is_public"`
	TargetGroups []TargetGroup `json:"target_groups"`
	Category     string        `json:"category,omitempty"`
	SubCategory  string        `json:"sub_category,omitempty"`
	Question     string        `json:"question,omitempty"`
	QuestionPart string        `json:"question_part,omitempty"`
	SummaryOf    []string      `json:"summary_of,omitempty"`
	IsDraft      bool          `json:"is_draft"`
	ActiveFrom   *Date         `json:"active_from,omitempty"`
	ActiveTo     *Date         `json:"active_to,omitempty"`
	Replaces     []string      `json:"replaces,omitempty"`
	ReplacedBy   *string       `json:"replaced_by,omitempty"`
	ModifiedBy   string        `json:"modified_by,omitempty"`
}

// VariableVersion is an immutable snapshot of a variable taken before an update.
type VariableVersion struct {
	ID         string    `json:"id"`
	VariableID string    `json:"variable_id"`
	RecordedAt time.Time `json:"recorded_at"`
	RecordedBy string    `json:"recorded_by,omitempty"`
	Snapshot   Variable  `json:"snapshot"`
}

// State derives the lifecycle state on the given day.
func (v Variable) State(today Date) VariableState {
	switch {
	case v.IsDraft:
		return VariableStateDraft
	case v.ReplacedBy != nil:
		return VariableStateReplaced
	case v.ActiveTo != nil && !today.Before(*v.ActiveTo):
		return VariableStateDiscontinued
	case v.ActiveFrom != nil && today.Before(*v.ActiveFrom):
		return VariableStatePending
	default:
		return VariableStateCurrent
	}
}

// IsActive reports whether the variable is current on the given day.
func (v Variable) IsActive(today Date) bool {
	return v.State(today) == VariableStateCurrent
}

// Replaceable reports whether another variable may take over from v.
func (v Variable) Replaceable() bool {
	return !v.IsDraft && v.ReplacedBy == nil
}

// Surveyable reports whether new surveys may reference v.
func (v Variable) Surveyable(today Date) bool {
	state := v.State(today)
	return state != VariableStateDiscontinued && state != VariableStateReplaced
}

// Label returns the display label parts.
func (v Variable) Label() []string {
	switch {
	case v.Question != "" && v.QuestionPart != "":
		return []string{v.Question, v.QuestionPart}
	case v.Question != "":
		return []string{v.Question}
	default:
		return []string{v.Description}
	}
}

// IsSummaryAutoField reports whether the variable is computed from others
// and never asked directly.
func (v Variable) IsSummaryAutoField() bool {
	return len(v.SummaryOf) > 0 && v.Question == ""
}

// HasTargetGroup reports whether the variable applies to g.
func (v Variable) HasTargetGroup(g TargetGroup) bool {
	return slices.Contains(v.TargetGroups, g)
}

// IsReplacedBy reports whether v points at id.
func (v Variable) IsReplacedBy(id string) bool {
	return v.ReplacedBy != nil && *v.ReplacedBy == id
}

// Clone returns a deep copy of v.
func (v Variable) Clone() Variable {
	cp := v
	cp.TargetGroups = slices.Clone(v.TargetGroups)
	cp.SummaryOf = slices.Clone(v.SummaryOf)
	cp.Replaces = slices.Clone(v.Replaces)
	cp.ActiveFrom = cloneDatePtr(v.ActiveFrom)
	cp.ActiveTo = cloneDatePtr(v.ActiveTo)
	if v.ReplacedBy != nil {
		id := *v.ReplacedBy
		cp.ReplacedBy = &id
	}
	return cp
}

// TrackedEqual reports whether a and b agree on every field a version
// snapshot cares about. Identity and modification stamps are ignored.
func (v Variable) TrackedEqual(other Variable) bool {
	a, b := v.tracked(), other.tracked()
	return reflect.DeepEqual(a, b) && equalDatePtr(v.ActiveFrom, other.ActiveFrom) && equalDatePtr(v.ActiveTo, other.ActiveTo)
}

func (v Variable) tracked() Variable {
	cp := v.Clone()
	cp.Base = Base{}
	cp.ModifiedBy = ""
	cp.ActiveFrom, cp.ActiveTo = nil, nil
	if len(cp.TargetGroups) == 0 {
		cp.TargetGroups = nil
	}
	if len(cp.SummaryOf) == 0 {
		cp.SummaryOf = nil
	}
	if len(cp.Replaces) == 0 {
		cp.Replaces = nil
	}
	return cp
}
