package domain

import (
	"context"
	"time"
)

// Transaction exposes the domain operations that a persistence implementation
// must support within an atomic scope.
type Transaction interface {
	Snapshot() TransactionView
	Now() time.Time
	FindVariable(id string) (Variable, bool)
	FindVariableByKey(key string) (Variable, bool)
	CreateVariable(Variable) (Variable, error)
	UpdateVariable(id string, mutator func(*Variable) error) (Variable, error)
	DeleteVariable(id string) error
	CreateVariableVersion(VariableVersion) (VariableVersion, error)
	FindSurvey(id string) (Survey, bool)
	CreateSurvey(Survey) (Survey, error)
	UpdateSurvey(id string, mutator func(*Survey) error) (Survey, error)
	DeleteSurvey(id string) error
	CreateSurveyVersion(SurveyVersion) (SurveyVersion, error)
	FindOpenData(libraryName string, sampleYear int, variableID string) (OpenData, bool)
	CreateOpenData(OpenData) (OpenData, error)
	UpdateOpenData(id string, mutator func(*OpenData) error) (OpenData, error)
}

// TransactionView provides read-only access to snapshot data for rules.
type TransactionView interface {
	ListVariables() []Variable
	FindVariable(id string) (Variable, bool)
	FindVariableByKey(key string) (Variable, bool)
	ListVariableVersions(variableID string) []VariableVersion
	ListSurveys() []Survey
	FindSurvey(id string) (Survey, bool)
	ListSurveyVersions(surveyID string) []SurveyVersion
	ListOpenData() []OpenData
}

// PersistentStore is a minimal abstraction over durable backends. It mirrors
// the subset of store capabilities used directly by higher layers.
type PersistentStore interface {
	RunInTransaction(ctx context.Context, fn func(Transaction) error) (Result, error)
	View(ctx context.Context, fn func(TransactionView) error) error
	GetVariable(id string) (Variable, bool)
	ListVariables() []Variable
	GetSurvey(id string) (Survey, bool)
	ListSurveys() []Survey
	ListOpenData() []OpenData
}
