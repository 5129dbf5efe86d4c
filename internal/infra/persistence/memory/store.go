// Package memory provides an in-memory implementation of the core persistence
// store used for tests and ephemeral environments.
package memory

import (
	"bibstat/pkg/domain"
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Compile-time contract assertions ensuring memory.Store adheres to the domain persistence interfaces.
var _ domain.PersistentStore = (*Store)(nil)

type (
	// Variable aliases domain.Variable for in-memory persistence operations.
	Variable = domain.Variable
	// VariableVersion aliases domain.VariableVersion.
	VariableVersion = domain.VariableVersion
	// Survey aliases domain.Survey.
	Survey = domain.Survey
	// SurveyVersion aliases domain.SurveyVersion.
	SurveyVersion = domain.SurveyVersion
	// OpenData aliases domain.OpenData.
	OpenData = domain.OpenData
	// Change aliases domain.Change captured in transactions.
	Change = domain.Change
	// Result aliases domain.Result summarizing rule evaluation.
	Result = domain.Result
	// RulesEngine aliases domain.RulesEngine used to evaluate rules.
	RulesEngine = domain.RulesEngine
	// Transaction aliases domain.Transaction representing a mutable unit of work.
	Transaction = domain.Transaction
	// TransactionView aliases domain.TransactionView providing read-only state.
	TransactionView = domain.TransactionView
)

type memoryState struct {
	variables        map[string]Variable
	variableVersions map[string]VariableVersion
	surveys          map[string]Survey
	surveyVersions   map[string]SurveyVersion
	openData         map[string]OpenData
}

// Snapshot captures a point-in-time clone of the store state.
type Snapshot struct {
	Variables        map[string]Variable        `json:"variables"`
	VariableVersions map[string]VariableVersion `json:"variable_versions"`
	Surveys          map[string]Survey          `json:"surveys"`
	SurveyVersions   map[string]SurveyVersion   `json:"survey_versions"`
	OpenData         map[string]OpenData        `json:"open_data"`
}

func newMemoryState() memoryState {
	return memoryState{
		variables:        make(map[string]Variable),
		variableVersions: make(map[string]VariableVersion),
		surveys:          make(map[string]Survey),
		surveyVersions:   make(map[string]SurveyVersion),
		openData:         make(map[string]OpenData),
	}
}

func snapshotFromMemoryState(state memoryState) Snapshot {
	c := state.clone()
	return Snapshot{
		Variables:        c.variables,
		VariableVersions: c.variableVersions,
		Surveys:          c.surveys,
		SurveyVersions:   c.surveyVersions,
		OpenData:         c.openData,
	}
}

func memoryStateFromSnapshot(s Snapshot) memoryState {
	return memoryState{
		variables:        s.Variables,
		variableVersions: s.VariableVersions,
		surveys:          s.Surveys,
		surveyVersions:   s.SurveyVersions,
		openData:         s.OpenData,
	}.clone()
}

// migrateSnapshot normalises snapshots written by older builds: missing
// buckets are allocated and replacement edges pointing at variables that no
// longer exist are dropped. Legacy survey publication flags are derived
// while decoding (see domain.Survey.UnmarshalJSON).
func migrateSnapshot(snapshot Snapshot) Snapshot {
	if snapshot.Variables == nil {
		snapshot.Variables = map[string]Variable{}
	}
	if snapshot.VariableVersions == nil {
		snapshot.VariableVersions = map[string]VariableVersion{}
	}
	if snapshot.Surveys == nil {
		snapshot.Surveys = map[string]Survey{}
	}
	if snapshot.SurveyVersions == nil {
		snapshot.SurveyVersions = map[string]SurveyVersion{}
	}
	if snapshot.OpenData == nil {
		snapshot.OpenData = map[string]OpenData{}
	}

	variableExists := func(id string) bool {
		_, ok := snapshot.Variables[id]
		return ok
	}
	for id, v := range snapshot.Variables {
		if v.ReplacedBy != nil && !variableExists(*v.ReplacedBy) {
			v.ReplacedBy = nil
			v.ActiveTo = nil
		}
		v.Replaces = slices.DeleteFunc(slices.Clone(v.Replaces), func(ref string) bool { return !variableExists(ref) })
		snapshot.Variables[id] = v
	}
	return snapshot
}

func (s memoryState) clone() memoryState {
	cloned := newMemoryState()
	for k, v := range s.variables {
		cloned.variables[k] = v.Clone()
	}
	for k, v := range s.variableVersions {
		cloned.variableVersions[k] = cloneVariableVersion(v)
	}
	for k, v := range s.surveys {
		cloned.surveys[k] = v.Clone()
	}
	for k, v := range s.surveyVersions {
		cloned.surveyVersions[k] = cloneSurveyVersion(v)
	}
	for k, v := range s.openData {
		cloned.openData[k] = v
	}
	return cloned
}

func cloneVariableVersion(v VariableVersion) VariableVersion {
	v.Snapshot = v.Snapshot.Clone()
	return v
}

func cloneSurveyVersion(v SurveyVersion) SurveyVersion {
	v.Snapshot = v.Snapshot.Clone()
	return v
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used to stamp transactions.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.nowFn = now
		}
	}
}

// Store provides an in-memory transactional store for the core domain.
type Store struct {
	mu     sync.RWMutex
	state  memoryState
	engine *RulesEngine
	nowFn  func() time.Time
}

// NewStore constructs an in-memory store backed by the provided rules engine.
func NewStore(engine *RulesEngine, opts ...Option) *Store {
	if engine == nil {
		engine = domain.NewRulesEngine()
	}
	s := &Store{
		state:  newMemoryState(),
		engine: engine,
		nowFn:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) newID() string {
	return uuid.NewString()
}

// ExportState clones the current store state for external persistence.
func (s *Store) ExportState() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return snapshotFromMemoryState(s.state)
}

// ImportState replaces the store state with the provided snapshot.
func (s *Store) ImportState(snapshot Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = memoryStateFromSnapshot(migrateSnapshot(snapshot))
}

// RulesEngine exposes the currently configured engine.
func (s *Store) RulesEngine() *RulesEngine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.engine
}

// NowFunc returns the time provider used by the in-memory store.
func (s *Store) NowFunc() func() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nowFn
}

// transaction represents a mutation set applied to the store state.
type transaction struct {
	store   *Store
	state   memoryState
	changes []Change
	now     time.Time
}

// transactionView exposes a read-only snapshot of the transactional state to rules.
type transactionView struct {
	state *memoryState
}

func newTransactionView(state *memoryState) transactionView {
	return transactionView{state: state}
}

func sortByCreation[T any](items []T, base func(T) domain.Base) {
	sort.Slice(items, func(i, j int) bool {
		a, b := base(items[i]), base(items[j])
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
}

func listVariables(state *memoryState) []Variable {
	out := make([]Variable, 0, len(state.variables))
	for _, v := range state.variables {
		out = append(out, v.Clone())
	}
	sortByCreation(out, func(v Variable) domain.Base { return v.Base })
	return out
}

func listSurveys(state *memoryState) []Survey {
	out := make([]Survey, 0, len(state.surveys))
	for _, s := range state.surveys {
		out = append(out, s.Clone())
	}
	sortByCreation(out, func(s Survey) domain.Base { return s.Base })
	return out
}

func listOpenData(state *memoryState) []OpenData {
	out := make([]OpenData, 0, len(state.openData))
	for _, o := range state.openData {
		out = append(out, o)
	}
	sortByCreation(out, func(o OpenData) domain.Base { return o.Base })
	return out
}

func findVariableByKey(state *memoryState, key string) (Variable, bool) {
	for _, v := range state.variables {
		if v.Key == key {
			return v.Clone(), true
		}
	}
	return Variable{}, false
}

// ListVariables returns all variables within the snapshot.
func (v transactionView) ListVariables() []Variable { return listVariables(v.state) }

// FindVariable retrieves a variable by ID.
func (v transactionView) FindVariable(id string) (Variable, bool) {
	found, ok := v.state.variables[id]
	if !ok {
		return Variable{}, false
	}
	return found.Clone(), true
}

// FindVariableByKey retrieves a variable by its unique key.
func (v transactionView) FindVariableByKey(key string) (Variable, bool) {
	return findVariableByKey(v.state, key)
}

// ListVariableVersions returns the snapshots of one variable, oldest first.
func (v transactionView) ListVariableVersions(variableID string) []VariableVersion {
	out := make([]VariableVersion, 0)
	for _, ver := range v.state.variableVersions {
		if ver.VariableID == variableID {
			out = append(out, cloneVariableVersion(ver))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListSurveys returns all surveys within the snapshot.
func (v transactionView) ListSurveys() []Survey { return listSurveys(v.state) }

// FindSurvey retrieves a survey by ID.
func (v transactionView) FindSurvey(id string) (Survey, bool) {
	found, ok := v.state.surveys[id]
	if !ok {
		return Survey{}, false
	}
	return found.Clone(), true
}

// ListSurveyVersions returns the snapshots of one survey, oldest first.
func (v transactionView) ListSurveyVersions(surveyID string) []SurveyVersion {
	out := make([]SurveyVersion, 0)
	for _, ver := range v.state.surveyVersions {
		if ver.SurveyID == surveyID {
			out = append(out, cloneSurveyVersion(ver))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].RecordedAt.Equal(out[j].RecordedAt) {
			return out[i].RecordedAt.Before(out[j].RecordedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// ListOpenData returns every published row, active or not.
func (v transactionView) ListOpenData() []OpenData { return listOpenData(v.state) }

// RunInTransaction executes fn within a transactional copy of the store state.
// Nothing is committed when fn fails or a rule blocks.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx Transaction) error) (Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &transaction{
		store: s,
		state: s.state.clone(),
		now:   s.nowFn(),
	}

	if err := fn(tx); err != nil {
		return Result{}, err
	}

	var result Result
	if s.engine != nil {
		view := newTransactionView(&tx.state)
		res, err := s.engine.Evaluate(ctx, view, tx.changes)
		if err != nil {
			return Result{}, err
		}
		result = res
		if res.HasBlocking() {
			return res, domain.RuleViolationError{Result: res}
		}
	}

	s.state = tx.state
	return result, nil
}

// View executes fn against a read-only snapshot of the store state.
func (s *Store) View(_ context.Context, fn func(TransactionView) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot := s.state.clone()
	return fn(newTransactionView(&snapshot))
}

func (tx *transaction) recordChange(change Change) {
	tx.changes = append(tx.changes, change)
}

// Snapshot returns a read-only view over the transactional state.
func (tx *transaction) Snapshot() TransactionView {
	return newTransactionView(&tx.state)
}

// Now returns the timestamp shared by every write in the transaction.
func (tx *transaction) Now() time.Time { return tx.now }

// FindVariable exposes variable lookup within the transaction scope.
func (tx *transaction) FindVariable(id string) (Variable, bool) {
	return newTransactionView(&tx.state).FindVariable(id)
}

// FindVariableByKey exposes key lookup within the transaction scope.
func (tx *transaction) FindVariableByKey(key string) (Variable, bool) {
	return findVariableByKey(&tx.state, key)
}

// CreateVariable stores a new variable. Keys are unique.
func (tx *transaction) CreateVariable(v Variable) (Variable, error) {
	if v.ID == "" {
		v.ID = tx.store.newID()
	}
	if _, exists := tx.state.variables[v.ID]; exists {
		return Variable{}, fmt.Errorf("variable %q already exists", v.ID)
	}
	if v.Key == "" {
		return Variable{}, domain.ValidationError{Entity: domain.EntityVariable, ID: v.ID, Fields: map[string]string{"key": "required"}}
	}
	if other, ok := findVariableByKey(&tx.state, v.Key); ok {
		return Variable{}, domain.ConflictError{Entity: domain.EntityVariable, ID: v.ID, Reason: fmt.Sprintf("key %q already in use", v.Key), Conflicts: []string{other.ID}}
	}
	v.CreatedAt = tx.now
	v.UpdatedAt = tx.now
	tx.state.variables[v.ID] = v.Clone()
	tx.recordChange(Change{Entity: domain.EntityVariable, Action: domain.ActionCreate, After: v.Clone()})
	return v.Clone(), nil
}

// UpdateVariable mutates a variable using the provided mutator function.
// The key and creation stamp are immutable; UpdatedAt is left to the caller.
func (tx *transaction) UpdateVariable(id string, mutator func(*Variable) error) (Variable, error) {
	current, ok := tx.state.variables[id]
	if !ok {
		return Variable{}, domain.NotFoundError{Entity: domain.EntityVariable, ID: id}
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return Variable{}, err
	}
	if current.Key != before.Key {
		return Variable{}, domain.ValidationError{Entity: domain.EntityVariable, ID: id, Fields: map[string]string{"key": "immutable"}}
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	tx.state.variables[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntityVariable, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteVariable removes a variable. Non-draft variables still referenced by
// a survey observation or a published row cannot be removed.
func (tx *transaction) DeleteVariable(id string) error {
	current, ok := tx.state.variables[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntityVariable, ID: id}
	}
	if !current.IsDraft {
		for _, survey := range tx.state.surveys {
			if _, _, found := survey.ObservationFor(id); found {
				return domain.ConflictError{Entity: domain.EntityVariable, ID: id, Reason: "still referenced by survey", Conflicts: []string{survey.ID}}
			}
		}
		for _, row := range tx.state.openData {
			if row.VariableID == id {
				return domain.ConflictError{Entity: domain.EntityVariable, ID: id, Reason: "still referenced by open data", Conflicts: []string{row.ID}}
			}
		}
	}
	delete(tx.state.variables, id)
	tx.recordChange(Change{Entity: domain.EntityVariable, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

// CreateVariableVersion appends an immutable variable snapshot.
func (tx *transaction) CreateVariableVersion(v VariableVersion) (VariableVersion, error) {
	if v.ID == "" {
		v.ID = tx.store.newID()
	}
	if _, exists := tx.state.variableVersions[v.ID]; exists {
		return VariableVersion{}, fmt.Errorf("variable version %q already exists", v.ID)
	}
	if v.VariableID == "" {
		return VariableVersion{}, fmt.Errorf("variable version %q requires variable id", v.ID)
	}
	if v.RecordedAt.IsZero() {
		v.RecordedAt = tx.now
	}
	v = cloneVariableVersion(v)
	tx.state.variableVersions[v.ID] = v
	tx.recordChange(Change{Entity: domain.EntityVariableVersion, Action: domain.ActionCreate, After: cloneVariableVersion(v)})
	return cloneVariableVersion(v), nil
}

// FindSurvey exposes survey lookup within the transaction scope.
func (tx *transaction) FindSurvey(id string) (Survey, bool) {
	return newTransactionView(&tx.state).FindSurvey(id)
}

// CreateSurvey stores a new survey. (library sigel, sample year) is unique.
func (tx *transaction) CreateSurvey(s Survey) (Survey, error) {
	if s.ID == "" {
		s.ID = tx.store.newID()
	}
	if _, exists := tx.state.surveys[s.ID]; exists {
		return Survey{}, fmt.Errorf("survey %q already exists", s.ID)
	}
	if other, ok := tx.surveyFor(s.Library.Sigel, s.SampleYear, ""); ok {
		return Survey{}, domain.ConflictError{
			Entity:    domain.EntitySurvey,
			ID:        s.ID,
			Reason:    fmt.Sprintf("library %s already has a survey for %d", s.Library.Sigel, s.SampleYear),
			Conflicts: []string{other.ID},
		}
	}
	s.CreatedAt = tx.now
	s.UpdatedAt = tx.now
	tx.state.surveys[s.ID] = s.Clone()
	tx.recordChange(Change{Entity: domain.EntitySurvey, Action: domain.ActionCreate, After: s.Clone()})
	return s.Clone(), nil
}

func (tx *transaction) surveyFor(sigel string, year int, excludeID string) (Survey, bool) {
	for _, existing := range tx.state.surveys {
		if existing.ID != excludeID && existing.Library.Sigel == sigel && existing.SampleYear == year {
			return existing, true
		}
	}
	return Survey{}, false
}

// UpdateSurvey mutates a survey using the provided mutator function.
// UpdatedAt is left to the caller so publication marks and notes edits can
// keep it unchanged.
func (tx *transaction) UpdateSurvey(id string, mutator func(*Survey) error) (Survey, error) {
	current, ok := tx.state.surveys[id]
	if !ok {
		return Survey{}, domain.NotFoundError{Entity: domain.EntitySurvey, ID: id}
	}
	before := current.Clone()
	current = current.Clone()
	if err := mutator(&current); err != nil {
		return Survey{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	if other, clash := tx.surveyFor(current.Library.Sigel, current.SampleYear, id); clash {
		return Survey{}, domain.ConflictError{Entity: domain.EntitySurvey, ID: id, Reason: "library already has a survey for that year", Conflicts: []string{other.ID}}
	}
	tx.state.surveys[id] = current.Clone()
	tx.recordChange(Change{Entity: domain.EntitySurvey, Action: domain.ActionUpdate, Before: before, After: current.Clone()})
	return current.Clone(), nil
}

// DeleteSurvey removes a survey. Its versions remain as history.
func (tx *transaction) DeleteSurvey(id string) error {
	current, ok := tx.state.surveys[id]
	if !ok {
		return domain.NotFoundError{Entity: domain.EntitySurvey, ID: id}
	}
	delete(tx.state.surveys, id)
	tx.recordChange(Change{Entity: domain.EntitySurvey, Action: domain.ActionDelete, Before: current.Clone()})
	return nil
}

// CreateSurveyVersion appends an immutable survey snapshot.
func (tx *transaction) CreateSurveyVersion(v SurveyVersion) (SurveyVersion, error) {
	if v.ID == "" {
		v.ID = tx.store.newID()
	}
	if _, exists := tx.state.surveyVersions[v.ID]; exists {
		return SurveyVersion{}, fmt.Errorf("survey version %q already exists", v.ID)
	}
	if v.SurveyID == "" {
		return SurveyVersion{}, fmt.Errorf("survey version %q requires survey id", v.ID)
	}
	if v.RecordedAt.IsZero() {
		v.RecordedAt = tx.now
	}
	v = cloneSurveyVersion(v)
	tx.state.surveyVersions[v.ID] = v
	tx.recordChange(Change{Entity: domain.EntitySurveyVersion, Action: domain.ActionCreate, After: cloneSurveyVersion(v)})
	return cloneSurveyVersion(v), nil
}

// FindOpenData looks a published row up by its natural key.
func (tx *transaction) FindOpenData(libraryName string, sampleYear int, variableID string) (OpenData, bool) {
	for _, row := range tx.state.openData {
		if row.LibraryName == libraryName && row.SampleYear == sampleYear && row.VariableID == variableID {
			return row, true
		}
	}
	return OpenData{}, false
}

// CreateOpenData stores a published row. The natural key is unique.
func (tx *transaction) CreateOpenData(o OpenData) (OpenData, error) {
	if o.ID == "" {
		o.ID = tx.store.newID()
	}
	if _, exists := tx.state.openData[o.ID]; exists {
		return OpenData{}, fmt.Errorf("open data %q already exists", o.ID)
	}
	if other, ok := tx.FindOpenData(o.LibraryName, o.SampleYear, o.VariableID); ok {
		return OpenData{}, domain.ConflictError{Entity: domain.EntityOpenData, ID: o.ID, Reason: "row already published", Conflicts: []string{other.ID}}
	}
	o.CreatedAt = tx.now
	o.UpdatedAt = tx.now
	tx.state.openData[o.ID] = o
	tx.recordChange(Change{Entity: domain.EntityOpenData, Action: domain.ActionCreate, After: o})
	return o, nil
}

// UpdateOpenData mutates a published row. UpdatedAt is left to the caller.
func (tx *transaction) UpdateOpenData(id string, mutator func(*OpenData) error) (OpenData, error) {
	current, ok := tx.state.openData[id]
	if !ok {
		return OpenData{}, domain.NotFoundError{Entity: domain.EntityOpenData, ID: id}
	}
	before := current
	if err := mutator(&current); err != nil {
		return OpenData{}, err
	}
	current.ID = id
	current.CreatedAt = before.CreatedAt
	tx.state.openData[id] = current
	tx.recordChange(Change{Entity: domain.EntityOpenData, Action: domain.ActionUpdate, Before: before, After: current})
	return current, nil
}

// Read helpers ---------------------------------------------------------------

// GetVariable retrieves a variable by ID from committed state.
func (s *Store) GetVariable(id string) (Variable, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.variables[id]
	if !ok {
		return Variable{}, false
	}
	return v.Clone(), true
}

// ListVariables returns all variables from committed state.
func (s *Store) ListVariables() []Variable {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listVariables(&s.state)
}

// GetSurvey retrieves a survey by ID from committed state.
func (s *Store) GetSurvey(id string) (Survey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.state.surveys[id]
	if !ok {
		return Survey{}, false
	}
	return v.Clone(), true
}

// ListSurveys returns all surveys from committed state.
func (s *Store) ListSurveys() []Survey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listSurveys(&s.state)
}

// ListOpenData returns all published rows from committed state.
func (s *Store) ListOpenData() []OpenData {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listOpenData(&s.state)
}
