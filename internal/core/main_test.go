package core_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"bibstat/internal/core"
	"bibstat/internal/infra/persistence/memory"
	"bibstat/pkg/domain"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// tickClock advances one second on every reading so consecutive
// transactions get distinct stamps.
type tickClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTickClock() *tickClock {
	return &tickClock{now: time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type auditCapture struct {
	mu      sync.Mutex
	entries []core.AuditEntry
}

func (a *auditCapture) Record(_ context.Context, entry core.AuditEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
}

func (a *auditCapture) operations() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.Operation)
	}
	return out
}

var (
	libraryNorth = domain.LibraryRecord{
		Name:             "Norrby bibliotek",
		Sigel:            "Nby",
		ExternalID:       "lib-nby",
		MunicipalityCode: "0180",
		LibraryType:      "folkbib",
		Category:         domain.TargetGroupPublic,
	}
	librarySouth = domain.LibraryRecord{
		Name:             "Söderby bibliotek",
		Sigel:            "Sby",
		MunicipalityCode: "0180",
		LibraryType:      "folkbib",
		Category:         domain.TargetGroupPublic,
	}
	libraryRemote = domain.LibraryRecord{
		Name:             "Fjällby bibliotek",
		Sigel:            "Fby",
		MunicipalityCode: "2584",
		Category:         domain.TargetGroupPublic,
	}
)

type fixture struct {
	svc   *core.Service
	store *memory.Store
	clock *tickClock
	audit *auditCapture
}

func newFixture(t *testing.T, opts ...core.Option) fixture {
	t.Helper()
	clock := newTickClock()
	store := memory.NewStore(core.NewDefaultRulesEngine(), memory.WithClock(clock.Now))
	audit := &auditCapture{}
	base := []core.Option{
		core.WithClock(clock),
		core.WithAuditRecorder(audit),
		core.WithLibraryResolver(core.NewStaticRegistry(libraryNorth, librarySouth, libraryRemote)),
		core.WithTemplates(core.NewStaticTemplates(core.SurveyTemplate{
			SampleYear: 2023,
			Cells: []core.TemplateCell{
				{VariableKey: "Folk1", Required: true},
				{VariableKey: "Folk2"},
				{VariableKey: "Folk3", SumOf: []string{"Folk1", "Folk2"}},
				{VariableKey: "Folk4"},
			},
		})),
	}
	return fixture{
		svc:   core.NewService(store, append(base, opts...)...),
		store: store,
		clock: clock,
		audit: audit,
	}
}

// seedVariables creates the committed variables referenced by the 2023 template.
func (f fixture) seedVariables(t *testing.T) map[string]domain.Variable {
	t.Helper()
	vars := map[string]domain.Variable{}
	for _, v := range []domain.Variable{
		{Key: "Folk1", Description: "Antal utlån", Type: domain.VariableTypeInteger, IsPublic: true, TargetGroups: []domain.TargetGroup{domain.TargetGroupPublic}},
		{Key: "Folk2", Description: "Antal omlån", Type: domain.VariableTypeInteger, IsPublic: true, TargetGroups: []domain.TargetGroup{domain.TargetGroupPublic}},
		{Key: "Folk3", Description: "Summa lån", Type: domain.VariableTypeInteger, IsPublic: true, TargetGroups: []domain.TargetGroup{domain.TargetGroupPublic}},
		{Key: "Folk4", Description: "Intern kommentar", Type: domain.VariableTypeString, TargetGroups: []domain.TargetGroup{domain.TargetGroupPublic}},
	} {
		created, _, err := f.svc.CreateVariable(context.Background(), v, "admin")
		if err != nil {
			t.Fatalf("create variable %s: %v", v.Key, err)
		}
		vars[v.Key] = created
	}
	return vars
}

func (f fixture) newSurvey(t *testing.T, sigel string) domain.Survey {
	t.Helper()
	survey, _, err := f.svc.CreateSurvey(context.Background(), sigel, 2023, "admin")
	if err != nil {
		t.Fatalf("create survey for %s: %v", sigel, err)
	}
	return survey
}

func (f fixture) answer(t *testing.T, id string, answers map[string]core.Answer) domain.Survey {
	t.Helper()
	survey, _, err := f.svc.RecordAnswers(context.Background(), id, "respondent", answers)
	if err != nil {
		t.Fatalf("record answers: %v", err)
	}
	return survey
}

func intAnswer(n int64) core.Answer { return core.Answer{Value: domain.IntValue(n)} }
