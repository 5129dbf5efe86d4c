package memory

import (
	"bibstat/pkg/domain"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestStoreRunInTransactionAndSnapshots(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, ok := tx.FindVariable("missing"); ok {
			t.Fatalf("expected missing variable lookup")
		}
		created, err := tx.CreateVariable(domain.Variable{Key: "Folk10", Type: domain.VariableTypeInteger})
		if err != nil {
			return err
		}
		if created.ID == "" {
			t.Fatalf("expected generated ID")
		}
		if !created.CreatedAt.Equal(created.UpdatedAt) {
			t.Fatalf("expected date_modified == date_created on creation")
		}
		view := tx.Snapshot()
		if len(view.ListVariables()) != 1 {
			t.Fatalf("snapshot mismatch")
		}
		if _, ok := view.FindVariableByKey("Folk10"); !ok {
			t.Fatalf("expected key lookup")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("run transaction: %v", err)
	}
	if len(store.ListVariables()) != 1 {
		t.Fatalf("expected persisted variable")
	}
	snapshot := store.ExportState()
	store.ImportState(Snapshot{})
	if len(store.ListVariables()) != 0 {
		t.Fatalf("expected cleared state")
	}
	store.ImportState(snapshot)
	if len(store.ListVariables()) != 1 {
		t.Fatalf("expected restored state")
	}
	if store.RulesEngine() == nil {
		t.Fatalf("expected rules engine")
	}
	if store.NowFunc() == nil {
		t.Fatalf("expected now func")
	}
}

func TestStoreRollsBackOnError(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateVariable(domain.Variable{Key: "a"}); err != nil {
			return err
		}
		return fmt.Errorf("boom")
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(store.ListVariables()) != 0 {
		t.Fatalf("failed transaction must not commit")
	}
}

func TestStoreRuleViolation(t *testing.T) {
	store := NewStore(domain.NewRulesEngine())
	store.RulesEngine().Register(blockingRule{})
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		_, e := tx.CreateVariable(domain.Variable{Key: "Fail"})
		return e
	})
	var violation domain.RuleViolationError
	if !errors.As(err, &violation) {
		t.Fatalf("expected rule violation error, got %v", err)
	}
	if len(store.ListVariables()) != 0 {
		t.Fatalf("blocked transaction must not commit")
	}
}

type blockingRule struct{}

func (blockingRule) Name() string { return "block" }

func (blockingRule) Evaluate(context.Context, domain.RuleView, []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	res.Merge(domain.Result{Violations: []domain.Violation{{Rule: "block", Severity: domain.SeverityBlock}}})
	return res, nil
}

func TestVariableKeyUniqueAndImmutable(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		v, err := tx.CreateVariable(domain.Variable{Key: "Folk10"})
		if err != nil {
			return err
		}
		var conflict domain.ConflictError
		if _, err := tx.CreateVariable(domain.Variable{Key: "Folk10"}); !errors.As(err, &conflict) {
			t.Fatalf("expected duplicate key conflict, got %v", err)
		}
		var invalid domain.ValidationError
		if _, err := tx.UpdateVariable(v.ID, func(v *domain.Variable) error { v.Key = "Folk11"; return nil }); !errors.As(err, &invalid) {
			t.Fatalf("expected immutable key error, got %v", err)
		}
		if _, err := tx.CreateVariable(domain.Variable{}); !errors.As(err, &invalid) {
			t.Fatalf("expected missing key error, got %v", err)
		}
		var missing domain.NotFoundError
		if _, err := tx.UpdateVariable("missing", func(*domain.Variable) error { return nil }); !errors.As(err, &missing) {
			t.Fatalf("expected not found, got %v", err)
		}
		if _, err := tx.UpdateVariable(v.ID, func(*domain.Variable) error { return fmt.Errorf("boom") }); err == nil {
			t.Fatalf("expected mutator error")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestDeleteVariableGuardsReferences(t *testing.T) {
	store := NewStore(nil)
	ctx := context.Background()
	var used, draft domain.Variable
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		if used, err = tx.CreateVariable(domain.Variable{Key: "used"}); err != nil {
			return err
		}
		if draft, err = tx.CreateVariable(domain.Variable{Key: "draft", IsDraft: true}); err != nil {
			return err
		}
		_, err = tx.CreateSurvey(domain.Survey{
			Library:    domain.LibraryRecord{Sigel: "lib"},
			SampleYear: 2014,
			Observations: []domain.Observation{
				{VariableID: used.ID, SourceKey: "used"},
				{VariableID: draft.ID, SourceKey: "draft"},
			},
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error { return tx.DeleteVariable(used.ID) })
	var conflict domain.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected conflict deleting referenced variable, got %v", err)
	}
	if _, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error { return tx.DeleteVariable(draft.ID) }); err != nil {
		t.Fatalf("drafts are always deletable: %v", err)
	}
}

func TestSurveyUniquenessAndVersions(t *testing.T) {
	tick := time.Date(2014, 1, 1, 0, 0, 0, 0, time.UTC)
	store := NewStore(nil, WithClock(func() time.Time { tick = tick.Add(time.Minute); return tick }))
	ctx := context.Background()
	var survey domain.Survey
	_, err := store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		var err error
		survey, err = tx.CreateSurvey(domain.Survey{Library: domain.LibraryRecord{Sigel: "lib"}, SampleYear: 2014})
		if err != nil {
			return err
		}
		var conflict domain.ConflictError
		if _, err := tx.CreateSurvey(domain.Survey{Library: domain.LibraryRecord{Sigel: "lib"}, SampleYear: 2014}); !errors.As(err, &conflict) {
			t.Fatalf("expected duplicate survey conflict, got %v", err)
		}
		if _, err := tx.CreateSurvey(domain.Survey{Library: domain.LibraryRecord{Sigel: "lib"}, SampleYear: 2015}); err != nil {
			t.Fatalf("other year must be allowed: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		if _, err := tx.CreateSurveyVersion(domain.SurveyVersion{}); err == nil {
			t.Fatalf("expected missing survey id error")
		}
		_, err := tx.CreateSurveyVersion(domain.SurveyVersion{SurveyID: survey.ID, Snapshot: survey})
		return err
	})
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	err = store.View(ctx, func(view domain.TransactionView) error {
		versions := view.ListSurveyVersions(survey.ID)
		if len(versions) != 1 || versions[0].RecordedAt.IsZero() {
			t.Fatalf("unexpected versions %+v", versions)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestOpenDataNaturalKey(t *testing.T) {
	store := NewStore(nil)
	_, err := store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		row, err := tx.CreateOpenData(domain.OpenData{LibraryName: "Lib", SampleYear: 2014, VariableID: "v", Value: domain.IntValue(7), IsActive: true})
		if err != nil {
			return err
		}
		var conflict domain.ConflictError
		if _, err := tx.CreateOpenData(domain.OpenData{LibraryName: "Lib", SampleYear: 2014, VariableID: "v"}); !errors.As(err, &conflict) {
			t.Fatalf("expected natural key conflict, got %v", err)
		}
		found, ok := tx.FindOpenData("Lib", 2014, "v")
		if !ok || found.ID != row.ID {
			t.Fatalf("expected lookup by natural key")
		}
		updated, err := tx.UpdateOpenData(row.ID, func(o *domain.OpenData) error {
			o.IsActive = false
			o.CreatedAt = time.Time{}
			return nil
		})
		if err != nil {
			return err
		}
		if updated.CreatedAt.IsZero() || updated.IsActive {
			t.Fatalf("unexpected update result %+v", updated)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}
}

func TestImportStateDropsDanglingReplacementEdges(t *testing.T) {
	gone := "gone"
	store := NewStore(nil)
	store.ImportState(Snapshot{Variables: map[string]domain.Variable{
		"a": {Base: domain.Base{ID: "a"}, Key: "a", ReplacedBy: &gone, ActiveTo: domain.DatePtr(domain.NewDate(2014, 1, 1))},
		"b": {Base: domain.Base{ID: "b"}, Key: "b", Replaces: []string{"a", "gone"}},
	}})
	a, _ := store.GetVariable("a")
	if a.ReplacedBy != nil || a.ActiveTo != nil {
		t.Fatalf("expected dangling replaced_by cleared, got %+v", a)
	}
	b, _ := store.GetVariable("b")
	if len(b.Replaces) != 1 || b.Replaces[0] != "a" {
		t.Fatalf("expected dangling replaces entry removed, got %v", b.Replaces)
	}
	if len(store.ListSurveys()) != 0 || len(store.ListOpenData()) != 0 {
		t.Fatalf("expected empty buckets")
	}
}
