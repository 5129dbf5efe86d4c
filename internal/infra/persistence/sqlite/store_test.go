package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"bibstat/pkg/domain"
)

func TestSQLiteStoreReloadsCommittedState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "bibstat.db")
	store, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	ctx := context.Background()
	_, err = store.RunInTransaction(ctx, func(tx domain.Transaction) error {
		v, err := tx.CreateVariable(domain.Variable{Key: "Folk10", Type: domain.VariableTypeInteger, IsPublic: true})
		if err != nil {
			return err
		}
		_, err = tx.CreateSurvey(domain.Survey{
			Library:      domain.LibraryRecord{Name: "Stadsbiblioteket", Sigel: "Ab"},
			SampleYear:   2014,
			Status:       domain.SurveyNotViewed,
			Observations: []domain.Observation{{VariableID: v.ID, SourceKey: v.Key, IsPublic: true, Value: domain.StringValue("")}},
		})
		return err
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if store.Path() != path || store.DB() == nil {
		t.Fatalf("unexpected accessors")
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(path, domain.NewRulesEngine())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	surveys := reopened.ListSurveys()
	if len(surveys) != 1 || len(reopened.ListVariables()) != 1 {
		t.Fatalf("expected state reloaded, got %d surveys", len(surveys))
	}
	obs := surveys[0].Observations[0]
	if obs.Value.IsAbsent() {
		t.Fatalf("empty string answer must not decode as absent")
	}
}

func TestSQLiteStoreSkipsPersistOnFailedTransaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fail.db")
	store, err := NewStore(path, nil)
	if err != nil {
		t.Skipf("sqlite unavailable: %v", err)
	}
	defer func() { _ = store.Close() }()
	boom := errors.New("boom")
	_, err = store.RunInTransaction(context.Background(), func(tx domain.Transaction) error {
		if _, err := tx.CreateVariable(domain.Variable{Key: "x"}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	var count int
	if err := store.DB().QueryRow(`SELECT COUNT(*) FROM state`).Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 0 {
		t.Fatalf("failed transaction must not write buckets, got %d rows", count)
	}
}
