package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSurveyLegacyPublicationFlag(t *testing.T) {
	modified := time.Date(2014, 5, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		name      string
		published time.Time
		want      bool
	}{
		{"published after last edit", modified.Add(time.Hour), true},
		{"published at last edit", modified, true},
		{"edited after publish", modified.Add(-time.Hour), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			raw, _ := json.Marshal(map[string]any{
				"id":            "s1",
				"date_modified": modified,
				"published_at":  tc.published,
			})
			var s Survey
			if err := json.Unmarshal(raw, &s); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if s.IsPublished != tc.want {
				t.Fatalf("expected IsPublished=%v", tc.want)
			}
		})
	}
}

func TestSurveyExplicitPublicationFlagWins(t *testing.T) {
	raw := []byte(`{"id":"s1","date_modified":"2014-05-01T00:00:00Z","published_at":"2015-01-01T00:00:00Z","is_published":false}`)
	var s Survey
	if err := json.Unmarshal(raw, &s); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if s.IsPublished {
		t.Fatalf("explicit flag must not be overridden by dates")
	}
}

func TestSurveyContentEqualIgnoresNotesAndPublication(t *testing.T) {
	now := time.Now()
	a := Survey{Base: Base{ID: "s"}, Observations: []Observation{{VariableID: "v", Value: IntValue(1)}}}
	b := a.Clone()
	b.Notes = "call back"
	b.PublishedAt = &now
	b.IsPublished = true
	b.UpdatedAt = now
	if !a.ContentEqual(b) {
		t.Fatalf("notes and publication markers are not content")
	}
	b.Observations[0].Value = IntValue(2)
	if a.ContentEqual(b) {
		t.Fatalf("observation change is content")
	}
	if v, _ := a.Observations[0].Value.Int(); v != 1 {
		t.Fatalf("clone must not share observations")
	}
}

func TestSurveyEffectiveSelectionAndMetadata(t *testing.T) {
	s := Survey{
		Library:           LibraryRecord{Sigel: "own", MunicipalityCode: "1280"},
		SelectedLibraries: []string{"a", "own", "", "a", "b"},
		Metadata:          map[string]string{"library_type": "folkbib"},
	}
	got := s.EffectiveSelection()
	if len(got) != 3 || got[0] != "own" || got[1] != "a" || got[2] != "b" {
		t.Fatalf("unexpected selection %v", got)
	}
	if s.MunicipalityCode() != "1280" {
		t.Fatalf("expected municipality from library record")
	}
	if s.MetadataValue("library_type") != "folkbib" {
		t.Fatalf("expected metadata override")
	}
	if !SurveyControlled.Valid() || SurveyStatus("archived").Valid() {
		t.Fatalf("unexpected status validity")
	}
}

func TestSurveyWholeFloatAnswerSurvivesReload(t *testing.T) {
	s := Survey{
		Base:         Base{ID: "s1"},
		SampleYear:   2014,
		Status:       SurveyPublished,
		IsPublished:  true,
		Observations: []Observation{{VariableID: "v1", Value: FloatValue(7), SourceKey: "Folk5", IsPublic: true}},
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var reloaded Survey
	if err := json.Unmarshal(data, &reloaded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got := reloaded.Observations[0].Value.Kind(); got != KindFloat {
		t.Fatalf("expected float answer after reload, got %s", got)
	}
	reloaded.Observations[0].Value = FloatValue(7)
	if !s.ContentEqual(reloaded) {
		t.Fatalf("re-entering the same decimal must not count as a change")
	}
}
