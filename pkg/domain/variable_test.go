package domain

import (
	"encoding/json"
	"testing"
	"time"
)

func TestVariableStatePrecedence(t *testing.T) {
	today := NewDate(2014, time.June, 1)
	other := "other"
	cases := []struct {
		name string
		v    Variable
		want VariableState
	}{
		{"draft wins over replaced", Variable{IsDraft: true, ReplacedBy: &other}, VariableStateDraft},
		{"replaced wins over discontinued", Variable{ReplacedBy: &other, ActiveTo: DatePtr(today.AddDays(-1))}, VariableStateReplaced},
		{"discontinued on active_to", Variable{ActiveTo: DatePtr(today)}, VariableStateDiscontinued},
		{"discontinued wins over pending", Variable{ActiveFrom: DatePtr(today.AddDays(1)), ActiveTo: DatePtr(today.AddDays(-1))}, VariableStateDiscontinued},
		{"pending", Variable{ActiveFrom: DatePtr(today.AddDays(1))}, VariableStatePending},
		{"current from today", Variable{ActiveFrom: DatePtr(today), ActiveTo: DatePtr(today.AddDays(1))}, VariableStateCurrent},
		{"current unbounded", Variable{}, VariableStateCurrent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.v.State(today); got != tc.want {
				t.Fatalf("expected %s, got %s", tc.want, got)
			}
			if tc.v.IsActive(today) != (tc.want == VariableStateCurrent) {
				t.Fatalf("IsActive disagrees with state %s", tc.want)
			}
		})
	}
}

func TestVariableLabel(t *testing.T) {
	v := Variable{Description: "desc"}
	if got := v.Label(); len(got) != 1 || got[0] != "desc" {
		t.Fatalf("expected description label, got %v", got)
	}
	v.Question = "Antal bibliotek"
	if got := v.Label(); len(got) != 1 || got[0] != "Antal bibliotek" {
		t.Fatalf("expected question label, got %v", got)
	}
	v.QuestionPart = "varav filialer"
	if got := v.Label(); len(got) != 2 || got[1] != "varav filialer" {
		t.Fatalf("expected question and part, got %v", got)
	}
}

func TestVariableSummaryAutoField(t *testing.T) {
	v := Variable{SummaryOf: []string{"a", "b"}}
	if !v.IsSummaryAutoField() {
		t.Fatalf("expected summary auto field")
	}
	v.Question = "asked"
	if v.IsSummaryAutoField() {
		t.Fatalf("asked variables are not auto fields")
	}
}

func TestVariableTrackedEqualIgnoresStamps(t *testing.T) {
	a := Variable{Base: Base{ID: "v1", UpdatedAt: time.Now()}, Key: "Folk10", ModifiedBy: "alice"}
	b := a.Clone()
	b.UpdatedAt = b.UpdatedAt.Add(time.Hour)
	b.ModifiedBy = "bob"
	if !a.TrackedEqual(b) {
		t.Fatalf("stamps must not count as tracked changes")
	}
	b.Description = "changed"
	if a.TrackedEqual(b) {
		t.Fatalf("description change must be tracked")
	}
	c := a.Clone()
	c.ActiveTo = DatePtr(NewDate(2014, 1, 1))
	if a.TrackedEqual(c) {
		t.Fatalf("active_to change must be tracked")
	}
}

func TestVariableCloneIsDeep(t *testing.T) {
	id := "r"
	v := Variable{Replaces: []string{"a"}, ReplacedBy: &id, ActiveTo: DatePtr(NewDate(2014, 1, 1))}
	cp := v.Clone()
	cp.Replaces[0] = "b"
	*cp.ReplacedBy = "x"
	*cp.ActiveTo = NewDate(2020, 1, 1)
	if v.Replaces[0] != "a" || *v.ReplacedBy != "r" || v.ActiveTo.String() != "2014-01-01" {
		t.Fatalf("clone shares state with original: %+v", v)
	}
}

func TestDateJSON(t *testing.T) {
	var d Date
	if err := json.Unmarshal([]byte(`"2014-01-01"`), &d); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !d.Equal(NewDate(2014, time.January, 1)) {
		t.Fatalf("unexpected date %s", d)
	}
	if err := json.Unmarshal([]byte(`"2014-01-01T10:00:00Z"`), &d); err != nil {
		t.Fatalf("unmarshal timestamp: %v", err)
	}
	if d.String() != "2014-01-01" {
		t.Fatalf("expected truncation to day, got %s", d)
	}
	out, _ := json.Marshal(d)
	if string(out) != `"2014-01-01"` {
		t.Fatalf("unexpected encoding %s", out)
	}
	if _, err := ParseDate("not a date"); err == nil {
		t.Fatalf("expected parse error")
	}
}
