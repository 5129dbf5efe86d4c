package domain

import "fmt"

// VariableLookup resolves variables by identifier.
type VariableLookup interface {
	FindVariable(id string) (Variable, bool)
}

// ReplacementPlan describes the edits needed to make replacement take over
// from a set of sibling variables.
type ReplacementPlan struct {
	// Replacement carries the new replaces list.
	Replacement Variable
	// Siblings holds every sibling whose replaced_by or active_to changes.
	Siblings []Variable
	Added    []string
	Retained []string
	Released []string
}

// PlanReplacement computes the replacement graph edits for replacing
// candidateIDs with replacement from switchover onwards. It does not write
// anything; callers persist Replacement before Siblings. Siblings only ever
// gain an edge pointing at replacement, so a draft replacement's plan must
// not be persisted beyond the replacement itself.
func PlanReplacement(lookup VariableLookup, replacement Variable, candidateIDs []string, switchover *Date) (ReplacementPlan, error) {
	candidates := dedupe(candidateIDs)
	resolved := make([]Variable, 0, len(candidates))
	for _, id := range candidates {
		if id == replacement.ID {
			return ReplacementPlan{}, ConflictError{Entity: EntityVariable, ID: id, Reason: "variable cannot replace itself"}
		}
		sibling, ok := lookup.FindVariable(id)
		if !ok {
			return ReplacementPlan{}, NotFoundError{Entity: EntityVariable, ID: id}
		}
		if sibling.ReplacedBy != nil && *sibling.ReplacedBy != replacement.ID {
			return ReplacementPlan{}, ConflictError{
				Entity:    EntityVariable,
				ID:        id,
				Reason:    fmt.Sprintf("already replaced by %s", *sibling.ReplacedBy),
				Conflicts: []string{*sibling.ReplacedBy},
			}
		}
		if replacement.ID != "" && reachesVariable(lookup, id, replacement.ID) {
			return ReplacementPlan{}, ConflictError{
				Entity: EntityVariable,
				ID:     id,
				Reason: fmt.Sprintf("replacing %s with %s would create a replacement cycle", id, replacement.ID),
			}
		}
		resolved = append(resolved, sibling)
	}

	previous := make(map[string]struct{}, len(replacement.Replaces))
	for _, id := range replacement.Replaces {
		previous[id] = struct{}{}
	}
	next := make(map[string]struct{}, len(candidates))
	for _, id := range candidates {
		next[id] = struct{}{}
	}

	plan := ReplacementPlan{}
	for _, sibling := range resolved {
		if _, ok := previous[sibling.ID]; ok {
			plan.Retained = append(plan.Retained, sibling.ID)
		} else {
			plan.Added = append(plan.Added, sibling.ID)
		}
		if sibling.IsReplacedBy(replacement.ID) && equalDatePtr(sibling.ActiveTo, switchover) {
			continue
		}
		id := replacement.ID
		sibling.ReplacedBy = &id
		sibling.ActiveTo = cloneDatePtr(switchover)
		plan.Siblings = append(plan.Siblings, sibling)
	}
	for _, id := range replacement.Replaces {
		if _, ok := next[id]; ok {
			continue
		}
		plan.Released = append(plan.Released, id)
		sibling, ok := lookup.FindVariable(id)
		if !ok || !sibling.IsReplacedBy(replacement.ID) {
			continue
		}
		sibling.ReplacedBy = nil
		sibling.ActiveTo = nil
		plan.Siblings = append(plan.Siblings, sibling)
	}

	replacement.Replaces = candidates
	plan.Replacement = replacement
	return plan, nil
}

// reachesVariable walks replaces edges from start and reports whether target
// is reachable. A draft's replaces list is only an intent and is not
// followed; the cycle is caught when the draft is committed.
func reachesVariable(lookup VariableLookup, start, target string) bool {
	seen := map[string]struct{}{}
	stack := []string{start}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if id == target {
			return true
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		v, ok := lookup.FindVariable(id)
		if !ok || v.IsDraft {
			continue
		}
		stack = append(stack, v.Replaces...)
	}
	return false
}

func dedupe(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
