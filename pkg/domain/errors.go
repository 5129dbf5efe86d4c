package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrAccessDenied is returned when a respondent presents the wrong capability token.
var ErrAccessDenied = errors.New("access denied")

// NotFoundError reports an unresolvable reference.
type NotFoundError struct {
	Entity EntityType
	ID     string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Entity, e.ID)
}

// ConflictError reports a uniqueness or graph conflict. Conflicts lists the
// identifiers of the records that collide with ID.
type ConflictError struct {
	Entity    EntityType
	ID        string
	Reason    string
	Conflicts []string
}

func (e ConflictError) Error() string {
	msg := fmt.Sprintf("%s %q conflict: %s", e.Entity, e.ID, e.Reason)
	if len(e.Conflicts) > 0 {
		msg += " (" + strings.Join(e.Conflicts, ", ") + ")"
	}
	return msg
}

// InvalidStateError reports an unknown status or an illegal transition.
type InvalidStateError struct {
	Entity EntityType
	ID     string
	From   string
	To     string
}

func (e InvalidStateError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("%s %q: invalid status %q", e.Entity, e.ID, e.To)
	}
	return fmt.Sprintf("%s %q: illegal transition %s -> %s", e.Entity, e.ID, e.From, e.To)
}

// ValidationError carries per-field messages.
type ValidationError struct {
	Entity EntityType
	ID     string
	Fields map[string]string
}

func (e ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("%s %q invalid: %s", e.Entity, e.ID, strings.Join(parts, "; "))
}

// Add records a field message, allocating the map on first use.
func (e *ValidationError) Add(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// Empty reports whether no field failed.
func (e ValidationError) Empty() bool { return len(e.Fields) == 0 }
