package core

import (
	"context"
	"fmt"
	"io"
	"math"
	"sort"
	"sync"

	"bibstat/pkg/domain"

	exprlang "github.com/expr-lang/expr"
	exprvm "github.com/expr-lang/expr/vm"
	"gopkg.in/yaml.v3"
)

// TemplateCell is one answer cell of a survey template.
type TemplateCell struct {
	VariableKey string   `yaml:"variable_key" json:"variable_key"`
	Required    bool     `yaml:"required" json:"required"`
	SumOf       []string `yaml:"sum_of" json:"sum_of,omitempty"`
	SumSiblings []string `yaml:"sum_siblings" json:"sum_siblings,omitempty"`
	Types       []string `yaml:"types" json:"types,omitempty"`
	// Constraint is an expr expression evaluated against value and values
	// (answers keyed by variable key); it must yield true.
	Constraint string `yaml:"constraint" json:"constraint,omitempty"`
}

// SurveyTemplate is the ordered list of cells for a sample year.
type SurveyTemplate struct {
	SampleYear int            `yaml:"sample_year" json:"sample_year"`
	Cells      []TemplateCell `yaml:"cells" json:"cells"`
}

// VariableKeys returns the cell keys in template order.
func (t SurveyTemplate) VariableKeys() []string {
	keys := make([]string, 0, len(t.Cells))
	for _, c := range t.Cells {
		keys = append(keys, c.VariableKey)
	}
	return keys
}

// TemplateProvider returns the template in force for a sample year.
type TemplateProvider interface {
	TemplateFor(ctx context.Context, sampleYear int) (SurveyTemplate, error)
}

// StaticTemplates holds templates in memory. A year without its own template
// uses the newest earlier one.
type StaticTemplates struct {
	byYear map[int]SurveyTemplate
}

// NewStaticTemplates builds a provider from templates.
func NewStaticTemplates(templates ...SurveyTemplate) *StaticTemplates {
	st := &StaticTemplates{byYear: make(map[int]SurveyTemplate, len(templates))}
	for _, t := range templates {
		st.byYear[t.SampleYear] = t
	}
	return st
}

// LoadTemplatesYAML reads a YAML list of templates.
func LoadTemplatesYAML(r io.Reader) (*StaticTemplates, error) {
	var templates []SurveyTemplate
	if err := yaml.NewDecoder(r).Decode(&templates); err != nil && err != io.EOF {
		return nil, fmt.Errorf("decode templates: %w", err)
	}
	for _, t := range templates {
		for _, c := range t.Cells {
			if c.Constraint == "" {
				continue
			}
			if _, err := compileConstraint(c.Constraint); err != nil {
				return nil, fmt.Errorf("template %d cell %s: %w", t.SampleYear, c.VariableKey, err)
			}
		}
	}
	return NewStaticTemplates(templates...), nil
}

// TemplateFor implements TemplateProvider.
func (st *StaticTemplates) TemplateFor(_ context.Context, sampleYear int) (SurveyTemplate, error) {
	if t, ok := st.byYear[sampleYear]; ok {
		return t, nil
	}
	years := make([]int, 0, len(st.byYear))
	for y := range st.byYear {
		if y <= sampleYear {
			years = append(years, y)
		}
	}
	if len(years) == 0 {
		return SurveyTemplate{}, domain.NotFoundError{Entity: domain.EntityTemplate, ID: fmt.Sprint(sampleYear)}
	}
	sort.Ints(years)
	return st.byYear[years[len(years)-1]], nil
}

var constraintCache sync.Map // expression -> *exprvm.Program

// constraintEnv is what a cell constraint sees: its own answer as value and
// every answer of the survey keyed by variable key as values.
type constraintEnv struct {
	Value  any            `expr:"value"`
	Values map[string]any `expr:"values"`
}

func compileConstraint(expression string) (*exprvm.Program, error) {
	if cached, ok := constraintCache.Load(expression); ok {
		return cached.(*exprvm.Program), nil
	}
	program, err := exprlang.Compile(expression, exprlang.Env(constraintEnv{}), exprlang.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile constraint %q: %w", expression, err)
	}
	constraintCache.Store(expression, program)
	return program, nil
}

// validateAgainstTemplate checks required cells, sums and constraints of the
// survey's answers. Cells whose answer is declared unknown are exempt.
func validateAgainstTemplate(survey domain.Survey, template SurveyTemplate) error {
	verr := domain.ValidationError{Entity: domain.EntitySurvey, ID: survey.ID}
	values := make(map[string]any, len(survey.Observations))
	for _, obs := range survey.Observations {
		values[obs.SourceKey] = obs.Value.Interface()
	}
	for _, cell := range template.Cells {
		obs, _, ok := survey.ObservationByKey(cell.VariableKey)
		if !ok || obs.ValueUnknown || obs.Disabled {
			continue
		}
		if cell.Required && obs.Value.IsAbsent() {
			verr.Add(cell.VariableKey, "answer required")
			continue
		}
		if len(cell.SumOf) > 0 && !obs.Value.IsAbsent() {
			if msg, bad := checkSum(survey, cell, obs); bad {
				verr.Add(cell.VariableKey, msg)
				continue
			}
		}
		if cell.Constraint != "" && !obs.Value.IsAbsent() {
			program, err := compileConstraint(cell.Constraint)
			if err != nil {
				verr.Add(cell.VariableKey, err.Error())
				continue
			}
			out, err := exprlang.Run(program, constraintEnv{Value: obs.Value.Interface(), Values: values})
			if err != nil {
				verr.Add(cell.VariableKey, fmt.Sprintf("constraint %q: %v", cell.Constraint, err))
				continue
			}
			if ok, _ := out.(bool); !ok {
				verr.Add(cell.VariableKey, fmt.Sprintf("violates constraint %q", cell.Constraint))
			}
		}
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

func checkSum(survey domain.Survey, cell TemplateCell, obs domain.Observation) (string, bool) {
	total, ok := obs.Value.Float64()
	if !ok {
		return "sum cell must be numeric", true
	}
	var sum float64
	for _, key := range cell.SumOf {
		part, _, ok := survey.ObservationByKey(key)
		if !ok || part.Value.IsAbsent() {
			// Partial answers are not summed.
			return "", false
		}
		f, ok := part.Value.Float64()
		if !ok {
			return fmt.Sprintf("summand %s is not numeric", key), true
		}
		sum += f
	}
	if math.Abs(sum-total) > 1e-9 {
		return fmt.Sprintf("expected sum %v of %v, got %v", sum, cell.SumOf, total), true
	}
	return "", false
}
