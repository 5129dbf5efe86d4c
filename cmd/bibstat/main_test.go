package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"bibstat/internal/core"
	"bibstat/internal/infra/persistence/sqlite"
	"bibstat/pkg/domain"
)

// seedSurvey writes one answered survey to the sqlite file at path.
func seedSurvey(t *testing.T, path string) string {
	t.Helper()
	ctx := context.Background()
	store, err := sqlite.NewStore(path, core.NewDefaultRulesEngine())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer store.Close()
	svc := core.NewService(store,
		core.WithLibraryResolver(core.NewStaticRegistry(domain.LibraryRecord{
			Name: "Norrby bibliotek", Sigel: "Nby", MunicipalityCode: "0180", Category: domain.TargetGroupPublic,
		})),
		core.WithTemplates(core.NewStaticTemplates(core.SurveyTemplate{
			SampleYear: 2023,
			Cells:      []core.TemplateCell{{VariableKey: "Folk1"}},
		})),
	)
	if _, _, err := svc.CreateVariable(ctx, domain.Variable{Key: "Folk1", Description: "Antal utlån", Type: domain.VariableTypeInteger, IsPublic: true}, "admin"); err != nil {
		t.Fatalf("create variable: %v", err)
	}
	survey, _, err := svc.CreateSurvey(ctx, "Nby", 2023, "admin")
	if err != nil {
		t.Fatalf("create survey: %v", err)
	}
	if _, _, err := svc.RecordAnswers(ctx, survey.ID, "respondent", map[string]core.Answer{"Folk1": {Value: domain.IntValue(7)}}); err != nil {
		t.Fatalf("answer: %v", err)
	}
	return survey.ID
}

func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "bibstat.yaml")
	body := fmt.Sprintf(`storage:
  driver: sqlite
  sqlite_path: %s
blob:
  driver: fs
  fs_root: %s
log:
  level: error
`, filepath.Join(dir, "bibstat.db"), filepath.Join(dir, "archive"))
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := execute(context.Background(), args, &out, &errOut)
	return out.String(), err
}

func TestPublishQueryAndExport(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)
	surveyID := seedSurvey(t, filepath.Join(dir, "bibstat.db"))
	metrics := filepath.Join(dir, "metrics.prom")

	out, err := run(t, "--config", cfg, "--actor", "tester", "--metrics-file", metrics, "publish", surveyID)
	if err != nil {
		t.Fatalf("publish: %v\n%s", err, out)
	}
	var report core.BatchReport
	if err := json.Unmarshal([]byte(out), &report); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	if len(report.Items) != 1 || report.Items[0].Outcome.Created != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	raw, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(raw), `bibstat_service_operations_total{operation="publish_survey",status="success"} 1`) {
		t.Fatalf("publish not counted:\n%s", raw)
	}

	out, err = run(t, "--config", cfg, "data", "--sigel", "Nby", "--term", "Folk1")
	if err != nil {
		t.Fatalf("data: %v", err)
	}
	var page struct {
		Graph []map[string]any `json:"@graph"`
	}
	if err := json.Unmarshal([]byte(out), &page); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(page.Graph) != 1 || page.Graph[0]["Folk1"] != float64(7) {
		t.Fatalf("unexpected data page %+v", page.Graph)
	}

	out, err = run(t, "--config", cfg, "export", "2023")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(out, `"opendata/2023/`) {
		t.Fatalf("unexpected export output %s", out)
	}

	out, err = run(t, "--config", cfg, "terms", "Folk1")
	if err != nil {
		t.Fatalf("terms: %v", err)
	}
	if !strings.Contains(out, `"range": "xsd:integer"`) {
		t.Fatalf("unexpected term output %s", out)
	}

	out, err = run(t, "--config", cfg, "unpublish", surveyID)
	if err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	if !strings.Contains(out, `"is_published": false`) {
		t.Fatalf("unexpected unpublish output %s", out)
	}
	out, err = run(t, "--config", cfg, "data")
	if err != nil {
		t.Fatalf("data after unpublish: %v", err)
	}
	if !strings.Contains(out, `"@graph": []`) {
		t.Fatalf("expected empty graph, got %s", out)
	}
}

func TestCommandErrors(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir)

	cases := []struct {
		name string
		args []string
		want string
	}{
		{"missing survey", []string{"--config", cfg, "publish", "nope"}, "not found"},
		{"bad year", []string{"--config", cfg, "export", "soon"}, "invalid sample year"},
		{"bad group", []string{"--config", cfg, "publish-year", "2023", "--target-group", "zoo"}, "unknown target group"},
		{"bad from", []string{"--config", cfg, "data", "--from", "yesterday"}, "--from"},
		{"missing config", []string{"--config", filepath.Join(dir, "absent.yaml"), "terms"}, "read config"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := run(t, tc.args...)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}
