package core_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"bibstat/internal/core"
	blobmemory "bibstat/internal/infra/blob/memory"
	"bibstat/pkg/domain"

	"github.com/google/go-cmp/cmp"
)

func publishedFixture(t *testing.T, opts ...core.Option) (fixture, domain.Survey, domain.Survey) {
	t.Helper()
	f := newFixture(t, opts...)
	ctx := context.Background()
	f.seedVariables(t)
	north := f.newSurvey(t, "Nby")
	remote := f.newSurvey(t, "Fby")
	f.answer(t, north.ID, map[string]core.Answer{"Folk1": intAnswer(7), "Folk2": intAnswer(3)})
	f.answer(t, remote.ID, map[string]core.Answer{"Folk1": intAnswer(2)})
	for _, id := range []string{north.ID, remote.ID} {
		if _, err := f.svc.Publish(ctx, id, "admin"); err != nil {
			t.Fatalf("publish %s: %v", id, err)
		}
	}
	return f, north, remote
}

func TestQueryOpenData(t *testing.T) {
	f, north, remote := publishedFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		query core.OpenDataQuery
		want  int
	}{
		{"all", core.OpenDataQuery{}, 3},
		{"term", core.OpenDataQuery{Term: "Folk1"}, 2},
		{"sigel", core.OpenDataQuery{Sigel: "Nby"}, 2},
		{"municipality", core.OpenDataQuery{MunicipalityCode: "2584"}, 1},
		{"library type", core.OpenDataQuery{LibraryType: "folkbib"}, 2},
		{"year", core.OpenDataQuery{SampleYear: 2022}, 0},
		{"future window", core.OpenDataQuery{From: ptrTime(time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC))}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			page, err := f.svc.QueryOpenData(ctx, tc.query)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(page.Items) != tc.want {
				t.Fatalf("expected %d rows, got %d", tc.want, len(page.Items))
			}
		})
	}

	first, err := f.svc.QueryOpenData(ctx, core.OpenDataQuery{Limit: 2})
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if first.Next != "?limit=2&offset=2" {
		t.Fatalf("unexpected next %q", first.Next)
	}
	second, err := f.svc.QueryOpenData(ctx, core.OpenDataQuery{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Items) != 1 || second.Next != "" {
		t.Fatalf("unexpected last page %+v", second)
	}
	if second.Items[0].SourceSurveyID != remote.ID {
		t.Fatalf("expected rows ordered by date_modified")
	}

	if _, err := f.svc.Unpublish(ctx, north.ID, "admin"); err != nil {
		t.Fatalf("unpublish: %v", err)
	}
	page, err := f.svc.QueryOpenData(ctx, core.OpenDataQuery{})
	if err != nil {
		t.Fatalf("query after unpublish: %v", err)
	}
	if len(page.Items) != 1 || page.Items[0].SourceSurveyID != remote.ID {
		t.Fatalf("inactive rows must be hidden, got %+v", page.Items)
	}
}

func ptrTime(t time.Time) *time.Time { return &t }

func TestObservationDocument(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	row := domain.OpenData{
		Base:        domain.Base{ID: "row-1", CreatedAt: created, UpdatedAt: created.Add(time.Hour)},
		LibraryName: "Fjällby bibliotek",
		SampleYear:  2023,
		TargetGroup: domain.TargetGroupPublic,
		VariableKey: "Folk1",
		Value:       domain.IntValue(2),
	}
	want := map[string]any{
		"@id":         "https://bibstat.kb.se/data/row-1",
		"@type":       "Observation",
		"Folk1":       int64(2),
		"library":     map[string]any{"name": "Fjällby bibliotek"},
		"sampleYear":  2023,
		"targetGroup": "Folkbibliotek",
		"published":   "2024-03-01T10:00:00.000000Z",
		"modified":    "2024-03-01T11:00:00.000000Z",
	}
	if diff := cmp.Diff(want, f.svc.ObservationDocument(row)); diff != "" {
		t.Fatalf("document mismatch (-want +got):\n%s", diff)
	}

	row.LibraryID = "lib-fby"
	doc := f.svc.ObservationDocument(row)
	if diff := cmp.Diff(map[string]any{"@id": "https://bibstat.kb.se/library/lib-fby"}, doc["library"]); diff != "" {
		t.Fatalf("library reference mismatch (-want +got):\n%s", diff)
	}
}

func TestExportDataset(t *testing.T) {
	archive := blobmemory.New()
	f, _, _ := publishedFixture(t, core.WithArchive(archive))
	ctx := context.Background()

	info, err := f.svc.ExportDataset(ctx, 2023, "admin")
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.HasPrefix(info.Key, "opendata/2023/") || info.ContentType != "application/ld+json" {
		t.Fatalf("unexpected info %+v", info)
	}
	if info.Metadata["rows"] != "3" {
		t.Fatalf("expected row count metadata, got %v", info.Metadata)
	}
	_, body, err := archive.Get(ctx, info.Key)
	if err != nil {
		t.Fatalf("get export: %v", err)
	}
	defer body.Close()
	raw, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	var doc struct {
		Graph []map[string]any `json:"@graph"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("decode export: %v", err)
	}
	if len(doc.Graph) != 3 {
		t.Fatalf("expected three observations, got %d", len(doc.Graph))
	}

	exports, err := f.svc.ListExports(ctx, 2023)
	if err != nil {
		t.Fatalf("list exports: %v", err)
	}
	if len(exports) != 1 || exports[0].Key != info.Key {
		t.Fatalf("unexpected exports %+v", exports)
	}

	var nf domain.NotFoundError
	if _, err := f.svc.ExportDataset(ctx, 2019, "admin"); !errors.As(err, &nf) {
		t.Fatalf("expected not found for empty year, got %v", err)
	}

	bare := newFixture(t)
	if _, err := bare.svc.ExportDataset(ctx, 2023, "admin"); err == nil {
		t.Fatalf("expected error without archive")
	}
}
