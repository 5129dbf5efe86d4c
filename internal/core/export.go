package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	blobcore "bibstat/internal/blob/core"
	"bibstat/pkg/domain"
)

// datasetContext is the JSON-LD context of exported datasets.
var datasetContext = map[string]any{
	"@vocab":      "http://purl.org/linked-data/cube#",
	"library":     "http://schema.org/Library",
	"sampleYear":  "http://purl.org/dc/terms/date",
	"targetGroup": "http://purl.org/dc/terms/audience",
	"published":   "http://purl.org/dc/terms/issued",
	"modified":    "http://purl.org/dc/terms/modified",
}

// ExportDataset writes the active open data of sampleYear to the archive as
// one JSON-LD document under opendata/<year>/<timestamp>.jsonld.
func (s *Service) ExportDataset(ctx context.Context, sampleYear int, actor string) (blobcore.Info, error) {
	var info blobcore.Info
	err := s.instrument(ctx, "export_dataset", actor, func(ctx context.Context) (string, error) {
		if s.archive == nil {
			return "", errors.New("no dataset archive configured")
		}
		var rows []domain.OpenData
		if err := s.store.View(ctx, func(view domain.TransactionView) error {
			for _, row := range view.ListOpenData() {
				if row.IsActive && row.SampleYear == sampleYear {
					rows = append(rows, row)
				}
			}
			return nil
		}); err != nil {
			return "", err
		}
		if len(rows) == 0 {
			return "", domain.NotFoundError{Entity: domain.EntityOpenData, ID: strconv.Itoa(sampleYear)}
		}
		graph := make([]map[string]any, 0, len(rows))
		for _, row := range rows {
			graph = append(graph, s.ObservationDocument(row))
		}
		payload, err := json.Marshal(map[string]any{"@context": datasetContext, "@graph": graph})
		if err != nil {
			return "", fmt.Errorf("encode dataset: %w", err)
		}
		key := fmt.Sprintf("opendata/%d/%s.jsonld", sampleYear, s.clock.Now().UTC().Format("20060102T150405.000000000Z"))
		info, err = s.archive.Put(ctx, key, bytes.NewReader(payload), blobcore.PutOptions{
			ContentType: "application/ld+json",
			Metadata: map[string]string{
				"sample_year": strconv.Itoa(sampleYear),
				"rows":        strconv.Itoa(len(rows)),
			},
		})
		return key, err
	})
	return info, err
}

// ListExports returns the archived datasets of sampleYear, oldest first.
func (s *Service) ListExports(ctx context.Context, sampleYear int) ([]blobcore.Info, error) {
	if s.archive == nil {
		return nil, errors.New("no dataset archive configured")
	}
	return s.archive.List(ctx, fmt.Sprintf("opendata/%d/", sampleYear))
}
