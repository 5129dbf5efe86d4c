package main

import (
	"fmt"
	"strconv"
	"time"

	"bibstat/internal/core"
	"bibstat/pkg/domain"

	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "bibstat",
		Short:         "Publish library statistics surveys and read the open data they produce",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "path to a YAML configuration file")
	flags.StringVar(&a.actor, "actor", defaultActor(), "name recorded as the acting user")
	flags.BoolVar(&a.traceJSON, "trace", false, "write operation spans as JSON lines to stderr")
	flags.StringVar(&a.metricsFile, "metrics-file", "", "write Prometheus metrics to this file on exit")

	root.AddCommand(
		newPublishCmd(a),
		newPublishYearCmd(a),
		newUnpublishCmd(a),
		newExportCmd(a),
		newTermsCmd(a),
		newDataCmd(a),
	)
	return root
}

func newPublishCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "publish <survey-id>...",
		Short: "Publish surveys into open data",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := a.svc.PublishBatch(cmd.Context(), args, a.actor)
			if err != nil {
				return err
			}
			if err := a.printJSON(report); err != nil {
				return err
			}
			return report.Err()
		},
	}
}

func newPublishYearCmd(a *app) *cobra.Command {
	var group string
	cmd := &cobra.Command{
		Use:   "publish-year <sample-year>",
		Short: "Publish every unpublished survey of a sample year",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := parseYear(args[0])
			if err != nil {
				return err
			}
			target := domain.TargetGroup(group)
			if group != "" && !target.Valid() {
				return fmt.Errorf("unknown target group %q", group)
			}
			report, err := a.svc.PublishYear(cmd.Context(), year, target, a.actor)
			if err != nil {
				return err
			}
			if err := a.printJSON(report); err != nil {
				return err
			}
			return report.Err()
		},
	}
	cmd.Flags().StringVar(&group, "target-group", "", "only publish surveys of this target group")
	return cmd
}

func newUnpublishCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unpublish <survey-id>",
		Short: "Withdraw a survey's open data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			survey, err := a.svc.Unpublish(cmd.Context(), args[0], a.actor)
			if err != nil {
				return err
			}
			return a.printJSON(map[string]any{"survey_id": survey.ID, "status": survey.Status, "is_published": survey.IsPublished})
		},
	}
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <sample-year>",
		Short: "Archive the active open data of a sample year as JSON-LD",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			year, err := parseYear(args[0])
			if err != nil {
				return err
			}
			info, err := a.svc.ExportDataset(cmd.Context(), year, a.actor)
			if err != nil {
				return err
			}
			return a.printJSON(info)
		},
	}
}

func newTermsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "terms [key]",
		Short: "Print the public term documents",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				doc, err := a.svc.TermDocumentFor(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.printJSON(doc)
			}
			docs, err := a.svc.TermDocuments(cmd.Context())
			if err != nil {
				return err
			}
			return a.printJSON(docs)
		},
	}
}

func newDataCmd(a *app) *cobra.Command {
	var (
		q        core.OpenDataQuery
		from, to string
	)
	cmd := &cobra.Command{
		Use:   "data",
		Short: "Query published observations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if q.From, err = parseTimestamp(from); err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			if q.To, err = parseTimestamp(to); err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			page, err := a.svc.QueryOpenData(cmd.Context(), q)
			if err != nil {
				return err
			}
			graph := make([]map[string]any, 0, len(page.Items))
			for _, row := range page.Items {
				graph = append(graph, a.svc.ObservationDocument(row))
			}
			doc := map[string]any{"@graph": graph}
			if page.Next != "" {
				doc["next"] = page.Next
			}
			return a.printJSON(doc)
		},
	}
	f := cmd.Flags()
	f.StringVar(&from, "from", "", "earliest date_modified (RFC 3339 or YYYY-MM-DD)")
	f.StringVar(&to, "to", "", "date_modified upper bound, exclusive")
	f.StringVar(&q.Term, "term", "", "variable key")
	f.IntVar(&q.SampleYear, "year", 0, "sample year")
	f.StringVar(&q.Sigel, "sigel", "", "library sigel")
	f.StringVar(&q.MunicipalityCode, "municipality", "", "municipality code")
	f.StringVar(&q.LibraryType, "library-type", "", "library type")
	f.IntVar(&q.Limit, "limit", 0, "page size (configured default when zero)")
	f.IntVar(&q.Offset, "offset", 0, "rows to skip")
	return cmd
}

func parseYear(s string) (int, error) {
	year, err := strconv.Atoi(s)
	if err != nil || year < 1900 {
		return 0, fmt.Errorf("invalid sample year %q", s)
	}
	return year, nil
}

func parseTimestamp(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, domain.DateLayout} {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognised timestamp %q", s)
}
