package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/vetdispatch/app/plugins"
	"github.com/kilianp07/vetdispatch/config"
	dispatchlog "github.com/kilianp07/vetdispatch/core/dispatch/logging"
	"github.com/kilianp07/vetdispatch/core/model"
	"github.com/kilianp07/vetdispatch/pkg/export"
)

var logsOpts struct {
	format   string
	request  string
	provider string
	status   string
	since    string
	until    string
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Dispatch transition log commands",
}

var logsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export transition records as JSON or CSV",
	RunE:  runLogsExport,
}

func init() {
	f := logsExportCmd.Flags()
	f.StringVarP(&logsOpts.format, "format", "f", export.FormatJSON, "json or csv")
	f.StringVar(&logsOpts.request, "request", "", "filter by request id")
	f.StringVar(&logsOpts.provider, "provider", "", "filter by provider id")
	f.StringVar(&logsOpts.status, "status", "", "filter by status on either side of a transition")
	f.StringVar(&logsOpts.since, "since", "", "RFC3339 lower bound")
	f.StringVar(&logsOpts.until, "until", "", "RFC3339 upper bound")
	logsCmd.AddCommand(logsExportCmd)
	rootCmd.AddCommand(logsCmd)
}

func runLogsExport(cmd *cobra.Command, args []string) error {
	q := dispatchlog.LogQuery{
		RequestID:  logsOpts.request,
		ProviderID: logsOpts.provider,
		Status:     model.Status(logsOpts.status),
	}
	var err error
	if q.Start, err = parseBound(logsOpts.since); err != nil {
		return fmt.Errorf("since: %w", err)
	}
	if q.End, err = parseBound(logsOpts.until); err != nil {
		return fmt.Errorf("until: %w", err)
	}
	format := logsOpts.format
	if format != export.FormatJSON && format != export.FormatCSV {
		return fmt.Errorf("unknown format %q", logsOpts.format)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	store, err := plugins.NewLogStore(cfg.Logging)
	if err != nil {
		return err
	}
	defer store.Close()
	recs, err := store.Query(cmd.Context(), q)
	if err != nil {
		return err
	}
	return export.Write(cmd.OutOrStdout(), format, recs)
}

func parseBound(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, s)
}
