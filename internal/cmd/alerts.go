package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Hasintha01/logwatcher/internal/alertlog"
	"github.com/Hasintha01/logwatcher/internal/model"
	"github.com/Hasintha01/logwatcher/internal/sink"
	"github.com/Hasintha01/logwatcher/internal/store"
)

var alertsOpts struct {
	db       string
	severity string
	source   string
	since    time.Duration
	limit    int
	json     bool
	count    bool
}

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List recorded alerts",
	Long: `List alerts from the alerts log, or from the SQLite history with --db.

Examples:
  logwatcher alerts --severity warning --since 1h
  logwatcher alerts --db alerts/alerts.db --source /var/log/app.log --limit 20
  logwatcher alerts --db alerts/alerts.db --severity critical --count`,
	Args: cobra.NoArgs,
	RunE: runAlerts,
}

func init() {
	rootCmd.AddCommand(alertsCmd)

	f := alertsCmd.Flags()
	f.StringVar(&alertsOpts.db, "db", "", "read from this SQLite database instead of the alerts log")
	f.StringVar(&alertsOpts.severity, "severity", "", "minimum severity: info, warning, critical")
	f.StringVar(&alertsOpts.source, "source", "", "only alerts from this log file")
	f.DurationVar(&alertsOpts.since, "since", 0, "only alerts newer than this (e.g. 30m, 24h)")
	f.IntVarP(&alertsOpts.limit, "limit", "n", 0, "show only the most recent N alerts")
	f.BoolVar(&alertsOpts.json, "json", false, "print JSON lines")
	f.BoolVar(&alertsOpts.count, "count", false, "print only the number of matching alerts (ignores --limit)")
}

func runAlerts(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	filter := sink.Filter{Source: alertsOpts.source, Limit: alertsOpts.limit}
	if alertsOpts.severity != "" {
		if filter.MinSeverity, err = model.ParseSeverity(alertsOpts.severity); err != nil {
			return err
		}
	}
	if alertsOpts.since > 0 {
		filter.Since = time.Now().Add(-alertsOpts.since)
	}

	out := cmd.OutOrStdout()
	if alertsOpts.db != "" {
		if alertsOpts.count {
			n, err := countStore(cmd.Context(), alertsOpts.db, filter)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(out, n)
			return err
		}
		records, err := queryStore(cmd.Context(), alertsOpts.db, filter)
		if err != nil {
			return err
		}
		return printAlerts(out, records, alertsOpts.json)
	}

	all, skipped, err := alertlog.ReadFile(cfg.Alerts.LogPath)
	if err != nil {
		return err
	}
	if skipped > 0 {
		logger.Warn(fmt.Sprintf("skipped %d malformed lines in %s", skipped, cfg.Alerts.LogPath))
	}
	if alertsOpts.count {
		filter.Limit = 0
		_, err = fmt.Fprintln(out, len(filter.Apply(all)))
		return err
	}
	return printAlerts(out, filter.Apply(all), alertsOpts.json)
}

func openStore(path string) (*store.Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("alert database: %w", err)
	}
	return store.Open(path)
}

func storeQuery(f sink.Filter) store.Query {
	return store.Query{
		MinSeverity: f.MinSeverity,
		Source:      f.Source,
		Since:       f.Since,
		Limit:       f.Limit,
	}
}

func queryStore(ctx context.Context, path string, f sink.Filter) ([]model.AlertRecord, error) {
	db, err := openStore(path)
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return db.Query(ctx, storeQuery(f))
}

func countStore(ctx context.Context, path string, f sink.Filter) (int64, error) {
	db, err := openStore(path)
	if err != nil {
		return 0, err
	}
	defer db.Close()
	return db.Count(ctx, storeQuery(f))
}

func printAlerts(w io.Writer, records []model.AlertRecord, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		for _, rec := range records {
			if err := enc.Encode(rec); err != nil {
				return err
			}
		}
		return nil
	}
	for _, rec := range records {
		if _, err := fmt.Fprintln(w, alertlog.Format(rec)); err != nil {
			return err
		}
	}
	return nil
}
