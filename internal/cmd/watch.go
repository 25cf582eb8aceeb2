package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Hasintha01/logwatcher/internal/aggregator"
	"github.com/Hasintha01/logwatcher/internal/alertlog"
	"github.com/Hasintha01/logwatcher/internal/classifier"
	"github.com/Hasintha01/logwatcher/internal/config"
	"github.com/Hasintha01/logwatcher/internal/metrics"
	"github.com/Hasintha01/logwatcher/internal/model"
	"github.com/Hasintha01/logwatcher/internal/notify"
	"github.com/Hasintha01/logwatcher/internal/server"
	"github.com/Hasintha01/logwatcher/internal/sink"
	"github.com/Hasintha01/logwatcher/internal/store"
	"github.com/Hasintha01/logwatcher/internal/supervisor"
	"github.com/Hasintha01/logwatcher/internal/tailer"
)

var consoleJSON bool

var watchCmd = &cobra.Command{
	Use:   "watch [paths...]",
	Short: "Watch log files and raise alerts",
	Long: `Watch one or more log files (or glob patterns) and raise an alert for every
new line that matches a keyword rule. Paths given on the command line replace
log_files from the configuration.

Examples:
  logwatcher watch
  logwatcher watch /var/log/app.log
  logwatcher watch "/var/log/**/*.log" --server --addr 127.0.0.1:5000
  logwatcher watch app.log --json --db alerts/alerts.db`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().BoolVar(&consoleJSON, "json", false, "print console alerts as JSON lines")
	watchCmd.Flags().Bool("server", false, "serve the query API")
	watchCmd.Flags().String("addr", config.DefaultServerAddr, "query API listen address")
	watchCmd.Flags().String("db", "", "also record alerts in this SQLite database")
	watchCmd.Flags().Duration("poll-interval", config.DefaultPollInterval, "how often every file is polled")

	_ = viper.BindPFlag("server.enabled", watchCmd.Flags().Lookup("server"))
	_ = viper.BindPFlag("server.addr", watchCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("alerts.db_path", watchCmd.Flags().Lookup("db"))
	_ = viper.BindPFlag("poll_interval", watchCmd.Flags().Lookup("poll-interval"))
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.LogFiles = args
	}

	// --- Graceful shutdown on SIGINT/SIGTERM ---
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("logwatcher starting",
		slog.Int("patterns", len(cfg.LogFiles)),
		slog.Int("rules", len(cfg.ClassifierRules())),
		slog.String("severity_policy", cfg.SeverityPolicy),
		slog.Any("alert_methods", cfg.AlertMethods),
	)

	clf, err := classifier.New(cfg.ClassifierRules(), cfg.Policy())
	if err != nil {
		return err
	}

	// --- Alert history and mirrors ---
	var history []model.AlertRecord
	if cfg.Alerts.ReplayHistory {
		var skipped int
		history, skipped, err = alertlog.ReadFile(cfg.Alerts.LogPath)
		if err != nil {
			logger.Warn("could not replay alert history",
				slog.String("path", cfg.Alerts.LogPath), slog.Any("error", err))
		}
		if skipped > 0 {
			logger.Warn("skipped malformed alert log lines",
				slog.String("path", cfg.Alerts.LogPath), slog.Int("skipped", skipped))
		}
	}

	alertLog, err := alertlog.Open(cfg.Alerts.LogPath)
	if err != nil {
		return fmt.Errorf("cannot create alerts log: %w", err)
	}

	m := metrics.New()
	sinkOpts := []sink.Option{
		sink.WithLogger(logger),
		sink.WithMirror(alertLog),
		sink.WithObserver(func(rec model.AlertRecord) { m.AlertRaised(rec.Severity) }),
	}
	if cfg.Alerts.DBPath != "" {
		db, err := store.Open(cfg.Alerts.DBPath)
		if err != nil {
			logger.Error("alert database disabled",
				slog.String("path", cfg.Alerts.DBPath), slog.Any("error", err))
		} else {
			sinkOpts = append(sinkOpts, sink.WithMirror(db))
		}
	}
	alerts := sink.New(sinkOpts...)
	alerts.Load(history)
	m.TrackDropped(alerts.Dropped)

	// --- Tailing ---
	var ckpt *tailer.Checkpoint
	if cfg.CheckpointPath != "" {
		ckpt, err = tailer.NewCheckpoint(cfg.CheckpointPath)
		if err != nil {
			logger.Warn("checkpoint disabled",
				slog.String("path", cfg.CheckpointPath), slog.Any("error", err))
			ckpt = nil
		}
	}
	sup := supervisor.New(supervisor.Config{
		Patterns:       cfg.LogFiles,
		PollInterval:   cfg.PollInterval,
		RescanInterval: cfg.RescanInterval,
		Policy:         cfg.TailPolicy(),
		UseFSNotify:    cfg.UseFSNotify,
	}, func(source, line string) {
		if rec, ok := clf.Classify(line, source); ok {
			alerts.Append(rec)
		}
	}, supervisor.WithLogger(logger), supervisor.WithMetrics(m), supervisor.WithCheckpoint(ckpt))
	m.TrackOpenFiles(sup.OpenCount)

	// --- Notification and statistics consumers ---
	transports := buildTransports(cfg, logger)
	dispatcher := notify.NewDispatcher(transports, logger)
	dispatchDone := make(chan struct{})
	notifySub := alerts.Subscribe()
	go func() {
		defer close(dispatchDone)
		dispatcher.Run(ctx, notifySub)
	}()

	agg := aggregator.New(alerts.Subscribe(), alerts.Dropped, sup.FileCount)
	agg.Seed(history)
	go agg.Start(ctx)

	// --- Query API ---
	var api *server.Server
	if cfg.Server.Enabled {
		api = server.New(server.Options{
			Addr:        cfg.Server.Addr,
			Alerts:      alerts,
			Stats:       agg,
			Files:       sup,
			Metrics:     m.Handler(),
			EnablePprof: cfg.Server.Pprof,
			Logger:      logger,
		})
		if err := api.Start(); err != nil {
			stop()
			return errors.Join(err, shutdown(alerts, dispatchDone, transports, nil))
		}
	}

	runErr := sup.Run(ctx)
	logger.Info("logwatcher shutting down")
	if err := shutdown(alerts, dispatchDone, transports, api); err != nil {
		logger.Warn("shutdown completed with errors", slog.Any("error", err))
	}
	logger.Info("logwatcher shut down complete")
	return runErr
}

// shutdown closes the sink so consumers see end of stream, waits for the
// dispatcher to deliver what it already holds, then closes the transports
// and the API.
func shutdown(alerts *sink.Sink, dispatchDone <-chan struct{}, transports *notify.Multi, api *server.Server) error {
	errs := []error{alerts.Close()}
	<-dispatchDone
	errs = append(errs, transports.Close())
	if api != nil {
		errs = append(errs, api.Stop())
	}
	return errors.Join(errs...)
}

// buildTransports creates one transport per enabled alert method. Slow
// network transports are wrapped so they never hold up the dispatcher.
func buildTransports(cfg *config.Config, logger *slog.Logger) *notify.Multi {
	var ts []notify.Transport
	onError := func(method string) notify.AsyncOption {
		return notify.WithOnError(func(err error) {
			logger.Warn("alert delivery failed", slog.String("method", method), slog.Any("error", err))
		})
	}

	for _, method := range cfg.AlertMethods {
		switch method {
		case config.MethodConsole:
			if consoleJSON {
				ts = append(ts, notify.NewJSONConsole())
			} else {
				ts = append(ts, notify.NewConsole())
			}
		case config.MethodEmail:
			email, err := notify.NewEmail(cfg.Email.Notify())
			if err != nil {
				logger.Warn("email alerts disabled", slog.Any("error", err))
				continue
			}
			ts = append(ts, notify.NewAsync(email, onError(method)))
		case config.MethodWebhook:
			hook := notify.NewWebhook(cfg.Webhook.URL,
				notify.WithHeaders(cfg.Webhook.Headers),
				notify.WithTimeout(cfg.Webhook.Timeout),
			)
			ts = append(ts, notify.NewAsync(hook, onError(method)))
		}
	}
	return notify.NewMulti(ts...)
}
