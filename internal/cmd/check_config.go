package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Hasintha01/logwatcher/internal/classifier"
	"github.com/Hasintha01/logwatcher/internal/config"
	"github.com/Hasintha01/logwatcher/internal/watcher"
)

var strictConfig bool

var checkConfigCmd = &cobra.Command{
	Use:   "check-config",
	Short: "Validate the configuration and show the effective settings",
	Args:  cobra.NoArgs,
	RunE:  runCheckConfig,
}

func init() {
	rootCmd.AddCommand(checkConfigCmd)
	checkConfigCmd.Flags().BoolVar(&strictConfig, "strict", false, "fail when the configuration produced warnings")
}

func runCheckConfig(cmd *cobra.Command, _ []string) error {
	if err := config.ReadFile(viper.GetViper()); err != nil {
		return err
	}
	cfg, warnings, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	warnings, err = describeConfig(cmd.OutOrStdout(), cfg, warnings)
	if err != nil {
		return err
	}
	if strictConfig && len(warnings) > 0 {
		return fmt.Errorf("configuration has %d warning(s)", len(warnings))
	}
	return nil
}

// describeConfig prints the effective settings. The rules shown are the ones
// the compiled classifier holds, so a rule set that cannot be compiled is an
// error here just as it is for watch.
func describeConfig(out io.Writer, cfg *config.Config, warnings []string) ([]string, error) {
	clf, err := classifier.New(cfg.ClassifierRules(), cfg.Policy())
	if err != nil {
		return warnings, err
	}

	source := cfg.ConfigPath
	if source == "" {
		source = "(defaults)"
	}
	fmt.Fprintf(out, "config:          %s\n", source)

	files, expandErr := watcher.Expand(cfg.LogFiles)
	fmt.Fprintf(out, "log files:       %d\n", len(files))
	for _, f := range files {
		fmt.Fprintf(out, "  %s\n", f)
	}
	if expandErr != nil {
		warnings = append(warnings, expandErr.Error())
	}

	fmt.Fprintf(out, "severity policy: %s\n", cfg.Policy())
	fmt.Fprintf(out, "rules:\n")
	for _, r := range clf.Rules() {
		var flags []string
		if r.CaseSensitive {
			flags = append(flags, "case-sensitive")
		}
		if r.Regex {
			flags = append(flags, "regex")
		}
		suffix := ""
		if len(flags) > 0 {
			suffix = " (" + strings.Join(flags, ", ") + ")"
		}
		fmt.Fprintf(out, "  %-24q -> %s%s\n", r.Pattern, r.Severity, suffix)
	}
	fmt.Fprintf(out, "alert methods:   %s\n", strings.Join(cfg.AlertMethods, ", "))
	if cfg.HasMethod(config.MethodEmail) {
		fmt.Fprintf(out, "  email:         %s:%d -> %s\n", cfg.Email.Host, cfg.Email.Port, strings.Join(cfg.Email.To, ", "))
	}
	if cfg.HasMethod(config.MethodWebhook) {
		fmt.Fprintf(out, "  webhook:       %s\n", cfg.Webhook.URL)
	}
	fmt.Fprintf(out, "alerts log:      %s\n", cfg.Alerts.LogPath)
	if cfg.Alerts.DBPath != "" {
		fmt.Fprintf(out, "alerts db:       %s\n", cfg.Alerts.DBPath)
	}
	if cfg.Server.Enabled {
		fmt.Fprintf(out, "query api:       %s\n", cfg.Server.Addr)
	}

	for _, w := range warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return warnings, nil
}
