package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/Hasintha01/logwatcher/internal/classifier"
	"github.com/Hasintha01/logwatcher/internal/model"
)

func load(t *testing.T, format, body string) (*Config, []string) {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if body != "" {
		v.SetConfigType(format)
		if err := v.ReadConfig(strings.NewReader(body)); err != nil {
			t.Fatal(err)
		}
	}
	cfg, warnings, err := Load(v)
	if err != nil {
		t.Fatal(err)
	}
	return cfg, warnings
}

func hasWarning(warnings []string, substr string) bool {
	for _, w := range warnings {
		if strings.Contains(w, substr) {
			return true
		}
	}
	return false
}

func TestDefaultsWhenEmpty(t *testing.T) {
	cfg, warnings := load(t, "json", "")

	if len(cfg.LogFiles) != 1 || cfg.LogFiles[0] != DefaultLogFile {
		t.Errorf("expected default log file, got %v", cfg.LogFiles)
	}
	if !hasWarning(warnings, "no keywords") {
		t.Errorf("expected a no-keywords warning, got %v", warnings)
	}
	rules := cfg.ClassifierRules()
	if len(rules) != len(classifier.DefaultRules()) {
		t.Errorf("expected default rules, got %+v", rules)
	}
	if !cfg.HasMethod(MethodConsole) {
		t.Errorf("expected console alert method, got %v", cfg.AlertMethods)
	}
	if cfg.PollInterval != DefaultPollInterval {
		t.Errorf("expected poll interval %s, got %s", DefaultPollInterval, cfg.PollInterval)
	}
	if cfg.Alerts.LogPath != DefaultAlertsLog {
		t.Errorf("expected alerts log %s, got %s", DefaultAlertsLog, cfg.Alerts.LogPath)
	}
	p := cfg.TailPolicy()
	if !p.DrainRotated || !p.RotatedFromStart || p.MaxReadBytes != DefaultMaxReadBytes {
		t.Errorf("unexpected tail policy %+v", p)
	}
}

func TestOriginalJSONConfig(t *testing.T) {
	cfg, warnings := load(t, "json", `{
		"log_files": ["logs/system.log", "logs/app.log"],
		"keywords": {"ERROR": "Critical", "WARNING": "Warning", "FAILED": "Severe"},
		"alert_methods": ["console"]
	}`)

	if len(cfg.LogFiles) != 2 {
		t.Errorf("expected 2 log files, got %v", cfg.LogFiles)
	}
	if !hasWarning(warnings, `invalid severity "Severe"`) {
		t.Errorf("expected invalid severity warning, got %v", warnings)
	}

	// Keys are sorted; viper lowercases map keys.
	rules := cfg.ClassifierRules()
	want := []classifier.Rule{
		{Pattern: "error", Severity: model.SeverityCritical},
		{Pattern: "failed", Severity: model.SeverityWarning},
		{Pattern: "warning", Severity: model.SeverityWarning},
	}
	if len(rules) != len(want) {
		t.Fatalf("expected %+v, got %+v", want, rules)
	}
	for i := range want {
		if rules[i] != want[i] {
			t.Errorf("rule %d: expected %+v, got %+v", i, want[i], rules[i])
		}
	}
}

func TestRulesListKeepsCaseAndOrder(t *testing.T) {
	cfg, warnings := load(t, "yaml", `
severity_policy: first
rules:
  - pattern: "OOM"
    severity: Critical
    case_sensitive: true
  - pattern: "timeout after \\d+ms"
    severity: warning
    regex: true
  - pattern: "(unclosed"
    severity: Info
    regex: true
  - pattern: ""
    severity: Info
keywords:
  panic: Critical
`)

	if cfg.Policy() != classifier.PolicyFirst {
		t.Errorf("expected first policy, got %s", cfg.Policy())
	}
	if !hasWarning(warnings, `"(unclosed"`) {
		t.Errorf("expected bad regex warning, got %v", warnings)
	}
	if !hasWarning(warnings, "empty pattern") {
		t.Errorf("expected empty pattern warning, got %v", warnings)
	}

	rules := cfg.ClassifierRules()
	if len(rules) != 3 {
		t.Fatalf("expected 3 rules, got %+v", rules)
	}
	if rules[0].Pattern != "OOM" || !rules[0].CaseSensitive {
		t.Errorf("expected case-sensitive OOM first, got %+v", rules[0])
	}
	if !rules[1].Regex || rules[1].Severity != model.SeverityWarning {
		t.Errorf("expected warning regex rule second, got %+v", rules[1])
	}
	if rules[2].Pattern != "panic" {
		t.Errorf("expected keyword after rules, got %+v", rules[2])
	}

	if _, err := classifier.New(rules, cfg.Policy()); err != nil {
		t.Errorf("expected rules to build a classifier: %v", err)
	}
}

func TestAlertMethodsNormalized(t *testing.T) {
	cfg, warnings := load(t, "yaml", `
alert_methods: [Console, pager, email, webhook, console]
webhook:
  url: http://example.invalid/hook
  timeout: 3s
`)

	if len(cfg.AlertMethods) != 2 || !cfg.HasMethod(MethodConsole) || !cfg.HasMethod(MethodWebhook) {
		t.Errorf("expected console and webhook, got %v", cfg.AlertMethods)
	}
	if !hasWarning(warnings, `unknown alert method "pager"`) {
		t.Errorf("expected unknown method warning, got %v", warnings)
	}
	if !hasWarning(warnings, "email alerts disabled") {
		t.Errorf("expected email disabled warning, got %v", warnings)
	}
	if cfg.Webhook.Timeout != 3*time.Second {
		t.Errorf("expected 3s webhook timeout, got %s", cfg.Webhook.Timeout)
	}
}

func TestInvalidPolicyFallsBack(t *testing.T) {
	cfg, warnings := load(t, "yaml", "severity_policy: loudest\n")
	if cfg.Policy() != classifier.PolicyHighest {
		t.Errorf("expected highest policy, got %s", cfg.Policy())
	}
	if !hasWarning(warnings, "severity_policy") {
		t.Errorf("expected policy warning, got %v", warnings)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOGWATCHER_POLL_INTERVAL", "250ms")
	t.Setenv("LOGWATCHER_SERVER_ENABLED", "true")
	t.Setenv("LOGWATCHER_ALERTS_DB_PATH", "alerts/alerts.db")

	cfg, _ := load(t, "json", "")
	if cfg.PollInterval != 250*time.Millisecond {
		t.Errorf("expected 250ms poll interval, got %s", cfg.PollInterval)
	}
	if !cfg.Server.Enabled {
		t.Error("expected server enabled from env")
	}
	if cfg.Alerts.DBPath != "alerts/alerts.db" {
		t.Errorf("expected db path from env, got %q", cfg.Alerts.DBPath)
	}
}

func TestReadFileMissingIsNotAnError(t *testing.T) {
	v := viper.New()
	v.SetConfigFile(filepath.Join(t.TempDir(), "config.json"))
	if err := ReadFile(v); err != nil {
		t.Errorf("expected nil for missing file, got %v", err)
	}
}

func TestMalformedFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("LOGWATCHER_POLL_INTERVAL", "2s")

	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"log_files": ["a.log",`), 0644); err != nil {
		t.Fatal(err)
	}
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)

	// check-config reports the file strictly.
	if err := ReadFile(v); err == nil {
		t.Error("expected ReadFile to report the malformed file")
	}

	cfg, _, err := Read(v)
	if err != nil {
		t.Fatalf("expected startup to proceed, got %v", err)
	}
	if cfg.FileError == nil {
		t.Error("expected the parse failure to be kept for reporting")
	}
	if len(cfg.LogFiles) != 1 || cfg.LogFiles[0] != DefaultLogFile {
		t.Errorf("expected default log file, got %v", cfg.LogFiles)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Errorf("expected env poll interval to apply, got %s", cfg.PollInterval)
	}
	if len(cfg.ClassifierRules()) != len(classifier.DefaultRules()) {
		t.Errorf("expected default rules, got %+v", cfg.ClassifierRules())
	}
}
