// Package config loads logwatcher settings through viper and normalizes them
// the way the alerting pipeline expects: bad values are reported as warnings
// and replaced by defaults so the process can still start.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Hasintha01/logwatcher/internal/classifier"
	"github.com/Hasintha01/logwatcher/internal/model"
	"github.com/Hasintha01/logwatcher/internal/notify"
	"github.com/Hasintha01/logwatcher/internal/tailer"
)

const (
	EnvPrefix = "LOGWATCHER"

	DefaultLogFile        = "logs/system.log"
	DefaultAlertsLog      = "alerts/alerts.log"
	DefaultCheckpointPath = ".logwatcher-state.json"
	DefaultServerAddr     = "127.0.0.1:5000"
	DefaultPollInterval   = time.Second
	DefaultRescanInterval = 30 * time.Second
	DefaultMaxReadBytes   = 4 << 20
	DefaultMaxLineBytes   = 1 << 20
	DefaultWebhookTimeout = 10 * time.Second
)

// Alert methods.
const (
	MethodConsole = "console"
	MethodEmail   = "email"
	MethodWebhook = "webhook"
)

var knownMethods = []string{MethodConsole, MethodEmail, MethodWebhook}

// RuleConfig is one entry of the "rules" list. Unlike the "keywords" map its
// pattern keeps its case.
type RuleConfig struct {
	Pattern       string `mapstructure:"pattern"`
	Severity      string `mapstructure:"severity"`
	CaseSensitive bool   `mapstructure:"case_sensitive"`
	Regex         bool   `mapstructure:"regex"`
}

type RotationConfig struct {
	DrainOld         bool `mapstructure:"drain_old"`
	NewFileFromStart bool `mapstructure:"new_file_from_start"`
}

type AlertsConfig struct {
	LogPath       string `mapstructure:"log_path"`
	DBPath        string `mapstructure:"db_path"`
	ReplayHistory bool   `mapstructure:"replay_history"`
}

type ServerConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
	Pprof   bool   `mapstructure:"pprof"`
}

type EmailConfig struct {
	Host     string   `mapstructure:"host"`
	Port     int      `mapstructure:"port"`
	Username string   `mapstructure:"username"`
	Password string   `mapstructure:"password"`
	From     string   `mapstructure:"from"`
	To       []string `mapstructure:"to"`
}

// Notify converts to the transport's settings.
func (c EmailConfig) Notify() notify.EmailConfig {
	return notify.EmailConfig{
		Host:     c.Host,
		Port:     c.Port,
		Username: c.Username,
		Password: c.Password,
		From:     c.From,
		To:       c.To,
	}
}

type WebhookConfig struct {
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
}

// Config is the full runtime configuration.
type Config struct {
	LogFiles       []string          `mapstructure:"log_files"`
	Keywords       map[string]string `mapstructure:"keywords"`
	Rules          []RuleConfig      `mapstructure:"rules"`
	SeverityPolicy string            `mapstructure:"severity_policy"`
	AlertMethods   []string          `mapstructure:"alert_methods"`

	PollInterval   time.Duration `mapstructure:"poll_interval"`
	RescanInterval time.Duration `mapstructure:"rescan_interval"`
	MaxReadBytes   int64         `mapstructure:"max_read_bytes"`
	MaxLineBytes   int           `mapstructure:"max_line_bytes"`
	UseFSNotify    bool          `mapstructure:"use_fsnotify"`
	CheckpointPath string        `mapstructure:"checkpoint_path"`

	Rotation RotationConfig `mapstructure:"rotation"`
	Alerts   AlertsConfig   `mapstructure:"alerts"`
	Server   ServerConfig   `mapstructure:"server"`
	Email    EmailConfig    `mapstructure:"email"`
	Webhook  WebhookConfig  `mapstructure:"webhook"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`

	ConfigPath string `mapstructure:"-"`
	// FileError is set when the config file exists but could not be read or
	// parsed. Defaults and environment values were used instead.
	FileError error `mapstructure:"-"`

	rules  []classifier.Rule
	policy classifier.Policy
}

// SetDefaults registers every key so that environment overrides apply to
// keys absent from the config file.
func SetDefaults(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log_files", []string{DefaultLogFile})
	v.SetDefault("keywords", map[string]string{})
	v.SetDefault("rules", []map[string]any{})
	v.SetDefault("severity_policy", classifier.PolicyHighest.String())
	v.SetDefault("alert_methods", []string{MethodConsole})

	v.SetDefault("poll_interval", DefaultPollInterval)
	v.SetDefault("rescan_interval", DefaultRescanInterval)
	v.SetDefault("max_read_bytes", DefaultMaxReadBytes)
	v.SetDefault("max_line_bytes", DefaultMaxLineBytes)
	v.SetDefault("use_fsnotify", true)
	v.SetDefault("checkpoint_path", DefaultCheckpointPath)

	v.SetDefault("rotation.drain_old", true)
	v.SetDefault("rotation.new_file_from_start", true)

	v.SetDefault("alerts.log_path", DefaultAlertsLog)
	v.SetDefault("alerts.db_path", "")
	v.SetDefault("alerts.replay_history", true)

	v.SetDefault("server.enabled", false)
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.pprof", false)

	v.SetDefault("email.host", "")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.to", []string{})

	v.SetDefault("webhook.url", "")
	v.SetDefault("webhook.headers", map[string]string{})
	v.SetDefault("webhook.timeout", DefaultWebhookTimeout)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "text")
}

// Load decodes v into a Config and normalizes it. Problems that have a safe
// fallback come back as warnings; only a value viper cannot decode is an
// error.
func Load(v *viper.Viper) (*Config, []string, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	warnings := cfg.normalize()
	return &cfg, warnings, nil
}

// Read reads the config file set on v and loads the result. A file that
// exists but cannot be read or parsed does not stop Read: the failure is kept
// in Config.FileError and the settings come from defaults and the
// environment, since viper leaves its state untouched on a failed read.
func Read(v *viper.Viper) (*Config, []string, error) {
	fileErr := ReadFile(v)
	cfg, warnings, err := Load(v)
	if err != nil {
		return nil, nil, err
	}
	cfg.FileError = fileErr
	return cfg, warnings, nil
}

// ReadFile reads the config file set on v. A missing file is not an error:
// defaults and environment still apply.
func ReadFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
	}
	return nil
}

func (c *Config) normalize() []string {
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	c.LogFiles = slices.DeleteFunc(c.LogFiles, func(s string) bool { return strings.TrimSpace(s) == "" })
	if len(c.LogFiles) == 0 {
		warn("no log_files specified, using default: %s", DefaultLogFile)
		c.LogFiles = []string{DefaultLogFile}
	}

	policy, err := classifier.ParsePolicy(c.SeverityPolicy)
	if err != nil {
		warn("invalid severity_policy %q, using %s", c.SeverityPolicy, classifier.PolicyHighest)
		policy = classifier.PolicyHighest
	}
	c.policy = policy
	c.SeverityPolicy = policy.String()

	c.rules = c.buildRules(warn)
	if len(c.rules) == 0 {
		warn("no keywords specified, using defaults")
		c.rules = classifier.DefaultRules()
	}

	c.AlertMethods = c.normalizeMethods(warn)

	if c.PollInterval <= 0 {
		warn("invalid poll_interval %s, using %s", c.PollInterval, DefaultPollInterval)
		c.PollInterval = DefaultPollInterval
	}
	if c.RescanInterval < 0 {
		c.RescanInterval = 0
	}
	if c.MaxReadBytes <= 0 {
		c.MaxReadBytes = DefaultMaxReadBytes
	}
	if c.MaxLineBytes <= 0 {
		c.MaxLineBytes = DefaultMaxLineBytes
	}
	if c.Alerts.LogPath == "" {
		c.Alerts.LogPath = DefaultAlertsLog
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
	if c.Webhook.Timeout <= 0 {
		c.Webhook.Timeout = DefaultWebhookTimeout
	}
	return warnings
}

// buildRules turns "rules" then "keywords" into classifier rules. Keywords
// are sorted so that the "first" policy is deterministic.
func (c *Config) buildRules(warn func(string, ...any)) []classifier.Rule {
	var rules []classifier.Rule
	add := func(r classifier.Rule, what string) {
		if strings.TrimSpace(r.Pattern) == "" {
			warn("ignoring %s with empty pattern", what)
			return
		}
		if _, err := classifier.New([]classifier.Rule{r}, c.policy); err != nil {
			warn("ignoring %s %q: %v", what, r.Pattern, err)
			return
		}
		rules = append(rules, r)
	}

	for _, rc := range c.Rules {
		add(classifier.Rule{
			Pattern:       rc.Pattern,
			Severity:      c.severity(rc.Pattern, rc.Severity, warn),
			CaseSensitive: rc.CaseSensitive,
			Regex:         rc.Regex,
		}, "rule")
	}

	keys := make([]string, 0, len(c.Keywords))
	for k := range c.Keywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add(classifier.Rule{Pattern: k, Severity: c.severity(k, c.Keywords[k], warn)}, "keyword")
	}
	return rules
}

func (c *Config) severity(pattern, s string, warn func(string, ...any)) model.Severity {
	sev, err := model.ParseSeverity(s)
	if err != nil {
		warn("invalid severity %q for keyword %q, valid values: Info, Warning, Critical; defaulting to Warning", s, pattern)
		return model.SeverityWarning
	}
	return sev
}

func (c *Config) normalizeMethods(warn func(string, ...any)) []string {
	var methods []string
	for _, m := range c.AlertMethods {
		m = strings.ToLower(strings.TrimSpace(m))
		switch {
		case !slices.Contains(knownMethods, m):
			warn("unknown alert method %q ignored", m)
			continue
		case slices.Contains(methods, m):
			continue
		case m == MethodEmail:
			if err := c.Email.Notify().Validate(); err != nil {
				warn("email alerts disabled: %v", err)
				continue
			}
		case m == MethodWebhook:
			if c.Webhook.URL == "" {
				warn("webhook alerts disabled: webhook.url is required")
				continue
			}
		}
		methods = append(methods, m)
	}
	if len(methods) == 0 {
		warn("no alert_methods specified, using default: %s", MethodConsole)
		methods = []string{MethodConsole}
	}
	return methods
}

// ClassifierRules returns the validated rules: the "rules" list in order,
// then the "keywords" map sorted by keyword.
func (c *Config) ClassifierRules() []classifier.Rule {
	return slices.Clone(c.rules)
}

// Policy returns the parsed severity policy.
func (c *Config) Policy() classifier.Policy { return c.policy }

// HasMethod reports whether alert method m is enabled.
func (c *Config) HasMethod(m string) bool { return slices.Contains(c.AlertMethods, m) }

// TailPolicy returns the reader policy for these settings.
func (c *Config) TailPolicy() tailer.Policy {
	return tailer.Policy{
		DrainRotated:     c.Rotation.DrainOld,
		RotatedFromStart: c.Rotation.NewFileFromStart,
		MaxReadBytes:     c.MaxReadBytes,
		MaxLineBytes:     c.MaxLineBytes,
	}
}
