// Package config provides YAML configuration parsing for PulseSync.
//
// This package enables running PulseSync as a standalone binary with a
// configuration file, as an alternative to the programmatic SDK approach.
//
// Example configuration:
//
//	title: Bengaluru Live
//	port: 8080
//	base_url: ${CITY_API:-http://localhost:8000}
//
//	history:
//	  path: data/history.db
//	  retention: 500
//
//	panels:
//	  - name: Traffic
//	    preset: traffic
//	    params: {lat: "12.9716", lon: "77.5946"}
//	  - name: Health
//	    preset: health
//	  - name: Scores
//	    url: https://api.example.com/score
//	    interval: 10s
//	    equality_fields: [score]
//
//	grids:
//	  - name: Junction
//	    url_template: "https://{{.city}}.example.com/api/traffic/"
//	    dimensions:
//	      city: [blr, del]
//	    equality_fields: [traffic.currentSpeed]
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"regexp"
	"strings"
	"text/template"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	// minInterval prevents accidental DoS of resources with overly aggressive polling.
	minInterval = 1 * time.Second
	maxInterval = 1 * time.Hour

	defaultPort     = 8080
	defaultInterval = 10 * time.Second
)

// Presets understood by the preset field.
const (
	PresetTraffic  = "traffic"
	PresetHealth   = "health"
	PresetStations = "stations"
	PresetCitizen  = "citizen"
	PresetFarm     = "farm"
)

// Config is the root configuration structure for PulseSync.
//
// It maps directly to the YAML configuration file structure.
// Use [Load] or [Parse] to create a Config from YAML.
type Config struct {
	// Title is the dashboard title. Defaults to "PulseSync" if not set.
	Title string `yaml:"title"`

	// Port is the HTTP server port. Defaults to 8080.
	Port int `yaml:"port"`

	// LogLevel is debug, info, warn or error. Defaults to info.
	LogLevel string `yaml:"log_level"`

	// BaseURL is the API root used by preset panels that do not set their own.
	BaseURL string `yaml:"base_url"`

	// History enables the SQLite snapshot history when Path is set.
	History HistoryConfig `yaml:"history"`

	// Panels defines individual panels.
	Panels []PanelConfig `yaml:"panels"`

	// Grids defines panel grids that expand via cartesian product.
	Grids []GridConfig `yaml:"grids"`
}

// HistoryConfig configures the snapshot history.
type HistoryConfig struct {
	// Path is the SQLite database file. Empty disables history.
	Path string `yaml:"path"`

	// Retention keeps only the newest n snapshots per panel. 0 keeps all.
	Retention int `yaml:"retention"`
}

// SyncFields are the synchronizer and fetcher settings shared by panels
// and grids.
type SyncFields struct {
	// Interval is the polling interval. Must be between 1s and 1h.
	// Defaults to 10s, or the preset's interval.
	Interval Duration `yaml:"interval"`

	// EqualityFields are the dotted snapshot paths compared between cycles.
	// Required unless a preset supplies them.
	EqualityFields []string `yaml:"equality_fields"`

	// NotifyOnEveryManualFetch delivers every successful manual fetch even
	// when nothing changed. Defaults to true.
	NotifyOnEveryManualFetch *bool `yaml:"notify_on_every_manual_fetch"`

	// RetainBaselineOnStop keeps the last snapshot across stop/start.
	RetainBaselineOnStop bool `yaml:"retain_baseline_on_stop"`

	// Autostart starts the panel when the hub runs. Defaults to true.
	Autostart *bool `yaml:"autostart"`

	// Method is the HTTP method (GET, POST). Defaults to GET.
	Method string `yaml:"method"`

	// Timeout is the request timeout. Defaults to 10s.
	Timeout Duration `yaml:"timeout"`

	// Headers are custom HTTP headers sent with each request.
	// Values support environment variable substitution.
	Headers map[string]string `yaml:"headers"`

	// Labels are metadata key-value pairs shown next to the panel.
	Labels map[string]string `yaml:"labels"`

	// Envelope rejects responses whose status field is not the success value.
	Envelope *EnvelopeConfig `yaml:"envelope"`

	// DataPath selects a nested object of the response as the snapshot.
	DataPath string `yaml:"data_path"`

	// RequiredParams must be present in params.
	RequiredParams []string `yaml:"required_params"`

	// NumericParams must parse as numbers when present.
	NumericParams []string `yaml:"numeric_params"`
}

// PanelConfig defines a single panel: either a preset or a plain URL.
type PanelConfig struct {
	// Name is the display name shown in the dashboard.
	Name string `yaml:"name"`

	// Preset is one of traffic, health, stations, citizen, farm. Presets supply
	// the URL, interval and equality fields; explicit settings override
	// interval and add labels.
	Preset string `yaml:"preset"`

	// BaseURL overrides the root base_url for a preset panel.
	BaseURL string `yaml:"base_url"`

	// URL is the resource URL for a non-preset panel.
	// Supports environment variable substitution: ${VAR} or ${VAR:-default}
	URL string `yaml:"url"`

	// Params are sent as query parameters. Values support environment
	// variable substitution. The traffic preset requires lat and lon.
	Params map[string]string `yaml:"params"`

	SyncFields `yaml:",inline"`
}

// GridConfig defines a panel grid that expands via cartesian product.
//
// For example, with dimensions {city: [blr, del], road: [orr, nh44]},
// the grid expands to 4 panels.
type GridConfig struct {
	// Name is the base name for generated panels.
	Name string `yaml:"name"`

	// URLTemplate is a Go template for generating panel URLs.
	// Dimension keys are available as template variables: {{.city}}
	URLTemplate string `yaml:"url_template"`

	// Dimensions maps dimension names to their possible values. Each
	// combination is also sent as query params.
	Dimensions map[string][]string `yaml:"dimensions"`

	SyncFields `yaml:",inline"`
}

// EnvelopeConfig describes a {"status": "success"} style response wrapper.
type EnvelopeConfig struct {
	StatusField  string `yaml:"status_field"`
	SuccessValue string `yaml:"success_value"`
	MessageField string `yaml:"message_field"`
}

// Env holds PULSESYNC_* environment overrides, applied after the file.
type Env struct {
	Port        int    `envconfig:"PORT"`
	LogLevel    string `envconfig:"LOG_LEVEL"`
	BaseURL     string `envconfig:"BASE_URL"`
	HistoryPath string `envconfig:"HISTORY_PATH"`
	Title       string `envconfig:"TITLE"`
}

// Duration wraps time.Duration for YAML unmarshalling.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}

	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}

	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns.
// Group 1: variable name
// Group 2: the ":-default" part (if present, indicates a default was specified)
// Group 3: the default value (may be empty for ${VAR:-})
var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(:-([^}]*))?\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} patterns with environment values.
func expandEnvVars(s string) (string, error) {
	var firstErr error

	result := envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		if firstErr != nil {
			return match
		}

		submatches := envVarPattern.FindStringSubmatch(match)
		if len(submatches) < 2 {
			return match
		}

		varName := submatches[1]
		hasDefault := len(submatches) > 2 && submatches[2] != ""
		defaultVal := ""
		if hasDefault && len(submatches) > 3 {
			defaultVal = submatches[3]
		}

		value, exists := os.LookupEnv(varName)
		if !exists {
			if hasDefault {
				return defaultVal
			}
			firstErr = fmt.Errorf("environment variable %q is not set", varName)
			return match
		}
		return value
	})

	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

// LoadDotEnv loads KEY=value pairs from the given .env files into the
// process environment without overriding variables that are already set.
// Missing files are ignored.
func LoadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads and parses a YAML configuration file, then applies
// PULSESYNC_* environment overrides.
//
// Environment variables in the file are expanded before validation.
// Returns an error if the file cannot be read or parsed.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings with PULSESYNC_PORT, PULSESYNC_LOG_LEVEL,
// PULSESYNC_BASE_URL, PULSESYNC_HISTORY_PATH and PULSESYNC_TITLE when set.
func ApplyEnv(cfg *Config) error {
	var env Env
	if err := envconfig.Process("PULSESYNC", &env); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}

	if env.Port != 0 {
		if env.Port < 1 || env.Port > 65535 {
			return fmt.Errorf("PULSESYNC_PORT must be between 1 and 65535, got %d", env.Port)
		}
		cfg.Port = env.Port
	}
	if env.LogLevel != "" {
		if err := validateLogLevel(env.LogLevel); err != nil {
			return fmt.Errorf("PULSESYNC_LOG_LEVEL: %w", err)
		}
		cfg.LogLevel = env.LogLevel
	}
	if env.BaseURL != "" {
		if err := validateURL(env.BaseURL); err != nil {
			return fmt.Errorf("PULSESYNC_BASE_URL: %w", err)
		}
		cfg.BaseURL = env.BaseURL
	}
	if env.HistoryPath != "" {
		cfg.History.Path = env.HistoryPath
	}
	if env.Title != "" {
		cfg.Title = env.Title
	}
	return nil
}

// Parse parses YAML configuration data.
//
// Environment variables are expanded in URLs, URL templates, params and
// header values. Defaults are applied for Port (8080) and LogLevel (info).
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := cfg.expandAndValidate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// expandAndValidate expands environment variables and validates the config.
func (c *Config) expandAndValidate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if err := validateLogLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log_level: %w", err)
	}
	if c.History.Retention < 0 {
		return fmt.Errorf("history.retention cannot be negative, got %d", c.History.Retention)
	}
	if c.History.Path != "" {
		expanded, err := expandEnvVars(c.History.Path)
		if err != nil {
			return fmt.Errorf("history.path: %w", err)
		}
		c.History.Path = expanded
	}

	if c.BaseURL != "" {
		expanded, err := expandEnvVars(c.BaseURL)
		if err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
		c.BaseURL = expanded
		if err := validateURL(c.BaseURL); err != nil {
			return fmt.Errorf("base_url: %w", err)
		}
	}

	names := make(map[string]struct{})

	for i := range c.Panels {
		p := &c.Panels[i]

		if p.Name == "" {
			return fmt.Errorf("panels[%d]: name is required", i)
		}
		where := fmt.Sprintf("panels[%d] (%s)", i, p.Name)
		if _, dup := names[p.Name]; dup {
			return fmt.Errorf("%s: duplicate panel name", where)
		}
		names[p.Name] = struct{}{}

		for k, v := range p.Params {
			expanded, err := expandEnvVars(v)
			if err != nil {
				return fmt.Errorf("%s: params[%s]: %w", where, k, err)
			}
			p.Params[k] = expanded
		}

		if p.Preset != "" {
			if err := c.validatePreset(p, where); err != nil {
				return err
			}
		} else {
			if p.URL == "" {
				return fmt.Errorf("%s: url or preset is required", where)
			}
			expanded, err := expandEnvVars(p.URL)
			if err != nil {
				return fmt.Errorf("%s: url: %w", where, err)
			}
			p.URL = expanded
			if err := validateURL(p.URL); err != nil {
				return fmt.Errorf("%s: %w", where, err)
			}
			if len(p.EqualityFields) == 0 {
				return fmt.Errorf("%s: equality_fields is required", where)
			}
		}

		if err := p.SyncFields.expandAndValidate(where); err != nil {
			return err
		}
	}

	for i := range c.Grids {
		g := &c.Grids[i]

		if g.Name == "" {
			return fmt.Errorf("grids[%d]: name is required", i)
		}
		where := fmt.Sprintf("grids[%d] (%s)", i, g.Name)

		if g.URLTemplate == "" {
			return fmt.Errorf("%s: url_template is required", where)
		}
		expanded, err := expandEnvVars(g.URLTemplate)
		if err != nil {
			return fmt.Errorf("%s: url_template: %w", where, err)
		}
		g.URLTemplate = expanded

		// fail fast before SDK tries to use invalid template
		if _, err := template.New("").Parse(g.URLTemplate); err != nil {
			return fmt.Errorf("%s: invalid url_template: %w", where, err)
		}

		if len(g.Dimensions) == 0 {
			return fmt.Errorf("%s: at least one dimension is required", where)
		}
		for dimName, dimValues := range g.Dimensions {
			if len(dimValues) == 0 {
				return fmt.Errorf("%s: dimension %q has no values", where, dimName)
			}
			seen := make(map[string]struct{}, len(dimValues))
			for _, v := range dimValues {
				if _, exists := seen[v]; exists {
					return fmt.Errorf("%s: dimension %q has duplicate value %q", where, dimName, v)
				}
				seen[v] = struct{}{}
			}
		}

		if len(g.EqualityFields) == 0 {
			return fmt.Errorf("%s: equality_fields is required", where)
		}

		if err := g.SyncFields.expandAndValidate(where); err != nil {
			return err
		}
	}

	if len(c.Panels) == 0 && len(c.Grids) == 0 {
		return errors.New("at least one panel or grid must be defined")
	}

	return nil
}

// validatePreset checks preset-specific requirements and resolves the
// panel's base URL.
func (c *Config) validatePreset(p *PanelConfig, where string) error {
	switch p.Preset {
	case PresetTraffic, PresetHealth, PresetStations, PresetCitizen, PresetFarm:
	default:
		return fmt.Errorf("%s: unknown preset %q (expected traffic, health, stations, citizen or farm)", where, p.Preset)
	}

	if p.URL != "" {
		return fmt.Errorf("%s: url cannot be combined with a preset; use base_url", where)
	}

	if p.BaseURL == "" {
		p.BaseURL = c.BaseURL
	} else {
		expanded, err := expandEnvVars(p.BaseURL)
		if err != nil {
			return fmt.Errorf("%s: base_url: %w", where, err)
		}
		p.BaseURL = expanded
	}
	if p.BaseURL == "" {
		return fmt.Errorf("%s: preset %q needs base_url (on the panel or at the root)", where, p.Preset)
	}
	if err := validateURL(p.BaseURL); err != nil {
		return fmt.Errorf("%s: base_url: %w", where, err)
	}

	if p.Preset == PresetTraffic {
		if p.Params["lat"] == "" || p.Params["lon"] == "" {
			return fmt.Errorf("%s: traffic preset requires params lat and lon", where)
		}
	}
	return nil
}

// expandAndValidate checks the shared synchronizer and fetcher settings.
func (s *SyncFields) expandAndValidate(where string) error {
	if s.Interval != 0 {
		if s.Interval.Duration() < minInterval {
			return fmt.Errorf("%s: interval must be at least %s, got %s", where, minInterval, s.Interval.Duration())
		}
		if s.Interval.Duration() > maxInterval {
			return fmt.Errorf("%s: interval must not exceed %s, got %s", where, maxInterval, s.Interval.Duration())
		}
	}

	for _, f := range s.EqualityFields {
		if strings.TrimSpace(f) == "" {
			return fmt.Errorf("%s: equality_fields cannot contain empty paths", where)
		}
	}

	for k, v := range s.Headers {
		expanded, err := expandEnvVars(v)
		if err != nil {
			return fmt.Errorf("%s: headers[%s]: %w", where, k, err)
		}
		s.Headers[k] = expanded
	}

	if s.Method != "" && s.Method != "GET" && s.Method != "POST" {
		return fmt.Errorf("%s: method must be GET or POST", where)
	}

	if s.Timeout != 0 {
		if s.Timeout.Duration() < 0 {
			return fmt.Errorf("%s: timeout cannot be negative, got %s", where, s.Timeout.Duration())
		}
		if s.Timeout.Duration() < time.Second {
			return fmt.Errorf("%s: timeout must be at least 1s if specified, got %s", where, s.Timeout.Duration())
		}
	}

	if s.Envelope != nil && (s.Envelope.StatusField == "" || s.Envelope.SuccessValue == "") {
		return fmt.Errorf("%s: envelope requires status_field and success_value", where)
	}

	return nil
}

func validateURL(raw string) error {
	parsedURL, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if parsedURL.Scheme == "" {
		return errors.New("url must have a scheme (http:// or https://)")
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("url scheme must be http or https, got %q", parsedURL.Scheme)
	}
	if parsedURL.Host == "" {
		return errors.New("url must have a host")
	}
	return nil
}

func validateLogLevel(level string) error {
	switch level {
	case "debug", "info", "warn", "error":
		return nil
	default:
		return fmt.Errorf("must be debug, info, warn or error, got %q", level)
	}
}
