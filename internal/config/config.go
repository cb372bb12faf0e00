// Package config holds pendingbot's run configuration: the target wiki, remote service
// endpoints, ML score thresholds and the approval policy switches.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/viant/afs"
	"gopkg.in/yaml.v3"

	"github.com/sprite-ai/pendingbot/internal/model"
)

// PasswordEnv names the environment variable holding the bot password.
const PasswordEnv = "PENDINGBOT_PASSWORD"

// GoodfaithModel is the scoring model consulted by the approval cascade.
const GoodfaithModel = "goodfaith"

const defaultConfigYAML = `# pendingbot configuration
site:
  lang: fi
  family: wikipedia
  # api_url defaults to https://{lang}.{family}.org/w/api.php
  requests_per_second: 5

credentials:
  # password is read from PENDINGBOT_PASSWORD
  username: ""

scoring:
  enabled: true
  url: https://ores.wikimedia.org
  retry_delay: 10s
  batch_size: 40
  thresholds:
    goodfaith:
      "true":  {min: 0.85, max: 1}
      "false": {min: 0, max: 0.15}

former_bots: true
day_limit: 0
simulate: false
toolforge_url: https://tools.wmflabs.org/fiwiki-tools/pendingchanges/
`

// Band is a closed interval.
type Band struct {
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

// Contains reports whether v lies within [Min, Max].
func (b Band) Contains(v float64) bool {
	return v >= b.Min && v <= b.Max
}

// Thresholds are the acceptance bands for one scoring model.
type Thresholds struct {
	True  Band `yaml:"true" json:"true"`
	False Band `yaml:"false" json:"false"`
}

// Pass reports whether both components of p fall within their bands.
func (t Thresholds) Pass(p model.Probability) bool {
	return t.True.Contains(p.True) && t.False.Contains(p.False)
}

// Site identifies the wiki being reviewed.
type Site struct {
	Lang              string  `yaml:"lang"`
	Family            string  `yaml:"family"`
	APIURL            string  `yaml:"api_url,omitempty"`
	DBName            string  `yaml:"dbname,omitempty"`
	UserAgent         string  `yaml:"user_agent,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// Credentials for the reviewing account.
type Credentials struct {
	Username string `yaml:"username"`
}

// Scoring configures the ML scoring service and the thresholds applied to its output.
type Scoring struct {
	Enabled    bool                  `yaml:"enabled"`
	URL        string                `yaml:"url"`
	RetryDelay time.Duration         `yaml:"retry_delay"`
	BatchSize  int                   `yaml:"batch_size"`
	Thresholds map[string]Thresholds `yaml:"-"`
}

// MaxBatchSize is the largest number of revision ids the scoring service accepts per request.
const MaxBatchSize = 40

// Config models pendingbot.yaml.
type Config struct {
	Site         Site        `yaml:"site"`
	Credentials  Credentials `yaml:"credentials"`
	Scoring      Scoring     `yaml:"scoring"`
	FormerBots   bool        `yaml:"former_bots"`
	DayLimit     int         `yaml:"day_limit"`
	Simulate     bool        `yaml:"simulate"`
	ToolforgeURL string      `yaml:"toolforge_url"`

	// Rejected lists the threshold entries of the loaded file that were not applied.
	Rejected []error `yaml:"-"`
}

// thresholdFile carries the raw scoring.thresholds tree; each leaf is applied with
// SetThreshold so a bad entry is rejected on its own.
type thresholdFile struct {
	Scoring struct {
		Thresholds any `yaml:"thresholds"`
	} `yaml:"scoring"`
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg := &Config{}
	if err := cfg.decode([]byte(defaultConfigYAML)); err != nil {
		panic(fmt.Sprintf("config: invalid built-in defaults: %v", err))
	}
	if len(cfg.Rejected) > 0 {
		panic(fmt.Sprintf("config: invalid built-in thresholds: %v", errors.Join(cfg.Rejected...)))
	}
	return cfg
}

// DefaultYAML returns the annotated default configuration file.
func DefaultYAML() string {
	return defaultConfigYAML
}

// Load reads a YAML configuration from a local path or URL on top of the defaults.
// An empty location returns the defaults.
func Load(ctx context.Context, location string) (*Config, error) {
	cfg := Default()
	if location == "" {
		return cfg, nil
	}
	if !strings.Contains(location, "://") {
		abs, err := filepath.Abs(location)
		if err != nil {
			return nil, fmt.Errorf("config: resolve %s: %w", location, err)
		}
		location = abs
	}

	fs := afs.New()
	data, err := fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", location, err)
	}
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", location, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// decode merges a YAML document into c. Threshold leaves are applied one by one on top of
// the bands already configured; rejected leaves are appended to c.Rejected.
func (c *Config) decode(data []byte) error {
	if err := yaml.Unmarshal(data, c); err != nil {
		return err
	}
	var raw thresholdFile
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Scoring.Thresholds == nil {
		return nil
	}
	if c.Scoring.Thresholds == nil {
		// only seeded models accept thresholds
		c.Scoring.Thresholds = map[string]Thresholds{GoodfaithModel: {}}
	}

	models, ok := asMap(raw.Scoring.Thresholds)
	if !ok {
		c.Rejected = append(c.Rejected, &KeyError{Key: "scoring.thresholds", Err: errors.New("expected a mapping of models")})
		return nil
	}
	for _, name := range sortedKeys(models) {
		sides, ok := asMap(models[name])
		if !ok {
			c.Rejected = append(c.Rejected, &KeyError{Key: name, Err: errors.New("expected true/false bands")})
			continue
		}
		for _, side := range sortedKeys(sides) {
			bounds, ok := asMap(sides[side])
			if !ok {
				c.Rejected = append(c.Rejected, &KeyError{Key: name + "_" + side, Err: errors.New("expected min/max bounds")})
				continue
			}
			for _, bound := range sortedKeys(bounds) {
				key := name + "_" + side + "_" + bound
				if err := c.SetThreshold(key, scalarString(bounds[bound])); err != nil {
					c.Rejected = append(c.Rejected, err)
				}
			}
		}
	}
	return nil
}

// asMap accepts both map shapes yaml.v3 produces for an untyped mapping.
func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, v := range m {
			out[fmt.Sprint(k)] = v
		}
		return out, true
	}
	return nil, false
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func scalarString(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}

// Validate checks the fields the bot cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Site.Lang == "" {
		errs = append(errs, errors.New("site.lang is required"))
	}
	if c.Site.Family == "" {
		errs = append(errs, errors.New("site.family is required"))
	}
	if c.DayLimit < 0 {
		errs = append(errs, fmt.Errorf("day_limit must not be negative, got %d", c.DayLimit))
	}
	if c.Scoring.BatchSize < 0 || c.Scoring.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Errorf("scoring.batch_size must be between 0 and %d, got %d", MaxBatchSize, c.Scoring.BatchSize))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// APIEndpoint returns the MediaWiki Action API URL.
func (c *Config) APIEndpoint() string {
	if c.Site.APIURL != "" {
		return c.Site.APIURL
	}
	return fmt.Sprintf("https://%s.%s.org/w/api.php", c.Site.Lang, c.Site.Family)
}

// WikiDB returns the database name used by the scoring service.
func (c *Config) WikiDB() string {
	if c.Site.DBName != "" {
		return c.Site.DBName
	}
	return c.Site.Lang + "wiki"
}

// UserAgent returns the User-Agent sent with every request.
func (c *Config) UserAgent() string {
	if c.Site.UserAgent != "" {
		return c.Site.UserAgent
	}
	return "pendingbot/1.0 (" + c.Site.Lang + "." + c.Site.Family + ")"
}

// Password reads the bot password from the environment.
func (c *Config) Password() string {
	return os.Getenv(PasswordEnv)
}

// ScoreThresholds returns the thresholds for a model when scoring is enabled.
func (c *Config) ScoreThresholds(modelName string) (Thresholds, bool) {
	if !c.Scoring.Enabled || c.Scoring.Thresholds == nil {
		return Thresholds{}, false
	}
	t, ok := c.Scoring.Thresholds[modelName]
	return t, ok
}

// ErrUnknownModel is returned for a threshold key naming an unconfigured model.
var ErrUnknownModel = errors.New("unsupported scoring model")

// KeyError reports a rejected threshold override.
type KeyError struct {
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("threshold %s: %v", e.Key, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

var thresholdKeyRe = regexp.MustCompile(`^(?:ores_)?(.+)_(true|false)_(min|max)$`)

// SetThreshold applies one override such as "goodfaith_true_min" = "0.9". On error the
// configuration is left unchanged.
func (c *Config) SetThreshold(key, value string) error {
	m := thresholdKeyRe.FindStringSubmatch(strings.TrimPrefix(key, "-"))
	if m == nil {
		return &KeyError{Key: key, Err: errors.New("expected MODEL_(true|false)_(min|max)")}
	}
	name, side, bound := m[1], m[2], m[3]

	t, ok := c.Scoring.Thresholds[name]
	if !ok {
		return &KeyError{Key: key, Err: ErrUnknownModel}
	}

	v, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return &KeyError{Key: key, Err: fmt.Errorf("unsupported value %q", value)}
	}
	if v < 0 || v > 1 {
		return &KeyError{Key: key, Err: fmt.Errorf("value %v outside [0, 1]", v)}
	}

	band := &t.True
	if side == "false" {
		band = &t.False
	}
	if bound == "min" {
		band.Min = v
	} else {
		band.Max = v
	}
	c.Scoring.Thresholds[name] = t
	return nil
}

// ApplyThresholds applies overrides in key order and returns every rejected one. Accepted
// overrides take effect even when others fail.
func (c *Config) ApplyThresholds(overrides map[string]string) []error {
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var errs []error
	for _, k := range keys {
		if err := c.SetThreshold(k, overrides[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
