// Package config loads and validates discovery configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/JakeFAU/competition-discovery/internal/discovery"
)

// CredentialEnv names the environment variable carrying the upstream session credential.
const CredentialEnv = "DISCOVERY_TARGET_CREDENTIAL"

// ID policy kinds accepted by run.id_policy.kind.
const (
	PolicyList   = "list"
	PolicyRange  = "range"
	PolicyExpand = "expand"
)

// Config captures all knobs loaded via Viper.
type Config struct {
	Target     TargetConfig     `mapstructure:"target"`
	Run        RunConfig        `mapstructure:"run" validate:"-"`
	Politeness PolitenessConfig `mapstructure:"politeness"`
	Classifier ClassifierConfig `mapstructure:"classifier"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Lookaside  LookasideConfig  `mapstructure:"lookaside"`
	Archive    ArchiveConfig    `mapstructure:"archive"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	Server     ServerConfig     `mapstructure:"server"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Progress   ProgressConfig   `mapstructure:"progress"`
}

// TargetConfig describes the upstream site.
type TargetConfig struct {
	BaseURL          string            `mapstructure:"base_url" validate:"required,url"`
	Paths            map[string]string `mapstructure:"paths" validate:"required,min=1"`
	UserAgent        string            `mapstructure:"user_agent" validate:"required"`
	CredentialHeader string            `mapstructure:"credential_header" validate:"required"`
	CredentialFile   string            `mapstructure:"credential_file"`
	Credential       string            `mapstructure:"credential"`
	TimeoutMs        int               `mapstructure:"timeout_ms" validate:"gt=0"`
	MinBodyBytes     int               `mapstructure:"min_body_bytes" validate:"gte=0"`
	MaxBodyBytes     int               `mapstructure:"max_body_bytes" validate:"gte=0"`
	AuthMarkers      []string          `mapstructure:"auth_markers"`
	IgnoreRobots     bool              `mapstructure:"ignore_robots"`
	FollowRedirects  bool              `mapstructure:"follow_redirects"`
}

// IDPolicyConfig chooses how competition ids are generated per district/season.
// An override without a kind refines the enclosing policy; one with a kind
// replaces it. Anchors always fall back to the enclosing list and finally to
// run.anchor_ids.
type IDPolicyConfig struct {
	Kind    string `mapstructure:"kind" validate:"omitempty,oneof=list range expand"`
	Anchors []int  `mapstructure:"anchors" validate:"dive,gt=0"`
	Radius  int    `mapstructure:"radius" validate:"gte=0"`
	RangeLo int    `mapstructure:"range_lo" validate:"gte=0"`
	RangeHi int    `mapstructure:"range_hi" validate:"gte=0"`
	Window  int    `mapstructure:"window" validate:"gte=0"`
	// Seasons overrides the policy for single seasons, keyed by year.
	Seasons map[string]IDPolicyConfig `mapstructure:"seasons" validate:"dive"`
}

// RunConfig bounds one enumerator run.
type RunConfig struct {
	Label               string                    `mapstructure:"label"`
	Districts           []string                  `mapstructure:"districts" validate:"required,min=1,dive,required"`
	SeasonStart         int                       `mapstructure:"season_start" validate:"gt=0"`
	SeasonEnd           int                       `mapstructure:"season_end" validate:"gt=0"`
	SubEndpoints        []string                  `mapstructure:"sub_endpoints" validate:"required,min=1,dive,required"`
	AnchorIDs           []int                     `mapstructure:"anchor_ids" validate:"dive,gt=0"`
	IDPolicy            IDPolicyConfig            `mapstructure:"id_policy"`
	DistrictPolicies    map[string]IDPolicyConfig `mapstructure:"district_policies" validate:"dive"`
	MaxAttempts         int                       `mapstructure:"max_attempts" validate:"gt=0"`
	MaxKeys             int                       `mapstructure:"max_keys" validate:"gte=0"`
	RetentionDays       int                       `mapstructure:"retention_days" validate:"gte=0"`
	MaxStorageErrors    int                       `mapstructure:"max_storage_errors" validate:"gt=0"`
	AbandonAfterMinutes int                       `mapstructure:"abandon_after_minutes" validate:"gt=0"`
	ProbeTimeoutMs      int                       `mapstructure:"probe_timeout_ms" validate:"gt=0"`
}

// PolitenessConfig controls request pacing.
type PolitenessConfig struct {
	Concurrency   int     `mapstructure:"concurrency" validate:"gte=1,lte=8"`
	MinDelayMs    int     `mapstructure:"min_delay_ms" validate:"gte=0"`
	JitterMs      int     `mapstructure:"jitter_ms" validate:"gte=0"`
	MaxRPS        float64 `mapstructure:"max_rps" validate:"gte=0"`
	BackoffBaseMs int     `mapstructure:"backoff_base_ms" validate:"gte=0"`
	BackoffMaxMs  int     `mapstructure:"backoff_max_ms" validate:"gte=0"`
}

// ClassifierConfig holds the signal lists used to decide existence.
type ClassifierConfig struct {
	NegativeMarkers  []string `mapstructure:"negative_markers"`
	ErrorMarkers     []string `mapstructure:"error_markers"`
	PositiveMarkers  []string `mapstructure:"positive_markers"`
	ColumnKeywords   []string `mapstructure:"column_keywords" validate:"required,min=1"`
	MinColumnMatches int      `mapstructure:"min_column_matches" validate:"gt=0"`
	MinRows          int      `mapstructure:"min_rows" validate:"gt=0"`
	DisplaySelectors []string `mapstructure:"display_selectors"`
	DistrictSelector string   `mapstructure:"district_selector"`
}

// StorageConfig selects the cache backend.
type StorageConfig struct {
	Driver     string `mapstructure:"driver" validate:"oneof=postgres sqlite memory"`
	DSN        string `mapstructure:"dsn"`
	SQLitePath string `mapstructure:"sqlite_path"`
	MaxConns   int    `mapstructure:"max_conns" validate:"gte=0"`
}

// LookasideConfig configures the read-through tiers in front of the cache.
type LookasideConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	LRUSize       int    `mapstructure:"lru_size" validate:"gte=0"`
	TTLMinutes    int    `mapstructure:"ttl_minutes" validate:"gte=0"`
	RedisAddr     string `mapstructure:"redis_addr"`
	RedisPassword string `mapstructure:"redis_password"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
	RedisTTLHours int    `mapstructure:"redis_ttl_hours" validate:"gte=0"`
}

// ArchiveConfig controls snapshot persistence for confirmed pages.
type ArchiveConfig struct {
	Backend     string `mapstructure:"backend" validate:"oneof=none local gcs memory"`
	LocalDir    string `mapstructure:"local_dir"`
	GCSBucket   string `mapstructure:"gcs_bucket"`
	Prefix      string `mapstructure:"prefix"`
	ContentType string `mapstructure:"content_type"`
}

// PubSubConfig holds metadata for discovery notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// ServerConfig controls the read-only HTTP surface.
type ServerConfig struct {
	Port int `mapstructure:"port" validate:"gt=0,lt=65536"`
	// APIKey, when set, is required on every /v1 request.
	APIKey string `mapstructure:"api_key"`
}

// LoggingConfig selects the zap encoder and level.
type LoggingConfig struct {
	Format string `mapstructure:"format" validate:"oneof=auto console json"`
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// ProgressConfig tunes the progress hub.
type ProgressConfig struct {
	BufferSize      int `mapstructure:"buffer_size" validate:"gt=0"`
	BatchSize       int `mapstructure:"batch_size" validate:"gt=0"`
	FlushIntervalMs int `mapstructure:"flush_interval_ms" validate:"gt=0"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("mapstructure"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// Load builds a Config from disk/environment. Flags bound by the caller are
// layered through v; pass nil to use a fresh instance.
func Load(v *viper.Viper, path string) (Config, error) {
	if v == nil {
		v = viper.New()
	}
	v.SetEnvPrefix("DISCOVERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, discovery.NewConfigError("", fmt.Errorf("read config: %w", err))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, discovery.NewConfigError("", fmt.Errorf("unmarshal config: %w", err))
	}
	if err := cfg.resolveCredential(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target.base_url", "https://www.fussball.de")
	v.SetDefault("target.paths", map[string]string{
		"default": "/spieltagsuebersicht/-/saison/{season}/staffel/{district}-{competition}",
	})
	v.SetDefault("target.user_agent", "competition-discovery/0.1")
	v.SetDefault("target.credential_header", "Cookie")
	v.SetDefault("target.credential", "")
	v.SetDefault("target.credential_file", "")
	v.SetDefault("target.timeout_ms", 15000)
	v.SetDefault("target.min_body_bytes", 512)
	v.SetDefault("target.max_body_bytes", 4<<20)
	v.SetDefault("target.auth_markers", []string{"Bitte melden Sie sich an", "session expired"})
	v.SetDefault("target.ignore_robots", true)
	v.SetDefault("target.follow_redirects", true)

	v.SetDefault("run.label", "")
	v.SetDefault("run.season_start", 0)
	v.SetDefault("run.season_end", 0)
	v.SetDefault("run.sub_endpoints", []string{"default"})
	v.SetDefault("run.id_policy.kind", PolicyList)
	v.SetDefault("run.id_policy.radius", 0)
	v.SetDefault("run.id_policy.window", 25)
	v.SetDefault("run.max_attempts", 3)
	v.SetDefault("run.max_keys", 0)
	v.SetDefault("run.retention_days", 30)
	v.SetDefault("run.max_storage_errors", 3)
	v.SetDefault("run.abandon_after_minutes", 30)
	v.SetDefault("run.probe_timeout_ms", 30000)

	v.SetDefault("politeness.concurrency", 1)
	v.SetDefault("politeness.min_delay_ms", 1500)
	v.SetDefault("politeness.jitter_ms", 500)
	v.SetDefault("politeness.max_rps", 0)
	v.SetDefault("politeness.backoff_base_ms", 2000)
	v.SetDefault("politeness.backoff_max_ms", 60000)

	v.SetDefault("classifier.negative_markers", []string{"Keine Einträge", "keine Spiele", "no entries"})
	v.SetDefault("classifier.error_markers", []string{"Seite nicht gefunden", "page not found"})
	v.SetDefault("classifier.positive_markers", []string{})
	v.SetDefault("classifier.column_keywords", []string{
		"Name", "Spieler", "Mannschaft", "Verein", "Tore", "Spiele", "Punkte",
		"player", "team", "club", "goals", "games", "points",
	})
	v.SetDefault("classifier.min_column_matches", 2)
	v.SetDefault("classifier.min_rows", 6)
	v.SetDefault("classifier.display_selectors", []string{"h1", "title"})
	v.SetDefault("classifier.district_selector", "")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.sqlite_path", "discovery.db")
	v.SetDefault("storage.max_conns", 4)

	v.SetDefault("lookaside.enabled", false)
	v.SetDefault("lookaside.lru_size", 4096)
	v.SetDefault("lookaside.ttl_minutes", 60)
	v.SetDefault("lookaside.redis_ttl_hours", 24*7)

	v.SetDefault("archive.backend", "none")
	v.SetDefault("archive.local_dir", "snapshots")
	v.SetDefault("archive.prefix", "snapshots")
	v.SetDefault("archive.content_type", "text/html; charset=utf-8")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.api_key", "")
	v.SetDefault("logging.format", "auto")
	v.SetDefault("logging.level", "info")

	v.SetDefault("progress.buffer_size", 256)
	v.SetDefault("progress.batch_size", 32)
	v.SetDefault("progress.flush_interval_ms", 500)
}

func (c *Config) resolveCredential() error {
	if c.Target.Credential != "" || c.Target.CredentialFile == "" {
		return nil
	}
	raw, err := os.ReadFile(c.Target.CredentialFile)
	if err != nil {
		return discovery.NewConfigError("target.credential_file", err)
	}
	c.Target.Credential = strings.TrimSpace(string(raw))
	return nil
}

// Validate enforces struct tags and cross-field limits shared by every
// command. Every failure is a ConfigError so callers can map it to the
// configuration exit code. Run bounds are checked by ValidateCrawl.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return tagError("", err)
	}
	if c.Run.RetentionDays < 0 {
		return discovery.NewConfigError("run.retention_days", errors.New("must be >= 0"))
	}
	for sub := range c.Target.Paths {
		if strings.TrimSpace(sub) == "" {
			return discovery.NewConfigError("target.paths", errors.New("sub-endpoint name must not be empty"))
		}
	}
	if c.Politeness.BackoffMaxMs < c.Politeness.BackoffBaseMs {
		return discovery.NewConfigError("politeness.backoff_max_ms", errors.New("must be >= backoff_base_ms"))
	}
	switch c.Storage.Driver {
	case "postgres":
		if c.Storage.DSN == "" {
			return discovery.NewConfigError("storage.dsn", errors.New("required for postgres"))
		}
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return discovery.NewConfigError("storage.sqlite_path", errors.New("required for sqlite"))
		}
	}
	if c.Archive.Backend == "gcs" && c.Archive.GCSBucket == "" {
		return discovery.NewConfigError("archive.gcs_bucket", errors.New("required for gcs archive"))
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return discovery.NewConfigError("pubsub.project_id", errors.New("required when topic_name is set"))
	}
	return nil
}

// ValidateCrawl adds the checks only a crawl needs: run bounds, id policies
// and a credential.
func (c Config) ValidateCrawl() error {
	if err := validate.Struct(c.Run); err != nil {
		return tagError("run", err)
	}
	if c.Run.SeasonStart > c.Run.SeasonEnd {
		return discovery.NewConfigError("run.season_start", errors.New("must be <= run.season_end"))
	}
	for _, sub := range c.Run.SubEndpoints {
		if _, ok := c.Target.PathFor(sub); !ok {
			return discovery.NewConfigError("run.sub_endpoints", fmt.Errorf("no target.paths entry for %q", sub))
		}
	}
	for _, district := range c.Run.Districts {
		field := "run.id_policy"
		if _, ok := c.Run.districtPolicy(district); ok {
			field = "run.district_policies." + strings.ToLower(district)
		}
		for season := c.Run.SeasonEnd; season >= c.Run.SeasonStart; season-- {
			if err := c.Run.PolicyFor(district, season).check(field); err != nil {
				return err
			}
		}
	}
	if strings.TrimSpace(c.Target.Credential) == "" {
		return discovery.NewConfigError("target.credential", fmt.Errorf("set %s or target.credential_file", CredentialEnv))
	}
	return nil
}

func tagError(prefix string, err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return discovery.NewConfigError(prefix, err)
	}
	first := verrs[0]
	field := fieldPath(first.Namespace())
	if prefix != "" {
		field = prefix + "." + field
	}
	return discovery.NewConfigError(field, fmt.Errorf("failed %q check", first.Tag()))
}

func (p IDPolicyConfig) check(field string) error {
	switch p.Kind {
	case PolicyList:
		if len(p.Anchors) == 0 {
			return discovery.NewConfigError("run.anchor_ids", errors.New("required for list policy"))
		}
	case PolicyRange:
		if p.RangeHi > 0 {
			if p.RangeLo <= 0 || p.RangeLo > p.RangeHi {
				return discovery.NewConfigError(field+".range_lo", errors.New("must be in 1..range_hi"))
			}
			return nil
		}
		if len(p.Anchors) == 0 {
			return discovery.NewConfigError("run.anchor_ids", errors.New("required for range policy without range_lo/range_hi"))
		}
	case PolicyExpand:
		if p.Window <= 0 {
			return discovery.NewConfigError(field+".window", errors.New("must be > 0"))
		}
		if len(p.Anchors) == 0 {
			return discovery.NewConfigError("run.anchor_ids", errors.New("required as expand fallback"))
		}
	}
	return nil
}

// overlay applies o on top of p. A layer that names a kind starts a fresh
// policy keeping only the anchors; otherwise its non-zero fields are merged.
func (p IDPolicyConfig) overlay(o IDPolicyConfig) IDPolicyConfig {
	if o.Kind != "" {
		p = IDPolicyConfig{Kind: o.Kind, Anchors: p.Anchors}
	}
	if len(o.Anchors) > 0 {
		p.Anchors = o.Anchors
	}
	if o.Radius > 0 {
		p.Radius = o.Radius
	}
	if o.RangeLo > 0 {
		p.RangeLo = o.RangeLo
	}
	if o.RangeHi > 0 {
		p.RangeHi = o.RangeHi
	}
	if o.Window > 0 {
		p.Window = o.Window
	}
	return p
}

// PolicyFor resolves the id policy for one district and season. From least
// to most specific: run.id_policy, its seasons entry, the district's policy,
// then the district's seasons entry.
func (r RunConfig) PolicyFor(district string, season int) IDPolicyConfig {
	year := strconv.Itoa(season)
	p := IDPolicyConfig{Kind: PolicyList, Anchors: r.AnchorIDs}.overlay(r.IDPolicy)
	if o, ok := r.IDPolicy.Seasons[year]; ok {
		p = p.overlay(o)
	}
	if d, ok := r.districtPolicy(district); ok {
		p = p.overlay(d)
		if o, ok := d.Seasons[year]; ok {
			p = p.overlay(o)
		}
	}
	p.Seasons = nil
	return p
}

// districtPolicy ignores case because viper lowercases map keys.
func (r RunConfig) districtPolicy(district string) (IDPolicyConfig, bool) {
	for name, p := range r.DistrictPolicies {
		if strings.EqualFold(name, district) {
			return p, true
		}
	}
	return IDPolicyConfig{}, false
}

// PathFor returns the URL path template for a sub-endpoint.
func (t TargetConfig) PathFor(sub string) (string, bool) {
	for name, path := range t.Paths {
		if strings.EqualFold(name, sub) {
			return path, true
		}
	}
	return "", false
}

// ProbeTimeout is the per-request transport timeout.
func (c Config) ProbeTimeout() time.Duration {
	return time.Duration(c.Target.TimeoutMs) * time.Millisecond
}

// InFlightTimeout bounds a dispatched probe, including classification and writes.
func (c Config) InFlightTimeout() time.Duration {
	return time.Duration(c.Run.ProbeTimeoutMs) * time.Millisecond
}

// Retention is the age after which absent/errored entries may be evicted.
func (c Config) Retention() time.Duration {
	return time.Duration(c.Run.RetentionDays) * 24 * time.Hour
}

// AbandonAfter is the heartbeat age after which a running session is reaped.
func (c Config) AbandonAfter() time.Duration {
	return time.Duration(c.Run.AbandonAfterMinutes) * time.Minute
}

// fieldPath strips the root type from "Config.run.season_start".
func fieldPath(ns string) string {
	_, rest, ok := strings.Cut(ns, ".")
	if !ok {
		return ns
	}
	return rest
}
