package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"ResearchDigest/internal/domain"
	"ResearchDigest/internal/scoring"
	"ResearchDigest/internal/weekly"
)

const (
	defaultTimezone   = "UTC"
	configPathEnv     = "RESEARCHDIGEST_CONFIG"
	databaseDSNEnv    = "DATABASE_DSN"
	telegramTokenEnv  = "TELEGRAM_BOT_TOKEN"
	telegramChatIDEnv = "TELEGRAM_CHAT_ID"
	githubTokenEnv    = "GITHUB_TOKEN"
	summarizerKeyEnv  = "OPENAI_API_KEY"
)

// Storage backends accepted by the dedup store and the run ledger.
const (
	BackendFile     = "file"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

// Config holds high-level settings required across the application.
type Config struct {
	Logging       LoggingConfig      `yaml:"logging"`
	Scoring       ScoringConfig      `yaml:"scoring"`
	Categories    []CategoryRule     `yaml:"categories"`
	Dedup         DedupConfig        `yaml:"dedup"`
	Ledger        LedgerConfig       `yaml:"ledger"`
	Archive       ArchiveConfig      `yaml:"archive"`
	Weekly        WeeklyConfig       `yaml:"weekly"`
	Scheduler     SchedulerConfig    `yaml:"scheduler"`
	Fetch         FetchConfig        `yaml:"fetch"`
	Sites         []SiteConfig       `yaml:"sites"`
	Notifications NotificationConfig `yaml:"notifications"`
	Summarizer    SummarizerConfig   `yaml:"summarizer"`
}

// LoggingConfig selects the slog level and handler format (text or json).
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ScoringConfig tunes the relevance filter.
type ScoringConfig struct {
	MinScore          float64 `yaml:"min_score"`
	MaxItemsPerSource int     `yaml:"max_items_per_source"`
	KeywordsFile      string  `yaml:"keywords_file"`
}

// CategoryRule is one weighted group of keyword terms.
type CategoryRule struct {
	Name   string   `yaml:"name"`
	Weight float64  `yaml:"weight"`
	Terms  []string `yaml:"terms"`
}

// DedupConfig chooses where seen records live and how long they are kept.
type DedupConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	DSN           string `yaml:"dsn"`
	RetentionDays int    `yaml:"retention_days"`
}

// Retention converts RetentionDays to a duration.
func (d DedupConfig) Retention() time.Duration {
	return time.Duration(d.RetentionDays) * 24 * time.Hour
}

// LedgerConfig chooses where run records are appended.
type LedgerConfig struct {
	Backend    string `yaml:"backend"`
	Path       string `yaml:"path"`
	MaxRecords int    `yaml:"max_records"`
}

// ArchiveConfig points at the directory holding rendered documents.
type ArchiveConfig struct {
	Dir string `yaml:"dir"`
}

// WeeklyConfig tunes aggregation and ranking for the weekly digest.
type WeeklyConfig struct {
	LookbackDays     int         `yaml:"lookback_days"`
	TopN             int         `yaml:"top_n"`
	BreadthBonus     float64     `yaml:"breadth_bonus"`
	Boost            BoostConfig `yaml:"boost"`
	FallbackIdentity string      `yaml:"fallback_identity"`
}

// BoostConfig mirrors weekly.AppearanceBoost.
type BoostConfig struct {
	Shape string  `yaml:"shape"`
	Step  float64 `yaml:"step"`
	Cap   float64 `yaml:"cap"`
}

// SchedulerConfig defines when the daily and weekly runs fire.
type SchedulerConfig struct {
	Daily    string         `yaml:"daily"`
	Weekly   string         `yaml:"weekly"`
	Timezone string         `yaml:"timezone"`
	location *time.Location `yaml:"-"`
}

// Location resolves the scheduler timezone string to a time.Location.
func (s SchedulerConfig) Location() *time.Location {
	if s.location != nil {
		return s.location
	}
	return time.UTC
}

// FetchConfig controls how scanners pace their page requests.
type FetchConfig struct {
	RequestIntervalMS int    `yaml:"request_interval_ms"`
	GitHubToken       string `yaml:"github_token"`
}

// RequestInterval is the minimum gap between two requests of one scanner.
func (f FetchConfig) RequestInterval() time.Duration {
	return time.Duration(f.RequestIntervalMS) * time.Millisecond
}

// SummarizerConfig points at an OpenAI-compatible chat completion API.
// Summaries are generated only when an API key is present.
type SummarizerConfig struct {
	Endpoint       string `yaml:"endpoint"`
	Model          string `yaml:"model"`
	APIKey         string `yaml:"api_key"`
	SystemPrompt   string `yaml:"system_prompt"`
	BatchSize      int    `yaml:"batch_size"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Enabled reports whether an API key is configured.
func (s SummarizerConfig) Enabled() bool {
	return s.APIKey != ""
}

// Timeout bounds one chat request.
func (s SummarizerConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// NotificationConfig encapsulates outbound channels (Telegram, etc.).
type NotificationConfig struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Breaker  BreakerConfig  `yaml:"breaker"`
}

// BreakerConfig stops delivery attempts to a channel after repeated failures.
type BreakerConfig struct {
	MaxFailures     int `yaml:"max_failures"`
	CooldownMinutes int `yaml:"cooldown_minutes"`
}

// Cooldown is how long an open breaker rejects deliveries.
func (b BreakerConfig) Cooldown() time.Duration {
	return time.Duration(b.CooldownMinutes) * time.Minute
}

// TelegramConfig wires all data required to send messages.
type TelegramConfig struct {
	BotToken string `yaml:"botToken"`
	ChatID   string `yaml:"chatId"`
}

// Enabled reports whether both credentials are present.
func (t TelegramConfig) Enabled() bool {
	return t.BotToken != "" && t.ChatID != ""
}

// SiteConfig describes a single site with its scanner strategy.
type SiteConfig struct {
	Name       string            `yaml:"name"`
	Scanner    string            `yaml:"scanner"`
	Categories []CategoryConfig  `yaml:"categories"`
	Options    map[string]string `yaml:"options"`
}

// CategoryConfig holds the concrete endpoints to crawl (e.g., Arxiv category URLs).
type CategoryConfig struct {
	Name string `yaml:"name"`
	URL  string `yaml:"url"`
}

// Load reads YAML configuration and applies environment overrides. An empty
// path falls back to RESEARCHDIGEST_CONFIG; with neither set the defaults
// are used. Any problem is returned as a *domain.ConfigurationError.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(configPathEnv)
	}
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, domain.NewConfigurationError("config", "cannot read %s: %v", path, err)
		}
		if err := Decode(raw, &cfg); err != nil {
			return Config{}, domain.NewConfigurationError("config", "cannot parse %s: %v", path, err)
		}
	}

	cfg.applyEnvOverrides()

	if cfg.Scoring.KeywordsFile != "" {
		rules, err := LoadKeywords(cfg.Scoring.KeywordsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Categories = rules
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Decode overlays YAML onto cfg; keys absent from raw keep their values.
func Decode(raw []byte, cfg *Config) error {
	if strings.TrimSpace(string(raw)) == "" {
		return nil
	}
	return yaml.Unmarshal(raw, cfg)
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(databaseDSNEnv); v != "" {
		c.Dedup.DSN = v
	}

	if v := os.Getenv(telegramTokenEnv); v != "" {
		c.Notifications.Telegram.BotToken = v
	}

	if v := os.Getenv(telegramChatIDEnv); v != "" {
		c.Notifications.Telegram.ChatID = v
	}

	if v := os.Getenv(githubTokenEnv); v != "" {
		c.Fetch.GitHubToken = v
	}

	if v := os.Getenv(summarizerKeyEnv); v != "" {
		c.Summarizer.APIKey = v
	}
}

// Validate checks every setting and binds the scheduler timezone.
func (c *Config) Validate() error {
	if len(c.Categories) == 0 {
		return domain.NewConfigurationError("categories", "at least one category is required")
	}
	if err := scoring.Validate(c.CategoryDefinitions()); err != nil {
		return err
	}

	if c.Scoring.MinScore < 0 {
		return domain.NewConfigurationError("scoring.min_score", "must be >= 0, got %v", c.Scoring.MinScore)
	}
	if c.Scoring.MaxItemsPerSource < 0 {
		return domain.NewConfigurationError("scoring.max_items_per_source", "must be >= 0, got %d", c.Scoring.MaxItemsPerSource)
	}

	switch c.Dedup.Backend {
	case BackendFile, BackendSQLite:
		if c.Dedup.Path == "" {
			return domain.NewConfigurationError("dedup.path", "required for %s backend", c.Dedup.Backend)
		}
	case BackendPostgres:
		if c.Dedup.DSN == "" {
			return domain.NewConfigurationError("dedup.dsn", "required for postgres backend")
		}
	default:
		return domain.NewConfigurationError("dedup.backend", "unknown backend %q", c.Dedup.Backend)
	}
	if c.Dedup.RetentionDays <= 0 {
		return domain.NewConfigurationError("dedup.retention_days", "must be > 0, got %d", c.Dedup.RetentionDays)
	}

	switch c.Ledger.Backend {
	case BackendFile, BackendSQLite:
	default:
		return domain.NewConfigurationError("ledger.backend", "unknown backend %q", c.Ledger.Backend)
	}
	if c.Ledger.Path == "" {
		return domain.NewConfigurationError("ledger.path", "required")
	}
	if c.Ledger.MaxRecords <= 0 {
		return domain.NewConfigurationError("ledger.max_records", "must be > 0, got %d", c.Ledger.MaxRecords)
	}

	if c.Archive.Dir == "" {
		return domain.NewConfigurationError("archive.dir", "required")
	}

	if c.Weekly.LookbackDays <= 0 {
		return domain.NewConfigurationError("weekly.lookback_days", "must be > 0, got %d", c.Weekly.LookbackDays)
	}
	if c.Weekly.TopN < 0 {
		return domain.NewConfigurationError("weekly.top_n", "must be >= 0, got %d", c.Weekly.TopN)
	}
	if c.Weekly.BreadthBonus < 0 {
		return domain.NewConfigurationError("weekly.breadth_bonus", "must be >= 0, got %v", c.Weekly.BreadthBonus)
	}
	if err := c.Weekly.AppearanceBoost().Validate(); err != nil {
		return domain.NewConfigurationError("weekly.boost", "%v", err)
	}
	if _, err := weekly.ParseFallbackIdentity(c.Weekly.FallbackIdentity); err != nil {
		return domain.NewConfigurationError("weekly.fallback_identity", "%v", err)
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(c.Scheduler.Daily); err != nil {
		return domain.NewConfigurationError("scheduler.daily", "%v", err)
	}
	if _, err := parser.Parse(c.Scheduler.Weekly); err != nil {
		return domain.NewConfigurationError("scheduler.weekly", "%v", err)
	}
	tz := c.Scheduler.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return domain.NewConfigurationError("scheduler.timezone", "unknown timezone %q", tz)
	}
	c.Scheduler.location = loc

	if c.Fetch.RequestIntervalMS < 0 {
		return domain.NewConfigurationError("fetch.request_interval_ms", "must be >= 0, got %d", c.Fetch.RequestIntervalMS)
	}

	for i, site := range c.Sites {
		if site.Name == "" {
			return domain.NewConfigurationError(fmt.Sprintf("sites[%d].name", i), "required")
		}
		if site.Scanner == "" {
			return domain.NewConfigurationError(fmt.Sprintf("sites[%d].scanner", i), "required")
		}
	}

	if (c.Notifications.Telegram.BotToken == "") != (c.Notifications.Telegram.ChatID == "") {
		return domain.NewConfigurationError("notifications.telegram", "botToken and chatId must be set together")
	}
	if c.Notifications.Breaker.MaxFailures < 0 {
		return domain.NewConfigurationError("notifications.breaker.max_failures", "must be >= 0, got %d", c.Notifications.Breaker.MaxFailures)
	}
	if c.Notifications.Breaker.MaxFailures > 0 && c.Notifications.Breaker.CooldownMinutes <= 0 {
		return domain.NewConfigurationError("notifications.breaker.cooldown_minutes", "must be > 0 when max_failures is set")
	}

	if c.Summarizer.Enabled() {
		if c.Summarizer.Endpoint == "" {
			return domain.NewConfigurationError("summarizer.endpoint", "required when api_key is set")
		}
		if c.Summarizer.Model == "" {
			return domain.NewConfigurationError("summarizer.model", "required when api_key is set")
		}
	}
	if c.Summarizer.BatchSize < 0 {
		return domain.NewConfigurationError("summarizer.batch_size", "must be >= 0, got %d", c.Summarizer.BatchSize)
	}
	if c.Summarizer.TimeoutSeconds < 0 {
		return domain.NewConfigurationError("summarizer.timeout_seconds", "must be >= 0, got %d", c.Summarizer.TimeoutSeconds)
	}
	return nil
}

// CategoryDefinitions converts the configured rules, preserving order.
func (c Config) CategoryDefinitions() []domain.CategoryDefinition {
	defs := make([]domain.CategoryDefinition, 0, len(c.Categories))
	for _, rule := range c.Categories {
		defs = append(defs, domain.CategoryDefinition{
			Name:   rule.Name,
			Weight: rule.Weight,
			Terms:  append([]string(nil), rule.Terms...),
		})
	}
	return defs
}

// AppearanceBoost converts the boost settings.
func (w WeeklyConfig) AppearanceBoost() weekly.AppearanceBoost {
	return weekly.AppearanceBoost{
		Shape: weekly.BoostShape(w.Boost.Shape),
		Step:  w.Boost.Step,
		Cap:   w.Boost.Cap,
	}
}

// Ranker builds the weekly ranker from the settings.
func (w WeeklyConfig) Ranker() weekly.Ranker {
	return weekly.Ranker{
		Boost:        w.AppearanceBoost(),
		BreadthBonus: w.BreadthBonus,
		TopN:         w.TopN,
	}
}

// Fallback returns the validated fallback identity mode.
func (w WeeklyConfig) Fallback() weekly.FallbackIdentity {
	mode, err := weekly.ParseFallbackIdentity(w.FallbackIdentity)
	if err != nil {
		return weekly.FallbackTitleURL
	}
	return mode
}

// Default returns a configuration that runs without a config file.
func Default() Config {
	return Config{
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Scoring: ScoringConfig{MinScore: 1.0, MaxItemsPerSource: 15},
		Categories: []CategoryRule{
			{Name: "agent", Weight: 1.5, Terms: []string{"agent", "agents", "agentic", "tool use", "planning"}},
			{Name: "llm", Weight: 1.0, Terms: []string{"LLM", "large language model", "language model", "transformer"}},
			{Name: "rag", Weight: 1.2, Terms: []string{"RAG", "retrieval-augmented", "retrieval augmented", "vector database"}},
			{Name: "inference", Weight: 1.0, Terms: []string{"inference", "quantization", "serving", "KV cache"}},
		},
		Dedup:   DedupConfig{Backend: BackendFile, Path: "data/seen.json", RetentionDays: 30},
		Ledger:  LedgerConfig{Backend: BackendFile, Path: "data/runs.json", MaxRecords: 200},
		Archive: ArchiveConfig{Dir: "data/digests"},
		Weekly: WeeklyConfig{
			LookbackDays:     7,
			TopN:             20,
			BreadthBonus:     0.5,
			Boost:            BoostConfig{Shape: string(weekly.BoostLinear), Step: 0.2, Cap: 2.0},
			FallbackIdentity: string(weekly.FallbackTitleURL),
		},
		Scheduler: SchedulerConfig{Daily: "0 6 * * *", Weekly: "0 8 * * 1", Timezone: defaultTimezone, location: time.UTC},
		Fetch:     FetchConfig{RequestIntervalMS: 3000},
		Notifications: NotificationConfig{
			Breaker: BreakerConfig{MaxFailures: 3, CooldownMinutes: 60},
		},
		Summarizer: SummarizerConfig{
			Endpoint:       "https://api.openai.com/v1/chat/completions",
			Model:          "gpt-4o-mini",
			BatchSize:      30,
			TimeoutSeconds: 60,
		},
		Sites: []SiteConfig{
			{
				Name:    "arxiv-default",
				Scanner: "arxiv",
				Categories: []CategoryConfig{
					{Name: "cs.AI", URL: "https://export.arxiv.org/list/cs.AI/pastweek"},
					{Name: "cs.CL", URL: "https://export.arxiv.org/list/cs.CL/pastweek"},
				},
			},
			{
				Name:    "github-trending",
				Scanner: "github-trending",
				Categories: []CategoryConfig{
					{Name: "python", URL: "https://github.com/trending/python?since=daily"},
				},
				Options: map[string]string{"min_stars": "50"},
			},
		},
	}
}
