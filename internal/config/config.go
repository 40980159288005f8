package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Mail      MailConfig      `yaml:"mail"`
	LLM       LLMConfig       `yaml:"llm"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Ingest    IngestConfig    `yaml:"ingest"`
	Analyzer  AnalyzerConfig  `yaml:"analyzer"`
	Organizer OrganizerConfig `yaml:"organizer"`
	Rebuild   RebuildConfig   `yaml:"rebuild"`
	Pool      PoolConfig      `yaml:"pool"`
	Job       JobConfig       `yaml:"job"`
	Enricher  EnricherConfig  `yaml:"enricher"`
	Archive   ArchiveConfig   `yaml:"archive"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, with container detection.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	URL          string `yaml:"url"`
	MaxOpenConns int    `yaml:"max_open_conns"`
	MaxIdleConns int    `yaml:"max_idle_conns"`
}

// RedisConfig holds Redis settings for rate limiting, locks, and events.
type RedisConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// MailConfig holds Gmail API settings.
type MailConfig struct {
	BaseURL        string `yaml:"base_url"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	PageSize       int    `yaml:"page_size"`
}

// Timeout returns the configured timeout as a duration.
func (c MailConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// LLMConfig holds AWS Bedrock settings for the analyst pool.
type LLMConfig struct {
	Region          string  `yaml:"region"`
	ModelID         string  `yaml:"model_id"`
	AccessKey       string  `yaml:"access_key"`
	SecretKey       string  `yaml:"secret_key"`
	Temperature     float64 `yaml:"temperature"`
	MaxInputTokens  int     `yaml:"max_input_tokens"`
	MaxOutputTokens int     `yaml:"max_output_tokens"`
	TimeoutSeconds  int     `yaml:"timeout_seconds"`
}

// Timeout returns the per-call timeout as a duration.
func (c LLMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ExtractorConfig holds trusted-contact extraction settings.
type ExtractorConfig struct {
	LookbackDays    int `yaml:"lookback_days"`
	Tier1Threshold  int `yaml:"tier1_threshold"`
	CheckpointEvery int `yaml:"checkpoint_every"`
}

// IngestConfig holds message ingest settings.
type IngestConfig struct {
	WindowDays  int `yaml:"window_days"`
	Concurrency int `yaml:"concurrency"`
}

// AnalyzerConfig holds relationship classification thresholds.
type AnalyzerConfig struct {
	DormantDays      int     `yaml:"dormant_days"`
	AttemptedDays    int     `yaml:"attempted_days"`
	OngoingDays      int     `yaml:"ongoing_days"`
	EstablishedRatio float64 `yaml:"established_ratio"`
	SubstantiveChars int     `yaml:"substantive_chars"`
}

// OrganizerConfig holds topic discovery settings.
type OrganizerConfig struct {
	TopicMergeMinParticipants int                 `yaml:"topic_merge_min_participants"`
	TopicMergeMinTokens       int                 `yaml:"topic_merge_min_tokens"`
	KeyPointsPerTopic         int                 `yaml:"key_points_per_topic"`
	RetainSnapshots           int                 `yaml:"retain_snapshots"`
	DomainKeywords            map[string][]string `yaml:"domain_keywords"`
}

// RebuildConfig holds change-detector thresholds.
type RebuildConfig struct {
	MinNewMessagesPct float64 `yaml:"min_new_messages_pct"`
}

// PoolConfig holds analyst pool settings.
type PoolConfig struct {
	Size          int `yaml:"size"`
	RetryMax      int `yaml:"retry_max"`
	RatePerMinute int `yaml:"rate_per_minute"`
	RateBurst     int `yaml:"rate_burst"`
}

// JobConfig holds supervisor settings.
type JobConfig struct {
	PollIntervalSeconds   int `yaml:"poll_interval_s"`
	ExtractTimeoutMinutes int `yaml:"extract_timeout_min"`
	IngestTimeoutMinutes  int `yaml:"ingest_timeout_min"`
	AnalystTimeoutMinutes int `yaml:"analyst_timeout_min"`
}

// PollInterval returns the status update cadence.
func (c JobConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// EnricherConfig holds optional RSS enrichment settings.
type EnricherConfig struct {
	Enabled        bool `yaml:"enabled"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
}

// ArchiveConfig holds optional S3 archival of snapshots and trees.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	S3Bucket string `yaml:"s3_bucket"`
	Region   string `yaml:"region"`
}

// Load reads and parses the configuration file, filling in defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Host == "" {
		c.Server.Host = "localhost"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Mail.BaseURL == "" {
		c.Mail.BaseURL = "https://gmail.googleapis.com"
	}
	if c.Mail.TimeoutSeconds == 0 {
		c.Mail.TimeoutSeconds = 30
	}
	if c.Mail.PageSize == 0 {
		c.Mail.PageSize = 100
	}
	if c.LLM.Region == "" {
		c.LLM.Region = "us-east-1"
	}
	if c.LLM.ModelID == "" {
		c.LLM.ModelID = "anthropic.claude-3-sonnet-20240229-v1:0"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.3
	}
	if c.LLM.MaxInputTokens == 0 {
		c.LLM.MaxInputTokens = 32000
	}
	if c.LLM.MaxOutputTokens == 0 {
		c.LLM.MaxOutputTokens = 4000
	}
	if c.LLM.TimeoutSeconds == 0 {
		c.LLM.TimeoutSeconds = 120
	}
	if c.Extractor.LookbackDays == 0 {
		c.Extractor.LookbackDays = 365
	}
	if c.Extractor.Tier1Threshold == 0 {
		c.Extractor.Tier1Threshold = 3
	}
	if c.Extractor.CheckpointEvery == 0 {
		c.Extractor.CheckpointEvery = 200
	}
	if c.Ingest.WindowDays == 0 {
		c.Ingest.WindowDays = 365
	}
	if c.Ingest.Concurrency == 0 {
		c.Ingest.Concurrency = 4
	}
	if c.Analyzer.DormantDays == 0 {
		c.Analyzer.DormantDays = 180
	}
	if c.Analyzer.AttemptedDays == 0 {
		c.Analyzer.AttemptedDays = 14
	}
	if c.Analyzer.OngoingDays == 0 {
		c.Analyzer.OngoingDays = 60
	}
	if c.Analyzer.EstablishedRatio == 0 {
		c.Analyzer.EstablishedRatio = 0.3
	}
	if c.Analyzer.SubstantiveChars == 0 {
		c.Analyzer.SubstantiveChars = 120
	}
	if c.Organizer.TopicMergeMinParticipants == 0 {
		c.Organizer.TopicMergeMinParticipants = 2
	}
	if c.Organizer.TopicMergeMinTokens == 0 {
		c.Organizer.TopicMergeMinTokens = 2
	}
	if c.Organizer.KeyPointsPerTopic == 0 {
		c.Organizer.KeyPointsPerTopic = 5
	}
	if c.Organizer.RetainSnapshots == 0 {
		c.Organizer.RetainSnapshots = 5
	}
	if c.Rebuild.MinNewMessagesPct == 0 {
		c.Rebuild.MinNewMessagesPct = 5
	}
	if c.Pool.Size == 0 {
		c.Pool.Size = 5
	}
	if c.Pool.RetryMax == 0 {
		c.Pool.RetryMax = 3
	}
	if c.Pool.RatePerMinute == 0 {
		c.Pool.RatePerMinute = 10
	}
	if c.Pool.RateBurst == 0 {
		c.Pool.RateBurst = 3
	}
	if c.Job.PollIntervalSeconds == 0 {
		c.Job.PollIntervalSeconds = 5
	}
	if c.Job.ExtractTimeoutMinutes == 0 {
		c.Job.ExtractTimeoutMinutes = 10
	}
	if c.Job.IngestTimeoutMinutes == 0 {
		c.Job.IngestTimeoutMinutes = 30
	}
	if c.Job.AnalystTimeoutMinutes == 0 {
		c.Job.AnalystTimeoutMinutes = 20
	}
	if c.Enricher.TimeoutSeconds == 0 {
		c.Enricher.TimeoutSeconds = 15
	}
	if c.Archive.Region == "" {
		c.Archive.Region = "us-east-1"
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// A .env file (if present) is loaded first, so secrets can live in .env
// locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
		cfg.Redis.Enabled = true
	}
	if v := os.Getenv("GMAIL_BASE_URL"); v != "" {
		cfg.Mail.BaseURL = v
	}
	if v := os.Getenv("BEDROCK_MODEL_ID"); v != "" {
		cfg.LLM.ModelID = v
	}
	if v := os.Getenv("AWS_BEDROCK_REGION"); v != "" {
		cfg.LLM.Region = v
	}
	if v := os.Getenv("AWS_BEDROCK_ACCESS_KEY"); v != "" {
		cfg.LLM.AccessKey = v
	}
	if v := os.Getenv("AWS_BEDROCK_SECRET_KEY"); v != "" {
		cfg.LLM.SecretKey = v
	}
	if v := os.Getenv("ARCHIVE_S3_BUCKET"); v != "" {
		cfg.Archive.S3Bucket = v
		cfg.Archive.Enabled = true
	}
	if v := os.Getenv("POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Pool.Size = n
		}
	}

	return cfg, nil
}
