// File: internal/config/config.go
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type BotConfig struct {
	Token            string        `yaml:"token"`
	Mode             string        `yaml:"mode"` // polling
	Username         string        `yaml:"username"`
	Workers          int           `yaml:"workers"` // polling workers
	Language         string        `yaml:"language"`
	CommandRateLimit int           `yaml:"command_rate_limit"` // commands per window per user
	RateWindow       time.Duration `yaml:"rate_window"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL            string `yaml:"url"`
	MaxConns       int32  `yaml:"max_conns"`
	MigrateOnStart bool   `yaml:"migrate_on_start"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // plan cache entries
}

type AIConfig struct {
	OpenAIKey         string        `yaml:"openai_key"`
	OpenAIBaseURL     string        `yaml:"openai_base_url"`
	GeminiKey         string        `yaml:"gemini_key"`
	DefaultProvider   string        `yaml:"default_provider"`
	TranscribeModel   string        `yaml:"transcribe_model"`
	ConcurrentLimit   int           `yaml:"concurrent_limit"` // max concurrent AI calls
	RequestTimeout    time.Duration `yaml:"request_timeout"`
	ClassifierTimeout time.Duration `yaml:"classifier_timeout"`
	HistoryLimit      int           `yaml:"history_limit"`
	SystemPrompt      string        `yaml:"system_prompt"`
}

type GatewayConfig struct {
	ShopID         string        `yaml:"shop_id"`
	SecretKey      string        `yaml:"secret_key"`
	BaseURL        string        `yaml:"base_url"`
	ReturnURL      string        `yaml:"return_url"`
	Timeout        time.Duration `yaml:"timeout"`
	VerifyWebhooks bool          `yaml:"verify_webhooks"`
}

type PaymentConfig struct {
	Gateway        GatewayConfig `yaml:"gateway"`
	RebindAmount   int64         `yaml:"rebind_amount"` // minor units
	RebindCurrency string        `yaml:"rebind_currency"`
	StarsEnabled   bool          `yaml:"stars_enabled"`
}

type UsageConfig struct {
	Timezone      string        `yaml:"timezone"` // reference timezone of the usage buckets
	LimitCacheTTL time.Duration `yaml:"limit_cache_ttl"`
}

// TierConfig holds the capability gates of one tier.
type TierConfig struct {
	VoiceAllowed       bool  `yaml:"voice_allowed"`
	VoiceLimitSeconds  int   `yaml:"voice_limit_seconds"`
	ImageUploadAllowed bool  `yaml:"image_upload_allowed"`
	ImageUploadLimit   int64 `yaml:"image_upload_limit"`
	FileUploadAllowed  bool  `yaml:"file_upload_allowed"`
	CustomRoles        bool  `yaml:"custom_roles"`
	DocAnswers         bool  `yaml:"doc_answers"`
	ImageGeneration    bool  `yaml:"image_generation"`
	ImageFileOutput    bool  `yaml:"image_file_output"`
}

type SchedulerConfig struct {
	RenewalCron    string          `yaml:"renewal_cron"`
	ReconcileCron  string          `yaml:"reconcile_cron"`
	StaleAfter     time.Duration   `yaml:"stale_after"` // pending payments older than this get reconciled
	BatchSize      int             `yaml:"batch_size"`
	RunTimeout     time.Duration   `yaml:"run_timeout"`
	RetryIntervals []time.Duration `yaml:"retry_intervals"` // overrides the built-in retry table
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"` // 32 bytes, hex or raw
}

type HTTPConfig struct {
	Addr         string   `yaml:"addr"`
	WebhookPath  string   `yaml:"webhook_path"`
	AllowedCIDRs []string `yaml:"allowed_cidrs"` // webhook senders; empty allows all
}

type Config struct {
	Bot       BotConfig          `yaml:"bot"`
	Log       LogConfig          `yaml:"log"`
	Database  DatabaseConfig     `yaml:"database"`
	Redis     RedisConfig        `yaml:"redis"`
	AI        AIConfig           `yaml:"ai"`
	Payment   PaymentConfig      `yaml:"payment"`
	Usage     UsageConfig        `yaml:"usage"`
	Tiers     map[int]TierConfig `yaml:"tiers"`
	Scheduler SchedulerConfig    `yaml:"scheduler"`
	Security  SecurityConfig     `yaml:"security"`
	HTTP      HTTPConfig         `yaml:"http"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig reads flags, an optional .env file and the yaml config.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return Load(configPath, dev)
}

// Load parses the file at path. ${VAR} placeholders are expanded from the
// environment before parsing.
func Load(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(b, dev)
}

func Parse(b []byte, dev bool) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(b))), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func (cfg *Config) applyDefaults() {
	if cfg.Bot.Mode == "" {
		cfg.Bot.Mode = "polling"
	}
	if cfg.Bot.Workers <= 0 {
		cfg.Bot.Workers = 8
	}
	if cfg.Bot.Language == "" {
		cfg.Bot.Language = "en"
	}
	if cfg.Bot.CommandRateLimit <= 0 {
		cfg.Bot.CommandRateLimit = 20
	}
	if cfg.Bot.RateWindow <= 0 {
		cfg.Bot.RateWindow = time.Minute
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	cfg.Redis.TTL = normalizeTTL(cfg.Redis.TTL)

	if cfg.AI.DefaultProvider == "" {
		cfg.AI.DefaultProvider = "openai"
	}
	if cfg.AI.TranscribeModel == "" {
		cfg.AI.TranscribeModel = "whisper-1"
	}
	if cfg.AI.ConcurrentLimit <= 0 {
		cfg.AI.ConcurrentLimit = 16
	}
	if cfg.AI.RequestTimeout <= 0 {
		cfg.AI.RequestTimeout = 60 * time.Second
	}
	if cfg.AI.ClassifierTimeout <= 0 {
		cfg.AI.ClassifierTimeout = 10 * time.Second
	}
	if cfg.AI.HistoryLimit <= 0 {
		cfg.AI.HistoryLimit = 15
	}

	if cfg.Payment.Gateway.BaseURL == "" {
		cfg.Payment.Gateway.BaseURL = "https://api.yookassa.ru/v3"
	}
	if cfg.Payment.Gateway.Timeout <= 0 {
		cfg.Payment.Gateway.Timeout = 15 * time.Second
	}
	if cfg.Payment.RebindAmount <= 0 {
		cfg.Payment.RebindAmount = 100
	}
	if cfg.Payment.RebindCurrency == "" {
		cfg.Payment.RebindCurrency = "RUB"
	}

	if cfg.Usage.Timezone == "" {
		cfg.Usage.Timezone = "Europe/Moscow"
	}
	if cfg.Usage.LimitCacheTTL <= 0 {
		cfg.Usage.LimitCacheTTL = 5 * time.Minute
	}
	if len(cfg.Tiers) == 0 {
		cfg.Tiers = DefaultTiers()
	}

	if cfg.Scheduler.RenewalCron == "" {
		cfg.Scheduler.RenewalCron = "@every 1m"
	}
	if cfg.Scheduler.ReconcileCron == "" {
		cfg.Scheduler.ReconcileCron = "@every 5m"
	}
	if cfg.Scheduler.StaleAfter <= 0 {
		cfg.Scheduler.StaleAfter = 15 * time.Minute
	}
	if cfg.Scheduler.BatchSize <= 0 {
		cfg.Scheduler.BatchSize = 200
	}
	if cfg.Scheduler.RunTimeout <= 0 {
		cfg.Scheduler.RunTimeout = 50 * time.Second
	}

	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8080"
	}
	if cfg.HTTP.WebhookPath == "" {
		cfg.HTTP.WebhookPath = "/webhooks/yookassa"
	}
}

func (cfg *Config) validate() error {
	if cfg.Bot.Token == "" {
		return errors.New("bot.token is required")
	}
	if cfg.Database.URL == "" {
		return errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return errors.New("redis.url is required")
	}
	if cfg.Security.EncryptionKey == "" {
		return errors.New("security.encryption_key is required")
	}
	if _, err := time.LoadLocation(cfg.Usage.Timezone); err != nil {
		return fmt.Errorf("usage.timezone: %w", err)
	}
	for _, d := range cfg.Scheduler.RetryIntervals {
		if d <= 0 {
			return errors.New("scheduler.retry_intervals must be positive")
		}
	}
	return nil
}

// DefaultTiers are the gates used when the config names none.
func DefaultTiers() map[int]TierConfig {
	return map[int]TierConfig{
		0: {
			VoiceAllowed:       true,
			VoiceLimitSeconds:  15,
			ImageUploadAllowed: true,
			ImageUploadLimit:   3,
		},
		1: {
			VoiceAllowed:       true,
			VoiceLimitSeconds:  300,
			ImageUploadAllowed: true,
			FileUploadAllowed:  true,
			CustomRoles:        true,
			DocAnswers:         true,
			ImageGeneration:    true,
			ImageFileOutput:    true,
		},
	}
}

func normalizeTTL(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Hour
	}
	return d
}
