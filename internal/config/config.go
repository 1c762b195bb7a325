// Package config loads the daemon and CLI configuration.
// Values come from defaults, an optional YAML file and environment variables
// (a local .env file is loaded first); environment wins over the file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultKeywords відправляють питання адміністратору.
var DefaultKeywords = []string{
	"создай", "сделай", "напиши код", "разверни", "установи", "deploy",
	"настрой", "исправь", "удали", "измени конфиг", "vm", "сервер",
	"mcp", "архитектур", "план", "стратег", "claude", "антропик",
	"добавь сервис", "systemd", "nginx", "база данных", "баг",
}

type Config struct {
	Telegram  TelegramConfig  `mapstructure:"telegram"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Responder ResponderConfig `mapstructure:"responder"`
	Delivery  DeliveryConfig  `mapstructure:"delivery"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Secrets   SecretsConfig   `mapstructure:"secrets"`
	API       APIConfig       `mapstructure:"api"`
	Log       LogConfig       `mapstructure:"log"`
	Triage    TriageConfig    `mapstructure:"triage"`
}

type TelegramConfig struct {
	BotToken    string `mapstructure:"bot_token"`
	TokenSecret string `mapstructure:"token_secret"` // ім'я секрету, якщо токена немає в env
	ChatID      int64  `mapstructure:"chat_id"`
	Language    string `mapstructure:"language"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"` // postgres / mysql / sqlite
	DSN    string `mapstructure:"dsn"`
}

// RedisConfig is optional: an empty Addr disables Redis.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type ResponderConfig struct {
	Backend      string        `mapstructure:"backend"` // openai / ark / none
	BaseURL      string        `mapstructure:"base_url"`
	Model        string        `mapstructure:"model"`
	APIKeySecret string        `mapstructure:"api_key_secret"`
	Timeout      time.Duration `mapstructure:"timeout"`
	SystemPrompt string        `mapstructure:"system_prompt"`
	Temperature  float64       `mapstructure:"temperature"`
	MaxTokens    int           `mapstructure:"max_tokens"`
}

type DeliveryConfig struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	Sweep       string        `mapstructure:"sweep"` // cron spec
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type DispatchConfig struct {
	Workers int `mapstructure:"workers"`
	Queue   int `mapstructure:"queue"`
}

type KnowledgeConfig struct {
	FactsPath   string `mapstructure:"facts_path"`
	ContextPath string `mapstructure:"context_path"`
	Author      string `mapstructure:"author"`
}

type SecretsConfig struct {
	Dir          string `mapstructure:"dir"`
	IdentityFile string `mapstructure:"identity_file"`
	Passphrase   string `mapstructure:"passphrase"`
}

type APIConfig struct {
	Addr      string        `mapstructure:"addr"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	TokenTTL  time.Duration `mapstructure:"token_ttl"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text / json
	Dir    string `mapstructure:"dir"`
}

type TriageConfig struct {
	Keywords []string `mapstructure:"keywords"`
}

// Loader keeps the viper instance so the file can be watched after Load.
type Loader struct {
	v    *viper.Viper
	file string

	mu sync.Mutex
}

// NewLoader creates a loader for configFile. An empty path means
// config.yaml in the working directory, if it exists.
func NewLoader(configFile string) *Loader {
	v := viper.New()
	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	bindEnvVariables(v)
	setDefaults(v)
	return &Loader{v: v, file: configFile}
}

// Load reads .env, the config file and the environment.
func Load(configFile string) (*Config, *Loader, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, nil, fmt.Errorf("failed to load .env: %w", err)
	}
	if configFile == "" {
		configFile = os.Getenv("CONFIG_PATH")
	}

	l := NewLoader(configFile)
	cfg, err := l.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, l, nil
}

func (l *Loader) Load() (*Config, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		// явно вказаний файл мусить існувати
		if !errors.As(err, &notFound) || l.file != "" {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}
	return l.decode()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Triage.Keywords = splitKeywords(cfg.Triage.Keywords)
	return &cfg, nil
}

// Watch calls onChange with the re-read configuration each time the config
// file changes. Without a config file it does nothing.
func (l *Loader) Watch(onChange func(*Config, error)) {
	if l.v.ConfigFileUsed() == "" {
		return
	}
	l.v.OnConfigChange(func(fsnotify.Event) {
		l.mu.Lock()
		cfg, err := l.decode()
		l.mu.Unlock()
		onChange(cfg, err)
	})
	l.v.WatchConfig()
}

// File returns the config file in use, or "".
func (l *Loader) File() string {
	if f := l.v.ConfigFileUsed(); f != "" {
		return filepath.Clean(f)
	}
	return ""
}

// ValidateDaemon checks what the bot process needs beyond the CLI.
func (c *Config) ValidateDaemon() error {
	var errs []error
	if c.Telegram.ChatID == 0 {
		errs = append(errs, errors.New("TELEGRAM_CHAT_ID is required"))
	}
	if c.Telegram.BotToken == "" && c.Telegram.TokenSecret == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN or TELEGRAM_TOKEN_SECRET is required"))
	}
	if c.Dispatch.Workers <= 0 {
		errs = append(errs, errors.New("DISPATCH_WORKERS must be positive"))
	}
	if c.Responder.Timeout <= 0 {
		errs = append(errs, errors.New("RESPONDER_TIMEOUT must be positive"))
	}
	return errors.Join(errs...)
}

// splitKeywords accepts both a YAML list and a comma separated env value.
// List items without a comma are kept as written, surrounding spaces included.
func splitKeywords(in []string) []string {
	var out []string
	for _, k := range in {
		if !strings.Contains(k, ",") {
			if strings.TrimSpace(k) != "" {
				out = append(out, k)
			}
			continue
		}
		for _, part := range strings.Split(k, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func bindEnvVariables(v *viper.Viper) {
	bind := func(key, env string) {
		_ = v.BindEnv(key, env)
	}

	bind("telegram.bot_token", "TELEGRAM_BOT_TOKEN")
	bind("telegram.token_secret", "TELEGRAM_TOKEN_SECRET")
	bind("telegram.chat_id", "TELEGRAM_CHAT_ID")
	bind("telegram.language", "BOT_LANGUAGE")

	bind("database.driver", "DB_DRIVER")
	bind("database.dsn", "DB_DSN")

	bind("redis.addr", "REDIS_ADDR")
	bind("redis.password", "REDIS_PASSWORD")
	bind("redis.db", "REDIS_DB")

	bind("responder.backend", "RESPONDER_BACKEND")
	bind("responder.base_url", "RESPONDER_BASE_URL")
	bind("responder.model", "RESPONDER_MODEL")
	bind("responder.api_key_secret", "RESPONDER_API_KEY_SECRET")
	bind("responder.timeout", "RESPONDER_TIMEOUT")
	bind("responder.system_prompt", "RESPONDER_SYSTEM_PROMPT")

	bind("delivery.timeout", "DELIVERY_TIMEOUT")
	bind("delivery.sweep", "DELIVERY_SWEEP")
	bind("delivery.max_attempts", "DELIVERY_MAX_ATTEMPTS")

	bind("dispatch.workers", "DISPATCH_WORKERS")
	bind("dispatch.queue", "DISPATCH_QUEUE")

	bind("knowledge.facts_path", "KNOWLEDGE_FACTS_PATH")
	bind("knowledge.context_path", "KNOWLEDGE_CONTEXT_PATH")

	bind("secrets.dir", "SECRETS_DIR")
	bind("secrets.identity_file", "SECRETS_IDENTITY_FILE")
	bind("secrets.passphrase", "SECRETS_PASSPHRASE")

	bind("api.addr", "API_ADDR")
	bind("api.jwt_secret", "API_JWT_SECRET")

	bind("log.level", "LOG_LEVEL")
	bind("log.format", "LOG_FORMAT")
	bind("log.dir", "LOG_DIR")

	bind("triage.keywords", "TRIAGE_KEYWORDS")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("telegram.language", "ru")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "mailbox.db")

	v.SetDefault("responder.backend", "openai")
	v.SetDefault("responder.api_key_secret", "gemini_api_key")
	v.SetDefault("responder.timeout", "60s")
	v.SetDefault("responder.temperature", 0.7)
	v.SetDefault("responder.max_tokens", 4000)

	v.SetDefault("delivery.timeout", "30s")
	v.SetDefault("delivery.sweep", "@every 1m")
	v.SetDefault("delivery.max_attempts", 5)

	v.SetDefault("dispatch.workers", 4)
	v.SetDefault("dispatch.queue", 64)

	v.SetDefault("knowledge.facts_path", "data/facts.json")
	v.SetDefault("knowledge.context_path", "data/context.md")
	v.SetDefault("knowledge.author", "operator")

	v.SetDefault("api.addr", ":8080")
	v.SetDefault("api.token_ttl", "720h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("triage.keywords", DefaultKeywords)
}
