package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default configuration file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML, with selected
// fields overridable through environment variables.
type FileConfig struct {
	Port           string   `yaml:"port"`
	LogLevel       string   `yaml:"logLevel"`
	DatabaseURL    string   `yaml:"databaseURL"`
	TrustedProxies []string `yaml:"trustedProxies"`

	Identity IdentityConfig `yaml:"identity"`
	LLM      LLMConfig      `yaml:"llm"`
	Redis    RedisConfig    `yaml:"redis"`
	Limits   LimitsConfig   `yaml:"rateLimits"`
	Archive  ArchiveConfig  `yaml:"archive"`
}

// IdentityConfig points at the external identity provider.
type IdentityConfig struct {
	BaseURL   string `yaml:"baseURL"`
	JWKSURL   string `yaml:"jwksURL"`
	Issuer    string `yaml:"issuer"`
	Audience  string `yaml:"audience"`
	JWTLeeway string `yaml:"jwtLeeway"`
}

// LLMConfig selects and configures the chat-completion provider.
type LLMConfig struct {
	Provider          string `yaml:"provider"` // "openai-compat" (default) or "gemini"
	BaseURL           string `yaml:"baseURL"`
	APIKey            string `yaml:"apiKey"`
	ChatModel         string `yaml:"chatModel"`
	DocumentModel     string `yaml:"documentModel"`
	MaxDocumentTokens int    `yaml:"maxDocumentTokens"`
}

// RedisConfig configures the rate-limiter backend. Empty addr disables
// rate limiting.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
}

// LimitsConfig holds per-user per-minute quotas for LLM-backed endpoints.
type LimitsConfig struct {
	ChatPerMinute     int `yaml:"chatPerMinute"`
	AuditPerMinute    int `yaml:"auditPerMinute"`
	GeneratePerMinute int `yaml:"generatePerMinute"`
}

// ArchiveConfig configures the optional document archive. Empty endpoint
// disables archiving.
type ArchiveConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"useSSL"`
}

// Load reads config from path (defaults to config.yaml) and applies
// environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("IDENTITY_BASE_URL"); v != "" {
		cfg.Identity.BaseURL = v
	}
	if v := os.Getenv("IDENTITY_JWKS_URL"); v != "" {
		cfg.Identity.JWKSURL = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := os.Getenv("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_CHAT_MODEL"); v != "" {
		cfg.LLM.ChatModel = v
	}
	if v := os.Getenv("LLM_DOCUMENT_MODEL"); v != "" {
		cfg.LLM.DocumentModel = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("ARCHIVE_ENDPOINT"); v != "" {
		cfg.Archive.Endpoint = v
	}
	if v := os.Getenv("ARCHIVE_ACCESS_KEY"); v != "" {
		cfg.Archive.AccessKey = v
	}
	if v := os.Getenv("ARCHIVE_SECRET_KEY"); v != "" {
		cfg.Archive.SecretKey = v
	}
	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		cfg.Archive.Bucket = v
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or PORT)")
	}
	if cfg.Identity.BaseURL == "" {
		return errors.New("config: identity.baseURL is required (set in config.yaml or IDENTITY_BASE_URL)")
	}
	switch strings.ToLower(strings.TrimSpace(cfg.LLM.Provider)) {
	case "", "openai-compat":
		if cfg.LLM.BaseURL == "" {
			return errors.New("config: llm.baseURL is required for the openai-compat provider")
		}
	case "gemini":
		if cfg.LLM.APIKey == "" {
			return errors.New("config: llm.apiKey is required for the gemini provider (or LLM_API_KEY)")
		}
	default:
		return fmt.Errorf("config: unknown llm.provider %q", cfg.LLM.Provider)
	}
	if cfg.LLM.ChatModel == "" {
		return errors.New("config: llm.chatModel is required (set in config.yaml or LLM_CHAT_MODEL)")
	}
	if cfg.Archive.Endpoint != "" && cfg.Archive.Bucket == "" {
		return errors.New("config: archive.bucket is required when archive.endpoint is set")
	}
	return nil
}

// ParseJWTLeeway parses the configured leeway duration, with a default.
func ParseJWTLeeway(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 30 * time.Second, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse jwtLeeway: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("jwtLeeway must not be negative")
	}
	return d, nil
}
