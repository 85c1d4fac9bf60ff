package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Backend kinds.
const (
	KindNative = "native"
	KindOllama = "ollama"
	KindOpenAI = "openai"
)

// Storage drivers.
const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// Config holds the client configuration.
type Config struct {
	Backend BackendConfig `mapstructure:"backend"`
	Catalog CatalogConfig `mapstructure:"catalog"`
	Storage StorageConfig `mapstructure:"storage"`
	Chat    ChatConfig    `mapstructure:"chat"`
	Prompts PromptsConfig `mapstructure:"prompts"`
	Log     LogConfig     `mapstructure:"log"`
}

// BackendConfig selects and addresses the model-serving backend.
type BackendConfig struct {
	Kind    string        `mapstructure:"kind"` // native, ollama, openai
	URL     string        `mapstructure:"url"`
	APIKey  string        `mapstructure:"api_key"` // openai only
	Timeout time.Duration `mapstructure:"timeout"`
}

// CatalogConfig configures the model catalog cache.
type CatalogConfig struct {
	CacheTTL   time.Duration `mapstructure:"cache_ttl"`
	LibraryURL string        `mapstructure:"library_url"` // ollama only
}

// StorageConfig configures persisted state.
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
	Path   string `mapstructure:"path"`
}

// ChatConfig holds request defaults for chat turns.
type ChatConfig struct {
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

// PromptsConfig locates the system prompt presets file.
type PromptsConfig struct {
	File string `mapstructure:"file"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"`
}

// DefaultURL returns the default base URL for a backend kind.
func DefaultURL(kind string) string {
	switch kind {
	case KindOllama:
		return "http://localhost:11434"
	case KindOpenAI:
		return "http://localhost:8080/v1"
	default:
		return "http://localhost:8080/api"
	}
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("backend.kind", KindNative)
	v.SetDefault("backend.url", "")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.timeout", 10*time.Minute)
	v.SetDefault("catalog.cache_ttl", 30*time.Minute)
	v.SetDefault("catalog.library_url", "https://ollama.com/library")
	v.SetDefault("storage.driver", DriverSQLite)
	v.SetDefault("storage.path", "")
	v.SetDefault("chat.temperature", 0.7)
	v.SetDefault("chat.max_tokens", 1000)
	v.SetDefault("prompts.file", filepath.Join(ConfigDir(), "prompts.yaml"))
	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", filepath.Join(LogDir(), "runmymodel.log"))
}

// Load reads configuration into a Config. file may be empty, in which case
// config.yaml is looked up in ConfigDir; a missing default file is not an error.
func Load(v *viper.Viper, file string) (*Config, error) {
	SetDefaults(v)
	v.SetEnvPrefix("RUNMYMODEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() error {
	c.Backend.Kind = strings.ToLower(strings.TrimSpace(c.Backend.Kind))
	switch c.Backend.Kind {
	case KindNative, KindOllama, KindOpenAI:
	default:
		return fmt.Errorf("unknown backend kind %q (want %s, %s or %s)", c.Backend.Kind, KindNative, KindOllama, KindOpenAI)
	}
	if c.Backend.URL == "" {
		c.Backend.URL = DefaultURL(c.Backend.Kind)
	}
	c.Backend.URL = strings.TrimSuffix(c.Backend.URL, "/")

	switch c.Storage.Driver {
	case DriverSQLite, DriverFile, DriverMemory:
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Storage.Path == "" && c.Storage.Driver != DriverMemory {
		c.Storage.Path = StatePath(c.Storage.Driver)
	}

	if c.Catalog.CacheTTL <= 0 {
		c.Catalog.CacheTTL = 30 * time.Minute
	}
	if c.Chat.MaxTokens <= 0 {
		c.Chat.MaxTokens = 1000
	}
	return nil
}
