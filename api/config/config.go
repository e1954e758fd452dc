package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	constants "multisource-digest/api/constants"
)

// Config holds all runtime settings.
type Config struct {
	LLM       LLMConfig       `mapstructure:"llm"`
	Speech    SpeechConfig    `mapstructure:"speech"`
	Router    RouterConfig    `mapstructure:"router"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Output    OutputConfig    `mapstructure:"output"`
	Knowledge KnowledgeConfig `mapstructure:"knowledge"`
	Artifact  ArtifactConfig  `mapstructure:"artifact"`
	Server    ServerConfig    `mapstructure:"server"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Log       LogConfig       `mapstructure:"log"`
}

type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Temperature float64       `mapstructure:"temperature"`
	MaxTokens   int64         `mapstructure:"max_tokens"`
}

type SpeechConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	BaseURL    string        `mapstructure:"base_url"`
	ModelID    string        `mapstructure:"model_id"`
	SampleRate int           `mapstructure:"sample_rate"`
	VoiceA     string        `mapstructure:"voice_a"`
	VoiceB     string        `mapstructure:"voice_b"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

// RouterConfig selects how prompts are classified: "assisted" asks the
// inference unit, "local" uses the deterministic rules only.
type RouterConfig struct {
	Mode string `mapstructure:"mode"`
}

// CacheConfig selects the response cache backend: sqlite, postgres, redis
// or none.
type CacheConfig struct {
	Driver        string        `mapstructure:"driver"`
	DSN           string        `mapstructure:"dsn"`
	RedisURL      string        `mapstructure:"redis_url"`
	Retention     time.Duration `mapstructure:"retention"`
	CacheFailures bool          `mapstructure:"cache_failures"`
}

type OutputConfig struct {
	Dir string `mapstructure:"dir"`
}

type KnowledgeConfig struct {
	ChunkSize int `mapstructure:"chunk_size"`
	Overlap   int `mapstructure:"overlap"`
	TopK      int `mapstructure:"top_k"`
}

// ArtifactConfig enables upload of generated audio when Bucket is set.
type ArtifactConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Endpoint  string `mapstructure:"endpoint"`
	PublicURL string `mapstructure:"public_url"`
	Region    string `mapstructure:"region"`
	Prefix    string `mapstructure:"prefix"`
}

type ServerConfig struct {
	Addr      string `mapstructure:"addr"`
	UpdateKey string `mapstructure:"update_key"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.timeout", constants.LlmTimeout)
	v.SetDefault("llm.temperature", 0.6)
	v.SetDefault("llm.max_tokens", 2048)
	v.SetDefault("speech.api_key", "")
	v.SetDefault("speech.base_url", "https://api.elevenlabs.io")
	v.SetDefault("speech.model_id", "eleven_multilingual_v2")
	v.SetDefault("speech.sample_rate", constants.DefaultSampleRate)
	v.SetDefault("speech.voice_a", constants.VoiceA)
	v.SetDefault("speech.voice_b", constants.VoiceB)
	v.SetDefault("speech.timeout", constants.SpeechTimeout)
	v.SetDefault("router.mode", "assisted")
	v.SetDefault("cache.driver", "sqlite")
	v.SetDefault("cache.dsn", constants.CachePath)
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.retention", constants.CacheRetention)
	v.SetDefault("cache.cache_failures", false)
	v.SetDefault("output.dir", constants.OutputDir)
	v.SetDefault("knowledge.chunk_size", 1000)
	v.SetDefault("knowledge.overlap", 200)
	v.SetDefault("knowledge.top_k", 5)
	v.SetDefault("artifact.bucket", "")
	v.SetDefault("artifact.endpoint", "")
	v.SetDefault("artifact.public_url", "")
	v.SetDefault("artifact.region", "auto")
	v.SetDefault("artifact.prefix", "")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.update_key", "")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("log.level", "info")
}

// Load reads .env (if present), then the optional config file at path, then
// MULTISOURCE_* environment overrides. Well-known provider variables fill
// credentials that are still empty.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		constants.Logger.Warn("Failed to load .env file", "error", err)
	}

	v := viper.New()
	setDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}
	v.SetEnvPrefix("MULTISOURCE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.applyFallbacks()
	return &cfg, nil
}

func (c *Config) applyFallbacks() {
	fill := func(dst *string, env string) {
		if *dst == "" {
			*dst = os.Getenv(env)
		}
	}
	fill(&c.LLM.APIKey, "OPENAI_API_KEY")
	fill(&c.Speech.APIKey, "ELEVEN_LABS_API_KEY")
	fill(&c.Cache.RedisURL, "KV_URL")
	fill(&c.Server.UpdateKey, "UPDATE_KEY")
}

// Validate reports missing credentials and inconsistent settings.
func (c *Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		errs = append(errs, errors.New("llm.api_key (or OPENAI_API_KEY) is required"))
	}
	if strings.TrimSpace(c.Speech.APIKey) == "" {
		errs = append(errs, errors.New("speech.api_key (or ELEVEN_LABS_API_KEY) is required"))
	}
	switch c.Router.Mode {
	case "assisted", "local":
	default:
		errs = append(errs, fmt.Errorf("router.mode must be assisted or local, got %q", c.Router.Mode))
	}
	switch c.Cache.Driver {
	case "sqlite", "none":
	case "postgres":
		if c.Cache.DSN == "" || c.Cache.DSN == constants.CachePath {
			errs = append(errs, errors.New("cache.dsn must be a postgres connection string"))
		}
	case "redis":
		if c.Cache.RedisURL == "" {
			errs = append(errs, errors.New("cache.redis_url (or KV_URL) is required for the redis driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("cache.driver %q is not supported", c.Cache.Driver))
	}
	if c.Cache.Retention <= 0 {
		errs = append(errs, errors.New("cache.retention must be positive"))
	}
	if c.Knowledge.Overlap >= c.Knowledge.ChunkSize {
		errs = append(errs, errors.New("knowledge.overlap must be smaller than knowledge.chunk_size"))
	}
	if c.Speech.SampleRate <= 0 {
		errs = append(errs, errors.New("speech.sample_rate must be positive"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}
