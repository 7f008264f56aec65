package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/deep-research/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai" mapstructure:"openai"`
	Gemini    GeminiConfig    `yaml:"gemini" mapstructure:"gemini"`
	Search    SearchConfig    `yaml:"search" mapstructure:"search"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Embedding EmbeddingConfig `yaml:"embedding" mapstructure:"embedding"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Pricing   cost.Rates      `yaml:"pricing" mapstructure:"pricing"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AnthropicConfig holds Anthropic API settings. The haiku model decomposes
// queries; the sonnet model runs analysis, fact-check extraction, reports
// and web search.
type AnthropicConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	HaikuModel    string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel   string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
	SearchMaxUses int64  `yaml:"search_max_uses" mapstructure:"search_max_uses"`
}

// OpenAIConfig holds OpenAI API settings.
type OpenAIConfig struct {
	Key            string `yaml:"key" mapstructure:"key"`
	BaseURL        string `yaml:"base_url" mapstructure:"base_url"`
	Model          string `yaml:"model" mapstructure:"model"`
	EmbeddingModel string `yaml:"embedding_model" mapstructure:"embedding_model"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// SearchConfig configures provider fan-out and its resilience policy.
type SearchConfig struct {
	Providers           []string `yaml:"providers" mapstructure:"providers"`
	ProviderTimeoutSecs int      `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs"`
	MaxRetries          int      `yaml:"max_retries" mapstructure:"max_retries"`
	BaseDelayMs         int      `yaml:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs          int      `yaml:"max_delay_ms" mapstructure:"max_delay_ms"`
	AttemptTimeoutSecs  int      `yaml:"attempt_timeout_secs" mapstructure:"attempt_timeout_secs"`
	RequestsPerSecond   float64  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Burst               int      `yaml:"burst" mapstructure:"burst"`
	CircuitThreshold    int      `yaml:"circuit_threshold" mapstructure:"circuit_threshold"`
	CircuitResetSecs    int      `yaml:"circuit_reset_secs" mapstructure:"circuit_reset_secs"`
	MinScore            float64  `yaml:"min_score" mapstructure:"min_score"`
	BatchConcurrency    int      `yaml:"batch_concurrency" mapstructure:"batch_concurrency"`
}

// PipelineConfig configures the analysis pipeline.
type PipelineConfig struct {
	MaxActivePerUser      int `yaml:"max_active_per_user" mapstructure:"max_active_per_user"`
	FactCheckConcurrency  int `yaml:"fact_check_concurrency" mapstructure:"fact_check_concurrency"`
	MaxClaims             int `yaml:"max_claims" mapstructure:"max_claims"`
	GenerationTimeoutSecs int `yaml:"generation_timeout_secs" mapstructure:"generation_timeout_secs"`
}

// EmbeddingConfig configures semantic search over report embeddings.
type EmbeddingConfig struct {
	SimilarityThreshold float64 `yaml:"similarity_threshold" mapstructure:"similarity_threshold"`
	MaxMatches          int     `yaml:"max_matches" mapstructure:"max_matches"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port              int      `yaml:"port" mapstructure:"port"`
	CORSOrigins       []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	HeartbeatSecs     int      `yaml:"heartbeat_secs" mapstructure:"heartbeat_secs"`
	StreamMaxMinutes  int      `yaml:"stream_max_minutes" mapstructure:"stream_max_minutes"`
	SubscriberBuffer  int      `yaml:"subscriber_buffer" mapstructure:"subscriber_buffer"`
	StreamIdleMinutes int      `yaml:"stream_idle_minutes" mapstructure:"stream_idle_minutes"`
}

// RedisConfig enables cross-replica event relay when URL is set.
type RedisConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("RESEARCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.Pricing = withDefaultRates(cfg.Pricing)

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Empty defaults register keys so AutomaticEnv can bind them.
	for _, k := range []string{"store.database_url", "anthropic.key", "openai.key", "gemini.key", "redis.url"} {
		v.SetDefault(k, "")
	}
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.heartbeat_secs", 15)
	v.SetDefault("server.stream_max_minutes", 30)
	v.SetDefault("server.subscriber_buffer", 64)
	v.SetDefault("server.stream_idle_minutes", 60)
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-6")
	v.SetDefault("anthropic.search_max_uses", 5)
	v.SetDefault("openai.base_url", "https://api.openai.com/v1")
	v.SetDefault("openai.model", "gpt-4.1")
	v.SetDefault("openai.embedding_model", "text-embedding-3-small")
	v.SetDefault("gemini.base_url", "https://generativelanguage.googleapis.com/v1beta")
	v.SetDefault("gemini.model", "gemini-2.5-flash")
	v.SetDefault("search.providers", []string{"openai", "anthropic", "gemini"})
	v.SetDefault("search.provider_timeout_secs", 90)
	v.SetDefault("search.max_retries", 2)
	v.SetDefault("search.base_delay_ms", 1000)
	v.SetDefault("search.max_delay_ms", 10000)
	v.SetDefault("search.attempt_timeout_secs", 60)
	v.SetDefault("search.requests_per_second", 2)
	v.SetDefault("search.burst", 3)
	v.SetDefault("search.circuit_threshold", 5)
	v.SetDefault("search.circuit_reset_secs", 30)
	v.SetDefault("search.min_score", 0.2)
	v.SetDefault("search.batch_concurrency", 2)
	v.SetDefault("pipeline.max_active_per_user", 3)
	v.SetDefault("pipeline.fact_check_concurrency", 3)
	v.SetDefault("pipeline.max_claims", 5)
	v.SetDefault("pipeline.generation_timeout_secs", 120)
	v.SetDefault("embedding.similarity_threshold", 0.7)
	v.SetDefault("embedding.max_matches", 10)

}

// withDefaultRates fills pricing entries missing from the config file with
// the built-in rates. Model IDs can contain dots, which viper treats as key
// delimiters.
func withDefaultRates(r cost.Rates) cost.Rates {
	def := cost.DefaultRates()
	r.Anthropic = mergeModelRates(def.Anthropic, r.Anthropic)
	r.OpenAI = mergeModelRates(def.OpenAI, r.OpenAI)
	r.Gemini = mergeModelRates(def.Gemini, r.Gemini)
	if r.WebSearch == (cost.WebSearchRate{}) {
		r.WebSearch = def.WebSearch
	}
	return r
}

func mergeModelRates(def, override map[string]cost.ModelRate) map[string]cost.ModelRate {
	out := make(map[string]cost.ModelRate, len(def)+len(override))
	for k, v := range def {
		out[k] = v
	}
	for k, v := range override {
		out[k] = v
	}
	return out
}

// Validate checks the configuration needed by the serve and run commands.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres")
		}
	case "sqlite":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required (sqlite file path)")
		}
	default:
		errs = append(errs, "store.driver must be postgres or sqlite, got "+c.Store.Driver)
	}

	if c.Anthropic.Key == "" {
		errs = append(errs, "anthropic.key is required")
	}
	if len(c.Search.Providers) == 0 {
		errs = append(errs, "search.providers must name at least one provider")
	}
	for _, p := range c.Search.Providers {
		switch p {
		case "anthropic":
		case "openai":
			if c.OpenAI.Key == "" {
				errs = append(errs, "openai.key is required when openai search is enabled")
			}
		case "gemini":
			if c.Gemini.Key == "" {
				errs = append(errs, "gemini.key is required when gemini search is enabled")
			}
		default:
			errs = append(errs, "search.providers: unknown provider "+p)
		}
	}

	if c.Pipeline.MaxActivePerUser < 1 {
		errs = append(errs, "pipeline.max_active_per_user must be >= 1")
	}
	if c.Pipeline.FactCheckConcurrency < 1 {
		errs = append(errs, "pipeline.fact_check_concurrency must be >= 1")
	}
	if c.Pipeline.MaxClaims < 1 {
		errs = append(errs, "pipeline.max_claims must be >= 1")
	}
	if c.Embedding.SimilarityThreshold < 0 || c.Embedding.SimilarityThreshold > 1 {
		errs = append(errs, "embedding.similarity_threshold must be within [0, 1]")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
