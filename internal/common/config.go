package common

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/joseph-ayodele/order-extractor/constants"
)

const envPrefix = "ORDEREX"

// Config holds all application configuration
type Config struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Server     ServerConfig     `mapstructure:"server"`
	LLM        LLMConfig        `mapstructure:"llm"`
	Extraction ExtractionConfig `mapstructure:"extraction"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Kafka      KafkaConfig      `mapstructure:"kafka"`
	Tenants    TenantsConfig    `mapstructure:"tenants"`
	Raster     RasterConfig     `mapstructure:"raster"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // postgres | sqlite
	DSN             string        `mapstructure:"dsn"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr    string `mapstructure:"http_addr"`
	MetricsAddr string `mapstructure:"metrics_addr"`
	// GRPCAddr serves the standard gRPC health service. Empty disables it.
	GRPCAddr string `mapstructure:"grpc_addr"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	BaseURL             string        `mapstructure:"base_url"`
	Model               string        `mapstructure:"model"`
	VisionModel         string        `mapstructure:"vision_model"`
	APIKey              string        `mapstructure:"api_key"`
	Temperature         float32       `mapstructure:"temperature"`
	Timeout             time.Duration `mapstructure:"timeout"`
	MaxOutputTokens     int           `mapstructure:"max_output_tokens"`
	VisionTokensPerCall int           `mapstructure:"vision_tokens_per_call"`
	RequestsPerMinute   int           `mapstructure:"requests_per_minute"`
	InputPricePer1KUSD  float64       `mapstructure:"input_price_per_1k_usd"`
	OutputPricePer1KUSD float64       `mapstructure:"output_price_per_1k_usd"`
	SourceCharLimit     int           `mapstructure:"source_char_limit"`
	FewShotExamples     int           `mapstructure:"few_shot_examples"`
}

// ExtractionConfig holds the deterministic thresholds of the decision chain.
type ExtractionConfig struct {
	MaxLines                int     `mapstructure:"max_lines"`
	MaxQuantity             float64 `mapstructure:"max_quantity"`
	VisionCoverageThreshold float64 `mapstructure:"vision_coverage_threshold"`
	EscalationConfidence    float64 `mapstructure:"escalation_confidence"`
	PDFMinCoverage          float64 `mapstructure:"pdf_min_coverage"`
}

type StorageConfig struct {
	RootDir string `mapstructure:"root_dir"`
}

// RedisConfig: an empty Addr selects the in-memory ledger and cache.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// KafkaConfig: no brokers disables the run event publisher.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type TenantsConfig struct {
	File string `mapstructure:"file"`
}

type RasterConfig struct {
	Binary string `mapstructure:"binary"`
	DPI    int    `mapstructure:"dpi"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // console | json
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "file:orderex.db?_pragma=busy_timeout(5000)")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.max_conn_lifetime", 30*time.Minute)
	v.SetDefault("database.max_conn_idle_time", 5*time.Minute)
	v.SetDefault("database.dial_timeout", 3*time.Second)

	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.grpc_addr", ":9091")

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.vision_model", "gpt-4o")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.timeout", 60*time.Second)
	v.SetDefault("llm.max_output_tokens", 4096)
	v.SetDefault("llm.vision_tokens_per_call", constants.DefaultVisionTokensPerBatch)
	v.SetDefault("llm.requests_per_minute", 60)
	v.SetDefault("llm.input_price_per_1k_usd", 0.00015)
	v.SetDefault("llm.output_price_per_1k_usd", 0.0006)
	v.SetDefault("llm.source_char_limit", 24000)
	v.SetDefault("llm.few_shot_examples", constants.DefaultFewShotExamples)

	v.SetDefault("extraction.max_lines", constants.DefaultMaxLines)
	v.SetDefault("extraction.max_quantity", constants.DefaultMaxQuantity)
	v.SetDefault("extraction.vision_coverage_threshold", constants.VisionCoverageThreshold)
	v.SetDefault("extraction.escalation_confidence", constants.EscalationConfidence)
	v.SetDefault("extraction.pdf_min_coverage", constants.TextPDFMinCoverage)

	v.SetDefault("storage.root_dir", "./data")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 7*24*time.Hour)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "orderex.extraction-runs")
	v.SetDefault("tenants.file", "")
	v.SetDefault("raster.binary", "pdftoppm")
	v.SetDefault("raster.dpi", 150)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

// NewViper returns a viper instance with defaults and env binding applied. Callers may bind flags
// onto it before passing it to LoadConfigFrom.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadConfig loads configuration from defaults, an optional YAML file and ORDEREX_* env vars.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigFrom(NewViper(), path)
}

// LoadConfigFrom reads path (when non-empty) into v and decodes the result.
func LoadConfigFrom(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if len(cfg.Kafka.Brokers) == 1 && strings.Contains(cfg.Kafka.Brokers[0], ",") {
		cfg.Kafka.Brokers = strings.Split(cfg.Kafka.Brokers[0], ",")
	}
	return &cfg, nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	v := NewValidator()
	v.Field("database.driver", c.Database.Driver, Required, OneOf("postgres", "sqlite"))
	v.Field("database.dsn", c.Database.DSN, Required)
	v.Field("server.http_addr", c.Server.HTTPAddr, Required)
	v.Field("llm.model", c.LLM.Model, Required)
	v.Field("logging.format", c.Logging.Format, OneOf("console", "json"))
	v.Field("llm.timeout", c.LLM.Timeout.Seconds(), Positive)
	v.Field("extraction.max_lines", c.Extraction.MaxLines, Positive)
	v.Field("extraction.max_quantity", c.Extraction.MaxQuantity, Positive)
	v.Field("extraction.escalation_confidence", c.Extraction.EscalationConfidence, Between(0, 1))
	v.Field("extraction.vision_coverage_threshold", c.Extraction.VisionCoverageThreshold, Between(0, 1))
	if err := v.Error(); err != nil {
		return NewAppError(CodeConfig, "invalid configuration", err)
	}
	return nil
}

// RequireLLM reports a config error when the provider cannot be reached for lack of a key.
func (c *Config) RequireLLM() error {
	if c.LLM.APIKey == "" {
		return NewAppError(CodeConfig, "llm.api_key (or OPENAI_API_KEY) is required", ErrInvalidInput)
	}
	return nil
}
