package config

import (
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/hazard-risk/internal/aggregate"
	"github.com/sells-group/hazard-risk/internal/cache"
	"github.com/sells-group/hazard-risk/internal/model"
	"github.com/sells-group/hazard-risk/internal/source"
)

// Config holds the full application configuration.
type Config struct {
	Sources      map[string]SourceConfig `yaml:"sources" mapstructure:"sources"`
	Geocode      GeocodeConfig           `yaml:"geocode" mapstructure:"geocode"`
	Cache        CacheConfig             `yaml:"cache" mapstructure:"cache"`
	Transport    TransportConfig         `yaml:"transport" mapstructure:"transport"`
	Orchestrator OrchestratorConfig      `yaml:"orchestrator" mapstructure:"orchestrator"`
	Aggregate    AggregateConfig         `yaml:"aggregate" mapstructure:"aggregate"`
	Monitoring   MonitoringConfig        `yaml:"monitoring" mapstructure:"monitoring"`
	Kafka        KafkaConfig             `yaml:"kafka" mapstructure:"kafka"`
	Server       ServerConfig            `yaml:"server" mapstructure:"server"`
	Log          LogConfig               `yaml:"log" mapstructure:"log"`
	Telemetry    TelemetryConfig         `yaml:"telemetry" mapstructure:"telemetry"`
}

// SourceConfig overrides one provider's built-in descriptor.
type SourceConfig struct {
	Enabled      bool                  `yaml:"enabled" mapstructure:"enabled"`
	BaseURL      string                `yaml:"base_url" mapstructure:"base_url"`
	APIKey       string                `yaml:"api_key" mapstructure:"api_key"`
	Weight       float64               `yaml:"weight" mapstructure:"weight"`
	Confidence   float64               `yaml:"confidence" mapstructure:"confidence"`
	PricePerCall float64               `yaml:"price_per_call" mapstructure:"price_per_call"`
	RateLimit    model.RateLimitPolicy `yaml:"rate_limit" mapstructure:"rate_limit"`
	Breaker      model.BreakerPolicy   `yaml:"breaker" mapstructure:"breaker"`
}

// GeocodeConfig configures the Census and Google geocoders.
type GeocodeConfig struct {
	CensusURL       string                `yaml:"census_url" mapstructure:"census_url"`
	CensusRateLimit model.RateLimitPolicy `yaml:"census_rate_limit" mapstructure:"census_rate_limit"`
	GoogleURL       string                `yaml:"google_url" mapstructure:"google_url"`
	GoogleAPIKey    string                `yaml:"google_api_key" mapstructure:"google_api_key"`
	GoogleRateLimit model.RateLimitPolicy `yaml:"google_rate_limit" mapstructure:"google_rate_limit"`
	GooglePrice     float64               `yaml:"google_price_per_call" mapstructure:"google_price_per_call"`
	Reverse         bool                  `yaml:"reverse" mapstructure:"reverse"`
}

// CacheConfig selects the cache backend.
type CacheConfig struct {
	// Backend is one of memory, sqlite, postgres.
	Backend       string        `yaml:"backend" mapstructure:"backend"`
	DSN           string        `yaml:"dsn" mapstructure:"dsn"`
	SweepInterval time.Duration `yaml:"sweep_interval" mapstructure:"sweep_interval"`
	TTL           cache.TTLs    `yaml:"ttl" mapstructure:"ttl"`
}

// TransportConfig configures outbound HTTP.
type TransportConfig struct {
	Timeout        time.Duration `yaml:"timeout" mapstructure:"timeout"`
	UserAgent      string        `yaml:"user_agent" mapstructure:"user_agent"`
	MaxAttempts    int           `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff" mapstructure:"max_backoff"`
	Multiplier     float64       `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction float64       `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
}

// OrchestratorConfig bounds assessments.
type OrchestratorConfig struct {
	AssessmentTimeout time.Duration `yaml:"assessment_timeout" mapstructure:"assessment_timeout"`
	CallTimeout       time.Duration `yaml:"call_timeout" mapstructure:"call_timeout"`
}

// AggregateConfig tunes score aggregation.
type AggregateConfig struct {
	Decay aggregate.DecayConfig `yaml:"decay" mapstructure:"decay"`
}

// MonitoringConfig configures background health probes and alerting.
type MonitoringConfig struct {
	Enabled          bool          `yaml:"enabled" mapstructure:"enabled"`
	Interval         time.Duration `yaml:"interval" mapstructure:"interval"`
	ProbeTimeout     time.Duration `yaml:"probe_timeout" mapstructure:"probe_timeout"`
	FailureThreshold int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	UptimeWindow     int           `yaml:"uptime_window" mapstructure:"uptime_window"`
	WebhookURL       string        `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// KafkaConfig configures the health event publisher. Empty brokers disable it.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled     bool    `yaml:"enabled" mapstructure:"enabled"`
	Endpoint    string  `yaml:"endpoint" mapstructure:"endpoint"`
	ServiceName string  `yaml:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio" mapstructure:"sample_ratio"`
}

// Load reads configuration from file and environment. An empty path looks
// for config.yaml in the working directory; a missing file is not an error.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("HAZARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	for name, d := range source.Defaults() {
		p := "sources." + name + "."
		v.SetDefault(p+"enabled", true)
		v.SetDefault(p+"base_url", d.BaseURL)
		v.SetDefault(p+"api_key", "")
		v.SetDefault(p+"weight", d.Weight)
		v.SetDefault(p+"confidence", d.Confidence)
		v.SetDefault(p+"price_per_call", d.PricePerCall)
		v.SetDefault(p+"rate_limit.max_tokens", d.RateLimit.MaxTokens)
		v.SetDefault(p+"rate_limit.refill_per_sec", d.RateLimit.RefillPerSec)
		v.SetDefault(p+"rate_limit.metered", d.RateLimit.Metered)
		v.SetDefault(p+"rate_limit.adaptive", d.RateLimit.Adaptive)
		v.SetDefault(p+"breaker.failure_threshold", d.Breaker.FailureThreshold)
		v.SetDefault(p+"breaker.window", d.Breaker.Window)
		v.SetDefault(p+"breaker.cooldown", d.Breaker.Cooldown)
	}

	v.SetDefault("geocode.census_url", "https://geocoding.geo.census.gov")
	v.SetDefault("geocode.census_rate_limit.max_tokens", 10)
	v.SetDefault("geocode.census_rate_limit.refill_per_sec", 10)
	v.SetDefault("geocode.census_rate_limit.adaptive", true)
	v.SetDefault("geocode.google_url", "https://maps.googleapis.com/maps/api/geocode")
	v.SetDefault("geocode.google_api_key", "")
	v.SetDefault("geocode.google_rate_limit.max_tokens", 10)
	v.SetDefault("geocode.google_rate_limit.refill_per_sec", 10)
	v.SetDefault("geocode.google_rate_limit.metered", true)
	v.SetDefault("geocode.google_price_per_call", 0.005)
	v.SetDefault("geocode.reverse", true)

	v.SetDefault("cache.backend", "memory")
	v.SetDefault("cache.dsn", "")
	v.SetDefault("cache.sweep_interval", 5*time.Minute)
	ttl := cache.DefaultTTLs()
	v.SetDefault("cache.ttl.geocode", ttl.Geocode)
	v.SetDefault("cache.ttl.hazard", ttl.Hazard)
	v.SetDefault("cache.ttl.boundary", ttl.Boundary)

	v.SetDefault("transport.timeout", 10*time.Second)
	v.SetDefault("transport.user_agent", "hazard-risk/1.0")
	v.SetDefault("transport.max_attempts", 3)
	v.SetDefault("transport.initial_backoff", 250*time.Millisecond)
	v.SetDefault("transport.max_backoff", 10*time.Second)
	v.SetDefault("transport.multiplier", 2.0)
	v.SetDefault("transport.jitter_fraction", 0.2)

	v.SetDefault("orchestrator.assessment_timeout", 30*time.Second)
	v.SetDefault("orchestrator.call_timeout", 20*time.Second)

	v.SetDefault("aggregate.decay.half_life", 5*365*24*time.Hour)
	v.SetDefault("aggregate.decay.floor", 0.3)

	v.SetDefault("monitoring.enabled", true)
	v.SetDefault("monitoring.interval", time.Minute)
	v.SetDefault("monitoring.probe_timeout", 5*time.Second)
	v.SetDefault("monitoring.failure_threshold", 3)
	v.SetDefault("monitoring.uptime_window", 100)
	v.SetDefault("monitoring.webhook_url", "")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "hazard-risk.health")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.endpoint", "localhost:4318")
	v.SetDefault("telemetry.service_name", "hazard-risk")
	v.SetDefault("telemetry.sample_ratio", 1.0)
}

// Validate checks the fields required by mode: assess, health, or serve.
// All problems are reported together.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "assess", "health":
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Monitoring.Enabled && c.Monitoring.Interval <= 0 {
			errs = append(errs, "monitoring.interval must be > 0")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Cache.Backend {
	case "memory":
	case "sqlite", "postgres":
		if c.Cache.DSN == "" {
			errs = append(errs, "cache.dsn is required for the "+c.Cache.Backend+" backend")
		}
	default:
		errs = append(errs, "cache.backend must be one of memory, sqlite, postgres")
	}

	enabled := 0
	for _, name := range sortedKeys(c.Sources) {
		s := c.Sources[name]
		if !s.Enabled {
			continue
		}
		enabled++
		if s.Weight < 0 || s.Weight > 1 {
			errs = append(errs, "sources."+name+".weight must be between 0 and 1")
		}
		if s.Confidence < 0 || s.Confidence > 1 {
			errs = append(errs, "sources."+name+".confidence must be between 0 and 1")
		}
	}
	if enabled == 0 {
		errs = append(errs, "at least one source must be enabled")
	}

	if c.Orchestrator.AssessmentTimeout <= 0 {
		errs = append(errs, "orchestrator.assessment_timeout must be > 0")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Descriptors merges the enabled sources over the built-in defaults. Sources
// without a built-in client are skipped.
func (c *Config) Descriptors() []model.SourceDescriptor {
	defaults := source.Defaults()
	out := make([]model.SourceDescriptor, 0, len(c.Sources))
	for _, name := range sortedKeys(c.Sources) {
		s := c.Sources[name]
		d, ok := defaults[name]
		if !ok || !s.Enabled {
			continue
		}
		if s.BaseURL != "" {
			d.BaseURL = s.BaseURL
		}
		d.Weight = s.Weight
		d.Confidence = s.Confidence
		d.PricePerCall = s.PricePerCall
		d.RateLimit = s.RateLimit
		d.Breaker = s.Breaker
		out = append(out, d)
	}
	return out
}

// APIKeys returns the configured provider credentials keyed by source name.
func (c *Config) APIKeys() map[string]string {
	keys := make(map[string]string, len(c.Sources))
	for name, s := range c.Sources {
		if s.APIKey != "" {
			keys[name] = s.APIKey
		}
	}
	return keys
}

// InitLogger initializes the global zap logger. The returned level can be
// changed at runtime.
func InitLogger(cfg LogConfig) (zap.AtomicLevel, error) {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return zap.AtomicLevel{}, eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return zap.AtomicLevel{}, eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return zapCfg.Level, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
