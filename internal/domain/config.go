package domain

import "time"

// Config holds the complete Avia configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines which backing services are used
	Tier Tier `yaml:"tier"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`

	// Claim handling
	Scoring ScoringConfig `yaml:"scoring"`
	Auth    AuthConfig    `yaml:"auth"`
	Upload  UploadConfig  `yaml:"upload"`
	Seed    SeedConfig    `yaml:"seed"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds
}

// ScoringConfig controls the risk scoring engine.
type ScoringConfig struct {
	// ModelDir holds metadata.json, scaler.json, label_encoders.json,
	// classifier.json and anomaly.json.
	ModelDir string `yaml:"modelDir"`

	// DisableAttribution forces the heuristic bucket attribution.
	DisableAttribution bool `yaml:"disableAttribution"`

	// CacheTTL is how long a score is reused for an identical claim record.
	CacheTTL time.Duration `yaml:"cacheTtl"`

	// PriorClaimsWindow bounds the prior-claims lookup for flag rules.
	PriorClaimsWindow time.Duration `yaml:"priorClaimsWindow"`

	// RuleWorkers bounds parallel flag rule evaluation.
	RuleWorkers int `yaml:"ruleWorkers"`
}

// AuthConfig holds login session settings.
type AuthConfig struct {
	SessionTTL       time.Duration `yaml:"sessionTtl"`
	MaxLoginFailures int           `yaml:"maxLoginFailures"`
	LoginWindow      time.Duration `yaml:"loginWindow"`
}

// UploadConfig holds document upload settings.
type UploadConfig struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"maxBytes"`
}

// SeedConfig controls demo data seeding.
type SeedConfig struct {
	Enabled bool   `yaml:"enabled"`
	CSVPath string `yaml:"csvPath"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"serviceName"`
	ExporterType string `yaml:"exporterType"` // otlp
	Endpoint     string `yaml:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity runs on SQLite + channels
	TierCommunity Tier = "community"

	// TierPro runs on PostgreSQL + NATS + Redis
	TierPro Tier = "pro"

	// TierEnterprise swaps NATS for Kafka
	TierEnterprise Tier = "enterprise"
)

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier: TierCommunity,
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./avia.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 10000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Scoring: ScoringConfig{
			ModelDir:          "./models",
			CacheTTL:          10 * time.Minute,
			PriorClaimsWindow: 365 * 24 * time.Hour,
			RuleWorkers:       10,
		},
		Auth: AuthConfig{
			SessionTTL:       8 * time.Hour,
			MaxLoginFailures: 10,
			LoginWindow:      15 * time.Minute,
		},
		Upload: UploadConfig{
			Dir:      "./uploads",
			MaxBytes: 20 << 20,
		},
		Seed: SeedConfig{
			Enabled: true,
			CSVPath: "./data/insurance_claims.csv",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:      false,
			ServiceName:  "avia",
			ExporterType: "otlp",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "avia",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
		LocalTTL:       time.Minute,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
	}
	cfg.Tracing.Enabled = true
	cfg.Tracing.Endpoint = "localhost:4317"
	return cfg
}

// EnterpriseConfig returns a Pro configuration with Kafka as the event bus.
func EnterpriseConfig() *Config {
	cfg := ProConfig()
	cfg.Tier = TierEnterprise
	cfg.EventBus = EventBusConfig{
		Type:          "kafka",
		KafkaBrokers:  []string{"localhost:9092"},
		ConsumerGroup: "avia-workers",
	}
	return cfg
}
