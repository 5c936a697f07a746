// Package config loads Avia configuration from defaults, an optional YAML
// file and AVIA_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/avia/internal/domain"
)

// Options control where configuration is read from.
type Options struct {
	// Path is an optional YAML file.
	Path string

	// EnvFiles are dotenv files loaded before reading the environment.
	// Missing files are ignored. Defaults to ".env".
	EnvFiles []string

	// Getenv reads environment variables. Defaults to os.Getenv.
	Getenv func(string) string
}

// Load builds the configuration. Later sources win: tier defaults, then the
// YAML file, then environment variables.
func Load(opts Options) (*domain.Config, error) {
	envFiles := opts.EnvFiles
	if envFiles == nil {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", f, err)
		}
	}

	getenv := opts.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	cfg, err := ForTier(domain.Tier(getenv("AVIA_TIER")))
	if err != nil {
		return nil, err
	}

	if opts.Path != "" {
		if err := loadFile(opts.Path, cfg); err != nil {
			return nil, err
		}
	}

	if err := applyEnv(cfg, getenv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ForTier returns the defaults for a tier. An empty tier is community.
func ForTier(tier domain.Tier) (*domain.Config, error) {
	switch tier {
	case "", domain.TierCommunity:
		return domain.DefaultConfig(), nil
	case domain.TierPro:
		return domain.ProConfig(), nil
	case domain.TierEnterprise:
		return domain.EnterpriseConfig(), nil
	default:
		return nil, fmt.Errorf("unknown tier: %s", tier)
	}
}

func loadFile(path string, cfg *domain.Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// envReader collects parse errors while applying overrides.
type envReader struct {
	getenv func(string) string
	errs   []error
}

func (r *envReader) str(key string, dst *string) {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		*dst = v
	}
}

func (r *envReader) int(key string, dst *int) {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (r *envReader) int64(key string, dst *int64) {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	}
}

func (r *envReader) bool(key string, dst *bool) {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	}
}

func (r *envReader) duration(key string, dst *time.Duration) {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	}
}

func (r *envReader) list(key string, dst *[]string) {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		var out []string
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
		*dst = out
	}
}

func applyEnv(cfg *domain.Config, getenv func(string) string) error {
	r := &envReader{getenv: getenv}

	r.str("AVIA_HOST", &cfg.Server.Host)
	r.int("AVIA_PORT", &cfg.Server.Port)

	r.str("AVIA_DB_DRIVER", &cfg.Repository.Driver)
	r.str("AVIA_SQLITE_PATH", &cfg.Repository.SQLitePath)
	r.str("AVIA_POSTGRES_HOST", &cfg.Repository.PostgresHost)
	r.int("AVIA_POSTGRES_PORT", &cfg.Repository.PostgresPort)
	r.str("AVIA_POSTGRES_USER", &cfg.Repository.PostgresUser)
	r.str("AVIA_POSTGRES_PASSWORD", &cfg.Repository.PostgresPassword)
	r.str("AVIA_POSTGRES_DB", &cfg.Repository.PostgresDB)
	r.str("AVIA_POSTGRES_SSLMODE", &cfg.Repository.PostgresSSLMode)

	r.str("AVIA_CACHE_TYPE", &cfg.Cache.Type)
	r.str("AVIA_REDIS_ADDR", &cfg.Cache.RedisAddr)
	r.str("AVIA_REDIS_PASSWORD", &cfg.Cache.RedisPassword)
	r.int("AVIA_REDIS_DB", &cfg.Cache.RedisDB)

	r.str("AVIA_BUS_TYPE", &cfg.EventBus.Type)
	r.str("AVIA_NATS_URL", &cfg.EventBus.NATSUrl)
	r.str("AVIA_NATS_TOKEN", &cfg.EventBus.NATSToken)
	r.list("AVIA_KAFKA_BROKERS", &cfg.EventBus.KafkaBrokers)
	r.str("AVIA_CONSUMER_GROUP", &cfg.EventBus.ConsumerGroup)

	r.str("AVIA_MODEL_DIR", &cfg.Scoring.ModelDir)
	r.bool("AVIA_DISABLE_ATTRIBUTION", &cfg.Scoring.DisableAttribution)
	r.duration("AVIA_SCORE_CACHE_TTL", &cfg.Scoring.CacheTTL)
	r.duration("AVIA_PRIOR_CLAIMS_WINDOW", &cfg.Scoring.PriorClaimsWindow)
	r.int("AVIA_RULE_WORKERS", &cfg.Scoring.RuleWorkers)

	r.duration("AVIA_SESSION_TTL", &cfg.Auth.SessionTTL)
	r.int("AVIA_MAX_LOGIN_FAILURES", &cfg.Auth.MaxLoginFailures)
	r.duration("AVIA_LOGIN_WINDOW", &cfg.Auth.LoginWindow)

	r.str("AVIA_UPLOAD_DIR", &cfg.Upload.Dir)
	r.int64("AVIA_UPLOAD_MAX_BYTES", &cfg.Upload.MaxBytes)

	r.bool("AVIA_SEED", &cfg.Seed.Enabled)
	r.str("AVIA_SEED_CSV", &cfg.Seed.CSVPath)

	r.str("AVIA_LOG_LEVEL", &cfg.Logging.Level)
	r.str("AVIA_LOG_FORMAT", &cfg.Logging.Format)
	if v := strings.TrimSpace(getenv("AVIA_DEBUG")); v == "true" {
		cfg.Logging.Level = "debug"
	}

	r.bool("AVIA_TRACING", &cfg.Tracing.Enabled)
	r.str("AVIA_SERVICE_NAME", &cfg.Tracing.ServiceName)
	r.str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)
	r.str("AVIA_OTLP_ENDPOINT", &cfg.Tracing.Endpoint)

	return errors.Join(r.errs...)
}

// Validate reports every invalid setting.
func Validate(cfg *domain.Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch cfg.Tier {
	case domain.TierCommunity, domain.TierPro, domain.TierEnterprise:
	default:
		add("unknown tier: %q", cfg.Tier)
	}

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		add("server port out of range: %d", cfg.Server.Port)
	}

	switch cfg.Repository.Driver {
	case "sqlite":
		if cfg.Repository.SQLitePath == "" {
			add("sqlite path is required")
		}
	case "postgres":
		if cfg.Repository.PostgresHost == "" || cfg.Repository.PostgresDB == "" {
			add("postgres host and database are required")
		}
	default:
		add("unsupported repository driver: %q", cfg.Repository.Driver)
	}

	switch cfg.Cache.Type {
	case "memory":
	case "redis":
		if cfg.Cache.RedisAddr == "" {
			add("redis address is required")
		}
	default:
		add("unsupported cache type: %q", cfg.Cache.Type)
	}

	switch cfg.EventBus.Type {
	case "channel":
	case "nats":
		if cfg.EventBus.NATSUrl == "" {
			add("NATS URL is required")
		}
	case "kafka":
		if len(cfg.EventBus.KafkaBrokers) == 0 {
			add("kafka brokers are required")
		}
	default:
		add("unsupported event bus type: %q", cfg.EventBus.Type)
	}

	if cfg.Scoring.RuleWorkers < 1 {
		add("rule workers must be positive")
	}
	if cfg.Scoring.CacheTTL < 0 {
		add("score cache TTL must not be negative")
	}
	if cfg.Auth.SessionTTL <= 0 {
		add("session TTL must be positive")
	}
	if cfg.Upload.MaxBytes <= 0 {
		add("upload size limit must be positive")
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		add("unsupported log format: %q", cfg.Logging.Format)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid configuration: %w", errors.Join(errs...))
}
