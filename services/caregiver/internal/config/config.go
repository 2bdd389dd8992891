package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file, overridable with CONFIG_PATH.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port                     string   `yaml:"port"`
	LogLevel                 string   `yaml:"logLevel"`
	DatabaseDriver           string   `yaml:"databaseDriver"`
	DatabaseURL              string   `yaml:"databaseURL"`
	RedisAddr                string   `yaml:"redisAddr"`
	RedisPassword            string   `yaml:"redisPassword"`
	JWTSecret                string   `yaml:"jwtSecret"`
	JWTIssuer                string   `yaml:"jwtIssuer"`
	JWTAudience              string   `yaml:"jwtAudience"`
	JWTLeeway                string   `yaml:"jwtLeeway"`
	SessionTTL               string   `yaml:"sessionTTL"`
	StoreTimeout             string   `yaml:"storeTimeout"`
	NotifyConcurrency        int      `yaml:"notifyConcurrency"`
	DeviceRateLimitPerMinute int      `yaml:"deviceRateLimitPerMinute"`
	ClientOrigins            []string `yaml:"clientOrigins"`
	TrustedProxyCIDRs        []string `yaml:"trustedProxyCidrs"`
}

// Load reads config from path (defaults to CONFIG_PATH, then config.yaml)
// and applies environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if v := strings.TrimSpace(os.Getenv("CONFIG_PATH")); v != "" {
		path = v
	}
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
	if v := os.Getenv("PORT"); v != "" {
		cfg.Port = strings.TrimSpace(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.DatabaseDriver = strings.TrimSpace(v)
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.RedisAddr = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		cfg.RedisPassword = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.JWTSecret = v
	}
	if v := os.Getenv("JWT_ISSUER"); v != "" {
		cfg.JWTIssuer = v
	}
	if v := os.Getenv("JWT_AUDIENCE"); v != "" {
		cfg.JWTAudience = v
	}
	if v := os.Getenv("JWT_LEEWAY"); v != "" {
		cfg.JWTLeeway = v
	}
	if v := os.Getenv("SESSION_TTL"); v != "" {
		cfg.SessionTTL = v
	}
	if v := os.Getenv("CAREGIVER_STORE_TIMEOUT"); v != "" {
		cfg.StoreTimeout = v
	}
	if v := os.Getenv("CAREGIVER_NOTIFY_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.NotifyConcurrency = n
		}
	}
	if v := os.Getenv("CAREGIVER_DEVICE_RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.DeviceRateLimitPerMinute = n
		}
	}
	if v := os.Getenv("CLIENT_ORIGIN"); v != "" {
		cfg.ClientOrigins = splitCSV(v)
	}
	if v := os.Getenv("CAREGIVER_TRUSTED_PROXY_CIDRS"); v != "" {
		cfg.TrustedProxyCIDRs = splitCSV(v)
	}
	if cfg.DatabaseDriver == "" {
		cfg.DatabaseDriver = "postgres"
	}
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml)")
	}
	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: databaseDriver must be postgres or sqlite, got %q", cfg.DatabaseDriver)
	}
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		return errors.New("config: databaseURL is required (set in config.yaml or DATABASE_URL)")
	}
	if len(strings.TrimSpace(cfg.JWTSecret)) < 16 {
		return errors.New("config: jwtSecret must be at least 16 characters (set in config.yaml or JWT_SECRET)")
	}
	if cfg.DeviceRateLimitPerMinute > 0 && strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required when deviceRateLimitPerMinute is set")
	}
	if cfg.DeviceRateLimitPerMinute < 0 {
		return errors.New("config: deviceRateLimitPerMinute must be >= 0")
	}
	if cfg.NotifyConcurrency < 0 {
		return errors.New("config: notifyConcurrency must be >= 0")
	}
	for _, d := range []struct{ name, value string }{
		{"jwtLeeway", cfg.JWTLeeway},
		{"sessionTTL", cfg.SessionTTL},
		{"storeTimeout", cfg.StoreTimeout},
	} {
		if _, err := parseOptionalDuration(d.name, d.value); err != nil {
			return fmt.Errorf("config: %w", err)
		}
	}
	return nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

func parseOptionalDuration(name, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	dur, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", name, err)
	}
	if dur < 0 {
		return 0, fmt.Errorf("invalid %s duration: must not be negative", name)
	}
	return dur, nil
}

// ParseJWTLeeway parses optional JWT leeway duration string.
func ParseJWTLeeway(leewayStr string) (time.Duration, error) {
	return parseOptionalDuration("jwtLeeway", leewayStr)
}

// ParseSessionTTL parses the bearer token lifetime. Empty means the default.
func ParseSessionTTL(ttlStr string) (time.Duration, error) {
	return parseOptionalDuration("sessionTTL", ttlStr)
}

// ParseStoreTimeout parses the per-call persistence timeout.
func ParseStoreTimeout(timeoutStr string) (time.Duration, error) {
	return parseOptionalDuration("storeTimeout", timeoutStr)
}

// TrustedProxiesCSV joins the configured proxy CIDRs.
func (c FileConfig) TrustedProxiesCSV() string {
	return strings.Join(c.TrustedProxyCIDRs, ",")
}
