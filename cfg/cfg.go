package cfg

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

type Secret struct {
	value []byte
}

func NewSecret(s string) Secret {
	return Secret{value: []byte(s)}
}
func (s Secret) Value() string {
	return string(s.value)
}
func (s Secret) Wipe() {
	for i := range s.value {
		s.value[i] = 0
	}
}
func (s Secret) String() string {
	return "***REDACTED***"
}

type Cfg struct {
	Port                  string
	BindAddr              string
	Environment           string
	LogLevel              string
	DatabaseURL           string
	DBMaxOpenConns        int
	DBMaxIdleConns        int
	DBQueryTimeout        time.Duration
	WALCheckpointInterval time.Duration
	RedisURL              string
	RedisTLS              bool
	RedisCACert           string
	RedisUsername         string
	RedisPassword         Secret
	RedisTimeout          time.Duration
	LRUCacheSize          int
	CacheTTL              time.Duration
	HashAlgorithm         string
	Pepper                Secret
	PepperFromSecrets     bool
	PepperSecretName      string
	ContextTimeout        time.Duration
	AllowedOrigins        []string
	MetricsUser           string
	MetricsPass           Secret
}

// LoadDotEnv reads a .env file into the environment when one exists.
// Variables already set are left alone.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return errors.Wrap(godotenv.Load(existing...), "load env file")
}

func Load() (*Cfg, error) {
	c := &Cfg{}
	c.Port = getEnv("PORT", "7878")
	c.BindAddr = getEnv("BIND_ADDR", "127.0.0.1")
	c.Environment = getEnv("ENVIRONMENT", "development")
	c.LogLevel = getEnv("LOG_LEVEL", "info")
	c.DatabaseURL = getEnv("DATABASE_URL", "sqlite://pasties.db")
	var err error
	c.DBMaxOpenConns, err = getInt("DB_MAX_OPEN_CONNS", 100)
	if err != nil {
		return nil, err
	}
	c.DBMaxIdleConns, err = getInt("DB_MAX_IDLE_CONNS", 10)
	if err != nil {
		return nil, err
	}
	c.DBQueryTimeout, err = getDuration("DB_QUERY_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.WALCheckpointInterval, err = getDuration("WAL_CHECKPOINT_INTERVAL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	c.RedisURL = getEnv("REDIS_URL", "")
	c.RedisTLS = getEnv("REDIS_TLS", "false") == "true"
	c.RedisCACert = getEnv("REDIS_TLS_CA_CERT", "")
	c.RedisUsername = getEnv("REDIS_USERNAME", "")
	c.RedisPassword = NewSecret(getEnv("REDIS_PASSWORD", ""))
	c.RedisTimeout, err = getDuration("REDIS_TIMEOUT", 2*time.Second)
	if err != nil {
		return nil, err
	}
	// The LRU is per process and only the writing instance clears it, so it
	// is opt-in for single-instance deployments.
	c.LRUCacheSize, err = getInt("LRU_CACHE_SIZE", 0)
	if err != nil {
		return nil, err
	}
	c.CacheTTL, err = getDuration("CACHE_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	c.HashAlgorithm = strings.ToLower(getEnv("HASH_ALGORITHM", "sha256"))
	c.Pepper = NewSecret(getEnv("PEPPER", ""))
	c.PepperFromSecrets = getEnv("PEPPER_FROM_SECRETS", "false") == "true"
	c.PepperSecretName = getEnv("PEPPER_SECRET_NAME", "pasties/pepper")
	c.ContextTimeout, err = getDuration("CONTEXT_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, err
	}
	c.AllowedOrigins = getSlice("ALLOWED_ORIGINS", []string{})
	c.MetricsUser = getEnv("METRICS_USER", "")
	c.MetricsPass = NewSecret(getEnv("METRICS_PASS", ""))
	return c, nil
}

func Validate(c *Cfg) error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if p, err := strconv.Atoi(c.Port); err != nil || p <= 0 || p > 65535 {
		return errors.New("PORT must be a number between 1 and 65535")
	}
	if c.DatabaseURL == "" {
		return errors.New("DATABASE_URL is required")
	}
	scheme, _, err := SplitDatabaseURL(c.DatabaseURL)
	if err != nil {
		return err
	}
	switch scheme {
	case "sqlite", "postgres", "postgresql", "bolt":
	default:
		return fmt.Errorf("DATABASE_URL scheme %q is not supported", scheme)
	}
	if c.DBMaxOpenConns <= 0 || c.DBMaxIdleConns < 0 {
		return errors.New("DB_MAX_OPEN_CONNS must be positive and DB_MAX_IDLE_CONNS non-negative")
	}
	if c.DBQueryTimeout <= 0 {
		return errors.New("DB_QUERY_TIMEOUT must be positive")
	}
	if c.RedisURL != "" {
		if !strings.HasPrefix(c.RedisURL, "redis://") && !strings.HasPrefix(c.RedisURL, "rediss://") {
			return errors.New("REDIS_URL must start with redis:// or rediss://")
		}
		if strings.HasPrefix(c.RedisURL, "rediss://") && !c.RedisTLS {
			return errors.New("REDIS_URL uses rediss:// but REDIS_TLS=false")
		}
	}
	if c.LRUCacheSize < 0 {
		return errors.New("LRU_CACHE_SIZE must not be negative")
	}
	if c.CacheTTL <= 0 {
		return errors.New("CACHE_TTL must be positive")
	}
	switch c.HashAlgorithm {
	case "sha256", "blake2b":
	default:
		return fmt.Errorf("HASH_ALGORITHM %q is not supported", c.HashAlgorithm)
	}
	if p := c.Pepper.Value(); p != "" && len(p) < 32 {
		return errors.New("PEPPER must be at least 32 bytes when set")
	}
	if c.PepperFromSecrets && c.PepperSecretName == "" {
		return errors.New("PEPPER_SECRET_NAME is required when PEPPER_FROM_SECRETS is true")
	}
	if c.ContextTimeout <= 0 {
		return errors.New("CONTEXT_TIMEOUT must be positive")
	}
	if c.Environment == "production" {
		if c.MetricsUser == "" || c.MetricsPass.Value() == "" {
			return errors.New("METRICS_USER and METRICS_PASS are required in production")
		}
	}
	return nil
}

// SplitDatabaseURL returns the scheme and the backend-specific remainder.
// For sqlite and bolt the remainder is a file path; postgres keeps the full URL.
func SplitDatabaseURL(raw string) (string, string, error) {
	i := strings.Index(raw, "://")
	if i <= 0 {
		return "", "", fmt.Errorf("DATABASE_URL %q has no scheme", raw)
	}
	scheme := strings.ToLower(raw[:i])
	rest := raw[i+3:]
	switch scheme {
	case "postgres", "postgresql":
		if _, err := url.Parse(raw); err != nil {
			return "", "", errors.Wrap(err, "parse DATABASE_URL")
		}
		return scheme, raw, nil
	}
	if rest == "" {
		return "", "", fmt.Errorf("DATABASE_URL %q has no path", raw)
	}
	return scheme, rest, nil
}

func (c *Cfg) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Cfg) Addr() string {
	return c.BindAddr + ":" + c.Port
}

func (c *Cfg) Wipe() {
	c.RedisPassword.Wipe()
	c.MetricsPass.Wipe()
	c.Pepper.Wipe()
}
func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}
func getInt(key string, fallback int) (int, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return v, nil
}
func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	s := getEnv(key, "")
	if s == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return v, nil
}
func getSlice(key string, fallback []string) []string {
	s := getEnv(key, "")
	if s == "" {
		return fallback
	}
	parts := strings.Split(s, ",")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
