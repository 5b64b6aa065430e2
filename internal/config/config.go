package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Backend modes
const (
	BackendPostgrest = "postgrest"
	BackendPsql      = "psql"
	BackendMemory    = "memory"
)

// Profile save modes
const (
	ProfileSaveUpsert       = "upsert"
	ProfileSaveCheckThenAct = "check-then-act"
)

type Config struct {
	Environment string `toml:"-"`

	Host        string
	Port        int
	MetricsPort int    `toml:"metrics_port"`
	PublicURL   string `toml:"public_url"` // used to build the OAuth callback url
	// logging
	LogLevel      string `toml:"log_level"`
	LogsPath      string `toml:"logs_path"`
	LogToStdout   bool   `toml:"log_to_stdout"`
	SentryEnabled bool   `toml:"sentry_enabled"`
	// remote backend
	Backend            string `toml:"backend"`
	SupabaseURL        string `toml:"supabase_url"`
	HttpTimeoutSeconds int    `toml:"http_timeout_seconds"`
	// upsert, or check-then-act for PostgREST setups without a unique user_id constraint
	ProfileSaveMode string `toml:"profile_save_mode"`
	// postgres, when backend = psql
	PostgresHost   string `toml:"postgres_host"`
	PostgresPort   string `toml:"postgres_port"`
	PostgresDBName string `toml:"postgres_db_name"`
	PostgresUser   string `toml:"postgres_user"`
	// redis
	RedisHost string `toml:"redis_host"`
	RedisPort string `toml:"redis_port"`
	// sessions
	SessionTTLHours      int      `toml:"session_ttl_hours"`
	UserCacheTTLSeconds  int      `toml:"user_cache_ttl_seconds"`
	SignInRequestsPerMin int      `toml:"signin_requests_per_min"`
	OAuthProvider        string   `toml:"oauth_provider"`
	DefaultTimezone      string   `toml:"default_timezone"`
	AllowedOrigins       []string `toml:"allowed_origins"`
}

func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLHours) * time.Hour
}

func (c *Config) UserCacheTTL() time.Duration {
	return time.Duration(c.UserCacheTTLSeconds) * time.Second
}

func (c *Config) HttpTimeout() time.Duration {
	return time.Duration(c.HttpTimeoutSeconds) * time.Second
}

// Location resolves DefaultTimezone, falling back to the server local time zone.
func (c *Config) Location() *time.Location {
	if c.DefaultTimezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.DefaultTimezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func (c *Config) IsProduction() bool {
	return c.Environment == "prod" || c.Environment == "production"
}

func (c *Config) validate() error {
	switch c.Backend {
	case BackendPostgrest:
		if c.SupabaseURL == "" {
			return fmt.Errorf("supabase_url is required for the %s backend", c.Backend)
		}
	case BackendPsql:
		if c.PostgresHost == "" || c.PostgresDBName == "" {
			return fmt.Errorf("postgres_host and postgres_db_name are required for the %s backend", c.Backend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend: %q", c.Backend)
	}
	switch c.ProfileSaveMode {
	case ProfileSaveUpsert, ProfileSaveCheckThenAct:
	default:
		return fmt.Errorf("unknown profile_save_mode: %q", c.ProfileSaveMode)
	}
	if c.Port <= 0 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.ProfileSaveMode == "" {
		c.ProfileSaveMode = ProfileSaveUpsert
	}
	if c.HttpTimeoutSeconds == 0 {
		c.HttpTimeoutSeconds = 10
	}
	if c.SessionTTLHours == 0 {
		c.SessionTTLHours = 24 * 7
	}
	if c.UserCacheTTLSeconds == 0 {
		c.UserCacheTTLSeconds = 60
	}
	if c.SignInRequestsPerMin == 0 {
		c.SignInRequestsPerMin = 10
	}
	if c.OAuthProvider == "" {
		c.OAuthProvider = "google"
	}
	if c.PublicURL == "" {
		c.PublicURL = fmt.Sprintf("http://%s:%d", c.Host, c.Port)
	}
}

type Toml struct {
	Development *Config
	Production  *Config
}

func (t *Toml) Get(env string) (*Config, error) {
	var cfg *Config
	switch strings.ToLower(env) {
	case "dev", "development":
		cfg = t.Development
	case "prod", "production":
		cfg = t.Production
	default:
		return nil, fmt.Errorf("unknown env: %s", env)
	}
	if cfg == nil {
		return nil, fmt.Errorf("no config section for env: %s", env)
	}
	return cfg, nil
}

// Load reads the TOML file at path and returns the validated section of env.
func Load(env, path string) (*Config, error) {
	var t Toml
	if _, err := toml.DecodeFile(path, &t); err != nil {
		return nil, fmt.Errorf("decode config file: %w", err)
	}
	return fromToml(&t, env)
}

// Parse is Load for in-memory TOML content.
func Parse(env, content string) (*Config, error) {
	var t Toml
	if _, err := toml.Decode(content, &t); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return fromToml(&t, env)
}

func fromToml(t *Toml, env string) (*Config, error) {
	cfg, err := t.Get(env)
	if err != nil {
		return nil, err
	}
	cfg.Environment = strings.ToLower(env)
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid %s config: %w", env, err)
	}
	return cfg, nil
}
