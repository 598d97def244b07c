// Package config loads and validates harvester configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CZDS_USERNAME.
const EnvPrefix = "CZDS"

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	StoreConnection string        `mapstructure:"store_connection"`
	Auth            AuthConfig    `mapstructure:"auth"`
	API             APIConfig     `mapstructure:"api"`
	HTTP            HTTPConfig    `mapstructure:"http"`
	Harvest         HarvestConfig `mapstructure:"harvest"`
	Store           StoreConfig   `mapstructure:"store"`
	PubSub          PubSubConfig  `mapstructure:"pubsub"`
	Metrics         MetricsConfig `mapstructure:"metrics"`
	Server          ServerConfig  `mapstructure:"server"`
	Logging         LoggingConfig `mapstructure:"logging"`
}

// AuthConfig locates the authentication endpoint.
type AuthConfig struct {
	URL      string        `mapstructure:"url"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// APIConfig locates the zone download API.
type APIConfig struct {
	LinksURL string `mapstructure:"links_url"`
}

// HTTPConfig configures the outbound client and its retry behavior.
type HTTPConfig struct {
	Timeout          time.Duration `mapstructure:"timeout"`
	ProbeTimeout     time.Duration `mapstructure:"probe_timeout"`
	MaxRetries       int           `mapstructure:"max_retries"`
	BackoffInitialMs int           `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int           `mapstructure:"backoff_max_ms"`
	MaxBodyBytes     int64         `mapstructure:"max_body_bytes"`
	UserAgent        string        `mapstructure:"user_agent"`
}

// HarvestConfig governs the run policies.
type HarvestConfig struct {
	Concurrency         int    `mapstructure:"concurrency"`
	MaxLinks            int    `mapstructure:"max_links"`
	DegradedEnumeration bool   `mapstructure:"degraded_enumeration"`
	ProbeBackend        string `mapstructure:"probe_backend"`
}

// StoreConfig selects the snapshot backend.
type StoreConfig struct {
	Backend      string        `mapstructure:"backend"`
	Collection   string        `mapstructure:"collection"`
	MaxConns     int32         `mapstructure:"max_conns"`
	EnsureSchema bool          `mapstructure:"ensure_schema"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	GCSBucket    string        `mapstructure:"gcs_bucket"`
	GCSPrefix    string        `mapstructure:"gcs_prefix"`
}

// PubSubConfig holds metadata for run notifications. An empty topic disables them.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// MetricsConfig controls the end-of-run Pushgateway push.
type MetricsConfig struct {
	PushgatewayURL string `mapstructure:"pushgateway_url"`
	Job            string `mapstructure:"job"`
}

// ServerConfig controls the optional ops endpoint. An empty address disables it.
type ServerConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from an optional .env file, an optional config file and the environment.
func Load(path string) (Config, error) {
	return load(path, ".env")
}

func load(path, dotenv string) (Config, error) {
	if dotenv != "" {
		if err := godotenv.Load(dotenv); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", dotenv, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Unset keys are invisible to Unmarshal unless registered.
	v.SetDefault("username", "")
	v.SetDefault("password", "")
	v.SetDefault("store_connection", "")
	v.SetDefault("auth.url", "https://account-api.icann.org/api/authenticate")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("api.links_url", "https://czds-api.icann.org/czds/downloads/links")
	v.SetDefault("http.timeout", 30*time.Second)
	v.SetDefault("http.probe_timeout", 15*time.Second)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.max_body_bytes", 8<<20)
	v.SetDefault("http.user_agent", "czds-harvester/1.0")
	v.SetDefault("harvest.concurrency", 4)
	v.SetDefault("harvest.max_links", 0)
	v.SetDefault("harvest.degraded_enumeration", false)
	v.SetDefault("harvest.probe_backend", "http")
	v.SetDefault("store.backend", "postgres")
	v.SetDefault("store.collection", "czds_icann_raw")
	v.SetDefault("store.max_conns", 2)
	v.SetDefault("store.ensure_schema", true)
	v.SetDefault("store.write_timeout", 30*time.Second)
	v.SetDefault("store.gcs_bucket", "")
	v.SetDefault("store.gcs_prefix", "snapshots")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("metrics.pushgateway_url", "")
	v.SetDefault("metrics.job", "czds_harvester")
	v.SetDefault("server.listen_addr", "")
	v.SetDefault("logging.development", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Username == "" || c.Password == "" {
		return fmt.Errorf("username and password must be set (env %s_USERNAME, %s_PASSWORD)", EnvPrefix, EnvPrefix)
	}
	if c.Auth.URL == "" {
		return fmt.Errorf("auth.url must be set")
	}
	if c.API.LinksURL == "" {
		return fmt.Errorf("api.links_url must be set")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be > 0")
	}
	if c.HTTP.ProbeTimeout <= 0 {
		return fmt.Errorf("http.probe_timeout must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	if c.Harvest.Concurrency <= 0 {
		return fmt.Errorf("harvest.concurrency must be > 0")
	}
	if c.Harvest.MaxLinks < 0 {
		return fmt.Errorf("harvest.max_links must be >= 0")
	}
	switch c.Harvest.ProbeBackend {
	case "http", "colly":
	default:
		return fmt.Errorf("harvest.probe_backend %q must be http or colly", c.Harvest.ProbeBackend)
	}
	switch c.Store.Backend {
	case "postgres":
		if c.StoreConnection == "" {
			return fmt.Errorf("store_connection must be set for the postgres backend (env %s_STORE_CONNECTION)", EnvPrefix)
		}
	case "gcs":
		if c.Store.GCSBucket == "" {
			return fmt.Errorf("store.gcs_bucket must be set for the gcs backend")
		}
	case "memory":
	default:
		return fmt.Errorf("store.backend %q must be postgres, gcs or memory", c.Store.Backend)
	}
	if c.Store.WriteTimeout <= 0 {
		return fmt.Errorf("store.write_timeout must be > 0")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	return nil
}

// Backoff converts the millisecond backoff knobs into durations.
func (c HTTPConfig) Backoff() (initial, maxWait time.Duration) {
	return time.Duration(c.BackoffInitialMs) * time.Millisecond,
		time.Duration(c.BackoffMaxMs) * time.Millisecond
}
