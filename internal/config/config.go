// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/JakeFAU/activity-harvester/internal/credential"
	"github.com/JakeFAU/activity-harvester/internal/harvest"
)

// Supported state backends.
const (
	BackendCSV      = "csv"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server          ServerConfig            `mapstructure:"server"`
	API             APIConfig               `mapstructure:"api"`
	Harvest         HarvestConfig           `mapstructure:"harvest"`
	Credentials     []credential.Credential `mapstructure:"credentials"`
	CredentialsFile string                  `mapstructure:"credentials_file"`
	State           StateConfig             `mapstructure:"state"`
	DB              DBConfig                `mapstructure:"db"`
	PubSub          PubSubConfig            `mapstructure:"pubsub"`
	Archive         ArchiveConfig           `mapstructure:"archive"`
	Progress        ProgressConfig          `mapstructure:"progress"`
	Logging         LoggingConfig           `mapstructure:"logging"`
}

// ServerConfig controls the status HTTP server.
type ServerConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
	// APIKey, when set, is required on every /v1 request.
	APIKey string `mapstructure:"api_key"`
}

// APIConfig describes the remote API. Templates take {id} and {key}.
type APIConfig struct {
	ProfileURLTemplate string `mapstructure:"profile_url_template"`
	BazaarURLTemplate  string `mapstructure:"bazaar_url_template"`
	UserAgent          string `mapstructure:"user_agent"`
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	TimestampPath      string `mapstructure:"timestamp_path"`
	ListingsField      string `mapstructure:"listings_field"`
}

// HarvestConfig selects identifiers and engine behavior.
type HarvestConfig struct {
	Start              int64  `mapstructure:"start"`
	End                int64  `mapstructure:"end"`
	IDsFile            string `mapstructure:"ids_file"`
	ActivityWindowDays int    `mapstructure:"activity_window_days"`
	RetryTransient     bool   `mapstructure:"retry_transient"`
	RefreshActive      bool   `mapstructure:"refresh_active"`
}

// StateConfig chooses where classification sets live.
type StateConfig struct {
	Backend      string `mapstructure:"backend"`
	Dir          string `mapstructure:"dir"`
	Fsync        bool   `mapstructure:"fsync"`
	SQLitePath   string `mapstructure:"sqlite_path"`
	BazaarPrefix string `mapstructure:"bazaar_prefix"`
	ListingsFile string `mapstructure:"listings_file"`
}

// DBConfig controls access to Postgres.
type DBConfig struct {
	DSN                    string `mapstructure:"dsn"`
	MaxConns               int32  `mapstructure:"max_conns"`
	MinConns               int32  `mapstructure:"min_conns"`
	ConnMaxLifetimeMinutes int    `mapstructure:"conn_max_lifetime_minutes"`
	// RunHistory records runs and per-credential stats for the status API.
	RunHistory bool `mapstructure:"run_history"`
}

// PubSubConfig holds metadata for classification notifications.
type PubSubConfig struct {
	ProjectID       string   `mapstructure:"project_id"`
	TopicName       string   `mapstructure:"topic_name"`
	Classifications []string `mapstructure:"classifications"`
}

// ArchiveConfig sets where state files are copied after a run. Bucket wins
// over Dir.
type ArchiveConfig struct {
	Bucket string `mapstructure:"bucket"`
	Dir    string `mapstructure:"dir"`
	Prefix string `mapstructure:"prefix"`
}

// ProgressConfig tunes the progress hub and console observer.
type ProgressConfig struct {
	BufferSize             int `mapstructure:"buffer_size"`
	BatchMaxEvents         int `mapstructure:"batch_max_events"`
	BatchMaxWaitMs         int `mapstructure:"batch_max_wait_ms"`
	SinkTimeoutMs          int `mapstructure:"sink_timeout_ms"`
	DisplayIntervalSeconds int `mapstructure:"display_interval_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	return LoadWithFlags(path, nil)
}

// LoadWithFlags is Load with command-line flags layered on top. Flags are
// matched by their full key ("harvest.start") and only override when set.
func LoadWithFlags(path string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

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

	if cfg.CredentialsFile != "" {
		creds, err := LoadCredentials(cfg.CredentialsFile)
		if err != nil {
			return Config{}, err
		}
		cfg.Credentials = append(cfg.Credentials, creds...)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.enabled", true)
	v.SetDefault("server.port", 8080)
	v.SetDefault("api.profile_url_template", "https://api.torn.com/user/{id}?selections=profile&key={key}")
	v.SetDefault("api.bazaar_url_template", "https://api.torn.com/user/{id}?selections=bazaar&key={key}")
	v.SetDefault("api.user_agent", "activity-harvester/0.1")
	v.SetDefault("api.timeout_seconds", 15)
	v.SetDefault("api.timestamp_path", harvest.DefaultTimestampPath)
	v.SetDefault("api.listings_field", harvest.DefaultListingsField)
	v.SetDefault("harvest.activity_window_days", 40)
	v.SetDefault("harvest.retry_transient", false)
	v.SetDefault("harvest.refresh_active", false)
	v.SetDefault("state.backend", BackendCSV)
	v.SetDefault("state.dir", "data")
	v.SetDefault("state.fsync", false)
	v.SetDefault("state.sqlite_path", "data/harvest.db")
	v.SetDefault("state.bazaar_prefix", "bazaar_")
	v.SetDefault("state.listings_file", "data/bazaar_listings.csv")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.conn_max_lifetime_minutes", 30)
	v.SetDefault("pubsub.classifications", []string{harvest.ClassActive.String()})
	v.SetDefault("archive.prefix", "harvests")
	v.SetDefault("progress.buffer_size", 4096)
	v.SetDefault("progress.batch_max_events", 200)
	v.SetDefault("progress.batch_max_wait_ms", 1000)
	v.SetDefault("progress.sink_timeout_ms", 5000)
	v.SetDefault("progress.display_interval_seconds", 2)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits. Every failure
// wraps harvest.ErrConfiguration.
func (c Config) Validate() error {
	if err := c.validate(); err != nil {
		return fmt.Errorf("%w: %w", harvest.ErrConfiguration, err)
	}
	return nil
}

func (c Config) validate() error {
	if c.Server.Enabled && c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.API.TimeoutSeconds <= 0 {
		return fmt.Errorf("api.timeout_seconds must be > 0")
	}
	if !strings.Contains(c.API.ProfileURLTemplate, "{id}") {
		return fmt.Errorf("api.profile_url_template must contain {id}")
	}
	if !strings.Contains(c.API.BazaarURLTemplate, "{id}") {
		return fmt.Errorf("api.bazaar_url_template must contain {id}")
	}
	if c.Harvest.ActivityWindowDays <= 0 {
		return fmt.Errorf("harvest.activity_window_days must be > 0")
	}
	if c.Harvest.IDsFile == "" {
		if c.Harvest.Start < 1 {
			return fmt.Errorf("harvest.start must be >= 1 when harvest.ids_file is not set")
		}
		if c.Harvest.End < c.Harvest.Start {
			return fmt.Errorf("harvest.end must be >= harvest.start")
		}
	}
	if len(c.Credentials) == 0 {
		return fmt.Errorf("at least one credential is required")
	}
	seen := make(map[string]struct{}, len(c.Credentials))
	for _, cred := range c.Credentials {
		if err := cred.Validate(); err != nil {
			return err
		}
		if _, dup := seen[cred.Owner]; dup {
			return fmt.Errorf("duplicate credential owner %q", cred.Owner)
		}
		seen[cred.Owner] = struct{}{}
	}
	switch c.State.Backend {
	case BackendCSV:
		if strings.TrimSpace(c.State.Dir) == "" {
			return fmt.Errorf("state.dir is required for the csv backend")
		}
	case BackendSQLite:
		if strings.TrimSpace(c.State.SQLitePath) == "" {
			return fmt.Errorf("state.sqlite_path is required for the sqlite backend")
		}
	case BackendPostgres:
		if c.DB.DSN == "" {
			return fmt.Errorf("db.dsn is required for the postgres backend")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown state.backend %q", c.State.Backend)
	}
	if c.DB.RunHistory && c.DB.DSN == "" {
		return fmt.Errorf("db.dsn is required when db.run_history is enabled")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id is required when pubsub.topic_name is set")
	}
	if c.Progress.BufferSize <= 0 || c.Progress.BatchMaxEvents <= 0 {
		return fmt.Errorf("progress.buffer_size and progress.batch_max_events must be > 0")
	}
	return nil
}

// ActivityWindow returns the configured window as a duration.
func (c Config) ActivityWindow() time.Duration {
	return time.Duration(c.Harvest.ActivityWindowDays) * 24 * time.Hour
}

// FetchTimeout returns the per-call HTTP timeout.
func (c Config) FetchTimeout() time.Duration {
	return time.Duration(c.API.TimeoutSeconds) * time.Second
}

// DisplayInterval returns the console observer period.
func (c Config) DisplayInterval() time.Duration {
	if c.Progress.DisplayIntervalSeconds <= 0 {
		return 2 * time.Second
	}
	return time.Duration(c.Progress.DisplayIntervalSeconds) * time.Second
}
