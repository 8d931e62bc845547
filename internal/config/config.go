package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "TURFLEDGER"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabaseDriver = "sqlite"
	defaultDatabasePath   = "turfledger.db"
	defaultLogLevel       = "info"
	defaultLogFormat      = "json"
	defaultCookieName     = "app_session"
	defaultSessionIssuer  = "turfledger-auth"
	defaultSessionTTL     = 12
	defaultQueuePath      = "offline-queue.db"
	defaultRequestTimeout = 15
	defaultRetryCount     = 2
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress          string
	AllowedOrigins       []string
	DatabaseDriver       string
	DatabasePath         string
	DatabaseDSN          string
	LogLevel             string
	LogFormat            string
	SessionSigningSecret string
	SessionCookieName    string
	SessionIssuer        string
	SessionTTL           time.Duration
}

// OfflineConfig captures configuration for the field-device queue client.
type OfflineConfig struct {
	QueuePath      string
	ServerURL      string
	SessionToken   string
	RequestTimeout time.Duration
	RetryCount     int
	LogLevel       string
	LogFormat      string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", "")
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("database.dsn", "")
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("log.format", defaultLogFormat)
	configViper.SetDefault("session.cookie_name", defaultCookieName)
	configViper.SetDefault("session.issuer", defaultSessionIssuer)
	configViper.SetDefault("session.ttl_hours", defaultSessionTTL)
	configViper.SetDefault("offline.queue_path", defaultQueuePath)
	configViper.SetDefault("offline.server_url", "")
	configViper.SetDefault("offline.session_token", "")
	configViper.SetDefault("offline.request_timeout_seconds", defaultRequestTimeout)
	configViper.SetDefault("offline.retry_count", defaultRetryCount)
}

// Load parses server configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		AllowedOrigins:       splitList(configViper.GetString("http.allowed_origins")),
		DatabaseDriver:       strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:         configViper.GetString("database.path"),
		DatabaseDSN:          configViper.GetString("database.dsn"),
		LogLevel:             configViper.GetString("log.level"),
		LogFormat:            configViper.GetString("log.format"),
		SessionSigningSecret: configViper.GetString("session.signing_secret"),
		SessionCookieName:    configViper.GetString("session.cookie_name"),
		SessionIssuer:        configViper.GetString("session.issuer"),
		SessionTTL:           time.Duration(configViper.GetInt("session.ttl_hours")) * time.Hour,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// LoadDatabase parses only the database and logging keys, for commands that never serve HTTP.
func LoadDatabase(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		DatabaseDriver: strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:   configViper.GetString("database.path"),
		DatabaseDSN:    configViper.GetString("database.dsn"),
		LogLevel:       configViper.GetString("log.level"),
		LogFormat:      configViper.GetString("log.format"),
	}
	if err := cfg.validateDatabase(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOffline parses the queue client configuration from viper.
func LoadOffline(configViper *viper.Viper) (OfflineConfig, error) {
	cfg := OfflineConfig{
		QueuePath:      configViper.GetString("offline.queue_path"),
		ServerURL:      strings.TrimSpace(configViper.GetString("offline.server_url")),
		SessionToken:   strings.TrimSpace(configViper.GetString("offline.session_token")),
		RequestTimeout: time.Duration(configViper.GetInt("offline.request_timeout_seconds")) * time.Second,
		RetryCount:     configViper.GetInt("offline.retry_count"),
		LogLevel:       configViper.GetString("log.level"),
		LogFormat:      configViper.GetString("log.format"),
	}
	if strings.TrimSpace(cfg.QueuePath) == "" {
		return OfflineConfig{}, fmt.Errorf("offline.queue_path is required")
	}
	if cfg.RequestTimeout <= 0 {
		return OfflineConfig{}, fmt.Errorf("offline.request_timeout_seconds must be positive")
	}
	if cfg.RetryCount < 0 {
		return OfflineConfig{}, fmt.Errorf("offline.retry_count must not be negative")
	}
	return cfg, nil
}

// RequireServer reports an error when the replay target is not configured.
func (c OfflineConfig) RequireServer() error {
	if c.ServerURL == "" {
		return fmt.Errorf("offline.server_url is required")
	}
	if c.SessionToken == "" {
		return fmt.Errorf("offline.session_token is required")
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SessionSigningSecret) == "" {
		return fmt.Errorf("session.signing_secret is required")
	}
	if strings.TrimSpace(c.SessionCookieName) == "" {
		return fmt.Errorf("session.cookie_name is required")
	}
	if strings.TrimSpace(c.SessionIssuer) == "" {
		return fmt.Errorf("session.issuer is required")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("session.ttl_hours must be positive")
	}
	return c.validateDatabase()
}

func (c AppConfig) validateDatabase() error {
	switch c.DatabaseDriver {
	case "sqlite":
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case "postgres":
		if strings.TrimSpace(c.DatabaseDSN) == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.DatabaseDriver)
	}
	return nil
}

func splitList(raw string) []string {
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
