// Package config loads client settings from a YAML file, with account
// secrets optionally supplied through the environment or a .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/erdlink/erdlink-go/pkg/auth"
	"github.com/erdlink/erdlink-go/pkg/connection"
	"github.com/erdlink/erdlink-go/pkg/transport"
)

// Environment variables that override account settings.
const (
	EnvUsername     = "ERDLINK_USERNAME"
	EnvPassword     = "ERDLINK_PASSWORD"
	EnvClientSecret = "ERDLINK_CLIENT_SECRET"
)

// ErrInvalid is wrapped by every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete client configuration.
type Config struct {
	Account   AccountConfig   `yaml:"account"`
	Endpoints EndpointsConfig `yaml:"endpoints"`
	Session   SessionConfig   `yaml:"session"`
	KeepAlive KeepAliveConfig `yaml:"keepalive"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	NATS      NATSConfig      `yaml:"nats"`
}

// AccountConfig holds the cloud account and OAuth2 client credentials.
type AccountConfig struct {
	Username     string   `yaml:"username"`
	Password     string   `yaml:"password"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	Scopes       []string `yaml:"scopes"`
}

// EndpointsConfig holds the cloud URLs.
type EndpointsConfig struct {
	AuthURL      string `yaml:"auth_url"`
	TokenURL     string `yaml:"token_url"`
	RedirectURL  string `yaml:"redirect_url"`
	WebsocketURL string `yaml:"websocket_url"`
}

// SessionConfig tunes reconnection.
type SessionConfig struct {
	MaxRetries        int      `yaml:"max_retries"`
	ReconnectDelay    Duration `yaml:"reconnect_delay"`
	BackoffMultiplier float64  `yaml:"backoff_multiplier"`
	MaxReconnectDelay Duration `yaml:"max_reconnect_delay"`
	BackoffJitter     float64  `yaml:"backoff_jitter"`
	ConnectTimeout    Duration `yaml:"connect_timeout"`

	// StateFile keeps the appliance inventory between runs (empty disables).
	StateFile string `yaml:"state_file"`
}

// KeepAliveConfig tunes websocket liveness checks.
type KeepAliveConfig struct {
	PingInterval   Duration `yaml:"ping_interval"`
	PongTimeout    Duration `yaml:"pong_timeout"`
	MaxMissedPongs int      `yaml:"max_missed_pongs"`
}

// LoggingConfig selects log level, format and protocol capture.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Format      string `yaml:"format"`
	ProtocolLog string `yaml:"protocol_log"`
}

// MetricsConfig enables the Prometheus endpoint.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// NATSConfig enables event forwarding to NATS.
type NATSConfig struct {
	URL    string `yaml:"url"`
	Prefix string `yaml:"prefix"`
	Bucket string `yaml:"bucket"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Session: SessionConfig{
			MaxRetries:        connection.DefaultMaxRetries,
			ReconnectDelay:    Duration(connection.DefaultReconnectDelay),
			BackoffMultiplier: 1,
			MaxReconnectDelay: Duration(connection.DefaultMaxReconnectDelay),
			ConnectTimeout:    Duration(transport.DefaultConnectTimeout),
		},
		KeepAlive: KeepAliveConfig{
			PingInterval:   Duration(transport.DefaultPingInterval),
			PongTimeout:    Duration(transport.DefaultPongTimeout),
			MaxMissedPongs: transport.DefaultMaxMissedPongs,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		NATS: NATSConfig{
			Prefix: "erdlink",
		},
	}
}

// Parse decodes YAML on top of the defaults.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, &LoadError{Message: "failed to parse YAML", Cause: err}
	}
	return cfg, nil
}

// Load reads and decodes the YAML file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, &LoadError{File: path, Message: "failed to read file", Cause: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.File = path
		}
		return Config{}, err
	}
	return cfg, nil
}

// LoadEnvFile loads variables from a .env file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// ApplyEnv overrides account secrets from the environment.
func (c *Config) ApplyEnv() {
	c.applyEnv(os.LookupEnv)
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvUsername); ok && v != "" {
		c.Account.Username = v
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		c.Account.Password = v
	}
	if v, ok := lookup(EnvClientSecret); ok && v != "" {
		c.Account.ClientSecret = v
	}
}

// Validate checks that the configuration can run a session.
func (c Config) Validate() error {
	var errs []error
	required := func(value, name string) {
		if value == "" {
			errs = append(errs, fmt.Errorf("%w: %s is required", ErrInvalid, name))
		}
	}

	required(c.Account.Username, "account.username")
	required(c.Account.Password, "account.password")
	required(c.Account.ClientID, "account.client_id")
	required(c.Endpoints.TokenURL, "endpoints.token_url")
	required(c.Endpoints.WebsocketURL, "endpoints.websocket_url")

	if c.Session.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("%w: session.max_retries must not be negative", ErrInvalid))
	}
	if c.Session.ReconnectDelay < 0 || c.Session.MaxReconnectDelay < 0 || c.Session.ConnectTimeout < 0 {
		errs = append(errs, fmt.Errorf("%w: session durations must not be negative", ErrInvalid))
	}
	if j := c.Session.BackoffJitter; j < 0 || j > 1 {
		errs = append(errs, fmt.Errorf("%w: session.backoff_jitter must be between 0 and 1", ErrInvalid))
	}
	if c.KeepAlive.PingInterval < 0 || c.KeepAlive.PongTimeout < 0 || c.KeepAlive.MaxMissedPongs < 0 {
		errs = append(errs, fmt.Errorf("%w: keepalive values must not be negative", ErrInvalid))
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	if f := c.Logging.Format; f != "" && f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("%w: logging.format must be text or json, got %q", ErrInvalid, f))
	}

	return errors.Join(errs...)
}

// ParseLevel maps a level name to an slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrInvalid, name)
	}
}

// OAuth2 returns the authenticator settings.
func (c Config) OAuth2(logger *slog.Logger) auth.OAuth2Config {
	return auth.OAuth2Config{
		ClientID:     c.Account.ClientID,
		ClientSecret: c.Account.ClientSecret,
		AuthURL:      c.Endpoints.AuthURL,
		TokenURL:     c.Endpoints.TokenURL,
		RedirectURL:  c.Endpoints.RedirectURL,
		Scopes:       c.Account.Scopes,
		Username:     c.Account.Username,
		Password:     c.Account.Password,
		Logger:       logger,
	}
}

// Supervisor returns the session supervisor settings.
func (c Config) Supervisor() connection.Config {
	return connection.Config{
		MaxRetries:        c.Session.MaxRetries,
		ReconnectDelay:    time.Duration(c.Session.ReconnectDelay),
		BackoffMultiplier: c.Session.BackoffMultiplier,
		MaxReconnectDelay: time.Duration(c.Session.MaxReconnectDelay),
		BackoffJitter:     c.Session.BackoffJitter,
	}
}

// Transport returns the websocket client settings.
func (c Config) Transport() transport.ClientConfig {
	return transport.ClientConfig{
		URL:            c.Endpoints.WebsocketURL,
		ConnectTimeout: time.Duration(c.Session.ConnectTimeout),
		KeepAlive: transport.KeepAliveConfig{
			PingInterval:   time.Duration(c.KeepAlive.PingInterval),
			PongTimeout:    time.Duration(c.KeepAlive.PongTimeout),
			MaxMissedPongs: c.KeepAlive.MaxMissedPongs,
		},
	}
}

// LoadError reports a configuration file that could not be loaded.
type LoadError struct {
	// File is the path to the file that failed to load.
	File string

	// Message describes the error.
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e *LoadError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if e.File == "" {
		return msg
	}
	return e.File + ": " + msg
}

func (e *LoadError) Unwrap() error {
	return e.Cause
}
