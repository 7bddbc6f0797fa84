package config

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestLoad(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "erdlink.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "cook@example.com", cfg.Account.Username)
	assert.Equal(t, []string{"openid", "appliances"}, cfg.Account.Scopes)
	assert.Equal(t, "wss://api.example.com/v1/websocket", cfg.Endpoints.WebsocketURL)
	assert.Equal(t, 5, cfg.Session.MaxRetries)
	assert.Equal(t, Duration(10*time.Second), cfg.Session.ReconnectDelay)
	assert.Equal(t, Duration(2*time.Minute), cfg.Session.MaxReconnectDelay)
	assert.Equal(t, 0.2, cfg.Session.BackoffJitter)
	assert.Equal(t, "/var/lib/erdlink/state.json", cfg.Session.StateFile)
	assert.Equal(t, ":9464", cfg.Metrics.Addr)
	assert.Equal(t, "appliances", cfg.NATS.Bucket)

	// Unset values keep their defaults.
	assert.Equal(t, Duration(15*time.Second), cfg.KeepAlive.PingInterval)
	assert.Equal(t, Duration(5*time.Second), cfg.KeepAlive.PongTimeout)
	assert.Equal(t, 3, cfg.KeepAlive.MaxMissedPongs)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "erdlink", cfg.NATS.Prefix)

	require.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	t.Run("MissingFile", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
		var le *LoadError
		require.True(t, errors.As(err, &le))
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("BadDuration", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		require.NoError(t, os.WriteFile(path, []byte("session:\n  reconnect_delay: soon\n"), 0o644))

		_, err := Load(path)
		var le *LoadError
		require.True(t, errors.As(err, &le))
		assert.Equal(t, path, le.File)
		assert.Contains(t, err.Error(), `invalid duration "soon"`)
	})
}

func TestValidate(t *testing.T) {
	cfg := Default()
	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.Contains(t, err.Error(), "account.username")
	assert.Contains(t, err.Error(), "endpoints.websocket_url")

	cfg, err = Load(filepath.Join("testdata", "erdlink.yaml"))
	require.NoError(t, err)

	cfg.Session.MaxRetries = -1
	cfg.Logging.Level = "chatty"
	cfg.Logging.Format = "xml"
	cfg.Session.BackoffJitter = 1.5
	err = cfg.Validate()
	assert.Contains(t, err.Error(), "max_retries")
	assert.Contains(t, err.Error(), "backoff_jitter")
	assert.Contains(t, err.Error(), "chatty")
	assert.Contains(t, err.Error(), "xml")
}

func TestApplyEnv(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "erdlink.yaml"))
	require.NoError(t, err)

	env := map[string]string{
		EnvPassword:     "from-env",
		EnvClientSecret: "",
	}
	cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})

	assert.Equal(t, "cook@example.com", cfg.Account.Username)
	assert.Equal(t, "from-env", cfg.Account.Password)
	assert.Empty(t, cfg.Account.ClientSecret)
}

func TestLoadEnvFile(t *testing.T) {
	t.Setenv(EnvPassword, "")
	t.Setenv(EnvClientSecret, "")
	os.Unsetenv(EnvPassword)
	os.Unsetenv(EnvClientSecret)

	require.NoError(t, LoadEnvFile(filepath.Join("testdata", "env")))
	require.NoError(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))

	cfg := Default()
	cfg.ApplyEnv()
	assert.Equal(t, "from-dotenv", cfg.Account.Password)
	assert.Equal(t, "s3cret", cfg.Account.ClientSecret)
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		name string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"", slog.LevelInfo},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.name)
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, got, tt.name)
	}
}

func TestMappers(t *testing.T) {
	cfg, err := Load(filepath.Join("testdata", "erdlink.yaml"))
	require.NoError(t, err)

	sup := cfg.Supervisor()
	assert.Equal(t, 5, sup.MaxRetries)
	assert.Equal(t, 10*time.Second, sup.ReconnectDelay)
	assert.Equal(t, 2.0, sup.BackoffMultiplier)
	assert.Equal(t, 0.2, sup.BackoffJitter)
	require.NoError(t, sup.Validate())

	tr := cfg.Transport()
	assert.Equal(t, "wss://api.example.com/v1/websocket", tr.URL)
	assert.Equal(t, 15*time.Second, tr.KeepAlive.PingInterval)

	oa := cfg.OAuth2(nil)
	assert.Equal(t, "erdlink-client", oa.ClientID)
	assert.Equal(t, "https://accounts.example.com/oauth2/token", oa.TokenURL)
	assert.NoError(t, oa.Validate())
}

func TestDurationMarshal(t *testing.T) {
	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration(90 * time.Second)})
	require.NoError(t, err)
	assert.Equal(t, "d: 1m30s\n", string(out))
}
