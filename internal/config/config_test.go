package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func valid() Config {
	return Config{
		Addr:        ":8443",
		DatabaseURL: "postgres://localhost/recipients",
		JWTKey:      "0123456789abcdef",
		LogLevel:    "info",
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL", "true")
	v, err := envBool("TEST_BOOL", false)
	require.NoError(t, err)
	require.True(t, v)

	v, err = envBool("TEST_BOOL_MISSING", true)
	require.NoError(t, err)
	require.True(t, v)

	t.Setenv("TEST_BOOL_BAD", "maybe")
	_, err = envBool("TEST_BOOL_BAD", false)
	require.EqualError(t, err, `TEST_BOOL_BAD="maybe" is not a valid boolean`)
}

func TestLoad_FromEnv(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RK_ADDR", ":9000")
	t.Setenv("RK_JWT_KEY", "0123456789abcdef")
	t.Setenv("RK_SELF_ACI", "a0000000-0000-4000-8000-000000000001")
	t.Setenv("RK_OTEL_INSECURE", "1")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "recipientd", cfg.ServiceName)
	require.True(t, cfg.OTELInsecure)
	require.Equal(t, 10, cfg.AuthMaxFailures)
	require.Equal(t, 15*time.Minute, cfg.AuthBlockFor)
	require.NotNil(t, cfg.Self())
	require.NoError(t, cfg.Validate())
}

func TestLoad_DotEnvDoesNotOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("RK_ADDR=:7000\nRK_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("RK_ADDR", ":9000")
	// registered so t restores it; Load sets it from .env
	t.Setenv("RK_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("RK_LOG_LEVEL"))

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Addr)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, zapcore.DebugLevel, cfg.Level())
}

func TestLoad_BadBool(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RK_OTEL_INSECURE", "perhaps")
	_, err := Load()
	require.Error(t, err)
}

func TestLoad_Lockout(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("RK_AUTH_MAX_FAILURES", "3")
	t.Setenv("RK_AUTH_WINDOW", "30s")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, 3, cfg.AuthMaxFailures)
	require.Equal(t, 30*time.Second, cfg.AuthWindow)

	t.Setenv("RK_AUTH_BLOCK_FOR", "forever")
	_, err = Load()
	require.EqualError(t, err, `config: RK_AUTH_BLOCK_FOR="forever" is not a valid duration`)

	t.Setenv("RK_AUTH_MAX_FAILURES", "lots")
	_, err = Load()
	require.EqualError(t, err, `config: RK_AUTH_MAX_FAILURES="lots" is not a valid integer`)
}

func TestValidate(t *testing.T) {
	require.NoError(t, valid().Validate())

	cases := map[string]func(*Config){
		"no addr":      func(c *Config) { c.Addr = "" },
		"no database":  func(c *Config) { c.DatabaseURL = "" },
		"short key":    func(c *Config) { c.JWTKey = "short" },
		"cert only":    func(c *Config) { c.TLSCert = "cert.pem" },
		"key only":     func(c *Config) { c.TLSKey = "key.pem" },
		"bad self aci": func(c *Config) { c.SelfACI = "nope" },
		"bad level":    func(c *Config) { c.LogLevel = "loud" },
		"neg failures": func(c *Config) { c.AuthMaxFailures = -1 },
		"no window":    func(c *Config) { c.AuthMaxFailures = 3; c.AuthBlockFor = time.Minute },
	}
	for name, mutate := range cases {
		c := valid()
		mutate(&c)
		require.Error(t, c.Validate(), name)
	}
}

func TestSelfAndLevelDefaults(t *testing.T) {
	c := valid()
	require.Nil(t, c.Self())
	c.SelfACI = "garbage"
	require.Nil(t, c.Self())
	c.LogLevel = "loud"
	require.Equal(t, zapcore.InfoLevel, c.Level())
}
