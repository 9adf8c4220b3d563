package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mshop/internal/pkg/password"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `{"port": 8080, "jwt_secret": "s", "database": {"host": "localhost"}, "frontend_url": "https://shop.example/"}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 168, cfg.JWTTTLHours)
	require.Equal(t, 5432, cfg.Database.Port)
	require.Equal(t, "https://shop.example", cfg.FrontendURL)
	require.Equal(t, 1440, cfg.Token.VerificationTTLMinutes)
	require.Equal(t, 30, cfg.Token.ResetTTLMinutes)
	require.Equal(t, "0 * * * *", cfg.Token.CleanupCron)
	require.Equal(t, password.DefaultConfig(), cfg.Password)
	require.Equal(t, "log", cfg.Notify.Type)
	require.Equal(t, "memory", cfg.RateLimit.Backend)
	require.Equal(t, "info", cfg.LogConfig.Level)
}

func TestLoadPartialPasswordConfig(t *testing.T) {
	path := writeConfig(t, `{"port": 8080, "jwt_secret": "s", "database": {"dsn": "x"}, "password": {"memory_kb": 131072}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	def := password.DefaultConfig()
	require.Equal(t, uint32(131072), cfg.Password.MemoryKB)
	require.Equal(t, def.Time, cfg.Password.Time)
	require.Equal(t, def.Parallelism, cfg.Password.Parallelism)
	require.Equal(t, def.SaltLength, cfg.Password.SaltLength)
	require.Equal(t, def.KeyLength, cfg.Password.KeyLength)
	_, err = password.NewHasher(cfg.Password)
	require.NoError(t, err)
}

func TestLoadRequiredFields(t *testing.T) {
	cases := map[string]string{
		"missing secret":   `{"port": 8080, "database": {"host": "localhost"}}`,
		"missing port":     `{"jwt_secret": "s", "database": {"host": "localhost"}}`,
		"missing database": `{"port": 8080, "jwt_secret": "s"}`,
		"redis no addr":    `{"port": 8080, "jwt_secret": "s", "database": {"dsn": "x"}, "rate_limit": {"backend": "redis"}}`,
		"bad backend":      `{"port": 8080, "jwt_secret": "s", "database": {"dsn": "x"}, "rate_limit": {"backend": "etcd"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
		})
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MSHOP_JWT_SECRET", "from-env")
	t.Setenv("MSHOP_DATABASE_DSN", "postgres://env")
	t.Setenv("MSHOP_SMTP_PASSWORD", "smtp-pass")
	path := writeConfig(t, `{"port": 8080, "jwt_secret": "file", "database": {"host": "localhost"}, "notify": {"type": "smtp", "data": {"host": "mail"}}}`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.JWTSecret)
	require.Equal(t, "postgres://env", cfg.Database.DSN)
	data, ok := cfg.Notify.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, "smtp-pass", data["password"])
}
