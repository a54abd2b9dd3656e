package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	req.NoError(err)

	req.Equal(":8080", cfg.Addr)
	req.Equal("sqlite3", cfg.DBDriver)
	req.Equal(60*time.Second, cfg.IdleTimeout)
	req.Equal(256, cfg.SendBuffer)
	req.Equal([]string{"*"}, cfg.AllowedOrigins)
	req.True(cfg.IsDevelopment())
}

func TestLoad_Overrides(t *testing.T) {
	req := require.New(t)
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DB_DRIVER", "pgx")
	t.Setenv("DB_DSN", "postgres://chat@localhost/chat")
	t.Setenv("IDLE_TIMEOUT", "5s")
	t.Setenv("ALLOWED_ORIGINS", "http://a.test,http://b.test")
	t.Setenv("ENV", "production")

	cfg, err := Load()
	req.NoError(err)

	req.Equal("pgx", cfg.DBDriver)
	req.Equal(5*time.Second, cfg.IdleTimeout)
	req.Equal([]string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	req.False(cfg.IsDevelopment())
}

func TestLoad_MissingSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_UnknownDriver(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DB_DRIVER", "mysql")

	_, err := Load()
	require.ErrorContains(t, err, "DB_DRIVER")
}
