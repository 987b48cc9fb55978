package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/maynagashev/modhub/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("MODHUB_AUTH_JWT_SECRET", "secret")

	cfg, err := config.Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, config.DriverPostgres, cfg.Database.Driver)
	assert.Equal(t, config.DriverMinio, cfg.Storage.Driver)
	assert.Equal(t, "modhub-mods", cfg.Minio.BucketName)
	assert.Equal(t, 72*time.Hour, cfg.Verification.Window)
	assert.Equal(t, 3, cfg.Jobs.FailureThreshold)
	assert.Equal(t, time.Hour, cfg.Jobs.MaxBackoff)
	assert.Equal(t, 20, cfg.Notifier.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Timeouts.Store)
	assert.Equal(t, int64(64<<20), cfg.Server.MaxUploadBytes)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modhub.yaml")
	data := []byte(`
server:
  port: "9000"
database:
  driver: memory
storage:
  driver: memory
auth:
  jwt_secret: from-file
verification:
  window: 30m
jobs:
  sweep_schedule: "*/5 * * * *"
  failure_threshold: 5
notifier:
  webhook_url: http://hooks.local/modhub
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	t.Setenv("MODHUB_SERVER_PORT", "9100")
	t.Setenv("MODHUB_TIMEOUTS_STORAGE", "45s")

	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9100", cfg.Server.Port, "переменная окружения важнее файла")
	assert.Equal(t, config.DriverMemory, cfg.Database.Driver)
	assert.Equal(t, "from-file", cfg.Auth.JWTSecret)
	assert.Equal(t, 30*time.Minute, cfg.Verification.Window)
	assert.Equal(t, "*/5 * * * *", cfg.Jobs.SweepSchedule)
	assert.Equal(t, 5, cfg.Jobs.FailureThreshold)
	assert.Equal(t, "http://hooks.local/modhub", cfg.Notifier.WebhookURL)
	assert.Equal(t, 45*time.Second, cfg.Timeouts.Storage)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	t.Setenv("MODHUB_AUTH_JWT_SECRET", "secret")
	valid := func() *config.Config {
		cfg, err := config.Load("")
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(c *config.Config)
		errMsg string
	}{
		{
			name:   "Неизвестный драйвер БД",
			mutate: func(c *config.Config) { c.Database.Driver = "sqlite" },
			errMsg: "database.driver",
		},
		{
			name:   "Postgres без DSN",
			mutate: func(c *config.Config) { c.Database.DSN = "" },
			errMsg: "database.dsn",
		},
		{
			name:   "Неизвестное хранилище",
			mutate: func(c *config.Config) { c.Storage.Driver = "s3" },
			errMsg: "storage.driver",
		},
		{
			name:   "JWT без секрета",
			mutate: func(c *config.Config) { c.Auth.JWTSecret = "" },
			errMsg: "auth.jwt_secret",
		},
		{
			name: "HTTP-провайдер без адреса",
			mutate: func(c *config.Config) {
				c.Identity.Provider = config.IdentityHTTP
				c.Identity.UserinfoURL = ""
			},
			errMsg: "identity.userinfo_url",
		},
		{
			name:   "Сертификат без ключа",
			mutate: func(c *config.Config) { c.Server.TLSCertFile = "cert.pem" },
			errMsg: "tls_key_file",
		},
		{
			name:   "Уровень сжатия вне диапазона",
			mutate: func(c *config.Config) { c.Compression.Level = 40 },
			errMsg: "compression.level",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
