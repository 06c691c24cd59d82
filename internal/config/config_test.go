package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.True(t, cfg.Database.IsEmbedded())
	assert.Equal(t, "memory", cfg.Lock.Backend)
	assert.Equal(t, 365, cfg.Keys.DefaultValidityDays)
	assert.Equal(t, 3, cfg.Keys.DefaultMaxResets)
	assert.Equal(t, 5, cfg.Keys.GenerateAttempts)
	assert.True(t, cfg.Audit.Async)
	assert.False(t, cfg.Admin.Configured())
}

func TestLoad_FileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 8080
admin:
  token: from-file
keys:
  default_max_resets: 5
lock:
  backend: none
  ttl: 3s
`), 0o600))

	t.Setenv("KEYGATE_ADMIN_TOKEN", "from-env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "from-env", cfg.Admin.Token, "env overrides file")
	assert.Equal(t, 5, cfg.Keys.DefaultMaxResets)
	assert.Equal(t, "none", cfg.Lock.Backend)
	assert.Equal(t, 3*time.Second, cfg.Lock.TTL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Server:   ServerConfig{Port: 3000},
			Database: DatabaseConfig{Driver: "sqlite", Path: "keys.db"},
			Lock:     LockConfig{Backend: "memory", TTL: time.Second},
			Keys: KeysConfig{
				DefaultValidityDays: 365,
				DefaultMaxResets:    3,
				MaxBatch:            100,
				MaxValidityDays:     3650,
				GenerateAttempts:    5,
			},
			Audit:   AuditConfig{Async: true, BufferSize: 10},
			Logging: LoggingConfig{Level: "info"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "bad port", mutate: func(c *Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "bad driver", mutate: func(c *Config) { c.Database.Driver = "mysql" }, wantErr: true},
		{name: "postgres without host", mutate: func(c *Config) { c.Database.Driver = "postgres" }, wantErr: true},
		{name: "sqlite without path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "bad lock backend", mutate: func(c *Config) { c.Lock.Backend = "etcd" }, wantErr: true},
		{name: "zero lock ttl", mutate: func(c *Config) { c.Lock.TTL = 0 }, wantErr: true},
		{name: "no lock needs no ttl", mutate: func(c *Config) { c.Lock.Backend = "none"; c.Lock.TTL = 0 }},
		{name: "negative resets", mutate: func(c *Config) { c.Keys.DefaultMaxResets = -1 }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.Keys.GenerateAttempts = 0 }, wantErr: true},
		{name: "max validity below default", mutate: func(c *Config) { c.Keys.MaxValidityDays = 30 }, wantErr: true},
		{name: "async without buffer", mutate: func(c *Config) { c.Audit.BufferSize = 0 }, wantErr: true},
		{name: "bad log level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
