package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "shrinker.yaml")
	content := `
storage:
  type: local
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	assert.Equal(t, 4, cfg.Shrinker.Workers)
	assert.False(t, cfg.Shrinker.Incremental)
	assert.Equal(t, "shrinker/graph.bin", cfg.Shrinker.StateKey)
	assert.Equal(t, 4096, cfg.Keep.CacheSize)
	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, 500, cfg.Export.Neo4j.BatchSize)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoad_CustomValues(t *testing.T) {
	dir := t.TempDir()
	configFile := filepath.Join(dir, "shrinker.yaml")
	content := `
shrinker:
  workers: 12
  incremental: true
  state_key: app/debug/graph.bin
  check_dependencies: true
  main_dex_list_path: /tmp/out/maindex.txt
  platform_jars:
    - /sdk/android.jar
keep:
  config_files:
    - proguard-rules.pro
  rules:
    - "-keep class com.example.Main { *; }"
  main_dex_rules:
    - "-keep class com.example.App"
storage:
  type: s3
  endpoint: localhost:9000
  bucket: state
  secret_id: key
  secret_key: secret
database:
  enabled: true
  type: postgres
  host: db.example.com
  database: shrinker
`
	err := os.WriteFile(configFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := Load(configFile)
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Shrinker.Workers)
	assert.True(t, cfg.Shrinker.Incremental)
	assert.Equal(t, "app/debug/graph.bin", cfg.Shrinker.StateKey)
	assert.True(t, cfg.Shrinker.CheckDependencies)
	assert.Equal(t, []string{"/sdk/android.jar"}, cfg.Shrinker.PlatformJars)
	assert.Equal(t, []string{"proguard-rules.pro"}, cfg.Keep.ConfigFiles)
	assert.Len(t, cfg.Keep.Rules, 1)
	assert.Len(t, cfg.Keep.MainDexRules, 1)
	assert.Equal(t, "s3", cfg.Storage.Type)
	assert.Equal(t, "localhost:9000", cfg.Storage.Endpoint)
	assert.Equal(t, "db.example.com", cfg.Database.Host)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SHRINKER_SHRINKER_WORKERS", "7")
	t.Setenv("SHRINKER_LOG_LEVEL", "debug")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Shrinker.Workers)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SHRINKER_TEST_DOTENV=from-file\n"), 0644))
	t.Cleanup(func() { os.Unsetenv("SHRINKER_TEST_DOTENV") })

	require.NoError(t, LoadDotEnv(envFile))
	assert.Equal(t, "from-file", os.Getenv("SHRINKER_TEST_DOTENV"))

	assert.NoError(t, LoadDotEnv(filepath.Join(dir, "absent.env")))
}

func TestLoad_InvalidDatabaseType(t *testing.T) {
	_, err := LoadFromReader("yaml", []byte(`
database:
  enabled: true
  type: oracle
`))
	require.NoError(t, err)

	dir := t.TempDir()
	configFile := filepath.Join(dir, "shrinker.yaml")
	content := `
database:
  enabled: true
  type: oracle
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	_, err = Load(configFile)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported database type")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Shrinker.Workers = 0 },
			wantErr: "worker count must be at least 1",
		},
		{
			name: "incremental without state key",
			mutate: func(c *Config) {
				c.Shrinker.Incremental = true
				c.Shrinker.StateKey = ""
			},
			wantErr: "state key is required",
		},
		{
			name: "sqlite without path",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Path = ""
			},
			wantErr: "sqlite database path is required",
		},
		{
			name: "mysql without host",
			mutate: func(c *Config) {
				c.Database.Enabled = true
				c.Database.Type = "mysql"
				c.Database.Host = ""
			},
			wantErr: "database host is required",
		},
		{
			name: "neo4j without uri",
			mutate: func(c *Config) {
				c.Export.Neo4j.Enabled = true
				c.Export.Neo4j.URI = ""
			},
			wantErr: "neo4j uri is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
