package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, StorageMemory, cfg.Storage.Driver)
	require.False(t, cfg.CacheEnabled())
}

func TestLoadFileOverlaysDefaults(t *testing.T) {
	path := writeFile(t, "recordkeeper.yaml", `
storage:
  driver: object
  object:
    driver: s3
    prefix: tenants/a
    s3:
      bucket: records
      path_style: true
cache:
  driver: redis
  ttl: 30s
  redis:
    addr: cache:6379
    db: 2
`)
	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.Equal(t, StorageObject, cfg.Storage.Driver)
	require.Equal(t, ObjectS3, cfg.Storage.Object.Driver)
	require.Equal(t, "tenants/a", cfg.Storage.Object.Prefix)
	require.Equal(t, "records", cfg.Storage.Object.S3.Bucket)
	require.True(t, cfg.Storage.Object.S3.PathStyle)
	require.Equal(t, 30*time.Second, cfg.Cache.TTL)
	require.Equal(t, "cache:6379", cfg.Cache.Redis.Addr)
	require.Equal(t, 2, cfg.Cache.Redis.DB)
	require.True(t, cfg.CacheEnabled())
	require.Equal(t, "info", cfg.Log.Level, "unset keys keep defaults")
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "config: read")

	_, err = LoadFile(writeFile(t, "bad.yaml", "storage: [unclosed"))
	require.ErrorContains(t, err, "config: parse")

	_, err = LoadFile(writeFile(t, "driver.yaml", "storage:\n  driver: tape\n"))
	require.ErrorContains(t, err, `unknown storage driver "tape"`)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvStorageDriver:  "sqlite",
		EnvSQLitePath:     " /var/lib/rk.db ",
		EnvS3PathStyle:    "true",
		EnvCacheDriver:    "memory",
		EnvCacheTTL:       "90s",
		EnvRedisDB:        "3",
		EnvLogLevel:       "debug",
		EnvObjectFSRoot:   "",
		EnvLogServiceName: "rk-test",
	}
	lookup := func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	require.Equal(t, StorageSQLite, cfg.Storage.Driver)
	require.Equal(t, "/var/lib/rk.db", cfg.Storage.SQLitePath)
	require.True(t, cfg.Storage.Object.S3.PathStyle)
	require.Equal(t, CacheMemory, cfg.Cache.Driver)
	require.Equal(t, 90*time.Second, cfg.Cache.TTL)
	require.Equal(t, 3, cfg.Cache.Redis.DB)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "rk-test", cfg.Log.ServiceName)
	require.Empty(t, cfg.Storage.Object.FSRoot, "blank values are ignored")
}

func TestApplyEnvRejectsMalformedValues(t *testing.T) {
	for key, val := range map[string]string{
		EnvS3PathStyle: "sometimes",
		EnvCacheTTL:    "soon",
		EnvRedisDB:     "zero",
	} {
		cfg := Default()
		err := cfg.applyEnv(func(k string) (string, bool) {
			if k == key {
				return val, true
			}
			return "", false
		})
		require.ErrorContains(t, err, key)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Storage.Driver = StorageObject
	cfg.Storage.Object.Driver = ObjectS3
	require.ErrorContains(t, cfg.Validate(), "bucket required")

	cfg.Storage.Object.Driver = "ftp"
	require.ErrorContains(t, cfg.Validate(), `unknown object driver "ftp"`)

	cfg = Default()
	cfg.Cache.Driver = "memcached"
	cfg.Cache.TTL = -time.Second
	err := cfg.Validate()
	require.ErrorContains(t, err, `unknown cache driver "memcached"`)
	require.ErrorContains(t, err, "must not be negative")
}

func TestLoadLayersSources(t *testing.T) {
	yamlPath := writeFile(t, "recordkeeper.yaml", "storage:\n  driver: sqlite\n  sqlite_path: from-yaml.db\nlog:\n  level: warn\n")
	dotenv := writeFile(t, "test.env", EnvLogEnv+"=prod\n")
	t.Cleanup(func() { _ = os.Unsetenv(EnvLogEnv) })

	t.Setenv(EnvDotEnvFile, dotenv)
	t.Setenv(EnvConfigFile, yamlPath)
	t.Setenv(EnvSQLitePath, "from-env.db")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StorageSQLite, cfg.Storage.Driver)
	require.Equal(t, "from-env.db", cfg.Storage.SQLitePath)
	require.Equal(t, "warn", cfg.Log.Level)
	require.Equal(t, "prod", cfg.Log.Env)
}

func TestLoadWithoutFiles(t *testing.T) {
	t.Setenv(EnvDotEnvFile, filepath.Join(t.TempDir(), "absent.env"))
	t.Setenv(EnvConfigFile, "")
	t.Setenv(EnvStorageDriver, "bogus")
	_, err := Load()
	require.ErrorContains(t, err, "unknown storage driver")
}
