// Package config loads recordkeeper settings from defaults, an optional YAML
// file, an optional .env file and RECORDKEEPER_* environment variables, in
// increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables consulted by Load.
const (
	EnvConfigFile = "RECORDKEEPER_CONFIG"
	EnvDotEnvFile = "RECORDKEEPER_ENV_FILE"

	EnvStorageDriver   = "RECORDKEEPER_STORAGE_DRIVER"
	EnvSQLitePath      = "RECORDKEEPER_SQLITE_PATH"
	EnvPostgresDSN     = "RECORDKEEPER_POSTGRES_DSN"
	EnvObjectDriver    = "RECORDKEEPER_OBJECT_DRIVER"
	EnvObjectFSRoot    = "RECORDKEEPER_OBJECT_FS_ROOT"
	EnvObjectPrefix    = "RECORDKEEPER_OBJECT_PREFIX"
	EnvS3Bucket        = "RECORDKEEPER_OBJECT_S3_BUCKET"
	EnvS3Region        = "RECORDKEEPER_OBJECT_S3_REGION"
	EnvS3Endpoint      = "RECORDKEEPER_OBJECT_S3_ENDPOINT"
	EnvS3PathStyle     = "RECORDKEEPER_OBJECT_S3_PATH_STYLE"
	EnvS3AccessKeyID   = "RECORDKEEPER_OBJECT_S3_ACCESS_KEY_ID"
	EnvS3SecretKey     = "RECORDKEEPER_OBJECT_S3_SECRET_ACCESS_KEY"
	EnvCacheDriver     = "RECORDKEEPER_CACHE_DRIVER"
	EnvCacheTTL        = "RECORDKEEPER_CACHE_TTL"
	EnvRedisAddr       = "RECORDKEEPER_REDIS_ADDR"
	EnvRedisPassword   = "RECORDKEEPER_REDIS_PASSWORD"
	EnvRedisDB         = "RECORDKEEPER_REDIS_DB"
	EnvRedisPrefix     = "RECORDKEEPER_REDIS_PREFIX"
	EnvLogEnv          = "RECORDKEEPER_LOG_ENV"
	EnvLogLevel        = "RECORDKEEPER_LOG_LEVEL"
	EnvLogServiceName  = "RECORDKEEPER_LOG_SERVICE"
	defaultDotEnvFile  = ".env"
	defaultServiceName = "recordkeeper"
)

// Storage drivers.
const (
	StorageMemory   = "memory"
	StorageSQLite   = "sqlite"
	StoragePostgres = "postgres"
	StorageObject   = "object"
)

// Object store drivers.
const (
	ObjectMemory     = "memory"
	ObjectFilesystem = "fs"
	ObjectS3         = "s3"
)

// Cache drivers.
const (
	CacheNone   = "none"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config is the full recordkeeper configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Cache   CacheConfig   `yaml:"cache"`
	Log     LogConfig     `yaml:"log"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Driver      string       `yaml:"driver"`
	SQLitePath  string       `yaml:"sqlite_path"`
	PostgresDSN string       `yaml:"postgres_dsn"`
	Object      ObjectConfig `yaml:"object"`
}

// ObjectConfig configures the blob store behind the object backend.
type ObjectConfig struct {
	Driver string   `yaml:"driver"`
	FSRoot string   `yaml:"fs_root"`
	Prefix string   `yaml:"prefix"`
	S3     S3Config `yaml:"s3"`
}

// S3Config holds bucket settings for the s3 object driver.
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	PathStyle       bool   `yaml:"path_style"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// CacheConfig configures the optional read-through record cache.
type CacheConfig struct {
	Driver string        `yaml:"driver"`
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
}

// RedisConfig selects the Redis server for the redis cache driver.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// LogConfig mirrors logger.Config.
type LogConfig struct {
	Env         string `yaml:"env"`
	Level       string `yaml:"level"`
	ServiceName string `yaml:"service_name"`
}

// Default returns the configuration used when nothing is set: in-memory
// storage, no cache, dev logging at info.
func Default() Config {
	return Config{
		Storage: StorageConfig{
			Driver: StorageMemory,
			Object: ObjectConfig{Driver: ObjectFilesystem},
		},
		Cache: CacheConfig{Driver: CacheNone, TTL: 5 * time.Minute},
		Log:   LogConfig{Env: "dev", Level: "info", ServiceName: defaultServiceName},
	}
}

// Load reads the .env file named by RECORDKEEPER_ENV_FILE (default ".env")
// if present, then the YAML file named by RECORDKEEPER_CONFIG if set, then
// applies environment overrides and validates the result.
func Load() (Config, error) {
	return LoadFrom("")
}

// LoadFrom behaves like Load but reads the YAML file at path instead of the
// one named by RECORDKEEPER_CONFIG when path is non-empty.
func LoadFrom(path string) (Config, error) {
	envFile := os.Getenv(EnvDotEnvFile)
	if envFile == "" {
		envFile = defaultDotEnvFile
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	cfg := Default()
	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults without consulting the
// environment.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if err := cfg.mergeFile(path); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied config path
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str(EnvStorageDriver, &c.Storage.Driver)
	str(EnvSQLitePath, &c.Storage.SQLitePath)
	str(EnvPostgresDSN, &c.Storage.PostgresDSN)
	str(EnvObjectDriver, &c.Storage.Object.Driver)
	str(EnvObjectFSRoot, &c.Storage.Object.FSRoot)
	str(EnvObjectPrefix, &c.Storage.Object.Prefix)
	str(EnvS3Bucket, &c.Storage.Object.S3.Bucket)
	str(EnvS3Region, &c.Storage.Object.S3.Region)
	str(EnvS3Endpoint, &c.Storage.Object.S3.Endpoint)
	str(EnvS3AccessKeyID, &c.Storage.Object.S3.AccessKeyID)
	str(EnvS3SecretKey, &c.Storage.Object.S3.SecretAccessKey)
	str(EnvCacheDriver, &c.Cache.Driver)
	str(EnvRedisAddr, &c.Cache.Redis.Addr)
	str(EnvRedisPassword, &c.Cache.Redis.Password)
	str(EnvRedisPrefix, &c.Cache.Redis.Prefix)
	str(EnvLogEnv, &c.Log.Env)
	str(EnvLogLevel, &c.Log.Level)
	str(EnvLogServiceName, &c.Log.ServiceName)

	if v, ok := lookup(EnvS3PathStyle); ok && v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvS3PathStyle, err)
		}
		c.Storage.Object.S3.PathStyle = b
	}
	if v, ok := lookup(EnvCacheTTL); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvCacheTTL, err)
		}
		c.Cache.TTL = d
	}
	if v, ok := lookup(EnvRedisDB); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvRedisDB, err)
		}
		c.Cache.Redis.DB = n
	}
	return nil
}

// Validate rejects unknown drivers and incomplete backend settings.
func (c Config) Validate() error {
	var errs []error
	switch c.Storage.Driver {
	case StorageMemory, StorageSQLite, StoragePostgres:
	case StorageObject:
		switch c.Storage.Object.Driver {
		case ObjectMemory, ObjectFilesystem:
		case ObjectS3:
			if c.Storage.Object.S3.Bucket == "" {
				errs = append(errs, fmt.Errorf("storage.object.s3.bucket required for the s3 object driver"))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown object driver %q", c.Storage.Object.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Cache.Driver {
	case "", CacheNone, CacheMemory, CacheRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown cache driver %q", c.Cache.Driver))
	}
	if c.Cache.TTL < 0 {
		errs = append(errs, fmt.Errorf("cache.ttl must not be negative"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// CacheEnabled reports whether a record cache is configured.
func (c Config) CacheEnabled() bool {
	return c.Cache.Driver != "" && c.Cache.Driver != CacheNone
}
