package config

import (
	"errors"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Storage drivers.
const (
	StorageDriverLocal = "local"
	StorageDriverS3    = "s3"
)

// Lock drivers.
const (
	LockDriverLocal = "local"
	LockDriverRedis = "redis"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database DatabaseConfig
	Redis    RedisConfig
	JWT      JWTConfig
	CORS     CORSConfig
	Log      LogConfig
	Signing  SigningConfig
	Storage  StorageConfig
	Events   EventsConfig
}

type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Name         string
	SSLMode      string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// JWTConfig verifies staff bearer tokens issued by the practice-management backend.
type JWTConfig struct {
	Secret string
	Issuer string
}

type CORSConfig struct {
	AllowedOrigins []string
}

type LogConfig struct {
	Level  string
	Format string
}

// SigningConfig governs signer links, locking and upload limits.
type SigningConfig struct {
	DefaultTTL          time.Duration
	MaxTTL              time.Duration
	PostSignatureWindow time.Duration
	LinkBaseURL         string
	TermsVersion        string
	LockDriver          string
	LockTTL             time.Duration
	LockWait            time.Duration
	MaxArtifactBytes    int64
	MaxPDFBytes         int64
}

// StorageConfig selects and configures the object store.
type StorageConfig struct {
	Driver          string
	LocalDir        string
	PublicBaseURL   string
	SignedURLSecret string
	URLTTL          time.Duration
	Timeout         time.Duration
	S3Bucket        string
	S3Region        string
	S3Endpoint      string
	S3AccessKeyID   string
	S3SecretKey     string
	S3Prefix        string
}

// EventsConfig sizes the audit event queue.
type EventsConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")

	cfg.Database = DatabaseConfig{
		Host:         v.GetString("DB_HOST"),
		Port:         v.GetInt("DB_PORT"),
		User:         v.GetString("DB_USER"),
		Password:     v.GetString("DB_PASSWORD"),
		Name:         v.GetString("DB_NAME"),
		SSLMode:      v.GetString("DB_SSL_MODE"),
		MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns: v.GetInt("DB_MAX_IDLE_CONNS"),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
	}

	cfg.JWT = JWTConfig{
		Secret: v.GetString("JWT_SECRET"),
		Issuer: v.GetString("JWT_ISSUER"),
	}

	cfg.CORS = CORSConfig{AllowedOrigins: splitAndTrim(v.GetString("ALLOWED_ORIGINS"))}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Signing = SigningConfig{
		DefaultTTL:          parseDuration(v.GetString("SIGNING_DEFAULT_TTL"), 7*24*time.Hour),
		MaxTTL:              parseDuration(v.GetString("SIGNING_MAX_TTL"), 30*24*time.Hour),
		PostSignatureWindow: parseDuration(v.GetString("SIGNING_POST_SIGNATURE_WINDOW"), 48*time.Hour),
		LinkBaseURL:         strings.TrimRight(v.GetString("SIGNING_LINK_BASE_URL"), "/"),
		TermsVersion:        v.GetString("SIGNING_TERMS_VERSION"),
		LockDriver:          strings.ToLower(v.GetString("SIGNING_LOCK_DRIVER")),
		LockTTL:             parseDuration(v.GetString("SIGNING_LOCK_TTL"), 2*time.Minute),
		LockWait:            parseDuration(v.GetString("SIGNING_LOCK_WAIT"), 30*time.Second),
		MaxArtifactBytes:    positiveInt64(v.GetInt64("SIGNING_MAX_ARTIFACT_BYTES"), 5*1024*1024),
		MaxPDFBytes:         positiveInt64(v.GetInt64("SIGNING_MAX_PDF_BYTES"), 25*1024*1024),
	}

	cfg.Storage = StorageConfig{
		Driver:          strings.ToLower(v.GetString("STORAGE_DRIVER")),
		LocalDir:        v.GetString("STORAGE_LOCAL_DIR"),
		PublicBaseURL:   strings.TrimRight(v.GetString("STORAGE_PUBLIC_BASE_URL"), "/"),
		SignedURLSecret: v.GetString("STORAGE_SIGNED_URL_SECRET"),
		URLTTL:          parseDuration(v.GetString("STORAGE_URL_TTL"), 15*time.Minute),
		Timeout:         parseDuration(v.GetString("STORAGE_TIMEOUT"), 20*time.Second),
		S3Bucket:        v.GetString("S3_BUCKET"),
		S3Region:        v.GetString("S3_REGION"),
		S3Endpoint:      v.GetString("S3_ENDPOINT"),
		S3AccessKeyID:   v.GetString("S3_ACCESS_KEY_ID"),
		S3SecretKey:     v.GetString("S3_SECRET_ACCESS_KEY"),
		S3Prefix:        strings.Trim(v.GetString("S3_PREFIX"), "/"),
	}

	cfg.Events = EventsConfig{
		Workers:    v.GetInt("EVENTS_WORKERS"),
		BufferSize: v.GetInt("EVENTS_BUFFER"),
		MaxRetries: v.GetInt("EVENTS_RETRIES"),
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "esign")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("SIGNING_DEFAULT_TTL", "168h")
	v.SetDefault("SIGNING_MAX_TTL", "720h")
	v.SetDefault("SIGNING_POST_SIGNATURE_WINDOW", "48h")
	v.SetDefault("SIGNING_LINK_BASE_URL", "http://localhost:3000/assinar")
	v.SetDefault("SIGNING_TERMS_VERSION", "v1")
	v.SetDefault("SIGNING_LOCK_DRIVER", LockDriverLocal)
	v.SetDefault("SIGNING_LOCK_TTL", "2m")
	v.SetDefault("SIGNING_LOCK_WAIT", "30s")
	v.SetDefault("SIGNING_MAX_ARTIFACT_BYTES", 5*1024*1024)
	v.SetDefault("SIGNING_MAX_PDF_BYTES", 25*1024*1024)

	v.SetDefault("STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("STORAGE_LOCAL_DIR", "./storage")
	v.SetDefault("STORAGE_PUBLIC_BASE_URL", "http://localhost:8080/api/v1/files")
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("STORAGE_URL_TTL", "15m")
	v.SetDefault("STORAGE_TIMEOUT", "20s")
	v.SetDefault("S3_BUCKET", "")
	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_ENDPOINT", "")
	v.SetDefault("S3_PREFIX", "")

	v.SetDefault("EVENTS_WORKERS", 2)
	v.SetDefault("EVENTS_BUFFER", 64)
	v.SetDefault("EVENTS_RETRIES", 3)
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

func positiveInt64(value, fallback int64) int64 {
	if value <= 0 {
		return fallback
	}
	return value
}

func splitAndTrim(raw string) []string {
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
