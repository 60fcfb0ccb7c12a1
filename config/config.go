package config

import (
	"errors"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the relay configuration.
type Config struct {
	Port          string
	PublicBaseURL string // Prefix for issued download links, e.g. https://relay.example.com

	// 签名
	SigningSecret string
	SignedURLTTL  time.Duration

	// 缓存
	CacheBackend       string // memory | redis
	CacheTTL           time.Duration
	CacheSweepInterval time.Duration

	// Redis配置
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// 上游内容解析
	UpstreamAPIURL       string
	ClientIDs            []string
	ClientIDsFile        string
	UpstreamTimeout      time.Duration
	UpstreamRateLimit    float64 // requests per second, 0 = unlimited
	SegmentTimeout       time.Duration
	ManifestContentTypes []string

	// MySQL, only used to persist credential health. Disabled when DBHost is empty.
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// MinIO, only used for minio:// locators. Disabled when MinioEndpoint is empty.
	MinioEndpoint   string
	MinioAccessKey  string
	MinioSecretKey  string
	MinioUseSSL     bool
	MinioRegion     string
	MinioPresignTTL time.Duration

	// 日志
	LogLevel      string
	LogFile       string
	LogMaxSize    int
	LogMaxBackups int
	LogMaxAge     int
	LogCompress   bool
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
		warnInvalid(key, value, fallback)
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
		warnInvalid(key, value, fallback)
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
		warnInvalid(key, value, fallback)
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s", "1h") or a bare number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	warnInvalid(key, value, fallback)
	return fallback
}

// warnInvalid 环境变量格式错误时提示使用了默认值
func warnInvalid(key, value string, fallback interface{}) {
	log.Printf("Invalid value %q for %s, using default %v", value, key, fallback)
}

// getEnvList splits a comma separated variable, dropping empty items.
func getEnvList(key string, fallback []string) []string {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// godotenv.Load() will not override existing env vars.
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		Port:          getEnv("PORT", "3000"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:3000"), "/"),

		SigningSecret: os.Getenv("SIGNING_SECRET"), // 不提供默认值
		SignedURLTTL:  getEnvDuration("SIGNED_URL_TTL", time.Hour),

		CacheBackend:       getEnv("CACHE_BACKEND", "memory"),
		CacheTTL:           getEnvDuration("CACHE_TTL", 10*time.Second),
		CacheSweepInterval: getEnvDuration("CACHE_SWEEP_INTERVAL", 120*time.Second),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		UpstreamAPIURL:    strings.TrimRight(getEnv("UPSTREAM_API_URL", "https://api-v2.soundcloud.com"), "/"),
		ClientIDs:         getEnvList("CLIENT_IDS", nil),
		ClientIDsFile:     getEnv("CLIENT_IDS_FILE", ""),
		UpstreamTimeout:   getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second),
		UpstreamRateLimit: getEnvFloat("UPSTREAM_RATE_LIMIT", 0),
		SegmentTimeout:    getEnvDuration("SEGMENT_TIMEOUT", 30*time.Second),
		ManifestContentTypes: getEnvList("MANIFEST_CONTENT_TYPES", []string{
			"audio/mpegurl",
			"audio/x-mpegurl",
			"application/vnd.apple.mpegurl",
			"application/x-mpegurl",
		}),

		DBHost:     getEnv("DB_HOST", ""),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"),
		DBName:     getEnv("DB_NAME", "hlsrelay"),

		MinioEndpoint:   getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:  getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:  getEnv("MINIO_SECRET_KEY", ""),
		MinioUseSSL:     getEnvBool("MINIO_USE_SSL", true),
		MinioRegion:     getEnv("MINIO_REGION", "us-east-1"),
		MinioPresignTTL: getEnvDuration("MINIO_PRESIGN_TTL", 15*time.Minute),

		LogLevel:      getEnv("LOG_LEVEL", "info"),
		LogFile:       getEnv("LOG_FILE", ""),
		LogMaxSize:    getEnvInt("LOG_MAX_SIZE", 100),
		LogMaxBackups: getEnvInt("LOG_MAX_BACKUPS", 5),
		LogMaxAge:     getEnvInt("LOG_MAX_AGE", 30),
		LogCompress:   getEnvBool("LOG_COMPRESS", true),
	}
}

// Validate reports configuration the relay cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.SigningSecret == "" {
		errs = append(errs, errors.New("SIGNING_SECRET is required"))
	}
	if c.SignedURLTTL <= 0 {
		errs = append(errs, errors.New("SIGNED_URL_TTL must be positive"))
	}
	if c.CacheTTL <= 0 {
		errs = append(errs, errors.New("CACHE_TTL must be positive"))
	}
	if c.CacheSweepInterval <= 0 {
		errs = append(errs, errors.New("CACHE_SWEEP_INTERVAL must be positive"))
	}
	if c.CacheBackend != "memory" && c.CacheBackend != "redis" {
		errs = append(errs, errors.New("CACHE_BACKEND must be memory or redis"))
	}
	if c.UpstreamRateLimit < 0 {
		errs = append(errs, errors.New("UPSTREAM_RATE_LIMIT must not be negative"))
	}
	return errors.Join(errs...)
}
