package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

const (
	StorageDriverLocal = "local"
	StorageDriverMinio = "minio"
)

type Config struct {
	Env       string
	Port      int
	APIPrefix string

	Database      DatabaseConfig
	Redis         RedisConfig
	JWT           JWTConfig
	CORS          CORSConfig
	Log           LogConfig
	Requests      RequestsConfig
	Storage       StorageConfig
	Notifications NotificationConfig
	Reminders     ReminderConfig
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

	// ConnectRetries bounds startup pings while the database comes up.
	ConnectRetries int
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
}

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

// RequestsConfig tunes the student request workflow.
type RequestsConfig struct {
	// WorkflowOverrides replaces the default approver chain per request type code.
	WorkflowOverrides  map[string][]string
	MaxAttachmentBytes int64
	StatsCacheTTL      time.Duration
	ExportMaxRows      int
}

// StorageConfig selects the attachment backend.
type StorageConfig struct {
	Driver   string
	LocalDir string
	Minio    MinioConfig

	// DownloadSecret signs attachment download links; falls back to the JWT secret.
	DownloadSecret string
	DownloadTTL    time.Duration
}

// MinioConfig holds S3 compatible object storage settings.
type MinioConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// NotificationConfig sizes the asynchronous notification queue.
type NotificationConfig struct {
	Enabled           bool
	WorkerConcurrency int
	WorkerRetries     int
	QueueSize         int
}

// ReminderConfig drives the pending request reminder job.
type ReminderConfig struct {
	Enabled       bool
	Schedule      string
	ThresholdDays int
	Cooldown      time.Duration
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
		if !errors.As(err, &notFound) && !isMissingFile(err) {
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

		ConnectRetries: v.GetInt("DB_CONNECT_RETRIES"),
	}

	cfg.Redis = RedisConfig{
		Enabled:  v.GetBool("ENABLE_CACHE"),
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

	overrides, err := ParseWorkflowOverrides(v.GetString("REQUEST_WORKFLOW_OVERRIDES"))
	if err != nil {
		return nil, err
	}
	maxAttachment := v.GetInt64("REQUEST_ATTACHMENT_MAX_SIZE")
	if maxAttachment <= 0 {
		maxAttachment = 10 * 1024 * 1024
	}
	cfg.Requests = RequestsConfig{
		WorkflowOverrides:  overrides,
		MaxAttachmentBytes: maxAttachment,
		StatsCacheTTL:      parseDuration(v.GetString("REQUEST_STATS_CACHE_TTL"), 5*time.Minute),
		ExportMaxRows:      v.GetInt("REQUEST_EXPORT_MAX_ROWS"),
	}

	cfg.Storage = StorageConfig{
		Driver:   strings.ToLower(v.GetString("REQUEST_STORAGE_DRIVER")),
		LocalDir: v.GetString("REQUEST_STORAGE_DIR"),
		Minio: MinioConfig{
			Endpoint:  v.GetString("MINIO_ENDPOINT"),
			AccessKey: v.GetString("MINIO_ACCESS_KEY"),
			SecretKey: v.GetString("MINIO_SECRET_KEY"),
			Bucket:    v.GetString("MINIO_BUCKET"),
			Region:    v.GetString("MINIO_REGION"),
			UseSSL:    v.GetBool("MINIO_USE_SSL"),
		},
		DownloadSecret: v.GetString("REQUEST_DOWNLOAD_SECRET"),
		DownloadTTL:    parseDuration(v.GetString("REQUEST_DOWNLOAD_TTL"), 15*time.Minute),
	}
	if cfg.Storage.DownloadSecret == "" {
		cfg.Storage.DownloadSecret = cfg.JWT.Secret
	}
	if cfg.Storage.Driver != StorageDriverLocal && cfg.Storage.Driver != StorageDriverMinio {
		return nil, fmt.Errorf("unsupported REQUEST_STORAGE_DRIVER %q", cfg.Storage.Driver)
	}

	cfg.Notifications = NotificationConfig{
		Enabled:           v.GetBool("ENABLE_NOTIFICATIONS"),
		WorkerConcurrency: v.GetInt("NOTIFICATION_WORKER_CONCURRENCY"),
		WorkerRetries:     v.GetInt("NOTIFICATION_WORKER_RETRIES"),
		QueueSize:         v.GetInt("NOTIFICATION_QUEUE_SIZE"),
	}

	cfg.Reminders = ReminderConfig{
		Enabled:       v.GetBool("ENABLE_REQUEST_REMINDERS"),
		Schedule:      v.GetString("REQUEST_REMINDER_SCHEDULE"),
		ThresholdDays: v.GetInt("REQUEST_REMINDER_THRESHOLD_DAYS"),
		Cooldown:      parseDuration(v.GetString("REQUEST_REMINDER_COOLDOWN"), 24*time.Hour),
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
	v.SetDefault("DB_NAME", "sis_requests")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_CONNECT_RETRIES", 5)

	v.SetDefault("ENABLE_CACHE", true)
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("JWT_SECRET", "dev_secret")
	v.SetDefault("JWT_ISSUER", "")

	v.SetDefault("ALLOWED_ORIGINS", "")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("REQUEST_WORKFLOW_OVERRIDES", "")
	v.SetDefault("REQUEST_ATTACHMENT_MAX_SIZE", 10*1024*1024)
	v.SetDefault("REQUEST_STATS_CACHE_TTL", "5m")
	v.SetDefault("REQUEST_EXPORT_MAX_ROWS", 5000)

	v.SetDefault("REQUEST_STORAGE_DRIVER", StorageDriverLocal)
	v.SetDefault("REQUEST_STORAGE_DIR", "./storage/requests")
	v.SetDefault("MINIO_ENDPOINT", "localhost:9000")
	v.SetDefault("MINIO_ACCESS_KEY", "")
	v.SetDefault("MINIO_SECRET_KEY", "")
	v.SetDefault("MINIO_BUCKET", "student-requests")
	v.SetDefault("MINIO_REGION", "")
	v.SetDefault("MINIO_USE_SSL", false)
	v.SetDefault("REQUEST_DOWNLOAD_SECRET", "")
	v.SetDefault("REQUEST_DOWNLOAD_TTL", "15m")

	v.SetDefault("ENABLE_NOTIFICATIONS", true)
	v.SetDefault("NOTIFICATION_WORKER_CONCURRENCY", 2)
	v.SetDefault("NOTIFICATION_WORKER_RETRIES", 3)
	v.SetDefault("NOTIFICATION_QUEUE_SIZE", 256)

	v.SetDefault("ENABLE_REQUEST_REMINDERS", false)
	v.SetDefault("REQUEST_REMINDER_SCHEDULE", "0 8 * * *")
	v.SetDefault("REQUEST_REMINDER_THRESHOLD_DAYS", 3)
	v.SetDefault("REQUEST_REMINDER_COOLDOWN", "24h")
}

// ParseWorkflowOverrides reads "TYPE=ROLE,ROLE;TYPE=ROLE" into a map.
// Role names are not checked here; the registry validates them at startup.
func ParseWorkflowOverrides(raw string) (map[string][]string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	result := make(map[string][]string)
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		code, roles, ok := strings.Cut(entry, "=")
		code = strings.ToUpper(strings.TrimSpace(code))
		if !ok || code == "" {
			return nil, fmt.Errorf("invalid workflow override %q", entry)
		}
		list := splitAndTrim(strings.ToUpper(roles))
		if len(list) == 0 {
			return nil, fmt.Errorf("workflow override for %s has no roles", code)
		}
		result[code] = list
	}
	return result, nil
}

func isMissingFile(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such file or directory")
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
