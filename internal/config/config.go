package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	MediaStoreLocal = "local"
	MediaStoreS3    = "s3"
)

// Config is built once at startup and passed by pointer to every component.
// Nothing in the process reads the environment after LoadConfig returns.
type Config struct {
	Port        string
	VerifyToken string
	AppSecret   string

	WhatsAppToken             string
	WhatsAppBusinessAccountID string
	GraphAPIURL               string
	GraphAPIVersion           string
	HTTPTimeout               time.Duration

	DBDriver string
	DBDSN    string

	MediaStore   string
	MediaDir     string
	MediaBaseURL string
	S3Bucket     string
	S3Prefix     string
	AWSRegion    string

	LogLevel  string
	LogFormat string
	LogFile   string

	SyncSchedule string
}

// LoadConfig reads the environment (and .env when present) and validates it.
func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		// runs before the zap logger exists
		log.Printf("Warning: error loading .env file: %v", err)
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		VerifyToken: getEnv("VERIFY_TOKEN", ""),
		AppSecret:   getEnv("APP_SECRET", ""),

		WhatsAppToken:             getEnv("WHATSAPP_TOKEN", ""),
		WhatsAppBusinessAccountID: getEnv("WABA_ID", ""),
		GraphAPIURL:               strings.TrimRight(getEnv("GRAPH_API_URL", "https://graph.facebook.com"), "/"),
		GraphAPIVersion:           getEnv("GRAPH_API_VERSION", "v19.0"),
		HTTPTimeout:               cast.ToDuration(getEnv("HTTP_TIMEOUT", "30s")),

		DBDriver: strings.ToLower(getEnv("DB_DRIVER", DriverSQLite)),
		DBDSN:    getEnv("DB_DSN", "./whatsapp.db"),

		MediaStore:   strings.ToLower(getEnv("MEDIA_STORE", MediaStoreLocal)),
		MediaDir:     getEnv("MEDIA_DIR", "./media"),
		MediaBaseURL: strings.TrimRight(getEnv("MEDIA_BASE_URL", "/media"), "/"),
		S3Bucket:     getEnv("S3_BUCKET", ""),
		S3Prefix:     getEnv("S3_PREFIX", ""),
		AWSRegion:    getEnv("AWS_REGION", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "console"),
		LogFile:   getEnv("LOG_FILE", ""),

		SyncSchedule: getEnv("SYNC_SCHEDULE", ""),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	required := []struct {
		key   string
		value string
	}{
		{"VERIFY_TOKEN", c.VerifyToken},
		{"WHATSAPP_TOKEN", c.WhatsAppToken},
		{"WABA_ID", c.WhatsAppBusinessAccountID},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s environment variable is required", r.key)
		}
	}

	switch c.DBDriver {
	case DriverSQLite, DriverPostgres:
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}

	switch c.MediaStore {
	case MediaStoreLocal:
	case MediaStoreS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when MEDIA_STORE=s3")
		}
	default:
		return fmt.Errorf("unsupported MEDIA_STORE %q", c.MediaStore)
	}

	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("HTTP_TIMEOUT must be a positive duration")
	}
	return nil
}

// GraphURL joins path onto the versioned Graph API base.
func (c *Config) GraphURL(path string) string {
	return fmt.Sprintf("%s/%s/%s", c.GraphAPIURL, c.GraphAPIVersion, strings.TrimLeft(path, "/"))
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
