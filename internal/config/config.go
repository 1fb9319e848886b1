package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

const (
	StorageLocal = "local"
	StorageS3    = "s3"
)

type Config struct {
	ListenAddr  string
	DatabaseURL string

	StorageDriver       string
	StorageLocalPath    string
	StorageLocalBaseURL string
	S3Bucket            string
	S3Region            string
	S3Prefix            string
	S3EndpointURL       string
	S3AccessKeyID       string
	S3SecretAccessKey   string

	DeletePolicy   string
	MaxUploadBytes int64
	AllowedOrigins []string
	AllowedHosts   []string

	LogLevel  string
	LogFormat string
	LogFile   string
}

func Load() *Config {
	return &Config{
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		DatabaseURL:         getEnv("DATABASE_URL", "sqlite:///./data/meme_generator.db"),
		StorageDriver:       strings.ToLower(getEnv("STORAGE_DRIVER", StorageLocal)),
		StorageLocalPath:    getEnv("STORAGE_LOCAL_PATH", "data/templates"),
		StorageLocalBaseURL: getEnv("STORAGE_LOCAL_BASE_URL", "/static/templates"),
		S3Bucket:            getEnv("STORAGE_S3_BUCKET", ""),
		S3Region:            getEnv("STORAGE_S3_REGION", "us-east-1"),
		S3Prefix:            getEnv("STORAGE_S3_PREFIX", "templates/"),
		S3EndpointURL:       getEnv("STORAGE_S3_ENDPOINT_URL", ""),
		S3AccessKeyID:       getEnv("STORAGE_S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey:   getEnv("STORAGE_S3_SECRET_ACCESS_KEY", ""),
		DeletePolicy:        getEnv("TEMPLATE_DELETE_POLICY", "tolerate"),
		MaxUploadBytes:      getEnvInt64("MAX_UPLOAD_BYTES", 20<<20),
		AllowedOrigins:      splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:5173")),
		AllowedHosts:        splitList(getEnv("ALLOWED_HOSTS", "localhost:5173,localhost")),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "json"),
		LogFile:             getEnv("LOG_FILE", ""),
	}
}

// Validate reports every misconfiguration at once.
func (c *Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	switch c.StorageDriver {
	case StorageLocal:
		if c.StorageLocalPath == "" {
			errs = append(errs, errors.New("STORAGE_LOCAL_PATH is required for the local driver"))
		}
	case StorageS3:
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("STORAGE_S3_BUCKET is required for the s3 driver"))
		}
		if (c.S3AccessKeyID == "") != (c.S3SecretAccessKey == "") {
			errs = append(errs, errors.New("STORAGE_S3_ACCESS_KEY_ID and STORAGE_S3_SECRET_ACCESS_KEY must be set together"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver))
	}
	switch strings.ToLower(c.DeletePolicy) {
	case "tolerate", "abort":
	default:
		errs = append(errs, fmt.Errorf("unknown TEMPLATE_DELETE_POLICY %q", c.DeletePolicy))
	}
	if c.MaxUploadBytes <= 0 {
		errs = append(errs, errors.New("MAX_UPLOAD_BYTES must be a positive integer"))
	}
	return errors.Join(errs...)
}

func getEnv(key, defaultVal string) string {
	if val, exists := os.LookupEnv(key); exists {
		return val
	}
	return defaultVal
}

// getEnvInt64 returns -1 for unparsable values so Validate rejects them.
func getEnvInt64(key string, defaultVal int64) int64 {
	val, exists := os.LookupEnv(key)
	if !exists {
		return defaultVal
	}
	n, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64)
	if err != nil {
		return -1
	}
	return n
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
