package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
)

const DefaultAPIURL = "https://ecommerce-backend-production-ce4e.up.railway.app"

type Config struct {
	APIURL           string        `validate:"required,url"`
	HTTPTimeout      time.Duration `validate:"gt=0"`
	OperationTimeout time.Duration `validate:"gt=0"`

	CredentialStore    string `validate:"oneof=file memory postgres"`
	CredentialPath     string `validate:"required_if=CredentialStore file"`
	DatabaseURL        string `validate:"required_if=CredentialStore postgres"`
	TokenEncryptionKey string `validate:"omitempty,base64"`

	LogLevel  string `validate:"oneof=trace debug info warn error disabled"`
	LogFormat string `validate:"oneof=console json"`

	MetricsAddr string

	DevBackendAddr      string        `validate:"required"`
	DevBackendJWTSecret string        `validate:"required"`
	DevBackendCatalog   string        `validate:"omitempty,file"`
	DevBackendTokenTTL  time.Duration `validate:"gt=0"`
}

func Load() Config {
	return Config{
		APIURL:              getEnv("STOREFRONT_API_URL", DefaultAPIURL),
		HTTPTimeout:         getDuration("STOREFRONT_HTTP_TIMEOUT", 10*time.Second),
		OperationTimeout:    getDuration("STOREFRONT_OP_TIMEOUT", 15*time.Second),
		CredentialStore:     getEnv("STOREFRONT_CREDENTIAL_STORE", "file"),
		CredentialPath:      getEnv("STOREFRONT_CREDENTIAL_PATH", defaultCredentialPath()),
		DatabaseURL:         getEnv("DATABASE_URL", ""),
		TokenEncryptionKey:  getEnv("TOKEN_ENCRYPTION_KEY", ""),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "console"),
		MetricsAddr:         getEnv("METRICS_ADDR", ""),
		DevBackendAddr:      getEnv("DEV_BACKEND_ADDR", ":18080"),
		DevBackendJWTSecret: getEnv("DEV_BACKEND_JWT_SECRET", "change-this-secret"),
		DevBackendCatalog:   getEnv("DEV_BACKEND_CATALOG", ""),
		DevBackendTokenTTL:  getDuration("DEV_BACKEND_TOKEN_TTL", 24*time.Hour),
	}
}

// Validate checks the loaded values against their struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}
	return nil
}

func defaultCredentialPath() string {
	dir, err := os.UserConfigDir()
	if err != nil || dir == "" {
		return filepath.Join(".storefront", "credential.json")
	}
	return filepath.Join(dir, "storefront", "credential.json")
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
