// Package config handles application configuration and environment loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Catalog backend names accepted by CATALOG_BACKEND.
const (
	BackendFile     = "file"
	BackendDynamo   = "dynamo"
	BackendPostgres = "postgres"
)

// AuthConfig holds recipient authentication configuration.
type AuthConfig struct {
	JWTSecret      string // HS256 shared secret for bearer tokens
	AllowAnonymous bool   // serve unauthenticated requests as the anonymous recipient
}

// Config holds the configuration for the sharing server.
type Config struct {
	ListenAddr        string // HTTP listen address (default ":8080")
	TLSCertFile       string // TLS certificate file path (optional)
	TLSKeyFile        string // TLS private key file path (optional)
	AllowInsecureHTTP bool   // allow non-TLS listener in production (for trusted TLS termination)
	LogLevel          string // log level: debug, info, warn, error (default "info")
	Env               string // environment: "development" (default) or "production"

	// Catalog backend selection and per-backend settings.
	CatalogBackend string // file | dynamo | postgres (default "file")
	ShareFilePath  string // file backend: path to the share declaration file
	DynamoTable    string // dynamo backend: table name
	DynamoRegion   string // dynamo backend: AWS region
	DynamoEndpoint string // dynamo backend: endpoint override (local stacks)
	PostgresDSN    string // postgres backend: connection string

	// Table query behavior.
	URLExpiry        time.Duration // pre-signed URL lifetime (default 15m)
	MaxFilesPerQuery int           // hard cap on files per query response (default 1000)

	// Storage credentials for the URL signers. Each block is optional;
	// paths with no registered signer are returned unsigned.
	S3Region       string
	S3KeyID        string
	S3Secret       string
	S3Endpoint     string
	S3UsePathStyle bool
	GCSKeyFile     string // service account key file for GCS signing
	AzureAccount   string
	AzureKey       string

	// Rate limiting
	RateLimitRPS   float64 // sustained requests per second (default 100)
	RateLimitBurst int     // burst capacity (default 200)

	// CORS
	CORSAllowedOrigins []string // allowed origins for CORS (default: ["*"])

	// Auth holds recipient authentication configuration.
	Auth AuthConfig

	// Warnings collects non-fatal warnings generated during config loading.
	// These are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsProduction returns true when the server is running in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// HasS3Config returns true if all fields required for S3 signing are set.
func (c *Config) HasS3Config() bool {
	return c.S3Region != "" && c.S3KeyID != "" && c.S3Secret != ""
}

// HasAzureConfig returns true if Azure SAS signing is configured.
func (c *Config) HasAzureConfig() bool {
	return c.AzureAccount != "" && c.AzureKey != ""
}

// LoadFromEnv loads configuration from environment variables.
// Storage credential variables are optional — the server can start
// without them and returns unsigned URLs for uncovered schemes.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		ListenAddr:     os.Getenv("LISTEN_ADDR"),
		TLSCertFile:    os.Getenv("TLS_CERT_FILE"),
		TLSKeyFile:     os.Getenv("TLS_KEY_FILE"),
		LogLevel:       os.Getenv("LOG_LEVEL"),
		Env:            os.Getenv("ENV"),
		CatalogBackend: strings.ToLower(os.Getenv("CATALOG_BACKEND")),
		ShareFilePath:  os.Getenv("SHARE_FILE_PATH"),
		DynamoTable:    os.Getenv("DYNAMO_TABLE"),
		DynamoRegion:   os.Getenv("DYNAMO_REGION"),
		DynamoEndpoint: os.Getenv("DYNAMO_ENDPOINT"),
		PostgresDSN:    os.Getenv("POSTGRES_DSN"),
		S3Region:       os.Getenv("S3_REGION"),
		S3KeyID:        os.Getenv("S3_KEY_ID"),
		S3Secret:       os.Getenv("S3_SECRET"),
		S3Endpoint:     os.Getenv("S3_ENDPOINT"),
		S3UsePathStyle: parseBoolEnvDefault("S3_USE_PATH_STYLE", false),
		GCSKeyFile:     os.Getenv("GCS_KEY_FILE"),
		AzureAccount:   os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureKey:       os.Getenv("AZURE_STORAGE_KEY"),
	}

	// Query behavior
	if v := os.Getenv("URL_EXPIRY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("URL_EXPIRY must be a duration (e.g. 15m): %w", err)
		}
		cfg.URLExpiry = d
	}
	if v := os.Getenv("MAX_FILES_PER_QUERY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("MAX_FILES_PER_QUERY must be a positive integer")
		}
		cfg.MaxFilesPerQuery = n
	}

	// Rate limiting
	if v := os.Getenv("RATE_LIMIT_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.RateLimitRPS = f
		}
	}
	if v := os.Getenv("RATE_LIMIT_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RateLimitBurst = n
		}
	}

	// CORS
	if v := os.Getenv("CORS_ALLOWED_ORIGINS"); v != "" {
		origins := strings.Split(v, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
		cfg.CORSAllowedOrigins = origins
	}
	if strings.EqualFold(os.Getenv("ALLOW_INSECURE_HTTP"), "true") {
		cfg.AllowInsecureHTTP = true
	}

	// Auth config
	cfg.Auth = AuthConfig{
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AllowAnonymous: parseBoolEnvDefault("AUTH_ALLOW_ANONYMOUS", false),
	}

	// Defaults
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.CatalogBackend == "" {
		cfg.CatalogBackend = BackendFile
	}
	if cfg.URLExpiry == 0 {
		cfg.URLExpiry = 15 * time.Minute
	}
	if cfg.MaxFilesPerQuery == 0 {
		cfg.MaxFilesPerQuery = 1000
	}
	if cfg.RateLimitRPS == 0 {
		cfg.RateLimitRPS = 100
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = 200
	}
	if len(cfg.CORSAllowedOrigins) == 0 {
		cfg.CORSAllowedOrigins = []string{"*"}
	}

	// Backend requirements
	switch cfg.CatalogBackend {
	case BackendFile:
		if cfg.ShareFilePath == "" {
			cfg.ShareFilePath = "shares.yaml"
			cfg.Warnings = append(cfg.Warnings, "SHARE_FILE_PATH not set — defaulting to shares.yaml")
		}
	case BackendDynamo:
		if cfg.DynamoTable == "" {
			return nil, fmt.Errorf("DYNAMO_TABLE is required when CATALOG_BACKEND=dynamo")
		}
	case BackendPostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("POSTGRES_DSN is required when CATALOG_BACKEND=postgres")
		}
	default:
		return nil, fmt.Errorf("unknown CATALOG_BACKEND %q (expected file, dynamo, or postgres)", cfg.CatalogBackend)
	}

	if (cfg.TLSCertFile == "") != (cfg.TLSKeyFile == "") {
		return nil, fmt.Errorf("both TLS_CERT_FILE and TLS_KEY_FILE must be set together")
	}
	if cfg.Auth.JWTSecret == "" && !cfg.Auth.AllowAnonymous {
		return nil, fmt.Errorf("JWT_SECRET is required unless AUTH_ALLOW_ANONYMOUS=true")
	}
	if cfg.Auth.AllowAnonymous {
		cfg.Warnings = append(cfg.Warnings, "anonymous access is enabled — every public share is readable without a token")
	}
	if !cfg.HasS3Config() && !cfg.HasAzureConfig() && cfg.GCSKeyFile == "" {
		cfg.Warnings = append(cfg.Warnings, "no storage credentials configured — file URLs will be returned unsigned")
	}

	// Production mode: insecure defaults are fatal errors.
	if cfg.IsProduction() {
		if cfg.Auth.JWTSecret == "" {
			return nil, fmt.Errorf("JWT_SECRET must be set in production (ENV=production)")
		}
		if len(cfg.CORSAllowedOrigins) == 1 && cfg.CORSAllowedOrigins[0] == "*" {
			return nil, fmt.Errorf("CORS wildcard (*) is not allowed in production (ENV=production)")
		}
		if cfg.TLSCertFile == "" && !cfg.AllowInsecureHTTP {
			return nil, fmt.Errorf("TLS_CERT_FILE/TLS_KEY_FILE must be set in production unless ALLOW_INSECURE_HTTP=true")
		}
	}

	return cfg, nil
}

func parseBoolEnvDefault(key string, defaultVal bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(key)))
	if v == "" {
		return defaultVal
	}
	if v == "0" || v == "false" || v == "no" || v == "off" {
		return false
	}
	if v == "1" || v == "true" || v == "yes" || v == "on" {
		return true
	}
	return defaultVal
}

// LoadDotEnv reads a .env file and sets any variables not already in the environment.
// Lines must be in KEY=VALUE format. Comments (#) and blank lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		value = stripQuotes(value)
		// Only set if not already in the environment (env vars take precedence)
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
// Only strips if both the first and last characters are matching quotes.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
