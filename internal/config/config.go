package config

import (
	"os"
	"strconv"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// Storage drivers
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	Port        string
	Environment string
	// Storage
	Driver           string
	DatabaseURL      string
	MongoURI         string
	MongoDatabase    string
	CollectionPrefix string
	// Document types; empty uses the built-in manifest
	CatalogPath string
	// HTTP
	CORSOrigins string
	JWKSURL     string // bearer auth is disabled when empty
	JWTIssuer   string
	JWTAudience string
	// Logging
	LogDir      string
	LogMaxFiles int
	// Debug flags
	Debug bool // Enables debug-level logging
}

func Load() *Config {
	env := getEnv("ENVIRONMENT", "dev")

	return &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      env,
		Driver:           strings.ToLower(getEnv("DB_DRIVER", DriverMemory)),
		DatabaseURL:      getEnv("DATABASE_URL", ""),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase:    getEnv("MONGO_DATABASE", "camo"),
		CollectionPrefix: getCollectionPrefix(env),
		CatalogPath:      getEnv("CATALOG_PATH", ""),
		CORSOrigins:      getEnv("CORS_ORIGINS", "http://localhost:3000"),
		JWKSURL:          getEnv("JWKS_URL", ""),
		JWTIssuer:        getEnv("JWT_ISSUER", ""),
		JWTAudience:      getEnv("JWT_AUDIENCE", ""),
		LogDir:           getEnv("LOG_DIR", ""),
		LogMaxFiles:      getEnvInt("LOG_MAX_FILES", 10),
		// Debug flags - default to true in dev/test, false in production
		Debug: getEnv("DEBUG", getDefaultDebug(env)) == "true",
	}
}

// Validate checks the settings needed by the selected driver are present
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required),
		validation.Field(&c.Driver, validation.Required, validation.In(DriverMemory, DriverPostgres, DriverMongo)),
		validation.Field(&c.DatabaseURL, validation.When(c.Driver == DriverPostgres, validation.Required)),
		validation.Field(&c.MongoURI, validation.When(c.Driver == DriverMongo, validation.Required)),
		validation.Field(&c.MongoDatabase, validation.When(c.Driver == DriverMongo, validation.Required)),
		validation.Field(&c.JWKSURL, is.URL),
		validation.Field(&c.JWTIssuer, validation.When(c.JWKSURL == "", validation.Empty.Error("requires JWKS_URL"))),
		validation.Field(&c.JWTAudience, validation.When(c.JWKSURL == "", validation.Empty.Error("requires JWKS_URL"))),
		validation.Field(&c.LogMaxFiles, validation.Min(1)),
	)
}

// AllowedOrigins splits CORS_ORIGINS on commas
func (c *Config) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// getDefaultDebug returns the default debug setting based on environment
func getDefaultDebug(env string) string {
	if env == "prod" {
		return "false"
	}
	return "true" // Enable DEBUG in dev/test by default
}

// getCollectionPrefix returns the collection prefix based on environment
func getCollectionPrefix(env string) string {
	// Allow manual override via COLLECTION_PREFIX env var
	if prefix, ok := os.LookupEnv("COLLECTION_PREFIX"); ok {
		return prefix
	}

	// Auto-generate based on environment
	switch env {
	case "prod":
		return "prod_"
	case "test":
		return "test_"
	default:
		return "dev_"
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return n
}
