package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/andretpc/rinha/bootstrap"
	"github.com/andretpc/rinha/mongo"
	"github.com/andretpc/rinha/zap"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config is the bootstrap runtime configuration.
type Config struct {
	EnvName  string `env:"ENV_NAME"`
	LogLevel string `env:"LOG_LEVEL"`

	MongoURL      string `env:"MONGODB_URL"`
	MongoScheme   string `env:"MONGO_SCHEME"`
	MongoHost     string `env:"MONGO_HOST"`
	MongoPort     string `env:"MONGO_PORT"`
	MongoUser     string `env:"MONGO_USER"`
	MongoPassword string `env:"MONGO_PASSWORD"`

	MongoMaxPoolSize            int64  `env:"MONGO_MAX_POOL_SIZE"`
	MongoServerSelectionTimeout int64  `env:"MONGO_SERVER_SELECTION_TIMEOUT_MS"`
	MongoTLSCACert              string `env:"MONGO_TLS_CA_CERT"`
}

// Load reads envFile when it exists, then the process environment, and fills
// defaults. Variables already set in the environment win over the file.
func Load(envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("reading environment: %w", err)
	}

	cfg.applyDefaults()

	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.EnvName == "" {
		c.EnvName = string(zap.EnvironmentProduction)
	}

	if c.MongoScheme == "" {
		c.MongoScheme = "mongodb"
	}

	if c.MongoHost == "" {
		c.MongoHost = "localhost"
	}

	if c.MongoPort == "" && c.MongoScheme == "mongodb" {
		c.MongoPort = "27017"
	}
}

// MongoURI returns MONGODB_URL, or a URI assembled from the MONGO_* parts.
func (c *Config) MongoURI() (string, error) {
	if strings.TrimSpace(c.MongoURL) != "" {
		return c.MongoURL, nil
	}

	return mongo.URIConfig{
		Scheme:   c.MongoScheme,
		Username: c.MongoUser,
		Password: c.MongoPassword,
		Host:     c.MongoHost,
		Port:     c.MongoPort,
	}.Build()
}

// Mongo builds the client configuration. The database is always
// bootstrap.DatabaseName.
func (c *Config) Mongo() (mongo.Config, error) {
	uri, err := c.MongoURI()
	if err != nil {
		return mongo.Config{}, err
	}

	if c.MongoMaxPoolSize < 0 {
		return mongo.Config{}, fmt.Errorf("%w: MONGO_MAX_POOL_SIZE must not be negative", mongo.ErrInvalidConfig)
	}

	cfg := mongo.Config{
		URI:                    uri,
		Database:               bootstrap.DatabaseName,
		MaxPoolSize:            uint64(c.MongoMaxPoolSize),
		ServerSelectionTimeout: time.Duration(c.MongoServerSelectionTimeout) * time.Millisecond,
	}

	if c.MongoTLSCACert != "" {
		cfg.TLS = &mongo.TLSConfig{CACertBase64: c.MongoTLSCACert}
	}

	return cfg, nil
}

// Logger builds the zap configuration.
func (c *Config) Logger(libraryName string) zap.Config {
	return zap.Config{
		Environment:     zap.Environment(c.EnvName),
		Level:           c.LogLevel,
		OTelLibraryName: libraryName,
	}
}
