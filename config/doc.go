// Package config loads bootstrap settings from `env`-tagged struct fields
// (caarlos0/env), optionally seeded from a .env file.
package config
