// Package config provides environment-based configuration.
//
// Loads from .env file (godotenv), maps to Config struct via go-simpler/env
// struct tags, then applies command-line flag overrides for the small
// surface the original CLI exposed (--watch-dir, --host, --port, --debug).
package config
