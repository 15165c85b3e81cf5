// Package config reads server settings from the environment, with an
// optional .env file for local development.
package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	// Addr is the listen address for the HTTP/websocket server.
	Addr string
	// Env selects logger construction: "dev" or "prod".
	Env string
	// WSOrigins are origin patterns accepted on the websocket upgrade.
	// Empty means same-origin only.
	WSOrigins []string
}

func Load() Config {
	// Missing .env is fine; real deployments set the environment directly.
	_ = godotenv.Load()

	cfg := Config{
		Addr: getenv("ADDR", ":8080"),
		Env:  getenv("ENV", "dev"),
	}
	if raw := os.Getenv("WS_ORIGINS"); raw != "" {
		for _, o := range strings.Split(raw, ",") {
			if o = strings.TrimSpace(o); o != "" {
				cfg.WSOrigins = append(cfg.WSOrigins, o)
			}
		}
	}
	return cfg
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
