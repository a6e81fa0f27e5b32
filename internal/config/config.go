// Package config loads the control plane's configuration from a .env
// file (falling back to the process environment) using the same
// dotenv-loading convention the teacher's own entrypoint uses. Config
// resolves every option in the external-interfaces configuration table
// plus the operational knobs the ambient-stack expansion introduces.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config is every option the control plane's entrypoint needs to
// construct C1-C7. Every field has a default, so a zero-config run
// against a throwaway data directory works.
type Config struct {
	// External-interfaces table (§6).
	ProjectDomain string // PROJECT_DOMAIN, the wildcard base domain
	RootDir       string // ROOT_DIR, where site checkouts live
	Port          string // PORT, the control-plane HTTP port
	LogLevel      string // LOG_LEVEL
	Environment   string // production|development

	// Operational knobs the ambient-stack expansion introduces.
	DataDir             string        // where the registry database and proxy config live
	EditorDomain         string        // origin allowed to iframe preview routes
	DockerHost           string        // empty means the default local docker socket
	ProductionPortBase   int
	PreviewPortBase      int
	SessionPortBase      int
	SessionCap           int
	SessionTTL           time.Duration
	SweeperInterval      time.Duration
	ProxyReloadTimeout   time.Duration
	ProxyAdminAddr       string
	RedisURL             string // empty disables the shared route cache backend
	DatabaseDriver       string // sqlite|postgres
	DatabaseDSN          string // required when DatabaseDriver=postgres
}

// Load reads .env (ignoring a missing file, since the process
// environment alone is a valid configuration source) and resolves
// Config from the merged environment.
func Load() Config {
	_ = godotenv.Load()

	dataDir := getEnv("DATA_DIR", "./data")
	return Config{
		ProjectDomain: getEnv("PROJECT_DOMAIN", "dev.deploy"),
		RootDir:       getEnv("ROOT_DIR", "./sites"),
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "INFO"),
		Environment:   getEnv("ENVIRONMENT", "development"),

		DataDir:            dataDir,
		EditorDomain:       getEnv("EDITOR_DOMAIN", "editor.dev.deploy"),
		DockerHost:         getEnv("DOCKER_HOST", ""),
		ProductionPortBase: getEnvInt("PRODUCTION_PORT_BASE", 3001),
		PreviewPortBase:    getEnvInt("PREVIEW_PORT_BASE", 4001),
		SessionPortBase:    getEnvInt("SESSION_PORT_BASE", 5000),
		SessionCap:         getEnvInt("SESSION_CAP", 5),
		SessionTTL:         getEnvDuration("SESSION_TTL", 2*time.Hour),
		SweeperInterval:    getEnvDuration("SWEEPER_INTERVAL", 5*time.Minute),
		ProxyReloadTimeout: getEnvDuration("PROXY_RELOAD_TIMEOUT", 10*time.Second),
		ProxyAdminAddr:     getEnv("PROXY_ADMIN_ADDR", "localhost:2019"),
		RedisURL:           getEnv("REDIS_URL", ""),
		DatabaseDriver:     getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:        getEnv("DATABASE_URL", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
