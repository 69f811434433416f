package config

import (
	"os"
	"strings"
	"time"
)

type Config struct {
	ServerPort string
	// PublicAddr is the WebSocket URL other servers reach this node on.
	PublicAddr  string
	SeedServers []string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	JWTSecret    string
	ResumeTTL    time.Duration
	PollInterval time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:   getEnv("SERVER_PORT", "8080"),
		PublicAddr:   getEnv("PUBLIC_ADDR", "ws://localhost:8080/ws"),
		SeedServers:  splitList(getEnv("SEED_SERVERS", "")),
		DBHost:       getEnv("DB_HOST", "localhost"),
		DBPort:       getEnv("DB_PORT", "5432"),
		DBUser:       getEnv("DB_USER", "lattice"),
		DBPassword:   getEnv("DB_PASSWORD", "lattice_dev_password"),
		DBName:       getEnv("DB_NAME", "lattice"),
		JWTSecret:    getEnv("JWT_SECRET", "dev-secret-change-me"),
		ResumeTTL:    getDuration("RESUME_TTL", 24*time.Hour),
		PollInterval: getDuration("POLL_INTERVAL", 5*time.Minute),
	}
}

func getEnv(key, fallback string) string {
	val, exists := os.LookupEnv(key)

	if exists {
		return val
	}

	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	val, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return d
}

func splitList(val string) []string {
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
