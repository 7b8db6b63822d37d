package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the full application configuration.
type Config struct {
	Server    ServerConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	Redis     RedisConfig
	Database  DatabaseConfig
	World     WorldConfig
	Board     BoardConfig
	Sync      SyncConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// WebSocketConfig holds websocket transport settings.
type WebSocketConfig struct {
	ReadBufferSize   int
	WriteBufferSize  int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
}

// AuthConfig holds token settings.
type AuthConfig struct {
	JWTSecret   string
	TokenExpiry time.Duration
	AllowGuests bool
}

// RedisConfig holds presence-store settings. An empty Addr disables
// Redis-backed presence.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// DatabaseConfig holds the user-store connection. An empty DSN runs
// the relay without persistent identities.
type DatabaseConfig struct {
	DSN string
}

// WorldConfig bounds the shared map.
type WorldConfig struct {
	Width  float64
	Height float64
}

// BoardConfig bounds the whiteboard surface.
type BoardConfig struct {
	Width  float64
	Height float64
}

// SyncConfig paces document writes and awareness previews.
type SyncConfig struct {
	WriteThrottle   time.Duration
	PreviewThrottle time.Duration
	SnapshotEvery   time.Duration
}

// Load reads configuration from the environment, with .env support.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("ℹ️ No .env file found, using environment variables")
	}

	jwtSecret := getRequiredEnv("JWT_SECRET")
	if jwtSecret == "change-this-secret-in-production" {
		log.Fatal("🚨 CRITICAL: JWT_SECRET must be changed from default value in production!")
	}

	return &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8080"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 10*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		WebSocket: WebSocketConfig{
			ReadBufferSize:   getInt("WS_READ_BUFFER_SIZE", 16*1024),
			WriteBufferSize:  getInt("WS_WRITE_BUFFER_SIZE", 16*1024),
			HandshakeTimeout: getDuration("WS_HANDSHAKE_TIMEOUT", 10*time.Second),
			WriteTimeout:     getDuration("WS_WRITE_TIMEOUT", 5*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:   jwtSecret,
			TokenExpiry: getDuration("TOKEN_EXPIRY", 24*time.Hour),
			AllowGuests: getBool("ALLOW_GUESTS", true),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getInt("REDIS_DB", 0),
			TTL:      getDuration("PRESENCE_TTL", 30*time.Second),
		},
		Database: DatabaseConfig{
			DSN: getEnv("DATABASE_DSN", ""),
		},
		World: WorldConfig{
			Width:  getFloat("MAP_WIDTH", 1500),
			Height: getFloat("MAP_HEIGHT", 1500),
		},
		Board: BoardConfig{
			Width:  getFloat("BOARD_WIDTH", 3000),
			Height: getFloat("BOARD_HEIGHT", 2000),
		},
		Sync: SyncConfig{
			WriteThrottle:   getDuration("WRITE_THROTTLE", 25*time.Millisecond),
			PreviewThrottle: getDuration("PREVIEW_THROTTLE", 30*time.Millisecond),
			SnapshotEvery:   getDuration("SNAPSHOT_EVERY", time.Minute),
		},
	}
}

// getRequiredEnv returns the variable or exits.
func getRequiredEnv(key string) string {
	value := os.Getenv(key)
	if value == "" {
		log.Fatalf("🚨 CRITICAL: Required environment variable %s is not set!", key)
	}
	return value
}

// getEnv returns the variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		// Bare numbers are taken as milliseconds, matching the
		// throttle knobs these mostly configure.
		if !strings.ContainsAny(value, "smhu") {
			if n, err := strconv.Atoi(value); err == nil {
				return time.Duration(n) * time.Millisecond
			}
		}
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
