// Package config reads process settings from the environment. Both binaries
// load a .env file first through godotenv/autoload.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sijeecodes/SaveTheShip/internal/database"
)

// Config holds every tunable of the matchmaker and the room server.
type Config struct {
	Port           string
	MatchmakerPort string
	LogLevel       string
	AllowedOrigins []string

	// Lobby store selection: memory, redis or postgres.
	LobbyStore  string
	RedisAddr   string
	RedisDB     int
	DatabaseURL string

	ServerEndpoint    string
	LobbyMaxPlayers   int
	MatchmakeAttempts int
	LobbyTTL          time.Duration
	SaboteurCount     int
	ReapInterval      time.Duration

	RoomMaxPlayers int
	RoomMinPlayers int
	PanelCount     int
	PanelsToFix    int
	FixDuration    time.Duration
	ClampToBounds  bool
	SendBuffer     int
	LobbySync      bool
}

// Load reads Config from the environment, falling back to defaults.
func Load() Config {
	port := getEnv("PORT", "8080")
	c := Config{
		Port:           port,
		MatchmakerPort: getEnv("MATCHMAKER_PORT", "8081"),
		LogLevel:       getEnv("LOG_LEVEL", "debug"),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", "*")),

		LobbyStore:  strings.ToLower(getEnv("LOBBY_STORE", "memory")),
		RedisAddr:   getEnv("REDIS_ADDR", "localhost:6379"),
		RedisDB:     getEnvInt("REDIS_DB", 0),
		DatabaseURL: databaseURL(),

		ServerEndpoint:    getEnv("SERVER_ENDPOINT", "ws://localhost:"+port+"/ws"),
		LobbyMaxPlayers:   getEnvInt("LOBBY_MAX_PLAYERS", 5),
		MatchmakeAttempts: getEnvInt("MATCHMAKE_ATTEMPTS", 3),
		LobbyTTL:          getEnvDuration("LOBBY_TTL", 15*time.Minute),
		SaboteurCount:     getEnvInt("SABOTEUR_COUNT", 1),
		ReapInterval:      getEnvDuration("REAP_INTERVAL", time.Minute),

		RoomMaxPlayers: getEnvInt("ROOM_MAX_PLAYERS", 5),
		RoomMinPlayers: getEnvInt("ROOM_MIN_PLAYERS", 2),
		PanelCount:     getEnvInt("PANEL_COUNT", 8),
		PanelsToFix:    getEnvInt("PANELS_TO_FIX", 6),
		FixDuration:    getEnvDuration("FIX_DURATION", 5*time.Second),
		ClampToBounds:  getEnvBool("CLAMP_TO_BOUNDS", false),
		SendBuffer:     getEnvInt("SEND_BUFFER", 32),
		LobbySync:      getEnvBool("LOBBY_SYNC", false),
	}
	return c
}

// databaseURL prefers DATABASE_URL and otherwise assembles one from the
// discrete POSTGRES_* / PG_* variables.
func databaseURL() string {
	if url := os.Getenv("DATABASE_URL"); url != "" {
		return url
	}
	return database.ConnString(
		getEnv("POSTGRES_USER", "postgres"),
		getEnv("POSTGRES_PASSWORD", "postgres"),
		getEnv("PG_HOST", "localhost"),
		getEnv("PG_PORT", "5432"),
		getEnv("PG_DATABASE", "savetheship"),
	)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// getEnv retrieves an environment variable's value or returns a default.
func getEnv(key, defVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defVal
}

// getEnvInt retrieves an integer value from an environment variable or returns a default value.
func getEnvInt(key string, defVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defVal
	}
	return i
}

func getEnvBool(key string, defVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defVal
	}
	return b
}

// getEnvDuration accepts Go duration strings ("90s") or a bare number of seconds.
func getEnvDuration(key string, defVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defVal
}
