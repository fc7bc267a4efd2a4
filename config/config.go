package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the application configuration.
type Config struct {
	ListenAddr string

	// Catalog provider (track/album/playlist metadata)
	CatalogAPIURL   string
	CatalogAPIToken string
	CatalogRetries  int
	CatalogBackoff  time.Duration

	// Search backend (video platform)
	SearchAPIURL    string
	SearchMaxHits   int
	MatchDurWeight  float64 // weight of duration closeness in match scoring
	MatchTextWeight float64 // weight of title similarity in match scoring
	MatchMaxDurGap  int     // hard duration filter in seconds

	// Fetch/transcode worker
	FFmpegPath     string
	TempDir        string
	FetchRetries   int
	FetchBackoff   time.Duration
	FetchTimeout   time.Duration
	WorkerSlots    int           // global concurrency cap toward the video platform
	RequestSpacing time.Duration // minimum spacing between upstream requests
	ProduceTimeout time.Duration // budget for a full match+fetch+transcode run
	WaitTimeout    time.Duration // how long a request waits on in-flight production
	ProxyFile      string        // optional rotating proxy pool, JSON
	ProxyCooldown  time.Duration

	// Quotas and tiers
	FreeDailyLimit  int
	StandardBitrate int // kbps
	HighBitrate     int // kbps

	// Auth
	JWTSecret string
	AdminIDs  []int64

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	MinioBucket    string
	MinioRegion    string
	MinioUseSSL    bool
}

// getEnv gets an environment variable or returns a default value.
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

// getEnvInt gets an environment variable as int or returns a default value.
func getEnvInt(key string, fallback int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return fallback
}

// getEnvFloat gets an environment variable as float64 or returns a default value.
func getEnvFloat(key string, fallback float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return fallback
}

// getEnvBool gets an environment variable as bool or returns a default value.
func getEnvBool(key string, fallback bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return fallback
}

// getEnvDuration gets an environment variable as a duration in seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return fallback
}

// getEnvIDList parses a comma separated list of numeric ids.
func getEnvIDList(key string) []int64 {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if id, err := strconv.ParseInt(part, 10, 64); err == nil {
			ids = append(ids, id)
		}
	}
	return ids
}

// Load loads configuration from environment variables (via .env file) or defaults.
func Load() *Config {
	// Attempt to load .env file. godotenv.Load() will not override existing env vars.
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading .env, relying on existing environment variables and defaults.")
	}

	return &Config{
		ListenAddr: getEnv("LISTEN_ADDR", ":8080"),

		CatalogAPIURL:   getEnv("CATALOG_API_URL", "http://localhost:3000"),
		CatalogAPIToken: os.Getenv("CATALOG_API_TOKEN"),
		CatalogRetries:  getEnvInt("CATALOG_RETRIES", 3),
		CatalogBackoff:  getEnvDuration("CATALOG_BACKOFF_SECONDS", 2*time.Second),

		SearchAPIURL:    getEnv("SEARCH_API_URL", "http://localhost:3001"),
		SearchMaxHits:   getEnvInt("SEARCH_MAX_HITS", 5),
		MatchDurWeight:  getEnvFloat("MATCH_DURATION_WEIGHT", 0.4),
		MatchTextWeight: getEnvFloat("MATCH_TITLE_WEIGHT", 0.6),
		MatchMaxDurGap:  getEnvInt("MATCH_MAX_DURATION_GAP", 5),

		FFmpegPath:     getEnv("FFMPEG_PATH", "ffmpeg"),
		TempDir:        getEnv("TEMP_DIR", "temp"),
		FetchRetries:   getEnvInt("FETCH_RETRIES", 3),
		FetchBackoff:   getEnvDuration("FETCH_BACKOFF_SECONDS", 3*time.Second),
		FetchTimeout:   getEnvDuration("FETCH_TIMEOUT_SECONDS", 120*time.Second),
		WorkerSlots:    getEnvInt("WORKER_SLOTS", 4),
		RequestSpacing: getEnvDuration("REQUEST_SPACING_SECONDS", 2*time.Second),
		ProduceTimeout: getEnvDuration("PRODUCE_TIMEOUT_SECONDS", 300*time.Second),
		WaitTimeout:    getEnvDuration("WAIT_TIMEOUT_SECONDS", 180*time.Second),
		ProxyFile:      getEnv("PROXY_FILE", "proxies.json"),
		ProxyCooldown:  getEnvDuration("PROXY_COOLDOWN_SECONDS", 30*time.Minute),

		FreeDailyLimit:  getEnvInt("FREE_DAILY_LIMIT", 10),
		StandardBitrate: getEnvInt("STANDARD_BITRATE", 128),
		HighBitrate:     getEnvInt("HIGH_BITRATE", 320),

		JWTSecret: getEnv("JWT_SECRET", "melodex-dev-secret"),
		AdminIDs:  getEnvIDList("ADMINS"),

		DBHost:     getEnv("DB_HOST", "127.0.0.1"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "root"),
		DBPassword: os.Getenv("DB_PASSWORD"), // For password, better not to have a hardcoded default
		DBName:     getEnv("DB_NAME", "melodex"),

		RedisHost:     getEnv("REDIS_HOST", "127.0.0.1"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", "minioadmin"),
		MinioSecretKey: os.Getenv("MINIO_SECRET_KEY"),
		MinioBucket:    getEnv("MINIO_BUCKET", "melodex"),
		MinioRegion:    getEnv("MINIO_REGION", "us-east-1"),
		MinioUseSSL:    getEnvBool("MINIO_USE_SSL", false),
	}
}

// IsAdmin reports whether the given user id is in the admin list.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminIDs {
		if id == userID {
			return true
		}
	}
	return false
}
