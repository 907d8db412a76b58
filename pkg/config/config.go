package config

import (
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server struct {
		Port    string
		Env     string
		Timeout time.Duration
	}

	// Database configuration
	Database struct {
		Host     string
		Port     string
		User     string
		Password string
		Name     string
		SSLMode  string
		MaxConns int
		Timeout  time.Duration
	}

	// Redis configuration (broadcast relay fanout)
	Redis struct {
		Addr         string
		RelayEnabled bool
	}

	// JWT configuration
	JWT struct {
		Secret string
		Expiry time.Duration
	}

	// Chat configuration
	Chat struct {
		CommandPrefix     string
		MaxMessageLength  int
		HeartbeatInterval time.Duration
		SweepInterval     time.Duration
		HistorySnapshot   int

		// Sliding-window rate limiting, per role
		RateWindow         time.Duration
		ParticipantCap     int
		HostCap            int
		ModeratorCap       int
		SendBuffer         int
	}

	// Moderation configuration. Escalation thresholds are deliberately
	// tunable rather than fixed constants.
	Moderation struct {
		WarningsBeforeMute  int
		SevereBeforeBan     int
		EscalationWindow    time.Duration
		AutoMuteDuration    time.Duration
		AutoBanDuration     time.Duration
		ProfanitySeverity   int // severity at or above which a block also warns
		MaxCapsRatio        float64
		MaxLinksPerMessage  int
	}

	// Spam heuristics configuration
	Spam struct {
		MaxRepetitionRatio float64
		DuplicateLimit     int
		DuplicateMemory    int
		MaxLinks           int
		PenaltyDuration    time.Duration
	}

	// Export configuration
	Export struct {
		ArtifactTTL time.Duration
		MaxRecords  int
	}

	// Security configuration for the HTTP surface
	Security struct {
		RateLimit      float64
		RateLimitBurst int
		AllowedOrigins []string
		RelayToken     string
	}

	// Logging configuration
	Logging struct {
		Level  string
		Format string
	}
}

var (
	instance *Config
	once     sync.Once
)

// New creates a new Config instance with values from environment variables
// Uses singleton pattern to ensure only one instance exists
func New() *Config {
	once.Do(func() {
		// Load .env file if exists
		godotenv.Load()

		instance = &Config{}

		// Server config
		instance.Server.Port = getEnvString("PORT", "8082")
		instance.Server.Env = getEnvString("APP_ENV", "development")
		instance.Server.Timeout = getEnvDuration("SERVER_TIMEOUT", 30*time.Second)

		// Database config
		instance.Database.Host = getEnvString("DB_HOST", "localhost")
		instance.Database.Port = getEnvString("DB_PORT", "5432")
		instance.Database.User = getEnvString("DB_USER", "postgres")
		instance.Database.Password = getEnvString("DB_PASSWORD", "postgres")
		instance.Database.Name = getEnvString("DB_NAME", "interview-chat")
		instance.Database.SSLMode = getEnvString("DB_SSL_MODE", "disable")
		instance.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 20)
		instance.Database.Timeout = getEnvDuration("DB_TIMEOUT", 5*time.Second)

		// Redis config
		instance.Redis.Addr = getEnvString("REDIS_URL", "localhost:6379")
		instance.Redis.RelayEnabled = getEnvBool("RELAY_ENABLED", false)

		// JWT config
		instance.JWT.Secret = getEnvString("JWT_SECRET", "default-jwt-secret-do-not-use-in-production")
		instance.JWT.Expiry = getEnvDuration("JWT_EXPIRY", 24*time.Hour)

		// Chat config
		instance.Chat.CommandPrefix = getEnvString("CHAT_COMMAND_PREFIX", "/")
		instance.Chat.MaxMessageLength = getEnvInt("CHAT_MAX_MESSAGE_LENGTH", 2000)
		instance.Chat.HeartbeatInterval = getEnvDuration("CHAT_HEARTBEAT_INTERVAL", 60*time.Second)
		instance.Chat.SweepInterval = getEnvDuration("CHAT_SWEEP_INTERVAL", 30*time.Second)
		instance.Chat.HistorySnapshot = getEnvInt("CHAT_HISTORY_SNAPSHOT", 50)
		instance.Chat.RateWindow = getEnvDuration("CHAT_RATE_WINDOW", 60*time.Second)
		instance.Chat.ParticipantCap = getEnvInt("CHAT_RATE_CAP_PARTICIPANT", 10)
		instance.Chat.HostCap = getEnvInt("CHAT_RATE_CAP_HOST", 30)
		instance.Chat.ModeratorCap = getEnvInt("CHAT_RATE_CAP_MODERATOR", 60)
		instance.Chat.SendBuffer = getEnvInt("CHAT_SEND_BUFFER", 256)

		// Moderation config
		instance.Moderation.WarningsBeforeMute = getEnvInt("MOD_WARNINGS_BEFORE_MUTE", 3)
		instance.Moderation.SevereBeforeBan = getEnvInt("MOD_SEVERE_BEFORE_BAN", 3)
		instance.Moderation.EscalationWindow = getEnvDuration("MOD_ESCALATION_WINDOW", 10*time.Minute)
		instance.Moderation.AutoMuteDuration = getEnvDuration("MOD_AUTO_MUTE_DURATION", 5*time.Minute)
		instance.Moderation.AutoBanDuration = getEnvDuration("MOD_AUTO_BAN_DURATION", 24*time.Hour)
		instance.Moderation.ProfanitySeverity = getEnvInt("MOD_PROFANITY_SEVERITY", 3)
		instance.Moderation.MaxCapsRatio = getEnvFloat("MOD_MAX_CAPS_RATIO", 0.8)
		instance.Moderation.MaxLinksPerMessage = getEnvInt("MOD_MAX_LINKS", 5)

		// Spam config
		instance.Spam.MaxRepetitionRatio = getEnvFloat("SPAM_MAX_REPETITION_RATIO", 0.6)
		instance.Spam.DuplicateLimit = getEnvInt("SPAM_DUPLICATE_LIMIT", 3)
		instance.Spam.DuplicateMemory = getEnvInt("SPAM_DUPLICATE_MEMORY", 5)
		instance.Spam.MaxLinks = getEnvInt("SPAM_MAX_LINKS", 3)
		instance.Spam.PenaltyDuration = getEnvDuration("SPAM_PENALTY_DURATION", 2*time.Minute)

		// Export config
		instance.Export.ArtifactTTL = getEnvDuration("EXPORT_ARTIFACT_TTL", 15*time.Minute)
		instance.Export.MaxRecords = getEnvInt("EXPORT_MAX_RECORDS", 10000)

		// Security config
		instance.Security.RateLimit = getEnvFloat("RATE_LIMIT", 5)
		instance.Security.RateLimitBurst = getEnvInt("RATE_LIMIT_BURST", 10)
		instance.Security.AllowedOrigins = getEnvStringSlice("ALLOWED_ORIGINS", []string{"*"})
		instance.Security.RelayToken = getEnvString("RELAY_TOKEN", "")

		// Logging config
		instance.Logging.Level = getEnvString("LOG_LEVEL", "info")
		instance.Logging.Format = getEnvString("LOG_FORMAT", "json")
	})

	return instance
}

// Get returns the singleton Config instance
func Get() *Config {
	if instance == nil {
		return New()
	}
	return instance
}

// Helper functions to read environment variables with default values

func getEnvString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value, exists := os.LookupEnv(key); exists {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value, exists := os.LookupEnv(key); exists {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
