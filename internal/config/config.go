package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string

	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// WhatsApp Cloud API
	WhatsAppAppSecret     string
	WhatsAppVerifyToken   string
	WhatsAppAccessToken   string
	WhatsAppPhoneNumberID string
	WhatsAppGraphBaseURL  string

	// Inbound throttling
	RateLimitMaxEvents      int
	RateLimitWindow         time.Duration
	RateLimitNoticeCooldown time.Duration

	// Reply pipeline
	GenerateTimeout   time.Duration
	DispatchTimeout   time.Duration
	DispatchAttempts  int
	DispatchBaseDelay time.Duration

	// Booking flow
	FlowInactivityTimeout time.Duration
	FlowMaxRetries        int

	// Admin surface
	AdminJWTSecret string

	// Operator notifications
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	OperatorEmail     string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", "redis:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		WhatsAppAppSecret:     getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppVerifyToken:   getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAccessToken:   getEnv("WHATSAPP_ACCESS_TOKEN", ""),
		WhatsAppPhoneNumberID: getEnv("WHATSAPP_PHONE_NUMBER_ID", ""),
		WhatsAppGraphBaseURL:  getEnv("WHATSAPP_GRAPH_BASE_URL", "https://graph.facebook.com/v19.0"),

		RateLimitMaxEvents:      getEnvAsInt("RATE_LIMIT_MAX_EVENTS", 10),
		RateLimitWindow:         getEnvAsDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitNoticeCooldown: getEnvAsDuration("RATE_LIMIT_NOTICE_COOLDOWN", 5*time.Minute),

		GenerateTimeout:   getEnvAsDuration("GENERATE_TIMEOUT", 10*time.Second),
		DispatchTimeout:   getEnvAsDuration("DISPATCH_TIMEOUT", 5*time.Second),
		DispatchAttempts:  getEnvAsInt("DISPATCH_MAX_ATTEMPTS", 3),
		DispatchBaseDelay: getEnvAsDuration("DISPATCH_BASE_DELAY", 250*time.Millisecond),

		FlowInactivityTimeout: getEnvAsDuration("FLOW_INACTIVITY_TIMEOUT", 30*time.Minute),
		FlowMaxRetries:        getEnvAsInt("FLOW_MAX_RETRIES", 3),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Glowdesk Concierge"),
		OperatorEmail:     getEnv("OPERATOR_EMAIL", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
