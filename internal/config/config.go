package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	// WhatsApp channel configuration
	WhatsAppVerifyToken  string
	WhatsAppAppSecret    string
	WhatsAppAccountToken string
	WhatsAppAPIBaseURL   string
	WhatsAppSendTimeout  time.Duration

	// Ingestion pipeline
	PipelineDeadline   time.Duration
	ClassifyTimeout    time.Duration
	HighValueLeadScore int

	// AI classification
	ClassifierProvider string
	BedrockModelID     string
	GeminiAPIKey       string
	GeminiModelID      string

	// AWS
	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string

	// Workflow trigger sink
	WorkflowQueueURL     string
	OutboxBatchSize      int
	OutboxPollInterval   time.Duration
	MediaArchiveBucket   string
	MediaArchiveDisabled bool

	// Realtime broadcast
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Operator notifications
	EmailProvider     string
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
	SESFromEmail      string
	SESFromName       string
	AlertRecipients   []string

	// Admin API auth
	AdminJWTSecret string

	CORSAllowedOrigins []string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		WhatsAppVerifyToken:  getEnv("WHATSAPP_VERIFY_TOKEN", ""),
		WhatsAppAppSecret:    getEnv("WHATSAPP_APP_SECRET", ""),
		WhatsAppAccountToken: getEnv("WHATSAPP_ACCOUNT_TOKEN", ""),
		WhatsAppAPIBaseURL:   getEnv("WHATSAPP_API_BASE_URL", "https://graph.facebook.com/v19.0"),
		WhatsAppSendTimeout:  getEnvAsDuration("WHATSAPP_SEND_TIMEOUT", 10*time.Second),

		PipelineDeadline:   getEnvAsDuration("PIPELINE_DEADLINE", 5*time.Second),
		ClassifyTimeout:    getEnvAsDuration("CLASSIFY_TIMEOUT", 1500*time.Millisecond),
		HighValueLeadScore: getEnvAsInt("HIGH_VALUE_LEAD_SCORE", 80),

		ClassifierProvider: strings.ToLower(strings.TrimSpace(getEnv("CLASSIFIER_PROVIDER", "bedrock"))),
		BedrockModelID:     getEnv("BEDROCK_MODEL_ID", ""),
		GeminiAPIKey:       getEnv("GEMINI_API_KEY", ""),
		GeminiModelID:      getEnv("GEMINI_MODEL_ID", "gemini-2.5-flash"),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),

		WorkflowQueueURL:     getEnv("WORKFLOW_QUEUE_URL", ""),
		OutboxBatchSize:      getEnvAsInt("OUTBOX_BATCH_SIZE", 25),
		OutboxPollInterval:   getEnvAsDuration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		MediaArchiveBucket:   getEnv("MEDIA_ARCHIVE_BUCKET", ""),
		MediaArchiveDisabled: getEnvAsBool("MEDIA_ARCHIVE_DISABLED", false),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		EmailProvider:     strings.ToLower(strings.TrimSpace(getEnv("EMAIL_PROVIDER", "ses"))),
		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Conduit CRM"),
		SESFromEmail:      getEnv("SES_FROM_EMAIL", ""),
		SESFromName:       getEnv("SES_FROM_NAME", "Conduit CRM"),
		AlertRecipients:   getEnvAsList("ALERT_RECIPIENTS", nil),

		AdminJWTSecret: getEnv("ADMIN_JWT_SECRET", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsList(key string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
