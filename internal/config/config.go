package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Mail       MailConfig
	Classifier ClassifierConfig
	Gate       GateConfig
	Ingest     IngestConfig
	Notify     NotifyConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	PipelineVersion       string
	RequestTimeoutSeconds int
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr         string
	Password     string
	DB           int
	EventChannel string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	ResetTokenTTLMinutes  int
	BcryptCost            int
}

// MailConfig holds inbound and outbound transport settings.
type MailConfig struct {
	Protocol string // imap or pop3

	IMAPHost string
	IMAPPort int

	POP3Host        string
	POP3Port        int
	POP3TLS         bool
	POP3DeleteFetch bool

	SMTPHost     string
	SMTPPortSSL  int
	SMTPPortTLS  int
	SMTPFrom     string
	SMTPFromName string

	Username string
	Password string

	Mailbox            string
	DialTimeoutSeconds int
}

// ClassifierConfig controls the triage verdict source.
type ClassifierConfig struct {
	URL            string
	Token          string
	Model          string
	TimeoutSeconds int
	Fallback       bool
}

// GateConfig parameterizes the auto-send policy.
type GateConfig struct {
	ConfidenceThreshold float64
	HighRiskCategories  []string
	DenyPatterns        []string
	AutoSendEnabled     bool
	MaxDraftChars       int
}

// IngestConfig tunes the background ingestion pipeline.
type IngestConfig struct {
	IntervalSeconds      int
	BatchLimit           int
	StalenessMinutes     int
	MaxSendAttempts      int
	MaxTriageAttempts    int
	QuietPeriodHours     int
	RetrieverTopK        int
	LockTTLSeconds       int
	TriageBackoffSeconds int
}

// NotifyConfig controls operator alerting.
type NotifyConfig struct {
	Enabled       bool
	OperatorEmail string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	maxConns := int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10))
	minConns := int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2))
	runMigrations := getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true)
	connMaxIdle := int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30))
	connMaxLife := int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300))

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "mailtriage"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			PipelineVersion:       getEnv("PIPELINE_VERSION", "v1"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       maxConns,
			MinConns:       minConns,
			RunMigrations:  runMigrations,
			ConnMaxIdleSec: connMaxIdle,
			ConnMaxLifeSec: connMaxLife,
		},
		Redis: RedisConfig{
			Addr:         getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password:     os.Getenv("REDIS_PASSWORD"),
			DB:           redisDB,
			EventChannel: getEnv("REDIS_EVENT_CHANNEL", "mailtriage:events"),
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			ResetTokenTTLMinutes:  getEnvAsInt("AUTH_RESET_TOKEN_TTL_MINUTES", 30),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Mail: MailConfig{
			Protocol:           strings.ToLower(getEnv("MAIL_PROTOCOL", "imap")),
			IMAPHost:           os.Getenv("IMAP_HOST"),
			IMAPPort:           getEnvAsInt("IMAP_PORT", 993),
			POP3Host:           os.Getenv("POP3_HOST"),
			POP3Port:           getEnvAsInt("POP3_PORT", 995),
			POP3TLS:            getEnvAsBool("POP3_TLS", true),
			POP3DeleteFetch:    getEnvAsBool("POP3_DELETE_AFTER_FETCH", false),
			SMTPHost:           os.Getenv("SMTP_HOST"),
			SMTPPortSSL:        getEnvAsInt("SMTP_PORT_SSL", 465),
			SMTPPortTLS:        getEnvAsInt("SMTP_PORT_TLS", 587),
			SMTPFrom:           getEnv("SMTP_FROM", getEnv("MAIL_USERNAME", "")),
			SMTPFromName:       getEnv("SMTP_FROM_NAME", "Support"),
			Username:           os.Getenv("MAIL_USERNAME"),
			Password:           os.Getenv("MAIL_PASSWORD"),
			Mailbox:            getEnv("MAIL_MAILBOX", "INBOX"),
			DialTimeoutSeconds: getEnvAsInt("MAIL_DIAL_TIMEOUT_SECONDS", 15),
		},
		Classifier: ClassifierConfig{
			URL:            os.Getenv("CLASSIFIER_URL"),
			Token:          os.Getenv("CLASSIFIER_TOKEN"),
			Model:          getEnv("CLASSIFIER_MODEL", "support-triage-v1"),
			TimeoutSeconds: getEnvAsInt("CLASSIFIER_TIMEOUT_SECONDS", 20),
			Fallback:       getEnvAsBool("CLASSIFIER_FALLBACK", true),
		},
		Gate: GateConfig{
			ConfidenceThreshold: getEnvAsFloat("GATE_CONFIDENCE_THRESHOLD", 0.75),
			HighRiskCategories:  getEnvAsList("GATE_HIGH_RISK_CATEGORIES", []string{"Инцидент / Неисправность", "incident", "outage"}),
			DenyPatterns:        getEnvAsList("GATE_DENY_PATTERNS", []string{"пароль администратора", "переведите деньги", "жалоб", "претензи", "complaint", "lawsuit"}),
			AutoSendEnabled:     getEnvAsBool("AUTO_SEND_ENABLED", false),
			MaxDraftChars:       getEnvAsInt("MAX_DRAFT_CHARS", 1200),
		},
		Ingest: IngestConfig{
			IntervalSeconds:      getEnvAsInt("INGEST_INTERVAL_SECONDS", 60),
			BatchLimit:           getEnvAsInt("INGEST_BATCH_LIMIT", 10),
			StalenessMinutes:     getEnvAsInt("INGEST_RESERVATION_STALENESS_MINUTES", 15),
			MaxSendAttempts:      getEnvAsInt("INGEST_MAX_SEND_ATTEMPTS", 3),
			MaxTriageAttempts:    getEnvAsInt("INGEST_MAX_TRIAGE_ATTEMPTS", 5),
			QuietPeriodHours:     getEnvAsInt("INGEST_QUIET_PERIOD_HOURS", 72),
			RetrieverTopK:        getEnvAsInt("RETRIEVER_TOP_K", 3),
			LockTTLSeconds:       getEnvAsInt("INGEST_LOCK_TTL_SECONDS", 300),
			TriageBackoffSeconds: getEnvAsInt("INGEST_TRIAGE_BACKOFF_SECONDS", 120),
		},
		Notify: NotifyConfig{
			Enabled:       getEnvAsBool("NOTIFY_ENABLED", false),
			OperatorEmail: getEnv("NOTIFY_OPERATOR_EMAIL", ""),
		},
	}

	if cfg.Ingest.BatchLimit < 1 {
		cfg.Ingest.BatchLimit = 1
	}
	if cfg.Ingest.BatchLimit > 50 {
		cfg.Ingest.BatchLimit = 50
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// Timeout returns the classifier call deadline.
func (c ClassifierConfig) Timeout() time.Duration {
	if c.TimeoutSeconds <= 0 {
		return 20 * time.Second
	}
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// DialTimeout returns the mail connection deadline.
func (m MailConfig) DialTimeout() time.Duration {
	if m.DialTimeoutSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(m.DialTimeoutSeconds) * time.Second
}

// Staleness returns the reservation reclaim window.
func (i IngestConfig) Staleness() time.Duration {
	if i.StalenessMinutes <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(i.StalenessMinutes) * time.Minute
}

// QuietPeriod returns how long an auto-sent ticket waits before auto-resolve.
func (i IngestConfig) QuietPeriod() time.Duration {
	if i.QuietPeriodHours <= 0 {
		return 72 * time.Hour
	}
	return time.Duration(i.QuietPeriodHours) * time.Hour
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsFloat(key string, fallback float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsList(key string, fallback []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parts := strings.Split(val, ",")
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
