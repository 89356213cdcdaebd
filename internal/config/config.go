package config

import (
	"encoding/hex"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	DebugErrors    bool     `mapstructure:"DEBUG_ERRORS"`

	RateLimitRPS   float64       `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int           `mapstructure:"RATE_LIMIT_BURST"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`

	CarrierAPIURL         string   `mapstructure:"CARRIER_API_URL"`
	CarrierAPIKey         string   `mapstructure:"CARRIER_API_KEY"`
	CarrierEnabledClasses []string `mapstructure:"CARRIER_ENABLED_CLASSES"`
	ShipFromName          string   `mapstructure:"SHIP_FROM_NAME"`
	ShipFromAddress1      string   `mapstructure:"SHIP_FROM_ADDRESS1"`
	ShipFromCity          string   `mapstructure:"SHIP_FROM_CITY"`
	ShipFromState         string   `mapstructure:"SHIP_FROM_STATE"`
	ShipFromZip           string   `mapstructure:"SHIP_FROM_ZIP"`

	SMSAPIURL        string `mapstructure:"SMS_API_URL"`
	SMSAccountSID    string `mapstructure:"SMS_ACCOUNT_SID"`
	SMSAuthToken     string `mapstructure:"SMS_AUTH_TOKEN"`
	SMSFrom          string `mapstructure:"SMS_FROM"`
	SMSRatePerSecond int    `mapstructure:"SMS_RATE_PER_SECOND"`
	SMTPHost         string `mapstructure:"SMTP_HOST"`
	SMTPPort         int    `mapstructure:"SMTP_PORT"`
	SMTPUsername     string `mapstructure:"SMTP_USERNAME"`
	SMTPPassword     string `mapstructure:"SMTP_PASSWORD"`
	SMTPFrom         string `mapstructure:"SMTP_FROM"`
	PushAPIURL       string `mapstructure:"PUSH_API_URL"`
	PushAccessToken  string `mapstructure:"PUSH_ACCESS_TOKEN"`

	JobQueue           string   `mapstructure:"JOB_QUEUE"`
	KafkaBrokers       []string `mapstructure:"KAFKA_BROKERS"`
	KafkaJobsTopic     string   `mapstructure:"KAFKA_JOBS_TOPIC"`
	KafkaConsumerGroup string   `mapstructure:"KAFKA_CONSUMER_GROUP"`
	NursingQueueRunAt  string   `mapstructure:"NURSING_QUEUE_RUN_AT"`
	ComplianceRunAt    string   `mapstructure:"COMPLIANCE_RUN_AT"`
	ReminderRunAt      string   `mapstructure:"REMINDER_RUN_AT"`
	WelcomeRunAt       string   `mapstructure:"WELCOME_RUN_AT"`
	NursingWorkers     int      `mapstructure:"NURSING_QUEUE_WORKERS"`
	ScheduleTimezone   string   `mapstructure:"SCHEDULE_TIMEZONE"`

	LabelBucket string `mapstructure:"LABEL_BUCKET"`
	AWSRegion   string `mapstructure:"AWS_REGION"`
}

var envKeys = []string{
	"PORT", "ENV", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS", "DEBUG_ERRORS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "REQUEST_TIMEOUT",
	"CARRIER_API_URL", "CARRIER_API_KEY", "CARRIER_ENABLED_CLASSES",
	"SHIP_FROM_NAME", "SHIP_FROM_ADDRESS1", "SHIP_FROM_CITY", "SHIP_FROM_STATE", "SHIP_FROM_ZIP",
	"SMS_API_URL", "SMS_ACCOUNT_SID", "SMS_AUTH_TOKEN", "SMS_FROM", "SMS_RATE_PER_SECOND",
	"SMTP_HOST", "SMTP_PORT", "SMTP_USERNAME", "SMTP_PASSWORD", "SMTP_FROM",
	"PUSH_API_URL", "PUSH_ACCESS_TOKEN",
	"JOB_QUEUE", "KAFKA_BROKERS", "KAFKA_JOBS_TOPIC", "KAFKA_CONSUMER_GROUP",
	"NURSING_QUEUE_RUN_AT", "COMPLIANCE_RUN_AT", "REMINDER_RUN_AT", "WELCOME_RUN_AT",
	"NURSING_QUEUE_WORKERS", "SCHEDULE_TIMEZONE", "LABEL_BUCKET", "AWS_REGION",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("CARRIER_ENABLED_CLASSES", "usps_first_class,usps_priority")
	v.SetDefault("SMS_RATE_PER_SECOND", 10)
	v.SetDefault("SMTP_PORT", 587)
	v.SetDefault("PUSH_API_URL", "https://exp.host/--/api/v2/push/send")
	v.SetDefault("JOB_QUEUE", "inline")
	v.SetDefault("KAFKA_JOBS_TOPIC", "careline.jobs")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "careline-worker")
	v.SetDefault("NURSING_QUEUE_RUN_AT", "10:00")
	v.SetDefault("COMPLIANCE_RUN_AT", "09:00")
	v.SetDefault("REMINDER_RUN_AT", "18:00")
	v.SetDefault("WELCOME_RUN_AT", "11:00")
	v.SetDefault("NURSING_QUEUE_WORKERS", 4)
	v.SetDefault("SCHEDULE_TIMEZONE", "UTC")
	v.SetDefault("AWS_REGION", "us-east-1")

	for _, k := range envKeys {
		v.BindEnv(k)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.CORSOrigins = splitList(cfg.CORSOrigins, v.GetString("CORS_ORIGINS"))
	cfg.CarrierEnabledClasses = splitList(cfg.CarrierEnabledClasses, v.GetString("CARRIER_ENABLED_CLASSES"))
	cfg.KafkaBrokers = splitList(cfg.KafkaBrokers, v.GetString("KAFKA_BROKERS"))

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development); all requests get admin access.")
	}

	return cfg, nil
}

// splitList normalizes comma separated env values into trimmed, non-empty items.
func splitList(parsed []string, raw string) []string {
	if len(parsed) > 0 {
		raw = strings.Join(parsed, ",")
	}
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// IsProduction returns true when the server is configured for production mode.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// ParseClock parses an "HH:MM" daily run time.
func ParseClock(s string) (hour, minute int, err error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour(), t.Minute(), nil
}

// ScheduleLocation is the time zone daily jobs run in. Empty means UTC.
func (c *Config) ScheduleLocation() (*time.Location, error) {
	if c.ScheduleTimezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.ScheduleTimezone)
	if err != nil {
		return nil, fmt.Errorf("SCHEDULE_TIMEZONE: %w", err)
	}
	return loc, nil
}

// Validate checks that the configuration is safe to run. Outside development a
// hex encoded signing key of at least 32 bytes is required for bearer tokens.
func (c *Config) Validate() error {
	if !c.IsDev() {
		if c.AuthSigningKey == "" {
			return fmt.Errorf("AUTH_SIGNING_KEY is required when ENV=%q", c.Env)
		}
		key, err := hex.DecodeString(c.AuthSigningKey)
		if err != nil {
			return fmt.Errorf("AUTH_SIGNING_KEY is not valid hex: %w", err)
		}
		if len(key) < 32 {
			return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes, got %d bytes", len(key))
		}
	}

	switch c.JobQueue {
	case "inline":
	case "kafka":
		if len(c.KafkaBrokers) == 0 {
			return fmt.Errorf("KAFKA_BROKERS is required when JOB_QUEUE is \"kafka\"")
		}
	default:
		return fmt.Errorf("JOB_QUEUE must be \"inline\" or \"kafka\", got %q", c.JobQueue)
	}

	for name, at := range map[string]string{
		"NURSING_QUEUE_RUN_AT": c.NursingQueueRunAt,
		"COMPLIANCE_RUN_AT":    c.ComplianceRunAt,
		"REMINDER_RUN_AT":      c.ReminderRunAt,
		"WELCOME_RUN_AT":       c.WelcomeRunAt,
	} {
		if _, _, err := ParseClock(at); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if _, err := c.ScheduleLocation(); err != nil {
		return err
	}

	if c.NursingWorkers < 1 {
		return fmt.Errorf("NURSING_QUEUE_WORKERS must be at least 1, got %d", c.NursingWorkers)
	}
	return nil
}
