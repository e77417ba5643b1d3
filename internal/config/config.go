package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Supported chat transports.
const (
	TransportTelegram = "telegram"
	TransportWhatsApp = "whatsapp"
)

// MoneyScale is the number of decimals the ledger stores for amounts.
const MoneyScale = 2

// Supported ledger store drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config holds all runtime settings read from the environment.
type Config struct {
	AppEnv    string
	LogLevel  string
	LogFormat string

	ChatTransport     string
	TelegramToken     string
	TelegramDebug     bool
	WhatsAppStorePath string
	WhatsAppLogLevel  string

	AdminIDs []int64

	StoreDriver    string
	SQLitePath     string
	DatabaseURL    string
	DatabaseSchema string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool
	SessionTTL    time.Duration

	HTTPListenAddr   string
	PublicBasePath   string
	MetricsNamespace string

	PendingDigestInterval time.Duration

	ProgramName    string
	SupportContact string
	MaterialsURL   string
	StarterPackURL string
	InfoURL        string
	MinWithdrawal  decimal.Decimal
	QuickCredit    decimal.Decimal
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var errs []error
	cfg := &Config{
		AppEnv:    getEnv("APP_ENV", "development"),
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),

		ChatTransport:     strings.ToLower(getEnv("CHAT_TRANSPORT", TransportTelegram)),
		TelegramToken:     os.Getenv("TELEGRAM_BOT_TOKEN"),
		TelegramDebug:     parseBool("TELEGRAM_DEBUG", false, &errs),
		WhatsAppStorePath: getEnv("WHATSAPP_STORE_PATH", "data/whatsapp.db"),
		WhatsAppLogLevel:  getEnv("WHATSAPP_LOG_LEVEL", "INFO"),

		AdminIDs: parseIDs("ADMIN_IDS", &errs),

		StoreDriver:    strings.ToLower(getEnv("STORE_DRIVER", DriverSQLite)),
		SQLitePath:     getEnv("SQLITE_PATH", "data/partners.db"),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DatabaseSchema: getEnv("DATABASE_SCHEMA", "public"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       parseInt("REDIS_DB", 0, &errs),
		RedisTLS:      parseBool("REDIS_TLS", false, &errs),
		SessionTTL:    parseDuration("SESSION_TTL", 2*time.Hour, &errs),

		HTTPListenAddr:   getEnv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBasePath:   os.Getenv("PUBLIC_BASE_PATH"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "partner_bot"),

		PendingDigestInterval: parseDuration("PENDING_DIGEST_INTERVAL", 6*time.Hour, &errs),

		ProgramName:    getEnv("PROGRAM_NAME", "Partner program"),
		SupportContact: os.Getenv("SUPPORT_CONTACT"),
		MaterialsURL:   os.Getenv("MATERIALS_URL"),
		StarterPackURL: os.Getenv("STARTER_PACK_URL"),
		InfoURL:        os.Getenv("INFO_URL"),
		MinWithdrawal:  parseDecimal("MIN_WITHDRAWAL", decimal.NewFromInt(1500), &errs),
		QuickCredit:    parseDecimal("QUICK_CREDIT_AMOUNT", decimal.NewFromInt(500), &errs),
	}

	switch cfg.ChatTransport {
	case TransportTelegram:
		if cfg.TelegramToken == "" {
			errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required for the telegram transport"))
		}
	case TransportWhatsApp:
	default:
		errs = append(errs, fmt.Errorf("CHAT_TRANSPORT %q is not supported", cfg.ChatTransport))
	}

	switch cfg.StoreDriver {
	case DriverSQLite:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER %q is not supported", cfg.StoreDriver))
	}

	if len(cfg.AdminIDs) == 0 {
		errs = append(errs, errors.New("ADMIN_IDS must list at least one administrator"))
	}
	if !cfg.MinWithdrawal.IsPositive() {
		errs = append(errs, errors.New("MIN_WITHDRAWAL must be positive"))
	}
	if !cfg.QuickCredit.IsPositive() {
		errs = append(errs, errors.New("QUICK_CREDIT_AMOUNT must be positive"))
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseBool(key string, def bool, errs *[]error) bool {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func parseInt(key string, def int, errs *[]error) int {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	return v
}

func parseDuration(key string, def time.Duration, errs *[]error) time.Duration {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v <= 0 {
		*errs = append(*errs, fmt.Errorf("%s: invalid duration %q", key, raw))
		return def
	}
	return v
}

func parseDecimal(key string, def decimal.Decimal, errs *[]error) decimal.Decimal {
	raw := getEnv(key, "")
	if raw == "" {
		return def
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s: %w", key, err))
		return def
	}
	if !v.Equal(v.Truncate(MoneyScale)) {
		*errs = append(*errs, fmt.Errorf("%s: %q has more than %d decimals", key, raw, MoneyScale))
		return def
	}
	return v
}

// parseIDs reads a comma separated list of numeric chat ids.
func parseIDs(key string, errs *[]error) []int64 {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("%s: invalid id %q", key, part))
			continue
		}
		ids = append(ids, id)
	}
	return ids
}
