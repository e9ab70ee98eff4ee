package config

import (
	"fmt"
	"log"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"
)

type Config struct {
	DBDriver   string
	DBUser     string
	DBPassword string
	DBName     string
	DBHost     string
	DBPort     string
	DBPath     string

	RedisHost     string
	RedisPort     string
	RedisPassword string

	HTTPAddr  string
	JWTSecret string
	JWTTTL    time.Duration

	LogLevel string
	Debug    bool

	ReferralRootID   uint
	ReferralMaxDepth int
	CommissionRate   decimal.Decimal

	MigrationStatementTimeout time.Duration
	LevelRefreshInterval      time.Duration

	PaymentWebhookCIDRs []string
	TrustedProxies      []string

	AdminUsername string
	AdminEmail    string
	AdminPassword string

	TelegramBotToken    string
	TelegramAdminChatID int64
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	return &Config{
		DBDriver:   getEnv("DB_DRIVER", DriverPostgres),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "anzacash"),
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBPath:     getEnv("DB_PATH", "anzacash.db"),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		HTTPAddr:  getEnv("HTTP_ADDR", ":8080"),
		JWTSecret: getEnv("JWT_SECRET", ""),
		JWTTTL:    getDuration("JWT_TTL", 24*time.Hour),

		LogLevel: getEnv("LOG_LEVEL", "info"),
		Debug:    getEnv("APP_DEBUG", "false") == "true",

		ReferralRootID:   uint(getInt("REFERRAL_ROOT_ID", 0)),
		ReferralMaxDepth: getInt("REFERRAL_MAX_DEPTH", 1000),
		CommissionRate:   getDecimal("COMMISSION_RATE", decimal.NewFromFloat(0.15)),

		MigrationStatementTimeout: getDuration("MIGRATION_STATEMENT_TIMEOUT", 30*time.Second),
		LevelRefreshInterval:      getDuration("LEVEL_REFRESH_INTERVAL", time.Hour),

		PaymentWebhookCIDRs: getList("PAYMENT_WEBHOOK_CIDRS"),
		TrustedProxies:      getList("TRUSTED_PROXIES"),

		AdminUsername: getEnv("ADMIN_USERNAME", ""),
		AdminEmail:    getEnv("ADMIN_EMAIL", ""),
		AdminPassword: getEnv("ADMIN_PASSWORD", ""),

		TelegramBotToken:    getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramAdminChatID: int64(getInt("TELEGRAM_ADMIN_CHAT_ID", 0)),
	}
}

// Validate reports settings the server cannot start with.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case DriverPostgres, DriverMySQL:
		if c.DBHost == "" || c.DBName == "" {
			return fmt.Errorf("%s requires DB_HOST and DB_NAME", c.DBDriver)
		}
	case DriverSQLite:
		if c.DBPath == "" {
			return fmt.Errorf("sqlite requires DB_PATH")
		}
	default:
		return fmt.Errorf("unsupported DB_DRIVER: %q", c.DBDriver)
	}
	if c.ReferralMaxDepth <= 0 {
		return fmt.Errorf("REFERRAL_MAX_DEPTH must be positive")
	}
	if c.CommissionRate.IsNegative() || c.CommissionRate.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("COMMISSION_RATE must be within [0, 1]")
	}
	if c.LevelRefreshInterval < 0 {
		return fmt.Errorf("LEVEL_REFRESH_INTERVAL must not be negative")
	}
	for _, cidr := range c.PaymentWebhookCIDRs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("PAYMENT_WEBHOOK_CIDRS: %w", err)
		}
	}
	if c.MigrationStatementTimeout <= 0 {
		return fmt.Errorf("MIGRATION_STATEMENT_TIMEOUT must be positive")
	}
	return nil
}

func (c *Config) RedisEnabled() bool {
	return c.RedisHost != ""
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using %d", key, value, fallback)
		return fallback
	}
	return n
}

func getDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using %s", key, value, fallback)
		return fallback
	}
	return d
}

func getDecimal(key string, fallback decimal.Decimal) decimal.Decimal {
	value, exists := os.LookupEnv(key)
	if !exists {
		return fallback
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		log.Printf("Invalid %s=%q, using %s", key, value, fallback)
		return fallback
	}
	return d
}

// getList reads a comma separated value, dropping empty items.
func getList(key string) []string {
	var out []string
	for _, item := range strings.Split(getEnv(key, ""), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
