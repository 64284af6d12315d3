package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/yourusername/rentledger/models"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Config struct {
	Port             string
	DatabaseURL      string
	DBDriver         string
	JWTSecret        string
	JWTRefreshSecret string
	QuoteTTL         time.Duration
	ExpiryCron       string

	MayaBaseURL    string
	MayaPublicKey  string
	MayaSecretKey  string
	GatewayTimeout time.Duration
	WebhookSecret  string
	RedirectBase   string

	HorizonURL         string
	NetworkPassphrase  string
	ReceivingAccount   string
	StellarAssetCode   string
	StellarAssetIssuer string
}

func LoadConfig() (*Config, error) {
	godotenv.Load()

	quoteTTL, err := time.ParseDuration(getEnvOrDefault("QUOTE_TTL", "15m"))
	if err != nil {
		return nil, fmt.Errorf("invalid QUOTE_TTL: %w", err)
	}
	gatewayTimeout, err := time.ParseDuration(getEnvOrDefault("GATEWAY_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT: %w", err)
	}

	cfg := &Config{
		Port:             getEnvOrDefault("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		DBDriver:         getEnvOrDefault("DB_DRIVER", "postgres"),
		JWTSecret:        os.Getenv("JWT_SECRET"),
		JWTRefreshSecret: os.Getenv("JWT_REFRESH_SECRET"),
		QuoteTTL:         quoteTTL,
		ExpiryCron:       getEnvOrDefault("EXPIRY_CRON", "0 1 * * *"),

		MayaBaseURL:    getEnvOrDefault("MAYA_BASE_URL", "https://pg-sandbox.paymaya.com"),
		MayaPublicKey:  os.Getenv("MAYA_PUBLIC_KEY"),
		MayaSecretKey:  os.Getenv("MAYA_SECRET_KEY"),
		GatewayTimeout: gatewayTimeout,
		WebhookSecret:  os.Getenv("WEBHOOK_SECRET"),
		RedirectBase:   getEnvOrDefault("REDIRECT_BASE_URL", "http://localhost:3000"),

		HorizonURL:         getEnvOrDefault("HORIZON_URL", "https://horizon-testnet.stellar.org"),
		NetworkPassphrase:  getEnvOrDefault("NETWORK_PASSPHRASE", "Test SDF Network ; September 2015"),
		ReceivingAccount:   os.Getenv("STELLAR_RECEIVING_ACCOUNT"),
		StellarAssetCode:   getEnvOrDefault("STELLAR_ASSET_CODE", "XLM"),
		StellarAssetIssuer: os.Getenv("STELLAR_ASSET_ISSUER"),
	}

	if cfg.DBDriver != "postgres" && cfg.DBDriver != "sqlite" {
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
	}
	if cfg.JWTSecret == "" || cfg.JWTRefreshSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET and JWT_REFRESH_SECRET are required")
	}
	return cfg, nil
}

func InitDB(cfg *Config) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.DBDriver {
	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = "rentledger.db"
		}
		dialector = sqlite.Open(dsn)
	default:
		dialector = postgres.Open(cfg.DatabaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(models.All()...); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if err := SeedPlans(db); err != nil {
		return nil, err
	}

	return db, nil
}

// SeedPlans inserts the default plan catalog, leaving existing plans as they are.
func SeedPlans(db *gorm.DB) error {
	plans := models.DefaultPlans()
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&plans).Error; err != nil {
		return fmt.Errorf("failed to seed plans: %w", err)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
