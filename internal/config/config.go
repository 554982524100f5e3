package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration
type Config struct {
	// Server
	Env  string `koanf:"ENV"`
	Port string `koanf:"PORT"`

	// Database
	DBDriver   string `koanf:"DB_DRIVER"`
	DBHost     string `koanf:"DB_HOST"`
	DBPort     string `koanf:"DB_PORT"`
	DBUser     string `koanf:"DB_USER"`
	DBPassword string `koanf:"DB_PASSWORD"`
	DBName     string `koanf:"DB_NAME"`
	DBSSLMode  string `koanf:"DB_SSLMODE"`
	// DBPath is the SQLite file used when DBDriver is "sqlite".
	DBPath           string `koanf:"DB_PATH"`
	DBConnectRetries uint   `koanf:"DB_CONNECT_RETRIES"`
	MigrationsPath   string `koanf:"MIGRATIONS_PATH"`

	// JWT
	JWTSecret        string        `koanf:"JWT_SECRET"`
	JWTExpirationDur time.Duration `koanf:"JWT_EXPIRES_IN"`
	JWTRefreshDur    time.Duration `koanf:"JWT_REFRESH_EXPIRES_IN"`

	// Budget events. Publishing is disabled when AMQPURL is empty.
	AMQPURL      string `koanf:"AMQP_URL"`
	AMQPExchange string `koanf:"AMQP_EXCHANGE"`

	// InternalAPIKey guards the maintenance endpoints.
	InternalAPIKey string `koanf:"INTERNAL_API_KEY"`

	// ReconcileConcurrency bounds parallel recomputation in ReconcileAll.
	ReconcileConcurrency int `koanf:"RECONCILE_CONCURRENCY"`
}

var appConfig *Config

// defaults returns the configuration used for any variable left unset.
func defaults() *Config {
	return &Config{
		Env:  "development",
		Port: "8080",

		DBDriver:         "postgres",
		DBHost:           "localhost",
		DBPort:           "5432",
		DBUser:           "fintrack",
		DBPassword:       "fintrack",
		DBName:           "fintrack",
		DBSSLMode:        "disable",
		DBPath:           "fintrack.db",
		DBConnectRetries: 5,
		MigrationsPath:   "file://migrations",

		JWTSecret:        "fallback-secret-key-for-dev-only",
		JWTExpirationDur: 15 * time.Minute,
		JWTRefreshDur:    7 * 24 * time.Hour,

		AMQPExchange: "fintrack.budgets",

		ReconcileConcurrency: 4,
	}
}

// Load loads configuration from the environment, reading a .env file first
// when one is present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: .env file not found")
	}

	k := koanf.New(".")
	// Empty variables count as unset so defaults still apply.
	provider := env.ProviderWithValue("", ".", func(key, value string) (string, interface{}) {
		if value == "" {
			return "", nil
		}
		return key, value
	})
	if err := k.Load(provider, nil); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	config := defaults()
	if err := k.UnmarshalWithConf("", config, koanf.UnmarshalConf{Tag: "koanf", FlatPaths: true}); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	appConfig = config
	return config, nil
}

// Get returns the application configuration
func Get() *Config {
	if appConfig == nil {
		var err error
		appConfig, err = Load()
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	}
	return appConfig
}

// Set replaces the process-wide configuration. Tests use it to pin secrets.
func Set(c *Config) {
	appConfig = c
}

// Default returns a configuration populated only with defaults.
func Default() *Config {
	return defaults()
}

func (c *Config) validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (use postgres or sqlite)", c.DBDriver)
	}
	if c.JWTExpirationDur <= 0 {
		log.Printf("Warning: invalid JWT_EXPIRES_IN value '%s', falling back to 15m\n", c.JWTExpirationDur)
		c.JWTExpirationDur = 15 * time.Minute
	}
	if c.JWTRefreshDur <= 0 {
		c.JWTRefreshDur = 7 * 24 * time.Hour
	}
	if c.DBConnectRetries < 1 {
		c.DBConnectRetries = 1
	}
	if c.ReconcileConcurrency < 1 {
		c.ReconcileConcurrency = 1
	}
	return nil
}

// PostgresDSN returns the key/value connection string used by the gorm driver.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, c.DBSSLMode)
}

// PostgresURL returns the URL form of the connection string used by golang-migrate.
func (c *Config) PostgresURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode)
}
