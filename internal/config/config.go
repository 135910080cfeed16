package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config captures runtime configuration for the API service.
type Config struct {
	HTTP      HTTPConfig
	Database  DatabaseConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	Gateway   GatewayConfig
	Auth      AuthConfig
	Checkout  CheckoutConfig
	Outbox    OutboxConfig
	Telemetry TelemetryConfig
	Service   ServiceConfig
}

type HTTPConfig struct {
	Port          int
	MetricsPath   string
	ShutdownGrace int
}

type DatabaseConfig struct {
	URL            string
	AutoMigrate    bool
	MigrationsPath string
}

type KafkaConfig struct {
	Brokers  []string
	ClientID string
}

// RedisConfig configures the cart read cache. An empty Addr disables it.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	CartTTL  time.Duration
}

type GatewayConfig struct {
	BaseURL         string
	SecretKey       string
	ReturnURL       string
	WebsiteURL      string
	Timeout         time.Duration
	VerifyCallbacks bool
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

type AuthConfig struct {
	JWTSecret string
	Issuer    string
}

type CheckoutConfig struct {
	PurchaseOrderPrefix string
	MaxPaymentAttempts  int
}

type OutboxConfig struct {
	Enabled         bool
	PollInterval    time.Duration
	BatchSize       int
	MaxRetryElapsed time.Duration
}

type TelemetryConfig struct {
	LogLevel      string
	OTelEndpoint  string
	EnableTracing bool
	EnableMetrics bool
	SampleRate    float64
	// MetricInterval of zero keeps the SDK's export interval.
	MetricInterval time.Duration
}

type ServiceConfig struct {
	Name        string
	Version     string
	Environment string
}

const (
	defaultHTTPPort           = 8080
	defaultMetricsPath        = "/metrics"
	defaultShutdownGrace      = 15
	defaultMigrationsPath     = "migrations"
	defaultAutoMigrate        = true
	defaultKafkaClientID      = "checkout-api"
	defaultCartTTL            = 10 * time.Minute
	defaultGatewayURL         = "https://dev.khalti.com/api/v2"
	defaultGatewayTimeout     = 10 * time.Second
	defaultBreakerFailures    = 5
	defaultBreakerCooldown    = 30 * time.Second
	defaultJWTIssuer          = "checkout"
	defaultPurchasePrefix     = "CHK-"
	defaultMaxPaymentAttempts = 5
	defaultOutboxInterval     = 2 * time.Second
	defaultOutboxBatchSize    = 100
	defaultOutboxRetryElapsed = 30 * time.Second
	defaultServiceName        = "checkout-api"
	defaultServiceVersion     = "0.1.0"
	defaultEnvironment        = "development"
	defaultLogLevel           = "info"
	defaultOTelSampleRate     = 1.0
)

// Load reads configuration from environment variables, applying defaults when needed.
// Variables from a .env file in the working directory are loaded first; real environment
// variables take precedence.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	httpCfg, err := loadHTTPConfig()
	if err != nil {
		return nil, fmt.Errorf("loading HTTP config: %w", err)
	}

	dbCfg := loadDatabaseConfig()
	kafkaCfg := loadKafkaConfig()

	redisCfg, err := loadRedisConfig()
	if err != nil {
		return nil, fmt.Errorf("loading redis config: %w", err)
	}

	gatewayCfg, err := loadGatewayConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gateway config: %w", err)
	}

	authCfg, err := loadAuthConfig()
	if err != nil {
		return nil, fmt.Errorf("loading auth config: %w", err)
	}

	checkoutCfg, err := loadCheckoutConfig()
	if err != nil {
		return nil, fmt.Errorf("loading checkout config: %w", err)
	}

	outboxCfg, err := loadOutboxConfig()
	if err != nil {
		return nil, fmt.Errorf("loading outbox config: %w", err)
	}

	telCfg, err := loadTelemetryConfig()
	if err != nil {
		return nil, fmt.Errorf("loading telemetry config: %w", err)
	}

	serviceCfg := loadServiceConfig()

	return &Config{
		HTTP:      httpCfg,
		Database:  dbCfg,
		Kafka:     kafkaCfg,
		Redis:     redisCfg,
		Gateway:   gatewayCfg,
		Auth:      authCfg,
		Checkout:  checkoutCfg,
		Outbox:    outboxCfg,
		Telemetry: telCfg,
		Service:   serviceCfg,
	}, nil
}

func loadHTTPConfig() (HTTPConfig, error) {
	port, err := getIntEnv("API_HTTP_PORT", defaultHTTPPort)
	if err != nil {
		return HTTPConfig{}, err
	}

	shutdownGrace, err := getIntEnv("API_SHUTDOWN_GRACE_SECONDS", defaultShutdownGrace)
	if err != nil {
		return HTTPConfig{}, err
	}

	return HTTPConfig{
		Port:          port,
		MetricsPath:   getEnvOrDefault("API_METRICS_PATH", defaultMetricsPath),
		ShutdownGrace: shutdownGrace,
	}, nil
}

func loadDatabaseConfig() DatabaseConfig {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		databaseURL = buildDatabaseURL()
	}

	return DatabaseConfig{
		URL:            databaseURL,
		AutoMigrate:    getBoolEnv("AUTO_MIGRATE", defaultAutoMigrate),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", defaultMigrationsPath),
	}
}

func loadKafkaConfig() KafkaConfig {
	var brokers []string
	if value, ok := os.LookupEnv("KAFKA_BROKERS"); ok && value != "" {
		for _, b := range strings.Split(value, ",") {
			if b = strings.TrimSpace(b); b != "" {
				brokers = append(brokers, b)
			}
		}
	}

	return KafkaConfig{
		Brokers:  brokers,
		ClientID: getEnvOrDefault("KAFKA_CLIENT_ID", defaultKafkaClientID),
	}
}

func loadRedisConfig() (RedisConfig, error) {
	db, err := getIntEnv("REDIS_DB", 0)
	if err != nil {
		return RedisConfig{}, err
	}

	ttl, err := getDurationEnv("REDIS_CART_TTL", defaultCartTTL)
	if err != nil {
		return RedisConfig{}, err
	}

	return RedisConfig{
		Addr:     os.Getenv("REDIS_ADDR"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		CartTTL:  ttl,
	}, nil
}

func loadGatewayConfig() (GatewayConfig, error) {
	timeout, err := getDurationEnv("GATEWAY_TIMEOUT", defaultGatewayTimeout)
	if err != nil {
		return GatewayConfig{}, err
	}

	failures, err := getIntEnv("GATEWAY_BREAKER_FAILURES", defaultBreakerFailures)
	if err != nil {
		return GatewayConfig{}, err
	}
	if failures <= 0 {
		return GatewayConfig{}, fmt.Errorf("invalid GATEWAY_BREAKER_FAILURES: must be positive")
	}

	cooldown, err := getDurationEnv("GATEWAY_BREAKER_COOLDOWN", defaultBreakerCooldown)
	if err != nil {
		return GatewayConfig{}, err
	}

	return GatewayConfig{
		BaseURL:         strings.TrimRight(getEnvOrDefault("GATEWAY_BASE_URL", defaultGatewayURL), "/"),
		SecretKey:       os.Getenv("GATEWAY_SECRET_KEY"),
		ReturnURL:       getEnvOrDefault("GATEWAY_RETURN_URL", "http://localhost:8080/v1/payments/callback"),
		WebsiteURL:      getEnvOrDefault("GATEWAY_WEBSITE_URL", "http://localhost:8080"),
		Timeout:         timeout,
		VerifyCallbacks: getBoolEnv("GATEWAY_VERIFY_CALLBACKS", true),
		BreakerFailures: uint32(failures),
		BreakerCooldown: cooldown,
	}, nil
}

func loadAuthConfig() (AuthConfig, error) {
	secret := os.Getenv("AUTH_JWT_SECRET")
	if secret == "" {
		return AuthConfig{}, errors.New("AUTH_JWT_SECRET is required")
	}

	return AuthConfig{
		JWTSecret: secret,
		Issuer:    getEnvOrDefault("AUTH_JWT_ISSUER", defaultJWTIssuer),
	}, nil
}

func loadCheckoutConfig() (CheckoutConfig, error) {
	attempts, err := getIntEnv("CHECKOUT_MAX_PAYMENT_ATTEMPTS", defaultMaxPaymentAttempts)
	if err != nil {
		return CheckoutConfig{}, err
	}
	if attempts <= 0 {
		return CheckoutConfig{}, fmt.Errorf("invalid CHECKOUT_MAX_PAYMENT_ATTEMPTS: must be positive")
	}

	return CheckoutConfig{
		PurchaseOrderPrefix: getEnvOrDefault("CHECKOUT_PURCHASE_ORDER_PREFIX", defaultPurchasePrefix),
		MaxPaymentAttempts:  attempts,
	}, nil
}

func loadOutboxConfig() (OutboxConfig, error) {
	interval, err := getDurationEnv("OUTBOX_POLL_INTERVAL", defaultOutboxInterval)
	if err != nil {
		return OutboxConfig{}, err
	}

	batch, err := getIntEnv("OUTBOX_BATCH_SIZE", defaultOutboxBatchSize)
	if err != nil {
		return OutboxConfig{}, err
	}

	elapsed, err := getDurationEnv("OUTBOX_MAX_RETRY_ELAPSED", defaultOutboxRetryElapsed)
	if err != nil {
		return OutboxConfig{}, err
	}

	return OutboxConfig{
		Enabled:         getBoolEnv("OUTBOX_ENABLED", true),
		PollInterval:    interval,
		BatchSize:       batch,
		MaxRetryElapsed: elapsed,
	}, nil
}

func loadTelemetryConfig() (TelemetryConfig, error) {
	sampleRate := defaultOTelSampleRate
	if value, ok := os.LookupEnv("OTEL_SAMPLE_RATE"); ok {
		parsed, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return TelemetryConfig{}, fmt.Errorf("invalid OTEL_SAMPLE_RATE: %w", err)
		}
		sampleRate = parsed
	}

	interval, err := getDurationEnv("OTEL_METRIC_EXPORT_INTERVAL", 0)
	if err != nil {
		return TelemetryConfig{}, err
	}

	return TelemetryConfig{
		LogLevel:       getEnvOrDefault("LOG_LEVEL", defaultLogLevel),
		OTelEndpoint:   getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		EnableTracing:  getBoolEnv("OTEL_ENABLE_TRACING", true),
		EnableMetrics:  getBoolEnv("OTEL_ENABLE_METRICS", true),
		SampleRate:     sampleRate,
		MetricInterval: interval,
	}, nil
}

func loadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Name:        getEnvOrDefault("API_SERVICE_NAME", defaultServiceName),
		Version:     getEnvOrDefault("SERVICE_VERSION", defaultServiceVersion),
		Environment: getEnvOrDefault("ENVIRONMENT", defaultEnvironment),
	}
}

func buildDatabaseURL() string {
	host := getEnvOrDefault("DB_HOST", "localhost")
	port := getEnvOrDefault("DB_PORT", "5432")
	user := getEnvOrDefault("DB_USER", "postgres")
	password := getEnvOrDefault("DB_PASSWORD", "postgres")
	dbName := getEnvOrDefault("DB_NAME", "checkout")
	sslMode := getEnvOrDefault("DB_SSLMODE", "disable")

	maxConns := getEnvOrDefault("DB_MAX_CONNS", "25")
	minConns := getEnvOrDefault("DB_MIN_CONNS", "5")
	maxLifetime := getEnvOrDefault("DB_MAX_CONN_LIFETIME", "5m")

	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s&pool_max_conns=%s&pool_min_conns=%s&pool_max_conn_lifetime=%s",
		user, password, host, port, dbName, sslMode, maxConns, minConns, maxLifetime,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		return value == "true"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) (int, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}

func getDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return defaultValue, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return parsed, nil
}
