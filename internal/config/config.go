package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	CredentialBackendFile     = "file"
	CredentialBackendPostgres = "postgres"
)

type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Storage   StorageConfig
	Sensor    SensorConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	RequestTimeout time.Duration
}

type AuthConfig struct {
	JWTSecret          string
	JWTAlgorithm       string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	CleanupInterval    time.Duration
	TimingDelayBase    time.Duration
	TimingDelayRandom  time.Duration
	BcryptCost         int
}

type RateLimitConfig struct {
	MaxAttempts       int
	Window            time.Duration
	LockoutDuration   time.Duration
	ResetKey          string
	RequestsPerMinute int
}

type StorageConfig struct {
	DataDir           string
	CredentialBackend string
	TempMinCelsius    float64
	TempMaxCelsius    float64
}

type SensorConfig struct {
	Port         string
	PollInterval time.Duration
	MaxRate      float64
}

// Load reads the API server configuration from the environment (and .env when present).
func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	storage, err := loadStorage()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: loadDatabase(),
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			RequestTimeout: getEnvAsDuration("SERVER_REQUEST_TIMEOUT", 30*time.Second),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			JWTAlgorithm:       strings.ToUpper(getEnv("JWT_ALGORITHM", "HS256")),
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
			CleanupInterval:    getEnvAsDuration("TOKEN_CLEANUP_INTERVAL", 1*time.Hour),
			TimingDelayBase:    time.Duration(getEnvAsInt("TIMING_DELAY_BASE_MS", 100)) * time.Millisecond,
			TimingDelayRandom:  time.Duration(getEnvAsInt("TIMING_DELAY_RANDOM_MS", 50)) * time.Millisecond,
			BcryptCost:         getEnvAsInt("BCRYPT_COST", 12),
		},
		RateLimit: RateLimitConfig{
			MaxAttempts:       getEnvAsInt("RATE_LIMIT_MAX_ATTEMPTS", 5),
			Window:            getEnvAsDuration("RATE_LIMIT_WINDOW", 5*time.Minute),
			LockoutDuration:   getEnvAsDuration("RATE_LIMIT_LOCKOUT_DURATION", 15*time.Minute),
			ResetKey:          getEnv("RATE_LIMIT_RESET_KEY", "clear"),
			RequestsPerMinute: getEnvAsInt("RATE_LIMIT_REQUESTS_PER_MINUTE", 60),
		},
		Storage: storage,
		Sensor:  loadSensor(),
	}

	switch cfg.Auth.JWTAlgorithm {
	case "HS256", "HS384", "HS512":
	default:
		return nil, fmt.Errorf("JWT_ALGORITHM must be one of HS256, HS384, HS512 (got %q)", cfg.Auth.JWTAlgorithm)
	}

	if cfg.Auth.AccessTokenExpiry >= cfg.Auth.RefreshTokenExpiry {
		return nil, fmt.Errorf("ACCESS_TOKEN_EXPIRY must be shorter than REFRESH_TOKEN_EXPIRY")
	}

	if cfg.RateLimit.MaxAttempts < 1 {
		return nil, fmt.Errorf("RATE_LIMIT_MAX_ATTEMPTS must be at least 1")
	}

	if cfg.Storage.CredentialBackend == CredentialBackendPostgres && cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required when CREDENTIAL_BACKEND=postgres")
	}

	// Validate JWT secret strength
	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadIngest reads only what the ingestion process needs: storage layout,
// temperature bounds and sensor settings. It never requires auth secrets.
func LoadIngest() (*Config, error) {
	_ = godotenv.Load()

	storage, err := loadStorage()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server: ServerConfig{
			Env:      getEnv("ENV", "development"),
			LogLevel: getEnv("LOG_LEVEL", "info"),
		},
		Storage: storage,
		Sensor:  loadSensor(),
	}, nil
}

func loadDatabase() DatabaseConfig {
	return DatabaseConfig{
		Host:              getEnv("DB_HOST", "localhost"),
		Port:              getEnvAsInt("DB_PORT", 5432),
		User:              getEnv("DB_USER", "postgres"),
		Password:          getEnv("DB_PASSWORD", ""),
		Name:              getEnv("DB_NAME", "thermo"),
		SSLMode:           getEnv("DB_SSLMODE", "disable"),
		MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 10)),
		MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 2)),
		MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
		MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
		HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
	}
}

func loadStorage() (StorageConfig, error) {
	cfg := StorageConfig{
		DataDir:           getEnv("DATA_DIR", "data"),
		CredentialBackend: strings.ToLower(getEnv("CREDENTIAL_BACKEND", CredentialBackendFile)),
		TempMinCelsius:    getEnvAsFloat("TEMP_MIN_CELSIUS", -55),
		TempMaxCelsius:    getEnvAsFloat("TEMP_MAX_CELSIUS", 125),
	}

	if cfg.TempMinCelsius > cfg.TempMaxCelsius {
		return cfg, fmt.Errorf("TEMP_MIN_CELSIUS (%v) must not exceed TEMP_MAX_CELSIUS (%v)",
			cfg.TempMinCelsius, cfg.TempMaxCelsius)
	}

	switch cfg.CredentialBackend {
	case CredentialBackendFile, CredentialBackendPostgres:
	default:
		return cfg, fmt.Errorf("CREDENTIAL_BACKEND must be %q or %q (got %q)",
			CredentialBackendFile, CredentialBackendPostgres, cfg.CredentialBackend)
	}

	return cfg, nil
}

func loadSensor() SensorConfig {
	return SensorConfig{
		Port:         getEnv("SENSOR_PORT", "/dev/ttyACM0"),
		PollInterval: getEnvAsDuration("SENSOR_POLL_INTERVAL", 1*time.Second),
		MaxRate:      getEnvAsFloat("SENSOR_MAX_RATE", 10),
	}
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	// Minimum length based on environment
	minLength := 16 // Development minimum
	if env == "production" {
		minLength = 32 // Production requires stronger secret (256 bits)
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	weakSecrets := []string{
		"secret", "test", "password", "12345", "changeme",
		"admin", "root", "default", "example",
	}

	secretLower := strings.ToLower(secret)
	for _, weak := range weakSecrets {
		if secretLower == weak {
			return fmt.Errorf("JWT_SECRET cannot be a common weak value")
		}
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := getEnv(key, "")
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return getEnvAsList("ALLOWED_ORIGINS")
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
