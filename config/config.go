package config

import "time"

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Identity  IdentityConfig
	Files     FilesConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Otel      OtelConfig
}

type ServerConfig struct {
	Host             string
	Port             int
	AllowedOrigins   []string
	AllowEmptyOrigin bool
	RequestTimeout   time.Duration
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	AcquireTimeout time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type AuthConfig struct {
	JWTSecret string
	// Leeway tolerated when checking exp/iat claims.
	ClockSkew time.Duration
	// TokenTTL is used when the server itself issues tokens on login.
	TokenTTL time.Duration
}

type IdentityConfig struct {
	// Base URL of the external identity provider. Empty disables the
	// login proxy and profile sync; tokens are still verified locally.
	URL            string
	APIKey         string
	RequestTimeout time.Duration
	ProfileTTL     time.Duration
}

type FilesConfig struct {
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	UseSSL         bool
	PublicBaseURL  string
	MaxUploadBytes int64
}

type CacheConfig struct {
	UnreadTTL    time.Duration
	ProfileTTL   time.Duration
	KeyBundleTTL time.Duration
	PresenceTTL  time.Duration
}

type RateLimitConfig struct {
	Enabled                   bool
	MessagesPerMinute         int
	ReactionsPerMinute        int
	EncryptionWritesPerMinute int
	EncryptionReadsPerMinute  int
}

type OtelConfig struct {
	Endpoint    string
	Environment string
}

func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             GetEnvWithFallback("PARLEY_SERVER_HOST", "HOST", "0.0.0.0"),
			Port:             GetEnvIntWithFallback("PARLEY_SERVER_PORT", "PORT", 8080),
			AllowedOrigins:   GetEnvSliceWithFallback("PARLEY_ALLOWED_ORIGINS", "ALLOWED_ORIGINS", []string{"*"}),
			AllowEmptyOrigin: GetEnvBoolWithFallback("PARLEY_ALLOW_EMPTY_ORIGIN", "ALLOW_EMPTY_ORIGIN", false),
			RequestTimeout:   GetEnvDuration("PARLEY_REQUEST_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:            GetEnvWithFallback("PARLEY_POSTGRES_URL", "DATABASE_URL", "postgres://localhost:5432/parley?sslmode=disable"),
			MaxConns:       GetEnvInt("PARLEY_DB_MAX_CONNS", 30),
			MinConns:       GetEnvInt("PARLEY_DB_MIN_CONNS", 2),
			AcquireTimeout: GetEnvDuration("PARLEY_DB_ACQUIRE_TIMEOUT", 10*time.Second),
		},
		Redis: RedisConfig{
			Addr:     GetEnvWithFallback("PARLEY_REDIS_ADDR", "REDIS_ADDR", "localhost:6379"),
			Password: GetEnvWithFallback("PARLEY_REDIS_PASSWORD", "REDIS_PASSWORD", ""),
			DB:       GetEnvInt("PARLEY_REDIS_DB", 0),
			PoolSize: GetEnvInt("PARLEY_REDIS_POOL_SIZE", 50),
		},
		Auth: AuthConfig{
			JWTSecret: GetEnvWithFallback("PARLEY_JWT_SECRET", "JWT_SECRET", ""),
			ClockSkew: GetEnvDuration("PARLEY_JWT_CLOCK_SKEW", 30*time.Second),
			TokenTTL:  GetEnvDuration("PARLEY_TOKEN_TTL", 24*time.Hour),
		},
		Identity: IdentityConfig{
			URL:            GetEnvWithFallback("PARLEY_IDENTITY_URL", "IDENTITY_URL", ""),
			APIKey:         GetEnvWithFallback("PARLEY_IDENTITY_API_KEY", "IDENTITY_API_KEY", ""),
			RequestTimeout: GetEnvDuration("PARLEY_IDENTITY_TIMEOUT", 10*time.Second),
			ProfileTTL:     GetEnvDuration("PARLEY_IDENTITY_PROFILE_TTL", 5*time.Minute),
		},
		Files: FilesConfig{
			Endpoint:       GetEnvWithFallback("PARLEY_S3_ENDPOINT", "S3_ENDPOINT", ""),
			AccessKey:      GetEnvWithFallback("PARLEY_S3_ACCESS_KEY", "S3_ACCESS_KEY", ""),
			SecretKey:      GetEnvWithFallback("PARLEY_S3_SECRET_KEY", "S3_SECRET_KEY", ""),
			Bucket:         GetEnvWithFallback("PARLEY_S3_BUCKET", "S3_BUCKET", "parley-files"),
			UseSSL:         GetEnvBool("PARLEY_S3_USE_SSL", true),
			PublicBaseURL:  GetEnvWithFallback("PARLEY_S3_PUBLIC_URL", "S3_PUBLIC_URL", ""),
			MaxUploadBytes: GetEnvInt64("PARLEY_MAX_UPLOAD_BYTES", 50<<20),
		},
		Cache: CacheConfig{
			UnreadTTL:    GetEnvDuration("PARLEY_CACHE_UNREAD_TTL", 60*time.Second),
			ProfileTTL:   GetEnvDuration("PARLEY_CACHE_PROFILE_TTL", 5*time.Minute),
			KeyBundleTTL: GetEnvDuration("PARLEY_CACHE_KEY_BUNDLE_TTL", 10*time.Minute),
			PresenceTTL:  GetEnvDuration("PARLEY_CACHE_PRESENCE_TTL", 60*time.Second),
		},
		RateLimit: RateLimitConfig{
			Enabled:                   GetEnvBool("PARLEY_RATE_LIMIT_ENABLED", true),
			MessagesPerMinute:         GetEnvInt("PARLEY_RATE_LIMIT_MESSAGES", 30),
			ReactionsPerMinute:        GetEnvInt("PARLEY_RATE_LIMIT_REACTIONS", 60),
			EncryptionWritesPerMinute: GetEnvInt("PARLEY_RATE_LIMIT_ENCRYPTION_WRITES", 20),
			EncryptionReadsPerMinute:  GetEnvInt("PARLEY_RATE_LIMIT_ENCRYPTION_READS", 60),
		},
		Otel: OtelConfig{
			Endpoint:    GetEnvWithFallback("PARLEY_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			Environment: GetEnvWithFallback("PARLEY_ENVIRONMENT", "ENVIRONMENT", "development"),
		},
	}
}

func (c *Config) IsIdentityConfigured() bool {
	return c.Identity.URL != ""
}

func (c *Config) IsFilesConfigured() bool {
	return c.Files.Endpoint != "" && c.Files.AccessKey != "" && c.Files.SecretKey != ""
}

func (c *Config) IsRedisConfigured() bool {
	return c.Redis.Addr != ""
}
