package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	DB     DBConfig
	MinIO  MinIOConfig
	JWT    JWTConfig
	Server ServerConfig
	Blob   BlobConfig
	Tree   TreeConfig
	SSO    SSOConfig
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

type ServerConfig struct {
	Port        string
	FrontendURL string
	BodyLimitMB int
}

// BlobConfig tunes the content-addressed blob store: bounded retries for
// object storage I/O and the garbage-collection cycle for unreferenced
// blobs. GCGracePeriod protects against the release/re-reference race, so
// it must stay comfortably above the longest plausible upload.
type BlobConfig struct {
	RetryAttempts      int
	RetryBaseDelay     time.Duration
	OpTimeout          time.Duration
	GCGracePeriod      time.Duration
	GCSweepInterval    time.Duration
	ReleaseQueueSize   int
	ReleaseMaxAttempts int
}

type TreeConfig struct {
	MaxDepth int
}

type SSOConfig struct {
	Google OAuthProviderConfig
	GitHub OAuthProviderConfig
}

type OAuthProviderConfig struct {
	Enabled      bool
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       string
}

func Load() *Config {
	return &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "cloudnest"),
			Password: getEnv("DB_PASSWORD", "cloudnest_secret"),
			Name:     getEnv("DB_NAME", "cloudnest"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		MinIO: MinIOConfig{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("MINIO_ACCESS_KEY", "cloudnest"),
			SecretKey: getEnv("MINIO_SECRET_KEY", "cloudnest_secret"),
			Bucket:    getEnv("MINIO_BUCKET", "cloudnest"),
			Region:    getEnv("MINIO_REGION", ""),
			UseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		JWT: JWTConfig{
			Secret:          getEnv("JWT_SECRET", "change-me-in-production"),
			ExpirationHours: getEnvAsInt("JWT_EXPIRATION_HOURS", 24),
		},
		Server: ServerConfig{
			Port:        getEnv("SERVER_PORT", "8080"),
			FrontendURL: getEnv("FRONTEND_URL", "http://localhost:3001"),
			BodyLimitMB: getEnvAsInt("SERVER_BODY_LIMIT_MB", 100),
		},
		Blob: BlobConfig{
			RetryAttempts:      getEnvAsInt("BLOB_RETRY_ATTEMPTS", 3),
			RetryBaseDelay:     getEnvAsDuration("BLOB_RETRY_BASE_DELAY", 100*time.Millisecond),
			OpTimeout:          getEnvAsDuration("BLOB_OP_TIMEOUT", 30*time.Second),
			GCGracePeriod:      getEnvAsDuration("BLOB_GC_GRACE_PERIOD", 1*time.Hour),
			GCSweepInterval:    getEnvAsDuration("BLOB_GC_SWEEP_INTERVAL", 15*time.Minute),
			ReleaseQueueSize:   getEnvAsInt("BLOB_RELEASE_QUEUE_SIZE", 100),
			ReleaseMaxAttempts: getEnvAsInt("BLOB_RELEASE_MAX_ATTEMPTS", 5),
		},
		Tree: TreeConfig{
			MaxDepth: getEnvAsInt("MAX_TREE_DEPTH", 64),
		},
		SSO: SSOConfig{
			Google: OAuthProviderConfig{
				Enabled:      getEnvAsBool("SSO_GOOGLE_ENABLED", false),
				ClientID:     getEnv("SSO_GOOGLE_CLIENT_ID", ""),
				ClientSecret: getEnv("SSO_GOOGLE_CLIENT_SECRET", ""),
				RedirectURL:  getEnv("SSO_GOOGLE_REDIRECT_URL", ""),
				Scopes:       getEnv("SSO_GOOGLE_SCOPES", "openid,email,profile"),
			},
			GitHub: OAuthProviderConfig{
				Enabled:      getEnvAsBool("SSO_GITHUB_ENABLED", false),
				ClientID:     getEnv("SSO_GITHUB_CLIENT_ID", ""),
				ClientSecret: getEnv("SSO_GITHUB_CLIENT_SECRET", ""),
				RedirectURL:  getEnv("SSO_GITHUB_REDIRECT_URL", ""),
				Scopes:       getEnv("SSO_GITHUB_SCOPES", "read:user,user:email"),
			},
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.Atoi(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := time.ParseDuration(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		parsed, err := strconv.ParseBool(value)
		if err == nil {
			return parsed
		}
	}
	return fallback
}
