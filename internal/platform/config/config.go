package config

import (
	"crypto/sha256"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/hkdf"

	strs "submit/pkg/platform/strings"
)

// Server captures process-wide configuration. main builds it once and hands
// each component the slice it needs.
type Server struct {
	Addr           string
	BaseURL        string
	RequestTimeout time.Duration
	StateSecret    []byte
	DatabaseURL    string
	ProgramsFile   string
	FormURLHosts   []string
	OperatorJWTKey []byte
	OperatorIssuer string
	Vault          VaultConfig
	Redis          RedisConfig
	Session        SessionConfig
	Kafka          KafkaConfig
}

// VaultConfig describes the Identity Vault endpoints and credentials.
type VaultConfig struct {
	BaseURL        string
	ProgramKey     string
	ClientID       string
	ClientSecret   string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// RedisConfig holds Redis connection settings. An empty URL disables Redis.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SessionConfig controls the browser session cookie.
type SessionConfig struct {
	CookieName string
	Secure     bool
	TTL        time.Duration
}

// KafkaConfig enables mirroring journey events to a topic when Brokers is set.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

const devSecretKeyBase = "dev-secret-key-base-change-in-production"

// FromEnv builds a Server config from environment variables so main stays lean.
func FromEnv() Server {
	secretKeyBase := getEnv("SECRET_KEY_BASE", devSecretKeyBase)

	stateSecret := []byte(os.Getenv("STATE_HMAC_SECRET"))
	if len(stateSecret) == 0 {
		stateSecret = DeriveKey(secretKeyBase, "state-token")
	}
	operatorKey := []byte(os.Getenv("OPERATOR_JWT_KEY"))
	if len(operatorKey) == 0 {
		operatorKey = DeriveKey(secretKeyBase, "operator-jwt")
	}

	return Server{
		Addr:           getEnv("SUBMIT_ADDR", ":8080"),
		BaseURL:        strings.TrimRight(getEnv("NEXTAUTH_URL", "http://localhost:8080"), "/"),
		RequestTimeout: getDuration("REQUEST_TIMEOUT", 30*time.Second),
		StateSecret:    stateSecret,
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		ProgramsFile:   os.Getenv("PROGRAMS_FILE"),
		FormURLHosts:   strs.SplitHosts(os.Getenv("FORM_URL_ALLOWED_HOSTS")),
		OperatorJWTKey: operatorKey,
		OperatorIssuer: getEnv("OPERATOR_JWT_ISSUER", "submit-admin"),
		Vault: VaultConfig{
			BaseURL:        strings.TrimRight(os.Getenv("IDENTITY_URL"), "/"),
			ProgramKey:     os.Getenv("IDENTITY_PROGRAM_KEY"),
			ClientID:       os.Getenv("IDENTITY_CLIENT_ID"),
			ClientSecret:   os.Getenv("IDENTITY_CLIENT_SECRET"),
			ConnectTimeout: getDuration("IDENTITY_CONNECT_TIMEOUT", 3*time.Second),
			ReadTimeout:    getDuration("IDENTITY_READ_TIMEOUT", 5*time.Second),
		},
		Redis: RedisConfig{
			URL:          os.Getenv("REDIS_URL"),
			PoolSize:     getInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Session: SessionConfig{
			CookieName: getEnv("SESSION_COOKIE_NAME", "_submit_session"),
			Secure:     os.Getenv("SESSION_COOKIE_SECURE") == "true",
			TTL:        getDuration("SESSION_TTL", 24*time.Hour),
		},
		Kafka: KafkaConfig{
			Brokers: strs.SplitList(os.Getenv("KAFKA_BROKERS")),
			Topic:   getEnv("KAFKA_JOURNEY_TOPIC", "submit.journey-events"),
		},
	}
}

// DeriveKey expands a purpose-bound 32-byte subkey from the shared secret base.
func DeriveKey(secretKeyBase, purpose string) []byte {
	r := hkdf.New(sha256.New, []byte(secretKeyBase), nil, []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails past 255*hash length
		panic(err)
	}
	return key
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
