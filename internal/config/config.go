package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	AppEnv string
	Port   int

	// Store backend: "postgres" (production) or "memory" (dev/demo).
	StoreBackend string
	DBDSN        string

	// Engine timing. DeliveryTimeout bounds one HTTP attempt and must stay
	// below LeaseTimeout, otherwise a slow worker gets its lease reaped while
	// the request is still in flight.
	TickInterval    time.Duration
	LeaseTimeout    time.Duration
	DeliveryTimeout time.Duration

	// Admin API auth; empty secret disables the middleware.
	AdminJWTSecret string
	AdminJWTIssuer string

	// API rate limit
	RLEnabled bool
	RLLimit   int
	RLWindow  time.Duration

	// Optional AMQP ingress bridge; empty URL disables it.
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	LogLevel string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	cfg.AppEnv = getEnv("APP_ENV", "dev")
	cfg.Port = getInt("PORT", 8080)

	cfg.StoreBackend = strings.ToLower(getEnv("STORE", StorePostgres))

	// Postgres: prefer DATABASE_URL if present, else build from POSTGRES_*
	dbURL := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if dbURL != "" {
		cfg.DBDSN = dbURL
	} else {
		addr := getEnv("POSTGRES_ADDR", "")
		user := getEnv("POSTGRES_USER", "")
		pass := getEnv("POSTGRES_PASSWORD", "")
		db := getEnv("POSTGRES_DB", "")
		sslmode := getEnv("POSTGRES_SSLMODE", "disable")
		cfg.DBDSN = buildPostgresURL(addr, user, pass, db, sslmode)
	}

	cfg.TickInterval = getDuration("TICK_INTERVAL", time.Second)
	cfg.LeaseTimeout = getDuration("LEASE_TIMEOUT", 60*time.Second)
	cfg.DeliveryTimeout = getDuration("DELIVERY_TIMEOUT", 30*time.Second)

	cfg.AdminJWTSecret = getEnv("ADMIN_JWT_SECRET", "")
	cfg.AdminJWTIssuer = getEnv("ADMIN_JWT_ISSUER", "")

	cfg.RLEnabled = getBool("RL_ENABLED", true)
	cfg.RLLimit = getInt("RL_REQUESTS_LIMIT", 100)
	cfg.RLWindow = time.Duration(getInt("RL_WINDOW_SECONDS", 60)) * time.Second

	cfg.AMQPURL = getEnv("RABBITMQ_URL", "")
	cfg.AMQPExchange = getEnv("RABBITMQ_EXCHANGE", "pgmb")
	cfg.AMQPQueue = getEnv("RABBITMQ_QUEUE", "pgmb.ingress")

	cfg.LogLevel = getEnv("LOG_LEVEL", "info")

	// Fail fast on anything the engine cannot run with.
	switch cfg.StoreBackend {
	case StorePostgres, StoreMemory:
	default:
		return nil, fmt.Errorf("invalid STORE %q: must be %q or %q", cfg.StoreBackend, StorePostgres, StoreMemory)
	}
	if cfg.StoreBackend == StorePostgres && cfg.DBDSN == "" {
		return nil, fmt.Errorf("missing database config: provide DATABASE_URL or POSTGRES_ADDR/POSTGRES_USER/POSTGRES_PASSWORD/POSTGRES_DB")
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("TICK_INTERVAL must be positive")
	}
	if cfg.DeliveryTimeout <= 0 || cfg.LeaseTimeout <= 0 {
		return nil, fmt.Errorf("DELIVERY_TIMEOUT and LEASE_TIMEOUT must be positive")
	}
	if cfg.DeliveryTimeout >= cfg.LeaseTimeout {
		return nil, fmt.Errorf("DELIVERY_TIMEOUT (%s) must be less than LEASE_TIMEOUT (%s)", cfg.DeliveryTimeout, cfg.LeaseTimeout)
	}

	return cfg, nil
}

// buildPostgresURL builds a safe postgres URL DSN (handles special characters).
func buildPostgresURL(addr, user, pass, db, sslmode string) string {
	if strings.TrimSpace(addr) == "" || strings.TrimSpace(user) == "" || strings.TrimSpace(db) == "" {
		return ""
	}

	u := &url.URL{
		Scheme: "postgres",
		Host:   strings.TrimSpace(addr),
		Path:   "/" + strings.TrimPrefix(strings.TrimSpace(db), "/"),
	}
	if pass != "" {
		u.User = url.UserPassword(user, pass)
	} else {
		u.User = url.User(user)
	}

	q := url.Values{}
	if strings.TrimSpace(sslmode) != "" {
		q.Set("sslmode", strings.TrimSpace(sslmode))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func getEnv(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	switch strings.ToLower(v) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	case "0", "false", "f", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getDuration(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
