package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	DBURL     string
	GeoIPPath string

	Location    *time.Location
	DevPublicIP string
	MaxFieldLen int
	IgnoreBots  bool

	QueryTimeout     time.Duration
	AggregateTimeout time.Duration

	SessionWindowDays int
	NewVisitorDays    int
	TopN              int

	LogBufferSize int
	FlushInterval time.Duration

	CacheSize int
	CacheTTL  time.Duration
	RedisURL  string

	// ReconcileSchedule is a cron expression; empty disables the drift report.
	ReconcileSchedule string
	ReconcileDays     int

	// BlocklistSources are URLs or files of CIDRs/IPs treated as bots when
	// IgnoreBots is set.
	BlocklistSources  []string
	BlocklistSchedule string

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first; variables already set in the environment win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	tzName := envOrDefault("TALLY_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("TALLY_TIMEZONE: unknown location %q", tzName)
	}

	devIP := strings.TrimSpace(os.Getenv("TALLY_DEV_PUBLIC_IP"))
	if devIP != "" && net.ParseIP(devIP) == nil {
		return nil, fmt.Errorf("TALLY_DEV_PUBLIC_IP is not a valid IP address")
	}

	cfg := &Config{
		Port:      envOrDefault("TALLY_PORT", "8080"),
		DBURL:     envOrDefault("TALLY_DB_URL", "./tally.db"),
		GeoIPPath: os.Getenv("TALLY_GEOIP_PATH"),

		Location:    loc,
		DevPublicIP: devIP,
		MaxFieldLen: parseInt("TALLY_MAX_FIELD_LEN", 500),
		IgnoreBots:  parseBool("TALLY_IGNORE_BOTS", false),

		QueryTimeout:     parseDuration("TALLY_QUERY_TIMEOUT", 5*time.Second),
		AggregateTimeout: parseDuration("TALLY_AGGREGATE_TIMEOUT", 15*time.Second),

		SessionWindowDays: parseInt("TALLY_SESSION_WINDOW_DAYS", 7),
		NewVisitorDays:    parseInt("TALLY_NEW_VISITOR_DAYS", 30),
		TopN:              parseInt("TALLY_TOP_N", 10),

		LogBufferSize: parseInt("TALLY_LOG_BUFFER_SIZE", 0),
		FlushInterval: parseDuration("TALLY_FLUSH_INTERVAL", 5*time.Second),

		CacheSize: parseInt("TALLY_CACHE_SIZE", 128),
		CacheTTL:  parseDuration("TALLY_CACHE_TTL", 30*time.Second),
		RedisURL:  os.Getenv("TALLY_REDIS_URL"),

		ReconcileSchedule: envOrDefaultAllowEmpty("TALLY_RECONCILE_SCHEDULE", "15 0 * * *"),
		ReconcileDays:     parseInt("TALLY_RECONCILE_DAYS", 7),

		BlocklistSources:  splitList(os.Getenv("TALLY_BLOCKLIST_SOURCES")),
		BlocklistSchedule: envOrDefault("TALLY_BLOCKLIST_SCHEDULE", "@daily"),

		LogLevel:  strings.ToLower(envOrDefault("TALLY_LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(envOrDefault("TALLY_LOG_FORMAT", "json")),
	}

	positiveInts := []struct {
		key string
		v   int
	}{
		{"TALLY_MAX_FIELD_LEN", cfg.MaxFieldLen},
		{"TALLY_SESSION_WINDOW_DAYS", cfg.SessionWindowDays},
		{"TALLY_NEW_VISITOR_DAYS", cfg.NewVisitorDays},
		{"TALLY_TOP_N", cfg.TopN},
		{"TALLY_CACHE_SIZE", cfg.CacheSize},
		{"TALLY_RECONCILE_DAYS", cfg.ReconcileDays},
	}
	for _, p := range positiveInts {
		if p.v <= 0 {
			return nil, fmt.Errorf("%s must be positive", p.key)
		}
	}

	positiveDurations := []struct {
		key string
		v   time.Duration
	}{
		{"TALLY_QUERY_TIMEOUT", cfg.QueryTimeout},
		{"TALLY_AGGREGATE_TIMEOUT", cfg.AggregateTimeout},
		{"TALLY_FLUSH_INTERVAL", cfg.FlushInterval},
	}
	for _, p := range positiveDurations {
		if p.v <= 0 {
			return nil, fmt.Errorf("%s must be positive", p.key)
		}
	}

	if cfg.LogBufferSize < 0 {
		return nil, fmt.Errorf("TALLY_LOG_BUFFER_SIZE must not be negative")
	}
	if cfg.CacheTTL < 0 {
		return nil, fmt.Errorf("TALLY_CACHE_TTL must not be negative")
	}

	return cfg, nil
}

// CacheEnabled reports whether analytics results should be cached at all.
func (c *Config) CacheEnabled() bool {
	return c.CacheTTL > 0
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envOrDefaultAllowEmpty treats an explicitly empty variable as a value.
func envOrDefaultAllowEmpty(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return strings.TrimSpace(v)
	}
	return fallback
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func parseInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func parseBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
