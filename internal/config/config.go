// Package config reads server settings from command-line flags, falling
// back to environment variables for anything not given on the command line.
package config

import (
	"errors"
	"flag"
	"fmt"
	"strconv"
	"time"
)

const devSessionSecret = "inbox-development-session-secret-do-not-use-in-production"

type Config struct {
	Addr      string
	StoreType string
	DSN       string
	MongoDB   string

	SessionSecret string
	SecureCookies bool
	Dev           bool

	PageSize      int
	RedisAddr     string
	InboxCacheTTL time.Duration

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string

	BaseURL        string
	NotifyInterval time.Duration
	NotifyDelay    time.Duration
}

// Load parses args (without the program name). getenv supplies the
// defaults, usually os.Getenv.
func Load(args []string, getenv func(string) string) (*Config, error) {
	env := envReader{getenv: getenv}
	cfg := &Config{}

	fs := flag.NewFlagSet("inbox", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", env.str("ADDR", ":8080"), "http service address")
	fs.StringVar(&cfg.StoreType, "store", env.str("STORE_TYPE", "sqlite3"), "storage backend: sqlite3, postgres or mongo")
	fs.StringVar(&cfg.DSN, "dsn", env.str("DATABASE_URL", "inbox.db"), "database connection string")
	fs.StringVar(&cfg.MongoDB, "mongo-db", env.str("MONGO_DATABASE", "inbox"), "MongoDB database name")

	fs.StringVar(&cfg.SessionSecret, "session-secret", env.str("SESSION_SECRET", ""), "key used to sign session cookies")
	fs.BoolVar(&cfg.SecureCookies, "secure-cookies", env.boolean("SECURE_COOKIES", false), "only send session cookies over https")
	fs.BoolVar(&cfg.Dev, "dev", env.boolean("DEV", false), "development mode")

	fs.IntVar(&cfg.PageSize, "page-size", env.integer("PAGE_SIZE", 20), "messages per page")
	fs.StringVar(&cfg.RedisAddr, "redis-addr", env.str("REDIS_ADDR", ""), "redis address for the inbox cache (empty disables it)")
	fs.DurationVar(&cfg.InboxCacheTTL, "inbox-cache-ttl", env.duration("INBOX_CACHE_TTL", 5*time.Minute), "inbox cache entry lifetime")

	fs.StringVar(&cfg.SMTPHost, "smtp-host", env.str("SMTP_HOST", ""), "SMTP host (empty logs mails instead)")
	fs.IntVar(&cfg.SMTPPort, "smtp-port", env.integer("SMTP_PORT", 587), "SMTP port")
	fs.StringVar(&cfg.SMTPUser, "smtp-user", env.str("SMTP_USER", ""), "SMTP username")
	fs.StringVar(&cfg.SMTPPassword, "smtp-password", env.str("SMTP_PASSWORD", ""), "SMTP password")
	fs.StringVar(&cfg.SMTPFrom, "smtp-from", env.str("SMTP_FROM", "noreply@localhost"), "sender address for notifications")

	fs.StringVar(&cfg.BaseURL, "base-url", env.str("BASE_URL", "http://localhost:8080"), "public URL used in mails")
	fs.DurationVar(&cfg.NotifyInterval, "notify-interval", env.duration("NOTIFY_INTERVAL", time.Minute), "how often to look for unread messages (0 disables)")
	fs.DurationVar(&cfg.NotifyDelay, "notify-delay", env.duration("NOTIFY_DELAY", 10*time.Minute), "how long a message stays unread before mailing")

	if env.err != nil {
		return nil, env.err
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreType {
	case "sqlite3", "postgres", "mongo":
	default:
		return fmt.Errorf("unknown store type %q", c.StoreType)
	}
	if c.PageSize < 1 {
		return fmt.Errorf("page size must be at least 1, got %d", c.PageSize)
	}
	if c.InboxCacheTTL < 0 || c.NotifyInterval < 0 || c.NotifyDelay < 0 {
		return errors.New("durations must not be negative")
	}
	if c.SessionSecret == "" {
		if !c.Dev {
			return errors.New("a session secret is required outside development mode")
		}
		c.SessionSecret = devSessionSecret
	}
	return nil
}

// envReader remembers the first malformed variable it sees.
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key, def string) string {
	if v := e.getenv(key); v != "" {
		return v
	}
	return def
}

func (e *envReader) integer(key string, def int) int {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return n
}

func (e *envReader) boolean(key string, def bool) bool {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return b
}

func (e *envReader) duration(key string, def time.Duration) time.Duration {
	v := e.getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, err)
		return def
	}
	return d
}

func (e *envReader) fail(key string, err error) {
	if e.err == nil {
		e.err = fmt.Errorf("invalid %s: %w", key, err)
	}
}
