// internal/config/config.go
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/jason-s-yu/werewolf/internal/game"
	"github.com/jason-s-yu/werewolf/internal/orchestrator"
)

// History backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis" // queue through redis, drained into postgres by the historian
)

// Config is the process configuration, read from the environment. Import
// github.com/joho/godotenv/autoload in main to pick up a local .env file.
type Config struct {
	Port     string `env:"PORT"      envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	Env      string `env:"ENV"       envDefault:"dev"`

	AllowedOrigins []string `env:"ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Default phase durations for new channels, in seconds.
	PreSec   int `env:"PHASE_PRE_SEC"   envDefault:"20"`
	DaySec   int `env:"PHASE_DAY_SEC"   envDefault:"300"`
	NightSec int `env:"PHASE_NIGHT_SEC" envDefault:"120"`

	IdleTimeout     time.Duration `env:"CHANNEL_IDLE_TIMEOUT" envDefault:"30m"`
	JanitorInterval time.Duration `env:"JANITOR_INTERVAL"     envDefault:"1m"`
	MaxMessageLen   int           `env:"MAX_MESSAGE_LEN"      envDefault:"1000"`

	TokenTTL       time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	PrivateKeyPath string        `env:"AUTH_PRIVATE_KEY"`
	PublicKeyPath  string        `env:"AUTH_PUBLIC_KEY"`

	HistoryBackend string `env:"HISTORY_BACKEND" envDefault:"memory"`

	Postgres Postgres
	Redis    Redis
}

// Postgres holds the connection parts, named as in the deployment .env files.
type Postgres struct {
	User     string `env:"POSTGRES_USER"`
	Password string `env:"POSTGRES_PASSWORD"`
	Host     string `env:"PG_HOST"     envDefault:"localhost"`
	Port     string `env:"PG_PORT"     envDefault:"5432"`
	Database string `env:"PG_DATABASE" envDefault:"werewolf"`
}

// DSN renders a postgres connection string.
func (p Postgres) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s", p.User, p.Password, p.Host, p.Port, p.Database)
}

type Redis struct {
	Addr  string `env:"REDIS_ADDR"           envDefault:"localhost:6379"`
	DB    int    `env:"REDIS_DB"             envDefault:"0"`
	Queue string `env:"HISTORIAN_QUEUE_NAME" envDefault:"werewolf_history"`

	BatchSize int           `env:"HISTORIAN_BATCH_SIZE" envDefault:"20"`
	FlushWait time.Duration `env:"HISTORIAN_FLUSH"      envDefault:"500ms"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.HistoryBackend {
	case BackendMemory, BackendPostgres, BackendRedis:
	default:
		return fmt.Errorf("unknown HISTORY_BACKEND %q", c.HistoryBackend)
	}
	if c.PreSec < 0 || c.DaySec < 0 || c.NightSec < 0 {
		return fmt.Errorf("phase durations must not be negative")
	}
	if c.MaxMessageLen <= 0 {
		return fmt.Errorf("MAX_MESSAGE_LEN must be positive")
	}
	if (c.PrivateKeyPath == "") != (c.PublicKeyPath == "") {
		return fmt.Errorf("AUTH_PRIVATE_KEY and AUTH_PUBLIC_KEY must be set together")
	}
	return nil
}

// Rules returns the default game rules with the configured phase durations.
func (c Config) Rules() game.Rules {
	r := game.DefaultRules()
	r.PreSec, r.DaySec, r.NightSec = c.PreSec, c.DaySec, c.NightSec
	return r
}

// Orchestrator returns the lifecycle options for the orchestrator.
func (c Config) Orchestrator() orchestrator.Options {
	o := orchestrator.DefaultOptions()
	o.IdleTimeout = c.IdleTimeout
	o.JanitorInterval = c.JanitorInterval
	o.MaxMessageLen = c.MaxMessageLen
	return o
}
