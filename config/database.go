package config

import "time"

// DBConfig contains PostgreSQL database configuration for the persistence
// collaborator (webhook audit records, tenant mappings, credentials).
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"fortify"`
	Password string `env:"PASSWORD" envDefault:"fortify"`
	Name     string `env:"NAME"     envDefault:"fortify"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
}

// RedisConfig contains Redis configuration for the queue store.
type RedisConfig struct {
	URI                string   `env:"URI"                  envDefault:"localhost:6379"`
	Password           string   `env:"PASSWORD"             envDefault:""`
	DB                 int      `env:"DB"                   envDefault:"0"`
	SentinelNodes      []string `env:"SENTINEL_NODES"       envDefault:"localhost:26379"`
	SentinelMasterName string   `env:"SENTINEL_MASTER_NAME" envDefault:"mymaster"`
	SentinelPassword   string   `env:"SENTINEL_PASSWORD"    envDefault:""`
	UseSentinel        bool     `env:"USE_SENTINEL"         envDefault:"false"`
}

// QueueConfig contains job queue behavior configuration.
type QueueConfig struct {
	// Namespace prefixes every Redis key owned by the job queue.
	Namespace string `env:"NAMESPACE" envDefault:"fix_jobs"`

	// ClaimTimeout is the blocking wait used for one claim attempt.
	// Workers re-check their stop flag between attempts, so this bounds
	// shutdown latency.
	ClaimTimeout time.Duration `env:"CLAIM_TIMEOUT" envDefault:"5s"`

	// Lease is the visibility timeout for in-flight jobs. Jobs whose
	// lease expires without completion are requeued by the reaper.
	Lease time.Duration `env:"LEASE" envDefault:"10m"`
}

// Sanitize applies guardrails to queue configuration values.
func (c *QueueConfig) Sanitize() {
	if c.Namespace == "" {
		c.Namespace = "fix_jobs"
	}
	if c.ClaimTimeout <= 0 {
		c.ClaimTimeout = 5 * time.Second
	}
	if c.Lease <= 0 {
		c.Lease = 10 * time.Minute
	}
}
