package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"entgo.io/ent/dialect/sql/schema"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jordanlanch/leadguard/pkg/logger"
)

// Client holds the database driver
type Client struct {
	Driver *entsql.Driver
	db     *sql.DB // Underlying database for pool stats
	log    logger.Logger
}

// Config selects and tunes the SQL backend.
type Config struct {
	Driver string // postgres or sqlite3
	URL    string
	Pool   PoolConfig
	SSL    *SSLConfig
}

// PoolConfig holds connection pool configuration
type PoolConfig struct {
	MaxOpenConns    int           // Maximum number of open connections
	MaxIdleConns    int           // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum amount of time a connection may be reused
	ConnMaxIdleTime time.Duration // Maximum amount of time a connection may be idle
}

// SSLConfig holds SSL/TLS configuration for database connections
type SSLConfig struct {
	Mode         string // disable, require, verify-ca, verify-full
	CertPath     string // Path to client certificate
	KeyPath      string // Path to client key
	RootCertPath string // Path to root CA certificate
}

// DefaultPoolConfig returns sensible defaults for connection pooling
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// BuildConnectionString builds a PostgreSQL connection string with SSL parameters
func BuildConnectionString(baseURL string, sslCfg *SSLConfig) (string, error) {
	if sslCfg == nil {
		return baseURL, nil
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse database URL: %w", err)
	}

	query := parsedURL.Query()

	// Set SSL mode (overrides any existing sslmode in URL)
	if sslCfg.Mode != "" {
		query.Set("sslmode", sslCfg.Mode)
	}
	if sslCfg.CertPath != "" {
		query.Set("sslcert", sslCfg.CertPath)
	}
	if sslCfg.KeyPath != "" {
		query.Set("sslkey", sslCfg.KeyPath)
	}
	if sslCfg.RootCertPath != "" {
		query.Set("sslrootcert", sslCfg.RootCertPath)
	}

	parsedURL.RawQuery = query.Encode()

	return parsedURL.String(), nil
}

// Open connects to the configured backend and configures the pool. It does
// not touch the schema; call Migrate for that.
func Open(cfg Config, log logger.Logger) (*Client, error) {
	if log == nil {
		log = logger.Nop()
	}

	driverName, dsn := cfg.Driver, cfg.URL
	var dialectName string
	switch driverName {
	case "", "postgres":
		driverName, dialectName = "postgres", dialect.Postgres
		connStr, err := BuildConnectionString(cfg.URL, cfg.SSL)
		if err != nil {
			return nil, fmt.Errorf("failed building connection string: %w", err)
		}
		dsn = connStr
		if cfg.SSL != nil && cfg.SSL.Mode != "" && cfg.SSL.Mode != "disable" {
			log.Info("database SSL enabled", "mode", cfg.SSL.Mode)
		}
	case "sqlite3":
		dialectName = dialect.SQLite
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed opening connection to %s: %w", driverName, err)
	}

	pool := cfg.Pool
	if pool.MaxOpenConns == 0 {
		pool = DefaultPoolConfig()
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	log.Info("database connection pool configured",
		"driver", driverName,
		"max_open", pool.MaxOpenConns,
		"max_idle", pool.MaxIdleConns,
		"max_lifetime", pool.ConnMaxLifetime.String(),
	)

	return &Client{
		Driver: entsql.OpenDB(dialectName, db),
		db:     db,
		log:    log,
	}, nil
}

// Migrate creates or updates the tables the service owns.
func (c *Client) Migrate(ctx context.Context) error {
	m, err := schema.NewMigrate(c.Driver)
	if err != nil {
		return fmt.Errorf("failed creating migrator: %w", err)
	}
	if err := m.Create(ctx, Tables...); err != nil {
		return fmt.Errorf("failed creating schema resources: %w", err)
	}
	c.log.Info("database migrations applied", "tables", len(Tables))
	return nil
}

// Dialect returns the SQL dialect name of the driver.
func (c *Client) Dialect() string {
	return c.Driver.Dialect()
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.Driver.Close()
}

// Ping checks if the database is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Stats returns database connection pool statistics
func (c *Client) Stats() sql.DBStats {
	return c.db.Stats()
}
