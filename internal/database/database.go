// Package database opens and owns the store connections for the
// detected deployment: a GORM handle for the primary relational engine
// and, when attached, a native ClickHouse connection for the columnar
// analytics store.
package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"sitelens/internal/config"
	"sitelens/internal/engine"
	"sitelens/internal/events"
	"sitelens/internal/sessions"
	"sitelens/internal/websites"
)

// Manager holds the open store connections. The deployment value is
// read-only after construction; nothing re-detects engines per request.
type Manager struct {
	deployment engine.Deployment
	db         *gorm.DB
	analytics  clickhouse.Conn
	logger     *logrus.Logger
}

// NewManager connects to the stores named by the configuration. The
// engine detection result decides which dialector to open; connection
// failures here are startup failures, not per-request errors.
func NewManager(cfg *config.Config, dep engine.Deployment, logger *logrus.Logger) (*Manager, error) {
	db, err := openRelational(cfg, dep.Relational)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", dep.Relational, err)
	}

	m := &Manager{deployment: dep, db: db, logger: logger}

	if dep.AnalyticsAttached {
		conn, err := openClickHouse(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open analytics store: %w", err)
		}
		m.analytics = conn
	}

	return m, nil
}

// Deployment returns the immutable engine detection result.
func (m *Manager) Deployment() engine.Deployment {
	return m.deployment
}

// DB returns the relational GORM handle.
func (m *Manager) DB() *gorm.DB {
	return m.db
}

// Analytics returns the columnar connection, or nil when no analytics
// store is attached.
func (m *Manager) Analytics() clickhouse.Conn {
	return m.analytics
}

// Migrate creates the relational schema. The columnar schema is
// provisioned out-of-band; this layer only ever reads and appends to it.
func (m *Manager) Migrate() error {
	err := m.db.Transaction(func(tx *gorm.DB) error {
		return tx.AutoMigrate(
			&websites.Website{},
			&sessions.Session{},
			&events.Event{},
		)
	})
	if err != nil {
		m.logger.WithError(err).Error("Failed to auto-migrate database")
		return err
	}

	m.logger.Info("Database migration completed successfully")
	return nil
}

// Close releases both store connections.
func (m *Manager) Close() error {
	if m.analytics != nil {
		if err := m.analytics.Close(); err != nil {
			m.logger.WithError(err).Warn("Failed to close analytics connection")
		}
	}
	sqlDB, err := m.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func openRelational(cfg *config.Config, id engine.Identity) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	}

	var db *gorm.DB
	var err error
	switch id {
	case engine.SQLite:
		db, err = gorm.Open(sqlite.Open(sqliteDSN(cfg.DatabaseURL)), gormCfg)
	case engine.Postgres:
		db, err = gorm.Open(postgres.Open(cfg.DatabaseURL), gormCfg)
	default:
		return nil, fmt.Errorf("no relational dialector for engine %s", id)
	}
	if err != nil {
		return nil, err
	}

	if id == engine.SQLite {
		db.Exec("PRAGMA journal_mode = WAL")
		db.Exec("PRAGMA busy_timeout = 5000")
		db.Exec("PRAGMA foreign_keys = ON")
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.GetMaxOpenConns())
	sqlDB.SetMaxIdleConns(cfg.GetMaxIdleConns())

	return db, nil
}

// sqliteDSN normalizes the accepted sqlite connection forms down to the
// path the driver expects.
func sqliteDSN(dsn string) string {
	if strings.HasPrefix(strings.ToLower(dsn), "sqlite://") {
		return dsn[len("sqlite://"):]
	}
	return dsn
}

func openClickHouse(cfg *config.Config) (clickhouse.Conn, error) {
	options, err := clickhouse.ParseDSN(cfg.AnalyticsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid analytics connection string: %w", err)
	}
	options.Compression = &clickhouse.Compression{Method: clickhouse.CompressionLZ4}
	options.DialTimeout = 5 * time.Second

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return conn, nil
}
