// Package engine detects which storage engines a deployment is
// configured with. Detection happens once at startup from the
// connection-string schemes alone - never by probing a live server -
// so a misconfiguration fails fast instead of surfacing as a runtime
// query error. The resulting Deployment value is immutable and shared
// process-wide.
package engine

import (
	"fmt"
	"strings"
)

// Identity is the detected backend category of a single store.
type Identity int

const (
	Unknown Identity = iota
	SQLite
	Postgres
	ClickHouse
)

// String returns the engine name used in logs and error messages.
func (i Identity) String() string {
	switch i {
	case SQLite:
		return "sqlite"
	case Postgres:
		return "postgres"
	case ClickHouse:
		return "clickhouse"
	default:
		return "unknown"
	}
}

// Deployment describes the detected store topology: the primary
// relational engine plus whether a secondary columnar analytics store
// is attached.
type Deployment struct {
	Relational        Identity
	AnalyticsAttached bool
}

// ConfigError reports an unrecognized or missing connection descriptor.
// It is fatal at startup and never recoverable per-request.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("engine configuration error (%s): %s", e.Field, e.Reason)
}

// Detect classifies the configured connection strings. The primary DSN
// must name a relational engine and the optional analytics DSN must
// name a columnar engine; anything else is a ConfigError.
func Detect(primaryDSN, analyticsDSN string) (Deployment, error) {
	if primaryDSN == "" {
		return Deployment{}, &ConfigError{Field: "database_url", Reason: "primary connection string is required"}
	}

	relational := classify(primaryDSN)
	switch relational {
	case SQLite, Postgres:
		// supported relational engines
	case ClickHouse:
		return Deployment{}, &ConfigError{
			Field:  "database_url",
			Reason: "columnar engine cannot serve as the primary relational store",
		}
	default:
		return Deployment{}, &ConfigError{
			Field:  "database_url",
			Reason: fmt.Sprintf("unrecognized connection string scheme in %q", redact(primaryDSN)),
		}
	}

	if analyticsDSN == "" {
		return Deployment{Relational: relational}, nil
	}

	if classify(analyticsDSN) != ClickHouse {
		return Deployment{}, &ConfigError{
			Field:  "analytics_url",
			Reason: fmt.Sprintf("analytics store must be a clickhouse connection string, got %q", redact(analyticsDSN)),
		}
	}

	return Deployment{Relational: relational, AnalyticsAttached: true}, nil
}

// classify maps a connection string to an engine identity by scheme
// prefix only.
func classify(dsn string) Identity {
	lower := strings.ToLower(dsn)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"):
		return Postgres
	case strings.HasPrefix(lower, "clickhouse://"), strings.HasPrefix(lower, "tcp://"):
		return ClickHouse
	case strings.HasPrefix(lower, "sqlite://"), strings.HasPrefix(lower, "file:"), strings.HasSuffix(lower, ".db"):
		return SQLite
	default:
		return Unknown
	}
}

// redact strips credentials from a DSN before it lands in an error
// message.
func redact(dsn string) string {
	schemeEnd := strings.Index(dsn, "://")
	if schemeEnd < 0 {
		return dsn
	}
	at := strings.LastIndex(dsn, "@")
	if at < 0 || at < schemeEnd {
		return dsn
	}
	return dsn[:schemeEnd+3] + "***" + dsn[at:]
}
