// Package geoip resolves visitor country codes from a local MaxMind
// database. GeoIP is optional: without a database every lookup returns
// the empty string.
package geoip

import (
	"net"
	"os"

	"github.com/oschwald/geoip2-golang"
	"github.com/sirupsen/logrus"
)

// Resolver wraps an optional GeoLite2 country reader.
type Resolver struct {
	reader *geoip2.Reader
	logger *logrus.Logger
}

// NewResolver opens the database at path. A missing or unreadable
// database disables lookups instead of failing startup.
func NewResolver(path string, logger *logrus.Logger) *Resolver {
	r := &Resolver{logger: logger}
	if path == "" {
		logger.Debug("geoip database path not configured, lookups disabled")
		return r
	}

	if _, err := os.Stat(path); err != nil {
		logger.WithField("path", path).WithError(err).
			Info("geoip database not found, lookups disabled")
		return r
	}

	reader, err := geoip2.Open(path)
	if err != nil {
		logger.WithField("path", path).WithError(err).
			Error("failed to open geoip database, lookups disabled")
		return r
	}

	logger.WithField("path", path).Info("geoip database loaded")
	r.reader = reader
	return r
}

// CountryCode returns the ISO country code for an IP address, or the
// empty string when unresolvable.
func (r *Resolver) CountryCode(ipAddress string) string {
	if r.reader == nil {
		return ""
	}

	ip := net.ParseIP(ipAddress)
	if ip == nil {
		return ""
	}

	country, err := r.reader.Country(ip)
	if err != nil {
		return ""
	}
	return country.Country.IsoCode
}

// Close releases the underlying database.
func (r *Resolver) Close() {
	if r.reader != nil {
		r.reader.Close()
	}
}
