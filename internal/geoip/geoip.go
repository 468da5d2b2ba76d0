// Package geoip resolves client IP addresses to ISO country codes using a
// local MaxMind database. Resolution is best-effort: country-scope block
// checks proceed without a country when no database is configured or a
// lookup fails.
package geoip

import (
	"fmt"
	"net"

	"github.com/oschwald/geoip2-golang"
)

// Resolver maps an IP address to an ISO 3166-1 alpha-2 country code.
// An empty string means the country could not be determined.
type Resolver interface {
	Country(ip string) string
	Close() error
}

// MaxMind resolves countries from a GeoLite2/GeoIP2 City or Country .mmdb file.
type MaxMind struct {
	reader *geoip2.Reader
}

// Open opens the MaxMind database at path.
func Open(path string) (*MaxMind, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &MaxMind{reader: reader}, nil
}

// Country returns the ISO country code for ip, or "" if the IP is
// unparseable or not present in the database.
func (m *MaxMind) Country(ip string) string {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return ""
	}
	record, err := m.reader.Country(parsed)
	if err != nil {
		return ""
	}
	return record.Country.IsoCode
}

// Close closes the underlying database reader.
func (m *MaxMind) Close() error {
	return m.reader.Close()
}

// Noop is a Resolver that never resolves a country. Used when no GeoIP
// database is configured; country-scope blocks then depend on the caller
// supplying a country code explicitly.
type Noop struct{}

func (Noop) Country(string) string { return "" }
func (Noop) Close() error          { return nil }

// Static resolves from a fixed map. Test helper.
type Static map[string]string

func (s Static) Country(ip string) string { return s[ip] }
func (s Static) Close() error             { return nil }
