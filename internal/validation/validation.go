// Package validation provides input validation middleware for the abuse mitigation API.
package validation

import (
	"net"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

// MaxReasonLength is the maximum length for block reason text
const MaxReasonLength = 500

var (
	// countryCodeRegex validates ISO 3166-1 alpha-2 country codes
	countryCodeRegex = regexp.MustCompile(`^[A-Za-z]{2}$`)
	// deviceHashRegex validates fingerprint hashes (hex SHA-256)
	deviceHashRegex = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidIP checks if a string parses as an IPv4 or IPv6 address
func IsValidIP(s string) bool {
	return net.ParseIP(s) != nil
}

// IsValidCountryCode checks if a string is a two-letter country code
func IsValidCountryCode(s string) bool {
	return countryCodeRegex.MatchString(s)
}

// IsValidDeviceHash checks if a string looks like a fingerprint hash
func IsValidDeviceHash(s string) bool {
	return deviceHashRegex.MatchString(s)
}

// SanitizeString removes dangerous characters and limits length
func SanitizeString(s string, maxLen int) string {
	// Trim whitespace
	s = strings.TrimSpace(s)

	// Limit length
	if len(s) > maxLen {
		s = s[:maxLen]
	}

	// Remove null bytes
	s = strings.ReplaceAll(s, "\x00", "")

	return s
}
