// Package blocklist implements the block enforcement engine.
//
// Block records are keyed by subject: either a literal IP address string or
// a synthetic country key of the form COUNTRY_BLOCK_<ISO-code>. Records are
// written by moderation tooling, read on every gated action, and lazily
// deleted once expired.
package blocklist

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound = errors.New("block record not found")
)

// CountryKeyPrefix marks a subject key as country-scoped.
const CountryKeyPrefix = "COUNTRY_BLOCK_"

// CountryKey builds the subject key for a country-scope block.
func CountryKey(isoCode string) string {
	return CountryKeyPrefix + strings.ToUpper(isoCode)
}

// IsCountryKey reports whether a subject key is country-scoped.
func IsCountryKey(key string) bool {
	return strings.HasPrefix(key, CountryKeyPrefix)
}

// BlockRecord is a stored decision that a subject is denied gated actions.
// At most one active record exists per subject key.
type BlockRecord struct {
	SubjectKey  string     `json:"subjectKey"`
	Reason      string     `json:"reason"`
	IsPermanent bool       `json:"is_permanent"`
	ExpiresAt   *time.Time `json:"block_expires_at,omitempty"`
	CountryCode string     `json:"country_code,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	UpdatedAt   time.Time  `json:"updatedAt"`
}

// Expired reports whether the record is inert at the given instant.
// Permanent records never expire. A non-permanent record without an
// expiry timestamp is treated as already expired rather than silently
// permanent.
func (r *BlockRecord) Expired(now time.Time) bool {
	if r.IsPermanent {
		return false
	}
	if r.ExpiresAt == nil {
		return true
	}
	return !r.ExpiresAt.After(now)
}

// Verdict is the enforcement decision returned to callers. Blocking is a
// normal outcome, not an error.
type Verdict struct {
	Blocked     bool       `json:"blocked"`
	Reason      string     `json:"reason,omitempty"`
	Message     string     `json:"message,omitempty"`
	BlockType   string     `json:"blockType,omitempty"`
	IsPermanent bool       `json:"is_permanent,omitempty"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Block scope values used in Verdict.BlockType.
const (
	ScopeIP      = "ip"
	ScopeCountry = "country"
)

// CreateBlockRequest is the admin request body for writing a block record.
// Either IP or CountryCode must be set; CountryCode alone creates a
// country-scope record.
type CreateBlockRequest struct {
	IP          string `json:"ip"`
	CountryCode string `json:"countryCode"`
	Reason      string `json:"reason" binding:"required"`
	IsPermanent bool   `json:"isPermanent"`
	DurationHrs int    `json:"durationHours"`
}

// Store persists block records.
type Store interface {
	// Get returns the record for a subject key, or ErrNotFound.
	Get(ctx context.Context, subjectKey string) (*BlockRecord, error)
	// Put upserts the record for its subject key.
	Put(ctx context.Context, record *BlockRecord) error
	// Delete removes the record for a subject key. Deleting an absent
	// record is a no-op, not an error.
	Delete(ctx context.Context, subjectKey string) error
	// List returns up to limit records ordered by creation time descending.
	List(ctx context.Context, limit int) ([]*BlockRecord, error)
	// DeleteExpired removes all non-permanent records whose expiry is at
	// or before now, returning the number removed.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}
