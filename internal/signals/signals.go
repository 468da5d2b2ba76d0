// Package signals implements the signal ingestion endpoint.
//
// Clients submit device fingerprints and behavioral biometrics samples.
// Both are persisted append-only; fingerprint submissions are additionally
// correlated against the block list to detect ban evasion (a previously
// blocked actor returning on the same device).
package signals

import (
	"context"
	"errors"
	"time"
)

var (
	ErrValidation = errors.New("invalid signal payload")
)

// ReviewThreshold is the bot likelihood score at or above which a sample
// is flagged for manual review.
const ReviewThreshold = 70

// FingerprintPayload is the client-submitted device fingerprint.
type FingerprintPayload struct {
	Hash        string            `json:"hash" binding:"required"`
	Signals     map[string]string `json:"signals"`
	CollectedAt time.Time         `json:"collectedAt"`
}

// BiometricsPayload is the client-submitted behavioral sample.
type BiometricsPayload struct {
	TotalMouseEvents      int     `json:"totalMouseEvents"`
	TotalClickEvents      int     `json:"totalClickEvents"`
	MovementUniformity    float64 `json:"movementUniformity"`
	ClickIntervalVariance float64 `json:"clickIntervalVariance"`
	IdleRatio             float64 `json:"idleRatio"`
	BotLikelihoodScore    int     `json:"botLikelihoodScore"`
}

// IngestRequest is the request body for signal submission. At least one of
// Fingerprint or Biometrics must be present. SessionID is optional; an
// anonymous session identifier is generated when absent.
type IngestRequest struct {
	SessionID   string              `json:"sessionId"`
	UserID      string              `json:"userId"`
	Fingerprint *FingerprintPayload `json:"fingerprint"`
	Biometrics  *BiometricsPayload  `json:"biometrics"`
}

// IngestResult is returned to the client. Ingestion succeeds even when ban
// evasion is detected; the flag is advisory.
type IngestResult struct {
	Success            bool   `json:"success"`
	SessionID          string `json:"sessionId"`
	BanEvasionDetected bool   `json:"banEvasionDetected,omitempty"`
}

// FingerprintRecord is a persisted fingerprint snapshot. Records are
// append-only: later snapshots for the same device supersede earlier ones
// without overwriting them.
type FingerprintRecord struct {
	ID          string            `json:"id"`
	DeviceHash  string            `json:"deviceHash"`
	SessionID   string            `json:"sessionId"`
	UserID      string            `json:"userId,omitempty"`
	ClientIP    string            `json:"clientIp,omitempty"`
	Signals     map[string]string `json:"signals,omitempty"`
	CollectedAt time.Time         `json:"collectedAt"`
	CreatedAt   time.Time         `json:"createdAt"`
}

// BiometricsRecord is a persisted behavioral sample.
type BiometricsRecord struct {
	ID                    string    `json:"id"`
	SessionID             string    `json:"sessionId"`
	UserID                string    `json:"userId,omitempty"`
	ClientIP              string    `json:"clientIp,omitempty"`
	TotalMouseEvents      int       `json:"totalMouseEvents"`
	TotalClickEvents      int       `json:"totalClickEvents"`
	MovementUniformity    float64   `json:"movementUniformity"`
	ClickIntervalVariance float64   `json:"clickIntervalVariance"`
	IdleRatio             float64   `json:"idleRatio"`
	BotLikelihoodScore    int       `json:"botLikelihoodScore"`
	CreatedAt             time.Time `json:"createdAt"`
}

// Store persists signal records. All writes are append-only.
type Store interface {
	AppendFingerprint(ctx context.Context, record *FingerprintRecord) error
	AppendBiometrics(ctx context.Context, record *BiometricsRecord) error
	// ListByDevice returns up to limit fingerprint records for a device
	// hash, newest first.
	ListByDevice(ctx context.Context, deviceHash string, limit int) ([]*FingerprintRecord, error)
	// DeviceIPs returns up to limit distinct client IPs previously seen
	// for a device hash.
	DeviceIPs(ctx context.Context, deviceHash string, limit int) ([]string, error)
}

// Notifier receives review-worthy events for out-of-band consumption.
type Notifier interface {
	Notify(eventType string, payload any)
}

// NoopNotifier discards all events.
type NoopNotifier struct{}

func (NoopNotifier) Notify(string, any) {}
