package signals

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/blocklist"
	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/idgen"
	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/metrics"
	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/syncutil"
	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/traces"
)

// maxCorrelationIPs bounds how many historical IPs are checked against the
// block list per fingerprint submission.
const maxCorrelationIPs = 5

// Service handles signal ingestion and ban-evasion correlation.
type Service struct {
	store      Store
	blocks     blocklist.Store
	notifier   Notifier
	timeout    time.Duration
	logger     *slog.Logger
	deviceLock *syncutil.ContextShardedMutex
}

// NewService creates a signal ingestion service.
func NewService(store Store, blocks blocklist.Store, notifier Notifier, timeout time.Duration, logger *slog.Logger) *Service {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Service{
		store:      store,
		blocks:     blocks,
		notifier:   notifier,
		timeout:    timeout,
		logger:     logger,
		deviceLock: syncutil.NewContextShardedMutex(),
	}
}

// Ingest validates, persists, and correlates a signal submission.
//
// A ValidationError is returned for malformed payloads and a wrapped store
// error for persistence failures. Correlation failures never fail the call;
// they degrade to "no match found".
func (s *Service) Ingest(ctx context.Context, req *IngestRequest, clientIP string) (*IngestResult, error) {
	ctx, span := traces.StartSpan(ctx, "signals.Ingest", traces.ClientIP(clientIP))
	defer span.End()

	if err := validate(req); err != nil {
		return nil, err
	}

	sessionID := req.SessionID
	if sessionID == "" {
		// Anonymous session: no authenticated identity was supplied.
		sessionID = "anon_" + uuid.NewString()
	}
	span.SetAttributes(traces.SessionID(sessionID))

	result := &IngestResult{Success: true, SessionID: sessionID}

	if req.Fingerprint != nil {
		record := &FingerprintRecord{
			ID:          idgen.WithPrefix("sig_"),
			DeviceHash:  req.Fingerprint.Hash,
			SessionID:   sessionID,
			UserID:      req.UserID,
			ClientIP:    clientIP,
			Signals:     req.Fingerprint.Signals,
			CollectedAt: req.Fingerprint.CollectedAt,
			CreatedAt:   time.Now(),
		}
		if record.CollectedAt.IsZero() {
			record.CollectedAt = record.CreatedAt
		}

		if err := s.append(ctx, func(c context.Context) error {
			return s.store.AppendFingerprint(c, record)
		}); err != nil {
			return nil, fmt.Errorf("persist fingerprint: %w", err)
		}
		metrics.SignalsIngestedTotal.WithLabelValues("fingerprint").Inc()

		if s.correlate(ctx, record) {
			result.BanEvasionDetected = true
			metrics.BanEvasionDetectedTotal.Inc()
			s.logger.Warn("ban evasion detected",
				"device_hash", record.DeviceHash,
				"session_id", sessionID,
				"ip", clientIP)
			s.notifier.Notify("ban_evasion", record)
		}
	}

	if req.Biometrics != nil {
		record := &BiometricsRecord{
			ID:                    idgen.WithPrefix("bio_"),
			SessionID:             sessionID,
			UserID:                req.UserID,
			ClientIP:              clientIP,
			TotalMouseEvents:      req.Biometrics.TotalMouseEvents,
			TotalClickEvents:      req.Biometrics.TotalClickEvents,
			MovementUniformity:    req.Biometrics.MovementUniformity,
			ClickIntervalVariance: req.Biometrics.ClickIntervalVariance,
			IdleRatio:             req.Biometrics.IdleRatio,
			BotLikelihoodScore:    req.Biometrics.BotLikelihoodScore,
			CreatedAt:             time.Now(),
		}

		if err := s.append(ctx, func(c context.Context) error {
			return s.store.AppendBiometrics(c, record)
		}); err != nil {
			return nil, fmt.Errorf("persist biometrics: %w", err)
		}
		metrics.SignalsIngestedTotal.WithLabelValues("biometrics").Inc()

		if record.BotLikelihoodScore >= ReviewThreshold {
			metrics.HighBotScoresTotal.Inc()
			span.SetAttributes(traces.BotScore(record.BotLikelihoodScore))
			s.logger.Warn("high bot likelihood score",
				"session_id", sessionID,
				"score", record.BotLikelihoodScore,
				"ip", clientIP)
			s.notifier.Notify("high_bot_score", record)
		}
	}

	return result, nil
}

// DeviceHistory returns the persisted fingerprint snapshots for a device.
func (s *Service) DeviceHistory(ctx context.Context, deviceHash string, limit int) ([]*FingerprintRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByDevice(ctx, deviceHash, limit)
}

func validate(req *IngestRequest) error {
	if req.Fingerprint == nil && req.Biometrics == nil {
		return fmt.Errorf("%w: at least one of fingerprint or biometrics is required", ErrValidation)
	}
	if req.Fingerprint != nil && req.Fingerprint.Hash == "" {
		return fmt.Errorf("%w: fingerprint hash is required", ErrValidation)
	}
	if req.Biometrics != nil {
		b := req.Biometrics
		if b.BotLikelihoodScore < 0 || b.BotLikelihoodScore > 100 {
			return fmt.Errorf("%w: botLikelihoodScore must be in [0,100]", ErrValidation)
		}
		if b.TotalMouseEvents < 0 || b.TotalClickEvents < 0 {
			return fmt.Errorf("%w: event counts must be non-negative", ErrValidation)
		}
	}
	return nil
}

func (s *Service) append(ctx context.Context, fn func(context.Context) error) error {
	writeCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return fn(writeCtx)
}

// correlate reports whether the device hash was previously seen from an IP
// that is currently under an active block. Any lookup failure is logged and
// treated as no match; detection is advisory and must not fail ingestion.
func (s *Service) correlate(ctx context.Context, record *FingerprintRecord) bool {
	lookupCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	// Serialize correlation per device so concurrent submissions from the
	// same device do not each fire an evasion notification.
	unlock, err := s.deviceLock.LockContext(lookupCtx, record.DeviceHash)
	if err != nil {
		metrics.CorrelationFailuresTotal.Inc()
		s.logger.Warn("ban evasion correlation degraded",
			"device_hash", record.DeviceHash, "error", err)
		return false
	}
	defer unlock()

	ips, err := s.store.DeviceIPs(lookupCtx, record.DeviceHash, maxCorrelationIPs)
	if err != nil {
		metrics.CorrelationFailuresTotal.Inc()
		s.logger.Warn("ban evasion correlation degraded",
			"device_hash", record.DeviceHash, "error", err)
		return false
	}

	now := time.Now()
	for _, ip := range ips {
		if ip == "" || ip == record.ClientIP {
			continue
		}
		block, err := s.blocks.Get(lookupCtx, ip)
		if err != nil {
			if err == blocklist.ErrNotFound {
				continue
			}
			metrics.CorrelationFailuresTotal.Inc()
			s.logger.Warn("ban evasion correlation degraded",
				"device_hash", record.DeviceHash, "ip", ip, "error", err)
			return false
		}
		if !block.Expired(now) {
			return true
		}
	}
	return false
}
