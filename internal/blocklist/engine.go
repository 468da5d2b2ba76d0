package blocklist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/geoip"
	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/metrics"
	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/traces"
)

// Engine evaluates block records for a subject IP. It is stateless per
// request; all shared state lives in the Store, so concurrent Check calls
// are safe.
type Engine struct {
	store    Store
	resolver geoip.Resolver
	timeout  time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewEngine creates a block enforcement engine. timeout bounds each store
// lookup; a lookup that exceeds it fails open rather than denying the
// request.
func NewEngine(store Store, resolver geoip.Resolver, timeout time.Duration, logger *slog.Logger) *Engine {
	if resolver == nil {
		resolver = geoip.Noop{}
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Engine{
		store:    store,
		resolver: resolver,
		timeout:  timeout,
		logger:   logger,
		now:      time.Now,
	}
}

// Check returns the enforcement verdict for ip.
//
// Country-scope blocks take precedence over IP-scope blocks. Expired
// records are deleted on sight and treated as absent. A store timeout
// fails open; any other store error is surfaced so the caller can return
// a server error instead of silently allowing.
func (e *Engine) Check(ctx context.Context, ip string) (*Verdict, error) {
	ctx, span := traces.StartSpan(ctx, "blocklist.Check", traces.ClientIP(ip))
	defer span.End()

	now := e.now()

	ipRecord, err := e.lookup(ctx, ip)
	if err != nil {
		if isTimeout(err) {
			return e.failOpen(ip, err), nil
		}
		return nil, fmt.Errorf("ip block lookup: %w", err)
	}

	countryCode := ""
	if ipRecord != nil {
		countryCode = ipRecord.CountryCode
	}
	if countryCode == "" {
		// Best-effort: an IP with no record (or a record written before
		// its country was known) can still be covered by a country block.
		countryCode = e.resolver.Country(ip)
	}

	if countryCode != "" {
		countryRecord, err := e.lookup(ctx, CountryKey(countryCode))
		if err != nil {
			if isTimeout(err) {
				return e.failOpen(ip, err), nil
			}
			return nil, fmt.Errorf("country block lookup: %w", err)
		}
		if countryRecord != nil {
			if countryRecord.Expired(now) {
				e.deleteExpired(ctx, countryRecord.SubjectKey)
			} else {
				span.SetAttributes(traces.BlockScope(ScopeCountry))
				metrics.VerdictsTotal.WithLabelValues("blocked", ScopeCountry).Inc()
				return e.blockedVerdict(countryRecord, ScopeCountry, now), nil
			}
		}
	}

	if ipRecord == nil {
		metrics.VerdictsTotal.WithLabelValues("allowed", "none").Inc()
		return &Verdict{Blocked: false}, nil
	}

	if ipRecord.Expired(now) {
		e.deleteExpired(ctx, ipRecord.SubjectKey)
		metrics.VerdictsTotal.WithLabelValues("allowed", "none").Inc()
		return &Verdict{Blocked: false}, nil
	}

	span.SetAttributes(traces.BlockScope(ScopeIP))
	metrics.VerdictsTotal.WithLabelValues("blocked", ScopeIP).Inc()
	return e.blockedVerdict(ipRecord, ScopeIP, now), nil
}

// lookup fetches a record under the engine's per-call deadline. A missing
// record returns (nil, nil).
func (e *Engine) lookup(ctx context.Context, subjectKey string) (*BlockRecord, error) {
	lookupCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	record, err := e.store.Get(lookupCtx, subjectKey)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// deleteExpired removes an expired record. Two concurrent callers may both
// observe the expiry and both delete; the second delete is a no-op.
func (e *Engine) deleteExpired(ctx context.Context, subjectKey string) {
	delCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if err := e.store.Delete(delCtx, subjectKey); err != nil {
		e.logger.Warn("failed to delete expired block record",
			"subject_key", subjectKey, "error", err)
		return
	}
	metrics.ExpiredBlocksDeleted.WithLabelValues("lazy").Inc()
	e.logger.Info("deleted expired block record", "subject_key", subjectKey)
}

// failOpen logs a distinct degraded-mode event and allows the request.
// Availability over strictness: a slow store must not lock out legitimate
// users, but operators need to see repeated fail-opens.
func (e *Engine) failOpen(ip string, err error) *Verdict {
	metrics.FailOpensTotal.Inc()
	e.logger.Error("block lookup timed out, failing open",
		"ip", ip, "error", err)
	return &Verdict{Blocked: false}
}

func (e *Engine) blockedVerdict(record *BlockRecord, scope string, now time.Time) *Verdict {
	v := &Verdict{
		Blocked:     true,
		Reason:      record.Reason,
		BlockType:   scope,
		IsPermanent: record.IsPermanent,
		ExpiresAt:   record.ExpiresAt,
		Message:     blockMessage(record, scope, now),
	}
	return v
}

func blockMessage(record *BlockRecord, scope string, now time.Time) string {
	if record.IsPermanent {
		if scope == ScopeCountry {
			return "Access from your region is restricted."
		}
		return "Your access has been permanently restricted. Please contact support if you believe this is an error."
	}

	hrs := hoursRemaining(*record.ExpiresAt, now)
	if scope == ScopeCountry {
		return fmt.Sprintf("Access from your region is temporarily restricted. Please try again in %d %s.", hrs, pluralHours(hrs))
	}
	return fmt.Sprintf("Your access is temporarily restricted. Please try again in %d %s.", hrs, pluralHours(hrs))
}

// hoursRemaining is the ceiling of the time left in hours, never below 1.
// A record expiring in one minute reports "1 hour", not "0 hours".
func hoursRemaining(expiresAt, now time.Time) int {
	remaining := expiresAt.Sub(now)
	hrs := int((remaining + time.Hour - 1) / time.Hour)
	if hrs < 1 {
		hrs = 1
	}
	return hrs
}

func pluralHours(n int) string {
	if n == 1 {
		return "hour"
	}
	return "hours"
}

func isTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
