package probe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/circuitbreaker"
	"github.com/johngiannone/genau-tribunal-dashboard-sub003/internal/retry"
)

// ErrCircuitOpen is returned when the ingestion endpoint has failed enough
// times in a row that transmissions are being skipped entirely.
var ErrCircuitOpen = errors.New("ingestion endpoint circuit open")

// HTTPTransmitter delivers fingerprints and samples to the signal
// ingestion endpoint. A circuit breaker keyed on the endpoint keeps
// flush timers from piling retries onto a backend that is down.
type HTTPTransmitter struct {
	endpoint string
	client   *http.Client
	attempts int
	breaker  *circuitbreaker.Breaker
}

// NewHTTPTransmitter creates a transmitter posting to the given ingestion
// endpoint URL.
func NewHTTPTransmitter(endpoint string) *HTTPTransmitter {
	return &HTTPTransmitter{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		attempts: 3,
		breaker:  circuitbreaker.New(5, 30*time.Second),
	}
}

// Transmit sends a biometrics sample. Attempts are bounded; the final
// error is returned for the caller to log and swallow.
func (t *HTTPTransmitter) Transmit(ctx context.Context, sample *Sample) error {
	return t.post(ctx, map[string]any{
		"sessionId":  sample.SessionID,
		"biometrics": sample,
	})
}

// TransmitFingerprint sends a fingerprint snapshot.
func (t *HTTPTransmitter) TransmitFingerprint(ctx context.Context, sessionID string, fp *DeviceFingerprint) error {
	return t.post(ctx, map[string]any{
		"sessionId":   sessionID,
		"fingerprint": fp,
	})
}

func (t *HTTPTransmitter) post(ctx context.Context, payload any) error {
	if !t.breaker.Allow(t.endpoint) {
		return ErrCircuitOpen
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	err = retry.Do(ctx, t.attempts, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
		if err != nil {
			return retry.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := t.client.Do(req)
		if err != nil {
			return err
		}
		defer func() {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
		}()

		switch {
		case resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			// Client errors will not improve with retries.
			return retry.Permanent(fmt.Errorf("ingestion rejected payload: %s", resp.Status))
		default:
			return fmt.Errorf("ingestion returned %s", resp.Status)
		}
	})
	if err != nil {
		t.breaker.RecordFailure(t.endpoint)
		return err
	}
	t.breaker.RecordSuccess(t.endpoint)
	return nil
}
