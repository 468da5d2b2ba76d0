package signals

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory signal store for demo/development mode.
type MemoryStore struct {
	fingerprints []*FingerprintRecord
	biometrics   []*BiometricsRecord
	mu           sync.RWMutex
}

// NewMemoryStore creates a new in-memory signal store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) AppendFingerprint(ctx context.Context, record *FingerprintRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *record
	m.fingerprints = append(m.fingerprints, &cp)
	return nil
}

func (m *MemoryStore) AppendBiometrics(ctx context.Context, record *BiometricsRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *record
	m.biometrics = append(m.biometrics, &cp)
	return nil
}

func (m *MemoryStore) ListByDevice(ctx context.Context, deviceHash string, limit int) ([]*FingerprintRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*FingerprintRecord
	// Newest first: records are appended in arrival order.
	for i := len(m.fingerprints) - 1; i >= 0; i-- {
		if m.fingerprints[i].DeviceHash == deviceHash {
			cp := *m.fingerprints[i]
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *MemoryStore) DeviceIPs(ctx context.Context, deviceHash string, limit int) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]bool)
	var result []string
	for _, record := range m.fingerprints {
		if record.DeviceHash != deviceHash || record.ClientIP == "" {
			continue
		}
		if seen[record.ClientIP] {
			continue
		}
		seen[record.ClientIP] = true
		result = append(result, record.ClientIP)
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}
