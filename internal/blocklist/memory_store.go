package blocklist

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory block store for demo/development mode.
type MemoryStore struct {
	records map[string]*BlockRecord // by subject key
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory block store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*BlockRecord),
	}
}

func (m *MemoryStore) Get(ctx context.Context, subjectKey string) (*BlockRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	record, ok := m.records[subjectKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *record
	return &cp, nil
}

func (m *MemoryStore) Put(ctx context.Context, record *BlockRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *record
	cp.UpdatedAt = time.Now()
	if existing, ok := m.records[record.SubjectKey]; ok {
		cp.CreatedAt = existing.CreatedAt
	} else if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	m.records[record.SubjectKey] = &cp
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, subjectKey string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.records, subjectKey)
	return nil
}

func (m *MemoryStore) List(ctx context.Context, limit int) ([]*BlockRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*BlockRecord, 0, len(m.records))
	for _, record := range m.records {
		cp := *record
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for key, record := range m.records {
		if record.Expired(now) {
			delete(m.records, key)
			count++
		}
	}
	return count, nil
}
