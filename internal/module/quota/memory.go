package quota

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store implementation. It is the default
// backend for single-instance deployments; multi-replica deployments should
// use the Redis or Postgres backend so all replicas share one counter.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]*ipRecord

	// now is swappable for tests.
	now func() time.Time
}

type ipRecord struct {
	used        int
	windowStart time.Time
}

// NewMemoryStore creates an in-memory quota store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]*ipRecord),
		now:     time.Now,
	}
}

// Acquire implements Store. The store mutex makes the read-check-increment a
// single atomic step across concurrent requests for the same IP.
func (s *MemoryStore) Acquire(_ context.Context, ip string, limit, cost int) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec := s.record(ip, now)

	if rec.used+cost > limit {
		return Usage{
			Admitted:  false,
			Used:      rec.used,
			Remaining: remaining(limit, rec.used),
			ResetAt:   nextMidnightUTC(now),
		}, nil
	}

	rec.used += cost
	return Usage{
		Admitted:  true,
		Used:      rec.used,
		Remaining: remaining(limit, rec.used),
		ResetAt:   nextMidnightUTC(now),
	}, nil
}

// Lookup implements Store. It never mutates the counter.
func (s *MemoryStore) Lookup(_ context.Context, ip string, limit int) (Usage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	rec := s.record(ip, now)

	return Usage{
		Used:      rec.used,
		Remaining: remaining(limit, rec.used),
		ResetAt:   nextMidnightUTC(now),
	}, nil
}

// record returns the live record for ip, creating it lazily and rolling the
// window when the stored one predates today's UTC midnight.
func (s *MemoryStore) record(ip string, now time.Time) *ipRecord {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	rec, ok := s.records[ip]
	if !ok {
		rec = &ipRecord{windowStart: now}
		s.records[ip] = rec
		return rec
	}
	if rec.windowStart.Before(midnight) {
		rec.used = 0
		rec.windowStart = now
	}
	return rec
}

func remaining(limit, used int) int {
	if r := limit - used; r > 0 {
		return r
	}
	return 0
}
