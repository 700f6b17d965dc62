package quota

import (
	"context"
	"time"
)

// Store is the local IP-keyed counter used for anonymous-tier enforcement.
// Counters cover the current UTC day and reset at midnight.
//
// Acquire must be atomic with respect to concurrent requests for the same IP:
// when one slot remains, two simultaneous acquires must never both be
// admitted. Implementations report outages as ErrStoreUnavailable so the
// engine can apply its fail-open/fail-closed policy; they never fail fatally.
type Store interface {
	// Acquire admits cost slots for ip if used+cost <= limit, incrementing the
	// counter in the same atomic step. A denied acquire leaves the counter
	// unchanged.
	Acquire(ctx context.Context, ip string, limit, cost int) (Usage, error)

	// Lookup returns the current counter without modifying it.
	Lookup(ctx context.Context, ip string, limit int) (Usage, error)
}

// nextMidnightUTC returns the next UTC midnight after now.
func nextMidnightUTC(now time.Time) time.Time {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return midnight.Add(24 * time.Hour)
}

// dayKey returns the UTC day bucket for window-scoped keys.
func dayKey(now time.Time) string {
	return now.UTC().Format("2006-01-02")
}
