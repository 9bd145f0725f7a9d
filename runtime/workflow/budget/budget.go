// Package budget implements per-organization compute accounting. Every
// successful node execution consumes its descriptor's compute cost; a monthly
// per-organization budget caps the total. When the next node would exceed the
// budget the engine terminates the execution with status exhausted, preserving
// partial results.
package budget

import (
	"context"
	"sync"
	"time"
)

type (
	// Meter tracks remaining monthly budget per organization. Implementations
	// must be safe for concurrent use across executions.
	Meter interface {
		// Remaining returns the organization's remaining budget units for the
		// current month. Organizations without a configured budget report
		// Unlimited.
		Remaining(ctx context.Context, orgID string) (int, error)

		// Commit deducts cost units from the organization's budget for the
		// current month. Called once per successful node execution, by the
		// scheduler on commit.
		Commit(ctx context.Context, orgID string, cost int) error
	}

	// InMemMeter is an in-memory Meter for tests and single-process
	// deployments. Budgets reset at month boundaries; consumption is tracked
	// per (org, month) window.
	InMemMeter struct {
		mu       sync.Mutex
		limits   map[string]int
		consumed map[string]int // keyed by orgID + "/" + month
		now      func() time.Time
	}
)

// Unlimited is the remaining budget reported for organizations without a
// configured limit.
const Unlimited = int(^uint(0) >> 1)

// NewInMemMeter constructs a meter with per-organization monthly limits.
// Organizations absent from limits are unlimited.
func NewInMemMeter(limits map[string]int) *InMemMeter {
	copied := make(map[string]int, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	return &InMemMeter{
		limits:   copied,
		consumed: make(map[string]int),
		now:      time.Now,
	}
}

// Remaining implements Meter.
func (m *InMemMeter) Remaining(_ context.Context, orgID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	limit, ok := m.limits[orgID]
	if !ok {
		return Unlimited, nil
	}
	used := m.consumed[m.window(orgID)]
	if used >= limit {
		return 0, nil
	}
	return limit - used, nil
}

// Commit implements Meter.
func (m *InMemMeter) Commit(_ context.Context, orgID string, cost int) error {
	if cost <= 0 {
		return nil
	}
	m.mu.Lock()
	m.consumed[m.window(orgID)] += cost
	m.mu.Unlock()
	return nil
}

// SetLimit configures or updates an organization's monthly limit. Not part of
// the Meter interface; used by tests and admin tooling.
func (m *InMemMeter) SetLimit(orgID string, limit int) {
	m.mu.Lock()
	m.limits[orgID] = limit
	m.mu.Unlock()
}

func (m *InMemMeter) window(orgID string) string {
	return orgID + "/" + m.now().UTC().Format("2006-01")
}
