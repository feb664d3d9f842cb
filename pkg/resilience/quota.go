package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// QuotaManagerConfig configures outbound request throttling.
type QuotaManagerConfig struct {
	// RequestsPerSecond is the provider's published rate ceiling.
	RequestsPerSecond int
	// Burst bounds how many requests may be admitted back-to-back after an
	// idle period. Defaults to RequestsPerSecond.
	Burst int
}

// DefaultQuotaManagerConfig returns the documented provider ceiling of
// 100 requests/second.
func DefaultQuotaManagerConfig() QuotaManagerConfig {
	return QuotaManagerConfig{RequestsPerSecond: 100}
}

// QuotaSnapshot exposes the manager's current window for observability.
type QuotaSnapshot struct {
	WindowCount int `json:"window_count"`
	QueueDepth  int `json:"queue_depth"`
}

// QuotaManager keeps the aggregate call rate to the payment provider under
// its ceiling, regardless of how many sagas and webhook handlers are active
// in the process. Callers at capacity are held in a bounded wait and
// admitted in arrival order; requests are never dropped outright, only
// abandoned if the caller's context ends.
//
// Like the circuit breaker, this is deliberate shared process state:
// construct one per provider at startup and inject it.
type QuotaManager struct {
	limiter *rate.Limiter

	mu          sync.Mutex
	windowStart time.Time
	windowCount int
	queueDepth  int
	now         func() time.Time
}

// NewQuotaManager constructs a manager enforcing the configured ceiling.
func NewQuotaManager(config QuotaManagerConfig) *QuotaManager {
	rps := config.RequestsPerSecond
	if rps <= 0 {
		rps = 1
	}
	burst := config.Burst
	if burst <= 0 {
		burst = rps
	}
	return &QuotaManager{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		now:     time.Now,
	}
}

// Execute admits the call under the rate ceiling, blocking in FIFO order
// behind other queued callers if the current window is at capacity, then
// runs fn. The only way to leave the queue without running is the caller's
// context ending.
func (q *QuotaManager) Execute(ctx context.Context, fn func() error) error {
	q.mu.Lock()
	q.queueDepth++
	q.mu.Unlock()

	err := q.limiter.Wait(ctx)

	q.mu.Lock()
	q.queueDepth--
	if err == nil {
		now := q.now()
		if now.Sub(q.windowStart) >= time.Second {
			q.windowStart = now
			q.windowCount = 0
		}
		q.windowCount++
	}
	q.mu.Unlock()

	if err != nil {
		return err
	}
	return fn()
}

// Snapshot returns the current window count and queue depth.
func (q *QuotaManager) Snapshot() QuotaSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := q.windowCount
	if q.now().Sub(q.windowStart) >= time.Second {
		count = 0
	}
	return QuotaSnapshot{
		WindowCount: count,
		QueueDepth:  q.queueDepth,
	}
}
