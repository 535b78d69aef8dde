package pipeline

import (
	"sync"
	"sync/atomic"

	"server/internal/domain"
)

// Token represents admitted capacity for one stage invocation. It must be
// released exactly once; Release is idempotent so deferred cleanup is safe.
type Token struct {
	tenant   *atomic.Int64
	released atomic.Bool
}

// Limiter bounds in-flight stage invocations globally and per tenant. It sits
// on the hot path of every dispatch tick, so admission is a pair of atomic
// increments; the mutex guards only lazy creation of tenant counters.
type Limiter struct {
	globalCap int64
	tenantCap int64
	global    atomic.Int64

	mu      sync.Mutex
	tenants map[string]*atomic.Int64
}

// NewLimiter creates a limiter with the given caps. A cap of zero or below
// disables that bound.
func NewLimiter(globalCap, perTenantCap int) *Limiter {
	return &Limiter{
		globalCap: int64(globalCap),
		tenantCap: int64(perTenantCap),
		tenants:   make(map[string]*atomic.Int64),
	}
}

// Acquire admits one stage invocation for the tenant, or fails with
// domain.ErrBusy when either cap is saturated. Busy is backpressure, not
// rejection: the job stays in its current state and is retried on the next
// dispatch tick.
func (l *Limiter) Acquire(tenantID string) (*Token, error) {
	if l.global.Add(1) > l.globalCap && l.globalCap > 0 {
		l.global.Add(-1)
		return nil, domain.ErrBusy
	}

	counter := l.tenantCounter(tenantID)
	if counter.Add(1) > l.tenantCap && l.tenantCap > 0 {
		counter.Add(-1)
		l.global.Add(-1)
		return nil, domain.ErrBusy
	}

	return &Token{tenant: counter}, nil
}

// Release returns the token's capacity. Safe to call more than once.
func (l *Limiter) Release(t *Token) {
	if t == nil || !t.released.CompareAndSwap(false, true) {
		return
	}
	t.tenant.Add(-1)
	l.global.Add(-1)
}

// InFlight returns the current global in-flight count.
func (l *Limiter) InFlight() int64 {
	return l.global.Load()
}

func (l *Limiter) tenantCounter(tenantID string) *atomic.Int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	counter, ok := l.tenants[tenantID]
	if !ok {
		counter = &atomic.Int64{}
		l.tenants[tenantID] = counter
	}
	return counter
}
