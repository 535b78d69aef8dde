package pipeline

import (
	"math"
	"math/rand/v2"
	"time"

	"server/internal/domain"
)

// Backoff computes retry delays: exponential growth with full jitter so
// simultaneous retries do not stampede the provider.
type Backoff struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}

// Delay returns a random duration in (0, min(Base * Factor^(attempt-1), Cap)].
// Attempt is 1-indexed: attempt 1 is the first retry after the initial
// failure. A zero Base disables the delay entirely (used by tests).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	factor := b.Factor
	if factor <= 0 {
		factor = 2
	}
	d := float64(b.Base) * math.Pow(factor, float64(attempt-1))
	if b.Cap > 0 && d > float64(b.Cap) {
		d = float64(b.Cap)
	}
	// Full jitter, floored at half the computed delay so retries still spread
	// out without collapsing to zero.
	half := d / 2
	return time.Duration(half + rand.Float64()*half) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// StagePolicy bounds one stage: invocation timeout, retry ceiling, and the
// backoff applied between transient failures.
type StagePolicy struct {
	Timeout     time.Duration
	MaxAttempts int
	Backoff     Backoff
}

// Policy is the per-stage policy table. The budgets are tuning knobs, not a
// hard contract.
type Policy map[domain.State]StagePolicy

// DefaultBackoff is the retry delay used by every stage unless overridden:
// base 1s, factor 2, cap 30s, with jitter.
var DefaultBackoff = Backoff{Base: time.Second, Factor: 2, Cap: 30 * time.Second}

const defaultRetryCeiling = 3

// DefaultPolicy returns the production policy table. Intent extraction is
// cheap; rendering is not.
func DefaultPolicy() Policy {
	return Policy{
		domain.StateProcessingIntent:  {Timeout: 10 * time.Second, MaxAttempts: defaultRetryCeiling, Backoff: DefaultBackoff},
		domain.StateProcessingLayout:  {Timeout: 20 * time.Second, MaxAttempts: defaultRetryCeiling, Backoff: DefaultBackoff},
		domain.StateProcessingContent: {Timeout: 30 * time.Second, MaxAttempts: defaultRetryCeiling, Backoff: DefaultBackoff},
		domain.StateCritiquing:        {Timeout: 20 * time.Second, MaxAttempts: defaultRetryCeiling, Backoff: DefaultBackoff},
		domain.StateRendering:         {Timeout: 60 * time.Second, MaxAttempts: defaultRetryCeiling, Backoff: DefaultBackoff},
	}
}

// WithRetryCeiling returns a copy of the policy with every stage's ceiling
// replaced. Used to apply the configured ceiling uniformly.
func (p Policy) WithRetryCeiling(ceiling int) Policy {
	if ceiling <= 0 {
		return p
	}
	out := make(Policy, len(p))
	for state, sp := range p {
		sp.MaxAttempts = ceiling
		out[state] = sp
	}
	return out
}

// For returns the policy for a stage state, falling back to conservative
// defaults for states missing from the table.
func (p Policy) For(state domain.State) StagePolicy {
	if sp, ok := p[state]; ok {
		return sp
	}
	return StagePolicy{Timeout: 30 * time.Second, MaxAttempts: defaultRetryCeiling, Backoff: DefaultBackoff}
}
