package stream

import "time"

// ReconnectPolicy is a fixed, finite list of delays. Attempt n sleeps
// Delays[n]; running past the end means giving up. Deterministic on purpose,
// so operators can predict exactly how long a flaky board is retried.
type ReconnectPolicy struct {
	Delays []time.Duration
}

// DefaultPolicy retries four times over eighteen seconds.
func DefaultPolicy() ReconnectPolicy {
	return ReconnectPolicy{Delays: []time.Duration{
		1 * time.Second,
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
	}}
}

// Delay returns the sleep before retry attempt (zero-based) and whether a
// retry is allowed at all.
func (p ReconnectPolicy) Delay(attempt int) (time.Duration, bool) {
	if attempt < 0 || attempt >= len(p.Delays) {
		return 0, false
	}
	return p.Delays[attempt], true
}

// MaxAttempts is the number of retries before the policy is exhausted.
func (p ReconnectPolicy) MaxAttempts() int { return len(p.Delays) }
