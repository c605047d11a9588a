package orchestrator

import "time"

const (
	DefaultMaxRetryAttempts = 5
	DefaultRetryBaseDelay   = time.Second
)

// RecoveryPolicy decides whether and when a failed peer connection gets
// another ICE-restart attempt. It is a stateless function of the record's
// retry counters; the record itself carries the state.
type RecoveryPolicy struct {
	// MaxAttempts caps retries per peer. Reaching it is terminal for the
	// peer: no further restarts, the record stays around for inspection
	// until an explicit leave or teardown.
	MaxAttempts int
	// BaseDelay is the first backoff step; attempt n waits BaseDelay*2^(n-1),
	// less whatever time already passed since the previous attempt.
	BaseDelay time.Duration
}

func DefaultRecoveryPolicy() RecoveryPolicy {
	return RecoveryPolicy{
		MaxAttempts: DefaultMaxRetryAttempts,
		BaseDelay:   DefaultRetryBaseDelay,
	}
}

// Exhausted reports whether the retry budget is spent.
func (p RecoveryPolicy) Exhausted(retryCount int) bool {
	return retryCount >= p.MaxAttempts
}

// Wait returns how long the next attempt should sleep, given the number of
// attempts already made and when the last one started.
func (p RecoveryPolicy) Wait(attemptsMade int, lastRetryAt, now time.Time) time.Duration {
	if attemptsMade < 0 {
		attemptsMade = 0
	}
	delay := p.BaseDelay << attemptsMade

	if lastRetryAt.IsZero() {
		return delay
	}
	wait := delay - now.Sub(lastRetryAt)
	if wait < 0 {
		return 0
	}
	return wait
}
