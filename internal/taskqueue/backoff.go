package taskqueue

import "time"

// Backoff computes exponential retry delays: base * 2^(attempt-1), capped.
type Backoff struct {
	Base time.Duration
	Cap  time.Duration
}

// Delay returns the wait before the given attempt number runs. Attempt 1 is
// the initial delivery and carries no delay.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	delay := b.Base
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= b.Cap {
			return b.Cap
		}
	}
	if delay > b.Cap {
		return b.Cap
	}
	return delay
}
