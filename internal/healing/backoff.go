package healing

import "time"

// Delay computes the exponential backoff pause before the given attempt:
// base * 2^(attempt-2) for attempt >= 2, capped at cap. The first attempt
// never waits. Kept outside the loop state machine so it is independently
// testable.
func Delay(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 1 || base <= 0 {
		return 0
	}
	delay := base
	for i := 2; i < attempt; i++ {
		delay *= 2
		if cap > 0 && delay >= cap {
			return cap
		}
	}
	if cap > 0 && delay > cap {
		return cap
	}
	return delay
}
