package broker

import (
	"math/rand"
	"net/http"
	"strings"
	"time"
)

// transientSubstrings mirrors the teacher's isTransientError pattern-match
// list: broker error strings that indicate a transient condition worth
// retrying (network hiccup, rate limiting, server overload) rather than a
// permanent rejection.
var transientSubstrings = []string{
	"timeout",
	"connection reset",
	"connection refused",
	"429",
	"502",
	"503",
	"504",
	"too many requests",
	"temporarily unavailable",
	"eof",
	"dns",
	"tcp",
}

// isTransient classifies an error as transient (retry-eligible, counts
// toward the circuit breaker) vs permanent (auth/validation/order-rejected,
// fails fast, never retried).
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range transientSubstrings {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// fullJitterBackoff implements retryablehttp.Backoff's signature with the
// "full jitter" algorithm spec §4.A calls for: exponential growth from min,
// capped at max, with the actual wait drawn uniformly from [0, capped)
// rather than a fixed or merely-jittered-linear value. This spreads retries
// from many clients apart instead of having them collide on the same
// exponential ramp.
func fullJitterBackoff(minDelay, maxDelay time.Duration, attemptNum int, _ *http.Response) time.Duration {
	if attemptNum < 0 {
		attemptNum = 0
	}
	capped := minDelay
	for i := 0; i < attemptNum; i++ {
		capped *= 2
		if capped <= 0 || capped > maxDelay {
			capped = maxDelay
			break
		}
	}
	if capped <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(capped)))
}
