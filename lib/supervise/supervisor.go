// Package supervise bounds browser-automation operations with a
// classify-pause-retry loop. The platform reports throttling as free text,
// so classification is a substring match against a small vocabulary rather
// than anything structured.
package supervise

import (
	"context"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v5"

	"github.com/paperbrush/mjrunner/lib/logger"
)

// rateLimitMarkers are the substrings that mark an error as
// rate-limit-shaped.
var rateLimitMarkers = []string{"queue", "limit", "too many", "rate", "wait"}

// IsRateLimited reports whether err looks like the platform throttling us.
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range rateLimitMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// Policy configures the retry loop. Submission and the bulk actor differ in
// how they treat non-rate-limit errors: actor failures are usually transient
// UI flakiness and get a short pause, submission failures are usually a
// genuine rejection and surface immediately.
type Policy struct {
	// MaxAttempts caps the total attempts, first try included.
	MaxAttempts int
	// RateLimitPause is slept before retrying a rate-limit-shaped error.
	RateLimitPause time.Duration
	// TransientPause is slept before retrying other errors, when
	// RetryTransient is set.
	TransientPause time.Duration
	// RetryTransient also retries non-rate-limit errors.
	RetryTransient bool
}

// Run executes op, retrying the whole remaining operation per the policy.
// Exhausting the attempt cap surfaces the last error as fatal.
func (p Policy) Run(ctx context.Context, name string, op func(ctx context.Context) error) error {
	log := logger.FromContext(ctx)

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	return retry.New(
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return IsRateLimited(err) || p.RetryTransient
		}),
		retry.DelayType(func(n uint, err error, dctx retry.DelayContext) time.Duration {
			if IsRateLimited(err) {
				return p.RateLimitPause
			}
			return p.TransientPause
		}),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("retrying operation", "op", name, "attempt", n+1,
				"rate_limited", IsRateLimited(err), "err", err)
		}),
	).Do(func() error { return op(ctx) })
}
