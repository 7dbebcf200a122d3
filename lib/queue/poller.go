// Package queue reads the platform's self-reported "<N> queued jobs"
// indicator and waits for it to drain. The indicator is plain page text, so
// every read is best-effort: absence means nothing is queued, and a present
// but unparseable indicator is tolerated for a bounded number of polls
// before the poller gives up waiting and proceeds.
package queue

import (
	"context"
	"regexp"
	"strconv"
	"time"

	"github.com/paperbrush/mjrunner/lib/logger"
)

// indeterminateLimit is how many consecutive unparseable reads are tolerated
// before the queue is treated as empty. The usual cause is an indicator
// markup change; proceeding beats a permanent stall.
const indeterminateLimit = 3

var (
	depthRe     = regexp.MustCompile(`(\d+)\s+queued\s+jobs`)
	indicatorRe = regexp.MustCompile(`queued\s+jobs`)
)

// PageReader supplies the rendered page text.
type PageReader interface {
	PlainText(ctx context.Context) (string, error)
}

// Depth is one read of the queue indicator. When Indeterminate is set the
// indicator was present but could not be parsed and N is meaningless.
type Depth struct {
	N             int
	Indeterminate bool
}

// Outcome says how a drain wait ended.
type Outcome string

const (
	// OutcomeReady: the queue reached zero, or the indeterminate fallback
	// fired.
	OutcomeReady Outcome = "ready"
	// OutcomeTimedOut: MaxWait elapsed with the queue still nonzero.
	OutcomeTimedOut Outcome = "timed_out"
	// OutcomeCancelled: the caller cancelled; partial work is preserved.
	OutcomeCancelled Outcome = "cancelled"
	// OutcomeStuck: the depth sat unchanged and nonzero for StuckThreshold.
	OutcomeStuck Outcome = "stuck"
)

// DrainResult carries what the finalization-wait extrapolation needs: how
// deep the queue was when the wait started and how long the drain took.
// ReachedZero distinguishes a concrete zero read from the indeterminate
// fallback; extrapolation only trusts the former.
type DrainResult struct {
	Outcome      Outcome
	InitialDepth int
	Elapsed      time.Duration
	ReachedZero  bool
}

// WaitOptions bound a drain wait.
type WaitOptions struct {
	PollInterval   time.Duration
	MaxWait        time.Duration
	StuckThreshold time.Duration
}

// Poller reads queue depth from a page.
type Poller struct {
	reader PageReader
}

// New returns a poller over the given page reader.
func New(reader PageReader) *Poller {
	return &Poller{reader: reader}
}

// ReadDepth scans the page for the queue indicator. No indicator at all
// means depth zero. A read failure or an indicator whose number cannot be
// parsed is reported as indeterminate.
func (p *Poller) ReadDepth(ctx context.Context) Depth {
	text, err := p.reader.PlainText(ctx)
	if err != nil {
		logger.FromContext(ctx).Warn("queue indicator read failed", "err", err)
		return Depth{Indeterminate: true}
	}
	if m := depthRe.FindStringSubmatch(text); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return Depth{Indeterminate: true}
		}
		return Depth{N: n}
	}
	if indicatorRe.MatchString(text) {
		return Depth{Indeterminate: true}
	}
	return Depth{}
}

// WaitUntilEmpty polls until the queue drains, the wait budget runs out, the
// depth stops moving, or ctx is cancelled. Cancellation is an outcome, not
// an error, so callers keep partial progress and decide what to do next.
func (p *Poller) WaitUntilEmpty(ctx context.Context, opts WaitOptions) DrainResult {
	log := logger.FromContext(ctx)
	start := time.Now()

	res := DrainResult{}
	indeterminate := 0
	lastDepth := -1
	lastChange := start

	for {
		d := p.ReadDepth(ctx)
		switch {
		case d.Indeterminate:
			indeterminate++
			log.Warn("queue indicator unparseable", "consecutive", indeterminate)
			if indeterminate >= indeterminateLimit {
				// assume the markup changed rather than hang forever
				res.Outcome = OutcomeReady
				res.Elapsed = time.Since(start)
				return res
			}
		case d.N == 0:
			res.Outcome = OutcomeReady
			res.ReachedZero = true
			res.Elapsed = time.Since(start)
			return res
		default:
			indeterminate = 0
			if res.InitialDepth == 0 {
				res.InitialDepth = d.N
			}
			if d.N != lastDepth {
				lastDepth = d.N
				lastChange = time.Now()
			} else if opts.StuckThreshold > 0 && time.Since(lastChange) >= opts.StuckThreshold {
				log.Warn("queue depth stuck", "depth", d.N, "since", lastChange)
				res.Outcome = OutcomeStuck
				res.Elapsed = time.Since(start)
				return res
			}
			log.Info("queue not empty", "depth", d.N, "elapsed", time.Since(start).String())
		}

		if opts.MaxWait > 0 && time.Since(start) >= opts.MaxWait {
			res.Outcome = OutcomeTimedOut
			res.Elapsed = time.Since(start)
			return res
		}

		select {
		case <-ctx.Done():
			res.Outcome = OutcomeCancelled
			res.Elapsed = time.Since(start)
			return res
		case <-time.After(opts.PollInterval):
		}
	}
}
