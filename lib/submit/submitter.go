// Package submit pushes prompts into the platform's input box in fixed-size
// batches, waiting for the visible queue to drain between batches so the
// site's own rate limiting never trips.
package submit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/paperbrush/mjrunner/lib/logger"
	"github.com/paperbrush/mjrunner/lib/queue"
	"github.com/paperbrush/mjrunner/lib/task"
)

// ErrStopped is returned when the caller cancelled mid-run. Partially
// submitted work keeps its task states so the run can be resumed.
var ErrStopped = errors.New("submission stopped")

// Driver is the subset of the browser session the submitter needs.
type Driver interface {
	Click(ctx context.Context, name string) error
	Type(ctx context.Context, text string) error
	PressEnter(ctx context.Context) error
}

// Drainer waits for the platform queue to empty.
type Drainer interface {
	WaitUntilEmpty(ctx context.Context, opts queue.WaitOptions) queue.DrainResult
}

// Options configure a submitter.
type Options struct {
	// BatchSize is the number of prompts submitted before each drain wait.
	BatchSize int
	// Pacing is the delay between consecutive submissions within a batch.
	Pacing time.Duration
	Wait   queue.WaitOptions
	Final  queue.FinalizeConfig
}

// Progress is called after every submission and batch boundary.
type Progress func(submitted, total int)

// Submitter drives prompt submission for one run.
type Submitter struct {
	driver  Driver
	drainer Drainer
	opts    Options

	// replaced in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a submitter over the given driver and drainer.
func New(driver Driver, drainer Drainer, opts Options) *Submitter {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	return &Submitter{
		driver:  driver,
		drainer: drainer,
		opts:    opts,
		sleep:   sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// Run submits every pending task in list order. Within one batch prompts go
// out in order with a pacing delay; each batch boundary waits for the queue
// to drain and then for the finalization pause, because the counter hitting
// zero does not mean the last jobs are rendered. A submission failure aborts
// the run (the supervisor may retry the whole operation); cancellation
// returns ErrStopped with all prior work preserved.
func (s *Submitter) Run(ctx context.Context, tasks []*task.PromptTask, progress Progress) error {
	log := logger.FromContext(ctx)

	pending := lo.Filter(tasks, func(t *task.PromptTask, _ int) bool {
		return t.Status == task.StatusPending
	})
	total := len(pending)
	if total == 0 {
		return nil
	}

	submitted := 0
	batches := lo.Chunk(pending, s.opts.BatchSize)
	log.Info("submitting prompts", "total", total, "batches", len(batches),
		"batch_size", s.opts.BatchSize)

	for bi, batch := range batches {
		for _, t := range batch {
			if err := ctx.Err(); err != nil {
				return ErrStopped
			}
			if err := t.Transition(task.StatusGenerating); err != nil {
				return err
			}
			if err := s.submitOne(ctx, t.Prompt); err != nil {
				t.Fail(err)
				return fmt.Errorf("submit prompt %d: %w", t.Seq, err)
			}
			submitted++
			if progress != nil {
				progress(submitted, total)
			}
			if err := s.sleep(ctx, s.opts.Pacing); err != nil {
				return ErrStopped
			}
		}

		res := s.drainer.WaitUntilEmpty(ctx, s.opts.Wait)
		switch res.Outcome {
		case queue.OutcomeCancelled:
			return ErrStopped
		case queue.OutcomeTimedOut:
			return fmt.Errorf("batch %d: queue did not drain within %s", bi+1, s.opts.Wait.MaxWait)
		case queue.OutcomeStuck:
			return fmt.Errorf("batch %d: queue stuck at depth %d", bi+1, res.InitialDepth)
		}

		final := queue.Finalization(res, s.opts.Final)
		log.Info("batch drained", "batch", bi+1, "initial_depth", res.InitialDepth,
			"elapsed", res.Elapsed.String(), "finalization", final.String())
		if err := s.sleep(ctx, final); err != nil {
			return ErrStopped
		}
	}
	return nil
}

// submitOne clicks the prompt box, types the prompt and submits it.
func (s *Submitter) submitOne(ctx context.Context, prompt string) error {
	if err := s.driver.Click(ctx, "prompt_input"); err != nil {
		return err
	}
	if err := s.driver.Type(ctx, prompt); err != nil {
		return err
	}
	return s.driver.PressEnter(ctx)
}
