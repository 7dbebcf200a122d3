package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// scriptedReader returns each page in order, repeating the last one.
type scriptedReader struct {
	pages []string
	errs  []error
	i     int
}

func (r *scriptedReader) PlainText(ctx context.Context) (string, error) {
	idx := r.i
	if idx >= len(r.pages) {
		idx = len(r.pages) - 1
	}
	r.i++
	var err error
	if idx < len(r.errs) {
		err = r.errs[idx]
	}
	return r.pages[idx], err
}

func fastOpts() WaitOptions {
	return WaitOptions{
		PollInterval: time.Millisecond,
		MaxWait:      200 * time.Millisecond,
	}
}

func TestReadDepth(t *testing.T) {
	testCases := []struct {
		name string
		page string
		want Depth
	}{
		{"absent means empty", "Imagine prompt box\nCreate", Depth{}},
		{"simple match", "7 queued jobs", Depth{N: 7}},
		{"zero", "0 queued jobs", Depth{N: 0}},
		{"embedded in page text", "sidebar\n12 queued jobs\nfooter", Depth{N: 12}},
		{"indicator without count", "queued jobs", Depth{Indeterminate: true}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := New(&scriptedReader{pages: []string{tc.page}})
			require.Equal(t, tc.want, p.ReadDepth(context.Background()))
		})
	}
}

func TestReadDepthReadError(t *testing.T) {
	p := New(&scriptedReader{pages: []string{""}, errs: []error{errors.New("page gone")}})
	require.True(t, p.ReadDepth(context.Background()).Indeterminate)
}

func TestWaitUntilEmptyImmediate(t *testing.T) {
	p := New(&scriptedReader{pages: []string{"no jobs here"}})
	res := p.WaitUntilEmpty(context.Background(), fastOpts())
	require.Equal(t, OutcomeReady, res.Outcome)
	require.True(t, res.ReachedZero)
}

func TestWaitUntilEmptyDrains(t *testing.T) {
	p := New(&scriptedReader{pages: []string{
		"5 queued jobs",
		"3 queued jobs",
		"1 queued jobs",
		"welcome back",
	}})
	res := p.WaitUntilEmpty(context.Background(), fastOpts())
	require.Equal(t, OutcomeReady, res.Outcome)
	require.True(t, res.ReachedZero)
	require.Equal(t, 5, res.InitialDepth)
}

func TestWaitUntilEmptyTimesOut(t *testing.T) {
	p := New(&scriptedReader{pages: []string{"9 queued jobs"}})
	opts := fastOpts()
	opts.MaxWait = 10 * time.Millisecond
	res := p.WaitUntilEmpty(context.Background(), opts)
	require.Equal(t, OutcomeTimedOut, res.Outcome)
	require.False(t, res.ReachedZero)
}

func TestWaitUntilEmptyIndeterminateFallback(t *testing.T) {
	// three consecutive indeterminate reads trip the fallback
	p := New(&scriptedReader{pages: []string{
		"queued jobs",
		"queued jobs",
		"queued jobs",
	}})
	res := p.WaitUntilEmpty(context.Background(), fastOpts())
	require.Equal(t, OutcomeReady, res.Outcome)
	require.False(t, res.ReachedZero)
}

func TestWaitUntilEmptyFallbackExactThreshold(t *testing.T) {
	// two indeterminates then a concrete zero resolves via the read, not
	// the fallback
	p := New(&scriptedReader{pages: []string{
		"queued jobs",
		"queued jobs",
		"all done",
	}})
	res := p.WaitUntilEmpty(context.Background(), fastOpts())
	require.Equal(t, OutcomeReady, res.Outcome)
	require.True(t, res.ReachedZero)
}

func TestWaitUntilEmptyIndeterminateCounterResets(t *testing.T) {
	// a concrete read between indeterminates resets the tolerance
	p := New(&scriptedReader{pages: []string{
		"queued jobs",
		"queued jobs",
		"4 queued jobs",
		"queued jobs",
		"queued jobs",
		"done",
	}})
	res := p.WaitUntilEmpty(context.Background(), fastOpts())
	require.Equal(t, OutcomeReady, res.Outcome)
	require.True(t, res.ReachedZero)
	require.Equal(t, 4, res.InitialDepth)
}

func TestWaitUntilEmptyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := New(&scriptedReader{pages: []string{"6 queued jobs"}})
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()
	opts := fastOpts()
	opts.PollInterval = 50 * time.Millisecond
	opts.MaxWait = time.Minute
	res := p.WaitUntilEmpty(ctx, opts)
	require.Equal(t, OutcomeCancelled, res.Outcome)
}

func TestWaitUntilEmptyStuck(t *testing.T) {
	p := New(&scriptedReader{pages: []string{"6 queued jobs"}})
	opts := fastOpts()
	opts.MaxWait = time.Minute
	opts.StuckThreshold = 10 * time.Millisecond
	res := p.WaitUntilEmpty(context.Background(), opts)
	require.Equal(t, OutcomeStuck, res.Outcome)
}
