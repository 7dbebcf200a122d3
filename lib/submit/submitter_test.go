package submit

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paperbrush/mjrunner/lib/queue"
	"github.com/paperbrush/mjrunner/lib/task"
)

type fakeDriver struct {
	clicks  []string
	typed   []string
	enters  int
	typeErr error
}

func (d *fakeDriver) Click(ctx context.Context, name string) error {
	d.clicks = append(d.clicks, name)
	return nil
}

func (d *fakeDriver) Type(ctx context.Context, text string) error {
	if d.typeErr != nil {
		return d.typeErr
	}
	d.typed = append(d.typed, text)
	return nil
}

func (d *fakeDriver) PressEnter(ctx context.Context) error {
	d.enters++
	return nil
}

type fakeDrainer struct {
	results []queue.DrainResult
	calls   int
}

func (d *fakeDrainer) WaitUntilEmpty(ctx context.Context, opts queue.WaitOptions) queue.DrainResult {
	r := d.results[d.calls%len(d.results)]
	d.calls++
	return r
}

func makeTasks(n int) []*task.PromptTask {
	tasks := make([]*task.PromptTask, n)
	for i := range tasks {
		tasks[i] = task.NewPromptTask("run-1", i, fmt.Sprintf("prompt %d", i))
	}
	return tasks
}

func newTestSubmitter(d Driver, dr Drainer, opts Options) (*Submitter, *[]time.Duration) {
	s := New(d, dr, opts)
	var slept []time.Duration
	s.sleep = func(ctx context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return nil
	}
	return s, &slept
}

func TestRunBatchesOfTen(t *testing.T) {
	driver := &fakeDriver{}
	drainer := &fakeDrainer{results: []queue.DrainResult{
		{Outcome: queue.OutcomeReady, ReachedZero: true, InitialDepth: 10, Elapsed: 100 * time.Second},
	}}
	s, _ := newTestSubmitter(driver, drainer, Options{
		BatchSize: 10,
		Final: queue.FinalizeConfig{
			ProcessingSlots: 3, MinQueued: 4,
			Min: 30 * time.Second, Max: 180 * time.Second, Fallback: 100 * time.Second,
		},
	})

	tasks := makeTasks(23)
	require.NoError(t, s.Run(context.Background(), tasks, nil))

	// 23 prompts -> batches of [10, 10, 3]
	require.Equal(t, 23, driver.enters)
	require.Len(t, driver.typed, 23)
	require.Equal(t, 3, drainer.calls)
	for _, tk := range tasks {
		require.Equal(t, task.StatusGenerating, tk.Status)
	}
	// prompts go out in list order
	require.Equal(t, "prompt 0", driver.typed[0])
	require.Equal(t, "prompt 22", driver.typed[22])
}

func TestRunProgressCallback(t *testing.T) {
	driver := &fakeDriver{}
	drainer := &fakeDrainer{results: []queue.DrainResult{
		{Outcome: queue.OutcomeReady, ReachedZero: true},
	}}
	s, _ := newTestSubmitter(driver, drainer, Options{BatchSize: 5})

	var seen []int
	err := s.Run(context.Background(), makeTasks(7), func(done, total int) {
		require.Equal(t, 7, total)
		seen = append(seen, done)
	})
	require.NoError(t, err)
	require.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, seen)
}

func TestRunSkipsNonPending(t *testing.T) {
	driver := &fakeDriver{}
	drainer := &fakeDrainer{results: []queue.DrainResult{
		{Outcome: queue.OutcomeReady, ReachedZero: true},
	}}
	s, _ := newTestSubmitter(driver, drainer, Options{BatchSize: 10})

	tasks := makeTasks(3)
	tasks[1].Fail(errors.New("poisoned"))
	require.NoError(t, s.Run(context.Background(), tasks, nil))
	require.Len(t, driver.typed, 2)
}

func TestRunSubmitFailureAborts(t *testing.T) {
	driver := &fakeDriver{typeErr: errors.New("input throttled")}
	drainer := &fakeDrainer{results: []queue.DrainResult{{Outcome: queue.OutcomeReady}}}
	s, _ := newTestSubmitter(driver, drainer, Options{BatchSize: 10})

	tasks := makeTasks(3)
	err := s.Run(context.Background(), tasks, nil)
	require.Error(t, err)
	require.Equal(t, task.StatusFailed, tasks[0].Status)
	require.Equal(t, "input throttled", tasks[0].LastError)
	require.Equal(t, task.StatusPending, tasks[1].Status)
	require.Equal(t, 0, drainer.calls)
}

func TestRunDrainTimeoutFails(t *testing.T) {
	driver := &fakeDriver{}
	drainer := &fakeDrainer{results: []queue.DrainResult{
		{Outcome: queue.OutcomeTimedOut, InitialDepth: 9},
	}}
	s, _ := newTestSubmitter(driver, drainer, Options{
		BatchSize: 10,
		Wait:      queue.WaitOptions{MaxWait: time.Minute},
	})

	err := s.Run(context.Background(), makeTasks(2), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "did not drain")
}

func TestRunCancelledPreservesWork(t *testing.T) {
	driver := &fakeDriver{}
	drainer := &fakeDrainer{results: []queue.DrainResult{
		{Outcome: queue.OutcomeCancelled},
	}}
	s, _ := newTestSubmitter(driver, drainer, Options{BatchSize: 2})

	tasks := makeTasks(4)
	err := s.Run(context.Background(), tasks, nil)
	require.ErrorIs(t, err, ErrStopped)
	// the first batch was submitted before the cancelled drain
	require.Equal(t, task.StatusGenerating, tasks[0].Status)
	require.Equal(t, task.StatusGenerating, tasks[1].Status)
	require.Equal(t, task.StatusPending, tasks[2].Status)
}

func TestRunFinalizationSleeps(t *testing.T) {
	driver := &fakeDriver{}
	drainer := &fakeDrainer{results: []queue.DrainResult{
		{Outcome: queue.OutcomeReady, ReachedZero: true, InitialDepth: 8, Elapsed: 40 * time.Second},
	}}
	s, slept := newTestSubmitter(driver, drainer, Options{
		BatchSize: 10,
		Final: queue.FinalizeConfig{
			ProcessingSlots: 3, MinQueued: 4,
			Min: 30 * time.Second, Max: 180 * time.Second, Fallback: 100 * time.Second,
		},
	})

	require.NoError(t, s.Run(context.Background(), makeTasks(1), nil))
	// per-item 5s, 3 slots -> 15s raw, clamped up to the 30s minimum
	require.Contains(t, *slept, 30*time.Second)
}
