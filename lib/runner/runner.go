// Package runner wires the pipeline together: attach to the browser, submit
// the run's prompts in batches, then sweep the generated images with the
// requested bulk action. Every stage checkpoints to the state store so a
// crashed or rate-limited run picks up where it stopped.
package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paperbrush/mjrunner/cmd/config"
	"github.com/paperbrush/mjrunner/lib/actor"
	"github.com/paperbrush/mjrunner/lib/browser"
	"github.com/paperbrush/mjrunner/lib/logger"
	"github.com/paperbrush/mjrunner/lib/queue"
	"github.com/paperbrush/mjrunner/lib/state"
	"github.com/paperbrush/mjrunner/lib/status"
	"github.com/paperbrush/mjrunner/lib/submit"
	"github.com/paperbrush/mjrunner/lib/supervise"
	"github.com/paperbrush/mjrunner/lib/task"
)

// imagineURL is where prompts are typed in.
const imagineURL = "https://www.midjourney.com/imagine"

// archiveURL shows the grid of finished generations.
const archiveURL = "https://www.midjourney.com/archive"

// imagesPerGeneration is how many images one prompt produces.
const imagesPerGeneration = 4

const (
	stepSubmit = "submit"
	stepAction = "action"
)

// Params select what a run does.
type Params struct {
	// Prompts starts a new run. Ignored when resuming.
	Prompts []string
	Label   string
	// ResumeRunID continues an earlier run; "latest" picks the most recent.
	ResumeRunID string
	// Action is applied to each generated image after submission.
	Action string
}

// Report summarizes a finished run.
type Report struct {
	RunID      string
	Submitted  int
	Downloaded int
	Accepted   int
	Failed     int
}

// Runner owns the long-lived pieces of the pipeline.
type Runner struct {
	cfg   *config.Config
	store *state.Store
}

// New returns a runner over the given store.
func New(cfg *config.Config, store *state.Store) *Runner {
	return &Runner{cfg: cfg, store: store}
}

// Run executes the full pipeline. Cancellation via ctx stops cleanly with
// all progress persisted.
func (r *Runner) Run(ctx context.Context, params Params) (*Report, error) {
	log := logger.FromContext(ctx)

	if params.Action == "" {
		params.Action = actor.ActionDownload
	}

	run, tasks, err := r.resolveRun(ctx, params)
	if err != nil {
		return nil, err
	}
	log.Info("run resolved", "run_id", run.ID, "tasks", len(tasks))

	tracker := status.NewTracker(run.ID, stepSubmit, stepAction)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)
	if r.cfg.StatusPort > 0 {
		r.serveStatus(g, gctx, tracker)
	}

	report := &Report{RunID: run.ID}
	g.Go(func() error {
		defer cancel()
		return r.pipeline(gctx, run, tasks, params.Action, tracker, report)
	})

	if err := g.Wait(); err != nil {
		return report, err
	}
	return report, nil
}

// resolveRun loads the resumed run or creates a fresh one from the prompts.
func (r *Runner) resolveRun(ctx context.Context, params Params) (*state.Run, []*task.PromptTask, error) {
	if params.ResumeRunID == "" {
		if len(params.Prompts) == 0 {
			return nil, nil, fmt.Errorf("no prompts and nothing to resume")
		}
		return r.store.CreateRun(ctx, params.Label, params.Prompts)
	}

	var run *state.Run
	var err error
	if params.ResumeRunID == "latest" {
		run, err = r.store.LatestRun(ctx)
		if err == nil && run == nil {
			err = fmt.Errorf("no runs to resume")
		}
	} else {
		run, err = r.store.Run(ctx, params.ResumeRunID)
	}
	if err != nil {
		return nil, nil, err
	}
	tasks, err := r.store.Tasks(ctx, run.ID)
	if err != nil {
		return nil, nil, err
	}
	return run, tasks, nil
}

func (r *Runner) pipeline(ctx context.Context, run *state.Run, tasks []*task.PromptTask, action string, tracker *status.Tracker, report *Report) error {
	buttons, err := browser.LoadButtonMap(r.cfg.ButtonMapPath)
	if err != nil {
		return err
	}
	session, err := browser.Connect(ctx, browser.Options{
		DebugURL:      r.cfg.DebugURL,
		Viewport:      browser.Viewport{Width: r.cfg.ViewportWidth, Height: r.cfg.ViewportHeight},
		Buttons:       buttons,
		TypeCharDelay: r.cfg.TypeCharDelay,
	})
	if err != nil {
		return err
	}
	defer session.Close()

	if err := r.submitStage(ctx, session, tasks, tracker, report); err != nil {
		return err
	}
	return r.actionStage(ctx, session, run, tasks, action, tracker, report)
}

// submitStage pushes every pending prompt through the input box, supervised
// against rate limiting. A rate-limit-shaped failure pauses and retries the
// remaining work; anything else surfaces immediately.
func (r *Runner) submitStage(ctx context.Context, session *browser.Session, tasks []*task.PromptTask, tracker *status.Tracker, report *Report) error {
	if err := session.Navigate(ctx, imagineURL); err != nil {
		return err
	}

	submitter := submit.New(session, queue.New(session), submit.Options{
		BatchSize: r.cfg.BatchSize,
		Pacing:    r.cfg.SubmitPacing,
		Wait: queue.WaitOptions{
			PollInterval:   r.cfg.QueuePollInterval,
			MaxWait:        drainBudget(r.cfg.BatchSize, r.cfg.SecondsPerPrompt, r.cfg.QueueDrainMaxWait),
			StuckThreshold: r.cfg.QueueStuckThreshold,
		},
		Final: queue.FinalizeConfig{
			ProcessingSlots: r.cfg.ProcessingSlots,
			MinQueued:       r.cfg.ExtrapolationMinQueued,
			Min:             r.cfg.FinalizationWaitMin,
			Max:             r.cfg.FinalizationWaitMax,
			Fallback:        r.cfg.FinalizationWait,
		},
	})

	total := countStatus(tasks, task.StatusPending)
	tracker.Start(stepSubmit, total)

	policy := supervise.Policy{
		MaxAttempts:    r.cfg.RateLimitRetryMax + 1,
		RateLimitPause: r.cfg.RateLimitRetryPause,
	}
	err := policy.Run(ctx, stepSubmit, func(ctx context.Context) error {
		return submitter.Run(ctx, tasks, func(done, t int) {
			tracker.Progress(stepSubmit, done, t)
		})
	})

	if saveErr := r.store.SaveTasks(context.WithoutCancel(ctx), tasks); saveErr != nil {
		err = errors.Join(err, saveErr)
	}
	report.Submitted = countStatus(tasks, task.StatusGenerating)
	if err != nil {
		tracker.Fail(stepSubmit, err)
		return fmt.Errorf("submit stage: %w", err)
	}
	tracker.Complete(stepSubmit)
	return nil
}

// actionStage sweeps the generated images in the archive grid. The marker
// is persisted after every image, so a crash or retry resumes from the last
// processed one rather than re-walking the carousel from the start.
func (r *Runner) actionStage(ctx context.Context, session *browser.Session, run *state.Run, tasks []*task.PromptTask, action string, tracker *status.Tracker, report *Report) error {
	acted := actionable(tasks)
	if len(acted) == 0 {
		tracker.Complete(stepAction)
		return nil
	}

	marker, err := r.store.Marker(ctx, run.ID, len(acted)*imagesPerGeneration)
	if err != nil {
		return err
	}
	tracker.Start(stepAction, marker.Total)
	tracker.Progress(stepAction, marker.Done, marker.Total)

	if err := session.Navigate(ctx, archiveURL); err != nil {
		return err
	}

	a := actor.New(session, actor.Options{
		GridOrder:    actor.GridOrder(r.cfg.GridOrder),
		Pacing:       r.cfg.CarouselPacing,
		OutputDir:    r.cfg.OutputDir,
		DownloadDir:  r.cfg.DownloadDir,
		DownloadWait: r.cfg.DownloadWait,
		Namer: func(i int) string {
			prompt := ""
			if t := taskForImage(acted, i, actor.GridOrder(r.cfg.GridOrder)); t != nil {
				prompt = t.Prompt
			}
			return actor.FileStem(prompt, i, time.Now())
		},
	})

	policy := supervise.Policy{
		MaxAttempts:    r.cfg.RateLimitRetryMax + 1,
		RateLimitPause: r.cfg.RateLimitRetryPause,
		TransientPause: r.cfg.ActorRetryPause,
		RetryTransient: true,
	}
	var saved []actor.Saved
	err = policy.Run(ctx, stepAction, func(ctx context.Context) error {
		got, runErr := a.Run(ctx, action, marker, func(cctx context.Context, m *task.BatchMarker) error {
			tracker.Progress(stepAction, m.Done, m.Total)
			return r.store.SaveMarker(cctx, m)
		})
		saved = append(saved, got...)
		return runErr
	})

	r.recordImages(acted, saved)
	report.Downloaded = len(saved)
	report.Accepted = countStatus(tasks, task.StatusAccepted)
	report.Failed = countStatus(tasks, task.StatusFailed)

	if saveErr := r.store.SaveTasks(context.WithoutCancel(ctx), tasks); saveErr != nil {
		err = errors.Join(err, saveErr)
	}
	if err != nil {
		tracker.Fail(stepAction, err)
		return fmt.Errorf("%s stage: %w", action, err)
	}
	tracker.Complete(stepAction)
	return nil
}

// recordImages attaches each saved file to the task whose generation it
// belongs to, and accepts tasks that got at least one image.
func (r *Runner) recordImages(acted []*task.PromptTask, saved []actor.Saved) {
	for _, s := range saved {
		t := taskForImage(acted, s.Index, actor.GridOrder(r.cfg.GridOrder))
		if t == nil {
			continue
		}
		t.Images = append(t.Images, task.ImageRecord{
			TaskID:   t.ID,
			Path:     s.Path,
			Position: s.Index % imagesPerGeneration,
		})
	}
	for _, t := range acted {
		if t.Status == task.StatusGenerating && len(t.Images) > 0 {
			_ = t.Accept()
		}
	}
}

// taskForImage maps a batch image index to its originating task. acted is
// in submission order; with a newest-first grid the carousel walks the
// generations in reverse of that order.
func taskForImage(acted []*task.PromptTask, index int, order actor.GridOrder) *task.PromptTask {
	gen := index / imagesPerGeneration
	if gen >= len(acted) {
		return nil
	}
	if order == actor.NewestFirst {
		gen = len(acted) - 1 - gen
	}
	return acted[gen]
}

// drainBudget bounds one batch's drain wait: twice the per-prompt render
// estimate across a full batch, capped by the configured hard limit. A
// missing estimate falls back to the hard limit alone.
func drainBudget(batchSize, secondsPerPrompt int, hardCap time.Duration) time.Duration {
	est := 2 * time.Duration(batchSize*secondsPerPrompt) * time.Second
	if est <= 0 || est > hardCap {
		return hardCap
	}
	return est
}

// actionable returns the tasks whose prompts actually went out.
func actionable(tasks []*task.PromptTask) []*task.PromptTask {
	var out []*task.PromptTask
	for _, t := range tasks {
		if t.Status == task.StatusGenerating || t.Status == task.StatusAccepted {
			out = append(out, t)
		}
	}
	return out
}

func countStatus(tasks []*task.PromptTask, s task.Status) int {
	n := 0
	for _, t := range tasks {
		if t.Status == s {
			n++
		}
	}
	return n
}

// serveStatus runs the localhost progress endpoint until the group context
// is cancelled.
func (r *Runner) serveStatus(g *errgroup.Group, ctx context.Context, tracker *status.Tracker) {
	srv := &http.Server{
		Addr:    net.JoinHostPort("127.0.0.1", fmt.Sprint(r.cfg.StatusPort)),
		Handler: status.Handler(tracker),
	}
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}
