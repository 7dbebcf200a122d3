// Package actor performs one bulk UI action (download or an upscale
// variant) across the first N images of the most recent generation. It
// walks the detail carousel with "next" navigation and can resume a
// partially completed batch after a crash, relocating the last processed
// image from its remembered URL.
package actor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/paperbrush/mjrunner/lib/logger"
	"github.com/paperbrush/mjrunner/lib/resume"
	"github.com/paperbrush/mjrunner/lib/task"
)

// Actions the button map may carry. Download additionally tries a direct
// CDN fetch before touching the UI.
const (
	ActionDownload        = "download"
	ActionUpscaleSubtle   = "upscale_subtle"
	ActionUpscaleCreative = "upscale_creative"
	ActionVarySubtle      = "vary_subtle"
	ActionVaryStrong      = "vary_strong"
)

// ErrStopped is returned when the caller cancelled; the marker reflects all
// completed images so the batch can be resumed later.
var ErrStopped = errors.New("batch action stopped")

// PageDriver is the subset of the browser session the actor needs.
type PageDriver interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, name string) error
	GridThumbnails(ctx context.Context) ([]string, error)
	OpenThumbnail(ctx context.Context, url string) error
	DetailImageURL(ctx context.Context) (string, error)
	NextImage(ctx context.Context) error
}

// GridOrder is the configured assumption about thumbnail ordering in the
// archive grid. It is never verified against the live page.
type GridOrder string

const (
	NewestFirst GridOrder = "newest_first"
	OldestFirst GridOrder = "oldest_first"
)

// Options configure a batch action.
type Options struct {
	GridOrder GridOrder
	// Pacing is the delay between carousel steps, giving the detail view
	// time to load.
	Pacing time.Duration
	// OutputDir receives downloaded files.
	OutputDir string
	// DownloadDir is the browser's own download target, watched when the
	// direct fetch fails. Empty disables the UI fallback.
	DownloadDir string
	// DownloadWait bounds the UI-download fallback.
	DownloadWait time.Duration
	// Namer gives the output filename stem for image i. Optional.
	Namer func(i int) string
}

// Checkpoint is called after every processed image with the updated marker,
// so progress survives a crash between images.
type Checkpoint func(ctx context.Context, m *task.BatchMarker) error

// Saved is one successful download: the image's index within the batch and
// where it landed on disk.
type Saved struct {
	Index int
	Path  string
}

// Actor runs bulk image actions.
type Actor struct {
	driver   PageDriver
	download *downloader
	opts     Options

	sleep func(ctx context.Context, d time.Duration) error
}

// New returns an actor over the given driver.
func New(driver PageDriver, opts Options) *Actor {
	if opts.GridOrder == "" {
		opts.GridOrder = NewestFirst
	}
	if opts.Namer == nil {
		opts.Namer = func(i int) string { return fmt.Sprintf("image_%02d", i) }
	}
	return &Actor{
		driver:   driver,
		download: newDownloader(driver, opts),
		opts:     opts,
		sleep: func(ctx context.Context, d time.Duration) error {
			if d <= 0 {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
	}
}

// Run performs action on every remaining image of the batch described by
// marker. A fresh marker (Done == 0) starts from the newest generation's
// first image; a resumed one is relocated first. Per-image failures are
// recorded and do not abort the batch. The returned records cover only this
// invocation's successes.
func (a *Actor) Run(ctx context.Context, action string, marker *task.BatchMarker, checkpoint Checkpoint) ([]Saved, error) {
	log := logger.FromContext(ctx)

	if marker.Remaining() == 0 {
		return nil, nil
	}
	if err := a.locateStart(ctx, marker); err != nil {
		return nil, fmt.Errorf("locate start position: %w", err)
	}

	var records []Saved
	for i := marker.Done; i < marker.Total; i++ {
		if err := ctx.Err(); err != nil {
			return records, ErrStopped
		}

		url, err := a.driver.DetailImageURL(ctx)
		if err != nil {
			return records, fmt.Errorf("image %d: %w", i, err)
		}

		if rec, err := a.actOne(ctx, action, i, url); err != nil {
			// per-image failure: log, advance, keep going
			log.Warn("image action failed", "action", action, "index", i, "err", err)
		} else if rec != nil {
			records = append(records, *rec)
		}

		marker.Advance(url)
		if checkpoint != nil {
			if err := checkpoint(ctx, marker); err != nil {
				return records, fmt.Errorf("checkpoint after image %d: %w", i, err)
			}
		}

		if i+1 < marker.Total {
			if err := a.driver.NextImage(ctx); err != nil {
				return records, fmt.Errorf("advance past image %d: %w", i, err)
			}
			if err := a.sleep(ctx, a.opts.Pacing); err != nil {
				return records, ErrStopped
			}
		}
	}
	return records, nil
}

// actOne applies the action to the image currently in the detail view.
func (a *Actor) actOne(ctx context.Context, action string, index int, url string) (*Saved, error) {
	if action == ActionDownload {
		path, err := a.download.fetch(ctx, url, a.opts.Namer(index))
		if err != nil {
			return nil, err
		}
		return &Saved{Index: index, Path: path}, nil
	}
	return nil, a.driver.Click(ctx, action)
}

// locateStart puts the detail view on the next image to process. For a
// resumed batch the remembered URL is tried three ways, in decreasing order
// of reliability: direct navigation to a detail page built from the job
// UUID, a grid-thumbnail match by UUID or normalized path, and finally the
// positional heuristic.
func (a *Actor) locateStart(ctx context.Context, marker *task.BatchMarker) error {
	log := logger.FromContext(ctx)

	if marker.Done == 0 || marker.LastURL == "" {
		return a.openPositional(ctx, marker.Done)
	}

	// tier 1: direct detail navigation from the embedded job id
	if detail, ok := resume.DetailURL(marker.LastURL); ok {
		if err := a.driver.Navigate(ctx, detail); err == nil {
			if cur, err := a.driver.DetailImageURL(ctx); err == nil && resume.Match(cur, marker.LastURL) {
				log.Info("resumed via detail navigation", "url", detail)
				return a.stepPast(ctx)
			}
		}
		log.Warn("detail navigation did not land on remembered image", "url", detail)
	}

	// tier 2: find the remembered image among the visible thumbnails
	thumbs, err := a.driver.GridThumbnails(ctx)
	if err == nil {
		for _, thumb := range thumbs {
			if resume.Match(thumb, marker.LastURL) {
				if err := a.driver.OpenThumbnail(ctx, thumb); err == nil {
					log.Info("resumed via grid match", "thumb", thumb)
					return a.stepPast(ctx)
				}
			}
		}
	}
	log.Warn("remembered image not found in grid, falling back to position",
		"done", marker.Done)

	// tier 3: positional heuristic from the configured grid ordering
	return a.openPositional(ctx, marker.Done)
}

// stepPast moves from the relocated (already processed) image to the next
// one.
func (a *Actor) stepPast(ctx context.Context) error {
	if err := a.driver.NextImage(ctx); err != nil {
		return err
	}
	return a.sleep(ctx, a.opts.Pacing)
}

// openPositional opens the grid item that positionally corresponds to the
// offset-th image of the batch, honoring the configured ordering
// assumption, then steps forward to it.
func (a *Actor) openPositional(ctx context.Context, offset int) error {
	thumbs, err := a.driver.GridThumbnails(ctx)
	if err != nil {
		return err
	}
	if len(thumbs) == 0 {
		return fmt.Errorf("grid is empty")
	}

	first := 0
	if a.opts.GridOrder == OldestFirst {
		first = len(thumbs) - 1
	}
	if err := a.driver.OpenThumbnail(ctx, thumbs[first]); err != nil {
		return err
	}
	for i := 0; i < offset; i++ {
		if err := a.driver.NextImage(ctx); err != nil {
			return err
		}
		if err := a.sleep(ctx, a.opts.Pacing); err != nil {
			return err
		}
	}
	return nil
}
