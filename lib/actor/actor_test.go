package actor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paperbrush/mjrunner/lib/task"
)

var jobIDs = []string{
	"0f6a1c3e-9d4b-4a7e-8c21-5b9e2f1d0a37",
	"1b2f3a4c-5d6e-4f70-8a9b-0c1d2e3f4a5b",
	"2c3d4e5f-6a7b-4c8d-9e0f-1a2b3c4d5e6f",
	"3d4e5f6a-7b8c-4d9e-af01-2b3c4d5e6f70",
}

// fakeDriver simulates a grid of four generations and a detail carousel
// over them.
type fakeDriver struct {
	urls []string // full-size detail URLs, grid order
	pos  int

	clicks    []string
	navs      []string
	navErr    error
	gridErr   error
	opened    []string
	nextCalls int
}

func newFakeDriver() *fakeDriver {
	d := &fakeDriver{}
	for _, id := range jobIDs {
		d.urls = append(d.urls, "https://cdn.midjourney.com/"+id+"/0_0.png")
	}
	return d
}

func (d *fakeDriver) Navigate(ctx context.Context, url string) error {
	d.navs = append(d.navs, url)
	if d.navErr != nil {
		return d.navErr
	}
	for i, id := range jobIDs {
		if url == "https://www.midjourney.com/jobs/"+id {
			d.pos = i
			return nil
		}
	}
	return fmt.Errorf("unknown detail page %s", url)
}

func (d *fakeDriver) Click(ctx context.Context, name string) error {
	d.clicks = append(d.clicks, name)
	return nil
}

func (d *fakeDriver) GridThumbnails(ctx context.Context) ([]string, error) {
	if d.gridErr != nil {
		return nil, d.gridErr
	}
	thumbs := make([]string, len(d.urls))
	for i, id := range jobIDs {
		thumbs[i] = "https://cdn.midjourney.com/" + id + "/0_0_384_N.webp"
	}
	return thumbs, nil
}

func (d *fakeDriver) OpenThumbnail(ctx context.Context, url string) error {
	d.opened = append(d.opened, url)
	for i, id := range jobIDs {
		if url == "https://cdn.midjourney.com/"+id+"/0_0_384_N.webp" {
			d.pos = i
			return nil
		}
	}
	return fmt.Errorf("thumbnail not in grid: %s", url)
}

func (d *fakeDriver) DetailImageURL(ctx context.Context) (string, error) {
	return d.urls[d.pos], nil
}

func (d *fakeDriver) NextImage(ctx context.Context) error {
	d.nextCalls++
	if d.pos+1 < len(d.urls) {
		d.pos++
	}
	return nil
}

func newTestActor(t *testing.T, d *fakeDriver, opts Options) *Actor {
	t.Helper()
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	a := New(d, opts)
	a.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	a.download.get = func(ctx context.Context, url string) ([]byte, error) {
		return make([]byte, 4096), nil
	}
	return a
}

func TestRunFreshBatchDownloadsAll(t *testing.T) {
	driver := newFakeDriver()
	a := newTestActor(t, driver, Options{})

	marker := &task.BatchMarker{RunID: "run-1", Total: 4}
	var checkpoints []int
	records, err := a.Run(context.Background(), ActionDownload, marker, func(_ context.Context, m *task.BatchMarker) error {
		checkpoints = append(checkpoints, m.Done)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, records, 4)
	require.Equal(t, 4, marker.Done)
	require.Equal(t, driver.urls[3], marker.LastURL)
	require.Equal(t, []int{1, 2, 3, 4}, checkpoints)

	for _, rec := range records {
		info, err := os.Stat(rec.Path)
		require.NoError(t, err)
		require.EqualValues(t, 4096, info.Size())
	}
}

func TestRunCompletedMarkerIsNoop(t *testing.T) {
	driver := newFakeDriver()
	a := newTestActor(t, driver, Options{})

	marker := &task.BatchMarker{RunID: "run-1", Total: 4, Done: 4}
	records, err := a.Run(context.Background(), ActionDownload, marker, nil)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Empty(t, driver.opened)
}

func TestRunUpscaleClicksPerImage(t *testing.T) {
	driver := newFakeDriver()
	a := newTestActor(t, driver, Options{})

	marker := &task.BatchMarker{RunID: "run-1", Total: 3}
	records, err := a.Run(context.Background(), ActionUpscaleSubtle, marker, nil)
	require.NoError(t, err)
	require.Empty(t, records)
	require.Equal(t, []string{ActionUpscaleSubtle, ActionUpscaleSubtle, ActionUpscaleSubtle}, driver.clicks)
}

func TestResumeViaDetailNavigation(t *testing.T) {
	driver := newFakeDriver()
	a := newTestActor(t, driver, Options{})

	marker := &task.BatchMarker{
		RunID:   "run-1",
		Total:   4,
		Done:    2,
		LastURL: driver.urls[1],
	}
	records, err := a.Run(context.Background(), ActionDownload, marker, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, 4, marker.Done)
	require.Equal(t, []string{"https://www.midjourney.com/jobs/" + jobIDs[1]}, driver.navs)
	require.Empty(t, driver.opened)
}

func TestResumeViaGridMatchWhenNavigationFails(t *testing.T) {
	driver := newFakeDriver()
	driver.navErr = errors.New("navigation blocked")
	a := newTestActor(t, driver, Options{})

	marker := &task.BatchMarker{
		RunID:   "run-1",
		Total:   4,
		Done:    1,
		LastURL: driver.urls[0],
	}
	records, err := a.Run(context.Background(), ActionDownload, marker, nil)
	require.NoError(t, err)
	require.Len(t, records, 3)
	// the remembered image's thumbnail was reopened, then stepped past
	require.Equal(t, []string{"https://cdn.midjourney.com/" + jobIDs[0] + "/0_0_384_N.webp"}, driver.opened)
}

func TestResumePositionalFallback(t *testing.T) {
	driver := newFakeDriver()
	driver.navErr = errors.New("navigation blocked")
	a := newTestActor(t, driver, Options{})

	marker := &task.BatchMarker{
		RunID: "run-1",
		Total: 4,
		Done:  2,
		// remembered image no longer in the grid
		LastURL: "https://cdn.midjourney.com/99999999-9999-4999-8999-999999999999/0_0.png",
	}
	records, err := a.Run(context.Background(), ActionDownload, marker, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	// opened the grid's first tile and advanced Done steps before acting
	require.Equal(t, []string{"https://cdn.midjourney.com/" + jobIDs[0] + "/0_0_384_N.webp"}, driver.opened)
	require.Equal(t, driver.urls[3], marker.LastURL)
	require.Equal(t, 4, marker.Done)
}

func TestPositionalOldestFirstStartsAtEnd(t *testing.T) {
	driver := newFakeDriver()
	a := newTestActor(t, driver, Options{GridOrder: OldestFirst})

	marker := &task.BatchMarker{RunID: "run-1", Total: 1}
	_, err := a.Run(context.Background(), ActionDownload, marker, nil)
	require.NoError(t, err)
	require.Equal(t, []string{"https://cdn.midjourney.com/" + jobIDs[3] + "/0_0_384_N.webp"}, driver.opened)
}

func TestRunSmallBodyRetriesThenRecordsFailure(t *testing.T) {
	driver := newFakeDriver()
	a := newTestActor(t, driver, Options{})
	calls := 0
	a.download.get = func(ctx context.Context, url string) ([]byte, error) {
		calls++
		return []byte("nope"), nil
	}

	marker := &task.BatchMarker{RunID: "run-1", Total: 2}
	records, err := a.Run(context.Background(), ActionDownload, marker, nil)
	require.NoError(t, err)
	// every image failed but the batch still advanced to completion
	require.Empty(t, records)
	require.Equal(t, 2, marker.Done)
	require.Equal(t, 4, calls)
}

func TestRunCancelledReturnsStopped(t *testing.T) {
	driver := newFakeDriver()
	a := newTestActor(t, driver, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	marker := &task.BatchMarker{RunID: "run-1", Total: 4}
	_, err := a.Run(ctx, ActionDownload, marker, nil)
	require.ErrorIs(t, err, ErrStopped)
	require.Equal(t, 0, marker.Done)
}

func TestRunCheckpointFailureAborts(t *testing.T) {
	driver := newFakeDriver()
	a := newTestActor(t, driver, Options{})

	marker := &task.BatchMarker{RunID: "run-1", Total: 4}
	boom := errors.New("disk full")
	records, err := a.Run(context.Background(), ActionDownload, marker, func(context.Context, *task.BatchMarker) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
	require.Len(t, records, 1)
	require.Equal(t, 1, marker.Done)
}

func TestFileStem(t *testing.T) {
	at := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	stem := FileStem("A cozy cabin, volumetric light --ar 16:9", 2, at)
	require.Equal(t, "a_cozy_cabin_volumetric_light_ar_16_9_02_20260314T092653", stem)

	require.Equal(t, "image_00_20260314T092653", FileStem("!!!", 0, at))
}

func TestExtFor(t *testing.T) {
	require.Equal(t, ".webp", extFor("https://cdn.test/a/0_1.webp?x=1"))
	require.Equal(t, ".png", extFor("https://cdn.test/a/0_1"))
}

func TestDownloadedFileKeepsURLExtension(t *testing.T) {
	driver := newFakeDriver()
	for i := range driver.urls {
		driver.urls[i] = "https://cdn.midjourney.com/" + jobIDs[i] + "/0_0.webp"
	}
	dir := t.TempDir()
	a := newTestActor(t, driver, Options{OutputDir: dir})

	marker := &task.BatchMarker{RunID: "run-1", Total: 1}
	records, err := a.Run(context.Background(), ActionDownload, marker, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, ".webp", filepath.Ext(records[0].Path))
	require.Equal(t, dir, filepath.Dir(records[0].Path))
}
