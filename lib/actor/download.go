package actor

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/paperbrush/mjrunner/lib/logger"
)

// minImageBytes guards against saving an error page or truncated body as an
// image.
const minImageBytes = 100

// downloader saves the detail view's full image. The CDN URL is fetched
// directly when possible; when that fails the calibrated download control is
// clicked and the browser's own download directory is watched for the file.
type downloader struct {
	driver PageDriver
	opts   Options

	// replaced in tests
	get func(ctx context.Context, url string) ([]byte, error)
}

func newDownloader(driver PageDriver, opts Options) *downloader {
	return &downloader{
		driver: driver,
		opts:   opts,
		get:    fetchURL,
	}
}

func fetchURL(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", url, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// fetch downloads the image at url into the output directory under stem,
// keeping the URL's extension. A suspiciously small body is retried once;
// when the direct fetch cannot produce a plausible image the UI download
// control is used instead.
func (d *downloader) fetch(ctx context.Context, url, stem string) (string, error) {
	log := logger.FromContext(ctx)

	body, err := d.getChecked(ctx, url)
	if err != nil {
		log.Warn("direct fetch failed, retrying once", "url", url, "err", err)
		body, err = d.getChecked(ctx, url)
	}
	if err != nil {
		if d.opts.DownloadDir == "" {
			return "", fmt.Errorf("direct fetch: %w", err)
		}
		log.Warn("direct fetch failed twice, using UI download", "url", url, "err", err)
		return d.viaUI(ctx, stem)
	}

	name := stem + extFor(url)
	dest := filepath.Join(d.opts.OutputDir, name)
	if err := os.WriteFile(dest, body, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", dest, err)
	}
	return dest, nil
}

func (d *downloader) getChecked(ctx context.Context, url string) ([]byte, error) {
	body, err := d.get(ctx, url)
	if err != nil {
		return nil, err
	}
	if len(body) < minImageBytes {
		return nil, fmt.Errorf("fetched %d bytes, not a plausible image", len(body))
	}
	return body, nil
}

// viaUI clicks the calibrated download control and waits for a new file to
// land in the browser's download directory, then moves it into the output
// directory under stem.
func (d *downloader) viaUI(ctx context.Context, stem string) (string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return "", fmt.Errorf("watch downloads: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(d.opts.DownloadDir); err != nil {
		return "", fmt.Errorf("watch %s: %w", d.opts.DownloadDir, err)
	}

	if err := d.driver.Click(ctx, ActionDownload); err != nil {
		return "", err
	}

	got, err := waitForFile(ctx, watcher, d.opts.DownloadWait)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(d.opts.OutputDir, stem+filepath.Ext(got))
	if err := os.Rename(got, dest); err != nil {
		return "", fmt.Errorf("move download: %w", err)
	}
	return dest, nil
}

// waitForFile blocks until the watcher reports a finished download. Browsers
// write to a temporary name first, so partial-download suffixes are skipped
// and the settled file is returned on its rename or final create.
func waitForFile(ctx context.Context, watcher *fsnotify.Watcher, wait time.Duration) (string, error) {
	if wait <= 0 {
		wait = 30 * time.Second
	}
	deadline := time.NewTimer(wait)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("no download appeared within %s", wait)
		case err := <-watcher.Errors:
			return "", fmt.Errorf("watch downloads: %w", err)
		case ev := <-watcher.Events:
			if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if isPartialDownload(ev.Name) {
				continue
			}
			if info, err := os.Stat(ev.Name); err != nil || info.IsDir() {
				continue
			}
			return ev.Name, nil
		}
	}
}

func isPartialDownload(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".crdownload", ".part", ".tmp", ".download":
		return true
	}
	return false
}

// extFor pulls the image extension off a CDN URL, defaulting to .png.
func extFor(url string) string {
	p := url
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := path.Ext(p)
	switch strings.ToLower(ext) {
	case ".png", ".jpg", ".jpeg", ".webp", ".gif":
		return ext
	}
	return ".png"
}
