// Package browser attaches to an already-running Chromium over the DevTools
// protocol and drives one tab with coordinate-based clicks and keyboard
// input. It never launches a browser: the operator starts Chromium with the
// remote debugging port open and logs into the target site by hand before a
// run. Coordinates are recorded once at a reference viewport and rescaled
// linearly to the runtime viewport, which the session sets explicitly so the
// math stays deterministic.
package browser

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/paperbrush/mjrunner/lib/logger"
)

// ErrUnreachable means the remote debugging endpoint did not answer. This is
// fatal for the run; the supervisor's retry budget is reserved for
// in-session errors.
var ErrUnreachable = errors.New("debug endpoint unreachable")

// Options configures a session.
type Options struct {
	// DebugURL is the remote debugging endpoint, e.g. http://localhost:9222.
	DebugURL string
	// Viewport is applied to the page the session opens.
	Viewport Viewport
	// Buttons is the calibrated coordinate map.
	Buttons *ButtonMap
	// TypeCharDelay paces keystrokes to stay under the site's input
	// throttling heuristics.
	TypeCharDelay time.Duration
}

// Session owns one tab on the shared browser for the duration of a run.
type Session struct {
	browser *rod.Browser
	page    *rod.Page
	opts    Options
}

// Connect attaches to the browser behind opts.DebugURL and opens exactly one
// new page with the configured viewport. The caller is expected to have
// preflight-checked reachability; an unreachable port is reported as
// ErrUnreachable without retry.
func Connect(ctx context.Context, opts Options) (*Session, error) {
	log := logger.FromContext(ctx)

	wsURL, err := launcher.ResolveURL(opts.DebugURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, opts.DebugURL, err)
	}

	b := rod.New().Context(ctx).ControlURL(wsURL)
	if err := b.Connect(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrUnreachable, opts.DebugURL, err)
	}

	page, err := b.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, fmt.Errorf("open page: %w", err)
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             opts.Viewport.Width,
		Height:            opts.Viewport.Height,
		DeviceScaleFactor: 1.0,
		Mobile:            false,
	}); err != nil {
		return nil, fmt.Errorf("set viewport: %w", err)
	}

	log.Info("attached to browser", "endpoint", opts.DebugURL,
		"viewport_w", opts.Viewport.Width, "viewport_h", opts.Viewport.Height)

	return &Session{browser: b, page: page, opts: opts}, nil
}

// Close releases the session's tab. The underlying browser process is shared
// with the operator and other tools, so it is left running.
func (s *Session) Close() error {
	if s.page == nil {
		return nil
	}
	err := s.page.Close()
	s.page = nil
	return err
}

// Navigate loads url in the session tab and waits for the load event.
func (s *Session) Navigate(ctx context.Context, url string) error {
	page := s.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// CurrentURL returns the tab's current location, or "" if unavailable.
func (s *Session) CurrentURL() string {
	info, err := s.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

// PlainText returns the rendered text of the page body. An empty page
// yields "".
func (s *Session) PlainText(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(`() => document.body ? document.body.innerText : ""`)
	if err != nil {
		return "", fmt.Errorf("read page text: %w", err)
	}
	return res.Value.Str(), nil
}

// EvalStrings runs js (which must return an array of strings) and returns
// the result.
func (s *Session) EvalStrings(ctx context.Context, js string) ([]string, error) {
	res, err := s.page.Context(ctx).Eval(js)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, v := range res.Value.Arr() {
		out = append(out, v.Str())
	}
	return out, nil
}

// Page exposes the underlying rod page for the few operations the wrapper
// does not cover (download capture, calibration hooks).
func (s *Session) Page() *rod.Page { return s.page }

// Viewport returns the runtime viewport the session was opened with.
func (s *Session) Viewport() Viewport { return s.opts.Viewport }
