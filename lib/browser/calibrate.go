package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/paperbrush/mjrunner/lib/logger"
)

const calibrateHook = `() => {
	window.__calibClicks = [];
	document.addEventListener('click', (e) => {
		window.__calibClicks.push([Math.round(e.clientX), Math.round(e.clientY)]);
	}, true);
}`

// Calibrate runs the one-time interactive calibration flow: it installs a
// click-capture hook in the page and waits for the operator to click each
// named button in sequence. The captured points are recorded against the
// session's viewport, which becomes the reference viewport of the returned
// map.
func (s *Session) Calibrate(ctx context.Context, names []string) (*ButtonMap, error) {
	log := logger.FromContext(ctx)
	page := s.page.Context(ctx)

	if _, err := page.Eval(calibrateHook); err != nil {
		return nil, fmt.Errorf("install calibration hook: %w", err)
	}

	m := &ButtonMap{
		Reference: s.opts.Viewport,
		Buttons:   map[string]Point{},
	}

	for i, name := range names {
		log.Info("click the button on the page", "button", name, "remaining", len(names)-i)
		p, err := s.waitForClick(ctx, i)
		if err != nil {
			return nil, fmt.Errorf("capture %q: %w", name, err)
		}
		m.Buttons[name] = p
		log.Info("captured", "button", name, "x", p.X, "y", p.Y)
	}
	return m, nil
}

// waitForClick polls the capture hook until the operator has produced the
// (want+1)-th click.
func (s *Session) waitForClick(ctx context.Context, want int) (Point, error) {
	page := s.page.Context(ctx)
	for {
		res, err := page.Eval(`() => window.__calibClicks || []`)
		if err != nil {
			return Point{}, err
		}
		clicks := res.Value.Arr()
		if len(clicks) > want {
			xy := clicks[want].Arr()
			if len(xy) == 2 {
				return Point{X: int(xy[0].Int()), Y: int(xy[1].Int())}, nil
			}
		}
		select {
		case <-ctx.Done():
			return Point{}, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}
