package browser

import (
	"context"
	"fmt"
)

// jsGridThumbs collects the archive grid's thumbnail URLs in DOM order.
const jsGridThumbs = `() => Array.from(document.querySelectorAll('img'))
	.map(i => i.currentSrc || i.src)
	.filter(s => s && s.includes('/cdn'))`

// jsDetailImage picks the largest visible image, which on the detail view is
// the full rendition.
const jsDetailImage = `() => {
	let best = '';
	let bestArea = 0;
	for (const i of document.querySelectorAll('img')) {
		const r = i.getBoundingClientRect();
		const area = r.width * r.height;
		if (area > bestArea && (i.currentSrc || i.src)) {
			bestArea = area;
			best = i.currentSrc || i.src;
		}
	}
	return best;
}`

// GridThumbnails returns the thumbnail URLs currently visible in the grid,
// in DOM order. Whether DOM order is newest-first or oldest-first is a
// configured assumption, not something read off the page.
func (s *Session) GridThumbnails(ctx context.Context) ([]string, error) {
	urls, err := s.EvalStrings(ctx, jsGridThumbs)
	if err != nil {
		return nil, fmt.Errorf("read grid thumbnails: %w", err)
	}
	return urls, nil
}

// OpenThumbnail clicks the grid thumbnail whose src matches url exactly,
// opening its detail view.
func (s *Session) OpenThumbnail(ctx context.Context, url string) error {
	js := `(u) => {
		for (const i of document.querySelectorAll('img')) {
			if ((i.currentSrc || i.src) === u) { i.click(); return true; }
		}
		return false;
	}`
	res, err := s.page.Context(ctx).Eval(js, url)
	if err != nil {
		return fmt.Errorf("open thumbnail: %w", err)
	}
	if !res.Value.Bool() {
		return fmt.Errorf("thumbnail not in grid: %s", url)
	}
	return nil
}

// DetailImageURL returns the full-size image URL shown in the detail view.
func (s *Session) DetailImageURL(ctx context.Context) (string, error) {
	res, err := s.page.Context(ctx).Eval(jsDetailImage)
	if err != nil {
		return "", fmt.Errorf("read detail image: %w", err)
	}
	url := res.Value.Str()
	if url == "" {
		return "", fmt.Errorf("no image in detail view")
	}
	return url, nil
}

// NextImage advances the detail carousel by one. The calibrated "next"
// control is preferred; when it is not configured the right-arrow key does
// the same thing. Stepping through the carousel avoids re-clicking grid
// tiles, which tends to misclick sidebar controls.
func (s *Session) NextImage(ctx context.Context) error {
	if p, ok := s.opts.Buttons.Buttons["carousel_next"]; ok && !p.Zero() {
		return s.Click(ctx, "carousel_next")
	}
	return s.PressArrowRight(ctx)
}
