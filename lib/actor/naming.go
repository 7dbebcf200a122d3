package actor

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var unsafeChars = regexp.MustCompile(`[^a-z0-9]+`)

// FileStem builds an output filename stem from the originating prompt, the
// image's index within the batch and a timestamp. The prompt is lowercased,
// reduced to alphanumerics and truncated so the name stays portable.
func FileStem(prompt string, index int, at time.Time) string {
	slug := unsafeChars.ReplaceAllString(strings.ToLower(prompt), "_")
	slug = strings.Trim(slug, "_")
	if len(slug) > 40 {
		slug = slug[:40]
	}
	if slug == "" {
		slug = "image"
	}
	return fmt.Sprintf("%s_%02d_%s", slug, index, at.Format("20060102T150405"))
}
