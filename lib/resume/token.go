// Package resume relocates a specific image after a process restart. The
// platform offers no resume-token API; the only handle that survives a
// reload is an image URL, and even that differs between thumbnail and full
// view. So matching works on a normalized path and, preferably, on the job
// UUID embedded in the URL.
package resume

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

const jobsBaseURL = "https://www.midjourney.com/jobs/"

var uuidRe = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// sizeSuffixRe strips thumbnail size decorations like "_384_N" that the CDN
// appends to the grid rendition of an image.
var sizeSuffixRe = regexp.MustCompile(`_\d{2,4}(_[A-Za-z])?$`)

// JobID extracts and validates the job UUID embedded in an image or detail
// URL. Returns false when no valid UUID is present.
func JobID(raw string) (string, bool) {
	m := uuidRe.FindString(raw)
	if m == "" {
		return "", false
	}
	id, err := uuid.Parse(m)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

// NormalizePath reduces an image URL to a comparable form: path only, no
// query or fragment, no extension, no thumbnail size suffix, lowercased.
func NormalizePath(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	p := u.Path
	if ext := path.Ext(p); ext != "" {
		p = strings.TrimSuffix(p, ext)
	}
	p = sizeSuffixRe.ReplaceAllString(p, "")
	return strings.ToLower(strings.Trim(p, "/"))
}

// Match reports whether two image URLs refer to the same image. A shared
// job UUID wins; otherwise the normalized paths must agree.
func Match(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	idA, okA := JobID(a)
	idB, okB := JobID(b)
	if okA && okB {
		return strings.EqualFold(idA, idB)
	}
	return NormalizePath(a) == NormalizePath(b)
}

// DetailURL builds the detail-page URL for a remembered image, for the
// direct-navigation resume tier. Returns false when no job UUID can be
// extracted.
func DetailURL(raw string) (string, bool) {
	id, ok := JobID(raw)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%s%s", jobsBaseURL, id), true
}
