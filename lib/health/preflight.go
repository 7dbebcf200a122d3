// Package health runs the preflight checks that catch setup problems before
// a run touches the browser: the devtools endpoint must answer, the output
// directory must be writable and the button map must parse.
package health

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/paperbrush/mjrunner/lib/browser"
)

// Result is one named check's outcome.
type Result struct {
	Name string
	Err  error
}

// OK reports whether the check passed.
func (r Result) OK() bool { return r.Err == nil }

// Checks holds the inputs the preflight inspects.
type Checks struct {
	DebugURL      string
	OutputDir     string
	ButtonMapPath string
}

// Run executes every check and returns all results, passed or not. Callers
// decide whether any failure is fatal.
func Run(ctx context.Context, c Checks) []Result {
	return []Result{
		{Name: "devtools endpoint", Err: checkDevtools(ctx, c.DebugURL)},
		{Name: "output directory", Err: checkWritable(c.OutputDir)},
		{Name: "button map", Err: checkButtonMap(c.ButtonMapPath)},
	}
}

// Failed filters results down to the failing ones.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if !r.OK() {
			out = append(out, r)
		}
	}
	return out
}

// checkDevtools asks the debugging endpoint for its version document, the
// same handshake the session setup performs.
func checkDevtools(ctx context.Context, debugURL string) error {
	u, err := url.JoinPath(debugURL, "json", "version")
	if err != nil {
		return fmt.Errorf("bad debug url %q: %w", debugURL, err)
	}
	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", browser.ErrUnreachable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: devtools endpoint answered %d", browser.ErrUnreachable, resp.StatusCode)
	}
	return nil
}

// checkWritable proves the directory accepts writes by creating and
// removing a probe file.
func checkWritable(dir string) error {
	if dir == "" {
		dir = "."
	}
	probe := filepath.Join(dir, ".mjrunner-probe")
	if err := os.WriteFile(probe, nil, 0o644); err != nil {
		return fmt.Errorf("output dir not writable: %w", err)
	}
	return os.Remove(probe)
}

// checkButtonMap parses the coordinate map and requires the one control no
// run works without.
func checkButtonMap(path string) error {
	m, err := browser.LoadButtonMap(path)
	if err != nil {
		return err
	}
	if p, ok := m.Buttons["prompt_input"]; !ok || p.Zero() {
		return fmt.Errorf("button map %s has no prompt_input coordinate", path)
	}
	return nil
}
