// Package status exposes run progress over a localhost HTTP endpoint so the
// operator can watch a long run without tailing logs.
package status

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// StepState is the lifecycle of one pipeline step.
type StepState string

const (
	StepPending   StepState = "pending"
	StepRunning   StepState = "running"
	StepCompleted StepState = "completed"
	StepFailed    StepState = "failed"
)

// Step is one pipeline step's progress.
type Step struct {
	Name      string    `json:"name"`
	State     StepState `json:"state"`
	Done      int       `json:"done"`
	Total     int       `json:"total"`
	LastError string    `json:"last_error,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Snapshot is the full run view served to clients.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Steps     []Step    `json:"steps"`
}

// Tracker accumulates progress. Safe for concurrent use; the pipeline
// writes, the HTTP handler reads.
type Tracker struct {
	mu    sync.Mutex
	runID string
	start time.Time
	order []string
	steps map[string]*Step
}

// NewTracker returns a tracker for the given run with every step pending.
func NewTracker(runID string, stepNames ...string) *Tracker {
	t := &Tracker{
		runID: runID,
		start: time.Now(),
		steps: map[string]*Step{},
	}
	for _, name := range stepNames {
		t.order = append(t.order, name)
		t.steps[name] = &Step{Name: name, State: StepPending, UpdatedAt: t.start}
	}
	return t
}

func (t *Tracker) step(name string) *Step {
	s, ok := t.steps[name]
	if !ok {
		s = &Step{Name: name, State: StepPending}
		t.order = append(t.order, name)
		t.steps[name] = s
	}
	return s
}

// Start marks the step running with the given work size.
func (t *Tracker) Start(name string, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.step(name)
	s.State = StepRunning
	s.Total = total
	s.UpdatedAt = time.Now()
}

// Progress updates the step's done counter.
func (t *Tracker) Progress(name string, done, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.step(name)
	s.Done = done
	s.Total = total
	s.UpdatedAt = time.Now()
}

// Complete marks the step finished.
func (t *Tracker) Complete(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.step(name)
	s.State = StepCompleted
	s.UpdatedAt = time.Now()
}

// Fail marks the step failed and records the error text.
func (t *Tracker) Fail(name string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.step(name)
	s.State = StepFailed
	if err != nil {
		s.LastError = err.Error()
	}
	s.UpdatedAt = time.Now()
}

// Snapshot returns a copy of the current state in step order.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := Snapshot{RunID: t.runID, StartedAt: t.start}
	for _, name := range t.order {
		snap.Steps = append(snap.Steps, *t.steps[name])
	}
	return snap
}

// Handler returns the HTTP routes for the tracker.
func Handler(t *Tracker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(t.Snapshot()); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return r
}
