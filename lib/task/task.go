// Package task holds the bookkeeping types for one generation run: the
// per-prompt state machine, the records of downloaded images, and the batch
// marker that lets a download pass resume after a crash.
package task

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a prompt task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusAccepted   Status = "accepted"
	StatusFailed     Status = "failed"
)

// terminal reports whether no further transition is allowed from s.
func (s Status) terminal() bool {
	return s == StatusAccepted || s == StatusFailed
}

// PromptTask is one submission unit. Transitions are monotonic:
// pending -> generating -> accepted|failed, and the terminal states are
// final for the remainder of the run.
type PromptTask struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"index"`
	Seq       int
	Prompt    string
	Status    Status
	Attempts  int
	LastError string
	Images    []ImageRecord `gorm:"foreignKey:TaskID"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewPromptTask returns a pending task for the given prompt text.
func NewPromptTask(runID string, seq int, prompt string) *PromptTask {
	return &PromptTask{
		RunID:  runID,
		Seq:    seq,
		Prompt: prompt,
		Status: StatusPending,
	}
}

// Transition moves the task to next, enforcing monotonic ordering. It is an
// error to leave a terminal state or to skip the generating phase.
func (t *PromptTask) Transition(next Status) error {
	if t.Status.terminal() {
		return fmt.Errorf("task %d is %s: no transition to %s", t.Seq, t.Status, next)
	}
	switch {
	case t.Status == StatusPending && next == StatusGenerating:
	case t.Status == StatusGenerating && next == StatusAccepted:
	case t.Status == StatusGenerating && next == StatusFailed:
	case t.Status == StatusPending && next == StatusFailed:
	default:
		return fmt.Errorf("invalid transition %s -> %s", t.Status, next)
	}
	t.Status = next
	return nil
}

// Fail marks the task failed and records the last error text.
func (t *PromptTask) Fail(err error) {
	if t.Status.terminal() {
		return
	}
	t.Status = StatusFailed
	if err != nil {
		t.LastError = err.Error()
	}
}

// Accept marks the task accepted. A task needs at least one downloaded
// image to be accepted.
func (t *PromptTask) Accept() error {
	if len(t.Images) == 0 {
		return fmt.Errorf("task %d has no images", t.Seq)
	}
	return t.Transition(StatusAccepted)
}

// ImageRecord is one downloaded image. Position is the index within the
// 4-image generation group. Immutable once written.
type ImageRecord struct {
	ID       uint   `gorm:"primaryKey"`
	TaskID   uint   `gorm:"index"`
	Path     string
	Position int
}

// BatchMarker is the minimal resumable state for a bulk image action. It
// must survive a process restart, so the image is identified by its URL
// (the only handle the platform keeps stable across reloads), not by any
// in-memory reference.
type BatchMarker struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"uniqueIndex"`
	LastURL   string
	Done      int
	Total     int
	UpdatedAt time.Time
}

// Remaining reports how many images are still to be processed.
func (m *BatchMarker) Remaining() int {
	if m.Total < m.Done {
		return 0
	}
	return m.Total - m.Done
}

// Advance records that the image at url has been processed.
func (m *BatchMarker) Advance(url string) {
	m.LastURL = url
	m.Done++
}
