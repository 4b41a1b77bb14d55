package store

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the outcome of a run.
type RunStatus string

const (
	// StatusRunning marks a record saved before the pipeline finished.
	StatusRunning RunStatus = "running"
	// StatusSucceeded means every output was written.
	StatusSucceeded RunStatus = "succeeded"
	// StatusPartial means the kernel ran but at least one output could not be written.
	StatusPartial RunStatus = "partial"
	// StatusFailed means a setup or dispatch stage aborted the run.
	StatusFailed RunStatus = "failed"
)

// OutputRecord describes one written output image.
type OutputRecord struct {
	Name    string `json:"name"`
	Path    string `json:"path"`
	Preview string `json:"preview,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunRecord is everything persisted about one host program run.
type RunRecord struct {
	// ID is a random UUID assigned when the record is created
	ID string `json:"id"`

	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Status     RunStatus `json:"status"`

	// Error holds the message of the failure that aborted the run
	Error string `json:"error,omitempty"`

	Backend  string `json:"backend"`
	Platform string `json:"platform,omitempty"`
	Device   string `json:"device,omitempty"`
	Binary   string `json:"binary"`
	Kernel   string `json:"kernel"`

	Height int `json:"height"`
	Width  int `json:"width"`
	Dim    int `json:"dim"`

	// InputSource is the file or pattern the input buffer was filled from
	InputSource    string `json:"inputSource,omitempty"`
	InputSynthetic bool   `json:"inputSynthetic"`

	Outputs []OutputRecord `json:"outputs,omitempty"`
}

// RunInfo contains the metadata shown when listing runs.
type RunInfo struct {
	ID        string        `json:"id"`
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Status    RunStatus     `json:"status"`
	Device    string        `json:"device"`
	Binary    string        `json:"binary"`
	Outputs   int           `json:"outputs"`
}

// NewRunRecord creates a running record with a fresh ID.
func NewRunRecord(backend, binary, kernel string) *RunRecord {
	return &RunRecord{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Status:    StatusRunning,
		Backend:   backend,
		Binary:    binary,
		Kernel:    kernel,
	}
}

// Finish sets the final status from the run error and the recorded outputs.
func (r *RunRecord) Finish(runErr error) {
	r.FinishedAt = time.Now()

	if runErr != nil {
		r.Status = StatusFailed
		r.Error = runErr.Error()
		return
	}

	r.Status = StatusSucceeded
	for _, o := range r.Outputs {
		if o.Error != "" {
			r.Status = StatusPartial
			return
		}
	}
}

// Duration returns how long the run took, or zero while it is running.
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// ToInfo converts a full RunRecord to RunInfo (metadata only).
func (r *RunRecord) ToInfo() RunInfo {
	written := 0
	for _, o := range r.Outputs {
		if o.Error == "" {
			written++
		}
	}
	return RunInfo{
		ID:        r.ID,
		StartedAt: r.StartedAt,
		Duration:  r.Duration(),
		Status:    r.Status,
		Device:    r.Device,
		Binary:    r.Binary,
		Outputs:   written,
	}
}

// Validate checks if the record has valid data.
func (r *RunRecord) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	if _, err := uuid.Parse(r.ID); err != nil {
		return &ValidationError{Field: "ID", Reason: "must be a UUID"}
	}
	if r.StartedAt.IsZero() {
		return &ValidationError{Field: "StartedAt", Reason: "cannot be zero"}
	}
	switch r.Status {
	case StatusRunning, StatusSucceeded, StatusPartial, StatusFailed:
	default:
		return &ValidationError{Field: "Status", Reason: "unknown value " + string(r.Status)}
	}
	if r.Status != StatusRunning && r.FinishedAt.Before(r.StartedAt) {
		return &ValidationError{Field: "FinishedAt", Reason: "cannot precede StartedAt"}
	}
	if r.Binary == "" {
		return &ValidationError{Field: "Binary", Reason: "cannot be empty"}
	}
	if r.Height < 0 || r.Width < 0 || r.Dim < 0 {
		return &ValidationError{Field: "Geometry", Reason: "cannot be negative"}
	}
	return nil
}

// ValidationError represents a run record validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
