// Package models defines the task and job structures shared by the API,
// queue, and worker.
package models

import "time"

// BuildKind selects the pipeline used for a task.
type BuildKind string

const (
	// KindHTML builds a single HTML document through the shell pipeline.
	KindHTML BuildKind = "html"
	// KindZip builds a zipped front-end project through the wrapper pipeline.
	KindZip BuildKind = "zip"
)

// State is a job's position in the queue lifecycle.
type State string

const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Task is the immutable payload admitted by the API. One task maps to one
// job in the queue; the identifiers are equal.
type Task struct {
	ID         string    `json:"id"`
	Kind       BuildKind `json:"kind"`
	AppName    string    `json:"appName"`
	AppID      string    `json:"appId"`
	FileName   string    `json:"fileName"`           // original upload file name
	UploadPath string    `json:"uploadPath"`         // stored upload, absolute
	IconPath   string    `json:"iconPath,omitempty"` // stored icon, absolute, optional
	CreatedAt  time.Time `json:"createdAt"`
}

// Progress is the mutable build progress attached to an active job.
// Percent is within [0,100] and never decreases once stored.
type Progress struct {
	Message string `json:"message"`
	Percent int    `json:"percent"`
}

// Result is the terminal outcome of a build. A logical build failure is a
// Result with Success=false, not a queue-level failure.
type Result struct {
	Success  bool          `json:"success"`
	APKPath  string        `json:"apkPath,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Job is a task plus its queue state, progress, and result.
type Job struct {
	Task
	State      State     `json:"state"`
	Progress   Progress  `json:"progress"`
	Result     *Result   `json:"result,omitempty"`
	Owner      string    `json:"owner,omitempty"` // worker instance holding the lease
	StartedAt  time.Time `json:"startedAt,omitzero"`
	FinishedAt time.Time `json:"finishedAt,omitzero"`
}

// Terminal reports whether the job has finished, successfully or not.
func (j *Job) Terminal() bool {
	return j.State == StateCompleted || j.State == StateFailed
}

// PublicStatus maps the queue state to the status string the API reports.
// Waiting jobs surface as "pending", and a completed job whose result
// records a logical failure surfaces as "failed".
func (j *Job) PublicStatus() string {
	switch j.State {
	case StateWaiting:
		return "pending"
	case StateCompleted:
		if j.Result != nil && !j.Result.Success {
			return "failed"
		}
		return "completed"
	default:
		return string(j.State)
	}
}

// Succeeded reports whether the job completed with a successful build.
func (j *Job) Succeeded() bool {
	return j.State == StateCompleted && j.Result != nil && j.Result.Success
}
