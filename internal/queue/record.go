package queue

import (
	"time"

	"github.com/vibecoding/demo2apk/internal/models"
)

// jobRecord is the flat hash representation of a job. Timestamps are unix
// milliseconds so records survive the string round-trip through Redis.
type jobRecord struct {
	ID          string `redis:"id"`
	Kind        string `redis:"kind"`
	AppName     string `redis:"app_name"`
	AppID       string `redis:"app_id"`
	FileName    string `redis:"file_name"`
	UploadPath  string `redis:"upload_path"`
	IconPath    string `redis:"icon_path"`
	CreatedAt   int64  `redis:"created_at"`
	State       string `redis:"state"`
	ProgressMsg string `redis:"progress_msg"`
	ProgressPct int    `redis:"progress_pct"`
	Owner       string `redis:"owner"`
	StartedAt   int64  `redis:"started_at"`
	FinishedAt  int64  `redis:"finished_at"`
	HasResult   bool   `redis:"has_result"`
	Success     bool   `redis:"success"`
	APKPath     string `redis:"apk_path"`
	Error       string `redis:"error"`
	DurationMS  int64  `redis:"duration_ms"`
}

func recordFromTask(task models.Task) jobRecord {
	return jobRecord{
		ID:          task.ID,
		Kind:        string(task.Kind),
		AppName:     task.AppName,
		AppID:       task.AppID,
		FileName:    task.FileName,
		UploadPath:  task.UploadPath,
		IconPath:    task.IconPath,
		CreatedAt:   task.CreatedAt.UnixMilli(),
		State:       string(models.StateWaiting),
		ProgressMsg: "Queued",
		ProgressPct: 0,
	}
}

// pairs returns the hash field/value arguments for the enqueue script.
func (r jobRecord) pairs() []interface{} {
	return []interface{}{
		"id", r.ID,
		"kind", r.Kind,
		"app_name", r.AppName,
		"app_id", r.AppID,
		"file_name", r.FileName,
		"upload_path", r.UploadPath,
		"icon_path", r.IconPath,
		"created_at", r.CreatedAt,
		"state", r.State,
		"progress_msg", r.ProgressMsg,
		"progress_pct", r.ProgressPct,
	}
}

func (r jobRecord) toJob() *models.Job {
	job := &models.Job{
		Task: models.Task{
			ID:         r.ID,
			Kind:       models.BuildKind(r.Kind),
			AppName:    r.AppName,
			AppID:      r.AppID,
			FileName:   r.FileName,
			UploadPath: r.UploadPath,
			IconPath:   r.IconPath,
			CreatedAt:  time.UnixMilli(r.CreatedAt),
		},
		State: models.State(r.State),
		Progress: models.Progress{
			Message: r.ProgressMsg,
			Percent: r.ProgressPct,
		},
		Owner: r.Owner,
	}
	if r.StartedAt > 0 {
		job.StartedAt = time.UnixMilli(r.StartedAt)
	}
	if r.FinishedAt > 0 {
		job.FinishedAt = time.UnixMilli(r.FinishedAt)
	}
	if r.HasResult {
		job.Result = &models.Result{
			Success:  r.Success,
			APKPath:  r.APKPath,
			Error:    r.Error,
			Duration: time.Duration(r.DurationMS) * time.Millisecond,
		}
	}
	return job
}
