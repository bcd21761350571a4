package api

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vibecoding/demo2apk/internal/models"
	"github.com/vibecoding/demo2apk/internal/storage"
	"github.com/vibecoding/demo2apk/internal/trace"
	"github.com/vibecoding/demo2apk/internal/util/appid"
	"github.com/vibecoding/demo2apk/internal/util/ids"
	"github.com/vibecoding/demo2apk/internal/version"
)

// Fallback app names for submissions that carry neither a name nor a
// usable file name.
const (
	defaultHTMLName = "MyVibeApp"
	defaultZipName  = "MyReactApp"
)

// submitResponse acknowledges an admitted build.
type submitResponse struct {
	TaskID      string `json:"taskId"`
	Status      string `json:"status"`
	StatusURL   string `json:"statusUrl"`
	DownloadURL string `json:"downloadUrl"`
}

// statusResponse is the polled view of a job. Which fields are present
// depends on the state: queue placement while pending, progress while
// active, the outcome once terminal.
type statusResponse struct {
	TaskID         string           `json:"taskId"`
	Status         string           `json:"status"`
	FileName       string           `json:"fileName,omitempty"`
	Progress       *models.Progress `json:"progress,omitempty"`
	QueuePosition  int              `json:"queuePosition,omitempty"`
	QueueTotal     int64            `json:"queueTotal,omitempty"`
	Result         *buildResult     `json:"result,omitempty"`
	DownloadURL    string           `json:"downloadUrl,omitempty"`
	APKSize        int64            `json:"apkSize,omitempty"`
	Error          string           `json:"error,omitempty"`
	ExpiresAt      *time.Time       `json:"expiresAt,omitempty"`
	RetentionHours float64          `json:"retentionHours"`
}

// buildResult is the terminal outcome surfaced to clients. Duration is
// in seconds.
type buildResult struct {
	Success  bool    `json:"success"`
	Duration float64 `json:"duration"`
}

func (s *Server) handleSubmitHTML(w http.ResponseWriter, r *http.Request) error {
	return s.submit(w, r, models.KindHTML)
}

func (s *Server) handleSubmitZip(w http.ResponseWriter, r *http.Request) error {
	return s.submit(w, r, models.KindZip)
}

// submit admits one upload: parse the form, derive the app identity,
// persist the task, push it to the waiting queue.
func (s *Server) submit(w http.ResponseWriter, r *http.Request, kind models.BuildKind) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.Limits.MaxFileSize+formOverhead)

	taskID := ids.NewTaskID()
	form, err := s.parseBuildForm(r, kind, taskID)
	if err != nil {
		_ = s.store.RemoveUpload(taskID)
		return err
	}

	task := models.Task{
		ID:         taskID,
		Kind:       kind,
		AppName:    resolveAppName(form, kind),
		AppID:      form.AppID,
		FileName:   form.FileName,
		UploadPath: form.UploadPath,
		IconPath:   form.IconPath,
		CreatedAt:  time.Now().UTC(),
	}
	if task.AppID == "" {
		task.AppID = appid.Derive(task.AppName)
	}

	if _, err := s.queue.Enqueue(r.Context(), task); err != nil {
		_ = s.store.RemoveUpload(taskID)
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	s.log.Info().
		Str("trace", trace.ID(r.Context())).
		Str("task", taskID).
		Str("app", task.AppName).
		Str("type", string(kind)).
		Int64("size", form.UploadSize).
		Msg("Build queued")

	writeJSON(w, http.StatusOK, submitResponse{
		TaskID:      taskID,
		Status:      "pending",
		StatusURL:   "/api/build/" + taskID + "/status",
		DownloadURL: "/api/build/" + taskID + "/download",
	})
	return nil
}

// resolveAppName applies the name fallbacks: explicit field, upload
// base name, then the kind default.
func resolveAppName(form *buildForm, kind models.BuildKind) string {
	if form.AppName != "" {
		return form.AppName
	}
	base := strings.TrimSuffix(form.FileName, filepath.Ext(form.FileName))
	if base != "" {
		return base
	}
	if kind == models.KindZip {
		return defaultZipName
	}
	return defaultHTMLName
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "taskID")
	job, err := s.queue.Get(r.Context(), id)
	if err != nil {
		return err
	}

	resp := statusResponse{
		TaskID:         job.ID,
		Status:         job.PublicStatus(),
		RetentionHours: s.cfg.RetentionHours(),
	}

	switch {
	case job.State == models.StateWaiting:
		if pos, total, err := s.queue.Position(r.Context(), id); err == nil {
			resp.QueuePosition = pos
			resp.QueueTotal = total
		}
		p := job.Progress
		resp.Progress = &p
	case job.State == models.StateActive:
		p := job.Progress
		resp.Progress = &p
	case job.Terminal():
		if job.Result != nil {
			resp.Result = &buildResult{
				Success:  job.Result.Success,
				Duration: job.Result.Duration.Seconds(),
			}
		}
		if job.Succeeded() {
			resp.DownloadURL = "/api/build/" + job.ID + "/download"
			resp.FileName = storage.DisplayName(filepath.Base(job.Result.APKPath), job.ID)
			if size, ok := storage.FileSize(job.Result.APKPath); ok {
				resp.APKSize = size
			}
			if !job.FinishedAt.IsZero() {
				t := job.FinishedAt.Add(s.cfg.Worker.FileRetention)
				resp.ExpiresAt = &t
			}
		} else {
			resp.Error = failureMessage(job)
		}
	}

	writeJSON(w, http.StatusOK, resp)
	return nil
}

// failureMessage surfaces the recorded failure, with a fallback for
// jobs the queue failed without a result.
func failureMessage(job *models.Job) string {
	if job.Result != nil && job.Result.Error != "" {
		return job.Result.Error
	}
	return "The build failed before producing a result."
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "taskID")
	job, err := s.queue.Get(r.Context(), id)
	if err != nil {
		return err
	}
	if !job.Terminal() {
		return badRequest("The build is not finished yet. Poll the status endpoint first.")
	}
	if !job.Succeeded() {
		return badRequest("The build failed; there is no APK to download.")
	}

	f, err := os.Open(job.Result.APKPath)
	if err != nil {
		return notFound("The APK has expired and was removed. Submit the build again.")
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}

	name := storage.DisplayName(filepath.Base(job.Result.APKPath), job.ID)
	w.Header().Set("Content-Type", "application/vnd.android.package-archive")
	w.Header().Set("Content-Disposition", contentDisposition(name))
	http.ServeContent(w, r, "", fi.ModTime(), f)

	s.log.Info().
		Str("trace", trace.ID(r.Context())).
		Str("task", id).
		Int64("size", fi.Size()).
		Msg("APK downloaded")
	return nil
}

// handleDelete removes a finished or waiting job along with its upload
// workspace and artifact. Active jobs are refused.
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) error {
	id := chi.URLParam(r, "taskID")
	job, err := s.queue.Get(r.Context(), id)
	if err != nil {
		return err
	}
	if err := s.queue.Remove(r.Context(), id); err != nil {
		return err
	}

	_ = s.store.RemoveUpload(id)
	if job.Result != nil && job.Result.APKPath != "" {
		_ = os.Remove(job.Result.APKPath)
	} else {
		_ = os.Remove(s.store.ArtifactPath(job.AppName, id))
	}

	s.log.Info().Str("trace", trace.ID(r.Context())).Str("task", id).Msg("Build removed")
	writeJSON(w, http.StatusOK, map[string]string{"taskId": id, "status": "deleted"})
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": version.Version})
	return nil
}

// handleMeta describes the service for clients probing the API root.
func (s *Server) handleMeta(w http.ResponseWriter, _ *http.Request) error {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    "demo2apk",
		"version": version.Version,
		"endpoints": map[string]string{
			"submitHtml": "POST /api/build/html",
			"submitZip":  "POST /api/build/zip",
			"status":     "GET /api/build/{taskId}/status",
			"download":   "GET /api/build/{taskId}/download",
			"delete":     "DELETE /api/build/{taskId}",
		},
		"limits": map[string]interface{}{
			"maxFileSize":     s.cfg.Limits.MaxFileSize,
			"rateLimitMax":    s.cfg.Limits.RateLimitMax,
			"rateLimitWindow": s.cfg.Limits.RateLimitWindow.Seconds(),
		},
	})
	return nil
}
