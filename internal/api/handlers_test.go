package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vibecoding/demo2apk/internal/config"
	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/models"
	"github.com/vibecoding/demo2apk/internal/queue"
	"github.com/vibecoding/demo2apk/internal/storage"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log := logging.NewServerLogger()
	cfg := config.New()
	cfg.Build.UploadsDir = t.TempDir()
	cfg.Build.BuildsDir = t.TempDir()

	store, err := storage.New(cfg.Build.UploadsDir, cfg.Build.BuildsDir, log)
	if err != nil {
		t.Fatalf("storage: %v", err)
	}
	return New(cfg, queue.NewFromClient(rdb, log), store, log)
}

type filePart struct {
	field, name string
	data        []byte
}

func multipartBody(t *testing.T, fields map[string]string, files ...filePart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	for _, f := range files {
		fw, err := mw.CreateFormFile(f.field, f.name)
		if err != nil {
			t.Fatalf("create file part %s: %v", f.field, err)
		}
		if _, err := fw.Write(f.data); err != nil {
			t.Fatalf("write file part %s: %v", f.field, err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func doRequest(t *testing.T, s *Server, method, path string, body *bytes.Buffer, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	if body == nil {
		body = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestSubmitHTML(t *testing.T) {
	s := newTestServer(t)
	body, ctype := multipartBody(t,
		map[string]string{"appName": "My App"},
		filePart{field: "file", name: "hello.html", data: []byte("<html><body>hi</body></html>")},
	)

	rec := doRequest(t, s, http.MethodPost, "/api/build/html", body, ctype)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Trace-Id") == "" {
		t.Error("response should carry a trace id")
	}

	var resp submitResponse
	decodeJSON(t, rec, &resp)
	if len(resp.TaskID) != 12 {
		t.Errorf("task id %q should be 12 characters", resp.TaskID)
	}
	if resp.Status != "pending" {
		t.Errorf("status = %q, want pending", resp.Status)
	}
	if !strings.Contains(resp.StatusURL, resp.TaskID) {
		t.Errorf("status url %q should contain the task id", resp.StatusURL)
	}

	job, err := s.queue.Get(context.Background(), resp.TaskID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.AppName != "My App" {
		t.Errorf("app name = %q", job.AppName)
	}
	if job.AppID != "com.vibecoding.myapp" {
		t.Errorf("app id = %q", job.AppID)
	}
	if job.Kind != models.KindHTML {
		t.Errorf("kind = %q", job.Kind)
	}
	if _, err := os.Stat(job.UploadPath); err != nil {
		t.Errorf("upload not persisted: %v", err)
	}
}

func TestSubmitRejectsWrongExtension(t *testing.T) {
	s := newTestServer(t)
	body, ctype := multipartBody(t, nil,
		filePart{field: "file", name: "notes.txt", data: []byte("plain text")},
	)

	rec := doRequest(t, s, http.MethodPost, "/api/build/html", body, ctype)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var e errorBody
	decodeJSON(t, rec, &e)
	if e.Error != "Bad Request" {
		t.Errorf("error kind = %q", e.Error)
	}
	if !strings.Contains(e.Message, "Unsupported file type") {
		t.Errorf("message = %q", e.Message)
	}
}

func TestSubmitRequiresFile(t *testing.T) {
	s := newTestServer(t)
	body, ctype := multipartBody(t, map[string]string{"appName": "NoFile"})

	rec := doRequest(t, s, http.MethodPost, "/api/build/zip", body, ctype)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var e errorBody
	decodeJSON(t, rec, &e)
	if !strings.Contains(e.Message, "No file was uploaded") {
		t.Errorf("message = %q", e.Message)
	}
}

func TestSubmitRejectsOversizedUpload(t *testing.T) {
	s := newTestServer(t)
	s.cfg.Limits.MaxFileSize = 1024

	body, ctype := multipartBody(t, nil,
		filePart{field: "file", name: "big.html", data: bytes.Repeat([]byte("a"), 5<<20)},
	)
	rec := doRequest(t, s, http.MethodPost, "/api/build/html", body, ctype)
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", rec.Code)
	}

	entries, err := os.ReadDir(s.cfg.Build.UploadsDir)
	if err != nil {
		t.Fatalf("read uploads root: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("rejected upload left %d entries in the workspace", len(entries))
	}
}

func TestSubmitRejectsOversizedIcon(t *testing.T) {
	s := newTestServer(t)
	body, ctype := multipartBody(t, nil,
		filePart{field: "file", name: "app.html", data: []byte("<html></html>")},
		filePart{field: "icon", name: "icon.png", data: bytes.Repeat([]byte{0xff}, maxIconSize+1)},
	)

	rec := doRequest(t, s, http.MethodPost, "/api/build/html", body, ctype)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var e errorBody
	decodeJSON(t, rec, &e)
	if !strings.Contains(e.Message, "icon exceeds") {
		t.Errorf("message = %q", e.Message)
	}
}

func TestSubmitZipNameFallsBackToFileName(t *testing.T) {
	s := newTestServer(t)
	body, ctype := multipartBody(t, nil,
		filePart{field: "file", name: "my-project.zip", data: []byte("PK\x03\x04")},
	)

	rec := doRequest(t, s, http.MethodPost, "/api/build/zip", body, ctype)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp submitResponse
	decodeJSON(t, rec, &resp)

	job, err := s.queue.Get(context.Background(), resp.TaskID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if job.AppName != "my-project" {
		t.Errorf("app name = %q, want my-project", job.AppName)
	}
	if job.Kind != models.KindZip {
		t.Errorf("kind = %q", job.Kind)
	}
}

// seedJob pushes a task directly into the queue, bypassing the upload
// handler.
func seedJob(t *testing.T, s *Server, id string) models.Task {
	t.Helper()
	task := models.Task{
		ID:         id,
		Kind:       models.KindHTML,
		AppName:    "MyApp",
		AppID:      "com.vibecoding.myapp",
		FileName:   "app.html",
		UploadPath: filepath.Join(s.cfg.Build.UploadsDir, id, "app.html"),
		CreatedAt:  time.Now(),
	}
	if _, err := s.queue.Enqueue(context.Background(), task); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return task
}

// completeJob leases the seeded job and records a successful result
// backed by a real artifact file.
func completeJob(t *testing.T, s *Server, id string) string {
	t.Helper()
	ctx := context.Background()
	if _, err := s.queue.Lease(ctx, "test-worker", 0); err != nil {
		t.Fatalf("lease: %v", err)
	}
	apk := s.store.ArtifactPath("MyApp", id)
	if err := os.WriteFile(apk, []byte("apk-bytes"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	err := s.queue.Complete(ctx, id, models.Result{
		Success:  true,
		APKPath:  apk,
		Duration: 3 * time.Second,
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	return apk
}

func TestStatusPendingReportsQueuePlacement(t *testing.T) {
	s := newTestServer(t)
	seedJob(t, s, "statuspend001")
	seedJob(t, s, "statuspend002")

	rec := doRequest(t, s, http.MethodGet, "/api/build/statuspend002/status", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st statusResponse
	decodeJSON(t, rec, &st)
	if st.Status != "pending" {
		t.Errorf("status = %q, want pending", st.Status)
	}
	if st.QueuePosition != 2 {
		t.Errorf("queuePosition = %d, want 2", st.QueuePosition)
	}
	if st.QueueTotal != 2 {
		t.Errorf("queueTotal = %d, want 2", st.QueueTotal)
	}
	if st.Progress == nil || st.Progress.Message != "Queued" {
		t.Errorf("progress = %+v, want the queued message", st.Progress)
	}
	if st.RetentionHours != 2 {
		t.Errorf("retentionHours = %v, want 2", st.RetentionHours)
	}
}

func TestStatusUnknownTask(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/build/missing00000/status", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var e errorBody
	decodeJSON(t, rec, &e)
	if e.Error != "Not Found" {
		t.Errorf("error kind = %q", e.Error)
	}
}

func TestStatusCompleted(t *testing.T) {
	s := newTestServer(t)
	seedJob(t, s, "statusdone001")
	completeJob(t, s, "statusdone001")

	rec := doRequest(t, s, http.MethodGet, "/api/build/statusdone001/status", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var st statusResponse
	decodeJSON(t, rec, &st)
	if st.Status != "completed" {
		t.Errorf("status = %q, want completed", st.Status)
	}
	if st.Result == nil || !st.Result.Success {
		t.Fatalf("result = %+v, want success", st.Result)
	}
	if st.Result.Duration != 3 {
		t.Errorf("duration = %v seconds, want 3", st.Result.Duration)
	}
	if st.DownloadURL == "" {
		t.Error("completed status should carry a download url")
	}
	if st.FileName != "MyApp.apk" {
		t.Errorf("fileName = %q, want MyApp.apk", st.FileName)
	}
	if st.APKSize != int64(len("apk-bytes")) {
		t.Errorf("apkSize = %d", st.APKSize)
	}
	if st.ExpiresAt == nil || !st.ExpiresAt.After(time.Now().Add(time.Hour)) {
		t.Errorf("expiresAt = %v, want about two hours out", st.ExpiresAt)
	}
}

func TestStatusLogicalFailureReportsFailed(t *testing.T) {
	s := newTestServer(t)
	seedJob(t, s, "statusfail001")
	ctx := context.Background()
	if _, err := s.queue.Lease(ctx, "test-worker", 0); err != nil {
		t.Fatalf("lease: %v", err)
	}
	err := s.queue.Complete(ctx, "statusfail001", models.Result{
		Success: false,
		Error:   "gradle assembleDebug exited 1",
	})
	if err != nil {
		t.Fatalf("complete: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/build/statusfail001/status", nil, "")
	var st statusResponse
	decodeJSON(t, rec, &st)
	if st.Status != "failed" {
		t.Errorf("status = %q, want failed", st.Status)
	}
	if st.Error != "gradle assembleDebug exited 1" {
		t.Errorf("error = %q", st.Error)
	}
	if st.DownloadURL != "" {
		t.Error("failed build must not advertise a download url")
	}
	if st.Result == nil || st.Result.Success {
		t.Errorf("result = %+v, want success=false", st.Result)
	}
}

func TestDownloadBeforeCompletion(t *testing.T) {
	s := newTestServer(t)
	seedJob(t, s, "download00001")

	rec := doRequest(t, s, http.MethodGet, "/api/build/download00001/download", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var e errorBody
	decodeJSON(t, rec, &e)
	if !strings.Contains(e.Message, "not finished") {
		t.Errorf("message = %q", e.Message)
	}
}

func TestDownload(t *testing.T) {
	s := newTestServer(t)
	seedJob(t, s, "download00002")
	completeJob(t, s, "download00002")

	rec := doRequest(t, s, http.MethodGet, "/api/build/download00002/download", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/vnd.android.package-archive" {
		t.Errorf("content type = %q", got)
	}
	cd := rec.Header().Get("Content-Disposition")
	if !strings.Contains(cd, `filename="MyApp.apk"`) {
		t.Errorf("disposition = %q, want the display name", cd)
	}
	if !strings.Contains(cd, "filename*=UTF-8''") {
		t.Errorf("disposition = %q, want the extended form", cd)
	}
	if rec.Body.String() != "apk-bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestDownloadExpiredArtifact(t *testing.T) {
	s := newTestServer(t)
	seedJob(t, s, "download00003")
	apk := completeJob(t, s, "download00003")
	if err := os.Remove(apk); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/api/build/download00003/download", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
	var e errorBody
	decodeJSON(t, rec, &e)
	if !strings.Contains(e.Message, "expired") {
		t.Errorf("message = %q", e.Message)
	}
}

func TestDeleteWaitingJob(t *testing.T) {
	s := newTestServer(t)
	task := seedJob(t, s, "delete0000001")
	if err := os.MkdirAll(filepath.Dir(task.UploadPath), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(task.UploadPath, []byte("<html></html>"), 0o644); err != nil {
		t.Fatalf("write upload: %v", err)
	}

	rec := doRequest(t, s, http.MethodDelete, "/api/build/delete0000001", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	if _, err := s.queue.Get(context.Background(), "delete0000001"); err == nil {
		t.Error("job should be gone after delete")
	}
	if _, err := os.Stat(filepath.Dir(task.UploadPath)); !os.IsNotExist(err) {
		t.Error("upload workspace should be removed")
	}
}

func TestDeleteActiveJobRefused(t *testing.T) {
	s := newTestServer(t)
	seedJob(t, s, "delete0000002")
	if _, err := s.queue.Lease(context.Background(), "test-worker", 0); err != nil {
		t.Fatalf("lease: %v", err)
	}

	rec := doRequest(t, s, http.MethodDelete, "/api/build/delete0000002", nil, "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var e errorBody
	decodeJSON(t, rec, &e)
	if !strings.Contains(e.Message, "currently running") {
		t.Errorf("message = %q", e.Message)
	}

	if _, err := s.queue.Get(context.Background(), "delete0000002"); err != nil {
		t.Errorf("active job must survive the delete attempt: %v", err)
	}
}

func TestDeleteRemovesArtifact(t *testing.T) {
	s := newTestServer(t)
	seedJob(t, s, "delete0000003")
	apk := completeJob(t, s, "delete0000003")

	rec := doRequest(t, s, http.MethodDelete, "/api/build/delete0000003", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if _, err := os.Stat(apk); !os.IsNotExist(err) {
		t.Error("artifact should be removed with the job")
	}
}

func TestDeleteUnknownTask(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodDelete, "/api/build/missing00000", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	decodeJSON(t, rec, &body)
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestMeta(t *testing.T) {
	s := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]interface{}
	decodeJSON(t, rec, &body)
	if body["name"] != "demo2apk" {
		t.Errorf("name = %v", body["name"])
	}
	if _, ok := body["endpoints"]; !ok {
		t.Error("metadata should list the endpoints")
	}
}

func TestBrowseDownloadsDirectory(t *testing.T) {
	s := newTestServer(t)
	apk := filepath.Join(s.cfg.Build.BuildsDir, "Some-App--abc123def456.apk")
	if err := os.WriteFile(apk, []byte("bytes"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	rec := doRequest(t, s, http.MethodGet, "/downloads/Some-App--abc123def456.apk", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != "bytes" {
		t.Errorf("body = %q", rec.Body.String())
	}

	rec = doRequest(t, s, http.MethodGet, "/downloads/", nil, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("directory listing should 404, got %d", rec.Code)
	}
}
