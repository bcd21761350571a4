package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	nethttp "net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/vibecoding/demo2apk/internal/logging"
	"github.com/vibecoding/demo2apk/internal/progress"
	"github.com/vibecoding/demo2apk/internal/util/fetch"
)

// pollInterval is how often the submit client polls build status.
const pollInterval = 500 * time.Millisecond

// Client drives a remote build service: upload, poll, download. Status
// polls and downloads retry transient failures; the submission POST
// does not, since replaying it would queue a duplicate build.
type Client struct {
	baseURL string
	token   string
	http    *nethttp.Client
	upload  *nethttp.Client
	log     *logging.Logger
}

// NewClient creates a client for the service at baseURL.
func NewClient(baseURL, token string, log *logging.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    fetch.NewClient(log),
		upload:  &nethttp.Client{Timeout: 10 * time.Minute},
		log:     log,
	}
}

// SubmitRequest describes one build submission.
type SubmitRequest struct {
	FilePath string
	AppName  string
	AppID    string
	IconPath string
}

// SubmitResponse mirrors the admission payload.
type SubmitResponse struct {
	TaskID      string `json:"taskId"`
	Status      string `json:"status"`
	StatusURL   string `json:"statusUrl"`
	DownloadURL string `json:"downloadUrl"`
}

// ProgressInfo mirrors the progress block of a status payload.
type ProgressInfo struct {
	Message string `json:"message"`
	Percent int    `json:"percent"`
}

// StatusResponse mirrors the polled status payload.
type StatusResponse struct {
	TaskID        string        `json:"taskId"`
	Status        string        `json:"status"`
	FileName      string        `json:"fileName"`
	Progress      *ProgressInfo `json:"progress"`
	QueuePosition int           `json:"queuePosition"`
	QueueTotal    int64         `json:"queueTotal"`
	DownloadURL   string        `json:"downloadUrl"`
	APKSize       int64         `json:"apkSize"`
	Error         string        `json:"error"`
}

// endpointFor maps an input file to the submission endpoint.
func endpointFor(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		return "html", nil
	case ".zip":
		return "zip", nil
	default:
		return "", fmt.Errorf("unsupported input %q: expected .html, .htm, or .zip", filepath.Ext(path))
	}
}

// Submit uploads the file and queues a build. The reporter tracks the
// upload bytes.
func (c *Client) Submit(ctx context.Context, req SubmitRequest, reporter progress.Reporter) (*SubmitResponse, error) {
	endpoint, err := endpointFor(req.FilePath)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if req.AppName != "" {
		if err := mw.WriteField("appName", req.AppName); err != nil {
			return nil, err
		}
	}
	if req.AppID != "" {
		if err := mw.WriteField("appId", req.AppID); err != nil {
			return nil, err
		}
	}
	if err := writeFilePart(mw, "file", req.FilePath); err != nil {
		return nil, err
	}
	if req.IconPath != "" {
		if err := writeFilePart(mw, "icon", req.IconPath); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	total := int64(buf.Len())
	reporter.Start(total, "Uploading "+filepath.Base(req.FilePath))

	httpReq, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost,
		c.baseURL+"/api/build/"+endpoint, progress.NewReader(&buf, reporter))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.ContentLength = total
	c.authorize(httpReq)

	resp, err := c.upload.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	reporter.Finish()

	if resp.StatusCode != nethttp.StatusOK {
		return nil, decodeError(resp)
	}
	var sub SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, fmt.Errorf("failed to decode submission response: %w", err)
	}
	return &sub, nil
}

// Status fetches the current state of a build.
func (c *Client) Status(ctx context.Context, taskID string) (*StatusResponse, error) {
	httpReq, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet,
		c.baseURL+"/api/build/"+taskID+"/status", nil)
	if err != nil {
		return nil, err
	}
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("status poll failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != nethttp.StatusOK {
		return nil, decodeError(resp)
	}
	var st StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &st, nil
}

// Await polls until the build reaches a terminal state, driving the
// reporter with queue placement and build progress.
func (c *Client) Await(ctx context.Context, taskID string, reporter progress.Reporter) (*StatusResponse, error) {
	reporter.Start(100, "Waiting in the queue")
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		st, err := c.Status(ctx, taskID)
		if err != nil {
			return nil, err
		}
		switch st.Status {
		case "pending":
			if st.QueuePosition > 0 {
				reporter.SetDescription(fmt.Sprintf("Queued (%d of %d)", st.QueuePosition, st.QueueTotal))
			}
		case "active":
			if st.Progress != nil {
				reporter.SetDescription(st.Progress.Message)
				reporter.Update(int64(st.Progress.Percent))
			}
		case "completed":
			reporter.Update(100)
			reporter.Finish()
			return st, nil
		case "failed":
			reporter.Finish()
			return st, nil
		default:
			return nil, fmt.Errorf("unknown build status %q", st.Status)
		}
	}
}

// Download saves the finished APK into destDir, named by the server's
// Content-Disposition. Returns the saved path.
func (c *Client) Download(ctx context.Context, taskID, destDir string, reporter progress.Reporter) (string, error) {
	httpReq, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodGet,
		c.baseURL+"/api/build/"+taskID+"/download", nil)
	if err != nil {
		return "", err
	}
	c.authorize(httpReq)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != nethttp.StatusOK {
		return "", decodeError(resp)
	}

	name := dispositionName(resp.Header.Get("Content-Disposition"))
	if name == "" {
		name = taskID + ".apk"
	}
	dest := filepath.Join(destDir, name)
	f, err := os.Create(dest)
	if err != nil {
		return "", err
	}

	reporter.Start(resp.ContentLength, "Downloading "+name)
	_, err = io.Copy(f, progress.NewReader(resp.Body, reporter))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(dest)
		return "", fmt.Errorf("failed to save %s: %w", name, err)
	}
	reporter.Finish()
	return dest, nil
}

func (c *Client) authorize(req *nethttp.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// writeFilePart streams a local file into the multipart body.
func writeFilePart(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	fw, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, f)
	return err
}

// dispositionName extracts the plain filename parameter.
func dispositionName(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		return ""
	}
	name := params["filename"]
	if name == "" {
		return ""
	}
	return filepath.Base(name)
}

// decodeError turns an API error envelope into a readable error,
// falling back to the raw body.
func decodeError(resp *nethttp.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var e struct {
		Error      string `json:"error"`
		Message    string `json:"message"`
		RetryAfter int64  `json:"retryAfter"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		if e.RetryAfter > 0 {
			return fmt.Errorf("%s (retry in %ds)", e.Message, e.RetryAfter)
		}
		return fmt.Errorf("%s", e.Message)
	}
	return fmt.Errorf("server returned %s: %s", resp.Status, strings.TrimSpace(string(body)))
}
