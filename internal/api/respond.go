package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/vibecoding/demo2apk/internal/queue"
	"github.com/vibecoding/demo2apk/internal/trace"
)

// Error is a request failure the client caused. The message is safe to
// return verbatim.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string { return e.Message }

func badRequest(format string, args ...interface{}) *Error {
	return &Error{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...interface{}) *Error {
	return &Error{Status: http.StatusNotFound, Message: fmt.Sprintf(format, args...)}
}

// errorBody is the error envelope: a short kind plus a human-readable
// message.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// rateLimitBody extends the envelope with the seconds until the quota
// window resets.
type rateLimitBody struct {
	Error      string `json:"error"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retryAfter"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorBody{Error: http.StatusText(status), Message: message})
}

// renderError maps errors onto the HTTP surface in one place. Handlers
// return errors; everything a client may see flows through here. Unknown
// errors become an opaque 500 carrying only the trace id.
func (s *Server) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var apiErr *Error
	var tooBig *http.MaxBytesError
	switch {
	case errors.As(err, &apiErr):
		writeError(w, apiErr.Status, apiErr.Message)
	case errors.Is(err, queue.ErrNotFound):
		writeError(w, http.StatusNotFound, "No build found for this task id.")
	case errors.Is(err, queue.ErrActive):
		writeError(w, http.StatusBadRequest, "The build is currently running and cannot be deleted.")
	case errors.As(err, &tooBig):
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("The upload exceeds the %d MB limit.", s.cfg.Limits.MaxFileSize/(1<<20)))
	default:
		id := trace.ID(r.Context())
		s.log.Error().Err(err).Str("trace", id).Str("path", r.URL.Path).Msg("Request failed")
		writeError(w, http.StatusInternalServerError, "An unexpected error occurred. Reference: "+id)
	}
}

// contentDisposition renders both filename forms so clients pick a
// usable name even when it falls outside ASCII.
func contentDisposition(name string) string {
	ascii := make([]rune, 0, len(name))
	for _, r := range name {
		switch {
		case r == '"' || r == '\\':
			ascii = append(ascii, '_')
		case r < 32 || r > 126:
			ascii = append(ascii, '_')
		default:
			ascii = append(ascii, r)
		}
	}
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`,
		string(ascii), url.PathEscape(name))
}
